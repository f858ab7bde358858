package awssm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
	"github.com/skillcoder/kubedeploy/internal/logic/deployer"
)

const currentStage = "AWSCURRENT"

var ErrDescribeSecret = errors.New("describe secret")

type describer interface {
	DescribeSecret(
		ctx context.Context,
		params *secretsmanager.DescribeSecretInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.DescribeSecretOutput, error)
}

// Fingerprinter reports the current version id of secrets stored in AWS
// Secrets Manager under "<service>/<secret>".
type Fingerprinter struct {
	logger *slog.Logger
	client describer
}

func New(logger *slog.Logger, client describer) *Fingerprinter {
	return &Fingerprinter{
		logger: logger.With("component", "awssm"),
		client: client,
	}
}

var _ deployer.SecretFingerprinter = (*Fingerprinter)(nil)

// NewFromConfig builds a fingerprinter from the default credential chain.
// endpoint overrides the service endpoint when set.
func NewFromConfig(ctx context.Context, logger *slog.Logger, region, endpoint string) (*Fingerprinter, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return New(logger, secretsmanager.NewFromConfig(cfg)), nil
}

// SecretID is the Secrets Manager name of a secret reference.
func SecretID(ref compiler.SecretRef) string {
	return ref.Service + "/" + ref.Name
}

// SecretFingerprintQuery returns the version id staged as AWSCURRENT, or an
// empty fingerprint when the secret does not exist.
func (f *Fingerprinter) SecretFingerprintQuery(
	ctx context.Context,
	_ string,
	ref compiler.SecretRef,
) (string, error) {
	id := SecretID(ref)

	out, err := f.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			f.logger.DebugContext(ctx, "secret not found", "secret", id)

			return "", nil
		}

		return "", fmt.Errorf("%w: %s: %w", ErrDescribeSecret, id, err)
	}

	for version, stages := range out.VersionIdsToStages {
		for _, stage := range stages {
			if stage == currentStage {
				return version, nil
			}
		}
	}

	f.logger.WarnContext(ctx, "secret has no current version", "secret", id)

	return "", nil
}
