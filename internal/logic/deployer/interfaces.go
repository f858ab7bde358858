package deployer

import (
	"context"
	"time"

	autoscalingv2 "k8s.io/api/autoscaling/v2"
	policyv1 "k8s.io/api/policy/v1"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
)

// ConfigSource reads declarative instance configuration.
type ConfigSource interface {
	ListInstancesQuery(
		ctx context.Context,
		cluster string,
	) ([]InstanceRef, error)

	LoadInstanceQuery(
		ctx context.Context,
		service,
		instance,
		cluster string,
	) (*InstanceSource, error)
}

// SecretFingerprinter reports the current version of a secret. An empty
// fingerprint means the secret does not exist.
type SecretFingerprinter interface {
	SecretFingerprintQuery(
		ctx context.Context,
		namespace string,
		ref compiler.SecretRef,
	) (string, error)
}

// Repository is the port interface for orchestrator writes.
// Implementations are provided by adapters in the outbound layer.
type Repository interface {
	// GetManifestQuery returns the live workload of either kind, nil when absent.
	GetManifestQuery(
		ctx context.Context,
		namespace,
		name string,
	) (*compiler.Manifest, error)

	CreateWorkloadCommand(ctx context.Context, m *compiler.Manifest) error
	ReplaceWorkloadCommand(ctx context.Context, m *compiler.Manifest) error

	DeleteWorkloadCommand(
		ctx context.Context,
		kind compiler.Kind,
		namespace,
		name string,
	) error

	GetAutoscalerQuery(
		ctx context.Context,
		namespace,
		name string,
	) (*autoscalingv2.HorizontalPodAutoscaler, error)

	CreateAutoscalerCommand(ctx context.Context, hpa *autoscalingv2.HorizontalPodAutoscaler) error
	ReplaceAutoscalerCommand(ctx context.Context, hpa *autoscalingv2.HorizontalPodAutoscaler) error

	DeleteAutoscalerCommand(
		ctx context.Context,
		namespace,
		name string,
	) error

	GetDisruptionBudgetQuery(
		ctx context.Context,
		namespace,
		name string,
	) (*policyv1.PodDisruptionBudget, error)

	CreateDisruptionBudgetCommand(ctx context.Context, pdb *policyv1.PodDisruptionBudget) error
	ReplaceDisruptionBudgetCommand(ctx context.Context, pdb *policyv1.PodDisruptionBudget) error
}

// Schedule yields the next reconcile time. Nil means a fixed interval.
type Schedule interface {
	Next(after time.Time) time.Time
}

// notFound is a private interface for checking "not found" errors
// without importing the adapter package.
type notFound interface {
	IsNotFound()
}

// tooManyRequests is a private interface for checking throttling errors
// without importing the adapter package.
type tooManyRequests interface {
	IsTooManyRequests()
}
