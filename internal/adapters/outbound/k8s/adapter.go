package k8s

import (
	"context"
	"fmt"
	"log/slog"

	"k8s.io/client-go/kubernetes"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/skillcoder/kubedeploy/internal/logic/deployer"
	"github.com/skillcoder/kubedeploy/internal/logic/status"
)

// Adapter implements the orchestrator ports of the deployer and the status
// observer on top of client-go.
type Adapter struct {
	logger           *slog.Logger
	clientset        kubernetes.Interface
	metricsClientset metricsv.Interface
}

// New creates a new K8s adapter.
func New(
	logger *slog.Logger,
	clientset kubernetes.Interface,
	metricsClientset metricsv.Interface,
) *Adapter {
	return &Adapter{
		logger:           logger.With("component", "k8s-adapter"),
		clientset:        clientset,
		metricsClientset: metricsClientset,
	}
}

var (
	_ deployer.Repository          = (*Adapter)(nil)
	_ deployer.SecretFingerprinter = (*Adapter)(nil)
	_ status.Repository            = (*Adapter)(nil)
)

// Name returns the name of the pinger component
func (a *Adapter) Name() string {
	return "kubernetes-api"
}

// Ping checks that the API server answers GET /version within ctx.
func (a *Adapter) Ping(ctx context.Context) error {
	discovery := a.clientset.Discovery()

	restClient := discovery.RESTClient()
	if restClient == nil {
		// Fake discovery clients carry no REST client and answer in place.
		if _, err := discovery.ServerVersion(); err != nil {
			return fmt.Errorf("ping api server: %w", err)
		}

		return nil
	}

	if err := restClient.Get().AbsPath("/version").Do(ctx).Error(); err != nil {
		return fmt.Errorf("ping api server: %w", err)
	}

	return nil
}
