package status

import (
	"context"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
)

// Repository is the port interface for observational orchestrator reads.
// Implementations are provided by adapters in the outbound layer.
type Repository interface {
	GetWorkloadStatusQuery(
		ctx context.Context,
		kind compiler.Kind,
		namespace,
		name string,
	) (*Workload, error)

	ListPodsQuery(
		ctx context.Context,
		namespace,
		labelSelector string,
	) ([]Pod, error)

	ListReplicaSetsQuery(
		ctx context.Context,
		namespace,
		labelSelector string,
	) ([]ReplicaSet, error)

	ListEventsQuery(
		ctx context.Context,
		namespace string,
		ref ObjectRef,
		limit int,
	) ([]Event, error)

	GetPodLogsQuery(
		ctx context.Context,
		namespace,
		pod,
		container string,
		tailLines int64,
	) (string, error)

	GetPodMetricsQuery(
		ctx context.Context,
		namespace,
		name string,
	) (*PodMetrics, error)
}

// PodCache fronts pod listings for a short time.
type PodCache interface {
	Get(key string) ([]Pod, bool)
	Set(key string, pods []Pod)
}

// notFound is a private interface for checking "not found" errors
// without importing the adapter package.
type notFound interface {
	IsNotFound()
}
