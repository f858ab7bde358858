package k8s

import (
	"context"
	"slices"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
	"github.com/skillcoder/kubedeploy/internal/logic/status"
)

const eventsPageSize = 500

// GetWorkloadStatusQuery reads one workload kind. An absent workload is a
// NotFoundError so the caller can try the other kind.
func (a *Adapter) GetWorkloadStatusQuery(
	ctx context.Context,
	kind compiler.Kind,
	namespace,
	name string,
) (*status.Workload, error) {
	switch kind {
	case compiler.KindStatefulSet:
		sts, err := a.clientset.AppsV1().StatefulSets(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return nil, translate("get statefulset", string(kind), name, err)
		}

		return statefulSetToWorkload(sts), nil
	default:
		deployment, err := a.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return nil, translate("get deployment", string(kind), name, err)
		}

		return deploymentToWorkload(deployment), nil
	}
}

func (a *Adapter) ListPodsQuery(
	ctx context.Context,
	namespace,
	labelSelector string,
) ([]status.Pod, error) {
	podList, err := a.clientset.CoreV1().Pods(namespace).List(
		ctx,
		metav1.ListOptions{
			LabelSelector: labelSelector,
		},
	)
	if err != nil {
		return nil, translate("list pods", "Pod", labelSelector, err)
	}

	pods := make([]status.Pod, 0, len(podList.Items))
	for i := range podList.Items {
		pods = append(pods, toDomainPod(&podList.Items[i]))
	}

	return pods, nil
}

func (a *Adapter) ListReplicaSetsQuery(
	ctx context.Context,
	namespace,
	labelSelector string,
) ([]status.ReplicaSet, error) {
	rsList, err := a.clientset.AppsV1().ReplicaSets(namespace).List(
		ctx,
		metav1.ListOptions{
			LabelSelector: labelSelector,
		},
	)
	if err != nil {
		return nil, translate("list replicasets", "ReplicaSet", labelSelector, err)
	}

	out := make([]status.ReplicaSet, 0, len(rsList.Items))
	for i := range rsList.Items {
		out = append(out, toDomainReplicaSet(&rsList.Items[i]))
	}

	return out, nil
}

// ListEventsQuery lists the events involving ref and keeps the newest limit
// of them, oldest first. The API server returns events in storage order, so
// every page is read before the cut.
func (a *Adapter) ListEventsQuery(
	ctx context.Context,
	namespace string,
	ref status.ObjectRef,
	limit int,
) ([]status.Event, error) {
	selector := fields.Set{
		"involvedObject.kind": ref.Kind,
		"involvedObject.name": ref.Name,
	}.AsSelector().String()

	var out []status.Event

	opts := metav1.ListOptions{FieldSelector: selector, Limit: eventsPageSize}

	for {
		eventList, err := a.clientset.CoreV1().Events(namespace).List(ctx, opts)
		if err != nil {
			return nil, translate("list events", "Event", ref.Kind+"/"+ref.Name, err)
		}

		for i := range eventList.Items {
			ev := &eventList.Items[i]
			if ev.InvolvedObject.Kind != ref.Kind || ev.InvolvedObject.Name != ref.Name {
				continue
			}

			out = append(out, toDomainEvent(ev))
		}

		if eventList.Continue == "" {
			break
		}

		opts.Continue = eventList.Continue
	}

	slices.SortStableFunc(out, func(a, b status.Event) int { return a.Timestamp.Compare(b.Timestamp) })

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}

	return out, nil
}

func (a *Adapter) GetPodLogsQuery(
	ctx context.Context,
	namespace,
	pod,
	container string,
	tailLines int64,
) (string, error) {
	raw, err := a.clientset.CoreV1().Pods(namespace).GetLogs(pod, &corev1.PodLogOptions{
		Container: container,
		TailLines: &tailLines,
	}).DoRaw(ctx)
	if err != nil {
		return "", translate("get pod logs", "Pod", pod, err)
	}

	return string(raw), nil
}

func (a *Adapter) GetPodMetricsQuery(
	ctx context.Context,
	namespace,
	name string,
) (*status.PodMetrics, error) {
	podMetrics, err := a.metricsClientset.MetricsV1beta1().PodMetricses(namespace).Get(
		ctx,
		name,
		metav1.GetOptions{},
	)
	if err != nil {
		return nil, translate("get pod metrics", "PodMetrics", name, err)
	}

	return toDomainPodMetrics(ctx, a.logger, podMetrics), nil
}
