package k8s

import (
	"context"
	"log/slog"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
	"github.com/skillcoder/kubedeploy/internal/logic/status"
)

// reported treats a zero status count as not reported, the way the API
// server omits it.
func reported(n int32) *int32 {
	if n == 0 {
		return nil
	}

	return &n
}

func specReplicas(n *int32) int32 {
	if n == nil {
		return 1
	}

	return *n
}

func deploymentToWorkload(d *appsv1.Deployment) *status.Workload {
	return &status.Workload{
		Kind:            string(compiler.KindDeployment),
		Name:            d.Name,
		Namespace:       d.Namespace,
		Labels:          d.Labels,
		DesiredReplicas: specReplicas(d.Spec.Replicas),
		Replicas:        d.Status.Replicas,
		ReadyReplicas:   reported(d.Status.ReadyReplicas),
		UpdatedReplicas: reported(d.Status.UpdatedReplicas),
		CreatedAt:       d.CreationTimestamp.Time,
	}
}

func statefulSetToWorkload(s *appsv1.StatefulSet) *status.Workload {
	return &status.Workload{
		Kind:            string(compiler.KindStatefulSet),
		Name:            s.Name,
		Namespace:       s.Namespace,
		Labels:          s.Labels,
		DesiredReplicas: specReplicas(s.Spec.Replicas),
		Replicas:        s.Status.Replicas,
		ReadyReplicas:   reported(s.Status.ReadyReplicas),
		UpdatedReplicas: reported(s.Status.UpdatedReplicas),
		CreatedAt:       s.CreationTimestamp.Time,
	}
}

func toDomainPod(pod *corev1.Pod) status.Pod {
	out := status.Pod{
		Name:       pod.Name,
		Namespace:  pod.Namespace,
		Phase:      string(pod.Status.Phase),
		NodeName:   pod.Spec.NodeName,
		HostIP:     pod.Status.HostIP,
		PodIP:      pod.Status.PodIP,
		Labels:     pod.Labels,
		CreatedAt:  pod.CreationTimestamp.Time,
		Containers: make([]status.ContainerState, 0, len(pod.Spec.Containers)),
	}

	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			out.Ready = cond.Status == corev1.ConditionTrue
		}
	}

	statuses := make(map[string]corev1.ContainerStatus, len(pod.Status.ContainerStatuses))
	for _, cs := range pod.Status.ContainerStatuses {
		statuses[cs.Name] = cs
	}

	for i := range pod.Spec.Containers {
		name := pod.Spec.Containers[i].Name
		state := status.ContainerState{Name: name, State: "unknown"}

		if cs, ok := statuses[name]; ok {
			state.Ready = cs.Ready
			state.RestartCount = cs.RestartCount

			switch {
			case cs.State.Running != nil:
				state.State = "running"
			case cs.State.Waiting != nil:
				state.State = "waiting"
				state.Reason = cs.State.Waiting.Reason
				state.Message = cs.State.Waiting.Message
			case cs.State.Terminated != nil:
				state.State = "terminated"
				state.Reason = cs.State.Terminated.Reason
				state.Message = cs.State.Terminated.Message
			}
		}

		out.Containers = append(out.Containers, state)
	}

	return out
}

func toDomainReplicaSet(rs *appsv1.ReplicaSet) status.ReplicaSet {
	return status.ReplicaSet{
		Name:          rs.Name,
		Replicas:      rs.Status.Replicas,
		ReadyReplicas: rs.Status.ReadyReplicas,
		ConfigSHA:     rs.Labels[compiler.LabelConfigSHA],
		GitSHA:        rs.Labels[compiler.LabelGitSHA],
		CreatedAt:     rs.CreationTimestamp.Time,
	}
}

// eventTime picks the most recent timestamp an event carries.
func eventTime(ev *corev1.Event) time.Time {
	switch {
	case !ev.LastTimestamp.IsZero():
		return ev.LastTimestamp.Time
	case !ev.EventTime.IsZero():
		return ev.EventTime.Time
	case !ev.FirstTimestamp.IsZero():
		return ev.FirstTimestamp.Time
	default:
		return ev.CreationTimestamp.Time
	}
}

func toDomainEvent(ev *corev1.Event) status.Event {
	return status.Event{
		Object:    status.ObjectRef{Kind: ev.InvolvedObject.Kind, Name: ev.InvolvedObject.Name},
		Type:      ev.Type,
		Reason:    ev.Reason,
		Message:   ev.Message,
		Timestamp: eventTime(ev),
	}
}

func toDomainPodMetrics(
	ctx context.Context,
	logger *slog.Logger,
	podMetrics *metricsv1beta1.PodMetrics,
) *status.PodMetrics {
	cpuUsage := resource.NewMilliQuantity(0, resource.DecimalSI)
	memoryUsage := resource.NewQuantity(0, resource.BinarySI)

	for i := range podMetrics.Containers {
		usage := podMetrics.Containers[i].Usage

		if cpu, ok := usage[corev1.ResourceCPU]; ok {
			cpuUsage.Add(cpu)
		}

		mem, ok := usage[corev1.ResourceMemory]
		if !ok {
			logger.WarnContext(ctx, "container memory usage is missing, skipping",
				"pod", podMetrics.Name,
				"namespace", podMetrics.Namespace,
				"container", podMetrics.Containers[i].Name,
			)

			continue
		}

		memoryUsage.Add(mem)
	}

	return &status.PodMetrics{
		CPUUsage:    cpuUsage,
		MemoryUsage: memoryUsage,
	}
}
