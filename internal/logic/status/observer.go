package status

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
)

const (
	MaxEventsPerObject = 200
	fanOutLimit        = 16
)

// Observer answers status queries about deployed instances.
type Observer struct {
	logger    *slog.Logger
	repo      Repository
	namespace string
	timeout   time.Duration
	pods      PodCache
}

// NewObserver creates an observer. Every upstream call is bounded by timeout.
// pods may be nil to disable caching.
func NewObserver(
	logger *slog.Logger,
	repo Repository,
	namespace string,
	timeout time.Duration,
	pods PodCache,
) *Observer {
	return &Observer{
		logger:    logger.With("component", "observer"),
		repo:      repo,
		namespace: namespace,
		timeout:   timeout,
		pods:      pods,
	}
}

func (o *Observer) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.timeout)
}

// InstanceSelector selects every object of one instance.
func InstanceSelector(service, instance string) string {
	return labels.SelectorFromSet(labels.Set{
		compiler.LabelService:  service,
		compiler.LabelInstance: instance,
	}).String()
}

// DeployStatusQuery returns nil when the instance has no workload.
func (o *Observer) DeployStatusQuery(ctx context.Context, service, instance string) (*AppStatus, error) {
	w, err := o.workload(ctx, compiler.WorkloadName(service, instance))
	if err != nil {
		return nil, err
	}

	if w == nil {
		return nil, nil //nolint:nilnil // absent workload
	}

	return &AppStatus{
		Workload:     *w,
		DeployStatus: Reconcile(w.DesiredReplicas, w.ReadyReplicas, w.UpdatedReplicas, w.Replicas),
		ConfigSHA:    w.Labels[compiler.LabelConfigSHA],
		GitSHA:       w.Labels[compiler.LabelGitSHA],
	}, nil
}

// workload looks the instance up as a Deployment first, then as a StatefulSet.
func (o *Observer) workload(ctx context.Context, name string) (*Workload, error) {
	for _, kind := range []compiler.Kind{compiler.KindDeployment, compiler.KindStatefulSet} {
		callCtx, cancel := o.call(ctx)
		w, err := o.repo.GetWorkloadStatusQuery(callCtx, kind, o.namespace, name)

		cancel()

		if err == nil {
			return w, nil
		}

		var target notFound
		if errors.As(err, &target) {
			continue
		}

		return nil, fmt.Errorf("%w: %s %s: %w", ErrGetWorkload, kind, name, err)
	}

	return nil, nil //nolint:nilnil // absent workload
}

// listPods returns pods sorted by name. Cached slices are shared between
// queries and must not be modified.
func (o *Observer) listPods(ctx context.Context, selector string) ([]Pod, error) {
	key := o.namespace + "/" + selector

	if o.pods != nil {
		if pods, ok := o.pods.Get(key); ok {
			return pods, nil
		}
	}

	callCtx, cancel := o.call(ctx)
	defer cancel()

	pods, err := o.repo.ListPodsQuery(callCtx, o.namespace, selector)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListPods, err)
	}

	pods = slices.Clone(pods)
	slices.SortFunc(pods, func(a, b Pod) int { return cmp.Compare(a.Name, b.Name) })

	if o.pods != nil {
		o.pods.Set(key, pods)
	}

	return pods, nil
}

// InstanceStatusQuery gathers the workload, pods, replicasets, events, log
// tails and usage of an instance. Event, log and usage failures are reported
// inline.
func (o *Observer) InstanceStatusQuery(
	ctx context.Context,
	service,
	instance string,
	tailLines int,
) (*InstanceStatus, error) {
	logger := o.logger.With("service", service, "instance", instance)
	selector := InstanceSelector(service, instance)

	out := &InstanceStatus{Pods: []PodStatus{}, ReplicaSets: []ReplicaSet{}, Events: []Event{}}

	var pods []Pod

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app, err := o.DeployStatusQuery(gctx, service, instance)
		out.App = app

		return err
	})

	g.Go(func() error {
		var err error

		pods, err = o.listPods(gctx, selector)

		return err
	})

	g.Go(func() error {
		callCtx, cancel := o.call(gctx)
		defer cancel()

		rs, err := o.repo.ListReplicaSetsQuery(callCtx, o.namespace, selector)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrListReplicaSets, err)
		}

		out.ReplicaSets = rs

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(out.ReplicaSets, func(a, b ReplicaSet) int { return b.CreatedAt.Compare(a.CreatedAt) })

	refs := make([]ObjectRef, 0, len(out.ReplicaSets)+1)
	if out.App != nil {
		refs = append(refs, ObjectRef{Kind: out.App.Workload.Kind, Name: out.App.Workload.Name})
	}

	for _, rs := range out.ReplicaSets {
		refs = append(refs, ObjectRef{Kind: "ReplicaSet", Name: rs.Name})
	}

	out.Pods = make([]PodStatus, len(pods))
	objectEvents := make([][]Event, len(refs))
	objectErrors := make([]error, len(refs))

	fan := &errgroup.Group{}
	fan.SetLimit(fanOutLimit)

	for i, ref := range refs {
		fan.Go(func() error {
			objectEvents[i], objectErrors[i] = o.events(ctx, ref)

			return nil
		})
	}

	for i := range pods {
		out.Pods[i].Pod = pods[i]

		fan.Go(func() error {
			o.fillPod(ctx, logger, &out.Pods[i], tailLines)

			return nil
		})
	}

	_ = fan.Wait()

	var eventErrs []string

	for i := range refs {
		if objectErrors[i] != nil {
			eventErrs = append(eventErrs, objectErrors[i].Error())

			continue
		}

		out.Events = append(out.Events, objectEvents[i]...)
	}

	sortEvents(out.Events)
	out.EventsError = strings.Join(eventErrs, "; ")

	return out, nil
}

func (o *Observer) fillPod(ctx context.Context, logger *slog.Logger, ps *PodStatus, tailLines int) {
	events, err := o.events(ctx, ObjectRef{Kind: "Pod", Name: ps.Pod.Name})
	if err != nil {
		logger.WarnContext(ctx, "pod events unavailable", "pod", ps.Pod.Name, "reason", err)
		ps.EventsError = err.Error()
		events = []Event{}
	}

	ps.Events = events

	callCtx, cancel := o.call(ctx)
	usage, err := o.repo.GetPodMetricsQuery(callCtx, ps.Pod.Namespace, ps.Pod.Name)

	cancel()

	if err != nil {
		ps.UsageError = err.Error()
	} else {
		ps.Usage = usage
	}

	if tailLines <= 0 {
		return
	}

	for _, c := range ps.Pod.Containers {
		if c.Name == compiler.SidecarName {
			continue
		}

		ps.Tails = append(ps.Tails, o.tail(ctx, ps.Pod, c.Name, tailLines))
	}
}

func (o *Observer) tail(ctx context.Context, pod Pod, container string, tailLines int) TailLines {
	callCtx, cancel := o.call(ctx)
	defer cancel()

	raw, err := o.repo.GetPodLogsQuery(callCtx, pod.Namespace, pod.Name, container, int64(tailLines))
	if err != nil {
		return TailLines{Container: container, Lines: []string{}, Error: err.Error()}
	}

	lines := strings.Split(strings.TrimRight(raw, "\n"), "\n")
	if raw == "" {
		lines = []string{}
	}

	return TailLines{Container: container, Lines: lines}
}

func (o *Observer) events(ctx context.Context, ref ObjectRef) ([]Event, error) {
	callCtx, cancel := o.call(ctx)
	defer cancel()

	events, err := o.repo.ListEventsQuery(callCtx, o.namespace, ref, MaxEventsPerObject)
	if err != nil {
		return nil, fmt.Errorf("events of %s %s: %w", ref.Kind, ref.Name, err)
	}

	sortEvents(events)

	if len(events) > MaxEventsPerObject {
		events = events[len(events)-MaxEventsPerObject:]
	}

	return events, nil
}

func sortEvents(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int { return a.Timestamp.Compare(b.Timestamp) })
}
