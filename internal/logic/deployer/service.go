package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	autoscalingv2 "k8s.io/api/autoscaling/v2"
	"k8s.io/apimachinery/pkg/api/equality"

	"github.com/skillcoder/kubedeploy/internal/infra/metrics"
	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
)

const (
	actionCreate   = "create"
	actionReplace  = "replace"
	actionRecreate = "recreate"
)

// Config holds the scheduling and placement settings of the deployer.
type Config struct {
	Cluster   string
	Namespace string
	Interval  time.Duration
	// Schedule replaces Interval when set.
	Schedule Schedule
}

type Service struct {
	logger     *slog.Logger
	source     ConfigSource
	secrets    SecretFingerprinter
	repo       Repository
	resolver   *compiler.Resolver
	compiler   *compiler.Compiler
	cfg        Config
	ready      chan struct{}
	doneCh     chan struct{}
	inShutdown atomic.Bool

	mu                   sync.RWMutex
	lastReconcileEndTime time.Time
	period               time.Duration
}

// New creates a new deployer service.
func New(
	logger *slog.Logger,
	source ConfigSource,
	secrets SecretFingerprinter,
	repo Repository,
	comp *compiler.Compiler,
	cfg Config,
) *Service {
	return &Service{
		logger:   logger.With("component", "deployer"),
		source:   source,
		secrets:  secrets,
		repo:     repo,
		resolver: compiler.NewResolver(),
		compiler: comp,
		cfg:      cfg,
		ready:    make(chan struct{}),
		doneCh:   make(chan struct{}),
		period:   cfg.Interval,
	}
}

func (s *Service) Start(ctx context.Context) error {
	if s.inShutdown.Load() {
		s.logger.InfoContext(ctx, "deployer service is shutting down, skipping start")

		return nil
	}

	go s.RunCommand(ctx)

	return nil
}

// Name returns the name of the server component
func (s *Service) Name() string {
	return "kubedeploy-deployer"
}

// Ping fails until the first reconcile pass finished and when passes stall
// for more than two periods.
func (s *Service) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ready:
		age, period, ok := s.lastReconcile()
		if !ok {
			return ErrServiceNotReady
		}

		if age > 2*period {
			return fmt.Errorf("%w: %s", ErrReconcileTooOld, age.Round(time.Second).String())
		}

		return nil
	default:
		return ErrServiceNotReady
	}
}

// PingerCritical keeps a slow or stalled reconcile pass from failing liveness.
func (s *Service) PingerCritical() bool {
	return false
}

func (s *Service) Shutdown(ctx context.Context) error {
	if !s.inShutdown.CompareAndSwap(false, true) {
		s.logger.ErrorContext(ctx, "deployer service is already shutting down, skipping shutdown")

		return nil
	}

	defer func() {
		s.logger.InfoContext(ctx, "deployer service shut down")
	}()

	s.logger.InfoContext(ctx, "shutting down deployer service")

	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context done before deployer loop exited: %w", ctx.Err())
	case <-s.doneCh:
		s.logger.InfoContext(ctx, "deployer loop exited")
	}

	return nil
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// RunCommand reconciles every instance, then waits for the next tick or
// scheduled time until ctx is done.
func (s *Service) RunCommand(ctx context.Context) {
	defer close(s.doneCh)

	logger := s.logger.With("deployer", "RunCommand")

	close(s.ready)

	for {
		err := s.ReconcileCommand(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "reconcile error", "reason", err)
		}

		wait := s.nextWait(time.Now())

		s.setLastReconcileEndTime(wait)

		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			logger.InfoContext(ctx, "terminating deployer loop")

			return
		}
	}
}

func (s *Service) nextWait(now time.Time) time.Duration {
	if s.cfg.Schedule == nil {
		return s.cfg.Interval
	}

	return max(s.cfg.Schedule.Next(now).Sub(now), 0)
}

// ReconcileCommand runs one pass over every instance of the cluster.
// Instance failures are logged and counted, they do not stop the pass.
func (s *Service) ReconcileCommand(ctx context.Context) error {
	logger := s.logger.With("deployer", "ReconcileCommand")

	refs, err := s.source.ListInstancesQuery(ctx, s.cfg.Cluster)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListInstances, err)
	}

	logger.DebugContext(ctx, "starting to process instances", "count", len(refs))

	failed := 0

	for _, ref := range refs {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "context done, stopping reconciliation")

			return nil
		default:
		}

		instLogger := logger.With("service", ref.Service, "instance", ref.Instance)

		if err := s.reconcileInstance(ctx, instLogger, ref); err != nil {
			var throttled tooManyRequests
			if errors.As(err, &throttled) {
				instLogger.DebugContext(ctx, "orchestrator throttled, will retry next run")

				continue
			}

			failed++

			metrics.RecordCompileFailure(ref.Service, ref.Instance)
			instLogger.ErrorContext(ctx, "reconcile instance error", "reason", err)
		}
	}

	logger.InfoContext(ctx, "instances reconciled", "count", len(refs), "failed", failed)

	return nil
}

// RenderQuery compiles an instance against the live cluster state without
// writing anything.
func (s *Service) RenderQuery(ctx context.Context, service, instance string) (*compiler.Result, error) {
	live, err := s.repo.GetManifestQuery(ctx, s.cfg.Namespace, compiler.WorkloadName(service, instance))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGetWorkload, err)
	}

	return s.render(ctx, InstanceRef{Service: service, Instance: instance}, live)
}

func (s *Service) render(ctx context.Context, ref InstanceRef, live *compiler.Manifest) (*compiler.Result, error) {
	src, err := s.source.LoadInstanceQuery(ctx, ref.Service, ref.Instance, s.cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadInstance, ref, err)
	}

	cfg, err := s.resolver.Resolve(ref.Service, ref.Instance, s.cfg.Cluster, src.Defaults, src.Overrides)
	if err != nil {
		return nil, &compiler.ManifestCompilationError{Service: ref.Service, Instance: ref.Instance, Err: err}
	}

	fingerprints, err := s.fingerprints(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := compiler.Options{SecretFingerprints: fingerprints}

	if live != nil && cfg.IsAutoscalingEnabled() {
		observed := live.Replicas()
		opts.ObservedReplicas = &observed
	}

	res, err := s.compiler.Compile(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	metrics.RecordManifestCompiled(string(res.Manifest.Kind()))

	return res, nil
}

func (s *Service) fingerprints(ctx context.Context, cfg *compiler.InstanceConfig) (map[string]string, error) {
	refs := compiler.SecretReferences(cfg)
	out := make(map[string]string, len(refs))

	for _, ref := range refs {
		fp, err := s.secrets.SecretFingerprintQuery(ctx, s.cfg.Namespace, ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSecretFingerprint, ref, err)
		}

		if fp != "" {
			out[ref.String()] = fp
		}
	}

	return out, nil
}

func (s *Service) reconcileInstance(ctx context.Context, logger *slog.Logger, ref InstanceRef) error {
	name := compiler.WorkloadName(ref.Service, ref.Instance)

	live, err := s.repo.GetManifestQuery(ctx, s.cfg.Namespace, name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGetWorkload, err)
	}

	res, err := s.render(ctx, ref, live)
	if err != nil {
		return err
	}

	if err := s.applyWorkload(ctx, logger, live, res); err != nil {
		return err
	}

	if err := s.applyAutoscaler(ctx, logger, name, res); err != nil {
		return err
	}

	return s.applyDisruptionBudget(ctx, res)
}

func (s *Service) applyWorkload(
	ctx context.Context,
	logger *slog.Logger,
	live *compiler.Manifest,
	res *compiler.Result,
) error {
	desired := res.Manifest
	kind := string(desired.Kind())
	logger = logger.With("kind", kind, "config_sha", res.ConfigHash)

	switch {
	case live == nil:
		if err := s.repo.CreateWorkloadCommand(ctx, desired); err != nil {
			return fmt.Errorf("%w: create: %w", ErrApplyWorkload, err)
		}

		metrics.RecordBounce(kind, actionCreate)
		logger.InfoContext(ctx, "workload created")
	case live.Kind() != desired.Kind():
		meta := live.ObjectMeta()

		err := s.repo.DeleteWorkloadCommand(ctx, live.Kind(), meta.Namespace, meta.Name)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("%w: delete %s: %w", ErrApplyWorkload, live.Kind(), err)
		}

		if err := s.repo.CreateWorkloadCommand(ctx, desired); err != nil {
			return fmt.Errorf("%w: create: %w", ErrApplyWorkload, err)
		}

		metrics.RecordBounce(kind, actionRecreate)
		logger.InfoContext(ctx, "workload recreated", "previous_kind", string(live.Kind()))
	case live.ConfigSHA() != res.ConfigHash:
		if err := s.repo.ReplaceWorkloadCommand(ctx, desired); err != nil {
			return fmt.Errorf("%w: replace: %w", ErrApplyWorkload, err)
		}

		metrics.RecordBounce(kind, actionReplace)
		logger.InfoContext(ctx, "workload replaced", "previous_config_sha", live.ConfigSHA())
	default:
		logger.DebugContext(ctx, "workload up to date")
	}

	return nil
}

func (s *Service) applyAutoscaler(
	ctx context.Context,
	logger *slog.Logger,
	name string,
	res *compiler.Result,
) error {
	if res.Autoscaler == nil {
		err := s.repo.DeleteAutoscalerCommand(ctx, s.cfg.Namespace, name)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("%w: delete: %w", ErrApplyAutoscaler, err)
		}

		return nil
	}

	live, err := s.repo.GetAutoscalerQuery(ctx, s.cfg.Namespace, name)
	if err != nil {
		return fmt.Errorf("%w: get: %w", ErrApplyAutoscaler, err)
	}

	switch {
	case live == nil:
		err = s.repo.CreateAutoscalerCommand(ctx, res.Autoscaler)
	case autoscalerDrifted(live, res.Autoscaler):
		err = s.repo.ReplaceAutoscalerCommand(ctx, res.Autoscaler)
	default:
		return nil
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrApplyAutoscaler, err)
	}

	logger.InfoContext(ctx, "autoscaler applied")

	return nil
}

// autoscalerDrifted compares the fields the compiler sets. Fields the API
// server defaults, such as the scale up rules, are ignored.
func autoscalerDrifted(live, desired *autoscalingv2.HorizontalPodAutoscaler) bool {
	ls, ds := live.Spec, desired.Spec

	if !equality.Semantic.DeepEqual(ls.ScaleTargetRef, ds.ScaleTargetRef) ||
		!equality.Semantic.DeepEqual(ls.MinReplicas, ds.MinReplicas) ||
		ls.MaxReplicas != ds.MaxReplicas ||
		!equality.Semantic.DeepEqual(ls.Metrics, ds.Metrics) {
		return true
	}

	switch {
	case ds.Behavior == nil:
		if ls.Behavior != nil {
			return true
		}
	case ls.Behavior == nil:
		return true
	case !equality.Semantic.DeepEqual(ls.Behavior.ScaleDown, ds.Behavior.ScaleDown):
		return true
	}

	for key, val := range desired.Annotations {
		if live.Annotations[key] != val {
			return true
		}
	}

	for key := range live.Annotations {
		if _, owned := desired.Annotations[key]; !owned && strings.HasPrefix(key, compiler.AnnotationExternalMetricBase) {
			return true
		}
	}

	return false
}

func (s *Service) applyDisruptionBudget(ctx context.Context, res *compiler.Result) error {
	desired := res.DisruptionBudget
	if desired == nil {
		return nil
	}

	live, err := s.repo.GetDisruptionBudgetQuery(ctx, desired.Namespace, desired.Name)
	if err != nil {
		return fmt.Errorf("%w: get: %w", ErrApplyDisruptionBudget, err)
	}

	switch {
	case live == nil:
		err = s.repo.CreateDisruptionBudgetCommand(ctx, desired)
	case !equality.Semantic.DeepEqual(live.Spec, desired.Spec):
		err = s.repo.ReplaceDisruptionBudgetCommand(ctx, desired)
	default:
		return nil
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrApplyDisruptionBudget, err)
	}

	return nil
}

func isNotFound(err error) bool {
	var target notFound

	return errors.As(err, &target)
}

// lastReconcile returns the age of the last finished pass and the current
// period. ok is false until the first pass finished.
func (s *Service) lastReconcile() (age, period time.Duration, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastReconcileEndTime.IsZero() {
		return 0, s.period, false
	}

	return time.Since(s.lastReconcileEndTime), s.period, true
}

func (s *Service) setLastReconcileEndTime(period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastReconcileEndTime = time.Now()
	s.period = max(period, s.cfg.Interval)
}
