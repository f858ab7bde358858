package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/skillcoder/kubedeploy/internal/adapters/outbound/awssm"
	"github.com/skillcoder/kubedeploy/internal/adapters/outbound/k8s"
	"github.com/skillcoder/kubedeploy/internal/adapters/outbound/soadir"
	"github.com/skillcoder/kubedeploy/internal/config"
	"github.com/skillcoder/kubedeploy/internal/httpserver"
	"github.com/skillcoder/kubedeploy/internal/infra/cronparser"
	"github.com/skillcoder/kubedeploy/internal/infra/shutdown"
	"github.com/skillcoder/kubedeploy/internal/infra/ttlcache"
	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
	"github.com/skillcoder/kubedeploy/internal/logic/deployer"
	"github.com/skillcoder/kubedeploy/internal/logic/status"
)

const podCacheName = "pods"

type App struct {
	logger        *slog.Logger
	appState      appstater
	signalHandler signalHandler
	// components start in order and stop in reverse order.
	components []component
}

// New creates a new application instance with all dependencies wired.
func New(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	appState appstater,
	pingers component,
) (*App, error) {
	system, err := config.LoadSystem(cfg)
	if err != nil {
		return nil, fmt.Errorf("load system config: %w", err)
	}

	comp, err := compiler.New(logger, system)
	if err != nil {
		return nil, fmt.Errorf("create compiler: %w", err)
	}

	kubeConfig, err := clientcmd.BuildConfigFromFlags(cfg.KubeMaster, cfg.KubeConfig)
	if err != nil {
		return nil, fmt.Errorf("build k8s config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(kubeConfig)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}

	metricsClientset, err := metricsv.NewForConfig(kubeConfig)
	if err != nil {
		return nil, fmt.Errorf("create metrics clientset: %w", err)
	}

	k8sRepo := k8s.New(logger, clientset, metricsClientset)

	secrets, err := newSecretFingerprinter(ctx, logger, cfg, k8sRepo)
	if err != nil {
		return nil, err
	}

	schedule, err := newSchedule(cfg)
	if err != nil {
		return nil, err
	}

	deployerService := deployer.New(
		logger,
		soadir.New(logger, cfg.SOADir),
		secrets,
		k8sRepo,
		comp,
		deployer.Config{
			Cluster:   cfg.Cluster,
			Namespace: cfg.Namespace,
			Interval:  cfg.Interval,
			Schedule:  schedule,
		},
	)

	observer := status.NewObserver(
		logger,
		k8sRepo,
		cfg.Namespace,
		cfg.ObserveTimeout,
		ttlcache.New[[]status.Pod](podCacheName, cfg.CacheTTL),
	)

	httpServer := httpserver.New(logger, appState, deployerService, observer, cfg.HTTPPort)
	metricsServer := httpserver.NewMetricsServer(logger, cfg.MetricsPort)

	for _, p := range []interface {
		Name() string
		Ping(ctx context.Context) error
	}{k8sRepo, deployerService, metricsServer} {
		if err := appState.RegisterPinger(p); err != nil {
			return nil, fmt.Errorf("register pinger %s: %w", p.Name(), err)
		}
	}

	components := []component{pingers, metricsServer, deployerService, httpServer}
	for _, c := range components {
		if err := appState.RegisterShutdowner(c); err != nil {
			return nil, fmt.Errorf("register shutdowner %s: %w", c.Name(), err)
		}
	}

	return &App{
		logger:        logger,
		appState:      appState,
		signalHandler: shutdown.New(logger, appState, cfg.TerminationFile),
		components:    components,
	}, nil
}

func newSecretFingerprinter(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	k8sRepo *k8s.Adapter,
) (deployer.SecretFingerprinter, error) {
	if cfg.SecretBackend != config.SecretBackendAWS {
		return k8sRepo, nil
	}

	fingerprinter, err := awssm.NewFromConfig(ctx, logger, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("create aws secret fingerprinter: %w", err)
	}

	return fingerprinter, nil
}

func newSchedule(cfg *config.Config) (deployer.Schedule, error) {
	if cfg.ReconcileSchedule == "" {
		return nil, nil //nolint:nilnil // fixed interval
	}

	schedule, err := cronparser.New(cfg.ReconcileTZ).Parse(cfg.ReconcileSchedule)
	if err != nil {
		return nil, fmt.Errorf("parse reconcile schedule: %w", err)
	}

	return schedule, nil
}

// Run starts the application and blocks until context is cancelled.
func (a *App) Run(originCtx context.Context) error {
	err := a.signalHandler.CheckTermination(originCtx)
	if err != nil {
		return fmt.Errorf("check termination: %w", err)
	}

	ctx, cancel := context.WithCancel(originCtx)
	defer cancel()

	go a.signalHandler.HandleSignals(ctx, cancel)

	if err := a.appState.SetStarting(ctx); err != nil {
		return fmt.Errorf("set starting: %w", err)
	}

	readies := make([]<-chan struct{}, 0, len(a.components))

	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			cancel()

			return a.shutdown(originCtx, fmt.Errorf("start %s: %w", c.Name(), err))
		}

		readies = append(readies, c.Ready())
	}

	select {
	case <-allChannelsClose(ctx, a.logger, readies...):
	case <-ctx.Done():
		return a.shutdown(originCtx, nil)
	}

	if err := a.appState.SetRunning(ctx); err != nil {
		return a.shutdown(originCtx, fmt.Errorf("set running: %w", err))
	}

	a.logger.InfoContext(ctx, "kubedeploy controller is running")

	<-ctx.Done()

	return a.shutdown(originCtx, nil)
}

func (a *App) shutdown(ctx context.Context, cause error) error {
	a.logger.InfoContext(ctx, "shutting down kubedeploy controller")

	if err := a.appState.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("shutdown: %w", joinCause(cause, err))
	}

	return cause
}

func joinCause(cause, err error) error {
	if cause == nil {
		return err
	}

	return fmt.Errorf("%w; %w", cause, err)
}

// allChannelsClose returns a channel closed once every given channel is closed.
func allChannelsClose(ctx context.Context, logger *slog.Logger, chans ...<-chan struct{}) <-chan struct{} {
	out := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(len(chans))

	for _, ch := range chans {
		go func(ch <-chan struct{}) {
			defer wg.Done()

			<-ch
		}(ch)
	}

	go func() {
		wg.Wait()
		logger.DebugContext(ctx, "all components are ready", "count", len(chans))
		close(out)
	}()

	return out
}
