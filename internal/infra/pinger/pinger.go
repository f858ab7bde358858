package pinger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skillcoder/kubedeploy/internal/infra/shutdown"
)

const defaultPingTimeout = 1 * time.Second

var errNilPinger = errors.New("pinger cannot be nil")

// Optional methods a pinger may implement to change how it is scheduled
// and how its failures count.
type (
	readyCriticalPinger interface {
		PingerReadyCritical() bool
	}

	healthCriticalPinger interface {
		PingerCritical() bool
	}

	timeoutPinger interface {
		PingerTimeout() time.Duration
	}
)

// Service pings registered dependencies on a fixed interval and keeps the
// outcome of the last round for readiness and liveness decisions.
type Service struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.RWMutex
	entries map[string]*entry

	ready      chan struct{}
	doneCh     chan struct{}
	inShutdown atomic.Bool
	inFlight   sync.WaitGroup
}

var _ shutdown.Shutdowner = (*Service)(nil)

func New(logger *slog.Logger, interval time.Duration) *Service {
	return &Service{
		logger:   logger.With("component", "pinger"),
		interval: interval,
		entries:  make(map[string]*entry),
		ready:    make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (s *Service) Name() string {
	return "pinger-service"
}

// Register adds a pinger. Pingers are ready and health critical with a one
// second timeout unless they implement the optional methods.
func (s *Service) Register(p Pinger) error {
	if p == nil {
		return fmt.Errorf("register pinger: %w", errNilPinger)
	}

	e := newEntry(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[e.name]; exists {
		return fmt.Errorf("register pinger %s: %w", e.name, ErrPingerAlreadyRegistered)
	}

	s.entries[e.name] = e

	s.logger.Info("pinger registered",
		"name", e.name,
		"readyCritical", e.readyCritical,
		"healthCritical", e.healthCritical,
		"timeout", e.timeout,
	)

	return nil
}

func newEntry(p Pinger) *entry {
	e := &entry{
		name:           p.Name(),
		pinger:         p,
		readyCritical:  true,
		healthCritical: true,
		timeout:        defaultPingTimeout,
	}

	if rc, ok := p.(readyCriticalPinger); ok {
		e.readyCritical = rc.PingerReadyCritical()
	}

	if hc, ok := p.(healthCriticalPinger); ok {
		e.healthCritical = hc.PingerCritical()
	}

	if tp, ok := p.(timeoutPinger); ok && tp.PingerTimeout() > 0 {
		e.timeout = tp.PingerTimeout()
	}

	return e
}

func (s *Service) Start(ctx context.Context) error {
	if s.inShutdown.Load() {
		s.logger.InfoContext(ctx, "pinger service is shutting down, skipping start")

		return nil
	}

	go s.run(ctx)

	return nil
}

// Ready is closed once the first round of pings finished.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) Shutdown(ctx context.Context) error {
	if !s.inShutdown.CompareAndSwap(false, true) {
		s.logger.ErrorContext(ctx, "pinger service is already shutting down, skipping shutdown")

		return nil
	}

	s.logger.InfoContext(ctx, "shutting down pinger service")

	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context done before pinger loop exited: %w", ctx.Err())
	case <-s.doneCh:
	}

	s.inFlight.Wait()
	s.logger.InfoContext(ctx, "pinger service shut down")

	return nil
}

func (s *Service) GetStats(name string) (*Statistics, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("get stats: %w: %s", ErrPingerNotFound, name)
	}

	return e.snapshot(), nil
}

// GetAllStats returns a snapshot of every registered pinger keyed by name.
func (s *Service) GetAllStats() map[string]*Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*Statistics, len(s.entries))
	for name, e := range s.entries {
		out[name] = e.snapshot()
	}

	return out
}

// IsReady reports whether every ready-critical pinger has run and its last
// ping succeeded.
func (s *Service) IsReady() bool {
	return s.check(func(e *entry) bool { return e.readyCritical }, true)
}

// IsHealthy reports whether no health-critical pinger failed its last ping.
// Pingers that have not run yet count as healthy.
func (s *Service) IsHealthy() bool {
	return s.check(func(e *entry) bool { return e.healthCritical }, false)
}

func (s *Service) check(critical func(*entry) bool, requireRun bool) bool {
	for _, e := range s.snapshotEntries() {
		if !critical(e) {
			continue
		}

		ran, ok := e.lastResult()
		if requireRun && !ran {
			return false
		}

		if ran && !ok {
			return false
		}
	}

	return true
}

func (s *Service) snapshotEntries() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}

	return out
}

func (s *Service) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.pingAll(ctx)
	close(s.ready)

	for !s.inShutdown.Load() {
		select {
		case <-ticker.C:
			s.pingAll(ctx)
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "terminating pinger loop")

			return
		}
	}

	s.logger.InfoContext(ctx, "terminating pinger loop")
}

// pingAll pings every entry concurrently and returns when all pings are
// done or ctx is cancelled.
func (s *Service) pingAll(ctx context.Context) {
	entries := s.snapshotEntries()
	if len(entries) == 0 {
		return
	}

	var g errgroup.Group

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}

		s.inFlight.Add(1)

		g.Go(func() error {
			defer s.inFlight.Done()

			s.ping(ctx, e)

			return nil
		})
	}

	done := make(chan struct{})

	go func() {
		_ = g.Wait()

		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

func (s *Service) ping(ctx context.Context, e *entry) {
	pingCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err := e.pinger.Ping(pingCtx)
	latency := time.Since(start)

	e.record(start.Add(latency), latency, err)

	if err != nil {
		s.logger.DebugContext(ctx, "ping failed", "name", e.name, "latency", latency, "reason", err)

		return
	}

	s.logger.DebugContext(ctx, "ping succeeded", "name", e.name, "latency", latency)
}
