package appstate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/skillcoder/kubedeploy/internal/infra/pinger"
	"github.com/skillcoder/kubedeploy/internal/infra/shutdown"
)

// State is the lifecycle phase of the controller process.
type State string

const (
	StateInit        State = "init"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
)

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateInit:        {StateStarting, StateTerminating},
	StateStarting:    {StateRunning, StateTerminating},
	StateRunning:     {StateTerminating},
	StateTerminating: {StateTerminated},
}

// AppState tracks the process lifecycle and answers liveness and readiness
// from the lifecycle phase and the pinger results.
type AppState struct {
	logger              *slog.Logger
	quit                <-chan os.Signal
	terminationFilePath string
	pinger              pingerServer

	mu          sync.RWMutex
	startedAt   time.Time
	state       State
	enteredAt   map[State]time.Time
	shutdowners []shutdown.Shutdowner
}

func New(
	logger *slog.Logger,
	appStart time.Time,
	terminationFilePath string,
	quit <-chan os.Signal,
	pinger pingerServer,
) *AppState {
	return &AppState{
		logger:              logger.With("component", "appstate"),
		quit:                quit,
		terminationFilePath: terminationFilePath,
		pinger:              pinger,
		startedAt:           appStart,
		state:               StateInit,
		enteredAt:           map[State]time.Time{StateInit: appStart},
	}
}

func (s *AppState) RegisterPinger(p pinger.Pinger) error {
	return s.pinger.Register(p)
}

// RegisterShutdowner adds a component to stop on Shutdown. Components are
// stopped in reverse registration order.
func (s *AppState) RegisterShutdowner(c shutdown.Shutdowner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdowners = append(s.shutdowners, c)

	return nil
}

func (s *AppState) GetAllStats() map[string]*pinger.Statistics {
	return s.pinger.GetAllStats()
}

func (s *AppState) SetStarting(_ context.Context) error {
	return s.transition(StateStarting)
}

// SetRunning marks the controller as serving. A termination file that
// appeared during startup turns into a SIGTERM to this process.
func (s *AppState) SetRunning(ctx context.Context) error {
	if err := s.transition(StateRunning); err != nil {
		return err
	}

	if shutdown.CheckTerminationFile(ctx, s.logger, s.terminationFilePath) {
		s.terminateSelf(ctx)
	}

	return nil
}

// SetTerminating is a no-op when the controller is already terminating.
func (s *AppState) SetTerminating(_ context.Context) error {
	if s.GetState() == StateTerminating {
		return nil
	}

	return s.transition(StateTerminating)
}

func (s *AppState) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return fmt.Errorf("set %s: %w", to, ErrAlreadyTerminated)
	}

	if !slices.Contains(transitions[s.state], to) {
		return fmt.Errorf("set %s from %s: %w", to, s.state, ErrInvalidStateTransition)
	}

	s.state = to
	s.enteredAt[to] = time.Now()

	return nil
}

func (s *AppState) terminateSelf(ctx context.Context) {
	pid := os.Getpid()
	s.logger.InfoContext(ctx, "termination file found after initialization, sending SIGTERM", "pid", pid)

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		s.logger.ErrorContext(ctx, "failed to send SIGTERM", "reason", err, "pid", pid)
	}
}

func (s *AppState) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// GetStateSince returns when the current state was entered.
func (s *AppState) GetStateSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.enteredAt[s.state]
}

func (s *AppState) GetStartTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.startedAt
}

func (s *AppState) GetUptime() time.Duration {
	return time.Since(s.GetStartTime())
}

// IsHealthy returns true while the application is running and no
// health-critical dependency is failing.
func (s *AppState) IsHealthy() bool {
	return s.GetState() == StateRunning && s.pinger.IsHealthy()
}

// IsReady returns true once the application is running and every
// ready-critical dependency answered its last ping.
func (s *AppState) IsReady() bool {
	return s.GetState() == StateRunning && s.pinger.IsReady()
}

// Quit returns the channel that receives the shutdown signal.
func (s *AppState) Quit() <-chan os.Signal {
	return s.quit
}

// Shutdown stops the registered components and transitions the application
// to the terminated state. Repeated calls are no-ops.
func (s *AppState) Shutdown(ctx context.Context) error {
	if s.GetState() == StateTerminated {
		return nil
	}

	if err := s.SetTerminating(ctx); err != nil {
		return fmt.Errorf("set terminating application state: %w", err)
	}

	s.mu.RLock()
	components := slices.Clone(s.shutdowners)
	s.mu.RUnlock()

	err := shutdown.GracefulShutdown(ctx, s.logger, components)

	if terr := s.transition(StateTerminated); terr != nil {
		s.logger.ErrorContext(ctx, "failed to mark application terminated", "reason", terr)
	}

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
