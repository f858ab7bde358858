package pinger

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errMockPing = errors.New("mock pinger error")

type mockPinger struct {
	name           string
	readyCritical  bool
	healthCritical bool
	timeout        time.Duration
	delay          time.Duration
	shouldError    bool
}

func (m *mockPinger) Name() string { return m.name }

func (m *mockPinger) Ping(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}

	if m.shouldError {
		return errMockPing
	}

	return nil
}

func (m *mockPinger) PingerReadyCritical() bool    { return m.readyCritical }
func (m *mockPinger) PingerCritical() bool         { return m.healthCritical }
func (m *mockPinger) PingerTimeout() time.Duration { return m.timeout }

// plainPinger carries none of the optional option methods.
type plainPinger struct {
	name string
	err  error
}

func (p *plainPinger) Name() string               { return p.name }
func (p *plainPinger) Ping(context.Context) error { return p.err }

func startAndWait(t *testing.T, service *Service) {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(func() {
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		_ = service.Shutdown(shutdownCtx)
	})

	require.NoError(t, service.Start(ctx))

	select {
	case <-service.Ready():
	case <-time.After(time.Second):
		t.Fatal("service did not become ready")
	}
}

func TestService_Register(t *testing.T) {
	t.Parallel()

	service := New(slog.New(slog.DiscardHandler), time.Second)

	require.NoError(t, service.Register(&plainPinger{name: "kubernetes-api"}))
	require.Error(t, service.Register(nil))
	require.ErrorIs(t, service.Register(&plainPinger{name: "kubernetes-api"}), ErrPingerAlreadyRegistered)

	stats, err := service.GetStats("kubernetes-api")
	require.NoError(t, err)
	require.True(t, stats.ReadyCritical)
	require.True(t, stats.HealthCritical)
	require.Equal(t, defaultPingTimeout, stats.Timeout)

	_, err = service.GetStats("nonexistent")
	require.ErrorIs(t, err, ErrPingerNotFound)

	require.NoError(t, service.Register(&mockPinger{name: "deployer", timeout: 3 * time.Second}))

	stats, err = service.GetStats("deployer")
	require.NoError(t, err)
	require.False(t, stats.ReadyCritical)
	require.False(t, stats.HealthCritical)
	require.Equal(t, 3*time.Second, stats.Timeout)

	require.Len(t, service.GetAllStats(), 2)
}

func TestService_IsReady_IsHealthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		givePinger    Pinger
		wantIsReady   bool
		wantIsHealthy bool
	}{
		{
			name:          "default pinger with error",
			givePinger:    &plainPinger{name: "error", err: errMockPing},
			wantIsReady:   false,
			wantIsHealthy: false,
		},
		{
			name:          "default pinger without error",
			givePinger:    &plainPinger{name: "success"},
			wantIsReady:   true,
			wantIsHealthy: true,
		},
		{
			name:          "non-critical pinger with error",
			givePinger:    &mockPinger{name: "non-critical", shouldError: true},
			wantIsReady:   true,
			wantIsHealthy: true,
		},
		{
			name:          "ready critical pinger with error",
			givePinger:    &mockPinger{name: "ready-critical", readyCritical: true, shouldError: true},
			wantIsReady:   false,
			wantIsHealthy: true,
		},
		{
			name:          "health critical pinger with error",
			givePinger:    &mockPinger{name: "health-critical", healthCritical: true, shouldError: true},
			wantIsReady:   true,
			wantIsHealthy: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			service := New(slog.New(slog.DiscardHandler), time.Hour)
			require.NoError(t, service.Register(tt.givePinger))

			startAndWait(t, service)

			require.Equal(t, tt.wantIsReady, service.IsReady())
			require.Equal(t, tt.wantIsHealthy, service.IsHealthy())
		})
	}
}

func TestService_IsReady_BeforeFirstRun(t *testing.T) {
	t.Parallel()

	service := New(slog.New(slog.DiscardHandler), time.Hour)
	require.NoError(t, service.Register(&plainPinger{name: "kubernetes-api"}))

	require.False(t, service.IsReady())
	require.True(t, service.IsHealthy())
}

func TestService_StatisticsTracking(t *testing.T) {
	t.Parallel()

	service := New(slog.New(slog.DiscardHandler), time.Hour)
	require.NoError(t, service.Register(&plainPinger{name: "ok"}))
	require.NoError(t, service.Register(&plainPinger{name: "failing", err: errMockPing}))

	startAndWait(t, service)

	all := service.GetAllStats()

	require.Equal(t, uint64(1), all["ok"].Successes)
	require.Zero(t, all["ok"].Failures)
	require.Empty(t, all["ok"].LastError)
	require.False(t, all["ok"].LastRun.IsZero())

	require.Equal(t, uint64(1), all["failing"].Failures)
	require.Equal(t, errMockPing.Error(), all["failing"].LastError)
}

func TestService_PingerTimeout(t *testing.T) {
	t.Parallel()

	service := New(slog.New(slog.DiscardHandler), time.Hour)
	require.NoError(t, service.Register(&mockPinger{
		name:    "slow",
		timeout: 20 * time.Millisecond,
		delay:   time.Second,
	}))

	startAndWait(t, service)

	stats, err := service.GetStats("slow")
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.Failures)
	require.Equal(t, context.DeadlineExceeded.Error(), stats.LastError)
}

func TestService_Start_Shutdown(t *testing.T) {
	t.Parallel()

	service := New(slog.New(slog.DiscardHandler), 10*time.Millisecond)
	require.NoError(t, service.Register(&plainPinger{name: "test"}))

	ctx, cancel := context.WithCancel(t.Context())

	require.NoError(t, service.Start(ctx))
	<-service.Ready()

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	require.NoError(t, service.Shutdown(shutdownCtx))
	require.NoError(t, service.Shutdown(shutdownCtx))
}
