package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skillcoder/kubedeploy/internal/infra/shutdown"
)

const defaultMetricsPort = "9090"

var ErrMetricsServerNotReady = errors.New("metrics server is not ready")

// MetricsServer serves Prometheus metrics on a dedicated port.
type MetricsServer struct {
	*listener

	gatherer   prometheus.Gatherer
	registerer prometheus.Registerer
}

// NewMetricsServer serves the default registry on GET /metrics.
func NewMetricsServer(logger *slog.Logger, port string) *MetricsServer {
	if port == "" {
		port = defaultMetricsPort
	}

	return &MetricsServer{
		listener:   newListener(logger, "metrics-server", port),
		gatherer:   prometheus.DefaultGatherer,
		registerer: prometheus.DefaultRegisterer,
	}
}

var _ shutdown.Shutdowner = (*MetricsServer)(nil)

// Ping returns nil once the listener is accepting connections.
func (s *MetricsServer) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ready:
		return nil
	default:
		return ErrMetricsServerNotReady
	}
}

// PingerCritical keeps a lost metrics listener from failing liveness.
func (s *MetricsServer) PingerCritical() bool {
	return false
}

func (s *MetricsServer) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Method(http.MethodGet, "/metrics", promhttp.InstrumentMetricHandler(
		s.registerer,
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}),
	))

	return router
}

func (s *MetricsServer) Start(ctx context.Context) error {
	return s.serve(ctx, s.Handler())
}
