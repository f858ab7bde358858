package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skillcoder/kubedeploy/internal/infra/appstate"
	"github.com/skillcoder/kubedeploy/internal/infra/shutdown"
)

// Server is the deploy API with the probe endpoints.
type Server struct {
	*listener

	logger   *slog.Logger
	appState appstater
	renderer renderer
	observer statusObserver
}

// New creates a new HTTP server instance
func New(
	logger *slog.Logger,
	appState appstater,
	renderer renderer,
	observer statusObserver,
	port string,
) *Server {
	if port == "" {
		port = defaultPort
	}

	return &Server{
		listener: newListener(logger, "http-server", port),
		logger:   logger,
		appState: appState,
		renderer: renderer,
		observer: observer,
	}
}

var _ shutdown.Shutdowner = (*Server)(nil)

// Handler builds the router with the probe and API routes.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/-/healthz", appstate.HandleHealthz(s.logger, s.appState))
	router.Get("/-/readyz", appstate.HandleReadyz(s.logger, s.appState))
	router.Get("/-/status", appstate.HandleStatus(s.logger, s.appState))

	router.Route("/v1/services/{service}/instances/{instance}", func(r chi.Router) {
		r.Get("/status", s.handleDeployStatus)
		r.Get("/manifest", s.handleManifest)
		r.Get("/autoscaling", s.handleAutoscaling)
		r.Get("/pods", s.handlePods)
	})

	return router
}

// Start binds the API port and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	return s.serve(ctx, s.Handler())
}
