package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"sigs.k8s.io/yaml"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
)

type errorResponse struct {
	Error string `json:"error"`
}

type manifestResponse struct {
	Kind             compiler.Kind `json:"kind"`
	ConfigHash       string        `json:"config_hash"`
	Manifest         any           `json:"manifest"`
	Autoscaler       any           `json:"autoscaler,omitempty"`
	DisruptionBudget any           `json:"disruption_budget,omitempty"`
}

func instanceParams(r *http.Request) (string, string) {
	return chi.URLParam(r, "service"), chi.URLParam(r, "instance")
}

func (s *Server) handleDeployStatus(w http.ResponseWriter, r *http.Request) {
	service, instance := instanceParams(r)

	app, err := s.observer.DeployStatusQuery(r.Context(), service, instance)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if app == nil {
		s.writeError(w, r, fmt.Errorf("%w: %s.%s", ErrInstanceNotFound, service, instance))

		return
	}

	s.writeJSON(w, r, http.StatusOK, app)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	service, instance := instanceParams(r)

	format := r.URL.Query().Get("format")
	if format != "" && format != formatYAML && format != "json" {
		s.writeError(w, r, fmt.Errorf("%w: %q", ErrInvalidFormat, format))

		return
	}

	res, err := s.renderer.RenderQuery(r.Context(), service, instance)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	resp := manifestResponse{
		Kind:       res.Manifest.Kind(),
		ConfigHash: res.ConfigHash,
		Manifest:   res.Manifest.Object(),
	}

	if res.Autoscaler != nil {
		resp.Autoscaler = res.Autoscaler
	}

	if res.DisruptionBudget != nil {
		resp.DisruptionBudget = res.DisruptionBudget
	}

	if format != formatYAML {
		s.writeJSON(w, r, http.StatusOK, resp)

		return
	}

	raw, err := yaml.Marshal(resp)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("marshal manifest yaml: %w", err))

		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(raw); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to write manifest response", "reason", err)
	}
}

func (s *Server) handleAutoscaling(w http.ResponseWriter, r *http.Request) {
	service, instance := instanceParams(r)

	res, err := s.renderer.RenderQuery(r.Context(), service, instance)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if res.Autoscaler == nil {
		w.WriteHeader(http.StatusNoContent)

		return
	}

	policy, err := compiler.AutoscalingPolicyJSON(res.Autoscaler)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte(policy)); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to write autoscaling response", "reason", err)
	}
}

func (s *Server) handlePods(w http.ResponseWriter, r *http.Request) {
	service, instance := instanceParams(r)

	tailLines := defaultTailLines

	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxTailLines {
			s.writeError(w, r, fmt.Errorf("%w: %q", ErrInvalidTailLines, raw))

			return
		}

		tailLines = n
	}

	out, err := s.observer.InstanceStatusQuery(r.Context(), service, instance, tailLines)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode response",
			"traceID", middleware.GetReqID(r.Context()),
			"reason", err,
		)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)

	logger := s.logger.With("traceID", middleware.GetReqID(r.Context()), "path", r.URL.Path)
	if code >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "code", code, "reason", err)
	} else {
		logger.DebugContext(r.Context(), "request rejected", "code", code, "reason", err)
	}

	s.writeJSON(w, r, code, errorResponse{Error: err.Error()})
}

func statusCode(err error) int {
	var (
		invalid     invalidConfig
		missing     notFound
		unavailable upstreamUnavailable
	)

	switch {
	case errors.Is(err, ErrInvalidTailLines), errors.Is(err, ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, ErrInstanceNotFound), errors.As(err, &missing):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
