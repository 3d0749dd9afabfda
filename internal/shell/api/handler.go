// Package api provides read-only HTTP handlers for inspecting environments.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/envup/envup/internal/core/manifest"
	"github.com/envup/envup/internal/core/topology"
	"github.com/envup/envup/internal/shell/runtime"
	"github.com/envup/envup/internal/shell/state"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	store  state.Store
	client runtime.Client
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s state.Store, c runtime.Client, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		store:  s,
		client: c,
		logger: l,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/environments", func(r chi.Router) {
			r.Get("/", h.handleListEnvironments)
			r.Get("/{name}", h.handleGetEnvironment)
			r.Get("/{name}/plan", h.handleGetPlan)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	if _, err := h.store.ListEnvironments(r.Context()); err != nil {
		checks["database"] = "failed"
		ready = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.client.Ping(); err != nil {
		checks["docker"] = "failed"
		ready = false
	} else {
		checks["docker"] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Environment Handlers
// =============================================================================

func (h *Handler) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	envs, err := h.store.ListEnvironments(r.Context())
	if err != nil {
		h.logger.Error("list environments failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list environments", "internal_error")
		return
	}

	resp := ListEnvironmentsResponse{
		Environments: make([]EnvironmentResponse, 0, len(envs)),
		Total:        len(envs),
	}
	for _, env := range envs {
		resp.Environments = append(resp.Environments, environmentToResponse(&env))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	env, err := h.store.GetEnvironment(r.Context(), name)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "environment not found", "environment_not_found")
			return
		}
		h.logger.Error("get environment failed", "name", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get environment", "internal_error")
		return
	}

	containers, err := h.store.ListContainers(r.Context(), env.ID)
	if err != nil {
		h.logger.Error("list containers failed", "name", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get environment", "internal_error")
		return
	}

	resp := EnvironmentDetailResponse{
		EnvironmentResponse: environmentToResponse(env),
		Containers:          make([]ContainerResponse, 0, len(containers)),
	}
	for _, c := range containers {
		cr := ContainerResponse{
			Service:     c.Service,
			Name:        c.Name,
			ContainerID: c.ContainerID,
		}
		// Live status is best effort; a removed container still shows up
		// in the record with an empty status.
		if info, err := h.client.InspectContainer(c.ContainerID); err == nil {
			cr.Status = string(info.Status)
			cr.Health = info.Health
		}
		resp.Containers = append(resp.Containers, cr)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	env, err := h.store.GetEnvironment(r.Context(), name)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "environment not found", "environment_not_found")
			return
		}
		h.logger.Error("get environment failed", "name", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get environment", "internal_error")
		return
	}

	parsed, err := manifest.Parse(env.Name, env.Manifest)
	if err != nil {
		h.logger.Error("stored manifest no longer parses", "name", name, "error", err)
		h.writeError(w, http.StatusUnprocessableEntity, "stored manifest is invalid: "+err.Error(), "invalid_manifest")
		return
	}

	// References to the external source were already baked into the
	// containers at activation time; replaying the plan uses empty options
	// and reports what could not be resolved.
	plan, err := topology.Resolve(parsed, topology.ResolveOptions{})
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "manifest does not resolve: "+err.Error(), "resolution_error")
		return
	}

	h.writeJSON(w, http.StatusOK, PlanResponse{Plan: plan})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func environmentToResponse(env *state.Environment) EnvironmentResponse {
	return EnvironmentResponse{
		ID:        env.ID,
		Name:      env.Name,
		Status:    string(env.Status),
		Network:   env.NetworkName,
		CreatedAt: env.CreatedAt,
		UpdatedAt: env.UpdatedAt,
	}
}
