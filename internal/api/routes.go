package api

import (
	"net/http"

	"go.uber.org/zap"

	"testdeck/internal/auth"
	"testdeck/internal/cfg"
	"testdeck/internal/changeset"
	"testdeck/internal/db"
	"testdeck/internal/model"
	"testdeck/internal/runner"
)

// Handler wraps dependencies for HTTP handlers.
type Handler struct {
	db     *db.DB
	cfg    *cfg.Config
	tokens *auth.TokenService
	engine *changeset.Engine
	runs   *runner.Orchestrator
	log    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(database *db.DB, config *cfg.Config, tokens *auth.TokenService, engine *changeset.Engine, runs *runner.Orchestrator, log *zap.Logger) *Handler {
	return &Handler{
		db:     database,
		cfg:    config,
		tokens: tokens,
		engine: engine,
		runs:   runs,
		log:    log,
	}
}

// NewRouter creates the HTTP router with all routes registered.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Auth (public)
	mux.HandleFunc("POST /api/v1/auth/register", h.Register)
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.RefreshToken)
	mux.Handle("POST /api/v1/auth/logout", h.WithAuth(http.HandlerFunc(h.Logout)))

	// User (authenticated)
	mux.Handle("GET /api/v1/me", h.WithAuth(http.HandlerFunc(h.GetMe)))

	// API Tokens (authenticated)
	mux.Handle("GET /api/v1/tokens", h.WithAuth(http.HandlerFunc(h.ListTokens)))
	mux.Handle("POST /api/v1/tokens", h.WithAuth(http.HandlerFunc(h.CreateToken)))
	mux.Handle("DELETE /api/v1/tokens/{id}", h.WithAuth(http.HandlerFunc(h.DeleteToken)))

	// Scripts (authenticated)
	mux.Handle("POST /api/v1/scripts", Chain(
		http.HandlerFunc(h.CreateScript),
		h.WithAuth,
		RequireScope(model.ScopeScriptWrite),
	))
	mux.Handle("GET /api/v1/scripts", Chain(
		http.HandlerFunc(h.ListScripts),
		h.WithAuth,
		RequireScope(model.ScopeScriptRead),
	))
	mux.Handle("GET /api/v1/scripts/{id}", Chain(
		http.HandlerFunc(h.GetScript),
		h.WithAuth,
		RequireScope(model.ScopeScriptRead),
	))
	mux.Handle("GET /api/v1/scripts/{id}/revisions", Chain(
		http.HandlerFunc(h.ListRevisions),
		h.WithAuth,
		RequireScope(model.ScopeScriptRead),
	))

	// Change-sets (authenticated)
	mux.Handle("POST /api/v1/scripts/{id}/enhance", Chain(
		http.HandlerFunc(h.Enhance),
		h.WithAuth,
		RequireScope(model.ScopeScriptWrite),
	))
	mux.Handle("GET /api/v1/scripts/{id}/changesets", Chain(
		http.HandlerFunc(h.ListChangeSets),
		h.WithAuth,
		RequireScope(model.ScopeScriptRead),
	))
	mux.Handle("POST /api/v1/scripts/{id}/changesets/{cid}/accept", Chain(
		http.HandlerFunc(h.AcceptChangeSet),
		h.WithAuth,
		RequireScope(model.ScopeScriptWrite),
	))
	mux.Handle("POST /api/v1/scripts/{id}/changesets/{cid}/reject", Chain(
		http.HandlerFunc(h.RejectChangeSet),
		h.WithAuth,
		RequireScope(model.ScopeScriptWrite),
	))

	// Test runs (authenticated)
	mux.Handle("POST /api/v1/test-runs", Chain(
		http.HandlerFunc(h.CreateRun),
		h.WithAuth,
		RequireScope(model.ScopeRunWrite),
	))
	mux.Handle("GET /api/v1/test-runs/{id}", Chain(
		http.HandlerFunc(h.GetRun),
		h.WithAuth,
		RequireScope(model.ScopeRunRead),
	))
	mux.Handle("POST /api/v1/test-runs/{id}/cancel", Chain(
		http.HandlerFunc(h.CancelRun),
		h.WithAuth,
		RequireScope(model.ScopeRunWrite),
	))
	mux.Handle("GET /api/v1/test-runs/{id}/watch", Chain(
		http.HandlerFunc(h.WatchRun),
		h.WithAuth,
		RequireScope(model.ScopeRunRead),
	))

	// Insights (authenticated)
	mux.Handle("GET /api/v1/scripts/{id}/insights", Chain(
		http.HandlerFunc(h.ListInsights),
		h.WithAuth,
		RequireScope(model.ScopeScriptRead),
	))

	return mux
}

// ----- Health -----

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.cfg.Version,
	})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	// Check DB is accessible
	if err := h.db.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "not ready",
			Version: h.cfg.Version,
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ready",
		Version: h.cfg.Version,
	})
}
