package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	m := deps.Metrics
	route := func(name string, fn http.HandlerFunc) http.Handler {
		return m.WrapHandler(name, fn)
	}

	// Operational endpoints (no home required)
	router.Method(http.MethodGet, "/health", route("/health", handler.Health))
	router.Method(http.MethodGet, "/ready", route("/ready", handler.Ready))
	router.Method(http.MethodGet, "/metrics", m.Handler())
	router.Method(http.MethodGet, "/config", route("/config", handler.GetConfig))

	// Home scoped routes
	router.Group(func(r chi.Router) {
		r.Use(HomeMiddleware)

		// Event ingestion
		r.Method(http.MethodPost, "/events", route("/events", handler.IngestEvent))

		// Reasoning state
		r.Method(http.MethodGet, "/incidents/{track}", route("/incidents/{track}", handler.GetIncident))
		r.Method(http.MethodGet, "/cooldowns/{camera}/{track}", route("/cooldowns/{camera}/{track}", handler.GetCooldown))

		// Assessment retrieval
		r.Method(http.MethodGet, "/assessments/latest/{track}", route("/assessments/latest/{track}", handler.GetLatestAssessment))
		r.Method(http.MethodGet, "/assessments/{id}", route("/assessments/{id}", handler.GetAssessment))
		r.Method(http.MethodGet, "/tracks/{track}/events", route("/tracks/{track}/events", handler.ListTrackEvents))

		// Context rule management
		r.Method(http.MethodGet, "/context-rules", route("/context-rules", handler.ListContextRules))
		r.Method(http.MethodPost, "/context-rules", route("/context-rules", handler.CreateContextRule))
		r.Method(http.MethodPost, "/context-rules/reload", route("/context-rules/reload", handler.ReloadContextRules))
		r.Method(http.MethodGet, "/context-rules/{id}", route("/context-rules/{id}", handler.GetContextRule))
		r.Method(http.MethodDelete, "/context-rules/{id}", route("/context-rules/{id}", handler.DeleteContextRule))
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
