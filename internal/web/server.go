// Package web provides the HTTP API and run history page for serve mode.
package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JonMunkholm/poimport/internal/config"
	"github.com/JonMunkholm/poimport/internal/core"
	webmw "github.com/JonMunkholm/poimport/internal/web/middleware"
)

// Server is the HTTP server for serve mode.
type Server struct {
	orch   *core.Orchestrator
	cfg    *config.Config
	log    *zap.Logger
	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance.
func NewServer(orch *core.Orchestrator, cfg *config.Config, log *zap.Logger) *Server {
	s := &Server{
		orch:   orch,
		cfg:    cfg,
		log:    log,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(webmw.WithLogger(s.log))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(webmw.APIKeyAuth(&s.cfg.Security))

		// Event streams outlive the request timeout.
		r.Get("/api/imports/{runID}/events", s.handleImportEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/", s.handleIndex)

			// Run ledger
			r.Get("/api/runs", s.handleListRuns)
			r.Get("/api/runs/{runID}", s.handleGetRun)
			r.Get("/api/mappings/{projectID}", s.handleGetMapping)

			// Background imports
			r.Get("/api/imports", s.handleListImports)
			r.Post("/api/imports/{projectID}", s.handleStartImport)
			r.Get("/api/imports/{runID}", s.handleImportProgress)
			r.Post("/api/imports/{runID}/cancel", s.handleCancelImport)

			// Catalog
			r.Post("/api/catalog", s.handleEnsureCatalog)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
