// Package web provides the HTTP API for ledger uploads, undo and player
// listings.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/putr/internal/config"
	"github.com/JonMunkholm/putr/internal/core"
	mw "github.com/JonMunkholm/putr/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AuditReader lists recent audit entries.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]core.AuditEntry, error)
}

// Server is the HTTP server for the putr API.
type Server struct {
	service *core.Service
	audit   AuditReader
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAuditReader enables GET /api/audit.
func WithAuditReader(a AuditReader) Option {
	return func(s *Server) { s.audit = a }
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	}
	s.router.Use(securityHeaders)
	s.router.Use(mw.RequestMetadata)

	if s.cfg.Rate.Enabled {
		s.router.Use(mw.NewRateLimiter(s.cfg.Rate.RequestsPerMinute).Middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.Security.APIKeys, false))

		// Reads
		r.Get("/players", s.handleListPlayers)
		r.Get("/players/{key}/recent", s.handleRecentGames)
		r.Get("/backups", s.handleListBackups)
		r.Get("/status", s.handleStatus)
		r.Get("/undo", s.handleUndoPreview)
		r.Get("/undo/{snapshotID}/safety", s.handleUndoSafety)
		r.Post("/results", s.handleResults)
		if s.audit != nil {
			r.Get("/audit", s.handleAuditLog)
		}

		// Mutations
		r.Group(func(r chi.Router) {
			r.Use(mw.APIKeyAuth(s.cfg.Security.APIKeys, s.cfg.Security.RequireAPIKey))
			if s.cfg.Rate.Enabled {
				r.Use(mw.NewRateLimiter(s.cfg.Rate.UploadLimit).Middleware)
			}
			r.Post("/uploads", s.handleUpload)
			r.Post("/undo", s.handleUndo)
			r.Post("/undo/{snapshotID}", s.handleUndo)
			r.Post("/reset", s.handleReset)
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

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then waits for a running upload or
// undo so its commit is not cut off.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if derr := s.service.WaitForDrain(ctx); derr != nil {
		slog.Error("operation still running at shutdown", "error", derr)
	}
	return err
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
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "path", r.URL.Path, "error", err, "request_id", middleware.GetReqID(r.Context()))
	}
}

func nowUTC() time.Time { return time.Now().UTC() }
