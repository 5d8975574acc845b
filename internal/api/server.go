// Package api provides the HTTP API server and handlers for Tally backups.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tallyapp/tally-server/internal/backup"
	"github.com/tallyapp/tally-server/internal/http/response"
	"github.com/tallyapp/tally-server/internal/ratelimit"
)

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP server.
type Options struct {
	Version        string
	AllowedOrigins []string
	// RateLimit is the number of create/export/import/restore calls allowed per
	// user per minute. Zero disables the limit.
	RateLimit int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store   Pinger
	backups *backup.BackupService
	router  *chi.Mux
	api     huma.API
	limiter *ratelimit.KeyedRateLimiter
	version string
	logger  *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(st Pinger, backups *backup.BackupService, tokens TokenVerifier, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		store:   st,
		backups: backups,
		router:  chi.NewRouter(),
		version: opts.Version,
		logger:  logger,
	}
	if opts.RateLimit > 0 {
		s.limiter = ratelimit.PerMinute(opts.RateLimit)
	}

	s.setupMiddleware(tokens, opts.AllowedOrigins)

	humaConfig := huma.DefaultConfig("Tally API", opts.Version)
	// Exported backup documents are returned verbatim, without a $schema member.
	humaConfig.CreateHooks = nil
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "PASETO",
		},
	}
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerBackupRoutes()

	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.NotFound(w, "Route not found", logger)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.MethodNotAllowed(w, "Method not allowed", logger)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API returns the underlying huma API.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// setupMiddleware configures middleware stack. It must run before any route is registered.
func (s *Server) setupMiddleware(tokens TokenVerifier, origins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(recoverer(s.logger))
	if len(origins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	s.router.Use(authMiddleware(tokens))
	s.router.Use(requestLogger(s.logger))
}
