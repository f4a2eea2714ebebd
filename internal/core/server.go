// Package core provides the API chassis for the Tableline usage gatekeeper:
// a chi router with the cross-cutting middleware chain (recovery, request ID,
// logging, security headers), the JSON response/error helpers, API-key
// authentication, and the health endpoint. Domain handlers mount their own
// routes through registrar functions, keeping core free of handler imports.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tableline/internal/config"
)

// defaultRequestTimeout is the soft deadline applied to request contexts.
const defaultRequestTimeout = 29 * time.Second

// RouteRegistrar mounts a group of domain routes on the router. The
// application entry point supplies registrars so core never imports handler
// packages.
type RouteRegistrar func(r chi.Router)

// Server wires the router, configuration, and shared dependencies for the
// gatekeeper API.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	// HealthProbes are checked by GET /health.
	HealthProbes []HealthProbe

	// PublicRoutes are mounted without API-key auth (webhook endpoints carry
	// their own provider authentication).
	PublicRoutes []RouteRegistrar

	// AuthedRoutes are mounted behind APIKeyAuth.
	AuthedRoutes []RouteRegistrar

	// Keys backs the API-key auth middleware.
	Keys APIKeyStore

	router  *chi.Mux
	closers []func() error
}

// NewServer creates a Server. Routes are mounted separately with MountRoutes
// after the caller has populated the registrar slices.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// MountRoutes registers the global middleware chain and all routes. Middleware
// order matters: Recoverer is outermost so every panic is caught; RequestID
// runs before the logger so log lines carry the correlation ID.
func (s *Server) MountRoutes() {
	s.router.Use(Recoverer(s.Logger))
	s.router.Use(Timeout(defaultRequestTimeout))
	s.router.Use(RequestID)
	s.router.Use(SecurityHeaders)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.PublicRoutes {
			registrar(r)
		}

		r.Group(func(r chi.Router) {
			if s.Keys != nil {
				r.Use(APIKeyAuth(s.Keys, s.Logger))
			}
			for _, registrar := range s.AuthedRoutes {
				registrar(r)
			}
		})
	})
}

// Handler returns the router for http.ListenAndServe or the Lambda adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup function run during Shutdown, e.g. closing
// the database pool.
func (s *Server) OnShutdown(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Shutdown runs registered cleanup functions. The first failure is returned;
// remaining closers still run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, closer := range s.closers {
		if err := closer(); err != nil {
			s.Logger.Error("shutdown cleanup failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return firstErr
}
