// Package apiserver exposes the control-plane HTTP API: start/stop a
// recording, list recording history, and stream its lifecycle events as
// newline-delimited JSON. Routing is chi, operations are registered through
// huma for generated OpenAPI docs.
package apiserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/hlsrec/internal/apiserver/middleware"
	"github.com/jmylchreest/hlsrec/internal/config"
)

// Server is the control-plane HTTP server.
type Server struct {
	cfg        config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds a Server with middleware and a Huma API registered on
// cfg's address. version is surfaced in the generated OpenAPI document.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORSWithOrigins(cfg.CORSOrigins))
	router.Use(middleware.SkipCompressionForEvents(chimiddleware.Compress(5)))

	humaConfig := huma.DefaultConfig("hlsrec API", version)
	humaConfig.Info.Description = "HLS live/VOD recording control plane"

	api := humachi.New(router, humaConfig)

	return &Server{cfg: cfg, router: router, api: api, logger: logger}
}

// API returns the Huma API for registering operations.
func (s *Server) API() huma.API { return s.api }

// Router returns the chi router, for registering raw (non-Huma) routes such
// as the events stream.
func (s *Server) Router() *chi.Mux { return s.router }

// Start begins serving and blocks until the server stops or fails.
func (s *Server) Start() error {
	addr := s.cfg.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting control-plane HTTP server", slog.String("address", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting up to cfg.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down control-plane HTTP server", slog.Duration("timeout", s.cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	s.logger.Info("control-plane HTTP server stopped")
	return nil
}

// ListenAndServe starts the server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
