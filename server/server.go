// Package server exposes share resolution over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"teraresolve/internal"
	"teraresolve/utils"
)

const shutdownTimeout = 10 * time.Second

// Server serves the resolution API
type Server struct {
	cfg       *internal.Config
	resolver  internal.ShareResolver
	validator *utils.URLValidator
	limiter   *RateLimiter
}

// New creates a server resolving through resolver
func New(cfg *internal.Config, resolver internal.ShareResolver) *Server {
	trusted, err := ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		internal.LogWarn("Ignoring trusted proxies: %v", err)
		trusted = nil
	}

	return &Server{
		cfg:       cfg,
		resolver:  resolver,
		validator: utils.NewURLValidator(cfg.AllowedDomains),
		limiter:   NewRateLimiter(cfg.RateLimitRPM, trusted),
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery)
	r.Use(Logging)
	r.Use(CORS(s.cfg.CORSOrigins))

	r.Get("/", s.home)
	r.Get("/health", health)
	r.Get("/metrics", promhttp.HandlerFor(internal.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	r.With(s.limiter.Handler).Get("/api", s.resolve)

	return r
}

// Run listens on the configured port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		internal.LogInfo("Server listening on %s", listener.Addr())
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	internal.LogInfo("Server stopped")
	return nil
}
