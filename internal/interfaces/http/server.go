// Package http exposes the dashboard/audit surface: health, recent
// snapshots, per-symbol stats, scheduler status, and Prometheus metrics.
// Grounded on the teacher's Server/ServerConfig/middleware chain, with
// request logging moved from log.Printf onto the project's zerolog
// logger and a /metrics route added for the Prometheus registry.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/strikerun/strikerun/internal/interfaces/http/handlers"
)

// Config configures the dashboard HTTP server.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// DefaultConfig returns conservative timeouts for local development.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RequestTimeout:  5 * time.Second,
	}
}

// Server wraps the mux router and underlying http.Server.
type Server struct {
	cfg    Config
	router *mux.Router
	srv    *http.Server
	h      *handlers.Handlers
	log    zerolog.Logger
}

// NewServer builds a Server bound to h, probing port availability up front
// the way the teacher's NewServer does.
func NewServer(cfg Config, h *handlers.Handlers, log zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("http: address %s unavailable: %w", cfg.Addr, err)
	}
	ln.Close()

	s := &Server{cfg: cfg, router: mux.NewRouter(), h: h, log: log}
	s.setupRoutes()
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/health", s.h.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/api/health", s.h.Health).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/api/candles/{symbol}", s.h.Candles).Methods(http.MethodGet)
	api.HandleFunc("/api/levels/{symbol}", s.h.Levels).Methods(http.MethodGet)
	api.HandleFunc("/api/stats/{symbol}", s.h.Stats).Methods(http.MethodGet)

	// Pre-spec routes, kept for dashboard backward-compatibility.
	api.HandleFunc("/candidates/{symbol}", s.h.Recent).Methods(http.MethodGet)
	api.HandleFunc("/explain/{symbol}", s.h.Recent).Methods(http.MethodGet)
	api.HandleFunc("/regime/{symbol}", s.h.Status).Methods(http.MethodGet)
	api.HandleFunc("/regime", s.h.Status).Methods(http.MethodGet)
	api.HandleFunc("/stats/{symbol}", s.h.Stats).Methods(http.MethodGet)

	s.router.HandleFunc("/ws/stream", s.h.StreamTicks)

	s.router.NotFoundHandler = http.HandlerFunc(s.h.NotFound)
}

// Start begins serving; it blocks until the server stops or errors.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http: server starting")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, bounded by cfg.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// Address reports the configured listen address.
func (s *Server) Address() string { return s.cfg.Addr }
