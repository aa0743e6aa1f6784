// Package api exposes the surveillance core over a read-only HTTP API.
// External consumers (dashboards, alerting) read books, signals, patterns
// and wallet profiles here; nothing mutates core state through this surface.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"polywatch/internal/book"
	"polywatch/internal/store"
	"polywatch/internal/stream"
	"polywatch/internal/whale"
)

// Config controls the HTTP listener.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Server runs the read-only HTTP API.
type Server struct {
	cfg      Config
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the handlers and routes.
func NewServer(cfg Config, st *store.Store, books *book.Manager, adjuster *whale.Adjuster, processor *stream.Processor, logger *slog.Logger) *Server {
	handlers := NewHandlers(st, books, adjuster, processor, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /api/status", handlers.HandleStatus)
	mux.HandleFunc("GET /api/events", handlers.HandleEvents)
	mux.HandleFunc("GET /api/books/{asset}", handlers.HandleBook)
	mux.HandleFunc("GET /api/signals/{event}", handlers.HandleSignals)
	mux.HandleFunc("GET /api/patterns", handlers.HandlePatterns)
	mux.HandleFunc("GET /api/whales", handlers.HandleWhales)
	mux.HandleFunc("GET /api/whales/{asset}/activity", handlers.HandleWhaleActivity)
	mux.HandleFunc("GET /api/wallets/{address}", handlers.HandleWallet)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Handler returns the routed handler, mainly for embedding and tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
