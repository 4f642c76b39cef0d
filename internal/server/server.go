package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vendorportal/core/internal/config"
)

// Background is a listener that runs alongside the HTTP server and stops with
// it, such as the gRPC health server.
type Background interface {
	Serve() error
	Stop()
}

type Server struct {
	httpServer *http.Server
	background []Background
}

type Option func(*Server)

func WithBackground(b Background) Option {
	return func(s *Server) { s.background = append(s.background, b) }
}

func New(cfg config.ServerConfig, handler http.Handler, opts ...Option) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves until SIGINT/SIGTERM or a listener error, then shuts every
// listener down.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	errCh := make(chan error, 1+len(s.background))

	go func() {
		slog.Info("starting server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	for _, b := range s.background {
		go func(b Background) {
			if err := b.Serve(); err != nil {
				errCh <- err
			}
		}(b)
	}

	var runErr error
	select {
	case err := <-errCh:
		runErr = fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		slog.Info("shutting down server", "signal", sig)
	}

	for _, b := range s.background {
		b.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return runErr
}
