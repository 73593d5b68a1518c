// Package api exposes the analysis engine over HTTP. Streamed
// endpoints speak server-sent events; everything else is plain JSON.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alertscope/alertscope/internal/config"
)

// Server wraps the HTTP listener and its lifecycle.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger
	srv    *http.Server
}

func NewServer(cfg config.ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		srv: &http.Server{
			Addr:    cfg.Address,
			Handler: handler,
			// No WriteTimeout: analysis streams stay open for the
			// duration of the pipeline.
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("address", s.cfg.Address))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires, then
// force-closes the rest.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown incomplete, forcing close", slog.String("error", err.Error()))
		_ = s.srv.Close()
	}
}
