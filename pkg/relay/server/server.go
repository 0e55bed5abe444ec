// Package server assembles the relay's HTTP server.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/clearline/assist/pkg/relay/config"
	"github.com/clearline/assist/pkg/relay/handlers"
	"github.com/clearline/assist/pkg/relay/mw"
	"github.com/clearline/assist/pkg/relay/sessions"
	"github.com/clearline/assist/pkg/relay/upstream"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	dialer   upstream.Dialer
	tracker  *sessions.Tracker
	draining atomic.Bool

	httpServer *http.Server
}

func New(cfg config.Config, dialer upstream.Dialer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		dialer:  dialer,
		tracker: sessions.NewTracker(),
	}

	s.routes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{
		Sessions: s.tracker,
		Draining: &s.draining,
	})
	s.mux.Handle("/v1/assist", handlers.AssistHandler{
		Config:   s.cfg,
		Dialer:   s.dialer,
		Logger:   s.logger,
		Sessions: s.tracker,
		Draining: &s.draining,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// ListenAndServe blocks until the server stops. A nil error is returned on
// graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("relay listening", "addr", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the server: new sessions are refused, live ones are
// cancelled, and we wait up to the grace period for them to unwind before
// the listener closes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	s.tracker.CancelAll()

	grace, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGracePeriod)
	defer cancel()
	if err := s.tracker.Wait(grace); err != nil {
		s.logger.Warn("sessions did not drain in time", "remaining", s.tracker.Len())
	}
	return s.httpServer.Shutdown(ctx)
}
