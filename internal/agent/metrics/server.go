package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP server exposing /metrics, with the logrus entry this
// system threads through every component in place of a slog logger.
type Server struct {
	addr   string
	path   string
	log    *logrus.Entry
	server *http.Server
}

// NewServer creates a metrics server bound to addr, serving path (default
// "/metrics").
func NewServer(addr, path string, log *logrus.Entry) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{addr: addr, path: path, log: log}
}

// Start begins serving in the background; it returns once the listener is
// configured, not once it's accepting (a fire-and-log goroutine pattern).
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.WithField("addr", s.addr).Info("starting metrics server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("metrics server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	s.log.Info("metrics server stopped")
	return nil
}
