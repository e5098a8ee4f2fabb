// Package server exposes the ingestion pipeline and stored events over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pfrederiksen/city-events/internal/config"
	"github.com/pfrederiksen/city-events/internal/ingest"
	"github.com/pfrederiksen/city-events/internal/logger"
	"github.com/pfrederiksen/city-events/internal/metrics"
	"github.com/pfrederiksen/city-events/internal/runlock"
	"github.com/pfrederiksen/city-events/internal/storage"
)

const (
	shutdownTimeout = 15 * time.Second
	// sampleSize is how many events /api/test-scraper returns per source
	sampleSize = 3
)

// Server serves the events API. At most one ingestion run executes at a time.
type Server struct {
	store   storage.Store
	runner  *ingest.Runner
	lock    runlock.Locker
	cfg     *config.Config
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Server
type Option func(*Server)

// WithConfig enables the /api/test-env diagnostics
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) {
		s.cfg = cfg
	}
}

// WithRunLock replaces the default in-process run lock
func WithRunLock(l runlock.Locker) Option {
	return func(s *Server) {
		s.lock = l
	}
}

// WithMetrics serves m on /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock sets the function used for response timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a server over a store and a runner
func New(store storage.Store, runner *ingest.Runner, opts ...Option) *Server {
	s := &Server{
		store:  store,
		runner: runner,
		lock:   runlock.NewLocal(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router configures all routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/scrape-events", s.handleScrapeEvents)

		r.Get("/events", s.handleListEvents)
		r.Get("/events/calendar.ics", s.handleEventsCalendar)
		r.Get("/events/{id}", s.handleGetEvent)
		r.Get("/events/{id}/calendar.ics", s.handleEventCalendar)

		r.Get("/test-scraper", s.handleTestScraper)
		r.Get("/test-env", s.handleTestEnv)
		r.Get("/test-db", s.handleTestDB)
	})

	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", logger.Fields{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed to start: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("HTTP server stopping", logger.Fields{"addr": addr})
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server failed to stop: %w", err)
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		logger.Debug("HTTP request", logger.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
	})
}
