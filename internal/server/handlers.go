package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pfrederiksen/city-events/internal/calendar"
	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/ingest"
	"github.com/pfrederiksen/city-events/internal/logger"
	"github.com/pfrederiksen/city-events/internal/storage"
)

// scrapeResponse is the body of POST /api/scrape-events
type scrapeResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Summary   ingest.Summary `json:"summary"`
	Timestamp string         `json:"timestamp"`
}

func (s *Server) handleScrapeEvents(w http.ResponseWriter, r *http.Request) {
	// A client disconnect must not abort a run halfway through its inserts
	ctx := context.WithoutCancel(r.Context())

	release, ok, err := s.lock.TryLock(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "run lock unavailable: %v", err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "a scrape run is already in progress")
		return
	}
	defer func() {
		if err := release(ctx); err != nil {
			logger.Warn("Failed to release run lock", logger.Fields{"error": err.Error()})
		}
	}()

	logger.Info("API: starting event scraping", nil)
	results := s.runner.Run(ctx)

	writeJSON(w, http.StatusOK, scrapeResponse{
		Success:   true,
		Message:   "Event scraping completed successfully",
		Summary:   ingest.Summarize(results),
		Timestamp: s.now().Format(time.RFC3339),
	})
}

type listResponse struct {
	Events []*event.PersistedEvent `json:"events"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	events, err := s.store.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list events: %v", err)
		return
	}

	total, err := s.store.Count(r.Context(), opts.City)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count events: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Events: events,
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	evt, ok := s.loadEvent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (s *Server) handleEventCalendar(w http.ResponseWriter, r *http.Request) {
	evt, ok := s.loadEvent(w, r)
	if !ok {
		return
	}

	ics, err := calendar.GenerateICS(evt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate calendar: %v", err)
		return
	}
	writeCalendar(w, calendar.Filename(evt), ics)
}

func (s *Server) handleEventsCalendar(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	events, err := s.store.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list events: %v", err)
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "no events")
		return
	}

	name := "City Events"
	if opts.City != "" {
		name = opts.City + " Events"
	}
	writeCalendar(w, "events.ics", calendar.GenerateBulkICS(events, name))
}

func (s *Server) loadEvent(w http.ResponseWriter, r *http.Request) (*event.PersistedEvent, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	evt, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "load event: %v", err)
		return nil, false
	}
	return evt, true
}

type scraperCheck struct {
	City        string         `json:"city"`
	SourceName  string         `json:"sourceName"`
	EventsFound int            `json:"eventsFound"`
	Sample      []*event.Event `json:"sample"`
	Error       string         `json:"error,omitempty"`
}

// handleTestScraper fetches every source without writing anything
func (s *Server) handleTestScraper(w http.ResponseWriter, r *http.Request) {
	scrapers := s.runner.Scrapers()
	checks := make([]scraperCheck, 0, len(scrapers))
	success := true

	for _, sc := range scrapers {
		check := scraperCheck{
			City:       sc.City(),
			SourceName: sc.SourceName(),
			Sample:     []*event.Event{},
		}

		events, err := sc.FetchEvents(r.Context())
		if err != nil {
			success = false
			check.Error = err.Error()
			checks = append(checks, check)
			continue
		}

		check.EventsFound = len(events)
		if len(events) > sampleSize {
			events = events[:sampleSize]
		}
		check.Sample = append(check.Sample, events...)
		checks = append(checks, check)
	}

	status := http.StatusOK
	message := "Scraper test completed successfully"
	if !success {
		status = http.StatusInternalServerError
		message = "Scraper test failed"
	}

	writeJSON(w, status, map[string]any{
		"success":  success,
		"message":  message,
		"scrapers": checks,
	})
}

func (s *Server) handleTestEnv(w http.ResponseWriter, _ *http.Request) {
	if s.cfg == nil {
		writeError(w, http.StatusInternalServerError, "configuration not loaded")
		return
	}

	check := s.cfg.Check()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": check.Configured,
		"env":     check,
	})
}

func (s *Server) handleTestDB(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Database connection failed",
			"error":   err.Error(),
		})
		return
	}

	count, err := s.store.Count(r.Context(), "")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "Database schema test failed",
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Database connection successful",
		"eventCount": count,
	})
}

func listOptions(r *http.Request) storage.ListOptions {
	q := r.URL.Query()
	return storage.ListOptions{
		City:   q.Get("city"),
		Limit:  parseIntDefault(q.Get("limit"), storage.DefaultListLimit),
		Offset: parseIntDefault(q.Get("offset"), 0),
	}.Normalize()
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": strings.TrimSpace(fmt.Sprintf(format, args...)),
			"status":  status,
		},
	})
}

func writeCalendar(w http.ResponseWriter, filename, ics string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics))
}
