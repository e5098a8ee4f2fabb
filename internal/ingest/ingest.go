package ingest

import (
	"context"
	"time"

	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/logger"
	"github.com/pfrederiksen/city-events/internal/metrics"
	"github.com/pfrederiksen/city-events/internal/scraper"
	"github.com/pfrederiksen/city-events/internal/storage"
)

// Result reports the outcome of one scraper within a run
type Result struct {
	ScraperName    string   `json:"name" yaml:"name"`
	Success        bool     `json:"success" yaml:"success"`
	EventsFound    int      `json:"eventsFound" yaml:"events_found"`
	EventsInserted int      `json:"eventsInserted" yaml:"events_inserted"`
	Errors         []string `json:"errors" yaml:"errors"`
}

// Summary aggregates the results of a run
type Summary struct {
	TotalScrapers       int      `json:"totalScrapers" yaml:"total_scrapers"`
	SuccessfulScrapers  int      `json:"successfulScrapers" yaml:"successful_scrapers"`
	TotalEventsFound    int      `json:"totalEventsFound" yaml:"total_events_found"`
	TotalEventsInserted int      `json:"totalEventsInserted" yaml:"total_events_inserted"`
	Scrapers            []Result `json:"scrapers" yaml:"scrapers"`
}

// Summarize reduces a run's results into totals
func Summarize(results []Result) Summary {
	s := Summary{
		TotalScrapers: len(results),
		Scrapers:      results,
	}
	if s.Scrapers == nil {
		s.Scrapers = []Result{}
	}
	for _, r := range results {
		s.TotalEventsFound += r.EventsFound
		s.TotalEventsInserted += r.EventsInserted
		if r.Success {
			s.SuccessfulScrapers++
		}
	}
	return s
}

// AllSucceeded reports whether every scraper in the run succeeded
func (s Summary) AllSucceeded() bool {
	return s.SuccessfulScrapers == s.TotalScrapers
}

// Runner orchestrates scrapers and persistence
type Runner struct {
	scrapers []scraper.Scraper
	store    storage.EventStore
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Runner
type Option func(*Runner)

// WithMetrics records per-source counters on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithClock sets the function used for insert timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a runner over a fixed list of scrapers
func NewRunner(scrapers []scraper.Scraper, store storage.EventStore, opts ...Option) *Runner {
	r := &Runner{
		scrapers: scrapers,
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scrapers returns the configured scrapers in run order
func (r *Runner) Scrapers() []scraper.Scraper {
	return r.scrapers
}

// Run processes every scraper sequentially and returns one Result per scraper,
// in configuration order. A failing scraper does not stop the run.
func (r *Runner) Run(ctx context.Context) []Result {
	logger.Info("Starting event scraping", logger.Fields{"scrapers": len(r.scrapers)})

	results := make([]Result, 0, len(r.scrapers))
	for _, sc := range r.scrapers {
		results = append(results, r.runScraper(ctx, sc))
	}

	summary := Summarize(results)
	logger.Info("Scraping summary", logger.Fields{
		"successful_scrapers": summary.SuccessfulScrapers,
		"total_scrapers":      summary.TotalScrapers,
		"events_found":        summary.TotalEventsFound,
		"events_inserted":     summary.TotalEventsInserted,
	})

	return results
}

func (r *Runner) runScraper(ctx context.Context, sc scraper.Scraper) Result {
	source := sc.SourceName()
	result := Result{
		ScraperName: source,
		Errors:      []string{},
	}

	logger.Info("Scraping events", logger.Fields{"source": source})

	start := time.Now()
	events, err := sc.FetchEvents(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		logger.Error("Error scraping source", logger.Fields{"source": source}, err)
		r.observeRun(source, false)
		return result
	}

	result.EventsFound = len(events)
	if r.metrics != nil {
		r.metrics.ObserveFetch(source, time.Since(start), len(events))
	}

	if len(events) == 0 {
		logger.Warn("No events found", logger.Fields{"source": source})
		result.Success = true
		r.observeRun(source, true)
		return result
	}

	result.EventsInserted = r.insertEvents(ctx, source, events)
	result.Success = true
	r.observeRun(source, true)

	logger.Info("Scraper finished", logger.Fields{
		"source":          source,
		"events_found":    result.EventsFound,
		"events_inserted": result.EventsInserted,
	})

	return result
}

// insertEvents writes the events that are not already stored and returns how
// many were inserted. Invalid events and lookup or insert failures are logged
// and skipped.
func (r *Runner) insertEvents(ctx context.Context, source string, events []*event.Event) int {
	inserted := 0

	for _, evt := range events {
		fields := logger.Fields{"source": source, "title": evt.Title, "start_date": evt.StartDate}

		if err := evt.Validate(); err != nil {
			logger.Warn("Skipping invalid event", fields)
			r.countFailure(source)
			continue
		}

		existing, err := r.store.FindExisting(ctx, evt.Source, evt.Title, evt.StartDate)
		if err != nil {
			logger.Error("Error processing event", fields, err)
			r.countFailure(source)
			continue
		}
		if existing != nil {
			logger.Debug("Skipping duplicate event", fields)
			if r.metrics != nil {
				r.metrics.IncDuplicate(source)
			}
			continue
		}

		now := r.now()
		rec := *evt
		rec.CreatedAt = now
		rec.UpdatedAt = now

		if _, err := r.store.Insert(ctx, &rec); err != nil {
			logger.Error("Error inserting event", fields, err)
			r.countFailure(source)
			continue
		}

		inserted++
		logger.Debug("Inserted event", fields)
		if r.metrics != nil {
			r.metrics.IncInserted(source)
		}
	}

	return inserted
}

func (r *Runner) observeRun(source string, success bool) {
	if r.metrics != nil {
		r.metrics.ObserveRun(source, success)
	}
}

func (r *Runner) countFailure(source string) {
	if r.metrics != nil {
		r.metrics.IncInsertFailure(source)
	}
}
