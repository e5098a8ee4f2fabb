package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/logger"
)

const (
	EventsPath = "/events"
	// Some listing sites reject requests without a browser User-Agent
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	Timeout   = 10 * time.Second
)

// Scraper fetches candidate events from one source
type Scraper interface {
	City() string
	SourceName() string
	FetchEvents(ctx context.Context) ([]*event.Event, error)
}

// Source describes one event listing site
type Source struct {
	Name    string `mapstructure:"name" json:"name" yaml:"name"`
	City    string `mapstructure:"city" json:"city" yaml:"city"`
	Region  string `mapstructure:"region" json:"region" yaml:"region"`
	BaseURL string `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
}

// VisitStockton is the default source
var VisitStockton = Source{
	Name:    "Visit Stockton",
	City:    "Stockton",
	Region:  "CA",
	BaseURL: "https://www.visitstockton.org",
}

// PageScraper handles fetching and parsing the events page of a Source
type PageScraper struct {
	source    Source
	client    *http.Client
	userAgent string
	now       func() time.Time
}

// Option configures a PageScraper
type Option func(*PageScraper)

// WithTimeout overrides the HTTP timeout
func WithTimeout(d time.Duration) Option {
	return func(s *PageScraper) {
		s.client.Timeout = d
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(s *PageScraper) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithClock sets the function used to timestamp scraped events
func WithClock(now func() time.Time) Option {
	return func(s *PageScraper) {
		s.now = now
	}
}

// New creates a new PageScraper for the given source
func New(source Source, opts ...Option) *PageScraper {
	s := &PageScraper{
		source: source,
		client: &http.Client{
			Timeout: Timeout,
		},
		userAgent: UserAgent,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewAll creates one PageScraper per source, in order
func NewAll(sources []Source, opts ...Option) []Scraper {
	scrapers := make([]Scraper, 0, len(sources))
	for _, src := range sources {
		scrapers = append(scrapers, New(src, opts...))
	}
	return scrapers
}

// City returns the municipality the source lists events for
func (s *PageScraper) City() string {
	return s.source.City
}

// SourceName returns the name stored on every event from this source
func (s *PageScraper) SourceName() string {
	return s.source.Name
}

// URL returns the listing page address
func (s *PageScraper) URL() string {
	return strings.TrimRight(s.source.BaseURL, "/") + EventsPath
}

// FetchEvents fetches and parses the events listing page.
// Any transport failure, timeout or non-2xx status is returned as a *FetchError.
func (s *PageScraper) FetchEvents(ctx context.Context) ([]*event.Event, error) {
	url := s.URL()
	logger.Debug("Fetching events", logger.Fields{"source": s.source.Name, "url": url})

	events, err := s.fetch(ctx, url)
	if err != nil {
		logger.Error("Error fetching events", logger.Fields{"source": s.source.Name, "url": url}, err)
		return nil, &FetchError{Source: s.source.Name, URL: url, Err: err}
	}

	logger.Info("Scraped events", logger.Fields{"source": s.source.Name, "count": len(events)})
	return events, nil
}

func (s *PageScraper) fetch(ctx context.Context, url string) ([]*event.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return s.parseEvents(resp.Body)
}

// parseEvents extracts events from HTML
func (s *PageScraper) parseEvents(r io.Reader) ([]*event.Event, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	events := make([]*event.Event, 0)

	doc.Find(containerSelector()).Each(func(i int, sel *goquery.Selection) {
		evt, err := s.extractEvent(i, sel)
		if err != nil {
			fields := logger.Fields{"source": s.source.Name, "index": i, "reason": err.Error()}
			if isSkip(err) {
				logger.Debug("Skipping event element", fields)
			} else {
				logger.Warn("Error parsing event element", fields)
			}
			return
		}
		events = append(events, evt)
	})

	return events, nil
}

// extractEvent builds an Event from one container element. A panic while
// reading the element is reported as an *ExtractionError.
func (s *PageScraper) extractEvent(index int, sel *goquery.Selection) (evt *event.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			evt = nil
			err = &ExtractionError{Index: index, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	title := titleRule.extract(sel)
	if title == "" {
		return nil, &ExtractionError{Index: index, Err: ErrMissingTitle}
	}

	dateText := dateRule.extract(sel)
	if dateText == "" {
		return nil, &ExtractionError{Index: index, Err: ErrMissingDate}
	}

	startDate, ok := event.NormalizeDate(dateText)
	if !ok {
		return nil, &ExtractionError{Index: index, Err: fmt.Errorf("%w: %q", ErrUnparsableDate, dateText)}
	}

	description := descriptionRule.extract(sel)
	location := locationRule.extract(sel)

	return event.NewEvent(
		s.source.City,
		s.source.Region,
		s.source.Name,
		title,
		description,
		startDate,
		location,
		s.now(),
	), nil
}

// isSkip reports whether err is an expected discard rather than a parse failure
func isSkip(err error) bool {
	return errors.Is(err, ErrMissingTitle) ||
		errors.Is(err, ErrMissingDate) ||
		errors.Is(err, ErrUnparsableDate)
}
