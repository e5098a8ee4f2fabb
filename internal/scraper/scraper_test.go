package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestScraper(baseURL string, opts ...Option) *PageScraper {
	src := VisitStockton
	src.BaseURL = baseURL
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(src, opts...)
}

func TestFetchEvents(t *testing.T) {
	tests := []struct {
		name        string
		htmlContent string
		statusCode  int
		wantError   bool
		wantEvents  int
	}{
		{
			name: "successful fetch with events",
			htmlContent: `
				<html><body>
					<div class="event-item"><h2>Jazz Night</h2><span class="date">March 5, 2024</span></div>
					<div class="event"><h3>Book Fair</h3><span class="event-date">03/09/2024</span></div>
				</body></html>
			`,
			statusCode: http.StatusOK,
			wantEvents: 2,
		},
		{
			name:       "HTTP error",
			statusCode: http.StatusNotFound,
			wantError:  true,
		},
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			wantError:  true,
		},
		{
			name: "empty page",
			htmlContent: `
				<html><body><p>No events</p></body></html>
			`,
			statusCode: http.StatusOK,
			wantEvents: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != EventsPath {
					t.Errorf("request path = %q, want %q", r.URL.Path, EventsPath)
				}
				if userAgent := r.Header.Get("User-Agent"); !strings.Contains(userAgent, "Mozilla/5.0") {
					t.Errorf("User-Agent = %q, should look like a browser", userAgent)
				}

				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.htmlContent)) //nolint:errcheck
			}))
			defer server.Close()

			scraper := newTestScraper(server.URL)
			events, err := scraper.FetchEvents(context.Background())

			if tt.wantError {
				if err == nil {
					t.Fatal("FetchEvents() expected error, got nil")
				}
				var fetchErr *FetchError
				if !errors.As(err, &fetchErr) {
					t.Fatalf("FetchEvents() error = %T, want *FetchError", err)
				}
				if fetchErr.Source != "Visit Stockton" {
					t.Errorf("FetchError.Source = %q, want Visit Stockton", fetchErr.Source)
				}
				if events != nil {
					t.Errorf("FetchEvents() returned %d events alongside an error", len(events))
				}
				return
			}

			if err != nil {
				t.Fatalf("FetchEvents() unexpected error: %v", err)
			}
			if events == nil {
				t.Fatal("FetchEvents() returned nil slice, want empty slice")
			}
			if len(events) != tt.wantEvents {
				t.Errorf("FetchEvents() returned %d events, want %d", len(events), tt.wantEvents)
			}
		})
	}
}

func TestFetchEvents_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	scraper := newTestScraper(server.URL, WithTimeout(50*time.Millisecond))

	start := time.Now()
	_, err := scraper.FetchEvents(context.Background())
	if err == nil {
		t.Fatal("FetchEvents() expected timeout error, got nil")
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("FetchEvents() error = %T, want *FetchError", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("FetchEvents() took %v, timeout was not enforced", elapsed)
	}
}

func TestFetchEvents_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestScraper(url).FetchEvents(context.Background())

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("FetchEvents() error = %v, want *FetchError", err)
	}
	if !strings.Contains(err.Error(), "Visit Stockton") {
		t.Errorf("error %q should name the source", err.Error())
	}
}

func TestParseEvents_Fixture(t *testing.T) {
	data, err := os.ReadFile("../../testdata/fixtures/visit_stockton_events.html")
	if err != nil {
		t.Fatalf("failed to load test fixture: %v", err)
	}

	s := newTestScraper("https://www.visitstockton.org")
	events, err := s.parseEvents(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("parseEvents failed: %v", err)
	}

	type want struct {
		title, startDate, description, location string
	}
	expected := []want{
		{"Asparagus Festival", "2024-04-26", "Three days of food, music and all things asparagus.", "San Joaquin County Fairgrounds"},
		{"Jazz on the Waterfront", "2024-05-10", "Live jazz at the marina.", "Stockton, CA"},
		{"Ports Opening Day", "2024-04-05", "", "Banner Island Ballpark"},
		{"Stockton Symphony: Spring Gala", "2024-06-08", "", "Bob Hope Theatre, 242 E Main St"},
	}

	if len(events) != len(expected) {
		t.Fatalf("parseEvents() returned %d events, want %d", len(events), len(expected))
	}

	for i, w := range expected {
		evt := events[i]
		if evt.Title != w.title {
			t.Errorf("event %d title = %q, want %q", i, evt.Title, w.title)
		}
		if evt.StartDate != w.startDate {
			t.Errorf("event %d start date = %q, want %q", i, evt.StartDate, w.startDate)
		}
		if evt.Description != w.description {
			t.Errorf("event %d description = %q, want %q", i, evt.Description, w.description)
		}
		if evt.Location != w.location {
			t.Errorf("event %d location = %q, want %q", i, evt.Location, w.location)
		}
		if evt.City != "Stockton" || evt.Source != "Visit Stockton" {
			t.Errorf("event %d city/source = %q/%q", i, evt.City, evt.Source)
		}
		if !evt.CreatedAt.Equal(fixedNow) || !evt.UpdatedAt.Equal(fixedNow) {
			t.Errorf("event %d timestamps = %v/%v, want %v", i, evt.CreatedAt, evt.UpdatedAt, fixedNow)
		}
	}
}

func TestParseEvents_EdgeCases(t *testing.T) {
	tests := []struct {
		name           string
		html           string
		wantEventCount int
		checkEvent     func(*testing.T, string, string, string, string) // title, date, description, location
	}{
		{
			name:           "title and date only",
			html:           `<div class="event-card"><h2>Jazz Night</h2><span class="date">March 5, 2024</span></div>`,
			wantEventCount: 1,
			checkEvent: func(t *testing.T, title, date, description, location string) {
				if title != "Jazz Night" {
					t.Errorf("title = %q, want Jazz Night", title)
				}
				if date != "2024-03-05" {
					t.Errorf("date = %q, want 2024-03-05", date)
				}
				if description != "" {
					t.Errorf("description = %q, want empty", description)
				}
				if location != "Stockton, CA" {
					t.Errorf("location = %q, want Stockton, CA", location)
				}
			},
		},
		{
			name: "missing title does not stop siblings",
			html: `
				<div class="event"><span class="date">March 5, 2024</span></div>
				<div class="event"><h3>Book Fair</h3><span class="date">March 9, 2024</span></div>
			`,
			wantEventCount: 1,
			checkEvent: func(t *testing.T, title, date, description, location string) {
				if title != "Book Fair" {
					t.Errorf("title = %q, want Book Fair", title)
				}
			},
		},
		{
			name: "unparsable date does not stop siblings",
			html: `
				<div class="event-item"><h3>Mystery Event</h3><span class="date">TBD</span></div>
				<div class="event-item"><h3>Book Fair</h3><span class="date">2024-03-09</span></div>
			`,
			wantEventCount: 1,
			checkEvent: func(t *testing.T, title, date, description, location string) {
				if date != "2024-03-09" {
					t.Errorf("date = %q, want 2024-03-09", date)
				}
			},
		},
		{
			name:           "missing date",
			html:           `<div class="event-card"><h3>Art Walk</h3><p>Downtown galleries</p></div>`,
			wantEventCount: 0,
		},
		{
			name: "empty heading falls through to next title selector",
			html: `<div class="event-card"><h1>  </h1><div class="title">Night Market</div><span class="event-date">3/5/2024</span></div>`,
			wantEventCount: 1,
			checkEvent: func(t *testing.T, title, date, description, location string) {
				if title != "Night Market" {
					t.Errorf("title = %q, want Night Market", title)
				}
			},
		},
		{
			name: "selector priority beats document order",
			html: `<div class="event-card">
				<p>Generic paragraph</p>
				<div class="event-description">Specific description</div>
				<h3>Concert</h3><span class="date">March 5, 2024</span>
			</div>`,
			wantEventCount: 1,
			checkEvent: func(t *testing.T, title, date, description, location string) {
				if description != "Specific description" {
					t.Errorf("description = %q, want Specific description", description)
				}
			},
		},
		{
			name: "whitespace is trimmed",
			html: `<div class="event-card">
				<h3>
					Parade
				</h3>
				<span class="date">
					March 5, 2024
				</span>
				<span class="venue">  Weber Point  </span>
			</div>`,
			wantEventCount: 1,
			checkEvent: func(t *testing.T, title, date, description, location string) {
				if title != "Parade" {
					t.Errorf("title = %q, want Parade", title)
				}
				if location != "Weber Point" {
					t.Errorf("location = %q, want Weber Point", location)
				}
			},
		},
		{
			name:           "HTML entities are decoded",
			html:           `<div class="event-card"><h3>Wine &amp; Cheese</h3><span class="date">March 5, 2024</span></div>`,
			wantEventCount: 1,
			checkEvent: func(t *testing.T, title, date, description, location string) {
				if title != "Wine & Cheese" {
					t.Errorf("title = %q, want Wine & Cheese", title)
				}
			},
		},
		{
			name:           "no containers",
			html:           `<div class="news"><h3>Not an event</h3><span class="date">March 5, 2024</span></div>`,
			wantEventCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScraper("https://www.visitstockton.org")
			events, err := s.parseEvents(strings.NewReader(tt.html))

			if err != nil {
				t.Fatalf("parseEvents() error: %v", err)
			}

			if len(events) != tt.wantEventCount {
				t.Errorf("parseEvents() returned %d events, want %d", len(events), tt.wantEventCount)
			}

			if tt.checkEvent != nil && len(events) > 0 {
				evt := events[0]
				tt.checkEvent(t, evt.Title, evt.StartDate, evt.Description, evt.Location)
			}
		})
	}
}

func TestNew(t *testing.T) {
	s := New(VisitStockton)

	if s == nil {
		t.Fatal("New() returned nil")
	}

	if s.client == nil {
		t.Fatal("scraper client is nil")
	}

	if s.client.Timeout != Timeout {
		t.Errorf("client timeout = %v, want %v", s.client.Timeout, Timeout)
	}

	if s.URL() != "https://www.visitstockton.org/events" {
		t.Errorf("scraper url = %q, want %q", s.URL(), "https://www.visitstockton.org/events")
	}

	if s.City() != "Stockton" || s.SourceName() != "Visit Stockton" {
		t.Errorf("City()/SourceName() = %q/%q", s.City(), s.SourceName())
	}
}

func TestNew_Options(t *testing.T) {
	src := VisitStockton
	src.BaseURL = "https://example.com/"
	s := New(src, WithTimeout(time.Second), WithUserAgent("test-agent"), WithUserAgent(""))

	if s.client.Timeout != time.Second {
		t.Errorf("client timeout = %v, want 1s", s.client.Timeout)
	}
	if s.userAgent != "test-agent" {
		t.Errorf("user agent = %q, want test-agent", s.userAgent)
	}
	if s.URL() != "https://example.com/events" {
		t.Errorf("URL() = %q, trailing slash not trimmed", s.URL())
	}
}

func TestNewAll(t *testing.T) {
	lodi := Source{Name: "Visit Lodi", City: "Lodi", Region: "CA", BaseURL: "https://www.visitlodi.com"}
	scrapers := NewAll([]Source{VisitStockton, lodi})

	if len(scrapers) != 2 {
		t.Fatalf("NewAll() returned %d scrapers, want 2", len(scrapers))
	}
	if scrapers[0].SourceName() != "Visit Stockton" || scrapers[1].SourceName() != "Visit Lodi" {
		t.Errorf("NewAll() order = %q, %q", scrapers[0].SourceName(), scrapers[1].SourceName())
	}
}

func TestExtractionError(t *testing.T) {
	err := &ExtractionError{Index: 3, Err: ErrMissingTitle}

	if !errors.Is(err, ErrMissingTitle) {
		t.Error("ExtractionError should unwrap to its cause")
	}
	if err.Error() != "element 3: missing title" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !isSkip(err) {
		t.Error("missing title should be an expected skip")
	}
	if isSkip(&ExtractionError{Index: 1, Err: errors.New("panic: boom")}) {
		t.Error("panic should not be an expected skip")
	}
}
