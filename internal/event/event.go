package event

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical calendar date layout used for StartDate and EndDate.
const DateLayout = "2006-01-02"

// Event represents a candidate city event scraped from a listing site
type Event struct {
	City        string    `json:"city" yaml:"city"`
	Source      string    `json:"source" yaml:"source"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	StartDate   string    `json:"start_date" yaml:"start_date"`
	EndDate     string    `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Location    string    `json:"location" yaml:"location"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// PersistedEvent is an Event that has been written to storage
type PersistedEvent struct {
	ID string `json:"id" yaml:"id"`
	Event `yaml:",inline"`
}

// Key is the best-effort deduplication key of an event.
// It is not enforced by storage.
type Key struct {
	Source    string
	Title     string
	StartDate string
}

// String renders the key for log output
func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.Source, k.Title, k.StartDate)
}

// Key returns the deduplication key of the event
func (e *Event) Key() Key {
	return Key{Source: e.Source, Title: e.Title, StartDate: e.StartDate}
}

// DefaultLocation returns the fallback location for events that do not list one,
// e.g. "Stockton, CA".
func DefaultLocation(city, region string) string {
	if region == "" {
		return city
	}
	return city + ", " + region
}

// NewEvent creates a candidate Event with trimmed fields.
// The location falls back to DefaultLocation(city, region) when empty.
func NewEvent(city, region, source, title, description, startDate, location string, now time.Time) *Event {
	location = strings.TrimSpace(location)
	if location == "" {
		location = DefaultLocation(city, region)
	}

	return &Event{
		City:        city,
		Source:      source,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		StartDate:   startDate,
		Location:    location,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the required fields of a candidate event
func (e *Event) Validate() error {
	if strings.TrimSpace(e.City) == "" {
		return fmt.Errorf("event city is required")
	}
	if strings.TrimSpace(e.Source) == "" {
		return fmt.Errorf("event source is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("event title is required")
	}
	if _, err := ParseCanonical(e.StartDate); err != nil {
		return fmt.Errorf("event start date: %w", err)
	}
	if e.EndDate != "" {
		if _, err := ParseCanonical(e.EndDate); err != nil {
			return fmt.Errorf("event end date: %w", err)
		}
	}
	return nil
}
