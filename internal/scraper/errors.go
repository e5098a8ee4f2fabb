package scraper

import (
	"errors"
	"fmt"
)

var (
	ErrMissingTitle   = errors.New("missing title")
	ErrMissingDate    = errors.New("missing date")
	ErrUnparsableDate = errors.New("unparsable date")
)

// FetchError reports that the listing page of a source could not be retrieved.
// No events are returned alongside it.
type FetchError struct {
	Source string
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch events from %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ExtractionError reports that one event element could not be turned into an Event
type ExtractionError struct {
	Index int
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("element %d: %v", e.Index, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
