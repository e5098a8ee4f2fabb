package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/ingest"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat validates a --format value
func ParseFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case FormatText, FormatJSON, FormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("invalid format: %s (must be 'text', 'json' or 'yaml')", s)
	}
}

// ScrapeOutput is the result of one ingestion pass
type ScrapeOutput struct {
	CheckedAt time.Time      `json:"checked_at" yaml:"checked_at"`
	Summary   ingest.Summary `json:"summary" yaml:"summary"`
}

// SourceEvents holds what one source returned in a dry run
type SourceEvents struct {
	Source string         `json:"source" yaml:"source"`
	City   string         `json:"city" yaml:"city"`
	Events []*event.Event `json:"events" yaml:"events"`
	Error  string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// TestScraperOutput is the result of a dry run over every source
type TestScraperOutput struct {
	CheckedAt  time.Time      `json:"checked_at" yaml:"checked_at"`
	Sources    []SourceEvents `json:"sources" yaml:"sources"`
	EventCount int            `json:"event_count" yaml:"event_count"`
}

// WriteScrape writes an ingestion summary in the specified format
func WriteScrape(w io.Writer, out *ScrapeOutput, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, out)
	case FormatYAML:
		return writeYAML(w, out)
	case FormatText:
		return writeScrapeText(w, out, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteTestScraper writes dry-run results in the specified format
func WriteTestScraper(w io.Writer, out *TestScraperOutput, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, out)
	case FormatYAML:
		return writeYAML(w, out)
	case FormatText:
		return writeEventsText(w, out, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

func writeScrapeText(w io.Writer, out *ScrapeOutput, verbose bool) error {
	s := out.Summary

	if s.TotalScrapers == 0 {
		fmt.Fprintln(w, "No sources configured.")
		return nil
	}

	for _, r := range s.Scrapers {
		status := "OK  "
		if !r.Success {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s %s: %d found, %d inserted\n", status, r.ScraperName, r.EventsFound, r.EventsInserted)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "       error: %s\n", e)
		}
		if verbose && r.Success {
			fmt.Fprintf(w, "       skipped: %d\n", r.EventsFound-r.EventsInserted)
		}
	}

	fmt.Fprintf(w, "\nTotal: %d found, %d inserted, %d/%d sources succeeded\n",
		s.TotalEventsFound, s.TotalEventsInserted, s.SuccessfulScrapers, s.TotalScrapers)
	return nil
}

func writeEventsText(w io.Writer, out *TestScraperOutput, verbose bool) error {
	for _, src := range out.Sources {
		if src.Error != "" {
			fmt.Fprintf(w, "%s (%s): error: %s\n", src.Source, src.City, src.Error)
			continue
		}

		fmt.Fprintf(w, "%s (%s): %d events\n", src.Source, src.City, len(src.Events))
		for _, evt := range src.Events {
			fmt.Fprintf(w, "  %s  %s\n", evt.StartDate, evt.Title)
			if verbose {
				if evt.Location != "" {
					fmt.Fprintf(w, "              Location: %s\n", evt.Location)
				}
				if evt.Description != "" {
					fmt.Fprintf(w, "              %s\n", evt.Description)
				}
			}
		}
	}

	fmt.Fprintf(w, "\nTotal: %d events\n", out.EventCount)
	return nil
}
