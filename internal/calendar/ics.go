// Package calendar renders stored events as iCalendar (RFC 5545) documents.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/city-events/internal/event"
	"github.com/pfrederiksen/city-events/internal/logger"
)

const (
	prodID    = "-//City Events//city-events//EN"
	uidDomain = "city-events"
	// RFC 5545 limits content lines to 75 octets before folding
	maxLineOctets = 75
)

// GenerateICS generates an iCalendar (.ics) file for a stored event. Events
// are all-day: DTEND is the day after EndDate, or after StartDate when the
// event has no end date.
func GenerateICS(evt *event.PersistedEvent) (string, error) {
	w := newWriter()
	w.header("")
	if err := w.event(evt); err != nil {
		return "", err
	}
	w.line("END:VCALENDAR")
	return w.String(), nil
}

// GenerateBulkICS generates one calendar containing every event. Events whose
// dates cannot be parsed are skipped. An empty slice yields an empty string.
func GenerateBulkICS(events []*event.PersistedEvent, calendarName string) string {
	if len(events) == 0 {
		return ""
	}

	w := newWriter()
	w.header(calendarName)
	for _, evt := range events {
		if err := w.event(evt); err != nil {
			logger.Warn("Skipping event in calendar", logger.Fields{"id": evt.ID, "error": err.Error()})
		}
	}
	w.line("END:VCALENDAR")
	return w.String()
}

// Filename returns a download name for the event's calendar file
func Filename(evt *event.PersistedEvent) string {
	return fmt.Sprintf("event-%s.ics", evt.ID)
}

type writer struct {
	strings.Builder
}

func newWriter() *writer {
	return &writer{}
}

func (w *writer) line(s string) {
	w.WriteString(foldLine(s))
	w.WriteString("\r\n")
}

func (w *writer) header(calendarName string) {
	w.line("BEGIN:VCALENDAR")
	w.line("VERSION:2.0")
	w.line("PRODID:" + prodID)
	w.line("CALSCALE:GREGORIAN")
	w.line("METHOD:PUBLISH")
	if calendarName != "" {
		w.line("X-WR-CALNAME:" + escapeICS(calendarName))
	}
}

// event writes one VEVENT. Nothing is written when the dates are invalid.
func (w *writer) event(evt *event.PersistedEvent) error {
	start, last, err := eventSpan(evt)
	if err != nil {
		return err
	}

	stamp := evt.UpdatedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}

	w.line("BEGIN:VEVENT")
	w.line(fmt.Sprintf("UID:%s@%s", evt.ID, uidDomain))
	w.line("DTSTAMP:" + formatICSTime(stamp))
	w.line("DTSTART;VALUE=DATE:" + formatICSDate(start))
	w.line("DTEND;VALUE=DATE:" + formatICSDate(last.AddDate(0, 0, 1)))
	w.line("SUMMARY:" + escapeICS(evt.Title))
	if evt.Description != "" {
		w.line("DESCRIPTION:" + escapeICS(evt.Description))
	}
	if evt.Location != "" {
		w.line("LOCATION:" + escapeICS(evt.Location))
	}
	w.line("STATUS:CONFIRMED")
	w.line("TRANSP:TRANSPARENT")
	w.line("END:VEVENT")
	return nil
}

// eventSpan returns the first and last day of the event. An end date before
// the start date is ignored.
func eventSpan(evt *event.PersistedEvent) (time.Time, time.Time, error) {
	start, err := event.ParseCanonical(evt.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s: invalid start date: %w", evt.ID, err)
	}

	last := start
	if evt.EndDate != "" {
		end, err := event.ParseCanonical(evt.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("event %s: invalid end date: %w", evt.ID, err)
		}
		if end.After(start) {
			last = end
		}
	}
	return start, last, nil
}

func formatICSTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

func formatICSDate(t time.Time) string {
	return t.Format("20060102")
}

// escapeICS escapes TEXT values per RFC 5545 section 3.3.11
func escapeICS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// foldLine splits a content line into 75-octet chunks joined by CRLF and a
// space, without cutting a UTF-8 sequence.
func foldLine(s string) string {
	if len(s) <= maxLineOctets {
		return s
	}

	var b strings.Builder
	limit := maxLineOctets
	n := 0
	for _, r := range s {
		size := len(string(r))
		if n+size > limit {
			b.WriteString("\r\n ")
			n = 0
			// continuation lines lose one octet to the leading space
			limit = maxLineOctets - 1
		}
		b.WriteRune(r)
		n += size
	}
	return b.String()
}
