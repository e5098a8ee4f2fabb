package event

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// directLayouts are tried, in order, against the whole date text.
var directLayouts = []string{
	time.RFC3339,
	DateLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04",
	"2006/1/2",
	"2006/1/2 15:04",
	"1/2/2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
	"Monday, January 2, 2006 3:04 PM",
	"January 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006 15:04",
	"2 January 2006",
	"2 Jan 2006",
	time.RFC1123,
	time.RFC1123Z,
}

// monthToken matches abbreviated month names, optionally followed by a period
var monthToken = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|jun|jul|aug|sept?|oct|nov|dec)\b\.?`)

// datePattern pulls a date substring out of free text. The first capture
// group is re-parsed with layouts.
type datePattern struct {
	re      *regexp.Regexp
	layouts []string
}

// datePatterns are applied in priority order when the direct parse fails:
// MM/DD/YYYY, YYYY-MM-DD, then "Month DD, YYYY".
var datePatterns = []datePattern{
	{
		re:      regexp.MustCompile(`(?:^|\D)(\d{1,2}/\d{1,2}/\d{4})(?:\D|$)`),
		layouts: []string{"1/2/2006"},
	},
	{
		re:      regexp.MustCompile(`(?:^|\D)(\d{4}-\d{1,2}-\d{1,2})(?:\D|$)`),
		layouts: []string{"2006-1-2"},
	},
	{
		re:      regexp.MustCompile(`([A-Za-z]+\s+\d{1,2},?\s+\d{4})(?:\D|$)`),
		layouts: []string{"January 2, 2006", "January 2 2006", "Jan 2, 2006", "Jan 2 2006"},
	},
}

// NormalizeDate converts free-text date strings into a canonical YYYY-MM-DD
// calendar date. Returns false if no date could be recognized.
//
// Supports generic formats such as "2024-03-05T19:00:00-07:00", "March 5, 2024"
// and "3/5/2024", plus dates embedded in longer text like
// "Tuesday 03/05/2024 at 7pm". Month abbreviations like "Sept" and "Mar."
// are accepted. Time of day and offsets are discarded; the calendar day is
// taken as written.
func NormalizeDate(text string) (string, bool) {
	text = normalizeMonths(collapseSpace(text))
	if text == "" {
		return "", false
	}

	if t, ok := parseLayouts(text, directLayouts); ok {
		return t.Format(DateLayout), true
	}

	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		// A match that does not parse (e.g. 13/45/2024) falls through to the next pattern
		if t, ok := parseLayouts(m[1], p.layouts); ok {
			return t.Format(DateLayout), true
		}
	}

	return "", false
}

// ParseCanonical parses a canonical YYYY-MM-DD date into a UTC midnight time.Time
func ParseCanonical(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid canonical date %q: %w", date, err)
	}
	return t, nil
}

// IsCanonical reports whether s is a valid YYYY-MM-DD date
func IsCanonical(s string) bool {
	_, err := ParseCanonical(s)
	return err == nil
}

func parseLayouts(text string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeMonths rewrites month abbreviations into the forms time.Parse
// accepts: "Sept" becomes "Sep" and a trailing period is dropped.
func normalizeMonths(s string) string {
	return monthToken.ReplaceAllStringFunc(s, func(tok string) string {
		tok = strings.TrimSuffix(tok, ".")
		if len(tok) == 4 {
			return tok[:3]
		}
		return tok
	})
}

// collapseSpace trims and folds runs of whitespace (including newlines
// from multi-line markup) into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
