package cli

import (
	"sort"
	"strings"

	"github.com/pfrederiksen/city-events/internal/event"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByDate  SortOrder = "date"
	SortByCity  SortOrder = "city"
	SortByTitle SortOrder = "title"
	SortNone    SortOrder = "page"
)

// ParseSortOrder validates a --sort value
func ParseSortOrder(s string) (SortOrder, bool) {
	switch order := SortOrder(strings.ToLower(strings.TrimSpace(s))); order {
	case SortByDate, SortByCity, SortByTitle, SortNone:
		return order, true
	default:
		return "", false
	}
}

// sortEvents sorts events in place. SortNone keeps page order.
func sortEvents(events []*event.Event, order SortOrder) {
	switch order {
	case SortByDate:
		sort.SliceStable(events, func(i, j int) bool {
			return compareByDate(events[i], events[j])
		})
	case SortByCity:
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].City != events[j].City {
				return events[i].City < events[j].City
			}
			return compareByDate(events[i], events[j])
		})
	case SortByTitle:
		sort.SliceStable(events, func(i, j int) bool {
			ti, tj := strings.ToLower(events[i].Title), strings.ToLower(events[j].Title)
			if ti != tj {
				return ti < tj
			}
			return compareByDate(events[i], events[j])
		})
	}
}

// compareByDate orders canonical dates chronologically, which for
// YYYY-MM-DD is plain string order. Ties fall back to the title.
func compareByDate(i, j *event.Event) bool {
	if i.StartDate != j.StartDate {
		return i.StartDate < j.StartDate
	}
	return strings.ToLower(i.Title) < strings.ToLower(j.Title)
}
