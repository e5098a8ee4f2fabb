package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ContainerSelectors match the elements holding a single event
var ContainerSelectors = []string{".event-item", ".event-card", ".event"}

// fieldRule extracts one field from an event element by trying selectors in
// priority order
type fieldRule struct {
	selectors []string
}

var (
	titleRule       = fieldRule{selectors: []string{"h1", "h2", "h3", ".title", ".event-title"}}
	descriptionRule = fieldRule{selectors: []string{".description", ".event-description", "p"}}
	dateRule        = fieldRule{selectors: []string{".date", ".event-date", ".start-date"}}
	locationRule    = fieldRule{selectors: []string{".location", ".venue", ".address"}}
)

// extract returns the trimmed text of the first descendant matching the
// rule's selectors, or "" when none has text
func (r fieldRule) extract(sel *goquery.Selection) string {
	for _, selector := range r.selectors {
		var text string
		sel.Find(selector).EachWithBreak(func(_ int, found *goquery.Selection) bool {
			text = strings.TrimSpace(found.Text())
			return text == ""
		})
		if text != "" {
			return text
		}
	}
	return ""
}

func containerSelector() string {
	return strings.Join(ContainerSelectors, ", ")
}
