// Package scraper provides HTTP fetching and HTML parsing for city event listing pages.
//
// A PageScraper fetches the /events page of one source site and extracts
// event cards using ordered CSS selector rules per field: the first selector
// yielding non-empty text wins. Elements without a title or a recognizable
// date are skipped without aborting the rest of the page.
package scraper
