// Package ingest runs scrapers and writes their events to storage.
//
// A Runner processes its scrapers one at a time in configuration order. For
// each candidate event it looks up the (source, title, start date) key and
// inserts the event only when no match exists, so re-running against an
// unchanged page inserts nothing. Per-event failures are logged and absorbed;
// only a failed fetch is reported in a scraper's Result.
package ingest
