// Package event provides the city event model and date normalization.
//
// Scrapers produce candidate Events whose StartDate is a canonical YYYY-MM-DD
// calendar date. Storage returns PersistedEvents, which add the storage
// assigned ID. Two events are considered the same for deduplication when their
// Key (source, title, start date) is equal.
package event
