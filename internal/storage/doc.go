// Package storage persists city events in a relational database.
//
// EventStore is the narrow interface the ingestion runner depends on: an exact
// lookup on the deduplication key and a single-row insert. Store adds the read
// operations used by the HTTP API. Two implementations are provided:
// PostgresStore (pgx, the hosted production database) and SQLiteStore
// (modernc.org/sqlite, for local development and tests).
package storage
