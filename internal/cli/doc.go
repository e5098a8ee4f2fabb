// Package cli implements the command-line interface for city-events.
//
// The cli package provides the Cobra-based CLI: running an ingestion pass
// (scrape), checking sources without writing anything (test-scraper), creating
// the schema (migrate) and serving the HTTP API (serve). Output is available
// as text, JSON or YAML. It wires configuration, logging, storage, scrapers and
// the ingestion runner together.
package cli
