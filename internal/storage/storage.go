package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pfrederiksen/city-events/internal/event"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ErrEventNotFound is returned by Get when no event has the given ID
var ErrEventNotFound = errors.New("event not found")

// EventStore is the persistence used by the ingestion runner
type EventStore interface {
	// FindExisting returns the stored event matching source, title and start
	// date exactly, or nil when there is none.
	FindExisting(ctx context.Context, source, title, startDate string) (*event.PersistedEvent, error)
	// Insert writes a new event. CreatedAt and UpdatedAt are set when zero.
	Insert(ctx context.Context, evt *event.Event) (*event.PersistedEvent, error)
}

// Store is an EventStore with read and maintenance operations
type Store interface {
	EventStore
	List(ctx context.Context, opts ListOptions) ([]*event.PersistedEvent, error)
	Get(ctx context.Context, id string) (*event.PersistedEvent, error)
	// Count returns the number of stored events in city, or in every city
	// when city is empty.
	Count(ctx context.Context, city string) (int, error)
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close()
}

// ListOptions filters and pages List results
type ListOptions struct {
	City   string
	Limit  int
	Offset int
}

// Normalize clamps the paging values and trims the city filter
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	o.City = strings.TrimSpace(o.City)
	return o
}

// StoreError wraps a failed storage operation
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Config selects and configures the storage backend
type Config struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Open connects to the configured backend
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres, "postgresql", "":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres store requires a dsn")
		}
		pool, err := NewPostgresPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case DriverSQLite:
		db, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(db), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s (must be 'postgres' or 'sqlite')", cfg.Driver)
	}
}

// stamp fills in missing insert timestamps
func stamp(evt *event.Event, now func() time.Time) event.Event {
	rec := *evt
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	return rec
}
