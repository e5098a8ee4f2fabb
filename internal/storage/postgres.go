package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pfrederiksen/city-events/internal/event"
)

// DBInstance is the subset of *pgxpool.Pool used by PostgresStore.
// pgxmock.PgxPoolIface satisfies it in tests.
type DBInstance interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		city TEXT NOT NULL,
		source TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_date DATE NOT NULL,
		end_date DATE,
		location TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_dedupe ON events(source, title, start_date)`,
	`CREATE INDEX IF NOT EXISTS idx_events_city_start ON events(city, start_date)`,
}

const postgresColumns = `id::text, city, source, title, description, start_date::text,
	COALESCE(end_date::text, ''), location, created_at, updated_at`

// PostgresStore stores events in PostgreSQL
type PostgresStore struct {
	pool DBInstance
	now  func() time.Time
}

// NewPostgresStore creates a store on top of a pool
func NewPostgresStore(pool DBInstance) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// NewPostgresPool parses dsn, connects and pings the database. Queries are
// traced through the global OpenTelemetry tracer provider.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}

	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// FindExisting looks up an event by its deduplication key
func (s *PostgresStore) FindExisting(ctx context.Context, source, title, startDate string) (*event.PersistedEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresColumns+`
		 FROM events
		 WHERE source = $1 AND title = $2 AND start_date = $3::date
		 LIMIT 1`,
		source, title, startDate,
	)

	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("find existing", err)
	}
	return evt, nil
}

// Insert writes a new event and returns it with its generated ID
func (s *PostgresStore) Insert(ctx context.Context, evt *event.Event) (*event.PersistedEvent, error) {
	rec := stamp(evt, s.now)

	row := s.pool.QueryRow(ctx,
		`INSERT INTO events (city, source, title, description, start_date, end_date, location, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::date, NULLIF($6, '')::date, $7, $8, $9)
		 RETURNING `+postgresColumns,
		rec.City, rec.Source, rec.Title, rec.Description, rec.StartDate, rec.EndDate, rec.Location, rec.CreatedAt, rec.UpdatedAt,
	)

	saved, err := scanEvent(row)
	if err != nil {
		return nil, storeErr("insert", err)
	}
	return saved, nil
}

// List returns events ordered by start date
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*event.PersistedEvent, error) {
	opts = opts.Normalize()

	query := `SELECT ` + postgresColumns + ` FROM events`
	args := []any{}
	if opts.City != "" {
		query += ` WHERE city = $1`
		args = append(args, opts.City)
	}
	query += fmt.Sprintf(` ORDER BY start_date ASC, created_at ASC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	events := make([]*event.PersistedEvent, 0)
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, storeErr("list", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return events, nil
}

// Get returns one event by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*event.PersistedEvent, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrEventNotFound
	}

	row := s.pool.QueryRow(ctx, `SELECT `+postgresColumns+` FROM events WHERE id = $1::uuid`, id)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, storeErr("get", err)
	}
	return evt, nil
}

// Count returns the number of stored events, optionally for one city
func (s *PostgresStore) Count(ctx context.Context, city string) (int, error) {
	query := `SELECT count(*) FROM events`
	args := []any{}
	if city = strings.TrimSpace(city); city != "" {
		query += ` WHERE city = $1`
		args = append(args, city)
	}

	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, storeErr("count", err)
	}
	return n, nil
}

// Ping checks connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Migrate creates the events table and indexes
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return storeErr("migrate", err)
		}
	}
	return nil
}

// Close releases the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*event.PersistedEvent, error) {
	var evt event.PersistedEvent
	err := row.Scan(
		&evt.ID,
		&evt.City,
		&evt.Source,
		&evt.Title,
		&evt.Description,
		&evt.StartDate,
		&evt.EndDate,
		&evt.Location,
		&evt.CreatedAt,
		&evt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &evt, nil
}
