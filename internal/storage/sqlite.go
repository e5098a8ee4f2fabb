package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver (pure Go)

	"github.com/pfrederiksen/city-events/internal/event"
)

// DefaultSQLitePath is used when no sqlite path is configured
const DefaultSQLitePath = "city-events.db"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		city TEXT NOT NULL,
		source TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_events_dedupe ON events(source, title, start_date);`,
	`CREATE INDEX IF NOT EXISTS idx_events_city_start ON events(city, start_date);`,
}

const sqliteColumns = `id, city, source, title, description, start_date, end_date, location, created_at, updated_at`

// SQLiteStore stores events in a SQLite database
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore constructs a store on an open database
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// OpenSQLite opens the SQLite database at path (":memory:" for an in-memory
// database) with a busy timeout to reduce contention errors.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

// FindExisting looks up an event by its deduplication key
func (s *SQLiteStore) FindExisting(ctx context.Context, source, title, startDate string) (*event.PersistedEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+`
		 FROM events
		 WHERE source = ? AND title = ? AND start_date = ?
		 LIMIT 1`,
		source, title, startDate,
	)

	evt, err := scanSQLiteEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("find existing", err)
	}
	return evt, nil
}

// Insert writes a new event with a generated UUID
func (s *SQLiteStore) Insert(ctx context.Context, evt *event.Event) (*event.PersistedEvent, error) {
	rec := stamp(evt, s.now)
	id := uuid.NewString()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(`+sqliteColumns+`)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.City, rec.Source, rec.Title, rec.Description, rec.StartDate, rec.EndDate, rec.Location,
		formatSQLiteTime(rec.CreatedAt), formatSQLiteTime(rec.UpdatedAt),
	)
	if err != nil {
		return nil, storeErr("insert", err)
	}

	return &event.PersistedEvent{ID: id, Event: rec}, nil
}

// List returns events ordered by start date
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*event.PersistedEvent, error) {
	opts = opts.Normalize()

	query := `SELECT ` + sqliteColumns + ` FROM events`
	args := []any{}
	if opts.City != "" {
		query += ` WHERE city = ?`
		args = append(args, opts.City)
	}
	query += ` ORDER BY start_date ASC, created_at ASC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	events := make([]*event.PersistedEvent, 0)
	for rows.Next() {
		evt, err := scanSQLiteEvent(rows)
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
func (s *SQLiteStore) Get(ctx context.Context, id string) (*event.PersistedEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM events WHERE id = ?`, id)
	evt, err := scanSQLiteEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, storeErr("get", err)
	}
	return evt, nil
}

// Count returns the number of stored events, optionally for one city
func (s *SQLiteStore) Count(ctx context.Context, city string) (int, error) {
	query := `SELECT count(*) FROM events`
	args := []any{}
	if city = strings.TrimSpace(city); city != "" {
		query += ` WHERE city = ?`
		args = append(args, city)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storeErr("count", err)
	}
	return n, nil
}

// Ping checks the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Migrate applies the schema
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storeErr("migrate", err)
		}
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() {
	s.db.Close() //nolint:errcheck
}

func scanSQLiteEvent(row scanner) (*event.PersistedEvent, error) {
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
		sqliteTime{&evt.CreatedAt},
		sqliteTime{&evt.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// sqliteTime scans a TIMESTAMP column whether the driver hands back a
// time.Time or the stored text
type sqliteTime struct {
	t *time.Time
}

func (s sqliteTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s.t = time.Time{}
	case time.Time:
		*s.t = v.UTC()
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

func (s sqliteTime) parse(v string) error {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			*s.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", v)
}
