// Package runlock keeps ingestion runs from overlapping.
//
// Local guards runs inside one process. Redis extends the guard to every
// process sharing a Redis instance, so a scheduled `scrape` and a server
// triggered run never write at the same time. A Redis lock expires after its
// TTL so a crashed holder cannot block runs forever.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKey = "city-events:ingest:lock"
	DefaultTTL = 10 * time.Minute
)

// ErrNotHeld is returned by a release when the lock expired or was taken
// over before the holder released it
var ErrNotHeld = errors.New("run lock no longer held")

// ReleaseFunc gives a held lock back
type ReleaseFunc func(ctx context.Context) error

// Locker grants at most one run at a time. TryLock never blocks: ok is false
// when another run holds the lock.
type Locker interface {
	TryLock(ctx context.Context) (release ReleaseFunc, ok bool, err error)
}

// Local is an in-process Locker
type Local struct {
	mu sync.Mutex
}

// NewLocal creates an in-process lock
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) TryLock(_ context.Context) (ReleaseFunc, bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, true, nil
}

// releaseScript deletes the key only if it still holds our token
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Redis is a Locker shared by every process using the same key
type Redis struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
	token  func() string
}

// RedisOption configures a Redis lock
type RedisOption func(*Redis)

// WithKey overrides the lock key
func WithKey(key string) RedisOption {
	return func(r *Redis) {
		if key != "" {
			r.key = key
		}
	}
}

// WithTTL sets how long an unreleased lock survives
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithTokens sets the generator for holder tokens
func WithTokens(token func() string) RedisOption {
	return func(r *Redis) {
		r.token = token
	}
}

// NewRedis creates a lock stored in Redis
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		key:    DefaultKey,
		ttl:    DefaultTTL,
		token:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) TryLock(ctx context.Context) (ReleaseFunc, bool, error) {
	token := r.token()

	ok, err := r.client.SetNX(ctx, r.key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return func(ctx context.Context) error {
		n, err := r.client.Eval(ctx, releaseScript, []string{r.key}, token).Int64()
		if err != nil {
			return fmt.Errorf("release run lock: %w", err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}, true, nil
}

// Config selects the lock backend. An empty RedisAddr selects Local.
type Config struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	Key       string        `mapstructure:"key"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Open returns the Locker described by cfg and a function closing any
// connection it opened
func Open(ctx context.Context, cfg Config) (Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return NewLocal(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	closeFn := func() {
		client.Close() //nolint:errcheck
	}
	return NewRedis(client, WithKey(cfg.Key), WithTTL(cfg.TTL)), closeFn, nil
}
