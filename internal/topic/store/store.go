// Package store holds the durable key-value backends the relay keeps its
// topic id in. Every backend implements Get, Set and SetIfAbsent.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ErrUnknownBackend is returned by Open for an unrecognised backend name.
var ErrUnknownBackend = errors.New("store: unknown backend")

// KV is the interface every backend satisfies.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetIfAbsent(ctx context.Context, key, value string) (string, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend   string
	Path      string
	RedisAddr string
	// RedisPrefix namespaces redis keys.
	RedisPrefix string
	DSN         string
}

// Open constructs the configured backend and verifies it is reachable.
func Open(ctx context.Context, cfg Config) (KV, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		return NewFile(cfg.Path)
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("store: redis address is required")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedis(client, cfg.RedisPrefix), nil
	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: postgres dsn is required")
		}
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
