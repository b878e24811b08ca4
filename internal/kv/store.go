// Package kv provides the durable key-value store the secure storage
// layer writes its encrypted payloads into. Values are opaque strings;
// nothing in this package inspects them.
package kv

import (
	"context"
	"fmt"

	"github.com/alarmvault/alarmvault/internal/config"
)

// Store is a flat key-value store for opaque encrypted strings.
// Absent keys are reported via ok=false, never as an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Open constructs the backend selected by the configuration
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return OpenSQLite(cfg.SQLitePath)
	case config.BackendRedis:
		return OpenRedis(RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: cfg.Namespace,
		})
	case config.BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
