package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alarmvault/alarmvault/internal/errors"
	"github.com/go-redis/redis/v8"
)

// RedisOptions configures the redis backend
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// RedisStore keeps key-value pairs in a redis instance. Useful when
// several devices in a household share one vault service.
type RedisStore struct {
	client    *redis.Client
	namespace string

	mu     sync.Mutex
	closed bool
}

// OpenRedis connects to redis and verifies the connection
func OpenRedis(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	ns := opts.Namespace
	if ns == "" {
		ns = "av"
	}
	return &RedisStore{client: client, namespace: ns}, nil
}

func (r *RedisStore) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *RedisStore) nsKey(key string) string {
	return r.namespace + ":" + key
}

// Get returns the value stored at key
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if r.isClosed() {
		return "", false, apperrors.ErrStoreClosed
	}

	value, err := r.client.Get(ctx, r.nsKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value at key, overwriting any previous value
func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if r.isClosed() {
		return apperrors.ErrStoreClosed
	}

	if err := r.client.Set(ctx, r.nsKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key; removing an absent key is not an error
func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if r.isClosed() {
		return apperrors.ErrStoreClosed
	}

	if err := r.client.Del(ctx, r.nsKey(key)).Err(); err != nil {
		return fmt.Errorf("redis remove %q: %w", key, err)
	}
	return nil
}

// Keys lists every stored key in this namespace
func (r *RedisStore) Keys(ctx context.Context) ([]string, error) {
	if r.isClosed() {
		return nil, apperrors.ErrStoreClosed
	}

	prefix := r.namespace + ":"
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis keys: %w", err)
	}
	return keys, nil
}

// Close releases the redis connection
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.client.Close()
}
