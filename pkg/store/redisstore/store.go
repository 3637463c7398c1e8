// Package redisstore persists scope snapshots in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/gallery-fetch/pkg/persist"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a scope snapshot survives without being rewritten.
const DefaultTTL = 7 * 24 * time.Hour

// Store implements persist.Store with a Redis backend.
type Store struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL overrides DefaultTTL. Zero keeps entries forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// New creates a store on redisClient.
func New(redisClient *redis.Client, opts ...Option) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	s := &Store{
		redis:  redisClient,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert implements persist.Store.
func (s *Store) Upsert(ctx context.Context, scopeID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		StoreErrors.WithLabelValues("upsert").Inc()
		return fmt.Errorf("marshal scope value: %w", err)
	}

	if err := s.redis.Set(ctx, Key(s.prefix, scopeID), data, s.ttl).Err(); err != nil {
		StoreErrors.WithLabelValues("upsert").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	StoreBytes.Observe(float64(len(data)))
	return nil
}

// Load implements persist.Store.
func (s *Store) Load(ctx context.Context, scopeID string, dest any) error {
	data, err := s.redis.Get(ctx, Key(s.prefix, scopeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			StoreMisses.Inc()
			return persist.ErrNotFound
		}
		StoreErrors.WithLabelValues("load").Inc()
		return fmt.Errorf("redis get: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		StoreErrors.WithLabelValues("load").Inc()
		return fmt.Errorf("unmarshal scope value: %w", err)
	}

	StoreHits.Inc()
	return nil
}

// Delete removes the snapshot for scopeID.
func (s *Store) Delete(ctx context.Context, scopeID string) error {
	if err := s.redis.Del(ctx, Key(s.prefix, scopeID)).Err(); err != nil {
		StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
