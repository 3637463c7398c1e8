package store

import (
	"context"
	"fmt"

	"github.com/Sternrassler/gallery-fetch/pkg/config"
	"github.com/Sternrassler/gallery-fetch/pkg/persist"
	"github.com/Sternrassler/gallery-fetch/pkg/store/boltstore"
	"github.com/Sternrassler/gallery-fetch/pkg/store/redisstore"
	"github.com/redis/go-redis/v9"
)

// Handle is an opened backend.
type Handle struct {
	Store persist.Store

	// Ping checks the backend; nil for backends without a connection.
	Ping func(ctx context.Context) error

	close func() error
}

// Close releases the backend.
func (h *Handle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Open opens the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (*Handle, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return &Handle{Store: persist.NewMemory()}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		s := redisstore.New(client, redisstore.WithTTL(cfg.RedisTTL))
		if err := s.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return &Handle{Store: s, Ping: s.Ping, close: client.Close}, nil

	case config.BackendBolt:
		s, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return &Handle{Store: s, close: s.Close}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
