// Package boltstore persists scope snapshots in a local bbolt file.
package boltstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/gallery-fetch/pkg/persist"
	bolt "go.etcd.io/bbolt"
)

var bucketScopes = []byte("scopes")

// Store implements persist.Store on bbolt.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketScopes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert implements persist.Store.
func (s *Store) Upsert(ctx context.Context, scopeID string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal scope value: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketScopes).Put([]byte(scopeID), data)
	})
}

// Load implements persist.Store.
func (s *Store) Load(ctx context.Context, scopeID string, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketScopes).Get([]byte(scopeID)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt view: %w", err)
	}
	if data == nil {
		return persist.ErrNotFound
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal scope value: %w", err)
	}
	return nil
}

// Delete removes the snapshot for scopeID.
func (s *Store) Delete(ctx context.Context, scopeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketScopes).Delete([]byte(scopeID))
	})
}

// Scopes lists every stored scope id with the given prefix, in key order.
func (s *Store) Scopes(prefix string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketScopes).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			ids = append(ids, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt view: %w", err)
	}
	return ids, nil
}

