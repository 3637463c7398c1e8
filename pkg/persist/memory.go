package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process Store. Values are stored JSON-encoded so Load
// behaves like the durable backends.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
	writes int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

// Upsert implements Store.
func (m *Memory) Upsert(ctx context.Context, scopeID string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal scope value: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[scopeID] = data
	m.writes++
	return nil
}

// Load implements Store.
func (m *Memory) Load(ctx context.Context, scopeID string, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	data, ok := m.values[scopeID]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal scope value: %w", err)
	}
	return nil
}

// Writes returns the number of successful upserts.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}
