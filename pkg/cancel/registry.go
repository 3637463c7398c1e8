// Package cancel maps fetch keys to live cancellation handles.
package cancel

import (
	"context"
)

// Token identifies one dispatch of a key. A completion carrying a token that
// is no longer registered belongs to cancelled work and must be discarded.
type Token uint64

type handle struct {
	token  Token
	cancel context.CancelFunc
}

// Registry holds one cancellation handle per key. It is owned by a single
// event loop and is not safe for concurrent use.
type Registry[K comparable] struct {
	handles map[K]handle
	next    Token
}

// NewRegistry creates an empty registry.
func NewRegistry[K comparable]() *Registry[K] {
	return &Registry[K]{handles: make(map[K]handle)}
}

// Register derives a cancellable context for key from parent and records
// its handle. Registering a key that is still live cancels the old handle.
func (r *Registry[K]) Register(parent context.Context, key K) (context.Context, Token) {
	if old, ok := r.handles[key]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	r.next++
	r.handles[key] = handle{token: r.next, cancel: cancel}
	return ctx, r.next
}

// Release removes the handle for key if token is the live one and reports
// whether it was. The context is cancelled to free its resources.
func (r *Registry[K]) Release(key K, token Token) bool {
	h, ok := r.handles[key]
	if !ok || h.token != token {
		return false
	}
	h.cancel()
	delete(r.handles, key)
	return true
}

// Cancel cancels and removes the handle for key. It reports whether a
// handle existed.
func (r *Registry[K]) Cancel(key K) bool {
	h, ok := r.handles[key]
	if !ok {
		return false
	}
	h.cancel()
	delete(r.handles, key)
	return true
}

// CancelAll cancels every live handle and returns the affected keys.
func (r *Registry[K]) CancelAll() []K {
	keys := make([]K, 0, len(r.handles))
	for k, h := range r.handles {
		h.cancel()
		keys = append(keys, k)
	}
	clear(r.handles)
	return keys
}

// Live reports whether key has a registered handle.
func (r *Registry[K]) Live(key K) bool {
	_, ok := r.handles[key]
	return ok
}

// Len returns the number of live handles.
func (r *Registry[K]) Len() int {
	return len(r.handles)
}
