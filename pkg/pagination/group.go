package pagination

import (
	"context"
	"sort"
	"sync"
)

// Factory builds the Config for the list at index.
type Factory[T any] func(index int) Config[T]

// Group holds one engine per list index, created on first use. Safe for
// concurrent use.
type Group[T any] struct {
	ctx     context.Context
	factory Factory[T]

	mu      sync.Mutex
	engines map[int]*Engine[T]
	closed  bool
}

// NewGroup creates an empty group. Engines are bound to ctx.
func NewGroup[T any](ctx context.Context, factory Factory[T]) *Group[T] {
	return &Group[T]{
		ctx:     ctx,
		factory: factory,
		engines: make(map[int]*Engine[T]),
	}
}

// Get returns the engine for index, creating it if needed. It returns nil
// after Close.
func (g *Group[T]) Get(index int) *Engine[T] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	if e, ok := g.engines[index]; ok {
		return e
	}
	e := New(g.ctx, g.factory(index))
	g.engines[index] = e
	return e
}

// Indices returns the indices of existing engines in ascending order.
func (g *Group[T]) Indices() []int {
	g.mu.Lock()
	defer g.mu.Unlock()

	indices := make([]int, 0, len(g.engines))
	for i := range g.engines {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

// Close closes every engine. Further Get calls return nil.
func (g *Group[T]) Close() {
	g.mu.Lock()
	engines := g.engines
	g.engines = make(map[int]*Engine[T])
	g.closed = true
	g.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}
