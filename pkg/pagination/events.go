package pagination

import (
	"github.com/Sternrassler/gallery-fetch/pkg/cancel"
	"github.com/Sternrassler/gallery-fetch/pkg/gallery"
)

// event is the closed set of inputs handled by the engine loop.
type event interface {
	isEvent()
}

type firstPageEvent struct {
	query gallery.Query
}

type moreEvent struct{}

type jumpEvent struct {
	index int
	reply chan error
}

type retryEvent struct{}

type restoreEvent[T any] struct {
	record Record[T]
}

type completeEvent[T any] struct {
	slot  Slot
	token cancel.Token
	page  Page[T]
	err   error
}

type snapshotEvent[T any] struct {
	reply chan Snapshot[T]
}

func (firstPageEvent) isEvent()   {}
func (moreEvent) isEvent()        {}
func (jumpEvent) isEvent()        {}
func (retryEvent) isEvent()       {}
func (restoreEvent[T]) isEvent()  {}
func (completeEvent[T]) isEvent() {}
func (snapshotEvent[T]) isEvent() {}
