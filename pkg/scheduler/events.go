package scheduler

import "github.com/Sternrassler/gallery-fetch/pkg/cancel"

// event is the closed set of inputs handled by the scheduler loop.
type event interface {
	isEvent()
}

type enqueueEvent[K comparable] struct {
	keys []K
}

type retryEvent[K comparable] struct {
	key K
}

type completeEvent[K comparable, V any] struct {
	key    K
	token  cancel.Token
	values map[K]V
	err    error
}

type restoreEvent[K comparable, V any] struct {
	values map[K]V
}

type cancelAllEvent struct {
	done chan struct{}
}

type snapshotEvent[K comparable, V any] struct {
	reply chan Snapshot[K, V]
}

func (enqueueEvent[K]) isEvent()     {}
func (retryEvent[K]) isEvent()       {}
func (completeEvent[K, V]) isEvent() {}
func (restoreEvent[K, V]) isEvent()  {}
func (cancelAllEvent) isEvent()      {}
func (snapshotEvent[K, V]) isEvent() {}
