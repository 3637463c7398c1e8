package scheduler

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/Sternrassler/gallery-fetch/pkg/apperr"
	"github.com/Sternrassler/gallery-fetch/pkg/cancel"
	"github.com/Sternrassler/gallery-fetch/pkg/loading"
	"github.com/Sternrassler/gallery-fetch/pkg/merge"
	"github.com/Sternrassler/gallery-fetch/pkg/persist"
	"github.com/rs/zerolog"
)

// Limit is the maximum number of fetches in flight per scheduler.
const Limit = 3

// FetchFunc fetches the batch belonging to key. It must honour ctx
// cancellation and must not retry internally. A successful fetch returning
// an empty map is treated as not found.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (map[K]V, error)

// Outcome describes how a dispatched fetch ended.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeCancelled Outcome = "cancelled"
)

// Hooks observe scheduling decisions. They run on the scheduler goroutine
// and must not call back into the Scheduler.
type Hooks[K comparable] struct {
	OnDispatch func(key K)
	OnSkip     func(key K)
	OnComplete func(key K, outcome Outcome)
}

// Config holds scheduler configuration.
type Config[K comparable, V any] struct {
	// ScopeID names the persisted record for the result cache.
	ScopeID string

	// Fetch performs one unit of work. Required.
	Fetch FetchFunc[K, V]

	// Ready is the dispatch precondition. Keys failing it are dropped from
	// the queue without being counted or retried. Nil means always ready.
	Ready func(key K) bool

	// Writer receives a cache snapshot after every successful merge.
	Writer *persist.Writer

	// FetchTimeout bounds a single fetch. Zero means no timeout.
	FetchTimeout time.Duration

	Logger zerolog.Logger
	Hooks  Hooks[K]
}

// Snapshot is a consistent copy of scheduler state.
type Snapshot[K comparable, V any] struct {
	Queue    []K // FIFO order
	InFlight []K // dispatch order
	Cache    map[K]V
	Slots    map[K]loading.State // non-idle slots only
}

type flight struct {
	token cancel.Token
	prev  loading.State
	seq   uint64
}

// Scheduler is a bounded-concurrency, deduplicating fetch queue.
type Scheduler[K comparable, V any] struct {
	cfg    Config[K, V]
	logger zerolog.Logger

	ctx      context.Context
	stopCtx  context.CancelFunc
	events   chan event
	done     chan struct{}
	closeReq chan struct{}
	closeOne sync.Once

	// Owned by the loop goroutine.
	queue    []K
	queued   map[K]loading.State // key -> slot state before it was queued
	inFlight map[K]flight
	seq      uint64
	cache    map[K]V
	slots    *loading.Slots[K]
	cancels  *cancel.Registry[K]
}

// New starts a scheduler bound to parent. Cancelling parent cancels every
// fetch; Close must still be called to stop the loop.
func New[K comparable, V any](parent context.Context, cfg Config[K, V]) *Scheduler[K, V] {
	if cfg.Fetch == nil {
		panic("scheduler: fetch func cannot be nil")
	}

	ctx, stop := context.WithCancel(parent)
	s := &Scheduler[K, V]{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("scope_id", cfg.ScopeID).Logger(),
		ctx:      ctx,
		stopCtx:  stop,
		events:   make(chan event, 4*Limit),
		done:     make(chan struct{}),
		closeReq: make(chan struct{}),
		queued:   make(map[K]loading.State),
		inFlight: make(map[K]flight),
		cache:    make(map[K]V),
		slots:    loading.NewSlots[K](),
		cancels:  cancel.NewRegistry[K](),
	}
	go s.loop()
	return s
}

// Enqueue requests keys in order. Keys already queued or in flight are ignored.
func (s *Scheduler[K, V]) Enqueue(keys ...K) {
	if len(keys) == 0 {
		return
	}
	s.send(enqueueEvent[K]{keys: append([]K(nil), keys...)})
}

// Retry re-requests a key whose slot is failed, moving it straight to loading.
// It is a no-op for keys that are not failed.
func (s *Scheduler[K, V]) Retry(key K) {
	s.send(retryEvent[K]{key: key})
}

// Restore seeds the result cache, typically from persistence. Entries
// already present are kept.
func (s *Scheduler[K, V]) Restore(values map[K]V) {
	if len(values) == 0 {
		return
	}
	s.send(restoreEvent[K, V]{values: maps.Clone(values)})
}

// CancelAll cancels every in-flight fetch and discards the queue. Results of
// cancelled fetches are never merged. It returns once the state is cleared.
func (s *Scheduler[K, V]) CancelAll() {
	done := make(chan struct{})
	if !s.send(cancelAllEvent{done: done}) {
		return
	}
	select {
	case <-done:
	case <-s.done:
	}
}

// Snapshot returns a copy of the current state. After Close it returns the
// zero Snapshot.
func (s *Scheduler[K, V]) Snapshot() Snapshot[K, V] {
	reply := make(chan Snapshot[K, V], 1)
	if !s.send(snapshotEvent[K, V]{reply: reply}) {
		return Snapshot[K, V]{}
	}
	select {
	case snap := <-reply:
		return snap
	case <-s.done:
		return Snapshot[K, V]{}
	}
}

// Close cancels all work and stops the scheduler. It is safe to call twice.
func (s *Scheduler[K, V]) Close() {
	s.closeOne.Do(func() { close(s.closeReq) })
	<-s.done
}

func (s *Scheduler[K, V]) send(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Scheduler[K, V]) loop() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.closeReq:
			s.cancelAll()
			s.slots.Reset()
			s.stopCtx()
			s.logger.Debug().Msg("Scheduler closed")
			return
		}
	}
}

func (s *Scheduler[K, V]) handle(ev event) {
	switch ev := ev.(type) {
	case enqueueEvent[K]:
		for _, key := range ev.keys {
			s.enqueue(key, s.slots.Get(key))
		}
		s.processQueue()

	case retryEvent[K]:
		prev := s.slots.Get(ev.key)
		if !prev.IsFailed() {
			return
		}
		if s.enqueue(ev.key, prev) {
			s.slots.Update(ev.key, func(st *loading.State) { st.Begin() })
			retriesTotal.Inc()
		}
		s.processQueue()

	case completeEvent[K, V]:
		s.complete(ev)

	case restoreEvent[K, V]:
		s.cache = merge.Keyed(s.cache, ev.values)
		s.logger.Debug().Int("restored", len(ev.values)).Int("cached", len(s.cache)).Msg("Restored result cache")

	case cancelAllEvent:
		s.cancelAll()
		close(ev.done)

	case snapshotEvent[K, V]:
		ev.reply <- s.snapshot()

	default:
		panic("scheduler: unhandled event type")
	}
}

// enqueue appends key unless it is queued or in flight.
func (s *Scheduler[K, V]) enqueue(key K, prev loading.State) bool {
	if _, ok := s.inFlight[key]; ok {
		return false
	}
	if _, ok := s.queued[key]; ok {
		return false
	}
	s.queue = append(s.queue, key)
	s.queued[key] = prev
	queueLength.Inc()
	return true
}

func (s *Scheduler[K, V]) processQueue() {
	for len(s.inFlight) < Limit && len(s.queue) > 0 {
		key := s.queue[0]
		var zero K
		s.queue[0] = zero
		s.queue = s.queue[1:]
		prev := s.queued[key]
		delete(s.queued, key)
		queueLength.Dec()

		if s.cfg.Ready != nil && !s.cfg.Ready(key) {
			s.slots.Set(key, prev)
			skippedTotal.Inc()
			s.logger.Debug().Interface("key", key).Msg("Precondition failed, skipping key")
			if s.cfg.Hooks.OnSkip != nil {
				s.cfg.Hooks.OnSkip(key)
			}
			continue
		}

		s.dispatch(key, prev)
	}
}

func (s *Scheduler[K, V]) dispatch(key K, prev loading.State) {
	s.slots.Update(key, func(st *loading.State) { st.Begin() })

	ctx, token := s.cancels.Register(s.ctx, key)
	s.seq++
	s.inFlight[key] = flight{token: token, prev: prev, seq: s.seq}

	dispatchedTotal.Inc()
	inFlightGauge.Inc()
	s.logger.Debug().
		Interface("key", key).
		Int("in_flight", len(s.inFlight)).
		Int("queued", len(s.queue)).
		Msg("Dispatching fetch")

	if s.cfg.Hooks.OnDispatch != nil {
		s.cfg.Hooks.OnDispatch(key)
	}

	go s.run(ctx, key, token)
}

// run executes one fetch off the loop goroutine and reports back.
func (s *Scheduler[K, V]) run(ctx context.Context, key K, token cancel.Token) {
	if s.cfg.FetchTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancelTimeout()
	}

	start := time.Now()
	values, err := s.cfg.Fetch(ctx, key)
	fetchDuration.Observe(time.Since(start).Seconds())

	s.send(completeEvent[K, V]{key: key, token: token, values: values, err: err})
}

func (s *Scheduler[K, V]) complete(ev completeEvent[K, V]) {
	f, ok := s.inFlight[ev.key]
	if !ok || f.token != ev.token || !s.cancels.Release(ev.key, ev.token) {
		// Cancelled or superseded; its result must not be merged.
		droppedTotal.Inc()
		return
	}
	delete(s.inFlight, ev.key)
	inFlightGauge.Dec()

	var outcome Outcome
	switch {
	case ev.err != nil && apperr.IsCancelled(ev.err):
		outcome = OutcomeCancelled
		s.slots.Set(ev.key, f.prev)

	case ev.err != nil:
		outcome = OutcomeFailed
		kind := apperr.KindOf(ev.err)
		s.slots.Update(ev.key, func(st *loading.State) { st.Fail(kind) })
		s.logger.Warn().Err(ev.err).Interface("key", ev.key).Str("error_kind", string(kind)).Msg("Fetch failed")

	case len(ev.values) == 0:
		outcome = OutcomeNotFound
		s.slots.Update(ev.key, func(st *loading.State) { st.Fail(apperr.KindNotFound) })
		s.logger.Warn().Interface("key", ev.key).Msg("Fetch returned no data")

	default:
		outcome = OutcomeOK
		before := len(s.cache)
		s.cache = merge.Keyed(s.cache, ev.values)
		s.slots.Update(ev.key, func(st *loading.State) { st.Succeed() })
		s.cfg.Writer.Write(s.cfg.ScopeID, maps.Clone(s.cache))
		s.logger.Debug().
			Interface("key", ev.key).
			Int("received", len(ev.values)).
			Int("added", len(s.cache)-before).
			Msg("Merged fetch result")
	}

	completedTotal.WithLabelValues(string(outcome)).Inc()
	if s.cfg.Hooks.OnComplete != nil {
		s.cfg.Hooks.OnComplete(ev.key, outcome)
	}

	s.processQueue()
}

func (s *Scheduler[K, V]) cancelAll() {
	for _, key := range s.cancels.CancelAll() {
		if f, ok := s.inFlight[key]; ok {
			s.slots.Set(key, f.prev)
		}
	}
	for key, prev := range s.queued {
		s.slots.Set(key, prev)
	}

	cancelled := len(s.inFlight)
	inFlightGauge.Sub(float64(cancelled))
	queueLength.Sub(float64(len(s.queue)))
	cancelledTotal.Add(float64(cancelled))

	s.logger.Debug().Int("cancelled", cancelled).Int("discarded", len(s.queue)).Msg("Cancelled all fetches")

	clear(s.inFlight)
	clear(s.queued)
	s.queue = nil
}

func (s *Scheduler[K, V]) snapshot() Snapshot[K, V] {
	inFlight := make([]K, 0, len(s.inFlight))
	for k := range s.inFlight {
		inFlight = append(inFlight, k)
	}
	sort.Slice(inFlight, func(i, j int) bool {
		return s.inFlight[inFlight[i]].seq < s.inFlight[inFlight[j]].seq
	})

	return Snapshot[K, V]{
		Queue:    append([]K(nil), s.queue...),
		InFlight: inFlight,
		Cache:    maps.Clone(s.cache),
		Slots:    s.slots.Copy(),
	}
}
