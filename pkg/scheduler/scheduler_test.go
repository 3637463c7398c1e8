package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/gallery-fetch/pkg/apperr"
	"github.com/Sternrassler/gallery-fetch/pkg/persist"
	"github.com/rs/zerolog"
)

const waitTimeout = 2 * time.Second

type result struct {
	values map[int]string
	err    error
}

// gatedFetcher blocks every fetch until the test releases its key.
type gatedFetcher struct {
	mu    sync.Mutex
	gates map[int]chan result
	calls map[int]int
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{
		gates: make(map[int]chan result),
		calls: make(map[int]int),
	}
}

func (f *gatedFetcher) gate(key int) chan result {
	g, ok := f.gates[key]
	if !ok {
		g = make(chan result, 1)
		f.gates[key] = g
	}
	return g
}

func (f *gatedFetcher) fetch(ctx context.Context, key int) (map[int]string, error) {
	f.mu.Lock()
	f.calls[key]++
	g := f.gate(key)
	f.mu.Unlock()

	select {
	case r := <-g:
		return r.values, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *gatedFetcher) release(key int, values map[int]string, err error) {
	f.mu.Lock()
	g := f.gate(key)
	f.mu.Unlock()
	g <- result{values: values, err: err}
}

func (f *gatedFetcher) callCount(key int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type harness struct {
	s          *Scheduler[int, string]
	fetcher    *gatedFetcher
	dispatched chan int
	completed  chan Outcome
	skipped    chan int
}

func newHarness(t *testing.T, mutate func(*Config[int, string])) *harness {
	t.Helper()

	h := &harness{
		fetcher:    newGatedFetcher(),
		dispatched: make(chan int, 64),
		completed:  make(chan Outcome, 64),
		skipped:    make(chan int, 64),
	}
	cfg := Config[int, string]{
		ScopeID: "previews:test",
		Fetch:   h.fetcher.fetch,
		Logger:  zerolog.Nop(),
		Hooks: Hooks[int]{
			OnDispatch: func(key int) { h.dispatched <- key },
			OnSkip:     func(key int) { h.skipped <- key },
			OnComplete: func(_ int, o Outcome) { h.completed <- o },
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.s = New(context.Background(), cfg)
	t.Cleanup(h.s.Close)
	return h
}

func (h *harness) expectDispatch(t *testing.T, want ...int) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-h.dispatched:
			if got != w {
				t.Fatalf("dispatched key %d, want %d", got, w)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for dispatch of key %d", w)
		}
	}
}

func (h *harness) expectNoDispatch(t *testing.T) {
	t.Helper()
	select {
	case got := <-h.dispatched:
		t.Fatalf("unexpected dispatch of key %d", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) expectComplete(t *testing.T, want Outcome) {
	t.Helper()
	select {
	case got := <-h.completed:
		if got != want {
			t.Fatalf("completion outcome = %s, want %s", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s completion", want)
	}
}

func TestScheduler_FIFOWithLimit(t *testing.T) {
	h := newHarness(t, nil)

	h.s.Enqueue(1, 2, 3, 4, 5)
	h.expectDispatch(t, 1, 2, 3)
	h.expectNoDispatch(t)

	snap := h.s.Snapshot()
	if !reflect.DeepEqual(snap.InFlight, []int{1, 2, 3}) {
		t.Errorf("InFlight = %v, want [1 2 3]", snap.InFlight)
	}
	if !reflect.DeepEqual(snap.Queue, []int{4, 5}) {
		t.Errorf("Queue = %v, want [4 5]", snap.Queue)
	}
	for _, k := range []int{1, 2, 3} {
		if !snap.Slots[k].IsLoading() {
			t.Errorf("slot %d = %v, want loading", k, snap.Slots[k])
		}
	}

	h.fetcher.release(2, map[int]string{2: "u2"}, nil)
	h.expectDispatch(t, 4)

	snap = h.s.Snapshot()
	if !reflect.DeepEqual(snap.Queue, []int{5}) {
		t.Errorf("Queue after key 2 completed = %v, want [5]", snap.Queue)
	}
	if !reflect.DeepEqual(snap.InFlight, []int{1, 3, 4}) {
		t.Errorf("InFlight after key 2 completed = %v, want [1 3 4]", snap.InFlight)
	}
}

func TestScheduler_EnqueueDedup(t *testing.T) {
	h := newHarness(t, nil)

	h.s.Enqueue(1)
	h.expectDispatch(t, 1)
	h.s.Enqueue(1)
	h.s.Enqueue(2, 3, 4, 4, 4)
	h.expectDispatch(t, 2, 3)

	snap := h.s.Snapshot()
	if !reflect.DeepEqual(snap.Queue, []int{4}) {
		t.Errorf("Queue = %v, want [4]", snap.Queue)
	}

	h.fetcher.release(1, map[int]string{1: "u1"}, nil)
	h.expectComplete(t, OutcomeOK)
	h.expectDispatch(t, 4)

	if n := h.fetcher.callCount(1); n != 1 {
		t.Errorf("key 1 fetched %d times, want 1", n)
	}
}

func TestScheduler_Invariants(t *testing.T) {
	h := newHarness(t, nil)

	keys := []int{1, 2, 3, 4, 5, 6, 7, 8, 2, 3, 9, 1}
	h.s.Enqueue(keys...)

	check := func() {
		t.Helper()
		snap := h.s.Snapshot()
		if len(snap.InFlight) > Limit {
			t.Fatalf("|InFlight| = %d > %d", len(snap.InFlight), Limit)
		}
		seen := make(map[int]bool)
		for _, k := range snap.Queue {
			if seen[k] {
				t.Fatalf("duplicate key %d in queue %v", k, snap.Queue)
			}
			seen[k] = true
		}
		for _, k := range snap.InFlight {
			if seen[k] {
				t.Fatalf("key %d both queued and in flight", k)
			}
		}
	}

	check()
	released := make(map[int]bool)
	for i := 0; i < 9; i++ {
		var key int
		select {
		case key = <-h.dispatched:
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for dispatch #%d", i+1)
		}
		if released[key] {
			t.Fatalf("key %d dispatched twice", key)
		}
		released[key] = true
		check()
		if i%2 == 0 {
			h.fetcher.release(key, nil, apperr.New(apperr.KindNetwork, "fetch", nil))
		} else {
			h.fetcher.release(key, map[int]string{key: "u"}, nil)
		}
	}

	h.expectNoDispatch(t)
	check()
}

func TestScheduler_FailureIsolation(t *testing.T) {
	h := newHarness(t, nil)

	h.s.Enqueue(1, 2, 3, 4)
	h.expectDispatch(t, 1, 2, 3)

	h.fetcher.release(1, nil, apperr.New(apperr.KindNetwork, "fetch", errors.New("reset")))
	h.expectComplete(t, OutcomeFailed)
	h.expectDispatch(t, 4)

	h.fetcher.release(2, nil, apperr.New(apperr.KindParse, "decode", nil))
	h.expectComplete(t, OutcomeFailed)

	h.fetcher.release(3, map[int]string{}, nil)
	h.expectComplete(t, OutcomeNotFound)

	snap := h.s.Snapshot()
	if got := snap.Slots[1]; got.Kind != apperr.KindNetwork || !got.IsFailed() {
		t.Errorf("slot 1 = %v, want failed(network)", got)
	}
	if got := snap.Slots[2]; got.Kind != apperr.KindParse {
		t.Errorf("slot 2 = %v, want failed(parse)", got)
	}
	if got := snap.Slots[3]; got.Kind != apperr.KindNotFound {
		t.Errorf("slot 3 = %v, want failed(not_found)", got)
	}
	if !snap.Slots[4].IsLoading() {
		t.Errorf("slot 4 = %v, want loading", snap.Slots[4])
	}

	// Terminal states are not retried automatically.
	h.expectNoDispatch(t)
}

func TestScheduler_MergeExistingWins(t *testing.T) {
	h := newHarness(t, nil)

	h.s.Enqueue(1, 2)
	h.expectDispatch(t, 1, 2)

	h.fetcher.release(1, map[int]string{1: "a", 2: "b"}, nil)
	h.expectComplete(t, OutcomeOK)
	h.fetcher.release(2, map[int]string{2: "stale", 3: "c"}, nil)
	h.expectComplete(t, OutcomeOK)

	snap := h.s.Snapshot()
	want := map[int]string{1: "a", 2: "b", 3: "c"}
	if !reflect.DeepEqual(snap.Cache, want) {
		t.Errorf("Cache = %v, want %v", snap.Cache, want)
	}
	if len(snap.Slots) != 0 {
		t.Errorf("Slots = %v, want all idle", snap.Slots)
	}
}

func TestScheduler_PreconditionSkips(t *testing.T) {
	h := newHarness(t, func(cfg *Config[int, string]) {
		cfg.Ready = func(key int) bool { return key != 2 }
	})

	h.s.Enqueue(1, 2, 3, 4)
	h.expectDispatch(t, 1, 3, 4)

	select {
	case key := <-h.skipped:
		if key != 2 {
			t.Errorf("skipped key %d, want 2", key)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for skip")
	}

	snap := h.s.Snapshot()
	if len(snap.Queue) != 0 {
		t.Errorf("Queue = %v, want empty", snap.Queue)
	}
	if !snap.Slots[2].IsIdle() {
		t.Errorf("skipped slot = %v, want idle", snap.Slots[2])
	}
	if n := h.fetcher.callCount(2); n != 0 {
		t.Errorf("key 2 fetched %d times, want 0", n)
	}
}

func TestScheduler_CancelAll(t *testing.T) {
	h := newHarness(t, nil)

	h.s.Enqueue(1, 2, 3, 4, 5)
	h.expectDispatch(t, 1, 2, 3)

	h.s.CancelAll()

	snap := h.s.Snapshot()
	if len(snap.InFlight) != 0 || len(snap.Queue) != 0 {
		t.Fatalf("after CancelAll InFlight=%v Queue=%v, want both empty", snap.InFlight, snap.Queue)
	}
	if len(snap.Slots) != 0 {
		t.Errorf("Slots = %v, want pre-dispatch (idle) states", snap.Slots)
	}

	// Late results of cancelled units are never processed.
	for _, k := range []int{1, 2, 3} {
		h.fetcher.release(k, map[int]string{k: "late"}, nil)
	}
	select {
	case o := <-h.completed:
		t.Fatalf("completion %s processed for cancelled unit", o)
	case <-time.After(100 * time.Millisecond):
	}
	h.expectNoDispatch(t)

	if snap := h.s.Snapshot(); len(snap.Cache) != 0 {
		t.Errorf("Cache = %v, want empty", snap.Cache)
	}
}

func TestScheduler_RetryFailed(t *testing.T) {
	h := newHarness(t, nil)

	h.s.Enqueue(7)
	h.expectDispatch(t, 7)
	h.fetcher.release(7, nil, apperr.ErrNotFound)
	h.expectComplete(t, OutcomeFailed)

	h.s.Retry(7)
	h.expectDispatch(t, 7)
	if snap := h.s.Snapshot(); !snap.Slots[7].IsLoading() {
		t.Errorf("slot after Retry = %v, want loading", snap.Slots[7])
	}

	h.fetcher.release(7, map[int]string{7: "u7"}, nil)
	h.expectComplete(t, OutcomeOK)

	snap := h.s.Snapshot()
	if !snap.Slots[7].IsIdle() {
		t.Errorf("slot after success = %v, want idle", snap.Slots[7])
	}
	if snap.Cache[7] != "u7" {
		t.Errorf("Cache[7] = %q, want u7", snap.Cache[7])
	}

	// Retry on a non-failed key does nothing.
	h.s.Retry(7)
	h.expectNoDispatch(t)
}

func TestScheduler_CancelledResultRestoresSlot(t *testing.T) {
	h := newHarness(t, nil)

	h.s.Enqueue(1)
	h.expectDispatch(t, 1)
	h.fetcher.release(1, nil, apperr.ErrCancelled)
	h.expectComplete(t, OutcomeCancelled)

	if snap := h.s.Snapshot(); !snap.Slots[1].IsIdle() {
		t.Errorf("slot after cancelled fetch = %v, want idle", snap.Slots[1])
	}
}

func TestScheduler_PersistsAndRestores(t *testing.T) {
	store := persist.NewMemory()
	writer := persist.NewWriter(store, zerolog.Nop())

	h := newHarness(t, func(cfg *Config[int, string]) {
		cfg.Writer = writer
	})

	h.s.Restore(map[int]string{1: "from-db"})
	h.s.Enqueue(1)
	h.expectDispatch(t, 1)
	h.fetcher.release(1, map[int]string{1: "from-net", 2: "u2"}, nil)
	h.expectComplete(t, OutcomeOK)
	writer.Wait()

	var stored map[int]string
	if err := store.Load(context.Background(), "previews:test", &stored); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := map[int]string{1: "from-db", 2: "u2"}
	if !reflect.DeepEqual(stored, want) {
		t.Errorf("persisted = %v, want %v", stored, want)
	}
}

func TestScheduler_FetchTimeout(t *testing.T) {
	h := newHarness(t, func(cfg *Config[int, string]) {
		cfg.FetchTimeout = 20 * time.Millisecond
	})

	h.s.Enqueue(1)
	h.expectDispatch(t, 1)
	h.expectComplete(t, OutcomeFailed)

	if snap := h.s.Snapshot(); snap.Slots[1].Kind != apperr.KindNetwork {
		t.Errorf("slot after timeout = %v, want failed(network)", snap.Slots[1])
	}
}

func TestScheduler_Close(t *testing.T) {
	h := newHarness(t, nil)

	h.s.Enqueue(1, 2)
	h.expectDispatch(t, 1, 2)

	h.s.Close()
	h.s.Close()

	snap := h.s.Snapshot()
	if snap.Queue != nil || snap.InFlight != nil || snap.Cache != nil {
		t.Errorf("Snapshot after Close = %+v, want zero", snap)
	}
	h.s.Enqueue(3)
	h.s.CancelAll()
}

func TestNew_PanicsWithoutFetch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("New should panic with nil fetch func")
		}
	}()
	New(context.Background(), Config[int, string]{})
}
