// Package previews wires a bounded scheduler to the gallery client for the
// preview grid of one gallery.
//
// Previews are addressed by 1-based index. Requests are normalized to the
// first index of their detail page so that indices sharing a page share one
// fetch, queue entry and loading slot.
package previews

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/gallery-fetch/pkg/apperr"
	"github.com/Sternrassler/gallery-fetch/pkg/gallery"
	"github.com/Sternrassler/gallery-fetch/pkg/loading"
	"github.com/Sternrassler/gallery-fetch/pkg/persist"
	"github.com/Sternrassler/gallery-fetch/pkg/scheduler"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultPrefetchLimit caps how many previews one Prefetch call covers.
const DefaultPrefetchLimit = 10

// Fetcher loads one detail page of previews keyed by 1-based index.
type Fetcher interface {
	FetchPreviews(ctx context.Context, g gallery.Gallery, page int) (map[int]string, error)
}

// Config holds scope configuration.
type Config struct {
	Fetcher Fetcher

	// Store restores previews on Open; Writer persists them after merges.
	Store  persist.Store
	Writer *persist.Writer

	Layout        gallery.PreviewConfig
	PrefetchLimit int
	FetchTimeout  time.Duration

	Logger zerolog.Logger
	Hooks  scheduler.Hooks[int]
}

// Snapshot is a copy of scope state.
type Snapshot struct {
	Header   loading.State
	Previews map[int]string
	// Slots holds non-idle batch slots keyed by the batch's first index.
	Slots map[int]loading.State
}

// Scope owns the preview fetches of one gallery screen.
type Scope struct {
	id      uuid.UUID
	scopeID string
	cfg     Config
	logger  zerolog.Logger

	detail atomic.Pointer[gallery.Gallery]
	sched  *scheduler.Scheduler[int, string]

	mu     sync.Mutex
	header loading.State
}

// ScopeID returns the persistence scope for gallery gid.
func ScopeID(gid string) string {
	return "previews:" + gid
}

// New creates a scope for g. Previews are only fetched once g carries
// detail information (a token); see SetDetail.
func New(ctx context.Context, g gallery.Gallery, cfg Config) *Scope {
	if cfg.Fetcher == nil {
		panic("previews: fetcher cannot be nil")
	}
	if cfg.Layout.Mode == "" {
		cfg.Layout = gallery.DefaultPreviewConfig()
	}
	if cfg.PrefetchLimit <= 0 {
		cfg.PrefetchLimit = DefaultPrefetchLimit
	}

	s := &Scope{
		id:      uuid.New(),
		scopeID: ScopeID(g.ID),
		cfg:     cfg,
	}
	s.logger = cfg.Logger.With().Str("scope", s.id.String()).Str("gid", g.ID).Logger()
	s.SetDetail(g)

	s.sched = scheduler.New(ctx, scheduler.Config[int, string]{
		ScopeID:      s.scopeID,
		Fetch:        s.fetch,
		Ready:        s.ready,
		Writer:       cfg.Writer,
		FetchTimeout: cfg.FetchTimeout,
		Logger:       s.logger,
		Hooks:        cfg.Hooks,
	})
	return s
}

// Open creates a scope for g and restores persisted previews.
func Open(ctx context.Context, g gallery.Gallery, cfg Config) *Scope {
	s := New(ctx, g, cfg)
	s.Restore(ctx)
	return s
}

// ID returns the unique id of this scope instance.
func (s *Scope) ID() string {
	return s.id.String()
}

// Restore loads persisted previews into the cache. It drives the header
// slot: loading while reading, idle afterwards. A storage failure is
// logged and leaves the scope empty.
func (s *Scope) Restore(ctx context.Context) {
	if s.cfg.Store == nil {
		return
	}
	s.mu.Lock()
	begun := s.header.Begin()
	s.mu.Unlock()
	if !begun {
		return
	}

	var previews map[int]string
	err := s.cfg.Store.Load(ctx, s.scopeID, &previews)

	switch {
	case err == nil:
		s.sched.Restore(previews)
		s.logger.Info().Int("previews", len(previews)).Msg("Restored previews")
	case errors.Is(err, persist.ErrNotFound):
	case apperr.IsCancelled(err):
	default:
		s.logger.Warn().
			Err(apperr.New(apperr.KindStorage, "load previews", err)).
			Msg("Could not restore previews")
	}

	s.mu.Lock()
	s.header.Succeed()
	s.mu.Unlock()
}

// SetDetail updates the gallery detail used for fetching. Batches that
// reach the front of the queue before a token is known are dropped and
// must be requested again.
func (s *Scope) SetDetail(g gallery.Gallery) {
	s.detail.Store(&g)
}

// ready is the dispatch precondition: the gallery detail is known.
func (s *Scope) ready(int) bool {
	g := s.detail.Load()
	return g != nil && g.Token != ""
}

func (s *Scope) fetch(ctx context.Context, key int) (map[int]string, error) {
	g := s.detail.Load()
	return s.cfg.Fetcher.FetchPreviews(ctx, *g, s.cfg.Layout.PageNumber(key))
}

// batchKey returns the scheduling key of the batch holding index.
func (s *Scope) batchKey(index int) int {
	lower, _ := s.cfg.Layout.BatchRange(index)
	return lower
}

// Fetch requests the batch holding preview index unless the preview is
// already cached. It returns the cached URL when there is one.
func (s *Scope) Fetch(index int) (string, bool) {
	if index < 1 {
		return "", false
	}
	if u, ok := s.sched.Snapshot().Cache[index]; ok {
		return u, true
	}
	s.sched.Enqueue(s.batchKey(index))
	return "", false
}

// Prefetch requests every batch covering indices from..from+n-1 that is
// not cached yet, in order, and returns the number of batches requested.
// n is capped by the prefetch limit.
func (s *Scope) Prefetch(from, n int) int {
	if from < 1 {
		from = 1
	}
	n = min(n, s.cfg.PrefetchLimit)
	if n <= 0 {
		return 0
	}

	cache := s.sched.Snapshot().Cache
	var keys []int
	seen := make(map[int]bool)
	for index := from; index < from+n; index++ {
		if _, ok := cache[index]; ok {
			continue
		}
		key := s.batchKey(index)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	s.sched.Enqueue(keys...)
	return len(keys)
}

// Retry re-requests the batch holding index if its slot failed.
func (s *Scope) Retry(index int) {
	s.sched.Retry(s.batchKey(index))
}

// State returns the loading state of the batch holding index.
func (s *Scope) State(index int) loading.State {
	return s.sched.Snapshot().Slots[s.batchKey(index)]
}

// Snapshot returns a copy of the scope state.
func (s *Scope) Snapshot() Snapshot {
	snap := s.sched.Snapshot()
	s.mu.Lock()
	header := s.header
	s.mu.Unlock()
	return Snapshot{Header: header, Previews: snap.Cache, Slots: snap.Slots}
}

// Teardown cancels every fetch and stops the scope. Late results are
// discarded.
func (s *Scope) Teardown() {
	s.sched.Close()
	s.logger.Debug().Msg("Preview scope torn down")
}
