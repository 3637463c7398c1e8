package pagination

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/gallery-fetch/pkg/apperr"
	"github.com/Sternrassler/gallery-fetch/pkg/cancel"
	"github.com/Sternrassler/gallery-fetch/pkg/gallery"
	"github.com/Sternrassler/gallery-fetch/pkg/loading"
	"github.com/Sternrassler/gallery-fetch/pkg/merge"
	"github.com/Sternrassler/gallery-fetch/pkg/persist"
	"github.com/rs/zerolog"
)

// DefaultMaxGapSkips bounds consecutive automatic continuations past pages
// that contributed nothing.
const DefaultMaxGapSkips = 16

// ErrInvalidPage is returned by JumpToPage for an index outside 1..Maximum+1.
var ErrInvalidPage = errors.New("pagination: page index out of range")

// Request is one list page request.
type Request struct {
	Query gallery.Query
	// Page is the 0-based page to fetch.
	Page int
	// Cursor is the identity of the last item already held, empty for a
	// first page.
	Cursor string
}

// Page is one list page response.
type Page[T any] struct {
	Number    gallery.PageNumber
	Items     []T
	SortOrder gallery.SortOrder
}

// FetchFunc performs a single page request. It must not retry internally.
type FetchFunc[T any] func(ctx context.Context, req Request) (Page[T], error)

// Slot names the loading slot a request drives.
type Slot string

const (
	SlotPrimary Slot = "primary"
	SlotFooter  Slot = "footer"
)

// Hooks observe engine decisions. They run on the engine goroutine and must
// not call back into the Engine.
type Hooks struct {
	OnRequest  func(slot Slot, req Request)
	OnResponse func(slot Slot, state loading.State)
}

// Config holds engine configuration.
type Config[T any] struct {
	// ScopeID names the persisted record for this list.
	ScopeID string

	// Fetch performs one page request. Required.
	Fetch FetchFunc[T]

	// ID returns the identity of an item. Required.
	ID func(T) string

	// Writer receives a Record after every merge.
	Writer *persist.Writer

	// MaxGapSkips caps consecutive automatic continuations.
	// Zero means DefaultMaxGapSkips.
	MaxGapSkips int

	// FetchTimeout bounds a single request. Zero means no timeout.
	FetchTimeout time.Duration

	Logger zerolog.Logger
	Hooks  Hooks
}

// Record is the persisted form of a list.
type Record[T any] struct {
	Query     gallery.Query      `json:"query"`
	Page      gallery.PageNumber `json:"page"`
	SortOrder gallery.SortOrder  `json:"sort_order,omitempty"`
	Items     []T                `json:"items"`
}

// Snapshot is a consistent copy of engine state.
type Snapshot[T any] struct {
	Query     gallery.Query
	Page      gallery.PageNumber
	SortOrder gallery.SortOrder
	Items     []T
	Primary   loading.State
	Footer    loading.State
}

type pending struct {
	token cancel.Token
	req   Request
	prev  loading.State
}

// Engine drives first-page and load-more fetches for one list.
type Engine[T any] struct {
	cfg    Config[T]
	logger zerolog.Logger

	ctx      context.Context
	stopCtx  context.CancelFunc
	events   chan event
	done     chan struct{}
	closeReq chan struct{}
	closeOne sync.Once

	// Owned by the loop goroutine.
	query     gallery.Query
	items     []T
	page      gallery.PageNumber
	sortOrder gallery.SortOrder
	primary   loading.State
	footer    loading.State
	gapSkips  int
	pending   map[Slot]pending
	cancels   *cancel.Registry[Slot]
}

// New starts an engine bound to parent.
func New[T any](parent context.Context, cfg Config[T]) *Engine[T] {
	if cfg.Fetch == nil {
		panic("pagination: fetch func cannot be nil")
	}
	if cfg.ID == nil {
		panic("pagination: identity func cannot be nil")
	}
	if cfg.MaxGapSkips <= 0 {
		cfg.MaxGapSkips = DefaultMaxGapSkips
	}

	ctx, stop := context.WithCancel(parent)
	e := &Engine[T]{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("scope_id", cfg.ScopeID).Logger(),
		ctx:      ctx,
		stopCtx:  stop,
		events:   make(chan event, 8),
		done:     make(chan struct{}),
		closeReq: make(chan struct{}),
		pending:  make(map[Slot]pending),
		cancels:  cancel.NewRegistry[Slot](),
	}
	go e.loop()
	return e
}

// FetchFirstPage loads page 0 for query, replacing the list. It is a no-op
// while a first-page fetch is in progress.
func (e *Engine[T]) FetchFirstPage(query gallery.Query) {
	e.send(firstPageEvent{query: query})
}

// FetchMore loads the page after the current one and appends it. It is a
// no-op when no further page exists or a fetch is already running.
func (e *Engine[T]) FetchMore() {
	e.send(moreEvent{})
}

// JumpToPage reloads the list starting at the 1-based page index, keeping
// the current query. Returns ErrInvalidPage outside 1..Maximum+1.
func (e *Engine[T]) JumpToPage(index int) error {
	reply := make(chan error, 1)
	if !e.send(jumpEvent{index: index, reply: reply}) {
		return apperr.ErrCancelled
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return apperr.ErrCancelled
	}
}

// Retry repeats the failed operation: the first page if the primary slot
// failed, otherwise load-more if the footer slot failed.
func (e *Engine[T]) Retry() {
	e.send(retryEvent{})
}

// Restore installs a persisted record while no fetch is running.
func (e *Engine[T]) Restore(rec Record[T]) {
	rec.Items = append([]T(nil), rec.Items...)
	e.send(restoreEvent[T]{record: rec})
}

// Snapshot returns a copy of the current state. After Close it returns the
// zero Snapshot.
func (e *Engine[T]) Snapshot() Snapshot[T] {
	reply := make(chan Snapshot[T], 1)
	if !e.send(snapshotEvent[T]{reply: reply}) {
		return Snapshot[T]{}
	}
	select {
	case snap := <-reply:
		return snap
	case <-e.done:
		return Snapshot[T]{}
	}
}

// Close cancels any running fetch and stops the engine.
func (e *Engine[T]) Close() {
	e.closeOne.Do(func() { close(e.closeReq) })
	<-e.done
}

func (e *Engine[T]) send(ev event) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine[T]) loop() {
	defer close(e.done)
	for {
		select {
		case ev := <-e.events:
			e.handle(ev)
		case <-e.closeReq:
			e.cancels.CancelAll()
			clear(e.pending)
			e.stopCtx()
			e.logger.Debug().Msg("Pagination engine closed")
			return
		}
	}
}

func (e *Engine[T]) handle(ev event) {
	switch ev := ev.(type) {
	case firstPageEvent:
		e.fetchFirstPage(ev.query, 0)

	case moreEvent:
		e.fetchMore()

	case jumpEvent:
		if !e.page.ValidJump(ev.index) {
			ev.reply <- ErrInvalidPage
			return
		}
		ev.reply <- nil
		e.fetchFirstPage(e.query, ev.index-1)

	case retryEvent:
		switch {
		case e.primary.IsFailed():
			e.fetchFirstPage(e.query, 0)
		case e.footer.IsFailed():
			e.fetchMore()
		}

	case restoreEvent[T]:
		if e.primary.IsLoading() || e.footer.IsLoading() {
			return
		}
		e.query = ev.record.Query
		e.page = ev.record.Page
		e.sortOrder = ev.record.SortOrder
		e.items = merge.Replace(ev.record.Items, e.cfg.ID)

	case completeEvent[T]:
		e.complete(ev)

	case snapshotEvent[T]:
		ev.reply <- Snapshot[T]{
			Query:     e.query,
			Page:      e.page,
			SortOrder: e.sortOrder,
			Items:     append([]T(nil), e.items...),
			Primary:   e.primary,
			Footer:    e.footer,
		}

	default:
		panic("pagination: unhandled event type")
	}
}

func (e *Engine[T]) fetchFirstPage(query gallery.Query, target int) {
	if e.primary.IsLoading() {
		e.logger.Debug().Msg("First page already loading")
		return
	}

	// A new first page supersedes any load-more still running.
	if p, ok := e.pending[SlotFooter]; ok {
		e.cancels.Cancel(SlotFooter)
		delete(e.pending, SlotFooter)
		e.footer.Restore(p.prev)
	}

	prev := e.primary
	e.primary.Begin()
	e.query = query
	e.page.Current = 0
	e.gapSkips = 0

	e.dispatch(SlotPrimary, Request{Query: query, Page: target}, prev)
}

func (e *Engine[T]) fetchMore() {
	if !e.page.HasNext() || e.footer.IsLoading() || e.primary.IsLoading() {
		return
	}

	prev := e.footer
	e.footer.Begin()
	e.dispatch(SlotFooter, Request{
		Query:  e.query,
		Page:   e.page.Current + 1,
		Cursor: e.lastID(),
	}, prev)
}

func (e *Engine[T]) lastID() string {
	if len(e.items) == 0 {
		return ""
	}
	return e.cfg.ID(e.items[len(e.items)-1])
}

func (e *Engine[T]) dispatch(slot Slot, req Request, prev loading.State) {
	ctx, token := e.cancels.Register(e.ctx, slot)
	e.pending[slot] = pending{token: token, req: req, prev: prev}

	requestsTotal.WithLabelValues(string(slot)).Inc()
	e.logger.Debug().
		Str("slot", string(slot)).
		Int("page", req.Page).
		Str("cursor", req.Cursor).
		Msg("Requesting page")

	if e.cfg.Hooks.OnRequest != nil {
		e.cfg.Hooks.OnRequest(slot, req)
	}

	go e.run(ctx, slot, token, req)
}

func (e *Engine[T]) run(ctx context.Context, slot Slot, token cancel.Token, req Request) {
	if e.cfg.FetchTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancelTimeout()
	}

	start := time.Now()
	page, err := e.cfg.Fetch(ctx, req)
	requestDuration.WithLabelValues(string(slot)).Observe(time.Since(start).Seconds())

	e.send(completeEvent[T]{slot: slot, token: token, page: page, err: err})
}

func (e *Engine[T]) slot(s Slot) *loading.State {
	if s == SlotPrimary {
		return &e.primary
	}
	return &e.footer
}

func (e *Engine[T]) complete(ev completeEvent[T]) {
	p, ok := e.pending[ev.slot]
	if !ok || p.token != ev.token || !e.cancels.Release(ev.slot, ev.token) {
		droppedTotal.Inc()
		return
	}
	delete(e.pending, ev.slot)
	state := e.slot(ev.slot)

	switch {
	case ev.err != nil && apperr.IsCancelled(ev.err):
		state.Restore(p.prev)

	case ev.err != nil:
		kind := apperr.KindOf(ev.err)
		state.Fail(kind)
		e.logger.Warn().
			Err(ev.err).
			Str("slot", string(ev.slot)).
			Int("page", p.req.Page).
			Str("error_kind", string(kind)).
			Msg("Page fetch failed")

	default:
		number := ev.page.Number
		// Current must advance on every step for continuation to terminate.
		if number.Current < p.req.Page {
			number.Current = p.req.Page
		}
		if ev.slot == SlotPrimary {
			e.completeFirstPage(p, number, ev.page)
		} else {
			e.completeMore(p, number, ev.page)
		}
	}

	if e.cfg.Hooks.OnResponse != nil {
		e.cfg.Hooks.OnResponse(ev.slot, *state)
	}
}

func (e *Engine[T]) completeFirstPage(p pending, number gallery.PageNumber, page Page[T]) {
	e.page = number
	if page.SortOrder != "" {
		e.sortOrder = page.SortOrder
	}

	if len(page.Items) > 0 {
		e.items = merge.Replace(page.Items, e.cfg.ID)
		e.gapSkips = 0
		e.primary.Succeed()
		e.persist()
		e.logger.Info().
			Int("page", number.Current).
			Int("maximum", number.Maximum).
			Int("items", len(e.items)).
			Msg("First page loaded")
		return
	}

	if number.Exhausted() {
		e.items = nil
		e.primary.Fail(apperr.KindNotFound)
		exhaustedTotal.Inc()
		e.logger.Info().Int("page", number.Current).Msg("List is empty")
		return
	}

	// The page existed but yielded nothing; keep the primary slot loading
	// and move on to the next page.
	if !e.skipGap(SlotPrimary) {
		return
	}
	e.dispatch(SlotPrimary, Request{Query: e.query, Page: number.Current + 1}, p.prev)
}

func (e *Engine[T]) completeMore(p pending, number gallery.PageNumber, page Page[T]) {
	e.page = number
	if page.SortOrder != "" {
		e.sortOrder = page.SortOrder
	}

	var added int
	e.items, added = merge.Append(e.items, page.Items, e.cfg.ID)
	itemsAddedTotal.Add(float64(added))
	e.footer.Succeed()
	e.persist()

	e.logger.Info().
		Int("page", number.Current).
		Int("maximum", number.Maximum).
		Int("received", len(page.Items)).
		Int("added", added).
		Msg("Page appended")

	if added > 0 {
		e.gapSkips = 0
		return
	}
	if number.Exhausted() {
		exhaustedTotal.Inc()
		return
	}
	if !e.skipGap(SlotFooter) {
		return
	}
	e.fetchMore()
}

// skipGap counts one automatic continuation for slot and reports whether
// another one is allowed.
func (e *Engine[T]) skipGap(slot Slot) bool {
	e.gapSkips++
	gapSkipsTotal.Inc()
	if e.gapSkips <= e.cfg.MaxGapSkips {
		return true
	}

	e.logger.Warn().
		Int("gap_skips", e.gapSkips).
		Int("current", e.page.Current).
		Int("maximum", e.page.Maximum).
		Msg("Too many empty pages in a row, giving up")
	e.slot(slot).Fail(apperr.KindNotFound)
	e.gapSkips = 0
	return false
}

func (e *Engine[T]) persist() {
	e.cfg.Writer.Write(e.cfg.ScopeID, Record[T]{
		Query:     e.query,
		Page:      e.page,
		SortOrder: e.sortOrder,
		Items:     append([]T(nil), e.items...),
	})
}
