// Package persist defines the persistence collaborator contract and the
// fire-and-forget writer the orchestration layer uses to call it.
package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/gallery-fetch/pkg/apperr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Load when nothing is stored for a scope.
var ErrNotFound = errors.New("persist: scope not found")

// Prometheus metrics for persistence side effects.
var (
	upsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_persist_upserts_total",
		Help: "Total persistence upserts by result",
	}, []string{"result"}) // "ok", "error"

	upsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gallery_persist_upsert_duration_seconds",
		Help:    "Duration of persistence upserts",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

// Store is the persistence collaborator. Values are JSON-serializable
// snapshots of a scope's result cache or item list.
type Store interface {
	// Upsert writes value for scopeID, replacing what was there.
	Upsert(ctx context.Context, scopeID string, value any) error

	// Load decodes the value stored for scopeID into dest.
	// Returns ErrNotFound when nothing is stored.
	Load(ctx context.Context, scopeID string, dest any) error
}

// DefaultTimeout bounds a single background upsert.
const DefaultTimeout = 5 * time.Second

// Writer fires upserts in the background. Failures are logged and counted,
// never returned.
type Writer struct {
	store   Store
	logger  zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewWriter creates a writer for store. A nil store yields a writer that
// drops every value.
func NewWriter(store Store, logger zerolog.Logger) *Writer {
	return &Writer{
		store:   store,
		logger:  logger,
		timeout: DefaultTimeout,
	}
}

// SetTimeout overrides the per-upsert timeout.
func (w *Writer) SetTimeout(d time.Duration) {
	if d > 0 {
		w.timeout = d
	}
}

// Write schedules an upsert of value under scopeID and returns immediately.
// The caller must not mutate value afterwards.
func (w *Writer) Write(scopeID string, value any) {
	if w == nil || w.store == nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		start := time.Now()
		err := w.store.Upsert(ctx, scopeID, value)
		upsertDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			upsertsTotal.WithLabelValues("error").Inc()
			w.logger.Warn().
				Err(apperr.New(apperr.KindStorage, "upsert", err)).
				Str("scope_id", scopeID).
				Msg("Persistence upsert failed")
			return
		}
		upsertsTotal.WithLabelValues("ok").Inc()
		w.logger.Debug().Str("scope_id", scopeID).Msg("Persisted scope")
	}()
}

// Wait blocks until every scheduled upsert has finished.
// Used on shutdown and in tests; request paths never call it.
func (w *Writer) Wait() {
	if w == nil {
		return
	}
	w.wg.Wait()
}
