package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for scheduler operations, summed across scopes.
var (
	dispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_scheduler_dispatched_total",
		Help: "Total fetches dispatched by the bounded scheduler",
	})

	completedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_scheduler_completed_total",
		Help: "Total scheduler fetch completions by outcome",
	}, []string{"outcome"}) // "ok", "failed", "not_found", "cancelled"

	skippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_scheduler_skipped_total",
		Help: "Total queued keys dropped because their precondition failed",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_scheduler_dropped_results_total",
		Help: "Total completions discarded because their fetch was cancelled",
	})

	cancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_scheduler_cancelled_total",
		Help: "Total in-flight fetches cancelled by teardown",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_scheduler_retries_total",
		Help: "Total user-initiated retries of failed keys",
	})

	inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gallery_scheduler_in_flight",
		Help: "Fetches currently in flight",
	})

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gallery_scheduler_queue_length",
		Help: "Keys waiting in scheduler queues",
	})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gallery_scheduler_fetch_duration_seconds",
		Help:    "Duration of scheduled fetches",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})
)
