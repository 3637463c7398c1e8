package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for list pagination, summed across lists.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_pagination_requests_total",
		Help: "Total list page requests by driving slot",
	}, []string{"slot"}) // "primary", "footer"

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gallery_pagination_request_duration_seconds",
		Help:    "Duration of list page requests",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"slot"})

	gapSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_pagination_gap_skips_total",
		Help: "Total automatic continuations past pages that added no items",
	})

	itemsAddedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_pagination_items_added_total",
		Help: "Total new items appended by load-more",
	})

	exhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_pagination_exhausted_total",
		Help: "Total times a list reached its last page",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_pagination_dropped_results_total",
		Help: "Total page responses discarded because they were superseded or cancelled",
	})
)
