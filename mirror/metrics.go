package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMirrorIterations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "galmirror_mirror_iterations_total",
		Help: "Counts started mirror iterations, including ones that found nothing to do.",
	})

	metricItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "galmirror_items_processed_total",
		Help: "Items handled by completed pipeline batches.",
	}, []string{"phase"}) // phase is galleryinfo|info|integrity

	metricFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "galmirror_upstream_fetch_seconds",
		Help:    "A histogram of latencies for fetching one galleryinfo upstream.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"success"}) // success=true|false

	metricIntegrityRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "galmirror_integrity_repairs_total",
		Help: "Counts records the integrity checker deleted and recreated on both stores.",
	})

	metricIntegrityMissing = promauto.NewCounter(prometheus.CounterOpts{
		Name: "galmirror_integrity_missing_total",
		Help: "Counts ids the upstream reported as not found during integrity checks.",
	})

	metricSkipListSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "galmirror_skip_list_size",
		Help: "Number of ids currently excluded from integrity passes.",
	})
)
