// metrics.go registers the daemon's Prometheus metrics with a
// promauto.With(registry)-per-instance pattern so tests can inject a
// hermetic registry.
package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds every Prometheus metric owned by the daemon.
type metrics struct {
	// webhookRequestsTotal counts inbound webhook POSTs, partitioned by
	// outcome: "accepted" or "bad_request". Requests rejected before the
	// webhook handler runs (auth, rate limit) are not counted.
	webhookRequestsTotal *prometheus.CounterVec

	// jobsProcessedTotal counts jobs that reached a terminal or deferred
	// outcome, partitioned by result: "completed", "failed", "deferred",
	// "config_error".
	jobsProcessedTotal *prometheus.CounterVec

	// jobProcessingDuration records wall-clock time spent in processOne,
	// from claim to terminal/deferred outcome.
	jobProcessingDuration prometheus.Histogram

	// sweeperCyclesTotal counts completed sweeper ticks, partitioned by
	// whether the cycle errored.
	sweeperCyclesTotal *prometheus.CounterVec

	// sweeperCycleDuration records the wall-clock duration of each sweeper
	// tick (stuck-job recovery + stale-job processing + cleanup combined).
	sweeperCycleDuration prometheus.Histogram

	// queueDepth reports the number of jobs currently pending or processing,
	// sampled on every /status request.
	queueDepth *prometheus.GaugeVec
}

// newMetrics registers every daemon metric against reg.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		webhookRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "axon",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total number of inbound webhook requests, partitioned by outcome.",
		}, []string{"outcome"}),

		jobsProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "axon",
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Total number of embed jobs that reached a terminal or deferred outcome.",
		}, []string{"result"}),

		jobProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "axon",
			Subsystem: "jobs",
			Name:      "processing_duration_seconds",
			Help:      "Wall-clock duration of processing a single job, from claim to outcome.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),

		sweeperCyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "axon",
			Subsystem: "sweeper",
			Name:      "cycles_total",
			Help:      "Total number of sweeper ticks, partitioned by outcome (ok, error).",
		}, []string{"outcome"}),

		sweeperCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "axon",
			Subsystem: "sweeper",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of one sweeper tick.",
			Buckets:   prometheus.DefBuckets,
		}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "axon",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of jobs currently in a given status.",
		}, []string{"status"}),
	}
}
