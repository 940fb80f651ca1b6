package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pulsemap"

// Metrics holds the Prometheus collectors for the engine.
type Metrics struct {
	// Tract aggregation.
	AggregationPasses   *prometheus.CounterVec // labels: outcome={applied,cleared,superseded,failed}
	AggregationDuration prometheus.Histogram
	OverlayTracts       *prometheus.GaugeVec // labels: rank={low,medium,high,none}

	// Proximity feed.
	ProximityFetches *prometheus.CounterVec // labels: outcome={success,error,superseded}
	NearbyCandidates prometheus.Gauge

	// Reactions.
	ReactionCommits  *prometheus.CounterVec // labels: action={verify,clear}, outcome={success,reconciled,failed}
	HydrationBatches *prometheus.CounterVec // labels: outcome={success,error}

	// Notification queue.
	QueueActions *prometheus.CounterVec // labels: action={verify,clear,skip}
	QueueOpen    prometheus.Gauge
	SeenMarks    prometheus.Counter

	// Point-source ingestion and the remote API.
	FeedPolls      *prometheus.CounterVec // labels: source, outcome={success,error}
	FeedPoints     *prometheus.GaugeVec   // labels: source
	RemoteDuration *prometheus.HistogramVec
}

func newMetrics() *Metrics {
	return &Metrics{
		AggregationPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregation_passes_total",
			Help:      "Tract aggregation passes by outcome.",
		}, []string{"outcome"}),
		AggregationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregation_duration_seconds",
			Help:      "Duration of a tract aggregation pass including the polygon fetch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		OverlayTracts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overlay_tracts",
			Help:      "Tracts in the current overlay by rank.",
		}, []string{"rank"}),
		ProximityFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proximity_fetches_total",
			Help:      "Nearby candidate fetches by outcome.",
		}, []string{"outcome"}),
		NearbyCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nearby_candidates",
			Help:      "Candidates in the latest proximity result.",
		}),
		ReactionCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaction_commits_total",
			Help:      "Reaction commits by action and outcome.",
		}, []string{"action", "outcome"}),
		HydrationBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hydration_batches_total",
			Help:      "Batch reaction hydrations by outcome.",
		}, []string{"outcome"}),
		QueueActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_actions_total",
			Help:      "Notification queue actions taken.",
		}, []string{"action"}),
		QueueOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_open",
			Help:      "1 when the notification queue is open.",
		}),
		SeenMarks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seen_marks_total",
			Help:      "Report ids added to the seen set.",
		}),
		FeedPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_polls_total",
			Help:      "Point-source polls by source and outcome.",
		}, []string{"source", "outcome"}),
		FeedPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_points",
			Help:      "Points held per source after the last successful poll.",
		}, []string{"source"}),
		RemoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Remote API request duration by endpoint.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.AggregationPasses,
		m.AggregationDuration,
		m.OverlayTracts,
		m.ProximityFetches,
		m.NearbyCandidates,
		m.ReactionCommits,
		m.HydrationBatches,
		m.QueueActions,
		m.QueueOpen,
		m.SeenMarks,
		m.FeedPolls,
		m.FeedPoints,
		m.RemoteDuration,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
