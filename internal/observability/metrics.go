package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adrotator_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// candidate fetches by source (primary, fallback) and outcome
	FetchCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_fetch_total",
			Help: "Total creative fetches by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	// fetch latency per source
	FetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adrotator_fetch_duration_seconds",
			Help:    "Duration of creative fetches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// number of creatives returned per fetch
	CandidateCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adrotator_candidates",
			Help:    "Number of candidate creatives per fetch",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
	)

	// gate decisions labelled by entitlement status
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_gate_decisions_total",
			Help: "Eligibility gate decisions by entitlement status",
		},
		[]string{"status"},
	)

	// rotation advances per placement
	RotationCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_rotations_total",
			Help: "Total rotation advances",
		},
		[]string{"placement"},
	)

	// fetch results discarded because the slot was torn down or remounted
	StaleResults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adrotator_stale_results_total",
			Help: "Fetch results discarded after teardown",
		},
	)

	// telemetry events labelled by kind and delivery outcome
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_events_total",
			Help: "Telemetry events by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// number of mounted slots
	ActiveSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adrotator_active_slots",
			Help: "Currently mounted placement slots",
		},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		FetchCount,
		FetchLatency,
		CandidateCount,
		GateDecisions,
		RotationCount,
		StaleResults,
		EventCount,
		ActiveSlots,
	)
}
