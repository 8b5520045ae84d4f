package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// Components receive it by injection rather than touching the Prometheus
// globals directly.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Fetch metrics
	IncrementFetch(source, outcome string)
	RecordFetchLatency(source string, duration time.Duration)
	RecordCandidates(n int)

	// Eligibility gate metrics
	IncrementGateDecision(status string)

	// Rotation metrics
	IncrementRotations(placement string)
	IncrementStaleResults()
	SetActiveSlots(n int)

	// Telemetry metrics
	IncrementEvent(kind, outcome string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Fetch metrics
func (r *PrometheusRegistry) IncrementFetch(source, outcome string) {
	FetchCount.WithLabelValues(source, outcome).Inc()
}

func (r *PrometheusRegistry) RecordFetchLatency(source string, duration time.Duration) {
	FetchLatency.WithLabelValues(source).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) RecordCandidates(n int) {
	CandidateCount.Observe(float64(n))
}

func (r *PrometheusRegistry) IncrementGateDecision(status string) {
	GateDecisions.WithLabelValues(status).Inc()
}

// Rotation metrics
func (r *PrometheusRegistry) IncrementRotations(placement string) {
	RotationCount.WithLabelValues(placement).Inc()
}

func (r *PrometheusRegistry) IncrementStaleResults() {
	StaleResults.Inc()
}

func (r *PrometheusRegistry) SetActiveSlots(n int) {
	ActiveSlots.Set(float64(n))
}

func (r *PrometheusRegistry) IncrementEvent(kind, outcome string) {
	EventCount.WithLabelValues(kind, outcome).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementFetch(source, outcome string)                                {}
func (r *NoOpRegistry) RecordFetchLatency(source string, duration time.Duration)             {}
func (r *NoOpRegistry) RecordCandidates(n int)                                               {}
func (r *NoOpRegistry) IncrementGateDecision(status string)                                  {}
func (r *NoOpRegistry) IncrementRotations(placement string)                                  {}
func (r *NoOpRegistry) IncrementStaleResults()                                               {}
func (r *NoOpRegistry) SetActiveSlots(n int)                                                 {}
func (r *NoOpRegistry) IncrementEvent(kind, outcome string)                                  {}
