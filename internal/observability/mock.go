package observability

import (
	"strings"
	"sync"
	"time"
)

// MockMetricsRegistry counts calls by metric name and labels so tests can
// assert on them. Keys look like "fetch/fallback/success".
type MockMetricsRegistry struct {
	mu     sync.Mutex
	counts map[string]int
	gauges map[string]int
}

// NewMockMetricsRegistry returns an empty MockMetricsRegistry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		counts: make(map[string]int),
		gauges: make(map[string]int),
	}
}

func (m *MockMetricsRegistry) inc(parts ...string) {
	m.mu.Lock()
	m.counts[strings.Join(parts, "/")]++
	m.mu.Unlock()
}

// Count returns how many times the metric identified by parts was recorded.
func (m *MockMetricsRegistry) Count(parts ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[strings.Join(parts, "/")]
}

// Gauge returns the last value set for a gauge.
func (m *MockMetricsRegistry) Gauge(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.inc("requests", endpoint, method, status)
}
func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (m *MockMetricsRegistry) IncrementFetch(source, outcome string) {
	m.inc("fetch", source, outcome)
}
func (m *MockMetricsRegistry) RecordFetchLatency(source string, duration time.Duration) {}
func (m *MockMetricsRegistry) RecordCandidates(n int)                                   {}
func (m *MockMetricsRegistry) IncrementGateDecision(status string) {
	m.inc("gate", status)
}
func (m *MockMetricsRegistry) IncrementRotations(placement string) {
	m.inc("rotations", placement)
}
func (m *MockMetricsRegistry) IncrementStaleResults() {
	m.inc("stale")
}
func (m *MockMetricsRegistry) SetActiveSlots(n int) {
	m.mu.Lock()
	m.gauges["active_slots"] = n
	m.mu.Unlock()
}
func (m *MockMetricsRegistry) IncrementEvent(kind, outcome string) {
	m.inc("events", kind, outcome)
}
