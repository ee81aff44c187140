package observability

import (
	"strings"
	"sync"
	"time"
)

// MockMetricsRegistry records every metric call so tests can assert on them.
type MockMetricsRegistry struct {
	mu      sync.Mutex
	counts  map[string]int
	entries int
	timings map[string]int
}

// NewMockMetricsRegistry returns an empty recording registry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		counts:  make(map[string]int),
		timings: make(map[string]int),
	}
}

func metricKey(name string, labels ...string) string {
	return name + "{" + strings.Join(labels, ",") + "}"
}

func (m *MockMetricsRegistry) inc(name string, labels ...string) {
	m.mu.Lock()
	m.counts[metricKey(name, labels...)]++
	m.mu.Unlock()
}

func (m *MockMetricsRegistry) observe(name string, labels ...string) {
	m.mu.Lock()
	m.timings[metricKey(name, labels...)]++
	m.mu.Unlock()
}

// Count returns how often the counter name was incremented with labels.
func (m *MockMetricsRegistry) Count(name string, labels ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[metricKey(name, labels...)]
}

// Observations returns how many latencies were recorded for name.
func (m *MockMetricsRegistry) Observations(name string, labels ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timings[metricKey(name, labels...)]
}

// RateLimitEntries returns the last value of the live entries gauge.
func (m *MockMetricsRegistry) RateLimitEntries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries
}

// HTTP Request metrics
func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.inc("requests", endpoint, method, status)
}

func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	m.observe("request_latency", endpoint, method)
}

// Threat scanner metrics
func (m *MockMetricsRegistry) IncrementScans(contextLabel, riskLevel string) {
	m.inc("scans", contextLabel, riskLevel)
}

func (m *MockMetricsRegistry) IncrementDetections(category, severity string) {
	m.inc("detections", category, severity)
}

// Rate limiting metrics
func (m *MockMetricsRegistry) IncrementRateLimitChecks(action, outcome string) {
	m.inc("ratelimit_checks", action, outcome)
}

func (m *MockMetricsRegistry) IncrementRateLimitBlocks(action string) {
	m.inc("ratelimit_blocks", action)
}

func (m *MockMetricsRegistry) SetRateLimitEntries(count int) {
	m.mu.Lock()
	m.entries = count
	m.mu.Unlock()
}

// Challenge metrics
func (m *MockMetricsRegistry) IncrementChallengesIssued(kind string) {
	m.inc("challenges_issued", kind)
}

func (m *MockMetricsRegistry) IncrementChallengeVerifications(outcome string) {
	m.inc("challenge_verifications", outcome)
}

// Gate metrics
func (m *MockMetricsRegistry) IncrementGateDecisions(action, outcome string) {
	m.inc("gate_decisions", action, outcome)
}

// Image analysis metrics
func (m *MockMetricsRegistry) IncrementImageAnalyses(outcome string) {
	m.inc("image_analyses", outcome)
}

func (m *MockMetricsRegistry) RecordImageAnalysisLatency(duration time.Duration) {
	m.observe("image_analysis_latency")
}

// Review metrics
func (m *MockMetricsRegistry) IncrementReviewReports(autoAction string) {
	m.inc("review_reports", autoAction)
}

func (m *MockMetricsRegistry) IncrementReviewSinkErrors() {
	m.inc("review_sink_errors")
}

var _ MetricsRegistry = (*MockMetricsRegistry)(nil)
