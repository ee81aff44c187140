package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// Components receive it by injection instead of touching the global collectors.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Threat scanner metrics
	IncrementScans(contextLabel, riskLevel string)
	IncrementDetections(category, severity string)

	// Rate limiting metrics
	IncrementRateLimitChecks(action, outcome string)
	IncrementRateLimitBlocks(action string)
	SetRateLimitEntries(count int)

	// Challenge metrics
	IncrementChallengesIssued(kind string)
	IncrementChallengeVerifications(outcome string)

	// Gate metrics
	IncrementGateDecisions(action, outcome string)

	// Image analysis metrics
	IncrementImageAnalyses(outcome string)
	RecordImageAnalysisLatency(duration time.Duration)

	// Review metrics
	IncrementReviewReports(autoAction string)
	IncrementReviewSinkErrors()
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus collectors.
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

// Threat scanner metrics
func (r *PrometheusRegistry) IncrementScans(contextLabel, riskLevel string) {
	ScanCount.WithLabelValues(contextLabel, riskLevel).Inc()
}

func (r *PrometheusRegistry) IncrementDetections(category, severity string) {
	DetectionCount.WithLabelValues(category, severity).Inc()
}

// Rate limiting metrics
func (r *PrometheusRegistry) IncrementRateLimitChecks(action, outcome string) {
	RateLimitChecks.WithLabelValues(action, outcome).Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitBlocks(action string) {
	RateLimitBlocks.WithLabelValues(action).Inc()
}

func (r *PrometheusRegistry) SetRateLimitEntries(count int) {
	RateLimitEntries.Set(float64(count))
}

// Challenge metrics
func (r *PrometheusRegistry) IncrementChallengesIssued(kind string) {
	ChallengesIssued.WithLabelValues(kind).Inc()
}

func (r *PrometheusRegistry) IncrementChallengeVerifications(outcome string) {
	ChallengeVerifications.WithLabelValues(outcome).Inc()
}

// Gate metrics
func (r *PrometheusRegistry) IncrementGateDecisions(action, outcome string) {
	GateDecisions.WithLabelValues(action, outcome).Inc()
}

// Image analysis metrics
func (r *PrometheusRegistry) IncrementImageAnalyses(outcome string) {
	ImageAnalyses.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) RecordImageAnalysisLatency(duration time.Duration) {
	ImageAnalysisLatency.Observe(duration.Seconds())
}

// Review metrics
func (r *PrometheusRegistry) IncrementReviewReports(autoAction string) {
	ReviewReports.WithLabelValues(autoAction).Inc()
}

func (r *PrometheusRegistry) IncrementReviewSinkErrors() {
	ReviewSinkErrors.Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementScans(contextLabel, riskLevel string)                        {}
func (r *NoOpRegistry) IncrementDetections(category, severity string)                        {}
func (r *NoOpRegistry) IncrementRateLimitChecks(action, outcome string)                      {}
func (r *NoOpRegistry) IncrementRateLimitBlocks(action string)                               {}
func (r *NoOpRegistry) SetRateLimitEntries(count int)                                        {}
func (r *NoOpRegistry) IncrementChallengesIssued(kind string)                                {}
func (r *NoOpRegistry) IncrementChallengeVerifications(outcome string)                       {}
func (r *NoOpRegistry) IncrementGateDecisions(action, outcome string)                        {}
func (r *NoOpRegistry) IncrementImageAnalyses(outcome string)                                {}
func (r *NoOpRegistry) RecordImageAnalysisLatency(duration time.Duration)                    {}
func (r *NoOpRegistry) IncrementReviewReports(autoAction string)                             {}
func (r *NoOpRegistry) IncrementReviewSinkErrors()                                           {}
