package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// scans labelled by context and resulting risk level
	ScanCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_scans_total",
			Help: "Total text scans",
		},
		[]string{"context", "risk_level"},
	)

	// individual detections by category and severity
	DetectionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_detections_total",
			Help: "Total threat detections",
		},
		[]string{"category", "severity"},
	)

	// rate limit checks per action and outcome (allowed, delayed, blocked, denied)
	RateLimitChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_ratelimit_checks_total",
			Help: "Total rate limit checks",
		},
		[]string{"action", "outcome"},
	)

	// new blocks imposed per action
	RateLimitBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_ratelimit_blocks_total",
			Help: "Total clients blocked per action",
		},
		[]string{"action"},
	)

	// live rate limit entries after the last cleanup
	RateLimitEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_ratelimit_entries",
			Help: "Rate limit entries retained after cleanup",
		},
	)

	ChallengesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_challenges_issued_total",
			Help: "Total challenges issued by kind",
		},
		[]string{"kind"},
	)

	ChallengeVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_challenge_verifications_total",
			Help: "Total challenge verifications by outcome",
		},
		[]string{"outcome"},
	)

	// gate decisions per action and outcome
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_decisions_total",
			Help: "Total submission gate decisions",
		},
		[]string{"action", "outcome"},
	)

	ImageAnalyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_image_analyses_total",
			Help: "Total image analyses by outcome",
		},
		[]string{"outcome"},
	)

	ImageAnalysisLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_image_analysis_duration_seconds",
			Help:    "Duration of image analysis calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	// reports handed to the review sink, by auto action
	ReviewReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_review_reports_total",
			Help: "Total threat reports sent for review",
		},
		[]string{"auto_action"},
	)

	ReviewSinkErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_review_sink_errors_total",
			Help: "Total failures delivering reports to the review sink",
		},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		ScanCount,
		DetectionCount,
		RateLimitChecks,
		RateLimitBlocks,
		RateLimitEntries,
		ChallengesIssued,
		ChallengeVerifications,
		GateDecisions,
		ImageAnalyses,
		ImageAnalysisLatency,
		ReviewReports,
		ReviewSinkErrors,
	)
}
