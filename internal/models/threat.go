package models

import "time"

// Category identifies the kind of risk a detection belongs to.
type Category string

const (
	CategoryWeapons         Category = "weapons"
	CategoryViolence        Category = "violence"
	CategoryIllegalActivity Category = "illegal_activity"
	CategoryHateSpeech      Category = "hate_speech"
	CategoryMisinformation  Category = "misinformation"
)

// Categories lists every category in reporting order.
var Categories = []Category{
	CategoryWeapons,
	CategoryViolence,
	CategoryIllegalActivity,
	CategoryHateSpeech,
	CategoryMisinformation,
}

// Severity grades a single detection or the aggregate risk of a piece of content.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so they can be compared. Unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ThreatDetection is a single finding: the category that matched, how severe
// it is and the terms that triggered it.
type ThreatDetection struct {
	Category     Category `json:"category"`
	Severity     Severity `json:"severity"`
	MatchedTerms []string `json:"matched_terms"`
	ContextLabel string   `json:"context_label"`
}

// ScanResult summarises one scan. IsClean is true exactly when Detections is empty.
type ScanResult struct {
	IsClean    bool              `json:"is_clean"`
	Detections []ThreatDetection `json:"detections"`
	RiskLevel  Severity          `json:"risk_level"`
	Confidence float64           `json:"confidence"`
}

// Categories returns the distinct categories present in the result.
func (r ScanResult) Categories() []Category {
	out := make([]Category, 0, len(r.Detections))
	seen := make(map[Category]bool, len(r.Detections))
	for _, d := range r.Detections {
		if !seen[d.Category] {
			seen[d.Category] = true
			out = append(out, d.Category)
		}
	}
	return out
}

// AutoAction is the disposition applied to content before a human looks at it.
type AutoAction string

const (
	AutoActionNone   AutoAction = "none"
	AutoActionFlag   AutoAction = "flag"
	AutoActionBlock  AutoAction = "block"
	AutoActionDelete AutoAction = "delete"
)

// Rejects reports whether the action keeps content from being published.
func (a AutoAction) Rejects() bool {
	return a == AutoActionBlock || a == AutoActionDelete
}

// ThreatReport is the admin-facing artifact produced for scanned content.
type ThreatReport struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	SubmitterID    string            `json:"submitter_id,omitempty"`
	ContentID      string            `json:"content_id"`
	RiskLevel      Severity          `json:"risk_level"`
	Detections     []ThreatDetection `json:"detections"`
	RequiresReview bool              `json:"requires_review"`
	AutoAction     AutoAction        `json:"auto_action"`
}

// ReviewStatus tracks a report through the moderation queue.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRemoved  ReviewStatus = "removed"
)

// QueuedReport is a report as stored by a review queue.
type QueuedReport struct {
	ThreatReport
	Status     ReviewStatus `json:"status"`
	ReceivedAt time.Time    `json:"received_at"`
}
