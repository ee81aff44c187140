// Package scanner classifies user-submitted text into risk categories.
//
// Scanning is a pure function of the input and the configured strategies:
// the same text always yields the same ScanResult and no input can make the
// scanner fail. Empty text is clean.
package scanner

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"

	"go.uber.org/zap"
)

// Context labels passed through to detections for downstream reporting.
const (
	LabelEventTitle       = "event_title"
	LabelEventDescription = "event_description"
	LabelUserComment      = "user_comment"
	LabelUserProfile      = "user_profile"
	LabelOrganizer        = "organizer_verification"
)

const (
	cleanConfidence   = 0.95
	baseConfidence    = 0.6
	densityCap        = 0.95
	diversityStep     = 0.10
	diversityCap      = 0.30
	maximumConfidence = 0.98
)

// Scanner runs a set of strategies over text and aggregates their findings.
type Scanner struct {
	strategies []Strategy
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
}

// New builds a Scanner. With no strategies the keyword strategy is used.
// A nil logger or metrics registry is replaced by a no-op implementation.
func New(logger *zap.Logger, metrics observability.MetricsRegistry, strategies ...Strategy) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	if len(strategies) == 0 {
		strategies = []Strategy{NewKeywordStrategy()}
	}
	return &Scanner{strategies: strategies, logger: logger, metrics: metrics}
}

// Scan classifies text. It never fails: a strategy that panics is logged and
// its output discarded.
func (s *Scanner) Scan(text, contextLabel string) models.ScanResult {
	normalized := strings.ToLower(text)

	merged := make(map[models.Category]*models.ThreatDetection)
	var order []models.Category
	for _, st := range s.strategies {
		for _, d := range s.runStrategy(st, normalized, contextLabel) {
			if len(d.MatchedTerms) == 0 {
				continue
			}
			existing, ok := merged[d.Category]
			if !ok {
				det := d
				det.MatchedTerms = append([]string(nil), d.MatchedTerms...)
				merged[d.Category] = &det
				order = append(order, d.Category)
				continue
			}
			existing.Severity = models.MaxSeverity(existing.Severity, d.Severity)
			existing.MatchedTerms = appendUnique(existing.MatchedTerms, d.MatchedTerms...)
		}
	}

	detections := orderDetections(merged, order)
	result := Summarize(detections, utf8.RuneCountInString(text))

	s.metrics.IncrementScans(contextLabel, string(result.RiskLevel))
	for _, d := range result.Detections {
		s.metrics.IncrementDetections(string(d.Category), string(d.Severity))
	}
	return result
}

// Summarize derives the aggregate fields of a ScanResult from a list of
// detections and the length of the scanned text in runes.
func Summarize(detections []models.ThreatDetection, textLength int) models.ScanResult {
	if len(detections) == 0 {
		return models.ScanResult{
			IsClean:    true,
			Detections: []models.ThreatDetection{},
			RiskLevel:  models.SeverityLow,
			Confidence: cleanConfidence,
		}
	}

	risk := models.SeverityLow
	matched := 0
	categories := make(map[models.Category]bool)
	for _, d := range detections {
		risk = models.MaxSeverity(risk, d.Severity)
		matched += len(d.MatchedTerms)
		categories[d.Category] = true
	}

	return models.ScanResult{
		IsClean:    false,
		Detections: detections,
		RiskLevel:  risk,
		Confidence: confidence(matched, textLength, len(categories)),
	}
}

// confidence rewards both term density and category diversity, so a single
// incidental hit in a long text does not read as certain.
func confidence(matched, textLength, categories int) float64 {
	if textLength < 1 {
		textLength = 1
	}
	base := math.Min(baseConfidence+(float64(matched)/float64(textLength))*100, densityCap)
	bonus := math.Min(float64(categories)*diversityStep, diversityCap)
	return math.Min(base+bonus, maximumConfidence)
}

func (s *Scanner) runStrategy(st Strategy, normalized, contextLabel string) (out []models.ThreatDetection) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scan strategy panicked",
				zap.String("strategy", st.Name()),
				zap.String("context", contextLabel),
				zap.String("panic", fmt.Sprint(r)))
			out = nil
		}
	}()
	return st.Detect(normalized, contextLabel)
}

func orderDetections(merged map[models.Category]*models.ThreatDetection, arrival []models.Category) []models.ThreatDetection {
	out := make([]models.ThreatDetection, 0, len(merged))
	placed := make(map[models.Category]bool, len(merged))
	for _, cat := range models.Categories {
		if d, ok := merged[cat]; ok {
			out = append(out, *d)
			placed[cat] = true
		}
	}
	for _, cat := range arrival {
		if !placed[cat] {
			out = append(out, *merged[cat])
			placed[cat] = true
		}
	}
	return out
}

// ScanEventTitle scans an event title.
func (s *Scanner) ScanEventTitle(text string) models.ScanResult {
	return s.Scan(text, LabelEventTitle)
}

// ScanEventDescription scans an event description.
func (s *Scanner) ScanEventDescription(text string) models.ScanResult {
	return s.Scan(text, LabelEventDescription)
}

// ScanUserComment scans a comment.
func (s *Scanner) ScanUserComment(text string) models.ScanResult {
	return s.Scan(text, LabelUserComment)
}

// ScanUserProfile scans a profile bio.
func (s *Scanner) ScanUserProfile(text string) models.ScanResult {
	return s.Scan(text, LabelUserProfile)
}

// ScanOrganizerApplication scans the free text of an organizer verification request.
func (s *Scanner) ScanOrganizerApplication(text string) models.ScanResult {
	return s.Scan(text, LabelOrganizer)
}

// Item is one entry of a batch scan.
type Item struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	ContextLabel string `json:"context_label"`
}

// BatchScan scans every item and returns the results keyed by item ID. When
// IDs repeat, the last item wins.
func (s *Scanner) BatchScan(items []Item) map[string]models.ScanResult {
	out := make(map[string]models.ScanResult, len(items))
	for _, it := range items {
		out[it.ID] = s.Scan(it.Text, it.ContextLabel)
	}
	return out
}
