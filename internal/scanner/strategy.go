package scanner

import (
	"strings"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
)

// Strategy is one detection pass over already lower-cased text. The scanner
// runs every registered strategy and merges their detections per category,
// so a statistical classifier can run next to the keyword pass without
// changing the ScanResult contract.
type Strategy interface {
	Name() string
	Detect(normalized, contextLabel string) []models.ThreatDetection
}

// KeywordStrategy matches the curated keyword and pattern tables.
type KeywordStrategy struct{}

// NewKeywordStrategy returns the default keyword strategy.
func NewKeywordStrategy() *KeywordStrategy {
	return &KeywordStrategy{}
}

// Name implements Strategy.
func (k *KeywordStrategy) Name() string {
	return "keywords"
}

// Detect implements Strategy.
func (k *KeywordStrategy) Detect(normalized, contextLabel string) []models.ThreatDetection {
	if normalized == "" {
		return nil
	}

	var out []models.ThreatDetection
	for _, cat := range models.Categories {
		var (
			terms    []string
			severity models.Severity
		)
		switch cat {
		case models.CategoryViolence:
			terms, severity = detectViolence(normalized)
		case models.CategoryMisinformation:
			terms = matchTerms(normalized, categoryTerms[cat])
			terms = appendUnique(terms, matchPatterns(normalized)...)
			severity = fixedSeverity[cat]
		default:
			terms = matchTerms(normalized, categoryTerms[cat])
			severity = fixedSeverity[cat]
		}
		if len(terms) == 0 {
			continue
		}
		out = append(out, models.ThreatDetection{
			Category:     cat,
			Severity:     severity,
			MatchedTerms: terms,
			ContextLabel: contextLabel,
		})
	}
	return out
}

// detectViolence grades violence by the strongest phrasing present. Generic
// terms only raise the level once more than two distinct ones appear.
func detectViolence(normalized string) ([]string, models.Severity) {
	critical := matchTerms(normalized, violenceCriticalTerms)
	high := matchTerms(normalized, violenceHighTerms)
	general := matchTerms(normalized, violenceGeneralTerms)

	terms := appendUnique(nil, critical...)
	terms = appendUnique(terms, high...)
	terms = appendUnique(terms, general...)

	switch {
	case len(critical) > 0:
		return terms, models.SeverityCritical
	case len(high) > 0:
		return terms, models.SeverityHigh
	case len(terms) > 2:
		return terms, models.SeverityMedium
	default:
		return terms, models.SeverityLow
	}
}

func matchTerms(normalized string, terms []string) []string {
	var out []string
	for _, term := range terms {
		if strings.Contains(normalized, term) {
			out = appendUnique(out, term)
		}
	}
	return out
}

func matchPatterns(normalized string) []string {
	var out []string
	for _, re := range misinformationPatterns {
		out = appendUnique(out, re.FindAllString(normalized, -1)...)
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, existing := range dst {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}
