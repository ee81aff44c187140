// Package imageanalysis defines the image classification extension point.
//
// The gatekeeper does not ship a classifier. Analyzer is the contract a real
// provider plugs into; StubAnalyzer gives deterministic answers for
// development and tests, ExternalAnalyzer calls an HTTP service.
package imageanalysis

import (
	"context"
	"strings"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
)

// Image is an uploaded picture to classify.
type Image struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

// Result is what an analyzer found in one image.
type Result struct {
	HasWeapons  bool    `json:"has_weapons"`
	HasViolence bool    `json:"has_violence"`
	HasNudity   bool    `json:"has_nudity"`
	Confidence  float64 `json:"confidence"`
}

// Flagged reports whether anything was found.
func (r Result) Flagged() bool {
	return r.HasWeapons || r.HasViolence || r.HasNudity
}

// Analyzer classifies images.
type Analyzer interface {
	Analyze(ctx context.Context, img Image) (Result, error)
}

// ToDetections converts image findings into scanner detections so they flow
// through the same policy as text. Nudity has no text category and is not
// mapped; callers surface it from the Result directly.
func ToDetections(res Result, name, contextLabel string) []models.ThreatDetection {
	term := "image:" + name
	var out []models.ThreatDetection
	if res.HasWeapons {
		out = append(out, models.ThreatDetection{
			Category:     models.CategoryWeapons,
			Severity:     models.SeverityHigh,
			MatchedTerms: []string{term},
			ContextLabel: contextLabel,
		})
	}
	if res.HasViolence {
		out = append(out, models.ThreatDetection{
			Category:     models.CategoryViolence,
			Severity:     models.SeverityHigh,
			MatchedTerms: []string{term},
			ContextLabel: contextLabel,
		})
	}
	return out
}

// StubAnalyzer answers from the image name. Names containing "weapon",
// "violence" or "nsfw" set the matching flag; Overrides win over the name
// rules.
type StubAnalyzer struct {
	Overrides map[string]Result
}

// NewStubAnalyzer returns a StubAnalyzer without overrides.
func NewStubAnalyzer() *StubAnalyzer {
	return &StubAnalyzer{}
}

// Analyze implements Analyzer.
func (s *StubAnalyzer) Analyze(ctx context.Context, img Image) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if r, ok := s.Overrides[img.Name]; ok {
		return r, nil
	}
	name := strings.ToLower(img.Name)
	return Result{
		HasWeapons:  strings.Contains(name, "weapon"),
		HasViolence: strings.Contains(name, "violence"),
		HasNudity:   strings.Contains(name, "nsfw"),
		Confidence:  0.5,
	}, nil
}
