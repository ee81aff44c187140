// Package policy turns scan results into dispositions and review reports.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/scanner"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrScanFailed is returned by SafeScan when the scanner could not finish.
var ErrScanFailed = errors.New("scan failed")

// User-facing verdict messages.
const (
	MessageSeriousThreat = "content contains serious threats and cannot be published"
	MessageMayViolate    = "content may violate guidelines"
	MessageManualReview  = "requires manual review"
	MessageScanError     = "scanning error, try again"
)

// AutoActionFor maps a risk level to the automatic disposition.
func AutoActionFor(level models.Severity) models.AutoAction {
	switch level {
	case models.SeverityCritical:
		return models.AutoActionDelete
	case models.SeverityHigh:
		return models.AutoActionBlock
	case models.SeverityMedium:
		return models.AutoActionFlag
	default:
		return models.AutoActionNone
	}
}

// RequiresReview reports whether content at this level must be seen by a moderator.
func RequiresReview(level models.Severity) bool {
	return level.Rank() >= models.SeverityHigh.Rank()
}

// SafetyVerdict is the caller-facing answer of EvaluateSafety.
type SafetyVerdict struct {
	IsSafe    bool            `json:"is_safe"`
	Message   string          `json:"message,omitempty"`
	RiskLevel models.Severity `json:"risk_level"`
}

// Policy wraps a scanner with the classification rules. Now and NewID are
// injectable for tests.
type Policy struct {
	Scanner *scanner.Scanner
	Logger  *zap.Logger
	Now     func() time.Time
	NewID   func() string
}

// New returns a Policy using the wall clock and random UUIDs.
func New(s *scanner.Scanner, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		Scanner: s,
		Logger:  logger,
		Now:     time.Now,
		NewID:   func() string { return uuid.NewString() },
	}
}

// Classify builds the review report for a scan. Only the id and timestamp
// are not derived from the scan itself.
func (p *Policy) Classify(scan models.ScanResult, contentID, submitterID string) models.ThreatReport {
	detections := scan.Detections
	if detections == nil {
		detections = []models.ThreatDetection{}
	}
	return models.ThreatReport{
		ID:             p.NewID(),
		Timestamp:      p.Now().UTC(),
		SubmitterID:    submitterID,
		ContentID:      contentID,
		RiskLevel:      scan.RiskLevel,
		Detections:     detections,
		RequiresReview: RequiresReview(scan.RiskLevel),
		AutoAction:     AutoActionFor(scan.RiskLevel),
	}
}

// SafeScan runs the scanner and converts any panic into ErrScanFailed.
func (p *Policy) SafeScan(text, contextLabel string) (res models.ScanResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Error("scan failed",
				zap.String("context", contextLabel),
				zap.String("panic", fmt.Sprint(r)))
			res = models.ScanResult{}
			err = fmt.Errorf("%w: %v", ErrScanFailed, r)
		}
	}()
	if p.Scanner == nil {
		return models.ScanResult{}, fmt.Errorf("%w: no scanner configured", ErrScanFailed)
	}
	return p.Scanner.Scan(text, contextLabel), nil
}

// EvaluateSafety scans text and returns a verdict. A failed scan is never
// reported as safe.
func (p *Policy) EvaluateSafety(text, contextLabel string) SafetyVerdict {
	res, err := p.SafeScan(text, contextLabel)
	if err != nil {
		return ScanFailureVerdict()
	}
	return VerdictFor(res)
}

// VerdictFor derives the caller-facing verdict from a scan result.
func VerdictFor(res models.ScanResult) SafetyVerdict {
	if res.IsClean {
		return SafetyVerdict{IsSafe: true, RiskLevel: res.RiskLevel}
	}
	v := SafetyVerdict{IsSafe: false, RiskLevel: res.RiskLevel}
	switch res.RiskLevel {
	case models.SeverityCritical:
		v.Message = MessageSeriousThreat
	case models.SeverityHigh:
		v.Message = MessageMayViolate
	default:
		v.Message = MessageManualReview
	}
	return v
}

// ScanFailureVerdict is the conservative verdict used when scanning failed.
func ScanFailureVerdict() SafetyVerdict {
	return SafetyVerdict{IsSafe: false, RiskLevel: models.SeverityMedium, Message: MessageScanError}
}
