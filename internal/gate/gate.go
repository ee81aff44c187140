// Package gate runs a submission through every trust and safety check
// before it is allowed to reach storage.
//
// The order is fixed: rate limiter, then challenge (when required), then
// content scanning and policy. A denial at any step stops the pipeline, so
// a rate-limited client never consumes a challenge pass and blocked
// content is never reported as accepted.
package gate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/analytics"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/challenge"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/imageanalysis"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/policy"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/review"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/scanner"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrChallengeRequired is returned when the action needs a solved challenge
// and the submission carried no pass token.
var ErrChallengeRequired = errors.New("challenge required")

// RateLimitedError is returned when the limiter denied the attempt.
type RateLimitedError struct {
	Action string
	Result ratelimit.Result
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s: retry after %s", e.Action, e.Result.RetryAfter)
}

// RetryAfterMs is the wait in milliseconds.
func (e *RateLimitedError) RetryAfterMs() int64 {
	return e.Result.RetryAfter.Milliseconds()
}

// ContentRejectedError is returned when policy refuses the content. Report
// is nil when the content could not be scanned at all.
type ContentRejectedError struct {
	Report  *models.ThreatReport
	Message string
	Err     error
}

func (e *ContentRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("content rejected: %s: %v", e.Message, e.Err)
	}
	return "content rejected: " + e.Message
}

func (e *ContentRejectedError) Unwrap() error { return e.Err }

// Submission is one piece of user content headed for storage.
type Submission struct {
	Action       string
	Client       logic.ClientInfo
	ContentID    string
	Text         string
	ContextLabel string
	Images       []imageanalysis.Image
	PassToken    string
	RequestID    string
	// Debug attaches a stage-by-stage trace to the Decision.
	Debug bool
}

// ImageFinding is the analyzer's answer for one attached image.
type ImageFinding struct {
	Name   string               `json:"name"`
	Result imageanalysis.Result `json:"result"`
}

// Decision is the gate's answer. On denial it holds whatever was computed
// before the denying step.
type Decision struct {
	Accepted  bool                 `json:"accepted"`
	Outcome   string               `json:"outcome"`
	RateLimit ratelimit.Result     `json:"-"`
	Scan      models.ScanResult    `json:"scan"`
	Verdict   policy.SafetyVerdict `json:"verdict"`
	Report    *models.ThreatReport `json:"report,omitempty"`
	Images    []ImageFinding       `json:"images,omitempty"`
	Trace     *logic.DecisionTrace `json:"trace,omitempty"`
}

// Config selects which actions need extra checks.
type Config struct {
	// ChallengeActions always require a redeemed challenge pass.
	ChallengeActions []string
	// ResetOnSuccessActions clear the client's limiter entry after an
	// accepted submission.
	ResetOnSuccessActions []string
	// LogSampleRate controls how many accepted decisions are logged.
	LogSampleRate float64
}

// Gatekeeper wires the limiter, challenge engine, scanner policy and the
// collaborators that receive reports and decision events.
type Gatekeeper struct {
	limiter    *ratelimit.Limiter
	challenges *challenge.Engine
	policy     *policy.Policy
	images     imageanalysis.Analyzer
	reviews    *review.Dispatcher
	analytics  analytics.AnalyticsService
	logger     *zap.Logger
	metrics    observability.MetricsRegistry
	tracer     trace.Tracer

	challengeActions map[string]bool
	resetOnSuccess   map[string]bool
	sampleRate       float64
	now              func() time.Time
}

// Deps are the collaborators of a Gatekeeper. Images, Reviews and Analytics
// are optional.
type Deps struct {
	Limiter    *ratelimit.Limiter
	Challenges *challenge.Engine
	Policy     *policy.Policy
	Images     imageanalysis.Analyzer
	Reviews    *review.Dispatcher
	Analytics  analytics.AnalyticsService
	Logger     *zap.Logger
	Metrics    observability.MetricsRegistry
	Now        func() time.Time
}

// New builds a Gatekeeper.
func New(d Deps, cfg Config) *Gatekeeper {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = observability.NewNoOpRegistry()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Gatekeeper{
		limiter:          d.Limiter,
		challenges:       d.Challenges,
		policy:           d.Policy,
		images:           d.Images,
		reviews:          d.Reviews,
		analytics:        d.Analytics,
		logger:           d.Logger,
		metrics:          d.Metrics,
		tracer:           observability.Tracer("gate"),
		challengeActions: toSet(cfg.ChallengeActions),
		resetOnSuccess:   toSet(cfg.ResetOnSuccessActions),
		sampleRate:       cfg.LogSampleRate,
		now:              d.Now,
	}
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

// RequiresChallenge reports whether a submission for action from client
// must carry a challenge pass. Bots always do.
func (g *Gatekeeper) RequiresChallenge(action string, client logic.ClientInfo) bool {
	return g.challengeActions[action] || client.IsBot
}

// Submit runs the full pipeline. Denials come back as *RateLimitedError,
// ErrChallengeRequired, a challenge engine error or *ContentRejectedError;
// any other error is an infrastructure failure.
func (g *Gatekeeper) Submit(ctx context.Context, sub Submission) (Decision, error) {
	ctx, span := g.tracer.Start(ctx, "gate.Submit",
		trace.WithAttributes(
			attribute.String("gate.action", sub.Action),
			attribute.String("gate.client_id", sub.Client.ClientID),
		))
	defer span.End()

	var tr *logic.DecisionTrace
	if sub.Debug {
		tr = &logic.DecisionTrace{}
	}
	dec, err := g.submit(ctx, sub, tr)
	dec.Trace = tr
	outcome := outcomeOf(dec, err)
	span.SetAttributes(attribute.String("gate.outcome", outcome))
	if err != nil && outcome == analytics.OutcomeError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	g.metrics.IncrementGateDecisions(sub.Action, outcome)
	g.logDecision(sub, dec, err, outcome)
	g.recordDecision(ctx, sub, dec, err, outcome)
	return dec, err
}

func (g *Gatekeeper) submit(ctx context.Context, sub Submission, tr *logic.DecisionTrace) (Decision, error) {
	rl, err := g.limiter.Check(ctx, sub.Action, sub.Client.ClientID)
	if err != nil {
		tr.AddStep("rate_limit", "error")
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}
	if !rl.Allowed {
		tr.AddStep("rate_limit", "denied",
			"retry_after", rl.RetryAfter.String(),
			"blocked", strconv.FormatBool(rl.Blocked))
		return Decision{RateLimit: rl}, &RateLimitedError{Action: sub.Action, Result: rl}
	}
	tr.AddStep("rate_limit", "allowed", "remaining", strconv.Itoa(rl.Remaining))

	if g.RequiresChallenge(sub.Action, sub.Client) {
		if sub.PassToken == "" {
			tr.AddStep("challenge", "missing")
			return Decision{RateLimit: rl}, ErrChallengeRequired
		}
		if g.challenges == nil {
			return Decision{RateLimit: rl}, errors.New("challenge engine not configured")
		}
		if _, err := g.challenges.Redeem(ctx, sub.PassToken, sub.Client.ClientID); err != nil {
			tr.AddStep("challenge", "rejected")
			return Decision{RateLimit: rl}, fmt.Errorf("redeem challenge pass: %w", err)
		}
		tr.AddStep("challenge", "redeemed")
	} else {
		tr.AddStep("challenge", "not_required")
	}

	scan, findings, err := g.scan(ctx, sub)
	if err != nil {
		tr.AddStep("scan", "failed", "images", strconv.Itoa(len(sub.Images)))
		verdict := policy.ScanFailureVerdict()
		return Decision{RateLimit: rl, Verdict: verdict, Images: findings}, &ContentRejectedError{Message: verdict.Message, Err: err}
	}
	tr.AddStep("scan", string(scan.RiskLevel),
		"detections", strconv.Itoa(len(scan.Detections)),
		"images", strconv.Itoa(len(findings)))

	report := g.policy.Classify(scan, sub.ContentID, sub.Client.UserID)
	verdict := policy.VerdictFor(scan)
	dec := Decision{RateLimit: rl, Scan: scan, Verdict: verdict, Images: findings}
	tr.AddStep("classify", string(report.AutoAction), "requires_review", strconv.FormatBool(report.RequiresReview))

	if report.RequiresReview || report.AutoAction == models.AutoActionFlag {
		g.reviews.Deliver(ctx, report)
		dec.Report = &report
	}
	if report.AutoAction.Rejects() {
		return dec, &ContentRejectedError{Report: &report, Message: verdict.Message}
	}

	dec.Accepted = true
	dec.Outcome = analytics.OutcomeAccepted
	if report.AutoAction == models.AutoActionFlag {
		dec.Outcome = analytics.OutcomeFlagged
	}
	if g.resetOnSuccess[sub.Action] {
		if err := g.limiter.RecordSuccess(ctx, sub.Action, sub.Client.ClientID); err != nil {
			g.logger.Warn("record success failed",
				zap.String("action", sub.Action),
				zap.String("client_id", sub.Client.ClientID),
				zap.Error(err))
		}
	}
	return dec, nil
}

// scan runs the text scanner and every attached image through the analyzer
// and merges the findings into one result. Analyzer failures count as scan
// failures.
func (g *Gatekeeper) scan(ctx context.Context, sub Submission) (models.ScanResult, []ImageFinding, error) {
	text, err := g.policy.SafeScan(sub.Text, sub.ContextLabel)
	if err != nil {
		return models.ScanResult{}, nil, err
	}
	if len(sub.Images) == 0 {
		return text, nil, nil
	}
	if g.images == nil {
		return models.ScanResult{}, nil, fmt.Errorf("%w: no image analyzer configured", policy.ErrScanFailed)
	}

	detections := append([]models.ThreatDetection(nil), text.Detections...)
	findings := make([]ImageFinding, 0, len(sub.Images))
	for _, img := range sub.Images {
		res, err := g.images.Analyze(ctx, img)
		if err != nil {
			return models.ScanResult{}, findings, fmt.Errorf("%w: analyze image %q: %w", policy.ErrScanFailed, img.Name, err)
		}
		findings = append(findings, ImageFinding{Name: img.Name, Result: res})
		detections = mergeDetections(detections, imageanalysis.ToDetections(res, img.Name, sub.ContextLabel))
	}
	return scanner.Summarize(detections, utf8.RuneCountInString(sub.Text)), findings, nil
}

func mergeDetections(dst, extra []models.ThreatDetection) []models.ThreatDetection {
	for _, d := range extra {
		merged := false
		for i := range dst {
			if dst[i].Category != d.Category {
				continue
			}
			dst[i].Severity = models.MaxSeverity(dst[i].Severity, d.Severity)
			dst[i].MatchedTerms = append(append([]string(nil), dst[i].MatchedTerms...), d.MatchedTerms...)
			merged = true
			break
		}
		if !merged {
			dst = append(dst, d)
		}
	}
	return dst
}

func outcomeOf(dec Decision, err error) string {
	if err == nil {
		return dec.Outcome
	}
	var rl *RateLimitedError
	var rej *ContentRejectedError
	switch {
	case errors.As(err, &rl):
		return analytics.OutcomeRateLimited
	case errors.Is(err, ErrChallengeRequired):
		return analytics.OutcomeChallengeRequired
	case errors.Is(err, challenge.ErrInvalidPass),
		errors.Is(err, challenge.ErrSessionConsumed),
		errors.Is(err, challenge.ErrClientMismatch),
		errors.Is(err, challenge.ErrNoSession):
		return analytics.OutcomeChallengeFailed
	case errors.As(err, &rej):
		return analytics.OutcomeRejected
	default:
		return analytics.OutcomeError
	}
}

func (g *Gatekeeper) logDecision(sub Submission, dec Decision, err error, outcome string) {
	fields := []zap.Field{
		zap.String("request_id", sub.RequestID),
		zap.String("action", sub.Action),
		zap.String("client_id", sub.Client.ClientID),
		zap.String("outcome", outcome),
	}
	switch outcome {
	case analytics.OutcomeAccepted:
		if observability.ShouldSample(g.sampleRate) {
			g.logger.Info("submission accepted", fields...)
		}
	case analytics.OutcomeError:
		g.logger.Error("submission failed", append(fields, zap.Error(err))...)
	default:
		if dec.Report != nil {
			fields = append(fields,
				zap.String("report_id", dec.Report.ID),
				zap.String("risk_level", string(dec.Report.RiskLevel)),
				zap.String("auto_action", string(dec.Report.AutoAction)))
		}
		g.logger.Warn("submission denied or flagged", append(fields, zap.Error(err))...)
	}
}

func (g *Gatekeeper) recordDecision(ctx context.Context, sub Submission, dec Decision, err error, outcome string) {
	if g.analytics == nil {
		return
	}
	ev := analytics.DecisionEvent{
		Timestamp:  g.now(),
		RequestID:  sub.RequestID,
		Action:     sub.Action,
		ClientID:   sub.Client.ClientID,
		ContentID:  sub.ContentID,
		Outcome:    outcome,
		DeviceType: sub.Client.DeviceType,
		Country:    sub.Client.Country,
		IsBot:      sub.Client.IsBot,
	}
	if dec.Verdict.RiskLevel != "" {
		ev.RiskLevel = string(dec.Verdict.RiskLevel)
	}
	for _, c := range dec.Scan.Categories() {
		ev.Categories = append(ev.Categories, string(c))
	}
	if dec.Report != nil {
		ev.AutoAction = string(dec.Report.AutoAction)
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		ev.RetryAfterMs = rl.RetryAfterMs()
	}
	if aerr := g.analytics.RecordDecision(ctx, ev); aerr != nil && !errors.Is(aerr, analytics.ErrUnavailable) {
		g.logger.Warn("record decision failed", zap.String("action", sub.Action), zap.Error(aerr))
	}
}

// RetryAfterSeconds rounds a wait up to whole seconds for the Retry-After
// header.
func RetryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
