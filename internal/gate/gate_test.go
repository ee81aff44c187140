package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/analytics"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/challenge"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/imageanalysis"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/kv"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/policy"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/review"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/scanner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock      *testClock
	gate       *Gatekeeper
	limiter    *ratelimit.Limiter
	challenges *challenge.Engine
	queue      *review.MemoryQueue
	analytics  *analytics.MockAnalytics
	metrics    *observability.MockMetricsRegistry
}

type fixtureOpts struct {
	cfg      Config
	policy   *policy.Policy
	analyzer imageanalysis.Analyzer
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := kv.NewMemoryStoreWithClock(clock.Now)
	metrics := observability.NewMockMetricsRegistry()
	limiter := ratelimit.NewLimiter(store, ratelimit.DefaultConfigs(), nil, metrics, ratelimit.WithClock(clock.Now))
	engine := challenge.NewEngine(store, challenge.NewGenerator(7), challenge.Config{Secret: []byte("gate-test-secret")}, nil, nil, challenge.WithClock(clock.Now))
	queue := review.NewMemoryQueue(100)
	mock := analytics.NewMockAnalytics()

	p := opts.policy
	if p == nil {
		p = policy.New(scanner.New(nil, nil), nil)
	}
	g := New(Deps{
		Limiter:    limiter,
		Challenges: engine,
		Policy:     p,
		Images:     opts.analyzer,
		Reviews:    review.NewDispatcher(queue, nil, nil),
		Analytics:  mock,
		Metrics:    metrics,
		Now:        clock.Now,
	}, opts.cfg)
	return &fixture{clock: clock, gate: g, limiter: limiter, challenges: engine, queue: queue, analytics: mock, metrics: metrics}
}

func client(id string) logic.ClientInfo {
	return logic.ClientInfo{UserID: id, ClientID: ratelimit.ClientID(id, ""), DeviceType: "desktop"}
}

func submission(action, text string, c logic.ClientInfo) Submission {
	return Submission{
		Action:       action,
		Client:       c,
		ContentID:    "content-1",
		Text:         text,
		ContextLabel: scanner.LabelEventDescription,
		RequestID:    "req-1",
	}
}

func answer(c challenge.Challenge) challenge.Response {
	switch c.Kind {
	case challenge.KindMath:
		v := float64(c.Math.Answer)
		return challenge.Response{Answer: &v}
	case challenge.KindImageSet:
		return challenge.Response{Selected: append([]int(nil), c.ImageSet.CorrectIndices...)}
	default:
		v := c.Slider.Target
		return challenge.Response{Value: &v}
	}
}

func (f *fixture) pass(t *testing.T, clientID string) string {
	t.Helper()
	ctx := context.Background()
	s, err := f.challenges.NewChallenge(ctx, clientID)
	require.NoError(t, err)
	res, err := f.challenges.Verify(ctx, s.ID, clientID, answer(s.Challenge))
	require.NoError(t, err)
	require.True(t, res.Verified)
	return res.PassToken
}

func TestSubmit_CriticalViolenceIsRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	_, err := f.gate.Submit(context.Background(), submission(ratelimit.ActionCommentPosting, "vamos matar todos", client("u1")))

	var rej *ContentRejectedError
	require.ErrorAs(t, err, &rej)
	require.NotNil(t, rej.Report)
	assert.Equal(t, models.SeverityCritical, rej.Report.RiskLevel)
	assert.Equal(t, models.AutoActionDelete, rej.Report.AutoAction)
	assert.True(t, rej.Report.RequiresReview)
	assert.Equal(t, policy.MessageSeriousThreat, rej.Message)
	require.Len(t, rej.Report.Detections, 1)
	assert.Equal(t, models.CategoryViolence, rej.Report.Detections[0].Category)

	queued, _ := f.queue.List(context.Background(), "", 0)
	require.Len(t, queued, 1)
	assert.Equal(t, rej.Report.ID, queued[0].ID)

	events := f.analytics.Events()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.OutcomeRejected, events[0].Outcome)
	assert.Equal(t, "delete", events[0].AutoAction)
	assert.Equal(t, []string{"violence"}, events[0].Categories)
}

func TestSubmit_HighRiskIsBlocked(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	_, err := f.gate.Submit(context.Background(), submission(ratelimit.ActionCommentPosting, "vendo pistola", client("u1")))

	var rej *ContentRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, models.AutoActionBlock, rej.Report.AutoAction)
	assert.Equal(t, policy.MessageMayViolate, rej.Message)
}

func TestSubmit_MediumRiskIsAcceptedAndFlagged(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	dec, err := f.gate.Submit(context.Background(), submission(ratelimit.ActionCommentPosting, "esquema de lavagem de dinheiro", client("u1")))

	require.NoError(t, err)
	assert.True(t, dec.Accepted)
	assert.Equal(t, analytics.OutcomeFlagged, dec.Outcome)
	require.NotNil(t, dec.Report)
	assert.Equal(t, models.AutoActionFlag, dec.Report.AutoAction)
	assert.False(t, dec.Report.RequiresReview)

	queued, _ := f.queue.List(context.Background(), models.ReviewPending, 0)
	assert.Len(t, queued, 1)
}

func TestSubmit_CleanContentIsAcceptedSilently(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	dec, err := f.gate.Submit(context.Background(), submission(ratelimit.ActionCommentPosting, "encontro pacífico no parque", client("u1")))

	require.NoError(t, err)
	assert.True(t, dec.Accepted)
	assert.Equal(t, analytics.OutcomeAccepted, dec.Outcome)
	assert.Nil(t, dec.Report)
	assert.True(t, dec.Verdict.IsSafe)

	queued, _ := f.queue.List(context.Background(), "", 0)
	assert.Empty(t, queued)
}

func TestSubmit_EventCreationBlocksOnFourthAttempt(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	c := client("organizer")
	ctx := context.Background()

	_, err := f.gate.Submit(ctx, submission(ratelimit.ActionEventCreation, "caminhada no domingo", c))
	require.NoError(t, err)

	// Repeats inside the hour back off even when spaced out.
	for i, want := range []time.Duration{time.Second, 2 * time.Second} {
		f.clock.Advance(time.Minute)
		_, err := f.gate.Submit(ctx, submission(ratelimit.ActionEventCreation, "caminhada no domingo", c))
		var rl *RateLimitedError
		require.ErrorAs(t, err, &rl, "attempt %d", i+2)
		assert.False(t, rl.Result.Blocked)
		assert.Equal(t, want, rl.Result.RetryAfter)
	}

	f.clock.Advance(time.Minute)
	_, err = f.gate.Submit(ctx, submission(ratelimit.ActionEventCreation, "caminhada no domingo", c))

	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.True(t, rl.Result.Blocked)
	assert.Equal(t, 4*time.Hour, rl.Result.RetryAfter)
	assert.Equal(t, int64(4*60*60), RetryAfterSeconds(rl.Result.RetryAfter))

	events := f.analytics.Events()
	require.Len(t, events, 4)
	assert.Equal(t, analytics.OutcomeAccepted, events[0].Outcome)
	assert.Equal(t, analytics.OutcomeRateLimited, events[1].Outcome)
	assert.Equal(t, analytics.OutcomeRateLimited, events[3].Outcome)
	assert.Equal(t, (4 * time.Hour).Milliseconds(), events[3].RetryAfterMs)
}

func TestSubmit_RecordsDecisionMetrics(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	c := client("metered")

	_, err := f.gate.Submit(ctx, submission(ratelimit.ActionCommentPosting, "bom dia", c))
	require.NoError(t, err)
	_, err = f.gate.Submit(ctx, submission(ratelimit.ActionCommentPosting, "bom dia", c))
	require.Error(t, err)
	_, err = f.gate.Submit(ctx, submission(ratelimit.ActionCommentPosting, "vendo pistola", client("seller")))
	require.Error(t, err)

	assert.Equal(t, 1, f.metrics.Count("gate_decisions", ratelimit.ActionCommentPosting, analytics.OutcomeAccepted))
	assert.Equal(t, 1, f.metrics.Count("gate_decisions", ratelimit.ActionCommentPosting, analytics.OutcomeRateLimited))
	assert.Equal(t, 1, f.metrics.Count("gate_decisions", ratelimit.ActionCommentPosting, analytics.OutcomeRejected))
	assert.Equal(t, 1, f.metrics.Count("ratelimit_checks", ratelimit.ActionCommentPosting, ratelimit.OutcomeDelayed))
	assert.Zero(t, f.metrics.Count("ratelimit_blocks", ratelimit.ActionCommentPosting))
}

func TestSubmit_RateLimitStopsBeforeScanning(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	c := client("spammer")
	ctx := context.Background()

	_, err := f.gate.Submit(ctx, submission(ratelimit.ActionEventCreation, "oi", c))
	require.NoError(t, err)

	// Second attempt inside the progressive delay is denied without a scan.
	dec, err := f.gate.Submit(ctx, submission(ratelimit.ActionEventCreation, "vamos matar todos", c))
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.False(t, rl.Result.Blocked)
	assert.Equal(t, time.Second, rl.Result.RetryAfter)
	assert.Nil(t, dec.Report)

	queued, _ := f.queue.List(ctx, "", 0)
	assert.Empty(t, queued)
}

func TestSubmit_ResetOnSuccess(t *testing.T) {
	f := newFixture(t, fixtureOpts{cfg: Config{ResetOnSuccessActions: []string{ratelimit.ActionLoginAttempts}}})
	c := client("u1")
	ctx := context.Background()

	_, err := f.gate.Submit(ctx, submission(ratelimit.ActionLoginAttempts, "", c))
	require.NoError(t, err)

	status, err := f.limiter.Status(ctx, ratelimit.ActionLoginAttempts, c.ClientID)
	require.NoError(t, err)
	assert.False(t, status.Exists)

	_, err = f.gate.Submit(ctx, submission(ratelimit.ActionCommentPosting, "", c))
	require.NoError(t, err)
	status, err = f.limiter.Status(ctx, ratelimit.ActionCommentPosting, c.ClientID)
	require.NoError(t, err)
	assert.True(t, status.Exists)
	assert.Equal(t, 1, status.Count)
}

func TestSubmit_ChallengeRequiredForConfiguredAction(t *testing.T) {
	f := newFixture(t, fixtureOpts{cfg: Config{ChallengeActions: []string{ratelimit.ActionOrganizerVerification}}})
	c := client("u1")
	ctx := context.Background()

	_, err := f.gate.Submit(ctx, submission(ratelimit.ActionOrganizerVerification, "quero organizar", c))
	require.ErrorIs(t, err, ErrChallengeRequired)

	sub := submission(ratelimit.ActionOrganizerVerification, "quero organizar", c)
	sub.PassToken = f.pass(t, c.ClientID)
	dec, err := f.gate.Submit(ctx, sub)
	require.NoError(t, err)
	assert.True(t, dec.Accepted)

	// A pass is single use.
	_, err = f.gate.Submit(ctx, sub)
	require.ErrorIs(t, err, challenge.ErrSessionConsumed)

	events := f.analytics.Events()
	require.Len(t, events, 3)
	assert.Equal(t, analytics.OutcomeChallengeRequired, events[0].Outcome)
	assert.Equal(t, analytics.OutcomeAccepted, events[1].Outcome)
	assert.Equal(t, analytics.OutcomeChallengeFailed, events[2].Outcome)
}

func TestSubmit_PassFromAnotherClientIsRejected(t *testing.T) {
	f := newFixture(t, fixtureOpts{cfg: Config{ChallengeActions: []string{ratelimit.ActionProfileUpdate}}})

	sub := submission(ratelimit.ActionProfileUpdate, "bio", client("u2"))
	sub.PassToken = f.pass(t, client("u1").ClientID)

	_, err := f.gate.Submit(context.Background(), sub)
	require.ErrorIs(t, err, challenge.ErrClientMismatch)
}

func TestSubmit_BotsAlwaysNeedChallenge(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	bot := client("crawler")
	bot.IsBot = true

	assert.True(t, f.gate.RequiresChallenge(ratelimit.ActionCommentPosting, bot))
	assert.False(t, f.gate.RequiresChallenge(ratelimit.ActionCommentPosting, client("human")))

	_, err := f.gate.Submit(context.Background(), submission(ratelimit.ActionCommentPosting, "oi", bot))
	require.ErrorIs(t, err, ErrChallengeRequired)
}

func TestSubmit_ScanFailureFailsClosed(t *testing.T) {
	f := newFixture(t, fixtureOpts{policy: policy.New(nil, nil)})

	dec, err := f.gate.Submit(context.Background(), submission(ratelimit.ActionCommentPosting, "texto qualquer", client("u1")))

	var rej *ContentRejectedError
	require.ErrorAs(t, err, &rej)
	assert.ErrorIs(t, err, policy.ErrScanFailed)
	assert.Nil(t, rej.Report)
	assert.Equal(t, policy.MessageScanError, rej.Message)
	assert.False(t, dec.Accepted)
	assert.False(t, dec.Verdict.IsSafe)
}

func TestSubmit_UnknownActionIsAnError(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	_, err := f.gate.Submit(context.Background(), submission("launch_rocket", "oi", client("u1")))

	require.ErrorIs(t, err, ratelimit.ErrUnknownAction)
	events := f.analytics.Events()
	require.Len(t, events, 1)
	assert.Equal(t, analytics.OutcomeError, events[0].Outcome)
}

func TestSubmit_ImagesFlowThroughPolicy(t *testing.T) {
	f := newFixture(t, fixtureOpts{analyzer: imageanalysis.NewStubAnalyzer()})

	sub := submission(ratelimit.ActionFileUpload, "fotos do evento", client("u1"))
	sub.Images = []imageanalysis.Image{{Name: "crowd.jpg"}, {Name: "weapon-closeup.jpg"}}

	dec, err := f.gate.Submit(context.Background(), sub)

	var rej *ContentRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, models.AutoActionBlock, rej.Report.AutoAction)
	require.Len(t, rej.Report.Detections, 1)
	assert.Equal(t, models.CategoryWeapons, rej.Report.Detections[0].Category)
	assert.Equal(t, []string{"image:weapon-closeup.jpg"}, rej.Report.Detections[0].MatchedTerms)
	require.Len(t, dec.Images, 2)
	assert.True(t, dec.Images[1].Result.HasWeapons)
}

func TestSubmit_ImageDetectionsMergeWithText(t *testing.T) {
	f := newFixture(t, fixtureOpts{analyzer: imageanalysis.NewStubAnalyzer()})

	sub := submission(ratelimit.ActionFileUpload, "vendo pistola", client("u1"))
	sub.Images = []imageanalysis.Image{{Name: "weapon.png"}}

	_, err := f.gate.Submit(context.Background(), sub)

	var rej *ContentRejectedError
	require.ErrorAs(t, err, &rej)
	require.Len(t, rej.Report.Detections, 1)
	terms := rej.Report.Detections[0].MatchedTerms
	assert.Contains(t, terms, "pistola")
	assert.Contains(t, terms, "image:weapon.png")
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, imageanalysis.Image) (imageanalysis.Result, error) {
	return imageanalysis.Result{}, errors.New("provider down")
}

func TestSubmit_ImageAnalyzerFailureFailsClosed(t *testing.T) {
	f := newFixture(t, fixtureOpts{analyzer: failingAnalyzer{}})

	sub := submission(ratelimit.ActionFileUpload, "fotos", client("u1"))
	sub.Images = []imageanalysis.Image{{Name: "a.jpg"}}

	_, err := f.gate.Submit(context.Background(), sub)

	var rej *ContentRejectedError
	require.ErrorAs(t, err, &rej)
	assert.ErrorIs(t, err, policy.ErrScanFailed)
	assert.Equal(t, policy.MessageScanError, rej.Message)
}

func TestSubmit_ImagesWithoutAnalyzerFailClosed(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	sub := submission(ratelimit.ActionFileUpload, "fotos", client("u1"))
	sub.Images = []imageanalysis.Image{{Name: "a.jpg"}}

	_, err := f.gate.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, policy.ErrScanFailed)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, int64(0), RetryAfterSeconds(0))
	assert.Equal(t, int64(1), RetryAfterSeconds(10*time.Millisecond))
	assert.Equal(t, int64(2), RetryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, int64(30), RetryAfterSeconds(30*time.Second))
}

func TestSubmit_DebugTrace(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	sub := submission(ratelimit.ActionCommentPosting, "tragam explosivo", client("tracer"))
	sub.Debug = true

	dec, err := f.gate.Submit(context.Background(), sub)

	var rej *ContentRejectedError
	require.ErrorAs(t, err, &rej)
	require.NotNil(t, dec.Trace)
	assert.Equal(t, []string{"rate_limit", "challenge", "scan", "classify"}, dec.Trace.Stages())
	assert.Equal(t, "not_required", dec.Trace.Steps[1].Result)
	assert.Equal(t, string(models.SeverityHigh), dec.Trace.Steps[2].Result)
	assert.Equal(t, string(models.AutoActionBlock), dec.Trace.Steps[3].Result)
}

func TestSubmit_NoTraceByDefault(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	dec, err := f.gate.Submit(context.Background(), submission(ratelimit.ActionCommentPosting, "bom dia", client("quiet")))

	require.NoError(t, err)
	assert.Nil(t, dec.Trace)
}
