package main

import (
	"context"
	"errors"
	"testing"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/analytics"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/db"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/logic/ratelimit"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/models"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/policy"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/review"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/scanner"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDecisions struct {
	events []analytics.DecisionEvent
	limit  int
}

func (f *fakeDecisions) RecentDecisions(_ context.Context, action, outcome string, limit int) ([]analytics.DecisionEvent, error) {
	f.limit = limit
	return f.events, nil
}

func newTestTools(t *testing.T) *ModerationTools {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := db.InitRedis(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return &ModerationTools{
		policy:  policy.New(scanner.New(nil, nil), nil),
		limiter: ratelimit.NewLimiter(store, ratelimit.DefaultConfigs(), nil, nil),
		reviews: review.NewMemoryQueue(10),
		logger:  zap.NewNop(),
	}
}

func TestScanText(t *testing.T) {
	tools := newTestTools(t)

	_, out, err := tools.ScanText(context.Background(), nil, TextInput{Text: "vendo pistola", ContextLabel: scanner.LabelUserComment})
	require.NoError(t, err)
	assert.False(t, out.Result.IsClean)
	assert.Equal(t, models.SeverityHigh, out.Result.RiskLevel)

	_, _, err = tools.ScanText(context.Background(), nil, TextInput{})
	assert.Error(t, err)
}

func TestEvaluateSafety(t *testing.T) {
	tools := newTestTools(t)

	_, out, err := tools.EvaluateSafety(context.Background(), nil, TextInput{Text: "vamos matar todos"})
	require.NoError(t, err)
	assert.False(t, out.Verdict.IsSafe)
	assert.Equal(t, models.AutoActionDelete, out.AutoAction)

	_, out, err = tools.EvaluateSafety(context.Background(), nil, TextInput{Text: "caminhada no domingo"})
	require.NoError(t, err)
	assert.True(t, out.Verdict.IsSafe)
	assert.Equal(t, models.AutoActionNone, out.AutoAction)
}

func TestRateLimitStatusAndUnblock(t *testing.T) {
	tools := newTestTools(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := tools.limiter.Check(ctx, ratelimit.ActionOrganizerVerification, "user_7")
		require.NoError(t, err)
	}

	in := ClientActionInput{Action: ratelimit.ActionOrganizerVerification, ClientID: "user_7"}
	_, st, err := tools.RateLimitStatus(ctx, nil, in)
	require.NoError(t, err)
	assert.True(t, st.Status.Blocked)

	_, out, err := tools.UnblockClient(ctx, nil, in)
	require.NoError(t, err)
	assert.Equal(t, "user_7", out.ClientID)

	_, st, err = tools.RateLimitStatus(ctx, nil, in)
	require.NoError(t, err)
	assert.False(t, st.Status.Exists)
	assert.False(t, st.Status.Blocked)
}

func TestRateLimitStatus_UnknownAction(t *testing.T) {
	tools := newTestTools(t)

	_, _, err := tools.RateLimitStatus(context.Background(), nil, ClientActionInput{Action: "nope", ClientID: "user_1"})
	assert.True(t, errors.Is(err, ratelimit.ErrUnknownAction))
}

func TestListReviewQueue(t *testing.T) {
	tools := newTestTools(t)
	ctx := context.Background()

	require.NoError(t, tools.reviews.Submit(ctx, models.ThreatReport{ID: "r1", ContentID: "c1", AutoAction: models.AutoActionBlock}))
	require.NoError(t, tools.reviews.Submit(ctx, models.ThreatReport{ID: "r2", ContentID: "c2", AutoAction: models.AutoActionFlag}))
	require.NoError(t, tools.reviews.UpdateStatus(ctx, "r1", models.ReviewApproved))

	_, out, err := tools.ListReviewQueue(ctx, nil, ListReviewQueueInput{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, out.Reports, 1)
	assert.Equal(t, "r2", out.Reports[0].ID)

	_, _, err = tools.ListReviewQueue(ctx, nil, ListReviewQueueInput{Status: "archived"})
	assert.Error(t, err)
}

func TestRecentDecisions(t *testing.T) {
	tools := newTestTools(t)

	_, _, err := tools.RecentDecisions(context.Background(), nil, RecentDecisionsInput{})
	assert.ErrorIs(t, err, analytics.ErrUnavailable)

	fake := &fakeDecisions{events: []analytics.DecisionEvent{{Action: ratelimit.ActionEventCreation, Outcome: analytics.OutcomeRejected}}}
	tools.decisions = fake
	_, out, err := tools.RecentDecisions(context.Background(), nil, RecentDecisionsInput{Limit: 5000})
	require.NoError(t, err)
	assert.Len(t, out.Decisions, 1)
	assert.Equal(t, maxListLimit, fake.limit)
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	tools := newTestTools(t)
	tools.decisions = &fakeDecisions{}

	assert.NotPanics(t, func() { newMCPServer(tools) })
}
