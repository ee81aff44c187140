package challenge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/db"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/kv"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("challenge-secret")

func newTestEngine(clock *testClock, store kv.Store) *Engine {
	n := 0
	return NewEngine(store, NewGenerator(7), Config{Secret: testSecret}, nil, nil,
		WithClock(clock.Now),
		WithIDs(func() string {
			n++
			return fmt.Sprintf("session-%d", n)
		}))
}

func TestEngine_NewChallengeStoresSession(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	e := newTestEngine(clock, kv.NewMemoryStoreWithClock(clock.Now))

	s, err := e.NewChallenge(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "session-1", s.ID)
	assert.Equal(t, "user_1", s.ClientID)
	assert.Equal(t, clock.Now().Add(10*time.Minute), s.ExpiresAt)

	stored, err := e.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Challenge, stored.Challenge)
	assert.Zero(t, stored.Attempts)
}

func TestEngine_VerifySuccessIssuesPass(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	e := newTestEngine(clock, kv.NewMemoryStoreWithClock(clock.Now))

	s, err := e.NewChallenge(ctx, "user_1")
	require.NoError(t, err)

	res, err := e.Verify(ctx, s.ID, s.ClientID, solve(s.Challenge))
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.NotEmpty(t, res.PassToken)

	// A solved session cannot be verified again.
	_, err = e.Verify(ctx, s.ID, s.ClientID, solve(s.Challenge))
	assert.ErrorIs(t, err, ErrSessionConsumed)
}

func TestEngine_WrongAnswerIsNotAnError(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	e := newTestEngine(clock, kv.NewMemoryStoreWithClock(clock.Now))

	s, err := e.NewChallenge(ctx, "user_1")
	require.NoError(t, err)

	res, err := e.Verify(ctx, s.ID, s.ClientID, wrong(s.Challenge))
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, 2, res.AttemptsRemaining)
	assert.False(t, res.Regenerated)
}

func TestEngine_RegeneratesAfterThreeFailures(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	e := newTestEngine(clock, kv.NewMemoryStoreWithClock(clock.Now))

	s, err := e.NewChallenge(ctx, "user_1")
	require.NoError(t, err)
	original := s.Challenge

	for i := 1; i <= 2; i++ {
		res, err := e.Verify(ctx, s.ID, s.ClientID, wrong(original))
		require.NoError(t, err)
		assert.False(t, res.Regenerated)
		cur, err := e.Session(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, i, cur.Attempts)
	}

	res, err := e.Verify(ctx, s.ID, s.ClientID, wrong(original))
	require.NoError(t, err)
	assert.True(t, res.Regenerated)
	assert.False(t, res.Verified)
	assert.Equal(t, MaxAttempts, res.AttemptsRemaining)
	require.NotNil(t, res.Challenge)

	cur, err := e.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cur.Attempts)
	assert.Equal(t, cur.Challenge.PublicView(), *res.Challenge)

	// The fresh challenge is solvable on the same session.
	res, err = e.Verify(ctx, s.ID, s.ClientID, solve(cur.Challenge))
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestEngine_VerifyRejectsOtherClient(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	metrics := observability.NewMockMetricsRegistry()
	e := NewEngine(kv.NewMemoryStoreWithClock(clock.Now), NewGenerator(7), Config{Secret: testSecret}, nil, metrics,
		WithClock(clock.Now))

	s, err := e.NewChallenge(ctx, "user_1")
	require.NoError(t, err)

	for i := 0; i < MaxAttempts; i++ {
		_, err := e.Verify(ctx, s.ID, "user_2", wrong(s.Challenge))
		assert.ErrorIs(t, err, ErrClientMismatch)
	}

	cur, err := e.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Zero(t, cur.Attempts)
	assert.Equal(t, s.Challenge, cur.Challenge)

	res, err := e.Verify(ctx, s.ID, "user_1", solve(s.Challenge))
	require.NoError(t, err)
	assert.True(t, res.Verified)

	assert.Equal(t, MaxAttempts, metrics.Count("challenge_verifications", outcomeClientMismatch))
	assert.Equal(t, 1, metrics.Count("challenge_verifications", outcomeSuccess))
	assert.Equal(t, 1, metrics.Count("challenges_issued", string(s.Challenge.Kind)))
}

func TestEngine_VerifyMissingSession(t *testing.T) {
	clock := newTestClock()
	e := newTestEngine(clock, kv.NewMemoryStoreWithClock(clock.Now))

	_, err := e.Verify(context.Background(), "does-not-exist", "user_1", Response{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestEngine_SessionExpires(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	e := newTestEngine(clock, kv.NewMemoryStoreWithClock(clock.Now))

	s, err := e.NewChallenge(ctx, "user_1")
	require.NoError(t, err)
	clock.Advance(11 * time.Minute)

	_, err = e.Verify(ctx, s.ID, s.ClientID, solve(s.Challenge))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestEngine_RedeemOnce(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	e := newTestEngine(clock, kv.NewMemoryStoreWithClock(clock.Now))

	s, err := e.NewChallenge(ctx, "ip_203.0.113.5")
	require.NoError(t, err)
	res, err := e.Verify(ctx, s.ID, s.ClientID, solve(s.Challenge))
	require.NoError(t, err)

	redeemed, err := e.Redeem(ctx, res.PassToken, "ip_203.0.113.5")
	require.NoError(t, err)
	assert.True(t, redeemed.Consumed)

	_, err = e.Redeem(ctx, res.PassToken, "ip_203.0.113.5")
	assert.ErrorIs(t, err, ErrSessionConsumed)
}

func TestEngine_RedeemRejectsOtherClient(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	e := newTestEngine(clock, kv.NewMemoryStoreWithClock(clock.Now))

	s, err := e.NewChallenge(ctx, "user_1")
	require.NoError(t, err)
	res, err := e.Verify(ctx, s.ID, s.ClientID, solve(s.Challenge))
	require.NoError(t, err)

	_, err = e.Redeem(ctx, res.PassToken, "user_2")
	assert.ErrorIs(t, err, ErrClientMismatch)

	// The rightful owner can still use it.
	_, err = e.Redeem(ctx, res.PassToken, "user_1")
	assert.NoError(t, err)
}

func TestEngine_RedeemRejectsBadPasses(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	e := newTestEngine(clock, kv.NewMemoryStoreWithClock(clock.Now))

	_, err := e.Redeem(ctx, "garbage", "user_1")
	assert.ErrorIs(t, err, ErrInvalidPass)

	s, err := e.NewChallenge(ctx, "user_1")
	require.NoError(t, err)
	res, err := e.Verify(ctx, s.ID, s.ClientID, solve(s.Challenge))
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	_, err = e.Redeem(ctx, res.PassToken, "user_1")
	assert.ErrorIs(t, err, ErrInvalidPass)
}

func TestEngine_CleanupExpiredSessions(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := kv.NewMemoryStore()
	e := newTestEngine(clock, store)

	_, err := e.NewChallenge(ctx, "user_1")
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	_, err = e.NewChallenge(ctx, "user_2")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	removed, err := e.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())
}

func TestEngine_RedisBackend(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	clock := newTestClock()
	e := newTestEngine(clock, &db.RedisStore{Client: client, Ctx: ctx})

	s, err := e.NewChallenge(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("challenge:session-1"))
	assert.Equal(t, 10*time.Minute, mr.TTL("challenge:session-1"))

	res, err := e.Verify(ctx, s.ID, s.ClientID, solve(s.Challenge))
	require.NoError(t, err)
	require.True(t, res.Verified)

	_, err = e.Redeem(ctx, res.PassToken, "user_1")
	require.NoError(t, err)
	_, err = e.Redeem(ctx, res.PassToken, "user_1")
	assert.ErrorIs(t, err, ErrSessionConsumed)
}
