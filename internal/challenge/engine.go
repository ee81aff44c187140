package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/kv"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/token"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxAttempts is the number of wrong answers a session absorbs before its
// challenge is replaced.
const MaxAttempts = 3

const (
	sessionPrefix  = "challenge:"
	maxCASRetries  = 16
	defaultTTL     = 10 * time.Minute
	defaultPassTTL = 5 * time.Minute
)

// Verification outcomes, used as metric labels.
const (
	outcomeSuccess        = "success"
	outcomeFailure        = "failure"
	outcomeRegenerated    = "regenerated"
	outcomeNoSession      = "no_session"
	outcomeConsumed       = "consumed"
	outcomeClientMismatch = "client_mismatch"
)

var (
	// ErrNoSession means there is no active challenge with that id.
	ErrNoSession = errors.New("no active challenge session")
	// ErrSessionConsumed means the session was already solved or redeemed.
	ErrSessionConsumed = errors.New("challenge session already used")
	// ErrInvalidPass means the pass token is malformed, forged, expired or
	// refers to a session that was never solved.
	ErrInvalidPass = errors.New("invalid challenge pass")
	// ErrClientMismatch means the pass belongs to another client.
	ErrClientMismatch = errors.New("challenge pass issued to another client")
)

// Session is the server-side state of one challenge interaction.
type Session struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Challenge Challenge `json:"challenge"`
	Attempts  int       `json:"attempts"`
	Verified  bool      `json:"verified"`
	Consumed  bool      `json:"consumed"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerifyResult reports the outcome of one answer. A wrong answer is not an
// error; Verified is simply false.
type VerifyResult struct {
	Verified          bool             `json:"verified"`
	PassToken         string           `json:"pass_token,omitempty"`
	AttemptsRemaining int              `json:"attempts_remaining"`
	Regenerated       bool             `json:"regenerated"`
	Challenge         *PublicChallenge `json:"challenge,omitempty"`
}

// Config tunes the engine.
type Config struct {
	Secret     []byte        // HMAC key for pass tokens
	SessionTTL time.Duration // Lifetime of an unsolved session
	PassTTL    time.Duration // Lifetime of a pass token
}

// Engine manages challenge sessions in a kv.Store.
type Engine struct {
	store   kv.Store
	gen     *Generator
	cfg     Config
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time
	newID   func() string
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs replaces the session id source.
func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine creates an engine. Zero TTLs fall back to 10 minutes for
// sessions and 5 minutes for passes.
func NewEngine(store kv.Store, gen *Generator, cfg Config, logger *zap.Logger, metrics observability.MetricsRegistry, opts ...Option) *Engine {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultTTL
	}
	if cfg.PassTTL <= 0 {
		cfg.PassTTL = defaultPassTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	e := &Engine{
		store:   store,
		gen:     gen,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sessionKey(id string) string {
	return sessionPrefix + id
}

// NewChallenge opens a session with a random challenge for clientID.
func (e *Engine) NewChallenge(ctx context.Context, clientID string) (*Session, error) {
	now := e.now()
	s := &Session{
		ID:        e.newID(),
		ClientID:  clientID,
		Challenge: e.gen.New(),
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.SessionTTL),
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode challenge session: %w", err)
	}
	if err := e.store.CompareAndSwap(ctx, sessionKey(s.ID), nil, raw, e.cfg.SessionTTL); err != nil {
		return nil, fmt.Errorf("store challenge session: %w", err)
	}
	e.metrics.IncrementChallengesIssued(string(s.Challenge.Kind))
	return s, nil
}

// Session returns the stored session, or ErrNoSession.
func (e *Engine) Session(ctx context.Context, id string) (*Session, error) {
	_, s, err := e.load(ctx, id)
	return s, err
}

func (e *Engine) load(ctx context.Context, id string) ([]byte, *Session, error) {
	raw, err := e.store.Get(ctx, sessionKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil, ErrNoSession
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load challenge session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, nil, fmt.Errorf("decode challenge session: %w", err)
	}
	if !e.now().Before(s.ExpiresAt) {
		return nil, nil, ErrNoSession
	}
	return raw, &s, nil
}

// update applies fn to the session under compare-and-swap and stores the
// result until its ExpiresAt.
func (e *Engine) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	for i := 0; i < maxCASRetries; i++ {
		prev, s, err := e.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(s); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encode challenge session: %w", err)
		}
		ttl := s.ExpiresAt.Sub(e.now())
		if ttl < time.Second {
			ttl = time.Second
		}
		err = e.store.CompareAndSwap(ctx, sessionKey(id), prev, raw, ttl)
		if errors.Is(err, kv.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store challenge session: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("challenge session %s: too much contention", id)
}

// Verify checks resp against the session's current challenge.
//
// A correct answer marks the session verified and returns a pass token. A
// wrong answer counts an attempt; the third consecutive failure replaces the
// challenge and resets the counter, and the new challenge is returned.
// Verifying a missing session yields ErrNoSession, a solved one
// ErrSessionConsumed and another client's session ErrClientMismatch, none of
// which count an attempt.
func (e *Engine) Verify(ctx context.Context, id, clientID string, resp Response) (VerifyResult, error) {
	var res VerifyResult
	s, err := e.update(ctx, id, func(s *Session) error {
		res = VerifyResult{}
		if s.ClientID != clientID {
			return ErrClientMismatch
		}
		if s.Verified || s.Consumed {
			return ErrSessionConsumed
		}
		now := e.now()
		if s.Challenge.Check(resp) {
			pass, err := token.GenerateAt(s.ID, s.ClientID, now, e.cfg.Secret)
			if err != nil {
				return fmt.Errorf("issue pass: %w", err)
			}
			s.Verified = true
			s.ExpiresAt = now.Add(e.cfg.PassTTL)
			res.Verified = true
			res.PassToken = pass
			return nil
		}

		s.Attempts++
		if s.Attempts >= MaxAttempts {
			s.Challenge = e.gen.New()
			s.Attempts = 0
			s.ExpiresAt = now.Add(e.cfg.SessionTTL)
			pc := s.Challenge.PublicView()
			res.Regenerated = true
			res.Challenge = &pc
		}
		res.AttemptsRemaining = MaxAttempts - s.Attempts
		return nil
	})

	switch {
	case errors.Is(err, ErrNoSession):
		e.metrics.IncrementChallengeVerifications(outcomeNoSession)
		return VerifyResult{}, err
	case errors.Is(err, ErrSessionConsumed):
		e.metrics.IncrementChallengeVerifications(outcomeConsumed)
		return VerifyResult{}, err
	case errors.Is(err, ErrClientMismatch):
		e.metrics.IncrementChallengeVerifications(outcomeClientMismatch)
		e.logger.Warn("challenge verification from another client",
			zap.String("session_id", id),
			zap.String("client_id", clientID))
		return VerifyResult{}, err
	case err != nil:
		return VerifyResult{}, err
	}

	switch {
	case res.Verified:
		e.metrics.IncrementChallengeVerifications(outcomeSuccess)
	case res.Regenerated:
		e.metrics.IncrementChallengeVerifications(outcomeRegenerated)
		e.metrics.IncrementChallengesIssued(string(s.Challenge.Kind))
		e.logger.Info("challenge regenerated after repeated failures",
			zap.String("session_id", id),
			zap.String("client_id", s.ClientID))
	default:
		e.metrics.IncrementChallengeVerifications(outcomeFailure)
	}
	return res, nil
}

// Redeem consumes a pass token for clientID. Each verified session can be
// redeemed exactly once.
func (e *Engine) Redeem(ctx context.Context, passToken, clientID string) (*Session, error) {
	pass, err := token.VerifyAt(passToken, e.cfg.Secret, e.cfg.PassTTL, e.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPass, err)
	}
	if pass.ClientID != clientID {
		return nil, ErrClientMismatch
	}
	s, err := e.update(ctx, pass.SessionID, func(s *Session) error {
		switch {
		case s.Consumed:
			return ErrSessionConsumed
		case !s.Verified:
			return ErrInvalidPass
		case s.ClientID != clientID:
			return ErrClientMismatch
		}
		s.Consumed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CleanupExpiredSessions deletes sessions past their expiry. Stores with
// native TTL make this a no-op; the in-memory store relies on it.
func (e *Engine) CleanupExpiredSessions(ctx context.Context) (int, error) {
	now := e.now()
	removed := 0
	err := e.store.Scan(ctx, sessionPrefix, func(key string, value []byte) error {
		var s Session
		if err := json.Unmarshal(value, &s); err == nil && now.Before(s.ExpiresAt) {
			return nil
		}
		err := e.store.CompareAndSwap(ctx, key, value, nil, 0)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, kv.ErrConflict):
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("cleanup challenge sessions: %w", err)
	}
	return removed, nil
}
