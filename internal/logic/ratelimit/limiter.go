// Package ratelimit implements per-client, per-action sliding-window limits
// with progressive backoff and temporary blocking.
//
// Each (action, client) pair owns one Entry. The window is anchored to the
// first attempt rather than to calendar buckets. Entries live in a kv.Store
// and every update goes through compare-and-swap, so concurrent checks for the
// same pair never lose increments, whether the store is in process memory or
// shared through Redis.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/kv"
	"github.com/CristianoSantos3266/MarchaBrasil-main-sub001/internal/observability"

	"go.uber.org/zap"
)

const (
	keyPrefix     = "ratelimit:"
	maxCASRetries = 128
)

// Check outcomes, used as metric labels.
const (
	OutcomeAllowed = "allowed"
	OutcomeDelayed = "delayed"
	OutcomeBlocked = "blocked"
)

var (
	// ErrUnknownAction is returned for an action with no registered Config.
	// It signals a configuration mistake and is never treated as "allow".
	ErrUnknownAction = errors.New("unknown rate limit action")
	// ErrContention is returned when an entry kept changing under us.
	ErrContention = errors.New("rate limit entry contention")
)

// Entry is the stored state for one (action, client) pair.
type Entry struct {
	Count          int        `json:"count"`
	FirstAttemptAt time.Time  `json:"first_attempt_at"`
	LastAttemptAt  time.Time  `json:"last_attempt_at"`
	Blocked        bool       `json:"blocked"`
	BlockUntil     *time.Time `json:"block_until,omitempty"`
}

func (e *Entry) activeBlock(now time.Time) bool {
	return e.Blocked && e.BlockUntil != nil && now.Before(*e.BlockUntil)
}

// expired reports whether the window has elapsed and no block is active.
func (e *Entry) expired(cfg Config, now time.Time) bool {
	return now.Sub(e.FirstAttemptAt) > cfg.Window && !e.activeBlock(now)
}

// Result is the outcome of one Check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Blocked    bool
}

// EntryStatus is the admin view of one entry.
type EntryStatus struct {
	Action         string     `json:"action"`
	ClientID       string     `json:"client_id"`
	Exists         bool       `json:"exists"`
	Count          int        `json:"count"`
	FirstAttemptAt time.Time  `json:"first_attempt_at,omitempty"`
	LastAttemptAt  time.Time  `json:"last_attempt_at,omitempty"`
	Blocked        bool       `json:"blocked"`
	BlockUntil     *time.Time `json:"block_until,omitempty"`
	Remaining      int        `json:"remaining_attempts"`
	ResetAt        time.Time  `json:"reset_at,omitempty"`
}

// Limiter enforces the action table against a kv.Store.
//
// Example usage:
//
//	limiter := NewLimiter(kv.NewMemoryStore(), DefaultConfigs(), logger, metrics)
//	res, err := limiter.Check(ctx, ActionEventCreation, ClientID(userID, ip))
//	if err != nil {
//	    // misconfiguration or store failure
//	}
//	if !res.Allowed {
//	    // reply 429 with res.RetryAfter
//	}
type Limiter struct {
	store   kv.Store
	configs map[string]Config
	logger  *zap.Logger
	metrics observability.MetricsRegistry
	now     func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock. Tests use it to step through windows.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter for the given action table. The table is
// copied; later changes to the map do not affect the limiter.
func NewLimiter(store kv.Store, configs map[string]Config, logger *zap.Logger, metrics observability.MetricsRegistry, opts ...Option) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	table := make(map[string]Config, len(configs))
	for name, cfg := range configs {
		table[name] = cfg
	}
	l := &Limiter{
		store:   store,
		configs: table,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the limits registered for action.
func (l *Limiter) Config(action string) (Config, error) {
	cfg, ok := l.configs[action]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return cfg, nil
}

// Actions lists the registered action names in sorted order.
func (l *Limiter) Actions() []string {
	out := make([]string, 0, len(l.configs))
	for name := range l.configs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func entryKey(action, clientID string) string {
	return keyPrefix + action + ":" + clientID
}

func parseKey(key string) (action, clientID string, ok bool) {
	rest, found := strings.CutPrefix(key, keyPrefix)
	if !found {
		return "", "", false
	}
	action, clientID, ok = strings.Cut(rest, ":")
	return action, clientID, ok
}

// Check records an attempt of action by clientID and decides whether it may
// proceed.
//
// The decision follows the stored entry:
//   - no entry: start a window with count 1 and allow
//   - active block: deny until the block ends, without counting the attempt
//   - window elapsed (or block expired): start a fresh window and allow
//   - otherwise count the attempt; above MaxAttempts the client is blocked
//     for BlockDuration
//   - with progressive delay, every counted attempt after the first is
//     denied with a backoff of 1s*2^(count-2), capped at 30s
func (l *Limiter) Check(ctx context.Context, action, clientID string) (Result, error) {
	cfg, err := l.Config(action)
	if err != nil {
		return Result{}, err
	}
	key := entryKey(action, clientID)

	for i := 0; i < maxCASRetries; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		now := l.now()

		prev, entry, err := l.load(ctx, key)
		if err != nil {
			return Result{}, err
		}

		next, res, outcome := evaluate(cfg, entry, now)
		if next == nil {
			l.record(action, clientID, res, outcome)
			return res, nil
		}

		raw, err := json.Marshal(next)
		if err != nil {
			return Result{}, fmt.Errorf("encode rate limit entry: %w", err)
		}
		err = l.store.CompareAndSwap(ctx, key, prev, raw, entryTTL(cfg, next, now))
		if errors.Is(err, kv.ErrConflict) {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("store rate limit entry: %w", err)
		}

		if outcome == OutcomeBlocked {
			l.metrics.IncrementRateLimitBlocks(action)
			l.logger.Warn("client blocked",
				zap.String("action", action),
				zap.String("client_id", clientID),
				zap.Int("attempts", next.Count),
				zap.Time("block_until", *next.BlockUntil))
		}
		l.record(action, clientID, res, outcome)
		return res, nil
	}
	return Result{}, fmt.Errorf("%w: %s", ErrContention, key)
}

func (l *Limiter) record(action, clientID string, res Result, outcome string) {
	l.metrics.IncrementRateLimitChecks(action, outcome)
	if !res.Allowed {
		l.logger.Info("rate limit denied",
			zap.String("action", action),
			zap.String("client_id", clientID),
			zap.String("outcome", outcome),
			zap.Duration("retry_after", res.RetryAfter))
	}
}

// load returns the raw bytes (nil when absent) and the decoded entry (nil
// when absent). An undecodable entry is treated as absent and overwritten.
func (l *Limiter) load(ctx context.Context, key string) ([]byte, *Entry, error) {
	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load rate limit entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		l.logger.Warn("discarding corrupt rate limit entry", zap.String("key", key), zap.Error(err))
		return raw, nil, nil
	}
	return raw, &e, nil
}

// evaluate applies one attempt to entry. A nil next entry means the stored
// state must not change.
func evaluate(cfg Config, entry *Entry, now time.Time) (next *Entry, res Result, outcome string) {
	res.Limit = cfg.MaxAttempts

	if entry != nil && entry.activeBlock(now) {
		res.Blocked = true
		res.ResetAt = *entry.BlockUntil
		res.RetryAfter = entry.BlockUntil.Sub(now)
		return nil, res, OutcomeBlocked
	}

	if entry == nil || entry.Blocked || now.Sub(entry.FirstAttemptAt) > cfg.Window {
		next = &Entry{Count: 1, FirstAttemptAt: now, LastAttemptAt: now}
		res.Allowed = true
		res.Remaining = cfg.MaxAttempts - 1
		res.ResetAt = now.Add(cfg.Window)
		return next, res, OutcomeAllowed
	}

	e := *entry
	e.Count++
	e.LastAttemptAt = now

	if e.Count > cfg.MaxAttempts {
		until := now.Add(cfg.BlockDuration)
		e.Blocked = true
		e.BlockUntil = &until
		res.Blocked = true
		res.ResetAt = until
		res.RetryAfter = cfg.BlockDuration
		return &e, res, OutcomeBlocked
	}

	res.Remaining = cfg.MaxAttempts - e.Count
	res.ResetAt = e.FirstAttemptAt.Add(cfg.Window)

	// The denied attempt still counts toward the block.
	if cfg.ProgressiveDelay && e.Count > 1 {
		res.RetryAfter = ProgressiveDelayFor(e.Count)
		return &e, res, OutcomeDelayed
	}

	res.Allowed = true
	return &e, res, OutcomeAllowed
}

// entryTTL keeps an entry until its window has elapsed and any block ended.
func entryTTL(cfg Config, e *Entry, now time.Time) time.Duration {
	end := e.FirstAttemptAt.Add(cfg.Window)
	if e.BlockUntil != nil && e.BlockUntil.After(end) {
		end = *e.BlockUntil
	}
	ttl := end.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// RecordSuccess forgets every prior attempt by clientID for action. The
// limiter punishes repeated failure, not repeated use.
func (l *Limiter) RecordSuccess(ctx context.Context, action, clientID string) error {
	if _, err := l.Config(action); err != nil {
		return err
	}
	if err := l.store.Delete(ctx, entryKey(action, clientID)); err != nil {
		return fmt.Errorf("reset rate limit entry: %w", err)
	}
	return nil
}

// Unblock lifts any block and clears the attempt history for the pair.
func (l *Limiter) Unblock(ctx context.Context, action, clientID string) error {
	if _, err := l.Config(action); err != nil {
		return err
	}
	if err := l.store.Delete(ctx, entryKey(action, clientID)); err != nil {
		return fmt.Errorf("unblock: %w", err)
	}
	l.logger.Info("client unblocked", zap.String("action", action), zap.String("client_id", clientID))
	return nil
}

// Status returns the current state of one pair without recording an attempt.
func (l *Limiter) Status(ctx context.Context, action, clientID string) (EntryStatus, error) {
	cfg, err := l.Config(action)
	if err != nil {
		return EntryStatus{}, err
	}
	_, entry, err := l.load(ctx, entryKey(action, clientID))
	if err != nil {
		return EntryStatus{}, err
	}
	return statusOf(action, clientID, cfg, entry, l.now()), nil
}

func statusOf(action, clientID string, cfg Config, e *Entry, now time.Time) EntryStatus {
	st := EntryStatus{Action: action, ClientID: clientID, Remaining: cfg.MaxAttempts}
	if e == nil {
		return st
	}
	st.Exists = true
	st.Count = e.Count
	st.FirstAttemptAt = e.FirstAttemptAt
	st.LastAttemptAt = e.LastAttemptAt
	if e.activeBlock(now) {
		st.Blocked = true
		st.BlockUntil = e.BlockUntil
		st.Remaining = 0
		st.ResetAt = *e.BlockUntil
		return st
	}
	if e.expired(cfg, now) || e.Blocked {
		return st
	}
	st.Remaining = max(cfg.MaxAttempts-e.Count, 0)
	st.ResetAt = e.FirstAttemptAt.Add(cfg.Window)
	return st
}

// Entries lists every stored entry for monitoring, sorted by action then client.
func (l *Limiter) Entries(ctx context.Context) ([]EntryStatus, error) {
	now := l.now()
	var out []EntryStatus
	err := l.store.Scan(ctx, keyPrefix, func(key string, value []byte) error {
		action, clientID, ok := parseKey(key)
		if !ok {
			return nil
		}
		cfg, known := l.configs[action]
		if !known {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return nil
		}
		out = append(out, statusOf(action, clientID, cfg, &e, now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rate limit entries: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Action != out[j].Action {
			return out[i].Action < out[j].Action
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out, nil
}

// CleanupExpiredEntries removes entries whose window has elapsed and whose
// block, if any, has ended. Removal uses compare-and-swap so an attempt that
// lands concurrently is never lost. It returns the number removed.
func (l *Limiter) CleanupExpiredEntries(ctx context.Context) (int, error) {
	now := l.now()
	removed, live := 0, 0
	err := l.store.Scan(ctx, keyPrefix, func(key string, value []byte) error {
		action, _, ok := parseKey(key)
		cfg, known := l.configs[action]
		var e Entry
		stale := !ok || !known || json.Unmarshal(value, &e) != nil || e.expired(cfg, now)
		if !stale {
			live++
			return nil
		}
		err := l.store.CompareAndSwap(ctx, key, value, nil, 0)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, kv.ErrConflict):
			live++
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("cleanup rate limit entries: %w", err)
	}
	l.metrics.SetRateLimitEntries(live)
	if removed > 0 {
		l.logger.Debug("cleaned up rate limit entries", zap.Int("removed", removed), zap.Int("live", live))
	}
	return removed, nil
}

// StartCleanup runs CleanupExpiredEntries every interval until ctx is done.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := l.CleanupExpiredEntries(ctx); err != nil && ctx.Err() == nil {
					l.logger.Warn("rate limit cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}
