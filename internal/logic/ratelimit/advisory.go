package ratelimit

import (
	"sync"
	"time"
)

// AdvisoryLimiter mirrors the server's window bookkeeping for a single client
// so callers can pace themselves before a request leaves the process.
//
// It has the same window and reset semantics as Limiter but never delays or
// blocks: once MaxAttempts is reached it simply reports false until the
// window elapses. It is purely advisory and must never be the only
// enforcement point.
//
// Example usage:
//
//	adv := NewAdvisoryLimiter(DefaultConfigs())
//	if !adv.Allow(ActionCommentPosting) {
//	    time.Sleep(adv.WaitTime(ActionCommentPosting))
//	}
type AdvisoryLimiter struct {
	mu         sync.Mutex
	configs    map[string]Config
	windows    map[string]*advisoryWindow
	now        func() time.Time
	hitCount   int64 // Attempts the advisory limiter turned away
	totalCount int64 // Attempts seen
}

type advisoryWindow struct {
	count int
	start time.Time
}

// NewAdvisoryLimiter creates an advisory limiter over the given action table.
func NewAdvisoryLimiter(configs map[string]Config) *AdvisoryLimiter {
	return NewAdvisoryLimiterWithClock(configs, time.Now)
}

// NewAdvisoryLimiterWithClock is NewAdvisoryLimiter with an injected clock.
func NewAdvisoryLimiterWithClock(configs map[string]Config, now func() time.Time) *AdvisoryLimiter {
	table := make(map[string]Config, len(configs))
	for name, cfg := range configs {
		table[name] = cfg
	}
	return &AdvisoryLimiter{
		configs: table,
		windows: make(map[string]*advisoryWindow),
		now:     now,
	}
}

// window returns the live window for action, resetting an elapsed one.
// Callers hold a.mu.
func (a *AdvisoryLimiter) window(action string, cfg Config, now time.Time) *advisoryWindow {
	w, ok := a.windows[action]
	if !ok || now.Sub(w.start) > cfg.Window {
		w = &advisoryWindow{start: now}
		a.windows[action] = w
	}
	return w
}

// Allow records an attempt and reports whether the server is expected to
// accept it. Actions without a config are always allowed.
func (a *AdvisoryLimiter) Allow(action string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalCount++
	cfg, ok := a.configs[action]
	if !ok {
		return true
	}
	w := a.window(action, cfg, a.now())
	if w.count >= cfg.MaxAttempts {
		a.hitCount++
		return false
	}
	w.count++
	return true
}

// Remaining returns how many attempts are left in the current window.
func (a *AdvisoryLimiter) Remaining(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg, ok := a.configs[action]
	if !ok {
		return 0
	}
	w, ok := a.windows[action]
	if !ok || a.now().Sub(w.start) > cfg.Window {
		return cfg.MaxAttempts
	}
	return max(cfg.MaxAttempts-w.count, 0)
}

// WaitTime returns how long until the current window for action elapses, or
// zero when an attempt would be allowed now.
func (a *AdvisoryLimiter) WaitTime(action string) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg, ok := a.configs[action]
	if !ok {
		return 0
	}
	w, ok := a.windows[action]
	now := a.now()
	if !ok || now.Sub(w.start) > cfg.Window || w.count < cfg.MaxAttempts {
		return 0
	}
	// The window resets once strictly more than Window has passed.
	return w.start.Add(cfg.Window).Sub(now) + time.Millisecond
}

// Reset forgets the window for action, mirroring a server-side RecordSuccess.
func (a *AdvisoryLimiter) Reset(action string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.windows, action)
}

// Stats returns the number of attempts turned away and the total seen.
func (a *AdvisoryLimiter) Stats() (hits, total int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hitCount, a.totalCount
}
