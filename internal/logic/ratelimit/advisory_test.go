package ratelimit

import (
	"testing"
	"time"
)

func TestAdvisoryLimiter_Allow(t *testing.T) {
	clock := newTestClock()
	adv := NewAdvisoryLimiterWithClock(map[string]Config{testAction: strictConfig}, clock.Now)

	for i := 0; i < 3; i++ {
		if !adv.Allow(testAction) {
			t.Fatalf("expected attempt %d to be allowed", i+1)
		}
	}
	if adv.Allow(testAction) {
		t.Fatal("expected 4th attempt to be refused")
	}
	if got := adv.Remaining(testAction); got != 0 {
		t.Errorf("expected 0 remaining, got %d", got)
	}

	hits, total := adv.Stats()
	if hits != 1 || total != 4 {
		t.Errorf("expected 1/4 hits, got %d/%d", hits, total)
	}
}

func TestAdvisoryLimiter_WindowResetWithoutBlock(t *testing.T) {
	clock := newTestClock()
	adv := NewAdvisoryLimiterWithClock(map[string]Config{testAction: strictConfig}, clock.Now)

	for i := 0; i < 3; i++ {
		adv.Allow(testAction)
	}
	clock.Advance(30 * time.Second)
	if wait := adv.WaitTime(testAction); wait != 30*time.Second+time.Millisecond {
		t.Errorf("unexpected wait time %s", wait)
	}

	// No block: once the window elapses the client may continue immediately.
	clock.Advance(30*time.Second + time.Millisecond)
	if !adv.Allow(testAction) {
		t.Fatal("expected allow after window elapsed")
	}
	if got := adv.Remaining(testAction); got != 2 {
		t.Errorf("expected 2 remaining, got %d", got)
	}
}

func TestAdvisoryLimiter_ResetAndUnknown(t *testing.T) {
	adv := NewAdvisoryLimiter(map[string]Config{testAction: strictConfig})

	for i := 0; i < 3; i++ {
		adv.Allow(testAction)
	}
	adv.Reset(testAction)
	if !adv.Allow(testAction) {
		t.Fatal("expected allow after reset")
	}
	if !adv.Allow("unregistered") {
		t.Fatal("advisory limiter should not refuse unknown actions")
	}
	if adv.WaitTime("unregistered") != 0 {
		t.Fatal("expected no wait for unknown action")
	}
}
