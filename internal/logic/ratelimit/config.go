package ratelimit

import (
	"fmt"
	"time"
)

// Protected action names.
const (
	ActionEventCreation         = "event_creation"
	ActionOrganizerVerification = "organizer_verification"
	ActionLoginAttempts         = "login_attempts"
	ActionCommentPosting        = "comment_posting"
	ActionFileUpload            = "file_upload"
	ActionProfileUpdate         = "profile_update"
)

const (
	progressiveBaseDelay = time.Second
	progressiveMaxDelay  = 30 * time.Second
)

// Config holds the limits for one protected action.
type Config struct {
	MaxAttempts      int           // Attempts allowed inside one window
	Window           time.Duration // Sliding window anchored to the first attempt
	BlockDuration    time.Duration // How long a client stays blocked after exceeding MaxAttempts
	ProgressiveDelay bool          // Whether repeated attempts must back off before the block
}

// Validate reports whether the config can be enforced.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", c.Window)
	}
	if c.BlockDuration <= 0 {
		return fmt.Errorf("block duration must be positive, got %s", c.BlockDuration)
	}
	return nil
}

// DefaultConfigs returns the built-in action table. The values encode how
// sensitive each action is: organizer verification gets few attempts per day,
// comments many per minute.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		ActionEventCreation:         {MaxAttempts: 3, Window: time.Hour, BlockDuration: 4 * time.Hour, ProgressiveDelay: true},
		ActionOrganizerVerification: {MaxAttempts: 5, Window: 24 * time.Hour, BlockDuration: 24 * time.Hour, ProgressiveDelay: false},
		ActionLoginAttempts:         {MaxAttempts: 5, Window: 15 * time.Minute, BlockDuration: 30 * time.Minute, ProgressiveDelay: true},
		ActionCommentPosting:        {MaxAttempts: 10, Window: time.Minute, BlockDuration: 5 * time.Minute, ProgressiveDelay: true},
		ActionFileUpload:            {MaxAttempts: 20, Window: time.Hour, BlockDuration: 2 * time.Hour, ProgressiveDelay: false},
		ActionProfileUpdate:         {MaxAttempts: 10, Window: time.Hour, BlockDuration: time.Hour, ProgressiveDelay: false},
	}
}

// ProgressiveDelayFor returns the backoff required before attempt number
// count: 1s, 2s, 4s ... capped at 30s. Attempts below 2 need no delay.
func ProgressiveDelayFor(count int) time.Duration {
	if count < 2 {
		return 0
	}
	shift := count - 2
	if shift >= 5 {
		return progressiveMaxDelay
	}
	d := progressiveBaseDelay << uint(shift)
	if d > progressiveMaxDelay {
		return progressiveMaxDelay
	}
	return d
}
