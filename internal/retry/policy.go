// Package retry implements the exponential backoff used for transport
// sends.
package retry

import (
	"fmt"
	"math"
	"time"

	"github.com/nhle/outreach/internal/model"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	MaxAttempts int           // total attempts including the first; 1 disables retries
	Initial     time.Duration // delay before the first retry
	Multiplier  float64       // growth factor per retry
	Max         time.Duration // cap for growth; 0 means uncapped
}

// DefaultPolicy returns the default policy (3 attempts, 5s initial, x2, 5m cap).
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Initial: 5 * time.Second, Multiplier: 2, Max: 5 * time.Minute}
}

// NoRetry is a policy that makes a single attempt.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// NewPolicy builds a policy from configuration. A disabled policy
// degrades to a single attempt; zero/invalid values fall back to defaults.
func NewPolicy(cfg model.RetryConfig) Policy {
	if !cfg.Enabled {
		return NoRetry()
	}
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		p.Initial = cfg.InitialDelay
	}
	if cfg.BackoffMultiplier >= 1 {
		p.Multiplier = cfg.BackoffMultiplier
	}
	if cfg.MaxDelay > 0 {
		p.Max = cfg.MaxDelay
	}
	if p.Max > 0 && p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the pause after the given failed attempt (1-based):
// Initial × Multiplier^(attempt−1), capped at Max.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.Initial <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Initial) * math.Pow(mult, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1")
	}
	if p.MaxAttempts > 1 && p.Initial < 0 {
		return fmt.Errorf("initial delay cannot be negative")
	}
	if p.MaxAttempts > 1 && p.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1")
	}
	if p.Max < 0 {
		return fmt.Errorf("max delay cannot be negative")
	}
	return nil
}
