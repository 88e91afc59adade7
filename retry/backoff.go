package retry

import (
	"math"
	"time"
)

// Config holds the backoff constants for the retry engine. It is plain data
// so the policy stays a pure function of (attempt, config).
type Config struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	MaxRetries int
}

func DefaultConfig() Config {
	return Config{
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   5 * time.Minute,
		MaxRetries: 5,
	}
}

// NextDelay computes the wait before the given attempt is retried:
// min(base * multiplier^(attempt-1), max). No jitter; callers relying on the
// exact schedule (1s, 2s, 4s, 8s, 16s with defaults) get it verbatim.
func NextDelay(attempt int, cfg Config) time.Duration {
	if attempt <= 0 {
		return cfg.BaseDelay
	}
	exp := float64(attempt - 1)
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, exp))
	if delay > cfg.MaxDelay || delay <= 0 {
		return cfg.MaxDelay
	}
	return delay
}
