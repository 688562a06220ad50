// Package ratelimiter throttles how fast a single connection may push frames
// at a server.
//
// Limiting is per connection: every accepted connection gets its own token
// bucket built from the adapter's Config, so one noisy client cannot starve
// the others and the limiter never becomes a shared lock.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Config describes a token bucket for received frames.
type Config struct {
	// FramesPerSecond is the sustained rate. 0 disables limiting.
	FramesPerSecond uint `mapstructure:"frames_per_second" yaml:"frames_per_second" json:"frames_per_second"`

	// Burst is the bucket capacity. 0 defaults to FramesPerSecond.
	Burst uint `mapstructure:"burst" yaml:"burst" json:"burst"`
}

// Enabled reports whether cfg describes an actual limit.
func (c Config) Enabled() bool {
	return c.FramesPerSecond > 0
}

// Limiter wraps a token bucket. A nil *Limiter never limits, so callers can
// hold one unconditionally.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter for cfg, or nil when cfg is disabled.
func New(cfg Config) *Limiter {
	if !cfg.Enabled() {
		return nil
	}

	burst := cfg.Burst
	if burst == 0 {
		burst = cfg.FramesPerSecond
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.FramesPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available without waiting.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Tokens returns the tokens currently in the bucket.
func (l *Limiter) Tokens() float64 {
	if l == nil {
		return 0
	}
	return l.limiter.Tokens()
}
