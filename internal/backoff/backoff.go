// Package backoff provides the capped exponential backoff used by worker
// loops when a collaborator call fails transiently: seed 1s, doubling per
// attempt, capped at 10 minutes, with optional jitter to avoid thundering
// herds across worker processes.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Default backoff bounds.
const (
	DefaultBase = 1 * time.Second
	DefaultCap  = 10 * time.Minute
)

// Exponential computes per-attempt delays. The zero value is unusable; use
// New or fill Base and Cap.
type Exponential struct {
	// Base is the first attempt's delay.
	Base time.Duration
	// Cap bounds the delay growth.
	Cap time.Duration
	// JitterFactor in [0,1] randomizes each delay by ±factor.
	JitterFactor float64
}

// New returns the bot's standard backoff: 1s seed, 10m cap, 10% jitter.
func New() *Exponential {
	return &Exponential{Base: DefaultBase, Cap: DefaultCap, JitterFactor: 0.1}
}

// Delay returns the delay for the given 1-based attempt.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if d > float64(e.Cap) {
		d = float64(e.Cap)
	}
	if e.JitterFactor > 0 {
		jitter := d * e.JitterFactor
		d += (rand.Float64() * 2 * jitter) - jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Sleep waits out the delay for attempt, or returns early with ctx's error
// when the caller is shutting down.
func (e *Exponential) Sleep(ctx context.Context, attempt int) error {
	d := e.Delay(attempt)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
