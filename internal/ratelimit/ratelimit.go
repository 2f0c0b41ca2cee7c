// Package ratelimit caps the rate of outbound calls for high-volume
// operations such as historic retrieval.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter enforces a hard ceiling on call rate with no burst beyond it.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing perSecond calls per second, burst 1.
func New(perSecond float64) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Acquire blocks until the next call is permitted or ctx is done. It returns
// the context error on cancellation.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
