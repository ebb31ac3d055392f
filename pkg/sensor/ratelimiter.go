package sensor

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter caps sustained sensor emission rate independently of the
// backpressure watermark: the watermark bounds how much work is
// queued, the limiter bounds how fast it is produced in the first
// place.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a token-bucket limiter allowing eventsPerSecond
// sustained with a burst capacity of burst.
func NewRateLimiter(eventsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst)}
}

// Allow reports whether an event may be emitted right now without
// blocking, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
