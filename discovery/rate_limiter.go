package discovery

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiter caps replies with a token bucket.
type RateLimiter struct {
	limiter       *rate.Limiter
	ratePerSec    int
	burst         int
	allowedCount  atomic.Int64
	rejectedCount atomic.Int64
}

// NewRateLimiter creates a limiter allowing ratePerSec replies with the given
// burst. Non-positive values fall back to 20/s and twice the rate.
func NewRateLimiter(ratePerSec, burst int) *RateLimiter {
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	if burst <= 0 {
		burst = ratePerSec * 2
	}
	return &RateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), burst),
		ratePerSec: ratePerSec,
		burst:      burst,
	}
}

// Allow reports whether a reply may be sent now.
func (l *RateLimiter) Allow() bool {
	if l.limiter.Allow() {
		l.allowedCount.Add(1)
		return true
	}
	l.rejectedCount.Add(1)
	return false
}

// AllowedCount returns the number of allowed replies.
func (l *RateLimiter) AllowedCount() int64 { return l.allowedCount.Load() }

// RejectedCount returns the number of dropped probes.
func (l *RateLimiter) RejectedCount() int64 { return l.rejectedCount.Load() }
