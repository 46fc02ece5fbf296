package comms

import (
	"sync/atomic"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// RecvLimiter is a token bucket in front of the inbound service. A frame that
// finds the bucket empty is refused rather than delayed, so the sending
// writer backs off through its retry loop.
//
// The limiter can be reloaded at runtime; the pointer swap is atomic.
type RecvLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

// NewRecvLimiter creates a limiter admitting limit frames per second with
// the given burst. A limit of 0 admits everything.
//
// Example usage:
// limiter := NewRecvLimiter(100, 10) // 100 frames per second, bursts of 10
func NewRecvLimiter(limit, burst int) *RecvLimiter {
	l := &RecvLimiter{}
	l.Reload(limit, burst)
	return l
}

// Allow reports whether a frame may be accepted now.
func (l *RecvLimiter) Allow() bool {
	return l.limiter.Load().Allow()
}

// Reload replaces the limit and burst.
func (l *RecvLimiter) Reload(limit, burst int) {
	if limit <= 0 {
		l.limiter.Store(rate.NewLimiter(rate.Inf, 0))
		return
	}
	if burst <= 0 {
		burst = limit
	}
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
}

// TransmitLimiter paces a writer with a leaky bucket.
type TransmitLimiter struct {
	limiter atomic.Pointer[ratelimit.Limiter]
}

// NewTransmitLimiter creates a limiter spacing bundles evenly at limit per
// second. A limit of 0 disables pacing.
func NewTransmitLimiter(limit int) *TransmitLimiter {
	l := &TransmitLimiter{}
	l.Reload(limit)
	return l
}

// Take blocks until the next bundle may be transmitted.
func (l *TransmitLimiter) Take() {
	_ = (*l.limiter.Load()).Take()
}

// Reload replaces the rate.
func (l *TransmitLimiter) Reload(limit int) {
	var limiter ratelimit.Limiter
	if limit <= 0 {
		limiter = ratelimit.NewUnlimited()
	} else {
		limiter = ratelimit.New(limit)
	}
	l.limiter.Store(&limiter)
}
