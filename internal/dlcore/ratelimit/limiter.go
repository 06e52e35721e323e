// Package ratelimit implements the process-wide rate limiter (C8): a token
// bucket shared by every segment worker, configurable in KB/s with 0
// meaning unlimited.
package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate with zero overhead when disabled,
// the way the bandwidth manager it is grounded on does. Unlike a manual
// elapsed-window accumulator, rate.Limiter's token bucket naturally bounds
// sustained throughput over windows of >=100ms while supporting fractional
// bytes/sec, which sidesteps integer-truncation at very low limits.
type Limiter struct {
	inner   *rate.Limiter
	enabled atomic.Bool
}

func New() *Limiter {
	return &Limiter{inner: rate.NewLimiter(rate.Inf, 0)}
}

// SetLimitKB sets the limit in KB/s; 0 disables limiting entirely.
func (l *Limiter) SetLimitKB(kb int) {
	if kb <= 0 {
		l.enabled.Store(false)
		l.inner.SetLimit(rate.Inf)
		return
	}
	bytesPerSec := rate.Limit(kb * 1024)
	l.enabled.Store(true)
	l.inner.SetLimit(bytesPerSec)
	burst := kb * 1024
	if burst < 1 {
		burst = 1
	}
	l.inner.SetBurst(burst)
}

// WaitN blocks until n bytes' worth of tokens are available, or ctx is
// cancelled. It is a fast no-op when limiting is disabled. Requests larger
// than the current burst size are split so WaitN never rejects a chunk
// outright just because one read was larger than one second's allowance.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if !l.enabled.Load() {
		return nil
	}
	burst := l.inner.Burst()
	for n > 0 {
		chunk := n
		if burst > 0 && chunk > burst {
			chunk = burst
		}
		if err := l.inner.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
