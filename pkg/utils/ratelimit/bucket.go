// Package ratelimit throttles outbound calls with a token bucket.
package ratelimit

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidBucket = goerr.New("invalid token bucket parameters")
	ErrWaitExceeded  = goerr.New("rate limit wait exceeds ceiling")
)

// Bucket is a lazily refilled token bucket. It starts full and refills at
// rate tokens per second up to capacity. Acquire suspends the caller until
// enough tokens are available instead of failing.
type Bucket struct {
	limiter  *rate.Limiter
	capacity int
	maxWait  time.Duration
	now      func() time.Time
}

type Option func(*Bucket)

// WithMaxWait makes Acquire fail with ErrWaitExceeded instead of waiting longer than d
func WithMaxWait(d time.Duration) Option {
	return func(b *Bucket) {
		b.maxWait = d
	}
}

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(b *Bucket) {
		b.now = now
	}
}

func New(ratePerSec float64, capacity int, opts ...Option) (*Bucket, error) {
	if ratePerSec <= 0 || capacity <= 0 {
		return nil, goerr.Wrap(ErrInvalidBucket, "rate and capacity must be positive",
			goerr.V("rate", ratePerSec), goerr.V("capacity", capacity))
	}

	b := &Bucket{
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), capacity),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Acquire consumes n tokens, waiting for the refill when the bucket is short
func (b *Bucket) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return goerr.Wrap(ErrInvalidBucket, "token count must be positive", goerr.V("n", n))
	}
	if n > b.capacity {
		return goerr.Wrap(ErrInvalidBucket, "token count exceeds capacity",
			goerr.V("n", n), goerr.V("capacity", b.capacity))
	}

	now := b.now()
	r := b.limiter.ReserveN(now, n)
	if !r.OK() {
		return goerr.Wrap(ErrInvalidBucket, "reservation rejected", goerr.V("n", n))
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if b.maxWait > 0 && delay > b.maxWait {
		r.CancelAt(now)
		return goerr.Wrap(ErrWaitExceeded, "token wait too long",
			goerr.V("delay", delay), goerr.V("max_wait", b.maxWait))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.CancelAt(b.now())
		return goerr.Wrap(ctx.Err(), "interrupted while waiting for token")
	}
}

// Tokens reports the currently available tokens, refilled up to now
func (b *Bucket) Tokens() float64 {
	tokens := b.limiter.TokensAt(b.now())
	if tokens < 0 {
		return 0
	}
	return tokens
}

func (b *Bucket) Capacity() int { return b.capacity }
