// Package retry re-runs calls that failed because the provider throttled them.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// ErrRateLimited marks an error as a throttling response. Only errors
// matching the classifier (this sentinel by default) are retried.
var ErrRateLimited = goerr.New("rate limited")

const (
	DefaultMaxAttempts = 3
	DefaultBaseWait    = 10 * time.Second
	DefaultJitter      = 2 * time.Second
)

type config struct {
	maxAttempts uint
	baseWait    time.Duration
	jitter      time.Duration
	retryIf     func(error) bool
}

type Option func(*config)

func WithMaxAttempts(n uint) Option {
	return func(c *config) { c.maxAttempts = n }
}

func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

func WithJitter(d time.Duration) Option {
	return func(c *config) { c.jitter = d }
}

// WithRetryIf replaces the rate-limit classifier
func WithRetryIf(f func(error) bool) Option {
	return func(c *config) { c.retryIf = f }
}

func isRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// schedule waits base*2^attempt plus uniform jitter before the next attempt
type schedule struct {
	base    time.Duration
	jitter  time.Duration
	attempt int
}

func (s *schedule) NextBackOff() time.Duration {
	d := s.base << s.attempt
	if s.jitter > 0 {
		d += time.Duration(rand.Int64N(int64(s.jitter)))
	}
	s.attempt++
	return d
}

func (s *schedule) Reset() { s.attempt = 0 }

// Do runs fn until it succeeds, fails with a non rate-limit error, or runs
// out of attempts. The last rate-limit error is returned as is.
func Do[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	cfg := config{
		maxAttempts: DefaultMaxAttempts,
		baseWait:    DefaultBaseWait,
		jitter:      DefaultJitter,
		retryIf:     isRateLimited,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxAttempts == 0 {
		cfg.maxAttempts = 1
	}

	operation := func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !cfg.retryIf(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, wait time.Duration) {
		logging.From(ctx).Warn("rate limited, retrying", "wait", wait, logging.ErrAttr(err))
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&schedule{base: cfg.baseWait, jitter: cfg.jitter}),
		backoff.WithMaxTries(cfg.maxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return v, err
}
