package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/docent/pkg/utils/retry"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

var fastRetry = []retry.Option{
	retry.WithBaseWait(time.Millisecond),
	retry.WithJitter(0),
}

func TestRetryRecoversFromRateLimit(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", goerr.Wrap(retry.ErrRateLimited, "throttled")
		}
		return "ok", nil
	}, fastRetry...)

	gt.NoError(t, err)
	gt.Equal(t, v, "ok")
	gt.Equal(t, calls, 3)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, goerr.Wrap(retry.ErrRateLimited, "throttled")
	}, fastRetry...)

	gt.True(t, errors.Is(err, retry.ErrRateLimited))
	gt.Equal(t, calls, retry.DefaultMaxAttempts)
}

func TestRetryDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := retry.Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	}, fastRetry...)

	gt.True(t, errors.Is(err, boom))
	gt.Equal(t, calls, 1)
}

func TestRetryCustomClassifier(t *testing.T) {
	transient := errors.New("transient")
	calls := 0
	_, err := retry.Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, transient
		}
		return 1, nil
	}, append(fastRetry, retry.WithRetryIf(func(err error) bool {
		return errors.Is(err, transient)
	}))...)

	gt.NoError(t, err)
	gt.Equal(t, calls, 2)
}

func TestRetryBackoffGrows(t *testing.T) {
	var stamps []time.Time
	_, _ = retry.Do(context.Background(), func(ctx context.Context) (int, error) {
		stamps = append(stamps, time.Now())
		return 0, retry.ErrRateLimited
	}, retry.WithBaseWait(10*time.Millisecond), retry.WithJitter(0))

	gt.A(t, stamps).Length(3)
	gt.True(t, stamps[1].Sub(stamps[0]) >= 10*time.Millisecond)
	gt.True(t, stamps[2].Sub(stamps[1]) >= 20*time.Millisecond)
}
