package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy parameterizes the bounded backoff combinator. MaxAttempts counts the
// first call, so MaxAttempts=4 means one call plus three retries.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
	Constant    bool
}

// Do runs op with bounded backoff. The retryable predicate decides which
// errors are worth retrying; everything else is returned immediately. The
// final error is returned unwrapped after the attempt budget is exhausted.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	var backoff retry.Backoff
	if p.Constant {
		backoff = retry.NewConstant(p.BaseDelay)
	} else {
		backoff = retry.NewExponential(p.BaseDelay)
	}
	if p.MaxDelay > 0 {
		backoff = retry.WithCappedDuration(p.MaxDelay, backoff)
	}
	if p.Jitter > 0 {
		backoff = retry.WithJitter(p.Jitter, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(p.MaxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	return err
}

// RetryableStatus reports whether an HTTP status from the provider warrants a
// retry: rate limiting and server errors only, all other 4xx are terminal.
func RetryableStatus(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}

// PollResult tells the poll loop whether to keep going.
type PollResult int

const (
	PollDone PollResult = iota
	PollContinue
	PollAbort
)

// FrontLoaded polls fn with a fast interval for the first fastAttempts calls,
// then settles to the steady interval, terminating after maxWait wall-clock
// time. It returns nil when fn reports done, ctx.Err on cancellation, and
// ErrPollTimeout when the ceiling expires. Callers decide whether to make a
// best-effort final attempt after a timeout.
func FrontLoaded(ctx context.Context, fastAttempts int, fastInterval, steady, maxWait time.Duration, fn func(ctx context.Context) (PollResult, error)) error {
	deadline := time.Now().Add(maxWait)
	attempt := 0
	for {
		result, err := fn(ctx)
		switch result {
		case PollDone:
			return nil
		case PollAbort:
			return err
		}

		attempt++
		interval := steady
		if attempt <= fastAttempts {
			interval = fastInterval
		}
		if time.Now().Add(interval).After(deadline) {
			return ErrPollTimeout
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ErrPollTimeout marks expiry of a poll loop's wall-clock ceiling.
var ErrPollTimeout = pollTimeoutError{}

type pollTimeoutError struct{}

func (pollTimeoutError) Error() string { return "poll wait ceiling exceeded" }
