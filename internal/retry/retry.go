package retry

import (
	"context"
	"errors"
	"time"
)

// Sleeper pauses between operations. Sleep returns early with the
// context's error when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ClockSleeper sleeps on the wall clock.
type ClockSleeper struct{}

func (ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// policy's attempts are used up. onRetry, if set, is called before each
// backoff pause. Do returns the number of attempts made and the last
// error.
func Do(
	ctx context.Context,
	p Policy,
	sleeper Sleeper,
	fn func(attempt int) error,
	onRetry func(attempt int, err error, delay time.Duration),
) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt == maxAttempts || !Retryable(err) {
			return attempt, err
		}

		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		if serr := sleeper.Sleep(ctx, delay); serr != nil {
			return attempt, errors.Join(err, serr)
		}
	}
	return maxAttempts, err
}
