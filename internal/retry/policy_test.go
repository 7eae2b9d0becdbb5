package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/outreach/internal/model"
)

func TestNewPolicy(t *testing.T) {
	p := NewPolicy(model.RetryConfig{
		Enabled:           true,
		MaxAttempts:       4,
		InitialDelay:      10 * time.Second,
		BackoffMultiplier: 3,
		MaxDelay:          2 * time.Second,
	})
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.Initial, "initial clamped to max")
	assert.InDelta(t, 3.0, p.Multiplier, 0)
	require.NoError(t, p.Validate())
}

func TestNewPolicyDisabled(t *testing.T) {
	p := NewPolicy(model.RetryConfig{Enabled: false, MaxAttempts: 5})
	assert.Equal(t, 1, p.MaxAttempts)
	require.NoError(t, p.Validate())
}

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(model.RetryConfig{Enabled: true})
	assert.Equal(t, DefaultPolicy(), p)
}

func TestDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, Initial: 100 * time.Millisecond, Multiplier: 2, Max: 500 * time.Millisecond}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{-1, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 500 * time.Millisecond},
		{10, 500 * time.Millisecond},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, p.Delay(c.attempt), "attempt %d", c.attempt)
	}

	uncapped := Policy{MaxAttempts: 3, Initial: time.Second, Multiplier: 1.5}
	assert.Equal(t, 2250*time.Millisecond, uncapped.Delay(3))
}

func TestValidate(t *testing.T) {
	assert.Error(t, Policy{}.Validate())
	assert.Error(t, Policy{MaxAttempts: 2, Initial: time.Second, Multiplier: 0.5}.Validate())
	assert.NoError(t, NoRetry().Validate())
}

type recordingSleeper struct {
	slept []time.Duration
	err   error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return s.err
}

func TestDo(t *testing.T) {
	p := Policy{MaxAttempts: 3, Initial: time.Second, Multiplier: 2}
	boom := errors.New("boom")

	t.Run("succeeds after retries", func(t *testing.T) {
		s := &recordingSleeper{}
		var retried []int
		n, err := Do(context.Background(), p, s, func(attempt int) error {
			if attempt < 3 {
				return boom
			}
			return nil
		}, func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) })

		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []int{1, 2}, retried)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.slept)
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		s := &recordingSleeper{}
		calls := 0
		n, err := Do(context.Background(), p, s, func(int) error {
			calls++
			return boom
		}, nil)

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, n)
		assert.Equal(t, 3, calls)
		assert.Len(t, s.slept, 2, "no pause after the last attempt")
	})

	t.Run("permanent errors stop early", func(t *testing.T) {
		s := &recordingSleeper{}
		n, err := Do(context.Background(), p, s, func(int) error {
			return Permanent(boom)
		}, nil)

		assert.ErrorIs(t, err, boom)
		assert.True(t, IsPermanent(err))
		assert.Equal(t, 1, n)
		assert.Empty(t, s.slept)
	})

	t.Run("canceled sleep aborts", func(t *testing.T) {
		s := &recordingSleeper{err: context.Canceled}
		n, err := Do(context.Background(), p, s, func(int) error { return boom }, nil)

		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, n)
	})
}

func TestClockSleeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ClockSleeper{}.Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, ClockSleeper{}.Sleep(context.Background(), time.Millisecond))
}
