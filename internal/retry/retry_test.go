package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	orig := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = orig })
	return &waits
}

func TestDo_BackoffSequenceIsCapped(t *testing.T) {
	waits := recordSleeps(t)
	calls := 0
	failure := &payerr.HTTPError{Status: 503}

	err := Do(context.Background(), func(context.Context) error {
		calls++
		return failure
	}, Options{MaxRetries: 4, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2})

	require.ErrorIs(t, err, failure)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}, *waits)
}

func TestDo_SucceedsOnLaterAttempt(t *testing.T) {
	recordSleeps(t)
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return payerr.ErrNetwork
		}
		return nil
	}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_DefaultShouldRetryStopsOnValidation(t *testing.T) {
	waits := recordSleeps(t)
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return payerr.ErrInvalidAmount
	}, DefaultOptions())
	require.ErrorIs(t, err, payerr.ErrInvalidAmount)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestDo_CustomShouldRetry(t *testing.T) {
	recordSleeps(t)
	calls := 0
	opts := DefaultOptions()
	opts.ShouldRetry = func(_ error, attempt int) bool { return attempt < 2 }
	_ = Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("x")
	}, opts)
	assert.Equal(t, 2, calls)
}

func TestDo_CancelledContextStopsWaiting(t *testing.T) {
	recordSleeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func(context.Context) error { return payerr.ErrNetwork }, DefaultOptions())
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, payerr.ErrNetwork)
}

func TestValue_ReturnsResult(t *testing.T) {
	recordSleeps(t)
	n := 0
	v, err := Value(context.Background(), func(context.Context) (string, error) {
		n++
		if n == 1 {
			return "", payerr.ErrPaymentCreationFailed
		}
		return "ok", nil
	}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestConfigFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Options
	}{
		{"network", payerr.ErrNetwork, Options{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}},
		{"system high", &payerr.HTTPError{Status: 500}, Options{MaxRetries: 2, BaseDelay: 5 * time.Second, MaxDelay: 15 * time.Second, Multiplier: 2}},
		{"system", payerr.ErrPaymentCreationFailed, Options{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second, Multiplier: 2}},
		{"other", payerr.ErrPaymentCancelled, Options{MaxRetries: 1, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfigFor(tt.err))
		})
	}
}
