package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

func noSleep(t *testing.T) *[]time.Duration {
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

func TestClassify_PaymentCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		action     Action
		canRetry   bool
		maxRetries int
		delay      time.Duration
	}{
		{"creation failed retries", payerr.ErrPaymentCreationFailed, ActionRetry, true, 3, 2 * time.Second},
		{"verification failed verifies", payerr.ErrPaymentVerificationFailed, ActionVerifyStatus, true, 5, 3 * time.Second},
		{"cancelled returns to selection", payerr.ErrPaymentCancelled, ActionReturnToSelection, false, 0, 0},
		{"expired returns to selection", payerr.ErrPaymentExpired, ActionReturnToSelection, false, 0, 0},
		{"invalid amount shows error", payerr.ErrInvalidAmount.WithMessage("bad"), ActionShowError, false, 0, 0},
		{"insufficient funds shows error", payerr.ErrInsufficientFunds, ActionShowError, false, 0, 0},
		{"booking creation contacts support", payerr.ErrBookingCreationFailed, ActionContactSupport, false, 0, 0},
		{"unmapped code shows error", payerr.ErrSessionNotFound, ActionShowError, false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(fmt.Errorf("wrapped: %w", tt.err))
			assert.Equal(t, tt.action, ce.Recovery.Action)
			assert.Equal(t, tt.canRetry, ce.Recovery.CanRetry)
			assert.Equal(t, tt.maxRetries, ce.Recovery.MaxRetries)
			assert.Equal(t, tt.delay, ce.Recovery.RetryDelay)
		})
	}
}

func TestClassify_TransportAndHTTP(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		typ    ErrorType
		action Action
		max    int
	}{
		{"network", fmt.Errorf("dial: %w", payerr.ErrNetwork), TypeNetwork, ActionRetry, 3},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, TypeNetwork, ActionRetry, 3},
		{"timeout", context.DeadlineExceeded, TypeTimeout, ActionRetry, 2},
		{"transport timeout counts as network", &url.Error{Op: "Post", URL: "https://sb-openapi.zalopay.vn/v2/create", Err: context.DeadlineExceeded}, TypeNetwork, ActionRetry, 3},
		{"server error", &payerr.HTTPError{Status: 502}, TypeServer, ActionRetry, 3},
		{"rate limit", &payerr.HTTPError{Status: 429}, TypeRateLimit, ActionRetry, 1},
		{"client error", &payerr.HTTPError{Status: 404}, TypeUnknown, ActionShowError, 0},
		{"unknown", errors.New("boom"), TypeUnknown, ActionShowError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.err)
			assert.Equal(t, tt.typ, ce.Type)
			assert.Equal(t, tt.action, ce.Recovery.Action)
			assert.Equal(t, tt.max, ce.Recovery.MaxRetries)
			assert.ErrorIs(t, ce, tt.err)
		})
	}
}

func TestClassify_PaymentErrorBeatsHTTP(t *testing.T) {
	err := errors.Join(payerr.ErrPaymentCancelled, &payerr.HTTPError{Status: 500})
	assert.Equal(t, TypePaymentCancelled, Classify(err).Type)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		category  Category
		severity  Severity
		retryable bool
	}{
		{"validation", payerr.ErrInvalidDiscount, CategoryValidation, SeverityLow, false},
		{"business", payerr.ErrAmountTooHigh, CategoryBusiness, SeverityMedium, false},
		{"user cancel", payerr.ErrPaymentCancelled, CategoryUser, SeverityLow, true},
		{"system", payerr.ErrSessionFetchFailed, CategorySystem, SeverityMedium, true},
		{"timeout code", payerr.ErrPaymentVerificationTimeout, CategorySystem, SeverityMedium, true},
		{"cancellation failed", payerr.ErrPaymentCancellationFailed, CategorySystem, SeverityCritical, false},
		{"booking failed", payerr.ErrBookingCreationFailed, CategorySystem, SeverityCritical, false},
		{"unknown code", payerr.New("WHATEVER", ""), CategoryUnknown, SeverityHigh, false},
		{"401", &payerr.HTTPError{Status: 401}, CategoryUser, SeverityMedium, false},
		{"403", &payerr.HTTPError{Status: 403}, CategoryUser, SeverityMedium, false},
		{"429", &payerr.HTTPError{Status: 429}, CategorySystem, SeverityLow, true},
		{"422", &payerr.HTTPError{Status: 422}, CategoryValidation, SeverityLow, false},
		{"503", &payerr.HTTPError{Status: 503}, CategorySystem, SeverityHigh, true},
		{"302", &payerr.HTTPError{Status: 302}, CategoryUnknown, SeverityMedium, true},
		{"network", payerr.ErrNetwork, CategoryNetwork, SeverityMedium, true},
		{"plain", errors.New("x"), CategoryUnknown, SeverityHigh, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Categorize(tt.err)
			assert.Equal(t, tt.category, c.Category)
			assert.Equal(t, tt.severity, c.Severity)
			assert.Equal(t, tt.retryable, c.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestRecoveryPlanFor(t *testing.T) {
	assert.Equal(t, Plan{Action: PlanContactSupport}, RecoveryPlanFor(payerr.ErrBookingCreationFailed))
	assert.Equal(t, Plan{Action: PlanShowError}, RecoveryPlanFor(payerr.ErrInvalidAmount))
	assert.Equal(t, Plan{Action: PlanRetryWithDelay, Delay: 2 * time.Second, MaxRetries: 3}, RecoveryPlanFor(payerr.ErrNetwork))
	assert.Equal(t, Plan{Action: PlanRetryWithDelay, Delay: 5 * time.Second, MaxRetries: 2}, RecoveryPlanFor(&payerr.HTTPError{Status: 500}))
	assert.Equal(t, Plan{Action: PlanRetryWithDelay, Delay: time.Second, MaxRetries: 3}, RecoveryPlanFor(payerr.ErrPaymentCreationFailed))
	assert.Equal(t, Plan{Action: PlanRetry}, RecoveryPlanFor(payerr.ErrPaymentCancelled))
	assert.Equal(t, Plan{Action: PlanRetryWithDelay, Delay: time.Second, MaxRetries: 2}, RecoveryPlanFor(&payerr.HTTPError{Status: 302}))
}

func TestShouldLogAndTags(t *testing.T) {
	assert.True(t, ShouldLog(payerr.ErrBookingCreationFailed))
	assert.True(t, ShouldLog(&payerr.HTTPError{Status: 500}))
	assert.True(t, ShouldLog(errors.New("mystery")))
	assert.False(t, ShouldLog(payerr.ErrPaymentCancelled))
	assert.False(t, ShouldLog(payerr.ErrInvalidAmount))

	tags := Tags(payerr.ErrPaymentCreationFailed)
	assert.Equal(t, map[string]string{
		"error_category": "SYSTEM",
		"error_severity": "MEDIUM",
		"is_retryable":   "true",
		"error_code":     "PAYMENT_CREATION_FAILED",
	}, tags)
	assert.Equal(t, "UNKNOWN", Tags(errors.New("x"))["error_code"])
}

func TestExecute_RetrySucceedsAfterFailures(t *testing.T) {
	waits := noSleep(t)
	calls := 0
	ce := Classify(payerr.ErrPaymentCreationFailed)

	err := Execute(context.Background(), ce, Callbacks{
		Retry: func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("still failing")
			}
			return nil
		},
		ShowError: func(string) { t.Fatalf("show error must not be called on success") },
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *waits)
}

func TestExecute_RetryExhaustedSurfacesAndReturnsLastError(t *testing.T) {
	noSleep(t)
	var shown string
	calls := 0
	last := errors.New("attempt 3")
	ce := Classify(payerr.ErrPaymentCreationFailed)

	err := Execute(context.Background(), ce, Callbacks{
		Retry: func(context.Context) error {
			calls++
			if calls == 3 {
				return last
			}
			return errors.New("early")
		},
		ShowError: func(msg string) { shown = msg },
	})
	require.ErrorIs(t, err, last)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "Unable to create payment. Please try again. (Max retries reached)", shown)
}

func TestExecute_RetryCancelledDuringWait(t *testing.T) {
	noSleep(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Execute(ctx, Classify(payerr.ErrNetwork), Callbacks{
		Retry: func(context.Context) error {
			calls++
			cancel()
			return errors.New("fail")
		},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExecute_DispatchesNonRetryActions(t *testing.T) {
	var returned, contacted bool
	var shown []string
	cb := Callbacks{
		ReturnToSelection: func() { returned = true },
		ShowError:         func(m string) { shown = append(shown, m) },
		ContactSupport:    func() { contacted = true },
	}

	err := Execute(context.Background(), Classify(payerr.ErrPaymentCancelled), cb)
	assert.ErrorIs(t, err, payerr.ErrPaymentCancelled)
	assert.True(t, returned)

	err = Execute(context.Background(), Classify(payerr.ErrBookingCreationFailed), cb)
	assert.ErrorIs(t, err, payerr.ErrBookingCreationFailed)
	assert.True(t, contacted)
	require.Len(t, shown, 1)

	err = Execute(context.Background(), Classify(payerr.ErrInsufficientFunds), cb)
	assert.ErrorIs(t, err, payerr.ErrInsufficientFunds)
	assert.Len(t, shown, 2)
}

func TestExecute_VerifyReturnsCallbackResult(t *testing.T) {
	ce := Classify(payerr.ErrPaymentVerificationFailed)
	assert.NoError(t, Execute(context.Background(), ce, Callbacks{Verify: func(context.Context) error { return nil }}))
	assert.ErrorIs(t, Execute(context.Background(), ce, Callbacks{}), payerr.ErrPaymentVerificationFailed)
}
