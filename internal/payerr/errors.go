// Package payerr defines the payment domain error type and the stable error
// codes shared by the calculator, session manager, gateway helper, recovery
// engine and REST client.
//
// A *Error carries a machine-readable Code and a human-readable Message.
// errors.Is matches two *Error values by Code only, so callers compare against
// the sentinels below regardless of the message a component attached:
//
//	if errors.Is(err, payerr.ErrSessionNotFound) { ... }
package payerr

import (
	"errors"
	"fmt"
)

// Error is a payment domain error identified by a stable code.
type Error struct {
	Code    string
	Message string
	Details map[string]any
}

// New returns an *Error with the given code and message.
func New(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of e carrying msg.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg, Details: e.Details}
}

// Withf is WithMessage with fmt.Sprintf formatting.
func (e *Error) Withf(format string, args ...any) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details map[string]any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HTTPError is returned by the REST client for non-2xx responses.
type HTTPError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status of the first *HTTPError in err's chain, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// ErrNetwork marks a transport failure that never reached the server.
var ErrNetwork = errors.New("network error")

// Calculator errors.
var (
	// ErrInvalidNightPrice indicates a negative or non-finite night price.
	ErrInvalidNightPrice = New("INVALID_NIGHT_PRICE", "invalid night price")

	// ErrInvalidAmount indicates a negative, zero or out-of-range amount.
	ErrInvalidAmount = New("INVALID_AMOUNT", "invalid amount")

	// ErrInvalidDiscount indicates a discount percentage outside [0,100].
	ErrInvalidDiscount = New("INVALID_DISCOUNT", "discount percentage must be between 0 and 100")
)

// Session errors.
var (
	// ErrInvalidSessionData is returned when required session fields are missing.
	ErrInvalidSessionData = New("INVALID_SESSION_DATA", "Missing required session data")

	// ErrTooManyActiveSessions is returned when a user hits the active-session cap.
	ErrTooManyActiveSessions = New("TOO_MANY_ACTIVE_SESSIONS", "Too many active payment sessions")

	// ErrSessionLimitExceeded is returned when the global session cap is reached.
	ErrSessionLimitExceeded = New("SESSION_LIMIT_EXCEEDED", "Session limit exceeded")

	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = New("SESSION_NOT_FOUND", "Payment session not found")

	// ErrInvalidStatusTransition is returned for transitions outside the table.
	ErrInvalidStatusTransition = New("INVALID_STATUS_TRANSITION", "invalid status transition")

	// ErrInvalidSessionStatus is returned when cancelling a settled session.
	ErrInvalidSessionStatus = New("INVALID_SESSION_STATUS", "invalid session status")

	// ErrInvalidSessionID indicates a malformed session id.
	ErrInvalidSessionID = New("INVALID_SESSION_ID", "invalid session id")
)

// Gateway errors.
var (
	// ErrInvalidOrderData is returned when an order lacks required fields.
	ErrInvalidOrderData = New("INVALID_ORDER_DATA", "Missing required order data")

	// ErrAmountMustBeWholeNumber rejects fractional VND amounts.
	ErrAmountMustBeWholeNumber = New("AMOUNT_MUST_BE_WHOLE_NUMBER", "Amount must be a whole number")

	// ErrInvalidEmbedData is returned when embed_data cannot be decoded.
	ErrInvalidEmbedData = New("INVALID_EMBED_DATA", "Invalid embed data format")

	// ErrInvalidCallbackData is returned when callback data cannot be decoded.
	ErrInvalidCallbackData = New("INVALID_CALLBACK_DATA", "Invalid callback data format")

	// ErrInvalidCallbackMAC is returned when a callback signature does not match.
	ErrInvalidCallbackMAC = New("INVALID_CALLBACK_MAC", "Callback MAC mismatch")

	// ErrInvalidTransactionID indicates a malformed app_trans_id.
	ErrInvalidTransactionID = New("INVALID_TRANSACTION_ID", "invalid transaction id")

	// ErrInvalidPaymentData indicates a malformed payment request.
	ErrInvalidPaymentData = New("INVALID_PAYMENT_DATA", "invalid payment data")

	// ErrAmountTooHigh indicates an amount over the gateway ceiling.
	ErrAmountTooHigh = New("AMOUNT_TOO_HIGH", "amount too high")
)

// Payment flow errors, as reported by the payment backend.
var (
	ErrPaymentCreationFailed      = New("PAYMENT_CREATION_FAILED", "payment creation failed")
	ErrPaymentVerificationFailed  = New("PAYMENT_VERIFICATION_FAILED", "payment verification failed")
	ErrPaymentCancelled           = New("PAYMENT_CANCELLED", "payment cancelled")
	ErrPaymentExpired             = New("PAYMENT_EXPIRED", "payment expired")
	ErrInsufficientFunds          = New("INSUFFICIENT_FUNDS", "insufficient funds")
	ErrPaymentTimeout             = New("PAYMENT_TIMEOUT", "payment timeout")
	ErrPaymentVerificationTimeout = New("PAYMENT_VERIFICATION_TIMEOUT", "payment verification timeout")
	ErrPaymentCancellationFailed  = New("PAYMENT_CANCELLATION_FAILED", "payment cancellation failed")
	ErrCallbackProcessingFailed   = New("CALLBACK_PROCESSING_FAILED", "callback processing failed")
	ErrSessionFetchFailed         = New("SESSION_FETCH_FAILED", "session fetch failed")
	ErrSessionsFetchFailed        = New("SESSIONS_FETCH_FAILED", "sessions fetch failed")

	// ErrBookingCreationFailed means the payment went through but the booking
	// was not created. It is never retried automatically.
	ErrBookingCreationFailed = New("BOOKING_CREATION_FAILED", "booking creation failed")

	ErrCalendarUpdateFailed = New("CALENDAR_UPDATE_FAILED", "calendar update failed")
	ErrEmailSendingFailed   = New("EMAIL_SENDING_FAILED", "email sending failed")
)

// Checkout guards.
var (
	// ErrPaymentCompleted is returned when a bid that is already paid is
	// checked out again.
	ErrPaymentCompleted = New("PAYMENT_COMPLETED", "payment already completed")

	// ErrPaymentInProgress means the user already holds a live session for
	// the same auction.
	ErrPaymentInProgress = New("PAYMENT_IN_PROGRESS", "payment already in progress")

	// ErrNoNightsSelected is returned when a partial win is checked out
	// before any night was picked.
	ErrNoNightsSelected = New("NO_NIGHTS_SELECTED", "no nights selected")
)

// ErrAuthFailed is returned by the REST client when a 401 survives a token refresh.
var ErrAuthFailed = New("AUTH_FAILED", "Authentication failed")
