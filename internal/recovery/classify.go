// Package recovery classifies payment failures and prescribes how to recover
// from them: retry with a delay, re-verify status, send the user back to night
// selection, show an error, or escalate to support.
//
// Two views exist over the same error. Classify yields a ClassifiedError with a
// concrete RecoveryStrategy and drives Execute. Categorize yields the coarser
// category/severity pair used for logging, metrics tags and retry policy.
package recovery

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

// ErrorType is the taxonomy tag of a ClassifiedError.
type ErrorType string

const (
	TypeNetwork                   ErrorType = "NETWORK_ERROR"
	TypeTimeout                   ErrorType = "TIMEOUT"
	TypeServer                    ErrorType = "SERVER_ERROR"
	TypeRateLimit                 ErrorType = "RATE_LIMIT"
	TypePaymentCreationFailed     ErrorType = "PAYMENT_CREATION_FAILED"
	TypePaymentVerificationFailed ErrorType = "PAYMENT_VERIFICATION_FAILED"
	TypePaymentCancelled          ErrorType = "PAYMENT_CANCELLED"
	TypePaymentExpired            ErrorType = "PAYMENT_EXPIRED"
	TypeInvalidAmount             ErrorType = "INVALID_AMOUNT"
	TypeInsufficientFunds         ErrorType = "INSUFFICIENT_FUNDS"
	TypeBookingCreationFailed     ErrorType = "BOOKING_CREATION_FAILED"
	TypeUnknown                   ErrorType = "UNKNOWN_ERROR"
)

// Action is what the caller should do about a failure.
type Action string

const (
	ActionRetry             Action = "RETRY"
	ActionVerifyStatus      Action = "VERIFY_STATUS"
	ActionShowError         Action = "SHOW_ERROR"
	ActionReturnToSelection Action = "RETURN_TO_SELECTION"
	ActionContactSupport    Action = "CONTACT_SUPPORT"
)

// Strategy is the prescribed recovery for a ClassifiedError.
type Strategy struct {
	Action     Action
	Message    string
	CanRetry   bool
	RetryDelay time.Duration
	MaxRetries int
}

// ClassifiedError is a failure tagged with its taxonomy and recovery strategy.
type ClassifiedError struct {
	Type     ErrorType
	Message  string
	Original error
	Recovery Strategy
}

// Error renders the type and the user-facing message.
func (c ClassifiedError) Error() string { return string(c.Type) + ": " + c.Message }

// Unwrap exposes the classified error to errors.Is and errors.As.
func (c ClassifiedError) Unwrap() error { return c.Original }

// Classify maps err onto the taxonomy. Precedence, first match wins: payment
// error by code, network failure, timeout, HTTP 5xx, HTTP 429, other HTTP 4xx,
// unknown.
func Classify(err error) ClassifiedError {
	if code := payerr.CodeOf(err); code != "" {
		return classifyCode(code, err)
	}

	switch {
	case isNetwork(err):
		return ClassifiedError{
			Type:     TypeNetwork,
			Message:  "Network connection issue. Please check your internet connection.",
			Original: err,
			Recovery: Strategy{
				Action:     ActionRetry,
				Message:    "Please check your internet connection and try again.",
				CanRetry:   true,
				RetryDelay: 2 * time.Second,
				MaxRetries: 3,
			},
		}
	case isTimeout(err):
		return ClassifiedError{
			Type:     TypeTimeout,
			Message:  "The request timed out. Please try again.",
			Original: err,
			Recovery: Strategy{
				Action:     ActionRetry,
				Message:    "The server is taking longer than expected to respond. Please try again.",
				CanRetry:   true,
				RetryDelay: 3 * time.Second,
				MaxRetries: 2,
			},
		}
	}

	if status := payerr.StatusOf(err); status != 0 {
		switch {
		case status >= 500:
			return ClassifiedError{
				Type:     TypeServer,
				Message:  "Server error. Please try again later.",
				Original: err,
				Recovery: Strategy{
					Action:     ActionRetry,
					Message:    "The server encountered an error. Please try again in a moment.",
					CanRetry:   true,
					RetryDelay: 5 * time.Second,
					MaxRetries: 3,
				},
			}
		case status == 429:
			return ClassifiedError{
				Type:     TypeRateLimit,
				Message:  "Too many requests. Please wait a moment.",
				Original: err,
				Recovery: Strategy{
					Action:     ActionRetry,
					Message:    "You've made too many requests. Please wait a moment before trying again.",
					CanRetry:   true,
					RetryDelay: 10 * time.Second,
					MaxRetries: 1,
				},
			}
		case status >= 400:
			return ClassifiedError{
				Type:     TypeUnknown,
				Message:  "Request error. Please check your information.",
				Original: err,
				Recovery: Strategy{
					Action:  ActionShowError,
					Message: "There was a problem with your request. Please check your information and try again.",
				},
			}
		}
	}

	return ClassifiedError{
		Type:     TypeUnknown,
		Message:  "An unexpected error occurred.",
		Original: err,
		Recovery: Strategy{
			Action:  ActionShowError,
			Message: "An unexpected error occurred. Please try again or contact support if the problem persists.",
		},
	}
}

func classifyCode(code string, err error) ClassifiedError {
	ce := ClassifiedError{Original: err}
	switch code {
	case payerr.ErrPaymentCreationFailed.Code:
		ce.Type = TypePaymentCreationFailed
		ce.Message = "Failed to create payment."
		ce.Recovery = Strategy{
			Action:     ActionRetry,
			Message:    "Unable to create payment. Please try again.",
			CanRetry:   true,
			RetryDelay: 2 * time.Second,
			MaxRetries: 3,
		}
	case payerr.ErrPaymentVerificationFailed.Code:
		ce.Type = TypePaymentVerificationFailed
		ce.Message = "Failed to verify payment status."
		ce.Recovery = Strategy{
			Action:     ActionVerifyStatus,
			Message:    "We're having trouble verifying your payment. Please wait while we check the status.",
			CanRetry:   true,
			RetryDelay: 3 * time.Second,
			MaxRetries: 5,
		}
	case payerr.ErrPaymentCancelled.Code:
		ce.Type = TypePaymentCancelled
		ce.Message = "Payment was cancelled."
		ce.Recovery = Strategy{
			Action:  ActionReturnToSelection,
			Message: "Your payment was cancelled. You can try again when you're ready.",
		}
	case payerr.ErrPaymentExpired.Code:
		ce.Type = TypePaymentExpired
		ce.Message = "Payment session expired."
		ce.Recovery = Strategy{
			Action:  ActionReturnToSelection,
			Message: "Your payment session has expired. Please start again.",
		}
	case payerr.ErrInvalidAmount.Code:
		ce.Type = TypeInvalidAmount
		ce.Message = "Invalid payment amount."
		ce.Recovery = Strategy{
			Action:  ActionShowError,
			Message: "The payment amount is invalid. Please contact support.",
		}
	case payerr.ErrInsufficientFunds.Code:
		ce.Type = TypeInsufficientFunds
		ce.Message = "Insufficient funds for payment."
		ce.Recovery = Strategy{
			Action:  ActionShowError,
			Message: "Your payment method has insufficient funds. Please try a different payment method.",
		}
	case payerr.ErrBookingCreationFailed.Code:
		ce.Type = TypeBookingCreationFailed
		ce.Message = "Failed to create booking after payment."
		ce.Recovery = Strategy{
			Action:  ActionContactSupport,
			Message: "Your payment was successful, but we encountered an issue creating your booking. Our team has been notified and will resolve this shortly.",
		}
	default:
		ce.Type = TypeUnknown
		ce.Message = "An unexpected payment error occurred."
		var pe *payerr.Error
		if errors.As(err, &pe) && pe.Message != "" {
			ce.Message = pe.Message
		}
		ce.Recovery = Strategy{
			Action:  ActionShowError,
			Message: "An unexpected error occurred with your payment. Please try again or contact support.",
		}
	}
	return ce
}

// isTimeout reports deadline expiry, either from a context or a net.Error.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isNetwork reports a transport failure that produced no HTTP response.
func isNetwork(err error) bool {
	if errors.Is(err, payerr.ErrNetwork) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
