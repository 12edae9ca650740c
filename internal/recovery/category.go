// Package recovery – Categories
//
// This file maps errors onto user-facing categories and severities, decides
// what is retryable and what gets logged, and derives the recovery plan and
// log tags used across the service.
package recovery

import (
	"strconv"
	"time"

	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

// Category is the user-facing error family.
type Category string

const (
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryBusiness   Category = "BUSINESS"
	CategorySystem     Category = "SYSTEM"
	CategoryUser       Category = "USER"
	CategoryUnknown    Category = "UNKNOWN"
)

// Severity ranks how loudly a failure should be surfaced.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Categorization is the category/severity view of an error.
type Categorization struct {
	Category         Category
	Severity         Severity
	Retryable        bool
	UserMessage      string
	TechnicalMessage string
}

// Categorize assigns err a category, severity and retryability. Payment
// errors are matched by code, then HTTP statuses, then transport failures.
func Categorize(err error) Categorization {
	if err == nil {
		return Categorization{Category: CategoryUnknown, Severity: SeverityHigh, UserMessage: "An unexpected error occurred. Please contact support.", TechnicalMessage: "Unknown error: No error message"}
	}
	if code := payerr.CodeOf(err); code != "" {
		return categorizeCode(code, err.Error())
	}
	if status := payerr.StatusOf(err); status != 0 {
		return categorizeStatus(status)
	}
	if isTimeout(err) || isNetwork(err) {
		return Categorization{
			Category:         CategoryNetwork,
			Severity:         SeverityMedium,
			Retryable:        true,
			UserMessage:      "Network connection issue. Please check your internet and try again.",
			TechnicalMessage: "Network error: " + err.Error(),
		}
	}
	return Categorization{
		Category:         CategoryUnknown,
		Severity:         SeverityHigh,
		UserMessage:      "An unexpected error occurred. Please contact support.",
		TechnicalMessage: "Unknown error: " + err.Error(),
	}
}

func categorizeCode(code, technical string) Categorization {
	c := Categorization{TechnicalMessage: technical}
	switch code {
	case "INVALID_PAYMENT_DATA", "INVALID_TRANSACTION_ID", "INVALID_SESSION_ID",
		"INVALID_AMOUNT", "INVALID_NIGHT_PRICE", "INVALID_DISCOUNT":
		c.Category, c.Severity = CategoryValidation, SeverityLow
		c.UserMessage = "Please check your payment information and try again."
	case "AMOUNT_TOO_HIGH", "INSUFFICIENT_FUNDS", "PAYMENT_EXPIRED":
		c.Category, c.Severity = CategoryBusiness, SeverityMedium
		c.UserMessage = technical
	case "PAYMENT_CANCELLED":
		c.Category, c.Severity, c.Retryable = CategoryUser, SeverityLow, true
		c.UserMessage = "Payment was cancelled. You can try again."
	case "PAYMENT_CREATION_FAILED", "PAYMENT_VERIFICATION_FAILED", "CALLBACK_PROCESSING_FAILED",
		"SESSION_FETCH_FAILED", "SESSIONS_FETCH_FAILED":
		c.Category, c.Severity, c.Retryable = CategorySystem, SeverityMedium, true
		c.UserMessage = "Service temporarily unavailable. Please try again."
	case "PAYMENT_TIMEOUT", "PAYMENT_VERIFICATION_TIMEOUT":
		c.Category, c.Severity, c.Retryable = CategorySystem, SeverityMedium, true
		c.UserMessage = "Payment is taking longer than expected. We're still checking..."
	case "PAYMENT_CANCELLATION_FAILED":
		c.Category, c.Severity = CategorySystem, SeverityCritical
		c.UserMessage = "Unable to cancel payment. Please contact support immediately."
	case "BOOKING_CREATION_FAILED":
		// Paid but not booked: never retried, always escalated.
		c.Category, c.Severity = CategorySystem, SeverityCritical
		c.UserMessage = "Your payment was received but the booking could not be created. Please contact support."
	default:
		c.Category, c.Severity = CategoryUnknown, SeverityHigh
		c.UserMessage = "An unexpected error occurred. Please contact support."
	}
	return c
}

func categorizeStatus(status int) Categorization {
	switch {
	case status == 401:
		return Categorization{Category: CategoryUser, Severity: SeverityMedium, UserMessage: "Please log in again to continue.", TechnicalMessage: "Authentication required"}
	case status == 403:
		return Categorization{Category: CategoryUser, Severity: SeverityMedium, UserMessage: "You don't have permission to perform this action.", TechnicalMessage: "Access forbidden"}
	case status == 429:
		return Categorization{Category: CategorySystem, Severity: SeverityLow, Retryable: true, UserMessage: "Too many requests. Please wait a moment and try again.", TechnicalMessage: "Rate limit exceeded"}
	case status >= 400 && status < 500:
		return Categorization{Category: CategoryValidation, Severity: SeverityLow, UserMessage: "Please check your information and try again.", TechnicalMessage: "Client error: " + strconv.Itoa(status)}
	case status >= 500:
		return Categorization{Category: CategorySystem, Severity: SeverityHigh, Retryable: true, UserMessage: "Server error. Please try again in a moment.", TechnicalMessage: "Server error: " + strconv.Itoa(status)}
	}
	return Categorization{Category: CategoryUnknown, Severity: SeverityMedium, Retryable: true, UserMessage: "An unexpected error occurred. Please try again.", TechnicalMessage: "HTTP error: " + strconv.Itoa(status)}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return Categorize(err).Retryable
}

// PlanAction is the coarse recovery action derived from a Categorization.
type PlanAction string

const (
	PlanRetry          PlanAction = "RETRY"
	PlanRetryWithDelay PlanAction = "RETRY_WITH_DELAY"
	PlanShowError      PlanAction = "SHOW_ERROR"
	PlanContactSupport PlanAction = "CONTACT_SUPPORT"
)

// Plan is the category-level recovery recommendation.
type Plan struct {
	Action     PlanAction
	Delay      time.Duration
	MaxRetries int
}

// RecoveryPlanFor recommends how to react to err by category and severity.
func RecoveryPlanFor(err error) Plan {
	c := Categorize(err)
	if !c.Retryable {
		if c.Severity == SeverityCritical {
			return Plan{Action: PlanContactSupport}
		}
		return Plan{Action: PlanShowError}
	}
	switch c.Category {
	case CategoryNetwork:
		return Plan{Action: PlanRetryWithDelay, Delay: 2 * time.Second, MaxRetries: 3}
	case CategorySystem:
		if c.Severity == SeverityHigh {
			return Plan{Action: PlanRetryWithDelay, Delay: 5 * time.Second, MaxRetries: 2}
		}
		return Plan{Action: PlanRetryWithDelay, Delay: time.Second, MaxRetries: 3}
	case CategoryUser:
		return Plan{Action: PlanRetry}
	}
	return Plan{Action: PlanRetryWithDelay, Delay: time.Second, MaxRetries: 2}
}

// ShouldLog reports whether err deserves a log line: any CRITICAL or HIGH
// severity, and every SYSTEM or UNKNOWN error. Routine user actions and
// low-severity validation errors are not logged.
func ShouldLog(err error) bool {
	c := Categorize(err)
	if c.Severity == SeverityCritical || c.Severity == SeverityHigh {
		return true
	}
	return c.Category == CategorySystem || c.Category == CategoryUnknown
}

// Tags returns the metric/log labels describing err.
func Tags(err error) map[string]string {
	c := Categorize(err)
	code := payerr.CodeOf(err)
	if code == "" {
		code = "UNKNOWN"
	}
	return map[string]string{
		"error_category": string(c.Category),
		"error_severity": string(c.Severity),
		"is_retryable":   strconv.FormatBool(c.Retryable),
		"error_code":     code,
	}
}
