package session

import (
	"fmt"
	"time"

	"github.com/tbourn/go-auction-settlement/internal/domain"
)

// ValidateSessionData lists every problem with p; an empty result means valid.
func ValidateSessionData(p CreateParams) []string {
	var errs []string
	if p.AuctionID == "" {
		errs = append(errs, "Auction ID is required and must be a string")
	}
	if p.UserID == "" {
		errs = append(errs, "User ID is required and must be a string")
	}
	if p.Amount <= 0 {
		errs = append(errs, "Amount is required and must be a positive number")
	}
	if p.AppTransID == "" {
		errs = append(errs, "App transaction ID is required and must be a string")
	}
	return errs
}

// ValidateForPayment checks that s can be submitted to the gateway at now.
func ValidateForPayment(s domain.PaymentSession, now time.Time) (bool, string) {
	if now.After(s.ExpiresAt) {
		return false, "Session has expired"
	}
	if !s.Status.IsActive() {
		return false, fmt.Sprintf("Invalid session status: %s", s.Status)
	}
	if s.Amount <= 0 {
		return false, "Invalid session amount"
	}
	if s.AppTransID == "" {
		return false, "Missing app transaction ID"
	}
	return true, ""
}

// ValidateOwnership reports whether userID owns s.
func ValidateOwnership(s domain.PaymentSession, userID string) bool {
	return s.UserID == userID
}

// StatusDisplayText is the user-facing label for a payment status.
func StatusDisplayText(st domain.PaymentStatus) string {
	switch st {
	case domain.PaymentCreated:
		return "Awaiting payment"
	case domain.PaymentPending:
		return "Processing payment"
	case domain.PaymentPaid:
		return "Paid"
	case domain.PaymentFailed:
		return "Payment failed"
	case domain.PaymentCancelled:
		return "Cancelled"
	case domain.PaymentExpired:
		return "Expired"
	}
	return "Unknown"
}
