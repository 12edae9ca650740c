package domain

import "time"

// NotificationType classifies a user-facing PaymentNotification.
type NotificationType string

const (
	NotificationWinner           NotificationType = "WINNER"
	NotificationFullWinner       NotificationType = "FULL_WINNER"
	NotificationPartialWinner    NotificationType = "PARTIAL_WINNER"
	NotificationSecondChance     NotificationType = "SECOND_CHANCE"
	NotificationPaymentStatus    NotificationType = "PAYMENT_STATUS"
	NotificationBookingConfirmed NotificationType = "BOOKING_CONFIRMED"
)

// PaymentNotification is what the user sees for a settlement event.
type PaymentNotification struct {
	ID             string           `json:"id"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Amount         int64            `json:"amount"`
	ActionRequired bool             `json:"actionRequired"`
	Timestamp      time.Time        `json:"timestamp"`
	ExpiresAt      *time.Time       `json:"expiresAt,omitempty"`

	AuctionID     string   `json:"auctionId,omitempty"`
	OfferID       string   `json:"offerId,omitempty"`
	PaymentID     string   `json:"paymentId,omitempty"`
	PropertyName  string   `json:"propertyName,omitempty"`
	AwardedNights []string `json:"awardedNights,omitempty"`
	OfferedNights []string `json:"offeredNights,omitempty"`
}

// Expired reports whether the notification carries a deadline that has passed.
func (n PaymentNotification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}
