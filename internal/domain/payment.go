// Package domain defines the core entities of the settlement pipeline:
// payment sessions, winning bids and their awarded nights, second-chance
// offers, user-facing notifications, and the persisted callback receipt.
package domain

import "time"

// Currency is the only currency the pipeline settles in.
const Currency = "VND"

// PaymentStatus is the lifecycle state of a PaymentSession.
type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "CREATED"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentExpired   PaymentStatus = "EXPIRED"
)

// IsActive reports whether the session still awaits payment.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentCreated || s == PaymentPending
}

// IsTerminal reports whether no further transition is allowed.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentPaid || s == PaymentCancelled || s == PaymentExpired
}

// PaymentSession is one checkout attempt for an auction win.
//
// Amount is a whole number of VND. ExpiresAt is always after CreatedAt.
// Sessions are only mutated by the session manager that owns them.
type PaymentSession struct {
	ID         string        `json:"id"`
	AuctionID  string        `json:"auction_id"`
	UserID     string        `json:"user_id"`
	Amount     int64         `json:"amount"`
	Currency   string        `json:"currency"`
	Status     PaymentStatus `json:"status"`
	AppTransID string        `json:"app_trans_id"`
	OrderURL   string        `json:"order_url,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// NightPrice is a single priced night used by the calculator.
type NightPrice struct {
	Date          string `json:"date"`
	PricePerNight int64  `json:"price_per_night"`
}
