// Package winner – Tracker
//
// This file holds the clock-driven rules for a win: deadline expiry,
// remaining time and the next action a winner should take.
package winner

import (
	"time"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

// ActionType is the next step a winner should take.
type ActionType string

const (
	ActionPayNow       ActionType = "PAY_NOW"
	ActionSelectNights ActionType = "SELECT_NIGHTS"
	ActionCompleted    ActionType = "COMPLETED"
	ActionExpired      ActionType = "EXPIRED"
	ActionUnknown      ActionType = "UNKNOWN"
)

// NextAction tells the user what to do about a bid.
type NextAction struct {
	Type      ActionType `json:"type"`
	Message   string     `json:"message"`
	ActionURL string     `json:"actionUrl,omitempty"`
}

// Remaining is a countdown split into whole units.
type Remaining struct {
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Seconds int  `json:"seconds"`
	Expired bool `json:"isExpired"`
}

// Tracker answers deadline questions against its clock.
type Tracker struct {
	Now func() time.Time
}

// NewTracker returns a Tracker on the wall clock.
func NewTracker() *Tracker { return &Tracker{Now: time.Now} }

// IsPaymentExpired reports whether the payment deadline has passed.
func (t *Tracker) IsPaymentExpired(deadline time.Time) bool {
	return t.Now().After(deadline)
}

// IsOfferExpired reports whether an offer's response deadline has passed.
func (t *Tracker) IsOfferExpired(deadline time.Time) bool {
	return t.Now().After(deadline)
}

// TimeRemaining splits the time left until deadline.
func (t *Tracker) TimeRemaining(deadline time.Time) Remaining {
	d := deadline.Sub(t.Now())
	if d <= 0 {
		return Remaining{Expired: true}
	}
	return Remaining{
		Hours:   int(d / time.Hour),
		Minutes: int(d % time.Hour / time.Minute),
		Seconds: int(d % time.Minute / time.Second),
	}
}

// NextAction decides the next step for bid. A passed deadline wins over any
// status.
func (t *Tracker) NextAction(bid domain.WinningBid) NextAction {
	if t.IsPaymentExpired(bid.PaymentDeadline) {
		return NextAction{Type: ActionExpired, Message: "Payment deadline has passed"}
	}
	switch bid.Status {
	case domain.BidPendingPayment:
		if bid.IsPartialWin {
			return NextAction{
				Type:      ActionSelectNights,
				Message:   "Select which nights you want to book",
				ActionURL: "/dashboard/winners/partial/" + bid.AuctionID,
			}
		}
		return NextAction{
			Type:      ActionPayNow,
			Message:   "Complete your payment to secure the booking",
			ActionURL: "/dashboard/winners/" + bid.AuctionID,
		}
	case domain.BidPaid:
		return NextAction{Type: ActionCompleted, Message: "Booking confirmed"}
	case domain.BidExpired:
		return NextAction{Type: ActionExpired, Message: "Offer has expired"}
	}
	return NextAction{Type: ActionUnknown, Message: "Unknown status"}
}

var winnerTransitions = map[domain.WinnerStatus][]domain.WinnerStatus{
	domain.WinnerNotified:  {domain.WinnerConfirmed, domain.WinnerDeclined, domain.WinnerExpired},
	domain.WinnerConfirmed: {domain.WinnerPaid, domain.WinnerExpired},
}

// ValidateStatusTransition returns payerr.ErrInvalidStatusTransition unless
// from may move to to. DECLINED, PAID and EXPIRED are terminal.
func ValidateStatusTransition(from, to domain.WinnerStatus) error {
	for _, s := range winnerTransitions[from] {
		if s == to {
			return nil
		}
	}
	return payerr.ErrInvalidStatusTransition.Withf("Cannot transition from %s to %s", from, to)
}
