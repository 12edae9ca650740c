// Package message defines the realtime payment notification messages and the
// discriminator that turns raw socket frames into them.
//
// Message is a closed sum type. Each variant implements the unexported accept
// method by calling its own Visitor method, so adding a variant does not
// compile until Visitor, and with it every consumer, handles it.
package message

import (
	"github.com/goccy/go-json"
)

// Type is the wire discriminator of a message.
type Type string

const (
	TypeAuctionResult     Type = "AUCTION_RESULT"
	TypeSecondChanceOffer Type = "SECOND_CHANCE_OFFER"
	TypePaymentStatus     Type = "PAYMENT_STATUS"
	TypeBookingConfirmed  Type = "BOOKING_CONFIRMED"
)

// Outcome is the result of an auction for the recipient.
type Outcome string

const (
	OutcomeFullWin    Outcome = "FULL_WIN"
	OutcomePartialWin Outcome = "PARTIAL_WIN"
	OutcomeLost       Outcome = "LOST"
)

// PaymentState is the payment progress reported by PAYMENT_STATUS.
type PaymentState string

const (
	PaymentInitiated  PaymentState = "INITIATED"
	PaymentProcessing PaymentState = "PROCESSING"
	PaymentCompleted  PaymentState = "COMPLETED"
	PaymentFailed     PaymentState = "FAILED"
)

// Terminal reports whether s is a final payment state.
func (s PaymentState) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// Message is one of AuctionResult, SecondChanceOffer, PaymentStatus or
// BookingConfirmed.
type Message interface {
	// Kind is the wire type.
	Kind() Type
	// Recipient is the user the message is addressed to.
	Recipient() string
	// DedupKey identifies the semantic event, independent of payload bytes.
	DedupKey() string

	accept(v Visitor) error
}

// Visitor handles every message variant.
type Visitor interface {
	VisitAuctionResult(AuctionResult) error
	VisitSecondChanceOffer(SecondChanceOffer) error
	VisitPaymentStatus(PaymentStatus) error
	VisitBookingConfirmed(BookingConfirmed) error
}

// Visit dispatches m to the matching method of v.
func Visit(m Message, v Visitor) error { return m.accept(v) }

// AuctionResult announces the outcome of an auction.
type AuctionResult struct {
	AuctionID       string   `json:"auctionId"`
	UserID          string   `json:"userId"`
	Result          Outcome  `json:"result"`
	AwardedNights   []string `json:"awardedNights"`
	Amount          int64    `json:"amount"`
	PaymentDeadline string   `json:"paymentDeadline"`
	PropertyName    string   `json:"propertyName"`
}

// SecondChanceOffer re-offers nights declined by a higher bidder.
type SecondChanceOffer struct {
	OfferID          string   `json:"offerId"`
	AuctionID        string   `json:"auctionId"`
	UserID           string   `json:"userId"`
	OfferedNights    []string `json:"offeredNights"`
	Amount           int64    `json:"amount"`
	ResponseDeadline string   `json:"responseDeadline"`
	PropertyName     string   `json:"propertyName"`
}

// PaymentStatus reports payment progress.
type PaymentStatus struct {
	PaymentID     string       `json:"paymentId"`
	UserID        string       `json:"userId"`
	Status        PaymentState `json:"status"`
	TransactionID string       `json:"transactionId,omitempty"`
}

// BookingConfirmed announces a confirmed booking.
type BookingConfirmed struct {
	BookingID    string `json:"bookingId"`
	UserID       string `json:"userId"`
	PropertyName string `json:"propertyName"`
	CheckIn      string `json:"checkIn"`
	CheckOut     string `json:"checkOut"`
}

// Kind implements Message.
func (AuctionResult) Kind() Type     { return TypeAuctionResult }
func (SecondChanceOffer) Kind() Type { return TypeSecondChanceOffer }
func (PaymentStatus) Kind() Type     { return TypePaymentStatus }
func (BookingConfirmed) Kind() Type  { return TypeBookingConfirmed }

// Recipient implements Message. Every variant is addressed by its UserID.
func (m AuctionResult) Recipient() string     { return m.UserID }
func (m SecondChanceOffer) Recipient() string { return m.UserID }
func (m PaymentStatus) Recipient() string     { return m.UserID }
func (m BookingConfirmed) Recipient() string  { return m.UserID }

// DedupKey identifies one outcome of one auction for one user.
func (m AuctionResult) DedupKey() string {
	return "auction_" + m.AuctionID + "_" + m.UserID + "_" + string(m.Result)
}

// DedupKey identifies the offer per user.
func (m SecondChanceOffer) DedupKey() string {
	return "offer_" + m.OfferID + "_" + m.UserID
}

// DedupKey identifies a payment state change. Updates without a
// transaction id share the "no_tx" suffix.
func (m PaymentStatus) DedupKey() string {
	tx := m.TransactionID
	if tx == "" {
		tx = "no_tx"
	}
	return "payment_" + m.PaymentID + "_" + string(m.Status) + "_" + tx
}

// DedupKey identifies the booking per user.
func (m BookingConfirmed) DedupKey() string {
	return "booking_" + m.BookingID + "_" + m.UserID
}

func (m AuctionResult) accept(v Visitor) error     { return v.VisitAuctionResult(m) }
func (m SecondChanceOffer) accept(v Visitor) error { return v.VisitSecondChanceOffer(m) }
func (m PaymentStatus) accept(v Visitor) error     { return v.VisitPaymentStatus(m) }
func (m BookingConfirmed) accept(v Visitor) error  { return v.VisitBookingConfirmed(m) }

// Encode renders m in its wire shape, with the type field first.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+len(m.Kind())+10)
	out = append(out, `{"type":"`...)
	out = append(out, m.Kind()...)
	out = append(out, '"', ',')
	return append(out, body[1:]...), nil
}
