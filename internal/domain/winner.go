package domain

import "time"

// DateLayout is the calendar-date format used for nights, check-in and check-out.
const DateLayout = "2006-01-02"

// WinnerStatus is the backend status of an auction winner record.
type WinnerStatus string

const (
	WinnerNotified  WinnerStatus = "NOTIFIED"
	WinnerConfirmed WinnerStatus = "CONFIRMED"
	WinnerDeclined  WinnerStatus = "DECLINED"
	WinnerPaid      WinnerStatus = "PAID"
	WinnerExpired   WinnerStatus = "EXPIRED"
)

// WinType distinguishes full from partial auction wins.
type WinType string

const (
	WinFull    WinType = "FULL"
	WinPartial WinType = "PARTIAL"
)

// BidStatus is the settlement status of a WinningBid.
type BidStatus string

const (
	BidPendingPayment BidStatus = "PENDING_PAYMENT"
	BidPaid           BidStatus = "PAID"
	BidExpired        BidStatus = "EXPIRED"
)

// OfferStatus is the status of a SecondChanceOffer. Anything but WAITING is terminal.
type OfferStatus string

const (
	OfferWaiting  OfferStatus = "WAITING"
	OfferAccepted OfferStatus = "ACCEPTED"
	OfferDeclined OfferStatus = "DECLINED"
	OfferExpired  OfferStatus = "EXPIRED"
)

// Property is the minimal property reference carried by a winning bid.
type Property struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	HostID   string `json:"host_id,omitempty"`
}

// AuctionWinner is the backend winner record.
type AuctionWinner struct {
	ID              string       `json:"id"`
	AuctionID       string       `json:"auctionId"`
	UserID          string       `json:"userId"`
	BidID           string       `json:"bidId"`
	WinType         WinType      `json:"winType"`
	AwardedNights   []string     `json:"awardedNights"`
	TotalAmount     int64        `json:"totalAmount"`
	Status          WinnerStatus `json:"status"`
	NotifiedAt      *time.Time   `json:"notifiedAt,omitempty"`
	RespondedAt     *time.Time   `json:"respondedAt,omitempty"`
	PaymentDeadline time.Time    `json:"paymentDeadline"`
}

// PartialNight is a priced night as returned by the backend for a partial win.
type PartialNight struct {
	Date          string `json:"date"`
	PricePerNight int64  `json:"pricePerNight"`
	IsAwarded     bool   `json:"isAwarded"`
}

// AwardedNight is one calendar night awarded to the user.
type AwardedNight struct {
	Date          string `json:"date"`
	PricePerNight int64  `json:"pricePerNight"`
	IsSelected    bool   `json:"isSelected"`
	RangeID       string `json:"rangeId"`
}

// WinningBid is a user's auction win, full or partial. CheckOut is the day
// after the latest awarded night.
type WinningBid struct {
	ID              string         `json:"id"`
	AuctionID       string         `json:"auctionId"`
	Property        Property       `json:"property"`
	BidAmount       int64          `json:"bidAmount"`
	CheckIn         string         `json:"checkIn"`
	CheckOut        string         `json:"checkOut"`
	IsPartialWin    bool           `json:"isPartialWin"`
	AwardedNights   []AwardedNight `json:"awardedNights"`
	Status          BidStatus      `json:"status"`
	PaymentDeadline time.Time      `json:"paymentDeadline"`
}

// SecondChanceOffer re-offers nights to the next bidder after a decline.
type SecondChanceOffer struct {
	ID               string      `json:"id"`
	OriginalBidID    string      `json:"originalBidId,omitempty"`
	AuctionID        string      `json:"auctionId"`
	UserID           string      `json:"userId"`
	OfferedNights    []string    `json:"offeredNights"`
	Amount           int64       `json:"amount"`
	ResponseDeadline time.Time   `json:"responseDeadline"`
	Status           OfferStatus `json:"status"`
}

// WinnerStatistics summarises a user's auction outcomes.
type WinnerStatistics struct {
	TotalWins         int `json:"totalWins"`
	PendingPayments   int `json:"pendingPayments"`
	CompletedBookings int `json:"completedBookings"`
	ExpiredOffers     int `json:"expiredOffers"`
}
