// Package winner manages auction wins after the hammer falls: it shapes
// backend winner records into bids the user can act on, tracks deadlines,
// validates night selections, keeps the user's settlement notifications and
// drives checkout through the session manager and payment gateway.
package winner

import (
	"fmt"
	"sort"
	"time"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/message"
	"github.com/tbourn/go-auction-settlement/internal/payment"
)

// NightRange is a run of consecutive awarded nights.
type NightRange struct {
	ID          string                `json:"id"`
	StartDate   string                `json:"startDate"`
	EndDate     string                `json:"endDate"`
	Nights      []domain.AwardedNight `json:"nights"`
	TotalAmount int64                 `json:"totalAmount"`
	IsSelected  bool                  `json:"isSelected"`
}

// ToWinningBid shapes a backend winner record into a WinningBid. CheckIn is
// the earliest awarded night and CheckOut the day after the latest.
func ToWinningBid(w domain.AuctionWinner, p domain.Property, nights []domain.PartialNight) domain.WinningBid {
	dates := make([]string, 0, len(nights))
	for _, n := range nights {
		dates = append(dates, n.Date)
	}

	awarded := make([]domain.AwardedNight, 0, len(nights))
	for _, n := range nights {
		awarded = append(awarded, domain.AwardedNight{
			Date:          n.Date,
			PricePerNight: n.PricePerNight,
			IsSelected:    n.IsAwarded,
			RangeID:       rangeID(n.Date, dates),
		})
	}

	checkIn, checkOut := stayBounds(w.AwardedNights)
	return domain.WinningBid{
		ID:              w.ID,
		AuctionID:       w.AuctionID,
		Property:        p,
		BidAmount:       w.TotalAmount,
		CheckIn:         checkIn,
		CheckOut:        checkOut,
		IsPartialWin:    w.WinType == domain.WinPartial,
		AwardedNights:   awarded,
		Status:          BidStatusFor(w.Status),
		PaymentDeadline: w.PaymentDeadline,
	}
}

// stayBounds returns the earliest night and the day after the latest night.
// Unparseable dates are ignored.
func stayBounds(nights []string) (checkIn, checkOut string) {
	var first, last time.Time
	for _, s := range nights {
		t, err := time.Parse(domain.DateLayout, s)
		if err != nil {
			continue
		}
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if last.IsZero() || t.After(last) {
			last = t
		}
	}
	if first.IsZero() {
		return "", ""
	}
	return first.Format(domain.DateLayout), last.AddDate(0, 0, 1).Format(domain.DateLayout)
}

// rangeID is range-{epoch ms of date}-{index of date in all}.
func rangeID(date string, all []string) string {
	var ms int64
	if t, err := time.Parse(domain.DateLayout, date); err == nil {
		ms = t.UnixMilli()
	}
	idx := -1
	for i, d := range all {
		if d == date {
			idx = i
			break
		}
	}
	return fmt.Sprintf("range-%d-%d", ms, idx)
}

// BidStatusFor maps a winner status onto the bid status shown to the user.
func BidStatusFor(s domain.WinnerStatus) domain.BidStatus {
	switch s {
	case domain.WinnerPaid:
		return domain.BidPaid
	case domain.WinnerDeclined, domain.WinnerExpired:
		return domain.BidExpired
	}
	return domain.BidPendingPayment
}

// CalculateSelectedAmount sums the price of the selected nights.
func CalculateSelectedAmount(nights []domain.AwardedNight) int64 {
	return payment.CalculateSelectedNightsAmount(nights)
}

// GroupNightsIntoRanges sorts nights by date and groups consecutive days. A
// range is selected only if every night in it is.
func GroupNightsIntoRanges(nights []domain.AwardedNight) []NightRange {
	if len(nights) == 0 {
		return nil
	}

	dates := make([]string, len(nights))
	for i, n := range nights {
		dates[i] = n.Date
	}
	sorted := append([]domain.AwardedNight(nil), nights...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	start := func(n domain.AwardedNight) NightRange {
		return NightRange{
			ID:          rangeID(n.Date, dates),
			StartDate:   n.Date,
			EndDate:     n.Date,
			Nights:      []domain.AwardedNight{n},
			TotalAmount: n.PricePerNight,
			IsSelected:  n.IsSelected,
		}
	}

	var ranges []NightRange
	cur := start(sorted[0])
	for _, n := range sorted[1:] {
		if consecutive(cur.EndDate, n.Date) {
			cur.EndDate = n.Date
			cur.Nights = append(cur.Nights, n)
			cur.TotalAmount += n.PricePerNight
			cur.IsSelected = cur.IsSelected && n.IsSelected
			continue
		}
		ranges = append(ranges, cur)
		cur = start(n)
	}
	return append(ranges, cur)
}

func consecutive(prev, next string) bool {
	a, err := time.Parse(domain.DateLayout, prev)
	if err != nil {
		return false
	}
	b, err := time.Parse(domain.DateLayout, next)
	if err != nil {
		return false
	}
	return b.Sub(a) == 24*time.Hour
}

// AuctionResultNotification builds the stored notification for a win.
func AuctionResultNotification(m message.AuctionResult, now time.Time) domain.PaymentNotification {
	n := domain.PaymentNotification{
		ID:             m.AuctionID,
		Type:           domain.NotificationPartialWinner,
		Title:          "You won partial nights!",
		Message:        "Property: " + m.PropertyName,
		Amount:         m.Amount,
		ActionRequired: true,
		Timestamp:      now,
		AuctionID:      m.AuctionID,
		PropertyName:   m.PropertyName,
		AwardedNights:  m.AwardedNights,
	}
	if m.Result == message.OutcomeFullWin {
		n.Type = domain.NotificationFullWinner
		n.Title = "Congratulations! You won the auction!"
	}
	if t, err := domain.ParseTime(m.PaymentDeadline); err == nil {
		n.ExpiresAt = &t
	}
	return n
}

// SecondChanceNotification builds the stored notification for an offer.
func SecondChanceNotification(m message.SecondChanceOffer, now time.Time) domain.PaymentNotification {
	n := domain.PaymentNotification{
		ID:             m.OfferID,
		Type:           domain.NotificationSecondChance,
		Title:          "Second chance offer available!",
		Message:        "New offer for " + m.PropertyName,
		Amount:         m.Amount,
		ActionRequired: true,
		Timestamp:      now,
		AuctionID:      m.AuctionID,
		OfferID:        m.OfferID,
		PropertyName:   m.PropertyName,
		OfferedNights:  m.OfferedNights,
	}
	if t, err := domain.ParseTime(m.ResponseDeadline); err == nil {
		n.ExpiresAt = &t
	}
	return n
}
