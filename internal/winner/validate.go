package winner

import (
	"fmt"
	"strings"
	"time"

	"github.com/tbourn/go-auction-settlement/internal/domain"
)

// Validation lists the problems found with a bid, offer or selection.
type Validation struct {
	Valid  bool     `json:"isValid"`
	Errors []string `json:"errors"`
}

func result(errs []string) Validation {
	if errs == nil {
		errs = []string{}
	}
	return Validation{Valid: len(errs) == 0, Errors: errs}
}

// ValidateNightSelection checks a partial-win selection. minStay <= 0 means
// no minimum. The first failing rule is reported.
func ValidateNightSelection(nights []domain.AwardedNight, minStay int) Validation {
	if len(nights) == 0 {
		return result([]string{"At least one night must be selected"})
	}
	if minStay > 0 && len(nights) < minStay {
		return result([]string{fmt.Sprintf("Minimum stay of %d nights required", minStay)})
	}
	for _, n := range nights {
		if _, err := domain.ParseTime(n.Date); err != nil {
			return result([]string{"Invalid date format in selected nights"})
		}
	}
	for _, n := range nights {
		if n.PricePerNight <= 0 {
			return result([]string{"All selected nights must have valid prices"})
		}
	}
	return result(nil)
}

// ValidateWinnerBid reports every integrity problem with bid.
func ValidateWinnerBid(bid domain.WinningBid) Validation {
	var errs []string
	if bid.ID == "" || bid.AuctionID == "" {
		errs = append(errs, "Missing required bid identifiers")
	}
	if bid.Property.ID == "" {
		errs = append(errs, "Missing property information")
	}
	if bid.BidAmount <= 0 {
		errs = append(errs, "Bid amount must be positive")
	}
	if bid.CheckIn == "" || bid.CheckOut == "" {
		errs = append(errs, "Missing check-in or check-out dates")
	}

	in, errIn := domain.ParseTime(bid.CheckIn)
	out, errOut := domain.ParseTime(bid.CheckOut)
	if errIn != nil || errOut != nil || !in.Before(out) {
		errs = append(errs, "Check-out date must be after check-in date")
	}
	if len(bid.AwardedNights) == 0 {
		errs = append(errs, "No awarded nights specified")
	}
	if bid.PaymentDeadline.IsZero() {
		errs = append(errs, "Missing payment deadline")
	}
	return result(errs)
}

// ValidateSecondChanceOffer reports every problem with offer at now.
func ValidateSecondChanceOffer(offer domain.SecondChanceOffer, now time.Time) Validation {
	var errs []string
	if offer.ID == "" || offer.AuctionID == "" || strings.TrimSpace(offer.UserID) == "" {
		errs = append(errs, "Missing required offer identifiers")
	}
	if offer.Amount <= 0 {
		errs = append(errs, "Offer amount must be positive")
	}
	if len(offer.OfferedNights) == 0 {
		errs = append(errs, "No offered nights specified")
	}
	if offer.ResponseDeadline.IsZero() {
		errs = append(errs, "Missing response deadline")
	} else if now.After(offer.ResponseDeadline) {
		errs = append(errs, "Offer has expired")
	}
	return result(errs)
}
