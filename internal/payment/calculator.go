// Package payment implements the pure arithmetic of settlement: night totals,
// tax and fee application, discounts, amount validation and VND formatting.
// Nothing in this package holds state.
package payment

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

const (
	// DefaultTaxRate is applied when a breakdown does not specify one.
	DefaultTaxRate = 0.1

	// MinAmount and MaxAmount bound a payable amount in VND.
	MinAmount = 1_000
	MaxAmount = 50_000_000
)

// CalculateTotalAmount sums the price of every night.
func CalculateTotalAmount(nights []domain.NightPrice) (int64, error) {
	var total int64
	for _, n := range nights {
		if n.PricePerNight < 0 {
			return 0, payerr.ErrInvalidNightPrice.Withf("Invalid price for night %s: %d", n.Date, n.PricePerNight)
		}
		total += n.PricePerNight
	}
	return total, nil
}

// CalculateSelectedNightsAmount sums only the nights the user selected.
func CalculateSelectedNightsAmount(nights []domain.AwardedNight) int64 {
	var total int64
	for _, n := range nights {
		if n.IsSelected {
			total += n.PricePerNight
		}
	}
	return total
}

// CalculateAmountWithFees returns base + round(base*taxRate) + serviceFee.
func CalculateAmountWithFees(base int64, taxRate float64, serviceFee int64) (int64, error) {
	if base < 0 {
		return 0, payerr.ErrInvalidAmount.WithMessage("Base amount cannot be negative")
	}
	return base + roundMul(base, taxRate) + serviceFee, nil
}

// CalculateDiscountAmount returns round(original*percent/100).
func CalculateDiscountAmount(original int64, percent float64) (int64, error) {
	if percent < 0 || percent > 100 || math.IsNaN(percent) {
		return 0, payerr.ErrInvalidDiscount.WithMessage("Discount percent must be between 0 and 100")
	}
	return roundMul(original, percent/100), nil
}

// CalculateFinalAmount subtracts discount from original, never going below zero.
func CalculateFinalAmount(original, discount int64) int64 {
	return max(0, original-discount)
}

// ValidateAmount reports whether amount is payable and, if not, why.
func ValidateAmount(amount float64) (bool, string) {
	switch {
	case math.IsNaN(amount) || math.IsInf(amount, 0):
		return false, "Amount must be a valid number"
	case amount <= 0:
		return false, "Amount must be greater than 0"
	case amount > MaxAmount:
		return false, "Amount exceeds maximum limit of 50,000,000 VND"
	case amount < MinAmount:
		return false, "Amount must be at least 1,000 VND"
	}
	return true, ""
}

// BreakdownOptions parameterises CalculatePaymentBreakdown. A nil TaxRate
// means DefaultTaxRate. A positive DiscountAmount takes precedence over
// DiscountPercent.
type BreakdownOptions struct {
	TaxRate         *float64
	ServiceFee      int64
	DiscountPercent float64
	DiscountAmount  int64
}

// Breakdown is the itemised total of a checkout.
type Breakdown struct {
	Base       int64 `json:"base_amount"`
	Tax        int64 `json:"tax_amount"`
	ServiceFee int64 `json:"service_fee"`
	Discount   int64 `json:"discount_amount"`
	Total      int64 `json:"total_amount"`
}

// CalculatePaymentBreakdown itemises base, tax, fee and discount. Total is floored at 0.
func CalculatePaymentBreakdown(base int64, opts BreakdownOptions) (Breakdown, error) {
	rate := DefaultTaxRate
	if opts.TaxRate != nil {
		rate = *opts.TaxRate
	}
	tax := roundMul(base, rate)

	discount := opts.DiscountAmount
	if discount == 0 {
		d, err := CalculateDiscountAmount(base, opts.DiscountPercent)
		if err != nil {
			return Breakdown{}, err
		}
		discount = d
	}

	return Breakdown{
		Base:       base,
		Tax:        tax,
		ServiceFee: opts.ServiceFee,
		Discount:   discount,
		Total:      max(0, base+tax+opts.ServiceFee-discount),
	}, nil
}

// roundMul returns round(v*f) with half-up rounding on exact decimals.
func roundMul(v int64, f float64) int64 {
	return decimal.NewFromInt(v).Mul(decimal.NewFromFloat(f)).Round(0).IntPart()
}
