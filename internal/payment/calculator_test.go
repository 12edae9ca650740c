package payment

import (
	"errors"
	"math"
	"strings"
	"testing"

	"golang.org/x/text/language"

	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/payerr"
)

func TestCalculateTotalAmount(t *testing.T) {
	got, err := CalculateTotalAmount([]domain.NightPrice{
		{Date: "d1", PricePerNight: 100000},
		{Date: "d2", PricePerNight: 120000},
	})
	if err != nil || got != 220000 {
		t.Fatalf("got (%d, %v); want (220000, nil)", got, err)
	}

	_, err = CalculateTotalAmount([]domain.NightPrice{{Date: "d1", PricePerNight: -1}})
	if !errors.Is(err, payerr.ErrInvalidNightPrice) {
		t.Fatalf("expected ErrInvalidNightPrice, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid price for night d1: -1") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestCalculateSelectedNightsAmount_IgnoresUnselected(t *testing.T) {
	nights := []domain.AwardedNight{
		{Date: "2025-03-01", PricePerNight: 120000, IsSelected: true},
		{Date: "2025-03-02", PricePerNight: 120000, IsSelected: true},
		{Date: "2025-03-03", PricePerNight: 999999, IsSelected: false},
	}
	if got := CalculateSelectedNightsAmount(nights); got != 240000 {
		t.Fatalf("got %d; want 240000", got)
	}
}

func TestCalculateAmountWithFees(t *testing.T) {
	got, err := CalculateAmountWithFees(1000, DefaultTaxRate, 50)
	if err != nil || got != 1150 {
		t.Fatalf("got (%d, %v); want 1150", got, err)
	}
	// 1005 * 0.1 = 100.5 rounds half up.
	got, _ = CalculateAmountWithFees(1005, 0.1, 0)
	if got != 1106 {
		t.Fatalf("rounding: got %d; want 1106", got)
	}
	if _, err := CalculateAmountWithFees(-1, 0.1, 0); !errors.Is(err, payerr.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCalculateDiscountAmount(t *testing.T) {
	got, err := CalculateDiscountAmount(200000, 15)
	if err != nil || got != 30000 {
		t.Fatalf("got (%d, %v); want 30000", got, err)
	}
	for _, p := range []float64{-0.1, 100.1, math.NaN()} {
		if _, err := CalculateDiscountAmount(1000, p); !errors.Is(err, payerr.ErrInvalidDiscount) {
			t.Fatalf("percent %v: expected ErrInvalidDiscount, got %v", p, err)
		}
	}
}

func TestCalculateFinalAmount_Clamps(t *testing.T) {
	if got := CalculateFinalAmount(1000, 1500); got != 0 {
		t.Fatalf("got %d; want 0", got)
	}
	if got := CalculateFinalAmount(1000, 300); got != 700 {
		t.Fatalf("got %d; want 700", got)
	}
}

func TestValidateAmount(t *testing.T) {
	cases := []struct {
		amount float64
		ok     bool
		reason string
	}{
		{999, false, "Amount must be at least 1,000 VND"},
		{1000, true, ""},
		{50000000, true, ""},
		{50000001, false, "Amount exceeds maximum limit of 50,000,000 VND"},
		{0, false, "Amount must be greater than 0"},
		{math.Inf(1), false, "Amount must be a valid number"},
	}
	for _, c := range cases {
		ok, reason := ValidateAmount(c.amount)
		if ok != c.ok || reason != c.reason {
			t.Fatalf("ValidateAmount(%v) = (%v, %q); want (%v, %q)", c.amount, ok, reason, c.ok, c.reason)
		}
	}
}

func TestCalculatePaymentBreakdown(t *testing.T) {
	b, err := CalculatePaymentBreakdown(1000000, BreakdownOptions{ServiceFee: 20000, DiscountPercent: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Breakdown{Base: 1000000, Tax: 100000, ServiceFee: 20000, Discount: 100000, Total: 1020000}
	if b != want {
		t.Fatalf("got %+v; want %+v", b, want)
	}

	zero := 0.0
	b, _ = CalculatePaymentBreakdown(1000, BreakdownOptions{TaxRate: &zero, DiscountPercent: 50, DiscountAmount: 5000})
	if b.Discount != 5000 || b.Total != 0 {
		t.Fatalf("explicit discount should win and total floor at 0: %+v", b)
	}

	if _, err := CalculatePaymentBreakdown(1000, BreakdownOptions{DiscountPercent: 120}); !errors.Is(err, payerr.ErrInvalidDiscount) {
		t.Fatalf("expected ErrInvalidDiscount, got %v", err)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmountIn(language.English, 1500000); got != "1,500,000" {
		t.Fatalf("english grouping: got %q", got)
	}
	got := FormatAmount(1500000)
	if !strings.HasSuffix(got, "₫") || strings.Contains(got, ",") {
		t.Fatalf("vietnamese format: got %q", got)
	}
	if plain := FormatAmountPlain(1500000); strings.Contains(plain, "₫") || got != plain+" ₫" {
		t.Fatalf("plain format: got %q", plain)
	}
}
