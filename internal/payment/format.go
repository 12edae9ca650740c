package payment

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Locale is the default display locale for amounts.
var Locale = language.Vietnamese

const vndSymbol = "₫"

// FormatAmount renders amount with locale grouping and the VND symbol, e.g. "1.500.000 ₫".
func FormatAmount(amount int64) string {
	return FormatAmountIn(Locale, amount) + " " + vndSymbol
}

// FormatAmountPlain renders amount with locale grouping and no symbol.
func FormatAmountPlain(amount int64) string {
	return FormatAmountIn(Locale, amount)
}

// FormatAmountIn renders amount grouped for tag. VND has no minor unit, so
// there are never decimals.
func FormatAmountIn(tag language.Tag, amount int64) string {
	return message.NewPrinter(tag).Sprintf("%d", amount)
}
