package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var currencyExponents = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0,
	"XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// Exponent returns the number of minor unit digits for an ISO-4217 code.
func Exponent(currency string) int32 {
	if e, ok := currencyExponents[strings.ToUpper(currency)]; ok {
		return e
	}
	return 2
}

// FormatAmount renders minor units as a major unit decimal string,
// 1000 USD -> "10.00", 1000 JPY -> "1000".
func FormatAmount(minor int64, currency string) string {
	exp := Exponent(currency)
	return decimal.New(minor, -exp).StringFixed(exp)
}

// ParseAmount converts a vendor major unit string back to minor units.
func ParseAmount(s, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d.Shift(Exponent(currency)).Round(0).IntPart(), nil
}

// ValidAmount reports whether amount is usable for a money movement.
func ValidAmount(amount int64) bool {
	return amount > 0
}

// InvalidAmountResult is the local failure for a non-positive amount.
func InvalidAmountResult(amount int64, test bool) *Result {
	return Failure(InvalidAmount, fmt.Sprintf("Invalid amount: %d", amount), test)
}
