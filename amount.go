package x402

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a fixed-point decimal amount string. Exponent
// notation is rejected: amounts travel in headers and must be canonical
// plain decimals so signing digests are reproducible across languages.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" || strings.ContainsAny(s, "eE") {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return d, nil
}

// CanonicalAmount parses an amount and returns its canonical wire form:
// plain decimal, no exponent, no trailing fractional zeros.
func CanonicalAmount(s string) (string, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return "", err
	}
	return FormatAmount(d), nil
}

// FormatAmount renders a decimal in canonical wire form.
func FormatAmount(d decimal.Decimal) string {
	out := d.String()
	if strings.Contains(out, ".") {
		out = strings.TrimRight(out, "0")
		out = strings.TrimSuffix(out, ".")
	}
	if out == "-0" || out == "" {
		out = "0"
	}
	return out
}

// SumAmounts adds decimal amount strings exactly and returns the
// canonical sum. No rounding occurs at any point.
func SumAmounts(amounts ...string) (string, error) {
	total := decimal.Zero
	for _, a := range amounts {
		d, err := ParseAmount(a)
		if err != nil {
			return "", err
		}
		total = total.Add(d)
	}
	return FormatAmount(total), nil
}

// AmountToAtomic converts a decimal amount string to atomic units for a
// token with the given number of decimal places. For example, "1.5" with
// 6 decimals becomes 1500000. The amount must be non-negative and must
// scale to a whole number of atomic units.
func AmountToAtomic(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrInvalidAmount
	}
	d, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	if d.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, ErrInvalidAmount
	}
	return shifted.BigInt(), nil
}

// AtomicToAmount converts atomic units back to a canonical decimal string.
func AtomicToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	d := decimal.NewFromBigInt(value, -int32(decimals))
	return FormatAmount(d)
}
