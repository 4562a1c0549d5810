// Package money provides fixed-point parsing, formatting and arithmetic
// for monetary amounts.
//
// Amounts are carried as decimal strings at API boundaries and as big.Int
// minor units (8 decimal places) internally. 1 unit = 100,000,000 minor
// units, which covers both fiat and crypto assets handled by the platform.
// No float arithmetic is performed anywhere.
package money

import (
	"math/big"
	"strings"
)

const Decimals = 8

// Parse converts a decimal string (e.g. "1.50") to its minor-unit big.Int
// representation (150000000). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 8 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// ParsePositive is Parse restricted to strictly positive amounts.
func ParsePositive(s string) (*big.Int, bool) {
	v, ok := Parse(s)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}

// Format converts a minor-unit big.Int to a decimal string with exactly
// 8 decimal places (e.g. "1.50000000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00000000"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// parseOrZero parses like Parse but maps invalid input to zero, so the
// arithmetic helpers never dereference a nil from a rejected string.
func parseOrZero(s string) *big.Int {
	v, ok := Parse(s)
	if !ok || v == nil {
		return new(big.Int)
	}
	return v
}

// Add returns the decimal-string sum a+b. Invalid inputs count as zero.
func Add(a, b string) string {
	return Format(new(big.Int).Add(parseOrZero(a), parseOrZero(b)))
}

// Sub returns the decimal-string difference a-b. Invalid inputs count as zero.
func Sub(a, b string) string {
	return Format(new(big.Int).Sub(parseOrZero(a), parseOrZero(b)))
}

// Cmp compares two decimal strings: -1 if a<b, 0 if equal, 1 if a>b.
// Invalid inputs count as zero.
func Cmp(a, b string) int {
	return parseOrZero(a).Cmp(parseOrZero(b))
}

// Mul returns the decimal-string product of an amount and a price,
// rounding toward zero at 8 decimal places.
func Mul(amount, price string) string {
	av := parseOrZero(amount)
	pv := parseOrZero(price)
	prod := new(big.Int).Mul(av, pv)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)
	return Format(prod.Quo(prod, scale))
}

// IsZero reports whether the decimal string parses to exactly zero.
func IsZero(s string) bool {
	v, ok := Parse(s)
	return ok && v.Sign() == 0
}
