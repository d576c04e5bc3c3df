// Package usdc provides shared USDC parsing, formatting, and conversion.
//
// USDC uses 6 decimal places. All amounts are carried as big.Int in the
// smallest unit (1 USDC = 1,000,000 units).
package usdc

import (
	"math/big"
	"strings"
)

const Decimals = 6

// Parse converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation (1500000). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 6 decimal places
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

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 6 decimal places (e.g. "1.500000").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
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

// AtRate converts USD smallest units to USDC smallest units at the given
// exchange rate (USD per USDC), truncating toward zero. A rate <= 0 is
// treated as 1.0 so a broken feed can never divide by zero.
func AtRate(usdUnits *big.Int, rate float64) *big.Int {
	if usdUnits == nil {
		return big.NewInt(0)
	}
	if rate <= 0 || rate == 1.0 {
		return new(big.Int).Set(usdUnits)
	}
	f := new(big.Float).SetInt(usdUnits)
	f.Quo(f, big.NewFloat(rate))
	result, _ := f.Int(nil) // truncates toward zero
	return result
}
