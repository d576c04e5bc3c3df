package usdc

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"", 0, true},
		{"0", 0, true},
		{"1", 1_000_000, true},
		{"1.5", 1_500_000, true},
		{"0.04", 40_000, true},
		{"0.000001", 1, true},
		{"0.0000019", 1, true}, // truncated past 6 decimals
		{"1000", 1_000_000_000, true},
		{"-1", 0, false},
		{"1.2.3", 0, false},
		{"abc", 0, false},
	}

	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if ok != tt.ok {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.Int64() != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.in, got.Int64(), tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.000000"},
		{1, "0.000001"},
		{40_000, "0.040000"},
		{1_500_000, "1.500000"},
		{-1_500_000, "-1.500000"},
	}

	for _, tt := range tests {
		if got := Format(big.NewInt(tt.in)); got != tt.want {
			t.Errorf("Format(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormat_Nil(t *testing.T) {
	if got := Format(nil); got != "0.000000" {
		t.Errorf("Format(nil) = %q", got)
	}
}

func TestAtRate(t *testing.T) {
	// $0.04 at a 1.0 rate is exactly 40000 units.
	if got := AtRate(big.NewInt(40_000), 1.0); got.Int64() != 40_000 {
		t.Errorf("AtRate(40000, 1.0) = %d, want 40000", got.Int64())
	}
	// A depegged rate buys more USDC per dollar; conversion truncates.
	if got := AtRate(big.NewInt(40_000), 0.999); got.Int64() != 40_040 {
		t.Errorf("AtRate(40000, 0.999) = %d, want 40040", got.Int64())
	}
	// Truncation, never rounding up: 40000 / 1.001 = 39960.039...
	if got := AtRate(big.NewInt(40_000), 1.001); got.Int64() != 39_960 {
		t.Errorf("AtRate(40000, 1.001) = %d, want 39960", got.Int64())
	}
}

func TestAtRate_BadRate(t *testing.T) {
	// Zero or negative rates fall back to 1.0 instead of dividing by zero.
	if got := AtRate(big.NewInt(40_000), 0); got.Int64() != 40_000 {
		t.Errorf("AtRate(40000, 0) = %d, want 40000", got.Int64())
	}
	if got := AtRate(big.NewInt(40_000), -2); got.Int64() != 40_000 {
		t.Errorf("AtRate(40000, -2) = %d, want 40000", got.Int64())
	}
}

func TestAtRate_DoesNotMutateInput(t *testing.T) {
	in := big.NewInt(40_000)
	_ = AtRate(in, 0.999)
	if in.Int64() != 40_000 {
		t.Errorf("input mutated: %d", in.Int64())
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"0.000000", "0.040000", "1.500000", "12.345678"} {
		v, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := Format(v); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}
