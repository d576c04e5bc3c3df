// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Prefixes used across the codebase. Keeping them here makes IDs
// recognizable in logs without consulting the issuing package.
const (
	PrefixRequest = "req_"
	PrefixImage   = "img_"
	PrefixReceipt = "rcpt_"
)

// WithPrefix generates a random ID with a prefix (e.g. "req_", "img_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Request returns a new payment-request ID.
func Request() string { return WithPrefix(PrefixRequest) }

// Image returns a new generated-resource ID.
func Image() string { return WithPrefix(PrefixImage) }

// Receipt returns a new settlement-receipt ID.
func Receipt() string { return WithPrefix(PrefixReceipt) }

// Nonce generates a random hex string of the given byte length, used for
// payment challenge and settlement correlation nonces.
func Nonce(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
