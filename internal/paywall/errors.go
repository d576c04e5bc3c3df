package paywall

import (
	"errors"
	"strings"
)

var (
	errMissingNonce        = errors.New("missing nonce")
	errBadNonce            = errors.New("invalid or expired nonce")
	errWrongRecipient      = errors.New("voucher pays the wrong recipient")
	errBadPrice            = errors.New("invalid price")
	errInsufficientPayment = errors.New("payment amount was less than required")
)

func equalAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}
