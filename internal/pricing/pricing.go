// Package pricing implements the cost estimator for metered image
// generation. Prices are fixed per resolution and quality; the USDC amount
// is derived from a live USD/USDC exchange rate with a fallback of 1.0 so
// a dead price feed never blocks estimation.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/pixelmint/pixelmint/internal/logging"
	"github.com/pixelmint/pixelmint/internal/usdc"
)

// ErrNoPrice indicates an unknown resolution/quality combination. This is
// a configuration error: the caller asked for a product that is not in the
// price table.
var ErrNoPrice = errors.New("pricing: no price for resolution/quality")

const (
	DefaultResolution = "1024x1024"
	DefaultQuality    = "standard"
)

// priceTable holds fixed per-image USD prices as decimal strings. Decimal
// strings keep the table exact; floats would already lose cents here.
var priceTable = map[string]map[string]string{
	"1024x1024": {"standard": "0.04", "premium": "0.06"},
	"2048x2048": {"standard": "0.06", "premium": "0.08"},
}

// DefaultPrice returns the USD price of the default resolution/quality.
func DefaultPrice() string {
	return priceTable[DefaultResolution][DefaultQuality]
}

// Estimate is a fixed-price quote for one generation task.
type Estimate struct {
	Resolution string
	Quality    string
	CostUSD    string   // decimal USD price from the table
	CostUnits  *big.Int // USDC smallest units after rate conversion
	Rate       float64  // USD per USDC used for the conversion
}

// RateFeed reports the current USD price of one USDC.
type RateFeed interface {
	CurrentRate(ctx context.Context) (float64, error)
}

// Estimator converts generation parameters into fixed-price quotes.
type Estimator struct {
	feed RateFeed
}

// NewEstimator creates an estimator backed by the given rate feed. A nil
// feed pins the rate at 1.0.
func NewEstimator(feed RateFeed) *Estimator {
	return &Estimator{feed: feed}
}

// Estimate looks up the fixed price for resolution/quality and converts it
// to USDC smallest units, truncating toward zero. Feed failures are logged
// and recovered with a 1.0 rate; only an unknown price-table key fails.
func (e *Estimator) Estimate(ctx context.Context, resolution, quality string) (*Estimate, error) {
	if resolution == "" {
		resolution = DefaultResolution
	}
	if quality == "" {
		quality = DefaultQuality
	}

	byQuality, ok := priceTable[resolution]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoPrice, resolution, quality)
	}
	priceUSD, ok := byQuality[quality]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoPrice, resolution, quality)
	}

	rate := 1.0
	if e.feed != nil {
		r, err := e.feed.CurrentRate(ctx)
		if err != nil {
			logging.L(ctx).Warn("rate feed unavailable, using fallback rate 1.0", "error", err)
		} else if r > 0 {
			rate = r
		}
	}

	usdUnits, ok := usdc.Parse(priceUSD)
	if !ok {
		return nil, fmt.Errorf("%w: bad table entry %q", ErrNoPrice, priceUSD)
	}

	return &Estimate{
		Resolution: resolution,
		Quality:    quality,
		CostUSD:    priceUSD,
		CostUnits:  usdc.AtRate(usdUnits, rate),
		Rate:       rate,
	}, nil
}
