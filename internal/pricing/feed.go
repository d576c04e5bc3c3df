package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPRateFeed fetches the USDC/USD rate from a CoinGecko-style endpoint:
//
//	{"usd-coin": {"usd": 0.9998}}
type HTTPRateFeed struct {
	url        string
	httpClient *http.Client
}

// NewHTTPRateFeed creates a rate feed with a bounded request timeout. The
// timeout is the availability guarantee for the estimator: a hung feed
// costs at most this long before the fallback rate kicks in.
func NewHTTPRateFeed(url string, timeout time.Duration) *HTTPRateFeed {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPRateFeed{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CurrentRate returns the current USD price of one USDC.
func (f *HTTPRateFeed) CurrentRate(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("rate feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate feed returned %d", resp.StatusCode)
	}

	var body struct {
		USDCoin struct {
			USD float64 `json:"usd"`
		} `json:"usd-coin"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode rate feed response: %w", err)
	}
	if body.USDCoin.USD <= 0 {
		return 0, fmt.Errorf("rate feed returned non-positive rate %f", body.USDCoin.USD)
	}

	return body.USDCoin.USD, nil
}

var _ RateFeed = (*HTTPRateFeed)(nil)
