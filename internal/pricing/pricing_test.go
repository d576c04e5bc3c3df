package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubFeed struct {
	rate float64
	err  error
}

func (s *stubFeed) CurrentRate(context.Context) (float64, error) {
	return s.rate, s.err
}

func TestEstimate_TablePrices(t *testing.T) {
	e := NewEstimator(&stubFeed{rate: 1.0})

	tests := []struct {
		resolution string
		quality    string
		wantUSD    string
		wantUnits  int64
	}{
		{"1024x1024", "standard", "0.04", 40_000},
		{"1024x1024", "premium", "0.06", 60_000},
		{"2048x2048", "standard", "0.06", 60_000},
		{"2048x2048", "premium", "0.08", 80_000},
	}

	for _, tt := range tests {
		est, err := e.Estimate(context.Background(), tt.resolution, tt.quality)
		if err != nil {
			t.Fatalf("Estimate(%s, %s): %v", tt.resolution, tt.quality, err)
		}
		if est.CostUSD != tt.wantUSD {
			t.Errorf("%s/%s: CostUSD = %s, want %s", tt.resolution, tt.quality, est.CostUSD, tt.wantUSD)
		}
		if est.CostUnits.Int64() != tt.wantUnits {
			t.Errorf("%s/%s: CostUnits = %d, want %d", tt.resolution, tt.quality, est.CostUnits.Int64(), tt.wantUnits)
		}
	}
}

func TestEstimate_Defaults(t *testing.T) {
	e := NewEstimator(nil)

	est, err := e.Estimate(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.Resolution != DefaultResolution || est.Quality != DefaultQuality {
		t.Errorf("defaults = %s/%s", est.Resolution, est.Quality)
	}
	if est.CostUSD != "0.04" {
		t.Errorf("CostUSD = %s", est.CostUSD)
	}
	if est.Rate != 1.0 {
		t.Errorf("Rate = %f, want 1.0 with nil feed", est.Rate)
	}
}

func TestEstimate_UnknownKey(t *testing.T) {
	e := NewEstimator(nil)

	if _, err := e.Estimate(context.Background(), "640x480", "standard"); !errors.Is(err, ErrNoPrice) {
		t.Errorf("unknown resolution: err = %v, want ErrNoPrice", err)
	}
	if _, err := e.Estimate(context.Background(), "1024x1024", "ultra"); !errors.Is(err, ErrNoPrice) {
		t.Errorf("unknown quality: err = %v, want ErrNoPrice", err)
	}
}

func TestEstimate_FeedFailureFallsBack(t *testing.T) {
	e := NewEstimator(&stubFeed{err: errors.New("feed down")})

	est, err := e.Estimate(context.Background(), "1024x1024", "standard")
	if err != nil {
		t.Fatalf("feed failure must not fail estimation: %v", err)
	}
	if est.Rate != 1.0 {
		t.Errorf("Rate = %f, want fallback 1.0", est.Rate)
	}
	if est.CostUnits.Int64() != 40_000 {
		t.Errorf("CostUnits = %d, want 40000", est.CostUnits.Int64())
	}
}

func TestEstimate_DepeggedRateTruncates(t *testing.T) {
	e := NewEstimator(&stubFeed{rate: 0.999})

	est, err := e.Estimate(context.Background(), "1024x1024", "standard")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	// 40000 / 0.999 = 40040.04..., truncated.
	if est.CostUnits.Int64() != 40_040 {
		t.Errorf("CostUnits = %d, want 40040", est.CostUnits.Int64())
	}
}

func TestHTTPRateFeed_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"usd-coin":{"usd":0.9987}}`))
	}))
	defer srv.Close()

	feed := NewHTTPRateFeed(srv.URL, time.Second)
	rate, err := feed.CurrentRate(context.Background())
	if err != nil {
		t.Fatalf("CurrentRate: %v", err)
	}
	if rate != 0.9987 {
		t.Errorf("rate = %f", rate)
	}
}

func TestHTTPRateFeed_ErrorStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	feed := NewHTTPRateFeed(srv.URL, time.Second)
	if _, err := feed.CurrentRate(context.Background()); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestHTTPRateFeed_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	feed := NewHTTPRateFeed(srv.URL, time.Second)
	if _, err := feed.CurrentRate(context.Background()); err == nil {
		t.Fatal("expected error on malformed body")
	}
}

func TestHTTPRateFeed_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	feed := NewHTTPRateFeed(srv.URL, 50*time.Millisecond)
	if _, err := feed.CurrentRate(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
}
