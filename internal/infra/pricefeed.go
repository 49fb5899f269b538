package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"coinvest/internal/domain"

	"github.com/shopspring/decimal"
)

// PriceFeed polls an HTTP endpoint for current prices of the fixed asset
// universe. On upstream failure it degrades to a deterministic synthetic
// generator seeded from the configured base prices, so consumers always have
// a complete price map to evaluate against.
//
// Refreshes follow a single-outstanding-request policy: a new refresh
// cancels the in-flight one, and a response is only applied while its
// generation is still the latest.
type PriceFeed struct {
	mu          sync.Mutex
	prices      map[string]decimal.Decimal
	lastUpdated time.Time
	degraded    bool

	gen            uint64
	inflightCancel context.CancelFunc

	assets         []AssetConfig
	quote          string
	apiURL         string
	pollInterval   time.Duration
	requestTimeout time.Duration
	httpClient     *http.Client

	onUpdate func(prices map[string]decimal.Decimal, at time.Time, degraded bool)

	rng *rand.Rand

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ domain.PriceSource = (*PriceFeed)(nil)

// NewPriceFeed creates a feed from config. The price map starts seeded from
// the base price table so consumers see a complete universe before the first
// refresh lands.
func NewPriceFeed(cfg *Config, quote string, onUpdate func(map[string]decimal.Decimal, time.Time, bool)) *PriceFeed {
	f := &PriceFeed{
		assets:         cfg.Feed.Assets,
		quote:          quote,
		apiURL:         cfg.Feed.URL,
		pollInterval:   time.Duration(cfg.Feed.PollIntervalSec) * time.Second,
		requestTimeout: time.Duration(cfg.Feed.RequestTimeoutSec) * time.Second,
		httpClient:     &http.Client{Timeout: 0}, // per-request context deadlines
		onUpdate:       onUpdate,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if f.requestTimeout <= 0 {
		f.requestTimeout = 10 * time.Second
	}

	f.prices = make(map[string]decimal.Decimal, len(f.assets)+1)
	for _, a := range f.assets {
		f.prices[a.Symbol] = a.BasePrice
	}
	f.prices[f.quote] = decimal.NewFromInt(1)
	return f
}

// Start begins the scheduled refresh loop. The interval fires regardless of
// the outcome of previous attempts.
func (f *PriceFeed) Start(ctx context.Context) error {
	ctx, f.cancel = context.WithCancel(ctx)

	// Fetch immediately on start
	f.Refresh(ctx)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Price feed polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Price feed polling stopped")
				return
			case <-ticker.C:
				f.Refresh(ctx)
			}
		}
	}()

	return nil
}

// Stop cancels the loop and any in-flight fetch.
func (f *PriceFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
		f.wg.Wait()
	}
}

// Refresh fetches the universe once. Any previous in-flight fetch is
// canceled first. Failures other than cancellation substitute synthetic
// prices; cancellation means a newer request superseded this one and leaves
// the map alone.
func (f *PriceFeed) Refresh(ctx context.Context) {
	f.mu.Lock()
	f.gen++
	gen := f.gen
	if f.inflightCancel != nil {
		f.inflightCancel()
	}
	reqCtx, cancel := context.WithTimeout(ctx, f.requestTimeout)
	f.inflightCancel = cancel
	f.mu.Unlock()
	defer cancel()

	prices, err := f.fetch(reqCtx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Superseded by a newer refresh (or shutdown); not a feed failure.
			return
		}
		slog.Warn("Price fetch failed, serving synthetic prices", slog.Any("error", err))
		GlobalMetrics.RecordFeedFailure()
		f.applyFallback(gen)
		return
	}
	f.apply(gen, prices)
}

func (f *PriceFeed) fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	ids := make([]string, 0, len(f.assets))
	for _, a := range f.assets {
		ids = append(ids, a.ID)
	}
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		return nil, domain.NewNetworkError("fetch prices", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var data map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal, len(f.assets)+1)
	for _, a := range f.assets {
		prices[a.Symbol] = decimal.NewFromFloat(data[a.ID].USD)
	}
	prices[f.quote] = decimal.NewFromInt(1)
	return prices, nil
}

// apply installs a fetched price map if its generation is still current.
func (f *PriceFeed) apply(gen uint64, prices map[string]decimal.Decimal) {
	now := time.Now()

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return // a newer refresh superseded this response
	}
	f.prices = prices
	f.lastUpdated = now
	f.degraded = false
	f.mu.Unlock()

	GlobalMetrics.SetFeedDegraded(false)
	f.publish(prices, now, false)
}

// applyFallback substitutes synthetic prices: base price with a bounded ±2%
// variation. The map stays complete for every configured symbol.
func (f *PriceFeed) applyFallback(gen uint64) {
	now := time.Now()

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	prices := make(map[string]decimal.Decimal, len(f.assets)+1)
	for _, a := range f.assets {
		jitter := decimal.NewFromFloat(1 + (f.rng.Float64()*2-1)*0.02)
		prices[a.Symbol] = a.BasePrice.Mul(jitter)
	}
	prices[f.quote] = decimal.NewFromInt(1)
	f.prices = prices
	f.lastUpdated = now
	f.degraded = true
	f.mu.Unlock()

	GlobalMetrics.SetFeedDegraded(true)
	f.publish(prices, now, true)
}

func (f *PriceFeed) publish(prices map[string]decimal.Decimal, at time.Time, degraded bool) {
	if f.onUpdate == nil {
		return
	}
	cp := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	f.onUpdate(cp, at, degraded)
}

// Prices returns a copy of the current price map.
func (f *PriceFeed) Prices() map[string]decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make(map[string]decimal.Decimal, len(f.prices))
	for k, v := range f.prices {
		result[k] = v
	}
	return result
}

// LastUpdated returns when the map was last replaced.
func (f *PriceFeed) LastUpdated() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUpdated
}

// Degraded reports whether the feed is serving synthetic fallback prices.
func (f *PriceFeed) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}
