package event

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// marketUpdatePool provides sync.Pool for high-frequency tick allocation.
// The streaming worker produces one MarketUpdate per upstream message, so
// pooling keeps GC pressure off the hotpath.
//
// Usage:
//
//	ev := AcquireMarketUpdate()
//	ev.Symbol = "BTC"
//	// ... send, process ...
//	ReleaseMarketUpdate(ev)  // Return to pool after processing
var marketUpdatePool = sync.Pool{
	New: func() interface{} {
		return &MarketUpdate{}
	},
}

// AcquireMarketUpdate gets a MarketUpdate from the pool.
// The returned event has zero values and must be initialized.
func AcquireMarketUpdate() *MarketUpdate {
	return marketUpdatePool.Get().(*MarketUpdate)
}

// ReleaseMarketUpdate returns a MarketUpdate to the pool.
// The event is reset to zero values before being pooled.
func ReleaseMarketUpdate(ev *MarketUpdate) {
	if ev == nil {
		return
	}
	ev.Symbol = ""
	ev.Price = decimal.Zero
	ev.Ts = time.Time{}
	ev.Source = ""

	marketUpdatePool.Put(ev)
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	evs := make([]*MarketUpdate, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquireMarketUpdate())
	}
	for _, ev := range evs {
		ReleaseMarketUpdate(ev)
	}
}
