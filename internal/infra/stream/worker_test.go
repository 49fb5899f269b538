package stream

import (
	"testing"

	"coinvest/internal/event"

	"github.com/shopspring/decimal"
)

func testWorker(inbox chan event.Event) *Worker {
	return NewWorker("", map[string]string{"btcusdt": "BTC", "ethusdt": "ETH"}, inbox)
}

func TestWorker_HandleMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		symbol  string
		price   string
	}{
		{
			"combined frame",
			`{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","s":"BTCUSDT","c":"50123.45","E":1700000000000}}`,
			"BTC", "50123.45",
		},
		{
			"raw payload",
			`{"e":"24hrMiniTicker","s":"ETHUSDT","c":"2600","E":1700000000000}`,
			"ETH", "2600",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox := make(chan event.Event, 1)
			w := testWorker(inbox)

			w.handleMessage([]byte(tt.payload))

			select {
			case ev := <-inbox:
				m, ok := ev.(*event.MarketUpdate)
				if !ok {
					t.Fatalf("Expected MarketUpdate, got %T", ev)
				}
				if m.Symbol != tt.symbol {
					t.Errorf("Expected symbol %s, got %s", tt.symbol, m.Symbol)
				}
				want, _ := decimal.NewFromString(tt.price)
				if !m.Price.Equal(want) {
					t.Errorf("Expected price %s, got %s", tt.price, m.Price)
				}
				event.ReleaseMarketUpdate(m)
			default:
				t.Fatal("No event produced")
			}
		})
	}
}

func TestWorker_HandleMessageDrops(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"wrong event type", `{"e":"trade","s":"BTCUSDT","c":"50000","E":1}`},
		{"unknown symbol", `{"e":"24hrMiniTicker","s":"XYZUSDT","c":"1","E":1}`},
		{"unparseable price", `{"e":"24hrMiniTicker","s":"BTCUSDT","c":"not-a-number","E":1}`},
		{"zero price", `{"e":"24hrMiniTicker","s":"BTCUSDT","c":"0","E":1}`},
		{"garbage", `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inbox := make(chan event.Event, 1)
			w := testWorker(inbox)

			w.handleMessage([]byte(tt.payload))

			if len(inbox) != 0 {
				t.Error("Expected message to be dropped")
			}
		})
	}
}

func TestWorker_FullInboxDropsTick(t *testing.T) {
	inbox := make(chan event.Event) // unbuffered, nobody reading
	w := testWorker(inbox)

	// Must not block
	w.handleMessage([]byte(`{"e":"24hrMiniTicker","s":"BTCUSDT","c":"50000","E":1}`))
}
