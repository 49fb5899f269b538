package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"coinvest/internal/event"
	"coinvest/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	defaultWSURL = "wss://stream.binance.com:9443/stream"
	maxRetries   = 10
	readTimeout  = 60 * time.Second
)

// miniTicker is a single entry of Binance's combined miniTicker stream.
type miniTicker struct {
	EventType string `json:"e"` // 24hrMiniTicker
	Symbol    string `json:"s"` // BTCUSDT
	Close     string `json:"c"`
	EventTime int64  `json:"E"`
}

type streamFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Worker maintains a market data WebSocket connection and forwards per-symbol
// price ticks into the engine inbox. Ticks are dropped when the inbox is full.
type Worker struct {
	url       string
	streamSym map[string]string // stream symbol (btcusdt) -> asset symbol (BTC)
	inbox     chan<- event.Event
	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a stream worker. streamSym maps the lowercase stream
// symbol of each asset to its ledger symbol.
func NewWorker(url string, streamSym map[string]string, inbox chan<- event.Event) *Worker {
	if url == "" {
		url = defaultWSURL
	}
	return &Worker{
		url:       url,
		streamSym: streamSym,
		inbox:     inbox,
	}
}

// Connect starts the WebSocket connection
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Stream connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)

	conn, _, err := dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return err
	}

	slog.Info("Stream connected", slog.Int("subs", len(w.streamSym)))
	return nil
}

func (w *Worker) subscribe() error {
	params := make([]string, 0, len(w.streamSym))
	for s := range w.streamSym {
		params = append(params, s+"@miniTicker")
	}

	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     time.Now().UnixNano(),
	}
	b, _ := json.Marshal(msg)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *Worker) handleMessage(msg []byte) {
	var frame streamFrame
	payload := msg
	if json.Unmarshal(msg, &frame) == nil && len(frame.Data) > 0 {
		payload = frame.Data
	}

	var tick miniTicker
	if json.Unmarshal(payload, &tick) != nil || tick.EventType != "24hrMiniTicker" {
		return
	}

	symbol, ok := w.streamSym[strings.ToLower(tick.Symbol)]
	if !ok {
		return
	}
	price, err := decimal.NewFromString(tick.Close)
	if err != nil || !price.IsPositive() {
		return
	}

	ev := event.AcquireMarketUpdate()
	ev.Symbol = symbol
	ev.Price = price
	ev.Ts = time.UnixMilli(tick.EventTime)
	ev.Source = "BINANCE_WS"

	select {
	case w.inbox <- ev:
	default: // DROP
		event.ReleaseMarketUpdate(ev)
	}
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
}

// IsConnected reports whether a socket is currently established.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}
