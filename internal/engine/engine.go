package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"coinvest/internal/domain"
	"coinvest/internal/event"
	"coinvest/internal/infra"
	"coinvest/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config holds the engine wiring parameters.
type Config struct {
	QuoteAsset string // reservation currency for buys, e.g. "USDT"
	InboxSize  int
	UserID     string // opaque session identity used only to scope persistence
}

// Engine owns the order lifecycle and is the only writer of the ledger.
// It is a single-threaded event processor: price updates and user commands
// arrive on one inbox and execute as discrete, non-interleaved steps.
type Engine struct {
	inbox  chan event.Event
	quote  string
	userID string

	ledger *domain.Ledger
	open   []*domain.Order // insertion order, oldest first
	closed []*domain.Order
	byID   map[string]*domain.Order

	prices   map[string]decimal.Decimal
	lastTick time.Time
	degraded bool

	commitments map[string]*commitment

	txlog    *service.TxLog
	store    domain.WalletStore // may be nil
	onChange func(balances map[string]domain.Balance, prices map[string]decimal.Decimal)

	mu sync.RWMutex // external reads only; the loop is the single writer
}

// commitment tracks the principal locked behind an InProgress transaction
// (arbitrage or staking) until the sweep settles it.
type commitment struct {
	Asset  string
	Amount decimal.Decimal
	Rate   decimal.Decimal
}

// New creates an engine around an existing ledger. The ledger must not be
// mutated by anyone else once the engine runs.
func New(cfg Config, ledger *domain.Ledger, txlog *service.TxLog, store domain.WalletStore) *Engine {
	size := cfg.InboxSize
	if size <= 0 {
		size = 1024
	}
	return &Engine{
		inbox:       make(chan event.Event, size),
		quote:       cfg.QuoteAsset,
		userID:      cfg.UserID,
		ledger:      ledger,
		byID:        make(map[string]*domain.Order),
		prices:      make(map[string]decimal.Decimal),
		commitments: make(map[string]*commitment),
		txlog:       txlog,
		store:       store,
	}
}

// SetOnChange registers the observer notified after every balance or price
// mutation. Must be set before Run.
func (e *Engine) SetOnChange(fn func(map[string]domain.Balance, map[string]decimal.Decimal)) {
	e.onChange = fn
}

// Inbox returns the event channel. Workers send price events here.
func (e *Engine) Inbox() chan<- event.Event {
	return e.inbox
}

// RestoreOrders reloads the open/closed sets from persistence. Call before Run.
func (e *Engine) RestoreOrders(open, closed []*domain.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.open = append([]*domain.Order(nil), open...)
	e.closed = append([]*domain.Order(nil), closed...)
	for _, o := range e.open {
		e.byID[o.ID] = o
	}
	for _, o := range e.closed {
		e.byID[o.ID] = o
	}
}

// RestoreCommitments rebuilds the principal tracking behind reloaded
// InProgress transactions so their locked funds settle after a restart.
// Call before Run.
func (e *Engine) RestoreCommitments(txs []*domain.Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, tx := range txs {
		if tx.Status != domain.TxStatusInProgress {
			continue
		}
		rate := decimal.Zero
		if s, ok := tx.Details["rate"]; ok {
			if parsed, err := decimal.NewFromString(s); err == nil {
				rate = parsed
			}
		}
		e.commitments[tx.ID] = &commitment{Asset: tx.Asset, Amount: tx.Amount, Rate: rate}
	}
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("Order engine started")

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			e.DumpState("panic_dump.json")
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Order engine stopping...")
			return
		case ev := <-e.inbox:
			e.processEvent(ev)
		}
	}
}

func (e *Engine) processEvent(ev event.Event) {
	switch v := ev.(type) {
	case *event.PriceSnapshot:
		e.mu.Lock()
		e.applySnapshot(v)
		e.mu.Unlock()
		e.notify()
	case *event.MarketUpdate:
		e.mu.Lock()
		e.applyMarketUpdate(v)
		e.mu.Unlock()
		event.ReleaseMarketUpdate(v)
		e.notify()
	case *event.CommitmentSettled:
		e.mu.Lock()
		err := e.settleCommitment(v)
		e.mu.Unlock()
		if err != nil {
			slog.Error("Commitment settlement failed",
				slog.String("tx_id", v.TxID), slog.Any("error", err))
		}
		e.notify()
	case command:
		v.execute(e)
	default:
		slog.Warn("Unknown event type", slog.String("name", ev.Name()))
	}
}

// applySnapshot replaces the whole price map, then evaluates open orders.
// Within one tick: price update, fill evaluation, settlement, log append
// happen in that order for all open orders before the next event.
func (e *Engine) applySnapshot(snap *event.PriceSnapshot) {
	prices := make(map[string]decimal.Decimal, len(snap.Prices))
	for k, v := range snap.Prices {
		prices[k] = v
	}
	e.prices = prices
	e.lastTick = snap.At
	e.degraded = snap.Degraded

	infra.GlobalMetrics.RecordTick()
	e.evaluateOpenOrders(snap.At)
}

func (e *Engine) applyMarketUpdate(up *event.MarketUpdate) {
	if up.Symbol == "" || !up.Price.IsPositive() {
		return
	}
	e.prices[up.Symbol] = up.Price
	e.lastTick = up.Ts

	infra.GlobalMetrics.RecordTick()
	e.evaluateOpenOrders(up.Ts)
}

// evaluateOpenOrders walks the open set oldest first and settles every order
// whose trigger condition holds at the current price. A settlement failure
// leaves the order open for retry on the next tick; it indicates an invariant
// violation and is logged accordingly.
func (e *Engine) evaluateOpenOrders(now time.Time) {
	var still []*domain.Order
	for _, o := range e.open {
		cp, ok := e.prices[o.Asset]
		if !ok || !cp.IsPositive() {
			still = append(still, o)
			continue
		}
		if !shouldFill(o, cp) {
			still = append(still, o)
			continue
		}
		if err := e.fill(o, cp, now); err != nil {
			slog.Error("Fill settlement failed, order left open",
				slog.String("order_id", o.ID), slog.Any("error", err))
			infra.GlobalMetrics.RecordError()
			still = append(still, o)
			continue
		}
		e.closed = append(e.closed, o)
		infra.GlobalMetrics.RecordOrderFilled()
	}
	e.open = still
}

// shouldFill applies the trigger table: market always, limit on favorable
// cross, stop on adverse cross.
func shouldFill(o *domain.Order, cp decimal.Decimal) bool {
	switch o.Type {
	case domain.OrderTypeMarket:
		return true
	case domain.OrderTypeLimit:
		if o.Side == domain.SideBuy {
			return cp.LessThanOrEqual(o.LimitPrice())
		}
		return cp.GreaterThanOrEqual(o.LimitPrice())
	case domain.OrderTypeStop:
		if o.Side == domain.SideBuy {
			return cp.GreaterThanOrEqual(o.LimitPrice())
		}
		return cp.LessThanOrEqual(o.LimitPrice())
	}
	return false
}

// fillPrice settles limit orders at their limit or better, never worse.
// Market and stop orders take the current price.
func fillPrice(o *domain.Order, cp decimal.Decimal) decimal.Decimal {
	if o.Type != domain.OrderTypeLimit {
		return cp
	}
	limit := o.LimitPrice()
	if o.Side == domain.SideBuy {
		if cp.LessThan(limit) {
			return cp
		}
		return limit
	}
	if cp.GreaterThan(limit) {
		return cp
	}
	return limit
}

// fill consumes the reservation and credits the counter asset. The spend on
// a buy is capped at what was reserved; any reservation left over after the
// actual cost is unlocked back to available.
func (e *Engine) fill(o *domain.Order, cp decimal.Decimal, now time.Time) error {
	fp := fillPrice(o, cp)

	if o.Side == domain.SideBuy {
		cost := fp.Mul(o.Amount)
		consume := cost
		if consume.GreaterThan(o.Reserved) {
			consume = o.Reserved
		}
		if err := e.ledger.SettleLockedDebit(o.ReservedAsset, consume); err != nil {
			return err
		}
		if excess := o.Reserved.Sub(consume); excess.IsPositive() {
			if err := e.ledger.Unlock(o.ReservedAsset, excess); err != nil {
				return err
			}
		}
		if err := e.ledger.Credit(o.Asset, o.Amount); err != nil {
			return err
		}
	} else {
		if err := e.ledger.SettleLockedDebit(o.ReservedAsset, o.Reserved); err != nil {
			return err
		}
		if err := e.ledger.Credit(e.quote, fp.Mul(o.Amount)); err != nil {
			return err
		}
	}

	o.Status = domain.OrderStatusFilled
	o.Filled = o.Amount
	o.UpdatedAt = now

	tx := &domain.Transaction{
		ID:          uuid.NewString(),
		Type:        domain.TxTrade,
		Asset:       o.Asset,
		Amount:      o.Amount,
		Status:      domain.TxStatusCompleted,
		Date:        now,
		CompletedAt: now,
		Category:    "spot",
		Details: map[string]string{
			"order_id": o.ID,
			"side":     string(o.Side),
			"type":     string(o.Type),
			"price":    fp.String(),
		},
	}
	e.txlog.Append(tx)

	e.persistOrder(o)
	e.persistTransaction(tx)
	e.persistBalances(o.Asset, o.ReservedAsset, e.quote)

	slog.Info("Order filled",
		slog.String("order_id", o.ID),
		slog.String("asset", o.Asset),
		slog.String("side", string(o.Side)),
		slog.String("price", fp.String()),
	)
	return nil
}

// settleCommitment releases the principal of a swept arbitrage/staking entry
// and credits the accrued yield.
func (e *Engine) settleCommitment(ev *event.CommitmentSettled) error {
	c, ok := e.commitments[ev.TxID]
	if !ok {
		return fmt.Errorf("settle commitment %s: %w", ev.TxID, domain.ErrOrderNotFound)
	}
	delete(e.commitments, ev.TxID)

	if err := e.ledger.Unlock(c.Asset, c.Amount); err != nil {
		return err
	}
	yield := c.Amount.Mul(c.Rate)
	if yield.IsPositive() {
		if err := e.ledger.Credit(c.Asset, yield); err != nil {
			return err
		}
	}
	e.txlog.SetPnL(ev.TxID, yield)
	// Write the completed entry back so a restart cannot restore it as
	// InProgress and settle the same principal twice.
	if tx, ok := e.txlog.Get(ev.TxID); ok {
		e.persistTransaction(&tx)
	}
	e.persistBalances(c.Asset)
	return nil
}

// notify pushes a fresh state snapshot to the observer.
func (e *Engine) notify() {
	if e.onChange == nil {
		return
	}
	e.mu.RLock()
	balances := e.ledger.Snapshot()
	prices := make(map[string]decimal.Decimal, len(e.prices))
	for k, v := range e.prices {
		prices[k] = v
	}
	e.mu.RUnlock()
	e.onChange(balances, prices)
}

// ======================================================================================
// Persistence (local-first: a storage failure is logged, never blocks trading)
// ======================================================================================

func (e *Engine) persistBalances(assets ...string) {
	if e.store == nil {
		return
	}
	seen := make(map[string]bool, len(assets))
	snapshot := e.ledger.Snapshot()
	for _, a := range assets {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		if b, ok := snapshot[a]; ok {
			if err := e.store.SaveBalance(e.userID, b); err != nil {
				slog.Error("Failed to persist balance", slog.String("asset", a), slog.Any("error", err))
			}
		}
	}
}

func (e *Engine) persistOrder(o *domain.Order) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveOrder(e.userID, o); err != nil {
		slog.Error("Failed to persist order", slog.String("order_id", o.ID), slog.Any("error", err))
	}
}

func (e *Engine) persistTransaction(tx *domain.Transaction) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveTransaction(e.userID, tx); err != nil {
		slog.Error("Failed to persist transaction", slog.String("tx_id", tx.ID), slog.Any("error", err))
	}
}

// ======================================================================================
// External reads (snapshots, safe for concurrent use)
// ======================================================================================

// Balances returns a copy of all ledger records.
func (e *Engine) Balances() map[string]domain.Balance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Snapshot()
}

// OpenOrders returns copies of the open set in placement order.
func (e *Engine) OpenOrders() []domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]domain.Order, 0, len(e.open))
	for _, o := range e.open {
		result = append(result, *o)
	}
	return result
}

// ClosedOrders returns copies of the closed set.
func (e *Engine) ClosedOrders() []domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]domain.Order, 0, len(e.closed))
	for _, o := range e.closed {
		result = append(result, *o)
	}
	return result
}

// Order returns a copy of a single order by id.
func (e *Engine) Order(id string) (domain.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if o, ok := e.byID[id]; ok {
		return *o, true
	}
	return domain.Order{}, false
}

// Prices returns a copy of the last applied price map.
func (e *Engine) Prices() map[string]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make(map[string]decimal.Decimal, len(e.prices))
	for k, v := range e.prices {
		result[k] = v
	}
	return result
}

// DumpState writes the full engine state to a JSON file for post-mortem.
func (e *Engine) DumpState(path string) {
	e.mu.RLock()
	dump := struct {
		Balances map[string]domain.Balance  `json:"balances"`
		Open     []*domain.Order            `json:"open_orders"`
		Closed   []*domain.Order            `json:"closed_orders"`
		Prices   map[string]decimal.Decimal `json:"prices"`
		LastTick time.Time                  `json:"last_tick"`
	}{
		Balances: e.ledger.Snapshot(),
		Open:     e.open,
		Closed:   e.closed,
		Prices:   e.prices,
		LastTick: e.lastTick,
	}
	e.mu.RUnlock()

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state dump", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
