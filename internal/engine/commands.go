package engine

import (
	"context"
	"fmt"
	"time"

	"coinvest/internal/domain"
	"coinvest/internal/event"
	"coinvest/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSpec is the user request behind PlaceOrder.
type OrderSpec struct {
	Type   domain.OrderType
	Side   domain.OrderSide
	Asset  string
	Price  *decimal.Decimal // required for limit/stop, nil for market
	Amount decimal.Decimal
}

// OrderUpdate carries the mutable fields of ModifyOrder. Nil fields are
// left unchanged.
type OrderUpdate struct {
	Price  *decimal.Decimal
	Amount *decimal.Decimal
	Side   *domain.OrderSide
}

// command is an inbox entry carrying a reply channel, giving callers
// synchronous acknowledgement after the ledger mutation.
type command interface {
	event.Event
	execute(e *Engine)
}

type orderResult struct {
	order domain.Order
	err   error
}

type txResult struct {
	tx  domain.Transaction
	err error
}

type placeCmd struct {
	spec  OrderSpec
	reply chan orderResult
}

func (*placeCmd) Name() string { return "place_order" }

type cancelCmd struct {
	id    string
	reply chan orderResult
}

func (*cancelCmd) Name() string { return "cancel_order" }

type modifyCmd struct {
	id    string
	upd   OrderUpdate
	reply chan orderResult
}

func (*modifyCmd) Name() string { return "modify_order" }

type adjustCmd struct {
	kind      domain.TransactionType // Deposit or Withdrawal
	asset     string
	amount    decimal.Decimal
	reference string
	reason    string
	reply     chan txResult
}

func (*adjustCmd) Name() string { return "adjust_balance" }

type freezeCmd struct {
	asset     string
	amount    decimal.Decimal
	reference string
	unfreeze  bool
	reply     chan error
}

func (*freezeCmd) Name() string { return "freeze_balance" }

type commitCmd struct {
	kind     domain.TransactionType // Arbitrage or Staking
	asset    string
	amount   decimal.Decimal
	rate     decimal.Decimal
	duration time.Duration
	reply    chan txResult
}

func (*commitCmd) Name() string { return "commit_funds" }

type pricesCmd struct {
	snap  *event.PriceSnapshot
	reply chan struct{}
}

func (*pricesCmd) Name() string { return "apply_prices" }

func (e *Engine) send(ctx context.Context, cmd event.Event) error {
	select {
	case e.inbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PlaceOrder validates the request, reserves funds and appends the order to the
// open set. A reservation failure rejects the order outright; nothing enters
// the open set.
func (e *Engine) PlaceOrder(ctx context.Context, spec OrderSpec) (domain.Order, error) {
	cmd := &placeCmd{spec: spec, reply: make(chan orderResult, 1)}
	if err := e.send(ctx, cmd); err != nil {
		return domain.Order{}, err
	}
	select {
	case r := <-cmd.reply:
		return r.order, r.err
	case <-ctx.Done():
		return domain.Order{}, ctx.Err()
	}
}

// CancelOrder releases the reservation of an open order and moves it to the
// closed set. Canceling an order that already left the open set fails with
// ErrOrderNotOpen and releases nothing.
func (e *Engine) CancelOrder(ctx context.Context, id string) (domain.Order, error) {
	cmd := &cancelCmd{id: id, reply: make(chan orderResult, 1)}
	if err := e.send(ctx, cmd); err != nil {
		return domain.Order{}, err
	}
	select {
	case r := <-cmd.reply:
		return r.order, r.err
	case <-ctx.Done():
		return domain.Order{}, ctx.Err()
	}
}

// ModifyOrder updates price, amount or side of an open order and re-reserves
// the delta so the lock always matches the order as modified.
func (e *Engine) ModifyOrder(ctx context.Context, id string, upd OrderUpdate) (domain.Order, error) {
	cmd := &modifyCmd{id: id, upd: upd, reply: make(chan orderResult, 1)}
	if err := e.send(ctx, cmd); err != nil {
		return domain.Order{}, err
	}
	select {
	case r := <-cmd.reply:
		return r.order, r.err
	case <-ctx.Done():
		return domain.Order{}, ctx.Err()
	}
}

// Deposit credits an external deposit into the ledger.
func (e *Engine) Deposit(ctx context.Context, asset string, amount decimal.Decimal, reference string) (domain.Transaction, error) {
	return e.adjust(ctx, domain.TxDeposit, asset, amount, reference, "deposit")
}

// Withdraw debits available funds for an external withdrawal.
func (e *Engine) Withdraw(ctx context.Context, asset string, amount decimal.Decimal, reference string) (domain.Transaction, error) {
	return e.adjust(ctx, domain.TxWithdrawal, asset, amount, reference, "withdrawal")
}

// AdjustBalance applies an admin-originated credit (kind Deposit) or debit
// (kind Withdrawal) with an audit reason. The adjustment is recorded in the
// store before the local ledger mutates.
func (e *Engine) AdjustBalance(ctx context.Context, kind domain.TransactionType, asset string, amount decimal.Decimal, reference, reason string) (domain.Transaction, error) {
	return e.adjust(ctx, kind, asset, amount, reference, reason)
}

func (e *Engine) adjust(ctx context.Context, kind domain.TransactionType, asset string, amount decimal.Decimal, reference, reason string) (domain.Transaction, error) {
	cmd := &adjustCmd{kind: kind, asset: asset, amount: amount, reference: reference, reason: reason, reply: make(chan txResult, 1)}
	if err := e.send(ctx, cmd); err != nil {
		return domain.Transaction{}, err
	}
	select {
	case r := <-cmd.reply:
		return r.tx, r.err
	case <-ctx.Done():
		return domain.Transaction{}, ctx.Err()
	}
}

// FreezeBalance locks funds by admin action, outside any order.
func (e *Engine) FreezeBalance(ctx context.Context, asset string, amount decimal.Decimal, reference string) error {
	return e.freeze(ctx, asset, amount, reference, false)
}

// UnfreezeBalance releases admin-frozen funds.
func (e *Engine) UnfreezeBalance(ctx context.Context, asset string, amount decimal.Decimal, reference string) error {
	return e.freeze(ctx, asset, amount, reference, true)
}

func (e *Engine) freeze(ctx context.Context, asset string, amount decimal.Decimal, reference string, unfreeze bool) error {
	cmd := &freezeCmd{asset: asset, amount: amount, reference: reference, unfreeze: unfreeze, reply: make(chan error, 1)}
	if err := e.send(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Commit locks a principal behind an arbitrage or staking position. The
// transaction log sweep settles it after the duration elapses, at which
// point the principal unlocks and the yield (amount*rate) is credited.
func (e *Engine) Commit(ctx context.Context, kind domain.TransactionType, asset string, amount, rate decimal.Decimal, duration time.Duration) (domain.Transaction, error) {
	cmd := &commitCmd{kind: kind, asset: asset, amount: amount, rate: rate, duration: duration, reply: make(chan txResult, 1)}
	if err := e.send(ctx, cmd); err != nil {
		return domain.Transaction{}, err
	}
	select {
	case r := <-cmd.reply:
		return r.tx, r.err
	case <-ctx.Done():
		return domain.Transaction{}, ctx.Err()
	}
}

// ApplyPrices applies a full price snapshot synchronously: when it returns,
// fill evaluation for this tick has completed. The polling feed uses this as
// its update callback.
func (e *Engine) ApplyPrices(ctx context.Context, prices map[string]decimal.Decimal, at time.Time, degraded bool) error {
	cmd := &pricesCmd{
		snap:  &event.PriceSnapshot{Prices: prices, At: at, Degraded: degraded},
		reply: make(chan struct{}),
	}
	if err := e.send(ctx, cmd); err != nil {
		return err
	}
	select {
	case <-cmd.reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifySettled signals that the transaction log advanced a commitment to
// Completed. The send blocks until the engine accepts it; a dropped signal
// would leave the principal locked forever. The loop never waits on the
// sweep goroutine, so the send cannot deadlock.
func (e *Engine) NotifySettled(ctx context.Context, txID string) error {
	return e.send(ctx, &event.CommitmentSettled{TxID: txID, At: time.Now()})
}

// ======================================================================================
// Command handlers (run on the engine loop)
// ======================================================================================

func (c *placeCmd) execute(e *Engine) {
	e.mu.Lock()
	o, err := e.handlePlace(c.spec)
	e.mu.Unlock()
	if err != nil {
		c.reply <- orderResult{err: err}
		return
	}
	c.reply <- orderResult{order: *o}
	e.notify()
}

func (e *Engine) handlePlace(spec OrderSpec) (*domain.Order, error) {
	if !spec.Amount.IsPositive() {
		return nil, fmt.Errorf("place order: %w: amount %s", domain.ErrInvalidAmount, spec.Amount)
	}
	if spec.Asset == "" || spec.Asset == e.quote {
		return nil, fmt.Errorf("place order: %w: %q", domain.ErrInvalidSymbol, spec.Asset)
	}
	if spec.Type != domain.OrderTypeMarket {
		if spec.Price == nil || !spec.Price.IsPositive() {
			return nil, fmt.Errorf("place %s order: %w", spec.Type, domain.ErrPriceRequired)
		}
	}

	reserveAsset, reserve, err := e.reservation(spec.Side, spec.Type, spec.Asset, spec.Price, spec.Amount)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Lock(reserveAsset, reserve); err != nil {
		infra.GlobalMetrics.RecordOrderRejected()
		return nil, err
	}

	now := time.Now()
	o := &domain.Order{
		ID:            uuid.NewString(),
		Type:          spec.Type,
		Side:          spec.Side,
		Asset:         spec.Asset,
		Price:         spec.Price,
		Amount:        spec.Amount,
		Status:        domain.OrderStatusOpen,
		Reserved:      reserve,
		ReservedAsset: reserveAsset,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.open = append(e.open, o)
	e.byID[o.ID] = o

	infra.GlobalMetrics.RecordOrderPlaced()
	e.persistOrder(o)
	e.persistBalances(reserveAsset)
	return o, nil
}

// reservation computes what backs an order: quote funds for a buy (at the
// order price, or the current market price for market orders), the base
// asset itself for a sell.
func (e *Engine) reservation(side domain.OrderSide, typ domain.OrderType, asset string, price *decimal.Decimal, amount decimal.Decimal) (string, decimal.Decimal, error) {
	if side == domain.SideSell {
		return asset, amount, nil
	}
	px := decimal.Zero
	if price != nil {
		px = *price
	}
	if typ == domain.OrderTypeMarket || !px.IsPositive() {
		cp, ok := e.prices[asset]
		if !ok || !cp.IsPositive() {
			return "", decimal.Zero, fmt.Errorf("reserve %s buy: %w", asset, domain.ErrFeedUnavailable)
		}
		px = cp
	}
	return e.quote, px.Mul(amount), nil
}

func (c *cancelCmd) execute(e *Engine) {
	e.mu.Lock()
	o, err := e.handleCancel(c.id)
	e.mu.Unlock()
	if err != nil {
		c.reply <- orderResult{err: err}
		return
	}
	c.reply <- orderResult{order: *o}
	e.notify()
}

func (e *Engine) handleCancel(id string) (*domain.Order, error) {
	o, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("cancel %s: %w", id, domain.ErrOrderNotFound)
	}
	if !o.IsOpen() {
		return nil, fmt.Errorf("cancel %s: %w (status %s)", id, domain.ErrOrderNotOpen, o.Status)
	}
	if err := e.ledger.Unlock(o.ReservedAsset, o.Reserved); err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatusCanceled
	o.UpdatedAt = time.Now()

	// Open and closed set move in the same step: the order is never
	// visible in both, never in neither.
	for i, open := range e.open {
		if open.ID == id {
			e.open = append(e.open[:i], e.open[i+1:]...)
			break
		}
	}
	e.closed = append(e.closed, o)

	infra.GlobalMetrics.RecordOrderCanceled()
	e.persistOrder(o)
	e.persistBalances(o.ReservedAsset)
	return o, nil
}

func (c *modifyCmd) execute(e *Engine) {
	e.mu.Lock()
	o, err := e.handleModify(c.id, c.upd)
	e.mu.Unlock()
	if err != nil {
		c.reply <- orderResult{err: err}
		return
	}
	c.reply <- orderResult{order: *o}
	e.notify()
}

// handleModify re-reserves the delta: the updated order is backed by exactly
// the funds its new terms require, or the modification is rejected unchanged.
func (e *Engine) handleModify(id string, upd OrderUpdate) (*domain.Order, error) {
	o, ok := e.byID[id]
	if !ok {
		return nil, fmt.Errorf("modify %s: %w", id, domain.ErrOrderNotFound)
	}
	if !o.IsOpen() {
		return nil, fmt.Errorf("modify %s: %w (status %s)", id, domain.ErrOrderNotOpen, o.Status)
	}

	side := o.Side
	if upd.Side != nil {
		side = *upd.Side
	}
	price := o.Price
	if upd.Price != nil {
		price = upd.Price
	}
	amount := o.Amount
	if upd.Amount != nil {
		amount = *upd.Amount
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("modify %s: %w: amount %s", id, domain.ErrInvalidAmount, amount)
	}
	if o.Type != domain.OrderTypeMarket && (price == nil || !price.IsPositive()) {
		return nil, fmt.Errorf("modify %s: %w", id, domain.ErrPriceRequired)
	}

	newAsset, newReserve, err := e.reservation(side, o.Type, o.Asset, price, amount)
	if err != nil {
		return nil, err
	}

	if newAsset != o.ReservedAsset {
		// Side flipped: acquire the new reservation first so a failure
		// leaves the old one intact.
		if err := e.ledger.Lock(newAsset, newReserve); err != nil {
			return nil, err
		}
		if err := e.ledger.Unlock(o.ReservedAsset, o.Reserved); err != nil {
			// Roll the new lock back; the old reservation was not touched.
			_ = e.ledger.Unlock(newAsset, newReserve)
			return nil, err
		}
	} else {
		switch delta := newReserve.Sub(o.Reserved); {
		case delta.IsPositive():
			if err := e.ledger.Lock(newAsset, delta); err != nil {
				return nil, err
			}
		case delta.IsNegative():
			if err := e.ledger.Unlock(newAsset, delta.Neg()); err != nil {
				return nil, err
			}
		}
	}

	oldAsset := o.ReservedAsset
	o.Side = side
	o.Price = price
	o.Amount = amount
	o.Reserved = newReserve
	o.ReservedAsset = newAsset
	o.UpdatedAt = time.Now()

	e.persistOrder(o)
	e.persistBalances(newAsset, oldAsset)
	return o, nil
}

func (c *adjustCmd) execute(e *Engine) {
	e.mu.Lock()
	tx, err := e.handleAdjust(c.kind, c.asset, c.amount, c.reference, c.reason)
	e.mu.Unlock()
	if err != nil {
		c.reply <- txResult{err: err}
		return
	}
	c.reply <- txResult{tx: *tx}
	e.notify()
}

// handleAdjust applies a deposit or withdrawal. The store records the
// reference first; the local ledger does not mutate until that succeeds, so
// a failed remote call leaves local state unchanged.
func (e *Engine) handleAdjust(kind domain.TransactionType, asset string, amount decimal.Decimal, reference, reason string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%s %s: %w: %s", kind, asset, domain.ErrInvalidAmount, amount)
	}
	if kind == domain.TxWithdrawal && amount.GreaterThan(e.ledger.Available(asset)) {
		return nil, fmt.Errorf("%s %s: %w", kind, asset, domain.ErrInsufficientBalance)
	}

	if e.store != nil {
		if err := e.store.RecordAdjustment(e.userID, reference, asset, string(kind), reason, amount); err != nil {
			return nil, err
		}
	}

	var err error
	if kind == domain.TxWithdrawal {
		err = e.ledger.Debit(asset, amount)
	} else {
		err = e.ledger.Credit(asset, amount)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tx := &domain.Transaction{
		ID:          uuid.NewString(),
		Type:        kind,
		Asset:       asset,
		Amount:      amount,
		Status:      domain.TxStatusCompleted,
		Date:        now,
		CompletedAt: now,
		Details: map[string]string{
			"reference": reference,
			"reason":    reason,
		},
	}
	e.txlog.Append(tx)
	e.persistTransaction(tx)
	e.persistBalances(asset)
	return tx, nil
}

func (c *freezeCmd) execute(e *Engine) {
	e.mu.Lock()
	err := e.handleFreeze(c.asset, c.amount, c.reference, c.unfreeze)
	e.mu.Unlock()
	c.reply <- err
	if err == nil {
		e.notify()
	}
}

func (e *Engine) handleFreeze(asset string, amount decimal.Decimal, reference string, unfreeze bool) error {
	kind := "freeze"
	if unfreeze {
		kind = "unfreeze"
	}
	if e.store != nil {
		if err := e.store.RecordAdjustment(e.userID, reference, asset, kind, "", amount); err != nil {
			return err
		}
	}
	var err error
	if unfreeze {
		err = e.ledger.Unlock(asset, amount)
	} else {
		err = e.ledger.Lock(asset, amount)
	}
	if err != nil {
		return err
	}
	e.persistBalances(asset)
	return nil
}

func (c *commitCmd) execute(e *Engine) {
	e.mu.Lock()
	tx, err := e.handleCommit(c.kind, c.asset, c.amount, c.rate, c.duration)
	e.mu.Unlock()
	if err != nil {
		c.reply <- txResult{err: err}
		return
	}
	c.reply <- txResult{tx: *tx}
	e.notify()
}

func (e *Engine) handleCommit(kind domain.TransactionType, asset string, amount, rate decimal.Decimal, duration time.Duration) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%s %s: %w: %s", kind, asset, domain.ErrInvalidAmount, amount)
	}
	if err := e.ledger.Lock(asset, amount); err != nil {
		return nil, err
	}

	category := "arbitrage"
	if kind == domain.TxStaking {
		category = "staking"
	}
	tx := &domain.Transaction{
		ID:       uuid.NewString(),
		Type:     kind,
		Asset:    asset,
		Amount:   amount,
		Status:   domain.TxStatusInProgress,
		Date:     time.Now(),
		Category: category,
		Duration: duration,
		Details: map[string]string{
			"rate": rate.String(),
		},
	}
	e.commitments[tx.ID] = &commitment{Asset: asset, Amount: amount, Rate: rate}
	e.txlog.Append(tx)
	e.persistTransaction(tx)
	e.persistBalances(asset)
	return tx, nil
}

func (c *pricesCmd) execute(e *Engine) {
	e.mu.Lock()
	e.applySnapshot(c.snap)
	e.mu.Unlock()
	close(c.reply)
	e.notify()
}
