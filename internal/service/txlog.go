package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"coinvest/internal/domain"

	"github.com/shopspring/decimal"
)

// TxLog is the append-only record of ledger-affecting events. Entries are
// held newest first and pruned past the retention window on every append.
//
// A periodic sweep advances InProgress entries past their duration to
// Completed, and Completed entries past the close grace delay to Closed,
// modeling settlement without a real clearing process.
type TxLog struct {
	mu      sync.RWMutex
	entries []*domain.Transaction

	retention     time.Duration
	closeGrace    time.Duration
	sweepInterval time.Duration

	onCompleted func(*domain.Transaction)
	onClosed    func(*domain.Transaction)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTxLog creates a transaction log with the given retention window, grace
// delay before Completed entries close, and sweep interval.
func NewTxLog(retention, closeGrace, sweepInterval time.Duration) *TxLog {
	return &TxLog{
		retention:     retention,
		closeGrace:    closeGrace,
		sweepInterval: sweepInterval,
	}
}

// SetOnCompleted registers the callback invoked when the sweep advances an
// entry to Completed. Must be set before Start.
func (t *TxLog) SetOnCompleted(fn func(*domain.Transaction)) {
	t.onCompleted = fn
}

// SetOnClosed registers the callback invoked when the sweep advances an
// entry to Closed. Must be set before Start.
func (t *TxLog) SetOnClosed(fn func(*domain.Transaction)) {
	t.onClosed = fn
}

// Append inserts a transaction at the head of the log and prunes entries
// older than the retention window.
func (t *TxLog) Append(tx *domain.Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.retention)
	kept := make([]*domain.Transaction, 0, len(t.entries)+1)
	kept = append(kept, tx)
	for _, e := range t.entries {
		if e.Date.After(cutoff) {
			kept = append(kept, e)
		}
	}
	t.entries = kept
}

// Load replaces the log contents when restoring a session. Entries are
// reordered newest first.
func (t *TxLog) Load(entries []*domain.Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make([]*domain.Transaction, len(entries))
	copy(t.entries, entries)
	sort.Slice(t.entries, func(i, j int) bool {
		return t.entries[i].Date.After(t.entries[j].Date)
	})
}

// Query returns copies of the entries matching the filter, most recent first.
// The underlying log is never mutated.
func (t *TxLog) Query(f domain.TransactionFilter) []domain.Transaction {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(t.entries))
	for _, e := range t.entries {
		if f.Matches(e) {
			result = append(result, *e)
		}
	}
	return result
}

// Get returns a copy of a single entry by id.
func (t *TxLog) Get(id string) (domain.Transaction, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if e.ID == id {
			return *e, true
		}
	}
	return domain.Transaction{}, false
}

// SetPnL records the realized profit or loss on an entry.
func (t *TxLog) SetPnL(id string, pnl decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.ID == id {
			p := pnl
			e.PnL = &p
			return true
		}
	}
	return false
}

// Start begins the periodic settlement sweep.
func (t *TxLog) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Transaction sweep stopped")
				return
			case now := <-ticker.C:
				t.sweep(now)
			}
		}
	}()
}

// Stop stops the sweep and waits for it to exit.
func (t *TxLog) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.wg.Wait()
	}
}

// sweep advances time-based settlement states. Callbacks fire outside the
// lock so handlers can call back into the log.
func (t *TxLog) sweep(now time.Time) {
	var completed, closed []*domain.Transaction

	t.mu.Lock()
	for _, e := range t.entries {
		switch e.Status {
		case domain.TxStatusInProgress:
			if e.Duration > 0 && !now.Before(e.Date.Add(e.Duration)) {
				e.Status = domain.TxStatusCompleted
				e.CompletedAt = now
				completed = append(completed, e)
			}
		case domain.TxStatusCompleted:
			// Entries recorded as Completed at creation carry no
			// completion timestamp; their date starts the grace clock.
			ref := e.CompletedAt
			if ref.IsZero() {
				ref = e.Date
			}
			if !now.Before(ref.Add(t.closeGrace)) {
				e.Status = domain.TxStatusClosed
				closed = append(closed, e)
			}
		}
	}
	t.mu.Unlock()

	for _, e := range completed {
		slog.Info("Transaction completed",
			slog.String("id", e.ID),
			slog.String("type", string(e.Type)),
		)
		if t.onCompleted != nil {
			t.onCompleted(e)
		}
	}
	for _, e := range closed {
		if t.onClosed != nil {
			t.onClosed(e)
		}
	}
}
