package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinvest/internal/app"
	"coinvest/internal/domain"
	"coinvest/internal/engine"
	"coinvest/internal/event"
	"coinvest/internal/infra"
	"coinvest/internal/infra/stream"
	"coinvest/internal/service"

	"github.com/shopspring/decimal"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize("configs/config.yaml"); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config
	store := bootstrap.Storage
	userID := cfg.Session.UserID

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Background Asset Sync (Simulating Loading Screen logic)
	go bootstrap.SyncAssets(ctx)

	// 5. Core services
	event.Warmup()

	retention := time.Duration(cfg.Trading.RetentionDays) * 24 * time.Hour
	closeGrace := time.Duration(cfg.Trading.CloseGraceSec) * time.Second
	sweepInterval := time.Duration(cfg.Trading.SweepIntervalMS) * time.Millisecond
	txlog := service.NewTxLog(retention, closeGrace, sweepInterval)

	portfolio := service.NewPortfolio(cfg.Trading.QuoteAsset, cfg.Trading.ValueEpsilon, cfg.Trading.HistoryPoints)

	ledger := domain.NewLedger()

	eng := engine.New(engine.Config{
		QuoteAsset: cfg.Trading.QuoteAsset,
		InboxSize:  1024,
		UserID:     userID,
	}, ledger, txlog, store)

	// 6. Session restore from persistence
	if err := store.PruneTransactions(userID, time.Now().Add(-retention)); err != nil {
		slog.Warn("Failed to prune stale transactions", slog.Any("error", err))
	}

	balances, err := store.LoadBalances(userID)
	if err != nil {
		slog.Error("❌ Failed to load balances", slog.Any("error", err))
		os.Exit(1)
	}
	if err := ledger.Restore(balances); err != nil {
		slog.Error("❌ Corrupt balance records", slog.Any("error", err))
		os.Exit(1)
	}

	open, closed, err := store.LoadOrders(userID)
	if err != nil {
		slog.Error("❌ Failed to load orders", slog.Any("error", err))
		os.Exit(1)
	}
	eng.RestoreOrders(open, closed)

	txs, err := store.LoadTransactions(userID, time.Now().Add(-retention))
	if err != nil {
		slog.Error("❌ Failed to load transactions", slog.Any("error", err))
		os.Exit(1)
	}
	txlog.Load(txs)
	eng.RestoreCommitments(txs)

	slog.Info("✅ Session restored",
		slog.Int("balances", len(balances)),
		slog.Int("open_orders", len(open)),
		slog.Int("transactions", len(txs)))

	// 7. Wiring: sweep completions and state changes feed back into the loop.
	// The settlement send blocks on a full inbox; dropping it would strand
	// the locked principal.
	txlog.SetOnCompleted(func(tx *domain.Transaction) {
		if err := eng.NotifySettled(ctx, tx.ID); err != nil {
			slog.Warn("Settlement signal abandoned on shutdown", slog.String("tx_id", tx.ID))
		}
	})
	txlog.SetOnClosed(func(tx *domain.Transaction) {
		if err := store.SaveTransaction(userID, tx); err != nil {
			slog.Error("Failed to persist closed transaction", slog.String("tx_id", tx.ID), slog.Any("error", err))
		}
	})
	eng.SetOnChange(func(balances map[string]domain.Balance, prices map[string]decimal.Decimal) {
		portfolio.UpdateBalances(balances)
		portfolio.UpdatePrices(prices)
	})

	// 8. Start the engine loop (single writer of the ledger)
	go eng.Run(ctx)
	slog.InfoContext(ctx, "✅ Order engine started")

	txlog.Start(ctx)
	defer txlog.Stop()

	// 9. Price feed (polling gateway)
	feed := infra.NewPriceFeed(cfg, cfg.Trading.QuoteAsset, func(prices map[string]decimal.Decimal, at time.Time, degraded bool) {
		if err := eng.ApplyPrices(ctx, prices, at, degraded); err != nil {
			slog.Warn("Failed to apply price snapshot", slog.Any("error", err))
		}
	})
	if err := feed.Start(ctx); err != nil {
		slog.Error("Failed to start price feed", slog.Any("error", err))
	}
	defer feed.Stop()

	// 10. Optional WebSocket stream (per-symbol ticks between polls)
	if cfg.Stream.Enabled {
		streamSym := make(map[string]string, len(cfg.Feed.Assets))
		for _, a := range cfg.Feed.Assets {
			if a.StreamSym != "" {
				streamSym[a.StreamSym] = a.Symbol
			}
		}
		worker := stream.NewWorker(cfg.Stream.WSURL, streamSym, eng.Inbox())
		if err := worker.Connect(ctx); err != nil {
			slog.Error("Failed to connect stream", slog.Any("error", err))
		}
		defer worker.Disconnect()
		slog.InfoContext(ctx, "✅ Stream worker started", slog.Int("symbols", len(streamSym)))
	}

	slog.InfoContext(ctx, "✨ Coinvest fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
