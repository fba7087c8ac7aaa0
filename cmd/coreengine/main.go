// Command coreengine boots the simulated trading execution core:
// config, stores, the instrument registry, the event bus, shared
// state, the notifier, the risk engine, the matching engine, the price
// hub and the thin HTTP/WS surface, in that order, torn down in reverse on
// SIGINT/SIGTERM. Grounded on the teacher's main() in main.go, which
// wires its own components sequentially before a single blocking
// http.ListenAndServe; this version adds an http.Server with
// Shutdown so in-flight trades settle before exit instead of being cut
// off mid-fill.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"tradingcore/internal/config"
	"tradingcore/internal/domain"
	"tradingcore/internal/eventbus"
	"tradingcore/internal/httpapi"
	"tradingcore/internal/instrument"
	"tradingcore/internal/kv"
	"tradingcore/internal/matching"
	"tradingcore/internal/notify"
	"tradingcore/internal/pricehub"
	"tradingcore/internal/risk"
	"tradingcore/internal/state"
	"tradingcore/internal/store"
)

// defaultContracts seeds the instrument registry before the relational
// store's first successful load and is merged under every reload, so
// listed instruments keep fallback metadata when a reload fails (spec
// §4.A fail-soft reload). A store that cannot be opened at boot is
// still fatal.
var defaultContracts = map[string]domain.Contract{
	"EURUSD": {
		Symbol: "EURUSD", QtyStep: 0.01, MinQty: 0.01, PriceKey: "EURUSD", Display: "EUR/USD",
		TickValue: 1, ConvertToINR: false,
		MaxLots:        map[domain.Tier]float64{domain.TierEvaluation: 5, domain.TierFunded: 10},
		TradingHours:   domain.TradingHours{StartHour: 0, EndHour: 0, Location: time.UTC},
		DailyLossLimit: 1000, Commission: 3.5, Spread: 0.0002,
	},
}

func main() {
	cfg := config.Load()

	log.Printf("coreengine: starting on port %d", cfg.Port)

	relStore, err := store.Open(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("coreengine: relational store: %v", err)
	}
	defer relStore.Close()

	kvStore, err := kv.Open(cfg.RedisURL)
	if err != nil {
		log.Fatalf("coreengine: kv store: %v", err)
	}
	defer kvStore.Close()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := instrument.New(relStore, defaultContracts, 10*time.Minute)
	registry.Start(rootCtx)

	bus := eventbus.New()
	sharedState := state.New(bus)

	notifier := notify.New(cfg.TelegramBotToken, cfg.TelegramChatID)

	// risk.Engine needs CloseTrade before matching.Engine exists; wire
	// it after construction via a forwarding closure captured by
	// reference so both singletons can be built in the documented
	// boot order without an import cycle (spec §9).
	var matchingEngine *matching.Engine
	closeTradeFn := func(ctx context.Context, trade domain.OpenTrade, price float64, reason domain.ExitReason) (domain.ClosedTrade, error) {
		return matchingEngine.CloseTrade(ctx, trade, price, reason)
	}
	riskEngine := risk.New(sharedState, registry, relStore, bus, notifier, closeTradeFn)

	matchingEngine = matching.New(cfg, sharedState, registry, riskEngine, relStore, kvStore, bus)

	priceHub := pricehub.New(cfg, registry, kvStore, bus, matchingEngine)
	broadcaster := priceHub.Broadcaster()
	defer broadcaster.Close()

	go func() {
		if err := priceHub.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Printf("coreengine: price hub stopped: %v", err)
		}
	}()

	go runDailyResetScheduler(rootCtx, riskEngine, kvStore)

	mux := httpapi.NewMux(matchingEngine, http.HandlerFunc(broadcaster.ServeHTTP))
	server := &http.Server{Addr: portAddr(cfg.Port), Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("coreengine: http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("coreengine: shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("coreengine: http shutdown: %v", err)
	}
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

// runDailyResetScheduler fires risk.DailyReset once per UTC calendar
// day (spec §4.E open question, resolved in SPEC_FULL.md §4: the
// ForceCloseOnReset account flag decides whether positions are closed
// or left running across the boundary).
func runDailyResetScheduler(ctx context.Context, riskEngine *risk.Engine, kvStore *kv.Store) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			today := time.Now().UTC().Format("2006-01-02")
			riskEngine.DailyReset(ctx, today, func(symbol string) (float64, bool) {
				price, _, ok, err := kvStore.GetLatestPrice(ctx, symbol)
				if err != nil {
					return 0, false
				}
				return price, ok
			})
		}
	}
}
