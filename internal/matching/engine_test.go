package matching

import (
	"testing"
	"time"

	"tradingcore/internal/config"
	"tradingcore/internal/domain"
)

func TestUnrealizedPnL(t *testing.T) {
	buy := domain.OpenTrade{Side: domain.SideBuy, Quantity: 2, EntryPrice: 100}
	if got := unrealizedPnL(buy, 110, 1); got != 20 {
		t.Errorf("unrealizedPnL(buy, tickValue=1) = %v, want 20", got)
	}
	sell := domain.OpenTrade{Side: domain.SideSell, Quantity: 2, EntryPrice: 100}
	if got := unrealizedPnL(sell, 90, 1); got != 20 {
		t.Errorf("unrealizedPnL(sell, tickValue=1) = %v, want 20", got)
	}
	// A non-unit tickValue must scale the result (spec §4.D step 2).
	if got := unrealizedPnL(buy, 110, 10); got != 200 {
		t.Errorf("unrealizedPnL(buy, tickValue=10) = %v, want 200", got)
	}
}

func TestLimitCrosses(t *testing.T) {
	buyLimit := domain.PendingOrder{Type: domain.OrderLimit, Side: domain.SideBuy, LimitPrice: 100}
	if !limitCrosses(buyLimit, 99) {
		t.Error("buy limit should cross when price <= limit")
	}
	if limitCrosses(buyLimit, 101) {
		t.Error("buy limit should not cross when price > limit")
	}
	market := domain.PendingOrder{Type: domain.OrderMarket}
	if limitCrosses(market, 50) {
		t.Error("market orders never cross a limit")
	}
}

func TestSLTPHit(t *testing.T) {
	sl := 29500.0
	tp := 30500.0
	buy := domain.OpenTrade{Side: domain.SideBuy, StopLoss: &sl, TakeProfit: &tp}

	if reason, hit := slTPHit(buy, 29400); !hit || reason != domain.ExitSLHit {
		t.Errorf("expected SL Hit, got %v/%v", reason, hit)
	}
	if reason, hit := slTPHit(buy, 30600); !hit || reason != domain.ExitTPHit {
		t.Errorf("expected TP Hit, got %v/%v", reason, hit)
	}
	if _, hit := slTPHit(buy, 30000); hit {
		t.Error("expected no exit between SL and TP")
	}
}

func TestApplySpreadAndSlippage(t *testing.T) {
	contract := domain.Contract{Spread: 5}

	// Market orders pass the same value for basePrice/prevPrice (zero move),
	// so only the full spread applies — this reproduces scenario S1:
	// fill = 30010 + 5 = 30015.
	if got := applySpreadAndSlippage(30010, 30010, contract, domain.SideBuy); got != 30015 {
		t.Errorf("applySpreadAndSlippage(buy, zero move) = %v, want 30015", got)
	}

	// A real tick-to-tick move adds capped, adversarial slippage on top of
	// the full spread: slippage = min(|move| * 0.2, 5).
	got := applySpreadAndSlippage(30010, 30000, contract, domain.SideBuy)
	want := 30010.0 + 5 + 2 // move=10, slippage=min(10*0.2,5)=2
	if got != want {
		t.Errorf("applySpreadAndSlippage(buy, move=10) = %v, want %v", got, want)
	}

	// Sells always receive less, even when the tick moved downward — the
	// adjustment is adversarial, not signed by the direction of the move.
	got = applySpreadAndSlippage(29990, 30000, contract, domain.SideSell)
	want = 29990.0 - 5 - 2 // |move|=10, slippage=min(10*0.2,5)=2
	if got != want {
		t.Errorf("applySpreadAndSlippage(sell, downward move) = %v, want %v", got, want)
	}

	// Slippage is capped at defaultMaxSlippage regardless of how large the move is.
	got = applySpreadAndSlippage(30100, 30000, contract, domain.SideBuy)
	want = 30100.0 + 5 + 5 // move=100, slippage=min(100*0.2,5)=5 (capped)
	if got != want {
		t.Errorf("applySpreadAndSlippage(buy, capped slippage) = %v, want %v", got, want)
	}
}

func TestRoundToStep(t *testing.T) {
	if got := roundToStep(0.567, 0.01); got != 0.57 {
		t.Errorf("roundToStep() = %v, want 0.57", got)
	}
	if got := roundToStep(1.5, 0); got != 1.5 {
		t.Errorf("roundToStep with zero step should pass through, got %v", got)
	}
}

func TestIsDuplicate(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &Engine{
		cfg:    &config.Config{DuplicateOrderMs: 500 * time.Millisecond},
		dedupe: make(map[string]time.Time),
		now:    func() time.Time { return fixedNow },
	}
	req := PlaceOrderRequest{AccountID: "A1", Symbol: "EURUSD", Side: domain.SideBuy, Quantity: 1, Type: domain.OrderMarket}

	if e.isDuplicate(req) {
		t.Fatal("first submission should not be a duplicate")
	}
	if !e.isDuplicate(req) {
		t.Fatal("immediate resubmission should be suppressed")
	}

	e.now = func() time.Time { return fixedNow.Add(600 * time.Millisecond) }
	if e.isDuplicate(req) {
		t.Fatal("submission after the window should not be suppressed")
	}
}
