package risk

import (
	"testing"

	"tradingcore/internal/domain"
)

func TestCheckLotSize(t *testing.T) {
	contract := domain.Contract{
		QtyStep: 0.01, MinQty: 0.01,
		MaxLots: map[domain.Tier]float64{domain.TierEvaluation: 5, domain.TierFunded: 10},
	}
	tests := []struct {
		name     string
		qty      float64
		tier     domain.Tier
		expected Code
	}{
		{"below min", 0.001, domain.TierEvaluation, CodeInvalidLotSize},
		{"not a step multiple", 0.015, domain.TierEvaluation, CodeInvalidLotSize},
		{"within eval cap", 2.5, domain.TierEvaluation, CodeNone},
		{"over eval cap", 6, domain.TierEvaluation, CodeMaxLotSize},
		{"over cap but funded", 6, domain.TierFunded, CodeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkLotSize(contract, tt.tier, tt.qty); got != tt.expected {
				t.Errorf("checkLotSize(%v) = %v, want %v", tt.qty, got, tt.expected)
			}
		})
	}
}

func TestTrailingFloor(t *testing.T) {
	tests := []struct {
		name string
		acct domain.Account
		want float64
	}{
		{
			name: "live, peak above start",
			acct: domain.Account{StartBalance: 100000, PeakBalance: 105000, TrailDrawdown: 3000, TrailingDDMode: domain.TrailingLive},
			want: 102000,
		},
		{
			name: "live, peak never advanced past start",
			acct: domain.Account{StartBalance: 100000, PeakBalance: 100000, TrailDrawdown: 3000, TrailingDDMode: domain.TrailingLive},
			want: 97000,
		},
		{
			name: "frozen, floor pinned to last peak",
			acct: domain.Account{StartBalance: 100000, PeakBalance: 108000, TrailDrawdown: 3000, TrailingDDMode: domain.TrailingFrozen},
			want: 105000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trailingFloor(tt.acct); got != tt.want {
				t.Errorf("trailingFloor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionRealizedPnL(t *testing.T) {
	acct := domain.Account{CurrentBalance: 49500, StartOfDayEquity: 50000}
	if got := sessionRealizedPnL(acct); got != -500 {
		t.Errorf("sessionRealizedPnL() = %v, want -500", got)
	}
}

func TestApplyLiquiditySlippage(t *testing.T) {
	// Buys add the slippage component to the tick price.
	got := applyLiquiditySlippage(30000, 29400, domain.SideBuy, 0)
	want := 29400 + 30000*0.0001
	if got != want {
		t.Errorf("applyLiquiditySlippage(buy) = %v, want %v", got, want)
	}

	// Sells subtract it.
	got = applyLiquiditySlippage(30000, 29400, domain.SideSell, 1)
	want = 29400 - 30000*0.0001 - 0.25
	if got != want {
		t.Errorf("applyLiquiditySlippage(sell) = %v, want %v", got, want)
	}
}

func TestIsMultiple(t *testing.T) {
	tests := []struct {
		qty, step float64
		want      bool
	}{
		{1.0, 0.01, true},
		{1.005, 0.01, false},
		{0, 0.01, true},
		{5, 0, true}, // zero step means no constraint
	}
	for _, tt := range tests {
		if got := isMultiple(tt.qty, tt.step); got != tt.want {
			t.Errorf("isMultiple(%v, %v) = %v, want %v", tt.qty, tt.step, got, tt.want)
		}
	}
}
