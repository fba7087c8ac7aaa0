// Package risk implements the Risk Engine (spec §4.E): the pre-trade
// gate, the post-fill immediate check, the per-tick account evaluator,
// breach liquidation, and the consistency/profit-target state machine.
//
// Per spec §9 this package never imports the matching engine — it
// receives closeTrade only as an injected function value at startup,
// which is how the source's trade-state/matching/risk import cycle is
// broken in an idiomatic Go layout.
package risk

import (
	"context"
	"fmt"
	"log"
	"time"

	"tradingcore/internal/domain"
	"tradingcore/internal/eventbus"
	"tradingcore/internal/instrument"
	"tradingcore/internal/metrics"
	"tradingcore/internal/notify"
	"tradingcore/internal/state"
)

// Code is the risk/validation error taxonomy (spec §7).
type Code string

const (
	CodeNone               Code = ""
	CodeAccountNotFound    Code = "ACCOUNT_NOT_FOUND"
	CodeAccountInactive    Code = "ACCOUNT_INACTIVE"
	CodeSymbolNotSupported Code = "SYMBOL_NOT_SUPPORTED"
	CodeInvalidLotSize     Code = "INVALID_LOT_SIZE"
	CodeMaxLotSize         Code = "MAX_LOT_SIZE"
	CodeMarketClosed       Code = "MARKET_CLOSED"
	CodeDailyLossLimit     Code = "DAILY_LOSS_LIMIT"
	CodeMaxLoss            Code = "MAX_LOSS"
	CodeTrailingDrawdown   Code = "TRAILING_DRAWDOWN"
	CodeMaxIntradayLoss    Code = "MAX_INTRADAY_LOSS"
	CodeRiskEngineError    Code = "RISK_ENGINE_ERROR"
)

// AuditStore is the subset of the relational/KV store the risk engine audits to.
type AuditStore interface {
	AppendTradeAudit(ctx context.Context, ev domain.AuditEvent) error
	UpsertAccount(ctx context.Context, a domain.Account) error
}

// CloseTradeFunc is the function value injected by the matching engine
// at startup (spec §9) so risk never imports matching directly.
type CloseTradeFunc func(ctx context.Context, trade domain.OpenTrade, closePrice float64, reason domain.ExitReason) (domain.ClosedTrade, error)

type Engine struct {
	state       *state.State
	instruments *instrument.Registry
	audit       AuditStore
	bus         *eventbus.Bus
	notifier    *notify.Notifier
	closeTrade  CloseTradeFunc

	now func() time.Time
}

func New(st *state.State, instruments *instrument.Registry, audit AuditStore, bus *eventbus.Bus, notifier *notify.Notifier, closeTrade CloseTradeFunc) *Engine {
	return &Engine{
		state: st, instruments: instruments, audit: audit, bus: bus,
		notifier: notifier, closeTrade: closeTrade, now: time.Now,
	}
}

// PreTradeRiskCheck is pure over a fresh account fetch + instrument
// metadata — it never mutates state (spec §4.E).
func (e *Engine) PreTradeRiskCheck(ctx context.Context, accountID, symbol string, quantity float64, side domain.Side) Code {
	acct, ok := e.state.GetAccount(accountID)
	if !ok {
		return CodeAccountNotFound
	}
	if acct.Status != domain.AccountActive {
		return CodeAccountInactive
	}
	contract, ok := e.instruments.GetContract(symbol)
	if !ok {
		return CodeSymbolNotSupported
	}
	if code := checkLotSize(contract, acct.Tier, quantity); code != CodeNone {
		return code
	}
	if !e.instruments.IsWithinTradingHours(symbol, e.now()) {
		return CodeMarketClosed
	}
	if sessionRealizedPnL(acct) <= -acct.DailyLossLimit {
		return CodeDailyLossLimit
	}
	return CodeNone
}

func checkLotSize(c domain.Contract, tier domain.Tier, quantity float64) Code {
	if quantity < c.MinQty {
		return CodeInvalidLotSize
	}
	if !isMultiple(quantity, c.QtyStep) {
		return CodeInvalidLotSize
	}
	if max, ok := c.MaxLots[tier]; ok && max > 0 && quantity > max {
		return CodeMaxLotSize
	}
	return CodeNone
}

func isMultiple(qty, step float64) bool {
	if step <= 0 {
		return true
	}
	ratio := qty / step
	rounded := float64(int64(ratio + 0.5))
	return abs(ratio-rounded) < 1e-6
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// sessionRealizedPnL approximates the day's realized PnL from the
// account's running balance delta against its start-of-day equity.
func sessionRealizedPnL(a domain.Account) float64 {
	return a.CurrentBalance - a.StartOfDayEquity
}

// EvaluateImmediateRisk is the post-fill immediate check (spec §4.E):
// same account fetch, plus max-loss and trailing-DD tests against the
// hypothetical post-fill balance. Invoked once after latency, before
// the trade is written.
func (e *Engine) EvaluateImmediateRisk(ctx context.Context, accountID string, hypotheticalBalance float64) Code {
	acct, ok := e.state.GetAccount(accountID)
	if !ok {
		return CodeAccountNotFound
	}
	if acct.Status != domain.AccountActive {
		return CodeAccountInactive
	}
	if hypotheticalBalance <= acct.StartBalance-acct.MaxLoss {
		return CodeMaxLoss
	}
	floor := trailingFloor(acct)
	if hypotheticalBalance <= floor {
		return CodeTrailingDrawdown
	}
	return CodeNone
}

// trailingFloor implements the trailing-drawdown math of spec §4.E:
// while LIVE, the floor tracks max(start-trail, peak-trail); once
// FROZEN (post-pass), the peak no longer advances.
func trailingFloor(a domain.Account) float64 {
	peak := a.PeakBalance
	if peak < a.StartBalance {
		peak = a.StartBalance
	}
	if a.TrailingDDMode == domain.TrailingFrozen {
		return peak - a.TrailDrawdown
	}
	floorFromStart := a.StartBalance - a.TrailDrawdown
	floorFromPeak := peak - a.TrailDrawdown
	if floorFromPeak > floorFromStart {
		return floorFromPeak
	}
	return floorFromStart
}

// EvaluateOpenPositions is the per-tick evaluator (spec §4.E rule
// matrix): static max loss, daily loss limit, max intraday loss,
// trailing drawdown, consistency and profit-target transitions.
func (e *Engine) EvaluateOpenPositions(ctx context.Context, symbol string, price float64) {
	for _, acct := range e.state.GetAccounts() {
		if acct.Status != domain.AccountActive {
			continue
		}
		e.advancePeak(&acct)

		switch {
		case acct.CurrentBalance <= acct.StartBalance-acct.MaxLoss:
			e.breach(ctx, acct, domain.ExitMaxLoss, symbol, price)
			continue
		case sessionRealizedPnL(acct) <= -acct.DailyLossLimit:
			e.breach(ctx, acct, domain.ExitDailyLossLimit, symbol, price)
			continue
		case acct.StartOfDayEquity-acct.CurrentBalance >= acct.MaxIntradayLoss && acct.MaxIntradayLoss > 0:
			e.breach(ctx, acct, domain.ExitMaxIntradayLoss, symbol, price)
			continue
		case acct.CurrentBalance <= trailingFloor(acct):
			e.breach(ctx, acct, domain.ExitTrailingDrawdown, symbol, price)
			continue
		}

		changed := e.applyConsistencyAndTarget(&acct)
		if changed {
			e.state.SetAccount(acct)
			_ = e.audit.UpsertAccount(ctx, acct)
		}
	}
}

func (e *Engine) advancePeak(acct *domain.Account) {
	if acct.TrailingDDMode != domain.TrailingLive {
		return
	}
	if acct.CurrentBalance > acct.PeakBalance {
		acct.PeakBalance = acct.CurrentBalance
		e.state.SetAccount(*acct)
	}
}

func (e *Engine) applyConsistencyAndTarget(acct *domain.Account) bool {
	changed := false
	if acct.ProfitTarget > 0 && acct.BestDayProfit > 0.5*acct.ProfitTarget && !acct.ConsistencyFlag {
		acct.ConsistencyFlag = true
		changed = true
		e.auditEvent(context.Background(), "CONSISTENCY_FLAGGED", acct)
	}
	if acct.ProfitTarget > 0 && acct.TotalProfit >= acct.ProfitTarget && !acct.ConsistencyFlag && acct.Status == domain.AccountActive {
		acct.Status = domain.AccountPassed
		acct.TrailingDDMode = domain.TrailingFrozen
		changed = true
		e.auditEvent(context.Background(), "ACCOUNT_PASSED", acct)
		e.notifier.Alert(fmt.Sprintf("account %s PASSED (total_profit=%.2f)", acct.ID, acct.TotalProfit))
	}
	return changed
}

func (e *Engine) auditEvent(ctx context.Context, event string, acct domain.Account) {
	ev := domain.AuditEvent{Event: event, CreatedAt: e.now(), Payload: map[string]any{
		"account_id": acct.ID, "status": acct.Status, "balance": acct.CurrentBalance,
	}}
	if err := e.audit.AppendTradeAudit(ctx, ev); err != nil {
		log.Printf("risk: audit write failed: %v", err)
	}
}

// breach implements handleBreach (spec §4.E): update the account row
// with the new status/reason before closing positions, then close
// every open trade of the account driven independently of the tick
// that caused the breach (no recursion into processTick).
func (e *Engine) breach(ctx context.Context, acct domain.Account, reason domain.ExitReason, tickSymbol string, tickPrice float64) {
	acct.Status = domain.AccountBlown
	acct.BlownReason = string(reason)
	e.state.SetAccount(acct)
	if err := e.audit.UpsertAccount(ctx, acct); err != nil {
		log.Printf("risk: failed to persist breach status: %v", err)
	}
	e.auditEvent(ctx, "ACCOUNT_BLOWN_"+string(reason), acct)
	metrics.AccountBreaches.WithLabelValues(string(reason)).Inc()
	e.notifier.Alert(fmt.Sprintf("ACCOUNT BLOWN: %s reason=%s balance=%.2f", acct.ID, reason, acct.CurrentBalance))

	for _, pos := range e.state.GetOpenTradesByAccount(acct.ID) {
		exitPx := applyLiquiditySlippage(pos.EntryPrice, tickPrice, pos.Side, liquidityGapFor(pos.Symbol, tickSymbol, tickPrice))
		if _, err := e.closeTrade(ctx, pos, exitPx, reason); err != nil {
			log.Printf("risk: breach close failed for trade %s: %v", pos.ID, err)
		}
	}
}

// liquidityGapFor is 0 when the trade's own symbol produced the
// breaching tick (we have a direct mark), and a small constant
// otherwise to reflect marking against a stale cross-symbol price.
func liquidityGapFor(tradeSymbol, tickSymbol string, tickPrice float64) float64 {
	if tradeSymbol == tickSymbol {
		return 0
	}
	return 1
}

// applyLiquiditySlippage is the breach-exit slippage model of spec
// §4.E ("used only by breach exits; normal SL/TP exits use the tick
// price directly"): slippage = entry*0.0001 + gap*0.25; buys add,
// sells subtract.
func applyLiquiditySlippage(entryPrice, tickPrice float64, side domain.Side, liquidityGap float64) float64 {
	slippage := entryPrice*0.0001 + liquidityGap*0.25
	if side == domain.SideBuy {
		return tickPrice + slippage
	}
	return tickPrice - slippage
}

// DailyReset is the scheduled collaborator of spec §4.E: for every
// account, optionally force-close all open trades with reason
// DAILY_RESET, then reset session_day and start_of_day_equity (the
// day's loss is measured from start_of_day_equity).
func (e *Engine) DailyReset(ctx context.Context, today string, markPrice func(symbol string) (float64, bool)) {
	for _, acct := range e.state.GetAccounts() {
		if acct.SessionDay == today {
			continue
		}
		if acct.ForceCloseOnReset {
			for _, pos := range e.state.GetOpenTradesByAccount(acct.ID) {
				price, ok := markPrice(pos.Symbol)
				if !ok {
					price = pos.EntryPrice
				}
				if _, err := e.closeTrade(ctx, pos, price, domain.ExitDailyReset); err != nil {
					log.Printf("risk: daily reset close failed for trade %s: %v", pos.ID, err)
				}
			}
		}
		acct.SessionDay = today
		acct.StartOfDayEquity = acct.CurrentBalance
		e.state.SetAccount(acct)
		if err := e.audit.UpsertAccount(ctx, acct); err != nil {
			log.Printf("risk: daily reset persist failed for %s: %v", acct.ID, err)
		}
		e.auditEvent(ctx, "DAILY_RESET", acct)
		e.notifier.Alert(fmt.Sprintf("DAILY RESET: %s session_day=%s balance=%.2f", acct.ID, today, acct.CurrentBalance))
	}
}
