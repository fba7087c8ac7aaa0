// Package matching implements the Matching Engine (spec §4.D): order
// placement, the five-step tick-processing pipeline, fills (with
// artificial execution latency, spread/slippage and partial-fill
// cascades), and trade closes. Grounded on the teacher's
// execution_service.go — ExecuteTrade's duplicate-order suppression,
// its per-order latency hold and its GhostSession-style critical
// section around a single position's lifecycle — generalized from one
// whale-copy account to many prop-firm accounts.
package matching

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradingcore/internal/config"
	"tradingcore/internal/domain"
	"tradingcore/internal/eventbus"
	"tradingcore/internal/instrument"
	"tradingcore/internal/kv"
	"tradingcore/internal/metrics"
	"tradingcore/internal/risk"
	"tradingcore/internal/state"
	"tradingcore/internal/store"
)

// RejectCode mirrors risk.Code plus the matching-local rejection reasons.
type RejectCode string

const (
	RejectNone           RejectCode = ""
	RejectDuplicateOrder RejectCode = "DUPLICATE_ORDER"
	RejectStalePrice     RejectCode = "STALE_PRICE"
	RejectIdempotent     RejectCode = "IDEMPOTENT_REPLAY"
)

// defaultMaxSlippage is the maxSlippage cap (spec §4.D: "maxSlippage ?? 5").
const defaultMaxSlippage = 5.0

// PlaceOrderRequest is the matching engine's placeOrder input (spec §4.D).
type PlaceOrderRequest struct {
	AccountID      string
	UserID         string
	Symbol         string
	Side           domain.Side
	Quantity       float64
	Type           domain.OrderType
	LimitPrice     float64
	StopLoss       *float64
	TakeProfit     *float64
	IdempotencyKey string
}

// PlaceOrderResult reports the outcome to the caller (spec §4.C contract).
type PlaceOrderResult struct {
	OrderID    string
	Status     domain.OrderStatus
	RejectCode RejectCode
	RiskCode   risk.Code
}

// Engine is the matching engine. It depends on risk directly for
// pre-trade and post-fill checks; risk in turn never imports matching —
// it is handed this engine's CloseTrade as a function value at boot
// (spec §9).
type Engine struct {
	cfg         *config.Config
	state       *state.State
	instruments *instrument.Registry
	risk        *risk.Engine
	store       *store.Store
	kv          *kv.Store
	bus         *eventbus.Bus

	acctLocks sync.Map // accountID -> *sync.Mutex
	dedupeMu  sync.Mutex
	dedupe    map[string]time.Time // "{account}|{symbol}|{side}|{qty}|{type}" -> seen-at

	lastPriceMu sync.Mutex
	lastPrice   map[string]float64

	now func() time.Time
}

func New(cfg *config.Config, st *state.State, instruments *instrument.Registry, riskEngine *risk.Engine, s *store.Store, kvStore *kv.Store, bus *eventbus.Bus) *Engine {
	return &Engine{
		cfg: cfg, state: st, instruments: instruments, risk: riskEngine,
		store: s, kv: kvStore, bus: bus,
		dedupe:    make(map[string]time.Time),
		lastPrice: make(map[string]float64),
		now:       time.Now,
	}
}

// swapLastPrice records symbol's new mark and returns the previous one
// (or the new price itself on the first tick, so slippage is zero then).
func (e *Engine) swapLastPrice(symbol string, price float64) float64 {
	e.lastPriceMu.Lock()
	defer e.lastPriceMu.Unlock()
	prev, ok := e.lastPrice[symbol]
	e.lastPrice[symbol] = price
	if !ok {
		return price
	}
	return prev
}

func (e *Engine) acctLock(accountID string) *sync.Mutex {
	v, _ := e.acctLocks.LoadOrStore(accountID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// PlaceOrder implements spec §4.D placeOrder: normalize the symbol,
// claim the idempotency key, suppress duplicate submissions, run the
// pre-trade risk gate, then either route to an immediate fill (market)
// or park as a pending limit order.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) PlaceOrderResult {
	req.Symbol = e.instruments.NormalizeSymbol(req.Symbol)

	orderID := uuid.NewString()
	if req.IdempotencyKey != "" {
		existing, already, err := e.kv.ReserveIdempotencyKey(ctx, req.IdempotencyKey, orderID, 300*time.Second)
		if err != nil {
			log.Printf("matching: idempotency reservation failed: %v", err)
		} else if already {
			return PlaceOrderResult{OrderID: existing, Status: domain.OrderPending, RejectCode: RejectIdempotent}
		}
	}

	if e.isDuplicate(req) {
		metrics.OrderRejects.WithLabelValues(string(RejectDuplicateOrder)).Inc()
		return PlaceOrderResult{RejectCode: RejectDuplicateOrder}
	}

	if code := e.risk.PreTradeRiskCheck(ctx, req.AccountID, req.Symbol, req.Quantity, req.Side); code != risk.CodeNone {
		metrics.OrderRejects.WithLabelValues(string(code)).Inc()
		return PlaceOrderResult{RiskCode: code}
	}

	order := domain.PendingOrder{
		ID: orderID, AccountID: req.AccountID, UserID: req.UserID, Symbol: req.Symbol,
		Side: req.Side, Quantity: req.Quantity, Type: req.Type, LimitPrice: req.LimitPrice,
		StopLoss: req.StopLoss, TakeProfit: req.TakeProfit, IdempotencyKey: req.IdempotencyKey,
		CreatedAt: e.now(), Status: domain.OrderPending,
	}

	if err := e.store.InsertOrder(ctx, order, domain.OrderPending, nil, ""); err != nil {
		log.Printf("matching: order persist failed: %v", err)
	}

	if req.Type == domain.OrderMarket {
		price, ok := e.markPrice(ctx, req.Symbol)
		if !ok {
			metrics.OrderRejects.WithLabelValues(string(RejectStalePrice)).Inc()
			_ = e.store.UpdateOrderStatus(ctx, order.ID, domain.OrderRejected, string(RejectStalePrice))
			return PlaceOrderResult{OrderID: order.ID, Status: domain.OrderRejected, RejectCode: RejectStalePrice}
		}
		e.fillOrder(ctx, order, price, price)
		return PlaceOrderResult{OrderID: order.ID, Status: domain.OrderFilled}
	}

	e.state.AddPendingOrder(order)
	e.bus.Publish(eventbus.TopicOrderEvents, orderEvent{Type: eventbus.OrderEventPending, Order: order})
	return PlaceOrderResult{OrderID: order.ID, Status: domain.OrderPending}
}

type orderEvent struct {
	Type  eventbus.OrderEventType
	Order domain.PendingOrder
}

func (e *Engine) isDuplicate(req PlaceOrderRequest) bool {
	key := fmt.Sprintf("%s|%s|%s|%g|%s", req.AccountID, req.Symbol, req.Side, req.Quantity, req.Type)
	now := e.now()
	window := e.cfg.DuplicateOrderMs

	e.dedupeMu.Lock()
	defer e.dedupeMu.Unlock()
	if seenAt, ok := e.dedupe[key]; ok && now.Sub(seenAt) < window {
		return true
	}
	e.dedupe[key] = now
	for k, t := range e.dedupe {
		if now.Sub(t) > window {
			delete(e.dedupe, k)
		}
	}
	return false
}

// markPrice reads the symbol's mark, converted to INR when the
// contract declares ConvertToINR (spec §4.D: "convertToINR / USDINR
// multiplier"). A missing or stale cached tick returns false; no REST
// quote is fetched in its place.
func (e *Engine) markPrice(ctx context.Context, symbol string) (float64, bool) {
	price, tsMs, ok, err := e.kv.GetLatestPrice(ctx, symbol)
	if err != nil {
		log.Printf("matching: latest price lookup failed: %v", err)
	}
	stale := !ok || e.now().UnixMilli()-tsMs > e.cfg.PriceStaleMs.Milliseconds()
	if stale {
		return 0, false
	}
	if contract, ok := e.instruments.GetContract(symbol); ok && contract.ConvertToINR {
		price *= e.cfg.USDINRDefault
	}
	return price, true
}

// ProcessTick implements spec §4.D processTick's fixed five-step
// ordering for every accepted tick.
func (e *Engine) ProcessTick(ctx context.Context, symbol string, price float64) {
	metrics.Ticks.WithLabelValues(symbol).Inc()
	prevPrice := e.swapLastPrice(symbol, price)

	// Step 1+2: refresh unrealized PnL for every open position on this
	// symbol and fan out account_upnl.
	tickValue := e.tickValueFor(symbol)
	for _, t := range e.state.GetOpenTradesBySymbol(symbol) {
		upnl := unrealizedPnL(t, price, tickValue)
		e.bus.Publish(eventbus.TopicAccountUPnL, accountUPnL{AccountID: t.AccountID, TradeID: t.ID, Symbol: symbol, UPnL: upnl})
	}

	// Step 3: scan pending limit orders for this symbol.
	for _, order := range e.state.GetPendingOrdersBySymbol(symbol) {
		if limitCrosses(order, price) {
			e.state.RemovePendingOrder(order.ID)
			e.fillOrder(ctx, order, price, prevPrice)
		}
	}

	// Step 4: scan open positions on this symbol for SL/TP, honoring
	// the grace window after entry (spec §4.D, SLTP_GRACE_MS).
	for _, t := range e.state.GetOpenTradesBySymbol(symbol) {
		if e.now().Sub(t.TimeOpened) < e.cfg.SLTPGraceMs {
			continue
		}
		if reason, hit := slTPHit(t, price); hit {
			if _, err := e.CloseTrade(ctx, t, price, reason); err != nil {
				log.Printf("matching: sl/tp close failed for trade %s: %v", t.ID, err)
			}
		}
	}

	// Step 5: hand off to the risk engine's per-tick account evaluator.
	e.risk.EvaluateOpenPositions(ctx, symbol, price)
}

type accountUPnL struct {
	AccountID string
	TradeID   string
	Symbol    string
	UPnL      float64
}

// unrealizedPnL computes (price - entry_price) * quantity * tickValue for
// buys, negated for sells (spec §4.D step 2 and closeTrade step 1).
func unrealizedPnL(t domain.OpenTrade, price, tickValue float64) float64 {
	if t.Side == domain.SideBuy {
		return (price - t.EntryPrice) * t.Quantity * tickValue
	}
	return (t.EntryPrice - price) * t.Quantity * tickValue
}

// tickValueFor looks up the contract's tick value, defaulting to 1 when
// the symbol has since dropped out of the registry.
func (e *Engine) tickValueFor(symbol string) float64 {
	if contract, ok := e.instruments.GetContract(symbol); ok && contract.TickValue != 0 {
		return contract.TickValue
	}
	return 1
}

func limitCrosses(o domain.PendingOrder, price float64) bool {
	if o.Type != domain.OrderLimit {
		return false
	}
	if o.Side == domain.SideBuy {
		return price <= o.LimitPrice
	}
	return price >= o.LimitPrice
}

func slTPHit(t domain.OpenTrade, price float64) (domain.ExitReason, bool) {
	if t.Side == domain.SideBuy {
		if t.StopLoss != nil && price <= *t.StopLoss {
			return domain.ExitSLHit, true
		}
		if t.TakeProfit != nil && price >= *t.TakeProfit {
			return domain.ExitTPHit, true
		}
		return "", false
	}
	if t.StopLoss != nil && price >= *t.StopLoss {
		return domain.ExitSLHit, true
	}
	if t.TakeProfit != nil && price <= *t.TakeProfit {
		return domain.ExitTPHit, true
	}
	return "", false
}

// fillOrder implements spec §4.D fillOrder: per-account serialization,
// the artificial execution-latency hold, spread/slippage against the
// reference price, the post-latency immediate risk re-check, optional
// partial-fill cascade, and trade persistence/emission. Grounded on
// execution_service.go's GhostSession critical section, which also
// holds a single mutex across a delay before committing a fill.
func (e *Engine) fillOrder(ctx context.Context, order domain.PendingOrder, basePrice, prevPrice float64) {
	lock := e.acctLock(order.AccountID)
	lock.Lock()
	defer lock.Unlock()

	select {
	case <-time.After(e.cfg.ExecutionLatencyMs):
	case <-ctx.Done():
		return
	}

	contract, ok := e.instruments.GetContract(order.Symbol)
	if !ok {
		e.rejectOrder(ctx, order, "SYMBOL_NOT_SUPPORTED")
		return
	}

	fillPrice := applySpreadAndSlippage(basePrice, prevPrice, contract, order.Side)
	quantity := order.Quantity
	partial := false

	if e.cfg.EnablePartialFills && contract.AllowPartialFills && contract.PartialFillRatio > 0 && contract.PartialFillRatio < 1 {
		quantity = roundToStep(order.Quantity*contract.PartialFillRatio, contract.QtyStep)
		if quantity > 0 && quantity < order.Quantity {
			partial = true
		} else {
			quantity = order.Quantity
		}
	}

	acct, ok := e.state.GetAccount(order.AccountID)
	if !ok {
		e.rejectOrder(ctx, order, "ACCOUNT_NOT_FOUND")
		return
	}
	commission := contract.Commission * quantity
	hypotheticalBalance := acct.CurrentBalance - commission
	if code := e.risk.EvaluateImmediateRisk(ctx, order.AccountID, hypotheticalBalance); code != risk.CodeNone {
		e.rejectOrder(ctx, order, string(code))
		return
	}

	trade := domain.OpenTrade{
		ID: uuid.NewString(), AccountID: order.AccountID, Symbol: order.Symbol,
		Side: order.Side, Quantity: quantity, EntryPrice: fillPrice,
		StopLoss: order.StopLoss, TakeProfit: order.TakeProfit,
		TimeOpened: e.now(), PnL: -commission, OrderID: order.ID,
	}

	acct.CurrentBalance = hypotheticalBalance
	e.state.SetAccount(acct)
	e.state.AddOpenTrade(trade)
	metrics.OpenTrades.Inc()

	if err := e.store.InsertOpenTrade(ctx, trade); err != nil {
		log.Printf("matching: trade persist failed: %v", err)
	}
	if err := e.store.UpdateOrderStatus(ctx, order.ID, domain.OrderFilled, ""); err != nil {
		log.Printf("matching: order status update failed: %v", err)
	}

	metrics.Fills.WithLabelValues(string(order.Side), string(order.Type)).Inc()
	if partial {
		metrics.PartialFills.Inc()
		residual := order.Quantity - quantity
		if residual >= contract.MinQty {
			next := order
			next.ID = uuid.NewString()
			next.Quantity = residual
			e.state.AddPendingOrder(next)
		}
	}

	e.bus.Publish(eventbus.TopicTradeEvents, tradeEvent{Type: eventbus.TradeOpened, Trade: trade})
	e.bus.Publish(eventbus.TopicOrderEvents, orderEvent{Type: eventbus.OrderEventFilled, Order: order})
}

type tradeEvent struct {
	Type  eventbus.TradeEventType
	Trade domain.OpenTrade
}

func (e *Engine) rejectOrder(ctx context.Context, order domain.PendingOrder, reason string) {
	if err := e.store.UpdateOrderStatus(ctx, order.ID, domain.OrderRejected, reason); err != nil {
		log.Printf("matching: reject persist failed: %v", err)
	}
	metrics.OrderRejects.WithLabelValues(reason).Inc()
	e.bus.Publish(eventbus.TopicOrderEvents, orderEvent{Type: eventbus.OrderEventRejected, Order: order})
}

// applySpreadAndSlippage widens the reference price by the contract's
// full declared spread, then applies a slippage component proportional
// to the tick's own move magnitude since the previous mark, capped at
// defaultMaxSlippage (spec §4.D: "spread and slippage are applied on
// top of the tick price that triggered the fill, never on the order's
// original limit price"). Applied adversarially regardless of move
// direction: buys always pay spread+slippage, sells always receive less.
func applySpreadAndSlippage(basePrice, prevPrice float64, c domain.Contract, side domain.Side) float64 {
	slippage := math.Abs(basePrice-prevPrice) * 0.2
	if slippage > defaultMaxSlippage {
		slippage = defaultMaxSlippage
	}
	if side == domain.SideBuy {
		return basePrice + c.Spread + slippage
	}
	return basePrice - c.Spread - slippage
}

func roundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	steps := float64(int64(qty/step + 0.5))
	// Round away the binary noise of steps*step (57*0.01 is 0.5700000000000001).
	return math.Round(steps*step*1e8) / 1e8
}

// CloseTrade implements spec §4.D closeTrade and is also the function
// value injected into the risk engine at boot (spec §9) so breach
// liquidation and daily-reset force-closes share this exact path.
func (e *Engine) CloseTrade(ctx context.Context, trade domain.OpenTrade, closePrice float64, reason domain.ExitReason) (domain.ClosedTrade, error) {
	lock := e.acctLock(trade.AccountID)
	lock.Lock()
	defer lock.Unlock()

	grossPnL := unrealizedPnL(trade, closePrice, e.tickValueFor(trade.Symbol))
	pnlDelta := grossPnL + trade.PnL // PnL already carries -commission
	closed := domain.ClosedTrade{OpenTrade: trade, ExitPrice: closePrice, TimeClosed: e.now(), ExitReason: reason}
	closed.PnL = pnlDelta

	e.state.RemoveOpenTrade(trade.ID)
	metrics.OpenTrades.Dec()

	acct, ok := e.state.GetAccount(trade.AccountID)
	if ok {
		// The entry commission was already debited from the balance at
		// fill time, so only the price move is credited here.
		acct.CurrentBalance += grossPnL
		acct.TotalProfit += pnlDelta
		// bestDay tracks the day's cumulative realized PnL, not any single
		// trade's delta (spec §4.D closeTrade step 4); same formula as
		// risk.sessionRealizedPnL.
		if dayRealized := acct.CurrentBalance - acct.StartOfDayEquity; dayRealized > acct.BestDayProfit {
			acct.BestDayProfit = dayRealized
		}
		e.state.SetAccount(acct)
		if err := e.store.UpsertAccount(ctx, acct); err != nil {
			log.Printf("matching: account persist failed on close: %v", err)
		}
	}

	if err := e.store.CloseTrade(ctx, closed); err != nil {
		return closed, fmt.Errorf("matching: close trade persist: %w", err)
	}

	metrics.TradeCloses.WithLabelValues(string(reason)).Inc()
	e.bus.Publish(eventbus.TopicTradeEvents, tradeEvent{Type: eventbus.TradeClosed, Trade: trade})
	return closed, nil
}
