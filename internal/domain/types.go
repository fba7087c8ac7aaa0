// Package domain holds the data model shared by every core component:
// instruments, accounts, orders, trades and the small enums that tag
// their lifecycle. None of these types carry behavior — they are
// passed by value/pointer between instrument, state, matching and risk.
package domain

import "time"

type Tier string

const (
	TierEvaluation Tier = "evaluation"
	TierFunded     Tier = "funded"
)

type AccountStatus string

const (
	AccountActive     AccountStatus = "active"
	AccountPaused     AccountStatus = "paused"
	AccountPassed     AccountStatus = "passed"
	AccountBlown      AccountStatus = "blown"
	AccountSuspended  AccountStatus = "suspended"
)

type TrailingDDMode string

const (
	TrailingLive   TrailingDDMode = "LIVE"
	TrailingFrozen TrailingDDMode = "FROZEN"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderFilled   OrderStatus = "filled"
	OrderRejected OrderStatus = "rejected"
)

type ExitReason string

const (
	ExitSLHit             ExitReason = "SL Hit"
	ExitTPHit             ExitReason = "TP Hit"
	ExitDailyLossLimit    ExitReason = "DAILY_LOSS_LIMIT"
	ExitMaxLoss           ExitReason = "MAX_LOSS"
	ExitMaxIntradayLoss   ExitReason = "MAX_INTRADAY_LOSS"
	ExitTrailingDrawdown  ExitReason = "TRAILING_DRAWDOWN"
	ExitDailyReset        ExitReason = "DAILY_RESET"
	ExitManual            ExitReason = "MANUAL"
)

// TradingHours is a wrap-around window declared in a fixed time zone;
// StartHour > EndHour means the window spans midnight.
type TradingHours struct {
	StartHour int
	EndHour   int
	Location  *time.Location
}

// Contract is the per-symbol instrument metadata (spec §3, Instrument).
type Contract struct {
	Symbol            string // canonical, normalized
	QtyStep           float64
	MinQty            float64
	PriceKey          string
	Display           string
	TickValue         float64
	ConvertToINR      bool
	MaxLots           map[Tier]float64
	TradingHours      TradingHours
	DailyLossLimit    float64
	Commission        float64
	Spread            float64
	AllowPartialFills bool
	PartialFillRatio  float64
}

// Account is the authoritative prop-firm account record (spec §3, Account).
type Account struct {
	ID                 string
	Tier               Tier
	Status             AccountStatus
	BlownReason        string
	StartBalance       float64
	CurrentBalance     float64
	PeakBalance        float64
	MaxLoss            float64
	DailyLossLimit     float64
	MaxIntradayLoss    float64
	TrailDrawdown      float64
	TrailingDDMode     TrailingDDMode
	ProfitTarget       float64
	TotalProfit        float64
	BestDayProfit      float64
	ConsistencyFlag    bool
	StartOfDayEquity   float64
	SessionDay         string // YYYY-MM-DD (UTC), set by the daily reset
	ForceCloseOnReset  bool   // account-level policy flag for DAILY_RESET (spec §9 open question)
}

// PendingOrder is a queued limit order (spec §3, Pending Limit Order).
type PendingOrder struct {
	ID             string
	AccountID      string
	UserID         string
	Symbol         string
	Side           Side
	Quantity       float64
	Type           OrderType
	LimitPrice     float64
	StopLoss       *float64
	TakeProfit     *float64
	IdempotencyKey string
	CreatedAt      time.Time
	Status         OrderStatus
}

// OpenTrade is a live position (spec §3, Open Trade).
type OpenTrade struct {
	ID          string
	AccountID   string
	Symbol      string
	Side        Side
	Quantity    float64
	EntryPrice  float64
	StopLoss    *float64
	TakeProfit  *float64
	TimeOpened  time.Time
	PnL         float64 // starts at -commission*quantity
	OrderID     string
}

// ClosedTrade is an OpenTrade plus its exit facts (spec §3, Closed Trade).
type ClosedTrade struct {
	OpenTrade
	ExitPrice  float64
	TimeClosed time.Time
	ExitReason ExitReason
}

// SessionPnL is the per-account, per-calendar-day realized PnL accumulator.
type SessionPnL struct {
	AccountID string
	Day       string
	Realized  float64
	BestDay   float64
	Total     float64
}

// Tick is a single normalized price observation (spec §3, Tick).
type Tick struct {
	Symbol string
	Price  float64
	TSMs   int64
}

// DepthLevel is one (price, qty) rung of a depth snapshot.
type DepthLevel struct {
	Price float64
	Qty   float64
}

// DepthSnapshot is a pass-through upstream order book snapshot (spec §3).
type DepthSnapshot struct {
	Symbol string
	Bids   []DepthLevel
	Asks   []DepthLevel
	TSMs   int64
}

// AuditEvent is a row appended to trade_audit_logs (spec §4.E, §6).
type AuditEvent struct {
	Event     string
	Payload   map[string]any
	CreatedAt time.Time
}
