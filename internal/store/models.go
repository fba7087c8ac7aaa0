// Package store is the relational-store adapter (spec §6, "Relational
// store tables"): accounts, instruments, orders, trades and the two
// audit logs. It is built on GORM + the MySQL driver the same way
// ChoSanghyuk-blackholedex/internal/db/transaction_recorder.go wires
// gorm.Open(mysql.Open(dsn), ...) and AutoMigrate for schema setup —
// only the domain models differ.
package store

import "time"

type InstrumentRow struct {
	Symbol            string `gorm:"primaryKey"`
	QtyStep           float64
	MinQty            float64
	PriceKey          string
	Display           string
	TickValue         float64
	ConvertToINR      bool
	MaxLotsEvaluation float64
	MaxLotsFunded     float64
	TradingStartHour  int
	TradingEndHour    int
	TradingTZ         string
	DailyLossLimit    float64
	Commission        float64
	Spread            float64
	AllowPartialFills bool
	PartialFillRatio  float64
	Active            bool `gorm:"index"`
}

func (InstrumentRow) TableName() string { return "instruments" }

type AccountRow struct {
	ID                string `gorm:"primaryKey"`
	Tier              string
	Status            string `gorm:"index"`
	BlownReason       string
	StartBalance      float64
	CurrentBalance    float64
	PeakBalance       float64
	MaxLoss           float64
	DailyLossLimit    float64
	MaxIntradayLoss   float64
	TrailDrawdown     float64
	TrailingDDMode    string
	ProfitTarget      float64
	TotalProfit       float64
	BestDayProfit     float64
	ConsistencyFlag   bool
	StartOfDayEquity  float64
	SessionDay        string
	ForceCloseOnReset bool
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (AccountRow) TableName() string { return "accounts" }

type OrderRow struct {
	ID             string `gorm:"primaryKey"`
	AccountID      string `gorm:"index"`
	UserID         string
	Symbol         string
	Side           string
	Quantity       float64
	Type           string
	LimitPrice     float64
	StopLoss       *float64
	TakeProfit     *float64
	IdempotencyKey string `gorm:"index"`
	Status         string
	CreatedAt      time.Time
	FilledAt       *time.Time
	RejectReason   string
}

func (OrderRow) TableName() string { return "orders" }

type TradeRow struct {
	ID         string `gorm:"primaryKey"`
	AccountID  string `gorm:"index"`
	OrderID    string
	Symbol     string
	Side       string
	Quantity   float64
	EntryPrice float64
	StopLoss   *float64
	TakeProfit *float64
	TimeOpened time.Time
	PnL        float64
	IsOpen     bool `gorm:"index"`
	ExitPrice  float64
	TimeClosed *time.Time
	ExitReason string
}

func (TradeRow) TableName() string { return "trades" }

type TradeAuditRow struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Event     string
	PayloadJS string `gorm:"type:text"`
	CreatedAt time.Time
}

func (TradeAuditRow) TableName() string { return "trade_audit_logs" }

type OrderAuditRow struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	Event     string
	PayloadJS string `gorm:"type:text"`
	CreatedAt time.Time
}

func (OrderAuditRow) TableName() string { return "order_audit" }
