package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tradingcore/internal/domain"
)

// Store wraps a *gorm.DB with the domain-shaped operations the core
// components need. Each call is made once; neither this package nor
// its callers retry a failed write.
type Store struct {
	db *gorm.DB
}

// Open connects to MySQL and auto-migrates the schema, mirroring
// ChoSanghyuk-blackholedex's NewMySQLRecorder.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := db.AutoMigrate(
		&InstrumentRow{}, &AccountRow{}, &OrderRow{}, &TradeRow{},
		&TradeAuditRow{}, &OrderAuditRow{},
	); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// WithDB wraps an already-open *gorm.DB (used by tests with sqlmock).
func WithDB(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadActiveInstruments implements instrument.Store.
func (s *Store) LoadActiveInstruments(ctx context.Context) ([]domain.Contract, error) {
	var rows []InstrumentRow
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: load instruments: %w", err)
	}
	out := make([]domain.Contract, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Contract{
			Symbol:       r.Symbol,
			QtyStep:      r.QtyStep,
			MinQty:       r.MinQty,
			PriceKey:     r.PriceKey,
			Display:      r.Display,
			TickValue:    r.TickValue,
			ConvertToINR: r.ConvertToINR,
			MaxLots: map[domain.Tier]float64{
				domain.TierEvaluation: r.MaxLotsEvaluation,
				domain.TierFunded:     r.MaxLotsFunded,
			},
			TradingHours: domain.TradingHours{
				StartHour: r.TradingStartHour,
				EndHour:   r.TradingEndHour,
				Location:  loadLocation(r.TradingTZ),
			},
			DailyLossLimit:    r.DailyLossLimit,
			Commission:        r.Commission,
			Spread:            r.Spread,
			AllowPartialFills: r.AllowPartialFills,
			PartialFillRatio:  r.PartialFillRatio,
		})
	}
	return out, nil
}

func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UpsertAccount persists the full account row.
func (s *Store) UpsertAccount(ctx context.Context, a domain.Account) error {
	row := AccountRow{
		ID: a.ID, Tier: string(a.Tier), Status: string(a.Status), BlownReason: a.BlownReason,
		StartBalance: a.StartBalance, CurrentBalance: a.CurrentBalance, PeakBalance: a.PeakBalance,
		MaxLoss: a.MaxLoss, DailyLossLimit: a.DailyLossLimit, MaxIntradayLoss: a.MaxIntradayLoss,
		TrailDrawdown: a.TrailDrawdown, TrailingDDMode: string(a.TrailingDDMode),
		ProfitTarget: a.ProfitTarget, TotalProfit: a.TotalProfit, BestDayProfit: a.BestDayProfit,
		ConsistencyFlag: a.ConsistencyFlag, StartOfDayEquity: a.StartOfDayEquity,
		SessionDay: a.SessionDay, ForceCloseOnReset: a.ForceCloseOnReset,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("store: upsert account: %w", err)
	}
	return nil
}

// InsertOrder persists a new order row.
func (s *Store) InsertOrder(ctx context.Context, o domain.PendingOrder, status domain.OrderStatus, filledAt *time.Time, rejectReason string) error {
	row := OrderRow{
		ID: o.ID, AccountID: o.AccountID, UserID: o.UserID, Symbol: o.Symbol,
		Side: string(o.Side), Quantity: o.Quantity, Type: string(o.Type),
		LimitPrice: o.LimitPrice, StopLoss: o.StopLoss, TakeProfit: o.TakeProfit,
		IdempotencyKey: o.IdempotencyKey, Status: string(status), CreatedAt: o.CreatedAt,
		FilledAt: filledAt, RejectReason: rejectReason,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: insert order: %w", err)
	}
	return nil
}

// UpdateOrderStatus transitions an existing order row.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, rejectReason string) error {
	err := s.db.WithContext(ctx).Model(&OrderRow{}).Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "reject_reason": rejectReason}).Error
	if err != nil {
		return fmt.Errorf("store: update order: %w", err)
	}
	return nil
}

// InsertOpenTrade persists a newly opened trade.
func (s *Store) InsertOpenTrade(ctx context.Context, t domain.OpenTrade) error {
	row := TradeRow{
		ID: t.ID, AccountID: t.AccountID, OrderID: t.OrderID, Symbol: t.Symbol,
		Side: string(t.Side), Quantity: t.Quantity, EntryPrice: t.EntryPrice,
		StopLoss: t.StopLoss, TakeProfit: t.TakeProfit, TimeOpened: t.TimeOpened,
		PnL: t.PnL, IsOpen: true,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: insert trade: %w", err)
	}
	return nil
}

// CloseTrade persists the exit facts of a trade.
func (s *Store) CloseTrade(ctx context.Context, t domain.ClosedTrade) error {
	closedAt := t.TimeClosed
	err := s.db.WithContext(ctx).Model(&TradeRow{}).Where("id = ?", t.ID).
		Updates(map[string]any{
			"is_open": false, "exit_price": t.ExitPrice, "time_closed": &closedAt,
			"exit_reason": string(t.ExitReason), "PnL": t.PnL,
		}).Error
	if err != nil {
		return fmt.Errorf("store: close trade: %w", err)
	}
	return nil
}

// AppendTradeAudit inserts a trade_audit_logs row (spec §4.E).
func (s *Store) AppendTradeAudit(ctx context.Context, ev domain.AuditEvent) error {
	payload, _ := json.Marshal(ev.Payload)
	row := TradeAuditRow{Event: ev.Event, PayloadJS: string(payload), CreatedAt: ev.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: append trade audit: %w", err)
	}
	return nil
}

// AppendOrderAudit inserts an order_audit row.
func (s *Store) AppendOrderAudit(ctx context.Context, ev domain.AuditEvent) error {
	payload, _ := json.Marshal(ev.Payload)
	row := OrderAuditRow{Event: ev.Event, PayloadJS: string(payload), CreatedAt: ev.CreatedAt}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("store: append order audit: %w", err)
	}
	return nil
}
