package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"tradingcore/internal/domain"
)

// newMockedStore mirrors ChoSanghyuk-blackholedex's sqlmock setup:
// a gorm.DB wired to a mocked *sql.DB, no AutoMigrate, so tests assert
// against the exact SQL GORM generates.
func newMockedStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm with mocked conn: %v", err)
	}
	return WithDB(gormDB), mock, func() { sqlDB.Close() }
}

func TestUpsertAccount(t *testing.T) {
	s, mock, closeFn := newMockedStore(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `accounts`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	acct := domain.Account{ID: "A1", Tier: domain.TierEvaluation, Status: domain.AccountActive, StartBalance: 50000, CurrentBalance: 50000}
	if err := s.UpsertAccount(context.Background(), acct); err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestInsertOpenTrade(t *testing.T) {
	s, mock, closeFn := newMockedStore(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `trades`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	trade := domain.OpenTrade{ID: "T1", AccountID: "A1", Symbol: "EURUSD", Side: domain.SideBuy, Quantity: 1, EntryPrice: 1.1}
	if err := s.InsertOpenTrade(context.Background(), trade); err != nil {
		t.Fatalf("InsertOpenTrade failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAppendTradeAudit(t *testing.T) {
	s, mock, closeFn := newMockedStore(t)
	defer closeFn()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `trade_audit_logs`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ev := domain.AuditEvent{Event: "ACCOUNT_BLOWN_MAX_LOSS", Payload: map[string]any{"account_id": "A1"}}
	if err := s.AppendTradeAudit(context.Background(), ev); err != nil {
		t.Fatalf("AppendTradeAudit failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTableNames(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{InstrumentRow{}.TableName(), "instruments"},
		{AccountRow{}.TableName(), "accounts"},
		{OrderRow{}.TableName(), "orders"},
		{TradeRow{}.TableName(), "trades"},
		{TradeAuditRow{}.TableName(), "trade_audit_logs"},
		{OrderAuditRow{}.TableName(), "order_audit"},
	}
	for _, tt := range tests {
		if tt.name != tt.want {
			t.Errorf("TableName() = %q, want %q", tt.name, tt.want)
		}
	}
}
