package instrument

import (
	"context"
	"testing"
	"time"

	"tradingcore/internal/domain"
)

type stubStore struct {
	contracts []domain.Contract
	err       error
}

func (s *stubStore) LoadActiveInstruments(ctx context.Context) ([]domain.Contract, error) {
	return s.contracts, s.err
}

func TestIsWithinTradingHoursWrapAround(t *testing.T) {
	defaults := map[string]domain.Contract{
		"EURUSD": {Symbol: "EURUSD", TradingHours: domain.TradingHours{StartHour: 22, EndHour: 6, Location: time.UTC}},
		"XAUUSD": {Symbol: "XAUUSD", TradingHours: domain.TradingHours{StartHour: 9, EndHour: 17, Location: time.UTC}},
	}
	r := New(&stubStore{}, defaults, time.Hour)

	tests := []struct {
		symbol string
		hour   int
		want   bool
	}{
		{"EURUSD", 23, true},  // inside wrap-around window, late night
		{"EURUSD", 2, true},   // inside wrap-around window, early morning
		{"EURUSD", 12, false}, // outside the window
		{"XAUUSD", 10, true},  // inside a normal same-day window
		{"XAUUSD", 20, false}, // outside a normal same-day window
	}
	for _, tt := range tests {
		now := time.Date(2026, 1, 1, tt.hour, 0, 0, 0, time.UTC)
		if got := r.IsWithinTradingHours(tt.symbol, now); got != tt.want {
			t.Errorf("IsWithinTradingHours(%s, hour=%d) = %v, want %v", tt.symbol, tt.hour, got, tt.want)
		}
	}
}

func TestNormalizeSymbol(t *testing.T) {
	defaults := map[string]domain.Contract{"EURUSD": {Symbol: "EURUSD"}}
	r := New(&stubStore{}, defaults, time.Hour)

	tests := []struct{ in, want string }{
		{"eurusd", "EURUSD"},
		{"EUR_USD", "EURUSD"},
		{"EUR:USD", "EURUSD"},
		{"gbpusd", "GBPUSD"}, // unknown symbol falls through uppercased
	}
	for _, tt := range tests {
		if got := r.NormalizeSymbol(tt.in); got != tt.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReloadOnceKeepsPreviousSnapshotOnError(t *testing.T) {
	defaults := map[string]domain.Contract{"EURUSD": {Symbol: "EURUSD", Commission: 1}}
	store := &stubStore{}
	r := New(store, defaults, time.Hour)

	store.err = context.DeadlineExceeded
	r.reloadOnce(context.Background())

	c, ok := r.GetContract("EURUSD")
	if !ok || c.Commission != 1 {
		t.Fatalf("expected previous snapshot to survive a failed reload, got %+v ok=%v", c, ok)
	}
}

func TestReloadOnceMergesOverDefaults(t *testing.T) {
	defaults := map[string]domain.Contract{"EURUSD": {Symbol: "EURUSD", Commission: 1}}
	store := &stubStore{contracts: []domain.Contract{{Symbol: "EURUSD", Commission: 5}, {Symbol: "GBPUSD", Commission: 2}}}
	r := New(store, defaults, time.Hour)

	r.reloadOnce(context.Background())

	eur, _ := r.GetContract("EURUSD")
	if eur.Commission != 5 {
		t.Errorf("expected store row to override default, got commission %v", eur.Commission)
	}
	gbp, ok := r.GetContract("GBPUSD")
	if !ok || gbp.Commission != 2 {
		t.Errorf("expected newly loaded contract to be present, got %+v ok=%v", gbp, ok)
	}
}
