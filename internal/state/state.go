// Package state implements the Shared Trade State (spec §4.B): a
// process-wide, mutex-guarded facade over accounts, open trades and
// pending orders. Per spec §9 this is a leaf module — it imports only
// domain and eventbus, never matching or risk, which breaks the
// trade-state / matching / risk import cycle.
package state

import (
	"sync"

	"tradingcore/internal/domain"
	"tradingcore/internal/eventbus"
)

// State is the in-memory authoritative snapshot during a tick.
type State struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	open     map[string]domain.OpenTrade // keyed by trade id
	pending  []domain.PendingOrder
	bus      *eventbus.Bus
}

func New(bus *eventbus.Bus) *State {
	return &State{
		accounts: make(map[string]domain.Account),
		open:     make(map[string]domain.OpenTrade),
		bus:      bus,
	}
}

// GetAccounts returns a copy-on-read snapshot.
func (s *State) GetAccounts() []domain.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	return out
}

// GetAccount returns a single account snapshot.
func (s *State) GetAccount(id string) (domain.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	return a, ok
}

// GetOpenTrades returns a copy-on-read snapshot of all open trades.
func (s *State) GetOpenTrades() []domain.OpenTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OpenTrade, 0, len(s.open))
	for _, t := range s.open {
		out = append(out, t)
	}
	return out
}

// GetOpenTradesBySymbol filters the snapshot by symbol (used by processTick).
func (s *State) GetOpenTradesBySymbol(symbol string) []domain.OpenTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OpenTrade, 0)
	for _, t := range s.open {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}

// GetOpenTradesByAccount filters by account id.
func (s *State) GetOpenTradesByAccount(accountID string) []domain.OpenTrade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OpenTrade, 0)
	for _, t := range s.open {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out
}

// GetPendingOrders returns a copy-on-read snapshot.
func (s *State) GetPendingOrders() []domain.PendingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PendingOrder, len(s.pending))
	copy(out, s.pending)
	return out
}

// GetPendingOrdersBySymbol filters by symbol (used by processTick's limit scan).
func (s *State) GetPendingOrdersBySymbol(symbol string) []domain.PendingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PendingOrder, 0)
	for _, o := range s.pending {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

// SetAccount upserts an account and fans out account_update.
func (s *State) SetAccount(a domain.Account) {
	s.mu.Lock()
	s.accounts[a.ID] = a
	s.mu.Unlock()
	s.bus.Publish(eventbus.TopicAccountUpdate, a)
}

// AddOpenTrade inserts an open trade, keyed by id.
func (s *State) AddOpenTrade(t domain.OpenTrade) {
	s.mu.Lock()
	s.open[t.ID] = t
	s.mu.Unlock()
}

// RemoveOpenTrade deletes an open trade by id.
func (s *State) RemoveOpenTrade(id string) {
	s.mu.Lock()
	delete(s.open, id)
	s.mu.Unlock()
}

// AddPendingOrder appends a pending order.
func (s *State) AddPendingOrder(o domain.PendingOrder) {
	s.mu.Lock()
	s.pending = append(s.pending, o)
	s.mu.Unlock()
}

// RemovePendingOrder deletes a pending order by id.
func (s *State) RemovePendingOrder(id string) {
	s.mu.Lock()
	for i, o := range s.pending {
		if o.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// ReplacePendingOrder atomically swaps one pending order for another
// (a nil replacement only removes oldID).
func (s *State) ReplacePendingOrder(oldID string, replacement *domain.PendingOrder) {
	s.mu.Lock()
	for i, o := range s.pending {
		if o.ID == oldID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	if replacement != nil {
		s.pending = append(s.pending, *replacement)
	}
	s.mu.Unlock()
}
