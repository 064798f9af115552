package coordinator

import (
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// SharedState is the account state and stop flag shared across workers.
// It is handed to each worker at construction; fees and balances are
// written only by the order worker, the stop flag by the console or the
// coordinator itself.
type SharedState struct {
	mu       sync.RWMutex
	fees     map[string]decimal.Decimal
	balances map[string]decimal.Decimal

	stop atomic.Bool
}

// NewSharedState creates empty shared state.
func NewSharedState() *SharedState {
	return &SharedState{
		fees:     make(map[string]decimal.Decimal),
		balances: make(map[string]decimal.Decimal),
	}
}

// SetFees replaces the fee schedule.
func (s *SharedState) SetFees(fees map[string]decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fees = copyMap(fees)
}

// Fees returns a copy of the fee schedule.
func (s *SharedState) Fees() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.fees)
}

// SetBalances replaces the balance view.
func (s *SharedState) SetBalances(balances map[string]decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = copyMap(balances)
}

// Balances returns a copy of the balance view.
func (s *SharedState) Balances() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.balances)
}

// RequestStop raises the process-wide stop flag. One-way.
func (s *SharedState) RequestStop() {
	s.stop.Store(true)
}

// Stopped reports whether the stop flag is raised.
func (s *SharedState) Stopped() bool {
	return s.stop.Load()
}

func copyMap(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
