package exchange

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/obs"
)

// Operation identifies an outbound exchange call for rate-limit weighting.
type Operation uint8

const (
	OpSubmitOrder Operation = iota
	OpCancelOrder
	OpQueryOpenOrders
	OpQueryClosedOrders
	OpQueryTrades
	OpQueryFees
	OpQueryBalance
	OpTicker
)

func (op Operation) String() string {
	switch op {
	case OpSubmitOrder:
		return "submit_order"
	case OpCancelOrder:
		return "cancel_order"
	case OpQueryOpenOrders:
		return "query_open_orders"
	case OpQueryClosedOrders:
		return "query_closed_orders"
	case OpQueryTrades:
		return "query_trades"
	case OpQueryFees:
		return "query_fees"
	case OpQueryBalance:
		return "query_balance"
	case OpTicker:
		return "ticker"
	default:
		return "unknown"
	}
}

// Weight returns the call-counter increase the exchange charges per operation.
func (op Operation) Weight() int {
	switch op {
	case OpSubmitOrder, OpCancelOrder:
		return 0
	case OpQueryClosedOrders, OpQueryTrades:
		return 2
	default:
		return 1
	}
}

// Tier is the account verification level, which sets the counter ceiling
// and decay speed.
type Tier uint8

const (
	TierStarter Tier = iota
	TierIntermediate
	TierPro
)

func (t Tier) String() string {
	switch t {
	case TierIntermediate:
		return "intermediate"
	case TierPro:
		return "pro"
	default:
		return "starter"
	}
}

// ParseTier resolves a config string to a tier, defaulting to starter.
func ParseTier(s string) Tier {
	switch s {
	case "intermediate":
		return TierIntermediate
	case "pro":
		return TierPro
	default:
		return TierStarter
	}
}

func (t Tier) limit() int {
	switch t {
	case TierIntermediate, TierPro:
		return 20
	default:
		return 15
	}
}

func (t Tier) decayInterval() time.Duration {
	switch t {
	case TierIntermediate:
		return 2 * time.Second
	case TierPro:
		return time.Second
	default:
		return 3 * time.Second
	}
}

// Limiter gates outbound exchange calls against the account call budget.
// The counter decays by one per decay interval and every call adds its
// operation weight; a call that would push the counter to the ban
// threshold blocks long enough for the decay to compensate.
type Limiter struct {
	mu         sync.Mutex
	counter    int
	lastUpdate time.Time

	limit   int
	decay   time.Duration
	metrics *obs.Metrics

	now   func() time.Time
	sleep func(time.Duration)
}

// NewLimiter creates a limiter for the given account tier.
func NewLimiter(tier Tier, metrics *obs.Metrics) *Limiter {
	return &Limiter{
		limit:   tier.limit(),
		decay:   tier.decayInterval(),
		metrics: metrics,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Wait charges op against the budget, blocking when needed so the true
// external counter never reaches the limit.
func (l *Limiter) Wait(op Operation) {
	l.mu.Lock()
	now := l.now()
	if !l.lastUpdate.IsZero() {
		decayed := int(now.Sub(l.lastUpdate) / l.decay)
		if decayed > 0 {
			l.counter -= decayed
			if l.counter < 0 {
				l.counter = 0
			}
		}
	}
	l.lastUpdate = now
	l.counter += op.Weight()

	wait := time.Duration(0)
	if l.counter >= l.limit-1 {
		wait = time.Duration(l.counter-l.limit+1) * time.Second
	}
	l.mu.Unlock()

	if wait > 0 {
		l.metrics.IncRateLimitWait()
		logs.Warnf("rate limit near budget, sleeping %s before %s", wait, op)
		l.sleep(wait)
	}
}

// Counter returns the current decayed counter value, for diagnostics.
func (l *Limiter) Counter() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastUpdate.IsZero() {
		return l.counter
	}
	decayed := int(l.now().Sub(l.lastUpdate) / l.decay)
	c := l.counter - decayed
	if c < 0 {
		c = 0
	}
	return c
}
