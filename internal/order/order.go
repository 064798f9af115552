package order

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/exchange"
)

// Status tracks the lifecycle of an order. Closed is terminal; the only
// permitted cycle is open -> canceled -> open (re-submission after a
// cancel).
type Status uint8

const (
	StatusUnsubmitted Status = iota
	StatusOpen
	StatusCanceled
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusUnsubmitted:
		return "unsubmitted"
	case StatusOpen:
		return "open"
	case StatusCanceled:
		return "canceled"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Policy selects the lifecycle strategy Update applies to an open order.
type Policy uint8

const (
	// PolicySubmitAndLeave rests the limit order untouched until the
	// force timestamp, then converts the remainder to a market order.
	PolicySubmitAndLeave Policy = iota
	// PolicyBestLimit cancels and reprices at the best quote on every
	// tick after a minimum dwell.
	PolicyBestLimit
)

func (p Policy) String() string {
	switch p {
	case PolicyBestLimit:
		return "best_limit"
	default:
		return "submit_and_leave"
	}
}

// ExecutionResult accumulates what actually traded across all
// submissions of one order.
type ExecutionResult struct {
	TxIDs    []string        `json:"txIds,omitempty"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
	FeeQuote decimal.Decimal `json:"feeQuote"`
	FeeBase  decimal.Decimal `json:"feeBase"`
	Cost     decimal.Decimal `json:"cost"`
	Start    time.Time       `json:"start"`
}

// farFuture stands in for "never force-convert". It stays inside the
// year range Time.MarshalJSON accepts so order snapshots serialize.
var farFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Order is a single order lifecycle record, exclusively owned by the
// order worker once dequeued.
type Order struct {
	ID     int64              `json:"id"`
	Status Status             `json:"status"`
	Policy Policy             `json:"policy"`
	Input  exchange.OrderSpec `json:"input"`

	VolumeRequested decimal.Decimal `json:"volumeRequested"`
	VolumeExecuted  decimal.Decimal `json:"volumeExecuted"`
	Result          ExecutionResult `json:"result"`

	ForceTime  time.Time `json:"forceTime"`
	Watermark  time.Time `json:"watermark"`
	LastPlaced time.Time `json:"lastPlaced"`

	// Abandoned marks an order forced closed with zero execution and
	// written to the reconciliation record.
	Abandoned bool `json:"abandoned,omitempty"`

	// History is the append-only log of raw exchange responses.
	History []json.RawMessage `json:"history,omitempty"`
}

// New builds an unsubmitted order. A zero force time means never.
func New(id int64, spec exchange.OrderSpec, policy Policy, force time.Time) *Order {
	if force.IsZero() {
		force = farFuture
	}
	spec.UserRef = id
	return &Order{
		ID:              id,
		Status:          StatusUnsubmitted,
		Policy:          policy,
		Input:           spec,
		VolumeRequested: spec.Volume,
		ForceTime:       force,
	}
}

// StrategyID extracts the owning strategy from the order id.
func (o *Order) StrategyID() int64 {
	return StrategyOf(o.ID)
}

// PastForce reports whether now is at or past the force timestamp.
func (o *Order) PastForce(now time.Time) bool {
	return !now.Before(o.ForceTime)
}

func (o *Order) appendHistory(raw []byte) {
	if len(raw) == 0 {
		return
	}
	o.History = append(o.History, json.RawMessage(raw))
}

func (o *Order) seenTx(txid string) bool {
	for _, id := range o.Result.TxIDs {
		if id == txid {
			return true
		}
	}
	return false
}
