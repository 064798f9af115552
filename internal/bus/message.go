// Package bus provides the tagged message protocol and the duplex
// channel linking each worker to the coordinator, plus the order work
// queue feeding the order worker.
package bus

import (
	"github.com/shopspring/decimal"
)

// Kind is the closed set of message tags. Dispatchers switch
// exhaustively on it; unrecognized values are logged and ignored.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindName
	KindFees
	KindBalance
	KindOrder
	KindRunningClients
	KindStatusUpdate
	KindStart
	KindStop
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindName:
		return "name"
	case KindFees:
		return "fees"
	case KindBalance:
		return "balance"
	case KindOrder:
		return "order"
	case KindRunningClients:
		return "get_running_clients"
	case KindStatusUpdate:
		return "sb_update"
	case KindStart:
		return "start"
	case KindStop:
		return "_stop"
	default:
		return "unknown"
	}
}

// StopAll is the stop target that halts the whole process tree.
const StopAll = "tradingbot"

// Fill reports an order outcome to its owning strategy.
type Fill struct {
	OrderID  int64
	Pair     string
	Side     string
	Volume   decimal.Decimal
	AvgPrice decimal.Decimal
	Fee      decimal.Decimal
	Rejected bool
	Reason   string
}

// Status is the aggregate view served to the operator console.
type Status struct {
	OrdersOpen      int
	OrdersWaiting   int
	OrdersClosed    uint64
	OrdersAbandoned uint64
	FeeTier         string
	Workers         []string
}

// Message is one tagged payload exchanged over a channel. Exactly the
// fields implied by the kind are set.
type Message struct {
	Kind Kind

	// Name carries the worker self-announcement (KindName) or a start
	// target (KindStart).
	Name string
	// Targets carries stop targets (KindStop) or the running-client
	// list on a KindRunningClients reply.
	Targets []string

	Fees     map[string]decimal.Decimal
	Balances map[string]decimal.Decimal

	Fill   *Fill
	Status *Status
}

// Empty is the idle message a channel iteration yields when nothing is
// available.
func Empty() Message { return Message{Kind: KindEmpty} }
