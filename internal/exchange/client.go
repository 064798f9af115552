package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Kind is the pricing mode of an order.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLimit
	KindMarket
)

func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "limit"
	case KindMarket:
		return "market"
	default:
		return "unknown"
	}
}

// OrderSpec is the requested order as handed to the exchange.
type OrderSpec struct {
	Pair        string          `json:"pair"`
	Side        Side            `json:"side"`
	Kind        Kind            `json:"kind"`
	Volume      decimal.Decimal `json:"volume"`
	Price       decimal.Decimal `json:"price,omitempty"`
	Leverage    string          `json:"leverage,omitempty"`
	TimeInForce string          `json:"timeInForce,omitempty"`
	UserRef     int64           `json:"userRef"`
}

// SubmitResponse is the exchange acknowledgment of a submission.
type SubmitResponse struct {
	TxIDs []string
	Raw   []byte
}

// CancelResponse reports how many orders a cancel affected.
type CancelResponse struct {
	Count   int
	Pending bool
	Raw     []byte
}

// Fill is one execution reported by the exchange.
type Fill struct {
	TxID       string
	Volume     decimal.Decimal
	Price      decimal.Decimal
	Cost       decimal.Decimal
	Fee        decimal.Decimal
	FeeInQuote bool
	Time       time.Time
	Raw        []byte
}

// OpenOrder is the exchange view of a still-resting order.
type OpenOrder struct {
	UserRef        int64
	VolumeLeft     decimal.Decimal
	VolumeExecuted decimal.Decimal
}

// Ticker is a point-in-time market quote.
type Ticker struct {
	Last    decimal.Decimal
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
}

// Client is the wire-level exchange collaborator. Implementations own
// authentication and transport; callers own rate limiting and retries.
type Client interface {
	SubmitOrder(ctx context.Context, spec OrderSpec) (SubmitResponse, error)
	CancelOrder(ctx context.Context, userRef int64) (CancelResponse, error)
	QueryOpenOrders(ctx context.Context, userRef int64) ([]OpenOrder, error)
	QueryClosedOrders(ctx context.Context, userRef int64, since time.Time) ([]Fill, error)
	QueryFees(ctx context.Context, pair string) (map[string]decimal.Decimal, error)
	QueryBalance(ctx context.Context) (map[string]decimal.Decimal, error)
	Ticker(ctx context.Context, pair string) (Ticker, error)
}

// CredentialReloader is implemented by clients that can re-read their API
// credentials after an authentication failure.
type CredentialReloader interface {
	ReloadCredentials() error
}
