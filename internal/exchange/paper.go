package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"main/pkg/exception"
)

// FillFunc decides how a paper submission executes. Returning no fills
// leaves the order resting.
type FillFunc func(spec OrderSpec, quote Ticker) []Fill

// PaperClient is a deterministic in-process exchange used by simulate
// mode and tests. Submissions fill according to the configured FillFunc,
// full immediate fill at the limit price by default.
type PaperClient struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	fees     map[string]decimal.Decimal
	tickers  map[string]Ticker
	open     map[int64]OrderSpec
	fills    map[int64][]Fill
	nextTx   int

	fillFunc   FillFunc
	submitErrs []error
	cancelErrs []error
	queryErrs  []error

	now func() time.Time
}

// NewPaperClient creates a paper exchange with empty books.
func NewPaperClient() *PaperClient {
	return &PaperClient{
		balances: make(map[string]decimal.Decimal),
		fees:     make(map[string]decimal.Decimal),
		tickers:  make(map[string]Ticker),
		open:     make(map[int64]OrderSpec),
		fills:    make(map[int64][]Fill),
		now:      time.Now,
	}
}

// SetBalance sets one asset balance.
func (c *PaperClient) SetBalance(asset string, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[asset] = amount
}

// SetFee sets the fee rate reported for a pair.
func (c *PaperClient) SetFee(pair string, rate decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fees[pair] = rate
}

// SetTicker sets the quote returned for a pair.
func (c *PaperClient) SetTicker(pair string, t Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickers[pair] = t
}

// SetFillFunc overrides the execution policy.
func (c *PaperClient) SetFillFunc(fn FillFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fillFunc = fn
}

// ScriptSubmitError queues an error returned by the next SubmitOrder call.
func (c *PaperClient) ScriptSubmitError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitErrs = append(c.submitErrs, err)
}

// ScriptCancelError queues an error returned by the next CancelOrder call.
func (c *PaperClient) ScriptCancelError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelErrs = append(c.cancelErrs, err)
}

// ScriptQueryError queues an error returned by the next QueryClosedOrders call.
func (c *PaperClient) ScriptQueryError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryErrs = append(c.queryErrs, err)
}

// SetNow overrides the clock, for tests.
func (c *PaperClient) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// SubmitOrder records the order and executes it per the fill policy.
func (c *PaperClient) SubmitOrder(_ context.Context, spec OrderSpec) (SubmitResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := popErr(&c.submitErrs); err != nil {
		return SubmitResponse{}, err
	}
	if !spec.Volume.IsPositive() {
		return SubmitResponse{}, exception.ErrExchangeInvalidVolume
	}

	quote := c.tickers[spec.Pair]
	fills := c.defaultFills(spec, quote)
	if c.fillFunc != nil {
		fills = c.fillFunc(spec, quote)
	}

	c.nextTx++
	resp := SubmitResponse{
		TxIDs: []string{fmt.Sprintf("PAPER-%06d", c.nextTx)},
		Raw:   []byte(fmt.Sprintf(`{"userRef":%d,"pair":%q}`, spec.UserRef, spec.Pair)),
	}

	filled := decimal.Zero
	for i := range fills {
		if fills[i].TxID == "" {
			fills[i].TxID = fmt.Sprintf("%s-F%d", resp.TxIDs[0], i)
		}
		if fills[i].Time.IsZero() {
			fills[i].Time = c.now()
		}
		filled = filled.Add(fills[i].Volume)
		c.applyBalance(spec, fills[i])
	}
	c.fills[spec.UserRef] = append(c.fills[spec.UserRef], fills...)

	if filled.LessThan(spec.Volume) {
		rest := spec
		rest.Volume = spec.Volume.Sub(filled)
		c.open[spec.UserRef] = rest
	} else {
		delete(c.open, spec.UserRef)
	}
	return resp, nil
}

func (c *PaperClient) defaultFills(spec OrderSpec, quote Ticker) []Fill {
	price := spec.Price
	if spec.Kind == KindMarket || price.IsZero() {
		price = quote.Last
	}
	fee := c.fees[spec.Pair].Mul(price).Mul(spec.Volume)
	return []Fill{{
		Volume:     spec.Volume,
		Price:      price,
		Cost:       price.Mul(spec.Volume),
		Fee:        fee,
		FeeInQuote: true,
	}}
}

func (c *PaperClient) applyBalance(spec OrderSpec, fill Fill) {
	base, quote, ok := strings.Cut(spec.Pair, "/")
	if !ok {
		return
	}
	switch spec.Side {
	case SideBuy:
		c.balances[base] = c.balances[base].Add(fill.Volume)
		c.balances[quote] = c.balances[quote].Sub(fill.Cost)
	case SideSell:
		c.balances[base] = c.balances[base].Sub(fill.Volume)
		c.balances[quote] = c.balances[quote].Add(fill.Cost)
	}
}

// CancelOrder removes a resting order.
func (c *PaperClient) CancelOrder(_ context.Context, userRef int64) (CancelResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := popErr(&c.cancelErrs); err != nil {
		return CancelResponse{}, err
	}
	if _, ok := c.open[userRef]; !ok {
		return CancelResponse{}, exception.ErrExchangeUnknownOrder
	}
	delete(c.open, userRef)
	return CancelResponse{Count: 1}, nil
}

// QueryOpenOrders returns the resting remainder for userRef, if any.
func (c *PaperClient) QueryOpenOrders(_ context.Context, userRef int64) ([]OpenOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	spec, ok := c.open[userRef]
	if !ok {
		return nil, nil
	}
	executed := decimal.Zero
	for _, f := range c.fills[userRef] {
		executed = executed.Add(f.Volume)
	}
	return []OpenOrder{{UserRef: userRef, VolumeLeft: spec.Volume, VolumeExecuted: executed}}, nil
}

// QueryClosedOrders returns fills after the since watermark.
func (c *PaperClient) QueryClosedOrders(_ context.Context, userRef int64, since time.Time) ([]Fill, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := popErr(&c.queryErrs); err != nil {
		return nil, err
	}
	var out []Fill
	for _, f := range c.fills[userRef] {
		if f.Time.Before(since) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// QueryFees returns the fee schedule for a pair.
func (c *PaperClient) QueryFees(_ context.Context, pair string) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(c.fees))
	if pair != "" {
		if rate, ok := c.fees[pair]; ok {
			out[pair] = rate
		}
		return out, nil
	}
	for p, rate := range c.fees {
		out[p] = rate
	}
	return out, nil
}

// QueryBalance returns all asset balances.
func (c *PaperClient) QueryBalance(_ context.Context) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(c.balances))
	for asset, amount := range c.balances {
		out[asset] = amount
	}
	return out, nil
}

// Ticker returns the configured quote for a pair.
func (c *PaperClient) Ticker(_ context.Context, pair string) (Ticker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers[pair], nil
}
