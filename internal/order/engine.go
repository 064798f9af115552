package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/exchange"
	"main/internal/obs"
	"main/internal/recon"
	"main/pkg/exception"
)

// EngineConfig tunes the lifecycle operations.
type EngineConfig struct {
	// Tolerance is the unfilled fraction of the requested volume still
	// counted as a complete fill. Default 0.1%.
	Tolerance decimal.Decimal
	// Dwell is the minimum rest time between best-limit repricings.
	Dwell time.Duration
	// Simulate resolves submissions to closed immediately without
	// resting on the book.
	Simulate bool

	SubmitRetry exchange.RetryConfig
	ReadRetry   exchange.RetryConfig
}

func (cfg EngineConfig) withDefaults(metrics *obs.Metrics) EngineConfig {
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = decimal.RequireFromString("0.001")
	}
	if cfg.Dwell <= 0 {
		cfg.Dwell = 30 * time.Second
	}
	if cfg.SubmitRetry.Delay <= 0 {
		cfg.SubmitRetry = exchange.DefaultSubmitRetry(metrics)
	}
	if cfg.ReadRetry.Delay <= 0 {
		cfg.ReadRetry = exchange.DefaultReadRetry(metrics)
	}
	return cfg
}

// Engine drives Order state machines against the exchange. Every
// exchange-facing call passes through the rate limiter exactly once.
type Engine struct {
	client  exchange.Client
	limiter *exchange.Limiter
	recon   recon.Sink
	metrics *obs.Metrics
	cfg     EngineConfig

	now func() time.Time
}

// NewEngine wires the lifecycle engine.
func NewEngine(client exchange.Client, limiter *exchange.Limiter, sink recon.Sink, metrics *obs.Metrics, cfg EngineConfig) *Engine {
	if sink == nil {
		sink = recon.Discard{}
	}
	return &Engine{
		client:  client,
		limiter: limiter,
		recon:   sink,
		metrics: metrics,
		cfg:     cfg.withDefaults(metrics),
		now:     time.Now,
	}
}

// SetNow overrides the engine clock, for tests.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

// Execute submits the order. Legal only from unsubmitted or canceled.
// An invalid-volume rejection or an exhausted submit retry abandons the
// order: forced closed with zero execution and written to the
// reconciliation record.
func (e *Engine) Execute(ctx context.Context, o *Order) error {
	if o.Status != StatusUnsubmitted && o.Status != StatusCanceled {
		return errors.Wrapf(exception.ErrOrderIllegalTransition, "execute order %d from %s", o.ID, o.Status)
	}

	e.limiter.Wait(exchange.OpSubmitOrder)
	if e.cfg.Simulate {
		return e.simulateExecute(ctx, o)
	}

	started := e.now()
	var resp exchange.SubmitResponse
	err := exchange.Retry(ctx, e.cfg.SubmitRetry, e.client, exchange.OpSubmitOrder, func() error {
		var serr error
		resp, serr = e.client.SubmitOrder(ctx, o.Input)
		return serr
	})
	if err != nil {
		if exception.IsInvalidVolume(err) || exception.IsRetryExhausted(err) {
			e.abandon(o, err)
			return nil
		}
		return errors.Wrapf(err, "submit order %d", o.ID)
	}
	e.metrics.ObserveSubmit(e.now().Sub(started))
	e.metrics.IncSubmitted()

	o.appendHistory(resp.Raw)
	// Watermark anchors to the pre-submit instant so fills stamped at
	// submission time are not filtered out of the next check.
	o.Watermark = started
	o.LastPlaced = started
	if o.Result.Start.IsZero() {
		o.Result.Start = started
	}
	o.Status = StatusOpen
	logs.Debugf("order %d submitted: %s %s %s %s@%s", o.ID, o.Input.Pair, o.Input.Side, o.Input.Kind, o.Input.Volume, o.Input.Price)
	return nil
}

// simulateExecute resolves the order as fully filled without resting it.
// Market orders price at the last trade.
func (e *Engine) simulateExecute(ctx context.Context, o *Order) error {
	price := o.Input.Price
	if o.Input.Kind == exchange.KindMarket || price.IsZero() {
		e.limiter.Wait(exchange.OpTicker)
		var quote exchange.Ticker
		err := exchange.Retry(ctx, e.cfg.ReadRetry, e.client, exchange.OpTicker, func() error {
			var terr error
			quote, terr = e.client.Ticker(ctx, o.Input.Pair)
			return terr
		})
		if err != nil {
			return errors.Wrapf(err, "simulate order %d last trade lookup", o.ID)
		}
		price = quote.Last
	}

	now := e.now()
	executed := o.Input.Volume
	o.Result.AvgPrice = weightedPrice(o.Result.AvgPrice, o.VolumeExecuted, price, executed)
	o.VolumeExecuted = o.VolumeExecuted.Add(executed)
	o.Result.Cost = o.Result.Cost.Add(price.Mul(executed))
	if o.Result.Start.IsZero() {
		o.Result.Start = now
	}
	o.Watermark = now
	o.LastPlaced = now
	o.Status = StatusClosed
	e.metrics.IncFilled()
	logs.Debugf("order %d simulated fill: %s@%s", o.ID, executed, price)
	return nil
}

// Cancel withdraws a resting order. Legal only from open. An
// unknown-order response means the exchange already resolved it; the
// order is returned as-is and the caller re-checks the fill.
func (e *Engine) Cancel(ctx context.Context, o *Order) error {
	if o.Status != StatusOpen {
		return errors.Wrapf(exception.ErrOrderIllegalTransition, "cancel order %d from %s", o.ID, o.Status)
	}

	e.limiter.Wait(exchange.OpCancelOrder)
	var resp exchange.CancelResponse
	err := exchange.Retry(ctx, e.cfg.ReadRetry, e.client, exchange.OpCancelOrder, func() error {
		var cerr error
		resp, cerr = e.client.CancelOrder(ctx, o.ID)
		return cerr
	})
	if err != nil {
		if exception.IsUnknownOrder(err) {
			logs.Infof("order %d already resolved by exchange, skipping cancel", o.ID)
			return nil
		}
		return errors.Wrapf(err, "cancel order %d", o.ID)
	}
	if resp.Count == 0 {
		return errors.Wrapf(exception.ErrOrderCancelNone, "order %d", o.ID)
	}

	o.appendHistory(resp.Raw)
	o.Status = StatusCanceled
	e.metrics.IncCanceled()
	logs.Debugf("order %d canceled (count=%d)", o.ID, resp.Count)
	return nil
}

// CheckVolumeExecuted queries fills since the watermark and accumulates
// executed volume. When the remainder falls within tolerance the order
// closes with full execution detail; an over-fill is a fatal integrity
// error; otherwise the remainder replaces the requested volume on the
// input for the next submission attempt.
func (e *Engine) CheckVolumeExecuted(ctx context.Context, o *Order) error {
	if o.Status == StatusClosed {
		return errors.Wrapf(exception.ErrOrderIllegalTransition, "check order %d from %s", o.ID, o.Status)
	}

	e.limiter.Wait(exchange.OpQueryClosedOrders)
	started := e.now()
	var fills []exchange.Fill
	err := exchange.Retry(ctx, e.cfg.ReadRetry, e.client, exchange.OpQueryClosedOrders, func() error {
		var qerr error
		fills, qerr = e.client.QueryClosedOrders(ctx, o.ID, o.Watermark)
		return qerr
	})
	if err != nil {
		return errors.Wrapf(err, "query fills for order %d", o.ID)
	}
	e.metrics.ObserveCheck(e.now().Sub(started))

	for _, fill := range fills {
		if fill.TxID != "" && o.seenTx(fill.TxID) {
			continue
		}
		o.appendHistory(fill.Raw)
		if fill.TxID != "" {
			o.Result.TxIDs = append(o.Result.TxIDs, fill.TxID)
		}
		o.Result.AvgPrice = weightedPrice(o.Result.AvgPrice, o.VolumeExecuted, fill.Price, fill.Volume)
		o.VolumeExecuted = o.VolumeExecuted.Add(fill.Volume)
		o.Result.Cost = o.Result.Cost.Add(fill.Cost)
		if fill.FeeInQuote {
			o.Result.FeeQuote = o.Result.FeeQuote.Add(fill.Fee)
		} else {
			o.Result.FeeBase = o.Result.FeeBase.Add(fill.Fee)
		}
	}
	// The query start bounds the window actually observed; tx dedup
	// absorbs the overlap on the next check.
	o.Watermark = started

	tolerance := o.VolumeRequested.Mul(e.cfg.Tolerance)
	if o.VolumeExecuted.GreaterThan(o.VolumeRequested.Add(tolerance)) {
		return errors.Wrapf(exception.ErrOrderIntegrity, "order %d executed %s of requested %s", o.ID, o.VolumeExecuted, o.VolumeRequested)
	}

	remaining := o.VolumeRequested.Sub(o.VolumeExecuted)
	if remaining.LessThanOrEqual(tolerance) {
		if remaining.IsPositive() {
			logs.Warnf("order %d closed within tolerance, %s of %s unfilled", o.ID, remaining, o.VolumeRequested)
		}
		o.Status = StatusClosed
		e.metrics.IncFilled()
		logs.Infof("order %d closed: executed %s avg %s", o.ID, o.VolumeExecuted, o.Result.AvgPrice)
		return nil
	}

	o.Input.Volume = remaining
	return nil
}

// Update advances the order one step under its lifecycle policy.
func (e *Engine) Update(ctx context.Context, o *Order) error {
	if o.Status == StatusClosed {
		return nil
	}
	switch o.Policy {
	case PolicyBestLimit:
		return e.updateBestLimit(ctx, o)
	case PolicySubmitAndLeave:
		return e.updateSubmitAndLeave(ctx, o)
	default:
		return errors.Errorf("order %d has unknown policy %d", o.ID, o.Policy)
	}
}

func (e *Engine) updateSubmitAndLeave(ctx context.Context, o *Order) error {
	switch o.Status {
	case StatusUnsubmitted, StatusCanceled:
		return e.Execute(ctx, o)
	case StatusOpen:
		if o.PastForce(e.now()) {
			return e.forceConvert(ctx, o)
		}
		return e.CheckVolumeExecuted(ctx, o)
	default:
		return nil
	}
}

func (e *Engine) updateBestLimit(ctx context.Context, o *Order) error {
	switch o.Status {
	case StatusUnsubmitted, StatusCanceled:
		if err := e.priceAtBest(ctx, o); err != nil {
			return err
		}
		return e.Execute(ctx, o)
	case StatusOpen:
		// A force-converted market remainder fills right away; check it
		// without waiting out another dwell.
		if o.Input.Kind == exchange.KindMarket {
			return e.CheckVolumeExecuted(ctx, o)
		}
		if e.now().Sub(o.LastPlaced) < e.cfg.Dwell {
			return nil
		}
		if err := e.withdrawAndCheck(ctx, o); err != nil {
			return err
		}
		if o.Status == StatusClosed {
			return nil
		}
		if o.PastForce(e.now()) {
			o.Input.Kind = exchange.KindMarket
			o.Input.Price = decimal.Zero
			logs.Infof("order %d past force timestamp, converting remainder to market", o.ID)
		} else if err := e.priceAtBest(ctx, o); err != nil {
			return err
		}
		return e.Execute(ctx, o)
	default:
		return nil
	}
}

// forceConvert cancels the resting remainder, checks the fill, and
// re-executes what is left as a market order.
func (e *Engine) forceConvert(ctx context.Context, o *Order) error {
	if err := e.withdrawAndCheck(ctx, o); err != nil {
		return err
	}
	if o.Status == StatusClosed {
		return nil
	}
	o.Input.Kind = exchange.KindMarket
	o.Input.Price = decimal.Zero
	logs.Infof("order %d past force timestamp, converting remainder to market", o.ID)
	return e.Execute(ctx, o)
}

// withdrawAndCheck cancels then re-checks the fill. When the exchange
// reported the order as unknown and the fill check leaves it open, the
// resting remainder no longer exists on the book, so the order moves to
// canceled for resubmission.
func (e *Engine) withdrawAndCheck(ctx context.Context, o *Order) error {
	if err := e.Cancel(ctx, o); err != nil {
		return err
	}
	if err := e.CheckVolumeExecuted(ctx, o); err != nil {
		return err
	}
	if o.Status == StatusOpen {
		o.Status = StatusCanceled
	}
	return nil
}

// priceAtBest reprices a limit order at the best bid (sells) or best
// ask (buys). Market inputs are left alone.
func (e *Engine) priceAtBest(ctx context.Context, o *Order) error {
	if o.Input.Kind != exchange.KindLimit {
		return nil
	}
	e.limiter.Wait(exchange.OpTicker)
	var quote exchange.Ticker
	err := exchange.Retry(ctx, e.cfg.ReadRetry, e.client, exchange.OpTicker, func() error {
		var terr error
		quote, terr = e.client.Ticker(ctx, o.Input.Pair)
		return terr
	})
	if err != nil {
		return errors.Wrapf(err, "quote lookup for order %d", o.ID)
	}
	switch o.Input.Side {
	case exchange.SideBuy:
		o.Input.Price = quote.BestAsk
	case exchange.SideSell:
		o.Input.Price = quote.BestBid
	}
	return nil
}

func (e *Engine) abandon(o *Order, cause error) {
	o.Status = StatusClosed
	o.Abandoned = true
	e.metrics.IncAbandoned()
	logs.Errorf("order %d abandoned: %v", o.ID, cause)

	record := recon.Record{
		Time:    e.now(),
		OrderID: o.ID,
		Spec:    o.Input,
		Reason:  cause.Error(),
	}
	if err := e.recon.Append(record); err != nil {
		logs.Errorf("order %d reconciliation record write failed: %v", o.ID, err)
	}
}

func weightedPrice(avg, executed, price, volume decimal.Decimal) decimal.Decimal {
	total := executed.Add(volume)
	if !total.IsPositive() {
		return avg
	}
	return avg.Mul(executed).Add(price.Mul(volume)).Div(total)
}
