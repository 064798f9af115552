// Package worker holds the long-running worker loops: the order worker
// that drives order lifecycles, strategy instances producing requests,
// the performance aggregator, and the operator console.
package worker

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/coordinator"
	"main/internal/exchange"
	"main/internal/obs"
	"main/internal/order"
	"main/internal/store"
	"main/pkg/exception"
)

// OrderWorkerConfig tunes the order worker loop.
type OrderWorkerConfig struct {
	Name string
	// Tick is the loop cadence; each tick advances at most one order.
	Tick time.Duration
	// RefreshEvery is how many ticks pass between fee/balance refreshes.
	RefreshEvery int
	// AdmitPerTick caps how many queued requests one tick admits.
	AdmitPerTick int
	// Tier is reported on status updates.
	Tier exchange.Tier
}

func (cfg OrderWorkerConfig) withDefaults() OrderWorkerConfig {
	if cfg.Name == "" {
		cfg.Name = "order_worker"
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = 30
	}
	if cfg.AdmitPerTick <= 0 {
		cfg.AdmitPerTick = 8
	}
	return cfg
}

// OrderWorker consumes order requests from the work queue and drives
// each order's state machine once per tick. It exclusively owns the
// order collection.
type OrderWorker struct {
	cfg     OrderWorkerConfig
	end     bus.Endpoint
	queue   *bus.Queue
	engine  *order.Engine
	client  exchange.Client
	limiter *exchange.Limiter
	store   store.Store
	state   *coordinator.SharedState
	metrics *obs.Metrics

	col      *order.Collection
	balances map[string]decimal.Decimal
	closed   uint64
}

// NewOrderWorker wires the order worker.
func NewOrderWorker(
	cfg OrderWorkerConfig,
	end bus.Endpoint,
	queue *bus.Queue,
	engine *order.Engine,
	client exchange.Client,
	limiter *exchange.Limiter,
	st store.Store,
	state *coordinator.SharedState,
	metrics *obs.Metrics,
) *OrderWorker {
	return &OrderWorker{
		cfg:      cfg.withDefaults(),
		end:      end,
		queue:    queue,
		engine:   engine,
		client:   client,
		limiter:  limiter,
		store:    st,
		state:    state,
		metrics:  metrics,
		col:      order.NewCollection(),
		balances: make(map[string]decimal.Decimal),
	}
}

// Collection exposes the owned collection for diagnostics and tests.
func (w *OrderWorker) Collection() *order.Collection {
	return w.col
}

// Run is the order worker main loop. It exits when the stop flag is
// raised, the channel goes down, or an unrecoverable order error
// escalates.
func (w *OrderWorker) Run(ctx context.Context) error {
	defer w.end.Shutdown("order worker exited")

	if err := w.end.Send(ctx, bus.Message{Kind: bus.KindName, Name: w.cfg.Name}); err != nil {
		return errors.Wrap(err, "announce order worker")
	}
	if err := w.rehydrate(); err != nil {
		return err
	}
	if err := w.refresh(ctx); err != nil {
		logs.Warnf("initial account refresh failed: %v", err)
	}

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	tick := 0
	for {
		if w.state.Stopped() || !w.end.Up() {
			break
		}
		if stop := w.drainMessages(ctx); stop {
			break
		}
		if err := w.admit(ctx); err != nil {
			return err
		}
		if err := w.step(ctx); err != nil {
			return err
		}
		tick++
		if tick%w.cfg.RefreshEvery == 0 {
			if err := w.refresh(ctx); err != nil {
				logs.Warnf("account refresh failed: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return w.persist()
		case <-ticker.C:
		}
	}
	return w.persist()
}

// rehydrate reloads not-yet-closed orders persisted by a previous run.
func (w *OrderWorker) rehydrate() error {
	orders, err := w.store.LoadOpenOrders()
	if err != nil {
		return errors.Wrap(err, "rehydrate open orders")
	}
	if len(orders) == 0 {
		return nil
	}
	w.col.Update(orders)
	logs.Infof("rehydrated %d open orders", len(orders))
	return nil
}

func (w *OrderWorker) persist() error {
	if err := w.store.SaveOpenOrders(w.col.NotClosed()); err != nil {
		return errors.Wrap(err, "persist open orders")
	}
	return nil
}

// drainMessages handles everything waiting on the channel. Returns true
// when a stop arrived.
func (w *OrderWorker) drainMessages(ctx context.Context) bool {
	for w.end.Poll() {
		m, err := w.end.Recv(ctx)
		if err != nil {
			return true
		}
		switch m.Kind {
		case bus.KindStop:
			w.end.Shutdown("stop message")
			return true
		case bus.KindStart, bus.KindEmpty:
		default:
			logs.Warnf("order worker ignoring message %s", m.Kind)
		}
	}
	return false
}

// admit moves queued requests into the collection, allocating ids and
// refusing orders the balance cannot cover.
func (w *OrderWorker) admit(ctx context.Context) error {
	for i := 0; i < w.cfg.AdmitPerTick; i++ {
		req, ok := w.queue.TryPop()
		if !ok {
			return nil
		}
		seq, err := w.store.NextOrderSequence()
		if err != nil {
			return errors.Wrap(err, "allocate order id")
		}
		id := order.ComposeID(seq, req.StrategyID)
		o := order.New(id, req.Spec, req.Policy, req.Force)

		if err := w.precheckBalance(o); err != nil {
			w.metrics.IncRejected()
			logs.Warnf("order %d refused: %v", id, err)
			w.report(ctx, o, err.Error())
			continue
		}
		w.col.Append(o)
		logs.Infof("order %d admitted: %s %s %s %s", id, o.Input.Pair, o.Input.Side, o.Input.Kind, o.Input.Volume)
	}
	return nil
}

// precheckBalance refuses submissions the last known balances cannot
// fund. Unknown assets and unpriced market buys pass; the exchange has
// the final word.
func (w *OrderWorker) precheckBalance(o *order.Order) error {
	base, quote, ok := strings.Cut(o.Input.Pair, "/")
	if !ok {
		return nil
	}
	switch o.Input.Side {
	case exchange.SideBuy:
		if o.Input.Price.IsZero() {
			return nil
		}
		need := o.Input.Price.Mul(o.Input.Volume)
		if have, tracked := w.balances[quote]; tracked && have.LessThan(need) {
			return errors.Wrapf(exception.ErrExchangeInsufficientFunds, "need %s %s, have %s", need, quote, have)
		}
	case exchange.SideSell:
		if have, tracked := w.balances[base]; tracked && have.LessThan(o.Input.Volume) {
			return errors.Wrapf(exception.ErrExchangeInsufficientFunds, "need %s %s, have %s", o.Input.Volume, base, have)
		}
	}
	return nil
}

// step advances the highest-priority order one state-machine move.
func (w *OrderWorker) step(ctx context.Context) error {
	o, ok := w.col.PopFirst()
	if !ok {
		return nil
	}
	if o.Status == order.StatusClosed {
		w.report(ctx, o, "")
		return nil
	}

	if err := w.engine.Update(ctx, o); err != nil {
		if exception.IsIntegrity(err) {
			w.report(ctx, o, err.Error())
			return errors.Wrapf(err, "order %d integrity failure", o.ID)
		}
		// Fail fast on anything the engine could not absorb.
		return errors.Wrapf(err, "order %d update", o.ID)
	}

	if o.Status == order.StatusClosed {
		w.closed++
		w.report(ctx, o, "")
		return nil
	}
	w.col.Append(o)
	return nil
}

// report sends the terminal outcome to the coordinator for routing back
// to the owning strategy.
func (w *OrderWorker) report(ctx context.Context, o *order.Order, reason string) {
	fill := bus.Fill{
		OrderID:  o.ID,
		Pair:     o.Input.Pair,
		Side:     o.Input.Side.String(),
		Volume:   o.VolumeExecuted,
		AvgPrice: o.Result.AvgPrice,
		Fee:      o.Result.FeeQuote.Add(o.Result.FeeBase),
		Rejected: o.Abandoned || reason != "",
		Reason:   reason,
	}
	if o.Abandoned && fill.Reason == "" {
		fill.Reason = "abandoned to reconciliation record"
	}
	if err := w.end.Send(ctx, bus.Message{Kind: bus.KindOrder, Fill: &fill}); err != nil {
		logs.Warnf("fill report for order %d failed: %v", o.ID, err)
	}
}

// refresh pulls fees and balances and pushes them to the coordinator,
// along with an aggregate status update for the console.
func (w *OrderWorker) refresh(ctx context.Context) error {
	w.limiter.Wait(exchange.OpQueryFees)
	var fees map[string]decimal.Decimal
	err := exchange.Retry(ctx, exchange.DefaultReadRetry(w.metrics), w.client, exchange.OpQueryFees, func() error {
		var ferr error
		fees, ferr = w.client.QueryFees(ctx, "")
		return ferr
	})
	if err != nil {
		return errors.Wrap(err, "query fees")
	}

	w.limiter.Wait(exchange.OpQueryBalance)
	var balances map[string]decimal.Decimal
	err = exchange.Retry(ctx, exchange.DefaultReadRetry(w.metrics), w.client, exchange.OpQueryBalance, func() error {
		var berr error
		balances, berr = w.client.QueryBalance(ctx)
		return berr
	})
	if err != nil {
		return errors.Wrap(err, "query balance")
	}
	w.balances = balances

	if err := w.end.Send(ctx, bus.Message{Kind: bus.KindFees, Fees: fees}); err != nil {
		return err
	}
	if err := w.end.Send(ctx, bus.Message{Kind: bus.KindBalance, Balances: balances}); err != nil {
		return err
	}

	snapshot := w.metrics.Snapshot()
	status := bus.Status{
		OrdersOpen:      len(w.col.Open()),
		OrdersWaiting:   len(w.col.Waiting()),
		OrdersClosed:    w.closed,
		OrdersAbandoned: snapshot.OrdersAbandoned,
		FeeTier:         w.cfg.Tier.String(),
	}
	return w.end.Send(ctx, bus.Message{Kind: bus.KindStatusUpdate, Status: &status})
}
