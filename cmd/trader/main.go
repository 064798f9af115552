package main

import (
	"context"
	"flag"
	"os"
	"sync"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/bus"
	"main/internal/coordinator"
	"main/internal/exchange"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/order"
	"main/internal/recon"
	"main/internal/store"
	"main/internal/worker"
	"main/pkg/conn"
)

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (overrides config)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed: %v", err)
		os.Exit(1)
	}

	addr := loaded.Profiling.ServerAddress
	if *pyroscopeAddr != "" {
		addr = *pyroscopeAddr
	}
	if addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trader",
			ServerAddress:   addr,
			Tags: map[string]string{
				"env": "local",
			},
			Logger: emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("pyroscope start failed: %v", err)
			os.Exit(1)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	if err := run(context.Background(), loaded); err != nil {
		logs.Errorf("trader exited: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, loaded ops.Loaded) error {
	metrics := obs.NewMetrics()

	st, closeStore, err := openStore(loaded.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, closeSink, err := openRecon(loaded.Recon)
	if err != nil {
		return err
	}
	defer closeSink()

	client := seededPaperClient(loaded)
	limiter := exchange.NewLimiter(loaded.Tier, metrics)
	engine := order.NewEngine(client, limiter, sink, metrics, loaded.Engine)
	queue := bus.NewQueue(loaded.Worker.QueueSize)
	state := coordinator.NewSharedState()
	coord := coordinator.New(state, metrics, coordinator.Config{})

	var wg sync.WaitGroup
	spawn := func(name string, role bus.Role, start func(bus.Endpoint) error) error {
		end, err := coord.Attach(ctx, role)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(end); err != nil {
				logs.Errorf("%s worker exited: %v", name, err)
				coord.Stop(name + " failure")
			}
		}()
		return nil
	}

	err = spawn("order", bus.RoleOrderWorker, func(end bus.Endpoint) error {
		ow := worker.NewOrderWorker(worker.OrderWorkerConfig{
			Tick:         loaded.Worker.Tick,
			RefreshEvery: loaded.Worker.RefreshEvery,
			AdmitPerTick: loaded.Worker.AdmitPerTick,
			Tier:         loaded.Tier,
		}, end, queue, engine, client, limiter, st, state, metrics)
		return ow.Run(ctx)
	})
	if err != nil {
		return err
	}

	err = spawn("performance", bus.RolePerformance, func(end bus.Endpoint) error {
		return worker.NewPerformance(end).Run(ctx)
	})
	if err != nil {
		return err
	}

	err = spawn("console", bus.RoleConsole, func(end bus.Endpoint) error {
		console := worker.NewConsole(end,
			func(status bus.Status) {
				logs.Infof("status: open=%d waiting=%d closed=%d abandoned=%d tier=%s workers=%v",
					status.OrdersOpen, status.OrdersWaiting, status.OrdersClosed,
					status.OrdersAbandoned, status.FeeTier, status.Workers)
			},
			func(names []string) {
				logs.Infof("running workers: %v", names)
			},
		)
		return console.Run(ctx)
	})
	if err != nil {
		return err
	}

	for _, sc := range loaded.Strategies {
		sc := sc
		err = spawn(sc.Name, bus.Role(sc.ID), func(end bus.Endpoint) error {
			s, err := worker.NewStrategy(sc.Name, sc.ID, end, queue,
				demoSignal(sc), demoOnFill(sc.Name), metrics)
			if err != nil {
				return err
			}
			return s.Run(ctx)
		})
		if err != nil {
			return err
		}
	}

	logs.Infof("trader up: tier=%s simulate=%v strategies=%d", loaded.Tier, loaded.Simulate, len(loaded.Strategies))

	<-sys.Shutdown()
	logs.Info("shutdown signal received")
	coord.Stop("os signal")
	wg.Wait()
	queue.Close()
	return nil
}

// demoSignal places the configured demo order once, then idles.
func demoSignal(sc ops.ResolvedStrategy) worker.SignalFunc {
	placed := false
	return func(worker.MarketView) (bus.Request, bool) {
		if placed || sc.Order == nil {
			return bus.Request{}, false
		}
		placed = true
		req := bus.Request{
			Spec:   sc.Order.Spec,
			Policy: sc.Policy,
		}
		if sc.Order.Force > 0 {
			req.Force = time.Now().Add(sc.Order.Force)
		}
		return req, true
	}
}

func demoOnFill(name string) worker.FillFunc {
	return func(fill bus.Fill) {
		if fill.Rejected {
			logs.Warnf("%s: order %d rejected: %s", name, fill.OrderID, fill.Reason)
			return
		}
		logs.Infof("%s: order %d filled %s @ %s (fee %s)", name, fill.OrderID, fill.Volume, fill.AvgPrice, fill.Fee)
	}
}

func openStore(cfg ops.StoreConfig) (store.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		return store.NewMemory(), func() {}, nil
	}
	client, err := conn.New(conn.Option{ConnString: cfg.PostgresDSN})
	if err != nil {
		return nil, nil, err
	}
	pg, err := store.NewPG(client)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logs.Warnf("store close failed: %v", err)
		}
	}, nil
}

func openRecon(cfg ops.ReconConfig) (recon.Sink, func(), error) {
	if cfg.Path == "" {
		return recon.Discard{}, func() {}, nil
	}
	w, err := recon.NewWriter(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	return w, func() {
		if err := w.Close(); err != nil {
			logs.Warnf("recon close failed: %v", err)
		}
	}, nil
}

// seededPaperClient builds the paper venue with enough balance and a
// resting quote for every configured pair.
func seededPaperClient(loaded ops.Loaded) *exchange.PaperClient {
	client := exchange.NewPaperClient()
	feeRate := decimal.NewFromFloat(0.0026)
	seeded := make(map[string]bool)
	for _, sc := range loaded.Strategies {
		if sc.Order == nil || seeded[sc.Order.Spec.Pair] {
			continue
		}
		seeded[sc.Order.Spec.Pair] = true
		price := sc.Order.Spec.Price
		if price.IsZero() {
			price = decimal.NewFromInt(100)
		}
		client.SetFee(sc.Order.Spec.Pair, feeRate)
		client.SetTicker(sc.Order.Spec.Pair, exchange.Ticker{
			Last:    price,
			BestBid: price,
			BestAsk: price,
		})
		if base, quote, ok := splitPair(sc.Order.Spec.Pair); ok {
			client.SetBalance(base, decimal.NewFromInt(1_000_000))
			client.SetBalance(quote, decimal.NewFromInt(1_000_000))
		}
	}
	return client
}

func splitPair(pair string) (base, quote string, ok bool) {
	for i := range pair {
		if pair[i] == '/' {
			return pair[:i], pair[i+1:], true
		}
	}
	return "", "", false
}
