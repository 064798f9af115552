// Package ops loads and resolves the runtime configuration file.
package ops

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"main/internal/exchange"
	"main/internal/order"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Exchange   ExchangeConfig   `json:"exchange"`
	Engine     EngineConfig     `json:"engine"`
	Worker     WorkerConfig     `json:"worker"`
	Store      StoreConfig      `json:"store"`
	Recon      ReconConfig      `json:"recon"`
	Profiling  ProfilingConfig  `json:"profiling"`
	Strategies []StrategyConfig `json:"strategies"`
}

// ExchangeConfig selects the venue tier and paper-trading mode.
type ExchangeConfig struct {
	Tier     string `json:"tier"`
	Simulate *bool  `json:"simulate"`
}

// EngineConfig tunes the order state machine.
type EngineConfig struct {
	Tolerance     string `json:"tolerance"`
	DwellSeconds  int    `json:"dwellSeconds"`
	SubmitRetries int    `json:"submitRetries"`
	RetryDelaySec int    `json:"retryDelaySeconds"`
}

// WorkerConfig tunes the order worker loop.
type WorkerConfig struct {
	TickMillis   int `json:"tickMillis"`
	RefreshEvery int `json:"refreshEvery"`
	QueueSize    int `json:"queueSize"`
	AdmitPerTick int `json:"admitPerTick"`
}

// StoreConfig selects persistence. An empty DSN falls back to the
// in-memory store.
type StoreConfig struct {
	PostgresDSN string `json:"postgresDsn"`
}

// ReconConfig points at the reconciliation record file.
type ReconConfig struct {
	Path string `json:"path"`
}

// ProfilingConfig enables continuous profiling when an address is set.
type ProfilingConfig struct {
	ServerAddress string `json:"serverAddress"`
}

// StrategyConfig declares one strategy instance and its demo order.
type StrategyConfig struct {
	Name   string       `json:"name"`
	ID     int64        `json:"id"`
	Order  *OrderConfig `json:"order"`
	Policy string       `json:"policy"`
}

// OrderConfig describes a demo order a strategy places once on start.
type OrderConfig struct {
	Pair         string `json:"pair"`
	Side         string `json:"side"`
	Kind         string `json:"kind"`
	Volume       string `json:"volume"`
	Price        string `json:"price"`
	ForceSeconds int    `json:"forceSeconds"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Tier       exchange.Tier
	Simulate   bool
	Engine     order.EngineConfig
	Worker     ResolvedWorker
	Store      StoreConfig
	Recon      ReconConfig
	Profiling  ProfilingConfig
	Strategies []ResolvedStrategy
}

// ResolvedWorker is the validated worker tuning.
type ResolvedWorker struct {
	Tick         time.Duration
	RefreshEvery int
	QueueSize    int
	AdmitPerTick int
}

// ResolvedStrategy is one validated strategy declaration.
type ResolvedStrategy struct {
	Name   string
	ID     int64
	Policy order.Policy
	Order  *ResolvedOrder
}

// ResolvedOrder is the validated demo order.
type ResolvedOrder struct {
	Spec  exchange.OrderSpec
	Force time.Duration
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return Resolve(cfg)
}

// Resolve validates a parsed config and fills defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	tier := exchange.ParseTier(cfg.Exchange.Tier)

	engine, err := resolveEngine(cfg.Engine)
	if err != nil {
		return Loaded{}, err
	}
	engine.Simulate = cfg.Exchange.Simulate == nil || *cfg.Exchange.Simulate

	worker := resolveWorker(cfg.Worker)

	strategies := make([]ResolvedStrategy, 0, len(cfg.Strategies))
	seen := make(map[int64]string, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		rs, err := resolveStrategy(sc)
		if err != nil {
			return Loaded{}, err
		}
		if prev, dup := seen[rs.ID]; dup {
			return Loaded{}, fmt.Errorf("strategy id %d declared by both %q and %q", rs.ID, prev, rs.Name)
		}
		seen[rs.ID] = rs.Name
		strategies = append(strategies, rs)
	}

	return Loaded{
		Tier:       tier,
		Simulate:   engine.Simulate,
		Engine:     engine,
		Worker:     worker,
		Store:      cfg.Store,
		Recon:      cfg.Recon,
		Profiling:  cfg.Profiling,
		Strategies: strategies,
	}, nil
}

func resolveEngine(cfg EngineConfig) (order.EngineConfig, error) {
	out := order.EngineConfig{}
	if cfg.Tolerance != "" {
		tol, err := decimal.NewFromString(cfg.Tolerance)
		if err != nil {
			return out, fmt.Errorf("invalid tolerance %q: %w", cfg.Tolerance, err)
		}
		if tol.IsNegative() {
			return out, fmt.Errorf("tolerance must be >= 0")
		}
		out.Tolerance = tol
	}
	if cfg.DwellSeconds > 0 {
		out.Dwell = time.Duration(cfg.DwellSeconds) * time.Second
	}
	if cfg.SubmitRetries > 0 {
		out.SubmitRetry.MaxAttempts = cfg.SubmitRetries
	}
	if cfg.RetryDelaySec > 0 {
		delay := time.Duration(cfg.RetryDelaySec) * time.Second
		out.SubmitRetry.Delay = delay
		out.ReadRetry.Delay = delay
	}
	return out, nil
}

func resolveWorker(cfg WorkerConfig) ResolvedWorker {
	out := ResolvedWorker{
		Tick:         time.Second,
		RefreshEvery: 30,
		QueueSize:    64,
		AdmitPerTick: 8,
	}
	if cfg.TickMillis > 0 {
		out.Tick = time.Duration(cfg.TickMillis) * time.Millisecond
	}
	if cfg.RefreshEvery > 0 {
		out.RefreshEvery = cfg.RefreshEvery
	}
	if cfg.QueueSize > 0 {
		out.QueueSize = cfg.QueueSize
	}
	if cfg.AdmitPerTick > 0 {
		out.AdmitPerTick = cfg.AdmitPerTick
	}
	return out
}

func resolveStrategy(cfg StrategyConfig) (ResolvedStrategy, error) {
	if cfg.Name == "" {
		return ResolvedStrategy{}, fmt.Errorf("strategy name is empty")
	}
	if cfg.ID <= 0 || cfg.ID >= order.IDBase {
		return ResolvedStrategy{}, fmt.Errorf("strategy %s: id must be in 1..%d", cfg.Name, order.IDBase-1)
	}
	policy, err := parsePolicy(cfg.Policy)
	if err != nil {
		return ResolvedStrategy{}, fmt.Errorf("strategy %s: %w", cfg.Name, err)
	}
	out := ResolvedStrategy{Name: cfg.Name, ID: cfg.ID, Policy: policy}
	if cfg.Order != nil {
		ro, err := resolveOrder(*cfg.Order)
		if err != nil {
			return ResolvedStrategy{}, fmt.Errorf("strategy %s: %w", cfg.Name, err)
		}
		out.Order = &ro
	}
	return out, nil
}

func resolveOrder(cfg OrderConfig) (ResolvedOrder, error) {
	if cfg.Pair == "" {
		return ResolvedOrder{}, fmt.Errorf("order pair is empty")
	}
	side, err := parseSide(cfg.Side)
	if err != nil {
		return ResolvedOrder{}, err
	}
	kind, err := parseKind(cfg.Kind)
	if err != nil {
		return ResolvedOrder{}, err
	}
	volume, err := decimal.NewFromString(cfg.Volume)
	if err != nil || !volume.IsPositive() {
		return ResolvedOrder{}, fmt.Errorf("order volume must be > 0, got %q", cfg.Volume)
	}
	price := decimal.Zero
	if cfg.Price != "" {
		price, err = decimal.NewFromString(cfg.Price)
		if err != nil {
			return ResolvedOrder{}, fmt.Errorf("invalid order price %q: %w", cfg.Price, err)
		}
	}
	if kind == exchange.KindLimit && !price.IsPositive() {
		return ResolvedOrder{}, fmt.Errorf("order price must be > 0 for limit orders")
	}
	force := time.Duration(0)
	if cfg.ForceSeconds > 0 {
		force = time.Duration(cfg.ForceSeconds) * time.Second
	}
	return ResolvedOrder{
		Spec: exchange.OrderSpec{
			Pair:   cfg.Pair,
			Side:   side,
			Kind:   kind,
			Volume: volume,
			Price:  price,
		},
		Force: force,
	}, nil
}

func parsePolicy(s string) (order.Policy, error) {
	switch s {
	case "", "submit_and_leave":
		return order.PolicySubmitAndLeave, nil
	case "best_limit":
		return order.PolicyBestLimit, nil
	default:
		return 0, fmt.Errorf("unknown policy %q", s)
	}
}

func parseSide(s string) (exchange.Side, error) {
	switch s {
	case "buy":
		return exchange.SideBuy, nil
	case "sell":
		return exchange.SideSell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func parseKind(s string) (exchange.Kind, error) {
	switch s {
	case "", "limit":
		return exchange.KindLimit, nil
	case "market":
		return exchange.KindMarket, nil
	default:
		return 0, fmt.Errorf("unknown order kind %q", s)
	}
}
