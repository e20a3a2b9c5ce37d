package coordinator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

func newSimCoordinator(t *testing.T) (*Coordinator, *broker.SimBroker) {
	t.Helper()
	ctx, err := universe.NewContext(universe.Simulation)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	dir := t.TempDir()
	simCfg := broker.DefaultSimConfig()
	simCfg.BaseDir = dir
	simCfg.Seed = 7
	sim, err := broker.NewSimBroker(simCfg, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSimBroker: %v", err)
	}

	c, err := New(ctx, sim, dir, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, sim
}

func TestNewRejectsBrokerUniverseMismatch(t *testing.T) {
	ctx, err := universe.NewContext(universe.Paper)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	simCfg := broker.DefaultSimConfig()
	simCfg.BaseDir = t.TempDir()
	sim, err := broker.NewSimBroker(simCfg, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSimBroker: %v", err)
	}
	if _, err := New(ctx, sim, t.TempDir(), zap.NewNop()); err == nil {
		t.Fatal("expected universe mismatch error")
	}
}

func TestStopLossSynthesizesSell(t *testing.T) {
	c, sim := newSimCoordinator(t)

	cfg := c.Config()
	cfg.AutoTrade = true
	if err := c.UpdateConfig(cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	// Open a position so the synthesized sell has inventory to close.
	notional := decimal.NewFromInt(5000)
	_, err := sim.SubmitOrder(context.Background(), types.OrderRequest{
		Symbol:        "AAPL",
		Side:          types.SideBuy,
		Notional:      &notional,
		ClientOrderID: "seed-buy",
	})
	if err != nil {
		t.Fatalf("seed buy: %v", err)
	}
	position, err := sim.GetPosition(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}

	var executed []events.OrderExecuted
	c.Bus().Subscribe(events.TypeOrderExecuted, func(evt events.Event) error {
		executed = append(executed, evt.(events.OrderExecuted))
		return nil
	})

	trigger := events.StopLossTriggered{
		BaseEvent: events.NewBase(c.Context(), "test"),
		Position:  position,
		LossPct:   0.06,
	}
	if err := c.Bus().Publish(trigger); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(executed) != 1 {
		t.Fatalf("expected 1 OrderExecuted, got %d", len(executed))
	}
	if executed[0].Order.Symbol != "AAPL" || executed[0].Order.Side != types.SideSell {
		t.Errorf("order = %s %s, want sell AAPL", executed[0].Order.Side, executed[0].Order.Symbol)
	}
	if _, err := sim.GetPosition(context.Background(), "AAPL"); err == nil {
		t.Error("position survived the stop loss sell")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	c, _ := newSimCoordinator(t)

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !c.Running() {
		t.Fatal("coordinator not running after Start")
	}

	c.Stop()
	c.Stop()
	if c.Running() {
		t.Fatal("coordinator still running after Stop")
	}
}

func TestManualTradeBypassesAutoTradeGate(t *testing.T) {
	c, sim := newSimCoordinator(t)

	cfg := c.Config()
	cfg.AutoTrade = false
	if err := c.UpdateConfig(cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	if err := c.ManualTrade(context.Background(), "MSFT", types.ActionBuy, 2000, 0); err != nil {
		t.Fatalf("ManualTrade: %v", err)
	}
	position, err := sim.GetPosition(context.Background(), "MSFT")
	if err != nil {
		t.Fatalf("manual buy left no position: %v", err)
	}
	if position.Qty <= 0 {
		t.Errorf("position qty = %v", position.Qty)
	}
}

func TestSessionHeartbeatLandsUnderSystemDir(t *testing.T) {
	c, _ := newSimCoordinator(t)

	if err := c.sessionLogger.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	path := filepath.Join(c.baseDir, "logs", "simulation", "system", "sessions.jsonl")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("heartbeat not at %s: %v", path, err)
	}
	if _, err := os.Stat(filepath.Join(c.baseDir, "logs", "simulation", "sessions.jsonl")); !os.IsNotExist(err) {
		t.Errorf("heartbeat written outside system dir: %v", err)
	}
}

func TestMarketSnapshotCachesLastTick(t *testing.T) {
	c, _ := newSimCoordinator(t)

	if got := c.MarketSnapshot(); got.Account.Equity != 0 || len(got.Positions) != 0 {
		t.Fatalf("snapshot not empty before first tick: %+v", got)
	}

	tick := events.MarketDataReady{
		BaseEvent:  events.NewBase(c.Context(), "test"),
		Account:    types.Account{Equity: 101000, Cash: 50000},
		Positions:  []types.Position{{Symbol: "AAPL", Qty: 3}},
		MarketOpen: true,
	}
	if err := c.Bus().Publish(tick); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := c.MarketSnapshot()
	if got.Account.Equity != 101000 {
		t.Errorf("equity = %v", got.Account.Equity)
	}
	if len(got.Positions) != 1 || got.Positions[0].Symbol != "AAPL" {
		t.Errorf("positions = %+v", got.Positions)
	}
	if !got.MarketOpen {
		t.Error("market_open not carried through")
	}
}

func TestStatusShape(t *testing.T) {
	c, _ := newSimCoordinator(t)

	status := c.Status(context.Background())
	if status["universe"] != "simulation" || status["trading_mode"] != "simulation" {
		t.Errorf("universe fields = %v / %v", status["universe"], status["trading_mode"])
	}
	if status["running"] != false {
		t.Errorf("running = %v before Start", status["running"])
	}
	for _, key := range []string{"auto_trade", "market_open", "daily_trades", "max_daily_trades", "circuit_breaker", "session_id"} {
		if _, ok := status[key]; !ok {
			t.Errorf("status missing %q", key)
		}
	}

	names, ok := status["available_strategies"].([]string)
	if !ok || len(names) == 0 {
		t.Fatalf("available_strategies = %v", status["available_strategies"])
	}
	seen := map[string]bool{}
	for _, name := range names {
		seen[name] = true
	}
	for _, want := range []string{"momentum", "mean_reversion", "rsi", "breakout"} {
		if !seen[want] {
			t.Errorf("available_strategies missing %q", want)
		}
	}
}
