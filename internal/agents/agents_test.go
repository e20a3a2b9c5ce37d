package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/monitoring"
	"github.com/marketwatch-trading/backend/internal/risk"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// stubBroker is a canned-response Broker for agent tests.
type stubBroker struct {
	u          universe.Universe
	marketOpen bool
	account    types.Account
	positions  []types.Position
	prices     map[string]float64
	bars       map[string][]types.Bar
	submitted  []types.OrderRequest
	submit     func(req types.OrderRequest) (*types.Order, error)
}

func (s *stubBroker) Universe() universe.Universe { return s.u }

func (s *stubBroker) IsMarketOpen(context.Context) (bool, error) { return s.marketOpen, nil }

func (s *stubBroker) GetAccount(context.Context) (types.Account, error) { return s.account, nil }

func (s *stubBroker) GetPortfolioValue(context.Context) (float64, error) {
	return s.account.PortfolioValue, nil
}

func (s *stubBroker) GetBuyingPower(context.Context) (float64, error) {
	return s.account.BuyingPower, nil
}

func (s *stubBroker) GetPositions(context.Context) ([]types.Position, error) {
	return s.positions, nil
}

func (s *stubBroker) GetPosition(_ context.Context, symbol string) (types.Position, error) {
	for _, pos := range s.positions {
		if pos.Symbol == symbol {
			return pos, nil
		}
	}
	return types.Position{}, fmt.Errorf("%w: %s", broker.ErrNoPosition, symbol)
}

func (s *stubBroker) GetCurrentPrice(_ context.Context, symbol string) (float64, error) {
	if price, ok := s.prices[symbol]; ok {
		return price, nil
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}

func (s *stubBroker) GetBars(_ context.Context, symbol string, days int) ([]types.Bar, error) {
	if bars, ok := s.bars[symbol]; ok {
		return bars, nil
	}
	return nil, fmt.Errorf("no bars for %s", symbol)
}

func (s *stubBroker) GetSnapshots(_ context.Context, symbols []string) (map[string]*types.Snapshot, error) {
	out := make(map[string]*types.Snapshot, len(symbols))
	for _, symbol := range symbols {
		price, ok := s.prices[symbol]
		if !ok {
			continue
		}
		out[symbol] = &types.Snapshot{LatestTradePrice: price}
	}
	return out, nil
}

func (s *stubBroker) SubmitOrder(_ context.Context, req types.OrderRequest) (*types.Order, error) {
	s.submitted = append(s.submitted, req)
	if s.submit != nil {
		return s.submit(req)
	}
	order := &types.Order{
		ID:            "order-1",
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Status:        "filled",
		SubmittedAt:   time.Now().UTC(),
	}
	if req.Qty != nil {
		order.Qty = types.Float64Ptr(req.Qty.InexactFloat64())
	}
	if req.Notional != nil {
		order.Notional = types.Float64Ptr(req.Notional.InexactFloat64())
	}
	return order, nil
}

func (s *stubBroker) GetAssetName(_ context.Context, symbol string) (string, error) {
	return symbol, nil
}

type countStub struct{ n int }

func (c *countStub) IncrementTradeCount() { c.n++ }

func newTestBus(t *testing.T) (*universe.Context, *events.Bus) {
	t.Helper()
	ctx, err := universe.NewContext(universe.Simulation)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	bus, err := events.NewBus(ctx, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	return ctx, bus
}

func staticConfig(cfg types.RuntimeConfig) ConfigFn {
	return func() types.RuntimeConfig { return cfg }
}

func TestRiskAgentRejectsSectorOverConcentration(t *testing.T) {
	ctx, bus := newTestBus(t)

	cfg := types.DefaultRuntimeConfig()
	cfg.MaxDailyTrades = 5
	cfg.MaxOpenPositions = 20
	cfg.MaxPositionPct = 0.15
	cfg.MinTradeValue = 1
	cfg.SizerScaleByStrength = false
	cfg.MaxSectorExposurePct = 0.30
	cfg.MaxCorrelatedExposurePct = 1.0
	cfg.SectorMapPath = ""
	cfg.SectorMapJSON = `{"AAA":"Technology","BBB":"Technology","CCC":"Technology"}`

	b := &stubBroker{
		u: universe.Simulation,
		account: types.Account{
			PortfolioValue: 100000,
			BuyingPower:    60000,
			Equity:         100000,
		},
		positions: []types.Position{
			{Symbol: "BBB", Qty: 200, MarketValue: 20000},
			{Symbol: "CCC", Qty: 200, MarketValue: 20000},
		},
	}

	sizer := risk.NewPositionSizer(risk.SizerConfig{ScaleByStrength: false})
	breaker := risk.NewCircuitBreaker(risk.DefaultCircuitBreakerConfig(), zap.NewNop())
	agent := NewRiskAgent(ctx, bus, b, sizer, breaker, staticConfig(cfg), zap.NewNop())
	defer agent.Stop()

	var failed []events.RiskCheckFailed
	var passed []events.RiskCheckPassed
	bus.Subscribe(events.TypeRiskCheckFailed, func(evt events.Event) error {
		failed = append(failed, evt.(events.RiskCheckFailed))
		return nil
	})
	bus.Subscribe(events.TypeRiskCheckPassed, func(evt events.Event) error {
		passed = append(passed, evt.(events.RiskCheckPassed))
		return nil
	})

	sig := events.SignalGenerated{
		BaseEvent: events.NewBase(ctx, "test"),
		Signal: types.TradingSignal{
			Symbol:   "AAA",
			Action:   types.ActionBuy,
			Strength: 0.9,
		},
	}
	if err := bus.Publish(sig); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(passed) != 0 {
		t.Fatalf("expected no approvals, got %d", len(passed))
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 rejection, got %d", len(failed))
	}
	if !strings.Contains(failed[0].Reason, "Sector exposure") {
		t.Errorf("reason = %q, want sector exposure", failed[0].Reason)
	}
	if failed[0].ReasonCode != "risk_sector_exposure" {
		t.Errorf("reason code = %q", failed[0].ReasonCode)
	}
	if len(b.submitted) != 0 {
		t.Errorf("broker saw %d orders, want 0", len(b.submitted))
	}
}

func TestRiskAgentDailyLimit(t *testing.T) {
	ctx, bus := newTestBus(t)

	cfg := types.DefaultRuntimeConfig()
	cfg.MaxDailyTrades = 1
	cfg.SectorMapPath = ""
	cfg.MaxSectorExposurePct = 1.0

	b := &stubBroker{
		u:       universe.Simulation,
		account: types.Account{PortfolioValue: 100000, BuyingPower: 100000},
	}
	sizer := risk.NewPositionSizer(risk.DefaultSizerConfig())
	breaker := risk.NewCircuitBreaker(risk.DefaultCircuitBreakerConfig(), zap.NewNop())
	agent := NewRiskAgent(ctx, bus, b, sizer, breaker, staticConfig(cfg), zap.NewNop())
	defer agent.Stop()

	agent.IncrementTradeCount()

	var failed []events.RiskCheckFailed
	bus.Subscribe(events.TypeRiskCheckFailed, func(evt events.Event) error {
		failed = append(failed, evt.(events.RiskCheckFailed))
		return nil
	})

	sig := events.SignalGenerated{
		BaseEvent: events.NewBase(ctx, "test"),
		Signal:    types.TradingSignal{Symbol: "AAA", Action: types.ActionBuy, Strength: 1},
	}
	if err := bus.Publish(sig); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 rejection, got %d", len(failed))
	}
	if failed[0].ReasonCode != "risk_daily_limit" {
		t.Errorf("reason code = %q", failed[0].ReasonCode)
	}
}

func TestRiskAgentSellWithoutPosition(t *testing.T) {
	ctx, bus := newTestBus(t)

	cfg := types.DefaultRuntimeConfig()
	cfg.SectorMapPath = ""
	b := &stubBroker{
		u:       universe.Simulation,
		account: types.Account{PortfolioValue: 100000, BuyingPower: 100000},
	}
	sizer := risk.NewPositionSizer(risk.DefaultSizerConfig())
	breaker := risk.NewCircuitBreaker(risk.DefaultCircuitBreakerConfig(), zap.NewNop())
	agent := NewRiskAgent(ctx, bus, b, sizer, breaker, staticConfig(cfg), zap.NewNop())
	defer agent.Stop()

	var failed []events.RiskCheckFailed
	bus.Subscribe(events.TypeRiskCheckFailed, func(evt events.Event) error {
		failed = append(failed, evt.(events.RiskCheckFailed))
		return nil
	})

	sig := events.SignalGenerated{
		BaseEvent: events.NewBase(ctx, "test"),
		Signal:    types.TradingSignal{Symbol: "ZZZ", Action: types.ActionSell, Strength: 1},
	}
	if err := bus.Publish(sig); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 rejection, got %d", len(failed))
	}
	if failed[0].ReasonCode != "risk_no_position" {
		t.Errorf("reason code = %q", failed[0].ReasonCode)
	}
	if !strings.Contains(failed[0].Reason, "No position in ZZZ") {
		t.Errorf("reason = %q", failed[0].Reason)
	}
}

func TestExecutionAgentClientOrderIDCollision(t *testing.T) {
	ctx, bus := newTestBus(t)

	b := &stubBroker{u: universe.Simulation}
	agent := NewExecutionAgent(ctx, bus, b, nil, staticConfig(types.DefaultRuntimeConfig()), zap.NewNop())
	defer agent.Stop()

	ms := int64(1700000000000)
	agent.nowMS = func() int64 { return ms }

	first := agent.clientOrderID("auto", "AAPL")
	second := agent.clientOrderID("auto", "AAPL")
	third := agent.clientOrderID("auto", "AAPL")

	if first != "auto-AAPL-1700000000000" {
		t.Errorf("first id = %q", first)
	}
	if second != "auto-AAPL-1700000000000-1" || third != "auto-AAPL-1700000000000-2" {
		t.Errorf("collision ids = %q, %q", second, third)
	}

	ms++
	fourth := agent.clientOrderID("auto", "BRK.B")
	if fourth != "auto-BRKB-1700000000001" {
		t.Errorf("fourth id = %q, want sanitized symbol", fourth)
	}
}

func TestExecutionAgentSkipsWhenAutoTradeOff(t *testing.T) {
	ctx, bus := newTestBus(t)

	cfg := types.DefaultRuntimeConfig()
	cfg.AutoTrade = false

	b := &stubBroker{u: universe.Simulation}
	counter := &countStub{}
	agent := NewExecutionAgent(ctx, bus, b, counter, staticConfig(cfg), zap.NewNop())
	defer agent.Stop()

	approved := events.RiskCheckPassed{
		BaseEvent:  events.NewBase(ctx, "test"),
		Signal:     types.TradingSignal{Symbol: "AAA", Action: types.ActionBuy},
		TradeValue: 5000,
	}
	if err := bus.Publish(approved); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(b.submitted) != 0 {
		t.Fatalf("broker saw %d orders with auto trade off", len(b.submitted))
	}
	if counter.n != 0 {
		t.Errorf("trade counter moved to %d", counter.n)
	}
}

func TestExecutionAgentBuySubmitsNotional(t *testing.T) {
	ctx, bus := newTestBus(t)

	cfg := types.DefaultRuntimeConfig()
	cfg.AutoTrade = true

	b := &stubBroker{u: universe.Simulation}
	counter := &countStub{}
	agent := NewExecutionAgent(ctx, bus, b, counter, staticConfig(cfg), zap.NewNop())
	defer agent.Stop()

	var executed []events.OrderExecuted
	bus.Subscribe(events.TypeOrderExecuted, func(evt events.Event) error {
		executed = append(executed, evt.(events.OrderExecuted))
		return nil
	})

	approved := events.RiskCheckPassed{
		BaseEvent:  events.NewBase(ctx, "test"),
		Signal:     types.TradingSignal{Symbol: "AAA", Action: types.ActionBuy},
		TradeValue: 1500.4567,
	}
	if err := bus.Publish(approved); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(b.submitted) != 1 {
		t.Fatalf("broker saw %d orders, want 1", len(b.submitted))
	}
	req := b.submitted[0]
	if req.Notional == nil || req.Notional.String() != "1500.46" {
		t.Errorf("notional = %v, want 1500.46", req.Notional)
	}
	if req.Qty != nil {
		t.Errorf("qty set on notional buy")
	}
	if len(executed) != 1 {
		t.Fatalf("expected 1 OrderExecuted, got %d", len(executed))
	}
	if counter.n != 1 {
		t.Errorf("trade counter = %d, want 1", counter.n)
	}
}

func TestExecutionAgentSellUsesPositionQty(t *testing.T) {
	ctx, bus := newTestBus(t)

	cfg := types.DefaultRuntimeConfig()
	cfg.AutoTrade = true

	b := &stubBroker{
		u: universe.Simulation,
		positions: []types.Position{
			{Symbol: "AAA", Qty: 12.5, MarketValue: 1250, CurrentPrice: 100},
		},
	}
	agent := NewExecutionAgent(ctx, bus, b, nil, staticConfig(cfg), zap.NewNop())
	defer agent.Stop()

	approved := events.RiskCheckPassed{
		BaseEvent:  events.NewBase(ctx, "test"),
		Signal:     types.TradingSignal{Symbol: "AAA", Action: types.ActionSell},
		TradeValue: 1250,
	}
	if err := bus.Publish(approved); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(b.submitted) != 1 {
		t.Fatalf("broker saw %d orders, want 1", len(b.submitted))
	}
	req := b.submitted[0]
	if req.Qty == nil || req.Qty.InexactFloat64() != 12.5 {
		t.Errorf("sell qty = %v, want 12.5", req.Qty)
	}
}

func TestExecutionAgentReportsUnfilledOrder(t *testing.T) {
	ctx, bus := newTestBus(t)

	cfg := types.DefaultRuntimeConfig()
	cfg.AutoTrade = true

	b := &stubBroker{u: universe.Simulation}
	b.submit = func(req types.OrderRequest) (*types.Order, error) {
		return &types.Order{ID: "o", Symbol: req.Symbol, Side: req.Side, Status: "rejected"}, nil
	}
	counter := &countStub{}
	agent := NewExecutionAgent(ctx, bus, b, counter, staticConfig(cfg), zap.NewNop())
	defer agent.Stop()

	var failures []events.OrderFailed
	bus.Subscribe(events.TypeOrderFailed, func(evt events.Event) error {
		failures = append(failures, evt.(events.OrderFailed))
		return nil
	})

	approved := events.RiskCheckPassed{
		BaseEvent:  events.NewBase(ctx, "test"),
		Signal:     types.TradingSignal{Symbol: "AAA", Action: types.ActionBuy},
		TradeValue: 500,
	}
	if err := bus.Publish(approved); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 OrderFailed, got %d", len(failures))
	}
	if !strings.Contains(failures[0].Reason, "status=rejected") {
		t.Errorf("failure reason = %q", failures[0].Reason)
	}
	if counter.n != 0 {
		t.Errorf("trade counter moved on unfilled order")
	}
}

func TestMonitorAgentTriggersStopLoss(t *testing.T) {
	ctx, bus := newTestBus(t)

	cfg := types.DefaultRuntimeConfig()
	cfg.StopLossPct = 0.05

	b := &stubBroker{
		u:          universe.Simulation,
		marketOpen: false,
		positions: []types.Position{
			{Symbol: "AAA", Qty: 10, AvgEntryPrice: 100, CurrentPrice: 94, MarketValue: 940},
			{Symbol: "BBB", Qty: 10, AvgEntryPrice: 100, CurrentPrice: 98, MarketValue: 980},
		},
	}
	agent := NewMonitorAgent(ctx, bus, b, staticConfig(cfg), zap.NewNop())

	var triggered []events.StopLossTriggered
	bus.Subscribe(events.TypeStopLossTriggered, func(evt events.Event) error {
		triggered = append(triggered, evt.(events.StopLossTriggered))
		return nil
	})

	if err := agent.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(triggered) != 1 {
		t.Fatalf("expected 1 stop loss, got %d", len(triggered))
	}
	if triggered[0].Position.Symbol != "AAA" {
		t.Errorf("triggered symbol = %q", triggered[0].Position.Symbol)
	}
	if got := triggered[0].LossPct; got < 0.0599 || got > 0.0601 {
		t.Errorf("loss pct = %v, want ~0.06", got)
	}
}

func TestAlertAgentBoundedFeed(t *testing.T) {
	ctx, bus := newTestBus(t)

	agent := NewAlertAgent(ctx, bus, staticConfig(types.DefaultRuntimeConfig()), zap.NewNop())
	defer agent.Stop()

	var broadcasts []LogEntry
	agent.SetBroadcaster(func(entry LogEntry) { broadcasts = append(broadcasts, entry) })

	for i := 0; i < alertLogSize+25; i++ {
		evt := events.LogEvent{
			BaseEvent: events.NewBase(ctx, "test"),
			Level:     "info",
			Message:   fmt.Sprintf("entry %d", i),
		}
		if err := bus.Publish(evt); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	logs := agent.RecentLogs(0)
	if len(logs) != alertLogSize {
		t.Fatalf("feed length = %d, want %d", len(logs), alertLogSize)
	}
	if logs[len(logs)-1].Message != fmt.Sprintf("entry %d", alertLogSize+24) {
		t.Errorf("newest entry = %q", logs[len(logs)-1].Message)
	}
	if len(broadcasts) != alertLogSize+25 {
		t.Errorf("broadcast count = %d", len(broadcasts))
	}

	last5 := agent.RecentLogs(5)
	if len(last5) != 5 {
		t.Errorf("RecentLogs(5) returned %d entries", len(last5))
	}
}

func TestUICheckAgentRecordsResult(t *testing.T) {
	ctx, bus := newTestBus(t)

	page := `<html><body>
		<div id="metric-return"></div>
		<div id="position-pie-chart"></div>
		<table id="analytics-trades"></table>
	</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	cfg := types.DefaultRuntimeConfig()
	cfg.UICheckEnabled = true
	cfg.UICheckURL = srv.URL

	writer := monitoring.NewSystemLogWriter(universe.Simulation, t.TempDir(), "ui_checks.jsonl", 0)
	agent := NewUICheckAgent(ctx, bus, writer, staticConfig(cfg), zap.NewNop())

	var published []events.LogEvent
	bus.Subscribe(events.TypeLog, func(evt events.Event) error {
		published = append(published, evt.(events.LogEvent))
		return nil
	})

	if err := agent.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	raw, err := os.ReadFile(writer.Path())
	if err != nil {
		t.Fatalf("read ui checks: %v", err)
	}
	var row struct {
		Status string         `json:"status"`
		URL    string         `json:"url"`
		Detail map[string]any `json:"detail"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &row); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	if row.Status != "ok" {
		t.Errorf("status = %q, detail = %v", row.Status, row.Detail)
	}
	if row.URL != srv.URL {
		t.Errorf("url = %q", row.URL)
	}
	for _, key := range []string{"has_metric_return", "has_pie_chart", "has_trades_table"} {
		if present, _ := row.Detail[key].(bool); !present {
			t.Errorf("%s = %v", key, row.Detail[key])
		}
	}

	if len(published) != 1 || published[0].Level != "info" {
		t.Fatalf("published = %+v", published)
	}
}

func TestUICheckAgentWarnsOnMissingElements(t *testing.T) {
	ctx, bus := newTestBus(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="metric-return"></div></body></html>`)
	}))
	defer srv.Close()

	cfg := types.DefaultRuntimeConfig()
	cfg.UICheckEnabled = true
	cfg.UICheckURL = srv.URL

	writer := monitoring.NewSystemLogWriter(universe.Simulation, t.TempDir(), "ui_checks.jsonl", 0)
	agent := NewUICheckAgent(ctx, bus, writer, staticConfig(cfg), zap.NewNop())

	var published []events.LogEvent
	bus.Subscribe(events.TypeLog, func(evt events.Event) error {
		published = append(published, evt.(events.LogEvent))
		return nil
	})

	if err := agent.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	raw, err := os.ReadFile(writer.Path())
	if err != nil {
		t.Fatalf("read ui checks: %v", err)
	}
	var row struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &row); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	if row.Status != "warn" {
		t.Errorf("status = %q", row.Status)
	}
	if len(published) != 1 || published[0].Level != "warning" {
		t.Fatalf("published = %+v", published)
	}
}

func TestUICheckAgentDisabledWritesNothing(t *testing.T) {
	ctx, bus := newTestBus(t)

	cfg := types.DefaultRuntimeConfig()
	cfg.UICheckURL = "http://127.0.0.1:1"

	writer := monitoring.NewSystemLogWriter(universe.Simulation, t.TempDir(), "ui_checks.jsonl", 0)
	agent := NewUICheckAgent(ctx, bus, writer, staticConfig(cfg), zap.NewNop())

	if err := agent.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, err := os.Stat(writer.Path()); !os.IsNotExist(err) {
		t.Errorf("ui check log written while disabled: %v", err)
	}
}
