// Package coordinator wires the event bus, broker, agents and scheduler
// into one universe-bound trading runtime.
package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/agents"
	"github.com/marketwatch-trading/backend/internal/analytics"
	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/monitoring"
	"github.com/marketwatch-trading/backend/internal/risk"
	"github.com/marketwatch-trading/backend/internal/scheduler"
	"github.com/marketwatch-trading/backend/internal/strategy"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// Coordinator owns the agent pipeline for exactly one universe. Every
// component it constructs is bound to the same universe context; a broker
// from another universe is rejected at construction.
type Coordinator struct {
	ctx     *universe.Context
	logger  *zap.Logger
	baseDir string

	bus    *events.Bus
	broker broker.Broker
	store  *analytics.Store
	sched  *scheduler.Scheduler

	dataAgent      *agents.DataAgent
	signalAgent    *agents.SignalAgent
	riskAgent      *agents.RiskAgent
	executionAgent *agents.ExecutionAgent
	monitorAgent   *agents.MonitorAgent
	alertAgent     *agents.AlertAgent
	analyticsAgent *agents.AnalyticsAgent
	obsAgent       *agents.ObservabilityAgent
	sessionLogger  *agents.SessionLoggerAgent
	replayRecorder *agents.ReplayRecorderAgent
	testAgent      *agents.TestAgent
	uiCheckAgent   *agents.UICheckAgent

	stopLossSub *events.Subscription
	marketSub   *events.Subscription

	mu         sync.Mutex
	cfg        types.RuntimeConfig
	cfgPath    string
	running    bool
	lastError  string
	startedAt  time.Time
	lastMarket MarketSnapshot
}

// MarketSnapshot is the most recent market data tick, cached for the
// status surfaces.
type MarketSnapshot struct {
	Account    types.Account               `json:"account"`
	Positions  []types.Position            `json:"positions"`
	TopGainers []types.GainerEntry         `json:"top_gainers"`
	Indices    map[string]types.IndexQuote `json:"market_indices"`
	MarketOpen bool                        `json:"market_open"`
	AsOf       time.Time                   `json:"as_of"`
}

// New builds a coordinator for the given universe context and broker. The
// broker's universe must match; baseDir roots the data/ and logs/ trees.
func New(ctx *universe.Context, b broker.Broker, baseDir string, logger *zap.Logger) (*Coordinator, error) {
	if ctx == nil {
		return nil, fmt.Errorf("coordinator requires a universe context")
	}
	if b == nil {
		return nil, fmt.Errorf("coordinator requires a broker")
	}
	if b.Universe() != ctx.Universe() {
		return nil, fmt.Errorf("broker universe %q does not match context universe %q",
			b.Universe(), ctx.Universe())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("coordinator").With(zap.String("universe", ctx.Universe().String()))

	cfgPath := filepath.Join(baseDir, universe.DataPath(ctx.Universe(), "config_state.json"))
	cfg, err := types.LoadRuntimeConfig(cfgPath)
	if err != nil {
		logger.Warn("config load failed, using defaults", zap.Error(err))
		cfg = types.DefaultRuntimeConfig()
	}

	bus, err := events.NewBus(ctx, logger)
	if err != nil {
		return nil, err
	}
	store, err := analytics.NewStore(ctx, baseDir, logger)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		ctx:     ctx,
		logger:  logger,
		baseDir: baseDir,
		bus:     bus,
		broker:  b,
		store:   store,
		sched:   scheduler.New(logger),
		cfg:     cfg,
		cfgPath: cfgPath,
	}
	cfgFn := agents.ConfigFn(c.Config)

	loc, locErr := time.LoadLocation(cfg.MarketTimezone)
	if locErr != nil {
		loc = time.UTC
	}
	sizer := risk.NewPositionSizer(risk.SizerConfig{
		ScaleByStrength: cfg.SizerScaleByStrength,
		MinStrength:     cfg.SizerMinStrength,
		MaxStrength:     cfg.SizerMaxStrength,
	})
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		DailyLossLimit: cfg.DailyLossLimitPct,
		MaxDrawdown:    cfg.MaxDrawdownPct,
		Location:       loc,
	}, logger)

	u := ctx.Universe()
	sysLog := monitoring.NewSystemLogWriter(u, baseDir, "system_events.jsonl", cfg.ObservabilityMaxMB)

	c.dataAgent = agents.NewDataAgent(ctx, bus, b, cfgFn, logger)
	c.signalAgent = agents.NewSignalAgent(ctx, bus, cfgFn, logger)
	c.riskAgent = agents.NewRiskAgent(ctx, bus, b, sizer, breaker, cfgFn, logger)
	c.executionAgent = agents.NewExecutionAgent(ctx, bus, b, c.riskAgent, cfgFn, logger)
	c.monitorAgent = agents.NewMonitorAgent(ctx, bus, b, cfgFn, logger)
	c.alertAgent = agents.NewAlertAgent(ctx, bus, cfgFn, logger)
	c.analyticsAgent = agents.NewAnalyticsAgent(ctx, bus, store, cfgFn, logger)
	c.obsAgent = agents.NewObservabilityAgent(ctx, bus, sysLog, cfgFn, logger)
	c.sessionLogger = agents.NewSessionLoggerAgent(ctx, bus, b,
		filepath.Join(baseDir, universe.SystemLogPath(u, "sessions.jsonl")), cfgFn, logger)
	c.replayRecorder = agents.NewReplayRecorderAgent(ctx, bus, b,
		filepath.Join(baseDir, "data", "replay"), cfgFn, logger)
	c.testAgent = agents.NewTestAgent(ctx, bus, b,
		filepath.Join(baseDir, universe.SystemLogPath(u, "test_runs.jsonl")), cfgFn, logger)
	c.uiCheckAgent = agents.NewUICheckAgent(ctx, bus,
		monitoring.NewSystemLogWriter(u, baseDir, "ui_checks.jsonl", cfg.ObservabilityMaxMB), cfgFn, logger)

	// Stop losses bypass the risk gate: the protective sell is synthesized
	// directly as an approved trade.
	c.stopLossSub = bus.Subscribe(events.TypeStopLossTriggered, c.handleStopLoss)
	c.marketSub = bus.Subscribe(events.TypeMarketDataReady, c.cacheMarketData)

	return c, nil
}

// Universe returns the coordinator's bound universe.
func (c *Coordinator) Universe() universe.Universe { return c.ctx.Universe() }

// Context returns the immutable universe context.
func (c *Coordinator) Context() *universe.Context { return c.ctx }

// Bus exposes the event bus for status and integration surfaces.
func (c *Coordinator) Bus() *events.Bus { return c.bus }

// Store exposes the analytics store for the API layer.
func (c *Coordinator) Store() *analytics.Store { return c.store }

// Config returns the current runtime configuration.
func (c *Coordinator) Config() types.RuntimeConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig replaces the runtime configuration and persists it. Agents
// pick up the new values on their next tick.
func (c *Coordinator) UpdateConfig(cfg types.RuntimeConfig) error {
	c.mu.Lock()
	c.cfg = cfg
	path := c.cfgPath
	running := c.running
	c.mu.Unlock()

	if err := types.SaveRuntimeConfig(path, cfg); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	if running {
		c.reschedule(cfg)
	}
	c.logger.Info("runtime config updated",
		zap.String("strategy", cfg.Strategy),
		zap.Bool("auto_trade", cfg.AutoTrade))
	return nil
}

// Start schedules the periodic agents and runs an immediate data tick.
// Starting a running coordinator is a no-op.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.startedAt = time.Now().UTC()
	cfg := c.cfg
	c.mu.Unlock()

	c.reschedule(cfg)
	c.sched.Start()

	c.logger.Info("coordinator started",
		zap.String("session_id", c.ctx.SessionID()),
		zap.String("strategy", cfg.Strategy))

	initial := scheduler.JobFunc{
		JobName: "data_tick",
		Fn: func() error {
			return c.dataAgent.Tick(context.Background())
		},
	}
	go func() {
		if err := c.sched.RunNow(initial); err != nil {
			c.logger.Warn("initial data tick failed", zap.Error(err))
		}
	}()
	return nil
}

// reschedule installs the interval jobs for cfg. AddEvery replaces
// same-named entries, so this is safe to call on config updates.
func (c *Coordinator) reschedule(cfg types.RuntimeConfig) {
	addJob := func(name string, every time.Duration, fn func(context.Context) error) {
		job := scheduler.JobFunc{
			JobName: name,
			Fn: func() error {
				return fn(context.Background())
			},
		}
		if err := c.sched.AddEvery(every, job); err != nil {
			c.logger.Warn("job schedule failed", zap.String("job", name), zap.Error(err))
		}
	}

	tradeInterval := time.Duration(maxInt(cfg.TradeIntervalMinutes, 1)) * time.Minute
	monitorInterval := time.Duration(maxInt(cfg.MonitorIntervalSeconds, 10)) * time.Second

	addJob("data_tick", tradeInterval, c.dataAgent.Tick)
	addJob("monitor_tick", monitorInterval, c.monitorAgent.Tick)
	addJob("session_heartbeat",
		time.Duration(maxInt(cfg.SessionLoggerIntervalMinutes, 1))*time.Minute,
		c.sessionLogger.Tick)

	if cfg.ReplayRecorderEnabled && c.ctx.Universe() != universe.Simulation {
		addJob("replay_recorder",
			time.Duration(maxInt(cfg.ReplayRecorderIntervalMinutes, 1))*time.Minute,
			c.replayRecorder.Tick)
	} else {
		c.sched.Remove("replay_recorder")
	}

	if cfg.TestAgentEnabled {
		addJob("self_check",
			time.Duration(maxInt(cfg.TestAgentIntervalMinutes, 1))*time.Minute,
			c.testAgent.Tick)
	} else {
		c.sched.Remove("self_check")
	}

	if cfg.UICheckEnabled {
		addJob("ui_check",
			time.Duration(maxInt(cfg.UICheckIntervalMinutes, 5))*time.Minute,
			c.uiCheckAgent.Tick)
	} else {
		c.sched.Remove("ui_check")
	}
}

// Stop halts the scheduler and detaches the agents. Stopping a stopped
// coordinator is a no-op.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	shutdown := events.LogEvent{
		BaseEvent: events.NewBase(c.ctx, "coordinator"),
		Level:     "info",
		Message:   "shutting down",
	}
	if err := c.bus.Publish(shutdown); err != nil {
		c.logger.Warn("shutdown event publish failed", zap.Error(err))
	}

	c.sched.Stop()
	c.bus.Unsubscribe(c.stopLossSub)
	c.bus.Unsubscribe(c.marketSub)
	c.signalAgent.Stop()
	c.riskAgent.Stop()
	c.executionAgent.Stop()
	c.alertAgent.Stop()
	c.analyticsAgent.Stop()
	c.obsAgent.Stop()

	c.logger.Info("coordinator stopped", zap.String("session_id", c.ctx.SessionID()))
}

// Running reports whether Start has been called without a matching Stop.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) cacheMarketData(evt events.Event) error {
	e, ok := evt.(events.MarketDataReady)
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.lastMarket = MarketSnapshot{
		Account:    e.Account,
		Positions:  e.Positions,
		TopGainers: e.TopGainers,
		Indices:    e.Indices,
		MarketOpen: e.MarketOpen,
		AsOf:       e.Timestamp,
	}
	c.mu.Unlock()
	return nil
}

// MarketSnapshot returns the most recent market data tick. The zero value
// is returned before the first tick lands.
func (c *Coordinator) MarketSnapshot() MarketSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMarket
}

func (c *Coordinator) handleStopLoss(evt events.Event) error {
	e, ok := evt.(events.StopLossTriggered)
	if !ok {
		return nil
	}
	approved := events.RiskCheckPassed{
		BaseEvent: events.NewBase(c.ctx, "coordinator"),
		Signal: types.TradingSignal{
			Symbol:       e.Position.Symbol,
			Action:       types.ActionSell,
			Strength:     1,
			Reason:       "stop loss",
			CurrentPrice: e.Position.CurrentPrice,
		},
		TradeValue: e.Position.MarketValue,
		Reason:     "stop loss",
		Qty:        e.Position.Qty,
	}
	return c.bus.Publish(approved)
}

// ManualTrade submits an operator trade through the execution agent.
func (c *Coordinator) ManualTrade(ctx context.Context, symbol string, action types.SignalAction, amount, qty float64) error {
	return c.executionAgent.ExecuteManualTrade(ctx, symbol, action, amount, qty)
}

// ResetCircuitBreaker clears an active breaker and records the action.
func (c *Coordinator) ResetCircuitBreaker() {
	c.riskAgent.ResetCircuitBreaker()
	c.logger.Info("circuit breaker reset by operator")
	evt := events.LogEvent{
		BaseEvent: events.NewBase(c.ctx, "coordinator"),
		Level:     "warning",
		Message:   "Circuit breaker manually reset",
	}
	if err := c.bus.Publish(evt); err != nil {
		c.logger.Warn("reset event publish failed", zap.Error(err))
	}
}

// SetBroadcaster installs the websocket fan-out for the activity feed.
func (c *Coordinator) SetBroadcaster(fn agents.Broadcaster) {
	c.alertAgent.SetBroadcaster(fn)
}

// RecentLogs returns the newest activity feed entries.
func (c *Coordinator) RecentLogs(n int) []agents.LogEntry {
	return c.alertAgent.RecentLogs(n)
}

// RecentEvents returns the newest raw bus events.
func (c *Coordinator) RecentEvents(n int) []events.Event {
	return c.bus.RecentEvents(n)
}

// Status reports the runtime state for the status endpoint.
func (c *Coordinator) Status(ctx context.Context) map[string]any {
	c.mu.Lock()
	cfg := c.cfg
	running := c.running
	lastError := c.lastError
	c.mu.Unlock()

	marketOpen := false
	if open, err := c.broker.IsMarketOpen(ctx); err == nil {
		marketOpen = open
	} else {
		c.setLastError(err.Error())
		lastError = err.Error()
	}

	breakerActive, breakerReason := c.riskAgent.BreakerState()
	passed, failed := c.riskAgent.CheckCounts()
	stats := c.bus.Stats()

	return map[string]any{
		"running":              running,
		"universe":             c.ctx.Universe().String(),
		"trading_mode":         c.ctx.Universe().String(),
		"session_id":           c.ctx.SessionID(),
		"validity_class":       c.ctx.ValidityClass(),
		"auto_trade":           cfg.AutoTrade,
		"strategy":             cfg.Strategy,
		"available_strategies": strategy.Names(),
		"market_open":          marketOpen,
		"error":                lastError,
		"daily_trades":         c.riskAgent.DailyTrades(),
		"max_daily_trades":     cfg.MaxDailyTrades,
		"circuit_breaker": map[string]any{
			"active": breakerActive,
			"reason": breakerReason,
		},
		"risk_checks": map[string]any{
			"passed": passed,
			"failed": failed,
		},
		"events": map[string]any{
			"published": stats.Published,
			"rejected":  stats.Rejected,
		},
		"market_context": c.obsAgent.MarketContext(),
	}
}

func (c *Coordinator) setLastError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
