package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/universe"
)

// TestAgent runs a periodic self-check: it verifies the broker responds
// and that events flow through the bus, then appends the result to
// test_runs.jsonl.
type TestAgent struct {
	baseAgent
	broker broker.Broker
	path   string
}

func NewTestAgent(ctx *universe.Context, bus *events.Bus, b broker.Broker, path string, cfgFn ConfigFn, logger *zap.Logger) *TestAgent {
	return &TestAgent{
		baseAgent: newBaseAgent("test_agent", ctx, bus, cfgFn, logger),
		broker:    b,
		path:      path,
	}
}

// Tick performs one self-check run.
func (a *TestAgent) Tick(ctx context.Context) error {
	if !a.cfgFn().TestAgentEnabled {
		return nil
	}

	started := time.Now().UTC()
	checks := map[string]string{}
	passed := true

	if _, err := a.broker.GetAccount(ctx); err != nil {
		checks["broker_account"] = fmt.Sprintf("fail: %v", err)
		passed = false
	} else {
		checks["broker_account"] = "ok"
	}

	heartbeat := events.LogEvent{
		BaseEvent: a.base(),
		Level:     "info",
		Message:   "self-check heartbeat",
		Data:      map[string]any{"agent": a.name},
	}
	if err := a.bus.Publish(heartbeat); err != nil {
		checks["event_bus"] = fmt.Sprintf("fail: %v", err)
		passed = false
	} else {
		checks["event_bus"] = "ok"
	}

	row := map[string]any{
		"timestamp":   started.Format(time.RFC3339),
		"session_id":  a.ctx.SessionID(),
		"universe":    a.ctx.Universe().String(),
		"passed":      passed,
		"checks":      checks,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if err := a.appendRun(row); err != nil {
		a.logger.Warn("test run append failed", zap.Error(err))
	}
	return nil
}

func (a *TestAgent) appendRun(row map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create test run dir: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open test run log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}
