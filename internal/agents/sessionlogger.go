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

// SessionLoggerAgent appends a heartbeat row per interval to
// logs/<universe>/system/sessions.jsonl so a session's lifetime can be
// reconstructed after the fact.
type SessionLoggerAgent struct {
	baseAgent
	broker  broker.Broker
	path    string
	started time.Time
}

// NewSessionLoggerAgent writes heartbeats to path, conventionally
// universe.SystemLogPath(u, "sessions.jsonl").
func NewSessionLoggerAgent(ctx *universe.Context, bus *events.Bus, b broker.Broker, path string, cfgFn ConfigFn, logger *zap.Logger) *SessionLoggerAgent {
	return &SessionLoggerAgent{
		baseAgent: newBaseAgent("session_logger_agent", ctx, bus, cfgFn, logger),
		broker:    b,
		path:      path,
		started:   time.Now().UTC(),
	}
}

// Tick writes one heartbeat row. Broker failures degrade to a row
// without account figures.
func (a *SessionLoggerAgent) Tick(ctx context.Context) error {
	row := map[string]any{
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"session_id":     a.ctx.SessionID(),
		"universe":       a.ctx.Universe().String(),
		"validity_class": a.ctx.ValidityClass(),
		"uptime_seconds": int(time.Since(a.started).Seconds()),
	}
	if account, err := a.broker.GetAccount(ctx); err != nil {
		a.logger.Warn("heartbeat account fetch failed", zap.Error(err))
	} else {
		row["equity"] = account.Equity
		row["cash"] = account.Cash
	}

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create session log dir: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}
	return nil
}
