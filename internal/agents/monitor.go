package agents

import (
	"context"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/universe"
)

// MonitorAgent watches open positions for stop-loss breaches.
type MonitorAgent struct {
	baseAgent
	broker broker.Broker
}

func NewMonitorAgent(ctx *universe.Context, bus *events.Bus, b broker.Broker, cfgFn ConfigFn, logger *zap.Logger) *MonitorAgent {
	return &MonitorAgent{
		baseAgent: newBaseAgent("monitor_agent", ctx, bus, cfgFn, logger),
		broker:    b,
	}
}

// Tick scans positions and emits StopLossTriggered for any whose
// unrealized loss meets the configured stop. Simulation runs regardless
// of market hours.
func (a *MonitorAgent) Tick(ctx context.Context) error {
	cfg := a.cfgFn()

	if a.ctx.Universe() != universe.Simulation {
		open, err := a.broker.IsMarketOpen(ctx)
		if err != nil {
			a.logger.Warn("market clock unavailable", zap.Error(err))
			return nil
		}
		if !open {
			return nil
		}
	}

	positions, err := a.broker.GetPositions(ctx)
	if err != nil {
		a.logger.Warn("position scan failed", zap.Error(err))
		return nil
	}

	for _, position := range positions {
		if position.AvgEntryPrice <= 0 {
			continue
		}
		lossPct := (position.CurrentPrice - position.AvgEntryPrice) / position.AvgEntryPrice
		if lossPct > -cfg.StopLossPct {
			continue
		}

		a.logger.Warn("stop loss triggered",
			zap.String("symbol", position.Symbol),
			zap.Float64("loss_pct", -lossPct))

		evt := events.StopLossTriggered{
			BaseEvent: a.base(),
			Position:  position,
			LossPct:   -lossPct,
		}
		if err := a.bus.Publish(evt); err != nil {
			a.logger.Error("stop loss event publish failed", zap.Error(err))
		}
	}
	return nil
}
