package agents

import (
	"time"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/metrics"
	"github.com/marketwatch-trading/backend/internal/monitoring"
	"github.com/marketwatch-trading/backend/internal/universe"
)

// ObservabilityAgent classifies every event and writes a structured
// record to the universe-scoped system log.
type ObservabilityAgent struct {
	baseAgent
	writer  *monitoring.SystemLogWriter
	tracker *monitoring.MarketContextTracker
	sub     *events.Subscription
}

func NewObservabilityAgent(ctx *universe.Context, bus *events.Bus, writer *monitoring.SystemLogWriter, cfgFn ConfigFn, logger *zap.Logger) *ObservabilityAgent {
	a := &ObservabilityAgent{
		baseAgent: newBaseAgent("observability_agent", ctx, bus, cfgFn, logger),
		writer:    writer,
		tracker:   monitoring.NewMarketContextTracker(),
	}
	a.sub = bus.SubscribeAll(a.handleEvent)
	return a
}

func (a *ObservabilityAgent) Stop() {
	a.bus.Unsubscribe(a.sub)
}

// MarketContext returns the tracker's last view, for status reporting.
func (a *ObservabilityAgent) MarketContext() monitoring.MarketContext {
	return a.tracker.Get()
}

func (a *ObservabilityAgent) handleEvent(evt events.Event) error {
	if !a.cfgFn().ObservabilityEnabled {
		return nil
	}

	if e, ok := evt.(events.MarketDataReady); ok {
		a.tracker.Update(e)
	}

	reasonCode, outcome := monitoring.ClassifyEvent(evt)
	base := evt.Base()
	metrics.EventsTotal.WithLabelValues(base.Universe.String(), string(evt.Type()), outcome).Inc()

	ts := base.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	record := map[string]any{
		"timestamp":      ts.Format(time.RFC3339),
		"event_type":     string(evt.Type()),
		"reason_code":    reasonCode,
		"outcome":        outcome,
		"source":         base.Source,
		"session_id":     base.SessionID,
		"market_context": a.tracker.Get(),
		"details":        eventDetails(evt),
	}
	if err := a.writer.Write(record); err != nil {
		a.logger.Warn("system log write failed", zap.Error(err))
	}
	return nil
}

// eventDetails extracts the small per-event payload worth keeping in
// the system log.
func eventDetails(evt events.Event) map[string]any {
	switch e := evt.(type) {
	case events.MarketDataReady:
		return map[string]any{"symbols": len(e.Prices), "market_open": e.MarketOpen}
	case events.SignalGenerated:
		return map[string]any{"symbol": e.Signal.Symbol, "action": string(e.Signal.Action), "strength": e.Signal.Strength}
	case events.SignalsUpdated:
		return map[string]any{"signals": len(e.Signals)}
	case events.RiskCheckPassed:
		return map[string]any{"symbol": e.Signal.Symbol, "trade_value": e.TradeValue, "reason": e.Reason}
	case events.RiskCheckFailed:
		return map[string]any{"symbol": e.Signal.Symbol, "reason": e.Reason}
	case events.OrderExecuted:
		return map[string]any{"symbol": e.Order.Symbol, "side": string(e.Order.Side), "order_id": e.Order.ID}
	case events.OrderFailed:
		return map[string]any{"symbol": e.Symbol, "reason": e.Reason}
	case events.StopLossTriggered:
		return map[string]any{"symbol": e.Position.Symbol, "loss_pct": e.LossPct}
	case events.LogEvent:
		return map[string]any{"level": e.Level, "message": e.Message}
	default:
		return nil
	}
}
