package agents

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/universe"
)

const alertLogSize = 200

// LogEntry is one human-readable line in the activity feed.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Broadcaster pushes an activity entry to connected clients.
type Broadcaster func(entry LogEntry)

// AlertAgent turns bus traffic into a bounded activity feed and forwards
// each entry to the websocket layer.
type AlertAgent struct {
	baseAgent
	sub *events.Subscription

	mu        sync.Mutex
	entries   []LogEntry
	broadcast Broadcaster
}

func NewAlertAgent(ctx *universe.Context, bus *events.Bus, cfgFn ConfigFn, logger *zap.Logger) *AlertAgent {
	a := &AlertAgent{
		baseAgent: newBaseAgent("alert_agent", ctx, bus, cfgFn, logger),
	}
	a.sub = bus.SubscribeAll(a.handleEvent)
	return a
}

// SetBroadcaster installs the websocket fan-out callback.
func (a *AlertAgent) SetBroadcaster(fn Broadcaster) {
	a.mu.Lock()
	a.broadcast = fn
	a.mu.Unlock()
}

func (a *AlertAgent) Stop() {
	a.bus.Unsubscribe(a.sub)
}

func (a *AlertAgent) handleEvent(evt events.Event) error {
	msg, data := describe(evt)
	if msg == "" {
		return nil
	}

	entry := LogEntry{
		Timestamp: evt.Base().Timestamp,
		Type:      string(evt.Type()),
		Message:   msg,
		Data:      data,
	}

	a.mu.Lock()
	a.entries = append(a.entries, entry)
	if len(a.entries) > alertLogSize {
		a.entries = a.entries[len(a.entries)-alertLogSize:]
	}
	fn := a.broadcast
	a.mu.Unlock()

	if fn != nil {
		fn(entry)
	}
	return nil
}

// RecentLogs returns up to n entries, newest last.
func (a *AlertAgent) RecentLogs(n int) []LogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 || n > len(a.entries) {
		n = len(a.entries)
	}
	out := make([]LogEntry, n)
	copy(out, a.entries[len(a.entries)-n:])
	return out
}

// describe renders the event types worth surfacing to an operator.
func describe(evt events.Event) (string, map[string]any) {
	switch e := evt.(type) {
	case events.MarketDataReady:
		return fmt.Sprintf("Market data updated: %d symbols, equity $%.2f", len(e.Prices), e.Account.Equity),
			map[string]any{"symbols": len(e.Prices), "equity": e.Account.Equity, "market_open": e.MarketOpen}
	case events.SignalGenerated:
		return fmt.Sprintf("Signal: %s %s (strength %.2f)", e.Signal.Action, e.Signal.Symbol, e.Signal.Strength),
			map[string]any{"symbol": e.Signal.Symbol, "action": string(e.Signal.Action), "strength": e.Signal.Strength}
	case events.RiskCheckPassed:
		return fmt.Sprintf("Risk approved: %s %s ($%.2f)", e.Signal.Action, e.Signal.Symbol, e.TradeValue),
			map[string]any{"symbol": e.Signal.Symbol, "reason": e.Reason}
	case events.RiskCheckFailed:
		return fmt.Sprintf("Risk rejected: %s %s (%s)", e.Signal.Action, e.Signal.Symbol, e.Reason),
			map[string]any{"symbol": e.Signal.Symbol, "reason": e.Reason, "reason_code": e.ReasonCode}
	case events.OrderExecuted:
		return fmt.Sprintf("Order filled: %s %s ($%.2f)", e.Order.Side, e.Order.Symbol, e.TradeValue),
			map[string]any{"symbol": e.Order.Symbol, "side": string(e.Order.Side), "order_id": e.Order.ID}
	case events.OrderFailed:
		return fmt.Sprintf("Order failed: %s %s (%s)", e.Side, e.Symbol, e.Reason),
			map[string]any{"symbol": e.Symbol, "reason": e.Reason}
	case events.StopLossTriggered:
		return fmt.Sprintf("Stop loss: %s down %.1f%%", e.Position.Symbol, e.LossPct*100),
			map[string]any{"symbol": e.Position.Symbol, "loss_pct": e.LossPct}
	case events.LogEvent:
		return e.Message, e.Data
	default:
		return "", nil
	}
}
