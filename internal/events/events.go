// Package events defines the typed event family and the universe-bound
// publish/subscribe bus that connects the agents.
package events

import (
	"time"

	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// EventType discriminates the event variants for routing.
type EventType string

const (
	TypeMarketDataReady   EventType = "market_data_ready"
	TypeSignalGenerated   EventType = "signal_generated"
	TypeSignalsUpdated    EventType = "signals_updated"
	TypeRiskCheckPassed   EventType = "risk_check_passed"
	TypeRiskCheckFailed   EventType = "risk_check_failed"
	TypeOrderExecuted     EventType = "order_executed"
	TypeOrderFailed       EventType = "order_failed"
	TypeStopLossTriggered EventType = "stop_loss_triggered"
	TypeLog               EventType = "log"
)

// Event is the contract every published variant satisfies.
type Event interface {
	Type() EventType
	Base() BaseEvent
}

// BaseEvent is the provenance header shared by every variant. The bus
// rejects events whose universe or session id does not match its context.
type BaseEvent struct {
	Universe      universe.Universe `json:"universe"`
	SessionID     string            `json:"session_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	DataLineageID string            `json:"data_lineage_id,omitempty"`
	ValidityClass string            `json:"validity_class,omitempty"`
}

func (b BaseEvent) Base() BaseEvent { return b }

// NewBase stamps a provenance header from the given context on behalf of
// the named source agent.
func NewBase(ctx *universe.Context, source string) BaseEvent {
	return BaseEvent{
		Universe:      ctx.Universe(),
		SessionID:     ctx.SessionID(),
		Timestamp:     time.Now().UTC(),
		Source:        source,
		DataLineageID: ctx.DataLineageID(),
		ValidityClass: ctx.ValidityClass(),
	}
}

// MarketDataReady carries one data tick: prices, bars, account state and
// screen output for every symbol the DataAgent resolved.
type MarketDataReady struct {
	BaseEvent
	Prices     map[string]float64          `json:"prices"`
	Bars       map[string][]types.Bar      `json:"bars"`
	Account    types.Account               `json:"account"`
	Positions  []types.Position            `json:"positions"`
	TopGainers []types.GainerEntry         `json:"top_gainers,omitempty"`
	Indices    map[string]types.IndexQuote `json:"indices,omitempty"`
	MarketOpen bool                        `json:"market_open"`
}

func (MarketDataReady) Type() EventType { return TypeMarketDataReady }

// SignalGenerated is one actionable strategy decision.
type SignalGenerated struct {
	BaseEvent
	Signal types.TradingSignal `json:"signal"`
}

func (SignalGenerated) Type() EventType { return TypeSignalGenerated }

// SignalsUpdated is the batch of every symbol's latest decision, holds
// included, emitted once per data tick.
type SignalsUpdated struct {
	BaseEvent
	Signals map[string]types.TradingSignal `json:"signals"`
}

func (SignalsUpdated) Type() EventType { return TypeSignalsUpdated }

// RiskCheckPassed approves a trade for execution.
type RiskCheckPassed struct {
	BaseEvent
	Signal      types.TradingSignal `json:"signal"`
	TradeValue  float64             `json:"trade_value"`
	PositionPct float64             `json:"position_pct,omitempty"`
	Reason      string              `json:"reason"`
	Manual      bool                `json:"manual,omitempty"`
	Qty         float64             `json:"qty,omitempty"`
}

func (RiskCheckPassed) Type() EventType { return TypeRiskCheckPassed }

// RiskCheckFailed rejects a signal with a machine-readable reason code.
type RiskCheckFailed struct {
	BaseEvent
	Signal     types.TradingSignal `json:"signal"`
	Reason     string              `json:"reason"`
	ReasonCode string              `json:"reason_code"`
}

func (RiskCheckFailed) Type() EventType { return TypeRiskCheckFailed }

// OrderExecuted reports a filled order.
type OrderExecuted struct {
	BaseEvent
	Order      types.Order `json:"order"`
	TradeValue float64     `json:"trade_value,omitempty"`
	Manual     bool        `json:"manual,omitempty"`
}

func (OrderExecuted) Type() EventType { return TypeOrderExecuted }

// OrderFailed reports a submission that did not result in a fill.
type OrderFailed struct {
	BaseEvent
	Symbol string     `json:"symbol"`
	Side   types.Side `json:"side"`
	Reason string     `json:"reason"`
	Manual bool       `json:"manual,omitempty"`
}

func (OrderFailed) Type() EventType { return TypeOrderFailed }

// StopLossTriggered reports a position breaching its stop-loss threshold.
type StopLossTriggered struct {
	BaseEvent
	Position types.Position `json:"position"`
	LossPct  float64        `json:"loss_pct"`
}

func (StopLossTriggered) Type() EventType { return TypeStopLossTriggered }

// LogEvent is a free-form structured log entry for the alert stream.
type LogEvent struct {
	BaseEvent
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (LogEvent) Type() EventType { return TypeLog }
