// Package monitoring provides the observability building blocks: event
// classification, market-context tracking, and the rotating system log.
package monitoring

import (
	"strings"

	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// Outcomes a classified event can carry.
const (
	OutcomeInfo    = "info"
	OutcomeSuccess = "success"
	OutcomeWarn    = "warn"
	OutcomeFail    = "fail"
)

// ClassifyEvent maps an event to a (reason_code, outcome) pair for the
// structured observability stream.
func ClassifyEvent(event events.Event) (string, string) {
	switch e := event.(type) {
	case events.MarketDataReady:
		return "market_data_ready", OutcomeInfo

	case events.SignalsUpdated:
		return "signals_updated", OutcomeInfo

	case events.SignalGenerated:
		reason := strings.ToLower(e.Signal.Reason)
		if e.Signal.Action == types.ActionHold {
			if strings.Contains(reason, "insufficient") {
				return "signal_insufficient_history", OutcomeInfo
			}
			if strings.Contains(reason, "error") {
				return "signal_error", OutcomeWarn
			}
			return "signal_hold", OutcomeInfo
		}
		if strings.Contains(reason, "error") {
			return "signal_error", OutcomeWarn
		}
		return "signal_" + string(e.Signal.Action), OutcomeSuccess

	case events.RiskCheckPassed:
		return "risk_passed", OutcomeSuccess

	case events.RiskCheckFailed:
		if e.ReasonCode != "" {
			outcome := OutcomeWarn
			if e.ReasonCode == "risk_position_lookup_failed" {
				outcome = OutcomeFail
			}
			return e.ReasonCode, outcome
		}
		reason := strings.ToLower(e.Reason)
		switch {
		case strings.Contains(reason, "daily trade limit"):
			return "risk_daily_limit", OutcomeWarn
		case strings.Contains(reason, "trade value") && strings.Contains(reason, "minimum"):
			return "risk_min_trade", OutcomeWarn
		case strings.Contains(reason, "insufficient buying power"):
			return "risk_buying_power", OutcomeWarn
		case strings.Contains(reason, "position lookup failed"):
			return "risk_position_lookup_failed", OutcomeFail
		case strings.Contains(reason, "no position"):
			return "risk_no_position", OutcomeWarn
		default:
			return "risk_rejected", OutcomeWarn
		}

	case events.OrderExecuted:
		return "order_executed", OutcomeSuccess

	case events.OrderFailed:
		reason := strings.ToLower(e.Reason)
		switch {
		case strings.Contains(reason, "position not found"), strings.Contains(reason, "no position"):
			return "order_no_position", OutcomeWarn
		case strings.Contains(reason, "empty broker response"):
			return "order_no_response", OutcomeFail
		default:
			return "order_failed", OutcomeFail
		}

	case events.StopLossTriggered:
		return "stop_loss_triggered", OutcomeWarn

	case events.LogEvent:
		return "log", OutcomeInfo
	}
	return "unknown_event", OutcomeInfo
}
