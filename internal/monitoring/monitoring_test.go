package monitoring

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

func TestClassifyEvent(t *testing.T) {
	cases := []struct {
		name        string
		event       events.Event
		wantCode    string
		wantOutcome string
	}{
		{"market data", events.MarketDataReady{}, "market_data_ready", OutcomeInfo},
		{"signals updated", events.SignalsUpdated{}, "signals_updated", OutcomeInfo},
		{"buy signal",
			events.SignalGenerated{Signal: types.TradingSignal{Action: types.ActionBuy}},
			"signal_buy", OutcomeSuccess},
		{"hold from error",
			events.SignalGenerated{Signal: types.TradingSignal{Action: types.ActionHold, Reason: "strategy error"}},
			"signal_error", OutcomeWarn},
		{"hold without history",
			events.SignalGenerated{Signal: types.TradingSignal{Action: types.ActionHold, Reason: "insufficient history"}},
			"signal_insufficient_history", OutcomeInfo},
		{"risk passed", events.RiskCheckPassed{}, "risk_passed", OutcomeSuccess},
		{"risk code preserved",
			events.RiskCheckFailed{ReasonCode: "risk_daily_limit"},
			"risk_daily_limit", OutcomeWarn},
		{"risk reason fallback",
			events.RiskCheckFailed{Reason: "Insufficient buying power"},
			"risk_buying_power", OutcomeWarn},
		{"order executed", events.OrderExecuted{}, "order_executed", OutcomeSuccess},
		{"order failed",
			events.OrderFailed{Reason: "submission rejected"},
			"order_failed", OutcomeFail},
		{"order no response",
			events.OrderFailed{Reason: "empty broker response"},
			"order_no_response", OutcomeFail},
		{"stop loss", events.StopLossTriggered{}, "stop_loss_triggered", OutcomeWarn},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, outcome := ClassifyEvent(tc.event)
			if code != tc.wantCode || outcome != tc.wantOutcome {
				t.Fatalf("ClassifyEvent = (%q, %q), want (%q, %q)",
					code, outcome, tc.wantCode, tc.wantOutcome)
			}
		})
	}
}

func barsWithCloses(closes ...float64) []types.Bar {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Bar, len(closes))
	for i, c := range closes {
		out[i] = types.Bar{Timestamp: base.AddDate(0, 0, i), Close: c}
	}
	return out
}

func TestMarketContextTracker(t *testing.T) {
	tracker := NewMarketContextTracker()

	if got := tracker.Get(); got.VolatilityRegime != "unknown" || got.DirectionBias != "unknown" {
		t.Fatalf("initial context = %+v", got)
	}

	e := events.MarketDataReady{
		MarketOpen: true,
		Prices:     map[string]float64{"AAA": 101, "BBB": 51},
		Bars: map[string][]types.Bar{
			"AAA": barsWithCloses(100, 101, 102, 103), // steadily up
			"BBB": barsWithCloses(50, 50.4, 50.8, 51),
		},
		TopGainers: []types.GainerEntry{{Symbol: "AAA"}},
	}
	ctx := tracker.Update(e)

	if !ctx.MarketOpen || ctx.SymbolCount != 2 || ctx.BarsSymbols != 2 || ctx.TopGainersCount != 1 {
		t.Fatalf("context counts wrong: %+v", ctx)
	}
	if ctx.DirectionBias != "bullish" {
		t.Fatalf("direction bias = %q, want bullish", ctx.DirectionBias)
	}
	if ctx.AvgVolatility == nil || ctx.VolatilityRegime != "low" {
		t.Fatalf("volatility = %+v regime %q", ctx.AvgVolatility, ctx.VolatilityRegime)
	}
	if got := tracker.Get(); got.DirectionBias != "bullish" {
		t.Fatalf("Get did not return updated context: %+v", got)
	}
}

func TestSystemLogWriter(t *testing.T) {
	dir := t.TempDir()
	w := NewSystemLogWriter(universe.Simulation, dir, "agent_events.jsonl", 5.0)

	if err := w.Write(map[string]any{"reason_code": "order_executed"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(map[string]any{"universe": "paper"}); err == nil {
		t.Fatal("cross-universe record must be rejected")
	}

	f, err := os.Open(w.Path())
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		lines++
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad line: %v", err)
		}
		if rec["universe"] != "simulation" {
			t.Fatalf("universe not stamped: %v", rec)
		}
	}
	if lines != 1 {
		t.Fatalf("log has %d lines, want 1", lines)
	}
}

func TestSystemLogRotation(t *testing.T) {
	dir := t.TempDir()
	// Tiny limit so a couple of writes force rotation.
	w := NewSystemLogWriter(universe.Simulation, dir, "tiny.jsonl", 0.0001)

	payload := strings.Repeat("x", 200)
	for i := 0; i < 3; i++ {
		if err := w.Write(map[string]any{"payload": payload}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(strings.TrimSuffix(w.Path(), "tiny.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	var rotated int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "tiny.jsonl.") {
			rotated++
		}
	}
	if rotated == 0 {
		t.Fatal("expected at least one rotated log file")
	}
}
