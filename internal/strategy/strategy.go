// Package strategy holds the pluggable signal strategies. A strategy is a
// pure analysis function over one symbol's bar history; it never touches
// the broker or the bus.
package strategy

import (
	"sort"
	"strings"

	"github.com/marketwatch-trading/backend/pkg/types"
)

// Strategy analyzes one symbol's history and produces a trading signal.
type Strategy interface {
	Name() string
	// RequiredHistory is the minimum number of daily bars Analyze needs.
	RequiredHistory() int
	Analyze(symbol string, bars []types.Bar, currentPrice float64, position *types.Position) types.TradingSignal
	// Parameters exposes tunables for status introspection.
	Parameters() map[string]float64
}

// Params carries the config-driven strategy tunables.
type Params struct {
	MomentumThreshold float64
	SellThreshold     float64
	LookbackDays      int
}

// Registry maps strategy names to constructors.
var registry = map[string]func(Params) Strategy{
	"momentum":       func(p Params) Strategy { return NewMomentum(p) },
	"mean_reversion": func(p Params) Strategy { return NewMeanReversion(p) },
	"rsi":            func(p Params) Strategy { return NewRSI(p) },
	"breakout":       func(p Params) Strategy { return NewBreakout(p) },
}

// ForName builds the named strategy, falling back to momentum for unknown
// names.
func ForName(name string, p Params) Strategy {
	if build, ok := registry[strings.ToLower(strings.TrimSpace(name))]; ok {
		return build(p)
	}
	return NewMomentum(p)
}

// Names lists the registered strategy names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func hold(symbol string, price float64, reason string) types.TradingSignal {
	return types.TradingSignal{
		Symbol:       symbol,
		Action:       types.ActionHold,
		CurrentPrice: price,
		Reason:       reason,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
