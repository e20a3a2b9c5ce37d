package monitoring

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// MarketContext summarizes the most recent data tick for log annotation.
type MarketContext struct {
	MarketOpen       bool     `json:"market_open"`
	SymbolCount      int      `json:"symbol_count"`
	PricedSymbols    int      `json:"priced_symbols"`
	BarsSymbols      int      `json:"bars_symbols"`
	TopGainersCount  int      `json:"top_gainers_count"`
	AvgVolatility    *float64 `json:"avg_volatility"`
	VolatilityRegime string   `json:"volatility_regime"`
	DirectionBias    string   `json:"direction_bias"`
	LastUpdated      string   `json:"last_updated,omitempty"`
}

// MarketContextTracker derives a MarketContext from each MarketDataReady.
type MarketContextTracker struct {
	mu  sync.Mutex
	ctx MarketContext
}

// NewMarketContextTracker starts with an unknown context.
func NewMarketContextTracker() *MarketContextTracker {
	return &MarketContextTracker{
		ctx: MarketContext{VolatilityRegime: "unknown", DirectionBias: "unknown"},
	}
}

// Update recomputes the context from a data tick and returns it.
func (t *MarketContextTracker) Update(e events.MarketDataReady) MarketContext {
	avgVol, bias := summarizeBars(e.Bars)

	ctx := MarketContext{
		MarketOpen:       e.MarketOpen,
		SymbolCount:      len(e.Prices),
		PricedSymbols:    len(e.Prices),
		BarsSymbols:      len(e.Bars),
		TopGainersCount:  len(e.TopGainers),
		AvgVolatility:    avgVol,
		VolatilityRegime: categorizeVolatility(avgVol),
		DirectionBias:    bias,
		LastUpdated:      time.Now().UTC().Format(time.RFC3339),
	}

	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
	return ctx
}

// Get returns the last computed context.
func (t *MarketContextTracker) Get() MarketContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ctx
}

func summarizeBars(bars map[string][]types.Bar) (*float64, string) {
	var volatilities, directions []float64

	for _, series := range bars {
		if len(series) < 3 {
			continue
		}
		returns := make([]float64, 0, len(series)-1)
		for i := 1; i < len(series); i++ {
			prev := series[i-1].Close
			if prev != 0 {
				returns = append(returns, (series[i].Close-prev)/prev)
			}
		}
		if len(returns) < 2 {
			continue
		}
		volatilities = append(volatilities, stat.StdDev(returns, nil))

		if first := series[0].Close; first != 0 {
			directions = append(directions, (series[len(series)-1].Close-first)/first)
		}
	}

	var avgVol *float64
	if len(volatilities) > 0 {
		v := stat.Mean(volatilities, nil)
		avgVol = &v
	}
	return avgVol, categorizeDirection(directions)
}

func categorizeVolatility(avg *float64) string {
	switch {
	case avg == nil:
		return "unknown"
	case *avg < 0.01:
		return "low"
	case *avg < 0.02:
		return "normal"
	default:
		return "high"
	}
}

func categorizeDirection(directions []float64) string {
	if len(directions) == 0 {
		return "unknown"
	}
	var positive, negative int
	for _, d := range directions {
		if d > 0 {
			positive++
		} else if d < 0 {
			negative++
		}
	}
	total := float64(len(directions))
	switch {
	case float64(positive) >= total*0.7:
		return "bullish"
	case float64(negative) >= total*0.7:
		return "bearish"
	default:
		return "mixed"
	}
}
