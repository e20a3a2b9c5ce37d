package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/marketwatch-trading/backend/pkg/types"
)

// MeanReversion buys dips below the lower Bollinger band and exits when
// price reverts to the middle band.
type MeanReversion struct {
	period float64
	stddev float64
}

func NewMeanReversion(p Params) *MeanReversion {
	return &MeanReversion{period: 20, stddev: 2}
}

func (s *MeanReversion) Name() string         { return "mean_reversion" }
func (s *MeanReversion) RequiredHistory() int { return int(s.period) + 1 }

func (s *MeanReversion) Parameters() map[string]float64 {
	return map[string]float64{"bb_period": s.period, "bb_stddev": s.stddev}
}

func (s *MeanReversion) Analyze(symbol string, bars []types.Bar, currentPrice float64, position *types.Position) types.TradingSignal {
	if len(bars) < s.RequiredHistory() || currentPrice <= 0 {
		return hold(symbol, currentPrice, "insufficient history")
	}

	series := closes(bars)
	upper, middle, lower := talib.BBands(series, int(s.period), s.stddev, s.stddev, 0)
	ub, mid, lb := upper[len(upper)-1], middle[len(middle)-1], lower[len(lower)-1]
	if mid <= 0 || ub <= lb {
		return hold(symbol, currentPrice, "bands unavailable")
	}

	meta := map[string]float64{"bb_upper": ub, "bb_middle": mid, "bb_lower": lb}

	if position != nil && position.Qty > 0 {
		if currentPrice >= mid {
			return types.TradingSignal{
				Symbol:       symbol,
				Action:       types.ActionSell,
				Strength:     clamp01((currentPrice - mid) / (ub - mid)),
				CurrentPrice: currentPrice,
				Reason:       "price reverted to middle band",
				Metadata:     meta,
			}
		}
		return hold(symbol, currentPrice, "waiting for reversion")
	}

	if currentPrice <= lb {
		return types.TradingSignal{
			Symbol:       symbol,
			Action:       types.ActionBuy,
			Strength:     clamp01((lb - currentPrice) / (mid - lb)),
			CurrentPrice: currentPrice,
			Reason:       fmt.Sprintf("price %.2f below lower band %.2f", currentPrice, lb),
			Metadata:     meta,
		}
	}
	return hold(symbol, currentPrice, "inside bands")
}
