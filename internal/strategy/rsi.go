package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/marketwatch-trading/backend/pkg/types"
)

// RSIStrategy buys oversold symbols and sells held symbols once they turn
// overbought.
type RSIStrategy struct {
	period     int
	oversold   float64
	overbought float64
}

func NewRSI(p Params) *RSIStrategy {
	return &RSIStrategy{period: 14, oversold: 30, overbought: 70}
}

func (s *RSIStrategy) Name() string         { return "rsi" }
func (s *RSIStrategy) RequiredHistory() int { return s.period + 1 }

func (s *RSIStrategy) Parameters() map[string]float64 {
	return map[string]float64{
		"rsi_period":     float64(s.period),
		"rsi_oversold":   s.oversold,
		"rsi_overbought": s.overbought,
	}
}

func (s *RSIStrategy) Analyze(symbol string, bars []types.Bar, currentPrice float64, position *types.Position) types.TradingSignal {
	if len(bars) < s.RequiredHistory() || currentPrice <= 0 {
		return hold(symbol, currentPrice, "insufficient history")
	}

	rsi := talib.Rsi(closes(bars), s.period)
	last := rsi[len(rsi)-1]
	if last <= 0 {
		return hold(symbol, currentPrice, "rsi unavailable")
	}
	meta := map[string]float64{"rsi": last}

	if position != nil && position.Qty > 0 {
		if last >= s.overbought {
			return types.TradingSignal{
				Symbol:       symbol,
				Action:       types.ActionSell,
				Strength:     clamp01((last - s.overbought) / (100 - s.overbought)),
				CurrentPrice: currentPrice,
				Reason:       fmt.Sprintf("RSI %.1f overbought", last),
				Metadata:     meta,
			}
		}
		return hold(symbol, currentPrice, "holding, RSI neutral")
	}

	if last <= s.oversold {
		return types.TradingSignal{
			Symbol:       symbol,
			Action:       types.ActionBuy,
			Strength:     clamp01((s.oversold - last) / s.oversold),
			CurrentPrice: currentPrice,
			Reason:       fmt.Sprintf("RSI %.1f oversold", last),
			Metadata:     meta,
		}
	}
	return hold(symbol, currentPrice, "RSI neutral")
}
