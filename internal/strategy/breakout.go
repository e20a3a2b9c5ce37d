package strategy

import (
	"fmt"

	"github.com/marketwatch-trading/backend/pkg/types"
)

// Breakout buys closes above the prior N-day high and sells held symbols
// that break below the prior N-day low.
type Breakout struct {
	lookback int
}

func NewBreakout(p Params) *Breakout {
	lookback := p.LookbackDays
	if lookback < 10 {
		lookback = 10
	}
	return &Breakout{lookback: lookback}
}

func (s *Breakout) Name() string         { return "breakout" }
func (s *Breakout) RequiredHistory() int { return s.lookback + 1 }

func (s *Breakout) Parameters() map[string]float64 {
	return map[string]float64{"lookback_days": float64(s.lookback)}
}

func (s *Breakout) Analyze(symbol string, bars []types.Bar, currentPrice float64, position *types.Position) types.TradingSignal {
	if len(bars) < s.RequiredHistory() || currentPrice <= 0 {
		return hold(symbol, currentPrice, "insufficient history")
	}

	// Channel over the window excluding the most recent bar.
	window := bars[len(bars)-s.lookback-1 : len(bars)-1]
	high, low := window[0].High, window[0].Low
	for _, b := range window[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	if high <= low {
		return hold(symbol, currentPrice, "flat channel")
	}
	meta := map[string]float64{"channel_high": high, "channel_low": low}

	if position != nil && position.Qty > 0 {
		if currentPrice < low {
			return types.TradingSignal{
				Symbol:       symbol,
				Action:       types.ActionSell,
				Strength:     clamp01((low - currentPrice) / low * 20),
				CurrentPrice: currentPrice,
				Reason:       fmt.Sprintf("broke below %d-day low %.2f", s.lookback, low),
				Metadata:     meta,
			}
		}
		return hold(symbol, currentPrice, "holding, channel intact")
	}

	if currentPrice > high {
		return types.TradingSignal{
			Symbol:       symbol,
			Action:       types.ActionBuy,
			Strength:     clamp01((currentPrice - high) / high * 20),
			CurrentPrice: currentPrice,
			Reason:       fmt.Sprintf("broke above %d-day high %.2f", s.lookback, high),
			Metadata:     meta,
		}
	}
	return hold(symbol, currentPrice, "inside channel")
}
