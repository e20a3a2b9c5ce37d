package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/marketwatch-trading/backend/pkg/types"
)

// Momentum buys symbols whose short-term return clears a threshold and
// sells held symbols whose return falls below the sell threshold.
type Momentum struct {
	buyThreshold  float64
	sellThreshold float64
	lookback      int
}

// NewMomentum builds the default strategy.
func NewMomentum(p Params) *Momentum {
	m := &Momentum{
		buyThreshold:  p.MomentumThreshold,
		sellThreshold: p.SellThreshold,
		lookback:      p.LookbackDays,
	}
	if m.buyThreshold <= 0 {
		m.buyThreshold = 0.02
	}
	if m.sellThreshold >= 0 {
		m.sellThreshold = -0.01
	}
	if m.lookback < 5 {
		m.lookback = 5
	}
	return m
}

func (m *Momentum) Name() string         { return "momentum" }
func (m *Momentum) RequiredHistory() int { return m.lookback }

func (m *Momentum) Parameters() map[string]float64 {
	return map[string]float64{
		"momentum_threshold": m.buyThreshold,
		"sell_threshold":     m.sellThreshold,
		"lookback_days":      float64(m.lookback),
	}
}

func (m *Momentum) Analyze(symbol string, bars []types.Bar, currentPrice float64, position *types.Position) types.TradingSignal {
	if len(bars) < m.RequiredHistory() || currentPrice <= 0 {
		return hold(symbol, currentPrice, "insufficient history")
	}

	series := closes(bars)
	start := series[0]
	if start <= 0 {
		return hold(symbol, currentPrice, "bad history")
	}
	momentum := (currentPrice - start) / start

	// Trend confirmation: price above its short moving average.
	smaPeriod := m.lookback / 2
	if smaPeriod < 2 {
		smaPeriod = 2
	}
	sma := talib.Sma(series, smaPeriod)
	lastSMA := sma[len(sma)-1]
	aboveTrend := lastSMA > 0 && currentPrice > lastSMA

	meta := map[string]float64{"momentum": momentum, "sma": lastSMA}

	if position != nil && position.Qty > 0 {
		if momentum <= m.sellThreshold {
			return types.TradingSignal{
				Symbol:       symbol,
				Action:       types.ActionSell,
				Strength:     clamp01(-momentum / m.buyThreshold),
				CurrentPrice: currentPrice,
				Reason:       fmt.Sprintf("momentum %.2f%% below sell threshold", momentum*100),
				Metadata:     meta,
			}
		}
		return hold(symbol, currentPrice, "holding, momentum intact")
	}

	if momentum >= m.buyThreshold && aboveTrend {
		return types.TradingSignal{
			Symbol:       symbol,
			Action:       types.ActionBuy,
			Strength:     clamp01(momentum / (m.buyThreshold * 2)),
			CurrentPrice: currentPrice,
			Reason:       fmt.Sprintf("momentum %.2f%% above threshold", momentum*100),
			Metadata:     meta,
		}
	}
	return hold(symbol, currentPrice, "no momentum edge")
}
