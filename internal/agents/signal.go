package agents

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/strategy"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// SignalAgent turns each data tick into trading signals through the
// configured strategy. A strategy failure on one symbol degrades to a hold
// signal so the pipeline keeps running.
type SignalAgent struct {
	baseAgent
	sub *events.Subscription
}

// NewSignalAgent creates the signal agent and subscribes it to data ticks.
func NewSignalAgent(ctx *universe.Context, bus *events.Bus, cfgFn ConfigFn, logger *zap.Logger) *SignalAgent {
	a := &SignalAgent{baseAgent: newBaseAgent("signal_agent", ctx, bus, cfgFn, logger)}
	a.sub = bus.Subscribe(events.TypeMarketDataReady, a.handleMarketData)
	return a
}

// Stop detaches the agent from the bus.
func (a *SignalAgent) Stop() {
	a.bus.Unsubscribe(a.sub)
}

func (a *SignalAgent) handleMarketData(evt events.Event) error {
	e, ok := evt.(events.MarketDataReady)
	if !ok {
		return nil
	}
	cfg := a.cfgFn()

	// Outside market hours only the simulation universe keeps signaling.
	if !e.MarketOpen && a.ctx.Universe() != universe.Simulation {
		a.logger.Debug("market closed, skipping signals")
		return nil
	}

	strat := strategy.ForName(cfg.Strategy, strategy.Params{
		MomentumThreshold: cfg.MomentumThreshold,
		SellThreshold:     cfg.SellThreshold,
		LookbackDays:      cfg.LookbackDays,
	})

	positionsBySymbol := make(map[string]*types.Position, len(e.Positions))
	for i := range e.Positions {
		positionsBySymbol[e.Positions[i].Symbol] = &e.Positions[i]
	}

	symbols := make([]string, 0, len(e.Bars))
	for sym := range e.Bars {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	decisions := make(map[string]types.TradingSignal, len(symbols))
	for _, sym := range symbols {
		bars := e.Bars[sym]
		if len(bars) < strat.RequiredHistory() {
			decisions[sym] = types.TradingSignal{
				Symbol:       sym,
				Action:       types.ActionHold,
				CurrentPrice: e.Prices[sym],
				Reason:       "insufficient history",
			}
			continue
		}

		sig := a.analyze(strat, sym, bars, e.Prices[sym], positionsBySymbol[sym])
		decisions[sym] = sig

		if sig.Action == types.ActionBuy || sig.Action == types.ActionSell {
			if err := a.bus.Publish(events.SignalGenerated{BaseEvent: a.base(), Signal: sig}); err != nil {
				a.logger.Error("signal publish failed", zap.String("symbol", sym), zap.Error(err))
			}
		}
	}

	return a.bus.Publish(events.SignalsUpdated{BaseEvent: a.base(), Signals: decisions})
}

// analyze shields the pipeline from a misbehaving strategy; a panic
// becomes an error-flavored hold signal.
func (a *SignalAgent) analyze(strat strategy.Strategy, symbol string, bars []types.Bar, price float64, pos *types.Position) (sig types.TradingSignal) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("strategy panicked",
				zap.String("strategy", strat.Name()),
				zap.String("symbol", symbol),
				zap.Any("panic", r))
			sig = types.TradingSignal{
				Symbol:       symbol,
				Action:       types.ActionHold,
				CurrentPrice: price,
				Reason:       fmt.Sprintf("strategy error: %v", r),
			}
		}
	}()
	return strat.Analyze(symbol, bars, price, pos)
}
