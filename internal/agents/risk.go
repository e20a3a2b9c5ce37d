package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/metrics"
	"github.com/marketwatch-trading/backend/internal/risk"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// Risk rejection reason codes.
const (
	reasonDailyLimit       = "risk_daily_limit"
	reasonInvalidPortfolio = "risk_invalid_portfolio"
	reasonCircuitBreaker   = "circuit_breaker"
	reasonMaxPositions     = "risk_max_open_positions"
	reasonMinTrade         = "risk_min_trade"
	reasonBuyingPower      = "risk_buying_power"
	reasonSector           = "risk_sector_exposure"
	reasonCorrelation      = "risk_correlation_exposure"
	reasonNoPosition       = "risk_no_position"
	reasonPositionLookup   = "risk_position_lookup_failed"
)

// RiskAgent is the hard gate between signals and execution. Every non-hold
// signal passes the daily limit, circuit breaker, sizing, sector and
// correlation checks before a RiskCheckPassed is emitted.
type RiskAgent struct {
	baseAgent
	broker       broker.Broker
	sizer        *risk.PositionSizer
	breaker      *risk.CircuitBreaker
	sectorLoader *risk.SectorLoader
	sub          *events.Subscription
	now          func() time.Time

	mu            sync.Mutex
	dailyTrades   int
	lastTradeDate string
	checksPassed  int
	checksFailed  int
}

// NewRiskAgent creates the risk gate and subscribes it to signals.
func NewRiskAgent(ctx *universe.Context, bus *events.Bus, b broker.Broker, sizer *risk.PositionSizer, breaker *risk.CircuitBreaker, cfgFn ConfigFn, logger *zap.Logger) *RiskAgent {
	a := &RiskAgent{
		baseAgent:    newBaseAgent("risk_agent", ctx, bus, cfgFn, logger),
		broker:       b,
		sizer:        sizer,
		breaker:      breaker,
		sectorLoader: risk.NewSectorLoader(logger),
		now:          time.Now,
	}
	a.sub = bus.Subscribe(events.TypeSignalGenerated, a.handleSignal)
	return a
}

// Stop detaches the agent from the bus.
func (a *RiskAgent) Stop() {
	a.bus.Unsubscribe(a.sub)
}

func (a *RiskAgent) marketLocation(cfg types.RuntimeConfig) *time.Location {
	loc, err := time.LoadLocation(cfg.MarketTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (a *RiskAgent) rollDailyLimits(loc *time.Location) {
	today := a.now().In(loc).Format("2006-01-02")
	if a.lastTradeDate != today {
		a.dailyTrades = 0
		a.lastTradeDate = today
	}
}

// IncrementTradeCount records one executed trade against the daily limit.
// Only the execution agent calls this, and only after OrderExecuted, so
// rejected and failed orders never consume the budget.
func (a *RiskAgent) IncrementTradeCount() {
	cfg := a.cfgFn()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollDailyLimits(a.marketLocation(cfg))
	a.dailyTrades++
	metrics.DailyTrades.WithLabelValues(a.ctx.Universe().String()).Set(float64(a.dailyTrades))
}

// DailyTrades reports the trades counted against today's limit.
func (a *RiskAgent) DailyTrades() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dailyTrades
}

// CheckCounts reports passed and failed check totals.
func (a *RiskAgent) CheckCounts() (passed, failed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checksPassed, a.checksFailed
}

// ResetCircuitBreaker clears an active breaker.
func (a *RiskAgent) ResetCircuitBreaker() {
	a.breaker.Reset()
	metrics.CircuitBreakerActive.WithLabelValues(a.ctx.Universe().String()).Set(0)
}

// BreakerState reports the circuit breaker's activation and reason.
func (a *RiskAgent) BreakerState() (bool, string) {
	return a.breaker.State()
}

func (a *RiskAgent) handleSignal(evt events.Event) error {
	e, ok := evt.(events.SignalGenerated)
	if !ok {
		return nil
	}
	signal := e.Signal
	if signal.Action == types.ActionHold {
		return nil
	}
	cfg := a.cfgFn()
	ctx := context.Background()

	a.mu.Lock()
	a.rollDailyLimits(a.marketLocation(cfg))
	overLimit := a.dailyTrades >= cfg.MaxDailyTrades
	a.mu.Unlock()

	if overLimit {
		return a.fail(signal, fmt.Sprintf("Daily trade limit reached (%d)", cfg.MaxDailyTrades), reasonDailyLimit)
	}

	portfolioValue, err := a.broker.GetPortfolioValue(ctx)
	if err != nil || portfolioValue <= 0 {
		return a.fail(signal, "Invalid portfolio value", reasonInvalidPortfolio)
	}
	buyingPower, err := a.broker.GetBuyingPower(ctx)
	if err != nil {
		return a.fail(signal, "Invalid portfolio value", reasonInvalidPortfolio)
	}

	breakerActive, breakerReason := a.breaker.Update(portfolioValue, a.now())
	u := a.ctx.Universe().String()
	if breakerActive {
		metrics.CircuitBreakerActive.WithLabelValues(u).Set(1)
	} else {
		metrics.CircuitBreakerActive.WithLabelValues(u).Set(0)
	}
	if breakerActive && signal.Action == types.ActionBuy {
		return a.fail(signal, fmt.Sprintf("Circuit breaker active: %s", breakerReason), reasonCircuitBreaker)
	}

	switch signal.Action {
	case types.ActionBuy:
		return a.checkBuy(ctx, cfg, signal, portfolioValue, buyingPower)
	case types.ActionSell:
		return a.checkSell(ctx, signal, portfolioValue)
	}
	return nil
}

func (a *RiskAgent) checkBuy(ctx context.Context, cfg types.RuntimeConfig, signal types.TradingSignal, portfolioValue, buyingPower float64) error {
	positions, posErr := a.broker.GetPositions(ctx)
	if posErr != nil {
		a.logger.Warn("positions unavailable for risk checks", zap.Error(posErr))
		positions = nil
	}

	if posErr == nil && len(positions) >= cfg.MaxOpenPositions {
		return a.fail(signal, fmt.Sprintf("Max open positions reached (%d)", cfg.MaxOpenPositions), reasonMaxPositions)
	}

	tradeValue := a.sizer.Calculate(signal.Strength, portfolioValue, buyingPower, cfg.MaxPositionPct)

	if tradeValue < cfg.MinTradeValue {
		return a.fail(signal,
			fmt.Sprintf("Trade value $%.2f below minimum $%.2f", tradeValue, cfg.MinTradeValue),
			reasonMinTrade)
	}
	if buyingPower < cfg.MinTradeValue {
		return a.fail(signal, fmt.Sprintf("Insufficient buying power ($%.2f)", buyingPower), reasonBuyingPower)
	}

	if posErr == nil {
		if !a.sectorExposureOK(cfg, signal.Symbol, tradeValue, positions, portfolioValue) {
			return a.fail(signal, "Sector exposure limit reached", reasonSector)
		}
		if !a.correlationExposureOK(ctx, cfg, signal.Symbol, tradeValue, positions, portfolioValue) {
			return a.fail(signal, "Correlation exposure limit reached", reasonCorrelation)
		}
	}

	positionPct := tradeValue / portfolioValue * 100
	return a.pass(signal, tradeValue, positionPct,
		fmt.Sprintf("Buy approved: $%.2f (%.1f%% of portfolio)", tradeValue, positionPct))
}

func (a *RiskAgent) checkSell(ctx context.Context, signal types.TradingSignal, portfolioValue float64) error {
	position, err := a.broker.GetPosition(ctx, signal.Symbol)
	if err != nil {
		if errors.Is(err, broker.ErrNoPosition) {
			return a.fail(signal, fmt.Sprintf("No position in %s to sell", signal.Symbol), reasonNoPosition)
		}
		return a.fail(signal, fmt.Sprintf("Position lookup failed: %v", err), reasonPositionLookup)
	}

	tradeValue := position.MarketValue
	positionPct := tradeValue / portfolioValue * 100
	return a.pass(signal, tradeValue, positionPct, fmt.Sprintf("Sell approved: $%.2f", tradeValue))
}

func (a *RiskAgent) sectorExposureOK(cfg types.RuntimeConfig, symbol string, tradeValue float64, positions []types.Position, portfolioValue float64) bool {
	if portfolioValue <= 0 {
		return true
	}
	sectorMap := a.sectorLoader.Load(cfg.SectorMapPath, cfg.SectorMapJSON)
	if len(sectorMap) == 0 {
		return true
	}
	sector := sectorMap.Sector(symbol)
	if sector == "" {
		return true
	}

	var sectorValue float64
	for _, pos := range positions {
		if sectorMap.Sector(pos.Symbol) == sector {
			sectorValue += pos.MarketValue
		}
	}
	if tradeValue > 0 {
		sectorValue += tradeValue
	}
	return sectorValue/portfolioValue <= cfg.MaxSectorExposurePct
}

func (a *RiskAgent) correlationExposureOK(ctx context.Context, cfg types.RuntimeConfig, symbol string, tradeValue float64, positions []types.Position, portfolioValue float64) bool {
	if portfolioValue <= 0 || len(positions) == 0 {
		return true
	}

	targetReturns := a.dailyReturns(ctx, symbol, cfg.CorrelationLookbackDays)
	if len(targetReturns) == 0 {
		return true
	}

	symbolUpper := strings.ToUpper(symbol)
	var correlatedValue, existingValue float64

	for _, pos := range positions {
		posSymbol := strings.ToUpper(pos.Symbol)
		if posSymbol == symbolUpper {
			existingValue += pos.MarketValue
			continue
		}

		posReturns := a.dailyReturns(ctx, pos.Symbol, cfg.CorrelationLookbackDays)
		if len(posReturns) == 0 {
			continue
		}

		xs, ys := alignReturns(targetReturns, posReturns)
		if len(xs) < 3 {
			continue
		}
		if corr := stat.Correlation(xs, ys, nil); corr >= cfg.CorrelationThreshold {
			correlatedValue += pos.MarketValue
		}
	}

	proposed := correlatedValue + existingValue
	if tradeValue > 0 {
		proposed += tradeValue
	}
	return proposed/portfolioValue <= cfg.MaxCorrelatedExposurePct
}

// dailyReturns fetches a symbol's bars and keys its daily returns by date
// for inner-join alignment.
func (a *RiskAgent) dailyReturns(ctx context.Context, symbol string, lookbackDays int) map[string]float64 {
	bars, err := a.broker.GetBars(ctx, symbol, lookbackDays)
	if err != nil {
		a.logger.Warn("bars unavailable for correlation", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}
	if len(bars) < 3 {
		return nil
	}

	returns := make(map[string]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev == 0 {
			continue
		}
		date := bars[i].Timestamp.UTC().Format("2006-01-02")
		returns[date] = (bars[i].Close - prev) / prev
	}
	return returns
}

// alignReturns inner-joins two dated return series in date order.
func alignReturns(target, other map[string]float64) ([]float64, []float64) {
	dates := make([]string, 0, len(target))
	for date := range target {
		if _, ok := other[date]; ok {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)

	xs := make([]float64, len(dates))
	ys := make([]float64, len(dates))
	for i, date := range dates {
		xs[i] = target[date]
		ys[i] = other[date]
	}
	return xs, ys
}

func (a *RiskAgent) pass(signal types.TradingSignal, tradeValue, positionPct float64, reason string) error {
	a.mu.Lock()
	a.checksPassed++
	a.mu.Unlock()

	return a.bus.Publish(events.RiskCheckPassed{
		BaseEvent:   a.base(),
		Signal:      signal,
		TradeValue:  tradeValue,
		PositionPct: positionPct,
		Reason:      reason,
	})
}

func (a *RiskAgent) fail(signal types.TradingSignal, reason, code string) error {
	a.mu.Lock()
	a.checksFailed++
	a.mu.Unlock()

	metrics.RiskRejectionsTotal.WithLabelValues(a.ctx.Universe().String(), code).Inc()
	a.logger.Info("signal rejected",
		zap.String("symbol", signal.Symbol),
		zap.String("action", string(signal.Action)),
		zap.String("reason", reason))

	return a.bus.Publish(events.RiskCheckFailed{
		BaseEvent:  a.base(),
		Signal:     signal,
		Reason:     reason,
		ReasonCode: code,
	})
}
