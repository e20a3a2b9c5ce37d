package agents

import (
	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/analytics"
	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/metrics"
	"github.com/marketwatch-trading/backend/internal/universe"
)

// AnalyticsAgent persists equity snapshots and executed trades.
type AnalyticsAgent struct {
	baseAgent
	store    *analytics.Store
	dataSub  *events.Subscription
	orderSub *events.Subscription
}

func NewAnalyticsAgent(ctx *universe.Context, bus *events.Bus, store *analytics.Store, cfgFn ConfigFn, logger *zap.Logger) *AnalyticsAgent {
	a := &AnalyticsAgent{
		baseAgent: newBaseAgent("analytics_agent", ctx, bus, cfgFn, logger),
		store:     store,
	}
	a.dataSub = bus.Subscribe(events.TypeMarketDataReady, a.handleMarketData)
	a.orderSub = bus.Subscribe(events.TypeOrderExecuted, a.handleOrder)
	return a
}

func (a *AnalyticsAgent) Stop() {
	a.bus.Unsubscribe(a.dataSub)
	a.bus.Unsubscribe(a.orderSub)
}

func (a *AnalyticsAgent) handleMarketData(evt events.Event) error {
	if !a.cfgFn().AnalyticsEnabled {
		return nil
	}
	e, ok := evt.(events.MarketDataReady)
	if !ok {
		return nil
	}

	u := a.ctx.Universe().String()
	metrics.PortfolioEquity.WithLabelValues(u).Set(e.Account.Equity)
	metrics.OpenPositions.WithLabelValues(u).Set(float64(len(e.Positions)))

	rec := analytics.EquityRecord{
		DataLineageID:  e.DataLineageID,
		ValidityClass:  e.ValidityClass,
		Timestamp:      e.Timestamp,
		Equity:         e.Account.Equity,
		PortfolioValue: e.Account.PortfolioValue,
		Cash:           e.Account.Cash,
		BuyingPower:    e.Account.BuyingPower,
		MarketOpen:     e.MarketOpen,
	}
	if err := a.store.RecordEquity(rec); err != nil {
		a.logger.Warn("equity record failed", zap.Error(err))
	}
	return nil
}

func (a *AnalyticsAgent) handleOrder(evt events.Event) error {
	if !a.cfgFn().AnalyticsEnabled {
		return nil
	}
	e, ok := evt.(events.OrderExecuted)
	if !ok {
		return nil
	}

	source := "auto"
	if e.Manual {
		source = "manual"
	}
	rec := analytics.TradeRecord{
		DataLineageID:  e.DataLineageID,
		ValidityClass:  e.ValidityClass,
		Timestamp:      e.Timestamp,
		Symbol:         e.Order.Symbol,
		Side:           e.Order.Side,
		Qty:            e.Order.Qty,
		FilledAvgPrice: e.Order.FilledAvgPrice,
		Notional:       e.Order.Notional,
		Status:         e.Order.Status,
		FilledAt:       e.Order.FilledAt,
		OrderID:        e.Order.ID,
		Source:         source,
		TimeInForce:    e.Order.TimeInForce,
		OrderType:      e.Order.OrderType,
	}
	if !e.Order.SubmittedAt.IsZero() {
		submitted := e.Order.SubmittedAt
		rec.SubmittedAt = &submitted
	}
	if err := a.store.RecordTrade(rec); err != nil {
		a.logger.Warn("trade record failed", zap.Error(err))
	}
	return nil
}
