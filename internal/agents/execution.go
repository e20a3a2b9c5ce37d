package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/metrics"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// TradeCounter is the back channel the execution agent uses to count
// successful trades against the daily limit.
type TradeCounter interface {
	IncrementTradeCount()
}

// ExecutionAgent submits approved trades to the broker and reports the
// outcome as OrderExecuted or OrderFailed events.
type ExecutionAgent struct {
	baseAgent
	broker  broker.Broker
	counter TradeCounter
	sub     *events.Subscription
	nowMS   func() int64

	idMu      sync.Mutex
	lastIDMS  int64
	idCounter int
}

// NewExecutionAgent creates the execution agent and subscribes it to
// approved trades.
func NewExecutionAgent(ctx *universe.Context, bus *events.Bus, b broker.Broker, counter TradeCounter, cfgFn ConfigFn, logger *zap.Logger) *ExecutionAgent {
	a := &ExecutionAgent{
		baseAgent: newBaseAgent("execution_agent", ctx, bus, cfgFn, logger),
		broker:    b,
		counter:   counter,
		nowMS:     func() int64 { return time.Now().UnixMilli() },
	}
	a.sub = bus.Subscribe(events.TypeRiskCheckPassed, a.handleApproved)
	return a
}

// Stop detaches the agent from the bus.
func (a *ExecutionAgent) Stop() {
	a.bus.Unsubscribe(a.sub)
}

// clientOrderID builds "<prefix>-<symbol>-<unix_ms>". Submissions landing
// in the same millisecond get a monotonic counter suffix so the id stays
// unique.
func (a *ExecutionAgent) clientOrderID(prefix, symbol string) string {
	sanitized := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, symbol)

	a.idMu.Lock()
	defer a.idMu.Unlock()

	ms := a.nowMS()
	if ms == a.lastIDMS {
		a.idCounter++
		return fmt.Sprintf("%s-%s-%d-%d", prefix, sanitized, ms, a.idCounter)
	}
	a.lastIDMS = ms
	a.idCounter = 0
	return fmt.Sprintf("%s-%s-%d", prefix, sanitized, ms)
}

func (a *ExecutionAgent) handleApproved(evt events.Event) error {
	e, ok := evt.(events.RiskCheckPassed)
	if !ok {
		return nil
	}
	cfg := a.cfgFn()

	// Manual approvals carry their own operator intent; the auto-trade
	// switch only gates the pipeline.
	if !cfg.AutoTrade && !e.Manual {
		a.logger.Info("auto trade disabled, skipping approved trade",
			zap.String("symbol", e.Signal.Symbol),
			zap.String("action", string(e.Signal.Action)))
		return nil
	}

	prefix := "auto"
	if e.Manual {
		prefix = "manual"
	}
	a.execute(context.Background(), e.Signal.Symbol, types.Side(e.Signal.Action), e.TradeValue, e.Qty, prefix, e.Manual)
	return nil
}

// execute performs one submission and emits the outcome event. qty > 0
// takes precedence over tradeValue.
func (a *ExecutionAgent) execute(ctx context.Context, symbol string, side types.Side, tradeValue, qty float64, prefix string, manual bool) {
	u := a.ctx.Universe().String()

	req := types.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		ClientOrderID: a.clientOrderID(prefix, symbol),
	}

	switch side {
	case types.SideBuy:
		if qty > 0 {
			q := decimal.NewFromFloat(qty)
			req.Qty = &q
		} else {
			notional := decimal.NewFromFloat(tradeValue).Round(2)
			if notional.LessThanOrEqual(decimal.Zero) {
				a.orderFailed(symbol, side, "trade value is not positive", manual)
				return
			}
			req.Notional = &notional
		}

	case types.SideSell:
		sellQty := qty
		if sellQty <= 0 {
			position, err := a.broker.GetPosition(ctx, symbol)
			if err != nil {
				a.orderFailed(symbol, side, fmt.Sprintf("position not found: %v", err), manual)
				return
			}
			sellQty = position.Qty
		}
		if sellQty <= 0 {
			a.orderFailed(symbol, side, "position not found: zero quantity", manual)
			return
		}
		q := decimal.NewFromFloat(sellQty)
		req.Qty = &q

	default:
		a.orderFailed(symbol, side, fmt.Sprintf("unsupported side %q", side), manual)
		return
	}

	order, err := a.broker.SubmitOrder(ctx, req)
	if err != nil {
		a.orderFailed(symbol, side, fmt.Sprintf("submission failed: %v", err), manual)
		return
	}
	if order == nil {
		a.orderFailed(symbol, side, "empty broker response", manual)
		return
	}
	if !isFilled(order.Status) {
		a.orderFailed(symbol, side, fmt.Sprintf("order not filled: status=%s", order.Status), manual)
		return
	}

	// Some brokers omit the fill price on notional orders; derive it.
	if order.FilledAvgPrice == nil && order.Notional != nil && order.Qty != nil && *order.Qty > 0 {
		order.FilledAvgPrice = types.Float64Ptr(*order.Notional / *order.Qty)
	}

	metrics.OrdersTotal.WithLabelValues(u, string(side), "filled").Inc()
	executed := events.OrderExecuted{
		BaseEvent:  a.base(),
		Order:      *order,
		TradeValue: tradeValue,
		Manual:     manual,
	}
	if err := a.bus.Publish(executed); err != nil {
		a.logger.Error("order event publish failed", zap.Error(err))
	}

	// The daily trade counter moves only after OrderExecuted is out.
	if a.counter != nil {
		a.counter.IncrementTradeCount()
	}
}

func isFilled(status string) bool {
	return strings.EqualFold(status, "filled")
}

func (a *ExecutionAgent) orderFailed(symbol string, side types.Side, reason string, manual bool) {
	metrics.OrdersTotal.WithLabelValues(a.ctx.Universe().String(), string(side), "failed").Inc()
	a.logger.Warn("order failed",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("reason", reason))

	evt := events.OrderFailed{
		BaseEvent: a.base(),
		Symbol:    symbol,
		Side:      side,
		Reason:    reason,
		Manual:    manual,
	}
	if err := a.bus.Publish(evt); err != nil {
		a.logger.Error("order event publish failed", zap.Error(err))
	}
}

// ExecuteManualTrade submits an operator-initiated trade. It bypasses the
// risk gate but uses the same submission path and emits the same events.
// For sells in notional mode the quantity is derived from the current
// price, falling back to the full position.
func (a *ExecutionAgent) ExecuteManualTrade(ctx context.Context, symbol string, action types.SignalAction, amount, qty float64) error {
	side := types.Side(action)
	if !side.Valid() {
		return fmt.Errorf("invalid manual trade action %q", action)
	}

	if side == types.SideSell && qty <= 0 && amount > 0 {
		price, err := a.broker.GetCurrentPrice(ctx, symbol)
		if err == nil && price > 0 {
			qty = amount / price
		}
		if qty <= 0 {
			if position, err := a.broker.GetPosition(ctx, symbol); err == nil {
				qty = position.Qty
			}
		}
	}

	a.execute(ctx, symbol, side, amount, qty, "manual", true)
	return nil
}
