// Package metrics exposes the Prometheus instrumentation for the runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts bus events by type and classified outcome.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trading",
		Name:      "events_total",
		Help:      "Bus events observed, by event type and outcome.",
	}, []string{"universe", "event_type", "outcome"})

	// OrdersTotal counts order submissions by side and result.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trading",
		Name:      "orders_total",
		Help:      "Orders submitted, by side and result.",
	}, []string{"universe", "side", "result"})

	// RiskRejectionsTotal counts risk gate rejections by reason code.
	RiskRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trading",
		Name:      "risk_rejections_total",
		Help:      "Signals rejected by the risk gate, by reason code.",
	}, []string{"universe", "reason_code"})

	// PortfolioEquity tracks the last observed equity.
	PortfolioEquity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trading",
		Name:      "portfolio_equity",
		Help:      "Latest portfolio equity snapshot.",
	}, []string{"universe"})

	// OpenPositions tracks the current open position count.
	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trading",
		Name:      "open_positions",
		Help:      "Open positions at the last data tick.",
	}, []string{"universe"})

	// CircuitBreakerActive is 1 while the circuit breaker is tripped.
	CircuitBreakerActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trading",
		Name:      "circuit_breaker_active",
		Help:      "Whether the circuit breaker is currently active.",
	}, []string{"universe"})

	// DailyTrades tracks the trades executed in the current market day.
	DailyTrades = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trading",
		Name:      "daily_trades",
		Help:      "Trades executed in the current market-timezone day.",
	}, []string{"universe"})
)
