// Package types provides the shared domain types for the trading backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is an order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether the side is buy or sell.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// SignalAction is a strategy decision.
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
	ActionHold SignalAction = "hold"
)

// Bar is one OHLCV bar.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Account is a point-in-time account snapshot.
type Account struct {
	PortfolioValue float64 `json:"portfolio_value"`
	BuyingPower    float64 `json:"buying_power"`
	Cash           float64 `json:"cash"`
	Equity         float64 `json:"equity"`
}

// Position is an open position with derived fields recomputed on each tick.
type Position struct {
	Symbol          string  `json:"symbol"`
	Qty             float64 `json:"qty"`
	AvgEntryPrice   float64 `json:"avg_entry_price"`
	CurrentPrice    float64 `json:"current_price"`
	MarketValue     float64 `json:"market_value"`
	UnrealizedPL    float64 `json:"unrealized_pl"`
	UnrealizedPLPct float64 `json:"unrealized_plpc"`
}

// Snapshot is the latest market view of one symbol, with enough daily
// context to screen on.
type Snapshot struct {
	LatestTradePrice float64 `json:"latest_trade_price,omitempty"`
	DailyBar         *Bar    `json:"daily_bar,omitempty"`
	PrevDailyBar     *Bar    `json:"prev_daily_bar,omitempty"`
	MinuteBar        *Bar    `json:"minute_bar,omitempty"`
}

// Price returns the freshest usable price: latest trade, then daily close,
// then minute close. Zero means no price is available.
func (s *Snapshot) Price() float64 {
	if s == nil {
		return 0
	}
	if s.LatestTradePrice > 0 {
		return s.LatestTradePrice
	}
	if s.DailyBar != nil && s.DailyBar.Close > 0 {
		return s.DailyBar.Close
	}
	if s.MinuteBar != nil && s.MinuteBar.Close > 0 {
		return s.MinuteBar.Close
	}
	return 0
}

// PrevClose returns the previous daily close, or zero when unknown.
func (s *Snapshot) PrevClose() float64 {
	if s == nil || s.PrevDailyBar == nil {
		return 0
	}
	return s.PrevDailyBar.Close
}

// DailyVolume returns the larger of today's and yesterday's daily volume.
func (s *Snapshot) DailyVolume() float64 {
	if s == nil {
		return 0
	}
	var v float64
	if s.DailyBar != nil && s.DailyBar.Volume > v {
		v = s.DailyBar.Volume
	}
	if s.PrevDailyBar != nil && s.PrevDailyBar.Volume > v {
		v = s.PrevDailyBar.Volume
	}
	return v
}

// GainerEntry is one row of the top-gainers screen.
type GainerEntry struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	PrevClose float64 `json:"prev_close"`
	ChangePct float64 `json:"change_pct"`
	Volume    float64 `json:"volume"`
}

// IndexQuote is a market-index proxy quote for the UI ticker.
type IndexQuote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	PrevClose float64 `json:"prev_close"`
	ChangePct float64 `json:"change_pct"`
}

// OrderRequest is a market order submission. Exactly one of Qty or Notional
// must be set.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Qty           *decimal.Decimal
	Notional      *decimal.Decimal
	ClientOrderID string
}

// Order is the broker's view of a submitted order.
type Order struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Side           Side       `json:"side"`
	Qty            *float64   `json:"qty,omitempty"`
	Notional       *float64   `json:"notional,omitempty"`
	FilledAvgPrice *float64   `json:"filled_avg_price,omitempty"`
	Status         string     `json:"status"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at,omitempty"`
	TimeInForce    string     `json:"time_in_force"`
	OrderType      string     `json:"order_type"`
}

// TradingSignal is a strategy's decision for one symbol.
type TradingSignal struct {
	Symbol       string             `json:"symbol"`
	Action       SignalAction       `json:"action"`
	Strength     float64            `json:"strength"`
	Reason       string             `json:"reason"`
	CurrentPrice float64            `json:"current_price"`
	Metadata     map[string]float64 `json:"metadata,omitempty"`
}

// Float64Ptr returns a pointer to v, for the optional order fields.
func Float64Ptr(v float64) *float64 { return &v }
