package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// SimConfig configures the in-memory simulation broker.
type SimConfig struct {
	Universe           universe.Universe
	InitialCash        float64
	JiggleFactor       float64
	RespectMarketHours bool
	ReplayEnabled      bool
	ReplayDate         string // YYYYMMDD
	BaseDir            string
	Seed               int64
}

// DefaultSimConfig returns a simulation account with 100k starting cash.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Universe:     universe.Simulation,
		InitialCash:  100000,
		JiggleFactor: 0.001,
	}
}

type simPosition struct {
	qty      decimal.Decimal
	avgEntry decimal.Decimal
}

type simSymbol struct {
	last      float64
	prevClose float64
	dayOpen   float64
	dayHigh   float64
	dayLow    float64
}

// SimBroker is an in-memory broker for the SIMULATION universe. Prices
// either replay recorded intraday bars or take a bounded random jiggle each
// tick; orders fill synchronously at the tick price subject to cash and
// inventory checks.
type SimBroker struct {
	u       universe.Universe
	cfg     SimConfig
	logger  *zap.Logger
	history *HistoryStore

	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]*simPosition
	symbols   map[string]*simSymbol
	barsCache map[string][]types.Bar
	replay    map[string][]types.Bar
	replayIdx map[string]int
	rng       *rand.Rand
	now       func() time.Time
}

// NewSimBroker creates a simulation broker. Any universe other than
// SIMULATION fails construction.
func NewSimBroker(cfg SimConfig, history *HistoryStore, logger *zap.Logger) (*SimBroker, error) {
	if cfg.Universe != universe.Simulation {
		return nil, fmt.Errorf("%w: sim broker serves simulation only, got %q",
			ErrUniverseNotAllowed, cfg.Universe)
	}
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = 100000
	}
	if cfg.JiggleFactor < 0 {
		cfg.JiggleFactor = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if history == nil {
		history = NewHistoryStore(cfg.BaseDir, logger)
	}

	b := &SimBroker{
		u:         universe.Simulation,
		cfg:       cfg,
		logger:    logger.Named("sim_broker"),
		history:   history,
		cash:      decimal.NewFromFloat(cfg.InitialCash),
		positions: make(map[string]*simPosition),
		symbols:   make(map[string]*simSymbol),
		barsCache: make(map[string][]types.Bar),
		replay:    make(map[string][]types.Bar),
		replayIdx: make(map[string]int),
		rng:       rand.New(rand.NewSource(seed)),
		now:       time.Now,
	}
	return b, nil
}

func (b *SimBroker) Universe() universe.Universe { return b.u }

// IsMarketOpen emulates the US equity session unless the universe's market
// hours override is in effect.
func (b *SimBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	if !b.cfg.RespectMarketHours && b.u.AllowsMarketHoursOverride() {
		return true, nil
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return false, err
	}
	now := b.now().In(loc)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false, nil
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= 9*60+30 && minutes < 16*60, nil
}

// seedSymbol sets up pricing state for a symbol on first touch: replay bars
// when enabled, otherwise the historical cache, otherwise a deterministic
// synthetic base price.
func (b *SimBroker) seedSymbol(symbol string) *simSymbol {
	if s, ok := b.symbols[symbol]; ok {
		return s
	}

	s := &simSymbol{}
	if b.cfg.ReplayEnabled {
		if date, err := time.Parse("20060102", b.cfg.ReplayDate); err == nil {
			bars, err := LoadReplayBars(b.cfg.BaseDir, symbol, date)
			if err != nil {
				b.logger.Warn("replay load failed", zap.String("symbol", symbol), zap.Error(err))
			} else if len(bars) > 0 {
				b.replay[symbol] = bars
				b.replayIdx[symbol] = 0
			}
		}
	}

	switch {
	case len(b.replay[symbol]) > 0:
		s.prevClose = b.replay[symbol][0].Open
	default:
		if bars, err := b.history.Load(symbol); err == nil && len(bars) > 0 {
			s.prevClose = bars[len(bars)-1].Close
			b.barsCache[symbol] = bars
		} else {
			s.prevClose = syntheticBasePrice(symbol)
		}
	}
	s.last = s.prevClose
	s.dayOpen = s.prevClose
	s.dayHigh = s.prevClose
	s.dayLow = s.prevClose
	b.symbols[symbol] = s
	return s
}

// syntheticBasePrice derives a stable per-symbol price in [20, 520).
func syntheticBasePrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return 20 + float64(h.Sum32()%50000)/100
}

// tick advances one symbol's price: the next replay bar close when
// replaying, otherwise a bounded random jiggle around the last price.
func (b *SimBroker) tick(symbol string) float64 {
	s := b.seedSymbol(symbol)

	if bars := b.replay[symbol]; len(bars) > 0 {
		idx := b.replayIdx[symbol]
		if idx >= len(bars) {
			idx = len(bars) - 1
		} else {
			b.replayIdx[symbol] = idx + 1
		}
		s.last = bars[idx].Close
	} else if b.cfg.JiggleFactor > 0 {
		jiggle := (b.rng.Float64()*2 - 1) * b.cfg.JiggleFactor
		s.last *= 1 + jiggle
	}

	if s.last > s.dayHigh {
		s.dayHigh = s.last
	}
	if s.last < s.dayLow {
		s.dayLow = s.last
	}
	return s.last
}

func (b *SimBroker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tick(symbol), nil
}

func (b *SimBroker) GetSnapshots(ctx context.Context, symbols []string) (map[string]*types.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	out := make(map[string]*types.Snapshot, len(symbols))
	for _, sym := range symbols {
		price := b.tick(sym)
		s := b.symbols[sym]
		volume := 1_500_000 + b.rng.Float64()*1_000_000
		out[sym] = &types.Snapshot{
			LatestTradePrice: price,
			DailyBar: &types.Bar{
				Timestamp: now,
				Open:      s.dayOpen,
				High:      s.dayHigh,
				Low:       s.dayLow,
				Close:     price,
				Volume:    volume,
			},
			PrevDailyBar: &types.Bar{
				Timestamp: now.AddDate(0, 0, -1),
				Close:     s.prevClose,
				Volume:    volume,
			},
		}
	}
	return out, nil
}

// GetBars returns daily bars for a symbol: the historical cache when
// present, otherwise a synthetic random walk ending at the current price.
func (b *SimBroker) GetBars(ctx context.Context, symbol string, days int) ([]types.Bar, error) {
	if days <= 0 {
		days = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seedSymbol(symbol)
	bars := b.barsCache[symbol]
	if len(bars) < days {
		bars = b.synthesizeBars(symbol, days)
		b.barsCache[symbol] = bars
	}
	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	out := make([]types.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func (b *SimBroker) synthesizeBars(symbol string, days int) []types.Bar {
	s := b.symbols[symbol]
	// Walk backwards from the current price so the series ends where the
	// live quote is.
	closes := make([]float64, days)
	closes[days-1] = s.last
	for i := days - 2; i >= 0; i-- {
		drift := (b.rng.Float64()*2 - 1) * 0.02
		closes[i] = closes[i+1] / (1 + drift)
	}

	now := b.now().UTC()
	bars := make([]types.Bar, days)
	for i := 0; i < days; i++ {
		c := closes[i]
		o := c
		if i > 0 {
			o = closes[i-1]
		}
		hi, lo := o, o
		if c > hi {
			hi = c
		}
		if c < lo {
			lo = c
		}
		bars[i] = types.Bar{
			Timestamp: now.AddDate(0, 0, -(days - 1 - i)),
			Open:      o,
			High:      hi * 1.005,
			Low:       lo * 0.995,
			Close:     c,
			Volume:    1_500_000 + b.rng.Float64()*1_000_000,
		}
	}
	return bars
}

func (b *SimBroker) GetAccount(ctx context.Context) (types.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	value := b.cash
	for sym, pos := range b.positions {
		price := decimal.NewFromFloat(b.symbols[sym].last)
		value = value.Add(pos.qty.Mul(price))
	}
	return types.Account{
		PortfolioValue: value.InexactFloat64(),
		BuyingPower:    b.cash.InexactFloat64(),
		Cash:           b.cash.InexactFloat64(),
		Equity:         value.InexactFloat64(),
	}, nil
}

func (b *SimBroker) GetPortfolioValue(ctx context.Context) (float64, error) {
	acct, err := b.GetAccount(ctx)
	if err != nil {
		return 0, err
	}
	return acct.PortfolioValue, nil
}

func (b *SimBroker) GetBuyingPower(ctx context.Context) (float64, error) {
	acct, err := b.GetAccount(ctx)
	if err != nil {
		return 0, err
	}
	return acct.BuyingPower, nil
}

func (b *SimBroker) GetPositions(ctx context.Context) ([]types.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.Position, 0, len(b.positions))
	for sym, pos := range b.positions {
		out = append(out, b.positionView(sym, pos))
	}
	return out, nil
}

func (b *SimBroker) GetPosition(ctx context.Context, symbol string) (types.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[symbol]
	if !ok {
		return types.Position{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	return b.positionView(symbol, pos), nil
}

func (b *SimBroker) positionView(symbol string, pos *simPosition) types.Position {
	price := b.symbols[symbol].last
	qty := pos.qty.InexactFloat64()
	entry := pos.avgEntry.InexactFloat64()
	marketValue := qty * price
	costBasis := qty * entry

	view := types.Position{
		Symbol:        symbol,
		Qty:           qty,
		AvgEntryPrice: entry,
		CurrentPrice:  price,
		MarketValue:   marketValue,
		UnrealizedPL:  marketValue - costBasis,
	}
	if costBasis != 0 {
		view.UnrealizedPLPct = (marketValue - costBasis) / costBasis
	}
	return view
}

// SubmitOrder fills synchronously at the current tick price. Buys are
// bounded by cash, sells by inventory.
func (b *SimBroker) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	if !req.Side.Valid() {
		return nil, fmt.Errorf("invalid order side %q", req.Side)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	price := decimal.NewFromFloat(b.tick(req.Symbol))
	if price.IsZero() {
		return nil, fmt.Errorf("no price for %s", req.Symbol)
	}

	var qty decimal.Decimal
	switch {
	case req.Qty != nil:
		qty = *req.Qty
	case req.Notional != nil:
		qty = req.Notional.Div(price)
	default:
		return nil, fmt.Errorf("order for %s requires qty or notional", req.Symbol)
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("order for %s has non-positive quantity", req.Symbol)
	}
	// Quantities that round-tripped through float64 can overshoot the held
	// amount by an ulp; treat that as a full close.
	if req.Side == types.SideSell {
		if pos, ok := b.positions[req.Symbol]; ok &&
			qty.GreaterThan(pos.qty) &&
			qty.Sub(pos.qty).LessThan(decimal.NewFromFloat(1e-6)) {
			qty = pos.qty
		}
	}
	cost := qty.Mul(price)

	switch req.Side {
	case types.SideBuy:
		if cost.GreaterThan(b.cash) {
			return nil, fmt.Errorf("insufficient buying power for %s: need %s, have %s",
				req.Symbol, cost.StringFixed(2), b.cash.StringFixed(2))
		}
		pos, ok := b.positions[req.Symbol]
		if !ok {
			pos = &simPosition{}
			b.positions[req.Symbol] = pos
		}
		total := pos.qty.Add(qty)
		pos.avgEntry = pos.avgEntry.Mul(pos.qty).Add(cost).Div(total)
		pos.qty = total
		b.cash = b.cash.Sub(cost)

	case types.SideSell:
		pos, ok := b.positions[req.Symbol]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoPosition, req.Symbol)
		}
		if qty.GreaterThan(pos.qty) {
			return nil, fmt.Errorf("insufficient inventory for %s: have %s, sell %s",
				req.Symbol, pos.qty.String(), qty.String())
		}
		pos.qty = pos.qty.Sub(qty)
		if pos.qty.IsZero() {
			delete(b.positions, req.Symbol)
		}
		b.cash = b.cash.Add(cost)
	}

	now := b.now().UTC()
	fillPrice := price.InexactFloat64()
	order := &types.Order{
		ID:             uuid.NewString(),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Qty:            types.Float64Ptr(qty.InexactFloat64()),
		FilledAvgPrice: types.Float64Ptr(fillPrice),
		Status:         "filled",
		SubmittedAt:    now,
		FilledAt:       &now,
		TimeInForce:    "day",
		OrderType:      "market",
	}
	if req.Notional != nil {
		order.Notional = types.Float64Ptr(req.Notional.InexactFloat64())
	}
	return order, nil
}

func (b *SimBroker) GetAssetName(ctx context.Context, symbol string) (string, error) {
	return symbol + " (simulated)", nil
}
