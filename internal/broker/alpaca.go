package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

const (
	liveBaseURL  = "https://api.alpaca.markets"
	paperBaseURL = "https://paper-api.alpaca.markets"
)

// AlpacaConfig configures the live/paper broker client.
type AlpacaConfig struct {
	Universe  universe.Universe
	BaseURL   string
	APIKey    string
	APISecret string
}

// AlpacaBroker trades through the Alpaca REST API. It serves LIVE and
// PAPER only; SIMULATION must use SimBroker. Construction cross-checks the
// endpoint against the universe so a live coordinator can never point at a
// paper account or vice versa.
type AlpacaBroker struct {
	u           universe.Universe
	logger      *zap.Logger
	tradeClient *alpaca.Client
	mdClient    *marketdata.Client
	assetNames  *cache.Cache
}

// NewAlpacaBroker creates a broker bound to cfg.Universe.
func NewAlpacaBroker(cfg AlpacaConfig, logger *zap.Logger) (*AlpacaBroker, error) {
	if cfg.Universe == universe.Simulation {
		return nil, fmt.Errorf("%w: alpaca broker cannot serve simulation", ErrUniverseNotAllowed)
	}
	if !cfg.Universe.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUniverseNotAllowed, cfg.Universe)
	}
	if cfg.BaseURL == "" {
		if cfg.Universe == universe.Live {
			cfg.BaseURL = liveBaseURL
		} else {
			cfg.BaseURL = paperBaseURL
		}
	}
	isPaperURL := strings.Contains(cfg.BaseURL, "paper")
	if cfg.Universe == universe.Live && isPaperURL {
		return nil, fmt.Errorf("%w: live universe with paper endpoint %s", ErrEndpointMismatch, cfg.BaseURL)
	}
	if cfg.Universe == universe.Paper && !isPaperURL {
		return nil, fmt.Errorf("%w: paper universe with non-paper endpoint %s", ErrEndpointMismatch, cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AlpacaBroker{
		u:      cfg.Universe,
		logger: logger.Named("alpaca_broker").With(zap.String("universe", cfg.Universe.String())),
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		mdClient: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		assetNames: cache.New(cache.NoExpiration, 0),
	}, nil
}

func (b *AlpacaBroker) Universe() universe.Universe { return b.u }

func (b *AlpacaBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	clock, err := b.tradeClient.GetClock()
	if err != nil {
		return false, fmt.Errorf("get clock: %w", err)
	}
	return clock.IsOpen, nil
}

func (b *AlpacaBroker) GetAccount(ctx context.Context) (types.Account, error) {
	acct, err := b.tradeClient.GetAccount()
	if err != nil {
		return types.Account{}, fmt.Errorf("get account: %w", err)
	}
	return types.Account{
		PortfolioValue: acct.PortfolioValue.InexactFloat64(),
		BuyingPower:    acct.BuyingPower.InexactFloat64(),
		Cash:           acct.Cash.InexactFloat64(),
		Equity:         acct.Equity.InexactFloat64(),
	}, nil
}

func (b *AlpacaBroker) GetPortfolioValue(ctx context.Context) (float64, error) {
	acct, err := b.GetAccount(ctx)
	if err != nil {
		return 0, err
	}
	return acct.PortfolioValue, nil
}

func (b *AlpacaBroker) GetBuyingPower(ctx context.Context) (float64, error) {
	acct, err := b.GetAccount(ctx)
	if err != nil {
		return 0, err
	}
	return acct.BuyingPower, nil
}

func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]types.Position, error) {
	positions, err := b.tradeClient.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	out := make([]types.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, mapPosition(p))
	}
	return out, nil
}

func (b *AlpacaBroker) GetPosition(ctx context.Context, symbol string) (types.Position, error) {
	p, err := b.tradeClient.GetPosition(symbol)
	if err != nil {
		return types.Position{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	return mapPosition(*p), nil
}

func mapPosition(p alpaca.Position) types.Position {
	pos := types.Position{
		Symbol:        p.Symbol,
		Qty:           p.Qty.InexactFloat64(),
		AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
	}
	if p.CurrentPrice != nil {
		pos.CurrentPrice = p.CurrentPrice.InexactFloat64()
	}
	if p.MarketValue != nil {
		pos.MarketValue = p.MarketValue.InexactFloat64()
	}
	if p.UnrealizedPL != nil {
		pos.UnrealizedPL = p.UnrealizedPL.InexactFloat64()
	}
	if p.UnrealizedPLPC != nil {
		pos.UnrealizedPLPct = p.UnrealizedPLPC.InexactFloat64()
	}
	return pos
}

func (b *AlpacaBroker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	trade, err := b.mdClient.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return 0, fmt.Errorf("get latest trade %s: %w", symbol, err)
	}
	if trade == nil {
		return 0, fmt.Errorf("no trade data for %s", symbol)
	}
	return trade.Price, nil
}

func (b *AlpacaBroker) GetBars(ctx context.Context, symbol string, days int) ([]types.Bar, error) {
	if days <= 0 {
		days = 1
	}
	// Pad the window so weekends and holidays still yield enough bars.
	start := time.Now().AddDate(0, 0, -(days*2 + 5))
	bars, err := b.mdClient.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
	})
	if err != nil {
		return nil, fmt.Errorf("get bars %s: %w", symbol, err)
	}
	out := make([]types.Bar, 0, len(bars))
	for _, bar := range bars {
		out = append(out, types.Bar{
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    float64(bar.Volume),
		})
	}
	if len(out) > days {
		out = out[len(out)-days:]
	}
	return out, nil
}

func (b *AlpacaBroker) GetSnapshots(ctx context.Context, symbols []string) (map[string]*types.Snapshot, error) {
	snaps, err := b.mdClient.GetSnapshots(symbols, marketdata.GetSnapshotRequest{})
	if err != nil {
		return nil, fmt.Errorf("get snapshots: %w", err)
	}
	out := make(map[string]*types.Snapshot, len(snaps))
	for sym, s := range snaps {
		if s == nil {
			continue
		}
		snap := &types.Snapshot{}
		if s.LatestTrade != nil {
			snap.LatestTradePrice = s.LatestTrade.Price
		}
		if s.DailyBar != nil {
			snap.DailyBar = mapMDBar(*s.DailyBar)
		}
		if s.PrevDailyBar != nil {
			snap.PrevDailyBar = mapMDBar(*s.PrevDailyBar)
		}
		if s.MinuteBar != nil {
			snap.MinuteBar = mapMDBar(*s.MinuteBar)
		}
		out[sym] = snap
	}
	return out, nil
}

func mapMDBar(bar marketdata.Bar) *types.Bar {
	return &types.Bar{
		Timestamp: bar.Timestamp,
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		Close:     bar.Close,
		Volume:    float64(bar.Volume),
	}
}

func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	if !req.Side.Valid() {
		return nil, fmt.Errorf("invalid order side %q", req.Side)
	}
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientOrderID,
	}
	switch {
	case req.Qty != nil:
		placeReq.Qty = req.Qty
	case req.Notional != nil:
		placeReq.Notional = req.Notional
	default:
		return nil, fmt.Errorf("order for %s requires qty or notional", req.Symbol)
	}

	o, err := b.tradeClient.PlaceOrder(placeReq)
	if err != nil {
		return nil, fmt.Errorf("place order %s %s: %w", req.Side, req.Symbol, err)
	}
	if o == nil {
		return nil, fmt.Errorf("place order %s %s: empty broker response", req.Side, req.Symbol)
	}
	return mapOrder(o), nil
}

func mapOrder(o *alpaca.Order) *types.Order {
	out := &types.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          types.Side(o.Side),
		Status:        string(o.Status),
		SubmittedAt:   o.SubmittedAt,
		TimeInForce:   string(o.TimeInForce),
		OrderType:     string(o.Type),
	}
	if o.Qty != nil {
		out.Qty = types.Float64Ptr(o.Qty.InexactFloat64())
	}
	if o.Notional != nil {
		out.Notional = types.Float64Ptr(o.Notional.InexactFloat64())
	}
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = types.Float64Ptr(o.FilledAvgPrice.InexactFloat64())
	}
	if o.FilledAt != nil {
		t := *o.FilledAt
		out.FilledAt = &t
	}
	return out
}

func (b *AlpacaBroker) GetAssetName(ctx context.Context, symbol string) (string, error) {
	if name, ok := b.assetNames.Get(symbol); ok {
		return name.(string), nil
	}
	asset, err := b.tradeClient.GetAsset(symbol)
	if err != nil {
		return "", fmt.Errorf("get asset %s: %w", symbol, err)
	}
	b.assetNames.Set(symbol, asset.Name, cache.NoExpiration)
	return asset.Name, nil
}
