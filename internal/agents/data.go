package agents

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/screener"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// DataAgent fetches market snapshots on a schedule and publishes one
// MarketDataReady per tick. Per-symbol fetch failures are logged and
// skipped; the tick still publishes with whatever data it gathered.
type DataAgent struct {
	baseAgent
	broker broker.Broker
}

// NewDataAgent creates the data ingestion agent.
func NewDataAgent(ctx *universe.Context, bus *events.Bus, b broker.Broker, cfgFn ConfigFn, logger *zap.Logger) *DataAgent {
	return &DataAgent{
		baseAgent: newBaseAgent("data_agent", ctx, bus, cfgFn, logger),
		broker:    b,
	}
}

// Tick runs one data collection cycle.
func (a *DataAgent) Tick(ctx context.Context) error {
	cfg := a.cfgFn()

	marketOpen, err := a.broker.IsMarketOpen(ctx)
	if err != nil {
		a.logger.Warn("market clock unavailable", zap.Error(err))
	}

	positions, err := a.broker.GetPositions(ctx)
	if err != nil {
		a.logger.Warn("positions unavailable", zap.Error(err))
		positions = nil
	}

	watchlist, topGainers := a.resolveWatchlist(ctx, cfg)

	// Held symbols are always monitored, whatever the watchlist says.
	symbolSet := make(map[string]struct{}, len(watchlist)+len(positions))
	for _, sym := range watchlist {
		symbolSet[sym] = struct{}{}
	}
	for _, pos := range positions {
		symbolSet[pos.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(symbolSet))
	for sym := range symbolSet {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	prices := make(map[string]float64, len(symbols))
	if len(symbols) > 0 {
		snaps, err := a.broker.GetSnapshots(ctx, symbols)
		if err != nil {
			a.logger.Warn("snapshot fetch failed", zap.Error(err))
		} else {
			for sym, snap := range snaps {
				if price := snap.Price(); price > 0 {
					prices[sym] = price
				}
			}
		}
	}

	bars := make(map[string][]types.Bar, len(symbols))
	for _, sym := range symbols {
		series, err := a.broker.GetBars(ctx, sym, cfg.LookbackDays)
		if err != nil {
			a.logger.Warn("bar fetch failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		if len(series) > 0 {
			bars[sym] = series
		}
	}

	account, err := a.broker.GetAccount(ctx)
	if err != nil {
		a.logger.Warn("account unavailable", zap.Error(err))
	}

	indices := a.fetchIndices(ctx, cfg.MarketIndexSymbols)

	evt := events.MarketDataReady{
		BaseEvent:  a.base(),
		Prices:     prices,
		Bars:       bars,
		Account:    account,
		Positions:  positions,
		TopGainers: topGainers,
		Indices:    indices,
		MarketOpen: marketOpen,
	}
	return a.bus.Publish(evt)
}

// resolveWatchlist returns the symbols to track this tick and, in
// top-gainers mode, the ranked screen output.
func (a *DataAgent) resolveWatchlist(ctx context.Context, cfg types.RuntimeConfig) ([]string, []types.GainerEntry) {
	if cfg.WatchlistMode != "top_gainers" {
		return cfg.Watchlist, nil
	}

	pool := screener.UniverseSymbols(cfg.TopGainersUniverse)
	snaps, err := a.broker.GetSnapshots(ctx, pool)
	if err != nil {
		a.logger.Warn("screen snapshots failed, using static watchlist", zap.Error(err))
		return cfg.Watchlist, nil
	}

	gainers := screener.ComputeTopGainers(snaps, screener.Criteria{
		MinPrice:  cfg.TopGainersMinPrice,
		MinVolume: cfg.TopGainersMinVol,
		Limit:     cfg.TopGainersCount,
	})
	symbols := make([]string, 0, len(gainers))
	for _, g := range gainers {
		symbols = append(symbols, g.Symbol)
	}
	return symbols, gainers
}

func (a *DataAgent) fetchIndices(ctx context.Context, symbols []string) map[string]types.IndexQuote {
	if len(symbols) == 0 {
		return nil
	}
	snaps, err := a.broker.GetSnapshots(ctx, symbols)
	if err != nil {
		a.logger.Warn("index snapshots failed", zap.Error(err))
		return nil
	}

	out := make(map[string]types.IndexQuote, len(snaps))
	for sym, snap := range snaps {
		price := snap.Price()
		prev := snap.PrevClose()
		if price <= 0 || prev <= 0 {
			continue
		}
		out[sym] = types.IndexQuote{
			Symbol:    sym,
			Price:     price,
			PrevClose: prev,
			ChangePct: (price - prev) / prev * 100,
		}
	}
	return out
}
