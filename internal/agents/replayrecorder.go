package agents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// ReplayRecorderAgent samples live or paper quotes into replay CSVs that
// the simulation broker can later play back.
type ReplayRecorderAgent struct {
	baseAgent
	broker  broker.Broker
	baseDir string
	now     func() time.Time
}

func NewReplayRecorderAgent(ctx *universe.Context, bus *events.Bus, b broker.Broker, baseDir string, cfgFn ConfigFn, logger *zap.Logger) *ReplayRecorderAgent {
	return &ReplayRecorderAgent{
		baseAgent: newBaseAgent("replay_recorder_agent", ctx, bus, cfgFn, logger),
		broker:    b,
		baseDir:   baseDir,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Tick records one bar per configured symbol from the latest snapshots.
func (a *ReplayRecorderAgent) Tick(ctx context.Context) error {
	cfg := a.cfgFn()
	if !cfg.ReplayRecorderEnabled {
		return nil
	}
	symbols := cfg.ReplayRecorderSymbols
	if len(symbols) == 0 {
		symbols = cfg.Watchlist
	}
	if len(symbols) == 0 {
		return nil
	}

	snapshots, err := a.broker.GetSnapshots(ctx, symbols)
	if err != nil {
		a.logger.Warn("replay snapshot fetch failed", zap.Error(err))
		return nil
	}

	ts := a.now()
	for _, symbol := range symbols {
		snapshot, ok := snapshots[symbol]
		if !ok || snapshot == nil {
			continue
		}
		price := snapshot.Price()
		if price <= 0 {
			continue
		}
		bar := types.Bar{
			Timestamp: ts,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    snapshot.DailyVolume(),
		}
		if err := broker.AppendReplayBar(a.baseDir, symbol, bar); err != nil {
			a.logger.Warn("replay bar append failed",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return nil
}
