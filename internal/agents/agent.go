// Package agents implements the cooperating agents of the trading runtime.
// Agents communicate only through the event bus; none of them holds a
// reference to the coordinator.
package agents

import (
	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// ConfigFn returns the current runtime config. Agents call it on every
// tick so config updates take effect without reconstruction.
type ConfigFn func() types.RuntimeConfig

type baseAgent struct {
	name   string
	ctx    *universe.Context
	bus    *events.Bus
	cfgFn  ConfigFn
	logger *zap.Logger
}

func newBaseAgent(name string, ctx *universe.Context, bus *events.Bus, cfgFn ConfigFn, logger *zap.Logger) baseAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return baseAgent{
		name:   name,
		ctx:    ctx,
		bus:    bus,
		cfgFn:  cfgFn,
		logger: logger.Named(name).With(zap.String("universe", ctx.Universe().String())),
	}
}

func (a *baseAgent) Name() string { return a.name }

func (a *baseAgent) base() events.BaseEvent {
	return events.NewBase(a.ctx, a.name)
}

// publishLog emits a LogEvent for the alert stream; failures only get a
// local warning so agent work never aborts on log fan-out.
func (a *baseAgent) publishLog(level, message string, data map[string]any) {
	evt := events.LogEvent{
		BaseEvent: a.base(),
		Level:     level,
		Message:   message,
		Data:      data,
	}
	if err := a.bus.Publish(evt); err != nil {
		a.logger.Warn("log publish failed", zap.Error(err))
	}
}
