// Package app owns the running coordinator and performs destructive
// universe transitions: stop everything, rebuild everything, never mix.
package app

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/broker"
	"github.com/marketwatch-trading/backend/internal/coordinator"
	"github.com/marketwatch-trading/backend/internal/universe"
)

// BrokerFactory builds a broker bound to the given universe context.
type BrokerFactory func(ctx *universe.Context) (broker.Broker, error)

// Config assembles an App.
type Config struct {
	Universe      universe.Universe
	BaseDir       string
	BrokerFactory BrokerFactory
	// LiveConfirmed must be true before the live universe can be entered.
	LiveConfirmed bool
}

// App holds the single active coordinator. A universe transition replaces
// the runtime wholesale: the old coordinator is fully stopped before the
// new one starts, and no component from the old universe survives.
type App struct {
	logger  *zap.Logger
	baseDir string
	factory BrokerFactory

	mu            sync.Mutex
	coord         *coordinator.Coordinator
	liveConfirmed bool
	onTransition  []func(*universe.Transition)
}

// New builds the app and its initial coordinator.
func New(cfg Config, logger *zap.Logger) (*App, error) {
	if cfg.BrokerFactory == nil {
		return nil, fmt.Errorf("app requires a broker factory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		logger:        logger.Named("app"),
		baseDir:       cfg.BaseDir,
		factory:       cfg.BrokerFactory,
		liveConfirmed: cfg.LiveConfirmed,
	}

	coord, err := a.build(cfg.Universe)
	if err != nil {
		return nil, err
	}
	a.coord = coord
	return a, nil
}

func (a *App) build(u universe.Universe) (*coordinator.Coordinator, error) {
	if u == universe.Live && !a.liveConfirmed {
		return nil, fmt.Errorf("live universe requires explicit confirmation")
	}

	ctx, err := universe.NewContext(u)
	if err != nil {
		return nil, err
	}
	b, err := a.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("build %s broker: %w", u, err)
	}
	if b.Universe() != u {
		return nil, fmt.Errorf("broker factory returned %q broker for %q", b.Universe(), u)
	}
	return coordinator.New(ctx, b, a.baseDir, a.logger)
}

// Coordinator returns the active coordinator.
func (a *App) Coordinator() *coordinator.Coordinator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.coord
}

// Universe returns the active universe.
func (a *App) Universe() universe.Universe {
	return a.Coordinator().Universe()
}

// OnTransition registers a hook invoked after each completed transition,
// used by the API layer to drop websocket clients from the old universe.
func (a *App) OnTransition(fn func(*universe.Transition)) {
	a.mu.Lock()
	a.onTransition = append(a.onTransition, fn)
	a.mu.Unlock()
}

// Transition switches the app to another universe. The replacement
// context, broker and coordinator are built first; only once construction
// succeeds is the old coordinator stopped and swapped out, so a factory or
// construction failure leaves the current runtime untouched. The new
// coordinator is not started until the old one has fully stopped.
func (a *App) Transition(to universe.Universe, reason string) (*universe.Transition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	from := a.coord.Universe()
	audit, err := universe.ValidateTransition(from, to, reason)
	if err != nil {
		return nil, err
	}
	if to == universe.Live && !a.liveConfirmed {
		return nil, fmt.Errorf("live universe requires explicit confirmation")
	}

	coord, err := a.build(to)
	if err != nil {
		return nil, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}

	wasRunning := a.coord.Running()
	a.coord.Stop()
	a.coord = coord
	if wasRunning {
		if err := coord.Start(); err != nil {
			return nil, fmt.Errorf("start after transition: %w", err)
		}
	}

	a.logger.Info("universe transition complete",
		zap.String("from", audit.FromUniverse),
		zap.String("to", audit.ToUniverse),
		zap.String("transition_id", audit.TransitionID),
		zap.String("session_id", coord.Context().SessionID()))

	for _, fn := range a.onTransition {
		fn(audit)
	}
	return audit, nil
}

// Start starts the active coordinator.
func (a *App) Start() error { return a.Coordinator().Start() }

// Stop stops the active coordinator.
func (a *App) Stop() {
	a.mu.Lock()
	coord := a.coord
	a.mu.Unlock()
	if coord != nil {
		coord.Stop()
	}
}
