// Package broker abstracts market data and order execution behind one
// interface, with a live/paper implementation backed by Alpaca and an
// in-memory simulation implementation.
package broker

import (
	"context"
	"errors"

	"github.com/marketwatch-trading/backend/internal/universe"
	"github.com/marketwatch-trading/backend/pkg/types"
)

// Universe binding failures at construction.
var (
	ErrUniverseNotAllowed = errors.New("broker does not support this universe")
	ErrEndpointMismatch   = errors.New("broker endpoint does not match universe")
)

// ErrNoPosition is returned by GetPosition when the symbol is not held.
var ErrNoPosition = errors.New("no position for symbol")

// Broker is the uniform market/order capability set. Every implementation
// is bound to exactly one universe at construction and never changes it.
type Broker interface {
	Universe() universe.Universe

	IsMarketOpen(ctx context.Context) (bool, error)
	GetAccount(ctx context.Context) (types.Account, error)
	GetPortfolioValue(ctx context.Context) (float64, error)
	GetBuyingPower(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
	GetPosition(ctx context.Context, symbol string) (types.Position, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetBars(ctx context.Context, symbol string, days int) ([]types.Bar, error)
	GetSnapshots(ctx context.Context, symbols []string) (map[string]*types.Snapshot, error)
	SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error)
	GetAssetName(ctx context.Context, symbol string) (string, error)
}
