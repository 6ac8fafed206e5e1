// Package connector owns exchange sessions and their order book
// subscriptions. It is the sole owner of live exchange state; higher
// layers resolve sessions through the Registry and never hold them
// across restarts.
package connector

import (
	"context"

	"github.com/hoangson/trading-runtime/internal/credentials"
	"github.com/hoangson/trading-runtime/internal/types"
)

// Adapter is the per-exchange capability contract. One Adapter instance
// backs one session; authenticated and public sessions use separate
// instances of the same implementation.
type Adapter interface {
	// Name returns the exchange identifier.
	Name() string

	// Derivative reports whether the exchange trades perpetual
	// contracts and therefore carries positions and hedge mode.
	Derivative() bool

	// Authenticate validates the credentials against the exchange.
	// Public data sessions never call this.
	Authenticate(ctx context.Context, keys credentials.Keys) error

	// SymbolMap returns the exchange symbol for each supported pair.
	SymbolMap(ctx context.Context) (map[string]string, error)

	// TradingRules returns per-pair order constraints.
	TradingRules(ctx context.Context) (map[string]types.TradingRule, error)

	// Balances returns current asset balances. Requires authentication.
	Balances(ctx context.Context) (map[string]types.Balance, error)

	// Positions returns open positions. Derivative exchanges only.
	Positions(ctx context.Context) ([]types.Position, error)

	// SetHedgeMode switches the account to hedge position mode.
	// Derivative exchanges only; a no-op result is acceptable when the
	// exchange does not support it.
	SetHedgeMode(ctx context.Context) error

	// PlaceOrder submits an order and returns the exchange order id.
	PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error)

	// CancelOrder cancels an order by exchange order id.
	CancelOrder(ctx context.Context, pair, orderID string) error

	// OpenOrders returns the exchange's view of in-flight orders.
	OpenOrders(ctx context.Context) ([]types.OpenOrder, error)

	// NewBookStream builds the order book subscription primitive for
	// one pair. The stream is inert until Start is called.
	NewBookStream(pair string) BookStream
}

// BookStream is the live order book feed for one pair.
type BookStream interface {
	// Start launches the stream's background task. Idempotent.
	Start(ctx context.Context) error

	// Stop tears the stream down and frees its resources.
	Stop()

	// Ready reports whether the snapshot has at least one bid and one
	// ask level.
	Ready() bool

	// Alive reports whether the background task is still running.
	Alive() bool

	// Snapshot returns the current bid and ask levels, best first.
	Snapshot() (bids, asks []types.PriceLevel)
}
