// Package executor runs typed trading strategy state machines against
// a per-account trading host, supervises their completion and persists
// their lifecycle.
package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangson/trading-runtime/internal/types"
)

// Host is the capability surface an executor gets from its account's
// trading facade.
type Host interface {
	Account() string
	Buy(ctx context.Context, exchange, pair string, amount decimal.Decimal, orderType types.OrderType, price decimal.Decimal, action types.PositionAction) (string, error)
	Sell(ctx context.Context, exchange, pair string, amount decimal.Decimal, orderType types.OrderType, price decimal.Decimal, action types.PositionAction) (string, error)
	Cancel(ctx context.Context, exchange, pair, orderID string) (string, error)
	ActiveOrders(exchange string) []types.OpenOrder
	MidPrice(exchange, pair string) (decimal.Decimal, bool)
	BestBidAsk(exchange, pair string) (bid, ask decimal.Decimal, ok bool)
	Now() time.Time
}

// Executor is one strategy state machine instance. Start spawns the
// executor's own background task; the control loop polls IsClosed and
// finalizes through the remaining accessors once it reports true.
type Executor interface {
	ID() string
	Start(ctx context.Context) error
	EarlyStop(keepPosition bool)
	IsClosed() bool
	Status() types.RunStatus
	CloseType() types.CloseType
	CustomState() types.CustomState
	NetPnLQuote() decimal.Decimal
	FeesQuote() decimal.Decimal
	VolumeQuote() decimal.Decimal
}

// Config is the common envelope every executor config carries. Raw
// holds the type-specific fields for the factory to decode.
type Config struct {
	ID        string
	Type      string
	Exchange  string
	Pair      string
	CreatedAt time.Time
	Raw       map[string]any
}
