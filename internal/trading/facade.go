// Package trading adapts the connector registry into the uniform
// capability surface executors expect from their host: place and
// cancel orders, query active orders, read prices and the logical
// clock.
package trading

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hoangson/trading-runtime/internal/connector"
	"github.com/hoangson/trading-runtime/internal/types"
)

// Facade is the per-account trading interface. It never owns sessions;
// it resolves them through the registry by key on every call.
type Facade struct {
	account  string
	registry *connector.Registry

	// logical clock, unix milliseconds, advanced once per control tick
	now atomic.Int64

	mu      sync.RWMutex
	markets map[string]map[string]bool // exchange -> pair set
}

// NewFacade creates the trading interface for one account.
func NewFacade(account string, registry *connector.Registry) *Facade {
	f := &Facade{
		account:  account,
		registry: registry,
		markets:  make(map[string]map[string]bool),
	}
	f.now.Store(time.Now().UnixMilli())
	return f
}

// Account returns the owning account id.
func (f *Facade) Account() string { return f.account }

// AddMarket ensures a trading session exists for the exchange and the
// pair's order book is ready, then records the market. Re-adding a
// market whose subscription went stale re-initializes it instead of
// trusting the bookkeeping.
func (f *Facade) AddMarket(ctx context.Context, exchange, pair string, timeout time.Duration) error {
	if _, err := f.registry.GetTradingConnector(ctx, f.account, exchange); err != nil {
		return err
	}

	f.mu.RLock()
	recorded := f.markets[exchange][pair]
	f.mu.RUnlock()

	if !recorded || !f.bookReady(exchange, pair) {
		ready, err := f.registry.InitializeOrderBook(ctx, exchange, pair, f.account, timeout)
		if err != nil {
			return err
		}
		if !ready {
			return fmt.Errorf("%w: %s %s after %s", types.ErrOrderBookTimeout, exchange, pair, timeout)
		}
	}

	f.mu.Lock()
	if f.markets[exchange] == nil {
		f.markets[exchange] = make(map[string]bool)
	}
	f.markets[exchange][pair] = true
	f.mu.Unlock()
	return nil
}

func (f *Facade) bookReady(exchange, pair string) bool {
	_, _, ok := f.registry.BookSnapshot(exchange, pair, f.account)
	return ok
}

// RemoveMarket forgets the market and tears down its subscription.
// Returns false when the market was not tracked. Idempotent.
func (f *Facade) RemoveMarket(exchange, pair string) bool {
	f.mu.Lock()
	recorded := f.markets[exchange][pair]
	if recorded {
		delete(f.markets[exchange], pair)
		if len(f.markets[exchange]) == 0 {
			delete(f.markets, exchange)
		}
	}
	f.mu.Unlock()

	removed := f.registry.RemoveTradingPair(exchange, pair, f.account)
	return recorded || removed
}

// Markets returns the tracked exchange to pair mapping.
func (f *Facade) Markets() map[string][]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][]string, len(f.markets))
	for exchange, pairs := range f.markets {
		list := make([]string, 0, len(pairs))
		for pair := range pairs {
			list = append(list, pair)
		}
		sort.Strings(list)
		out[exchange] = list
	}
	return out
}

// session returns the loaded trading session or ErrNoSession. It never
// creates one; callers must AddMarket first.
func (f *Facade) session(exchange string) (*connector.Session, error) {
	s, ok := f.registry.TradingSession(f.account, exchange)
	if !ok {
		return nil, fmt.Errorf("%w: account %q exchange %q", types.ErrNoSession, f.account, exchange)
	}
	return s, nil
}

// Buy places a buy order and returns the client order id.
func (f *Facade) Buy(ctx context.Context, exchange, pair string, amount decimal.Decimal, orderType types.OrderType, price decimal.Decimal, action types.PositionAction) (string, error) {
	return f.placeOrder(ctx, exchange, pair, types.TradeTypeBuy, amount, orderType, price, action)
}

// Sell places a sell order and returns the client order id.
func (f *Facade) Sell(ctx context.Context, exchange, pair string, amount decimal.Decimal, orderType types.OrderType, price decimal.Decimal, action types.PositionAction) (string, error) {
	return f.placeOrder(ctx, exchange, pair, types.TradeTypeSell, amount, orderType, price, action)
}

func (f *Facade) placeOrder(ctx context.Context, exchange, pair string, side types.TradeType, amount decimal.Decimal, orderType types.OrderType, price decimal.Decimal, action types.PositionAction) (string, error) {
	s, err := f.session(exchange)
	if err != nil {
		return "", err
	}
	return s.PlaceOrder(ctx, types.OrderRequest{
		ClientOrderID:  uuid.NewString(),
		Pair:           pair,
		Side:           side,
		Type:           orderType,
		Amount:         amount,
		Price:          price,
		PositionAction: action,
	})
}

// Cancel cancels an order by client order id.
func (f *Facade) Cancel(ctx context.Context, exchange, pair, orderID string) (string, error) {
	s, err := f.session(exchange)
	if err != nil {
		return "", err
	}
	if err := s.CancelOrder(ctx, pair, orderID); err != nil {
		return "", err
	}
	return orderID, nil
}

// ActiveOrders returns the session's open order snapshot, empty when no
// session is loaded.
func (f *Facade) ActiveOrders(exchange string) []types.OpenOrder {
	s, err := f.session(exchange)
	if err != nil {
		return nil
	}
	return s.ActiveOrders()
}

// MidPrice returns the order book mid price for the pair.
func (f *Facade) MidPrice(exchange, pair string) (decimal.Decimal, bool) {
	bids, asks, ok := f.registry.BookSnapshot(exchange, pair, f.account)
	if !ok {
		return decimal.Zero, false
	}
	return bids[0].Price.Add(asks[0].Price).Div(decimal.NewFromInt(2)), true
}

// BestBidAsk returns the top of book for the pair.
func (f *Facade) BestBidAsk(exchange, pair string) (bid, ask decimal.Decimal, ok bool) {
	bids, asks, ok := f.registry.BookSnapshot(exchange, pair, f.account)
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	return bids[0].Price, asks[0].Price, true
}

// CurrentTimestamp returns the logical clock in unix milliseconds. All
// executors observing the same tick see the same instant.
func (f *Facade) CurrentTimestamp() int64 {
	return f.now.Load()
}

// Now returns the logical clock as a time.
func (f *Facade) Now() time.Time {
	return time.UnixMilli(f.now.Load())
}

// UpdateTimestamp advances the logical clock. Called once per control
// loop tick.
func (f *Facade) UpdateTimestamp(t time.Time) {
	f.now.Store(t.UnixMilli())
}
