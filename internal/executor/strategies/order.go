// Package strategies implements the built-in executor types and their
// registration into the type registry.
package strategies

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"

	"github.com/hoangson/trading-runtime/internal/executor"
	"github.com/hoangson/trading-runtime/internal/types"
)

// TypeOrder is the type tag of the single order executor.
const TypeOrder = "order"

// orderPollInterval is how often the executor re-checks its order.
const orderPollInterval = 500 * time.Millisecond

// OrderConfig holds the type-specific fields of an order executor.
type OrderConfig struct {
	Side         string  `mapstructure:"side"`
	Amount       float64 `mapstructure:"amount"`
	Price        float64 `mapstructure:"price"`
	OrderType    string  `mapstructure:"order_type"`
	TimeLimitSec int     `mapstructure:"time_limit_sec"`
}

// OrderExecutor places one order and tracks it to a terminal state:
// filled, cancelled on early stop, or cancelled on time limit.
type OrderExecutor struct {
	*executor.Base
	logger *slog.Logger

	side      types.TradeType
	amount    decimal.Decimal
	price     decimal.Decimal
	orderType types.OrderType
	timeLimit time.Duration

	mu      sync.Mutex
	orderID string
	fills   []types.FilledOrder
	volume  decimal.Decimal

	wg sync.WaitGroup
}

// NewOrderExecutor decodes and validates the raw config, rejecting
// malformed input before any side effect.
func NewOrderExecutor(cfg executor.Config, host executor.Host, logger *slog.Logger) (executor.Executor, error) {
	var oc OrderConfig
	if err := mapstructure.Decode(cfg.Raw, &oc); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfigInvalid, err)
	}

	side, ok := types.ParseTradeType(oc.Side)
	if !ok {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", types.ErrConfigInvalid)
	}
	if oc.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", types.ErrConfigInvalid)
	}
	orderType, ok := types.ParseOrderType(oc.OrderType)
	if oc.OrderType != "" && !ok {
		return nil, fmt.Errorf("%w: unknown order type %q", types.ErrConfigInvalid, oc.OrderType)
	}
	if orderType != types.OrderTypeMarket && oc.Price <= 0 {
		return nil, fmt.Errorf("%w: limit orders require a positive price", types.ErrConfigInvalid)
	}

	timeLimit := time.Duration(oc.TimeLimitSec) * time.Second
	if timeLimit <= 0 {
		timeLimit = time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &OrderExecutor{
		Base:      executor.NewBase(cfg, host),
		logger:    logger,
		side:      side,
		amount:    decimal.NewFromFloat(oc.Amount),
		price:     decimal.NewFromFloat(oc.Price),
		orderType: orderType,
		timeLimit: timeLimit,
	}, nil
}

// Start places the order and spawns the tracking loop.
func (e *OrderExecutor) Start(ctx context.Context) error {
	cfg := e.Config()
	e.MarkRunning()

	orderID, err := e.place(ctx)
	if err != nil {
		e.logger.Error("order placement failed", "err", err)
		e.Close(types.CloseTypeFailed)
		return nil
	}
	e.mu.Lock()
	e.orderID = orderID
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.track(ctx, cfg)
	}()
	return nil
}

func (e *OrderExecutor) place(ctx context.Context) (string, error) {
	cfg := e.Config()
	if e.side == types.TradeTypeBuy {
		return e.Host().Buy(ctx, cfg.Exchange, cfg.Pair, e.amount, e.orderType, e.price, types.PositionActionNil)
	}
	return e.Host().Sell(ctx, cfg.Exchange, cfg.Pair, e.amount, e.orderType, e.price, types.PositionActionNil)
}

// track polls until the order leaves the session's active set, the
// time limit elapses or an early stop arrives.
func (e *OrderExecutor) track(ctx context.Context, cfg executor.Config) {
	ticker := time.NewTicker(orderPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(e.timeLimit)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Close(types.CloseTypeFailed)
			return
		case <-e.StopRequested():
			e.cancel(ctx, cfg)
			e.Close(e.StopCloseType())
			return
		case <-deadline.C:
			e.cancel(ctx, cfg)
			e.Close(types.CloseTypeTimeLimit)
			return
		case <-ticker.C:
			if e.orderGone(cfg) {
				e.recordFill()
				e.Close(types.CloseTypeCompleted)
				return
			}
		}
	}
}

// orderGone reports whether the order left the active set, which the
// session only does for terminal orders.
func (e *OrderExecutor) orderGone(cfg executor.Config) bool {
	e.mu.Lock()
	orderID := e.orderID
	e.mu.Unlock()
	for _, o := range e.Host().ActiveOrders(cfg.Exchange) {
		if o.ClientOrderID == orderID {
			return false
		}
	}
	return true
}

func (e *OrderExecutor) cancel(ctx context.Context, cfg executor.Config) {
	e.mu.Lock()
	orderID := e.orderID
	e.mu.Unlock()
	if orderID == "" {
		return
	}
	if _, err := e.Host().Cancel(ctx, cfg.Exchange, cfg.Pair, orderID); err != nil {
		e.logger.Warn("cancel on stop failed", "order_id", orderID, "err", err)
	}
}

func (e *OrderExecutor) recordFill() {
	cfg := e.Config()
	price := e.price
	if e.orderType == types.OrderTypeMarket || price.IsZero() {
		if mid, ok := e.Host().MidPrice(cfg.Exchange, cfg.Pair); ok {
			price = mid
		}
	}
	quote := e.amount.Mul(price)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.fills = append(e.fills, types.FilledOrder{
		OrderID:     e.orderID,
		Side:        e.side.String(),
		BaseAmount:  e.amount,
		QuoteAmount: quote,
	})
	e.volume = e.volume.Add(quote)
}

// CustomState implements executor.Executor.
func (e *OrderExecutor) CustomState() types.CustomState {
	e.mu.Lock()
	defer e.mu.Unlock()
	fills := make([]types.FilledOrder, len(e.fills))
	copy(fills, e.fills)
	return types.CustomState{FilledOrders: fills}
}

// NetPnLQuote implements executor.Executor. A single order realizes no
// pnl on its own.
func (e *OrderExecutor) NetPnLQuote() decimal.Decimal { return decimal.Zero }

// FeesQuote implements executor.Executor.
func (e *OrderExecutor) FeesQuote() decimal.Decimal { return decimal.Zero }

// VolumeQuote implements executor.Executor.
func (e *OrderExecutor) VolumeQuote() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

var _ executor.Executor = (*OrderExecutor)(nil)
