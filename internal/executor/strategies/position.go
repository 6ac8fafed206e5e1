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

// TypePosition is the type tag of the position executor.
const TypePosition = "position"

// positionPollInterval is how often the executor re-evaluates its
// exit conditions.
const positionPollInterval = 500 * time.Millisecond

// PositionConfig holds the type-specific fields of a position executor.
// Percentages are fractional (0.01 = 1%).
type PositionConfig struct {
	Side          string  `mapstructure:"side"`
	Amount        float64 `mapstructure:"amount"`
	TakeProfitPct float64 `mapstructure:"take_profit_pct"`
	StopLossPct   float64 `mapstructure:"stop_loss_pct"`
	TimeLimitSec  int     `mapstructure:"time_limit_sec"`
}

// PositionExecutor opens a market position and exits on take profit,
// stop loss or time limit. An early stop with keep-position semantics
// leaves the position open and surrenders it to held position
// aggregation.
type PositionExecutor struct {
	*executor.Base
	logger *slog.Logger

	side       types.TradeType
	amount     decimal.Decimal
	takeProfit decimal.Decimal
	stopLoss   decimal.Decimal
	timeLimit  time.Duration

	mu         sync.Mutex
	entryPrice decimal.Decimal
	fills      []types.FilledOrder
	netPnL     decimal.Decimal
	volume     decimal.Decimal

	wg sync.WaitGroup
}

// NewPositionExecutor decodes and validates the raw config.
func NewPositionExecutor(cfg executor.Config, host executor.Host, logger *slog.Logger) (executor.Executor, error) {
	var pc PositionConfig
	if err := mapstructure.Decode(cfg.Raw, &pc); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfigInvalid, err)
	}

	side, ok := types.ParseTradeType(pc.Side)
	if !ok {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", types.ErrConfigInvalid)
	}
	if pc.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", types.ErrConfigInvalid)
	}
	if pc.TakeProfitPct < 0 || pc.StopLossPct < 0 {
		return nil, fmt.Errorf("%w: take_profit_pct and stop_loss_pct must not be negative", types.ErrConfigInvalid)
	}

	timeLimit := time.Duration(pc.TimeLimitSec) * time.Second
	if timeLimit <= 0 {
		timeLimit = time.Hour
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &PositionExecutor{
		Base:       executor.NewBase(cfg, host),
		logger:     logger,
		side:       side,
		amount:     decimal.NewFromFloat(pc.Amount),
		takeProfit: decimal.NewFromFloat(pc.TakeProfitPct),
		stopLoss:   decimal.NewFromFloat(pc.StopLossPct),
		timeLimit:  timeLimit,
	}, nil
}

// Start opens the position and spawns the monitoring loop. When no
// price is available the executor closes synchronously as FAILED, so
// the creation response carries the terminal state.
func (e *PositionExecutor) Start(ctx context.Context) error {
	cfg := e.Config()
	e.MarkRunning()

	mid, ok := e.Host().MidPrice(cfg.Exchange, cfg.Pair)
	if !ok {
		e.logger.Warn("no price available, closing immediately")
		e.Close(types.CloseTypeFailed)
		return nil
	}

	if _, err := e.placeSide(ctx, e.side); err != nil {
		e.logger.Error("entry order failed", "err", err)
		e.Close(types.CloseTypeFailed)
		return nil
	}
	e.addFill(e.side, mid)

	e.mu.Lock()
	e.entryPrice = mid
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.monitor(ctx, cfg)
	}()
	return nil
}

func (e *PositionExecutor) placeSide(ctx context.Context, side types.TradeType) (string, error) {
	cfg := e.Config()
	if side == types.TradeTypeBuy {
		return e.Host().Buy(ctx, cfg.Exchange, cfg.Pair, e.amount, types.OrderTypeMarket, decimal.Zero, types.PositionActionOpen)
	}
	return e.Host().Sell(ctx, cfg.Exchange, cfg.Pair, e.amount, types.OrderTypeMarket, decimal.Zero, types.PositionActionOpen)
}

func (e *PositionExecutor) monitor(ctx context.Context, cfg executor.Config) {
	ticker := time.NewTicker(positionPollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(e.timeLimit)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Close(types.CloseTypeFailed)
			return
		case <-e.StopRequested():
			if e.KeepPosition() {
				e.Close(types.CloseTypePositionHold)
				return
			}
			e.exit(ctx, types.CloseTypeEarlyStop)
			return
		case <-deadline.C:
			e.exit(ctx, types.CloseTypeTimeLimit)
			return
		case <-ticker.C:
			if closeType, hit := e.exitCondition(cfg); hit {
				e.exit(ctx, closeType)
				return
			}
		}
	}
}

// exitCondition evaluates take profit and stop loss against the
// current mid price.
func (e *PositionExecutor) exitCondition(cfg executor.Config) (types.CloseType, bool) {
	mid, ok := e.Host().MidPrice(cfg.Exchange, cfg.Pair)
	if !ok {
		return "", false
	}

	e.mu.Lock()
	entry := e.entryPrice
	e.mu.Unlock()
	if entry.IsZero() {
		return "", false
	}

	change := mid.Sub(entry).Div(entry)
	if e.side == types.TradeTypeSell {
		change = change.Neg()
	}

	if !e.takeProfit.IsZero() && change.GreaterThanOrEqual(e.takeProfit) {
		return types.CloseTypeTakeProfit, true
	}
	if !e.stopLoss.IsZero() && change.LessThanOrEqual(e.stopLoss.Neg()) {
		return types.CloseTypeStopLoss, true
	}
	return "", false
}

// exit closes the position with an opposite market order and records
// the terminal state.
func (e *PositionExecutor) exit(ctx context.Context, closeType types.CloseType) {
	cfg := e.Config()
	exitSide := e.side.Opposite()

	mid, ok := e.Host().MidPrice(cfg.Exchange, cfg.Pair)
	if !ok {
		e.mu.Lock()
		mid = e.entryPrice
		e.mu.Unlock()
	}

	if _, err := e.placeSide(ctx, exitSide); err != nil {
		e.logger.Error("exit order failed", "close_type", string(closeType), "err", err)
		e.Close(types.CloseTypeFailed)
		return
	}
	e.addFill(exitSide, mid)

	e.mu.Lock()
	buyQuote, sellQuote := decimal.Zero, decimal.Zero
	for _, f := range e.fills {
		if f.Side == types.TradeTypeBuy.String() {
			buyQuote = buyQuote.Add(f.QuoteAmount)
		} else {
			sellQuote = sellQuote.Add(f.QuoteAmount)
		}
	}
	e.netPnL = sellQuote.Sub(buyQuote)
	e.mu.Unlock()

	e.Close(closeType)
}

func (e *PositionExecutor) addFill(side types.TradeType, price decimal.Decimal) {
	quote := e.amount.Mul(price)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fills = append(e.fills, types.FilledOrder{
		OrderID:     fmt.Sprintf("%s-%d", e.ID(), len(e.fills)+1),
		Side:        side.String(),
		BaseAmount:  e.amount,
		QuoteAmount: quote,
	})
	e.volume = e.volume.Add(quote)
}

// CustomState implements executor.Executor.
func (e *PositionExecutor) CustomState() types.CustomState {
	e.mu.Lock()
	defer e.mu.Unlock()
	fills := make([]types.FilledOrder, len(e.fills))
	copy(fills, e.fills)
	return types.CustomState{FilledOrders: fills}
}

// NetPnLQuote implements executor.Executor.
func (e *PositionExecutor) NetPnLQuote() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.netPnL
}

// FeesQuote implements executor.Executor.
func (e *PositionExecutor) FeesQuote() decimal.Decimal { return decimal.Zero }

// VolumeQuote implements executor.Executor.
func (e *PositionExecutor) VolumeQuote() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Register wires the built-in executor types into the registry.
func Register(reg *executor.TypeRegistry) {
	reg.Register(TypeOrder, NewOrderExecutor)
	reg.Register(TypePosition, NewPositionExecutor)
}

var _ executor.Executor = (*PositionExecutor)(nil)
