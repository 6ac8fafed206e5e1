// Package paper provides a simulated exchange adapter for paper
// trading. Orders fill against a synthetic order book after a short
// delay; no network calls are made.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangson/trading-runtime/internal/connector"
	"github.com/hoangson/trading-runtime/internal/credentials"
	"github.com/hoangson/trading-runtime/internal/types"
)

// Config holds paper exchange configuration.
type Config struct {
	Name       string
	Derivative bool
	Pairs      map[string]decimal.Decimal // pair -> starting mid price
	Balances   map[string]decimal.Decimal // asset -> total
	SpreadBps  int
	FillDelay  time.Duration
	BookLevels int
}

// DefaultConfig returns a usable paper exchange setup.
func DefaultConfig(name string) Config {
	return Config{
		Name: name,
		Pairs: map[string]decimal.Decimal{
			"BTC-USDT": decimal.NewFromInt(65000),
			"ETH-USDT": decimal.NewFromInt(3200),
		},
		Balances: map[string]decimal.Decimal{
			"USDT": decimal.NewFromInt(100000),
			"BTC":  decimal.NewFromInt(2),
			"ETH":  decimal.NewFromInt(20),
		},
		SpreadBps:  10,
		FillDelay:  50 * time.Millisecond,
		BookLevels: 10,
	}
}

// Adapter implements connector.Adapter against simulated state.
type Adapter struct {
	cfg    Config
	logger *slog.Logger

	authenticated atomic.Bool
	nextOrderID   atomic.Int64

	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	orders map[string]*types.OpenOrder

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a paper adapter.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BookLevels <= 0 {
		cfg.BookLevels = 10
	}
	if cfg.SpreadBps <= 0 {
		cfg.SpreadBps = 10
	}
	prices := make(map[string]decimal.Decimal, len(cfg.Pairs))
	for pair, mid := range cfg.Pairs {
		prices[pair] = mid
	}
	a := &Adapter{
		cfg:    cfg,
		logger: logger.With("exchange", cfg.Name),
		prices: prices,
		orders: make(map[string]*types.OpenOrder),
		done:   make(chan struct{}),
	}
	a.nextOrderID.Store(1)
	return a
}

// Name implements connector.Adapter.
func (a *Adapter) Name() string { return a.cfg.Name }

// Derivative implements connector.Adapter.
func (a *Adapter) Derivative() bool { return a.cfg.Derivative }

// Authenticate accepts any non-empty credentials.
func (a *Adapter) Authenticate(ctx context.Context, keys credentials.Keys) error {
	if keys.APIKey == "" {
		return fmt.Errorf("empty api key")
	}
	a.authenticated.Store(true)
	return nil
}

// SymbolMap implements connector.Adapter.
func (a *Adapter) SymbolMap(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(a.cfg.Pairs))
	for pair := range a.cfg.Pairs {
		out[pair] = strings.ReplaceAll(pair, "-", "")
	}
	return out, nil
}

// TradingRules implements connector.Adapter.
func (a *Adapter) TradingRules(ctx context.Context) (map[string]types.TradingRule, error) {
	out := make(map[string]types.TradingRule, len(a.cfg.Pairs))
	for pair := range a.cfg.Pairs {
		out[pair] = types.TradingRule{
			Pair:           pair,
			MinOrderSize:   decimal.NewFromFloat(0.0001),
			MinPriceStep:   decimal.NewFromFloat(0.01),
			MinAmountStep:  decimal.NewFromFloat(0.0001),
			MinNotional:    decimal.NewFromInt(10),
			SupportsMarket: true,
		}
	}
	return out, nil
}

// Balances implements connector.Adapter.
func (a *Adapter) Balances(ctx context.Context) (map[string]types.Balance, error) {
	out := make(map[string]types.Balance, len(a.cfg.Balances))
	for asset, total := range a.cfg.Balances {
		out[asset] = types.Balance{Asset: asset, Total: total, Available: total}
	}
	return out, nil
}

// Positions implements connector.Adapter.
func (a *Adapter) Positions(ctx context.Context) ([]types.Position, error) {
	return nil, nil
}

// SetHedgeMode implements connector.Adapter.
func (a *Adapter) SetHedgeMode(ctx context.Context) error { return nil }

// PlaceOrder records the order and fills it at the current mid after
// the configured delay.
func (a *Adapter) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	a.mu.RLock()
	_, known := a.prices[req.Pair]
	a.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("unknown pair %q", req.Pair)
	}

	exchangeID := fmt.Sprintf("PAPER-%d", a.nextOrderID.Add(1))
	order := &types.OpenOrder{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: exchangeID,
		Pair:            req.Pair,
		Side:            req.Side,
		Type:            req.Type,
		Amount:          req.Amount,
		Price:           req.Price,
		Status:          types.OrderStatusOpen,
		PositionAction:  req.PositionAction,
		CreatedAt:       time.Now(),
	}

	a.mu.Lock()
	a.orders[exchangeID] = order
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.simulateFill(exchangeID)
	}()

	a.logger.Info("paper order placed",
		"order_id", exchangeID, "pair", req.Pair, "side", req.Side.String(), "amount", req.Amount)
	return exchangeID, nil
}

func (a *Adapter) simulateFill(exchangeID string) {
	select {
	case <-a.done:
		return
	case <-time.After(a.cfg.FillDelay):
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	order, ok := a.orders[exchangeID]
	if !ok || order.Status.Terminal() {
		return
	}

	price := a.prices[order.Pair]
	if order.Type != types.OrderTypeMarket && !order.Price.IsZero() {
		price = order.Price
	}
	order.Status = types.OrderStatusFilled
	order.FilledBase = order.Amount
	order.FilledQuote = order.Amount.Mul(price)
}

// CancelOrder implements connector.Adapter.
func (a *Adapter) CancelOrder(ctx context.Context, pair, orderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	order, ok := a.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order %q", orderID)
	}
	if !order.Status.Terminal() {
		order.Status = types.OrderStatusCancelled
	}
	return nil
}

// OpenOrders returns the simulated exchange's full order view,
// terminal orders included, so reconciliation sees fills.
func (a *Adapter) OpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.OpenOrder, 0, len(a.orders))
	for _, o := range a.orders {
		out = append(out, *o)
	}
	return out, nil
}

// NewBookStream implements connector.Adapter.
func (a *Adapter) NewBookStream(pair string) connector.BookStream {
	return &bookStream{adapter: a, pair: pair}
}

// drift applies a small random walk to a pair's mid price.
func (a *Adapter) drift(pair string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	mid, ok := a.prices[pair]
	if !ok {
		return decimal.Zero
	}
	// up to ±5 bps per step
	bps := (rand.Float64() - 0.5) * 10
	mid = mid.Mul(decimal.NewFromFloat(1 + bps/10000))
	a.prices[pair] = mid
	return mid
}

type bookStream struct {
	adapter *Adapter
	pair    string

	mu      sync.RWMutex
	bids    []types.PriceLevel
	asks    []types.PriceLevel
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Start implements connector.BookStream.
func (s *bookStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.regenerate()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.regenerate()
			}
		}
	}()
	return nil
}

// regenerate rebuilds both book sides around the drifting mid.
func (s *bookStream) regenerate() {
	mid := s.adapter.drift(s.pair)
	if mid.IsZero() {
		return
	}
	halfSpread := mid.Mul(decimal.NewFromInt(int64(s.adapter.cfg.SpreadBps))).
		Div(decimal.NewFromInt(20000))
	step := halfSpread
	if step.IsZero() {
		step = decimal.NewFromFloat(0.01)
	}

	levels := s.adapter.cfg.BookLevels
	bids := make([]types.PriceLevel, 0, levels)
	asks := make([]types.PriceLevel, 0, levels)
	for i := 0; i < levels; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i + 1)))
		size := decimal.NewFromFloat(0.5 + rand.Float64())
		bids = append(bids, types.PriceLevel{Price: mid.Sub(offset), Amount: size})
		asks = append(asks, types.PriceLevel{Price: mid.Add(offset), Amount: size})
	}

	s.mu.Lock()
	s.bids = bids
	s.asks = asks
	s.mu.Unlock()
}

// Stop implements connector.BookStream.
func (s *bookStream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
}

// Ready implements connector.BookStream.
func (s *bookStream) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bids) > 0 && len(s.asks) > 0
}

// Alive implements connector.BookStream.
func (s *bookStream) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Snapshot implements connector.BookStream.
func (s *bookStream) Snapshot() (bids, asks []types.PriceLevel) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bids = make([]types.PriceLevel, len(s.bids))
	asks = make([]types.PriceLevel, len(s.asks))
	copy(bids, s.bids)
	copy(asks, s.asks)
	return bids, asks
}

var _ connector.Adapter = (*Adapter)(nil)
