// Package binancews implements a public data adapter for Binance spot.
// Trading calls are rejected; the adapter serves symbol maps, trading
// rules and streaming depth for shared data sessions.
package binancews

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/hoangson/trading-runtime/internal/connector"
	"github.com/hoangson/trading-runtime/internal/credentials"
	"github.com/hoangson/trading-runtime/internal/types"
)

const (
	defaultRESTHost = "https://api.binance.com"
	defaultWSHost   = "wss://stream.binance.com:9443"
	depthLevels     = 20
)

// Config holds Binance endpoint settings.
type Config struct {
	RESTHost       string
	WSHost         string
	ReconnectDelay time.Duration
	RatePerSec     int
}

// Adapter implements connector.Adapter for public Binance data.
type Adapter struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Binance public data adapter.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RESTHost == "" {
		cfg.RESTHost = defaultRESTHost
	}
	if cfg.WSHost == "" {
		cfg.WSHost = defaultWSHost
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	return &Adapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		logger:  logger.With("exchange", "binance"),
	}
}

// Name implements connector.Adapter.
func (a *Adapter) Name() string { return "binance" }

// Derivative implements connector.Adapter.
func (a *Adapter) Derivative() bool { return false }

// Authenticate is rejected; this adapter serves public data only.
func (a *Adapter) Authenticate(ctx context.Context, keys credentials.Keys) error {
	return fmt.Errorf("binance adapter is data only, trading is not supported")
}

// exchangeInfo is the subset of /api/v3/exchangeInfo the adapter needs.
type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Status     string `json:"status"`
		Filters    []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

func (a *Adapter) fetchExchangeInfo(ctx context.Context) (*exchangeInfo, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.RESTHost+"/api/v3/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch exchange info: status %d", resp.StatusCode)
	}
	var info exchangeInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}
	return &info, nil
}

// SymbolMap implements connector.Adapter.
func (a *Adapter) SymbolMap(ctx context.Context) (map[string]string, error) {
	info, err := a.fetchExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		out[s.BaseAsset+"-"+s.QuoteAsset] = s.Symbol
	}
	return out, nil
}

// TradingRules implements connector.Adapter.
func (a *Adapter) TradingRules(ctx context.Context) (map[string]types.TradingRule, error) {
	info, err := a.fetchExchangeInfo(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.TradingRule, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		rule := types.TradingRule{Pair: s.BaseAsset + "-" + s.QuoteAsset, SupportsMarket: true}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				rule.MinPriceStep, _ = decimal.NewFromString(f.TickSize)
			case "LOT_SIZE":
				rule.MinAmountStep, _ = decimal.NewFromString(f.StepSize)
				rule.MinOrderSize, _ = decimal.NewFromString(f.MinQty)
			case "NOTIONAL", "MIN_NOTIONAL":
				rule.MinNotional, _ = decimal.NewFromString(f.MinNotional)
			}
		}
		out[rule.Pair] = rule
	}
	return out, nil
}

// Balances is unavailable on a data only adapter.
func (a *Adapter) Balances(ctx context.Context) (map[string]types.Balance, error) {
	return nil, fmt.Errorf("binance adapter is data only, balances are not available")
}

// Positions implements connector.Adapter.
func (a *Adapter) Positions(ctx context.Context) ([]types.Position, error) {
	return nil, nil
}

// SetHedgeMode implements connector.Adapter.
func (a *Adapter) SetHedgeMode(ctx context.Context) error { return nil }

// PlaceOrder is rejected on a data only adapter.
func (a *Adapter) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	return "", fmt.Errorf("binance adapter is data only, orders are not supported")
}

// CancelOrder is rejected on a data only adapter.
func (a *Adapter) CancelOrder(ctx context.Context, pair, orderID string) error {
	return fmt.Errorf("binance adapter is data only, orders are not supported")
}

// OpenOrders implements connector.Adapter.
func (a *Adapter) OpenOrders(ctx context.Context) ([]types.OpenOrder, error) {
	return nil, nil
}

// NewBookStream implements connector.Adapter.
func (a *Adapter) NewBookStream(pair string) connector.BookStream {
	return &depthStream{
		adapter: a,
		pair:    pair,
		symbol:  strings.ToLower(strings.ReplaceAll(pair, "-", "")),
	}
}

// depthUpdate is one partial book depth message.
type depthUpdate struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// depthStream consumes Binance's partial depth stream for one pair and
// keeps the latest snapshot. It reconnects on read failure, paced by
// the adapter's rate limiter.
type depthStream struct {
	adapter *Adapter
	pair    string
	symbol  string

	mu      sync.RWMutex
	bids    []types.PriceLevel
	asks    []types.PriceLevel
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Start implements connector.BookStream.
func (s *depthStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return nil
}

func (s *depthStream) run(ctx context.Context) {
	url := fmt.Sprintf("%s/ws/%s@depth%d@100ms", s.adapter.cfg.WSHost, s.symbol, depthLevels)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := s.adapter.limiter.Wait(ctx); err != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			s.adapter.logger.Warn("depth stream dial failed",
				"pair", s.pair, "err", err)
			if !s.sleep(s.adapter.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		s.consume(conn)
		conn.Close()

		if !s.sleep(s.adapter.cfg.ReconnectDelay) {
			return
		}
	}
}

// consume reads messages until the connection breaks or the stream is
// stopped.
func (s *depthStream) consume(conn *websocket.Conn) {
	done := make(chan struct{})
	go func() {
		select {
		case <-s.stop:
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stop:
			default:
				s.adapter.logger.Warn("depth stream read failed",
					"pair", s.pair, "err", err)
			}
			return
		}

		var update depthUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			s.adapter.logger.Warn("depth stream decode failed", "pair", s.pair, "err", err)
			continue
		}

		bids := parseLevels(update.Bids)
		asks := parseLevels(update.Asks)
		if len(bids) == 0 || len(asks) == 0 {
			continue
		}

		s.mu.Lock()
		s.bids = bids
		s.asks = asks
		s.mu.Unlock()
	}
}

func parseLevels(raw [][2]string) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			continue
		}
		amount, err := decimal.NewFromString(lvl[1])
		if err != nil || amount.IsZero() {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Amount: amount})
	}
	return out
}

// sleep waits for d unless the stream is stopped first.
func (s *depthStream) sleep(d time.Duration) bool {
	select {
	case <-s.stop:
		return false
	case <-time.After(d):
		return true
	}
}

// Stop implements connector.BookStream.
func (s *depthStream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	s.bids = nil
	s.asks = nil
	s.mu.Unlock()
}

// Ready implements connector.BookStream.
func (s *depthStream) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bids) > 0 && len(s.asks) > 0
}

// Alive implements connector.BookStream.
func (s *depthStream) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Snapshot implements connector.BookStream.
func (s *depthStream) Snapshot() (bids, asks []types.PriceLevel) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bids = make([]types.PriceLevel, len(s.bids))
	asks = make([]types.PriceLevel, len(s.asks))
	copy(bids, s.bids)
	copy(asks, s.asks)
	return bids, asks
}

var _ connector.Adapter = (*Adapter)(nil)
