package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hoangson/trading-runtime/internal/config"
	"github.com/hoangson/trading-runtime/internal/credentials"
	"github.com/hoangson/trading-runtime/internal/metrics"
	"github.com/hoangson/trading-runtime/internal/types"
)

// AdapterFactory builds an Adapter for one configured exchange. Each
// call must return a fresh instance; trading and data sessions never
// share an adapter.
type AdapterFactory func(ex config.ExchangeConfig) (Adapter, error)

// OpenOrderStore persists a trading session's open order table so a
// restarted process can resume tracking in-flight orders.
type OpenOrderStore interface {
	SaveOpenOrder(ctx context.Context, account, exchange string, order types.OpenOrder) error
	DeleteOpenOrder(ctx context.Context, account, exchange, clientOrderID string) error
	OpenOrdersFor(ctx context.Context, account, exchange string) ([]types.OpenOrder, error)
}

// Registry owns every connector session in the process. Trading
// sessions are keyed by "account:exchange", data sessions by exchange.
type Registry struct {
	cfg       *config.Config
	creds     credentials.Provider
	factories map[string]AdapterFactory
	orders    OpenOrderStore
	rec       *metrics.Recorder
	logger    *slog.Logger

	mu        sync.Mutex
	trading   map[string]*Session
	data      map[string]*Session
	initLocks map[string]*sync.Mutex
}

// NewRegistry creates a connector registry. orders may be nil when
// persistence is disabled.
func NewRegistry(cfg *config.Config, creds credentials.Provider, factories map[string]AdapterFactory, orders OpenOrderStore, rec *metrics.Recorder, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		creds:     creds,
		factories: factories,
		orders:    orders,
		rec:       rec,
		logger:    logger,
		trading:   make(map[string]*Session),
		data:      make(map[string]*Session),
		initLocks: make(map[string]*sync.Mutex),
	}
}

func tradingKey(account, exchange string) string {
	return account + ":" + exchange
}

// initLock returns the mutex serializing initialization for one key.
func (r *Registry) initLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.initLocks[key]
	if !ok {
		l = &sync.Mutex{}
		r.initLocks[key] = l
	}
	return l
}

func (r *Registry) newAdapter(exchange string) (Adapter, config.ExchangeConfig, error) {
	exCfg, ok := r.cfg.Exchange(exchange)
	if !ok {
		return nil, config.ExchangeConfig{}, fmt.Errorf("%w: unknown exchange %q", types.ErrConnectorUnavailable, exchange)
	}
	factory, ok := r.factories[exchange]
	if !ok {
		return nil, config.ExchangeConfig{}, fmt.Errorf("%w: no adapter registered for %q", types.ErrConnectorUnavailable, exchange)
	}
	adapter, err := factory(exCfg)
	if err != nil {
		return nil, config.ExchangeConfig{}, fmt.Errorf("%w: build adapter for %q: %v", types.ErrConnectorUnavailable, exchange, err)
	}
	return adapter, exCfg, nil
}

// GetTradingConnector returns the authenticated session for the
// (account, exchange) pair, initializing it on first use. Concurrent
// callers for the same pair observe exactly one initialization.
func (r *Registry) GetTradingConnector(ctx context.Context, account, exchange string) (*Session, error) {
	key := tradingKey(account, exchange)
	lock := r.initLock(key)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if s, ok := r.trading[key]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	s, err := r.initTradingSession(ctx, account, exchange)
	if err != nil {
		if r.rec != nil {
			r.rec.RecordSessionInitFailed(exchange)
		}
		return nil, err
	}

	r.mu.Lock()
	r.trading[key] = s
	r.mu.Unlock()

	if r.rec != nil {
		r.rec.RecordSessionStarted(exchange, string(KindTrading))
	}
	r.logger.Info("trading session ready", "account", account, "exchange", exchange)
	return s, nil
}

// initTradingSession runs the full ordered initialization sequence.
// A failure at any step leaves nothing cached.
func (r *Registry) initTradingSession(ctx context.Context, account, exchange string) (*Session, error) {
	adapter, _, err := r.newAdapter(exchange)
	if err != nil {
		return nil, err
	}

	keys, ok := r.creds.Get(account, exchange)
	if !ok {
		return nil, fmt.Errorf("%w: no credentials for account %q on %q", types.ErrConnectorUnavailable, account, exchange)
	}
	if err := adapter.Authenticate(ctx, keys); err != nil {
		return nil, fmt.Errorf("%w: authenticate %q on %q: %v", types.ErrConnectorUnavailable, account, exchange, err)
	}

	s := newSession(exchange, account, KindTrading, adapter, r.orders, r.cfg.SessionRefreshInterval(), r.rec, r.logger)

	symbolMap, err := adapter.SymbolMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("load symbol map for %q: %w", exchange, err)
	}
	rules, err := adapter.TradingRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trading rules for %q: %w", exchange, err)
	}
	balances, err := adapter.Balances(ctx)
	if err != nil {
		return nil, fmt.Errorf("load balances for %q: %w", exchange, err)
	}

	s.mu.Lock()
	s.symbolMap = symbolMap
	s.rules = rules
	s.balances = balances
	s.mu.Unlock()

	if adapter.Derivative() {
		if err := adapter.SetHedgeMode(ctx); err != nil {
			return nil, fmt.Errorf("set hedge mode for %q: %w", exchange, err)
		}
		positions, err := adapter.Positions(ctx)
		if err != nil {
			return nil, fmt.Errorf("load positions for %q: %w", exchange, err)
		}
		s.mu.Lock()
		s.positions = positions
		s.mu.Unlock()
	}

	if r.orders != nil {
		persisted, err := r.orders.OpenOrdersFor(ctx, account, exchange)
		if err != nil {
			r.logger.Error("reload persisted open orders", "account", account, "exchange", exchange, "err", err)
			if r.rec != nil {
				r.rec.RecordPersistenceFailure()
			}
		} else {
			s.LoadOpenOrders(persisted)
		}
	}

	s.startLoops(ctx)
	return s, nil
}

// GetDataConnector returns the shared public data session for the
// exchange, creating it on first use.
func (r *Registry) GetDataConnector(ctx context.Context, exchange string) (*Session, error) {
	lock := r.initLock("data:" + exchange)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if s, ok := r.data[exchange]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	adapter, _, err := r.newAdapter(exchange)
	if err != nil {
		return nil, err
	}

	s := newSession(exchange, "", KindData, adapter, nil, r.cfg.SessionRefreshInterval(), r.rec, r.logger)

	symbolMap, err := adapter.SymbolMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("load symbol map for %q: %w", exchange, err)
	}
	rules, err := adapter.TradingRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trading rules for %q: %w", exchange, err)
	}
	s.mu.Lock()
	s.symbolMap = symbolMap
	s.rules = rules
	s.mu.Unlock()

	s.startLoops(ctx)

	r.mu.Lock()
	r.data[exchange] = s
	r.mu.Unlock()

	if r.rec != nil {
		r.rec.RecordSessionStarted(exchange, string(KindData))
	}
	r.logger.Info("data session ready", "exchange", exchange)
	return s, nil
}

// TradingSession looks up an existing trading session without creating
// one.
func (r *Registry) TradingSession(account, exchange string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.trading[tradingKey(account, exchange)]
	return s, ok
}

// lookupBest resolves a session by preference without creating one:
// the account's trading session, then any trading session on the
// exchange, then an existing data session.
func (r *Registry) lookupBest(exchange, account string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if account != "" {
		if s, ok := r.trading[tradingKey(account, exchange)]; ok {
			return s, true
		}
	}

	keys := make([]string, 0, len(r.trading))
	for key := range r.trading {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if s := r.trading[key]; s.Exchange() == exchange {
			return s, true
		}
	}

	s, ok := r.data[exchange]
	return s, ok
}

// BestConnectorForMarket resolves the session to use for market data on
// an exchange. A trading session already streaming books is preferred;
// the shared data session is created on demand as a last resort.
func (r *Registry) BestConnectorForMarket(ctx context.Context, exchange, account string) (*Session, error) {
	if s, ok := r.lookupBest(exchange, account); ok {
		return s, nil
	}
	return r.GetDataConnector(ctx, exchange)
}

// InitializeOrderBook ensures the pair's book subscription exists on
// the best connector and waits for it to become ready. Returns whether
// readiness was reached within timeout. A timeout is a false result,
// not an error.
func (r *Registry) InitializeOrderBook(ctx context.Context, exchange, pair, account string, timeout time.Duration) (bool, error) {
	s, err := r.BestConnectorForMarket(ctx, exchange, account)
	if err != nil {
		return false, err
	}

	tracker := s.Tracker()
	if tracker.Ready(pair) {
		return true, nil
	}

	added, err := tracker.Ensure(ctx, pair)
	if err != nil {
		return false, fmt.Errorf("start book stream %s/%s: %w", exchange, pair, err)
	}
	if added && r.rec != nil {
		r.rec.RecordBookSubscribed(exchange)
	}

	start := time.Now()
	ready := tracker.WaitReady(ctx, pair, timeout)
	if r.rec != nil {
		r.rec.RecordBookWait(exchange, time.Since(start))
	}
	if !ready {
		r.logger.Warn("order book not ready within timeout",
			"exchange", exchange, "pair", pair, "timeout", timeout)
	}
	return ready, nil
}

// BookSnapshot returns the current book for the pair on the best
// available session, without creating one.
func (r *Registry) BookSnapshot(exchange, pair, account string) (bids, asks []types.PriceLevel, ok bool) {
	s, found := r.lookupBest(exchange, account)
	if !found {
		return nil, nil, false
	}
	bids, asks = s.Tracker().Snapshot(pair)
	return bids, asks, len(bids) > 0 && len(asks) > 0
}

// RemoveTradingPair tears down the pair's book subscription. Returns
// false when no session tracks the pair. Idempotent.
func (r *Registry) RemoveTradingPair(exchange, pair, account string) bool {
	s, ok := r.lookupBest(exchange, account)
	if !ok {
		return false
	}
	removed := s.Tracker().Remove(pair)
	if removed && r.rec != nil {
		r.rec.RecordBookRemoved(exchange)
	}
	return removed
}

// DiagnosticsReport describes one session's subscriptions for
// operational visibility.
type DiagnosticsReport struct {
	Exchange string           `json:"exchange"`
	Account  string           `json:"account,omitempty"`
	Kind     string           `json:"kind"`
	Books    []BookDiagnostic `json:"books"`
}

// Diagnostics reports subscription liveness and snapshot depth for the
// best-matching session on the exchange.
func (r *Registry) Diagnostics(exchange, account string) (DiagnosticsReport, error) {
	s, ok := r.lookupBest(exchange, account)
	if !ok {
		return DiagnosticsReport{}, fmt.Errorf("%w: no session for %q", types.ErrConnectorUnavailable, exchange)
	}
	return DiagnosticsReport{
		Exchange: s.Exchange(),
		Account:  s.Account(),
		Kind:     string(s.Kind()),
		Books:    s.Tracker().Diagnostics(),
	}, nil
}

// RestartOrderBookTracker stops and restarts the book subscriptions of
// the best-matching session, re-waiting for readiness within timeout.
// Returns the pairs that did not come back ready.
func (r *Registry) RestartOrderBookTracker(ctx context.Context, exchange, account string, timeout time.Duration) ([]string, error) {
	s, ok := r.lookupBest(exchange, account)
	if !ok {
		return nil, fmt.Errorf("%w: no session for %q", types.ErrConnectorUnavailable, exchange)
	}
	r.logger.Info("restarting order book tracker", "exchange", exchange, "account", account)
	return s.Tracker().Restart(ctx, timeout)
}

// StopSession stops and evicts one trading session. Returns false when
// none exists.
func (r *Registry) StopSession(account, exchange string) bool {
	key := tradingKey(account, exchange)
	r.mu.Lock()
	s, ok := r.trading[key]
	if ok {
		delete(r.trading, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Stop()
	return true
}

// StopAll stops every session, trading first, then shared data.
func (r *Registry) StopAll() {
	r.mu.Lock()
	trading := r.trading
	data := r.data
	r.trading = make(map[string]*Session)
	r.data = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range trading {
		s.Stop()
	}
	for _, s := range data {
		s.Stop()
	}
}

// Sessions lists every live session for status reporting.
func (r *Registry) Sessions() []DiagnosticsReport {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.trading)+len(r.data))
	for _, s := range r.trading {
		all = append(all, s)
	}
	for _, s := range r.data {
		all = append(all, s)
	}
	r.mu.Unlock()

	out := make([]DiagnosticsReport, 0, len(all))
	for _, s := range all {
		out = append(out, DiagnosticsReport{
			Exchange: s.Exchange(),
			Account:  s.Account(),
			Kind:     string(s.Kind()),
			Books:    s.Tracker().Diagnostics(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Exchange != out[j].Exchange {
			return out[i].Exchange < out[j].Exchange
		}
		return out[i].Account < out[j].Account
	})
	return out
}
