package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hoangson/trading-runtime/internal/metrics"
	"github.com/hoangson/trading-runtime/internal/types"
)

// Kind distinguishes authenticated trading sessions from shared public
// data sessions.
type Kind string

const (
	KindTrading Kind = "trading"
	KindData    Kind = "data"
)

// staleOrderGrace is how long a locally tracked order may be absent
// from the exchange's open order list before reconciliation drops it.
const staleOrderGrace = time.Minute

// Session is one live exchange connection. Trading sessions are owned
// by exactly one (account, exchange) pair; data sessions are shared.
type Session struct {
	exchange string
	account  string
	kind     Kind
	adapter  Adapter
	tracker  *BookTracker
	store    OpenOrderStore
	logger   *slog.Logger
	rec      *metrics.Recorder

	mu         sync.RWMutex
	symbolMap  map[string]string
	rules      map[string]types.TradingRule
	balances   map[string]types.Balance
	positions  []types.Position
	openOrders map[string]types.OpenOrder

	refreshEvery time.Duration
	done         chan struct{}
	wg           sync.WaitGroup
	stopOnce     sync.Once
}

func newSession(exchange, account string, kind Kind, adapter Adapter, store OpenOrderStore, refreshEvery time.Duration, rec *metrics.Recorder, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		exchange:     exchange,
		account:      account,
		kind:         kind,
		adapter:      adapter,
		store:        store,
		logger:       logger.With("exchange", exchange, "kind", string(kind)),
		rec:          rec,
		openOrders:   make(map[string]types.OpenOrder),
		refreshEvery: refreshEvery,
		done:         make(chan struct{}),
	}
	if account != "" {
		s.logger = s.logger.With("account", account)
	}
	s.tracker = NewBookTracker(exchange, adapter.NewBookStream, s.logger)
	return s
}

// Exchange returns the exchange id.
func (s *Session) Exchange() string { return s.exchange }

// Account returns the owning account, empty for data sessions.
func (s *Session) Account() string { return s.account }

// Kind returns the session kind.
func (s *Session) Kind() Kind { return s.kind }

// Derivative reports whether the underlying exchange carries positions.
func (s *Session) Derivative() bool { return s.adapter.Derivative() }

// Tracker returns the session's order book tracker.
func (s *Session) Tracker() *BookTracker { return s.tracker }

// Rule returns the trading rule for a pair.
func (s *Session) Rule(pair string) (types.TradingRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[pair]
	return rule, ok
}

// Balances returns a copy of the balances cache.
func (s *Session) Balances() map[string]types.Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.Balance, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out
}

// Positions returns a copy of the position table.
func (s *Session) Positions() []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Position, len(s.positions))
	copy(out, s.positions)
	return out
}

// ActiveOrders returns a snapshot of the open order table, oldest first.
func (s *Session) ActiveOrders() []types.OpenOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.OpenOrder, 0, len(s.openOrders))
	for _, o := range s.openOrders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// LoadOpenOrders seeds the open order table from persisted state.
func (s *Session) LoadOpenOrders(orders []types.OpenOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		if !o.Status.Terminal() {
			s.openOrders[o.ClientOrderID] = o
		}
	}
}

// PlaceOrder submits an order and records it in the open order table.
func (s *Session) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if s.kind != KindTrading {
		return "", fmt.Errorf("%w: data session for %s cannot place orders", types.ErrNoSession, s.exchange)
	}

	start := time.Now()
	exchangeID, err := s.adapter.PlaceOrder(ctx, req)
	if s.rec != nil {
		s.rec.RecordOrderLatency(time.Since(start))
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.rec.RecordOrder(s.exchange, req.Side.String(), outcome)
	}
	if err != nil {
		return "", fmt.Errorf("place order on %s: %w", s.exchange, err)
	}

	order := types.OpenOrder{
		ClientOrderID:   req.ClientOrderID,
		ExchangeOrderID: exchangeID,
		Pair:            req.Pair,
		Side:            req.Side,
		Type:            req.Type,
		Amount:          req.Amount,
		Price:           req.Price,
		Status:          types.OrderStatusSubmitted,
		PositionAction:  req.PositionAction,
		CreatedAt:       time.Now(),
	}
	s.mu.Lock()
	s.openOrders[req.ClientOrderID] = order
	s.mu.Unlock()
	s.persistOrder(ctx, order)

	return req.ClientOrderID, nil
}

// persistOrder writes an order through to the store. Failures are
// logged; the in-memory table stays authoritative.
func (s *Session) persistOrder(ctx context.Context, order types.OpenOrder) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveOpenOrder(ctx, s.account, s.exchange, order); err != nil {
		s.logger.Warn("persist open order failed", "client_order_id", order.ClientOrderID, "err", err)
		if s.rec != nil {
			s.rec.RecordPersistenceFailure()
		}
	}
}

// forgetOrder removes a terminal order from the store.
func (s *Session) forgetOrder(ctx context.Context, clientOrderID string) {
	if s.store == nil {
		return
	}
	if err := s.store.DeleteOpenOrder(ctx, s.account, s.exchange, clientOrderID); err != nil {
		s.logger.Warn("delete persisted order failed", "client_order_id", clientOrderID, "err", err)
		if s.rec != nil {
			s.rec.RecordPersistenceFailure()
		}
	}
}

// CancelOrder cancels an order by client order id.
func (s *Session) CancelOrder(ctx context.Context, pair, clientOrderID string) error {
	s.mu.RLock()
	order, ok := s.openOrders[clientOrderID]
	s.mu.RUnlock()

	exchangeID := clientOrderID
	if ok {
		exchangeID = order.ExchangeOrderID
	}
	if err := s.adapter.CancelOrder(ctx, pair, exchangeID); err != nil {
		return fmt.Errorf("cancel order on %s: %w", s.exchange, err)
	}

	s.mu.Lock()
	delete(s.openOrders, clientOrderID)
	s.mu.Unlock()
	s.forgetOrder(ctx, clientOrderID)
	return nil
}

// refreshState reloads rules, balances and positions in parallel. A
// failing fetch is logged and retried on the next tick.
func (s *Session) refreshState(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rules, err := s.adapter.TradingRules(ctx)
		if err != nil {
			return fmt.Errorf("trading rules: %w", err)
		}
		s.mu.Lock()
		s.rules = rules
		s.mu.Unlock()
		return nil
	})

	if s.kind == KindTrading {
		g.Go(func() error {
			balances, err := s.adapter.Balances(ctx)
			if err != nil {
				return fmt.Errorf("balances: %w", err)
			}
			s.mu.Lock()
			s.balances = balances
			s.mu.Unlock()
			return nil
		})

		if s.adapter.Derivative() {
			g.Go(func() error {
				positions, err := s.adapter.Positions(ctx)
				if err != nil {
					return fmt.Errorf("positions: %w", err)
				}
				s.mu.Lock()
				s.positions = positions
				s.mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		s.logger.Warn("session refresh failed, retrying next tick", "err", err)
		if s.rec != nil {
			s.rec.RecordError("transient_refresh")
		}
	}
}

// reconcileOrders replaces local order state with the exchange's view.
// Locally tracked orders the exchange no longer reports are dropped
// after a grace period.
func (s *Session) reconcileOrders(ctx context.Context) {
	remote, err := s.adapter.OpenOrders(ctx)
	if err != nil {
		s.logger.Warn("open order reconciliation failed, retrying next tick", "err", err)
		if s.rec != nil {
			s.rec.RecordError("transient_refresh")
		}
		return
	}

	byClientID := make(map[string]types.OpenOrder, len(remote))
	for _, o := range remote {
		byClientID[o.ClientOrderID] = o
	}

	var updated []types.OpenOrder
	var terminal []string

	s.mu.Lock()
	for id, local := range s.openOrders {
		upstream, ok := byClientID[id]
		if ok {
			local.Status = upstream.Status
			local.FilledBase = upstream.FilledBase
			local.FilledQuote = upstream.FilledQuote
			if local.Status.Terminal() {
				delete(s.openOrders, id)
				terminal = append(terminal, id)
			} else {
				s.openOrders[id] = local
				updated = append(updated, local)
			}
			continue
		}
		if time.Since(local.CreatedAt) > staleOrderGrace {
			s.logger.Info("dropping stale order", "client_order_id", id, "pair", local.Pair)
			delete(s.openOrders, id)
			terminal = append(terminal, id)
		}
	}
	s.mu.Unlock()

	for _, o := range updated {
		s.persistOrder(ctx, o)
	}
	for _, id := range terminal {
		s.forgetOrder(ctx, id)
	}
}

// startLoops launches the session's background refresh tasks.
func (s *Session) startLoops(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.refreshEvery)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refreshState(ctx)
				if s.kind == KindTrading {
					s.reconcileOrders(ctx)
				}
			}
		}
	}()
}

// Stop cancels background tasks and tears down subscriptions. Safe to
// call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.tracker.StopAll()
		if s.rec != nil {
			s.rec.RecordSessionStopped(s.exchange, string(s.kind))
		}
		s.logger.Info("session stopped")
	})
}
