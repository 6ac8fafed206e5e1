package executor

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangson/trading-runtime/internal/types"
)

// HoldKey builds the aggregation key for held positions.
func HoldKey(account, exchange, pair string) string {
	return account + "|" + exchange + "|" + pair
}

// PositionHold aggregates the fills of every executor that stopped on
// the same (account, exchange, pair) key while keeping its position
// open. Volumes only grow; the aggregate is dropped only by explicit
// operator clear.
type PositionHold struct {
	Account  string `json:"account"`
	Exchange string `json:"exchange"`
	Pair     string `json:"pair"`

	BuyBaseTotal   decimal.Decimal `json:"buy_base_total"`
	BuyQuoteTotal  decimal.Decimal `json:"buy_quote_total"`
	SellBaseTotal  decimal.Decimal `json:"sell_base_total"`
	SellQuoteTotal decimal.Decimal `json:"sell_quote_total"`

	ExecutorIDs []string  `json:"executor_ids"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NetAmountBase is buy base total minus sell base total. Positive
// means net long, negative net short.
func (h PositionHold) NetAmountBase() decimal.Decimal {
	return h.BuyBaseTotal.Sub(h.SellBaseTotal)
}

// MatchedAmountBase is the base volume matched across both sides.
func (h PositionHold) MatchedAmountBase() decimal.Decimal {
	return decimal.Min(h.BuyBaseTotal, h.SellBaseTotal)
}

// UnmatchedAmountBase is the absolute open base volume.
func (h PositionHold) UnmatchedAmountBase() decimal.Decimal {
	return h.NetAmountBase().Abs()
}

// Side reports the open side: LONG, SHORT or FLAT.
func (h PositionHold) Side() string {
	net := h.NetAmountBase()
	switch {
	case net.IsPositive():
		return "LONG"
	case net.IsNegative():
		return "SHORT"
	default:
		return "FLAT"
	}
}

// BuyBreakeven is buy quote total over buy base total. The second
// return is false when no buy volume exists.
func (h PositionHold) BuyBreakeven() (decimal.Decimal, bool) {
	if h.BuyBaseTotal.IsZero() {
		return decimal.Zero, false
	}
	return h.BuyQuoteTotal.Div(h.BuyBaseTotal), true
}

// SellBreakeven is sell quote total over sell base total. The second
// return is false when no sell volume exists.
func (h PositionHold) SellBreakeven() (decimal.Decimal, bool) {
	if h.SellBaseTotal.IsZero() {
		return decimal.Zero, false
	}
	return h.SellQuoteTotal.Div(h.SellBaseTotal), true
}

// RealizedPnLQuote is the profit on the matched volume, priced at the
// two sides' breakeven prices. Zero when either side is empty.
func (h PositionHold) RealizedPnLQuote() decimal.Decimal {
	buyPrice, okBuy := h.BuyBreakeven()
	sellPrice, okSell := h.SellBreakeven()
	if !okBuy || !okSell {
		return decimal.Zero
	}
	return h.MatchedAmountBase().Mul(sellPrice.Sub(buyPrice))
}

// HoldTracker keeps the in-memory held position aggregates.
type HoldTracker struct {
	mu    sync.RWMutex
	holds map[string]*PositionHold
}

// NewHoldTracker creates an empty tracker.
func NewHoldTracker() *HoldTracker {
	return &HoldTracker{holds: make(map[string]*PositionHold)}
}

// Apply folds one executor's fills into the aggregate for the key,
// creating it on first use.
func (t *HoldTracker) Apply(account, exchange, pair, executorID string, fills []types.FilledOrder) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := HoldKey(account, exchange, pair)
	hold, ok := t.holds[key]
	if !ok {
		hold = &PositionHold{Account: account, Exchange: exchange, Pair: pair}
		t.holds[key] = hold
	}

	for _, fill := range fills {
		side, ok := types.ParseTradeType(fill.Side)
		if !ok {
			continue
		}
		if side == types.TradeTypeBuy {
			hold.BuyBaseTotal = hold.BuyBaseTotal.Add(fill.BaseAmount)
			hold.BuyQuoteTotal = hold.BuyQuoteTotal.Add(fill.QuoteAmount)
		} else {
			hold.SellBaseTotal = hold.SellBaseTotal.Add(fill.BaseAmount)
			hold.SellQuoteTotal = hold.SellQuoteTotal.Add(fill.QuoteAmount)
		}
	}

	hold.ExecutorIDs = append(hold.ExecutorIDs, executorID)
	hold.UpdatedAt = time.Now()
}

// Get returns the aggregate for the key.
func (t *HoldTracker) Get(key string) (PositionHold, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hold, ok := t.holds[key]
	if !ok {
		return PositionHold{}, false
	}
	return *hold, true
}

// List returns every aggregate.
func (t *HoldTracker) List() []PositionHold {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PositionHold, 0, len(t.holds))
	for _, hold := range t.holds {
		out = append(out, *hold)
	}
	return out
}

// Clear drops the aggregate for the key, for example after a manual
// close. Returns false when the key is unknown.
func (t *HoldTracker) Clear(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.holds[key]; !ok {
		return false
	}
	delete(t.holds, key)
	return true
}

// Len returns the number of aggregates.
func (t *HoldTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.holds)
}
