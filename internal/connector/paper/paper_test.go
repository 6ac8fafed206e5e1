package paper

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangson/trading-runtime/internal/credentials"
	"github.com/hoangson/trading-runtime/internal/types"
)

func newTestAdapter(t *testing.T, fillDelay time.Duration) *Adapter {
	t.Helper()
	cfg := DefaultConfig("sim")
	cfg.FillDelay = fillDelay
	return New(cfg, nil)
}

func TestAdapter_Authenticate(t *testing.T) {
	a := newTestAdapter(t, 10*time.Millisecond)

	if err := a.Authenticate(context.Background(), credentials.Keys{}); err == nil {
		t.Error("expected error for empty api key")
	}
	if err := a.Authenticate(context.Background(), credentials.Keys{APIKey: "k", APISecret: "s"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAdapter_StaticState(t *testing.T) {
	a := newTestAdapter(t, 10*time.Millisecond)
	ctx := context.Background()

	symbols, err := a.SymbolMap(ctx)
	if err != nil {
		t.Fatalf("symbol map: %v", err)
	}
	if symbols["BTC-USDT"] != "BTCUSDT" {
		t.Errorf("symbol = %s, want BTCUSDT", symbols["BTC-USDT"])
	}

	rules, err := a.TradingRules(ctx)
	if err != nil {
		t.Fatalf("trading rules: %v", err)
	}
	rule, ok := rules["BTC-USDT"]
	if !ok || !rule.SupportsMarket {
		t.Errorf("unexpected rule %+v", rule)
	}

	balances, err := a.Balances(ctx)
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if !balances["USDT"].Total.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("USDT total = %s, want 100000", balances["USDT"].Total)
	}
}

func TestAdapter_PlaceOrderFills(t *testing.T) {
	a := newTestAdapter(t, 10*time.Millisecond)
	ctx := context.Background()

	id, err := a.PlaceOrder(ctx, types.OrderRequest{
		ClientOrderID: "c1",
		Pair:          "BTC-USDT",
		Side:          types.TradeTypeBuy,
		Type:          types.OrderTypeLimit,
		Amount:        decimal.NewFromInt(1),
		Price:         decimal.NewFromInt(64000),
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		orders, err := a.OpenOrders(ctx)
		if err != nil {
			t.Fatalf("open orders: %v", err)
		}
		for _, o := range orders {
			if o.ExchangeOrderID != id {
				continue
			}
			if o.Status == types.OrderStatusFilled {
				if !o.FilledQuote.Equal(decimal.NewFromInt(64000)) {
					t.Errorf("filled quote = %s, want 64000", o.FilledQuote)
				}
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("order never filled")
}

func TestAdapter_PlaceOrderUnknownPair(t *testing.T) {
	a := newTestAdapter(t, 10*time.Millisecond)

	_, err := a.PlaceOrder(context.Background(), types.OrderRequest{
		ClientOrderID: "c1",
		Pair:          "DOGE-USDT",
		Side:          types.TradeTypeBuy,
		Type:          types.OrderTypeMarket,
		Amount:        decimal.NewFromInt(1),
	})
	if err == nil {
		t.Error("expected error for unknown pair")
	}
}

func TestAdapter_CancelBeforeFill(t *testing.T) {
	// Long fill delay so the cancel always wins.
	a := newTestAdapter(t, time.Minute)
	ctx := context.Background()

	id, err := a.PlaceOrder(ctx, types.OrderRequest{
		ClientOrderID: "c1",
		Pair:          "ETH-USDT",
		Side:          types.TradeTypeSell,
		Type:          types.OrderTypeLimit,
		Amount:        decimal.NewFromInt(1),
		Price:         decimal.NewFromInt(3300),
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if err := a.CancelOrder(ctx, "ETH-USDT", id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	orders, err := a.OpenOrders(ctx)
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	found := false
	for _, o := range orders {
		if o.ExchangeOrderID == id {
			found = true
			if o.Status != types.OrderStatusCancelled {
				t.Errorf("status = %s, want CANCELLED", o.Status)
			}
		}
	}
	if !found {
		t.Error("cancelled order missing from exchange view")
	}

	if err := a.CancelOrder(ctx, "ETH-USDT", "nope"); err == nil {
		t.Error("expected error for unknown order id")
	}
}

func TestBookStream_Lifecycle(t *testing.T) {
	a := newTestAdapter(t, 10*time.Millisecond)
	stream := a.NewBookStream("BTC-USDT")

	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stream.Stop()

	// The first snapshot is generated synchronously on Start.
	if !stream.Ready() {
		t.Fatal("expected stream ready after start")
	}
	if !stream.Alive() {
		t.Error("expected stream alive")
	}

	bids, asks := stream.Snapshot()
	if len(bids) == 0 || len(asks) == 0 {
		t.Fatalf("expected populated book, got %d/%d levels", len(bids), len(asks))
	}
	if !bids[0].Price.LessThan(asks[0].Price) {
		t.Errorf("best bid %s not below best ask %s", bids[0].Price, asks[0].Price)
	}

	// Idempotent start.
	if err := stream.Start(context.Background()); err != nil {
		t.Errorf("restart: %v", err)
	}

	stream.Stop()
	if stream.Alive() {
		t.Error("expected stream stopped")
	}
	stream.Stop()
}
