package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangson/trading-runtime/internal/types"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "runtime.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func runningRecord(id string) ExecutorRecord {
	return ExecutorRecord{
		ID:        id,
		Type:      "order",
		Account:   "acct",
		Exchange:  "sim",
		Pair:      "BTC-USDT",
		Status:    types.RunStatusRunning,
		Config:    `{"side":"BUY"}`,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateExecutor(ctx, runningRecord("exec-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := repo.GetExecutor(ctx, "exec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record")
	}
	if rec.Status != types.RunStatusRunning || rec.Pair != "BTC-USDT" {
		t.Errorf("unexpected record: %+v", rec)
	}

	missing, err := repo.GetExecutor(ctx, "nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for a missing record")
	}
}

func TestSQLiteRepository_Complete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.CreateExecutor(ctx, runningRecord("exec-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	closedAt := time.Now().UTC().Truncate(time.Second)
	err := repo.CompleteExecutor(ctx, ExecutorRecord{
		ID:          "exec-1",
		Status:      types.RunStatusTerminated,
		CloseType:   types.CloseTypeCompleted,
		NetPnLQuote: decimal.RequireFromString("12.5"),
		VolumeQuote: decimal.RequireFromString("420"),
		FinalState:  `{"filled_orders":[]}`,
		ClosedAt:    &closedAt,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	rec, err := repo.GetExecutor(ctx, "exec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != types.RunStatusTerminated || rec.CloseType != types.CloseTypeCompleted {
		t.Errorf("unexpected terminal state: %+v", rec)
	}
	if !rec.NetPnLQuote.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("net pnl = %s, want 12.5", rec.NetPnLQuote)
	}
	if rec.ClosedAt == nil {
		t.Error("expected closed_at to be set")
	}
	// Creation fields survive the terminal update.
	if rec.Account != "acct" || rec.Config == "" {
		t.Errorf("expected creation fields preserved: %+v", rec)
	}
}

func TestSQLiteRepository_QueryExecutors(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := runningRecord("exec-a")
	b := runningRecord("exec-b")
	b.Account = "other"
	c := runningRecord("exec-c")
	c.Status = types.RunStatusTerminated
	c.CloseType = types.CloseTypePositionHold
	for _, rec := range []ExecutorRecord{a, b, c} {
		if err := repo.CreateExecutor(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", rec.ID, err)
		}
	}

	running := types.RunStatusRunning
	recs, err := repo.QueryExecutors(ctx, ExecutorFilter{Status: &running})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 running records, got %d", len(recs))
	}

	recs, err = repo.QueryExecutors(ctx, ExecutorFilter{CloseType: types.CloseTypePositionHold})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "exec-c" {
		t.Errorf("expected exec-c only, got %v", recs)
	}

	recs, err = repo.QueryExecutors(ctx, ExecutorFilter{Account: "other", Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "exec-b" {
		t.Errorf("expected exec-b only, got %v", recs)
	}
}

func TestSQLiteRepository_MarkOrphans(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := runningRecord("exec-a")
	b := runningRecord("exec-b")
	c := runningRecord("exec-c")
	c.Status = types.RunStatusTerminated
	c.CloseType = types.CloseTypeCompleted
	for _, rec := range []ExecutorRecord{a, b, c} {
		if err := repo.CreateExecutor(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", rec.ID, err)
		}
	}

	// A is live, B is an orphan, C is already terminal.
	n, err := repo.MarkOrphans(ctx, []string{"exec-a"}, types.CloseTypeSystemCleanup, time.Now())
	if err != nil {
		t.Fatalf("mark orphans: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 orphan, got %d", n)
	}

	rec, _ := repo.GetExecutor(ctx, "exec-b")
	if rec.Status != types.RunStatusTerminated || rec.CloseType != types.CloseTypeSystemCleanup {
		t.Errorf("expected exec-b repaired, got %+v", rec)
	}
	if rec.ClosedAt == nil {
		t.Error("expected closed_at stamped on the orphan")
	}
	rec, _ = repo.GetExecutor(ctx, "exec-a")
	if rec.Status != types.RunStatusRunning {
		t.Errorf("expected exec-a untouched, got %+v", rec)
	}
	rec, _ = repo.GetExecutor(ctx, "exec-c")
	if rec.CloseType != types.CloseTypeCompleted {
		t.Errorf("expected exec-c untouched, got %+v", rec)
	}
}

func TestSQLiteRepository_MarkOrphans_EmptyActiveSet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"exec-a", "exec-b"} {
		if err := repo.CreateExecutor(ctx, runningRecord(id)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	n, err := repo.MarkOrphans(ctx, nil, types.CloseTypeSystemCleanup, time.Now())
	if err != nil {
		t.Fatalf("mark orphans: %v", err)
	}
	if n != 2 {
		t.Errorf("expected every running record repaired, got %d", n)
	}
}

func TestSQLiteRepository_OpenOrders(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	order := types.OpenOrder{
		ClientOrderID:   "c1",
		ExchangeOrderID: "EX-1",
		Pair:            "BTC-USDT",
		Side:            types.TradeTypeBuy,
		Type:            types.OrderTypeLimit,
		Amount:          decimal.RequireFromString("0.5"),
		Price:           decimal.RequireFromString("64000"),
		Status:          types.OrderStatusOpen,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
	if err := repo.SaveOpenOrder(ctx, "acct", "sim", order); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Upsert: saving again replaces, not duplicates.
	order.Status = types.OrderStatusPartialFill
	if err := repo.SaveOpenOrder(ctx, "acct", "sim", order); err != nil {
		t.Fatalf("save again: %v", err)
	}

	orders, err := repo.OpenOrdersFor(ctx, "acct", "sim")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	got := orders[0]
	if got.Status != types.OrderStatusPartialFill {
		t.Errorf("status = %s, want PARTIALLY_FILLED", got.Status)
	}
	if !got.Price.Equal(order.Price) || got.Side != types.TradeTypeBuy {
		t.Errorf("unexpected round trip: %+v", got)
	}

	others, err := repo.OpenOrdersFor(ctx, "acct", "other")
	if err != nil {
		t.Fatalf("load other: %v", err)
	}
	if len(others) != 0 {
		t.Errorf("expected no orders for another exchange, got %d", len(others))
	}

	if err := repo.DeleteOpenOrder(ctx, "acct", "sim", "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	orders, _ = repo.OpenOrdersFor(ctx, "acct", "sim")
	if len(orders) != 0 {
		t.Error("expected empty table after delete")
	}
}
