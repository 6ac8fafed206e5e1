package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangson/trading-runtime/internal/types"
)

// fakeStream is a controllable BookStream for tests.
type fakeStream struct {
	mu       sync.Mutex
	pair     string
	ready    bool
	started  bool
	stopped  bool
	startErr error
}

func (s *fakeStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	s.stopped = false
	return nil
}

func (s *fakeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *fakeStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeStream) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

func (s *fakeStream) Snapshot() (bids, asks []types.PriceLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, nil
	}
	level := types.PriceLevel{Price: decimal.NewFromInt(100), Amount: decimal.NewFromInt(1)}
	return []types.PriceLevel{level}, []types.PriceLevel{level}
}

func (s *fakeStream) setReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// streamFactory tracks every stream it hands out.
type streamFactory struct {
	mu      sync.Mutex
	streams map[string][]*fakeStream
	ready   bool
}

func newStreamFactory(ready bool) *streamFactory {
	return &streamFactory{streams: make(map[string][]*fakeStream), ready: ready}
}

func (f *streamFactory) new(pair string) BookStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeStream{pair: pair, ready: f.ready}
	f.streams[pair] = append(f.streams[pair], s)
	return s
}

func (f *streamFactory) count(pair string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams[pair])
}

func (f *streamFactory) last(pair string) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.streams[pair]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func TestBookTracker_EnsureIdempotent(t *testing.T) {
	factory := newStreamFactory(true)
	tracker := NewBookTracker("test", factory.new, nil)

	added, err := tracker.Ensure(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !added {
		t.Error("expected first Ensure to report a new pair")
	}

	added, err = tracker.Ensure(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Error("expected second Ensure to report an existing pair")
	}
	if factory.count("BTC-USDT") != 1 {
		t.Errorf("expected one stream, got %d", factory.count("BTC-USDT"))
	}
}

func TestBookTracker_RemoveIdempotent(t *testing.T) {
	factory := newStreamFactory(true)
	tracker := NewBookTracker("test", factory.new, nil)

	if tracker.Remove("BTC-USDT") {
		t.Error("expected removing an untracked pair to return false")
	}

	if _, err := tracker.Ensure(context.Background(), "BTC-USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tracker.Remove("BTC-USDT") {
		t.Error("expected first remove to return true")
	}
	if tracker.Remove("BTC-USDT") {
		t.Error("expected second remove to return false")
	}
	if !factory.last("BTC-USDT").stopped {
		t.Error("expected removed stream to be stopped")
	}
}

func TestBookTracker_WaitReady(t *testing.T) {
	factory := newStreamFactory(false)
	tracker := NewBookTracker("test", factory.new, nil)

	if _, err := tracker.Ensure(context.Background(), "BTC-USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Never becomes ready: a timeout is a false result, not an error.
	if tracker.WaitReady(context.Background(), "BTC-USDT", 30*time.Millisecond) {
		t.Error("expected WaitReady to time out")
	}

	factory.last("BTC-USDT").setReady(true)
	if !tracker.WaitReady(context.Background(), "BTC-USDT", time.Second) {
		t.Error("expected WaitReady to succeed once the stream is ready")
	}
}

func TestBookTracker_WaitReady_ContextCancelled(t *testing.T) {
	factory := newStreamFactory(false)
	tracker := NewBookTracker("test", factory.new, nil)
	if _, err := tracker.Ensure(context.Background(), "BTC-USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if tracker.WaitReady(ctx, "BTC-USDT", time.Minute) {
		t.Error("expected cancelled context to stop the wait")
	}
}

func TestBookTracker_Restart(t *testing.T) {
	factory := newStreamFactory(true)
	tracker := NewBookTracker("test", factory.new, nil)

	for _, pair := range []string{"BTC-USDT", "ETH-USDT"} {
		if _, err := tracker.Ensure(context.Background(), pair); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	notReady, err := tracker.Restart(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notReady) != 0 {
		t.Errorf("expected all pairs ready after restart, got %v", notReady)
	}
	if factory.count("BTC-USDT") != 2 {
		t.Errorf("expected a fresh stream per restart, got %d", factory.count("BTC-USDT"))
	}

	pairs := tracker.Pairs()
	if len(pairs) != 2 || pairs[0] != "BTC-USDT" || pairs[1] != "ETH-USDT" {
		t.Errorf("expected pair set to survive restart, got %v", pairs)
	}
}

func TestBookTracker_Restart_ReportsFailures(t *testing.T) {
	factory := newStreamFactory(false)
	tracker := NewBookTracker("test", factory.new, nil)
	if _, err := tracker.Ensure(context.Background(), "BTC-USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	notReady, err := tracker.Restart(context.Background(), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notReady) != 1 || notReady[0] != "BTC-USDT" {
		t.Errorf("expected BTC-USDT reported once, got %v", notReady)
	}
	if len(tracker.Pairs()) != 1 {
		t.Error("expected failing pair to stay tracked")
	}
}

func TestBookTracker_Diagnostics(t *testing.T) {
	factory := newStreamFactory(true)
	tracker := NewBookTracker("test", factory.new, nil)
	for _, pair := range []string{"ETH-USDT", "BTC-USDT"} {
		if _, err := tracker.Ensure(context.Background(), pair); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	diags := tracker.Diagnostics()
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(diags))
	}
	if diags[0].Pair != "BTC-USDT" {
		t.Errorf("expected sorted diagnostics, got %q first", diags[0].Pair)
	}
	if !diags[0].Ready || !diags[0].Alive {
		t.Error("expected ready and alive stream")
	}
	if diags[0].BidLevels != 1 || diags[0].AskLevels != 1 {
		t.Errorf("expected one level per side, got %d/%d", diags[0].BidLevels, diags[0].AskLevels)
	}
}

func TestBookTracker_NilStreamIsTriviallyReady(t *testing.T) {
	tracker := NewBookTracker("test", func(pair string) BookStream { return nil }, nil)

	added, err := tracker.Ensure(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !added {
		t.Error("expected pair to be newly added")
	}
	if !tracker.Ready("BTC-USDT") {
		t.Error("expected pair ready without a real stream")
	}
	if !tracker.WaitReady(context.Background(), "BTC-USDT", time.Second) {
		t.Error("expected WaitReady to return immediately")
	}

	bids, asks := tracker.Snapshot("BTC-USDT")
	if len(bids) != 0 || len(asks) != 0 {
		t.Errorf("expected empty book, got %d/%d levels", len(bids), len(asks))
	}

	notReady, err := tracker.Restart(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notReady) != 0 {
		t.Errorf("expected restart to report nothing, got %v", notReady)
	}
	if !tracker.Remove("BTC-USDT") {
		t.Error("expected tracked pair removed")
	}
}

func TestBookTracker_EnsureStartError(t *testing.T) {
	wantErr := errors.New("dial failed")
	tracker := NewBookTracker("test", func(pair string) BookStream {
		return &fakeStream{pair: pair, startErr: wantErr}
	}, nil)

	_, err := tracker.Ensure(context.Background(), "BTC-USDT")
	if !errors.Is(err, wantErr) {
		t.Errorf("expected start error to propagate, got %v", err)
	}
}
