package connector

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hoangson/trading-runtime/internal/types"
)

// readinessPollInterval is the cadence at which WaitReady re-checks a
// subscription's snapshot.
const readinessPollInterval = 500 * time.Millisecond

// BookTracker manages the order book subscriptions of one session. Only
// each stream's own background task mutates snapshots; the tracker
// guards the pair set.
type BookTracker struct {
	exchange string
	newFeed  func(pair string) BookStream
	logger   *slog.Logger

	mu      sync.Mutex
	streams map[string]BookStream
}

// NewBookTracker creates a tracker that builds streams with newFeed.
func NewBookTracker(exchange string, newFeed func(pair string) BookStream, logger *slog.Logger) *BookTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookTracker{
		exchange: exchange,
		newFeed:  newFeed,
		logger:   logger,
		streams:  make(map[string]BookStream),
	}
}

// noopStream stands in when an adapter has no order book concept. It
// is ready immediately and carries no levels.
type noopStream struct{}

func (noopStream) Start(context.Context) error { return nil }
func (noopStream) Stop()                       {}
func (noopStream) Ready() bool                 { return true }
func (noopStream) Alive() bool                 { return true }

func (noopStream) Snapshot() (bids, asks []types.PriceLevel) { return nil, nil }

// buildStream creates the pair's stream, substituting a trivially
// ready stand-in when the adapter returns nil.
func (t *BookTracker) buildStream(pair string) BookStream {
	stream := t.newFeed(pair)
	if stream == nil {
		return noopStream{}
	}
	return stream
}

// Ensure registers the pair and starts its stream if not yet tracked.
// Returns whether the pair was newly added.
func (t *BookTracker) Ensure(ctx context.Context, pair string) (added bool, err error) {
	t.mu.Lock()
	stream, ok := t.streams[pair]
	if !ok {
		stream = t.buildStream(pair)
		t.streams[pair] = stream
	}
	t.mu.Unlock()

	return !ok, stream.Start(ctx)
}

// Remove tears down the pair's stream. Returns false when the pair was
// not tracked.
func (t *BookTracker) Remove(pair string) bool {
	t.mu.Lock()
	stream, ok := t.streams[pair]
	if ok {
		delete(t.streams, pair)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	stream.Stop()
	return true
}

// Ready reports snapshot readiness for the pair.
func (t *BookTracker) Ready(pair string) bool {
	t.mu.Lock()
	stream, ok := t.streams[pair]
	t.mu.Unlock()
	return ok && stream.Ready()
}

// Snapshot returns the pair's current book, or nil sides if untracked.
func (t *BookTracker) Snapshot(pair string) (bids, asks []types.PriceLevel) {
	t.mu.Lock()
	stream, ok := t.streams[pair]
	t.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return stream.Snapshot()
}

// Pairs returns the tracked pairs, sorted.
func (t *BookTracker) Pairs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	pairs := make([]string, 0, len(t.streams))
	for pair := range t.streams {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	return pairs
}

// WaitReady blocks until the pair's snapshot has both sides populated
// or the timeout elapses. Returns true when ready. A timeout is not an
// error, just a false result.
func (t *BookTracker) WaitReady(ctx context.Context, pair string, timeout time.Duration) bool {
	if t.Ready(pair) {
		return true
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(readinessPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-poll.C:
			if t.Ready(pair) {
				return true
			}
		}
	}
}

// Restart stops every tracked stream, recreates it for the same pair
// set and waits for readiness within timeout. Pairs that fail to come
// back ready are reported but left tracked.
func (t *BookTracker) Restart(ctx context.Context, timeout time.Duration) (notReady []string, err error) {
	t.mu.Lock()
	pairs := make([]string, 0, len(t.streams))
	for pair, stream := range t.streams {
		stream.Stop()
		pairs = append(pairs, pair)
	}
	t.streams = make(map[string]BookStream, len(pairs))
	for _, pair := range pairs {
		t.streams[pair] = t.buildStream(pair)
	}
	t.mu.Unlock()
	sort.Strings(pairs)

	failed := make(map[string]bool)
	for _, pair := range pairs {
		t.mu.Lock()
		stream := t.streams[pair]
		t.mu.Unlock()
		if err := stream.Start(ctx); err != nil {
			t.logger.Error("restart book stream", "exchange", t.exchange, "pair", pair, "err", err)
			failed[pair] = true
		}
	}

	deadline := time.Now().Add(timeout)
	for _, pair := range pairs {
		if failed[pair] {
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 || !t.WaitReady(ctx, pair, remaining) {
			failed[pair] = true
		}
	}
	for _, pair := range pairs {
		if failed[pair] {
			notReady = append(notReady, pair)
		}
	}
	return notReady, nil
}

// StopAll tears down every tracked stream.
func (t *BookTracker) StopAll() {
	t.mu.Lock()
	streams := t.streams
	t.streams = make(map[string]BookStream)
	t.mu.Unlock()

	for _, stream := range streams {
		stream.Stop()
	}
}

// BookDiagnostic describes the state of one tracked subscription.
type BookDiagnostic struct {
	Pair      string `json:"pair"`
	Alive     bool   `json:"alive"`
	Ready     bool   `json:"ready"`
	BidLevels int    `json:"bid_levels"`
	AskLevels int    `json:"ask_levels"`
}

// Diagnostics reports liveness and snapshot depth for every pair.
func (t *BookTracker) Diagnostics() []BookDiagnostic {
	t.mu.Lock()
	streams := make(map[string]BookStream, len(t.streams))
	for pair, stream := range t.streams {
		streams[pair] = stream
	}
	t.mu.Unlock()

	out := make([]BookDiagnostic, 0, len(streams))
	for pair, stream := range streams {
		bids, asks := stream.Snapshot()
		out = append(out, BookDiagnostic{
			Pair:      pair,
			Alive:     stream.Alive(),
			Ready:     stream.Ready(),
			BidLevels: len(bids),
			AskLevels: len(asks),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}
