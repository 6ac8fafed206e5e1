package executor

import (
	"sync"

	"github.com/hoangson/trading-runtime/internal/types"
)

// Base carries the lifecycle state shared by every executor
// implementation. Strategies embed it and drive transitions through
// its methods; the zero value is not usable, use NewBase.
type Base struct {
	id   string
	cfg  Config
	host Host

	mu        sync.RWMutex
	status    types.RunStatus
	closeType types.CloseType
	keepOpen  bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewBase creates the shared lifecycle state for one executor.
func NewBase(cfg Config, host Host) *Base {
	return &Base{
		id:     cfg.ID,
		cfg:    cfg,
		host:   host,
		status: types.RunStatusNotStarted,
		stopCh: make(chan struct{}),
	}
}

// ID returns the executor id.
func (b *Base) ID() string { return b.id }

// Config returns the common config envelope.
func (b *Base) Config() Config { return b.cfg }

// Host returns the trading host.
func (b *Base) Host() Host { return b.host }

// Status returns the current run status.
func (b *Base) Status() types.RunStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// CloseType returns the terminal close reason, empty until closed.
func (b *Base) CloseType() types.CloseType {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closeType
}

// IsClosed reports whether the executor reached a terminal state.
func (b *Base) IsClosed() bool {
	return b.Status() == types.RunStatusTerminated
}

// MarkRunning transitions to RUNNING.
func (b *Base) MarkRunning() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = types.RunStatusRunning
}

// Close records the terminal state. Later calls keep the first reason.
func (b *Base) Close(closeType types.CloseType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == types.RunStatusTerminated {
		return
	}
	b.status = types.RunStatusTerminated
	b.closeType = closeType
}

// EarlyStop signals the strategy loop to wind down with the given
// keep-position flag. Non-blocking; the loop observes StopRequested.
func (b *Base) EarlyStop(keepPosition bool) {
	b.mu.Lock()
	b.keepOpen = keepPosition
	if b.status == types.RunStatusRunning {
		b.status = types.RunStatusShuttingDown
	}
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stopCh) })
}

// StopRequested returns the channel closed when an early stop arrives.
func (b *Base) StopRequested() <-chan struct{} { return b.stopCh }

// KeepPosition reports whether the early stop asked to leave the
// position open.
func (b *Base) KeepPosition() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.keepOpen
}

// StopCloseType maps the keep-position flag to the terminal reason an
// early stop should record.
func (b *Base) StopCloseType() types.CloseType {
	if b.KeepPosition() {
		return types.CloseTypePositionHold
	}
	return types.CloseTypeEarlyStop
}
