package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// MultiAlerter fans an alert out to every configured channel. A slow
// or failing channel never blocks the others.
type MultiAlerter struct {
	mu       sync.RWMutex
	alerters []Alerter
	logger   *slog.Logger
}

// NewMultiAlerter creates a new multi-channel alerter.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{alerters: alerters, logger: logger}
}

// Name returns the name of the alerter.
func (m *MultiAlerter) Name() string { return "multi" }

// AddAlerter adds a new channel.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.mu.Lock()
	m.alerters = append(m.alerters, alerter)
	m.mu.Unlock()
}

func (m *MultiAlerter) snapshot() []Alerter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alerter, len(m.alerters))
	copy(out, m.alerters)
	return out
}

// Alert dispatches to all channels in parallel and joins their errors.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	targets := m.snapshot()
	if len(targets) == 0 {
		return nil
	}

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, a Alerter) {
			defer wg.Done()
			if err := a.Alert(ctx, severity, message, fields...); err != nil {
				m.logger.Warn("alert channel failed",
					"channel", a.Name(), "severity", severity.String(), "err", err)
				errs[i] = err
			}
		}(i, target)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// AlertEvent sends an alert for a predefined event type at that
// event's default severity.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return m.Alert(ctx, EventSeverity(event), message, fields...)
}
