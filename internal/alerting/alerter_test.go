package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// failingAlerter always errors, for fan-out tests.
type failingAlerter struct{}

func (f *failingAlerter) Name() string { return "failing" }

func (f *failingAlerter) Alert(_ context.Context, _ Severity, _ string, _ ...any) error {
	return errors.New("channel down")
}

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityHigh, "HIGH"},
		{SeverityCritical, "CRITICAL"},
		{Severity(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.severity.String(); got != tt.want {
			t.Errorf("Severity(%d).String() = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestFormatFields(t *testing.T) {
	if got := FormatFields(); got != "" {
		t.Errorf("expected empty string for no fields, got %q", got)
	}

	got := FormatFields("pair", "BTC-USDT", "count", 3)
	if !strings.Contains(got, "pair: BTC-USDT") || !strings.Contains(got, "count: 3") {
		t.Errorf("unexpected formatted fields: %q", got)
	}

	// Non-string keys are skipped, odd trailing values ignored.
	got = FormatFields(42, "value", "key", "kept", "dangling")
	if strings.Contains(got, "42") {
		t.Errorf("expected non-string key skipped, got %q", got)
	}
	if !strings.Contains(got, "key: kept") {
		t.Errorf("expected valid pair kept, got %q", got)
	}
}

func TestEventSeverity(t *testing.T) {
	if EventSeverity(EventExecutorFailed) != SeverityHigh {
		t.Error("expected executor_failed to be high severity")
	}
	if EventSeverity(EventPersistenceFailure) != SeverityWarning {
		t.Error("expected persistence_failure to be warning severity")
	}
	if EventSeverity(EventExecutorStarted) != SeverityInfo {
		t.Error("expected executor_started to be info severity")
	}
}

func TestMultiAlerter_FanOut(t *testing.T) {
	m1 := NewMockAlerter()
	m2 := NewMockAlerter()
	multi := NewMultiAlerter(nil, m1, m2)

	err := multi.Alert(context.Background(), SeverityWarning, "book stale", "pair", "BTC-USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m1.Count() != 1 || m2.Count() != 1 {
		t.Errorf("expected both channels to receive the alert, got %d/%d", m1.Count(), m2.Count())
	}
	if !m1.HasAlertWithSeverity(SeverityWarning) {
		t.Error("expected severity to be preserved")
	}
	if m1.Alerts()[0].Message != "book stale" {
		t.Errorf("unexpected message %q", m1.Alerts()[0].Message)
	}
}

func TestMultiAlerter_FailingChannelDoesNotBlockOthers(t *testing.T) {
	mock := NewMockAlerter()
	multi := NewMultiAlerter(nil, &failingAlerter{}, mock)

	err := multi.Alert(context.Background(), SeverityHigh, "session failed")
	if err == nil {
		t.Fatal("expected joined error from the failing channel")
	}
	if mock.Count() != 1 {
		t.Errorf("expected healthy channel to still receive the alert, got %d", mock.Count())
	}
}

func TestMultiAlerter_Empty(t *testing.T) {
	multi := NewMultiAlerter(nil)
	if err := multi.Alert(context.Background(), SeverityInfo, "noop"); err != nil {
		t.Errorf("expected no error with zero channels, got %v", err)
	}
}

func TestMultiAlerter_AddAlerter(t *testing.T) {
	multi := NewMultiAlerter(nil)
	mock := NewMockAlerter()
	multi.AddAlerter(mock)

	if err := multi.AlertEvent(context.Background(), EventExecutorFailed, "executor blew up"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mock.HasAlertWithSeverity(SeverityHigh) {
		t.Error("expected event severity mapping to apply")
	}
}

func TestConsoleAlerter(t *testing.T) {
	c := NewConsoleAlerter(nil)
	if c.Name() != "console" {
		t.Errorf("unexpected name %q", c.Name())
	}
	for _, sev := range []Severity{SeverityInfo, SeverityWarning, SeverityHigh, SeverityCritical} {
		if err := c.Alert(context.Background(), sev, "test", "k", "v"); err != nil {
			t.Errorf("unexpected error at %s: %v", sev, err)
		}
	}
}
