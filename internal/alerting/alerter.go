// Package alerting provides notification capabilities for the runtime.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key/value fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventRuntimeStarted is sent when the runtime starts.
	EventRuntimeStarted AlertEvent = "runtime_started"
	// EventRuntimeStopped is sent when the runtime stops.
	EventRuntimeStopped AlertEvent = "runtime_stopped"
	// EventSessionFailed is sent when a connector session fails to
	// initialize.
	EventSessionFailed AlertEvent = "session_failed"
	// EventBookStale is sent when an order book feed is detected stale.
	EventBookStale AlertEvent = "book_stale"
	// EventExecutorStarted is sent when an executor starts.
	EventExecutorStarted AlertEvent = "executor_started"
	// EventExecutorCompleted is sent when an executor completes.
	EventExecutorCompleted AlertEvent = "executor_completed"
	// EventExecutorFailed is sent when an executor terminates with an
	// error.
	EventExecutorFailed AlertEvent = "executor_failed"
	// EventPositionHeld is sent when a stop leaves a position open.
	EventPositionHeld AlertEvent = "position_held"
	// EventOrphansCleaned is sent after startup orphan cleanup.
	EventOrphansCleaned AlertEvent = "orphans_cleaned"
	// EventPersistenceFailure is sent when a storage write fails.
	EventPersistenceFailure AlertEvent = "persistence_failure"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventSessionFailed, EventExecutorFailed:
		return SeverityHigh
	case EventBookStale, EventPersistenceFailure, EventOrphansCleaned:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
