package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts to the runtime log. It is the default
// channel for development setups and for deployments without paging.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a new console alerter.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger}
}

// Name returns the name of the alerter.
func (c *ConsoleAlerter) Name() string { return "console" }

// Alert logs the alert at a level matching its severity.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	args := make([]any, 0, len(fields)+2)
	args = append(args, "severity", severity.String())
	args = append(args, fields...)
	c.logger.Log(ctx, logLevel(severity), "alert: "+message, args...)
	return nil
}

func logLevel(severity Severity) slog.Level {
	switch severity {
	case SeverityCritical:
		return slog.LevelError
	case SeverityHigh, SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
