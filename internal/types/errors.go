package types

import "errors"

// Sentinel errors shared across the runtime. Callers match them with
// errors.Is after layers wrap them with context.
var (
	// ErrConfigInvalid means a config payload failed validation before
	// any side effect happened.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrConnectorUnavailable means no connector, trading or data, could
	// serve the requested exchange.
	ErrConnectorUnavailable = errors.New("connector unavailable")

	// ErrNoSession means a trading call was made for an account and
	// exchange pair that has no loaded session.
	ErrNoSession = errors.New("trading session not loaded")

	// ErrOrderBookTimeout means an order book did not become ready
	// within the caller's deadline.
	ErrOrderBookTimeout = errors.New("order book readiness timeout")

	// ErrExecutorNotFound means the referenced executor id is unknown.
	ErrExecutorNotFound = errors.New("executor not found")

	// ErrExecutorAlreadyClosed means a stop was requested for an
	// executor that already terminated.
	ErrExecutorAlreadyClosed = errors.New("executor already closed")

	// ErrPersistence wraps storage failures. Control paths log these
	// and keep running rather than abort trading.
	ErrPersistence = errors.New("persistence failure")

	// ErrAlreadyRunning means a start was requested on a component that
	// is already live.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning means a stop or control call hit a component that
	// never started or already shut down.
	ErrNotRunning = errors.New("not running")
)
