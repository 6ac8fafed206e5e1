// Package persistence provides durable storage for executor lifecycle
// records and open orders.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangson/trading-runtime/internal/types"
)

// ExecutorRecord is the durable projection of an executor's lifecycle.
// FinalState holds the executor's serialized custom state as JSON.
type ExecutorRecord struct {
	ID          string
	Type        string
	Account     string
	Exchange    string
	Pair        string
	Status      types.RunStatus
	CloseType   types.CloseType
	Config      string
	NetPnLQuote decimal.Decimal
	FeesQuote   decimal.Decimal
	VolumeQuote decimal.Decimal
	FinalState  string
	CreatedAt   time.Time
	ClosedAt    *time.Time
}

// ExecutorFilter narrows executor record queries. Zero fields match
// everything.
type ExecutorFilter struct {
	Status    *types.RunStatus
	CloseType types.CloseType
	Account   string
	Exchange  string
	Pair      string
	Limit     int
}

// Repository is the persistence collaborator for the runtime. All
// methods are safe for concurrent use.
type Repository interface {
	// CreateExecutor inserts the creation record (status RUNNING).
	CreateExecutor(ctx context.Context, rec ExecutorRecord) error

	// CompleteExecutor writes the terminal fields for an executor.
	CompleteExecutor(ctx context.Context, rec ExecutorRecord) error

	// GetExecutor returns a record by id, nil when absent.
	GetExecutor(ctx context.Context, id string) (*ExecutorRecord, error)

	// QueryExecutors returns records matching the filter, newest first.
	QueryExecutors(ctx context.Context, filter ExecutorFilter) ([]ExecutorRecord, error)

	// MarkOrphans transitions every RUNNING record whose id is not in
	// activeIDs to TERMINATED with the given close type, stamping
	// closedAt. Returns the number of records changed.
	MarkOrphans(ctx context.Context, activeIDs []string, closeType types.CloseType, closedAt time.Time) (int, error)

	// SaveOpenOrder upserts an open order for a trading session.
	SaveOpenOrder(ctx context.Context, account, exchange string, order types.OpenOrder) error

	// DeleteOpenOrder removes an order once it is terminal.
	DeleteOpenOrder(ctx context.Context, account, exchange, clientOrderID string) error

	// OpenOrdersFor returns the persisted open orders for a session.
	OpenOrdersFor(ctx context.Context, account, exchange string) ([]types.OpenOrder, error)

	// Close releases the underlying storage.
	Close() error
}
