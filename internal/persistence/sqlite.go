package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hoangson/trading-runtime/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (creating if needed) a SQLite database at
// path and runs migrations.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS executor_records (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			account TEXT NOT NULL,
			exchange TEXT NOT NULL,
			pair TEXT NOT NULL,
			status TEXT NOT NULL,
			close_type TEXT NOT NULL DEFAULT '',
			config TEXT NOT NULL DEFAULT '',
			net_pnl_quote TEXT NOT NULL DEFAULT '0',
			fees_quote TEXT NOT NULL DEFAULT '0',
			volume_quote TEXT NOT NULL DEFAULT '0',
			final_state TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			closed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executor_status ON executor_records(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executor_close_type ON executor_records(close_type)`,
		`CREATE INDEX IF NOT EXISTS idx_executor_account ON executor_records(account, exchange)`,

		`CREATE TABLE IF NOT EXISTS open_orders (
			account TEXT NOT NULL,
			exchange TEXT NOT NULL,
			client_order_id TEXT NOT NULL,
			exchange_order_id TEXT NOT NULL DEFAULT '',
			pair TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			amount TEXT NOT NULL,
			price TEXT NOT NULL DEFAULT '0',
			filled_base TEXT NOT NULL DEFAULT '0',
			filled_quote TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL,
			position_action INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (account, exchange, client_order_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_open_orders_session ON open_orders(account, exchange)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// CreateExecutor implements Repository.
func (r *SQLiteRepository) CreateExecutor(ctx context.Context, rec ExecutorRecord) error {
	query := `INSERT INTO executor_records
		(id, type, account, exchange, pair, status, close_type, config, net_pnl_quote, fees_quote, volume_quote, final_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Type,
		rec.Account,
		rec.Exchange,
		rec.Pair,
		rec.Status.String(),
		string(rec.CloseType),
		rec.Config,
		rec.NetPnLQuote.String(),
		rec.FeesQuote.String(),
		rec.VolumeQuote.String(),
		rec.FinalState,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert executor record: %w", err)
	}
	return nil
}

// CompleteExecutor implements Repository.
func (r *SQLiteRepository) CompleteExecutor(ctx context.Context, rec ExecutorRecord) error {
	query := `UPDATE executor_records
		SET status = ?, close_type = ?, net_pnl_quote = ?, fees_quote = ?, volume_quote = ?, final_state = ?, closed_at = ?
		WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query,
		rec.Status.String(),
		string(rec.CloseType),
		rec.NetPnLQuote.String(),
		rec.FeesQuote.String(),
		rec.VolumeQuote.String(),
		rec.FinalState,
		rec.ClosedAt,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update executor record: %w", err)
	}
	return nil
}

const executorColumns = `id, type, account, exchange, pair, status, close_type, config, net_pnl_quote, fees_quote, volume_quote, final_state, created_at, closed_at`

// GetExecutor implements Repository.
func (r *SQLiteRepository) GetExecutor(ctx context.Context, id string) (*ExecutorRecord, error) {
	query := `SELECT ` + executorColumns + ` FROM executor_records WHERE id = ?`

	rec, err := scanExecutor(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query executor record: %w", err)
	}
	return rec, nil
}

// QueryExecutors implements Repository.
func (r *SQLiteRepository) QueryExecutors(ctx context.Context, filter ExecutorFilter) ([]ExecutorRecord, error) {
	var conds []string
	var args []any

	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status.String())
	}
	if filter.CloseType != types.CloseTypeNone {
		conds = append(conds, "close_type = ?")
		args = append(args, string(filter.CloseType))
	}
	if filter.Account != "" {
		conds = append(conds, "account = ?")
		args = append(args, filter.Account)
	}
	if filter.Exchange != "" {
		conds = append(conds, "exchange = ?")
		args = append(args, filter.Exchange)
	}
	if filter.Pair != "" {
		conds = append(conds, "pair = ?")
		args = append(args, filter.Pair)
	}

	query := `SELECT ` + executorColumns + ` FROM executor_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executor records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []ExecutorRecord
	for rows.Next() {
		rec, err := scanExecutor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecutor(row scanner) (*ExecutorRecord, error) {
	var rec ExecutorRecord
	var status, closeType, netPnL, fees, volume string
	var closedAt sql.NullTime

	if err := row.Scan(
		&rec.ID, &rec.Type, &rec.Account, &rec.Exchange, &rec.Pair,
		&status, &closeType, &rec.Config, &netPnL, &fees, &volume,
		&rec.FinalState, &rec.CreatedAt, &closedAt,
	); err != nil {
		return nil, err
	}

	rec.Status = types.ParseRunStatus(status)
	rec.CloseType = types.CloseType(closeType)
	rec.NetPnLQuote, _ = decimal.NewFromString(netPnL)
	rec.FeesQuote, _ = decimal.NewFromString(fees)
	rec.VolumeQuote, _ = decimal.NewFromString(volume)
	if closedAt.Valid {
		rec.ClosedAt = &closedAt.Time
	}
	return &rec, nil
}

// MarkOrphans implements Repository.
func (r *SQLiteRepository) MarkOrphans(ctx context.Context, activeIDs []string, closeType types.CloseType, closedAt time.Time) (int, error) {
	query := `UPDATE executor_records SET status = ?, close_type = ?, closed_at = ? WHERE status = ?`
	args := []any{
		types.RunStatusTerminated.String(),
		string(closeType),
		closedAt,
		types.RunStatusRunning.String(),
	}

	if len(activeIDs) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(",?", len(activeIDs)-1) + `)`
		for _, id := range activeIDs {
			args = append(args, id)
		}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark orphaned executors: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// SaveOpenOrder implements Repository.
func (r *SQLiteRepository) SaveOpenOrder(ctx context.Context, account, exchange string, order types.OpenOrder) error {
	query := `INSERT OR REPLACE INTO open_orders
		(account, exchange, client_order_id, exchange_order_id, pair, side, order_type, amount, price, filled_base, filled_quote, status, position_action, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		account,
		exchange,
		order.ClientOrderID,
		order.ExchangeOrderID,
		order.Pair,
		order.Side.String(),
		order.Type.String(),
		order.Amount.String(),
		order.Price.String(),
		order.FilledBase.String(),
		order.FilledQuote.String(),
		order.Status.String(),
		int(order.PositionAction),
		order.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert open order: %w", err)
	}
	return nil
}

// DeleteOpenOrder implements Repository.
func (r *SQLiteRepository) DeleteOpenOrder(ctx context.Context, account, exchange, clientOrderID string) error {
	query := `DELETE FROM open_orders WHERE account = ? AND exchange = ? AND client_order_id = ?`
	if _, err := r.db.ExecContext(ctx, query, account, exchange, clientOrderID); err != nil {
		return fmt.Errorf("delete open order: %w", err)
	}
	return nil
}

// OpenOrdersFor implements Repository.
func (r *SQLiteRepository) OpenOrdersFor(ctx context.Context, account, exchange string) ([]types.OpenOrder, error) {
	query := `SELECT client_order_id, exchange_order_id, pair, side, order_type, amount, price, filled_base, filled_quote, status, position_action, created_at
		FROM open_orders WHERE account = ? AND exchange = ?`

	rows, err := r.db.QueryContext(ctx, query, account, exchange)
	if err != nil {
		return nil, fmt.Errorf("query open orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []types.OpenOrder
	for rows.Next() {
		var o types.OpenOrder
		var side, orderType, amount, price, filledBase, filledQuote, status string
		var positionAction int

		if err := rows.Scan(&o.ClientOrderID, &o.ExchangeOrderID, &o.Pair, &side, &orderType,
			&amount, &price, &filledBase, &filledQuote, &status, &positionAction, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		o.Side, _ = types.ParseTradeType(side)
		o.Type, _ = types.ParseOrderType(orderType)
		o.Amount, _ = decimal.NewFromString(amount)
		o.Price, _ = decimal.NewFromString(price)
		o.FilledBase, _ = decimal.NewFromString(filledBase)
		o.FilledQuote, _ = decimal.NewFromString(filledQuote)
		o.Status = types.ParseOrderStatus(status)
		o.PositionAction = types.PositionAction(positionAction)

		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

var _ Repository = (*SQLiteRepository)(nil)
