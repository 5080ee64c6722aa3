package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"grid-trading-bot/internal/backtest"
	"grid-trading-bot/internal/grid"
)

// Fill is one persisted execution
type Fill struct {
	ID       int64     `json:"id"`
	Pair     string    `json:"pair"`
	Side     string    `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	FilledAt time.Time `json:"filled_at"`
}

// Trade is one closed buy/sell round trip
type Trade struct {
	ID        int64     `json:"id"`
	Pair      string    `json:"pair"`
	BuyPrice  float64   `json:"buy_price"`
	SellPrice float64   `json:"sell_price"`
	Quantity  float64   `json:"quantity"`
	Profit    float64   `json:"profit"`
	ClosedAt  time.Time `json:"closed_at"`
}

// Repository is the persistence layer over the pgx pool
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// UpsertOrder writes or refreshes one grid order row
func (r *Repository) UpsertOrder(ctx context.Context, order grid.Order) error {
	query := `
		INSERT INTO grid_orders (id, pair, side, price, quantity, status, created_at, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET status = $6, filled_at = $8`

	_, err := r.db.Pool.Exec(ctx, query,
		order.ID, order.Pair, string(order.Side), order.Price,
		order.Quantity, order.Status, order.CreatedAt, order.FilledAt)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", order.ID, err)
	}
	return nil
}

// RecordFill appends one execution to the fill log
func (r *Repository) RecordFill(ctx context.Context, pair, side string, price, quantity float64) error {
	query := `INSERT INTO fills (pair, side, price, quantity) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.Pool.Exec(ctx, query, pair, side, price, quantity); err != nil {
		return fmt.Errorf("record fill for %s: %w", pair, err)
	}
	return nil
}

// CloseTradeFromSell matches a sell fill against the oldest unmatched
// buy fill for the pair and records the round trip. Grid levels share
// one quantity, so matching is one sell against one buy, FIFO. Returns
// false when no buy fill is waiting (e.g. the opening sell half of the
// ladder).
func (r *Repository) CloseTradeFromSell(ctx context.Context, pair string, sellPrice, quantity float64) (bool, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin trade close for %s: %w", pair, err)
	}
	defer tx.Rollback(ctx)

	var buyID int64
	var buyPrice float64
	query := `
		SELECT id, price FROM fills
		WHERE pair = $1 AND side = 'buy' AND NOT matched
		ORDER BY filled_at ASC LIMIT 1
		FOR UPDATE SKIP LOCKED`
	if err := tx.QueryRow(ctx, query, pair).Scan(&buyID, &buyPrice); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("find open buy for %s: %w", pair, err)
	}

	if _, err := tx.Exec(ctx, `UPDATE fills SET matched = TRUE WHERE id = $1`, buyID); err != nil {
		return false, fmt.Errorf("mark buy %d matched: %w", buyID, err)
	}

	profit := (sellPrice - buyPrice) * quantity
	insert := `
		INSERT INTO trades (pair, buy_price, sell_price, quantity, profit)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, insert, pair, buyPrice, sellPrice, quantity, profit); err != nil {
		return false, fmt.Errorf("record trade for %s: %w", pair, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit trade close for %s: %w", pair, err)
	}
	return true, nil
}

// RecentTrades returns the newest closed round trips for a pair
func (r *Repository) RecentTrades(ctx context.Context, pair string, limit int) ([]Trade, error) {
	query := `
		SELECT id, pair, buy_price, sell_price, quantity, profit, closed_at
		FROM trades WHERE pair = $1
		ORDER BY closed_at DESC LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades for %s: %w", pair, err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.Pair, &t.BuyPrice, &t.SellPrice, &t.Quantity, &t.Profit, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RecentFills returns the newest fills for a pair
func (r *Repository) RecentFills(ctx context.Context, pair string, limit int) ([]Fill, error) {
	query := `
		SELECT id, pair, side, price, quantity, filled_at
		FROM fills WHERE pair = $1
		ORDER BY filled_at DESC LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("query fills for %s: %w", pair, err)
	}
	defer rows.Close()

	var fills []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.ID, &f.Pair, &f.Side, &f.Price, &f.Quantity, &f.FilledAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// SaveBacktestResult stores a finished run as JSONB
func (r *Repository) SaveBacktestResult(ctx context.Context, runID string, result *backtest.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal backtest result: %w", err)
	}

	query := `
		INSERT INTO backtest_results (run_id, pair, status, result)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE SET status = $3, result = $4`
	if _, err := r.db.Pool.Exec(ctx, query, runID, result.Pair, result.Status, payload); err != nil {
		return fmt.Errorf("save backtest result %s: %w", runID, err)
	}
	return nil
}

// GetBacktestResult loads one stored run
func (r *Repository) GetBacktestResult(ctx context.Context, runID string) (*backtest.Result, error) {
	var payload []byte
	query := `SELECT result FROM backtest_results WHERE run_id = $1`
	if err := r.db.Pool.QueryRow(ctx, query, runID).Scan(&payload); err != nil {
		return nil, fmt.Errorf("load backtest result %s: %w", runID, err)
	}

	var result backtest.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode backtest result %s: %w", runID, err)
	}
	return &result, nil
}
