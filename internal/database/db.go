// Package database persists order flow, fills, closed round trips and
// backtest results in PostgreSQL. The engine works without it: a nil
// repository disables persistence, it never blocks the trading path.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB connects to PostgreSQL using a connection URL
func NewDB(ctx context.Context, url string, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info().Msg("connected to PostgreSQL")
	return &DB{Pool: pool, logger: logger}, nil
}

// Close releases the connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the schema if missing
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS grid_orders (
			id UUID PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			filled_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_grid_orders_pair ON grid_orders(pair)`,
		`CREATE INDEX IF NOT EXISTS idx_grid_orders_status ON grid_orders(status)`,

		`CREATE TABLE IF NOT EXISTS fills (
			id SERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			matched BOOLEAN NOT NULL DEFAULT FALSE,
			filled_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_pair ON fills(pair)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_unmatched ON fills(pair, filled_at) WHERE NOT matched AND side = 'buy'`,

		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			buy_price DECIMAL(20, 8) NOT NULL,
			sell_price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			profit DECIMAL(20, 8) NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_pair ON trades(pair)`,

		`CREATE TABLE IF NOT EXISTS backtest_results (
			run_id UUID PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			result JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_results_pair ON backtest_results(pair)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	db.logger.Info().Int("statements", len(migrations)).Msg("database migrations applied")
	return nil
}
