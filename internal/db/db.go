package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// minLedgerConns leaves room for reads while allocators sit on batch row locks.
const minLedgerConns = 8

// NewPool opens the ledger pool for connStr and verifies it with a ping.
// Sessions are tagged application_name=rackrunner so lock waits show up by name
// in pg_stat_activity.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	if connStr == "" {
		return nil, fmt.Errorf("ledger database url is empty (set DATABASE_URL)")
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger database url: %w", err)
	}
	cfg.MaxConns = max(cfg.MaxConns, minLedgerConns)
	cfg.MaxConnIdleTime = 5 * time.Minute
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = "rackrunner"
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach ledger database: %w", err)
	}
	return pool, nil
}
