// Package store opens the configured ledger driver.
package store

import (
	"context"
	"fmt"
	"log"

	"rackrunner/internal/config"
	"rackrunner/internal/core"
	"rackrunner/internal/db"
	"rackrunner/internal/store/memory"
	"rackrunner/internal/store/postgres"
	"rackrunner/internal/store/sqlite"
)

// Driver names accepted in LEDGER_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Open returns the ledger for cfg.LedgerDriver and a func that releases it.
func Open(ctx context.Context, cfg *config.Config) (core.LedgerStore, func(), error) {
	switch cfg.LedgerDriver {
	case DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Println("[LEDGER] using postgres")
		return postgres.New(pool), pool.Close, nil
	case DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[LEDGER] using sqlite at %s", cfg.SQLitePath)
		return s, func() {
			if err := s.Close(); err != nil {
				log.Printf("[LEDGER] close sqlite: %v", err)
			}
		}, nil
	case DriverMemory:
		log.Println("[LEDGER] using in-memory store; data is lost on exit")
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}
}
