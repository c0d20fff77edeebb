package db

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestNewPool_RejectsBadURL(t *testing.T) {
	ctx := context.Background()

	if _, err := NewPool(ctx, ""); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("Expected empty url error naming DATABASE_URL, got %v", err)
	}
	if _, err := NewPool(ctx, "postgres://%zz"); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Errorf("Expected parse error, got %v", err)
	}
}

func TestNewPool_Tuning(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}
	pool, err := NewPool(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Close()

	if pool.Config().MaxConns < minLedgerConns {
		t.Errorf("Expected at least %d conns, got %d", minLedgerConns, pool.Config().MaxConns)
	}
	var app string
	if err := pool.QueryRow(context.Background(), "SHOW application_name").Scan(&app); err != nil {
		t.Fatalf("SHOW application_name failed: %v", err)
	}
	if app != "rackrunner" && !strings.Contains(dbURL, "application_name") {
		t.Errorf("Expected application_name rackrunner, got %q", app)
	}
}
