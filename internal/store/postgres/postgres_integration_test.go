package postgres_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"rackrunner/internal/core"
	"rackrunner/internal/store/postgres"
)

func setupTestDB(t *testing.T) (*pgxpool.Pool, context.Context) {
	t.Helper()
	_ = godotenv.Load("../../../.env")

	// Use a dedicated TEST database: the tables are dropped and recreated.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		DROP TABLE IF EXISTS audit_log, allocations, packing_requirements, inventory_batches, rack_items, racks CASCADE;
	`)
	if err != nil {
		t.Fatalf("Failed to reset test database: %v", err)
	}

	schema, err := os.ReadFile("../../../migrations/001_init.sql")
	if err != nil {
		t.Fatalf("Failed to read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}
	return pool, ctx
}

func TestPostgres_SealAndAllocateFIFO(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store := postgres.New(pool)
	racks := core.NewRackService(store, 0, nil)
	alloc := core.NewAllocationService(store)
	planner := core.NewPlannerService(store, 0)

	if _, err := racks.Open(ctx, "R-1", "u1", nil); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for _, date := range []string{"2025-01-02", "20250101"} {
		if _, err := racks.Scan(ctx, core.ScanInput{RackID: "R-1", UserID: "u1", MealCode: "HH", BatchDate: date, Quantity: 5}); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
	}
	sealed, err := racks.Close(ctx, "R-1", "u1")
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(sealed.Batches) != 2 || sealed.Batches[0].BatchDate != "2025-01-01" {
		t.Fatalf("Unexpected batches %+v", sealed.Batches)
	}

	ids, err := planner.ImportRequirements(ctx, "2025-02-01", "u1", []core.RequirementInput{{MealCode: "HH", QtyNeeded: 7}})
	if err != nil {
		t.Fatalf("ImportRequirements failed: %v", err)
	}
	res, err := alloc.Allocate(ctx, ids[0], "u1", nil)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	want := []core.BatchTake{{BatchID: sealed.Batches[0].BatchID, Qty: 5}, {BatchID: sealed.Batches[1].BatchID, Qty: 2}}
	if len(res.Allocations) != 2 || res.Allocations[0] != want[0] || res.Allocations[1] != want[1] {
		t.Errorf("Expected %v, got %v", want, res.Allocations)
	}

	view, err := racks.GetRack(ctx, "R-1")
	if err != nil {
		t.Fatalf("GetRack failed: %v", err)
	}
	if view.PendingItems != 0 || view.Rack.Status != core.RackStatusSealed {
		t.Errorf("Unexpected rack view %+v", view)
	}

	if _, err := alloc.Override(ctx, core.OverrideInput{
		RequirementID: ids[0], BatchID: sealed.Batches[1].BatchID, Qty: 10, UserID: "u1", Reason: "manual recount",
	}); err != nil {
		t.Fatalf("Override failed: %v", err)
	}
	statuses, err := planner.ListRequirements(ctx, "2025-02-01")
	if err != nil {
		t.Fatalf("ListRequirements failed: %v", err)
	}
	if !statuses[0].HasOverride || statuses[0].Allocated != 17 {
		t.Errorf("Expected over-allocation through override, got %+v", statuses[0])
	}

	entries, err := planner.AuditTrail(ctx, 1)
	if err != nil {
		t.Fatalf("AuditTrail failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != core.AuditOverride {
		t.Errorf("Expected newest entry to be the override, got %+v", entries)
	}
}

func TestPostgres_ConcurrentAllocations(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store := postgres.New(pool)
	racks := core.NewRackService(store, 0, nil)
	alloc := core.NewAllocationService(store)
	planner := core.NewPlannerService(store, 0)

	if _, err := racks.Open(ctx, "R-1", "u1", nil); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := racks.Scan(ctx, core.ScanInput{RackID: "R-1", UserID: "u1", MealCode: "HH", BatchDate: "2025-01-01", Quantity: 12}); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if _, err := racks.Close(ctx, "R-1", "u1"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := make([]core.RequirementInput, 8)
	for i := range lines {
		lines[i] = core.RequirementInput{MealCode: "HH", QtyNeeded: 2}
	}
	ids, err := planner.ImportRequirements(ctx, "2025-02-01", "u1", lines)
	if err != nil {
		t.Fatalf("ImportRequirements failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := 0
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := alloc.Allocate(ctx, id, "u1", nil)
			if err != nil {
				t.Errorf("Allocate failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, a := range res.Allocations {
				taken += a.Qty
			}
		}(id)
	}
	wg.Wait()

	if taken != 12 {
		t.Errorf("Expected exactly 12 units allocated, got %d", taken)
	}
	var minAvail int
	if err := pool.QueryRow(ctx, `SELECT MIN(qty_available) FROM inventory_batches`).Scan(&minAvail); err != nil {
		t.Fatalf("Failed to read batches: %v", err)
	}
	if minAvail != 0 {
		t.Errorf("Expected batch drained to 0, got %d", minAvail)
	}
}

func TestPostgres_ErrorsAreTyped(t *testing.T) {
	pool, ctx := setupTestDB(t)
	store := postgres.New(pool)
	racks := core.NewRackService(store, 0, nil)

	if _, err := racks.Close(ctx, "missing", "u1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	if _, err := racks.Open(ctx, "R-1", "u1", nil); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_, err := racks.Scan(ctx, core.ScanInput{RackID: "R-1", UserID: "u1", MealCode: "HH", BatchDate: "soon"})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("Expected validation error for bad batch date, got %v", err)
	}
	if _, err := racks.Scan(ctx, core.ScanInput{RackID: "R-missing", UserID: "u1", MealCode: "HH", BatchDate: "2025-01-01"}); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("Expected invalid state for unknown rack, got %v", err)
	}
}
