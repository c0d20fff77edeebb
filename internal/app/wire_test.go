package app

import (
	"context"
	"path/filepath"
	"testing"

	"rackrunner/internal/config"
)

func TestBuild_SQLiteAndFilesystem(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		LedgerDriver: "sqlite",
		SQLitePath:   filepath.Join(dir, "ledger.db"),
		QRSecret:     "dev-secret-change",
		RackCapacity: 24,
		AuditLimit:   50,
		Labels:       config.LabelStore{Driver: "fs", Dir: filepath.Join(dir, "labels")},
	}
	ctx := context.Background()

	svc, closeFn, err := Build(ctx, cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer closeFn()

	if _, err := svc.OpenRack(ctx, OpenRackRequest{RackID: "R-1", UserID: testUser}); err != nil {
		t.Fatalf("OpenRack failed: %v", err)
	}
	if _, err := svc.ScanItems(ctx, ScanRequest{RackID: "R-1", UserID: testUser, MealCode: "HH", BatchDate: "2025-01-01", Quantity: 2}); err != nil {
		t.Fatalf("ScanItems failed: %v", err)
	}
	res, err := svc.CloseRack(ctx, CloseRackRequest{RackID: "R-1", UserID: testUser})
	if err != nil {
		t.Fatalf("CloseRack failed: %v", err)
	}
	if res.LabelError != "" {
		t.Errorf("Expected label to archive, got %s", res.LabelError)
	}
	if _, err := svc.RackLabel(ctx, "R-1"); err != nil {
		t.Errorf("Expected archived label on disk, got %v", err)
	}
}

func TestBuild_Errors(t *testing.T) {
	ctx := context.Background()
	if _, _, err := Build(ctx, &config.Config{LedgerDriver: "nope"}); err == nil {
		t.Error("Expected error for unknown ledger driver")
	}
	if _, _, err := Build(ctx, &config.Config{LedgerDriver: "memory", Labels: config.LabelStore{Driver: "tape"}}); err == nil {
		t.Error("Expected error for unknown label driver")
	}
}
