package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rackrunner/internal/app"
	"rackrunner/internal/blob"
	"rackrunner/internal/core"
	"rackrunner/internal/label"
	"rackrunner/internal/qr"
	"rackrunner/internal/store/memory"
)

const operator = "7d0c8f0e-4b4a-4f4e-9a55-3f1d2a6b9c01"

func setupCLI(t *testing.T) func(args ...string) (string, error) {
	t.Helper()
	store := memory.New()
	codec := qr.NewCodec("dev-secret-change")
	racks := core.NewRackService(store, 24, &core.LabelPipeline{
		Signer: codec, Renderer: label.NewRenderer(nil), Archive: blob.NewMemory(),
	})
	svc := app.NewAppService(racks, core.NewAllocationService(store), core.NewPlannerService(store, 50),
		&core.TokenScanner{Racks: racks, Parser: codec})
	return func(args ...string) (string, error) {
		var out bytes.Buffer
		err := Run(context.Background(), svc, operator, args, &out)
		return out.String(), err
	}
}

func TestRun_RackAndPacking(t *testing.T) {
	run := setupCLI(t)

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"open", "R-1", "12"}, "Rack R-1 is OPEN (capacity 12)"},
		{[]string{"scan", "R-1", "HH", "20250101", "4"}, "Scanned 4 x HH (2025-01-01) into rack R-1"},
		{[]string{"close", "R-1"}, "RACK R-1 SEALED"},
		{[]string{"rack", "R-1"}, "status=SEALED"},
		{[]string{"summary"}, "HH"},
	}
	for _, s := range steps {
		out, err := run(s.args...)
		if err != nil {
			t.Fatalf("%v failed: %v", s.args, err)
		}
		if !strings.Contains(out, s.want) {
			t.Errorf("%v: expected output to contain %q, got:\n%s", s.args, s.want, out)
		}
	}

	out, err := run("import", "2025-01-05", "HH=3")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	fields := strings.Fields(out)
	if len(fields) != 3 {
		t.Fatalf("Expected 'MEAL QTY ID', got %q", out)
	}
	reqID := fields[2]

	if out, err = run("allocate", reqID); err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if !strings.Contains(out, "remaining 0") {
		t.Errorf("Expected full allocation, got:\n%s", out)
	}

	if out, err = run("requirements", "2025-01-05"); err != nil {
		t.Fatalf("requirements failed: %v", err)
	}
	if !strings.Contains(out, "1.00") {
		t.Errorf("Expected fill ratio 1.00, got:\n%s", out)
	}

	if out, err = run("override", reqID, "1", "1", "customer", "swap"); err != nil {
		t.Fatalf("override failed: %v", err)
	}
	if !strings.Contains(out, "from batch 1") {
		t.Errorf("Unexpected override output:\n%s", out)
	}

	if out, err = run("audit", "1"); err != nil {
		t.Fatalf("audit failed: %v", err)
	}
	if !strings.Contains(out, core.AuditOverride) || !strings.Contains(out, "customer swap") {
		t.Errorf("Expected override audit entry, got:\n%s", out)
	}
}

func TestRun_LabelFile(t *testing.T) {
	run := setupCLI(t)
	for _, args := range [][]string{{"open", "R-2"}, {"scan", "R-2", "GI", "2025-02-01"}, {"close", "R-2"}} {
		if _, err := run(args...); err != nil {
			t.Fatalf("%v failed: %v", args, err)
		}
	}
	path := filepath.Join(t.TempDir(), "r2.pdf")
	if _, err := run("label", "R-2", path); err != nil {
		t.Fatalf("label failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read label: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Error("Expected PDF file")
	}
}

func TestRun_Errors(t *testing.T) {
	run := setupCLI(t)

	if _, err := run(); err == nil {
		t.Error("Expected error with no command")
	}
	if _, err := run("launch"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("Expected unknown command error, got %v", err)
	}
	if _, err := run("open"); err == nil {
		t.Error("Expected usage error")
	}
	if _, err := run("import", "2025-01-05", "HH"); err == nil {
		t.Error("Expected MEAL=QTY error")
	}
	if _, err := run("scan", "R-9", "HH", "2025-01-01"); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("Expected invalid state for unopened rack, got %v", err)
	}
	if _, err := run("override", operator, "1", "1", "no"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Expected validation error for short reason, got %v", err)
	}
}
