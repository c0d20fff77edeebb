package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"rackrunner/internal/app"
	"rackrunner/internal/core"
)

const usage = `Available commands:
  open <rack> [capacity]
  scan <rack> <meal> <batch-date> [qty] [serial]
  qr <token> [active-rack]
  close <rack>
  rack <rack>
  label <rack> <out.pdf>
  import <day> <MEAL=QTY>...
  requirements <day>
  allocate <requirement-id> [qty]
  override <requirement-id> <batch-id> <qty> <reason...>
  summary
  audit [limit]`

// Run executes a one-shot CLI command. args[0] is the subcommand name; operator is
// the user id recorded as the actor of every mutation.
func Run(ctx context.Context, svc app.ApplicationService, operator string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given\n%s", usage)
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "open":
		if len(rest) < 1 {
			return fmt.Errorf("usage: open <rack> [capacity]")
		}
		req := app.OpenRackRequest{RackID: rest[0], UserID: operator}
		if len(rest) > 1 {
			n, err := strconv.Atoi(rest[1])
			if err != nil {
				return fmt.Errorf("capacity %q is not a number", rest[1])
			}
			req.Capacity = &n
		}
		res, err := svc.OpenRack(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Rack %s is %s (capacity %d)\n", res.Rack.ID, res.Rack.Status, res.Rack.Capacity)

	case "scan", "s":
		if len(rest) < 3 {
			return fmt.Errorf("usage: scan <rack> <meal> <batch-date> [qty] [serial]")
		}
		req := app.ScanRequest{RackID: rest[0], UserID: operator, MealCode: rest[1], BatchDate: rest[2]}
		if len(rest) > 3 {
			n, err := strconv.Atoi(rest[3])
			if err != nil {
				return fmt.Errorf("quantity %q is not a number", rest[3])
			}
			req.Quantity = n
		}
		if len(rest) > 4 {
			req.Serial = rest[4]
		}
		res, err := svc.ScanItems(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Scanned %d x %s (%s) into rack %s\n", res.Count, res.MealCode, res.BatchDate, res.RackID)

	case "qr":
		if len(rest) < 1 {
			return fmt.Errorf("usage: qr <token> [active-rack]")
		}
		req := app.ScanTokenRequest{Token: rest[0], UserID: operator}
		if len(rest) > 1 {
			req.ActiveRackID = rest[1]
		}
		res, err := svc.ScanToken(ctx, req)
		if err != nil {
			return err
		}
		if res.Rack != nil {
			fmt.Fprintf(out, "Rack %s is %s\n", res.Rack.ID, res.Rack.Status)
		} else if res.Scan != nil {
			fmt.Fprintf(out, "Scanned %d x %s (%s) into rack %s\n", res.Scan.Count, res.Scan.MealCode, res.Scan.BatchDate, res.Scan.RackID)
		}

	case "close", "seal":
		if len(rest) < 1 {
			return fmt.Errorf("usage: close <rack>")
		}
		res, err := svc.CloseRack(ctx, app.CloseRackRequest{RackID: rest[0], UserID: operator})
		if err != nil {
			return err
		}
		printSeal(out, res)

	case "rack":
		if len(rest) < 1 {
			return fmt.Errorf("usage: rack <rack>")
		}
		view, err := svc.GetRack(ctx, rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Rack %s  status=%s  capacity=%d  pending=%d\n",
			view.Rack.ID, view.Rack.Status, view.Rack.Capacity, view.PendingItems)
		printBatches(out, view.Batches)

	case "label":
		if len(rest) < 2 {
			return fmt.Errorf("usage: label <rack> <out.pdf>")
		}
		pdf, err := svc.RackLabel(ctx, rest[0])
		if err != nil {
			return err
		}
		if err := os.WriteFile(rest[1], pdf, 0o644); err != nil {
			return fmt.Errorf("failed to write label: %w", err)
		}
		fmt.Fprintf(out, "Wrote %d bytes to %s\n", len(pdf), rest[1])

	case "import":
		if len(rest) < 2 {
			return fmt.Errorf("usage: import <day> <MEAL=QTY>...")
		}
		items, err := parseItems(rest[1:])
		if err != nil {
			return err
		}
		res, err := svc.ImportRequirements(ctx, app.ImportRequirementsRequest{Day: rest[0], UserID: operator, Items: items})
		if err != nil {
			return err
		}
		for i, id := range res.RequirementIDs {
			fmt.Fprintf(out, "%-6s %4d  %s\n", items[i].MealCode, items[i].QtyNeeded, id)
		}

	case "requirements", "reqs":
		if len(rest) < 1 {
			return fmt.Errorf("usage: requirements <day>")
		}
		res, err := svc.ListRequirements(ctx, rest[0])
		if err != nil {
			return err
		}
		printRequirements(out, res)

	case "allocate", "alloc":
		if len(rest) < 1 {
			return fmt.Errorf("usage: allocate <requirement-id> [qty]")
		}
		req := app.AllocateRequest{RequirementID: rest[0], UserID: operator}
		if len(rest) > 1 {
			n, err := strconv.Atoi(rest[1])
			if err != nil {
				return fmt.Errorf("qty %q is not a number", rest[1])
			}
			req.Qty = &n
		}
		res, err := svc.Allocate(ctx, req)
		if err != nil {
			return err
		}
		for _, a := range res.Allocations {
			fmt.Fprintf(out, "batch %-6d  %4d\n", a.BatchID, a.Qty)
		}
		fmt.Fprintf(out, "remaining %d\n", res.Remaining)

	case "override":
		if len(rest) < 4 {
			return fmt.Errorf("usage: override <requirement-id> <batch-id> <qty> <reason...>")
		}
		batchID, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			return fmt.Errorf("batch id %q is not a number", rest[1])
		}
		qty, err := strconv.Atoi(rest[2])
		if err != nil {
			return fmt.Errorf("qty %q is not a number", rest[2])
		}
		res, err := svc.Override(ctx, app.OverrideRequest{
			RequirementID: rest[0],
			BatchID:       batchID,
			Qty:           qty,
			UserID:        operator,
			Reason:        strings.Join(rest[3:], " "),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Override allocation %d: %d from batch %d\n", res.ID, res.Qty, res.BatchID)

	case "summary", "inv":
		res, err := svc.InventorySummary(ctx)
		if err != nil {
			return err
		}
		printSummary(out, res)

	case "audit":
		limit := 0
		if len(rest) > 0 {
			n, err := strconv.Atoi(rest[0])
			if err != nil {
				return fmt.Errorf("limit %q is not a number", rest[0])
			}
			limit = n
		}
		res, err := svc.AuditTrail(ctx, limit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Items)

	default:
		return fmt.Errorf("unknown command: %s\n%s", cmd, usage)
	}
	return nil
}

// parseItems reads MEAL=QTY pairs.
func parseItems(args []string) ([]core.RequirementInput, error) {
	items := make([]core.RequirementInput, 0, len(args))
	for _, a := range args {
		meal, qty, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("item %q must be MEAL=QTY", a)
		}
		n, err := strconv.Atoi(qty)
		if err != nil {
			return nil, fmt.Errorf("item %q: quantity is not a number", a)
		}
		items = append(items, core.RequirementInput{MealCode: meal, QtyNeeded: n})
	}
	return items, nil
}

func printSeal(out io.Writer, res *core.SealResult) {
	fmt.Fprintln(out, strings.Repeat("=", 48))
	fmt.Fprintf(out, "  RACK %s SEALED  %s\n", res.RackID, res.SealedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(out, strings.Repeat("=", 48))
	for _, mc := range res.MealCounts {
		fmt.Fprintf(out, "  %-30s %15d\n", mc.MealCode, mc.Qty)
	}
	fmt.Fprintln(out, strings.Repeat("-", 48))
	fmt.Fprintf(out, "  %-30s %15d\n", "TOTAL", res.TotalUnits)
	printBatches(out, batchesFromSeal(res))
	if res.Token != "" {
		fmt.Fprintf(out, "  token: %s\n", res.Token)
	}
	if res.LabelError != "" {
		fmt.Fprintf(out, "  WARNING: %s\n", res.LabelError)
	}
}

func batchesFromSeal(res *core.SealResult) []core.InventoryBatch {
	out := make([]core.InventoryBatch, len(res.Batches))
	for i, b := range res.Batches {
		out[i] = core.InventoryBatch{ID: b.BatchID, MealCode: b.MealCode, BatchDate: b.BatchDate, QtyTotal: b.Qty, QtyAvailable: b.Qty}
	}
	return out
}

func printBatches(out io.Writer, batches []core.InventoryBatch) {
	if len(batches) == 0 {
		return
	}
	fmt.Fprintf(out, "  %-6s %-8s %-12s %8s %8s\n", "BATCH", "MEAL", "DATE", "AVAIL", "TOTAL")
	for _, b := range batches {
		fmt.Fprintf(out, "  %-6d %-8s %-12s %8d %8d\n", b.ID, b.MealCode, b.BatchDate, b.QtyAvailable, b.QtyTotal)
	}
}

func printRequirements(out io.Writer, res *app.RequirementsResult) {
	fmt.Fprintf(out, "Requirements for %s\n", res.Day)
	fmt.Fprintf(out, "  %-36s %-8s %6s %6s %6s %7s\n", "ID", "MEAL", "NEED", "ALLOC", "OPEN", "FILL")
	for _, r := range res.Requirements {
		flag := ""
		if r.HasOverride {
			flag = " *"
		}
		fmt.Fprintf(out, "  %-36s %-8s %6d %6d %6d %7s%s\n",
			r.ID, r.MealCode, r.QtyNeeded, r.Allocated, r.Outstanding, r.FillRatio.StringFixed(2), flag)
	}
}

func printSummary(out io.Writer, s *core.InventorySummary) {
	fmt.Fprintln(out, strings.Repeat("=", 48))
	fmt.Fprintf(out, "  %-20s %12s %12s\n", "MEAL", "AVAILABLE", "TOTAL")
	fmt.Fprintln(out, strings.Repeat("-", 48))
	for _, m := range s.ByMeal {
		fmt.Fprintf(out, "  %-20s %12d %12d\n", m.MealCode, m.QtyAvailable, m.QtyTotal)
	}
	fmt.Fprintln(out, strings.Repeat("=", 48))
	printBatches(out, s.ByBatch)
}
