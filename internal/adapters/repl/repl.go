package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"rackrunner/internal/app"
)

var errExit = errors.New("exit")

// station is the state of one scan station session: who is scanning and into which rack.
type station struct {
	svc      app.ApplicationService
	operator string
	reader   *bufio.Reader
	out      io.Writer
	active   string
}

// Run starts a scan station loop. Hand-held scanners type a QR token followed by
// Enter: a rack label makes that rack active, meal labels go into the active rack.
// Lines starting with "/" are station commands. Returns when in is exhausted or on /exit.
func Run(ctx context.Context, svc app.ApplicationService, operator string, in io.Reader, out io.Writer) error {
	s := &station{svc: svc, operator: operator, reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "Rack scan station")
	fmt.Fprintln(out, "Scan a rack label to start, then scan meal labels. /help for commands.")
	fmt.Fprintln(out, strings.Repeat("-", 70))

	for {
		s.prompt()
		line, err := s.reader.ReadString('\n')
		input := strings.TrimSpace(line)
		if input != "" {
			if derr := s.dispatch(ctx, input); derr != nil {
				if errors.Is(derr, errExit) {
					fmt.Fprintln(out, "Goodbye!")
					return nil
				}
				fmt.Fprintf(out, "Error: %v\n", derr)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
	}
}

func (s *station) prompt() {
	if s.active == "" {
		fmt.Fprint(s.out, "\n[no rack] > ")
		return
	}
	fmt.Fprintf(s.out, "\n[%s] > ", s.active)
}

func (s *station) dispatch(ctx context.Context, input string) error {
	if !strings.HasPrefix(input, "/") {
		return s.scanToken(ctx, input)
	}

	tokens := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(tokens) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(tokens[0]), tokens[1:]

	switch cmd {
	case "open", "o":
		if len(args) < 1 {
			fmt.Fprintln(s.out, "Usage: /open <rack>")
			return nil
		}
		res, err := s.svc.OpenRack(ctx, app.OpenRackRequest{RackID: args[0], UserID: s.operator})
		if err != nil {
			return err
		}
		s.active = res.Rack.ID
		fmt.Fprintf(s.out, "Rack %s OPEN (capacity %d)\n", res.Rack.ID, res.Rack.Capacity)

	case "rack", "r":
		if s.active == "" {
			fmt.Fprintln(s.out, "No active rack.")
			return nil
		}
		view, err := s.svc.GetRack(ctx, s.active)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Rack %s  %s  %d/%d scanned\n", view.Rack.ID, view.Rack.Status, view.PendingItems, view.Rack.Capacity)

	case "close", "seal":
		if s.active == "" {
			fmt.Fprintln(s.out, "No active rack.")
			return nil
		}
		fmt.Fprintf(s.out, "Seal rack %s? (y/n): ", s.active)
		choice, _ := s.reader.ReadString('\n')
		choice = strings.TrimSpace(strings.ToLower(choice))
		if choice != "y" && choice != "yes" {
			fmt.Fprintln(s.out, "Cancelled.")
			return nil
		}
		res, err := s.svc.CloseRack(ctx, app.CloseRackRequest{RackID: s.active, UserID: s.operator})
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Rack %s SEALED: %d units in %d batch(es).\n", res.RackID, res.TotalUnits, len(res.Batches))
		for _, mc := range res.MealCounts {
			fmt.Fprintf(s.out, "  %-20s %6d\n", mc.MealCode, mc.Qty)
		}
		if res.LabelError != "" {
			fmt.Fprintf(s.out, "WARNING: %s\n", res.LabelError)
		}
		s.active = ""

	case "summary", "inv":
		sum, err := s.svc.InventorySummary(ctx)
		if err != nil {
			return err
		}
		for _, m := range sum.ByMeal {
			fmt.Fprintf(s.out, "  %-20s %6d / %6d\n", m.MealCode, m.QtyAvailable, m.QtyTotal)
		}

	case "help", "h":
		fmt.Fprintln(s.out, "  <token>         scan a QR token")
		fmt.Fprintln(s.out, "  /open <rack>    open a rack by id and make it active")
		fmt.Fprintln(s.out, "  /rack           show the active rack")
		fmt.Fprintln(s.out, "  /close          seal the active rack")
		fmt.Fprintln(s.out, "  /summary        inventory per meal")
		fmt.Fprintln(s.out, "  /exit           leave the station")

	case "exit", "quit", "e", "q":
		return errExit

	default:
		fmt.Fprintf(s.out, "Unknown command: /%s  (type /help for all commands)\n", cmd)
	}
	return nil
}

func (s *station) scanToken(ctx context.Context, token string) error {
	res, err := s.svc.ScanToken(ctx, app.ScanTokenRequest{ActiveRackID: s.active, UserID: s.operator, Token: token})
	if err != nil {
		return err
	}
	switch {
	case res.Rack != nil:
		s.active = res.Rack.ID
		fmt.Fprintf(s.out, "Rack %s OPEN\n", res.Rack.ID)
	case res.Scan != nil:
		fmt.Fprintf(s.out, "+%d %s (%s)\n", res.Scan.Count, res.Scan.MealCode, res.Scan.BatchDate)
	}
	return nil
}
