package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"rackrunner/internal/qr"
)

// TokenParser verifies a signed QR token and returns its fields.
type TokenParser interface {
	Parse(token string) (map[string]string, error)
}

// TokenScanResult reports what a scanned QR token did.
// Exactly one of Rack or Scan is set.
type TokenScanResult struct {
	Type string      `json:"type"`
	Rack *Rack       `json:"rack,omitempty"`
	Scan *ScanResult `json:"scan,omitempty"`
}

// TokenScanner dispatches hand-held scanner input: a rack label opens that rack,
// a meal pack or case label is scanned into the caller's active rack.
type TokenScanner struct {
	Racks  RackService
	Parser TokenParser
}

// Scan verifies token and dispatches on its T field. Signature failures are returned
// as qr.ErrInvalidSignature unchanged.
func (s *TokenScanner) Scan(ctx context.Context, activeRackID, userID, token string) (*TokenScanResult, error) {
	kv, err := s.Parser.Parse(token)
	if err != nil {
		return nil, err
	}

	switch t := kv["T"]; t {
	case qr.TypeRack:
		id := strings.TrimSpace(kv["ID"])
		if id == "" {
			return nil, invalid("token", "rack label has no ID")
		}
		rack, err := s.Racks.Open(ctx, id, userID, nil)
		if err != nil {
			return nil, err
		}
		return &TokenScanResult{Type: t, Rack: rack}, nil

	case qr.TypeMealItem, qr.TypeMealBatch:
		if strings.TrimSpace(activeRackID) == "" {
			return nil, invalid("rack_id", "no active rack; scan a rack label first")
		}
		qty := 1
		if t == qr.TypeMealBatch && kv["Q"] != "" {
			n, err := strconv.Atoi(kv["Q"])
			if err != nil || n <= 0 {
				return nil, invalid("token", fmt.Sprintf("bad case quantity %q", kv["Q"]))
			}
			qty = n
		}
		res, err := s.Racks.Scan(ctx, ScanInput{
			RackID:    activeRackID,
			UserID:    userID,
			MealCode:  kv["MEAL"],
			BatchDate: kv["BD"],
			Serial:    kv["SER"],
			Quantity:  qty,
		})
		if err != nil {
			return nil, err
		}
		return &TokenScanResult{Type: t, Scan: res}, nil

	default:
		return nil, invalid("token", fmt.Sprintf("unknown token type %q", t))
	}
}
