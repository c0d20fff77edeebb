package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// recordAudit appends an audit entry on the caller's transaction, so the entry
// commits or rolls back together with the action it describes.
func recordAudit(ctx context.Context, tx LedgerTx, action, actor string, payload any, at time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload for %s: %w", action, err)
	}
	if err := tx.RecordAudit(ctx, AuditEntry{Action: action, Actor: actor, Payload: raw, At: at}); err != nil {
		return fmt.Errorf("failed to record audit %s: %w", action, err)
	}
	return nil
}
