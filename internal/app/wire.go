package app

import (
	"context"
	"fmt"

	"rackrunner/internal/blob"
	"rackrunner/internal/config"
	"rackrunner/internal/core"
	"rackrunner/internal/label"
	"rackrunner/internal/qr"
	"rackrunner/internal/store"
)

// Build opens the configured ledger and label archive and wires the core services
// behind an ApplicationService. The returned func releases the ledger.
func Build(ctx context.Context, cfg *config.Config) (ApplicationService, func(), error) {
	ledger, closeLedger, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	archive, err := blob.Open(ctx, cfg.Labels)
	if err != nil {
		closeLedger()
		return nil, nil, fmt.Errorf("failed to open label store: %w", err)
	}

	codec := qr.NewCodec(cfg.QRSecret)
	racks := core.NewRackService(ledger, cfg.RackCapacity, &core.LabelPipeline{
		Signer:   codec,
		Renderer: label.NewRenderer(nil),
		Archive:  archive,
	})
	svc := NewAppService(
		racks,
		core.NewAllocationService(ledger),
		core.NewPlannerService(ledger, cfg.AuditLimit),
		&core.TokenScanner{Racks: racks, Parser: codec},
	)
	return svc, closeLedger, nil
}
