package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"

	"rackrunner/internal/metrics"
	"rackrunner/internal/qr"
)

// TokenSigner produces the signed compact token printed on a rack label.
type TokenSigner interface {
	Sign(fields ...qr.Field) string
}

// LabelRenderer renders a printable rack label (PDF bytes).
type LabelRenderer interface {
	Render(ctx context.Context, label RackLabel) ([]byte, error)
}

// LabelArchive stores rendered labels. Get must return an error matching fs.ErrNotExist for missing keys.
type LabelArchive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// LabelPipeline bundles the post-seal collaborators. Any of them may be nil.
type LabelPipeline struct {
	Signer   TokenSigner
	Renderer LabelRenderer
	Archive  LabelArchive
}

// LabelKey is the archive key for a rack's most recent label.
func LabelKey(rackID string) string {
	return "labels/" + rackID + ".pdf"
}

// RackToken signs the T=RR rack token that re-opens the rack when scanned.
func RackToken(signer TokenSigner, rackID string) string {
	return signer.Sign(qr.Field{Key: "T", Value: qr.TypeRack}, qr.Field{Key: "ID", Value: rackID})
}

// produce runs after the seal transaction has committed. Failures are recorded on res
// and logged; the seal is never undone.
func (p *LabelPipeline) produce(ctx context.Context, res *SealResult) {
	if p == nil {
		return
	}
	label := RackLabel{
		RackID:     res.RackID,
		SealedAt:   res.SealedAt,
		TotalUnits: res.TotalUnits,
		MealCounts: res.MealCounts,
	}
	if p.Signer != nil {
		res.Token = RackToken(p.Signer, res.RackID)
		label.Token = res.Token
	}
	if p.Renderer == nil {
		return
	}
	pdf, err := p.Renderer.Render(ctx, label)
	if err != nil {
		labelFailed(res, "render", err)
		return
	}
	res.Label = pdf
	if p.Archive == nil {
		return
	}
	key := LabelKey(res.RackID)
	if err := p.Archive.Put(ctx, key, pdf, "application/pdf"); err != nil {
		labelFailed(res, "archive", err)
		return
	}
	res.LabelKey = key
}

func labelFailed(res *SealResult, stage string, err error) {
	metrics.LabelFailures.WithLabelValues(stage).Inc()
	log.Printf("[LABEL] rack %s sealed but label %s failed: %v", res.RackID, stage, err)
	res.LabelError = fmt.Sprintf("label %s failed: %v", stage, err)
}

// latest fetches the archived label for a rack.
func (p *LabelPipeline) latest(ctx context.Context, rackID string) ([]byte, error) {
	if p == nil || p.Archive == nil {
		return nil, &NotFoundError{Entity: "label for rack", ID: rackID}
	}
	data, err := p.Archive.Get(ctx, LabelKey(rackID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Entity: "label for rack", ID: rackID}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "fetch label", Err: err}
	}
	return data, nil
}
