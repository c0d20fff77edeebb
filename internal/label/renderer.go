// Package label renders the printable PDF stuck on a sealed rack.
package label

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"rackrunner/internal/core"
	"rackrunner/internal/qr"
)

const (
	pageWidth  = 100.0 // mm
	pageHeight = 150.0
	margin     = 6.0
	qrPixels   = 256
	qrSide     = 50.0 // mm
)

// Renderer lays out one rack label per PDF page.
type Renderer struct {
	// Location used when printing the seal time; nil means UTC.
	Location *time.Location
	// Compress toggles PDF stream compression. Tests turn it off to inspect text.
	Compress bool
}

func NewRenderer(loc *time.Location) *Renderer {
	return &Renderer{Location: loc, Compress: true}
}

var _ core.LabelRenderer = (*Renderer)(nil)

func (r *Renderer) Render(ctx context.Context, label core.RackLabel) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if label.RackID == "" {
		return nil, fmt.Errorf("label needs a rack id")
	}
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: pageWidth, Ht: pageHeight},
	})
	pdf.SetCompression(r.Compress)
	pdf.SetCreationDate(label.SealedAt)
	pdf.SetModificationDate(label.SealedAt)
	pdf.SetTitle("Rack "+label.RackID, false)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	width := pageWidth - 2*margin

	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(width, 12, tr("RACK "+label.RackID), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	sealed := label.SealedAt.In(loc).Format("2006-01-02 15:04 MST")
	pdf.CellFormat(width, 6, "Sealed "+sealed, "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(width, 7, fmt.Sprintf("Total units: %d", label.TotalUnits), "B", 1, "L", false, 0, "")

	pdf.SetFont("Courier", "", 11)
	for _, mc := range label.MealCounts {
		pdf.CellFormat(width*0.7, 6, tr(mc.MealCode), "", 0, "L", false, 0, "")
		pdf.CellFormat(width*0.3, 6, fmt.Sprintf("%d", mc.Qty), "", 1, "R", false, 0, "")
	}

	if label.Token != "" {
		png, err := qr.PNG(label.Token, qrPixels)
		if err != nil {
			return nil, err
		}
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("token", opts, bytes.NewReader(png))
		y := pageHeight - margin - qrSide - 8
		pdf.ImageOptions("token", (pageWidth-qrSide)/2, y, qrSide, qrSide, false, opts, 0, "")
		pdf.SetXY(margin, y+qrSide+1)
		pdf.SetFont("Courier", "", 9)
		pdf.CellFormat(width, 5, tr(label.Token), "", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render label for rack %s: %w", label.RackID, err)
	}
	return buf.Bytes(), nil
}
