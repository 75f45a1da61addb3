package report

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dgallion1/drawcheck/internal/cluster"
	"github.com/dgallion1/drawcheck/internal/geom"
	"github.com/dgallion1/drawcheck/internal/layout"
	"github.com/dgallion1/drawcheck/internal/rules"
)

const (
	strokePt   = 3.0
	labelPt    = 12.0
	labelGapPt = 2.0
)

var markColor = color.RGBA{R: 0xff, A: 0xff}

// LabelFunc picks the text drawn next to a finding's box.
type LabelFunc func(cluster.Finding) string

// RegisterLabel is "No 3: n.1.1.3, 1.1.8".
func RegisterLabel(f cluster.Finding) string { return f.Label() }

// RuleLabel is the per-rule view label, "No 003: 1.1.3".
func RuleLabel(rule string) LabelFunc {
	return func(f cluster.Finding) string { return fmt.Sprintf("No %03d: %s", f.Number, rule) }
}

// ErrorLabel is the per-finding view label, "No 003: 1.1.3, 1.1.8".
func ErrorLabel(f cluster.Finding) string {
	return fmt.Sprintf("No %03d: %s", f.Number, strings.Join(f.Rules, ", "))
}

// PageImage is one annotated page.
type PageImage struct {
	Page int
	PNG  []byte
}

// Annotator draws findings on page rasters. Without a rasterizer, or when it
// fails, boxes are drawn on a blank page of the same geometry.
type Annotator struct {
	Raster rules.Rasterizer
	DPI    int
	Log    *slog.Logger
}

func NewAnnotator(raster rules.Rasterizer, dpi int, log *slog.Logger) *Annotator {
	if dpi <= 0 {
		dpi = 150
	}
	if log == nil {
		log = slog.Default()
	}
	return &Annotator{Raster: raster, DPI: dpi, Log: log}
}

// Page renders one page with its findings.
func (a *Annotator) Page(ctx context.Context, pdf []byte, page *layout.Page, findings []cluster.Finding, label LabelFunc) ([]byte, error) {
	img := a.base(ctx, pdf, page)
	Draw(img, page, a.DPI, findings, label)
	return EncodePNG(img)
}

// Pages renders every page of doc.
func (a *Annotator) Pages(ctx context.Context, pdf []byte, doc *layout.Document, findings []cluster.Finding, label LabelFunc) ([]PageImage, error) {
	out := make([]PageImage, 0, len(doc.Pages))
	for i := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := a.Page(ctx, pdf, &doc.Pages[i], findings, label)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", doc.Pages[i].Number, err)
		}
		out = append(out, PageImage{Page: doc.Pages[i].Number, PNG: data})
	}
	return out, nil
}

func (a *Annotator) base(ctx context.Context, pdf []byte, page *layout.Page) *image.RGBA {
	if a.Raster == nil || len(pdf) == 0 {
		return BlankPage(page, a.DPI)
	}
	data, err := a.Raster.Rasterize(ctx, pdf, page.Number, a.DPI)
	if err == nil {
		var img *image.RGBA
		if img, err = decodePNG(data); err == nil {
			return img
		}
	}
	a.Log.Warn("page raster unavailable, drawing on blank page", "page", page.Number, "error", err)
	return BlankPage(page, a.DPI)
}

// Draw paints the findings that belong to page onto img.
func Draw(img *image.RGBA, page *layout.Page, dpi int, findings []cluster.Finding, label LabelFunc) {
	if label == nil {
		label = RegisterLabel
	}
	k := float64(dpi) / 72
	px := func(v float64) int { return int(math.Round(v * k)) }
	stroke := max(1, px(strokePt))

	for _, f := range findings {
		if f.Page != page.Number {
			continue
		}
		b := toDisplay(f.BBox, page)
		r := image.Rect(px(b.X0), px(b.Y0), px(b.X1), px(b.Y1))
		strokeRect(img, r.Inset(-stroke/2), stroke)

		baseline := b.Y1 + labelPt + labelGapPt
		if b.Y0-labelPt >= 0 {
			baseline = b.Y0 - labelGapPt
		}
		drawLabel(img, px(b.X0), px(baseline), label(f), px(labelPt))
	}
}

// toDisplay maps a box from unrotated page space to the page as displayed
// after its /Rotate, which is how rasterizers render it.
func toDisplay(b geom.BBox, p *layout.Page) geom.BBox {
	w, h := p.Width, p.Height
	switch p.Rotate {
	case 90:
		return geom.Rect(h-b.Y0, b.X0, h-b.Y1, b.X1)
	case 180:
		return geom.Rect(w-b.X0, h-b.Y0, w-b.X1, h-b.Y1)
	case 270:
		return geom.Rect(b.Y0, w-b.X0, b.Y1, w-b.X1)
	}
	return b
}

func strokeRect(img *image.RGBA, r image.Rectangle, width int) {
	src := image.NewUniform(markColor)
	sides := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, s := range sides {
		draw.Draw(img, s.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel renders text with the 7x13 bitmap face and scales it so the
// glyph cell is height pixels tall, with its baseline at (x, baseline).
func drawLabel(img *image.RGBA, x, baseline int, text string, height int) {
	face := basicfont.Face7x13
	m := face.Metrics()
	cellH := m.Height.Ceil()
	ascent := m.Ascent.Ceil()
	w := font.MeasureString(face, text).Ceil()
	if w <= 0 || cellH <= 0 || height <= 0 {
		return
	}

	cell := image.NewRGBA(image.Rect(0, 0, w, cellH))
	d := font.Drawer{
		Dst:  cell,
		Src:  image.NewUniform(markColor),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	d.DrawString(text)

	scale := float64(height) / float64(cellH)
	top := baseline - int(math.Round(float64(ascent)*scale))
	dst := image.Rect(x, top, x+int(math.Round(float64(w)*scale)), top+height)
	draw.NearestNeighbor.Scale(img, dst, cell, cell.Bounds(), draw.Over, nil)
}

func decodePNG(data []byte) (*image.RGBA, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba, nil
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst, nil
}
