package layout

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	pdflib "github.com/ledongthuc/pdf"
)

const (
	DefaultLineTolerance = 3.0
	DefaultMaxGapEm      = 2.0

	// A4 portrait, used when a page carries no MediaBox.
	defaultPageW = 595.28
	defaultPageH = 841.89
)

// Extractor reads PDF bytes into a Document. It uses the Go PDF library first
// and falls back to pdftotext -bbox-layout if that fails and the fallback is enabled.
type Extractor struct {
	LineTolerance     float64
	MaxGapEm          float64
	FallbackPdftotext bool
	Log               *slog.Logger
}

// NewExtractor returns an extractor with default tolerances.
func NewExtractor(log *slog.Logger, fallback bool) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		LineTolerance:     DefaultLineTolerance,
		MaxGapEm:          DefaultMaxGapEm,
		FallbackPdftotext: fallback,
		Log:               log,
	}
}

// Extract parses every page. A page without text yields an empty span list;
// a document that cannot be opened or has no pages is an error.
func (e *Extractor) Extract(ctx context.Context, data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	doc, err := e.extractNative(data)
	if err != nil && e.FallbackPdftotext {
		e.Log.Warn("pdf library failed, trying pdftotext", "error", err)
		doc, err = extractPdftotext(ctx, data)
	}
	if err != nil {
		return nil, fmt.Errorf("extract layout: %w", err)
	}
	if len(doc.Pages) == 0 {
		return nil, ErrEmptyDocument
	}
	return doc, nil
}

func (e *Extractor) extractNative(data []byte) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	n := reader.NumPage()
	if n == 0 {
		return nil, ErrEmptyDocument
	}
	doc = &Document{Pages: make([]Page, 0, n)}
	for i := 1; i <= n; i++ {
		p := reader.Page(i)
		page := Page{Number: i, Width: defaultPageW, Height: defaultPageH}
		if p.V.IsNull() {
			doc.Pages = append(doc.Pages, page)
			continue
		}
		x0, y0, x1, y1 := mediaBox(p.V)
		page.Width, page.Height = x1-x0, y1-y0
		page.Rotate = pageRotate(p.V)

		glyphs, err := pageGlyphs(p, x0, y0)
		if err != nil {
			// The library panics on malformed content streams; keep the page, drop its text.
			e.Log.Warn("page content unreadable", "page", i, "error", err)
		}
		page.Spans = groupLines(buildRuns(glyphs), i, page.Height, e.LineTolerance, e.MaxGapEm)
		doc.Pages = append(doc.Pages, page)
	}
	return doc, nil
}

func pageGlyphs(p pdflib.Page, ox, oy float64) (gs []glyph, err error) {
	defer func() {
		if r := recover(); r != nil {
			gs, err = nil, fmt.Errorf("content: %v", r)
		}
	}()
	content := p.Content()
	gs = make([]glyph, 0, len(content.Text))
	for _, t := range content.Text {
		gs = append(gs, glyph{
			x:    t.X - ox,
			y:    t.Y - oy,
			w:    t.W,
			size: t.FontSize,
			font: t.Font,
			s:    t.S,
		})
	}
	return gs, nil
}

// mediaBox walks the page tree upwards since MediaBox is inheritable.
func mediaBox(v pdflib.Value) (x0, y0, x1, y1 float64) {
	for node := v; !node.IsNull(); node = node.Key("Parent") {
		mb := node.Key("MediaBox")
		if mb.Kind() == pdflib.Array && mb.Len() == 4 {
			x0, y0 = mb.Index(0).Float64(), mb.Index(1).Float64()
			x1, y1 = mb.Index(2).Float64(), mb.Index(3).Float64()
			if x1 < x0 {
				x0, x1 = x1, x0
			}
			if y1 < y0 {
				y0, y1 = y1, y0
			}
			if x1-x0 > 0 && y1-y0 > 0 {
				return x0, y0, x1, y1
			}
		}
	}
	return 0, 0, defaultPageW, defaultPageH
}

func pageRotate(v pdflib.Value) int {
	for node := v; !node.IsNull(); node = node.Key("Parent") {
		r := node.Key("Rotate")
		if r.Kind() == pdflib.Integer || r.Kind() == pdflib.Real {
			deg := int(r.Float64()) % 360
			if deg < 0 {
				deg += 360
			}
			return deg
		}
	}
	return 0
}
