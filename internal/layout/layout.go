// Package layout turns PDF pages into positioned text spans.
package layout

import (
	"errors"
	"strings"

	"github.com/dgallion1/drawcheck/internal/geom"
)

// ErrEmptyDocument is returned when a PDF has no pages at all.
var ErrEmptyDocument = errors.New("document has no pages")

// Span is one visual line (or one rotated run) of text on a page.
// BBox uses a top-left origin in points. Rotation is the baseline direction in
// degrees, counter-clockwise, measured in the unrotated page space.
type Span struct {
	Text     string    `json:"text"`
	BBox     geom.BBox `json:"bbox"`
	FontSize float64   `json:"font_size"`
	Rotation float64   `json:"rotation"`
	Page     int       `json:"page"`
}

// Page holds the spans of one page sorted by (top, left).
type Page struct {
	Number int     `json:"number"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	// Rotate is the page /Rotate entry in degrees (0, 90, 180, 270).
	Rotate int    `json:"rotate"`
	Spans  []Span `json:"spans"`
}

// Bounds is the page rectangle.
func (p *Page) Bounds() geom.BBox {
	return geom.Rect(0, 0, p.Width, p.Height)
}

// Document is the extracted layout of a whole PDF.
type Document struct {
	Pages []Page `json:"pages"`
}

// Page returns the 1-based page n, or nil.
func (d *Document) Page(n int) *Page {
	if n < 1 || n > len(d.Pages) {
		return nil
	}
	return &d.Pages[n-1]
}

// SpanCount is the number of spans over all pages.
func (d *Document) SpanCount() int {
	n := 0
	for i := range d.Pages {
		n += len(d.Pages[i].Spans)
	}
	return n
}

// PlainText joins every span, one per line, pages separated by form feed.
func (d *Document) PlainText() string {
	var b strings.Builder
	for i := range d.Pages {
		if i > 0 {
			b.WriteString("\f")
		}
		for _, s := range d.Pages[i].Spans {
			b.WriteString(s.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
