package layout

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/dgallion1/drawcheck/internal/geom"
)

// extractPdftotext runs `pdftotext -bbox-layout` and reads its XHTML output.
// pdftotext reports lines in top-left coordinates but no baseline angle, so a
// multi-character line taller than it is wide is taken as rotated by 90°.
func extractPdftotext(ctx context.Context, data []byte) (*Document, error) {
	tmp, err := os.CreateTemp("", "drawcheck-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, "pdftotext", "-bbox-layout", tmpPath, "-")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	return parseBBoxLayout(bytes.NewReader(out))
}

// parseBBoxLayout reads <page>/<line>/<word> elements of pdftotext's bbox output.
func parseBBoxLayout(r io.Reader) (*Document, error) {
	z := html.NewTokenizer(r)
	doc := &Document{}
	var page *Page
	var line *Span
	var inWord bool
	var words []string

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				if page != nil {
					finishPage(doc, page)
				}
				return doc, nil
			}
			return nil, fmt.Errorf("parse bbox layout: %w", z.Err())

		case html.StartTagToken:
			name, hasAttr := z.TagName()
			attrs := map[string]string{}
			if hasAttr {
				attrs = tokenAttrs(z)
			}
			switch string(name) {
			case "page":
				if page != nil {
					finishPage(doc, page)
				}
				page = &Page{
					Number: len(doc.Pages) + 1,
					Width:  attrFloat(attrs, "width"),
					Height: attrFloat(attrs, "height"),
				}
			case "line":
				line = &Span{BBox: attrBox(attrs)}
				words = words[:0]
			case "word":
				inWord = true
			}

		case html.TextToken:
			if inWord {
				words = append(words, strings.TrimSpace(string(z.Text())))
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "word":
				inWord = false
			case "line":
				if line != nil && page != nil {
					line.Text = strings.TrimSpace(strings.Join(words, " "))
					line.Page = page.Number
					line.FontSize = lineFontSize(line.BBox)
					if line.BBox.Height() > 1.5*line.BBox.Width() && len([]rune(line.Text)) > 1 {
						line.Rotation = 90
					}
					if line.Text != "" {
						page.Spans = append(page.Spans, *line)
					}
				}
				line = nil
			}
		}
	}
}

func finishPage(doc *Document, page *Page) {
	if page.Width <= 0 || page.Height <= 0 {
		page.Width, page.Height = defaultPageW, defaultPageH
	}
	sortSpans(page.Spans)
	doc.Pages = append(doc.Pages, *page)
}

func lineFontSize(b geom.BBox) float64 {
	h := b.Height()
	if b.Width() < h {
		h = b.Width()
	}
	return h
}

func tokenAttrs(z *html.Tokenizer) map[string]string {
	attrs := map[string]string{}
	for {
		k, v, more := z.TagAttr()
		if len(k) > 0 {
			attrs[string(k)] = string(v)
		}
		if !more {
			return attrs
		}
	}
}

func attrFloat(attrs map[string]string, key string) float64 {
	f, err := strconv.ParseFloat(attrs[key], 64)
	if err != nil {
		return 0
	}
	return f
}

func attrBox(attrs map[string]string) geom.BBox {
	return geom.Rect(
		attrFloat(attrs, "xmin"), attrFloat(attrs, "ymin"),
		attrFloat(attrs, "xmax"), attrFloat(attrs, "ymax"),
	)
}
