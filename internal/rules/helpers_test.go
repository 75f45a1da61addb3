package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgallion1/drawcheck/internal/geom"
	"github.com/dgallion1/drawcheck/internal/layout"
)

const (
	a4W = 595.0
	a4H = 842.0
)

func span(page int, text string, x0, y0, x1, y1 float64) layout.Span {
	return layout.Span{Text: text, BBox: geom.Rect(x0, y0, x1, y1), FontSize: 10, Page: page}
}

func rotated(page int, text string, angle float64, x0, y0, x1, y1 float64) layout.Span {
	s := span(page, text, x0, y0, x1, y1)
	s.Rotation = angle
	return s
}

func docOf(pages ...[]layout.Span) *layout.Document {
	doc := &layout.Document{}
	for i, spans := range pages {
		doc.Pages = append(doc.Pages, layout.Page{Number: i + 1, Width: a4W, Height: a4H, Spans: spans})
	}
	return doc
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := DefaultRulesCatalog()
	require.NoError(t, err)
	return cat
}

// runRule evaluates one rule over every page of doc.
func runRule(t *testing.T, cat *Catalog, e Evaluator, doc *layout.Document) []Violation {
	t.Helper()
	facts := BuildFacts(doc, cat)
	var out []Violation
	for i := range doc.Pages {
		vs, err := e.Evaluate(context.Background(), &PageContext{Doc: doc, Page: &doc.Pages[i], Facts: facts})
		require.NoError(t, err)
		out = append(out, vs...)
	}
	return out
}

func ofKind(vs []Violation, k Kind) []Violation {
	var out []Violation
	for _, v := range vs {
		if v.Kind == k {
			out = append(out, v)
		}
	}
	return out
}
