package rules

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/dgallion1/drawcheck/internal/geom"
	"github.com/dgallion1/drawcheck/internal/layout"
)

const RuleBases = "1.1.8"

var (
	reBaseToken  = regexp.MustCompile(`^[A-Za-zА-Яа-яЁё]{1,2}$`)
	reTolDecimal = regexp.MustCompile(`(?:^|[^\p{N}])\d{1,2}[.,]\d{1,3}(?:$|[^\p{N}])`)
	reFrameTail  = regexp.MustCompile(`(?:^|[^\p{N}])\d{1,2}[.,]\d{1,3}\s+([А-Я]{1,2})\s*$`)
)

func isBaseToken(text string) bool {
	return reBaseToken.MatchString(trimPunct(text))
}

func frameLetters(s string) []string {
	var out []string
	for _, r := range s {
		if r >= 'А' && r <= 'Я' {
			out = append(out, string(r))
		}
	}
	return out
}

type frameRef struct {
	Letter string
	Text   string
	BBox   geom.BBox
}

// Bases flags datum letters used in tolerance frames but never declared as a base.
type Bases struct {
	cat *Catalog
}

func NewBases(cat *Catalog) *Bases { return &Bases{cat: cat} }

func (e *Bases) ID() string { return RuleBases }

func (e *Bases) Evaluate(_ context.Context, pc *PageContext) ([]Violation, error) {
	horiz := geom.MM(e.cat.Bases.RightWindowMM)
	vert := geom.MM(e.cat.Bases.VerticalWindowMM)

	var spans []layout.Span
	for _, s := range pc.Page.Spans {
		if !pc.Facts.IsTitleSpan(s) {
			spans = append(spans, s)
		}
	}

	var tolerances, tokens []int
	for i, s := range spans {
		txt := ToCyrUpper(strings.TrimSpace(s.Text))
		if reTolDecimal.MatchString(txt) {
			tolerances = append(tolerances, i)
		}
		if isBaseToken(s.Text) {
			tokens = append(tokens, i)
		}
	}

	var frames []frameRef
	for _, i := range tolerances {
		s := spans[i]
		txt := ToCyrUpper(strings.TrimSpace(s.Text))
		if m := reFrameTail.FindStringSubmatch(txt); m != nil {
			for _, l := range frameLetters(m[1]) {
				frames = append(frames, frameRef{Letter: l, Text: CollapseSpaces(s.Text), BBox: s.BBox})
			}
		}
		for _, j := range tokens {
			b := spans[j]
			if b.BBox.X0 < s.BBox.X1 || b.BBox.X0-s.BBox.X1 > horiz {
				continue
			}
			if math.Abs(b.BBox.CenterY()-s.BBox.CenterY()) > vert {
				continue
			}
			frameText := CollapseSpaces(s.Text + " " + b.Text)
			for _, l := range frameLetters(ToCyrUpper(trimPunct(b.Text))) {
				frames = append(frames, frameRef{Letter: l, Text: frameText, BBox: s.BBox.Union(b.BBox)})
			}
		}
	}

	// Every standalone letter token declares a base, including the ones
	// read as a frame's datum next to a tolerance value.
	declared := map[string]bool{}
	for _, j := range tokens {
		for _, l := range frameLetters(ToCyrUpper(trimPunct(spans[j].Text))) {
			declared[l] = true
		}
	}

	var out []Violation
	seen := map[string]bool{}
	for _, f := range frames {
		key := f.Letter + "|" + f.Text
		if declared[f.Letter] || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, boxed(pc.Page.Number, f.BBox, RuleBases,
			fmt.Sprintf("База «%s» отсутствует, но используется в рамке «%s»", f.Letter, f.Text),
			BaseDetail{Letter: f.Letter, Frame: f.Text}))
	}
	return out, nil
}
