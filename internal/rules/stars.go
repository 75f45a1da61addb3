package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dgallion1/drawcheck/internal/layout"
)

const RuleStars = "1.1.4"

var (
	reStar = regexp.MustCompile(`\d+\s*(\*{1,3})|(?:^|[^\p{L}\p{N}_*])(\*{1,3})(?:$|[^\p{L}\p{N}_*])`)

	reStarNote1 = regexp.MustCompile(`^\s*\d+\s*[.)-]\s+`)
	reStarNote2 = regexp.MustCompile(`^\s*\d+\s*\*{1,3}\s+.+`)
	reStarNote3 = regexp.MustCompile(`^\s*\d+\s+.+`)
)

type starToken struct {
	Token    string
	Numbered bool // attached to a number, as in "20*"
}

func extractStars(text string) []starToken {
	var out []starToken
	for _, m := range reStar.FindAllStringSubmatch(text, -1) {
		switch {
		case m[1] != "":
			out = append(out, starToken{Token: m[1], Numbered: true})
		case m[2] != "":
			out = append(out, starToken{Token: m[2]})
		}
	}
	return out
}

// splitStarNotes uses the wider note test: "N.", "N)", "N-", "N** text" and "N text".
func splitStarNotes(spans []layout.Span) (notes, field []layout.Span) {
	for _, s := range spans {
		t := s.Text
		if reStarNote1.MatchString(t) || reStarNote2.MatchString(t) || reStarNote3.MatchString(t) {
			notes = append(notes, s)
		} else {
			field = append(field, s)
		}
	}
	return notes, field
}

// Stars cross-checks footnote stars between requirement notes and the field.
type Stars struct {
	cat *Catalog
}

func NewStars(cat *Catalog) *Stars { return &Stars{cat: cat} }

func (e *Stars) ID() string { return RuleStars }

func (e *Stars) Evaluate(_ context.Context, pc *PageContext) ([]Violation, error) {
	f := pc.Facts
	var out []Violation
	_, field := splitStarNotes(pc.Page.Spans)
	for _, s := range field {
		if f.InTable(pc.Page.Number, s.BBox) {
			continue
		}
		flagged := map[string]bool{}
		for _, tok := range extractStars(s.Text) {
			if f.NoteStars[tok.Token] || flagged[tok.Token] {
				continue
			}
			// "**" in the notes covers a stray "*" glyph and any "**" variant,
			// but not a numbered single-star element.
			if f.NotesHaveDoubleStar && ((!tok.Numbered && tok.Token == "*") || strings.HasSuffix(tok.Token, "**")) {
				continue
			}
			flagged[tok.Token] = true
			label := tok.Token
			if tok.Numbered {
				label = strings.TrimSpace(s.Text)
			}
			out = append(out, boxed(pc.Page.Number, s.BBox, RuleStars,
				fmt.Sprintf("На поле присутствует '%s', но в ТТ отсутствует", label),
				StarDetail{Token: tok.Token}))
		}
	}

	if pc.Page.Number == f.NotesPage {
		var missing []string
		for _, t := range sortedKeys(f.NoteStars) {
			if !f.FieldStars[t] {
				missing = append(missing, t)
			}
		}
		if len(missing) > 0 {
			out = append(out, info(pc.Page.Number, RuleStars,
				fmt.Sprintf("в ТТ есть [%s], на поле не найдено (обводка не ставится).", quoteList(missing)),
				StarDetail{Missing: missing}))
		}
	}
	return out, nil
}

func quoteList(items []string) string {
	q := make([]string, len(items))
	for i, s := range items {
		q[i] = "'" + s + "'"
	}
	return strings.Join(q, ", ")
}
