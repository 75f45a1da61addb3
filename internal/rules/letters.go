package rules

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/drawcheck/internal/geom"
	"github.com/dgallion1/drawcheck/internal/layout"
)

const RuleLetters = "1.1.3"

const noteLetterClass = `A-Za-zА-Яа-яЁё`

var (
	reNoteRemainder = regexp.MustCompile(`^\s*\d+\s*[.)-]?\s*(.*)$`)
	reSurface       = regexp.MustCompile(`(?i)поверхн(?:ость|ности|.)?\.?\s*([` + noteLetterClass + `,\s]+?)(?:\s+(?:не\s+|покр|штамп|шлиф|окраш|лакир|фосф|грунт|и\s+т\.д\.|и\s+др\.|и\s+т\.п\.|[,;.]\s*|$))`)
	reSurfaceAlt    = regexp.MustCompile(`(?i)поверхн(?:ость|ности|.)?\.?\s+([` + noteLetterClass + `]+(?:\s*,\s*[` + noteLetterClass + `]+)*)`)
	reNamedList     = regexp.MustCompile(`(?i)(?:Размеры|Поверхности|Обозначения|Обозначение)\s+([` + noteLetterClass + `]+(?:\s*,\s*[` + noteLetterClass + `]+)*)`)
	reLetterList    = regexp.MustCompile(`(?i)(?:^|[^\p{L}])([` + noteLetterClass + `])\s*,\s*([` + noteLetterClass + `](?:\s*,\s*[` + noteLetterClass + `])*)\s+(?:в|на|по)\s+\p{L}`)
	reListSplit     = regexp.MustCompile(`[,\s]+`)

	reRoughness      = regexp.MustCompile(`(?i)^(?:Ra|Rz|Rt)(?:$|[^\p{L}\p{N}_])`)
	reTrailingLetter = regexp.MustCompile(`\s([` + noteLetterClass + `])$`)
	reCallout        = regexp.MustCompile(`(?i)^No\s+\d+`)
)

// NoteLetters extracts the surface/dimension letters a requirement note refers to.
func NoteLetters(text string) []string {
	m := reNoteRemainder.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	rest := m[1]

	var out []string
	seen := map[string]bool{}
	add := func(list string) {
		for _, el := range reListSplit.Split(strings.TrimSpace(list), -1) {
			if utf8.RuneCountInString(el) != 1 {
				continue
			}
			l := ToCyrUpper(el)
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}

	if sm := reSurface.FindStringSubmatch(rest + " "); sm != nil {
		add(sm[1])
	} else if am := reSurfaceAlt.FindStringSubmatch(rest); am != nil {
		add(am[1])
	}
	for _, nm := range reNamedList.FindAllStringSubmatch(rest, -1) {
		add(nm[1])
	}
	for _, lm := range reLetterList.FindAllStringSubmatch(rest, -1) {
		add(lm[1] + "," + lm[2])
	}
	return out
}

type fieldLetter struct {
	Letter string
	BBox   geom.BBox
}

// fieldLetters finds letters standing alone on the drawing field or trailing a
// dimension, skipping roughness marks, section cuts, callout labels and the
// title block.
func fieldLetters(p *layout.Page, r *PageRegions, cat *Catalog) []fieldLetter {
	_, field := SplitNotes(p.Spans)
	dist := cat.Letters.CalloutDistancePt
	if dist <= 0 {
		dist = 50
	}
	var out []fieldLetter
	for _, s := range field {
		text := strings.TrimSpace(s.Text)
		if text == "" || reRoughness.MatchString(text) || IsSectionDesignation(text) || HasSectionCut(text) {
			continue
		}
		if r.TitleMethod == "keywords" && r.TitleBlock.Contains(s.BBox) {
			continue
		}

		var letter string
		box := s.BBox
		if tok := trimPunct(text); utf8.RuneCountInString(tok) == 1 {
			rr, _ := utf8.DecodeRuneInString(tok)
			if !isCyrillicLetter(rr) {
				continue
			}
			letter = ToCyrUpper(tok)
		} else if m := reTrailingLetter.FindStringSubmatch(text); m != nil {
			letter = ToCyrUpper(m[1])
			box = lastGlyphBox(s)
		} else {
			continue
		}
		if nearCallout(r.Callouts, s.BBox, dist) {
			continue
		}
		out = append(out, fieldLetter{Letter: letter, BBox: box})
	}
	return out
}

// lastGlyphBox approximates the box of a horizontal span's final character.
func lastGlyphBox(s layout.Span) geom.BBox {
	n := utf8.RuneCountInString(s.Text)
	if n == 0 || s.Rotation != 0 {
		return s.BBox
	}
	w := s.BBox.Width() / float64(n)
	return geom.Rect(s.BBox.X1-w, s.BBox.Y0, s.BBox.X1, s.BBox.Y1)
}

func nearCallout(callouts []geom.BBox, b geom.BBox, dist float64) bool {
	cx, cy := b.Center()
	for _, c := range callouts {
		ax, ay := c.Center()
		if math.Hypot(cx-ax, cy-ay) <= dist {
			return true
		}
	}
	return false
}

// Letters cross-checks surface letters between requirement notes and the field.
type Letters struct {
	cat *Catalog
}

func NewLetters(cat *Catalog) *Letters { return &Letters{cat: cat} }

func (e *Letters) ID() string { return RuleLetters }

func (e *Letters) Evaluate(_ context.Context, pc *PageContext) ([]Violation, error) {
	var out []Violation
	region := pc.Facts.Region(pc.Page.Number)
	seen := map[geom.BBox]bool{}
	for _, fl := range fieldLetters(pc.Page, region, e.cat) {
		if pc.Facts.NoteLetters[fl.Letter] || pc.Facts.SectionLetters[fl.Letter] {
			continue
		}
		if pc.Facts.InTable(pc.Page.Number, fl.BBox) || seen[fl.BBox] {
			continue
		}
		seen[fl.BBox] = true
		out = append(out, boxed(pc.Page.Number, fl.BBox, RuleLetters,
			fmt.Sprintf("Буква «%s» присутствует на поле, но в ТТ не используется", fl.Letter),
			LetterDetail{Letter: fl.Letter}))
	}

	if pc.Page.Number == pc.Facts.NotesPage {
		var missing []string
		for _, l := range sortedKeys(pc.Facts.NoteLetters) {
			if !pc.Facts.FieldLetters[l] {
				missing = append(missing, l)
			}
		}
		if len(missing) > 0 {
			out = append(out, info(pc.Page.Number, RuleLetters,
				fmt.Sprintf("в ТТ есть буквы «%s», на поле не найдены (обводка не ставится).", strings.Join(missing, ", ")),
				LetterDetail{Missing: missing}))
		}
	}
	return out, nil
}
