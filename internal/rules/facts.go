package rules

import (
	"math"
	"sort"
	"strings"

	"github.com/dgallion1/drawcheck/internal/geom"
	"github.com/dgallion1/drawcheck/internal/layout"
)

// TitleInfo is what page 1 says about the document itself.
type TitleInfo struct {
	Code        *layout.Span
	DocType     *layout.Span
	DocTypeName string
	Name        *layout.Span
}

// Column is a cluster of requirement lines sharing a left edge.
type Column struct {
	Lines []layout.Span
	BBox  geom.BBox
}

// PageRegions are the structural areas detected on one page.
type PageRegions struct {
	TitleBlock  geom.BBox
	TitleMethod string // keywords, bottom-right or bottom-strip
	Columns     []Column
	TableUnion  *geom.BBox
	Callouts    []geom.BBox
}

// Facts are computed once per document before any evaluator runs and never modified.
type Facts struct {
	Title   TitleInfo
	Regions map[int]*PageRegions

	NoteLetters    map[string]bool
	FieldLetters   map[string]bool
	SectionLetters map[string]bool

	NoteStars           map[string]bool
	FieldStars          map[string]bool
	NotesHaveDoubleStar bool

	// NotesPage is where document-level notices are reported.
	NotesPage int
}

// BuildFacts derives the shared document facts.
func BuildFacts(doc *layout.Document, cat *Catalog) *Facts {
	f := &Facts{
		Regions:        map[int]*PageRegions{},
		NoteLetters:    map[string]bool{},
		FieldLetters:   map[string]bool{},
		SectionLetters: map[string]bool{},
		NoteStars:      map[string]bool{},
		FieldStars:     map[string]bool{},
		NotesPage:      1,
	}
	if p := doc.Page(1); p != nil {
		f.Title = findTitleInfo(p.Spans, cat)
	}

	notesPageSet := false
	for i := range doc.Pages {
		p := &doc.Pages[i]
		f.Regions[p.Number] = detectRegions(p, cat)

		for _, s := range p.Spans {
			for _, l := range SectionCutLetters(s.Text) {
				f.SectionLetters[l] = true
			}
		}

		notes, _ := SplitNotes(p.Spans)
		for _, n := range notes {
			for _, l := range NoteLetters(n.Text) {
				f.NoteLetters[l] = true
			}
		}
		starNotes, starField := splitStarNotes(p.Spans)
		for _, n := range starNotes {
			if strings.Contains(n.Text, "**") {
				f.NotesHaveDoubleStar = true
			}
			for _, t := range extractStars(n.Text) {
				f.NoteStars[t.Token] = true
			}
		}
		for _, s := range starField {
			for _, t := range extractStars(s.Text) {
				f.FieldStars[t.Token] = true
			}
		}
		if len(notes) > 0 && !notesPageSet {
			f.NotesPage = p.Number
			notesPageSet = true
		}
	}

	for i := range doc.Pages {
		p := &doc.Pages[i]
		for _, fl := range fieldLetters(p, f.Regions[p.Number], cat) {
			f.FieldLetters[fl.Letter] = true
		}
	}
	return f
}

// Region returns the regions of a page; never nil.
func (f *Facts) Region(page int) *PageRegions {
	if r, ok := f.Regions[page]; ok && r != nil {
		return r
	}
	return &PageRegions{}
}

// InTable reports whether b touches the requirement table on the page.
func (f *Facts) InTable(page int, b geom.BBox) bool {
	r := f.Region(page)
	return r.TableUnion != nil && r.TableUnion.Overlaps(b)
}

// IsTitleText reports whether text is the document name or type caption.
func (f *Facts) IsTitleText(text string) bool {
	t := CollapseSpaces(text)
	if t == "" {
		return false
	}
	if f.Title.Name != nil && CollapseSpaces(f.Title.Name.Text) == t {
		return true
	}
	if f.Title.DocType != nil && CollapseSpaces(f.Title.DocType.Text) == t {
		return true
	}
	return f.Title.DocTypeName != "" && NormText(f.Title.DocTypeName) == NormText(t)
}

// IsTitleSpan reports whether s is (or overlaps) the document name or type span on page 1.
func (f *Facts) IsTitleSpan(s layout.Span) bool {
	if s.Page != 1 {
		return false
	}
	for _, t := range []*layout.Span{f.Title.Name, f.Title.DocType} {
		if t != nil && t.BBox.Overlaps(s.BBox) {
			return true
		}
	}
	return false
}

func findTitleInfo(spans []layout.Span, cat *Catalog) TitleInfo {
	var info TitleInfo
	var types []layout.Span
	var typeNames []string
	for _, s := range spans {
		text := strings.TrimSpace(s.Text)
		if cat.DocCode.MatchString(text) {
			if info.Code == nil || s.FontSize > info.Code.FontSize ||
				(s.FontSize == info.Code.FontSize && s.BBox.Y0 > info.Code.BBox.Y0) {
				c := s
				info.Code = &c
			}
		}
		if name, ok := cat.MatchDocType(text); ok {
			types = append(types, s)
			typeNames = append(typeNames, name)
		}
	}

	// largest font wins, then the topmost
	best := -1
	for i, s := range types {
		if best < 0 || s.FontSize > types[best].FontSize ||
			(s.FontSize == types[best].FontSize && s.BBox.Y0 < types[best].BBox.Y0) {
			best = i
		}
	}
	if best >= 0 {
		t := types[best]
		info.DocType = &t
		info.DocTypeName = typeNames[best]
	}

	isWords := func(s layout.Span) bool {
		if hasDigit(s.Text) || strings.TrimSpace(s.Text) == "" {
			return false
		}
		_, isType := cat.MatchDocType(s.Text)
		return !isType
	}
	var candidates []layout.Span
	if info.DocType != nil {
		y0 := info.DocType.BBox.Y0
		for _, s := range spans {
			if s.FontSize >= cat.NameMinFontSize && isWords(s) &&
				s.BBox.Y0 >= y0-cat.NameYWindow && s.BBox.Y0 <= y0+cat.NameYWindow {
				candidates = append(candidates, s)
			}
		}
	}
	if len(candidates) == 0 {
		for _, s := range spans {
			if isWords(s) {
				candidates = append(candidates, s)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].FontSize > candidates[j].FontSize })
		if len(candidates) > 3 {
			candidates = candidates[:3]
		}
	}
	for i, s := range candidates {
		if i == 0 || s.FontSize > info.Name.FontSize {
			n := s
			info.Name = &n
		}
	}
	return info
}

func detectRegions(p *layout.Page, cat *Catalog) *PageRegions {
	r := &PageRegions{}
	r.TitleBlock, r.TitleMethod = findTitleBlock(p, cat)

	notes, _ := SplitNotes(p.Spans)
	r.Columns = clusterColumns(notes, geom.MM(cat.Table.ColumnToleranceMM))
	if len(r.Columns) > 0 {
		u := r.Columns[0].BBox
		for _, c := range r.Columns[1:] {
			u = u.Union(c.BBox)
		}
		r.TableUnion = &u
	}
	for _, s := range p.Spans {
		if reCallout.MatchString(strings.TrimSpace(s.Text)) {
			r.Callouts = append(r.Callouts, s.BBox)
		}
	}
	return r
}

func findTitleBlock(p *layout.Page, cat *Catalog) (geom.BBox, string) {
	var hits []geom.BBox
	for _, s := range p.Spans {
		low := NormText(s.Text)
		for _, k := range cat.Table.TitleKeywords {
			if strings.Contains(low, NormText(k)) {
				hits = append(hits, s.BBox)
				break
			}
		}
	}
	minHits := cat.Table.MinKeywordHits
	if minHits <= 0 {
		minHits = 2
	}
	if len(hits) >= minHits {
		u, _ := geom.UnionAll(hits)
		return u, "keywords"
	}

	w, h := p.Width, p.Height
	zone := func(fx, fy float64) []geom.BBox {
		var out []geom.BBox
		for _, s := range p.Spans {
			if s.BBox.X0 > fx*w && s.BBox.Y0 > fy*h {
				out = append(out, s.BBox)
			}
		}
		return out
	}
	br := zone(0.6, 0.6)
	if len(br) == 0 {
		br = zone(0.5, 0.7)
	}
	if u, ok := geom.UnionAll(br); ok {
		return u, "bottom-right"
	}
	strip := cat.Table.BottomStripPt
	if strip <= 0 {
		strip = 50
	}
	return geom.Rect(0, h-strip, w, h), "bottom-strip"
}

// clusterColumns groups lines right to left: each line joins the most recent
// column while its x0 stays within tol of that column's mean x0.
// Column 0 is the rightmost.
func clusterColumns(lines []layout.Span, tol float64) []Column {
	if len(lines) == 0 {
		return nil
	}
	sorted := append([]layout.Span(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].BBox.X0 > sorted[j].BBox.X0 })

	cols := [][]layout.Span{{sorted[0]}}
	for _, s := range sorted[1:] {
		last := cols[len(cols)-1]
		mean := 0.0
		for _, e := range last {
			mean += e.BBox.X0
		}
		mean /= float64(len(last))
		if math.Abs(mean-s.BBox.X0) <= tol {
			cols[len(cols)-1] = append(last, s)
		} else {
			cols = append(cols, []layout.Span{s})
		}
	}

	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		sort.SliceStable(c, func(i, j int) bool {
			if c[i].BBox.Y0 != c[j].BBox.Y0 {
				return c[i].BBox.Y0 < c[j].BBox.Y0
			}
			return c[i].BBox.X0 < c[j].BBox.X0
		})
		boxes := make([]geom.BBox, len(c))
		for i, s := range c {
			boxes[i] = s.BBox
		}
		u, _ := geom.UnionAll(boxes)
		out = append(out, Column{Lines: c, BBox: u})
	}
	return out
}
