package layout

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/dgallion1/drawcheck/internal/geom"
)

// glyph is one positioned character in PDF user space (bottom-left origin).
type glyph struct {
	x, y float64
	w    float64
	size float64
	font string
	s    string
}

// run is a chain of glyphs drawn along one baseline.
type run struct {
	text  string
	angle float64
	size  float64
	box   geom.BBox // bottom-left origin
}

const (
	minEm         = 4.0
	minChainStep  = 12.0
	maxTurnDeg    = 20.0
	spaceGapRatio = 0.25
	advanceRatio  = 0.55
)

// buildRuns chains glyphs in content-stream order while each glyph continues the
// previous one along a consistent direction.
func buildRuns(glyphs []glyph) []run {
	var out []run
	var cur []glyph
	flush := func() {
		if r, ok := makeRun(cur); ok {
			out = append(out, r)
		}
		cur = cur[:0]
	}
	for _, g := range glyphs {
		if g.s == "\n" || g.s == "" {
			flush()
			continue
		}
		if len(cur) > 0 && !continues(cur, g) {
			flush()
		}
		cur = append(cur, g)
	}
	flush()
	return out
}

func continues(cur []glyph, g glyph) bool {
	p := cur[len(cur)-1]
	if p.font != g.font {
		return false
	}
	dx, dy := g.x-p.x, g.y-p.y
	d := math.Hypot(dx, dy)
	em := math.Max(math.Max(math.Abs(p.size), math.Abs(g.size)), minEm)
	if d > math.Max(1.5*em, minChainStep) {
		return false
	}
	if len(cur) < 2 || d < 0.01 {
		return true
	}
	first := cur[0]
	base := math.Atan2(p.y-first.y, p.x-first.x)
	step := math.Atan2(dy, dx)
	return angleDiff(base, step) <= maxTurnDeg*math.Pi/180
}

func angleDiff(a, b float64) float64 {
	d := math.Abs(a - b)
	for d > math.Pi {
		d = math.Abs(d - 2*math.Pi)
	}
	return d
}

func makeRun(gs []glyph) (run, bool) {
	var sb strings.Builder
	for _, g := range gs {
		sb.WriteString(g.s)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return run{}, false
	}

	angle := 0.0
	first, last := gs[0], gs[len(gs)-1]
	if len(gs) > 1 && (last.x != first.x || last.y != first.y) {
		angle = math.Atan2(last.y-first.y, last.x-first.x) * 180 / math.Pi
		if math.Abs(angle) < 0.01 {
			angle = 0
		}
	}
	rad := angle * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)

	// Trm[0][0] is size*cos(angle); undo the projection when it is reliable.
	size := math.Abs(first.size)
	avgStep := 0.0
	if len(gs) > 1 {
		avgStep = math.Hypot(last.x-first.x, last.y-first.y) / float64(len(gs)-1)
	}
	if math.Abs(cos) > 0.3 {
		size = math.Abs(first.size / cos)
	} else if avgStep > 0 {
		size = avgStep / advanceRatio
	}
	if size < minEm/2 {
		size = minEm
	}

	text := joinGlyphs(gs, cos, size)
	var box geom.BBox
	for i, g := range gs {
		adv := glyphAdvance(gs, i, cos, size, avgStep)
		ex, ey := g.x+cos*adv, g.y+sin*adv
		// perpendicular (up) vector is (-sin, cos)
		pts := [][2]float64{
			{g.x + sin*0.2*size, g.y - cos*0.2*size},
			{g.x - sin*0.8*size, g.y + cos*0.8*size},
			{ex + sin*0.2*size, ey - cos*0.2*size},
			{ex - sin*0.8*size, ey + cos*0.8*size},
		}
		for j, p := range pts {
			b := geom.BBox{X0: p[0], Y0: p[1], X1: p[0], Y1: p[1]}
			if i == 0 && j == 0 {
				box = b
			} else {
				box = box.Union(b)
			}
		}
	}
	return run{text: text, angle: angle, size: size, box: box}, true
}

func glyphAdvance(gs []glyph, i int, cos, size, avgStep float64) float64 {
	if i+1 < len(gs) {
		return math.Hypot(gs[i+1].x-gs[i].x, gs[i+1].y-gs[i].y)
	}
	if math.Abs(cos) > 0.3 && gs[i].w != 0 {
		return math.Abs(gs[i].w / cos)
	}
	if avgStep > 0 {
		return avgStep
	}
	return size * advanceRatio
}

// joinGlyphs inserts a space where horizontal glyphs leave a visible gap.
func joinGlyphs(gs []glyph, cos, size float64) string {
	var sb strings.Builder
	for i, g := range gs {
		if i > 0 && math.Abs(cos) > 0.3 {
			p := gs[i-1]
			end := p.x + p.w
			gap := (g.x - end) / cos
			if gap > spaceGapRatio*size && !strings.HasSuffix(sb.String(), " ") && g.s != " " {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(g.s)
	}
	return strings.TrimFunc(sb.String(), unicode.IsSpace)
}

// piece is a run placed in top-left page coordinates.
type piece struct {
	r   run
	box geom.BBox
}

// groupLines merges horizontal runs whose vertical centres lie within tol and
// whose horizontal gap stays under maxGapEm font sizes. Rotated runs stay separate.
// Input boxes are bottom-left; output spans are top-left.
func groupLines(runs []run, pageNo int, pageH, tol, maxGapEm float64) []Span {
	var flat, rotated []piece
	for _, r := range runs {
		b := geom.Rect(r.box.X0, pageH-r.box.Y1, r.box.X1, pageH-r.box.Y0)
		p := piece{r: r, box: b}
		if math.Abs(r.angle) <= 1 {
			flat = append(flat, p)
		} else {
			rotated = append(rotated, p)
		}
	}

	sort.SliceStable(flat, func(i, j int) bool {
		ci, cj := flat[i].box.CenterY(), flat[j].box.CenterY()
		if ci != cj {
			return ci < cj
		}
		return flat[i].box.X0 < flat[j].box.X0
	})

	// rows by vertical centre
	var rows [][]piece
	for _, p := range flat {
		placed := false
		for i := range rows {
			if math.Abs(rowCenter(rows[i])-p.box.CenterY()) < tol {
				rows[i] = append(rows[i], p)
				placed = true
				break
			}
		}
		if !placed {
			rows = append(rows, []piece{p})
		}
	}

	var spans []Span
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].box.X0 < row[j].box.X0 })
		var cur *Span
		for _, p := range row {
			if cur != nil {
				gap := p.box.X0 - cur.BBox.X1
				em := math.Max(cur.FontSize, p.r.size)
				if gap <= maxGapEm*em {
					if gap > spaceGapRatio*em {
						cur.Text += " "
					}
					cur.Text += p.r.text
					cur.BBox = cur.BBox.Union(p.box)
					cur.FontSize = math.Max(cur.FontSize, p.r.size)
					continue
				}
				spans = append(spans, *cur)
			}
			cur = &Span{Text: p.r.text, BBox: p.box, FontSize: p.r.size, Page: pageNo}
		}
		if cur != nil {
			spans = append(spans, *cur)
		}
	}
	for _, p := range rotated {
		spans = append(spans, Span{
			Text:     p.r.text,
			BBox:     p.box,
			FontSize: p.r.size,
			Rotation: p.r.angle,
			Page:     pageNo,
		})
	}

	for i := range spans {
		spans[i].Text = strings.TrimSpace(spans[i].Text)
		spans[i].BBox = spans[i].BBox.Round(2)
		spans[i].FontSize = math.Round(spans[i].FontSize*100) / 100
	}
	sortSpans(spans)
	return spans
}

func rowCenter(row []piece) float64 {
	sum := 0.0
	for _, p := range row {
		sum += p.box.CenterY()
	}
	return sum / float64(len(row))
}

func sortSpans(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].BBox.Y0 != spans[j].BBox.Y0 {
			return spans[i].BBox.Y0 < spans[j].BBox.Y0
		}
		return spans[i].BBox.X0 < spans[j].BBox.X0
	})
}
