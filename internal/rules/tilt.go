package rules

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// RuleTiltRaw checks the baseline direction as drawn.
	RuleTiltRaw = "1.1.5"
	// RuleTiltPage checks the direction as displayed, after the page /Rotate.
	RuleTiltPage = "1.1.6"
)

const maxDimensionLen = 60

var dimensionPatterns = func() []*regexp.Regexp {
	pats := []string{
		`[⌀ØO]\s*\d+(?:[.,]\d+)?`,
		`(?:^|[^\p{L}\p{N}_])R\s*\d+(?:[.,]\d+)?`,
		`(?:^|[^\p{L}\p{N}_])M\s*\d+(?:[×xX]\d+(?:[.,]\d+)?)?`,
		`\d+\s*±\s*\d+(?:[.,]\d+)?`,
		`[+−\-]\s*\d+(?:[.,]\d+)?`,
		`\d+(?:[.,]\d+)?\s*мм(?:$|[^\p{L}\p{N}_])`,
		`\d+(?:[.,]\d+)?\s*mm(?:$|[^\p{L}\p{N}_])`,
		`\d+(?:[.,]\d+)?\s*°`,
		`\d+(?:[.,]\d+)?`,
	}
	out := make([]*regexp.Regexp, len(pats))
	for i, p := range pats {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}()

// IsDimension reports whether text looks like a dimension or tolerance value.
func IsDimension(text string) bool {
	t := strings.TrimSpace(text)
	n := utf8.RuneCountInString(t)
	if n < 1 || n > maxDimensionLen || !hasDigit(t) {
		return false
	}
	for _, re := range dimensionPatterns {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

// TiltFromHorizontal folds any direction into [0, 90] degrees away from horizontal.
func TiltFromHorizontal(angle float64) float64 {
	a := math.Mod(angle, 180)
	if a < 0 {
		a += 180
	}
	if a > 90 {
		a = 180 - a
	}
	return math.Abs(a)
}

// Exceeds reports whether a tilt is strictly above the threshold.
func Exceeds(tilt, threshold float64) bool {
	return tilt > threshold
}

// Tilt flags dimension text rotated further than the threshold from horizontal.
type Tilt struct {
	cat          *Catalog
	id           string
	pageRelative bool
}

func NewTilt(cat *Catalog, id string, pageRelative bool) *Tilt {
	return &Tilt{cat: cat, id: id, pageRelative: pageRelative}
}

func (e *Tilt) ID() string { return e.id }

func (e *Tilt) Evaluate(_ context.Context, pc *PageContext) ([]Violation, error) {
	thr := e.cat.Tilt.ThresholdDeg
	if thr <= 0 {
		thr = 30
	}
	var out []Violation
	for _, s := range pc.Page.Spans {
		text := strings.TrimSpace(s.Text)
		if !IsDimension(text) || pc.Facts.IsTitleText(text) {
			continue
		}
		angle := s.Rotation
		if e.pageRelative {
			angle -= float64(pc.Page.Rotate)
		}
		tilt := round2(TiltFromHorizontal(angle))
		if !Exceeds(tilt, thr) {
			continue
		}
		note := fmt.Sprintf("Наклон %s° > порога %s° — «%s»", fmtNum(tilt), fmtNum(thr), text)
		out = append(out, boxed(pc.Page.Number, s.BBox, e.id, note,
			TiltDetail{Text: text, Angle: round2(angle), Tilt: tilt, Threshold: thr}))
	}
	return out, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func fmtNum(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
