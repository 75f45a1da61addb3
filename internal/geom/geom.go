// Package geom holds the rectangle arithmetic shared by layout, rules and clustering.
// Coordinates are PDF points with a top-left origin: y grows downward.
package geom

import (
	"fmt"
	"math"
)

// PtPerMM converts millimetres to points.
const PtPerMM = 72.0 / 25.4

// MM converts a distance in millimetres to points.
func MM(mm float64) float64 { return mm * PtPerMM }

// ToMM converts a distance in points to millimetres.
func ToMM(pt float64) float64 { return pt / PtPerMM }

// BBox is an axis-aligned rectangle.
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Rect builds a normalized BBox from two corners.
func Rect(x0, y0, x1, y1 float64) BBox {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return BBox{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

func (b BBox) Width() float64  { return b.X1 - b.X0 }
func (b BBox) Height() float64 { return b.Y1 - b.Y0 }
func (b BBox) Area() float64   { return math.Max(0, b.Width()) * math.Max(0, b.Height()) }

// Center returns the midpoint of the box.
func (b BBox) Center() (float64, float64) {
	return (b.X0 + b.X1) / 2, (b.Y0 + b.Y1) / 2
}

// CenterY is the vertical midpoint, used for line grouping.
func (b BBox) CenterY() float64 { return (b.Y0 + b.Y1) / 2 }

// Union returns the smallest box containing both.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		X0: math.Min(b.X0, o.X0),
		Y0: math.Min(b.Y0, o.Y0),
		X1: math.Max(b.X1, o.X1),
		Y1: math.Max(b.Y1, o.Y1),
	}
}

// Intersect returns the overlap of two boxes and whether it is non-empty.
func (b BBox) Intersect(o BBox) (BBox, bool) {
	r := BBox{
		X0: math.Max(b.X0, o.X0),
		Y0: math.Max(b.Y0, o.Y0),
		X1: math.Min(b.X1, o.X1),
		Y1: math.Min(b.Y1, o.Y1),
	}
	if r.X1 <= r.X0 || r.Y1 <= r.Y0 {
		return BBox{}, false
	}
	return r, true
}

// Contains reports whether o lies entirely inside b.
func (b BBox) Contains(o BBox) bool {
	return o.X0 >= b.X0 && o.Y0 >= b.Y0 && o.X1 <= b.X1 && o.Y1 <= b.Y1
}

// Overlaps reports whether the boxes share any area.
func (b BBox) Overlaps(o BBox) bool {
	_, ok := b.Intersect(o)
	return ok
}

// IoU is intersection area over union area; zero for disjoint or degenerate boxes.
func IoU(a, b BBox) float64 {
	inter, ok := a.Intersect(b)
	if !ok {
		return 0
	}
	ia := inter.Area()
	u := a.Area() + b.Area() - ia
	if u <= 0 {
		return 0
	}
	return ia / u
}

// EdgeDistance is the Euclidean gap between the closest edges; zero when the boxes touch or overlap.
func EdgeDistance(a, b BBox) float64 {
	dx := math.Max(0, math.Max(a.X0-b.X1, b.X0-a.X1))
	dy := math.Max(0, math.Max(a.Y0-b.Y1, b.Y0-a.Y1))
	return math.Hypot(dx, dy)
}

// HorizontalOverlapRatio is the shared x-extent divided by the narrower box's width.
func HorizontalOverlapRatio(a, b BBox) float64 {
	inter := math.Min(a.X1, b.X1) - math.Max(a.X0, b.X0)
	if inter <= 0 {
		return 0
	}
	minW := math.Min(a.Width(), b.Width())
	if minW <= 0 {
		return 0
	}
	return inter / minW
}

// Round rounds every coordinate to the given number of decimals.
func (b BBox) Round(decimals int) BBox {
	p := math.Pow(10, float64(decimals))
	r := func(v float64) float64 { return math.Round(v*p) / p }
	return BBox{X0: r(b.X0), Y0: r(b.Y0), X1: r(b.X1), Y1: r(b.Y1)}
}

// RoundOut rounds to the given number of decimals away from the box centre,
// so the result contains b. Values already on the grid stay put.
func (b BBox) RoundOut(decimals int) BBox {
	p := math.Pow(10, float64(decimals))
	const eps = 1e-6
	down := func(v float64) float64 { return math.Floor(v*p+eps) / p }
	up := func(v float64) float64 { return math.Ceil(v*p-eps) / p }
	return BBox{X0: down(b.X0), Y0: down(b.Y0), X1: up(b.X1), Y1: up(b.Y1)}
}

// UnionAll folds a slice of boxes; ok is false for an empty slice.
func UnionAll(boxes []BBox) (BBox, bool) {
	if len(boxes) == 0 {
		return BBox{}, false
	}
	u := boxes[0]
	for _, b := range boxes[1:] {
		u = u.Union(b)
	}
	return u, true
}

func (b BBox) String() string {
	return fmt.Sprintf("[%.2f %.2f %.2f %.2f]", b.X0, b.Y0, b.X1, b.Y1)
}
