package geom

import (
	"math"
	"testing"
)

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b BBox
		want float64
	}{
		{"identical", Rect(0, 0, 10, 10), Rect(0, 0, 10, 10), 1},
		{"disjoint", Rect(0, 0, 10, 10), Rect(20, 20, 30, 30), 0},
		{"half", Rect(0, 0, 10, 10), Rect(5, 0, 15, 10), 50.0 / 150.0},
		{"touching", Rect(0, 0, 10, 10), Rect(10, 0, 20, 10), 0},
	}
	for _, tt := range tests {
		got := IoU(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: expected %f, got %f", tt.name, tt.want, got)
		}
	}
}

func TestEdgeDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b BBox
		want float64
	}{
		{"overlap", Rect(0, 0, 10, 10), Rect(5, 5, 15, 15), 0},
		{"horizontal gap", Rect(0, 0, 10, 10), Rect(17, 0, 20, 10), 7},
		{"diagonal", Rect(0, 0, 10, 10), Rect(13, 14, 20, 20), 5},
	}
	for _, tt := range tests {
		got := EdgeDistance(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: expected %f, got %f", tt.name, tt.want, got)
		}
	}
}

func TestUnionContainsMembers(t *testing.T) {
	boxes := []BBox{Rect(5, 5, 10, 10), Rect(0, 8, 3, 30), Rect(20, 1, 25, 2)}
	u, ok := UnionAll(boxes)
	if !ok {
		t.Fatal("expected non-empty union")
	}
	for _, b := range boxes {
		if !u.Contains(b) {
			t.Errorf("expected %s to contain %s", u, b)
		}
	}
	if _, ok := UnionAll(nil); ok {
		t.Error("expected empty union to report !ok")
	}
}

func TestHorizontalOverlapRatio(t *testing.T) {
	a := Rect(0, 0, 100, 10)
	b := Rect(80, 50, 120, 60)
	if got := HorizontalOverlapRatio(a, b); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected 0.5, got %f", got)
	}
	if got := HorizontalOverlapRatio(a, Rect(200, 0, 300, 10)); got != 0 {
		t.Errorf("expected 0, got %f", got)
	}
}

func TestMMRoundTrip(t *testing.T) {
	if got := ToMM(MM(185)); math.Abs(got-185) > 1e-9 {
		t.Errorf("expected 185, got %f", got)
	}
	if got := MM(25.4); math.Abs(got-72) > 1e-9 {
		t.Errorf("expected 72, got %f", got)
	}
}

func TestRoundOut(t *testing.T) {
	tests := []struct {
		name string
		in   BBox
		want BBox
	}{
		{"outward", Rect(10.123456, 20.556, 30.0041, 40.001), Rect(10.12, 20.55, 30.01, 40.01)},
		{"on grid", Rect(10.12, 0.29, 30, 40.07), Rect(10.12, 0.29, 30, 40.07)},
		{"negative", Rect(-1.234, -0.001, 1.231, 2), Rect(-1.24, -0.01, 1.24, 2)},
	}
	for _, tt := range tests {
		got := tt.in.RoundOut(2)
		for i, pair := range [][2]float64{{got.X0, tt.want.X0}, {got.Y0, tt.want.Y0}, {got.X1, tt.want.X1}, {got.Y1, tt.want.Y1}} {
			if math.Abs(pair[0]-pair[1]) > 1e-9 {
				t.Errorf("%s: coordinate %d expected %v, got %v", tt.name, i, pair[1], pair[0])
			}
		}
	}
}
