package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/drawcheck/internal/geom"
	"github.com/dgallion1/drawcheck/internal/layout"
)

func TestColumnWidthOK(t *testing.T) {
	tests := []struct {
		index int
		width float64
		want  bool
	}{
		{1, 183.5, true},
		{1, 186.9, true},
		{1, 181.9, false},
		{1, 188.1, false},
		{1, 185, true},
		{0, 120, true},
		{0, 187.0, true},
		{0, 187.5, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ColumnWidthOK(tt.index, tt.width, 185, 2), "index %d width %.1f", tt.index, tt.width)
	}
}

// tablePage puts a title block in the bottom right and two note lines of the
// given width (mm) whose top is at y.
func tablePage(widthMM, y float64) []layout.Span {
	x0 := 60.0
	x1 := x0 + geom.MM(widthMM)
	return []layout.Span{
		span(1, "1. Размеры для справок", x0, y, x1, y+12),
		span(1, "2. Неуказанные предельные отклонения по H14", x0, y+15, x1, y+27),
		span(1, "Масштаб", 400, 760, 440, 770),
		span(1, "Лист", 500, 800, 520, 810),
	}
}

func TestTableCompliant(t *testing.T) {
	cat := testCatalog(t)
	vs := runRule(t, cat, NewTable(cat), docOf(tablePage(185, 600)))
	assert.Empty(t, vs)
}

func TestTableTooWide(t *testing.T) {
	cat := testCatalog(t)
	vs := runRule(t, cat, NewTable(cat), docOf(tablePage(190, 600)))
	require.Len(t, vs, 1)
	assert.Equal(t, RuleTable, vs[0].RuleID)
	assert.Equal(t, KindBoxed, vs[0].Kind)
	assert.Equal(t, "Ширина столбца ТТ №1 вне допуска 185±2 мм", vs[0].Note)
	d, ok := vs[0].Detail.(TableDetail)
	require.True(t, ok)
	assert.Equal(t, "width", d.Check)
	assert.InDelta(t, 190, d.WidthMM, 0.01)
}

func TestTableBelowTitleBlock(t *testing.T) {
	cat := testCatalog(t)
	vs := runRule(t, cat, NewTable(cat), docOf(tablePage(185, 790)))
	require.NotEmpty(t, vs)
	assert.Equal(t, "Технические требования расположены не над основной надписью", vs[0].Note)
}

func TestTableNotAligned(t *testing.T) {
	cat := testCatalog(t)
	spans := []layout.Span{
		span(1, "1. Размеры для справок", 20, 600, 120, 612),
		span(1, "Масштаб", 400, 760, 440, 770),
		span(1, "Лист", 500, 800, 580, 810),
	}
	vs := runRule(t, cat, NewTable(cat), docOf(spans))
	require.Len(t, vs, 1)
	assert.Equal(t, "Правый столбец ТТ не выровнен по основной надписи", vs[0].Note)
}

func TestTableNoNotes(t *testing.T) {
	cat := testCatalog(t)
	vs := runRule(t, cat, NewTable(cat), docOf([]layout.Span{span(1, "Масштаб", 400, 760, 440, 770)}))
	assert.Empty(t, vs)
}
