package rules

import (
	"context"
	"fmt"
	"math"

	"github.com/dgallion1/drawcheck/internal/geom"
)

const RuleTable = "1.1.2"

// ColumnWidthOK applies the width rule to one column: every column must be at
// most target+tol wide, and columns after the first must also be within tol of target.
func ColumnWidthOK(index int, widthMM, targetMM, tolMM float64) bool {
	if widthMM > targetMM+tolMM {
		return false
	}
	if index == 0 {
		return true
	}
	return math.Abs(widthMM-targetMM) <= tolMM
}

// Table checks placement and width of the requirement notes block. Notes carry
// no measured values so the same defect keeps its occurrence id between revisions.
type Table struct {
	cat *Catalog
}

func NewTable(cat *Catalog) *Table { return &Table{cat: cat} }

func (e *Table) ID() string { return RuleTable }

func (e *Table) Evaluate(_ context.Context, pc *PageContext) ([]Violation, error) {
	r := pc.Facts.Region(pc.Page.Number)
	if len(r.Columns) == 0 || r.TableUnion == nil {
		return nil, nil
	}
	cfg := e.cat.Table
	page := pc.Page.Number
	union := *r.TableUnion
	var out []Violation

	if union.Y1 > r.TitleBlock.Y0+geom.MM(cfg.AboveAllowanceMM) {
		out = append(out, boxed(page, union, RuleTable,
			"Технические требования расположены не над основной надписью",
			TableDetail{Check: "placement", Column: -1}))
	}

	overlap := geom.HorizontalOverlapRatio(r.Columns[0].BBox, r.TitleBlock)
	if overlap < cfg.MinOverlapRatio {
		out = append(out, boxed(page, r.Columns[0].BBox, RuleTable,
			"Правый столбец ТТ не выровнен по основной надписи",
			TableDetail{Check: "alignment", Column: 0, Overlap: round2(overlap)}))
	}

	for i, c := range r.Columns {
		w := geom.ToMM(c.BBox.Width())
		if ColumnWidthOK(i, w, cfg.TargetWidthMM, cfg.WidthToleranceMM) {
			continue
		}
		out = append(out, boxed(page, c.BBox, RuleTable,
			fmt.Sprintf("Ширина столбца ТТ №%d вне допуска %s±%s мм", i+1, fmtNum(cfg.TargetWidthMM), fmtNum(cfg.WidthToleranceMM)),
			TableDetail{Check: "width", Column: i, WidthMM: round2(w), TargetMM: cfg.TargetWidthMM}))
	}
	return out, nil
}
