package rules

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dgallion1/drawcheck/internal/config"
	"github.com/dgallion1/drawcheck/internal/judge"
)

const (
	RuleFormArrow     = "1.1.7"
	RuleRoughnessSign = "1.1.9"
)

const defaultJudgeDPI = 150

// Judge is the part of judge.Judge the semantic rules need.
type Judge interface {
	Judge(ctx context.Context, req judge.Request) (*judge.Verdict, error)
}

// Rasterizer renders one PDF page to PNG.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, page, dpi int) ([]byte, error)
}

// Semantic sends the first page raster to the vision judge. A failing verdict
// becomes a global violation; a missing judge or a judge error becomes an
// info notice and never a violation.
type Semantic struct {
	rule   config.SemanticRule
	judge  Judge
	render Rasterizer
	DPI    int

	refOnce sync.Once
	ref     *judge.Image
}

func NewSemantic(sr config.SemanticRule, j Judge, render Rasterizer) *Semantic {
	return &Semantic{rule: sr, judge: j, render: render, DPI: defaultJudgeDPI}
}

func (e *Semantic) ID() string { return e.rule.Rule }

func (e *Semantic) reference() *judge.Image {
	e.refOnce.Do(func() {
		if e.rule.ReferenceImage == "" {
			return
		}
		data, err := os.ReadFile(e.rule.ReferenceImage)
		if err != nil {
			return
		}
		e.ref = &judge.Image{MIME: judge.MIMEForPath(e.rule.ReferenceImage), Data: data}
	})
	return e.ref
}

func (e *Semantic) notEvaluated(reason string) []Violation {
	return []Violation{info(1, e.rule.Rule,
		fmt.Sprintf("правило не проверено: %s", reason), JudgeDetail{})}
}

func (e *Semantic) Evaluate(ctx context.Context, pc *PageContext) ([]Violation, error) {
	if pc.Page.Number != 1 {
		return nil, nil
	}
	if e.judge == nil {
		return e.notEvaluated("модель не подключена"), nil
	}
	if e.render == nil || len(pc.Source) == 0 {
		return e.notEvaluated("нет растра страницы"), nil
	}
	png, err := e.render.Rasterize(ctx, pc.Source, 1, e.DPI)
	if err != nil {
		return e.notEvaluated("ошибка растеризации"), nil
	}
	v, err := e.judge.Judge(ctx, judge.Request{
		Rule:      e.rule.Rule,
		Prompt:    e.rule.Prompt,
		Candidate: judge.PNG(png),
		Reference: e.reference(),
	})
	if err != nil || v == nil {
		return e.notEvaluated("ошибка модели"), nil
	}
	if v.Pass {
		return nil, nil
	}
	return []Violation{{
		Page:   1,
		RuleID: e.rule.Rule,
		Note:   v.Comment,
		Kind:   KindGlobal,
		Detail: JudgeDetail{Comment: v.Comment, Evaluated: true},
	}}, nil
}
