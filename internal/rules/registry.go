// Package rules implements the drawing checks. Each rule is an Evaluator run
// once per page over immutable layout and document facts.
package rules

import (
	"context"

	"github.com/dgallion1/drawcheck/internal/layout"
)

// PageContext is everything an evaluator may read for one page.
type PageContext struct {
	Doc    *layout.Document
	Page   *layout.Page
	Facts  *Facts
	Source []byte // original PDF, for judge-backed rules
}

// Evaluator is one rule of the catalog. Implementations must not mutate the
// context and should return an empty result, not an error, when inputs are missing.
type Evaluator interface {
	ID() string
	Evaluate(ctx context.Context, pc *PageContext) ([]Violation, error)
}

// Registry is the ordered list of evaluators.
type Registry struct {
	evaluators []Evaluator
}

// NewRegistry keeps the given order.
func NewRegistry(evs ...Evaluator) *Registry {
	return &Registry{evaluators: evs}
}

// DefaultRegistry wires the standard rules in catalog order. judge may be nil,
// in which case the semantic rules report "not evaluated".
func DefaultRegistry(cat *Catalog, judge Judge, render Rasterizer) *Registry {
	r := NewRegistry(
		NewTitleBlock(cat),
		NewTable(cat),
		NewLetters(cat),
		NewStars(cat),
		NewTilt(cat, RuleTiltRaw, false),
		NewTilt(cat, RuleTiltPage, true),
		NewBases(cat),
	)
	for _, id := range []string{RuleFormArrow, RuleRoughnessSign} {
		if sr, ok := cat.SemanticRule(id); ok {
			r.Add(NewSemantic(sr, judge, render))
		}
	}
	return r
}

// Add appends an evaluator.
func (r *Registry) Add(e Evaluator) { r.evaluators = append(r.evaluators, e) }

// Evaluators returns the evaluators in order.
func (r *Registry) Evaluators() []Evaluator {
	return append([]Evaluator(nil), r.evaluators...)
}

// IDs lists rule ids in order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.evaluators))
	for i, e := range r.evaluators {
		ids[i] = e.ID()
	}
	return ids
}

// Order returns the position of a rule id, or len(evaluators) when unknown.
func (r *Registry) Order(id string) int {
	for i, e := range r.evaluators {
		if e.ID() == id {
			return i
		}
	}
	return len(r.evaluators)
}
