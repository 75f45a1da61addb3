// Package collector runs every rule over every page and folds per-rule
// failures into the outcome instead of failing the document.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/drawcheck/internal/layout"
	"github.com/dgallion1/drawcheck/internal/metrics"
	"github.com/dgallion1/drawcheck/internal/rules"
)

const (
	DefaultTimeout     = 20 * time.Second
	DefaultConcurrency = 4
)

// Failure records one (rule, page) evaluation that produced no result.
type Failure struct {
	Rule   string `json:"rule"`
	Page   int    `json:"page"`
	Reason string `json:"reason"` // error, panic or timeout
	Error  string `json:"error"`
}

// Outcome is the raw result of one document.
type Outcome struct {
	Violations []rules.Violation
	Failures   []Failure
	Facts      *rules.Facts
}

// Options tune a collection run. Zero values take the defaults.
type Options struct {
	Timeout     time.Duration
	Concurrency int
	Source      []byte
	Log         *slog.Logger
}

// buildFacts is swapped in tests.
var buildFacts = rules.BuildFacts

type result struct {
	violations []rules.Violation
	failure    *Failure
}

// Collect evaluates reg over doc. Output is ordered by registry position, then
// page, then the evaluator's own order, regardless of scheduling.
func Collect(ctx context.Context, doc *layout.Document, reg *rules.Registry, cat *rules.Catalog, opts Options) (*Outcome, error) {
	if doc == nil || len(doc.Pages) == 0 {
		return nil, layout.ErrEmptyDocument
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	facts, err := safeFacts(doc, cat)
	if err != nil {
		log.Error("document facts failed", "error", err)
		metrics.EvaluatorFailures.WithLabelValues("facts", "panic").Inc()
		return nil, fmt.Errorf("collect: %w", err)
	}
	evs := reg.Evaluators()
	results := make([]result, len(evs)*len(doc.Pages))

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for ei, ev := range evs {
		for pi := range doc.Pages {
			slot := ei*len(doc.Pages) + pi
			pc := &rules.PageContext{Doc: doc, Page: &doc.Pages[pi], Facts: facts, Source: opts.Source}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				results[slot] = evaluate(ctx, ev, pc, opts.Timeout, log)
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	out := &Outcome{Facts: facts}
	for _, r := range results {
		out.Violations = append(out.Violations, r.violations...)
		if r.failure != nil {
			out.Failures = append(out.Failures, *r.failure)
		}
	}
	return out, nil
}

func safeFacts(doc *layout.Document, cat *rules.Catalog) (f *rules.Facts, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p, stack: debug.Stack()}
		}
	}()
	return buildFacts(doc, cat), nil
}

func evaluate(ctx context.Context, ev rules.Evaluator, pc *rules.PageContext, timeout time.Duration, log *slog.Logger) result {
	rule, page := ev.ID(), pc.Page.Number
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		vs  []rules.Violation
		err error
	}
	done := make(chan reply, 1)
	start := time.Now()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reply{err: &panicError{value: p, stack: debug.Stack()}}
			}
		}()
		vs, err := ev.Evaluate(ctx, pc)
		done <- reply{vs: vs, err: err}
	}()

	var rep reply
	select {
	case rep = <-done:
	case <-ctx.Done():
		rep = reply{err: ctx.Err()}
	}
	metrics.EvaluatorDuration.WithLabelValues(rule).Observe(time.Since(start).Seconds())

	if rep.err == nil {
		return result{violations: rep.vs}
	}
	reason := "error"
	var pe *panicError
	switch {
	case errors.As(rep.err, &pe):
		reason = "panic"
		log.Warn("evaluator panicked", "rule", rule, "page", page, "panic", pe.value, "stack", string(pe.stack))
	case errors.Is(rep.err, context.DeadlineExceeded):
		reason = "timeout"
		log.Warn("evaluator timed out", "rule", rule, "page", page, "timeout", timeout)
	default:
		log.Warn("evaluator failed", "rule", rule, "page", page, "error", rep.err)
	}
	metrics.EvaluatorFailures.WithLabelValues(rule, reason).Inc()
	return result{failure: &Failure{Rule: rule, Page: page, Reason: reason, Error: rep.err.Error()}}
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }
