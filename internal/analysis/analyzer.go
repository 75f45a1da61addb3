// Package analysis runs the per-revision batch: layout extraction, rule
// evaluation, clustering and report rendering.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgallion1/drawcheck/internal/cluster"
	"github.com/dgallion1/drawcheck/internal/collector"
	"github.com/dgallion1/drawcheck/internal/layout"
	"github.com/dgallion1/drawcheck/internal/metrics"
	"github.com/dgallion1/drawcheck/internal/report"
	"github.com/dgallion1/drawcheck/internal/rules"
)

// Analyzer holds the immutable pieces shared by every analysis run.
type Analyzer struct {
	Extractor *layout.Extractor
	Registry  *rules.Registry
	Catalog   *rules.Catalog
	Cluster   cluster.Options
	Annotator *report.Annotator
	Collect   collector.Options
	Log       *slog.Logger
}

// Options configure New.
type Options struct {
	Judge       rules.Judge
	Raster      rules.Rasterizer
	DPI         int
	Fallback    bool
	Collect     collector.Options
	ClusterOpts *cluster.Options
}

// New wires an analyzer around cat. A nil judge leaves the semantic rules
// reporting "not evaluated"; a nil raster draws findings on blank pages.
func New(cat *rules.Catalog, opts Options, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	copts := cluster.DefaultOptions()
	if opts.ClusterOpts != nil {
		copts = *opts.ClusterOpts
	}
	collect := opts.Collect
	collect.Log = log
	return &Analyzer{
		Extractor: layout.NewExtractor(log, opts.Fallback),
		Registry:  rules.DefaultRegistry(cat, opts.Judge, opts.Raster),
		Catalog:   cat,
		Cluster:   copts,
		Annotator: report.NewAnnotator(opts.Raster, opts.DPI, log),
		Collect:   collect,
		Log:       log,
	}
}

// Result is everything one run produces.
type Result struct {
	Doc      *layout.Document
	Outcome  *collector.Outcome
	Findings []cluster.Finding
	Register *report.Register
	Pages    []report.PageImage
}

// Extract parses the PDF. An empty or unreadable document is an error.
func (a *Analyzer) Extract(ctx context.Context, pdf []byte) (*layout.Document, error) {
	doc, err := a.Extractor.Extract(ctx, pdf)
	if err != nil {
		return nil, err
	}
	a.Log.Debug("layout extracted", "pages", len(doc.Pages), "spans", doc.SpanCount())
	return doc, nil
}

// Evaluate runs every rule over doc.
func (a *Analyzer) Evaluate(ctx context.Context, doc *layout.Document, pdf []byte) (*collector.Outcome, error) {
	opts := a.Collect
	opts.Source = pdf
	return collector.Collect(ctx, doc, a.Registry, a.Catalog, opts)
}

// Build clusters the raw violations into the register.
func (a *Analyzer) Build(name string, out *collector.Outcome) ([]cluster.Finding, *report.Register) {
	boxed, info, global := cluster.Split(out.Violations)
	findings := cluster.Cluster(boxed, a.Cluster)
	metrics.FindingsPerRevision.Observe(float64(len(findings)))
	return findings, &report.Register{
		FileName: name,
		Findings: findings,
		Info:     info,
		Global:   global,
	}
}

// Render draws the findings on every page.
func (a *Analyzer) Render(ctx context.Context, pdf []byte, doc *layout.Document, findings []cluster.Finding) ([]report.PageImage, error) {
	return a.Annotator.Pages(ctx, pdf, doc, findings, report.RegisterLabel)
}

// Analyze runs the whole batch. Page images are rendered only when render is set.
func (a *Analyzer) Analyze(ctx context.Context, name string, pdf []byte, render bool) (*Result, error) {
	doc, err := a.Extract(ctx, pdf)
	if err != nil {
		return nil, err
	}
	out, err := a.Evaluate(ctx, doc, pdf)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	findings, reg := a.Build(name, out)
	res := &Result{Doc: doc, Outcome: out, Findings: findings, Register: reg}
	if render {
		if res.Pages, err = a.Render(ctx, pdf, doc, findings); err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
	}
	return res, nil
}

// FindingsJSON is the machine-readable artifact stored next to the register.
type FindingsJSON struct {
	File     string              `json:"file"`
	Findings []cluster.Finding   `json:"findings"`
	Info     []rules.Violation   `json:"info"`
	Global   []rules.Violation   `json:"global"`
	Failures []collector.Failure `json:"failures"`
}

// MarshalFindings encodes the result as FindingsJSON.
func MarshalFindings(reg *report.Register, failures []collector.Failure) ([]byte, error) {
	return json.MarshalIndent(FindingsJSON{
		File:     reg.FileName,
		Findings: nonNil(reg.Findings),
		Info:     nonNil(reg.Info),
		Global:   nonNil(reg.Global),
		Failures: nonNil(failures),
	}, "", "  ")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
