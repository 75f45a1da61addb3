package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/drawcheck/internal/analysis"
	"github.com/dgallion1/drawcheck/internal/judge"
	"github.com/dgallion1/drawcheck/internal/layout"
	"github.com/dgallion1/drawcheck/internal/ledger"
	"github.com/dgallion1/drawcheck/internal/metrics"
	"github.com/dgallion1/drawcheck/internal/store"
)

// RuleSystem is the rule id of decisions about the drawing as a whole.
const RuleSystem = "system"

const commentDrawingChanged = "Обнаружена смена чертежа: текущий файл отличается от предыдущего. Уверенность: %.2f. Прислан абсолютно другой чертеж."

// Worker processes a single revision job.
type Worker struct {
	comp  Components
	locks *DocLocks
	log   *slog.Logger

	// parse is the layout extraction step; tests substitute it.
	parse func(ctx context.Context, pdf []byte) (*layout.Document, error)
}

func NewWorker(comp Components, locks *DocLocks, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if locks == nil {
		locks = NewDocLocks()
	}
	w := &Worker{comp: comp, locks: locks, log: log}
	w.parse = comp.Analyzer.Extract
	return w
}

// Process runs the full analysis pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "document_id", job.DocumentID, "revision_id", job.RevisionID)
	status := StatusFailed
	defer func() {
		if p := recover(); p != nil {
			status = w.fail(ctx, job, log, job.Snapshot().Phase, fmt.Errorf("panic: %v", p))
		}
		metrics.JobOutcomes.WithLabelValues(string(status)).Inc()
	}()
	status = w.run(ctx, job, log)
}

func (w *Worker) run(ctx context.Context, job *Job, log *slog.Logger) JobStatus {
	pdf := job.FileData()
	if len(pdf) == 0 {
		data, err := w.comp.Store.GetArtifact(ctx, job.RevisionID, store.ArtifactSource)
		if err != nil {
			return w.fail(ctx, job, log, "parsing", err)
		}
		pdf = data
	}

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	doc, err := w.parse(ctx, pdf)
	if err != nil {
		return w.fail(ctx, job, log, "parsing", err)
	}
	job.Update(func(p *Progress) { p.Pages = len(doc.Pages) })
	log.Info("parsed drawing", "pages", len(doc.Pages), "spans", doc.SpanCount())

	// Phase 2: Compare with the previous revision
	if w.comp.Comparer != nil {
		job.SetStatus(StatusComparing, "comparing")
		changed, err := w.compare(ctx, job, pdf, log)
		if err != nil {
			return w.fail(ctx, job, log, "comparing", err)
		}
		if changed {
			job.SetStatus(StatusSkipped, "comparing")
			return StatusSkipped
		}
	}

	// Phase 3: Evaluate rules
	job.SetStatus(StatusEvaluating, "evaluating")
	out, err := w.comp.Analyzer.Evaluate(ctx, doc, pdf)
	if err != nil {
		return w.fail(ctx, job, log, "evaluating", err)
	}
	for _, f := range out.Failures {
		job.AddError(fmt.Sprintf("rule %s page %d: %s", f.Rule, f.Page, f.Reason))
	}
	job.Update(func(p *Progress) {
		p.Violations = len(out.Violations)
		p.Failures = len(out.Failures)
	})

	// Phase 4: Cluster
	job.SetStatus(StatusClustering, "clustering")
	findings, reg := w.comp.Analyzer.Build(job.Filename, out)
	job.Update(func(p *Progress) { p.Findings = len(findings) })
	log.Info("clustered findings", "violations", len(out.Violations), "findings", len(findings), "global", len(reg.Global))

	// Phase 5: Render and store artifacts
	job.SetStatus(StatusRendering, "rendering")
	pages, err := w.comp.Analyzer.Render(ctx, pdf, doc, findings)
	if err != nil {
		log.Error("render failed", "error", err)
		job.AddError(fmt.Sprintf("render: %s", err))
	}
	for _, p := range pages {
		if err := w.comp.Store.PutArtifact(ctx, job.RevisionID, store.PageArtifact(p.Page), p.PNG); err != nil {
			return w.fail(ctx, job, log, "rendering", err)
		}
	}
	data, err := analysis.MarshalFindings(reg, out.Failures)
	if err != nil {
		return w.fail(ctx, job, log, "rendering", err)
	}
	if err := w.comp.Store.PutArtifact(ctx, job.RevisionID, store.ArtifactFindings, data); err != nil {
		return w.fail(ctx, job, log, "rendering", err)
	}
	if err := w.comp.Store.PutArtifact(ctx, job.RevisionID, store.ArtifactRegister, []byte(reg.Text())); err != nil {
		return w.fail(ctx, job, log, "rendering", err)
	}
	now := time.Now().UTC()
	if _, err := w.comp.Store.UpdateRevision(ctx, job.RevisionID, func(r *store.Revision) {
		r.AnalysedAt = &now
		r.Findings = reg.Violations()
		r.Error = ""
	}); err != nil {
		return w.fail(ctx, job, log, "rendering", err)
	}

	// Phase 6: Ledger
	job.SetStatus(StatusLedger, "ledger")
	outcome, written, err := w.Ledger(ctx, job.DocumentID, job.RevisionID)
	if err != nil {
		return w.fail(ctx, job, log, "ledger", err)
	}
	job.Update(func(p *Progress) { p.Decisions = len(written) })
	log.Info("ledger evaluated",
		"verdict", outcome.Verdict,
		"regressions", outcome.Regressions,
		"newly_detected", outcome.NewlyDetected,
		"written", len(written),
	)

	job.SetStatus(StatusCompleted, "done")
	return StatusCompleted
}

// Ledger evaluates revision revID against the history up to and including
// it and persists the automatic decisions and verdict. Later revisions do
// not take part. Runs are serialized per document.
func (w *Worker) Ledger(ctx context.Context, docID, revID string) (ledger.Outcome, []ledger.Decision, error) {
	unlock := w.locks.Lock(docID)
	defer unlock()

	history, err := w.comp.Store.LoadHistory(ctx, docID)
	if err != nil {
		return ledger.Outcome{}, nil, fmt.Errorf("load history: %w", err)
	}
	snap, err := history.Through(revID)
	if err != nil {
		return ledger.Outcome{}, nil, err
	}
	outcome, err := ledger.Evaluate(snap, w.comp.Policy)
	if err != nil {
		return ledger.Outcome{}, nil, err
	}
	written, err := w.comp.Store.AppendAutomatic(ctx, outcome.Decisions)
	if err != nil {
		return outcome, nil, fmt.Errorf("append decisions: %w", err)
	}
	for _, d := range written {
		metrics.AutomaticDecisions.WithLabelValues(string(d.Kind)).Inc()
	}
	if _, err := w.comp.Store.SetVerdict(ctx, outcome.RevisionID, outcome.Verdict, outcome.VerdictComment, ledger.SystemAuthor, ledger.RoleSystem); err != nil {
		return outcome, written, fmt.Errorf("set verdict: %w", err)
	}
	return outcome, written, nil
}

// compare asks the comparer whether page 1 still shows the drawing of the
// previous revision. A changed drawing is recorded and rejects the revision.
// Comparison failures never block the analysis.
func (w *Worker) compare(ctx context.Context, job *Job, pdf []byte, log *slog.Logger) (bool, error) {
	prev, err := w.previous(ctx, job)
	if err != nil || prev == nil {
		return false, err
	}
	before, err := w.comp.Store.GetArtifact(ctx, prev.ID, store.ArtifactSource)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if ContentHashHex(before) == job.ContentHash {
		log.Info("revision source unchanged, skipping comparison", "previous", prev.ID)
		return false, nil
	}
	if w.comp.Raster == nil {
		log.Warn("no rasterizer, skipping drawing comparison")
		return false, nil
	}

	dpi := w.comp.DPI
	if dpi <= 0 {
		dpi = 100
	}
	a, err := w.comp.Raster.Rasterize(ctx, before, 1, dpi)
	if err != nil {
		log.Warn("rasterize previous revision failed", "error", err)
		return false, nil
	}
	b, err := w.comp.Raster.Rasterize(ctx, pdf, 1, dpi)
	if err != nil {
		log.Warn("rasterize revision failed", "error", err)
		return false, nil
	}

	cmp, err := w.comp.Comparer.Compare(ctx, judge.PNG(a), judge.PNG(b))
	if err != nil {
		if judge.IsRetryable(err) {
			job.AddError(fmt.Sprintf("compare: %s (transient)", err))
		} else {
			job.AddError(fmt.Sprintf("compare: %s", err))
		}
		log.Warn("drawing comparison failed, analysing anyway", "error", err)
		return false, nil
	}
	log.Info("drawing compared", "similar", cmp.Similar, "confidence", cmp.Confidence)
	if cmp.Similar {
		return false, nil
	}

	unlock := w.locks.Lock(job.DocumentID)
	defer unlock()
	comment := fmt.Sprintf(commentDrawingChanged, cmp.Confidence)
	written, err := w.comp.Store.AppendAutomatic(ctx, []ledger.Decision{{
		RevisionID: job.RevisionID,
		Rule:       RuleSystem,
		Status:     ledger.StatusRejected,
		Kind:       ledger.KindDrawingChanged,
		Key:        "rule:" + RuleSystem,
		Comment:    comment,
	}})
	if err != nil {
		return false, err
	}
	for _, d := range written {
		metrics.AutomaticDecisions.WithLabelValues(string(d.Kind)).Inc()
	}
	if _, err := w.comp.Store.SetVerdict(ctx, job.RevisionID, ledger.VerdictRejected, comment, ledger.SystemAuthor, ledger.RoleSystem); err != nil {
		return false, err
	}
	return true, nil
}

// previous returns the newest revision older than the job's, or nil.
func (w *Worker) previous(ctx context.Context, job *Job) (*store.Revision, error) {
	revs, err := w.comp.Store.ListRevisions(ctx, job.DocumentID)
	if err != nil {
		return nil, err
	}
	var prev *store.Revision
	for i := range revs {
		if revs[i].Version < job.Version && (prev == nil || revs[i].Version > prev.Version) {
			prev = &revs[i]
		}
	}
	return prev, nil
}

func (w *Worker) fail(ctx context.Context, job *Job, log *slog.Logger, phase string, err error) JobStatus {
	log.Error(phase+" failed", "error", err)
	job.AddError(fmt.Sprintf("%s: %s", phase, err))
	if _, uerr := w.comp.Store.UpdateRevision(ctx, job.RevisionID, func(r *store.Revision) {
		r.Error = err.Error()
	}); uerr != nil {
		log.Warn("record revision error failed", "error", uerr)
	}
	job.SetStatus(StatusFailed, phase)
	return StatusFailed
}
