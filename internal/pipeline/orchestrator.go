package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/drawcheck/internal/analysis"
	"github.com/dgallion1/drawcheck/internal/config"
	"github.com/dgallion1/drawcheck/internal/judge"
	"github.com/dgallion1/drawcheck/internal/ledger"
	"github.com/dgallion1/drawcheck/internal/rules"
	"github.com/dgallion1/drawcheck/internal/store"
)

// Components are the long-lived services a worker runs against.
type Components struct {
	Store    *store.Store
	Analyzer *analysis.Analyzer
	// Comparer checks whether a new revision still shows the same drawing.
	// Nil disables the check.
	Comparer judge.Judge
	Raster   rules.Rasterizer
	Policy   ledger.Policy
	DPI      int
}

// Orchestrator manages the revision analysis pipeline.
type Orchestrator struct {
	jobs  *JobStore
	queue chan *Job
	comp  Components
	locks *DocLocks
	log   *slog.Logger
	cfg   config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(cfg config.Config, comp Components, log *slog.Logger) *Orchestrator {
	if !cfg.CompareRevisions {
		comp.Comparer = nil
	}
	return &Orchestrator{
		jobs:  NewJobStore(cfg.JobTTL),
		queue: make(chan *Job, cfg.MaxQueueSize),
		comp:  comp,
		locks: NewDocLocks(),
		log:   log,
		cfg:   cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.comp, o.locks, o.log)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// JobForRevision returns the newest tracked job of a revision.
func (o *Orchestrator) JobForRevision(revisionID string) *Job {
	return o.jobs.ForRevision(revisionID)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Locks serializes ledger runs and manual decisions per document.
func (o *Orchestrator) Locks() *DocLocks {
	return o.locks
}

// DocLocks hands out one mutex per document id.
type DocLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func NewDocLocks() *DocLocks {
	return &DocLocks{m: make(map[string]*sync.Mutex)}
}

// Lock acquires the document's mutex and returns its unlock func.
func (l *DocLocks) Lock(docID string) func() {
	l.mu.Lock()
	m, ok := l.m[docID]
	if !ok {
		m = &sync.Mutex{}
		l.m[docID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
