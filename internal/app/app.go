// Package app wires configuration into the running service. Both binaries
// build their components here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dgallion1/drawcheck/internal/analysis"
	"github.com/dgallion1/drawcheck/internal/api"
	"github.com/dgallion1/drawcheck/internal/cluster"
	"github.com/dgallion1/drawcheck/internal/collector"
	"github.com/dgallion1/drawcheck/internal/config"
	"github.com/dgallion1/drawcheck/internal/judge"
	"github.com/dgallion1/drawcheck/internal/ledger"
	"github.com/dgallion1/drawcheck/internal/pipeline"
	"github.com/dgallion1/drawcheck/internal/report"
	"github.com/dgallion1/drawcheck/internal/rules"
	"github.com/dgallion1/drawcheck/internal/store"
)

// Catalog loads RULES_FILE, or the embedded catalog when unset.
func Catalog(cfg config.Config) (*rules.Catalog, error) {
	var (
		c   *config.Catalog
		err error
	)
	if cfg.RulesFile != "" {
		c, err = config.LoadCatalog(cfg.RulesFile)
	} else {
		c, err = config.DefaultCatalog()
	}
	if err != nil {
		return nil, err
	}
	return rules.NewCatalog(c)
}

// Judge builds the configured vision backend wrapped with timeout and
// retries. It returns nil for JUDGE_PROVIDER=none.
func Judge(cfg config.Config, log *slog.Logger) *judge.Guarded {
	var inner judge.Judge
	switch cfg.JudgeProvider {
	case "openrouter":
		inner = judge.NewOpenAIJudge(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL, cfg.OpenRouterModel, cfg.CompareModel, log)
	case "anthropic":
		inner = judge.NewClaudeJudge(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	default:
		return nil
	}
	return judge.NewGuarded(inner, cfg.JudgeTimeout, judge.MaxRetries, judge.Backoff, log)
}

// Raster returns pdftoppm when enabled and installed.
func Raster(cfg config.Config, log *slog.Logger) rules.Rasterizer {
	if !cfg.RasterizePdftoppm {
		return nil
	}
	p := report.NewPdftoppm()
	if !p.Available() {
		log.Warn("pdftoppm not found, pages will be drawn on blank sheets")
		return nil
	}
	return p
}

// Analyzer builds the shared analysis batch. j may be nil.
func Analyzer(cfg config.Config, cat *rules.Catalog, j *judge.Guarded, raster rules.Rasterizer, log *slog.Logger) *analysis.Analyzer {
	copts := cluster.OptionsFrom(cat.Cluster)
	opts := analysis.Options{
		Raster:   raster,
		DPI:      cfg.RenderDPI,
		Fallback: cfg.PDFFallbackPdftotext,
		Collect: collector.Options{
			Timeout:     cfg.EvaluatorTimeout,
			Concurrency: cfg.EvaluatorConcurrency,
		},
		ClusterOpts: &copts,
	}
	// A typed nil *Guarded must not reach the rules as a non-nil interface.
	if j != nil {
		opts.Judge = j
	}
	return analysis.New(cat, opts, log)
}

// Serve runs the HTTP service until ctx is cancelled.
func Serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	cat, err := Catalog(cfg)
	if err != nil {
		return fmt.Errorf("load rule catalog: %w", err)
	}
	policy, err := ledger.ParsePolicy(cfg.LedgerPolicy)
	if err != nil {
		return err
	}

	scfg := store.DefaultConfig(filepath.Join(cfg.DataDir, "db"))
	scfg.Logger = log
	st, err := store.Open(scfg)
	if err != nil {
		return err
	}
	defer st.Close()

	j := Judge(cfg, log)
	raster := Raster(cfg, log)
	an := Analyzer(cfg, cat, j, raster, log)

	comp := pipeline.Components{
		Store:    st,
		Analyzer: an,
		Raster:   raster,
		Policy:   policy,
		DPI:      cfg.RenderDPI,
	}
	if j != nil {
		comp.Comparer = j
	}
	orch := pipeline.NewOrchestrator(cfg, comp, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, st, an, j, log, cfg)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting drawcheck",
			"port", cfg.Port,
			"judge", cfg.JudgeProvider,
			"policy", policy.String(),
			"workers", cfg.WorkerCount,
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		orch.Stop()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	orch.Stop()
	return nil
}

// Logger builds the JSON process logger.
func Logger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
