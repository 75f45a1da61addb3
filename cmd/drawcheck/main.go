// Package main provides the drawcheck command line: one-off analysis of a
// drawing, the document-type regex helper and the HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgallion1/drawcheck/internal/analysis"
	"github.com/dgallion1/drawcheck/internal/app"
	"github.com/dgallion1/drawcheck/internal/config"
	"github.com/dgallion1/drawcheck/internal/report"
	"github.com/dgallion1/drawcheck/internal/rules"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           "drawcheck",
		Short:         "Drawing compliance checks for PDF revisions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(analyzeCmd(&logLevel), regexCmd(), serveCmd(&logLevel))
	return cmd
}

func analyzeCmd(logLevel *string) *cobra.Command {
	var (
		outDir    string
		rulesFile string
		dpi       int
		perRule   bool
		noJudge   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <file.pdf>",
		Short: "Check one drawing and print its register",
		Long: `Runs every rule over the drawing and prints the textual register.
With --out the register, findings.json and annotated page PNGs are written
to the directory; --per-rule adds one annotated set per violated rule.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := app.Logger(*logLevel)
			cfg := config.Load()
			if rulesFile != "" {
				cfg.RulesFile = rulesFile
			}
			if dpi > 0 {
				cfg.RenderDPI = dpi
			}
			if noJudge {
				cfg.JudgeProvider = "none"
			}

			cat, err := app.Catalog(cfg)
			if err != nil {
				return err
			}
			pdf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			an := app.Analyzer(cfg, cat, app.Judge(cfg, log), app.Raster(cfg, log), log)

			ctx := cmd.Context()
			res, err := an.Analyze(ctx, filepath.Base(args[0]), pdf, outDir != "")
			if err != nil {
				return err
			}
			if _, err := res.Register.WriteTo(cmd.OutOrStdout()); err != nil {
				return err
			}
			for _, f := range res.Outcome.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "rule %s page %d not evaluated: %s\n", f.Rule, f.Page, f.Error)
			}
			if outDir == "" {
				return nil
			}
			return writeOutputs(ctx, outDir, an, pdf, res, perRule)
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory for the register, findings.json and annotated pages")
	cmd.Flags().StringVar(&rulesFile, "rules", "", "Rule catalog YAML (default: embedded)")
	cmd.Flags().IntVar(&dpi, "dpi", 0, "Raster resolution of annotated pages")
	cmd.Flags().BoolVar(&perRule, "per-rule", false, "Also write annotated pages per violated rule")
	cmd.Flags().BoolVar(&noJudge, "no-judge", false, "Skip the vision judge even when configured")
	return cmd
}

func writeOutputs(ctx context.Context, dir string, an *analysis.Analyzer, pdf []byte, res *analysis.Result, perRule bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	write := func(name string, data []byte) error {
		return os.WriteFile(filepath.Join(dir, name), data, 0o644)
	}
	if err := write("register.txt", []byte(res.Register.Text())); err != nil {
		return err
	}
	data, err := analysis.MarshalFindings(res.Register, res.Outcome.Failures)
	if err != nil {
		return err
	}
	if err := write("findings.json", data); err != nil {
		return err
	}
	for _, p := range res.Pages {
		if err := write(fmt.Sprintf("page-%03d.png", p.Page), p.PNG); err != nil {
			return err
		}
	}
	if !perRule {
		return nil
	}
	for _, rule := range report.RulesOf(res.Findings) {
		pages, err := an.Annotator.Pages(ctx, pdf, res.Doc, report.FilterByRule(res.Findings, rule), report.RuleLabel(rule))
		if err != nil {
			return err
		}
		for _, p := range pages {
			name := fmt.Sprintf("rule-%s-page-%03d.png", strings.ReplaceAll(rule, ".", "_"), p.Page)
			if err := write(name, p.PNG); err != nil {
				return err
			}
		}
	}
	return nil
}

func regexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regex <document type name>",
		Short: "Print the stemming regex generated for a document type name",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), rules.NamePattern(strings.Join(args, " ")))
		},
	}
}

func serveCmd(logLevel *string) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (configured from the environment)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if port != "" {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Serve(ctx, cfg, app.Logger(*logLevel))
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (default: $PORT or 8090)")
	return cmd
}
