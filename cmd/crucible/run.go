package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/logging"
	"github.com/fyrsmithlabs/crucible/internal/telemetry"
	"github.com/fyrsmithlabs/crucible/pkg/pipeline"
)

var (
	runDomain      string
	runVuln        bool
	runJSON        bool
	runMetricsAddr string
	runTimeout     time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run one task through the role pipeline",
	Long: `Run one task through the bounded role pipeline and print the final
code to stdout, with a run summary on stderr.

Examples:
  # Offline run (no credentials set)
  crucible run "write a function that parses ISO timestamps"

  # Security-sensitive task, routed to the high-capability backend
  crucible run --domain web --vuln "add input validation to the login form"

  # Full result as JSON
  crucible run --json "write a retry wrapper" > result.json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runDomain, "domain", "general", "domain pack controlling prompt enhancements")
	runCmd.Flags().BoolVar(&runVuln, "vuln", false, "security-sensitive task: bypass cost routing")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full run result as JSON")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "abort the run after this duration (0 = no limit)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := newLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if runMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: runMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn(ctx, "metrics listener failed", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	engine, err := pipeline.New(cfg, pipeline.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	if engine.Offline() {
		logger.Info(ctx, "no provider configured, running offline")
	}

	result, err := engine.RunMode(ctx, runDomain, args[0], runVuln)
	if err != nil {
		return err
	}

	if runJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printSummary(cmd.ErrOrStderr(), result)
	fmt.Fprintln(cmd.OutOrStdout(), result.Code)
	return nil
}

// printSummary writes the human run summary to w, one line per
// concern, stable enough to grep in scripts.
func printSummary(w io.Writer, r *pipeline.RunResult) {
	fmt.Fprintf(w, "run %s domain=%s iterations=%d confidence=%.2f\n",
		r.RunID, r.Domain, r.Iterations, r.Confidence)
	if r.Plan != nil {
		fmt.Fprintf(w, "plan: %d epics via %s\n", len(r.Plan.Epics), r.Plan.Provider)
	}
	fmt.Fprintf(w, "code: source=%s\n", r.CodeSource)
	if r.Validation != nil {
		fmt.Fprintf(w, "validation: passes=%t coverage=%.2f\n", r.Validation.Passes, r.Validation.Coverage)
	}
	if len(r.ReviewModels) > 0 {
		fmt.Fprintf(w, "review: %d model(s)\n", len(r.ReviewModels))
	}
	fmt.Fprintf(w, "governance: blocked=%t\n", r.GovernanceBlocked)
	fmt.Fprintf(w, "cost: %d tokens (%.4f)\n", r.CostSummary.Tokens, r.CostSummary.TotalCost)
	fmt.Fprintf(w, "elapsed: %s\n", r.Elapsed.Round(time.Millisecond))
}

// newLogger builds the CLI logger from config, bridged into the OTel
// collector when telemetry is enabled.
func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Logging.Level, err)
	}

	lc := logging.NewDefaultConfig()
	lc.Level = level
	lc.Format = cfg.Logging.Format
	lc.Output.OTEL = tel.IsEnabled()

	return logging.NewLogger(lc, tel.LoggerProvider())
}
