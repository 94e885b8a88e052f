package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/telemetry"
	"github.com/fyrsmithlabs/crucible/pkg/pipeline"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check provider, memory, and telemetry health",
	Long: `Doctor reports which provider backends are configured, whether the
memory store is reachable, and whether telemetry is healthy. It makes
no provider calls and is safe to run anywhere.`,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "config: ok (memory=%s, max_iterations=%d)\n",
		cfg.Memory.Backend, cfg.Orchestration.MaxIterations)

	engine, err := pipeline.New(cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	backends := engine.Backends()
	if len(backends) == 0 {
		fmt.Fprintln(out, "providers: none configured (runs execute offline)")
	} else {
		for _, b := range backends {
			fmt.Fprintf(out, "provider: %s model=%s\n", b.Family, b.Model)
		}
	}

	if err := probeMemory(cmd, engine); err != nil {
		fmt.Fprintf(out, "memory: FAIL (%v)\n", err)
	} else {
		fmt.Fprintln(out, "memory: ok")
	}

	ctx := cmd.Context()
	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry))
	if err != nil {
		fmt.Fprintf(out, "telemetry: FAIL (%v)\n", err)
		return nil
	}
	health := tel.Health()
	switch {
	case !cfg.Telemetry.Enabled:
		fmt.Fprintln(out, "telemetry: disabled")
	case health.Degraded:
		fmt.Fprintln(out, "telemetry: degraded (collector unreachable, engine unaffected)")
	default:
		fmt.Fprintln(out, "telemetry: ok")
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = tel.Shutdown(shutdownCtx)

	return nil
}

// probeMemory verifies the memory store with a write/read round trip
// under a throwaway scope.
func probeMemory(cmd *cobra.Command, engine *pipeline.Engine) error {
	ctx := cmd.Context()
	key := uuid.NewString()

	if err := engine.Memory().Store(ctx, "doctor", key, "ok"); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	got, err := engine.Memory().Retrieve(ctx, "doctor", key, "")
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	if got != "ok" {
		return fmt.Errorf("retrieve returned %q, want %q", got, "ok")
	}
	return nil
}
