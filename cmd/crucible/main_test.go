package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/cost"
	"github.com/fyrsmithlabs/crucible/internal/engine"
	"github.com/fyrsmithlabs/crucible/internal/telemetry"
	"github.com/fyrsmithlabs/crucible/pkg/pipeline"
)

func TestPrintSummary(t *testing.T) {
	t.Run("covers every concern on its own line", func(t *testing.T) {
		result := &pipeline.RunResult{
			RunID:      "run-1",
			Domain:     "web",
			Iterations: 2,
			Confidence: 0.84,
			Plan: &engine.Plan{
				Text:     "plan",
				Epics:    []string{"a", "b", "c"},
				Provider: "claude-sonnet-4-5",
			},
			CodeSource:   engine.CodeSourceProvider,
			Validation:   &engine.Validation{Passes: true, Coverage: 0.72},
			ReviewModels: []string{"claude-sonnet-4-5", "gpt-4o"},
			CostSummary:  cost.Summary{Tokens: 1234, TotalCost: 0.0123},
			Elapsed:      1502 * time.Millisecond,
		}

		var buf bytes.Buffer
		printSummary(&buf, result)

		out := buf.String()
		assert.Contains(t, out, "run run-1 domain=web iterations=2 confidence=0.84")
		assert.Contains(t, out, "plan: 3 epics via claude-sonnet-4-5")
		assert.Contains(t, out, "code: source=provider")
		assert.Contains(t, out, "validation: passes=true coverage=0.72")
		assert.Contains(t, out, "review: 2 model(s)")
		assert.Contains(t, out, "governance: blocked=false")
		assert.Contains(t, out, "cost: 1234 tokens (0.0123)")
		assert.Contains(t, out, "elapsed: 1.502s")
	})

	t.Run("omits plan and validation lines when absent", func(t *testing.T) {
		result := &pipeline.RunResult{
			RunID:      "run-2",
			Domain:     "general",
			CodeSource: engine.CodeSourceOffline,
		}

		var buf bytes.Buffer
		printSummary(&buf, result)

		out := buf.String()
		assert.NotContains(t, out, "plan:")
		assert.NotContains(t, out, "validation:")
		assert.NotContains(t, out, "review:")
		assert.Contains(t, out, "code: source=offline-stub")
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("builds from config defaults", func(t *testing.T) {
		cfg := config.Default()
		tel, err := telemetry.New(t.Context(), telemetry.NewDefaultConfig())
		require.NoError(t, err)

		logger, err := newLogger(cfg, tel)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		cfg := config.Default()
		cfg.Logging.Level = "shouting"
		tel, err := telemetry.New(t.Context(), telemetry.NewDefaultConfig())
		require.NoError(t, err)

		_, err = newLogger(cfg, tel)
		assert.ErrorContains(t, err, "shouting")
	})
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)

	assert.Contains(t, buf.String(), "crucible by Fyrsmith Labs")
	assert.Contains(t, buf.String(), "Version:")
}
