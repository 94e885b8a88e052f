package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/crucible/internal/logging"
)

// recordingSink captures emissions for fan-out assertions.
type recordingSink struct {
	mu      sync.Mutex
	events  []string
	metrics []string
}

func (r *recordingSink) EmitEvent(stage string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, stage)
}

func (r *recordingSink) EmitMetric(name string, _ float64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, name)
}

func TestNoopSink(t *testing.T) {
	var s NoopSink
	assert.NotPanics(t, func() {
		s.EmitEvent("plan", map[string]any{"run_id": "r1"})
		s.EmitMetric("runs_total", 1, nil)
	})
}

func TestLogSink_EmitEvent(t *testing.T) {
	tl := logging.NewTestLogger()
	sink := NewLogSink(tl.Logger, nil)

	sink.EmitEvent("validate", map[string]any{
		"run_id":    "run-1",
		"iteration": 2,
	})

	entries := tl.FilterMessage("run event").All()
	require.Len(t, entries, 1)
	tl.AssertField(t, "run event", "stage", "validate")
	tl.AssertField(t, "run event", "run_id", "run-1")
}

func TestLogSink_ScrubsPayload(t *testing.T) {
	tl := logging.NewTestLogger()
	scrub := func(payload map[string]any) map[string]any {
		out := make(map[string]any, len(payload))
		for k, v := range payload {
			if k == "api_key" {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = v
		}
		return out
	}
	sink := NewLogSink(tl.Logger, scrub)

	sink.EmitEvent("generate", map[string]any{
		"run_id":  "run-2",
		"api_key": "sk-live-abc123",
	})

	tl.AssertField(t, "run event", "api_key", "[REDACTED]")
	tl.AssertNoSecrets(t)
}

func TestLogSink_EmitMetric(t *testing.T) {
	tl := logging.NewTestLogger()
	sink := NewLogSink(tl.Logger, nil)

	sink.EmitMetric("stage_duration_seconds", 0.42, map[string]string{"stage": "review"})

	tl.AssertLogged(t, zapcore.DebugLevel, "run metric")
	tl.AssertField(t, "run metric", "metric", "stage_duration_seconds")
	tl.AssertField(t, "run metric", "stage", "review")
}

func TestLogSink_NilLogger(t *testing.T) {
	sink := NewLogSink(nil, nil)
	assert.NotPanics(t, func() {
		sink.EmitEvent("plan", nil)
		sink.EmitMetric("x", 1, nil)
	})
}

func TestMultiSink_FansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}

	multi := NewMultiSink(a, nil, b)

	multi.EmitEvent("reflect", map[string]any{"run_id": "r1"})
	multi.EmitMetric("iterations_total", 3, nil)

	assert.Equal(t, []string{"reflect"}, a.events)
	assert.Equal(t, []string{"reflect"}, b.events)
	assert.Equal(t, []string{"iterations_total"}, a.metrics)
	assert.Equal(t, []string{"iterations_total"}, b.metrics)
}
