package telemetry

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crucible/internal/logging"
)

// Sink receives per-stage run events and scalar metrics from the
// engine. Delivery is fire-and-forget: implementations must not block
// the run loop and must swallow their own failures.
type Sink interface {
	EmitEvent(stage string, payload map[string]any)
	EmitMetric(name string, value float64, tags map[string]string)
}

// ScrubFunc redacts sensitive values from an event payload before it
// leaves the process. It must return a copy; the engine may reuse the
// input map.
type ScrubFunc func(map[string]any) map[string]any

// NoopSink discards everything.
type NoopSink struct{}

var _ Sink = (*NoopSink)(nil)

func (NoopSink) EmitEvent(string, map[string]any)              {}
func (NoopSink) EmitMetric(string, float64, map[string]string) {}

// LogSink writes events and metrics to the structured logger. Payloads
// pass through the scrub function first so secret material never
// reaches the log stream.
type LogSink struct {
	logger *logging.Logger
	scrub  ScrubFunc
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a sink backed by logger. A nil scrub leaves
// payloads untouched.
func NewLogSink(logger *logging.Logger, scrub ScrubFunc) *LogSink {
	return &LogSink{logger: logger, scrub: scrub}
}

func (s *LogSink) EmitEvent(stage string, payload map[string]any) {
	if s.logger == nil {
		return
	}
	if s.scrub != nil {
		payload = s.scrub(payload)
	}
	fields := make([]zap.Field, 0, len(payload)+1)
	fields = append(fields, zap.String("stage", stage))
	for k, v := range payload {
		fields = append(fields, zap.Any(k, v))
	}
	s.logger.Info(context.Background(), "run event", fields...)
}

func (s *LogSink) EmitMetric(name string, value float64, tags map[string]string) {
	if s.logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(tags)+2)
	fields = append(fields,
		zap.String("metric", name),
		zap.Float64("value", value),
	)
	for k, v := range tags {
		fields = append(fields, zap.String(k, v))
	}
	s.logger.Debug(context.Background(), "run metric", fields...)
}

// MultiSink fans out to several sinks in order.
type MultiSink struct {
	sinks []Sink
}

var _ Sink = (*MultiSink)(nil)

// NewMultiSink combines sinks. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiSink{sinks: out}
}

func (m *MultiSink) EmitEvent(stage string, payload map[string]any) {
	for _, s := range m.sinks {
		s.EmitEvent(stage, payload)
	}
}

func (m *MultiSink) EmitMetric(name string, value float64, tags map[string]string) {
	for _, s := range m.sinks {
		s.EmitMetric(name, value, tags)
	}
}
