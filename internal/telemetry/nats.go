package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crucible/internal/logging"
)

// Forwarder publishes run events to NATS subjects of the form
//
//	<prefix>.<run_id>.<stage>
//
// so downstream consumers can subscribe per run or per stage with
// wildcards. Publishing is best-effort: failures are logged at debug
// level and the event is dropped. A run never fails because the bus
// is down.
type Forwarder struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
}

var _ Sink = (*Forwarder)(nil)

// NewForwarder connects to NATS and returns a forwarder publishing
// under subjectPrefix.
func NewForwarder(url, subjectPrefix string, logger *logging.Logger) (*Forwarder, error) {
	nc, err := nats.Connect(url,
		nats.Name("crucible-telemetry"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Forwarder{nc: nc, prefix: subjectPrefix, logger: logger}, nil
}

// newForwarderConn wraps an existing connection, for tests.
func newForwarderConn(nc *nats.Conn, subjectPrefix string, logger *logging.Logger) *Forwarder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Forwarder{nc: nc, prefix: subjectPrefix, logger: logger}
}

// EmitEvent publishes the payload as JSON. The run ID is read from the
// payload's "run_id" key; events without one are published under
// "unknown".
func (f *Forwarder) EmitEvent(stage string, payload map[string]any) {
	runID := "unknown"
	if v, ok := payload["run_id"].(string); ok && v != "" {
		runID = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		f.logger.Debug(context.Background(), "dropping run event",
			zap.String("stage", stage),
			zap.Error(err),
		)
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", f.prefix, runID, stage)
	if err := f.nc.Publish(subject, data); err != nil {
		f.logger.Debug(context.Background(), "dropping run event",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// EmitMetric publishes a scalar sample under <prefix>.metrics.<name>.
func (f *Forwarder) EmitMetric(name string, value float64, tags map[string]string) {
	data, err := json.Marshal(map[string]any{
		"name":  name,
		"value": value,
		"tags":  tags,
		"ts":    time.Now().UTC(),
	})
	if err != nil {
		return
	}

	subject := fmt.Sprintf("%s.metrics.%s", f.prefix, name)
	if err := f.nc.Publish(subject, data); err != nil {
		f.logger.Debug(context.Background(), "dropping metric sample",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// Flush forces buffered publishes out, for tests and shutdown.
func (f *Forwarder) Flush() error {
	return f.nc.Flush()
}

// Close drains the connection.
func (f *Forwarder) Close() {
	if f.nc != nil && !f.nc.IsClosed() {
		f.nc.Close()
	}
}
