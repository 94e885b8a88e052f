package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestForwarder_EmitEvent(t *testing.T) {
	server := startTestNATSServer(t)

	fwd, err := NewForwarder(server.ClientURL(), "crucible.runs", nil)
	require.NoError(t, err)
	defer fwd.Close()

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("crucible.runs.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	fwd.EmitEvent("plan", map[string]any{
		"run_id":    "run-42",
		"iteration": 0,
		"domain":    "web",
	})
	require.NoError(t, fwd.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "crucible.runs.run-42.plan", msg.Subject)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "run-42", payload["run_id"])
	assert.Equal(t, "web", payload["domain"])
}

func TestForwarder_EmitEvent_MissingRunID(t *testing.T) {
	server := startTestNATSServer(t)

	fwd, err := NewForwarder(server.ClientURL(), "crucible.runs", nil)
	require.NoError(t, err)
	defer fwd.Close()

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("crucible.runs.unknown.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	fwd.EmitEvent("govern", map[string]any{"approved": true})
	require.NoError(t, fwd.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "crucible.runs.unknown.govern", msg.Subject)
}

func TestForwarder_EmitMetric(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	fwd := newForwarderConn(nc, "crucible.runs", nil)

	sub, err := nc.SubscribeSync("crucible.runs.metrics.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	fwd.EmitMetric("run_cost_usd", 0.0123, map[string]string{"domain": "cli"})
	require.NoError(t, fwd.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "crucible.runs.metrics.run_cost_usd", msg.Subject)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.InDelta(t, 0.0123, payload["value"], 1e-9)
}

func TestForwarder_DropsOnClosedConnection(t *testing.T) {
	server := startTestNATSServer(t)

	fwd, err := NewForwarder(server.ClientURL(), "crucible.runs", nil)
	require.NoError(t, err)

	fwd.Close()

	// Publishing after close is dropped, never panics.
	assert.NotPanics(t, func() {
		fwd.EmitEvent("plan", map[string]any{"run_id": "r1"})
		fwd.EmitMetric("x", 1, nil)
	})
}
