package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/crucible/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, "crucible", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval.Duration())
	assert.Equal(t, "crucible.runs", cfg.NATS.SubjectPrefix)

	require.NoError(t, cfg.Validate())
}

func TestFromConfig(t *testing.T) {
	section := config.Default().Telemetry
	section.Enabled = true
	section.Endpoint = "127.0.0.1:4317"
	section.Insecure = true
	section.NATSURL = "nats://127.0.0.1:4222"

	cfg := FromConfig(section)

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "127.0.0.1:4317", cfg.Endpoint)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, "crucible", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval.Duration())
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout.Duration())
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "crucible.runs", cfg.NATS.SubjectPrefix)

	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "disabled skips validation",
			mutate: func(c *Config) { c.Enabled = false; c.Endpoint = "" },
		},
		{
			name:    "missing endpoint",
			mutate:  func(c *Config) { c.Endpoint = "" },
			wantErr: "endpoint is required",
		},
		{
			name:    "unknown protocol",
			mutate:  func(c *Config) { c.Protocol = "thrift" },
			wantErr: "protocol must be",
		},
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.ServiceName = "" },
			wantErr: "service_name is required",
		},
		{
			name:    "missing service version",
			mutate:  func(c *Config) { c.ServiceVersion = "" },
			wantErr: "service_version is required",
		},
		{
			name:    "insecure remote endpoint",
			mutate:  func(c *Config) { c.Endpoint = "collector.example.com:4317" },
			wantErr: "insecure connections to remote endpoints",
		},
		{
			name:   "secure remote endpoint",
			mutate: func(c *Config) { c.Endpoint = "collector.example.com:4317"; c.Insecure = false },
		},
		{
			name:    "sampling rate above one",
			mutate:  func(c *Config) { c.Sampling.Rate = 1.5 },
			wantErr: "sampling.rate",
		},
		{
			name:    "sampling rate negative",
			mutate:  func(c *Config) { c.Sampling.Rate = -0.1 },
			wantErr: "sampling.rate",
		},
		{
			name:    "zero export interval",
			mutate:  func(c *Config) { c.Metrics.ExportInterval = config.Duration(0) },
			wantErr: "export_interval",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Shutdown.Timeout = config.Duration(0) },
			wantErr: "shutdown.timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"127.0.0.1:4317", true},
		{"127.0.0.5:4317", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"collector.example.com:4317", false},
		{"10.0.0.5:4317", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.want, cfg.isLocalEndpoint())
		})
	}
}
