package config

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Orchestration.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want 5", cfg.Orchestration.MaxIterations)
	}
	if cfg.Orchestration.ConfidenceThreshold != 0.8 {
		t.Errorf("ConfidenceThreshold = %f, want 0.8", cfg.Orchestration.ConfidenceThreshold)
	}
	if cfg.Orchestration.LowCostThreshold != 0.05 {
		t.Errorf("LowCostThreshold = %f, want 0.05", cfg.Orchestration.LowCostThreshold)
	}
	if cfg.Memory.Backend != MemoryBackendInMem {
		t.Errorf("Memory.Backend = %q, want %q", cfg.Memory.Backend, MemoryBackendInMem)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = true, want false by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v, want nil", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "bad logging format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantSub: "logging format",
		},
		{
			name: "telemetry enabled without endpoint",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Endpoint = ""
			},
			wantSub: "endpoint",
		},
		{
			name: "telemetry bad protocol",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Protocol = "carrier-pigeon"
			},
			wantSub: "protocol",
		},
		{
			name:    "unknown memory backend",
			mutate:  func(c *Config) { c.Memory.Backend = "redis" },
			wantSub: "memory backend",
		},
		{
			name: "sqlite backend requires a path",
			mutate: func(c *Config) {
				c.Memory.Backend = MemoryBackendSQLite
				c.Memory.Path = ""
			},
			wantSub: "path required",
		},
		{
			name:    "negative rate",
			mutate:  func(c *Config) { c.Providers.RateRPS = -1 },
			wantSub: "rate_rps",
		},
		{
			name:    "confidence threshold out of range",
			mutate:  func(c *Config) { c.Orchestration.ConfidenceThreshold = 1.5 },
			wantSub: "confidence_threshold",
		},
		{
			name:    "governance floor out of range",
			mutate:  func(c *Config) { c.Governance.ConfidenceFloor = -0.1 },
			wantSub: "confidence_floor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v, want 90s", d.Duration())
	}

	if err := d.UnmarshalText([]byte("-5s")); err == nil {
		t.Error("UnmarshalText(-5s) = nil, want error for negative duration")
	}

	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("UnmarshalText(garbage) = nil, want error")
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-ant-super-secret")

	if got := s.String(); got != "[REDACTED]" {
		t.Errorf("String() = %q, want [REDACTED]", got)
	}
	if got := s.Value(); got != "sk-ant-super-secret" {
		t.Errorf("Value() = %q, want the raw secret", got)
	}
	if !s.IsSet() {
		t.Error("IsSet() = false, want true")
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `"[REDACTED]"` {
		t.Errorf("Marshal() = %s, want redacted", data)
	}

	var empty Secret
	if empty.String() != "" {
		t.Errorf("empty Secret String() = %q, want empty", empty.String())
	}
	if empty.IsSet() {
		t.Error("empty Secret IsSet() = true, want false")
	}
}

func TestSecret_UnmarshalJSON(t *testing.T) {
	var s Secret
	if err := json.Unmarshal([]byte(`"raw-value"`), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s.Value() != "raw-value" {
		t.Errorf("Value() = %q, want raw-value", s.Value())
	}
}
