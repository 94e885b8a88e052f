// Package config provides configuration loading for crucible.
//
// Configuration is loaded from a YAML file with environment variable
// overrides (CRUCIBLE_ prefix). Orchestration tunables, provider models,
// memory backend selection, governance policy knobs, and per-domain
// packs all live in one document.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Backend names accepted by MemoryConfig.Backend.
const (
	MemoryBackendInMem  = "inmem"
	MemoryBackendSQLite = "sqlite"
)

var (
	// ErrInvalidConfig indicates a configuration document that failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds the complete crucible configuration.
type Config struct {
	Logging       LoggingConfig         `koanf:"logging"`
	Telemetry     TelemetryConfig       `koanf:"telemetry"`
	Providers     ProvidersConfig       `koanf:"providers"`
	Memory        MemoryConfig          `koanf:"memory"`
	Governance    GovernanceConfig      `koanf:"governance"`
	Orchestration OrchestrationConfig   `koanf:"orchestration"`
	Domains       map[string]DomainPack `koanf:"domains"`

	// PacksDir optionally points at a directory of per-domain pack files
	// that can be hot-reloaded at runtime. Empty disables the watcher.
	PacksDir string `koanf:"packs_dir"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls the OTLP exporters and the optional NATS
// event forwarder. Disabled telemetry still leaves the engine fully
// functional; events fall through to the log emitter.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	ServiceVersion  string   `koanf:"service_version"`
	SamplingRate    float64  `koanf:"sampling_rate"`
	MetricsEnabled  bool     `koanf:"metrics_enabled"`
	ExportInterval  Duration `koanf:"export_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`

	NATSURL           string `koanf:"nats_url"`
	NATSSubjectPrefix string `koanf:"nats_subject_prefix"`
}

// ProvidersConfig names the concrete model per backend family and the
// request pacing applied to every outbound provider call. Credentials
// are not configured here; they come from the secrets loader.
//
// OllamaHost intentionally has no default: the local backend counts as
// configured only when a host is given here or via OLLAMA_HOST, so a
// bare install runs offline instead of probing localhost.
type ProvidersConfig struct {
	AnthropicModel string   `koanf:"anthropic_model"`
	OpenAIModel    string   `koanf:"openai_model"`
	OllamaModel    string   `koanf:"ollama_model"`
	OllamaHost     string   `koanf:"ollama_host"`
	RateRPS        float64  `koanf:"rate_rps"`
	RateBurst      int      `koanf:"rate_burst"`
	MaxTokens      int      `koanf:"max_tokens"`
	Timeout        Duration `koanf:"timeout"`
}

// MemoryConfig selects the memory store backend.
type MemoryConfig struct {
	Backend   string `koanf:"backend"`
	Path      string `koanf:"path"`
	MaxScopes int    `koanf:"max_scopes"`
}

// GovernanceConfig tunes the governance policy.
type GovernanceConfig struct {
	ConfidenceFloor float64 `koanf:"confidence_floor"`
	AutoApprove     bool    `koanf:"auto_approve"`
	AllowlistPath   string  `koanf:"allowlist_path"`
}

// OrchestrationConfig carries the run-loop tunables.
type OrchestrationConfig struct {
	MaxIterations       int     `koanf:"max_iterations"`
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
	LowCostThreshold    float64 `koanf:"low_cost_threshold"`
}

// Default returns a Config populated with production defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "crucible"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}
	if cfg.Telemetry.NATSSubjectPrefix == "" {
		cfg.Telemetry.NATSSubjectPrefix = "crucible.runs"
	}

	if cfg.Providers.AnthropicModel == "" {
		cfg.Providers.AnthropicModel = "claude-sonnet-4-5-20250929"
	}
	if cfg.Providers.OpenAIModel == "" {
		cfg.Providers.OpenAIModel = "gpt-4o"
	}
	if cfg.Providers.OllamaModel == "" {
		cfg.Providers.OllamaModel = "codellama:13b"
	}
	if cfg.Providers.RateRPS == 0 {
		cfg.Providers.RateRPS = 50.0 / 60.0
	}
	if cfg.Providers.RateBurst == 0 {
		cfg.Providers.RateBurst = 5
	}
	if cfg.Providers.MaxTokens == 0 {
		cfg.Providers.MaxTokens = 4096
	}
	if cfg.Providers.Timeout == 0 {
		cfg.Providers.Timeout = Duration(60 * time.Second)
	}

	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = MemoryBackendInMem
	}
	if cfg.Memory.MaxScopes == 0 {
		cfg.Memory.MaxScopes = 32
	}

	if cfg.Governance.ConfidenceFloor == 0 {
		cfg.Governance.ConfidenceFloor = 0.5
	}

	if cfg.Orchestration.MaxIterations == 0 {
		cfg.Orchestration.MaxIterations = 5
	}
	if cfg.Orchestration.ConfidenceThreshold == 0 {
		cfg.Orchestration.ConfidenceThreshold = 0.8
	}
	if cfg.Orchestration.LowCostThreshold == 0 {
		cfg.Orchestration.LowCostThreshold = 0.05
	}

	if cfg.Domains == nil {
		cfg.Domains = map[string]DomainPack{}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging format must be 'json' or 'console', got %q", ErrInvalidConfig, c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("%w: telemetry endpoint required when enabled", ErrInvalidConfig)
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			return fmt.Errorf("%w: telemetry protocol must be 'grpc' or 'http/protobuf', got %q", ErrInvalidConfig, c.Telemetry.Protocol)
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("%w: telemetry sampling_rate must be in [0,1], got %f", ErrInvalidConfig, c.Telemetry.SamplingRate)
		}
	}

	if c.Providers.RateRPS < 0 {
		return fmt.Errorf("%w: providers rate_rps cannot be negative", ErrInvalidConfig)
	}
	if c.Providers.RateBurst < 0 {
		return fmt.Errorf("%w: providers rate_burst cannot be negative", ErrInvalidConfig)
	}

	switch c.Memory.Backend {
	case MemoryBackendInMem:
	case MemoryBackendSQLite:
		if c.Memory.Path == "" {
			return fmt.Errorf("%w: memory path required for sqlite backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown memory backend %q", ErrInvalidConfig, c.Memory.Backend)
	}
	if c.Memory.MaxScopes < 1 {
		return fmt.Errorf("%w: memory max_scopes must be >= 1", ErrInvalidConfig)
	}

	if c.Governance.ConfidenceFloor < 0 || c.Governance.ConfidenceFloor > 1 {
		return fmt.Errorf("%w: governance confidence_floor must be in [0,1]", ErrInvalidConfig)
	}

	if c.Orchestration.MaxIterations < 1 {
		return fmt.Errorf("%w: orchestration max_iterations must be >= 1", ErrInvalidConfig)
	}
	if c.Orchestration.ConfidenceThreshold < 0 || c.Orchestration.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: orchestration confidence_threshold must be in [0,1]", ErrInvalidConfig)
	}
	if c.Orchestration.LowCostThreshold < 0 {
		return fmt.Errorf("%w: orchestration low_cost_threshold cannot be negative", ErrInvalidConfig)
	}

	return nil
}
