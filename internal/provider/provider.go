// Package provider abstracts zero or more LLM backends behind a
// uniform generate call, with alias resolution, family detection,
// cost-aware routing, and per-backend rate limiting.
//
// Zero configured backends is a supported mode, not an error: the
// registry reports itself offline and roles fall back to their
// deterministic stubs.
package provider

import (
	"errors"
	"strings"
)

// Family identifies a backend by its API surface.
type Family string

const (
	FamilyAnthropic Family = "anthropic"
	FamilyOpenAI    Family = "openai"
	FamilyOllama    Family = "ollama"
	FamilyUnknown   Family = "unknown"
)

// familyOrder is the fixed fallback and aggregation order. Routing and
// the Reviewer's result ordering both depend on it being stable.
var familyOrder = []Family{FamilyAnthropic, FamilyOpenAI, FamilyOllama}

// ErrNoBackend is returned by Generate when the resolved model's
// family has no configured backend.
var ErrNoBackend = errors.New("no backend configured for model")

// Result is one completed generation.
type Result struct {
	Text   string
	Model  string
	Tokens int
}

// BackendInfo describes one configured backend, for availability
// snapshots and the doctor command.
type BackendInfo struct {
	Family Family
	Model  string
}

// FamilyOf detects the backend family from a concrete model name.
func FamilyOf(model string) Family {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return FamilyAnthropic
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"):
		return FamilyOpenAI
	case strings.HasPrefix(m, "llama"),
		strings.HasPrefix(m, "codellama"),
		strings.HasPrefix(m, "qwen"),
		strings.HasPrefix(m, "deepseek"),
		strings.Contains(m, ":"):
		// Ollama tags use the name:size form.
		return FamilyOllama
	default:
		return FamilyUnknown
	}
}

// Alias tiers resolved against the configured models.
const (
	AliasFlagship = "flagship"
	AliasBalanced = "balanced"
	AliasFast     = "fast"
)
