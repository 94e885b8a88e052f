// Package secrets loads provider credentials and scrubs secret
// material from anything that leaves the process: log lines, telemetry
// payloads, and prompts.
package secrets

import (
	"os"

	"github.com/fyrsmithlabs/crucible/internal/config"
)

// Environment variables consulted by EnvLoader.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvOllamaHost   = "OLLAMA_HOST"
)

// Credentials carries API credentials for generation backends. Key
// values are config.Secret so accidental logging stays redacted.
//
// Missing credentials are not an error: a backend without credentials
// is simply not configured, and a run with zero configured backends
// proceeds offline.
type Credentials struct {
	Anthropic  config.Secret
	OpenAI     config.Secret
	OllamaHost string
}

// HasAnthropic reports whether an Anthropic key is present.
func (c Credentials) HasAnthropic() bool { return c.Anthropic.IsSet() }

// HasOpenAI reports whether an OpenAI key is present.
func (c Credentials) HasOpenAI() bool { return c.OpenAI.IsSet() }

// Loader resolves credentials at startup.
type Loader interface {
	Load() (Credentials, error)
}

// EnvLoader reads credentials from the process environment.
type EnvLoader struct{}

var _ Loader = EnvLoader{}

// Load never fails; absent variables leave their fields unset.
func (EnvLoader) Load() (Credentials, error) {
	return Credentials{
		Anthropic:  config.Secret(os.Getenv(EnvAnthropicKey)),
		OpenAI:     config.Secret(os.Getenv(EnvOpenAIKey)),
		OllamaHost: os.Getenv(EnvOllamaHost),
	}, nil
}

type staticLoader struct {
	creds Credentials
}

// Static returns a loader with fixed credentials, for tests and for
// callers that manage key material themselves.
func Static(creds Credentials) Loader {
	return staticLoader{creds: creds}
}

func (s staticLoader) Load() (Credentials, error) {
	return s.creds, nil
}
