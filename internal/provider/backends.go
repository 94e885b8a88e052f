package provider

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/secrets"
)

// backend pairs a langchaingo client with its pacing limiter.
type backend struct {
	family  Family
	model   string
	client  llms.Model
	limiter *rate.Limiter
}

// buildBackends constructs clients for every family the credential set
// enables. Missing credentials skip the family silently.
func buildBackends(cfg config.ProvidersConfig, creds secrets.Credentials) (map[Family]*backend, error) {
	backends := make(map[Family]*backend)

	if creds.HasAnthropic() {
		client, err := anthropic.New(
			anthropic.WithToken(creds.Anthropic.Value()),
			anthropic.WithModel(cfg.AnthropicModel),
		)
		if err != nil {
			return nil, fmt.Errorf("creating anthropic client: %w", err)
		}
		backends[FamilyAnthropic] = &backend{
			family:  FamilyAnthropic,
			model:   cfg.AnthropicModel,
			client:  client,
			limiter: newLimiter(cfg),
		}
	}

	if creds.HasOpenAI() {
		client, err := openai.New(
			openai.WithToken(creds.OpenAI.Value()),
			openai.WithModel(cfg.OpenAIModel),
		)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		backends[FamilyOpenAI] = &backend{
			family:  FamilyOpenAI,
			model:   cfg.OpenAIModel,
			client:  client,
			limiter: newLimiter(cfg),
		}
	}

	// Ollama needs no key; a host (env or config) is the opt-in signal.
	host := creds.OllamaHost
	if host == "" {
		host = cfg.OllamaHost
	}
	if host != "" {
		client, err := ollama.New(
			ollama.WithServerURL(host),
			ollama.WithModel(cfg.OllamaModel),
		)
		if err != nil {
			return nil, fmt.Errorf("creating ollama client: %w", err)
		}
		backends[FamilyOllama] = &backend{
			family:  FamilyOllama,
			model:   cfg.OllamaModel,
			client:  client,
			limiter: newLimiter(cfg),
		}
	}

	return backends, nil
}

func newLimiter(cfg config.ProvidersConfig) *rate.Limiter {
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 50.0 / 60.0
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
