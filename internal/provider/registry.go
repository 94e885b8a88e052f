package provider

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/secrets"
)

// ollamaTool is the executable probed before low-cost routing.
const ollamaTool = "ollama"

// Estimator projects a routing cost from task complexity. Satisfied by
// *cost.Estimator.
type Estimator interface {
	Estimate(complexity int, domain string) float64
}

// ToolProbe reports whether a local executable is usable. The default
// probe checks PATH.
type ToolProbe func(tool string) bool

func defaultToolProbe(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}

// Registry routes generation requests to the configured backends.
// Routing is deterministic: it depends only on the configured backend
// set and the routing inputs, never on call history.
type Registry struct {
	mu       sync.RWMutex
	backends map[Family]*backend

	aliases          map[string]string
	estimator        Estimator
	lowCostThreshold float64
	maxTokens        int
	timeout          time.Duration
	probe            ToolProbe
}

// Option adjusts registry construction.
type Option func(*Registry)

// WithToolProbe replaces the PATH lookup used before low-cost routing.
func WithToolProbe(probe ToolProbe) Option {
	return func(r *Registry) {
		if probe != nil {
			r.probe = probe
		}
	}
}

// WithBackend installs or replaces a backend client directly, for
// tests and for callers that construct their own clients.
func WithBackend(family Family, model string, client llms.Model) Option {
	return func(r *Registry) {
		r.backends[family] = &backend{
			family:  family,
			model:   model,
			client:  client,
			limiter: rate.NewLimiter(rate.Inf, 1),
		}
		r.rebuildAliases()
	}
}

// NewRegistry builds backends from credentials. An empty credential
// set yields an offline registry, not an error.
func NewRegistry(cfg config.ProvidersConfig, creds secrets.Credentials, est Estimator, lowCostThreshold float64, opts ...Option) (*Registry, error) {
	backends, err := buildBackends(cfg, creds)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		backends:         backends,
		estimator:        est,
		lowCostThreshold: lowCostThreshold,
		maxTokens:        cfg.MaxTokens,
		timeout:          cfg.Timeout.Duration(),
		probe:            defaultToolProbe,
	}
	r.aliases = map[string]string{
		AliasFlagship: cfg.AnthropicModel,
		AliasBalanced: cfg.OpenAIModel,
		AliasFast:     cfg.OllamaModel,
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// rebuildAliases points alias tiers at injected backends so tests that
// install fakes resolve the same way production does.
func (r *Registry) rebuildAliases() {
	if b, ok := r.backends[FamilyAnthropic]; ok {
		r.aliases[AliasFlagship] = b.model
	}
	if b, ok := r.backends[FamilyOpenAI]; ok {
		r.aliases[AliasBalanced] = b.model
	}
	if b, ok := r.backends[FamilyOllama]; ok {
		r.aliases[AliasFast] = b.model
	}
}

// Resolve maps an alias tier to its concrete model name; concrete
// names pass through unchanged.
func (r *Registry) Resolve(model string) string {
	if resolved, ok := r.aliases[model]; ok && resolved != "" {
		return resolved
	}
	return model
}

// RouteModel selects the backend model for a task. Empty means no
// backend applies and the caller should take its offline path.
//
// Priority, first match wins:
//  1. vulnerability work goes to the high-capability backend,
//     unconditionally;
//  2. cheap tasks go to the local backend when its tool is present;
//  3. otherwise the fixed fallback chain.
func (r *Registry) RouteModel(text, domain string, vulnerabilityFlag bool) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if vulnerabilityFlag {
		if b, ok := r.backends[FamilyAnthropic]; ok {
			routesTotal.WithLabelValues(string(FamilyAnthropic)).Inc()
			return b.model
		}
	}

	if b, ok := r.backends[FamilyOllama]; ok {
		if r.estimator.Estimate(len(text), domain) < r.lowCostThreshold && r.probe(ollamaTool) {
			routesTotal.WithLabelValues(string(FamilyOllama)).Inc()
			return b.model
		}
	}

	for _, family := range familyOrder {
		if b, ok := r.backends[family]; ok {
			routesTotal.WithLabelValues(string(family)).Inc()
			return b.model
		}
	}

	routesTotal.WithLabelValues("offline").Inc()
	return ""
}

// Generate resolves the model, waits on the backend's limiter, and
// returns the completion with a token count. The registry owns the
// per-call timeout; callers do not retry.
func (r *Registry) Generate(ctx context.Context, role, model, prompt string) (Result, error) {
	resolved := r.Resolve(model)
	family := FamilyOf(resolved)

	r.mu.RLock()
	b, ok := r.backends[family]
	r.mu.RUnlock()
	if !ok {
		requestsTotal.WithLabelValues(string(family), "unconfigured").Inc()
		return Result{}, fmt.Errorf("%w: %s", ErrNoBackend, resolved)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := b.limiter.Wait(ctx); err != nil {
		requestsTotal.WithLabelValues(string(family), "error").Inc()
		return Result{}, fmt.Errorf("rate limiter: %w", err)
	}

	var callOpts []llms.CallOption
	if r.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(r.maxTokens))
	}

	completion, err := llms.GenerateFromSinglePrompt(ctx, b.client, prompt, callOpts...)
	if err != nil {
		requestsTotal.WithLabelValues(string(family), "error").Inc()
		return Result{}, fmt.Errorf("%s generate for role %s: %w", family, role, err)
	}
	requestsTotal.WithLabelValues(string(family), "success").Inc()

	tokens := llms.CountTokens(resolved, prompt) + llms.CountTokens(resolved, completion)
	return Result{Text: completion, Model: resolved, Tokens: tokens}, nil
}

// Available returns the configured backends in fixed family order.
func (r *Registry) Available() []BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(r.backends))
	for _, family := range familyOrder {
		if b, ok := r.backends[family]; ok {
			infos = append(infos, BackendInfo{Family: family, Model: b.model})
		}
	}
	return infos
}

// Configured reports whether a family has a backend.
func (r *Registry) Configured(family Family) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[family]
	return ok
}

// Offline reports whether no backend is configured.
func (r *Registry) Offline() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends) == 0
}
