// Package pipeline is the public entry point for crucible. It wires
// configuration, credentials, the provider registry, memory,
// governance, and telemetry into an Engine whose RunMode drives one
// task through the bounded role pipeline.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/cost"
	"github.com/fyrsmithlabs/crucible/internal/engine"
	"github.com/fyrsmithlabs/crucible/internal/governance"
	"github.com/fyrsmithlabs/crucible/internal/logging"
	"github.com/fyrsmithlabs/crucible/internal/memory"
	"github.com/fyrsmithlabs/crucible/internal/provider"
	"github.com/fyrsmithlabs/crucible/internal/roles"
	"github.com/fyrsmithlabs/crucible/internal/secrets"
	"github.com/fyrsmithlabs/crucible/internal/telemetry"
)

// planDigestLimit bounds the stored plan hint so memory entries stay
// small.
const planDigestLimit = 500

// Engine is a constructed pipeline. It is safe for concurrent RunMode
// calls; the registry, cost estimator, and memory store serialize
// shared access internally.
type Engine struct {
	cfg      *config.Config
	packs    *config.PackSource
	costs    *cost.Estimator
	registry *provider.Registry
	store    memory.Store
	graph    *engine.Graph
	logger   *logging.Logger
	now      func() time.Time

	forwarder *telemetry.Forwarder
	ownsStore bool
}

type options struct {
	store    memory.Store
	sink     telemetry.Sink
	approver governance.Approver
	creds    *secrets.Credentials
	probe    provider.ToolProbe
	logger   *logging.Logger
	now      func() time.Time
}

// Option adjusts engine construction.
type Option func(*options)

// WithMemoryStore injects a memory store. The caller keeps ownership;
// Close will not close it.
func WithMemoryStore(store memory.Store) Option {
	return func(o *options) { o.store = store }
}

// WithTelemetrySink adds a sink that receives run events alongside the
// built-in log sink.
func WithTelemetrySink(sink telemetry.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithApprover replaces the config-selected HITL approver.
func WithApprover(approver governance.Approver) Option {
	return func(o *options) { o.approver = approver }
}

// WithCredentials supplies provider credentials directly instead of
// reading the environment.
func WithCredentials(creds secrets.Credentials) Option {
	return func(o *options) { o.creds = &creds }
}

// WithToolProbe replaces the PATH lookup used by low-cost routing.
func WithToolProbe(probe provider.ToolProbe) Option {
	return func(o *options) { o.probe = probe }
}

// WithLogger sets the logger. The default discards everything;
// embedders that want engine logs must pass one.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds an Engine from cfg. A nil cfg uses defaults. Zero
// configured providers is a supported state: every role falls back to
// its deterministic offline behavior.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = logging.NewNop()
	}

	packs := config.NewPackSource(cfg.Domains)
	if cfg.PacksDir != "" {
		loaded, failed := config.LoadPackDir(cfg.PacksDir)
		for name, pack := range loaded {
			packs.Set(name, pack)
		}
		for _, name := range failed {
			logger.Warn(context.Background(), "skipping malformed domain pack",
				zap.String("pack", name))
		}
	}

	creds := secrets.Credentials{}
	if o.creds != nil {
		creds = *o.creds
	} else {
		creds, _ = secrets.EnvLoader{}.Load()
	}

	costs := cost.NewEstimator()

	var providerOpts []provider.Option
	if o.probe != nil {
		providerOpts = append(providerOpts, provider.WithToolProbe(o.probe))
	}
	registry, err := provider.NewRegistry(cfg.Providers, creds, costs, cfg.Orchestration.LowCostThreshold, providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("provider registry: %w", err)
	}

	store := o.store
	ownsStore := false
	if store == nil {
		store, err = memory.New(cfg.Memory)
		if err != nil {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		ownsStore = true
	}

	var govOpts []governance.Option
	if o.approver != nil {
		govOpts = append(govOpts, governance.WithApprover(o.approver))
	}
	checker, err := governance.NewChecker(cfg.Governance, logger, govOpts...)
	if err != nil {
		if ownsStore {
			_ = store.Close()
		}
		return nil, fmt.Errorf("governance checker: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		packs:     packs,
		costs:     costs,
		registry:  registry,
		store:     store,
		logger:    logger,
		now:       o.now,
		ownsStore: ownsStore,
	}

	sinks := []telemetry.Sink{telemetry.NewLogSink(logger, secrets.ScrubMap)}
	if cfg.Telemetry.NATSURL != "" {
		fwd, err := telemetry.NewForwarder(cfg.Telemetry.NATSURL, cfg.Telemetry.NATSSubjectPrefix, logger)
		if err != nil {
			logger.Warn(context.Background(), "nats forwarder unavailable, events stay local",
				zap.String("url", cfg.Telemetry.NATSURL),
				zap.Error(err))
		} else {
			e.forwarder = fwd
			sinks = append(sinks, fwd)
		}
	}
	if o.sink != nil {
		sinks = append(sinks, o.sink)
	}
	var sink telemetry.Sink = sinks[0]
	if len(sinks) > 1 {
		sink = telemetry.NewMultiSink(sinks...)
	}

	set := engine.Roles{
		Planner:   roles.NewPlanner(registry, packs, costs, store, logger),
		Coder:     roles.NewCoder(registry, packs, costs, logger),
		Validator: roles.NewValidator(registry, packs, costs, logger),
		Reflector: roles.NewReflector(registry, packs, costs, cfg.Orchestration.ConfidenceThreshold, logger),
		Reviewer:  roles.NewReviewer(registry, packs, costs, logger),
	}
	e.graph = engine.NewGraph(cfg.Orchestration, set, checker, sink, logger)

	return e, nil
}

// RunMode drives one task through the pipeline and returns the final
// state snapshot with the engine's cost summary attached. A returned
// error is always a *engine.StageError naming the failed stage;
// governance rejection is not an error.
func (e *Engine) RunMode(ctx context.Context, domain, task string, vulnerabilityFlag bool) (*RunResult, error) {
	st := engine.NewState(domain, task, vulnerabilityFlag)
	st.StartedAt = e.now()

	if err := e.graph.Run(ctx, st); err != nil {
		return nil, err
	}

	summary := e.costs.Summary()
	st.CostSummary = &summary

	e.storePlanDigest(ctx, st)

	return newRunResult(st, summary, e.now().Sub(st.StartedAt)), nil
}

// storePlanDigest feeds the accepted plan back into memory so later
// runs in the same domain plan with a prior hint. Offline stub plans
// and governance-blocked runs are not worth remembering; store
// failures are logged and dropped.
func (e *Engine) storePlanDigest(ctx context.Context, st *engine.State) {
	if st.Plan == nil || st.Plan.Provider == "offline" || st.GovernanceBlocked {
		return
	}

	digest := strings.Join(st.Plan.Epics, "; ")
	if r := []rune(digest); len(r) > planDigestLimit {
		digest = string(r[:planDigestLimit])
	}

	if err := e.store.Store(ctx, roles.PlanScope, st.Domain, digest); err != nil {
		e.logger.Debug(ctx, "plan digest store failed",
			zap.String("run_id", st.RunID),
			zap.Error(err))
		return
	}
	if _, err := e.store.Prune(ctx); err != nil {
		e.logger.Debug(ctx, "memory prune failed",
			zap.String("run_id", st.RunID),
			zap.Error(err))
	}
}

// Memory exposes the engine's memory store for the doctor command and
// embedders that want to seed hints.
func (e *Engine) Memory() memory.Store { return e.store }

// Backends reports the configured provider backends in fixed order.
func (e *Engine) Backends() []provider.BackendInfo { return e.registry.Available() }

// Offline reports whether no provider backend is configured.
func (e *Engine) Offline() bool { return e.registry.Offline() }

// CostSummary snapshots accumulated usage across all runs of this
// engine.
func (e *Engine) CostSummary() cost.Summary { return e.costs.Summary() }

// Packs exposes the live domain pack set, for hot reload wiring.
func (e *Engine) Packs() *config.PackSource { return e.packs }

// Close releases resources the engine owns: the memory store unless it
// was injected, and the NATS forwarder when one was connected.
func (e *Engine) Close() error {
	var err error
	if e.ownsStore && e.store != nil {
		err = e.store.Close()
	}
	if e.forwarder != nil {
		e.forwarder.Close()
	}
	return err
}
