package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/logging"
	"github.com/fyrsmithlabs/crucible/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/crucible/internal/engine"

// RoleRunner is one executable stage of the pipeline. Run mutates the
// shared state; a returned error is fatal for the run.
type RoleRunner interface {
	Stage() Stage
	Run(ctx context.Context, st *State) error
}

// GovernanceChecker decides whether a finished run's output may be
// released. Check applies the automated policy; HITLCheck consults the
// human gate after a rejection. Neither returns an error: a denied run
// is a normal outcome.
type GovernanceChecker interface {
	Check(ctx context.Context, st *State) bool
	HITLCheck(ctx context.Context, severity string, st *State) bool
}

// Roles bundles the five stage runners the graph routes between.
type Roles struct {
	Planner   RoleRunner
	Coder     RoleRunner
	Validator RoleRunner
	Reflector RoleRunner
	Reviewer  RoleRunner
}

// Graph owns the run loop: stage ordering, the bounded reflection
// budget, the post-review corrective pass, and the governance gate.
// Role behavior stays behind RoleRunner so the loop logic is testable
// with stub stages.
type Graph struct {
	roles      Roles
	governance GovernanceChecker

	maxIterations       int
	confidenceThreshold float64

	sink   telemetry.Sink
	tracer oteltrace.Tracer
	logger *logging.Logger
}

// NewGraph builds the run graph. sink and logger may be nil; events
// and logs are dropped then.
func NewGraph(cfg config.OrchestrationConfig, roles Roles, governance GovernanceChecker, sink telemetry.Sink, logger *logging.Logger) *Graph {
	if sink == nil {
		sink = telemetry.NoopSink{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Graph{
		roles:               roles,
		governance:          governance,
		maxIterations:       cfg.MaxIterations,
		confidenceThreshold: cfg.ConfidenceThreshold,
		sink:                sink,
		tracer:              otel.Tracer(instrumentationName),
		logger:              logger,
	}
}

// Run drives one task through the pipeline. The state is mutated in
// place and remains inspectable after an error; errors are always
// *StageError values naming the failed stage.
func (g *Graph) Run(ctx context.Context, st *State) error {
	ctx, span := g.tracer.Start(ctx, "engine.run", oteltrace.WithAttributes(
		attribute.String("run_id", st.RunID),
		attribute.String("domain", st.Domain),
		attribute.Bool("vulnerability", st.VulnerabilityFlag),
	))
	defer span.End()

	if err := g.pipeline(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		runsTotal.WithLabelValues(st.Domain, "error").Inc()
		g.logger.Error(ctx, "run failed",
			zap.String("run_id", st.RunID),
			zap.String("stage", string(st.Stage)),
			zap.Error(err))
		return err
	}

	outcome := "completed"
	if st.GovernanceBlocked {
		outcome = "blocked"
	}
	runsTotal.WithLabelValues(st.Domain, outcome).Inc()
	iterationsPerRun.Observe(float64(st.Iterations))
	g.sink.EmitMetric("run_confidence", st.Confidence, map[string]string{"domain": st.Domain})
	g.sink.EmitMetric("run_iterations", float64(st.Iterations), map[string]string{"domain": st.Domain})

	g.logger.Info(ctx, "run finished",
		zap.String("run_id", st.RunID),
		zap.String("domain", st.Domain),
		zap.String("outcome", outcome),
		zap.Int("iterations", st.Iterations),
		zap.Float64("confidence", st.Confidence),
		zap.Duration("elapsed", time.Since(st.StartedAt)))
	return nil
}

func (g *Graph) pipeline(ctx context.Context, st *State) error {
	if err := g.step(ctx, g.roles.Planner, st); err != nil {
		return err
	}

	for {
		if err := g.step(ctx, g.roles.Coder, st); err != nil {
			return err
		}
		if err := g.step(ctx, g.roles.Validator, st); err != nil {
			return err
		}
		if st.ValidationPassed() {
			break
		}
		if st.Iterations >= g.maxIterations {
			break
		}

		if err := g.step(ctx, g.roles.Reflector, st); err != nil {
			return err
		}
		if !st.NeedsReflect || st.Iterations >= g.maxIterations {
			break
		}
	}

	if err := g.step(ctx, g.roles.Reviewer, st); err != nil {
		return err
	}

	// One corrective pass when review consensus lands below the
	// threshold, budget permitting. The pass spends an iteration like
	// any other reflection; a run that ends it under the cap is not a
	// forced exit, so the flag is cleared again.
	if st.Confidence < g.confidenceThreshold {
		st.NeedsReflect = true
		if st.Iterations < g.maxIterations {
			if err := g.step(ctx, g.roles.Reflector, st); err != nil {
				return err
			}
			if st.Iterations < g.maxIterations {
				st.NeedsReflect = false
			}
		}
	}

	g.govern(ctx, st)
	return nil
}

// step runs one stage with its span, duration metric, and event.
func (g *Graph) step(ctx context.Context, role RoleRunner, st *State) error {
	stage := role.Stage()
	st.Stage = stage

	ctx, span := g.tracer.Start(ctx, "engine."+string(stage),
		oteltrace.WithAttributes(attribute.String("run_id", st.RunID)))
	defer span.End()

	start := time.Now()
	err := role.Run(ctx, st)
	stageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &StageError{Stage: stage, RunID: st.RunID, Err: err}
	}

	g.emitStage(st, stage)
	return nil
}

// govern applies the policy check and, on rejection, the HITL gate.
// Denial is recorded on the state, never returned as an error.
func (g *Graph) govern(ctx context.Context, st *State) {
	st.Stage = StageGovernance

	ctx, span := g.tracer.Start(ctx, "engine.governance",
		oteltrace.WithAttributes(attribute.String("run_id", st.RunID)))
	defer span.End()

	allowed := g.governance.Check(ctx, st)
	if !allowed {
		severity := SeverityWarning
		if st.VulnerabilityFlag {
			severity = SeverityCritical
		}
		allowed = g.governance.HITLCheck(ctx, severity, st)
	}
	st.GovernanceBlocked = !allowed

	g.emitStage(st, StageGovernance)
}

// emitStage publishes one run event with the fields that stage is
// responsible for.
func (g *Graph) emitStage(st *State, stage Stage) {
	payload := map[string]any{
		"run_id":     st.RunID,
		"domain":     st.Domain,
		"iterations": st.Iterations,
	}

	switch stage {
	case StagePlanner:
		if st.Plan != nil {
			payload["epics"] = len(st.Plan.Epics)
			payload["provider"] = st.Plan.Provider
		}
	case StageCoder:
		payload["code_source"] = st.CodeSource
		payload["code_bytes"] = len(st.Code)
	case StageValidator:
		if st.Validation != nil {
			payload["passes"] = st.Validation.Passes
			payload["coverage"] = st.Validation.Coverage
		}
	case StageReflector:
		payload["confidence"] = st.Confidence
		payload["halted"] = st.Halted
	case StageReviewer:
		payload["confidence"] = st.Confidence
		payload["reviewers"] = len(st.ReviewScores)
	case StageGovernance:
		payload["blocked"] = st.GovernanceBlocked
	}

	g.sink.EmitEvent(string(stage), payload)
}
