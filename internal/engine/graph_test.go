package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/crucible/internal/config"
)

type stubRole struct {
	stage Stage
	fn    func(ctx context.Context, st *State) error
	calls int
}

func (s *stubRole) Stage() Stage { return s.stage }

func (s *stubRole) Run(ctx context.Context, st *State) error {
	s.calls++
	if s.fn == nil {
		return nil
	}
	return s.fn(ctx, st)
}

type stubGov struct {
	allow        bool
	hitlAllow    bool
	checks       int
	hitls        int
	lastSeverity string
}

func (s *stubGov) Check(_ context.Context, _ *State) bool {
	s.checks++
	return s.allow
}

func (s *stubGov) HITLCheck(_ context.Context, severity string, _ *State) bool {
	s.hitls++
	s.lastSeverity = severity
	return s.hitlAllow
}

type recordSink struct {
	events  []string
	metrics []string
}

func (r *recordSink) EmitEvent(stage string, _ map[string]any) {
	r.events = append(r.events, stage)
}

func (r *recordSink) EmitMetric(name string, _ float64, _ map[string]string) {
	r.metrics = append(r.metrics, name)
}

// stubSet wires a full role set with passing defaults; tests override
// individual stages.
type stubSet struct {
	planner   *stubRole
	coder     *stubRole
	validator *stubRole
	reflector *stubRole
	reviewer  *stubRole
}

func newStubSet() *stubSet {
	s := &stubSet{
		planner:   &stubRole{stage: StagePlanner},
		coder:     &stubRole{stage: StageCoder},
		validator: &stubRole{stage: StageValidator},
		reflector: &stubRole{stage: StageReflector},
		reviewer:  &stubRole{stage: StageReviewer},
	}
	s.planner.fn = func(_ context.Context, st *State) error {
		st.Plan = &Plan{Text: "plan", Epics: []string{"one"}, Provider: "stub"}
		return nil
	}
	s.coder.fn = func(_ context.Context, st *State) error {
		st.Code = "code"
		st.CodeSource = CodeSourceProvider
		return nil
	}
	s.validator.fn = func(_ context.Context, st *State) error {
		st.Validation = &Validation{Passes: true, Coverage: 0.9}
		st.NeedsReflect = false
		return nil
	}
	s.reflector.fn = reflectWith(0.9)
	s.reviewer.fn = func(_ context.Context, st *State) error {
		st.Confidence = 0.9
		st.ReviewScores = []float64{0.9}
		st.ReviewModels = []string{"stub"}
		return nil
	}
	return s
}

func (s *stubSet) roles() Roles {
	return Roles{
		Planner:   s.planner,
		Coder:     s.coder,
		Validator: s.validator,
		Reflector: s.reflector,
		Reviewer:  s.reviewer,
	}
}

// failUntil makes the validator pass from the nth call on.
func (s *stubSet) failUntil(n int) {
	s.validator.fn = func(_ context.Context, st *State) error {
		passes := s.validator.calls >= n
		st.Validation = &Validation{Passes: passes}
		st.NeedsReflect = !passes
		return nil
	}
}

func reflectWith(confidence float64) func(context.Context, *State) error {
	return func(_ context.Context, st *State) error {
		st.Iterations++
		st.Confidence = confidence
		st.ReflectionAnalysis = "tried a repair"
		st.NeedsReflect = confidence < 0.8
		return nil
	}
}

func testGraph(set *stubSet, gov GovernanceChecker, sink *recordSink) *Graph {
	cfg := config.OrchestrationConfig{MaxIterations: 5, ConfidenceThreshold: 0.8}
	if gov == nil {
		gov = &stubGov{allow: true}
	}
	if sink == nil {
		return NewGraph(cfg, set.roles(), gov, nil, nil)
	}
	return NewGraph(cfg, set.roles(), gov, sink, nil)
}

func TestGraphHappyPath(t *testing.T) {
	set := newStubSet()
	gov := &stubGov{allow: true}
	sink := &recordSink{}
	g := testGraph(set, gov, sink)

	st := NewState("web", "add a login form", false)
	require.NoError(t, g.Run(context.Background(), st))

	assert.Equal(t, 1, set.planner.calls)
	assert.Equal(t, 1, set.coder.calls)
	assert.Equal(t, 1, set.validator.calls)
	assert.Equal(t, 0, set.reflector.calls)
	assert.Equal(t, 1, set.reviewer.calls)
	assert.Equal(t, 1, gov.checks)
	assert.Equal(t, 0, gov.hitls)

	assert.Equal(t, 0, st.Iterations)
	assert.False(t, st.NeedsReflect)
	assert.False(t, st.GovernanceBlocked)
	assert.Equal(t, StageGovernance, st.Stage)

	assert.Equal(t, []string{"planner", "coder", "validator", "reviewer", "governance"}, sink.events)
	assert.Equal(t, []string{"run_confidence", "run_iterations"}, sink.metrics)
}

func TestGraphReflectionLoopRepairs(t *testing.T) {
	set := newStubSet()
	set.failUntil(3)
	set.reflector.fn = reflectWith(0.2)
	g := testGraph(set, nil, nil)

	st := NewState("web", "add a login form", false)
	require.NoError(t, g.Run(context.Background(), st))

	assert.Equal(t, 3, set.coder.calls)
	assert.Equal(t, 3, set.validator.calls)
	assert.Equal(t, 2, set.reflector.calls)
	assert.Equal(t, 2, st.Iterations)
	assert.False(t, st.NeedsReflect)
	assert.False(t, st.GovernanceBlocked)
}

func TestGraphRepairedExitSkipsLoop(t *testing.T) {
	set := newStubSet()
	set.failUntil(10)
	set.reflector.fn = reflectWith(0.9)
	g := testGraph(set, nil, nil)

	st := NewState("web", "add a login form", false)
	require.NoError(t, g.Run(context.Background(), st))

	assert.Equal(t, 1, set.coder.calls)
	assert.Equal(t, 1, set.validator.calls)
	assert.Equal(t, 1, set.reflector.calls)
	assert.Equal(t, 1, st.Iterations)
	assert.False(t, st.NeedsReflect)
}

func TestGraphBudgetExhaustedForcedExit(t *testing.T) {
	set := newStubSet()
	set.failUntil(100)
	set.reflector.fn = reflectWith(0.2)
	set.reviewer.fn = func(_ context.Context, st *State) error {
		st.Confidence = 0.3
		st.ReviewScores = []float64{0.3}
		st.ReviewModels = []string{"stub"}
		return nil
	}
	g := testGraph(set, nil, nil)

	st := NewState("web", "add a login form", false)
	require.NoError(t, g.Run(context.Background(), st))

	assert.Equal(t, 5, set.coder.calls)
	assert.Equal(t, 5, set.validator.calls)
	assert.Equal(t, 5, set.reflector.calls)
	assert.Equal(t, 1, set.reviewer.calls)

	assert.Equal(t, 5, st.Iterations)
	assert.True(t, st.NeedsReflect)
	assert.True(t, st.ForcedExit())
}

func TestGraphCorrectiveReflectorPass(t *testing.T) {
	set := newStubSet()
	set.reviewer.fn = func(_ context.Context, st *State) error {
		st.Confidence = 0.5
		return nil
	}
	set.reflector.fn = reflectWith(0.9)
	g := testGraph(set, nil, nil)

	st := NewState("web", "add a login form", false)
	require.NoError(t, g.Run(context.Background(), st))

	assert.Equal(t, 1, set.reviewer.calls)
	assert.Equal(t, 1, set.reflector.calls)
	assert.Equal(t, 1, st.Iterations)
	assert.False(t, st.NeedsReflect)
}

func TestGraphCorrectivePassClearsFlagUnderCap(t *testing.T) {
	set := newStubSet()
	set.reviewer.fn = func(_ context.Context, st *State) error {
		st.Confidence = 0.5
		return nil
	}
	set.reflector.fn = reflectWith(0.3)
	g := testGraph(set, nil, nil)

	st := NewState("web", "add a login form", false)
	require.NoError(t, g.Run(context.Background(), st))

	assert.Equal(t, 1, set.reflector.calls)
	assert.Equal(t, 1, st.Iterations)
	assert.False(t, st.NeedsReflect)
}

func TestGraphCorrectivePassSkippedAtCap(t *testing.T) {
	set := newStubSet()
	set.failUntil(5)
	set.reflector.fn = reflectWith(0.2)
	set.reviewer.fn = func(_ context.Context, st *State) error {
		st.Confidence = 0.5
		return nil
	}
	g := testGraph(set, nil, nil)

	st := NewState("web", "add a login form", false)
	require.NoError(t, g.Run(context.Background(), st))

	// Four reflections repair the loop; validation passes on the fifth
	// round with one iteration left. The low review then spends it.
	assert.Equal(t, 5, set.reflector.calls)
	assert.Equal(t, 5, st.Iterations)
	assert.True(t, st.NeedsReflect)
}

func TestGraphGovernanceSeverity(t *testing.T) {
	tests := []struct {
		name         string
		vuln         bool
		wantSeverity string
	}{
		{"vulnerability runs are critical", true, SeverityCritical},
		{"ordinary runs are warnings", false, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := newStubSet()
			gov := &stubGov{allow: false, hitlAllow: false}
			g := testGraph(set, gov, nil)

			st := NewState("web", "add a login form", tt.vuln)
			require.NoError(t, g.Run(context.Background(), st))

			assert.Equal(t, 1, gov.checks)
			assert.Equal(t, 1, gov.hitls)
			assert.Equal(t, tt.wantSeverity, gov.lastSeverity)
			assert.True(t, st.GovernanceBlocked)
		})
	}
}

func TestGraphHITLOverride(t *testing.T) {
	set := newStubSet()
	gov := &stubGov{allow: false, hitlAllow: true}
	g := testGraph(set, gov, nil)

	st := NewState("web", "add a login form", false)
	require.NoError(t, g.Run(context.Background(), st))

	assert.Equal(t, 1, gov.hitls)
	assert.False(t, st.GovernanceBlocked)
}

func TestGraphPlannerErrorIsFatal(t *testing.T) {
	set := newStubSet()
	boom := errors.New("boom")
	set.planner.fn = func(_ context.Context, _ *State) error { return boom }
	g := testGraph(set, nil, nil)

	st := NewState("web", "add a login form", false)
	err := g.Run(context.Background(), st)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StagePlanner, stageErr.Stage)
	assert.Equal(t, st.RunID, stageErr.RunID)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 0, set.coder.calls)
	assert.Equal(t, StagePlanner, st.Stage)
}

func TestGraphValidatorErrorIsFatal(t *testing.T) {
	set := newStubSet()
	set.validator.fn = func(_ context.Context, _ *State) error { return errors.New("boom") }
	g := testGraph(set, nil, nil)

	st := NewState("web", "add a login form", false)
	err := g.Run(context.Background(), st)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageValidator, stageErr.Stage)
	assert.Equal(t, 0, set.reviewer.calls)
}

func TestGraphEventPerCompletedStage(t *testing.T) {
	set := newStubSet()
	set.failUntil(2)
	set.reflector.fn = reflectWith(0.2)
	sink := &recordSink{}
	g := testGraph(set, nil, sink)

	st := NewState("web", "add a login form", false)
	require.NoError(t, g.Run(context.Background(), st))

	want := []string{
		"planner",
		"coder", "validator", "reflector",
		"coder", "validator",
		"reviewer", "governance",
	}
	assert.Equal(t, want, sink.events)
}

func TestGraphNoEventForFailedStage(t *testing.T) {
	set := newStubSet()
	set.coder.fn = func(_ context.Context, _ *State) error { return errors.New("boom") }
	sink := &recordSink{}
	g := testGraph(set, nil, sink)

	st := NewState("web", "add a login form", false)
	require.Error(t, g.Run(context.Background(), st))

	assert.Equal(t, []string{"planner"}, sink.events)
	assert.Empty(t, sink.metrics)
}
