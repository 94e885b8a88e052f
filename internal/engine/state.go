// Package engine drives a task through the role pipeline: plan,
// generate, validate, reflect-and-repair, review, govern. The graph
// owns routing and the iteration budget; role behavior lives in the
// roles package behind the RoleRunner interface.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/crucible/internal/cost"
)

// Stage identifies one step of the run loop.
type Stage string

const (
	StagePlanner    Stage = "planner"
	StageCoder      Stage = "coder"
	StageValidator  Stage = "validator"
	StageReflector  Stage = "reflector"
	StageReviewer   Stage = "reviewer"
	StageGovernance Stage = "governance"
)

// Stages returns the stages in their canonical order.
func Stages() []Stage {
	return []Stage{StagePlanner, StageCoder, StageValidator, StageReflector, StageReviewer, StageGovernance}
}

// Code provenance recorded alongside every Coder output.
const (
	CodeSourceProvider = "provider"
	CodeSourceOffline  = "offline-stub"
)

// Severity passed to the HITL gate when governance rejects a run.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Plan is the Planner's output, written once per run.
type Plan struct {
	Text     string   `json:"text"`
	Epics    []string `json:"epics"`
	Provider string   `json:"producing_provider"`
}

// Validation is the Validator's verdict. Extra carries provider fields
// the core does not model; values are scalars.
type Validation struct {
	Passes   bool           `json:"passes"`
	Coverage float64        `json:"coverage"`
	RawText  string         `json:"raw_text,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// State is the shared run state. It is owned by the graph for the
// duration of a run and passed by reference into each role; it is
// never shared across runs.
type State struct {
	RunID             string `json:"run_id"`
	Task              string `json:"task"`
	Domain            string `json:"domain"`
	VulnerabilityFlag bool   `json:"vulnerability_flag"`

	Plan       *Plan       `json:"plan,omitempty"`
	Code       string      `json:"code,omitempty"`
	CodeSource string      `json:"code_source,omitempty"`
	Validation *Validation `json:"validation,omitempty"`

	NeedsReflect       bool    `json:"needs_reflect"`
	Iterations         int     `json:"iterations"`
	Confidence         float64 `json:"confidence"`
	ReflectionAnalysis string  `json:"reflection_analysis,omitempty"`
	Halted             bool    `json:"halted,omitempty"`

	ReviewScores []float64 `json:"review_scores,omitempty"`
	ReviewModels []string  `json:"review_models,omitempty"`

	GovernanceBlocked bool `json:"governance_blocked"`

	CostSummary *cost.Summary `json:"cost_summary,omitempty"`

	StartedAt time.Time `json:"started_at"`
	Stage     Stage     `json:"stage"`
}

// NewState creates the initial state for one run.
func NewState(domain, task string, vulnerabilityFlag bool) *State {
	return &State{
		RunID:             uuid.NewString(),
		Task:              task,
		Domain:            domain,
		VulnerabilityFlag: vulnerabilityFlag,
		StartedAt:         time.Now(),
	}
}

// ValidationPassed reports whether the most recent validation passed.
func (s *State) ValidationPassed() bool {
	return s.Validation != nil && s.Validation.Passes
}

// ForcedExit reports whether the run left the reflection loop by
// exhausting the iteration budget with validation still failing. The
// reflection analysis documents what was tried.
func (s *State) ForcedExit() bool {
	return s.NeedsReflect && s.ReflectionAnalysis != ""
}

// StageError wraps a fatal role failure with the stage it came from.
// The partial state stays available on the run's return value.
type StageError struct {
	Stage Stage
	RunID string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (run %s): %v", e.Stage, e.RunID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
