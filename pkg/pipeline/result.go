package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/crucible/internal/cost"
	"github.com/fyrsmithlabs/crucible/internal/engine"
)

// RunResult is the caller-facing snapshot of one finished run.
type RunResult struct {
	RunID  string `json:"run_id"`
	Domain string `json:"domain"`
	Task   string `json:"task"`

	Plan       *engine.Plan       `json:"plan,omitempty"`
	Code       string             `json:"code"`
	CodeSource string             `json:"code_source"`
	Validation *engine.Validation `json:"validation,omitempty"`

	Confidence   float64   `json:"confidence"`
	ReviewScores []float64 `json:"review_scores,omitempty"`
	ReviewModels []string  `json:"review_models,omitempty"`

	Iterations         int    `json:"iterations"`
	NeedsReflect       bool   `json:"needs_reflect"`
	ReflectionAnalysis string `json:"reflection_analysis,omitempty"`

	GovernanceBlocked bool `json:"governance_blocked"`

	CostSummary cost.Summary  `json:"cost_summary"`
	Elapsed     time.Duration `json:"elapsed"`
}

func newRunResult(st *engine.State, summary cost.Summary, elapsed time.Duration) *RunResult {
	return &RunResult{
		RunID:              st.RunID,
		Domain:             st.Domain,
		Task:               st.Task,
		Plan:               st.Plan,
		Code:               st.Code,
		CodeSource:         st.CodeSource,
		Validation:         st.Validation,
		Confidence:         st.Confidence,
		ReviewScores:       st.ReviewScores,
		ReviewModels:       st.ReviewModels,
		Iterations:         st.Iterations,
		NeedsReflect:       st.NeedsReflect,
		ReflectionAnalysis: st.ReflectionAnalysis,
		GovernanceBlocked:  st.GovernanceBlocked,
		CostSummary:        summary,
		Elapsed:            elapsed,
	}
}

// ForcedExit reports whether the run exhausted its reflection budget
// with validation still failing.
func (r *RunResult) ForcedExit() bool {
	return r.NeedsReflect && r.ReflectionAnalysis != ""
}
