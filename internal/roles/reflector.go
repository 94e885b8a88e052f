package roles

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/cost"
	"github.com/fyrsmithlabs/crucible/internal/engine"
	"github.com/fyrsmithlabs/crucible/internal/logging"
)

const reflectorPrompt = `You are the reflection role in a code generation pipeline.

Task: %s
Code:
%s

Validation result: %s

Diagnose why validation is unsatisfied and repair the code if you can.
Respond with JSON:
{"analysis": string, "code": string or empty to keep the current code,
 "confidence": float between 0 and 1, "halted": bool set true only when
 the task cannot be repaired}`

const offlineAnalysis = "no provider backend configured; repair is not possible offline"

// reflection is the provider's reply shape. An empty code field keeps
// the current candidate.
type reflection struct {
	Analysis   string  `json:"analysis"`
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
	Halted     bool    `json:"halted"`
}

// Reflector diagnoses a failed validation and attempts a repair. It is
// the only stage that advances the iteration counter, and it never
// fails the run: degraded provider output lowers confidence instead.
type Reflector struct {
	gen       Generator
	packs     *config.PackSource
	costs     *cost.Estimator
	threshold float64
	logger    *logging.Logger
}

func NewReflector(gen Generator, packs *config.PackSource, costs *cost.Estimator, threshold float64, logger *logging.Logger) *Reflector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reflector{gen: gen, packs: packs, costs: costs, threshold: threshold, logger: logger}
}

func (r *Reflector) Stage() engine.Stage { return engine.StageReflector }

func (r *Reflector) Run(ctx context.Context, st *engine.State) error {
	st.Iterations++

	model := r.gen.RouteModel(st.Code, st.Domain, st.VulnerabilityFlag)
	if model == "" {
		r.applyOffline(st)
		return nil
	}

	prompt := fmt.Sprintf(reflectorPrompt, st.Task, st.Code, validationSummary(st.Validation))
	prompt = enhance(prompt, r.packs, st.Domain, packKeyReflector, "reflector", r.costs)

	res, err := r.gen.Generate(ctx, "reflector", model, prompt)
	if err != nil {
		r.logger.Warn(ctx, "reflector generation failed, exiting reflection loop",
			zap.String("run_id", st.RunID),
			zap.Int("iterations", st.Iterations),
			zap.Error(err))
		r.applyOffline(st)
		return nil
	}
	r.costs.Track("reflector", "reflect", res.Tokens, cost.WithModel(res.Model))

	var rf reflection
	if err := json.Unmarshal([]byte(stripFences(res.Text)), &rf); err != nil {
		// Keep the diagnosis even when the provider ignored the JSON
		// contract; the code stays as it was.
		st.ReflectionAnalysis = res.Text
		st.Confidence = 0.5
		st.Halted = false
		st.NeedsReflect = st.Confidence < r.threshold
		return nil
	}

	if rf.Code != "" {
		st.Code = stripFences(rf.Code)
		st.CodeSource = engine.CodeSourceProvider
	}
	st.ReflectionAnalysis = rf.Analysis
	st.Confidence = clamp01(rf.Confidence)
	st.Halted = rf.Halted
	st.NeedsReflect = st.Confidence < r.threshold
	return nil
}

func (r *Reflector) applyOffline(st *engine.State) {
	st.ReflectionAnalysis = offlineAnalysis
	st.Confidence = 0.8
	st.Halted = true
	st.NeedsReflect = st.Confidence < r.threshold
}

func validationSummary(val *engine.Validation) string {
	if val == nil {
		return "no validation result recorded"
	}
	if val.RawText != "" {
		return val.RawText
	}
	return fmt.Sprintf("passes=%t coverage=%.2f", val.Passes, val.Coverage)
}

var _ engine.RoleRunner = (*Reflector)(nil)
