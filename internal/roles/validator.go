package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/cost"
	"github.com/fyrsmithlabs/crucible/internal/engine"
	"github.com/fyrsmithlabs/crucible/internal/logging"
)

const validatorPrompt = `You are the validation role in a code generation pipeline.

Task: %s
Code:
%s

Assess whether the code satisfies the task. Respond with JSON:
{"passes": bool, "coverage": float between 0 and 1}`

// Validator produces a verdict on every invocation and derives the
// reflect flag from it. A provider failure is fatal; validation is not
// a retryable stage.
type Validator struct {
	gen    Generator
	packs  *config.PackSource
	costs  *cost.Estimator
	logger *logging.Logger
}

func NewValidator(gen Generator, packs *config.PackSource, costs *cost.Estimator, logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Validator{gen: gen, packs: packs, costs: costs, logger: logger}
}

func (v *Validator) Stage() engine.Stage { return engine.StageValidator }

func (v *Validator) Run(ctx context.Context, st *engine.State) error {
	model := v.gen.RouteModel(st.Code, st.Domain, st.VulnerabilityFlag)
	if model == "" {
		st.Validation = &engine.Validation{Passes: true, Coverage: 0}
		st.NeedsReflect = false
		return nil
	}

	prompt := fmt.Sprintf(validatorPrompt, st.Task, st.Code)
	prompt = enhance(prompt, v.packs, st.Domain, packKeyValidator, "validator", v.costs)

	res, err := v.gen.Generate(ctx, "validator", model, prompt)
	if err != nil {
		return err
	}
	v.costs.Track("validator", "validate", res.Tokens, cost.WithModel(res.Model))

	st.Validation = parseValidation(res.Text)
	st.NeedsReflect = !st.Validation.Passes
	return nil
}

// parseValidation decodes the provider's JSON verdict. Extra fields
// land in Extra; a reply that is not JSON becomes a raw-text wrapper
// with the verdict derived heuristically.
func parseValidation(reply string) *engine.Validation {
	body := stripFences(reply)

	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		lower := strings.ToLower(reply)
		return &engine.Validation{
			Passes:  strings.Contains(lower, "pass") && !strings.Contains(lower, "fail"),
			RawText: reply,
		}
	}

	val := &engine.Validation{}
	for key, value := range fields {
		switch key {
		case "passes":
			if b, ok := value.(bool); ok {
				val.Passes = b
			}
		case "coverage":
			if f, ok := value.(float64); ok {
				val.Coverage = clamp01(f)
			}
		default:
			if val.Extra == nil {
				val.Extra = map[string]any{}
			}
			val.Extra[key] = value
		}
	}
	return val
}

var _ engine.RoleRunner = (*Validator)(nil)
