package roles

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/cost"
	"github.com/fyrsmithlabs/crucible/internal/engine"
	"github.com/fyrsmithlabs/crucible/internal/logging"
)

const coderPrompt = `You are the implementation role in a code generation pipeline.

Task: %s
Plan:
%s

Produce only the code that implements the plan. No commentary.`

// offlineStub is the fixed Coder output when no provider is configured.
const offlineStub = "// offline stub: no provider backend configured\n// implement the planned change here\n"

// Coder overwrites Code and CodeSource on every invocation. A provider
// failure on the first pass is fatal; on reflection rounds the
// Reflector's repaired code is kept instead.
type Coder struct {
	gen    Generator
	packs  *config.PackSource
	costs  *cost.Estimator
	logger *logging.Logger
}

func NewCoder(gen Generator, packs *config.PackSource, costs *cost.Estimator, logger *logging.Logger) *Coder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coder{gen: gen, packs: packs, costs: costs, logger: logger}
}

func (c *Coder) Stage() engine.Stage { return engine.StageCoder }

func (c *Coder) Run(ctx context.Context, st *engine.State) error {
	planText := ""
	if st.Plan != nil {
		planText = st.Plan.Text
	}

	model := c.gen.RouteModel(planText, st.Domain, st.VulnerabilityFlag)
	if model == "" {
		st.Code = offlineStub
		st.CodeSource = engine.CodeSourceOffline
		return nil
	}

	prompt := fmt.Sprintf(coderPrompt, st.Task, planText)
	if st.ReflectionAnalysis != "" {
		prompt += "\n\nA previous attempt failed validation. Diagnosis:\n" + st.ReflectionAnalysis
	}
	prompt = enhance(prompt, c.packs, st.Domain, packKeyCoder, "coder", c.costs)

	res, err := c.gen.Generate(ctx, "coder", model, prompt)
	if err != nil {
		if st.Iterations > 0 {
			// Reflection round: the Reflector already repaired the
			// code; keep it rather than aborting the bounded loop.
			c.logger.Warn(ctx, "coder regeneration failed, keeping repaired code",
				zap.String("run_id", st.RunID), zap.Error(err))
			return nil
		}
		return err
	}
	c.costs.Track("coder", "generate", res.Tokens, cost.WithModel(res.Model))

	st.Code = stripFences(res.Text)
	st.CodeSource = engine.CodeSourceProvider
	return nil
}

var _ engine.RoleRunner = (*Coder)(nil)
