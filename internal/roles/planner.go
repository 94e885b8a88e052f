package roles

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/cost"
	"github.com/fyrsmithlabs/crucible/internal/engine"
	"github.com/fyrsmithlabs/crucible/internal/logging"
)

const plannerPrompt = `You are the planning role in a code generation pipeline.

Task: %s
Domain: %s

Break the task into a short ordered list of epics, one per line.`

// offlinePlanLines is the fixed decomposition used when no provider is
// configured. Three generic steps keep the rest of the pipeline fed.
var offlinePlanLines = []string{
	"Outline the change the task requires.",
	"Apply the smallest implementation that satisfies it.",
	"Check the result against the task statement.",
}

var epicPrefixRe = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// Planner writes the plan once per run. A provider failure here is
// fatal: without a plan the rest of the pipeline has nothing to build
// from.
type Planner struct {
	gen    Generator
	packs  *config.PackSource
	costs  *cost.Estimator
	memory Memory
	logger *logging.Logger
}

// NewPlanner builds the planning role. memory may be nil; the hint
// lookup is skipped then.
func NewPlanner(gen Generator, packs *config.PackSource, costs *cost.Estimator, memory Memory, logger *logging.Logger) *Planner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Planner{gen: gen, packs: packs, costs: costs, memory: memory, logger: logger}
}

func (p *Planner) Stage() engine.Stage { return engine.StagePlanner }

func (p *Planner) Run(ctx context.Context, st *engine.State) error {
	model := p.gen.RouteModel(st.Task, st.Domain, st.VulnerabilityFlag)
	if model == "" {
		st.Plan = &engine.Plan{
			Text:     strings.Join(offlinePlanLines, "\n"),
			Epics:    append([]string(nil), offlinePlanLines...),
			Provider: "offline",
		}
		return nil
	}

	prompt := fmt.Sprintf(plannerPrompt, st.Task, st.Domain)
	if p.memory != nil {
		hint, err := p.memory.Retrieve(ctx, PlanScope, st.Domain, "")
		if err != nil {
			p.logger.Debug(ctx, "plan hint lookup failed", zap.Error(err))
		} else if hint != "" {
			prompt += "\n\nA prior plan digest for this domain:\n" + hint
		}
	}
	prompt = enhance(prompt, p.packs, st.Domain, packKeyPlanner, "planner", p.costs)

	res, err := p.gen.Generate(ctx, "planner", model, prompt)
	if err != nil {
		return err
	}
	p.costs.Track("planner", "plan", res.Tokens, cost.WithModel(res.Model))

	st.Plan = &engine.Plan{
		Text:     res.Text,
		Epics:    parseEpics(res.Text),
		Provider: res.Model,
	}
	return nil
}

// parseEpics extracts one epic per non-empty line, stripping bullets
// and numbering. A reply with no usable lines becomes a single epic.
func parseEpics(text string) []string {
	var epics []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(epicPrefixRe.ReplaceAllString(line, ""))
		if line != "" {
			epics = append(epics, line)
		}
	}
	if len(epics) == 0 {
		return []string{text}
	}
	return epics
}

var _ engine.RoleRunner = (*Planner)(nil)
