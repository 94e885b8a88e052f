// Package roles implements the five role executors the engine routes
// between: Planner, Coder, Validator, Reflector, Reviewer. Each role
// reads and writes the shared run state, calls the provider registry
// through the Generator interface, and falls back to a deterministic
// offline behavior when no backend is configured.
package roles

import (
	"context"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/cost"
	"github.com/fyrsmithlabs/crucible/internal/provider"
)

// Generator is the slice of the provider registry the roles consume.
// An empty Available set means every role takes its offline path.
type Generator interface {
	RouteModel(text, domain string, vulnerabilityFlag bool) string
	Generate(ctx context.Context, role, model, prompt string) (provider.Result, error)
	Available() []provider.BackendInfo
}

// Memory is the slice of the memory store the Planner reads hints from.
type Memory interface {
	Retrieve(ctx context.Context, scope, key, fallback string) (string, error)
}

// PlanScope is the memory scope holding per-domain plan digests.
const PlanScope = "plans"

// Pack hint keys, matching the role names domain pack files use.
const (
	packKeyPlanner   = "Planner"
	packKeyCoder     = "Coder"
	packKeyValidator = "Validator"
	packKeyReflector = "Reflector"
	packKeyReviewer  = "Reviewer"
)

// enhance appends the domain pack hint for a role to the prompt. The
// hint's cost is tracked as an estimated event since no provider call
// reports it.
func enhance(prompt string, packs *config.PackSource, domain, packKey, role string, costs *cost.Estimator) string {
	if packs == nil {
		return prompt
	}
	hint := packs.PromptEnhancement(domain, packKey)
	if hint == "" {
		return prompt
	}
	costs.TrackEstimated(role, "pack-enhancement", len(hint)/4)
	return prompt + "\n\n" + hint
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)```")

// stripFences unwraps a markdown code fence when the reply is wrapped
// in one; otherwise it returns the trimmed reply.
func stripFences(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}
