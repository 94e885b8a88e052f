package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/cost"
	"github.com/fyrsmithlabs/crucible/internal/engine"
	"github.com/fyrsmithlabs/crucible/internal/logging"
)

const reviewerPrompt = `You are one reviewer on a multi-model review panel.

Task: %s
Code:
%s

Score how well the code satisfies the task. Respond with JSON:
{"score": float between 0 and 1}`

// Reviewer fans the candidate out to every configured backend and
// aggregates the scores into a consensus confidence. Individual
// backend failures shrink the panel; only a fully failed panel fails
// the stage.
type Reviewer struct {
	gen    Generator
	packs  *config.PackSource
	costs  *cost.Estimator
	logger *logging.Logger
}

func NewReviewer(gen Generator, packs *config.PackSource, costs *cost.Estimator, logger *logging.Logger) *Reviewer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reviewer{gen: gen, packs: packs, costs: costs, logger: logger}
}

func (r *Reviewer) Stage() engine.Stage { return engine.StageReviewer }

func (r *Reviewer) Run(ctx context.Context, st *engine.State) error {
	backends := r.gen.Available()
	if len(backends) == 0 {
		st.Confidence = 0.8
		st.ReviewScores = []float64{0.8}
		st.ReviewModels = []string{"offline"}
		return nil
	}

	prompt := fmt.Sprintf(reviewerPrompt, st.Task, st.Code)
	prompt = enhance(prompt, r.packs, st.Domain, packKeyReviewer, "reviewer", r.costs)

	scores := make([]float64, len(backends))
	tokens := make([]int, len(backends))
	models := make([]string, len(backends))
	ok := make([]bool, len(backends))

	// A plain group, not WithContext: one reviewer failing must not
	// cancel the rest of the panel.
	var g errgroup.Group
	for i, b := range backends {
		g.Go(func() error {
			res, err := r.gen.Generate(ctx, "reviewer", b.Model, prompt)
			if err != nil {
				r.logger.Warn(ctx, "reviewer backend failed",
					zap.String("run_id", st.RunID),
					zap.String("family", string(b.Family)),
					zap.Error(err))
				return nil
			}
			score, err := parseScore(res.Text)
			if err != nil {
				r.logger.Warn(ctx, "reviewer reply unparseable",
					zap.String("run_id", st.RunID),
					zap.String("family", string(b.Family)),
					zap.Error(err))
				return nil
			}
			scores[i] = score
			tokens[i] = res.Tokens
			models[i] = res.Model
			ok[i] = true
			return nil
		})
	}
	g.Wait()

	// Cost events are recorded after the panel settles so the ledger
	// order follows the fixed backend order, not goroutine scheduling.
	st.ReviewScores = st.ReviewScores[:0]
	st.ReviewModels = st.ReviewModels[:0]
	var sum float64
	for i := range backends {
		if !ok[i] {
			continue
		}
		r.costs.Track("reviewer", "review", tokens[i], cost.WithModel(models[i]))
		st.ReviewScores = append(st.ReviewScores, scores[i])
		st.ReviewModels = append(st.ReviewModels, models[i])
		sum += scores[i]
	}
	if len(st.ReviewScores) == 0 {
		return fmt.Errorf("review panel: all %d backends failed", len(backends))
	}

	st.Confidence = clamp01(sum / float64(len(st.ReviewScores)))
	return nil
}

// parseScore accepts the JSON contract and, as a fallback, a bare
// number, which smaller local models tend to emit.
func parseScore(reply string) (float64, error) {
	body := stripFences(reply)

	var verdict struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(body), &verdict); err == nil {
		return clamp01(verdict.Score), nil
	}

	if f, err := strconv.ParseFloat(strings.TrimSpace(body), 64); err == nil {
		return clamp01(f), nil
	}
	return 0, fmt.Errorf("no score in reply %q", reply)
}

var _ engine.RoleRunner = (*Reviewer)(nil)
