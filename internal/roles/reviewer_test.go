package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/crucible/internal/cost"
	"github.com/fyrsmithlabs/crucible/internal/engine"
	"github.com/fyrsmithlabs/crucible/internal/provider"
)

func reviewPanel() []provider.BackendInfo {
	return []provider.BackendInfo{
		{Family: provider.FamilyAnthropic, Model: "model-a"},
		{Family: provider.FamilyOpenAI, Model: "model-b"},
	}
}

func TestReviewerOffline(t *testing.T) {
	reviewer := NewReviewer(&fakeGen{}, nil, cost.NewEstimator(), nil)

	st := testState("add a login form")
	require.NoError(t, reviewer.Run(context.Background(), st))

	assert.InDelta(t, 0.8, st.Confidence, 1e-9)
	assert.Equal(t, []float64{0.8}, st.ReviewScores)
	assert.Equal(t, []string{"offline"}, st.ReviewModels)
}

func TestReviewerAggregatesPanel(t *testing.T) {
	gen := &fakeGen{
		backends: reviewPanel(),
		replies: map[string]string{
			"reviewer:model-a": `{"score": 0.9}`,
			"reviewer:model-b": `{"score": 0.7}`,
		},
	}
	costs := cost.NewEstimator()
	reviewer := NewReviewer(gen, nil, costs, nil)

	st := testState("add a login form")
	require.NoError(t, reviewer.Run(context.Background(), st))

	assert.InDelta(t, 0.8, st.Confidence, 1e-9)
	assert.Equal(t, []float64{0.9, 0.7}, st.ReviewScores)
	assert.Equal(t, []string{"model-a", "model-b"}, st.ReviewModels)

	summary := costs.Summary()
	require.Len(t, summary.Events, 2)
	assert.Equal(t, "model-a", summary.Events[0].Model)
	assert.Equal(t, "model-b", summary.Events[1].Model)
}

func TestReviewerPartialFailureShrinksPanel(t *testing.T) {
	gen := &fakeGen{
		backends: reviewPanel(),
		replies:  map[string]string{"reviewer:model-a": `{"score": 0.9}`},
		errs:     map[string]error{"reviewer:model-b": errors.New("boom")},
	}
	reviewer := NewReviewer(gen, nil, cost.NewEstimator(), nil)

	st := testState("add a login form")
	require.NoError(t, reviewer.Run(context.Background(), st))

	assert.InDelta(t, 0.9, st.Confidence, 1e-9)
	assert.Equal(t, []float64{0.9}, st.ReviewScores)
	assert.Equal(t, []string{"model-a"}, st.ReviewModels)
}

func TestReviewerUnparseableReplyShrinksPanel(t *testing.T) {
	gen := &fakeGen{
		backends: reviewPanel(),
		replies: map[string]string{
			"reviewer:model-a": `{"score": 0.6}`,
			"reviewer:model-b": "looks great to me",
		},
	}
	reviewer := NewReviewer(gen, nil, cost.NewEstimator(), nil)

	st := testState("add a login form")
	require.NoError(t, reviewer.Run(context.Background(), st))

	assert.Equal(t, []float64{0.6}, st.ReviewScores)
}

func TestReviewerAllFailuresFatal(t *testing.T) {
	boom := errors.New("boom")
	gen := &fakeGen{
		backends: reviewPanel(),
		errs: map[string]error{
			"reviewer:model-a": boom,
			"reviewer:model-b": boom,
		},
	}
	reviewer := NewReviewer(gen, nil, cost.NewEstimator(), nil)

	st := testState("add a login form")
	err := reviewer.Run(context.Background(), st)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "review panel")
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    float64
		wantErr bool
	}{
		{"json", `{"score": 0.75}`, 0.75, false},
		{"fenced json", "```json\n{\"score\": 0.75}\n```", 0.75, false},
		{"bare number", "0.75", 0.75, false},
		{"bare number padded", "  0.75\n", 0.75, false},
		{"clamped high", `{"score": 1.4}`, 1, false},
		{"clamped low", "-0.2", 0, false},
		{"prose", "solid work", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScore(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestReviewerStage(t *testing.T) {
	reviewer := NewReviewer(&fakeGen{}, nil, cost.NewEstimator(), nil)
	assert.Equal(t, engine.StageReviewer, reviewer.Stage())
}
