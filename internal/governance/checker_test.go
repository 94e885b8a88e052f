package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/engine"
	"github.com/fyrsmithlabs/crucible/internal/logging"
)

func newTestChecker(t *testing.T, cfg config.GovernanceConfig, opts ...Option) (*Checker, *logging.TestLogger) {
	t.Helper()
	tl := logging.NewTestLogger()
	checker, err := NewChecker(cfg, tl.Logger, opts...)
	require.NoError(t, err)
	return checker, tl
}

func passingState() *engine.State {
	return &engine.State{
		RunID:      "run-1",
		Domain:     "web",
		Code:       "func add(a, b int) int { return a + b }",
		Validation: &engine.Validation{Passes: true, Coverage: 0.9},
		Confidence: 0.8,
	}
}

func TestCheckPasses(t *testing.T) {
	checker, _ := newTestChecker(t, config.GovernanceConfig{ConfidenceFloor: 0.5})

	assert.True(t, checker.Check(context.Background(), passingState()))
}

func TestCheckValidationFailed(t *testing.T) {
	checker, tl := newTestChecker(t, config.GovernanceConfig{ConfidenceFloor: 0.5})

	st := passingState()
	st.Validation.Passes = false

	assert.False(t, checker.Check(context.Background(), st))
	tl.AssertField(t, "governance check failed", "reason", "validation_failed")
}

func TestCheckMissingValidation(t *testing.T) {
	checker, _ := newTestChecker(t, config.GovernanceConfig{ConfidenceFloor: 0.5})

	st := passingState()
	st.Validation = nil

	assert.False(t, checker.Check(context.Background(), st))
}

func TestCheckForcedExitDocumented(t *testing.T) {
	checker, _ := newTestChecker(t, config.GovernanceConfig{ConfidenceFloor: 0.5})

	// Budget exhausted with analysis on record still satisfies the
	// validation leg of the policy.
	st := passingState()
	st.Validation.Passes = false
	st.NeedsReflect = true
	st.ReflectionAnalysis = "validator kept rejecting the error paths"
	st.Iterations = 5

	assert.True(t, checker.Check(context.Background(), st))
}

func TestCheckLowConfidence(t *testing.T) {
	checker, tl := newTestChecker(t, config.GovernanceConfig{ConfidenceFloor: 0.5})

	st := passingState()
	st.Confidence = 0.3

	assert.False(t, checker.Check(context.Background(), st))
	tl.AssertField(t, "governance check failed", "reason", "low_confidence")
}

func TestCheckSecretsFound(t *testing.T) {
	checker, tl := newTestChecker(t, config.GovernanceConfig{ConfidenceFloor: 0.5})

	st := passingState()
	st.Code = "package main\n\n" + testSecret + "\n"

	assert.False(t, checker.Check(context.Background(), st))
	tl.AssertLogged(t, zapcore.WarnLevel, "credentials detected")
}

func TestCheckSecretsAllowlisted(t *testing.T) {
	path := writeAllowlist(t, `
[allowlist]
regexes = ["sk-proj-[a-z0-9]+"]
`)
	checker, _ := newTestChecker(t, config.GovernanceConfig{
		ConfidenceFloor: 0.5,
		AllowlistPath:   path,
	})

	st := passingState()
	st.Code = "package main\n\n" + testSecret + "\n"

	assert.True(t, checker.Check(context.Background(), st))
}

func TestNewCheckerBadAllowlist(t *testing.T) {
	path := writeAllowlist(t, "[allowlist\n")
	_, err := NewChecker(config.GovernanceConfig{AllowlistPath: path}, nil)
	assert.ErrorIs(t, err, ErrInvalidTOML)
}

func TestHITLCheckDefaultDeny(t *testing.T) {
	checker, _ := newTestChecker(t, config.GovernanceConfig{ConfidenceFloor: 0.5})

	assert.False(t, checker.HITLCheck(context.Background(), engine.SeverityWarning, passingState()))
}

func TestHITLCheckAutoApprove(t *testing.T) {
	checker, _ := newTestChecker(t, config.GovernanceConfig{ConfidenceFloor: 0.5, AutoApprove: true})

	assert.True(t, checker.HITLCheck(context.Background(), engine.SeverityCritical, passingState()))
}

type recordingApprover struct {
	severity string
	decision bool
}

func (r *recordingApprover) Approve(_ context.Context, severity string, _ *engine.State) bool {
	r.severity = severity
	return r.decision
}

func TestHITLCheckCustomApprover(t *testing.T) {
	approver := &recordingApprover{decision: true}
	checker, _ := newTestChecker(t, config.GovernanceConfig{ConfidenceFloor: 0.5},
		WithApprover(approver))

	assert.True(t, checker.HITLCheck(context.Background(), engine.SeverityCritical, passingState()))
	assert.Equal(t, engine.SeverityCritical, approver.severity)
}
