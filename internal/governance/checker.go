// Package governance gates completed runs. A run passes policy when
// its validation verdict (or documented forced exit) holds up, its
// confidence clears the configured floor, and its generated code
// carries no leaked credentials. Rejection is a reported outcome, not
// an error: the graph records it and the run still returns.
package governance

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/crucible/internal/config"
	"github.com/fyrsmithlabs/crucible/internal/engine"
	"github.com/fyrsmithlabs/crucible/internal/logging"
)

// Check outcome reasons, recorded on the checks metric.
const (
	reasonOK               = "ok"
	reasonValidationFailed = "validation_failed"
	reasonLowConfidence    = "low_confidence"
	reasonSecretsFound     = "secrets_found"
)

// Checker evaluates final run state against policy.
type Checker struct {
	floor    float64
	scanner  *Scanner
	approver Approver
	logger   *logging.Logger
}

// Option adjusts checker construction.
type Option func(*Checker)

// WithApprover replaces the approver selected from configuration.
func WithApprover(a Approver) Option {
	return func(c *Checker) {
		if a != nil {
			c.approver = a
		}
	}
}

// NewChecker loads the allowlist and builds the secret scanner once.
// Allowlist problems fail construction; they are configuration errors.
func NewChecker(cfg config.GovernanceConfig, logger *logging.Logger, opts ...Option) (*Checker, error) {
	allowlist, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	scanner, err := NewScanner(allowlist)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logging.NewNop()
	}

	c := &Checker{
		floor:   cfg.ConfidenceFloor,
		scanner: scanner,
		logger:  logger,
	}
	if cfg.AutoApprove {
		c.approver = AllowAll{}
	} else {
		c.approver = DenyAll{}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check evaluates policy against the final state and records the
// outcome. It never returns an error; a false result means the caller
// should consult the HITL gate.
func (c *Checker) Check(ctx context.Context, st *engine.State) bool {
	reason := c.evaluate(ctx, st)
	if reason == reasonOK {
		checksTotal.WithLabelValues("allow", reason).Inc()
		return true
	}

	checksTotal.WithLabelValues("deny", reason).Inc()
	c.logger.Info(ctx, "governance check failed",
		zap.String("run_id", st.RunID),
		zap.String("domain", st.Domain),
		zap.String("reason", reason),
		zap.Float64("confidence", st.Confidence),
	)
	return false
}

func (c *Checker) evaluate(ctx context.Context, st *engine.State) string {
	if !st.ValidationPassed() && !st.ForcedExit() {
		return reasonValidationFailed
	}
	if st.Confidence < c.floor {
		return reasonLowConfidence
	}
	if findings := c.scanner.Scan(st.Code); len(findings) > 0 {
		rules := make([]string, 0, len(findings))
		for _, f := range findings {
			rules = append(rules, f.RuleID)
		}
		c.logger.Warn(ctx, "credentials detected in generated code",
			zap.String("run_id", st.RunID),
			zap.Int("findings", len(findings)),
			zap.Strings("rules", rules),
		)
		return reasonSecretsFound
	}
	return reasonOK
}

// HITLCheck consults the approver for a run that failed Check. The
// severity is chosen by the graph; approvers may weigh it.
func (c *Checker) HITLCheck(ctx context.Context, severity string, st *engine.State) bool {
	approved := c.approver.Approve(ctx, severity, st)

	outcome := "deny"
	if approved {
		outcome = "allow"
	}
	hitlTotal.WithLabelValues(outcome, severity).Inc()

	c.logger.Info(ctx, "hitl gate consulted",
		zap.String("run_id", st.RunID),
		zap.String("severity", severity),
		zap.Bool("approved", approved),
	)
	return approved
}
