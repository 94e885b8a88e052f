package governance

import (
	"context"

	"github.com/fyrsmithlabs/crucible/internal/engine"
)

// Approver decides whether a run that failed the policy check may
// proceed anyway. Interactive frontends can prompt a human here;
// non-interactive deployments pick one of the fixed policies below.
type Approver interface {
	Approve(ctx context.Context, severity string, st *engine.State) bool
}

// AllowAll approves every request. Selected when auto_approve is set.
type AllowAll struct{}

func (AllowAll) Approve(context.Context, string, *engine.State) bool { return true }

// DenyAll rejects every request. The default for unattended runs.
type DenyAll struct{}

func (DenyAll) Approve(context.Context, string, *engine.State) bool { return false }

var (
	_ Approver = AllowAll{}
	_ Approver = DenyAll{}
)
