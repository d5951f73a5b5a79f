package daemon

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/monitor"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/verify"
)

// Logger is the minimal logging interface the daemon depends on.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// SandboxCollaborator validates a proposed change against an isolated copy
// of the codebase. It never touches live artifacts.
type SandboxCollaborator interface {
	Validate(ctx context.Context, p *proposal.Proposal) (*proposal.SandboxResult, error)
}

// PerceptionCollaborator runs the mirror check for perception-affecting
// changes in an isolated subprocess.
type PerceptionCollaborator interface {
	Validate(ctx context.Context, p *proposal.Proposal) (*proposal.PerceptionValidationResult, error)
}

// ReviewerCollaborator renders an approve/reject verdict with a risk rating
// and confidence for an already sandbox-validated proposal.
type ReviewerCollaborator interface {
	Review(ctx context.Context, p *proposal.Proposal, sandbox *proposal.SandboxResult) (*proposal.ReviewVerdict, error)
}

// VersionControl applies approved changes. ApplyAndCommit must be atomic: on
// error the working tree is unchanged and nothing needs rolling back.
// CreateReviewBranch parks a tier 3 change on a branch without touching the
// working branch.
type VersionControl interface {
	ApplyAndCommit(ctx context.Context, p *proposal.Proposal, verdict *proposal.ReviewVerdict, t proposal.Tier) (string, error)
	CreateReviewBranch(ctx context.Context, taskID string, p *proposal.Proposal) (string, error)
}

// ArtifactStore captures and restores artifact content for rollback.
// Snapshot is best effort and may return fewer entries than requested;
// RestoreSnapshot writes every snapshotted artifact back and records the
// restoration.
type ArtifactStore interface {
	Snapshot(artifacts []string) map[string]string
	RestoreSnapshot(ctx context.Context, snapshot map[string]string, reason string) (string, error)
}

// MonitorCollaborator watches a committed change against a health baseline.
type MonitorCollaborator interface {
	CaptureBaseline(ctx context.Context) (*monitor.Baseline, error)
	Monitor(ctx context.Context, commitSHA string, t proposal.Tier) (*proposal.MonitoringResult, error)
}

// Verifier checks a declared visual intent against the live scene.
type Verifier interface {
	Verify(ctx context.Context, intent *proposal.VisualIntent, attempt int) (*verify.Result, error)
	MaxAttempts() int
}

// RegressionHandler decides what happens after monitoring flags a committed
// change. The snapshot has already been restored when it is consulted.
type RegressionHandler interface {
	HandleRegression(commitSHA string, result *proposal.MonitoringResult, t proposal.Tier) proposal.RecoveryAction
}

// ProposalSource produces improvement candidates for a target artifact
// during a scan. Returning (nil, nil) means nothing worth proposing.
type ProposalSource interface {
	Propose(ctx context.Context, targetArtifact string) (*proposal.Proposal, error)
}

// Collaborators groups the backends one daemon drives. Sandbox, Reviewer,
// VersionControl, Artifacts, Monitor, and Recovery are required. Perception,
// Verifier, and Source are optional and enable their phases when present;
// note that a perception-affecting proposal is rejected outright when no
// perception validator is wired.
type Collaborators struct {
	Sandbox        SandboxCollaborator
	Perception     PerceptionCollaborator
	Reviewer       ReviewerCollaborator
	VersionControl VersionControl
	Artifacts      ArtifactStore
	Monitor        MonitorCollaborator
	Verifier       Verifier
	Recovery       RegressionHandler
	Source         ProposalSource
}

func (c *Collaborators) validate() error {
	var missing []string
	if c.Sandbox == nil {
		missing = append(missing, "sandbox")
	}
	if c.Reviewer == nil {
		missing = append(missing, "reviewer")
	}
	if c.VersionControl == nil {
		missing = append(missing, "version control")
	}
	if c.Artifacts == nil {
		missing = append(missing, "artifact store")
	}
	if c.Monitor == nil {
		missing = append(missing, "monitor")
	}
	if c.Recovery == nil {
		missing = append(missing, "recovery handler")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing collaborators: %s", strings.Join(missing, ", "))
	}
	return nil
}
