package proposal

// =============================================================================
// TASK STATUS
// =============================================================================

// TaskStatus represents the lifecycle state of an evolution task.
//
// The pipeline walks a task through validation, gating, and application
// phases in strict order. Any phase may terminate the run.
type TaskStatus string

const (
	// StatusPending indicates the task has been created but not started.
	StatusPending TaskStatus = "pending"
	// StatusSandboxValidating indicates the sandbox collaborator is running checks.
	StatusSandboxValidating TaskStatus = "sandbox_validating"
	// StatusPerceptionValidating indicates the isolated mirror validator is running.
	StatusPerceptionValidating TaskStatus = "perception_validating"
	// StatusReviewerGating indicates the reviewer collaborator is producing a verdict.
	StatusReviewerGating TaskStatus = "reviewer_gating"
	// StatusTierRouting indicates the proposal is being classified into a risk tier.
	StatusTierRouting TaskStatus = "tier_routing"
	// StatusCommitting indicates a tier 1-2 change is being committed.
	StatusCommitting TaskStatus = "committing"
	// StatusBranchCreating indicates a tier 3 review branch is being created.
	StatusBranchCreating TaskStatus = "branch_creating"
	// StatusLiveVerifying indicates the applied change is being verified against
	// its visual intent.
	StatusLiveVerifying TaskStatus = "live_verifying"
	// StatusMonitoring indicates post-commit health monitoring is in progress.
	StatusMonitoring TaskStatus = "monitoring"

	// StatusCompleted indicates the change was committed and is healthy.
	StatusCompleted TaskStatus = "completed"
	// StatusReverted indicates monitoring found a regression and the change was
	// rolled back.
	StatusReverted TaskStatus = "reverted"
	// StatusAwaitingReview indicates a tier 3 review branch was created and the
	// change waits for human sign-off.
	StatusAwaitingReview TaskStatus = "awaiting_review"
	// StatusAwaitingVisualReview indicates live verification escalated to a human
	// without undoing the commit.
	StatusAwaitingVisualReview TaskStatus = "awaiting_visual_review"
	// StatusRejected indicates a validation or review gate failed.
	StatusRejected TaskStatus = "rejected"
	// StatusPaused indicates evolution is globally paused and the task was refused.
	StatusPaused TaskStatus = "paused"
	// StatusError indicates an unexpected failure; emergency rollback was attempted
	// if a snapshot existed.
	StatusError TaskStatus = "error"
)

// IsTerminal checks if the status ends the pipeline run.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusReverted, StatusAwaitingReview,
		StatusAwaitingVisualReview, StatusRejected, StatusPaused, StatusError:
		return true
	default:
		return false
	}
}

// IsSuccess checks if the status counts as a successful run outcome.
// A created review branch is itself a successful outcome of the commit phase.
func (s TaskStatus) IsSuccess() bool {
	return s == StatusCompleted || s == StatusAwaitingReview
}

// validStatusTransitions defines the legal task status transitions.
// awaiting_review -> committing is the human approval path; every other
// terminal status has no exits.
var validStatusTransitions = map[TaskStatus][]TaskStatus{
	StatusPending:              {StatusSandboxValidating, StatusPaused, StatusRejected, StatusError},
	StatusSandboxValidating:    {StatusPerceptionValidating, StatusReviewerGating, StatusRejected, StatusError},
	StatusPerceptionValidating: {StatusReviewerGating, StatusRejected, StatusError},
	StatusReviewerGating:       {StatusTierRouting, StatusRejected, StatusError},
	StatusTierRouting:          {StatusCommitting, StatusBranchCreating, StatusError},
	StatusCommitting:           {StatusLiveVerifying, StatusMonitoring, StatusError},
	StatusBranchCreating:       {StatusAwaitingReview, StatusError},
	StatusLiveVerifying:        {StatusMonitoring, StatusAwaitingVisualReview, StatusError},
	StatusMonitoring:           {StatusCompleted, StatusReverted, StatusError},
	StatusAwaitingReview:       {StatusCommitting, StatusRejected},
}

// IsValidStatusTransition checks if a status transition is allowed.
func IsValidStatusTransition(from, to TaskStatus) bool {
	for _, next := range validStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// RISK TIER
// =============================================================================

// Tier represents the risk classification of an approved proposal.
// The tier decides the commit policy: tiers 1-2 commit directly, tier 3
// requires a review branch and never commits directly.
type Tier int

const (
	// TierLowRisk commits directly with light post-commit monitoring.
	TierLowRisk Tier = 1
	// TierModerateRisk commits directly with extended post-commit monitoring.
	TierModerateRisk Tier = 2
	// TierHumanReview never commits; a review branch is created instead.
	TierHumanReview Tier = 3
)

// CommitsDirectly checks if changes at this tier may be committed without
// human sign-off.
func (t Tier) CommitsDirectly() bool {
	return t == TierLowRisk || t == TierModerateRisk
}

// Valid checks if the tier is one of the three defined classes.
func (t Tier) Valid() bool {
	return t >= TierLowRisk && t <= TierHumanReview
}

func (t Tier) String() string {
	switch t {
	case TierLowRisk:
		return "tier_1"
	case TierModerateRisk:
		return "tier_2"
	case TierHumanReview:
		return "tier_3"
	default:
		return "tier_unknown"
	}
}

// =============================================================================
// RECOVERY ACTION
// =============================================================================

// RecoveryAction represents the action chosen after an unhealthy
// post-commit monitoring result. Exactly one action is chosen per regression.
type RecoveryAction string

const (
	// RecoveryAutoRevert restores the genetic snapshot automatically.
	RecoveryAutoRevert RecoveryAction = "auto_revert"
	// RecoveryPause halts all further evolution until a human resumes it.
	RecoveryPause RecoveryAction = "pause_evolution"
	// RecoveryEscalate requests immediate human attention without reverting.
	RecoveryEscalate RecoveryAction = "escalate_to_human"
)

// =============================================================================
// RISK LEVEL
// =============================================================================

// RiskLevel represents the reviewer's risk assessment of a proposal.
type RiskLevel string

const (
	// RiskLow indicates a small, well-understood change.
	RiskLow RiskLevel = "low"
	// RiskMedium indicates a change that warrants extended monitoring.
	RiskMedium RiskLevel = "medium"
	// RiskHigh indicates a change that should not land without human review.
	RiskHigh RiskLevel = "high"
)

// Score maps the risk level to the routing point scale.
func (r RiskLevel) Score() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 10
	case RiskHigh:
		return 20
	default:
		return 10
	}
}
