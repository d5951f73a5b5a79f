package proposal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Proposal Tests
// =============================================================================

func TestNewProposal(t *testing.T) {
	p := NewProposal("reduce allocation churn", []string{"core/loop.go"}, "--- a/core/loop.go\n+++ b/core/loop.go\n")

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "reduce allocation churn", p.Goal)
	assert.Equal(t, []string{"core/loop.go"}, p.TargetArtifacts)
	assert.NotNil(t, p.Metadata)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestProposal_AffectsPerception(t *testing.T) {
	p := NewProposal("goal", []string{"a"}, "")
	assert.False(t, p.AffectsPerception())

	p.Metadata["affects_perception"] = true
	assert.True(t, p.AffectsPerception())

	// Non-bool values do not count.
	p.Metadata["affects_perception"] = "yes"
	assert.False(t, p.AffectsPerception())
}

func TestProposal_Clone(t *testing.T) {
	p := NewProposal("goal", []string{"a", "b"}, "diff")
	p.Metadata["key"] = "value"

	clone := p.Clone()
	clone.TargetArtifacts[0] = "changed"
	clone.Metadata["key"] = "other"

	assert.Equal(t, "a", p.TargetArtifacts[0])
	assert.Equal(t, "value", p.Metadata["key"])
}

// =============================================================================
// Task Tests
// =============================================================================

func TestNewTask(t *testing.T) {
	task := NewTask("optimize hot path", "core/loop.go")

	assert.True(t, strings.HasPrefix(task.ID, "evolve_"))
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, "core/loop.go", task.TargetArtifact)
	assert.NotNil(t, task.ChangesMade)
	assert.False(t, task.HasSnapshot())
}

func TestNewTask_UniqueIDs(t *testing.T) {
	a := NewTask("goal", "x")
	b := NewTask("goal", "x")
	assert.NotEqual(t, a.ID, b.ID)
}

func TestTask_SetStatus_ValidPath(t *testing.T) {
	task := NewTask("goal", "x")

	require.NoError(t, task.SetStatus(StatusSandboxValidating, ""))
	require.NoError(t, task.SetStatus(StatusReviewerGating, "sandbox passed"))
	require.NoError(t, task.SetStatus(StatusTierRouting, ""))
	require.NoError(t, task.SetStatus(StatusCommitting, ""))
	require.NoError(t, task.SetStatus(StatusMonitoring, ""))
	require.NoError(t, task.SetStatus(StatusCompleted, "healthy"))

	assert.Equal(t, StatusCompleted, task.Status)
	assert.Len(t, task.History, 6)
	assert.Equal(t, "sandbox passed", task.History[1].Note)
}

func TestTask_SetStatus_InvalidTransition(t *testing.T) {
	task := NewTask("goal", "x")

	err := task.SetStatus(StatusMonitoring, "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid task transition")
	assert.Equal(t, StatusPending, task.Status)
}

func TestTask_SetStatus_TerminalIsFinal(t *testing.T) {
	task := NewTask("goal", "x")
	require.NoError(t, task.SetStatus(StatusSandboxValidating, ""))
	require.NoError(t, task.SetStatus(StatusRejected, "sandbox failed"))

	assert.Error(t, task.SetStatus(StatusReviewerGating, ""))
	assert.Error(t, task.SetStatus(StatusCompleted, ""))
}

func TestTask_SetStatus_ApprovalPathLeavesAwaitingReview(t *testing.T) {
	task := NewTask("goal", "x")
	require.NoError(t, task.SetStatus(StatusSandboxValidating, ""))
	require.NoError(t, task.SetStatus(StatusReviewerGating, ""))
	require.NoError(t, task.SetStatus(StatusTierRouting, ""))
	require.NoError(t, task.SetStatus(StatusBranchCreating, ""))
	require.NoError(t, task.SetStatus(StatusAwaitingReview, "branch created"))

	// Human approval may resume the commit path.
	require.NoError(t, task.SetStatus(StatusCommitting, "approved"))
}

func TestTask_SetStatus_SameStatusIsNoop(t *testing.T) {
	task := NewTask("goal", "x")
	require.NoError(t, task.SetStatus(StatusPending, "noop"))
	assert.Empty(t, task.History)
}

func TestTask_Clone_Independent(t *testing.T) {
	task := NewTask("goal", "x")
	task.GeneticSnapshot = map[string]string{"x": "original"}
	task.RecordChange("applied diff")
	task.VisualIntent = &VisualIntent{Description: "dashboard", ExpectedElements: []string{"chart"}}

	clone := task.Clone()
	clone.GeneticSnapshot["x"] = "mutated"
	clone.ChangesMade[0] = "other"
	clone.VisualIntent.ExpectedElements[0] = "table"

	assert.Equal(t, "original", task.GeneticSnapshot["x"])
	assert.Equal(t, "applied diff", task.ChangesMade[0])
	assert.Equal(t, "chart", task.VisualIntent.ExpectedElements[0])
}

// =============================================================================
// TaskStatus Tests
// =============================================================================

func TestTaskStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		expected bool
	}{
		{StatusPending, false},
		{StatusSandboxValidating, false},
		{StatusPerceptionValidating, false},
		{StatusReviewerGating, false},
		{StatusTierRouting, false},
		{StatusCommitting, false},
		{StatusBranchCreating, false},
		{StatusLiveVerifying, false},
		{StatusMonitoring, false},
		{StatusCompleted, true},
		{StatusReverted, true},
		{StatusAwaitingReview, true},
		{StatusAwaitingVisualReview, true},
		{StatusRejected, true},
		{StatusPaused, true},
		{StatusError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.IsTerminal())
		})
	}
}

func TestTaskStatus_IsSuccess(t *testing.T) {
	assert.True(t, StatusCompleted.IsSuccess())
	assert.True(t, StatusAwaitingReview.IsSuccess())
	assert.False(t, StatusReverted.IsSuccess())
	assert.False(t, StatusRejected.IsSuccess())
	assert.False(t, StatusPaused.IsSuccess())
	assert.False(t, StatusError.IsSuccess())
}

// =============================================================================
// Tier Tests
// =============================================================================

func TestTier_CommitsDirectly(t *testing.T) {
	assert.True(t, TierLowRisk.CommitsDirectly())
	assert.True(t, TierModerateRisk.CommitsDirectly())
	assert.False(t, TierHumanReview.CommitsDirectly())
}

func TestTier_String(t *testing.T) {
	assert.Equal(t, "tier_1", TierLowRisk.String())
	assert.Equal(t, "tier_2", TierModerateRisk.String())
	assert.Equal(t, "tier_3", TierHumanReview.String())
	assert.Equal(t, "tier_unknown", Tier(9).String())
}

// =============================================================================
// Result Tests
// =============================================================================

func TestSandboxResult_Summary(t *testing.T) {
	r := &SandboxResult{Passed: false, ChecksPassed: 3, ChecksTotal: 5}
	assert.Equal(t, "3/5 checks passed", r.Summary())
}

func TestSandboxResult_FirstErrors(t *testing.T) {
	r := &SandboxResult{Errors: []string{"e1", "e2", "e3", "e4", "e5"}}
	assert.Equal(t, []string{"e1", "e2", "e3"}, r.FirstErrors(3))

	short := &SandboxResult{Errors: []string{"only"}}
	assert.Equal(t, []string{"only"}, short.FirstErrors(3))
}

func TestNewPerceptionValidationResult_Invariant(t *testing.T) {
	tests := []struct {
		name       string
		accuracy   float64
		immortal   bool
		threshold  float64
		expectPass bool
	}{
		{"both_pass", 0.92, true, 0.85, true},
		{"accuracy_at_threshold", 0.85, true, 0.85, true},
		{"veto_overrides_accuracy", 0.99, false, 0.85, false},
		{"low_accuracy", 0.60, true, 0.85, false},
		{"both_fail", 0.10, false, 0.85, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewPerceptionValidationResult(tt.accuracy, tt.immortal, tt.threshold)
			assert.Equal(t, tt.expectPass, r.Success)
			assert.Equal(t, tt.expectPass, r.ImmortalityPassed && r.Accuracy >= tt.threshold)
		})
	}
}

func TestPerceptionValidationResult_RejectionReason(t *testing.T) {
	vetoed := NewPerceptionValidationResult(0.99, false, 0.85)
	assert.Equal(t, "immortality check failed", vetoed.RejectionReason())

	inaccurate := NewPerceptionValidationResult(0.50, true, 0.85)
	assert.Contains(t, inaccurate.RejectionReason(), "below threshold")
}

func TestMonitoringResult_IssueSummary(t *testing.T) {
	healthy := &MonitoringResult{Healthy: true}
	assert.Equal(t, "no issues", healthy.IssueSummary())

	unhealthy := &MonitoringResult{Healthy: false, Issues: []string{"latency regression", "error rate spike"}}
	assert.Equal(t, "latency regression; error rate spike", unhealthy.IssueSummary())
}

func TestRiskLevel_Score(t *testing.T) {
	assert.Equal(t, 0, RiskLow.Score())
	assert.Equal(t, 10, RiskMedium.Score())
	assert.Equal(t, 20, RiskHigh.Score())
	assert.Equal(t, 10, RiskLevel("unknown").Score())
}
