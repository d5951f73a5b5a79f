package proposal

import (
	"fmt"
	"strings"
)

// =============================================================================
// SANDBOX RESULT
// =============================================================================

// SandboxResult is the outcome of sandbox validation. Produced once per task
// by the sandbox collaborator and never mutated afterwards.
type SandboxResult struct {
	Passed       bool     `json:"passed"`
	ChecksPassed int      `json:"checks_passed"`
	ChecksTotal  int      `json:"checks_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Summary formats the pass counts for task results and logs.
func (r *SandboxResult) Summary() string {
	return fmt.Sprintf("%d/%d checks passed", r.ChecksPassed, r.ChecksTotal)
}

// FirstErrors returns up to max error strings for embedding in a task result.
func (r *SandboxResult) FirstErrors(max int) []string {
	if len(r.Errors) <= max {
		return r.Errors
	}
	return r.Errors[:max]
}

// =============================================================================
// PERCEPTION VALIDATION RESULT
// =============================================================================

// PerceptionValidationResult is the mirror validator's verdict on a proposal
// that touches live-verification-sensitive logic.
//
// ImmortalityPassed is a hard veto independent of accuracy: Success holds
// exactly when the veto passed and accuracy met the threshold.
type PerceptionValidationResult struct {
	Success           bool               `json:"success"`
	Accuracy          float64            `json:"accuracy"`
	ImmortalityPassed bool               `json:"immortality_passed"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
	Issues            []string           `json:"issues,omitempty"`
}

// NewPerceptionValidationResult derives the success flag from the veto and
// the accuracy threshold, keeping the invariant in one place.
func NewPerceptionValidationResult(accuracy float64, immortalityPassed bool, threshold float64) *PerceptionValidationResult {
	return &PerceptionValidationResult{
		Success:           immortalityPassed && accuracy >= threshold,
		Accuracy:          accuracy,
		ImmortalityPassed: immortalityPassed,
		Metrics:           make(map[string]float64),
	}
}

// RejectionReason explains a failed result for the task record.
func (r *PerceptionValidationResult) RejectionReason() string {
	if !r.ImmortalityPassed {
		return "immortality check failed"
	}
	return fmt.Sprintf("perception accuracy %.2f below threshold", r.Accuracy)
}

// =============================================================================
// REVIEW VERDICT
// =============================================================================

// ReviewVerdict is the reviewer collaborator's judgment of a proposal given
// its sandbox result.
type ReviewVerdict struct {
	Approved   bool      `json:"approved"`
	Risk       RiskLevel `json:"risk"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Issues     []string  `json:"issues,omitempty"`
}

// =============================================================================
// MONITORING RESULT
// =============================================================================

// MonitoringResult is the post-commit health verdict for a committed change.
type MonitoringResult struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues,omitempty"`
}

// IssueSummary joins the issues for log and task-result text.
func (r *MonitoringResult) IssueSummary() string {
	if len(r.Issues) == 0 {
		return "no issues"
	}
	return strings.Join(r.Issues, "; ")
}

// =============================================================================
// VISUAL INTENT
// =============================================================================

// VisualIntent describes what the live system should look like after a change,
// for the optional live-verification phase.
type VisualIntent struct {
	Description      string   `json:"description"`
	Scene            string   `json:"scene,omitempty"`
	ExpectedElements []string `json:"expected_elements,omitempty"`
}
