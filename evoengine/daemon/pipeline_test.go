package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/recovery"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/verify"
)

// =============================================================================
// GATE FAILURES
// =============================================================================

// Test a failing sandbox rejects the task before any later phase runs and
// embeds the first three check errors in the result.
func TestSandboxRejectionStopsPipeline(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.sandbox.result = &proposal.SandboxResult{
			Passed:       false,
			ChecksPassed: 0,
			ChecksTotal:  5,
			Errors: []string{
				"import of removed module",
				"syntax error line 14",
				"type check failed",
				"lint gate failed",
				"unit suite failed",
			},
		}
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusRejected, task.Status)
	assert.Contains(t, task.Result, "Sandbox validation failed")
	assert.Contains(t, task.Result, "import of removed module")
	assert.Contains(t, task.Result, "type check failed")
	assert.NotContains(t, task.Result, "lint gate failed")

	assert.Equal(t, 0, h.reviewer.callCount())
	assert.Equal(t, 0, h.vcs.commitCount())
	assert.Equal(t, 0, h.monitor.monitorCount())
	assert.Empty(t, task.ChangesMade)
}

// Test a sandbox collaborator outage rejects rather than erroring the task.
func TestSandboxOutageRejects(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.sandbox.err = errors.New("sandbox container did not start")
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusRejected, task.Status)
	assert.Contains(t, task.Result, "sandbox container did not start")
	assert.Equal(t, 0, h.reviewer.callCount())
}

// Test a perception-affecting change that fails the immortality check is
// rejected without consulting the reviewer.
func TestPerceptionVetoSkipsReviewer(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.perception = &fakePerception{
			result: proposal.NewPerceptionValidationResult(0.92, false, 0.85),
		}
	})

	task := h.evolve(t, perceptionProposal())

	assert.Equal(t, proposal.StatusRejected, task.Status)
	assert.Contains(t, task.Result, "immortality check failed")
	assert.Equal(t, 0, h.reviewer.callCount())
	assert.Equal(t, 0, h.vcs.commitCount())
}

// Test perception accuracy below threshold is named in the rejection.
func TestPerceptionAccuracyBelowThreshold(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.perception = &fakePerception{
			result: proposal.NewPerceptionValidationResult(0.70, true, 0.85),
		}
	})

	task := h.evolve(t, perceptionProposal())

	assert.Equal(t, proposal.StatusRejected, task.Status)
	assert.Contains(t, task.Result, "accuracy 0.70")
	assert.Equal(t, 0, h.reviewer.callCount())
}

// Test a perception-affecting change fails closed when no validator is wired.
func TestPerceptionRequiredButMissing(t *testing.T) {
	h := newHarness(t, nil)

	task := h.evolve(t, perceptionProposal())

	assert.Equal(t, proposal.StatusRejected, task.Status)
	assert.Contains(t, task.Result, "no validator is wired")
	assert.Equal(t, 0, h.reviewer.callCount())
}

// Test non-perception proposals skip the perception phase entirely.
func TestPerceptionSkippedWhenNotAffected(t *testing.T) {
	perception := &fakePerception{}
	h := newHarness(t, func(h *harness) {
		h.perception = perception
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusCompleted, task.Status)
	assert.Equal(t, 0, perception.calls)
}

// Test a reviewer rejection carries the reviewer's reasoning.
func TestReviewerRejection(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.reviewer.verdict = &proposal.ReviewVerdict{
			Approved:   false,
			Risk:       proposal.RiskMedium,
			Confidence: 0.4,
			Reasoning:  "diff touches retry logic without tests",
		}
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusRejected, task.Status)
	assert.Contains(t, task.Result, "Review rejected: diff touches retry logic without tests")
	assert.Equal(t, 0, h.vcs.commitCount())
}

// =============================================================================
// TIER ROUTING AND COMMIT PATHS
// =============================================================================

// Test a healthy low-risk change commits directly and completes.
func TestHealthyCommitCompletes(t *testing.T) {
	h := newHarness(t, nil)

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusCompleted, task.Status)
	assert.True(t, task.Status.IsSuccess())
	assert.Equal(t, "Evolution completed successfully", task.Result)
	assert.Equal(t, 1, h.vcs.commitCount())
	assert.Equal(t, 1, h.monitor.monitorCount())
	require.Len(t, task.ChangesMade, 1)
	assert.Contains(t, task.ChangesMade[0], "Applied")
	assert.Contains(t, task.ChangesMade[0], "c123")
	assert.Equal(t, map[string]string{testArtifact: "original content"}, task.GeneticSnapshot)
	assert.Equal(t, "mutated content", h.artifacts.read(testArtifact))
}

// Test the phase trail of a direct-commit run is recorded in order.
func TestHistoryRecordsPhaseTrail(t *testing.T) {
	h := newHarness(t, nil)

	task := h.evolve(t, lowRiskProposal())

	want := []proposal.TaskStatus{
		proposal.StatusSandboxValidating,
		proposal.StatusReviewerGating,
		proposal.StatusTierRouting,
		proposal.StatusCommitting,
		proposal.StatusMonitoring,
		proposal.StatusCompleted,
	}
	require.Len(t, task.History, len(want))
	for i, status := range want {
		assert.Equal(t, status, task.History[i].Status)
	}
}

// Test a high-risk verdict opens a review branch instead of committing.
func TestHighRiskRoutesToReviewBranch(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.reviewer.verdict = &proposal.ReviewVerdict{Approved: true, Risk: proposal.RiskHigh, Confidence: 0.9}
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusAwaitingReview, task.Status)
	assert.True(t, task.Status.IsSuccess())
	assert.Equal(t, 0, h.vcs.commitCount())
	assert.Equal(t, 1, h.vcs.branchCount())
	assert.Equal(t, "evo-"+task.ID, h.vcs.lastBranch)
	assert.Contains(t, task.Result, "Review branch evo-"+task.ID)
	assert.Equal(t, []string{task.ID}, h.daemon.ApprovalQueue())
	assert.Equal(t, "original content", h.artifacts.read(testArtifact))
}

// Test a protected path forces the review branch regardless of verdict.
func TestProtectedPathForcesReviewBranch(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.artifacts = newFakeArtifacts(map[string]string{"core/safety/limits.py": "original"})
	})

	p := proposal.NewProposal("loosen rate limits", []string{"core/safety/limits.py"}, "diff")
	task := h.evolve(t, p)

	assert.Equal(t, proposal.StatusAwaitingReview, task.Status)
	assert.Equal(t, 0, h.vcs.commitCount())
	assert.Equal(t, 1, h.vcs.branchCount())
}

// Test a commit failure errors the task without touching the snapshot.
func TestCommitFailureNoRollback(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.vcs.commitErr = errors.New("merge conflict in services/router.py")
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusError, task.Status)
	assert.Contains(t, task.Result, "Commit failed: merge conflict")
	assert.Equal(t, 0, h.artifacts.restoreCount())
	assert.Equal(t, "original content", h.artifacts.read(testArtifact))
	assert.Equal(t, 0, h.monitor.monitorCount())
	assert.Equal(t, recovery.StateClosed, h.breaker.State())
}

// Test a review branch failure errors the task without queueing an approval.
func TestBranchFailureErrorsTask(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.reviewer.verdict = &proposal.ReviewVerdict{Approved: true, Risk: proposal.RiskHigh, Confidence: 0.9}
		h.vcs.branchErr = errors.New("branch already exists")
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusError, task.Status)
	assert.Contains(t, task.Result, "Review branch creation failed")
	assert.Empty(t, h.daemon.ApprovalQueue())
}

// =============================================================================
// MONITORING AND ROLLBACK
// =============================================================================

// Test an unhealthy monitoring verdict restores the snapshot and records the
// chosen recovery action in the result.
func TestRegressionRevertsAndRestores(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.monitor.result = &proposal.MonitoringResult{Healthy: false, Issues: []string{"latency regression"}}
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusReverted, task.Status)
	assert.Equal(t, "Regression detected, action: auto_revert", task.Result)
	assert.Equal(t, 1, h.artifacts.restoreCount())
	assert.Equal(t, "original content", h.artifacts.read(testArtifact))
	assert.Equal(t, recovery.StateClosed, h.breaker.State())
}

// Test a critical regression escalates and pauses all further evolution.
func TestCriticalRegressionEscalatesAndPauses(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.monitor.result = &proposal.MonitoringResult{
			Healthy: false,
			Issues:  []string{"security vulnerability detected in auth flow"},
		}
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusReverted, task.Status)
	assert.Equal(t, "Regression detected, action: escalate_to_human", task.Result)
	assert.Equal(t, 1, h.artifacts.restoreCount())

	paused, reason := h.breaker.IsPaused()
	assert.True(t, paused)
	assert.Contains(t, reason, "human review required")
}

// Test a quiet regression on a tier 2 change pauses instead of auto-reverting.
func TestQuietTier2RegressionPauses(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.perception = &fakePerception{}
		h.reviewer.verdict = &proposal.ReviewVerdict{Approved: true, Risk: proposal.RiskMedium, Confidence: 0.9}
		h.monitor.result = &proposal.MonitoringResult{Healthy: false, Issues: []string{"latency regression"}}
	})

	task := h.evolve(t, perceptionProposal())

	assert.Equal(t, proposal.StatusReverted, task.Status)
	assert.Equal(t, "Regression detected, action: pause_evolution", task.Result)
	assert.Equal(t, 1, h.artifacts.restoreCount())

	paused, reason := h.breaker.IsPaused()
	assert.True(t, paused)
	assert.Contains(t, reason, "regression detected")
}

// Test a baseline capture failure errors the task and rolls the commit back.
func TestBaselineFailureRollsBack(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.monitor.baselineErr = errors.New("head snapshot unavailable")
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusError, task.Status)
	assert.Contains(t, task.Result, "capture baseline")
	assert.Equal(t, 1, h.artifacts.restoreCount())
	assert.Equal(t, "original content", h.artifacts.read(testArtifact))
}

// Test a monitor probe failure errors the task and rolls the commit back.
func TestMonitorProbeFailureRollsBack(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.monitor.err = errors.New("probe timeout")
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusError, task.Status)
	assert.Contains(t, task.Result, "probe timeout")
	assert.Equal(t, 1, h.artifacts.restoreCount())
	assert.Equal(t, "original content", h.artifacts.read(testArtifact))
}

// Test cancellation mid-monitoring still restores the committed change even
// though the task's own context is gone.
func TestCancellationDuringMonitoringRollsBack(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.monitor.blockUntilCancel = true
	})

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	task, err := h.daemon.Evolve(ctx, lowRiskProposal())
	require.NoError(t, err)

	assert.Equal(t, proposal.StatusError, task.Status)
	assert.Equal(t, 1, h.artifacts.restoreCount())
	assert.Equal(t, "original content", h.artifacts.read(testArtifact))
}

// Test a panic after commit is contained and the snapshot restored.
func TestPanicAfterCommitRollsBack(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.monitor.panicOnMonitor = true
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusError, task.Status)
	assert.Contains(t, task.Result, "panic")
	assert.Equal(t, 1, h.artifacts.restoreCount())
	assert.Equal(t, "original content", h.artifacts.read(testArtifact))
}

// Test a regression with no snapshot on file still reverts the task record
// without calling the artifact store.
func TestRegressionWithoutSnapshot(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.artifacts = newFakeArtifacts(map[string]string{})
		h.monitor.result = &proposal.MonitoringResult{Healthy: false, Issues: []string{"latency regression"}}
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusReverted, task.Status)
	assert.Equal(t, "Regression detected, action: auto_revert", task.Result)
	assert.Equal(t, 0, h.artifacts.restoreCount())
}

// =============================================================================
// LIVE VERIFICATION
// =============================================================================

func visualIntentFixture() *proposal.VisualIntent {
	return &proposal.VisualIntent{
		Description:      "status chip turns green after deploy",
		Scene:            "dashboard",
		ExpectedElements: []string{"status_chip"},
	}
}

// Test a passing verification proceeds to monitoring and completion.
func TestVisualVerificationPasses(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.verifier = &fakeVerifier{
			outcomes:    []verify.Outcome{verify.OutcomePass},
			confidences: []float64{0.97},
		}
	})

	task := h.evolve(t, lowRiskProposal(), WithVisualIntent(visualIntentFixture()))

	assert.Equal(t, proposal.StatusCompleted, task.Status)
	assert.Equal(t, 1, task.VisualAttempt)
	assert.Equal(t, 1, h.monitor.monitorCount())
}

// Test a retry verdict retries and then passes on the second attempt.
func TestVisualRetryThenPass(t *testing.T) {
	verifier := &fakeVerifier{
		outcomes:    []verify.Outcome{verify.OutcomeRetry, verify.OutcomePass},
		confidences: []float64{0.62, 0.94},
	}
	h := newHarness(t, func(h *harness) {
		h.verifier = verifier
	})

	task := h.evolve(t, lowRiskProposal(), WithVisualIntent(visualIntentFixture()))

	assert.Equal(t, proposal.StatusCompleted, task.Status)
	assert.Equal(t, 2, task.VisualAttempt)
	assert.Equal(t, 2, verifier.calls)
}

// Test an escalated verification parks the task while the commit stays live.
func TestVisualEscalationKeepsCommit(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.verifier = &fakeVerifier{
			outcomes:    []verify.Outcome{verify.OutcomeEscalate},
			confidences: []float64{0.30},
		}
	})

	task := h.evolve(t, lowRiskProposal(), WithVisualIntent(visualIntentFixture()))

	assert.Equal(t, proposal.StatusAwaitingVisualReview, task.Status)
	assert.False(t, task.Status.IsSuccess())
	assert.Contains(t, task.Result, "needs human review")
	assert.Equal(t, 1, task.VisualAttempt)
	assert.Equal(t, 0, h.artifacts.restoreCount())
	assert.Equal(t, "mutated content", h.artifacts.read(testArtifact))
	assert.Equal(t, 0, h.monitor.monitorCount())
}

// Test exhausted retries escalate even when the verifier keeps suggesting
// another attempt.
func TestVisualRetriesExhausted(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.verifier = &fakeVerifier{
			outcomes:    []verify.Outcome{verify.OutcomeRetry, verify.OutcomeRetry, verify.OutcomeRetry},
			confidences: []float64{0.5, 0.55, 0.58},
		}
	})

	task := h.evolve(t, lowRiskProposal(), WithVisualIntent(visualIntentFixture()))

	assert.Equal(t, proposal.StatusAwaitingVisualReview, task.Status)
	assert.Equal(t, 3, task.VisualAttempt)
	assert.Equal(t, "mutated content", h.artifacts.read(testArtifact))
}

// Test a verifier outage logs and falls back to monitoring.
func TestVerifierOutageFallsBackToMonitoring(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.verifier = &fakeVerifier{err: errors.New("scene reader offline")}
	})

	task := h.evolve(t, lowRiskProposal(), WithVisualIntent(visualIntentFixture()))

	assert.Equal(t, proposal.StatusCompleted, task.Status)
	assert.Equal(t, 1, task.VisualAttempt)
	assert.Equal(t, 1, h.monitor.monitorCount())
}

// Test verification is skipped when the task declares no visual intent.
func TestVerificationSkippedWithoutIntent(t *testing.T) {
	verifier := &fakeVerifier{outcomes: []verify.Outcome{verify.OutcomePass}}
	h := newHarness(t, func(h *harness) {
		h.verifier = verifier
	})

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusCompleted, task.Status)
	assert.Equal(t, 0, verifier.calls)
	assert.Equal(t, 0, task.VisualAttempt)
}

// =============================================================================
// GLOBAL GATES
// =============================================================================

// Test a paused daemon refuses tasks with zero side effects.
func TestPausedRefusesWithoutSideEffects(t *testing.T) {
	h := newHarness(t, nil)
	h.daemon.Pause("maintenance window")

	task := h.evolve(t, lowRiskProposal())

	assert.Equal(t, proposal.StatusPaused, task.Status)
	assert.Equal(t, "Evolution is paused: maintenance window", task.Result)
	assert.Equal(t, 0, h.sandbox.callCount())
	assert.Equal(t, 0, h.vcs.commitCount())
	assert.Equal(t, 0, h.monitor.monitorCount())
	assert.Empty(t, task.GeneticSnapshot)
	assert.Equal(t, 0, h.daemon.Stats().EvolutionCount)
}

// Test the hourly rate cap refuses the task that would exceed it.
func TestRateCapRefusesExcessTask(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.cfg.MaxEvolutionsPerHour = 1
	})

	first := h.evolve(t, lowRiskProposal())
	assert.Equal(t, proposal.StatusCompleted, first.Status)

	second := h.evolve(t, lowRiskProposal())
	assert.Equal(t, proposal.StatusPaused, second.Status)
	assert.Contains(t, second.Result, "rate cap")
	assert.Equal(t, 1, h.sandbox.callCount())
	assert.Equal(t, 1, h.daemon.Stats().EvolutionCount)
}

// Test the breaker opens after consecutive failures and refuses new tasks.
func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.vcs.commitErr = errors.New("index locked")
	})

	for i := 0; i < 3; i++ {
		task := h.evolve(t, lowRiskProposal())
		assert.Equal(t, proposal.StatusError, task.Status)
	}
	assert.Equal(t, recovery.StateOpen, h.breaker.State())

	refused := h.evolve(t, lowRiskProposal())
	assert.Equal(t, proposal.StatusPaused, refused.Status)
	assert.Contains(t, refused.Result, "Evolution is paused")
	assert.Equal(t, 3, h.sandbox.callCount())
}

// Test SafeEvolve refuses to run a task twice.
func TestSafeEvolveRunsTaskOnce(t *testing.T) {
	h := newHarness(t, nil)

	task, err := h.daemon.Submit(lowRiskProposal())
	require.NoError(t, err)

	assert.True(t, h.daemon.SafeEvolve(context.Background(), task.ID))
	assert.False(t, h.daemon.SafeEvolve(context.Background(), task.ID))
	assert.Equal(t, 1, h.sandbox.callCount())
	assert.Equal(t, 1, h.vcs.commitCount())
}

// Test SafeEvolve reports unknown task ids without panicking.
func TestSafeEvolveUnknownTask(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.daemon.SafeEvolve(context.Background(), "evolve_20260825_unknown0"))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

// Test two runs against the same artifact never overlap their commit and
// monitoring sections.
func TestSameArtifactRunsSerialized(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.monitor.delay = 30 * time.Millisecond
	})

	first, err := h.daemon.Submit(lowRiskProposal())
	require.NoError(t, err)
	second, err := h.daemon.Submit(lowRiskProposal())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			h.daemon.SafeEvolve(context.Background(), taskID)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 2, h.vcs.commitCount())
	assert.Equal(t, 2, h.monitor.monitorCount())
	assert.Equal(t, 1, h.monitor.maxInFlight)

	for _, id := range []string{first.ID, second.ID} {
		task, ok := h.daemon.Task(id)
		require.True(t, ok)
		assert.Equal(t, proposal.StatusCompleted, task.Status)
	}
}
