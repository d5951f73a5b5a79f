package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// Test Scan fails when no proposal source is wired.
func TestScanRequiresSource(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.daemon.Scan(context.Background(), []string{testArtifact})
	assert.ErrorContains(t, err, "no proposal source")
}

// Test Scan collects one proposal per productive target and skips the rest.
func TestScanCollectsProposals(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.source = &fakeSource{
			proposals: map[string]*proposal.Proposal{
				"services/router.py": lowRiskProposal(),
			},
			errTarget: "services/broken.py",
		}
	})

	proposals, err := h.daemon.Scan(context.Background(),
		[]string{"services/router.py", "services/quiet.py", "services/broken.py"})
	require.NoError(t, err)

	require.Len(t, proposals, 1)
	assert.Equal(t, "reduce handler latency", proposals[0].Goal)
}

// Test the run loop scans, evolves, and stops when its context ends.
func TestRunLoopEvolvesScannedProposals(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.source = &fakeSource{
			proposals: map[string]*proposal.Proposal{testArtifact: lowRiskProposal()},
			once:      true,
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	err := h.daemon.RunLoop(ctx, 20*time.Millisecond, []string{testArtifact})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	tasks := h.daemon.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, proposal.StatusCompleted, tasks[0].Status)
	assert.Equal(t, 1, h.vcs.commitCount())
}

// Test the run loop expires stale approvals on every pass.
func TestRunLoopExpiresStaleApprovals(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.reviewer.verdict = &proposal.ReviewVerdict{Approved: true, Risk: proposal.RiskHigh, Confidence: 0.9}
		h.opts = append(h.opts, WithApprovalTTL(time.Hour))
	})

	parked := h.evolve(t, lowRiskProposal())
	require.Equal(t, proposal.StatusAwaitingReview, parked.Status)

	h.daemon.mu.Lock()
	h.daemon.approvals[parked.ID].queuedAt = time.Now().Add(-2 * time.Hour)
	h.daemon.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = h.daemon.RunLoop(ctx, 20*time.Millisecond, nil)

	task, ok := h.daemon.Task(parked.ID)
	require.True(t, ok)
	assert.Equal(t, proposal.StatusRejected, task.Status)
	assert.Contains(t, task.Result, "approval window expired")
}
