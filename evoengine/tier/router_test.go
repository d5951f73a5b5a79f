package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/config"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func makeProposal(perception bool, targets ...string) *proposal.Proposal {
	p := proposal.NewProposal("tune handler", targets, "--- a/x\n+++ b/x\n")
	if perception {
		p.Metadata["affects_perception"] = true
	}
	return p
}

func makeVerdict(risk proposal.RiskLevel, confidence float64) *proposal.ReviewVerdict {
	return &proposal.ReviewVerdict{Approved: true, Risk: risk, Confidence: confidence}
}

// =============================================================================
// HARD RULE TESTS
// =============================================================================

// Test that protected paths always route to human review.
func TestClassifyProtectedPath(t *testing.T) {
	r := NewRouter(nil)
	p := makeProposal(false, "core/safety/guard.py")

	d := r.Classify(p, makeVerdict(proposal.RiskLow, 0.95))
	assert.Equal(t, proposal.TierHumanReview, d.Tier)
	require.NotEmpty(t, d.Reasons)
	assert.Contains(t, d.Reasons[0], "protected path")
}

// Test that identity paths are protected by default.
func TestClassifyIdentityPathProtected(t *testing.T) {
	r := NewRouter(nil)
	p := makeProposal(false, "core/identity/self_model.py")

	d := r.Classify(p, makeVerdict(proposal.RiskLow, 0.95))
	assert.Equal(t, proposal.TierHumanReview, d.Tier)
}

// Test that a high risk rating forces human review regardless of points.
func TestClassifyHighRisk(t *testing.T) {
	r := NewRouter(nil)
	p := makeProposal(false, "organism/handler.py")

	d := r.Classify(p, makeVerdict(proposal.RiskHigh, 0.95))
	assert.Equal(t, proposal.TierHumanReview, d.Tier)
	require.NotEmpty(t, d.Reasons)
	assert.Contains(t, d.Reasons[0], "risk high")
}

// Test that low reviewer confidence forces human review.
func TestClassifyLowConfidence(t *testing.T) {
	r := NewRouter(nil)
	p := makeProposal(false, "organism/handler.py")

	d := r.Classify(p, makeVerdict(proposal.RiskLow, 0.40))
	assert.Equal(t, proposal.TierHumanReview, d.Tier)
	require.NotEmpty(t, d.Reasons)
	assert.Contains(t, d.Reasons[0], "confidence 0.40 below floor 0.60")
}

// =============================================================================
// POINT SCORING TESTS
// =============================================================================

// Test point accumulation and tier boundaries.
func TestClassifyPoints(t *testing.T) {
	tests := []struct {
		name       string
		risk       proposal.RiskLevel
		perception bool
		targets    []string
		wantPoints int
		wantTier   proposal.Tier
	}{
		{
			name:       "low risk single artifact",
			risk:       proposal.RiskLow,
			targets:    []string{"organism/handler.py"},
			wantPoints: 0,
			wantTier:   proposal.TierLowRisk,
		},
		{
			name:       "medium risk lands on tier 1 boundary",
			risk:       proposal.RiskMedium,
			targets:    []string{"organism/handler.py"},
			wantPoints: 10,
			wantTier:   proposal.TierLowRisk,
		},
		{
			name:       "perception affecting low risk",
			risk:       proposal.RiskLow,
			perception: true,
			targets:    []string{"organism/handler.py"},
			wantPoints: 10,
			wantTier:   proposal.TierLowRisk,
		},
		{
			name:       "medium risk plus perception",
			risk:       proposal.RiskMedium,
			perception: true,
			targets:    []string{"organism/handler.py"},
			wantPoints: 20,
			wantTier:   proposal.TierModerateRisk,
		},
		{
			name:       "tier 2 boundary",
			risk:       proposal.RiskMedium,
			perception: true,
			targets:    []string{"organism/handler.py", "organism/router.py"},
			wantPoints: 25,
			wantTier:   proposal.TierModerateRisk,
		},
		{
			name:       "past tier 2 boundary",
			risk:       proposal.RiskMedium,
			perception: true,
			targets:    []string{"organism/a.py", "organism/b.py", "organism/c.py"},
			wantPoints: 30,
			wantTier:   proposal.TierHumanReview,
		},
		{
			name:       "critical path alone",
			risk:       proposal.RiskLow,
			targets:    []string{"core/planner.py"},
			wantPoints: 30,
			wantTier:   proposal.TierHumanReview,
		},
		{
			name:       "perception tree is critical",
			risk:       proposal.RiskLow,
			targets:    []string{"perception/mirror.py"},
			wantPoints: 30,
			wantTier:   proposal.TierHumanReview,
		},
		{
			name:       "critical path counted once",
			risk:       proposal.RiskLow,
			targets:    []string{"core/a.py", "core/b.py"},
			wantPoints: 35,
			wantTier:   proposal.TierHumanReview,
		},
	}

	r := NewRouter(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := makeProposal(tt.perception, tt.targets...)
			d := r.Classify(p, makeVerdict(tt.risk, 0.9))
			assert.Equal(t, tt.wantTier, d.Tier)
			assert.Equal(t, tt.wantPoints, d.Points)
		})
	}
}

// Test that scoring reasons name their contributions.
func TestClassifyReasons(t *testing.T) {
	r := NewRouter(nil)
	p := makeProposal(true, "organism/handler.py", "organism/router.py")

	d := r.Classify(p, makeVerdict(proposal.RiskMedium, 0.9))
	require.Len(t, d.Reasons, 3)
	assert.Contains(t, d.Reasons[0], "risk medium (+10)")
	assert.Contains(t, d.Reasons[1], "affects perception (+10)")
	assert.Contains(t, d.Reasons[2], "1 extra artifacts (+5)")
}

// Test that a custom policy changes the boundaries.
func TestClassifyCustomPolicy(t *testing.T) {
	policy := config.DefaultTierPolicy()
	policy.Tier1MaxPoints = 0
	r := NewRouter(policy)
	p := makeProposal(false, "organism/handler.py")

	d := r.Classify(p, makeVerdict(proposal.RiskMedium, 0.9))
	assert.Equal(t, proposal.TierModerateRisk, d.Tier)
}

// Test that classification is deterministic for identical inputs.
func TestClassifyDeterministic(t *testing.T) {
	r := NewRouter(nil)
	p := makeProposal(true, "organism/handler.py")
	v := makeVerdict(proposal.RiskMedium, 0.8)

	first := r.Classify(p, v)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Classify(p, v))
	}
}

// =============================================================================
// MONITORING REQUIREMENTS TESTS
// =============================================================================

// Test the scrutiny ladder across tiers.
func TestMonitoringRequirements(t *testing.T) {
	low := MonitoringRequirements(proposal.TierLowRisk)
	assert.Equal(t, DurationShort, low.Duration)
	assert.False(t, low.VisualMonitoring)
	assert.False(t, low.HumanReview)

	moderate := MonitoringRequirements(proposal.TierModerateRisk)
	assert.Equal(t, DurationExtended, moderate.Duration)
	assert.True(t, moderate.VisualMonitoring)
	assert.False(t, moderate.HumanReview)

	human := MonitoringRequirements(proposal.TierHumanReview)
	assert.True(t, human.VisualMonitoring)
	assert.True(t, human.HumanReview)
}
