// Package tier classifies approved proposals into commit-policy tiers.
//
// Classification is a pure function of the proposal and the reviewer's
// verdict. Hard rules run first: protected paths, a high risk rating, or
// reviewer confidence below the floor force human review no matter what the
// point score says. Everything else accumulates routing points that map onto
// the three tiers.
package tier

import (
	"fmt"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/config"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// Decision is the routing outcome with the evidence that produced it.
type Decision struct {
	Tier    proposal.Tier
	Points  int
	Reasons []string
}

// Router classifies proposals against a tier policy.
type Router struct {
	policy *config.TierPolicy
}

// NewRouter creates a router. A nil policy falls back to defaults.
func NewRouter(policy *config.TierPolicy) *Router {
	if policy == nil {
		policy = config.DefaultTierPolicy()
	}
	return &Router{policy: policy}
}

// Classify routes an approved proposal into a tier.
func (r *Router) Classify(p *proposal.Proposal, verdict *proposal.ReviewVerdict) Decision {
	// Hard rules: these paths and verdicts never commit without a human.
	for _, target := range p.TargetArtifacts {
		if r.policy.IsProtected(target) {
			return Decision{
				Tier:    proposal.TierHumanReview,
				Reasons: []string{fmt.Sprintf("protected path %s", target)},
			}
		}
	}
	if verdict.Risk == proposal.RiskHigh {
		return Decision{
			Tier:    proposal.TierHumanReview,
			Reasons: []string{"reviewer rated risk high"},
		}
	}
	if verdict.Confidence < r.policy.MinConfidence {
		return Decision{
			Tier: proposal.TierHumanReview,
			Reasons: []string{fmt.Sprintf("reviewer confidence %.2f below floor %.2f",
				verdict.Confidence, r.policy.MinConfidence)},
		}
	}

	var points int
	var reasons []string

	if s := verdict.Risk.Score(); s > 0 {
		points += s
		reasons = append(reasons, fmt.Sprintf("risk %s (+%d)", verdict.Risk, s))
	}
	if p.AffectsPerception() {
		points += r.policy.PerceptionPoints
		reasons = append(reasons, fmt.Sprintf("affects perception (+%d)", r.policy.PerceptionPoints))
	}
	if extra := len(p.TargetArtifacts) - 1; extra > 0 {
		added := extra * r.policy.ExtraArtifactPoints
		points += added
		reasons = append(reasons, fmt.Sprintf("%d extra artifacts (+%d)", extra, added))
	}
	for _, target := range p.TargetArtifacts {
		if r.policy.IsCritical(target) {
			points += r.policy.CriticalPathPoints
			reasons = append(reasons, fmt.Sprintf("critical path %s (+%d)", target, r.policy.CriticalPathPoints))
			break
		}
	}

	decision := Decision{Points: points, Reasons: reasons}
	switch {
	case points <= r.policy.Tier1MaxPoints:
		decision.Tier = proposal.TierLowRisk
	case points <= r.policy.Tier2MaxPoints:
		decision.Tier = proposal.TierModerateRisk
	default:
		decision.Tier = proposal.TierHumanReview
	}
	return decision
}
