package tier

import (
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// Duration classes for the post-commit observation window.
const (
	DurationShort    = "short"
	DurationExtended = "extended"
)

// Requirements describes the post-commit scrutiny a tier calls for. The
// monitor uses it to pick between the quick regression path and the extended
// observation window.
type Requirements struct {
	Duration         string `json:"duration"`
	VisualMonitoring bool   `json:"visual_monitoring"`
	HumanReview      bool   `json:"human_review"`
}

// MonitoringRequirements maps a tier to its monitoring requirements.
//
//	Tier 1: regression suite only, short window
//	Tier 2: + heartbeat and resource checks over an extended window
//	Tier 3: extended window and a human stays in the loop
func MonitoringRequirements(t proposal.Tier) Requirements {
	switch t {
	case proposal.TierLowRisk:
		return Requirements{Duration: DurationShort}
	case proposal.TierModerateRisk:
		return Requirements{Duration: DurationExtended, VisualMonitoring: true}
	default:
		return Requirements{Duration: DurationExtended, VisualMonitoring: true, HumanReview: true}
	}
}
