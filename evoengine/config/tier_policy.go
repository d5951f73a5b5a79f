package config

import (
	"fmt"
	"path"
	"strings"
)

// TierPolicy controls how the tier router classifies a change.
//
// Hard rules run first: protected paths, high review risk, and reviewer
// confidence below MinConfidence all route straight to human review. The
// remaining changes are scored additively, starting with the points of the
// review risk level and accumulating more for each artifact beyond the
// first, for perception-affecting changes, and for touching critical paths.
// The total maps to a tier through Tier1MaxPoints and Tier2MaxPoints.
type TierPolicy struct {
	// Path Classes (glob patterns matched against artifact paths)
	ProtectedPaths []string `json:"protected_paths" yaml:"protected_paths"` // Always human review
	CriticalPaths  []string `json:"critical_paths" yaml:"critical_paths"`   // Heavy point penalty

	// Hard Rules
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"` // Reviewer confidence floor for auto-commit

	// Point Weights
	CriticalPathPoints  int `json:"critical_path_points" yaml:"critical_path_points"`
	PerceptionPoints    int `json:"perception_points" yaml:"perception_points"`
	ExtraArtifactPoints int `json:"extra_artifact_points" yaml:"extra_artifact_points"` // Per artifact beyond the first

	// Tier Boundaries (inclusive upper bounds)
	Tier1MaxPoints int `json:"tier1_max_points" yaml:"tier1_max_points"`
	Tier2MaxPoints int `json:"tier2_max_points" yaml:"tier2_max_points"`
}

// DefaultTierPolicy returns a TierPolicy with default values.
func DefaultTierPolicy() *TierPolicy {
	return &TierPolicy{
		ProtectedPaths: []string{
			"core/safety/*",
			"core/identity/*",
		},
		CriticalPaths: []string{
			"core/*",
			"perception/*",
		},

		MinConfidence: 0.6,

		CriticalPathPoints:  30,
		PerceptionPoints:    10,
		ExtraArtifactPoints: 5,

		Tier1MaxPoints: 10,
		Tier2MaxPoints: 25,
	}
}

// TierPolicyFromMap creates TierPolicy from a map.
// Unknown keys are ignored.
func TierPolicyFromMap(config map[string]any) *TierPolicy {
	p := DefaultTierPolicy()

	if v, ok := config["protected_paths"].([]string); ok {
		p.ProtectedPaths = v
	} else if v, ok := config["protected_paths"].([]any); ok {
		p.ProtectedPaths = toStringSlice(v)
	}
	if v, ok := config["critical_paths"].([]string); ok {
		p.CriticalPaths = v
	} else if v, ok := config["critical_paths"].([]any); ok {
		p.CriticalPaths = toStringSlice(v)
	}
	if v, ok := config["min_confidence"].(float64); ok {
		p.MinConfidence = v
	}
	if v, ok := config["critical_path_points"].(int); ok {
		p.CriticalPathPoints = v
	} else if v, ok := config["critical_path_points"].(float64); ok {
		p.CriticalPathPoints = int(v)
	}
	if v, ok := config["perception_points"].(int); ok {
		p.PerceptionPoints = v
	} else if v, ok := config["perception_points"].(float64); ok {
		p.PerceptionPoints = int(v)
	}
	if v, ok := config["extra_artifact_points"].(int); ok {
		p.ExtraArtifactPoints = v
	} else if v, ok := config["extra_artifact_points"].(float64); ok {
		p.ExtraArtifactPoints = int(v)
	}
	if v, ok := config["tier1_max_points"].(int); ok {
		p.Tier1MaxPoints = v
	} else if v, ok := config["tier1_max_points"].(float64); ok {
		p.Tier1MaxPoints = int(v)
	}
	if v, ok := config["tier2_max_points"].(int); ok {
		p.Tier2MaxPoints = v
	} else if v, ok := config["tier2_max_points"].(float64); ok {
		p.Tier2MaxPoints = int(v)
	}

	return p
}

// ToMap converts the policy to a map.
func (p *TierPolicy) ToMap() map[string]any {
	return map[string]any{
		"protected_paths":       p.ProtectedPaths,
		"critical_paths":        p.CriticalPaths,
		"min_confidence":        p.MinConfidence,
		"critical_path_points":  p.CriticalPathPoints,
		"perception_points":     p.PerceptionPoints,
		"extra_artifact_points": p.ExtraArtifactPoints,
		"tier1_max_points":      p.Tier1MaxPoints,
		"tier2_max_points":      p.Tier2MaxPoints,
	}
}

// Validate checks that the tier boundaries are ordered.
func (p *TierPolicy) Validate() error {
	if p.Tier1MaxPoints < 0 {
		return fmt.Errorf("tier1_max_points must be >= 0, got %d", p.Tier1MaxPoints)
	}
	if p.Tier2MaxPoints <= p.Tier1MaxPoints {
		return fmt.Errorf("tier2_max_points (%d) must exceed tier1_max_points (%d)",
			p.Tier2MaxPoints, p.Tier1MaxPoints)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0, 1], got %f", p.MinConfidence)
	}
	return nil
}

// IsProtected reports whether an artifact path matches the protected set.
func (p *TierPolicy) IsProtected(artifact string) bool {
	return matchesAny(p.ProtectedPaths, artifact)
}

// IsCritical reports whether an artifact path matches the critical set.
func (p *TierPolicy) IsCritical(artifact string) bool {
	return matchesAny(p.CriticalPaths, artifact)
}

func matchesAny(patterns []string, artifact string) bool {
	artifact = strings.TrimPrefix(artifact, "./")
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, artifact); ok {
			return true
		}
		// Directory patterns also cover nested files.
		prefix := strings.TrimSuffix(pattern, "*")
		if prefix != pattern && strings.HasPrefix(artifact, prefix) {
			return true
		}
	}
	return false
}

func toStringSlice(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
