// Package config provides pipeline configuration - NO infrastructure URLs.
//
// This module contains ONLY configuration that is relevant to the evolution
// pipeline itself:
//   - Timeouts
//   - Thresholds
//   - Rate caps and behavior toggles
//
// Infrastructure configuration (repository path, listen addresses, event
// endpoints) lives in DaemonConfig and is parsed from a file by the daemon
// entrypoint.
package config

import (
	"sync"
)

// EvolutionConfig holds the knobs that shape how a single evolution task
// moves through the pipeline.
//
// This configuration is infrastructure-agnostic and can be used regardless
// of which sandbox, reviewer, or monitor backends are wired in.
type EvolutionConfig struct {
	// Timeouts (seconds)
	SandboxTimeout    int `json:"sandbox_timeout" yaml:"sandbox_timeout"`
	PerceptionTimeout int `json:"perception_timeout" yaml:"perception_timeout"`
	ReviewTimeout     int `json:"review_timeout" yaml:"review_timeout"`
	CommitTimeout     int `json:"commit_timeout" yaml:"commit_timeout"`
	MonitorTimeout    int `json:"monitor_timeout" yaml:"monitor_timeout"`
	VerifyTimeout     int `json:"verify_timeout" yaml:"verify_timeout"`

	// Monitoring
	MonitorChecks     int `json:"monitor_checks" yaml:"monitor_checks"`           // Health probes per monitoring window
	MonitorIntervalMs int `json:"monitor_interval_ms" yaml:"monitor_interval_ms"` // Delay between probes

	// Validation Thresholds
	PerceptionThreshold       float64 `json:"perception_threshold" yaml:"perception_threshold"`               // Minimum perception accuracy
	VisualConfidenceThreshold float64 `json:"visual_confidence_threshold" yaml:"visual_confidence_threshold"` // Minimum live-verification confidence
	MaxVisualAttempts         int     `json:"max_visual_attempts" yaml:"max_visual_attempts"`                 // Retries before escalating to a human

	// Rate Caps
	MaxEvolutionsPerHour int `json:"max_evolutions_per_hour" yaml:"max_evolutions_per_hour"`
	MaxConcurrentTasks   int `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`

	// Recovery
	MaxConsecutiveFailures int `json:"max_consecutive_failures" yaml:"max_consecutive_failures"` // Breaker trips at this count
	BreakerCooldownMs      int `json:"breaker_cooldown_ms" yaml:"breaker_cooldown_ms"`

	// Pipeline Feature Flags
	PerceptionValidationEnabled bool `json:"perception_validation_enabled" yaml:"perception_validation_enabled"` // Gate perception-affecting changes
	LiveVerificationEnabled     bool `json:"live_verification_enabled" yaml:"live_verification_enabled"`         // Verify visual intents after commit
	AutoRevertEnabled           bool `json:"auto_revert_enabled" yaml:"auto_revert_enabled"`                     // Revert on monitoring regression
	RequireCleanWorktree        bool `json:"require_clean_worktree" yaml:"require_clean_worktree"`               // Refuse to commit over dirty state

	// Logging
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// DefaultEvolutionConfig returns an EvolutionConfig with default values.
func DefaultEvolutionConfig() *EvolutionConfig {
	return &EvolutionConfig{
		// Timeouts (seconds)
		SandboxTimeout:    120,
		PerceptionTimeout: 180,
		ReviewTimeout:     60,
		CommitTimeout:     30,
		MonitorTimeout:    60,
		VerifyTimeout:     90,

		// Monitoring
		MonitorChecks:     3,
		MonitorIntervalMs: 2000,

		// Validation Thresholds
		PerceptionThreshold:       0.85,
		VisualConfidenceThreshold: 0.9,
		MaxVisualAttempts:         3,

		// Rate Caps
		MaxEvolutionsPerHour: 10,
		MaxConcurrentTasks:   4,

		// Recovery
		MaxConsecutiveFailures: 3,
		BreakerCooldownMs:      300000, // 5 minutes

		// Pipeline Feature Flags
		PerceptionValidationEnabled: true,
		LiveVerificationEnabled:     true,
		AutoRevertEnabled:           true,
		RequireCleanWorktree:        true,

		// Logging
		LogLevel: "INFO",
	}
}

// EvolutionConfigFromMap creates EvolutionConfig from a map.
// Unknown keys are ignored.
func EvolutionConfigFromMap(config map[string]any) *EvolutionConfig {
	c := DefaultEvolutionConfig()

	if v, ok := config["sandbox_timeout"].(int); ok {
		c.SandboxTimeout = v
	} else if v, ok := config["sandbox_timeout"].(float64); ok {
		c.SandboxTimeout = int(v)
	}
	if v, ok := config["perception_timeout"].(int); ok {
		c.PerceptionTimeout = v
	} else if v, ok := config["perception_timeout"].(float64); ok {
		c.PerceptionTimeout = int(v)
	}
	if v, ok := config["review_timeout"].(int); ok {
		c.ReviewTimeout = v
	} else if v, ok := config["review_timeout"].(float64); ok {
		c.ReviewTimeout = int(v)
	}
	if v, ok := config["commit_timeout"].(int); ok {
		c.CommitTimeout = v
	} else if v, ok := config["commit_timeout"].(float64); ok {
		c.CommitTimeout = int(v)
	}
	if v, ok := config["monitor_timeout"].(int); ok {
		c.MonitorTimeout = v
	} else if v, ok := config["monitor_timeout"].(float64); ok {
		c.MonitorTimeout = int(v)
	}
	if v, ok := config["verify_timeout"].(int); ok {
		c.VerifyTimeout = v
	} else if v, ok := config["verify_timeout"].(float64); ok {
		c.VerifyTimeout = int(v)
	}
	if v, ok := config["monitor_checks"].(int); ok {
		c.MonitorChecks = v
	} else if v, ok := config["monitor_checks"].(float64); ok {
		c.MonitorChecks = int(v)
	}
	if v, ok := config["monitor_interval_ms"].(int); ok {
		c.MonitorIntervalMs = v
	} else if v, ok := config["monitor_interval_ms"].(float64); ok {
		c.MonitorIntervalMs = int(v)
	}
	if v, ok := config["perception_threshold"].(float64); ok {
		c.PerceptionThreshold = v
	}
	if v, ok := config["visual_confidence_threshold"].(float64); ok {
		c.VisualConfidenceThreshold = v
	}
	if v, ok := config["max_visual_attempts"].(int); ok {
		c.MaxVisualAttempts = v
	} else if v, ok := config["max_visual_attempts"].(float64); ok {
		c.MaxVisualAttempts = int(v)
	}
	if v, ok := config["max_evolutions_per_hour"].(int); ok {
		c.MaxEvolutionsPerHour = v
	} else if v, ok := config["max_evolutions_per_hour"].(float64); ok {
		c.MaxEvolutionsPerHour = int(v)
	}
	if v, ok := config["max_concurrent_tasks"].(int); ok {
		c.MaxConcurrentTasks = v
	} else if v, ok := config["max_concurrent_tasks"].(float64); ok {
		c.MaxConcurrentTasks = int(v)
	}
	if v, ok := config["max_consecutive_failures"].(int); ok {
		c.MaxConsecutiveFailures = v
	} else if v, ok := config["max_consecutive_failures"].(float64); ok {
		c.MaxConsecutiveFailures = int(v)
	}
	if v, ok := config["breaker_cooldown_ms"].(int); ok {
		c.BreakerCooldownMs = v
	} else if v, ok := config["breaker_cooldown_ms"].(float64); ok {
		c.BreakerCooldownMs = int(v)
	}
	if v, ok := config["perception_validation_enabled"].(bool); ok {
		c.PerceptionValidationEnabled = v
	}
	if v, ok := config["live_verification_enabled"].(bool); ok {
		c.LiveVerificationEnabled = v
	}
	if v, ok := config["auto_revert_enabled"].(bool); ok {
		c.AutoRevertEnabled = v
	}
	if v, ok := config["require_clean_worktree"].(bool); ok {
		c.RequireCleanWorktree = v
	}
	if v, ok := config["log_level"].(string); ok {
		c.LogLevel = v
	}

	return c
}

// ToMap converts config to a map.
func (c *EvolutionConfig) ToMap() map[string]any {
	return map[string]any{
		"sandbox_timeout":               c.SandboxTimeout,
		"perception_timeout":            c.PerceptionTimeout,
		"review_timeout":                c.ReviewTimeout,
		"commit_timeout":                c.CommitTimeout,
		"monitor_timeout":               c.MonitorTimeout,
		"verify_timeout":                c.VerifyTimeout,
		"monitor_checks":                c.MonitorChecks,
		"monitor_interval_ms":           c.MonitorIntervalMs,
		"perception_threshold":          c.PerceptionThreshold,
		"visual_confidence_threshold":   c.VisualConfidenceThreshold,
		"max_visual_attempts":           c.MaxVisualAttempts,
		"max_evolutions_per_hour":       c.MaxEvolutionsPerHour,
		"max_concurrent_tasks":          c.MaxConcurrentTasks,
		"max_consecutive_failures":      c.MaxConsecutiveFailures,
		"breaker_cooldown_ms":           c.BreakerCooldownMs,
		"perception_validation_enabled": c.PerceptionValidationEnabled,
		"live_verification_enabled":     c.LiveVerificationEnabled,
		"auto_revert_enabled":           c.AutoRevertEnabled,
		"require_clean_worktree":        c.RequireCleanWorktree,
		"log_level":                     c.LogLevel,
	}
}

// =============================================================================
// GLOBAL CONFIG (set by the daemon entrypoint)
// =============================================================================

var (
	globalEvolutionConfig *EvolutionConfig
	configMu              sync.RWMutex
)

// GetEvolutionConfig gets the evolution configuration instance.
// Returns the injected config or defaults.
func GetEvolutionConfig() *EvolutionConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalEvolutionConfig == nil {
		return DefaultEvolutionConfig()
	}
	return globalEvolutionConfig
}

// SetEvolutionConfig sets the evolution configuration instance.
// Called by the daemon entrypoint after loading the config file.
func SetEvolutionConfig(config *EvolutionConfig) {
	configMu.Lock()
	defer configMu.Unlock()

	globalEvolutionConfig = config
}

// ResetEvolutionConfig resets evolution config to nil (useful for testing).
// After reset, GetEvolutionConfig() will return defaults.
func ResetEvolutionConfig() {
	configMu.Lock()
	defer configMu.Unlock()

	globalEvolutionConfig = nil
}
