package config

import (
	"fmt"
)

// TectonicConfig holds the parameters of the generational optimizer.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type TectonicConfig struct {
	// Population
	PopulationSize int `json:"population_size" yaml:"population_size"`
	MaxGenerations int `json:"max_generations" yaml:"max_generations"`
	ElitismCount   int `json:"elitism_count" yaml:"elitism_count"` // Champions carried over unmodified

	// Operator Rates
	MutationRate  float64 `json:"mutation_rate" yaml:"mutation_rate"`
	CrossoverRate float64 `json:"crossover_rate" yaml:"crossover_rate"`

	// Stopping
	TargetImprovement float64 `json:"target_improvement" yaml:"target_improvement"` // Early stop once champion gains this fraction over baseline

	// Scoring
	MaxParallelScores int `json:"max_parallel_scores" yaml:"max_parallel_scores"`
	ScoreTimeout      int `json:"score_timeout" yaml:"score_timeout"` // Seconds per variant
	MaxArtifactBytes  int `json:"max_artifact_bytes" yaml:"max_artifact_bytes"`

	// Fitness combines the benchmark metrics once correctness passes. Primary
	// is higher-is-better, secondary lower-is-better.
	PrimaryMetricWeight   float64 `json:"primary_metric_weight" yaml:"primary_metric_weight"`
	SecondaryMetricWeight float64 `json:"secondary_metric_weight" yaml:"secondary_metric_weight"`

	// CorrectnessChecks lists constructs every candidate must keep, e.g.
	// the named procedures the rest of the organism calls into.
	CorrectnessChecks []string `json:"correctness_checks" yaml:"correctness_checks"`
}

// DefaultTectonicConfig returns a TectonicConfig with default values.
func DefaultTectonicConfig() *TectonicConfig {
	return &TectonicConfig{
		PopulationSize: 10,
		MaxGenerations: 20,
		ElitismCount:   2,

		MutationRate:  0.1,
		CrossoverRate: 0.7,

		TargetImprovement: 0.2,

		MaxParallelScores: 4,
		ScoreTimeout:      60,
		MaxArtifactBytes:  1 << 20,

		PrimaryMetricWeight:   0.7,
		SecondaryMetricWeight: 0.3,
	}
}

// TectonicConfigFromMap creates TectonicConfig from a map.
// Unknown keys are ignored.
func TectonicConfigFromMap(config map[string]any) *TectonicConfig {
	c := DefaultTectonicConfig()

	if v, ok := config["population_size"].(int); ok {
		c.PopulationSize = v
	} else if v, ok := config["population_size"].(float64); ok {
		c.PopulationSize = int(v)
	}
	if v, ok := config["max_generations"].(int); ok {
		c.MaxGenerations = v
	} else if v, ok := config["max_generations"].(float64); ok {
		c.MaxGenerations = int(v)
	}
	if v, ok := config["elitism_count"].(int); ok {
		c.ElitismCount = v
	} else if v, ok := config["elitism_count"].(float64); ok {
		c.ElitismCount = int(v)
	}
	if v, ok := config["mutation_rate"].(float64); ok {
		c.MutationRate = v
	}
	if v, ok := config["crossover_rate"].(float64); ok {
		c.CrossoverRate = v
	}
	if v, ok := config["target_improvement"].(float64); ok {
		c.TargetImprovement = v
	}
	if v, ok := config["max_parallel_scores"].(int); ok {
		c.MaxParallelScores = v
	} else if v, ok := config["max_parallel_scores"].(float64); ok {
		c.MaxParallelScores = int(v)
	}
	if v, ok := config["score_timeout"].(int); ok {
		c.ScoreTimeout = v
	} else if v, ok := config["score_timeout"].(float64); ok {
		c.ScoreTimeout = int(v)
	}
	if v, ok := config["max_artifact_bytes"].(int); ok {
		c.MaxArtifactBytes = v
	} else if v, ok := config["max_artifact_bytes"].(float64); ok {
		c.MaxArtifactBytes = int(v)
	}
	if v, ok := config["primary_metric_weight"].(float64); ok {
		c.PrimaryMetricWeight = v
	}
	if v, ok := config["secondary_metric_weight"].(float64); ok {
		c.SecondaryMetricWeight = v
	}
	if v, ok := config["correctness_checks"].([]string); ok {
		c.CorrectnessChecks = append([]string(nil), v...)
	} else if items, ok := config["correctness_checks"].([]any); ok {
		checks := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				checks = append(checks, s)
			}
		}
		c.CorrectnessChecks = checks
	}

	return c
}

// ToMap converts config to a map.
func (c *TectonicConfig) ToMap() map[string]any {
	return map[string]any{
		"population_size":         c.PopulationSize,
		"max_generations":         c.MaxGenerations,
		"elitism_count":           c.ElitismCount,
		"mutation_rate":           c.MutationRate,
		"crossover_rate":          c.CrossoverRate,
		"target_improvement":      c.TargetImprovement,
		"max_parallel_scores":     c.MaxParallelScores,
		"score_timeout":           c.ScoreTimeout,
		"max_artifact_bytes":      c.MaxArtifactBytes,
		"primary_metric_weight":   c.PrimaryMetricWeight,
		"secondary_metric_weight": c.SecondaryMetricWeight,
		"correctness_checks":      append([]string(nil), c.CorrectnessChecks...),
	}
}

// Validate checks internal consistency before an optimization run starts.
func (c *TectonicConfig) Validate() error {
	if c.PopulationSize < 2 {
		return fmt.Errorf("population_size must be >= 2, got %d", c.PopulationSize)
	}
	if c.MaxGenerations < 1 {
		return fmt.Errorf("max_generations must be >= 1, got %d", c.MaxGenerations)
	}
	if c.ElitismCount < 0 || c.ElitismCount >= c.PopulationSize {
		return fmt.Errorf("elitism_count must be in [0, population_size), got %d", c.ElitismCount)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("mutation_rate must be in [0, 1], got %f", c.MutationRate)
	}
	if c.CrossoverRate < 0 || c.CrossoverRate > 1 {
		return fmt.Errorf("crossover_rate must be in [0, 1], got %f", c.CrossoverRate)
	}
	if c.MaxParallelScores < 1 {
		return fmt.Errorf("max_parallel_scores must be >= 1, got %d", c.MaxParallelScores)
	}
	if c.MaxArtifactBytes < 1 {
		return fmt.Errorf("max_artifact_bytes must be >= 1, got %d", c.MaxArtifactBytes)
	}
	if c.PrimaryMetricWeight < 0 || c.SecondaryMetricWeight < 0 {
		return fmt.Errorf("metric weights must be non-negative")
	}
	if c.PrimaryMetricWeight+c.SecondaryMetricWeight == 0 {
		return fmt.Errorf("at least one metric weight must be positive")
	}
	return nil
}
