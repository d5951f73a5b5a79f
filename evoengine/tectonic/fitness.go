package tectonic

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/config"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/sandbox"
)

// FitnessScore grades one candidate variant.
type FitnessScore struct {
	CandidateID string   `json:"candidate_id"`
	Primary     float64  `json:"primary_metric"`   // higher is better
	Secondary   float64  `json:"secondary_metric"` // lower is better
	Correct     bool     `json:"correct"`
	Fitness     float64  `json:"fitness"` // always 0 when Correct is false
	Errors      []string `json:"errors,omitempty"`
}

// BenchmarkStrategy measures a candidate. Implementations return a
// higher-is-better primary metric and a lower-is-better secondary metric,
// both positive for a runnable candidate. A candidate that fails to run
// reports an error; the scorer records it and the candidate scores zero.
type BenchmarkStrategy interface {
	Benchmark(ctx context.Context, candidateID, source string) (primary, secondary float64, err error)
}

// Scorer grades candidates: structural checks, then the benchmark, then the
// correctness suite. Fitness is only computed for correct candidates.
type Scorer struct {
	cfg       *config.TectonicConfig
	benchmark BenchmarkStrategy
	logger    Logger
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithScorerLogger sets the scorer logger.
func WithScorerLogger(logger Logger) ScorerOption {
	return func(s *Scorer) { s.logger = logger }
}

// NewScorer builds a Scorer over the given benchmark strategy.
func NewScorer(cfg *config.TectonicConfig, benchmark BenchmarkStrategy, opts ...ScorerOption) *Scorer {
	s := &Scorer{cfg: cfg, benchmark: benchmark}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Baseline scores the unmodified parent once at run start. Any failure here
// means there is nothing sound to improve on, so it surfaces as an error
// rather than a zero-fitness score. The baseline's fitness is 1.0 by
// construction and every candidate is normalized against its metrics.
func (s *Scorer) Baseline(ctx context.Context, source string) (*FitnessScore, error) {
	score, err := s.Score(ctx, "baseline", source, nil)
	if err != nil {
		return nil, err
	}
	if !score.Correct {
		return nil, fmt.Errorf("baseline artifact failed scoring: %s", strings.Join(score.Errors, "; "))
	}
	if score.Primary <= 0 || score.Secondary <= 0 {
		return nil, fmt.Errorf("baseline metrics must be positive, got primary=%g secondary=%g",
			score.Primary, score.Secondary)
	}
	return score, nil
}

// Score grades one candidate against the baseline. Structural damage, a
// benchmark failure, or a missed correctness check short-circuits to fitness
// zero with the reason attached. The error return is reserved for
// cancellation; a failing candidate still produces a score.
func (s *Scorer) Score(ctx context.Context, candidateID, source string, baseline *FitnessScore) (*FitnessScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	score := &FitnessScore{CandidateID: candidateID}

	if errs := sandbox.CheckContent(candidateID, source, s.cfg.MaxArtifactBytes); len(errs) > 0 {
		score.Errors = errs
		return score, nil
	}

	primary, secondary, err := s.benchmark.Benchmark(ctx, candidateID, source)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		score.Errors = append(score.Errors, fmt.Sprintf("benchmark: %v", err))
		s.logWarn("fitness_benchmark_failed", "candidate_id", candidateID, "error", err.Error())
		return score, nil
	}
	score.Primary = primary
	score.Secondary = secondary

	for _, check := range s.cfg.CorrectnessChecks {
		if !strings.Contains(source, check) {
			score.Errors = append(score.Errors, fmt.Sprintf("missing required construct: %s", check))
		}
	}
	if len(score.Errors) > 0 {
		return score, nil
	}

	score.Correct = true
	score.Fitness = s.fitness(primary, secondary, baseline)
	return score, nil
}

// fitness combines the normalized primary metric with the inverse-normalized
// secondary metric. Normalizing against the baseline puts both on one scale:
// a candidate matching the baseline scores exactly 1.0.
func (s *Scorer) fitness(primary, secondary float64, baseline *FitnessScore) float64 {
	if baseline == nil {
		return 1.0
	}
	normPrimary := primary / baseline.Primary
	normSecondary := 0.0
	if secondary > 0 {
		normSecondary = baseline.Secondary / secondary
	}
	wp := s.cfg.PrimaryMetricWeight
	ws := s.cfg.SecondaryMetricWeight
	return (wp*normPrimary + ws*normSecondary) / (wp + ws)
}

func (s *Scorer) logWarn(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}
