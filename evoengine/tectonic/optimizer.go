// Package tectonic implements the generational artifact optimizer.
//
// A run scores the unmodified parent once to establish the baseline, then
// loops: derive a population from the current champion, score it in
// parallel, discard incorrect candidates and let the fittest survivor
// challenge the champion. The champion is monotonic, it only moves to a
// strictly fitter candidate, so a run can stall but never regress. The loop
// stops early once cumulative improvement over the baseline reaches the
// configured target.
package tectonic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/config"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/observability"
)

// Logger is the minimal logging interface this package needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ShiftResult summarizes one optimization run.
type ShiftResult struct {
	Success        bool      `json:"success"`
	GenerationsRun int       `json:"generations_run"`
	BaselineMetric float64   `json:"baseline_metric"`
	FinalMetric    float64   `json:"final_metric"`
	Improvement    float64   `json:"improvement"` // fraction over baseline
	ChampionID     string    `json:"champion_id"`
	ChampionSource string    `json:"champion_source,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Engine drives the generational optimization loop.
type Engine struct {
	mu      sync.Mutex
	cfg     *config.TectonicConfig
	mutator *MutationEngine
	scorer  *Scorer
	logger  Logger

	history []*ShiftResult
}

// Option configures an Engine.
type Option func(*Engine)

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine builds an optimizer over the given mutator and scorer.
func NewEngine(cfg *config.TectonicConfig, mutator *MutationEngine, scorer *Scorer, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, mutator: mutator, scorer: scorer}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run optimizes the parent artifact. A baseline failure aborts before any
// mutation. A generation with zero valid candidates is logged and the loop
// continues; if no generation ever produces one, the run still terminates
// normally with success reporting whether any improvement was found.
func (e *Engine) Run(ctx context.Context, parent string) (*ShiftResult, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tectonic config: %w", err)
	}

	started := time.Now().UTC()
	baseline, err := e.scorer.Baseline(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("establish baseline: %w", err)
	}
	e.logInfo("tectonic_baseline_established",
		"primary", baseline.Primary, "secondary", baseline.Secondary)

	champion := parent
	championScore := baseline
	improvement := 0.0
	generationsRun := 0

	for gen := 1; gen <= e.cfg.MaxGenerations; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		generationsRun = gen

		genCtx, span := observability.StartGenerationSpan(ctx, gen)
		population := e.mutator.Generate(champion, gen, e.cfg.PopulationSize)
		scores, err := e.scoreAll(genCtx, population, baseline)
		observability.EndSpan(span, err)
		if err != nil {
			return nil, err
		}

		bestIdx := -1
		valid := 0
		for i, score := range scores {
			if score == nil || !score.Correct {
				continue
			}
			valid++
			if bestIdx == -1 || score.Fitness > scores[bestIdx].Fitness {
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			e.logWarn("tectonic_generation_exhausted",
				"generation", gen, "population", len(population))
			continue
		}
		e.logDebug("tectonic_generation_scored",
			"generation", gen, "valid", valid, "best_fitness", scores[bestIdx].Fitness)

		if best := scores[bestIdx]; best.Fitness > championScore.Fitness {
			champion = population[bestIdx].Source
			championScore = best
			improvement = (championScore.Primary - baseline.Primary) / baseline.Primary
			e.logInfo("tectonic_champion_updated", "generation", gen,
				"candidate_id", best.CandidateID, "fitness", best.Fitness, "improvement", improvement)
		}

		if e.cfg.TargetImprovement > 0 && improvement >= e.cfg.TargetImprovement {
			e.logInfo("tectonic_target_reached", "generation", gen, "improvement", improvement)
			break
		}
	}

	result := &ShiftResult{
		Success:        improvement > 0,
		GenerationsRun: generationsRun,
		BaselineMetric: baseline.Primary,
		FinalMetric:    championScore.Primary,
		Improvement:    improvement,
		ChampionID:     championScore.CandidateID,
		ChampionSource: champion,
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
	}
	e.logInfo("tectonic_shift_completed", "success", result.Success,
		"generations_run", result.GenerationsRun, "improvement", result.Improvement)
	observability.RecordTectonicShift(result.Success, result.Improvement)

	e.mu.Lock()
	e.history = append(e.history, result)
	e.mu.Unlock()
	return result, nil
}

// scoreAll grades a population in parallel, bounded by MaxParallelScores.
// A candidate that exceeds its score timeout reads as a zero-fitness
// failure; only cancellation of the run context aborts the generation.
func (e *Engine) scoreAll(ctx context.Context, population []Candidate, baseline *FitnessScore) ([]*FitnessScore, error) {
	scores := make([]*FitnessScore, len(population))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallelScores)
	for i, cand := range population {
		g.Go(func() error {
			sctx := gctx
			cancel := func() {}
			if e.cfg.ScoreTimeout > 0 {
				sctx, cancel = context.WithTimeout(gctx, time.Duration(e.cfg.ScoreTimeout)*time.Second)
			}
			defer cancel()

			score, err := e.scorer.Score(sctx, cand.ID, cand.Source, baseline)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				score = &FitnessScore{
					CandidateID: cand.ID,
					Errors:      []string{fmt.Sprintf("score aborted: %v", err)},
				}
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// History returns up to limit completed runs, oldest first. A limit of zero
// or less returns everything.
func (e *Engine) History(limit int) []*ShiftResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(e.history) {
		start = len(e.history) - limit
	}
	out := make([]*ShiftResult, len(e.history)-start)
	copy(out, e.history[start:])
	return out
}

func (e *Engine) logDebug(msg string, kv ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, kv...)
	}
}

func (e *Engine) logInfo(msg string, kv ...any) {
	if e.logger != nil {
		e.logger.Info(msg, kv...)
	}
}

func (e *Engine) logWarn(msg string, kv ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, kv...)
	}
}
