package tectonic

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/config"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/sandbox"
)

// plannedBenchmark returns scripted metrics keyed by candidate id, standing
// in for a real measurement harness.
type plannedBenchmark struct {
	mu           sync.Mutex
	baseline     [2]float64
	plans        map[string][2]float64
	failures     map[string]error
	fallback     [2]float64
	err          error // fails every call
	candidateErr error // fails every non-baseline call
	calls        int
}

func (b *plannedBenchmark) Benchmark(_ context.Context, candidateID, _ string) (float64, float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	if b.err != nil {
		return 0, 0, b.err
	}
	if candidateID == "baseline" {
		return b.baseline[0], b.baseline[1], nil
	}
	if b.candidateErr != nil {
		return 0, 0, b.candidateErr
	}
	if err, ok := b.failures[candidateID]; ok {
		return 0, 0, err
	}
	if m, ok := b.plans[candidateID]; ok {
		return m[0], m[1], nil
	}
	return b.fallback[0], b.fallback[1], nil
}

// blockingBenchmark hangs on candidates until the context gives up.
type blockingBenchmark struct {
	baseline [2]float64
}

func (b *blockingBenchmark) Benchmark(ctx context.Context, candidateID, _ string) (float64, float64, error) {
	if candidateID == "baseline" {
		return b.baseline[0], b.baseline[1], nil
	}
	<-ctx.Done()
	return 0, 0, ctx.Err()
}

func parentSource() string {
	return "def handle_request(request):\n    return route(request)\n\ndef main():\n    serve(handle_request)\n"
}

func testConfig() *config.TectonicConfig {
	cfg := config.DefaultTectonicConfig()
	cfg.PopulationSize = 5
	cfg.MaxGenerations = 3
	cfg.MaxParallelScores = 2
	cfg.CorrectnessChecks = []string{"def handle_request"}
	return cfg
}

func newTestEngine(cfg *config.TectonicConfig, bench BenchmarkStrategy) *Engine {
	mutator := NewMutationEngine(cfg.MutationRate, WithSeed(42))
	return NewEngine(cfg, mutator, NewScorer(cfg, bench))
}

// =============================================================================
// MUTATION ENGINE TESTS
// =============================================================================

// Test that Generate produces the requested population with unique ids.
func TestGenerateCount(t *testing.T) {
	e := NewMutationEngine(0.5, WithSeed(7))

	candidates := e.Generate(parentSource(), 1, 8)

	require.Len(t, candidates, 8)
	assert.Equal(t, "gen01_cand01", candidates[0].ID)
	seen := make(map[string]bool)
	for _, c := range candidates {
		assert.Equal(t, 1, c.Generation)
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
		assert.NotEmpty(t, c.Operators)
		assert.LessOrEqual(t, len(c.Operators), 3)
	}
}

// Test that stacked operators within a candidate are distinct.
func TestGenerateDistinctOperators(t *testing.T) {
	e := NewMutationEngine(1.0, WithSeed(3)) // always stack to three

	for _, c := range e.Generate(parentSource(), 2, 20) {
		require.Len(t, c.Operators, 3)
		unique := make(map[string]bool)
		for _, name := range c.Operators {
			unique[name] = true
		}
		assert.Len(t, unique, 3, "operators repeated in %v", c.Operators)
	}
}

// Test that deriving from a fully evolved artifact never double-applies.
func TestGenerateIdempotentByMarker(t *testing.T) {
	evolved := parentSource()
	for _, op := range DefaultOperators() {
		evolved = op.Transform(evolved)
	}

	e := NewMutationEngine(1.0, WithSeed(9))
	for _, c := range e.Generate(evolved, 3, 10) {
		assert.Equal(t, evolved, c.Source)
	}
}

// Test that every default operator tags its output and keeps it structurally
// sound.
func TestDefaultOperatorsKeepStructure(t *testing.T) {
	markers := make(map[string]bool)
	for _, op := range DefaultOperators() {
		assert.False(t, markers[op.Marker], "marker %s reused", op.Marker)
		markers[op.Marker] = true

		out := op.Transform(parentSource())
		assert.Contains(t, out, op.Marker, op.Name)
		assert.NoError(t, sandbox.CheckBalanced(out), op.Name)
	}
}

// =============================================================================
// FITNESS SCORER TESTS
// =============================================================================

// Test that the unmodified parent scores fitness 1.0.
func TestBaselineFitnessIsOne(t *testing.T) {
	bench := &plannedBenchmark{baseline: [2]float64{0.5, 100}}
	s := NewScorer(testConfig(), bench)

	baseline, err := s.Baseline(context.Background(), parentSource())
	require.NoError(t, err)

	assert.True(t, baseline.Correct)
	assert.Equal(t, 1.0, baseline.Fitness)
	assert.Equal(t, 0.5, baseline.Primary)
	assert.Equal(t, "baseline", baseline.CandidateID)
}

// Test that a benchmark outage fails baseline establishment outright.
func TestBaselineBenchmarkFailure(t *testing.T) {
	bench := &plannedBenchmark{err: errors.New("harness offline")}
	s := NewScorer(testConfig(), bench)

	_, err := s.Baseline(context.Background(), parentSource())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "harness offline")
}

// Test that non-positive baseline metrics are rejected.
func TestBaselineRejectsNonPositiveMetrics(t *testing.T) {
	bench := &plannedBenchmark{baseline: [2]float64{0, 100}}
	s := NewScorer(testConfig(), bench)

	_, err := s.Baseline(context.Background(), parentSource())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

// Test the weighted combination of normalized metrics.
func TestScoreWeightedCombination(t *testing.T) {
	bench := &plannedBenchmark{
		baseline: [2]float64{1.0, 100},
		plans:    map[string][2]float64{"cand": {1.2, 80}},
	}
	s := NewScorer(testConfig(), bench)
	baseline, err := s.Baseline(context.Background(), parentSource())
	require.NoError(t, err)

	score, err := s.Score(context.Background(), "cand", parentSource(), baseline)
	require.NoError(t, err)

	require.True(t, score.Correct)
	// 0.7*(1.2/1.0) + 0.3*(100/80)
	assert.InDelta(t, 1.215, score.Fitness, 1e-9)
}

// Test that a candidate matching the baseline scores exactly 1.0.
func TestScoreMatchingBaselineIsOne(t *testing.T) {
	bench := &plannedBenchmark{
		baseline: [2]float64{1.0, 100},
		plans:    map[string][2]float64{"cand": {1.0, 100}},
	}
	s := NewScorer(testConfig(), bench)
	baseline, err := s.Baseline(context.Background(), parentSource())
	require.NoError(t, err)

	score, err := s.Score(context.Background(), "cand", parentSource(), baseline)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, score.Fitness, 1e-9)
}

// Test that structural damage short-circuits before the benchmark runs.
func TestScoreStructuralShortCircuit(t *testing.T) {
	bench := &plannedBenchmark{baseline: [2]float64{1, 100}}
	s := NewScorer(testConfig(), bench)

	score, err := s.Score(context.Background(), "cand", "def broken(:\n    pass\n", nil)
	require.NoError(t, err)

	assert.False(t, score.Correct)
	assert.Zero(t, score.Fitness)
	assert.NotEmpty(t, score.Errors)
	assert.Zero(t, bench.calls)
}

// Test that the artifact size ceiling is enforced.
func TestScoreSizeCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.MaxArtifactBytes = 16
	bench := &plannedBenchmark{}
	s := NewScorer(cfg, bench)

	score, err := s.Score(context.Background(), "cand", strings.Repeat("x = 1\n", 10), nil)
	require.NoError(t, err)

	assert.False(t, score.Correct)
	require.NotEmpty(t, score.Errors)
	assert.Contains(t, score.Errors[0], "exceeds ceiling")
	assert.Zero(t, bench.calls)
}

// Test that a crashing candidate scores zero with the reason attached.
func TestScoreBenchmarkFailure(t *testing.T) {
	bench := &plannedBenchmark{candidateErr: errors.New("candidate crashed")}
	s := NewScorer(testConfig(), bench)

	score, err := s.Score(context.Background(), "cand", parentSource(), nil)
	require.NoError(t, err)

	assert.False(t, score.Correct)
	assert.Zero(t, score.Fitness)
	require.NotEmpty(t, score.Errors)
	assert.Contains(t, score.Errors[0], "benchmark: candidate crashed")
}

// Test that a missing required construct fails correctness after the
// benchmark has measured the candidate.
func TestScoreMissingConstruct(t *testing.T) {
	bench := &plannedBenchmark{fallback: [2]float64{1.5, 90}}
	s := NewScorer(testConfig(), bench)

	score, err := s.Score(context.Background(), "cand", "def other():\n    pass\n", nil)
	require.NoError(t, err)

	assert.False(t, score.Correct)
	assert.Zero(t, score.Fitness)
	require.NotEmpty(t, score.Errors)
	assert.Contains(t, score.Errors[0], "missing required construct: def handle_request")
	assert.Equal(t, 1, bench.calls)
	assert.Equal(t, 1.5, score.Primary) // metrics stay informative
}

// Test that cancellation aborts scoring.
func TestScoreCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewScorer(testConfig(), &plannedBenchmark{})

	_, err := s.Score(ctx, "cand", parentSource(), nil)

	require.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// OPTIMIZER TESTS
// =============================================================================

// Test that the loop stops early once the target improvement is reached.
func TestRunStopsAtTarget(t *testing.T) {
	bench := &plannedBenchmark{
		baseline: [2]float64{0.50, 100},
		fallback: [2]float64{0.45, 110},
		plans:    map[string][2]float64{"gen02_cand03": {0.615, 90}},
	}
	engine := newTestEngine(testConfig(), bench)

	result, err := engine.Run(context.Background(), parentSource())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.GenerationsRun)
	assert.InDelta(t, 0.23, result.Improvement, 1e-9)
	assert.Equal(t, "gen02_cand03", result.ChampionID)
	assert.Equal(t, 0.50, result.BaselineMetric)
	assert.Equal(t, 0.615, result.FinalMetric)
	assert.NotEqual(t, parentSource(), result.ChampionSource)
}

// Test that the champion never regresses once set.
func TestRunMonotonicChampion(t *testing.T) {
	cfg := testConfig()
	cfg.TargetImprovement = 0.9 // out of reach, run every generation
	bench := &plannedBenchmark{
		baseline: [2]float64{0.50, 100},
		fallback: [2]float64{0.40, 120},
		plans:    map[string][2]float64{"gen01_cand02": {0.55, 95}},
	}
	engine := newTestEngine(cfg, bench)

	result, err := engine.Run(context.Background(), parentSource())
	require.NoError(t, err)

	assert.Equal(t, 3, result.GenerationsRun)
	assert.Equal(t, "gen01_cand02", result.ChampionID)
	assert.InDelta(t, 0.1, result.Improvement, 1e-9)
	assert.True(t, result.Success) // some improvement even though the target was missed
}

// Test that failed candidates are never selected while a correct one exists,
// and that ties keep the earliest candidate.
func TestRunSkipsFailedCandidates(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGenerations = 1
	cfg.TargetImprovement = 0.9
	bench := &plannedBenchmark{
		baseline: [2]float64{0.50, 100},
		fallback: [2]float64{0.52, 98},
		failures: map[string]error{"gen01_cand01": errors.New("segfault")},
	}
	engine := newTestEngine(cfg, bench)

	result, err := engine.Run(context.Background(), parentSource())
	require.NoError(t, err)

	assert.Equal(t, "gen01_cand02", result.ChampionID)
	assert.InDelta(t, 0.04, result.Improvement, 1e-9)
	assert.True(t, result.Success)
}

// Test that exhausted generations are tolerated to the end of the run.
func TestRunExhaustionContinues(t *testing.T) {
	bench := &plannedBenchmark{
		baseline:     [2]float64{0.50, 100},
		candidateErr: errors.New("variant will not start"),
	}
	engine := newTestEngine(testConfig(), bench)

	result, err := engine.Run(context.Background(), parentSource())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.GenerationsRun)
	assert.Zero(t, result.Improvement)
	assert.Equal(t, "baseline", result.ChampionID)
	assert.Equal(t, parentSource(), result.ChampionSource)
}

// Test that a baseline failure aborts before any mutation.
func TestRunBaselineFailureIsFatal(t *testing.T) {
	bench := &plannedBenchmark{err: errors.New("harness offline")}
	engine := newTestEngine(testConfig(), bench)

	result, err := engine.Run(context.Background(), parentSource())

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "establish baseline")
	assert.Empty(t, engine.History(0))
}

// Test that an invalid configuration is rejected up front.
func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.PopulationSize = 1
	engine := newTestEngine(cfg, &plannedBenchmark{baseline: [2]float64{1, 1}})

	_, err := engine.Run(context.Background(), parentSource())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "population_size")
}

// Test that cancelling the run context aborts the loop.
func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := newTestEngine(testConfig(), &plannedBenchmark{baseline: [2]float64{1, 1}})

	_, err := engine.Run(ctx, parentSource())

	require.ErrorIs(t, err, context.Canceled)
}

// Test that a candidate exceeding its score timeout fails alone; the run
// itself carries on and terminates.
func TestRunScoreTimeoutFailsCandidateOnly(t *testing.T) {
	cfg := testConfig()
	cfg.PopulationSize = 2
	cfg.MaxGenerations = 1
	cfg.ScoreTimeout = 1
	engine := newTestEngine(cfg, &blockingBenchmark{baseline: [2]float64{0.5, 100}})

	result, err := engine.Run(context.Background(), parentSource())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.GenerationsRun)
	assert.Equal(t, "baseline", result.ChampionID)
}

// Test that completed runs accumulate in history.
func TestRunHistory(t *testing.T) {
	bench := &plannedBenchmark{
		baseline: [2]float64{0.50, 100},
		fallback: [2]float64{0.45, 110},
		plans:    map[string][2]float64{"gen02_cand03": {0.615, 90}},
	}
	engine := newTestEngine(testConfig(), bench)

	_, err := engine.Run(context.Background(), parentSource())
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), parentSource())
	require.NoError(t, err)

	require.Len(t, engine.History(0), 2)
	last := engine.History(1)
	require.Len(t, last, 1)
	assert.Same(t, second, last[0])
}

// =============================================================================
// TRIGGER TESTS
// =============================================================================

// Test the degradation predicate against the recorded baseline.
func TestShouldTrigger(t *testing.T) {
	tests := []struct {
		name      string
		baseline  float64
		current   float64
		threshold float64
		want      bool
	}{
		{"well_degraded", 1.0, 0.85, 0.10, true},
		{"exactly_at_threshold", 1.0, 0.75, 0.25, true},
		{"within_tolerance", 1.0, 0.95, 0.10, false},
		{"improved", 1.0, 1.20, 0.10, false},
		{"zero_baseline", 0, 0.5, 0.10, false},
		{"default_threshold_degraded", 1.0, 0.85, 0, true},
		{"default_threshold_within", 1.0, 0.95, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldTrigger(tt.baseline, tt.current, tt.threshold))
		})
	}
}

// =============================================================================
// BENCHMARK STRATEGY TESTS
// =============================================================================

// Test the harness round trip: candidate on stdin, metrics JSON on stdout.
func TestExecBenchmarkRoundTrip(t *testing.T) {
	bench := NewExecBenchmark("/bin/sh", "-c",
		`cat >/dev/null; printf '{"primary_metric": 1.5, "secondary_metric": 42}'`)

	primary, secondary, err := bench.Benchmark(context.Background(), "cand", parentSource())
	require.NoError(t, err)

	assert.Equal(t, 1.5, primary)
	assert.Equal(t, 42.0, secondary)
}

// Test that the harness actually receives the candidate text.
func TestExecBenchmarkReadsCandidate(t *testing.T) {
	bench := NewExecBenchmark("/bin/sh", "-c",
		`grep -q handle_request && printf '{"primary_metric": 1, "secondary_metric": 1}'`)

	_, _, err := bench.Benchmark(context.Background(), "cand", parentSource())

	require.NoError(t, err)
}

// Test that a failing harness surfaces its exit code and stderr.
func TestExecBenchmarkExitFailure(t *testing.T) {
	bench := NewExecBenchmark("/bin/sh", "-c", `echo "harness exploded" >&2; exit 3`)

	_, _, err := bench.Benchmark(context.Background(), "cand", parentSource())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited 3")
	assert.Contains(t, err.Error(), "harness exploded")
}

// Test that non-JSON harness output is a hard failure.
func TestExecBenchmarkMalformedOutput(t *testing.T) {
	bench := NewExecBenchmark("/bin/sh", "-c", `cat >/dev/null; echo not-json`)

	_, _, err := bench.Benchmark(context.Background(), "cand", parentSource())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed benchmark output")
}

// Test that a reply missing a metric is rejected.
func TestExecBenchmarkMissingMetric(t *testing.T) {
	bench := NewExecBenchmark("/bin/sh", "-c",
		`cat >/dev/null; printf '{"primary_metric": 1.5}'`)

	_, _, err := bench.Benchmark(context.Background(), "cand", parentSource())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing secondary_metric")
}

// Test that a hung harness is bounded by the context.
func TestExecBenchmarkTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	bench := NewExecBenchmark("/bin/sh", "-c", "sleep 5")

	_, _, err := bench.Benchmark(ctx, "cand", parentSource())

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// Test that the heuristic rewards optimization markers deterministically.
func TestHeuristicBenchmarkRewardsMarkers(t *testing.T) {
	b := &HeuristicBenchmark{}

	p0, s0, err := b.Benchmark(context.Background(), "plain", parentSource())
	require.NoError(t, err)
	assert.Equal(t, 1.0, p0)
	assert.Equal(t, 100.0, s0)

	evolved := DefaultOperators()[0].Transform(parentSource())
	p1, s1, err := b.Benchmark(context.Background(), "evolved", evolved)
	require.NoError(t, err)
	assert.Greater(t, p1, p0)
	assert.Less(t, s1, s0)
}

// Test a full offline run over the heuristic strategy.
func TestRunWithHeuristicBenchmark(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGenerations = 4
	cfg.TargetImprovement = 0.15
	mutator := NewMutationEngine(1.0, WithSeed(11))
	engine := NewEngine(cfg, mutator, NewScorer(cfg, &HeuristicBenchmark{}))

	result, err := engine.Run(context.Background(), parentSource())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Greater(t, result.Improvement, 0.0)
	assert.Contains(t, result.ChampionSource, "[tectonic:")
}