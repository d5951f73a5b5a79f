package tectonic

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Candidate is one variant derived from a parent artifact.
type Candidate struct {
	ID         string
	Generation int
	Source     string
	Operators  []string // names applied, in order
}

// Operator is one structural transform over artifact text. Transform runs
// unconditionally; the engine consults Marker first, so a parent that
// already carries the effect passes through untouched.
type Operator struct {
	Name      string
	Marker    string
	Transform func(source string) string
}

const memoizeShim = `# [tectonic:memoize]
_memo_cache = {}

def _memoized(key, compute):
    if key not in _memo_cache:
        _memo_cache[key] = compute()
    return _memo_cache[key]
`

const hoistShim = `# [tectonic:hoist]
_hoisted = {}

def _hoist(name, value):
    return _hoisted.setdefault(name, value)
`

const batchShim = `# [tectonic:batch-io]
_write_queue = []

def _flush_writes(sink):
    while _write_queue:
        sink(_write_queue.pop(0))
`

const constPoolShim = `# [tectonic:precompute]
_const_pool = {}
`

var blankRuns = regexp.MustCompile(`\n{3,}`)

// DefaultOperators returns the fixed operator set. Each operator injects a
// marked shim or rewrites layout; the marker doubles as the idempotency
// sentinel and as the signal a benchmark strategy can measure.
func DefaultOperators() []Operator {
	return []Operator{
		{
			Name:   "memoize_hot_paths",
			Marker: "[tectonic:memoize]",
			Transform: func(src string) string {
				return memoizeShim + "\n" + src
			},
		},
		{
			Name:   "hoist_invariants",
			Marker: "[tectonic:hoist]",
			Transform: func(src string) string {
				return hoistShim + "\n" + src
			},
		},
		{
			Name:   "batch_io",
			Marker: "[tectonic:batch-io]",
			Transform: func(src string) string {
				return strings.TrimRight(src, "\n") + "\n\n" + batchShim
			},
		},
		{
			Name:   "precompute_constants",
			Marker: "[tectonic:precompute]",
			Transform: func(src string) string {
				return constPoolShim + "\n" + src
			},
		},
		{
			Name:   "compact_blank_runs",
			Marker: "[tectonic:compact]",
			Transform: func(src string) string {
				return "# [tectonic:compact]\n" + blankRuns.ReplaceAllString(src, "\n\n")
			},
		},
	}
}

// MutationEngine derives candidate populations from a parent artifact.
// Every call returns fresh strings; the parent is never modified.
type MutationEngine struct {
	mu        sync.Mutex
	operators []Operator
	stackRate float64
	rng       *rand.Rand
}

// MutatorOption configures a MutationEngine.
type MutatorOption func(*MutationEngine)

// WithOperators replaces the default operator set.
func WithOperators(ops ...Operator) MutatorOption {
	return func(e *MutationEngine) { e.operators = ops }
}

// WithSeed pins the operator draw to a deterministic sequence.
func WithSeed(seed int64) MutatorOption {
	return func(e *MutationEngine) { e.rng = rand.New(rand.NewSource(seed)) }
}

// NewMutationEngine builds an engine over the default operator set.
// stackRate is the chance of stacking a second and then a third operator
// onto a candidate.
func NewMutationEngine(stackRate float64, opts ...MutatorOption) *MutationEngine {
	e := &MutationEngine{
		operators: DefaultOperators(),
		stackRate: stackRate,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Generate derives count candidates from the parent text. Each candidate
// stacks one to three distinct operators; an operator whose marker is
// already present leaves the text unchanged, so re-deriving from an evolved
// champion never double-applies an effect.
func (e *MutationEngine) Generate(parent string, generation, count int) []Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	candidates := make([]Candidate, 0, count)
	for i := 0; i < count; i++ {
		picks := e.draw()
		source := parent
		names := make([]string, 0, len(picks))
		for _, op := range picks {
			names = append(names, op.Name)
			if strings.Contains(source, op.Marker) {
				continue
			}
			source = op.Transform(source)
		}
		candidates = append(candidates, Candidate{
			ID:         fmt.Sprintf("gen%02d_cand%02d", generation, i+1),
			Generation: generation,
			Source:     source,
			Operators:  names,
		})
	}
	return candidates
}

// draw picks one operator, then rolls the stack rate for a second and a
// third. Picks are distinct within a candidate.
func (e *MutationEngine) draw() []Operator {
	if len(e.operators) == 0 {
		return nil
	}
	order := e.rng.Perm(len(e.operators))
	k := 1
	for k < 3 && k < len(e.operators) && e.rng.Float64() < e.stackRate {
		k++
	}
	picks := make([]Operator, 0, k)
	for _, j := range order[:k] {
		picks = append(picks, e.operators[j])
	}
	return picks
}
