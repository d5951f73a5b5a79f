// Package verify implements the live-verification phase: after a commit is
// live, the declared visual intent is compared against the actual scene and
// the attempt is classified as pass, retry-suggested, or escalate-to-human.
// Escalation requests human attention; it never undoes the commit.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// Logger is the minimal logging interface this package needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Outcome classifies one verification attempt.
type Outcome string

const (
	OutcomePass     Outcome = "pass"
	OutcomeRetry    Outcome = "retry_suggested"
	OutcomeEscalate Outcome = "escalate_to_human"
)

// SceneElement is one node of the live scene graph.
type SceneElement struct {
	Type   string  `json:"type"`
	ID     string  `json:"id,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SceneState is a snapshot of the live scene.
type SceneState struct {
	Scene    string         `json:"scene,omitempty"`
	Children []SceneElement `json:"children"`
}

// SceneReader fetches live scene state from the telemetry bridge.
type SceneReader interface {
	ReadScene(ctx context.Context, scene string) (*SceneState, error)
}

// Result is the finding of one verification attempt.
type Result struct {
	Outcome    Outcome  `json:"outcome"`
	Confidence float64  `json:"confidence"`
	Missing    []string `json:"missing,omitempty"`
	Notes      string   `json:"notes,omitempty"`
	Attempt    int      `json:"attempt"`
}

// Verifier compares visual intents against live scene state.
type Verifier struct {
	scenes      SceneReader
	threshold   float64
	maxAttempts int
	logger      Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithVerifierLogger sets the verifier logger.
func WithVerifierLogger(logger Logger) Option {
	return func(v *Verifier) { v.logger = logger }
}

// NewVerifier builds a Verifier passing at confidence >= threshold and
// escalating once attempt reaches maxAttempts.
func NewVerifier(scenes SceneReader, threshold float64, maxAttempts int, opts ...Option) *Verifier {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	v := &Verifier{
		scenes:      scenes,
		threshold:   threshold,
		maxAttempts: maxAttempts,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs verification attempt number attempt (1-based) for the intent.
// An unreachable scene is not a pass: it suggests a retry and escalates once
// attempts run out, since a live change nobody can observe needs eyes on it.
func (v *Verifier) Verify(ctx context.Context, intent *proposal.VisualIntent, attempt int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, fmt.Errorf("verify: no visual intent")
	}

	state, err := v.scenes.ReadScene(ctx, intent.Scene)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("read scene: %w", ctx.Err())
		}
		result := &Result{
			Outcome:    v.classify(0, attempt),
			Confidence: 0,
			Notes:      fmt.Sprintf("live state unavailable: %v", err),
			Attempt:    attempt,
		}
		v.logWarn("verification_scene_unavailable", "scene", intent.Scene, "attempt", attempt, "error", err.Error())
		return result, nil
	}

	confidence, missing := matchElements(intent.ExpectedElements, state)
	result := &Result{
		Outcome:    v.classify(confidence, attempt),
		Confidence: confidence,
		Missing:    missing,
		Attempt:    attempt,
	}

	v.logInfo("verification_attempt",
		"scene", intent.Scene,
		"attempt", attempt,
		"confidence", confidence,
		"outcome", string(result.Outcome))
	return result, nil
}

// MaxAttempts returns the attempt ceiling.
func (v *Verifier) MaxAttempts() int {
	return v.maxAttempts
}

// classify turns a confidence and attempt number into an outcome.
func (v *Verifier) classify(confidence float64, attempt int) Outcome {
	if confidence >= v.threshold {
		return OutcomePass
	}
	if attempt < v.maxAttempts {
		return OutcomeRetry
	}
	return OutcomeEscalate
}

// matchElements scores how much of the intent the scene satisfies. With no
// expected elements a readable scene is a full match.
func matchElements(expected []string, state *SceneState) (float64, []string) {
	if len(expected) == 0 {
		return 1.0, nil
	}

	present := make(map[string]struct{}, 2*len(state.Children))
	for _, el := range state.Children {
		if el.Type != "" {
			present[strings.ToLower(el.Type)] = struct{}{}
		}
		if el.ID != "" {
			present[strings.ToLower(el.ID)] = struct{}{}
		}
	}

	var missing []string
	matched := 0
	for _, want := range expected {
		if _, ok := present[strings.ToLower(want)]; ok {
			matched++
		} else {
			missing = append(missing, want)
		}
	}
	return float64(matched) / float64(len(expected)), missing
}

func (v *Verifier) logInfo(msg string, keysAndValues ...any) {
	if v.logger != nil {
		v.logger.Info(msg, keysAndValues...)
	}
}

func (v *Verifier) logWarn(msg string, keysAndValues ...any) {
	if v.logger != nil {
		v.logger.Warn(msg, keysAndValues...)
	}
}
