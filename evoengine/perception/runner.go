// Package perception runs the mirror validator for proposals that touch
// live-verification-sensitive logic.
//
// The validator is a separate process: it loads a perception model and judges
// whether the organism would still recognize itself after the change. The
// runner sends the proposal as JSON on stdin and reads a JSON verdict from
// stdout. A non-zero exit or an unparseable reply is a hard failure, never a
// passing result.
package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/typeutil"
)

// stderrTailBytes bounds how much validator stderr is echoed into errors.
const stderrTailBytes = 2048

// Logger interface for the runner.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Runner executes the mirror validator binary.
type Runner struct {
	binary    string
	args      []string
	workDir   string
	threshold float64
	logger    Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithArgs sets extra arguments passed to the validator binary.
func WithArgs(args ...string) Option {
	return func(r *Runner) { r.args = args }
}

// WithWorkDir sets the working directory for the validator process.
func WithWorkDir(dir string) Option {
	return func(r *Runner) { r.workDir = dir }
}

// WithRunnerLogger sets the runner's logger.
func WithRunnerLogger(logger Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner for the given validator binary. The threshold
// is the minimum accuracy a proposal must reach to pass.
func NewRunner(binary string, threshold float64, opts ...Option) *Runner {
	r := &Runner{binary: binary, threshold: threshold}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// validatorInput is the JSON sent to the validator on stdin.
type validatorInput struct {
	ProposalID      string   `json:"proposal_id"`
	Goal            string   `json:"goal"`
	TargetArtifacts []string `json:"target_artifacts"`
	Diff            string   `json:"diff"`
}

// Validate runs the validator process and parses its verdict. Callers bound
// the run with the context; a killed process surfaces as the context error.
func (r *Runner) Validate(ctx context.Context, p *proposal.Proposal) (*proposal.PerceptionValidationResult, error) {
	input, err := json.Marshal(validatorInput{
		ProposalID:      p.ID,
		Goal:            p.Goal,
		TargetArtifacts: p.TargetArtifacts,
		Diff:            p.Diff,
	})
	if err != nil {
		return nil, fmt.Errorf("encode validator input: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.binary, r.args...)
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("mirror validator: %w", ctxErr)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			r.logError("mirror_validator_failed", "proposal_id", p.ID,
				"exit_code", exitErr.ExitCode(), "stderr", stderrTail(&stderr))
			return nil, fmt.Errorf("mirror validator exited %d: %s", exitErr.ExitCode(), stderrTail(&stderr))
		}
		return nil, fmt.Errorf("mirror validator: %w", runErr)
	}

	result, err := parseValidatorOutput(stdout.Bytes(), r.threshold)
	if err != nil {
		r.logError("mirror_validator_malformed", "proposal_id", p.ID, "error", err.Error())
		return nil, err
	}

	r.logDebug("mirror_validation_done", "proposal_id", p.ID,
		"accuracy", result.Accuracy, "immortality_passed", result.ImmortalityPassed, "success", result.Success)
	return result, nil
}

// parseValidatorOutput decodes the verdict JSON. Accuracy and the
// immortality flag are mandatory; anything missing means the validator is
// broken and the phase must fail.
func parseValidatorOutput(out []byte, threshold float64) (*proposal.PerceptionValidationResult, error) {
	var payload map[string]any
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, fmt.Errorf("malformed validator output: %w", err)
	}

	accuracy, ok := typeutil.SafeFloat64(payload["accuracy"])
	if !ok {
		return nil, fmt.Errorf("malformed validator output: missing accuracy")
	}
	immortal, ok := typeutil.SafeBool(payload["immortality_passed"])
	if !ok {
		return nil, fmt.Errorf("malformed validator output: missing immortality_passed")
	}

	result := proposal.NewPerceptionValidationResult(accuracy, immortal, threshold)
	if metrics, ok := typeutil.SafeFloat64Map(payload["metrics"]); ok {
		result.Metrics = metrics
	}
	result.Issues = typeutil.SafeStringSliceDefault(payload["issues"], nil)
	return result, nil
}

func stderrTail(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	return s
}

func (r *Runner) logDebug(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, keysAndValues...)
	}
}

func (r *Runner) logError(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Error(msg, keysAndValues...)
	}
}
