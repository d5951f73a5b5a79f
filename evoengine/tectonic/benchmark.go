package tectonic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/typeutil"
)

// benchStderrTailBytes bounds how much harness stderr is echoed into errors.
const benchStderrTailBytes = 2048

// ExecBenchmark measures candidates through an external harness process.
// The candidate text goes to the harness on stdin; the harness replies on
// stdout with JSON carrying "primary_metric" and "secondary_metric". A
// non-zero exit or an unparseable reply fails the candidate.
type ExecBenchmark struct {
	binary  string
	args    []string
	workDir string
}

// NewExecBenchmark builds a benchmark over the given harness binary.
func NewExecBenchmark(binary string, args ...string) *ExecBenchmark {
	return &ExecBenchmark{binary: binary, args: args}
}

// WithBenchmarkDir sets the working directory for the harness process.
func (b *ExecBenchmark) WithBenchmarkDir(dir string) *ExecBenchmark {
	b.workDir = dir
	return b
}

// Benchmark runs the harness over one candidate. Callers bound the run with
// the context; a killed process surfaces as the context error.
func (b *ExecBenchmark) Benchmark(ctx context.Context, candidateID, source string) (float64, float64, error) {
	cmd := exec.CommandContext(ctx, b.binary, b.args...)
	if b.workDir != "" {
		cmd.Dir = b.workDir
	}
	cmd.Stdin = strings.NewReader(source)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, 0, fmt.Errorf("benchmark harness: %w", ctxErr)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return 0, 0, fmt.Errorf("benchmark harness exited %d for %s: %s",
				exitErr.ExitCode(), candidateID, benchStderrTail(&stderr))
		}
		return 0, 0, fmt.Errorf("benchmark harness: %w", runErr)
	}

	return parseBenchmarkOutput(stdout.Bytes())
}

// parseBenchmarkOutput decodes the harness reply. Both metrics are
// mandatory; anything missing means the harness is broken and the candidate
// must fail.
func parseBenchmarkOutput(out []byte) (float64, float64, error) {
	var payload map[string]any
	if err := json.Unmarshal(out, &payload); err != nil {
		return 0, 0, fmt.Errorf("malformed benchmark output: %w", err)
	}

	primary, ok := typeutil.SafeFloat64(payload["primary_metric"])
	if !ok {
		return 0, 0, fmt.Errorf("malformed benchmark output: missing primary_metric")
	}
	secondary, ok := typeutil.SafeFloat64(payload["secondary_metric"])
	if !ok {
		return 0, 0, fmt.Errorf("malformed benchmark output: missing secondary_metric")
	}
	return primary, secondary, nil
}

func benchStderrTail(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if len(s) > benchStderrTailBytes {
		s = s[len(s)-benchStderrTailBytes:]
	}
	return s
}

// HeuristicBenchmark estimates metrics from the artifact text alone. It
// stands in when no measurement harness is wired: each distinct optimization
// marker nudges the primary metric up and the secondary metric down, so dry
// runs behave the same everywhere and stay deterministic.
type HeuristicBenchmark struct {
	BasePrimary   float64 // default 1.0
	BaseSecondary float64 // default 100.0
}

// Benchmark derives metrics from the marker count. Never fails.
func (b *HeuristicBenchmark) Benchmark(_ context.Context, _, source string) (float64, float64, error) {
	basePrimary := b.BasePrimary
	if basePrimary <= 0 {
		basePrimary = 1.0
	}
	baseSecondary := b.BaseSecondary
	if baseSecondary <= 0 {
		baseSecondary = 100.0
	}

	markers := float64(strings.Count(source, "[tectonic:"))
	primary := basePrimary * (1 + 0.04*markers)
	secondary := baseSecondary / (1 + 0.02*markers)
	return primary, secondary, nil
}
