package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"sort"
	"strings"
)

// =============================================================================
// PROBE CONTRACTS
// =============================================================================

// RegressionProber runs the regression suite against the current tree.
// A suite that ran but found regressions reports healthy=false with the
// failing entries; err is reserved for the suite not running at all.
type RegressionProber interface {
	RunRegression(ctx context.Context) (healthy bool, failures []string, err error)
}

// HeartbeatProber captures one observation of the live system.
type HeartbeatProber interface {
	Heartbeat(ctx context.Context) (*Heartbeat, error)
}

// ResourceProber samples host resource usage.
type ResourceProber interface {
	Resources(ctx context.Context) (*ResourceSample, error)
}

// =============================================================================
// HEARTBEAT
// =============================================================================

// Point is a 2D scene position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Heartbeat is one observation of the live system's visible state.
type Heartbeat struct {
	Available bool             `json:"available"`
	Reason    string           `json:"reason,omitempty"` // set when unavailable
	Elements  []string         `json:"elements,omitempty"`
	Agents    map[string]Point `json:"agents,omitempty"`
	Errors    []string         `json:"errors,omitempty"` // error text surfaced on the scene
}

// maxAgentJump is the largest per-axis position change between two
// observations that still reads as normal movement.
const maxAgentJump = 500.0

// compareHeartbeats reports anomalies in current relative to baseline. When
// either side is unavailable there is nothing to compare and the scene is
// presumed healthy.
func compareHeartbeats(current, baseline *Heartbeat) []string {
	if current == nil || baseline == nil || !current.Available || !baseline.Available {
		return nil
	}

	var anomalies []string

	present := make(map[string]struct{}, len(current.Elements))
	for _, el := range current.Elements {
		present[el] = struct{}{}
	}
	var missing []string
	for _, el := range baseline.Elements {
		if _, ok := present[el]; !ok {
			missing = append(missing, el)
		}
	}
	if len(missing) > 0 {
		anomalies = append(anomalies, "missing interface elements: "+strings.Join(missing, ", "))
	}

	for _, text := range current.Errors {
		anomalies = append(anomalies, "error surfaced on scene: "+text)
	}

	ids := make([]string, 0, len(baseline.Agents))
	for id := range baseline.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		curr, ok := current.Agents[id]
		if !ok {
			continue
		}
		base := baseline.Agents[id]
		dx := math.Abs(curr.X - base.X)
		dy := math.Abs(curr.Y - base.Y)
		if dx > maxAgentJump || dy > maxAgentJump {
			anomalies = append(anomalies, fmt.Sprintf("agent %s position jump (%.0f, %.0f)", id, dx, dy))
		}
	}

	return anomalies
}

// =============================================================================
// RESOURCES
// =============================================================================

// resourceWarnPercent is the utilization level above which a sample warns.
const resourceWarnPercent = 90.0

// ResourceSample is one reading of host resource usage.
type ResourceSample struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// Warnings lists the utilization levels that crossed the warning line.
func (s *ResourceSample) Warnings() []string {
	if s == nil {
		return nil
	}
	var warnings []string
	if s.CPUPercent > resourceWarnPercent {
		warnings = append(warnings, fmt.Sprintf("high cpu: %.1f%%", s.CPUPercent))
	}
	if s.MemoryPercent > resourceWarnPercent {
		warnings = append(warnings, fmt.Sprintf("high memory: %.1f%%", s.MemoryPercent))
	}
	if s.DiskPercent > resourceWarnPercent {
		warnings = append(warnings, fmt.Sprintf("high disk: %.1f%%", s.DiskPercent))
	}
	return warnings
}

// =============================================================================
// COMMAND-BACKED REGRESSION PROBE
// =============================================================================

// CommandRegressionProber runs the regression suite as an external command.
// A non-zero exit reports the FAIL lines from the combined output; any other
// run failure is an infrastructure error.
type CommandRegressionProber struct {
	dir  string
	name string
	args []string
}

// NewCommandRegressionProber builds a prober running name args... in dir.
func NewCommandRegressionProber(dir, name string, args ...string) *CommandRegressionProber {
	return &CommandRegressionProber{dir: dir, name: name, args: args}
}

func (p *CommandRegressionProber) RunRegression(ctx context.Context) (bool, []string, error) {
	cmd := exec.CommandContext(ctx, p.name, p.args...)
	cmd.Dir = p.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return true, nil, nil
	}
	if ctx.Err() != nil {
		return false, nil, fmt.Errorf("regression suite: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, failingLines(stdout.String() + stderr.String()), nil
	}
	return false, nil, fmt.Errorf("regression suite: %w", err)
}

// failingLines extracts the lines identifying failed tests.
func failingLines(output string) []string {
	var failures []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.Contains(trimmed, "FAIL") {
			failures = append(failures, trimmed)
		}
	}
	if len(failures) == 0 {
		failures = append(failures, "regression suite exited non-zero")
	}
	return failures
}
