// Package sandbox validates evolution proposals before anything touches the
// repository. A proposal's diff is parsed, checked against its declared
// targets, applied to in-memory copies of the current artifacts, and the
// patched results are screened for structural damage and forbidden patterns.
// Five checks run in order; the result reports how many passed and why the
// rest failed.
package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/patch"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

const totalChecks = 5

// Default limits. Oversized diffs are rejected outright rather than scored:
// an evolution that rewrites half the organism is not reviewable.
const (
	DefaultMaxDiffLines     = 2000
	DefaultMaxArtifactBytes = 1 << 20
)

// defaultForbiddenPatterns lists substrings that must never appear in added
// lines. Matching is case-insensitive.
var defaultForbiddenPatterns = []string{
	"rm -rf", "dd if=", "mkfs", "shutdown", "reboot",
	"/dev/sd", "sudo ",
	"eval(", "exec(", "os.system", "subprocess.",
}

// ArtifactReader supplies the current content of an artifact by
// repository-relative path.
type ArtifactReader interface {
	ReadArtifact(name string) (string, error)
}

// Logger interface for the validator.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Validator checks proposals against the live artifact state.
type Validator struct {
	reader           ArtifactReader
	maxDiffLines     int
	maxArtifactBytes int
	forbidden        []string
	logger           Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the validator's logger.
func WithLogger(logger Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithMaxDiffLines overrides the changed-line ceiling.
func WithMaxDiffLines(n int) Option {
	return func(v *Validator) { v.maxDiffLines = n }
}

// WithMaxArtifactBytes overrides the patched-artifact size ceiling.
func WithMaxArtifactBytes(n int) Option {
	return func(v *Validator) { v.maxArtifactBytes = n }
}

// WithForbiddenPatterns replaces the default forbidden pattern list.
func WithForbiddenPatterns(patterns []string) Option {
	return func(v *Validator) { v.forbidden = patterns }
}

// NewValidator creates a validator that reads current artifact content
// through reader.
func NewValidator(reader ArtifactReader, opts ...Option) *Validator {
	v := &Validator{
		reader:           reader,
		maxDiffLines:     DefaultMaxDiffLines,
		maxArtifactBytes: DefaultMaxArtifactBytes,
		forbidden:        defaultForbiddenPatterns,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the five checks in order and reports the outcome. A failed
// check never aborts validation unless later checks depend on its output;
// skipped checks count as failed. The error return is reserved for
// cancellation, a failing proposal still produces a result.
func (v *Validator) Validate(ctx context.Context, p *proposal.Proposal) (*proposal.SandboxResult, error) {
	res := &proposal.SandboxResult{ChecksTotal: totalChecks}

	// Check 1: the diff parses and stays within the size ceiling.
	fileDiffs, err := patch.Parse(p.Diff)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		v.logWarn("sandbox_diff_unparseable", "proposal_id", p.ID, "error", err.Error())
		return res, nil
	}
	stats := patch.ComputeStats(fileDiffs)
	if changed := stats.LinesAdded + stats.LinesDeleted; changed > v.maxDiffLines {
		res.Errors = append(res.Errors, fmt.Sprintf("diff changes %d lines, ceiling is %d", changed, v.maxDiffLines))
		return res, nil
	}
	res.ChecksPassed++

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Check 2: every touched file is a declared target.
	declared := make(map[string]bool, len(p.TargetArtifacts))
	for _, t := range p.TargetArtifacts {
		declared[t] = true
	}
	targetsOK := true
	for _, fd := range fileDiffs {
		if name := patch.Path(fd); !declared[name] {
			res.Errors = append(res.Errors, fmt.Sprintf("diff touches undeclared artifact %s", name))
			targetsOK = false
		}
	}
	if !targetsOK {
		return res, nil
	}
	res.ChecksPassed++

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Check 3: the diff applies cleanly to current artifact content.
	patched := make(map[string]string, len(fileDiffs))
	applyOK := true
	for _, fd := range fileDiffs {
		name := patch.Path(fd)
		original, readErr := v.readOriginal(fd, name)
		if readErr != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, readErr))
			applyOK = false
			continue
		}
		content, deleted, applyErr := patch.Apply(original, fd)
		if applyErr != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, applyErr))
			applyOK = false
			continue
		}
		if !deleted {
			patched[name] = content
		}
	}
	if !applyOK {
		return res, nil
	}
	res.ChecksPassed++

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Check 4: patched artifacts are structurally sound.
	structureOK := true
	for name, content := range patched {
		if errs := CheckContent(name, content, v.maxArtifactBytes); len(errs) > 0 {
			res.Errors = append(res.Errors, errs...)
			structureOK = false
		}
	}
	if structureOK {
		res.ChecksPassed++
	}

	// Check 5: added lines carry no forbidden patterns.
	patternsOK := true
	for _, fd := range fileDiffs {
		name := patch.Path(fd)
		for _, line := range patch.AddedLines(fd) {
			lower := strings.ToLower(line)
			for _, pat := range v.forbidden {
				if strings.Contains(lower, pat) {
					res.Errors = append(res.Errors, fmt.Sprintf("%s: forbidden pattern %q", name, pat))
					patternsOK = false
				}
			}
		}
	}
	if patternsOK {
		res.ChecksPassed++
	}

	res.Passed = res.ChecksPassed == res.ChecksTotal
	if res.Passed {
		v.logDebug("sandbox_validation_passed", "proposal_id", p.ID,
			"files_changed", stats.FilesChanged, "lines_added", stats.LinesAdded, "lines_deleted", stats.LinesDeleted)
	} else {
		v.logWarn("sandbox_validation_failed", "proposal_id", p.ID,
			"checks_passed", res.ChecksPassed, "errors", strings.Join(res.FirstErrors(3), "; "))
	}
	return res, nil
}

// readOriginal fetches current content for a file diff. New-file diffs have
// no original, so a read failure for them is not an error.
func (v *Validator) readOriginal(fd *diff.FileDiff, name string) (string, error) {
	if fd.OrigName == "/dev/null" {
		return "", nil
	}
	content, err := v.reader.ReadArtifact(name)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return content, nil
}

func (v *Validator) logDebug(msg string, keysAndValues ...any) {
	if v.logger != nil {
		v.logger.Debug(msg, keysAndValues...)
	}
}

func (v *Validator) logWarn(msg string, keysAndValues ...any) {
	if v.logger != nil {
		v.logger.Warn(msg, keysAndValues...)
	}
}
