// Package review produces verdicts on evolution proposals.
//
// Two reviewers are provided. RuleReviewer is deterministic: a fixed set of
// checks over the proposal's diff and targets, each emitting issues with a
// severity, folded into an approved/risk/confidence verdict. ModelReviewer
// asks a chat model for the same judgment and parses its JSON reply. The
// pipeline treats both identically.
package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/patch"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

type severity int

const (
	severityWarning severity = iota
	severityCritical
)

type issue struct {
	Severity severity
	Message  string
}

// Confidence arithmetic for the rule reviewer. Every issue erodes confidence
// from the base; the floor keeps the verdict usable for tier routing.
const (
	baseConfidence     = 0.95
	warningPenalty     = 0.10
	criticalPenalty    = 0.25
	confidenceFloor    = 0.10
	largeChangeLines   = 200
	deletionHeavyRatio = 3
	deletionHeavyFloor = 50
)

// defaultSensitivePaths are path fragments that should never appear in an
// autonomous change's targets.
var defaultSensitivePaths = []string{".git", ".env", "secrets", "credentials", "private"}

// RuleReviewer renders verdicts from fixed checks, no model involved.
type RuleReviewer struct {
	sensitivePaths []string
}

// NewRuleReviewer creates a rule-based reviewer. Extra sensitive path
// fragments extend the default list.
func NewRuleReviewer(extraSensitivePaths ...string) *RuleReviewer {
	return &RuleReviewer{
		sensitivePaths: append(append([]string{}, defaultSensitivePaths...), extraSensitivePaths...),
	}
}

// Review checks the proposal and folds the issues into a verdict. The
// context is accepted for interface parity with the model reviewer; rule
// checks are instantaneous.
func (r *RuleReviewer) Review(_ context.Context, p *proposal.Proposal, sandbox *proposal.SandboxResult) (*proposal.ReviewVerdict, error) {
	var issues []issue

	issues = append(issues, r.checkGoal(p)...)
	issues = append(issues, r.checkSandbox(sandbox)...)

	fileDiffs, err := patch.Parse(p.Diff)
	if err != nil {
		issues = append(issues, issue{severityCritical, fmt.Sprintf("diff does not parse: %v", err)})
	} else {
		issues = append(issues, r.checkSize(fileDiffs)...)
		issues = append(issues, r.checkSensitivePaths(fileDiffs)...)
		issues = append(issues, r.checkTestRemoval(fileDiffs)...)
	}

	return foldIssues(issues), nil
}

func (r *RuleReviewer) checkGoal(p *proposal.Proposal) []issue {
	if strings.TrimSpace(p.Goal) == "" {
		return []issue{{severityCritical, "proposal has no stated goal"}}
	}
	return nil
}

func (r *RuleReviewer) checkSandbox(sandbox *proposal.SandboxResult) []issue {
	if sandbox != nil && !sandbox.Passed {
		return []issue{{severityCritical, fmt.Sprintf("sandbox reported %s", sandbox.Summary())}}
	}
	return nil
}

func (r *RuleReviewer) checkSize(fileDiffs []*diff.FileDiff) []issue {
	stats := patch.ComputeStats(fileDiffs)
	var issues []issue

	if changed := stats.LinesAdded + stats.LinesDeleted; changed > largeChangeLines {
		issues = append(issues, issue{severityWarning,
			fmt.Sprintf("large change: %d lines across %d files", changed, stats.FilesChanged)})
	}
	if stats.LinesDeleted > deletionHeavyFloor && stats.LinesDeleted > deletionHeavyRatio*stats.LinesAdded {
		issues = append(issues, issue{severityWarning,
			fmt.Sprintf("deletion heavy: removes %d lines, adds %d", stats.LinesDeleted, stats.LinesAdded)})
	}
	return issues
}

func (r *RuleReviewer) checkSensitivePaths(fileDiffs []*diff.FileDiff) []issue {
	var issues []issue
	for _, fd := range fileDiffs {
		name := patch.Path(fd)
		for _, fragment := range r.sensitivePaths {
			if containsPathFragment(name, fragment) {
				issues = append(issues, issue{severityCritical,
					fmt.Sprintf("touches sensitive path %s", name)})
				break
			}
		}
	}
	return issues
}

func (r *RuleReviewer) checkTestRemoval(fileDiffs []*diff.FileDiff) []issue {
	var issues []issue
	for _, fd := range fileDiffs {
		name := patch.Path(fd)
		if !isTestPath(name) {
			continue
		}
		stats := patch.ComputeStats([]*diff.FileDiff{fd})
		if stats.LinesDeleted > stats.LinesAdded {
			issues = append(issues, issue{severityWarning,
				fmt.Sprintf("shrinks test coverage in %s", name)})
		}
	}
	return issues
}

// foldIssues turns the issue list into a verdict. Any critical issue blocks
// approval and rates the change high risk.
func foldIssues(issues []issue) *proposal.ReviewVerdict {
	var criticals, warnings int
	messages := make([]string, 0, len(issues))
	for _, is := range issues {
		messages = append(messages, is.Message)
		if is.Severity == severityCritical {
			criticals++
		} else {
			warnings++
		}
	}

	confidence := baseConfidence - float64(warnings)*warningPenalty - float64(criticals)*criticalPenalty
	if confidence < confidenceFloor {
		confidence = confidenceFloor
	}

	risk := proposal.RiskLow
	switch {
	case criticals > 0:
		risk = proposal.RiskHigh
	case warnings > 0:
		risk = proposal.RiskMedium
	}

	reasoning := "no blocking issues found"
	if len(messages) > 0 {
		reasoning = strings.Join(messages, "; ")
	}

	return &proposal.ReviewVerdict{
		Approved:   criticals == 0,
		Risk:       risk,
		Confidence: confidence,
		Reasoning:  reasoning,
		Issues:     messages,
	}
}

func containsPathFragment(path, fragment string) bool {
	return path == fragment ||
		strings.Contains(path, "/"+fragment+"/") ||
		strings.HasSuffix(path, "/"+fragment) ||
		strings.HasPrefix(path, fragment+"/")
}

func isTestPath(name string) bool {
	base := name[strings.LastIndex(name, "/")+1:]
	return strings.HasPrefix(base, "test_") ||
		strings.Contains(base, "_test.") ||
		strings.Contains(name, "tests/")
}
