// Package main provides the mirrorcheck validator for perception-affecting
// proposals.
//
// The evolution daemon runs this binary as a subprocess: it reads a proposal
// as JSON from stdin, inspects the diff, and writes a verdict to stdout. It
// is the static reference validator; deployments with a trained perception
// model swap in their own binary behind the same contract.
//
// Usage:
//
//	# Judge a proposal
//	echo '{"proposal_id":"...","goal":"...","diff":"..."}' | mirrorcheck
//
//	# Protect additional identity constructs
//	mirrorcheck -identity self_portrait,anchor_frame < proposal.json
//
// Output:
//
//	{"accuracy": 0.95, "immortality_passed": true,
//	 "metrics": {...}, "issues": [...]}
//
// A non-zero exit means the proposal could not be judged at all; the daemon
// treats that as a failed phase, never as a pass.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/patch"
)

// identityConstructs are the self-model anchors no change may remove. A
// removed or rewritten line touching one of these fails the immortality
// check outright, whatever the accuracy score says.
var identityConstructs = []string{
	"self_model",
	"identity_hash",
	"perception_loop",
	"mirror_test",
	"immortality",
}

// perceptionMarkers flag added lines that alter how the organism senses
// itself. Each hit costs accuracy; enough of them push the score below the
// daemon's threshold.
var perceptionMarkers = []string{
	"render",
	"display",
	"camera",
	"scene",
	"viewport",
	"perception",
}

// defaultPenalty is the accuracy cost per perception-marker hit.
const defaultPenalty = 0.05

// proposalInput mirrors the JSON the daemon sends on stdin.
type proposalInput struct {
	ProposalID      string   `json:"proposal_id"`
	Goal            string   `json:"goal"`
	TargetArtifacts []string `json:"target_artifacts"`
	Diff            string   `json:"diff"`
}

// verdict is the JSON written to stdout. Accuracy and the immortality flag
// are mandatory for the daemon; the rest is diagnostic.
type verdict struct {
	Accuracy          float64            `json:"accuracy"`
	ImmortalityPassed bool               `json:"immortality_passed"`
	Metrics           map[string]float64 `json:"metrics"`
	Issues            []string           `json:"issues,omitempty"`
}

func main() {
	extraIdentity := flag.String("identity", "",
		"comma-separated identity constructs protected in addition to the built-in set")
	penalty := flag.Float64("penalty", defaultPenalty,
		"accuracy cost per perception-marker hit in added lines")
	flag.Parse()

	input, err := readInput()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirrorcheck: read input: %v\n", err)
		os.Exit(1)
	}

	result, err := judge(input, withExtraConstructs(*extraIdentity), *penalty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirrorcheck: %v\n", err)
		os.Exit(1)
	}
	writeJSON(result)
}

// judge scores one proposal: removed lines are screened against the identity
// constructs, added lines against the perception markers.
func judge(input *proposalInput, constructs []string, penalty float64) (*verdict, error) {
	fileDiffs, err := patch.Parse(input.Diff)
	if err != nil {
		return nil, err
	}

	result := &verdict{ImmortalityPassed: true, Metrics: map[string]float64{}}
	var added, removed, hits int

	for _, fd := range fileDiffs {
		name := patch.Path(fd)

		for _, line := range patch.RemovedLines(fd) {
			removed++
			if construct := matchAny(line, constructs); construct != "" {
				result.ImmortalityPassed = false
				result.Issues = append(result.Issues,
					fmt.Sprintf("%s: removes identity construct %q", name, construct))
			}
		}

		for _, line := range patch.AddedLines(fd) {
			added++
			if marker := matchAny(line, perceptionMarkers); marker != "" {
				hits++
				result.Issues = append(result.Issues,
					fmt.Sprintf("%s: touches perception path %q", name, marker))
			}
		}
	}

	result.Accuracy = 1.0 - penalty*float64(hits)
	if result.Accuracy < 0 {
		result.Accuracy = 0
	}
	result.Metrics["lines_added"] = float64(added)
	result.Metrics["lines_removed"] = float64(removed)
	result.Metrics["perception_hits"] = float64(hits)
	return result, nil
}

// matchAny reports the first needle contained in the line, compared
// case-insensitively.
func matchAny(line string, needles []string) string {
	lower := strings.ToLower(line)
	for _, needle := range needles {
		if strings.Contains(lower, needle) {
			return needle
		}
	}
	return ""
}

func withExtraConstructs(extra string) []string {
	constructs := identityConstructs
	for _, c := range strings.Split(extra, ",") {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			constructs = append(constructs, c)
		}
	}
	return constructs
}

func readInput() (*proposalInput, error) {
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return nil, err
	}
	var input proposalInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return &input, nil
}

func writeJSON(v any) {
	if err := json.NewEncoder(os.Stdout).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "mirrorcheck: encode verdict: %v\n", err)
		os.Exit(1)
	}
}
