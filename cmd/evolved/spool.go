package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/daemon"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// =============================================================================
// PROPOSAL SPOOL
// =============================================================================

// spoolEntry is the on-disk shape of one queued proposal.
type spoolEntry struct {
	Goal              string   `json:"goal"`
	TargetArtifacts   []string `json:"target_artifacts"`
	Diff              string   `json:"diff"`
	AffectsPerception bool     `json:"affects_perception,omitempty"`
}

// spoolCandidate is one spool file as reported by Pending.
type spoolCandidate struct {
	File              string   `json:"file"`
	Goal              string   `json:"goal,omitempty"`
	TargetArtifacts   []string `json:"target_artifacts,omitempty"`
	AffectsPerception bool     `json:"affects_perception,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// spoolSource feeds the daemon's scan loop from a directory of *.json
// proposal files. A picked entry is renamed with a .picked suffix and never
// rescanned; a malformed entry is renamed .invalid so it cannot wedge the
// queue. A missing spool directory means nothing is queued.
type spoolSource struct {
	dir    string
	logger daemon.Logger
}

func newSpoolSource(dir string, logger daemon.Logger) *spoolSource {
	return &spoolSource{dir: dir, logger: logger}
}

// Propose returns the oldest queued proposal naming the target artifact,
// consuming its spool file. Returns (nil, nil) when nothing is queued.
func (s *spoolSource) Propose(ctx context.Context, targetArtifact string) (*proposal.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names, err := s.entryNames()
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		path := filepath.Join(s.dir, name)
		entry, err := readSpoolEntry(path)
		if err != nil {
			s.discard(path, "invalid", err)
			continue
		}
		if !containsArtifact(entry.TargetArtifacts, targetArtifact) {
			continue
		}
		if err := os.Rename(path, path+".picked"); err != nil {
			return nil, err
		}

		p := proposal.NewProposal(entry.Goal, entry.TargetArtifacts, entry.Diff)
		if entry.AffectsPerception {
			p.Metadata["affects_perception"] = true
		}
		s.logInfo("spool_entry_picked", "file", name, "goal", entry.Goal)
		return p, nil
	}
	return nil, nil
}

// Pending lists every queued spool file without consuming anything.
// Malformed files are reported with their parse error instead of hidden.
func (s *spoolSource) Pending() ([]spoolCandidate, error) {
	names, err := s.entryNames()
	if err != nil {
		return nil, err
	}

	candidates := make([]spoolCandidate, 0, len(names))
	for _, name := range names {
		entry, err := readSpoolEntry(filepath.Join(s.dir, name))
		if err != nil {
			candidates = append(candidates, spoolCandidate{File: name, Error: err.Error()})
			continue
		}
		candidates = append(candidates, spoolCandidate{
			File:              name,
			Goal:              entry.Goal,
			TargetArtifacts:   entry.TargetArtifacts,
			AffectsPerception: entry.AffectsPerception,
		})
	}
	return candidates, nil
}

// entryNames returns the queued *.json file names in lexical order, so
// timestamp-prefixed names drain oldest first.
func (s *spoolSource) entryNames() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		names = append(names, de.Name())
	}
	return names, nil
}

func (s *spoolSource) discard(path, suffix string, cause error) {
	s.logWarn("spool_entry_discarded", "file", filepath.Base(path), "error", cause.Error())
	if err := os.Rename(path, path+"."+suffix); err != nil {
		s.logWarn("spool_discard_failed", "file", filepath.Base(path), "error", err.Error())
	}
}

func (s *spoolSource) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *spoolSource) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}

// readSpoolEntry parses and validates one spool file.
func readSpoolEntry(path string) (*spoolEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry spoolEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	if err := entry.validate(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (e *spoolEntry) validate() error {
	switch {
	case strings.TrimSpace(e.Goal) == "":
		return errMissingField("goal")
	case len(e.TargetArtifacts) == 0:
		return errMissingField("target_artifacts")
	case strings.TrimSpace(e.Diff) == "":
		return errMissingField("diff")
	}
	return nil
}

type errMissingField string

func (e errMissingField) Error() string { return "spool entry missing " + string(e) }

func containsArtifact(artifacts []string, target string) bool {
	for _, a := range artifacts {
		if a == target {
			return true
		}
	}
	return false
}
