// Package proposal defines the data model of the code-evolution pipeline:
// proposals, tasks, gate results, verdicts, and recovery outcomes.
//
// A Proposal is immutable once created. A Task is the mutable record of one
// attempt to apply a Proposal; it is mutated only by the pipeline daemon and
// becomes immutable once its status reaches a terminal value.
package proposal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PROPOSAL
// =============================================================================

// Proposal is a unit of proposed change supplied by the reasoning collaborator.
type Proposal struct {
	ID              string         `json:"id"`
	Goal            string         `json:"goal"`
	TargetArtifacts []string       `json:"target_artifacts"`
	Diff            string         `json:"diff"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// NewProposal creates a proposal with a fresh identifier.
func NewProposal(goal string, targetArtifacts []string, diff string) *Proposal {
	return &Proposal{
		ID:              uuid.New().String(),
		Goal:            goal,
		TargetArtifacts: targetArtifacts,
		Diff:            diff,
		Metadata:        make(map[string]any),
		CreatedAt:       time.Now().UTC(),
	}
}

// AffectsPerception checks the metadata tag that marks proposals touching
// live-verification-sensitive logic. Such proposals must pass the mirror
// validator before the reviewer is consulted.
func (p *Proposal) AffectsPerception() bool {
	if p.Metadata == nil {
		return false
	}
	v, ok := p.Metadata["affects_perception"].(bool)
	return ok && v
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	clone := *p
	clone.TargetArtifacts = append([]string(nil), p.TargetArtifacts...)
	clone.Metadata = make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}

// =============================================================================
// TASK
// =============================================================================

// PhaseRecord is one entry in a task's transition audit trail.
type PhaseRecord struct {
	Status    TaskStatus `json:"status"`
	Note      string     `json:"note,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Task is the mutable record of one attempt to apply a Proposal.
type Task struct {
	ID             string     `json:"id"`
	Goal           string     `json:"goal"`
	TargetArtifact string     `json:"target_artifact"`
	Status         TaskStatus `json:"status"`
	Result         string     `json:"result,omitempty"`
	ChangesMade    []string   `json:"changes_made,omitempty"`

	// VisualIntent, when present, enables the optional live-verification phase.
	VisualIntent *VisualIntent `json:"visual_intent,omitempty"`
	// VisualAttempt counts live-verification attempts for the retry policy.
	VisualAttempt int `json:"visual_attempt"`

	// GeneticSnapshot maps artifact identifiers to their pre-change content.
	// Captured before any mutation is applied; used exclusively for rollback.
	GeneticSnapshot map[string]string `json:"-"`

	History   []PhaseRecord `json:"history,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewTask creates a pending task. Task identifiers keep the daemon's
// timestamp form with a short random suffix for uniqueness.
func NewTask(goal, targetArtifact string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:             fmt.Sprintf("evolve_%s_%s", now.Format("20060102_150405"), uuid.New().String()[:8]),
		Goal:           goal,
		TargetArtifact: targetArtifact,
		Status:         StatusPending,
		ChangesMade:    make([]string, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// SetStatus transitions the task to the next status, recording the step in
// the task history. Transitions out of a terminal status are rejected except
// for the human approval path.
func (t *Task) SetStatus(next TaskStatus, note string) error {
	if t.Status == next {
		return nil
	}
	if !IsValidStatusTransition(t.Status, next) {
		return fmt.Errorf("invalid task transition: %s -> %s", t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = time.Now().UTC()
	t.History = append(t.History, PhaseRecord{
		Status:    next,
		Note:      note,
		Timestamp: t.UpdatedAt,
	})
	return nil
}

// RecordChange appends a human-readable description of an applied change.
func (t *Task) RecordChange(description string) {
	t.ChangesMade = append(t.ChangesMade, description)
	t.UpdatedAt = time.Now().UTC()
}

// HasSnapshot checks whether a genetic snapshot was captured.
func (t *Task) HasSnapshot() bool {
	return len(t.GeneticSnapshot) > 0
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	clone := *t
	clone.ChangesMade = append([]string(nil), t.ChangesMade...)
	clone.History = append([]PhaseRecord(nil), t.History...)
	if t.GeneticSnapshot != nil {
		clone.GeneticSnapshot = make(map[string]string, len(t.GeneticSnapshot))
		for k, v := range t.GeneticSnapshot {
			clone.GeneticSnapshot[k] = v
		}
	}
	if t.VisualIntent != nil {
		intent := *t.VisualIntent
		intent.ExpectedElements = append([]string(nil), t.VisualIntent.ExpectedElements...)
		clone.VisualIntent = &intent
	}
	return &clone
}
