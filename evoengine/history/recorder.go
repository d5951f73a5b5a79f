package history

import (
	"context"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/evolvecore/commbus"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// Logger interface for the recorder.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// TaskLookup resolves a task id to its current state. The daemon's Task
// method satisfies it.
type TaskLookup func(id string) (*proposal.Task, bool)

// Recorder subscribes to pipeline events and persists settled outcomes.
// Tier and commit assignments arrive on separate events before the task
// settles, so the recorder carries them until the TaskCompleted event
// composes the row. A write failure is logged, never propagated: losing a
// history row must not disturb the pipeline.
type Recorder struct {
	store  *Store
	lookup TaskLookup
	logger Logger

	mu      sync.Mutex
	tiers   map[string]int
	commits map[string]string
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the recorder's logger.
func WithRecorderLogger(logger Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// NewRecorder builds a recorder writing to store. lookup may be nil; rows
// for unknown tasks then carry only what the events themselves say.
func NewRecorder(store *Store, lookup TaskLookup, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		lookup:  lookup,
		tiers:   make(map[string]int),
		commits: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the recorder to the pipeline events it persists.
// Returns an unsubscribe function.
func (r *Recorder) Attach(bus commbus.CommBus) func() {
	unsubs := []func(){
		bus.Subscribe("TierAssigned", r.onTierAssigned),
		bus.Subscribe("EvolutionCommitted", r.onCommitted),
		bus.Subscribe("RegressionDetected", r.onRegression),
		bus.Subscribe("TaskCompleted", r.onTaskCompleted),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (r *Recorder) onTierAssigned(_ context.Context, msg commbus.Message) (any, error) {
	event, ok := msg.(*commbus.TierAssigned)
	if !ok {
		return nil, nil
	}
	r.mu.Lock()
	r.tiers[event.TaskID] = event.Tier
	r.mu.Unlock()
	return nil, nil
}

func (r *Recorder) onCommitted(_ context.Context, msg commbus.Message) (any, error) {
	event, ok := msg.(*commbus.EvolutionCommitted)
	if !ok {
		return nil, nil
	}
	r.mu.Lock()
	r.commits[event.TaskID] = event.CommitSHA
	r.mu.Unlock()
	return nil, nil
}

func (r *Recorder) onRegression(_ context.Context, msg commbus.Message) (any, error) {
	event, ok := msg.(*commbus.RegressionDetected)
	if !ok {
		return nil, nil
	}
	rec := RecoveryActionRecord{
		TaskID:    event.TaskID,
		CommitSHA: event.CommitSHA,
		Action:    event.Action,
		Issues:    event.Issues,
		At:        time.Now().UTC(),
	}
	if err := r.store.RecordRecoveryAction(rec); err != nil {
		r.logWarn("history_recovery_write_failed", "task_id", event.TaskID, "error", err.Error())
	}
	return nil, nil
}

func (r *Recorder) onTaskCompleted(_ context.Context, msg commbus.Message) (any, error) {
	event, ok := msg.(*commbus.TaskCompleted)
	if !ok {
		return nil, nil
	}

	rec := EvolutionRecord{
		TaskID:     event.TaskID,
		Status:     event.Status,
		Result:     event.Result,
		CreatedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
	if r.lookup != nil {
		if task, found := r.lookup(event.TaskID); found {
			rec.Goal = task.Goal
			rec.TargetArtifact = task.TargetArtifact
			rec.ChangesMade = task.ChangesMade
			rec.CreatedAt = task.CreatedAt
			rec.FinishedAt = task.UpdatedAt
		}
	}

	r.mu.Lock()
	rec.Tier = r.tiers[event.TaskID]
	rec.CommitSHA = r.commits[event.TaskID]
	// An awaiting task settles again once a human resolves it; its tier and
	// commit carry over to that second row.
	if !isAwaiting(event.Status) {
		delete(r.tiers, event.TaskID)
		delete(r.commits, event.TaskID)
	}
	r.mu.Unlock()

	if err := r.store.RecordEvolution(rec); err != nil {
		r.logWarn("history_evolution_write_failed", "task_id", event.TaskID, "error", err.Error())
	}
	return nil, nil
}

func isAwaiting(status string) bool {
	return status == string(proposal.StatusAwaitingReview) ||
		status == string(proposal.StatusAwaitingVisualReview)
}

func (r *Recorder) logWarn(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, keysAndValues...)
	}
}
