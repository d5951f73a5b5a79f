// Package daemon orchestrates the evolution pipeline. A Daemon drives each
// task through a strict phase sequence: sandbox validation, an optional
// perception mirror check, reviewer gating, tier routing, commit or review
// branch, optional live visual verification, and post-commit monitoring with
// rollback. Phases run in order through the task status machine and a failed
// gate stops the run; no later phase ever executes speculatively.
//
// The daemon owns the in-memory task store, the approval queue for parked
// tier 3 changes, the per-artifact locks that serialize commit and
// monitoring, and the evolutions-per-hour cap. The recovery breaker is
// consulted before any task starts and is the only state shared across
// concurrent tasks.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/evolvecore/commbus"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/config"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/recovery"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/tier"
)

const (
	defaultScanTimeout = 2 * time.Minute
	defaultApprovalTTL = 24 * time.Hour
	publishTimeout     = 2 * time.Second
)

// Daemon runs evolution tasks against a set of collaborators.
type Daemon struct {
	cfg     *config.EvolutionConfig
	collab  Collaborators
	router  *tier.Router
	breaker *recovery.CircuitBreaker
	limiter *evolutionLimiter
	phases  map[proposal.TaskStatus]phaseHandler

	logger      Logger
	bus         commbus.CommBus
	scanTimeout time.Duration
	approvalTTL time.Duration

	mu          sync.RWMutex
	tasks       map[string]*proposal.Task
	proposals   map[string]*proposal.Proposal
	approvals   map[string]*approvalEntry
	approvalSeq int
	evolutions  int

	lockMu        sync.Mutex
	artifactLocks map[string]*sync.Mutex
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithDaemonLogger sets the logger. Without one the daemon is silent.
func WithDaemonLogger(logger Logger) Option {
	return func(d *Daemon) { d.logger = logger }
}

// WithScanTimeout bounds each per-target call to the proposal source.
func WithScanTimeout(timeout time.Duration) Option {
	return func(d *Daemon) {
		if timeout > 0 {
			d.scanTimeout = timeout
		}
	}
}

// WithApprovalTTL sets how long a parked tier 3 task may wait before the
// run loop expires it.
func WithApprovalTTL(ttl time.Duration) Option {
	return func(d *Daemon) {
		if ttl > 0 {
			d.approvalTTL = ttl
		}
	}
}

// NewDaemon creates a daemon. The router classifies approved proposals, the
// breaker gates every run, and the collaborators do the real work; the
// required ones are checked up front so a misconfigured daemon fails at
// construction rather than mid-pipeline.
func NewDaemon(cfg *config.EvolutionConfig, router *tier.Router, breaker *recovery.CircuitBreaker, collab Collaborators, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		cfg = config.DefaultEvolutionConfig()
	}
	if router == nil {
		return nil, errors.New("daemon: tier router required")
	}
	if breaker == nil {
		return nil, errors.New("daemon: circuit breaker required")
	}
	if err := collab.validate(); err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	d := &Daemon{
		cfg:           cfg,
		collab:        collab,
		router:        router,
		breaker:       breaker,
		limiter:       newEvolutionLimiter(cfg.MaxEvolutionsPerHour, 3600),
		scanTimeout:   defaultScanTimeout,
		approvalTTL:   defaultApprovalTTL,
		tasks:         make(map[string]*proposal.Task),
		proposals:     make(map[string]*proposal.Proposal),
		approvals:     make(map[string]*approvalEntry),
		artifactLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.phases = map[proposal.TaskStatus]phaseHandler{
		proposal.StatusSandboxValidating:    d.sandboxPhase,
		proposal.StatusPerceptionValidating: d.perceptionPhase,
		proposal.StatusReviewerGating:       d.reviewerPhase,
		proposal.StatusTierRouting:          d.tierPhase,
		proposal.StatusCommitting:           d.commitPhase,
		proposal.StatusBranchCreating:       d.branchPhase,
		proposal.StatusLiveVerifying:        d.verifyPhase,
		proposal.StatusMonitoring:           d.monitorPhase,
	}
	return d, nil
}

// SubmitOption decorates a task at submission time.
type SubmitOption func(*proposal.Task)

// WithVisualIntent declares the on-screen outcome the change is expected to
// produce, enabling the live verification phase.
func WithVisualIntent(intent *proposal.VisualIntent) SubmitOption {
	return func(t *proposal.Task) { t.VisualIntent = intent }
}

// Submit registers a task for the proposal without running it. The returned
// task is a snapshot; follow progress through Task.
func (d *Daemon) Submit(p *proposal.Proposal, opts ...SubmitOption) (*proposal.Task, error) {
	if p == nil {
		return nil, errors.New("submit: nil proposal")
	}
	if p.Goal == "" {
		return nil, errors.New("submit: proposal goal required")
	}
	if len(p.TargetArtifacts) == 0 {
		return nil, errors.New("submit: proposal has no target artifacts")
	}

	task := proposal.NewTask(p.Goal, p.TargetArtifacts[0])
	for _, opt := range opts {
		opt(task)
	}

	d.mu.Lock()
	d.tasks[task.ID] = task
	d.proposals[task.ID] = p.Clone()
	d.mu.Unlock()

	d.publish(&commbus.TaskSubmitted{TaskID: task.ID, Goal: p.Goal, TargetArtifact: task.TargetArtifact})
	d.logInfo("task_submitted", "task_id", task.ID, "goal", p.Goal, "target", task.TargetArtifact)
	return task.Clone(), nil
}

// Task returns a copy of a stored task.
func (d *Daemon) Task(id string) (*proposal.Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns copies of all stored tasks, oldest first.
func (d *Daemon) Tasks() []*proposal.Task {
	d.mu.RLock()
	out := make([]*proposal.Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		out = append(out, t.Clone())
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats is a point-in-time view of the daemon's counters.
type Stats struct {
	EvolutionCount int
	ActiveTasks    int
	QueueDepth     int
	Paused         bool
	PauseReason    string
}

// Stats reports evolution and queue counters plus the breaker state.
func (d *Daemon) Stats() Stats {
	d.mu.RLock()
	s := Stats{
		EvolutionCount: d.evolutions,
		QueueDepth:     len(d.approvals),
	}
	for _, t := range d.tasks {
		if !t.Status.IsTerminal() {
			s.ActiveTasks++
		}
	}
	d.mu.RUnlock()

	s.Paused, s.PauseReason = d.breaker.IsPaused()
	return s
}

// Breaker exposes the circuit breaker for status surfaces and audits.
func (d *Daemon) Breaker() *recovery.CircuitBreaker {
	return d.breaker
}

// Pause halts all further evolution until Resume.
func (d *Daemon) Pause(reason string) {
	d.breaker.Pause(reason)
	d.publish(&commbus.EvolutionPaused{Reason: reason})
	d.logWarn("evolution_paused", "reason", reason)
}

// Resume lifts a pause.
func (d *Daemon) Resume(operator string) {
	d.breaker.Resume()
	d.publish(&commbus.EvolutionResumed{Operator: operator})
	d.logInfo("evolution_resumed", "operator", operator)
}

// =============================================================================
// BUS WIRING
// =============================================================================

// AttachBus connects the daemon to the message bus: events publish to it and
// the daemon's command and query handlers register on it.
func (d *Daemon) AttachBus(bus commbus.CommBus) error {
	if bus == nil {
		return errors.New("daemon: nil bus")
	}
	d.bus = bus

	handlers := map[string]commbus.HandlerFunc{
		"PauseEvolution":   d.handlePause,
		"ResumeEvolution":  d.handleResume,
		"ApproveTask":      d.handleApprove,
		"RejectTask":       d.handleReject,
		"GetTaskStatus":    d.handleGetTaskStatus,
		"GetPipelineStats": d.handleGetStats,
		"GetApprovalQueue": d.handleGetApprovalQueue,
	}
	for messageType, handler := range handlers {
		if err := bus.RegisterHandler(messageType, d.contained(messageType, handler)); err != nil {
			return fmt.Errorf("daemon: register %s: %w", messageType, err)
		}
	}
	return nil
}

// contained wraps a bus handler with panic containment so a malformed
// message cannot take the bus dispatcher down.
func (d *Daemon) contained(messageType string, handler commbus.HandlerFunc) commbus.HandlerFunc {
	return func(ctx context.Context, msg commbus.Message) (any, error) {
		return SafeExecuteWithResult(d.logger, "bus handler "+messageType, func() (any, error) {
			return handler(ctx, msg)
		})
	}
}

func (d *Daemon) handlePause(_ context.Context, msg commbus.Message) (any, error) {
	cmd, ok := msg.(*commbus.PauseEvolution)
	if !ok {
		return nil, fmt.Errorf("unexpected message %T", msg)
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "operator request"
	}
	d.Pause(reason)
	return nil, nil
}

func (d *Daemon) handleResume(_ context.Context, msg commbus.Message) (any, error) {
	cmd, ok := msg.(*commbus.ResumeEvolution)
	if !ok {
		return nil, fmt.Errorf("unexpected message %T", msg)
	}
	d.Resume(cmd.Operator)
	return nil, nil
}

func (d *Daemon) handleApprove(ctx context.Context, msg commbus.Message) (any, error) {
	cmd, ok := msg.(*commbus.ApproveTask)
	if !ok {
		return nil, fmt.Errorf("unexpected message %T", msg)
	}
	task, err := d.Approve(ctx, cmd.TaskID, cmd.Approver)
	if err != nil {
		return nil, err
	}
	return &commbus.TaskStatusResponse{Found: true, Status: string(task.Status), Result: task.Result}, nil
}

func (d *Daemon) handleReject(_ context.Context, msg commbus.Message) (any, error) {
	cmd, ok := msg.(*commbus.RejectTask)
	if !ok {
		return nil, fmt.Errorf("unexpected message %T", msg)
	}
	task, err := d.Reject(cmd.TaskID, cmd.Approver, cmd.Reason)
	if err != nil {
		return nil, err
	}
	return &commbus.TaskStatusResponse{Found: true, Status: string(task.Status), Result: task.Result}, nil
}

func (d *Daemon) handleGetTaskStatus(_ context.Context, msg commbus.Message) (any, error) {
	query, ok := msg.(*commbus.GetTaskStatus)
	if !ok {
		return nil, fmt.Errorf("unexpected message %T", msg)
	}
	task, found := d.Task(query.TaskID)
	if !found {
		return &commbus.TaskStatusResponse{Found: false}, nil
	}
	return &commbus.TaskStatusResponse{Found: true, Status: string(task.Status), Result: task.Result}, nil
}

func (d *Daemon) handleGetStats(_ context.Context, _ commbus.Message) (any, error) {
	s := d.Stats()
	return &commbus.PipelineStatsResponse{
		EvolutionCount: s.EvolutionCount,
		ActiveTasks:    s.ActiveTasks,
		QueueDepth:     s.QueueDepth,
		Paused:         s.Paused,
		PauseReason:    s.PauseReason,
	}, nil
}

func (d *Daemon) handleGetApprovalQueue(_ context.Context, _ commbus.Message) (any, error) {
	return &commbus.ApprovalQueueResponse{TaskIDs: d.ApprovalQueue()}, nil
}

// publish sends a bus event best effort. The bus is a telemetry surface;
// delivery failure never blocks or fails the pipeline.
func (d *Daemon) publish(event commbus.Message) {
	if d.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := d.bus.Publish(ctx, event); err != nil {
		d.logDebug("event_publish_failed", "type", commbus.GetMessageType(event), "error", err.Error())
	}
}

// =============================================================================
// TASK MUTATION
// =============================================================================

// All task mutation goes through these helpers under d.mu; Task and Tasks
// hand out clones, so readers never observe a half-applied update.

func (d *Daemon) setStatus(task *proposal.Task, next proposal.TaskStatus, note string) error {
	d.mu.Lock()
	prev := task.Status
	err := task.SetStatus(next, note)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.publish(&commbus.PhaseTransition{TaskID: task.ID, FromPhase: string(prev), ToPhase: string(next), Note: note})
	d.logDebug("task_phase", "task_id", task.ID, "from", string(prev), "to", string(next))
	return nil
}

func (d *Daemon) setResult(task *proposal.Task, result string) {
	d.mu.Lock()
	task.Result = result
	task.UpdatedAt = time.Now().UTC()
	d.mu.Unlock()
}

func (d *Daemon) recordChange(task *proposal.Task, description string) {
	d.mu.Lock()
	task.RecordChange(description)
	d.mu.Unlock()
}

func (d *Daemon) taskStatus(task *proposal.Task) proposal.TaskStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return task.Status
}

func (d *Daemon) taskResult(task *proposal.Task) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return task.Result
}

func (d *Daemon) nextVisualAttempt(task *proposal.Task) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	task.VisualAttempt++
	return task.VisualAttempt
}

func (d *Daemon) setSnapshot(task *proposal.Task, snapshot map[string]string) {
	d.mu.Lock()
	task.GeneticSnapshot = snapshot
	d.mu.Unlock()
}

func (d *Daemon) snapshotCopy(task *proposal.Task) map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(task.GeneticSnapshot))
	for k, v := range task.GeneticSnapshot {
		out[k] = v
	}
	return out
}

// =============================================================================
// LOGGING
// =============================================================================

func (d *Daemon) logDebug(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, keysAndValues...)
	}
}

func (d *Daemon) logInfo(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *Daemon) logWarn(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, keysAndValues...)
	}
}

func (d *Daemon) logError(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Error(msg, keysAndValues...)
	}
}
