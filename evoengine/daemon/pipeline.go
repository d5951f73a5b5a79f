package daemon

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/evolvecore/commbus"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/observability"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/tier"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/verify"
)

// evolution carries the working state of one pipeline run between phases.
type evolution struct {
	task      *proposal.Task
	prop      *proposal.Proposal
	sandbox   *proposal.SandboxResult
	verdict   *proposal.ReviewVerdict
	decision  tier.Decision
	commitSHA string
	branch    string

	// live marks a committed change that has not yet been declared healthy
	// or deliberately handed to a human. The rollback guard restores the
	// snapshot whenever a run exits while live is still set.
	live   bool
	unlock func()
}

func (ev *evolution) releaseLocks() {
	if ev.unlock != nil {
		ev.unlock()
		ev.unlock = nil
	}
}

// phaseHandler runs the phase named by the task's current status and returns
// the next status with a transition note. Handlers set the task result
// themselves before returning a terminal status. A non-nil error means an
// unexpected failure; it routes the run through the emergency path.
type phaseHandler func(ctx context.Context, ev *evolution) (proposal.TaskStatus, string, error)

// Evolve submits the proposal and drives it through the full pipeline,
// returning the finished task. The task succeeded when Status.IsSuccess():
// the change was committed and stayed healthy, or a review branch was
// opened for a human.
func (d *Daemon) Evolve(ctx context.Context, p *proposal.Proposal, opts ...SubmitOption) (*proposal.Task, error) {
	task, err := d.Submit(p, opts...)
	if err != nil {
		return nil, err
	}
	d.SafeEvolve(ctx, task.ID)
	final, _ := d.Task(task.ID)
	return final, nil
}

// SafeEvolve runs the pipeline for a previously submitted task and reports
// whether the evolution succeeded. Panics are contained, the rollback guard
// covers the whole run, and the task always ends in a terminal status.
func (d *Daemon) SafeEvolve(ctx context.Context, taskID string) bool {
	d.mu.RLock()
	task := d.tasks[taskID]
	prop := d.proposals[taskID]
	d.mu.RUnlock()
	if task == nil || prop == nil {
		d.logError("evolve_unknown_task", "task_id", taskID)
		return false
	}
	if status := d.taskStatus(task); status != proposal.StatusPending {
		d.logError("evolve_task_not_pending", "task_id", taskID, "status", string(status))
		return false
	}

	start := time.Now()
	ev := &evolution{task: task, prop: prop}

	ctx, span := observability.StartEvolutionSpan(ctx, task.ID, prop.Goal)
	defer func() { observability.EndEvolutionSpan(span, string(d.taskStatus(task))) }()

	// The breaker is consulted before any other work; a refused task has no
	// side effects beyond its own terminal status.
	if !d.breaker.Allow() {
		_, reason := d.breaker.IsPaused()
		if reason == "" {
			reason = "circuit breaker open"
		}
		d.refuse(ev, "Evolution is paused: "+reason, start)
		return false
	}
	if !d.limiter.tryAcquire(time.Now()) {
		d.refuse(ev, fmt.Sprintf("Evolution rate cap reached: %d per hour", d.cfg.MaxEvolutionsPerHour), start)
		return false
	}
	d.mu.Lock()
	d.evolutions++
	d.mu.Unlock()

	err := d.withRollbackGuard(ev, func() error {
		return d.runPipeline(ctx, ev)
	})
	if err != nil {
		d.failTask(ev, err)
	}
	ev.releaseLocks()
	d.finalize(ev, start)
	return d.taskStatus(task).IsSuccess()
}

// refuse parks a task that never started.
func (d *Daemon) refuse(ev *evolution, result string, start time.Time) {
	if err := d.setStatus(ev.task, proposal.StatusPaused, "refused"); err != nil {
		d.logError("refuse_status_failed", "task_id", ev.task.ID, "error", err.Error())
	}
	d.setResult(ev.task, result)
	d.logWarn("task_refused", "task_id", ev.task.ID, "reason", result)
	d.finalize(ev, start)
}

// withRollbackGuard captures the genetic snapshot, runs fn, and restores the
// snapshot on any exit that leaves a committed change live without a healthy
// verdict, including panics and context cancellation. The two sanctioned
// live exits clear the flag themselves: a healthy monitoring verdict and a
// visual escalation that deliberately keeps the commit for human review.
func (d *Daemon) withRollbackGuard(ev *evolution, fn func() error) error {
	snapshot := d.collab.Artifacts.Snapshot(ev.prop.TargetArtifacts)
	d.setSnapshot(ev.task, snapshot)
	if len(snapshot) < len(ev.prop.TargetArtifacts) {
		d.logWarn("snapshot_incomplete", "task_id", ev.task.ID,
			"captured", len(snapshot), "targets", len(ev.prop.TargetArtifacts))
	}

	err := SafeExecute(d.logger, "pipeline run "+ev.task.ID, fn)

	if ev.live {
		reason := "emergency rollback"
		if err != nil {
			reason = "emergency rollback: " + err.Error()
		}
		if _, rerr := d.restoreSnapshot(ev, reason); rerr != nil {
			d.logError("emergency_rollback_failed", "task_id", ev.task.ID, "error", rerr.Error())
		}
	}
	return err
}

// runPipeline moves a pending task into the pipeline and walks it to a
// terminal status.
func (d *Daemon) runPipeline(ctx context.Context, ev *evolution) error {
	if err := d.setStatus(ev.task, proposal.StatusSandboxValidating, ""); err != nil {
		return err
	}
	return d.runPhases(ctx, ev)
}

// runPhases executes phase handlers keyed by the task's current status until
// the task settles in a terminal status. The legal phase order lives in the
// task transition table; a handler naming an illegal next status fails the
// run instead of corrupting task history.
func (d *Daemon) runPhases(ctx context.Context, ev *evolution) error {
	for {
		status := d.taskStatus(ev.task)
		if status.IsTerminal() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		handler, ok := d.phases[status]
		if !ok {
			return fmt.Errorf("no phase handler for status %s", status)
		}

		phaseStart := time.Now()
		phaseCtx, span := observability.StartPhaseSpan(ctx, phaseMetricName(status), ev.task.ID)
		next, note, err := handler(phaseCtx, ev)
		observability.EndSpan(span, err)
		observability.RecordPhase(phaseMetricName(status), phaseOutcome(next, err), int(time.Since(phaseStart).Milliseconds()))
		if err != nil {
			return err
		}
		if err := d.setStatus(ev.task, next, note); err != nil {
			return err
		}
	}
}

func phaseMetricName(status proposal.TaskStatus) string {
	switch status {
	case proposal.StatusSandboxValidating:
		return "sandbox"
	case proposal.StatusPerceptionValidating:
		return "perception"
	case proposal.StatusReviewerGating:
		return "review"
	case proposal.StatusTierRouting:
		return "tier"
	case proposal.StatusCommitting:
		return "commit"
	case proposal.StatusBranchCreating:
		return "branch"
	case proposal.StatusLiveVerifying:
		return "visual"
	case proposal.StatusMonitoring:
		return "monitor"
	default:
		return string(status)
	}
}

func phaseOutcome(next proposal.TaskStatus, err error) string {
	if err != nil {
		return "failure"
	}
	switch next {
	case proposal.StatusRejected, proposal.StatusError, proposal.StatusReverted, proposal.StatusAwaitingVisualReview:
		return "failure"
	default:
		return "success"
	}
}

// =============================================================================
// PHASE HANDLERS
// =============================================================================

// sandboxPhase validates the change against an isolated copy. Nothing
// reaches the reviewer or the working tree until this gate passes.
func (d *Daemon) sandboxPhase(ctx context.Context, ev *evolution) (proposal.TaskStatus, string, error) {
	cctx, cancel := d.phaseCtx(ctx, d.cfg.SandboxTimeout)
	defer cancel()

	result, err := d.collab.Sandbox.Validate(cctx, ev.prop)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		d.setResult(ev.task, "Sandbox validation failed: "+err.Error())
		return proposal.StatusRejected, "sandbox unavailable", nil
	}
	ev.sandbox = result
	d.publish(&commbus.SandboxChecked{
		TaskID:       ev.task.ID,
		Passed:       result.Passed,
		ChecksPassed: result.ChecksPassed,
		ChecksTotal:  result.ChecksTotal,
		Errors:       result.FirstErrors(3),
	})

	if !result.Passed {
		detail := strings.Join(result.FirstErrors(3), "; ")
		if detail == "" {
			detail = result.Summary()
		}
		d.setResult(ev.task, "Sandbox validation failed: "+detail)
		d.logWarn("sandbox_rejected", "task_id", ev.task.ID, "checks", result.Summary())
		return proposal.StatusRejected, result.Summary(), nil
	}

	if d.cfg.PerceptionValidationEnabled && ev.prop.AffectsPerception() {
		return proposal.StatusPerceptionValidating, result.Summary(), nil
	}
	return proposal.StatusReviewerGating, result.Summary(), nil
}

// perceptionPhase runs the isolated mirror check. Its veto is mandatory for
// perception-affecting changes and fails closed when no validator is wired.
func (d *Daemon) perceptionPhase(ctx context.Context, ev *evolution) (proposal.TaskStatus, string, error) {
	if d.collab.Perception == nil {
		d.setResult(ev.task, "Perception validation required but no validator is wired")
		return proposal.StatusRejected, "no perception validator", nil
	}
	cctx, cancel := d.phaseCtx(ctx, d.cfg.PerceptionTimeout)
	defer cancel()

	result, err := d.collab.Perception.Validate(cctx, ev.prop)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		d.setResult(ev.task, "Perception validation failed: "+err.Error())
		return proposal.StatusRejected, "perception validator error", nil
	}
	d.publish(&commbus.PerceptionValidated{
		TaskID:            ev.task.ID,
		Success:           result.Success,
		Accuracy:          result.Accuracy,
		ImmortalityPassed: result.ImmortalityPassed,
	})

	if !result.Success {
		d.setResult(ev.task, "Perception validation failed: "+result.RejectionReason())
		d.logWarn("perception_rejected", "task_id", ev.task.ID,
			"reason", result.RejectionReason(), "accuracy", result.Accuracy)
		return proposal.StatusRejected, result.RejectionReason(), nil
	}
	return proposal.StatusReviewerGating, fmt.Sprintf("accuracy %.2f", result.Accuracy), nil
}

// reviewerPhase asks the reviewer for a verdict on the sandbox-validated
// change.
func (d *Daemon) reviewerPhase(ctx context.Context, ev *evolution) (proposal.TaskStatus, string, error) {
	cctx, cancel := d.phaseCtx(ctx, d.cfg.ReviewTimeout)
	defer cancel()

	verdict, err := d.collab.Reviewer.Review(cctx, ev.prop, ev.sandbox)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		d.setResult(ev.task, "Review failed: "+err.Error())
		return proposal.StatusRejected, "reviewer unavailable", nil
	}
	ev.verdict = verdict
	d.publish(&commbus.ReviewDecided{
		TaskID:     ev.task.ID,
		Approved:   verdict.Approved,
		Risk:       string(verdict.Risk),
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
		Issues:     verdict.Issues,
	})

	if !verdict.Approved {
		reason := verdict.Reasoning
		if reason == "" {
			reason = "reviewer declined"
		}
		d.setResult(ev.task, "Review rejected: "+reason)
		d.logWarn("review_rejected", "task_id", ev.task.ID, "reason", reason)
		return proposal.StatusRejected, reason, nil
	}
	return proposal.StatusTierRouting, fmt.Sprintf("risk %s, confidence %.2f", verdict.Risk, verdict.Confidence), nil
}

// tierPhase is pure classification; it calls no collaborators.
func (d *Daemon) tierPhase(_ context.Context, ev *evolution) (proposal.TaskStatus, string, error) {
	ev.decision = d.router.Classify(ev.prop, ev.verdict)
	d.publish(&commbus.TierAssigned{TaskID: ev.task.ID, Tier: int(ev.decision.Tier), Points: ev.decision.Points})
	d.logInfo("tier_assigned", "task_id", ev.task.ID,
		"tier", ev.decision.Tier.String(), "points", ev.decision.Points,
		"reasons", strings.Join(ev.decision.Reasons, "; "))

	note := fmt.Sprintf("%s, %d points", ev.decision.Tier, ev.decision.Points)
	if ev.decision.Tier.CommitsDirectly() {
		return proposal.StatusCommitting, note, nil
	}
	return proposal.StatusBranchCreating, note, nil
}

// commitPhase lands a tier 1 or 2 change on the working branch. A commit
// failure needs no rollback: the version-control collaborator guarantees a
// failed application leaves the tree untouched.
func (d *Daemon) commitPhase(ctx context.Context, ev *evolution) (proposal.TaskStatus, string, error) {
	d.lockArtifacts(ev)
	cctx, cancel := d.phaseCtx(ctx, d.cfg.CommitTimeout)
	defer cancel()

	sha, err := d.collab.VersionControl.ApplyAndCommit(cctx, ev.prop, ev.verdict, ev.decision.Tier)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		d.setResult(ev.task, "Commit failed: "+err.Error())
		d.logError("commit_failed", "task_id", ev.task.ID, "error", err.Error())
		return proposal.StatusError, "commit failed", nil
	}
	ev.commitSHA = sha
	ev.live = true
	d.recordChange(ev.task, fmt.Sprintf("Applied %q to %s (commit %s)",
		ev.prop.Goal, strings.Join(ev.prop.TargetArtifacts, ", "), shortSHA(sha)))
	d.publish(&commbus.EvolutionCommitted{TaskID: ev.task.ID, CommitSHA: sha, Branch: d.currentBranch()})
	d.logInfo("evolution_committed", "task_id", ev.task.ID,
		"commit", shortSHA(sha), "tier", ev.decision.Tier.String())

	if d.cfg.LiveVerificationEnabled && d.collab.Verifier != nil && d.visualIntent(ev.task) != nil {
		return proposal.StatusLiveVerifying, shortSHA(sha), nil
	}
	return proposal.StatusMonitoring, shortSHA(sha), nil
}

// branchPhase parks a tier 3 change on a review branch. Commit is never
// called for tier 3; the opened branch is itself the successful outcome.
func (d *Daemon) branchPhase(ctx context.Context, ev *evolution) (proposal.TaskStatus, string, error) {
	d.lockArtifacts(ev)
	cctx, cancel := d.phaseCtx(ctx, d.cfg.CommitTimeout)
	defer cancel()

	branch, err := d.collab.VersionControl.CreateReviewBranch(cctx, ev.task.ID, ev.prop)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		d.setResult(ev.task, "Review branch creation failed: "+err.Error())
		d.logError("review_branch_failed", "task_id", ev.task.ID, "error", err.Error())
		return proposal.StatusError, "branch creation failed", nil
	}
	ev.branch = branch
	d.enqueueApproval(ev)
	d.publish(&commbus.ReviewBranchCreated{TaskID: ev.task.ID, Branch: branch})
	d.setResult(ev.task, fmt.Sprintf("Review branch %s created; awaiting human sign-off", branch))
	d.logInfo("review_branch_created", "task_id", ev.task.ID, "branch", branch)
	return proposal.StatusAwaitingReview, "branch " + branch, nil
}

// verifyPhase compares the declared visual intent against the live scene.
// Escalation parks the task for human eyes without undoing the commit; a
// verifier outage is logged and monitoring proceeds without the check.
func (d *Daemon) verifyPhase(ctx context.Context, ev *evolution) (proposal.TaskStatus, string, error) {
	intent := d.visualIntent(ev.task)
	maxAttempts := d.collab.Verifier.MaxAttempts()

	for {
		attempt := d.nextVisualAttempt(ev.task)
		cctx, cancel := d.phaseCtx(ctx, d.cfg.VerifyTimeout)
		result, err := d.collab.Verifier.Verify(cctx, intent, attempt)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			d.logWarn("verification_unavailable", "task_id", ev.task.ID,
				"attempt", attempt, "error", err.Error())
			return proposal.StatusMonitoring, "verification unavailable", nil
		}
		d.publish(&commbus.VisualVerified{
			TaskID:     ev.task.ID,
			Success:    result.Outcome == verify.OutcomePass,
			Confidence: result.Confidence,
			Attempt:    attempt,
		})

		switch result.Outcome {
		case verify.OutcomePass:
			d.recordChange(ev.task, fmt.Sprintf("Visual intent verified at %.2f confidence", result.Confidence))
			return proposal.StatusMonitoring, fmt.Sprintf("verified, confidence %.2f", result.Confidence), nil
		case verify.OutcomeRetry:
			if attempt < maxAttempts {
				d.logInfo("verification_retry", "task_id", ev.task.ID,
					"attempt", attempt, "confidence", result.Confidence)
				continue
			}
			fallthrough
		default:
			// The commit stays live on purpose; a human takes it from here.
			ev.live = false
			d.setResult(ev.task, fmt.Sprintf("Visual verification needs human review: confidence %.2f after %d attempts",
				result.Confidence, attempt))
			d.logWarn("verification_escalated", "task_id", ev.task.ID,
				"attempt", attempt, "confidence", result.Confidence)
			return proposal.StatusAwaitingVisualReview, "escalated to human", nil
		}
	}
}

// monitorPhase captures the health baseline and watches the committed
// change. On an unhealthy verdict the snapshot is restored first and the
// recovery manager consulted second, so escalation decisions always run
// against an already-safe tree.
func (d *Daemon) monitorPhase(ctx context.Context, ev *evolution) (proposal.TaskStatus, string, error) {
	bctx, bcancel := d.phaseCtx(ctx, d.cfg.MonitorTimeout)
	_, err := d.collab.Monitor.CaptureBaseline(bctx)
	bcancel()
	if err != nil {
		return "", "", fmt.Errorf("capture baseline: %w", err)
	}

	mctx, mcancel := d.phaseCtx(ctx, d.cfg.MonitorTimeout)
	result, err := d.collab.Monitor.Monitor(mctx, ev.commitSHA, ev.decision.Tier)
	mcancel()
	if err != nil {
		return "", "", fmt.Errorf("monitor commit %s: %w", shortSHA(ev.commitSHA), err)
	}

	if !result.Healthy {
		if _, rerr := d.restoreSnapshot(ev, "regression after "+shortSHA(ev.commitSHA)); rerr != nil {
			return "", "", fmt.Errorf("restore snapshot: %w", rerr)
		}
		action := d.collab.Recovery.HandleRegression(ev.commitSHA, result, ev.decision.Tier)
		observability.RecordRecoveryAction(string(action))
		d.publish(&commbus.RegressionDetected{
			TaskID:    ev.task.ID,
			CommitSHA: ev.commitSHA,
			Issues:    result.Issues,
			Action:    string(action),
		})
		d.publish(&commbus.EvolutionReverted{TaskID: ev.task.ID, CommitSHA: ev.commitSHA, Reason: result.IssueSummary()})
		d.setResult(ev.task, "Regression detected, action: "+string(action))
		d.logWarn("regression_reverted", "task_id", ev.task.ID,
			"commit", shortSHA(ev.commitSHA), "action", string(action), "issues", result.IssueSummary())
		return proposal.StatusReverted, result.IssueSummary(), nil
	}

	ev.live = false
	d.setResult(ev.task, "Evolution completed successfully")
	return proposal.StatusCompleted, "healthy", nil
}

// =============================================================================
// ROLLBACK AND RUN BOOKKEEPING
// =============================================================================

// restoreSnapshot writes every snapshotted artifact back to its pre-change
// content. It runs on an independent context: rollback must still be
// attempted when the task's own context is already canceled.
func (d *Daemon) restoreSnapshot(ev *evolution, reason string) (string, error) {
	snapshot := d.snapshotCopy(ev.task)
	if len(snapshot) == 0 {
		d.logWarn("rollback_without_snapshot", "task_id", ev.task.ID, "reason", reason)
		ev.live = false
		return "", nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeoutFor(d.cfg.CommitTimeout))
	defer cancel()

	sha, err := d.collab.Artifacts.RestoreSnapshot(ctx, snapshot, reason)
	if err != nil {
		return "", err
	}
	ev.live = false
	d.logInfo("snapshot_restored", "task_id", ev.task.ID,
		"restore_commit", shortSHA(sha), "reason", reason)
	return sha, nil
}

// failTask forces a task into the error status after an unexpected failure.
// The rollback guard has already restored the snapshot if a change was live.
func (d *Daemon) failTask(ev *evolution, cause error) {
	d.logError("task_failed", "task_id", ev.task.ID, "error", cause.Error())
	if d.taskStatus(ev.task).IsTerminal() {
		return
	}
	if err := d.setStatus(ev.task, proposal.StatusError, cause.Error()); err != nil {
		d.logError("task_error_status_failed", "task_id", ev.task.ID, "error", err.Error())
		return
	}
	d.setResult(ev.task, "Evolution error: "+cause.Error())
}

// finalize records the run outcome: breaker bookkeeping, metrics, and the
// terminal task event.
func (d *Daemon) finalize(ev *evolution, start time.Time) {
	status := d.taskStatus(ev.task)
	result := d.taskResult(ev.task)
	durationMS := int(time.Since(start).Milliseconds())

	tierLabel := "none"
	if ev.decision.Tier.Valid() {
		tierLabel = ev.decision.Tier.String()
	}
	observability.RecordEvolution(tierLabel, string(status), durationMS)

	var errText *string
	switch status {
	case proposal.StatusCompleted, proposal.StatusAwaitingReview:
		d.breaker.RecordSuccess()
	case proposal.StatusError, proposal.StatusReverted:
		d.breaker.RecordFailure(result)
		if status == proposal.StatusError {
			errText = &result
		}
	}

	d.publish(&commbus.TaskCompleted{
		TaskID:     ev.task.ID,
		Status:     string(status),
		Result:     result,
		DurationMS: durationMS,
		Error:      errText,
	})
	d.logInfo("task_finished", "task_id", ev.task.ID,
		"status", string(status), "duration_ms", durationMS)
}

// lockArtifacts serializes commit, verification, and monitoring per target
// artifact so two proposals against the same artifact cannot interleave
// their commit and rollback sequences. Locks are taken in sorted order and
// held until the run's guard has resolved.
func (d *Daemon) lockArtifacts(ev *evolution) {
	if ev.unlock != nil {
		return
	}
	names := append([]string(nil), ev.prop.TargetArtifacts...)
	sort.Strings(names)

	locked := make([]*sync.Mutex, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		mu := d.artifactLock(name)
		mu.Lock()
		locked = append(locked, mu)
	}
	ev.unlock = func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

func (d *Daemon) artifactLock(name string) *sync.Mutex {
	d.lockMu.Lock()
	defer d.lockMu.Unlock()
	mu, ok := d.artifactLocks[name]
	if !ok {
		mu = &sync.Mutex{}
		d.artifactLocks[name] = mu
	}
	return mu
}

// phaseCtx derives the bounded context for a single collaborator call.
// Every call gets a deadline even when the configured value is unset.
func (d *Daemon) phaseCtx(ctx context.Context, seconds int) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeoutFor(seconds))
}

func (d *Daemon) timeoutFor(seconds int) time.Duration {
	if seconds <= 0 {
		return time.Minute
	}
	return time.Duration(seconds) * time.Second
}

func (d *Daemon) visualIntent(task *proposal.Task) *proposal.VisualIntent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return task.VisualIntent
}

// currentBranch names the branch commits land on, when the version-control
// collaborator can say.
func (d *Daemon) currentBranch() string {
	if vc, ok := d.collab.VersionControl.(interface{ CurrentBranch() (string, error) }); ok {
		if name, err := vc.CurrentBranch(); err == nil {
			return name
		}
	}
	return ""
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
