package daemon

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jeeves-cluster-organization/evolvecore/commbus"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/tier"
)

// approvalEntry is one tier 3 change parked on a review branch, waiting for
// a human decision.
type approvalEntry struct {
	taskID   string
	prop     *proposal.Proposal
	verdict  *proposal.ReviewVerdict
	branch   string
	seq      int
	queuedAt time.Time
}

func (d *Daemon) enqueueApproval(ev *evolution) {
	d.mu.Lock()
	d.approvalSeq++
	d.approvals[ev.task.ID] = &approvalEntry{
		taskID:   ev.task.ID,
		prop:     ev.prop,
		verdict:  ev.verdict,
		branch:   ev.branch,
		seq:      d.approvalSeq,
		queuedAt: time.Now().UTC(),
	}
	d.mu.Unlock()
}

func (d *Daemon) takeApproval(taskID string) (*approvalEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.approvals[taskID]
	if !ok {
		return nil, fmt.Errorf("no task %s awaiting review", taskID)
	}
	delete(d.approvals, taskID)
	return entry, nil
}

// ApprovalQueue lists parked task ids, oldest first.
func (d *Daemon) ApprovalQueue() []string {
	d.mu.RLock()
	entries := make([]*approvalEntry, 0, len(d.approvals))
	for _, entry := range d.approvals {
		entries = append(entries, entry)
	}
	d.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.taskID
	}
	return ids
}

// Approve releases a parked task. The change commits through the moderate
// risk path under a fresh snapshot, then live verification and monitoring
// judge it like any direct commit.
func (d *Daemon) Approve(ctx context.Context, taskID, approver string) (*proposal.Task, error) {
	entry, err := d.takeApproval(taskID)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	task := d.tasks[taskID]
	d.mu.RUnlock()
	if task == nil {
		return nil, fmt.Errorf("approve %s: task not found", taskID)
	}

	start := time.Now()
	ev := &evolution{
		task:    task,
		prop:    entry.prop,
		verdict: entry.verdict,
		branch:  entry.branch,
		decision: tier.Decision{
			Tier:    proposal.TierModerateRisk,
			Reasons: []string{"approved by " + approver},
		},
	}
	d.logInfo("task_approved", "task_id", taskID, "approver", approver, "branch", entry.branch)

	if err := d.setStatus(task, proposal.StatusCommitting, "approved by "+approver); err != nil {
		return nil, err
	}
	runErr := d.withRollbackGuard(ev, func() error {
		return d.runPhases(ctx, ev)
	})
	if runErr != nil {
		d.failTask(ev, runErr)
	}
	ev.releaseLocks()
	d.finalize(ev, start)

	final, _ := d.Task(taskID)
	return final, nil
}

// Reject discards a parked task. The review branch stays around for
// archaeology; nothing was ever committed to the working branch.
func (d *Daemon) Reject(taskID, approver, reason string) (*proposal.Task, error) {
	if _, err := d.takeApproval(taskID); err != nil {
		return nil, err
	}
	d.mu.RLock()
	task := d.tasks[taskID]
	d.mu.RUnlock()
	if task == nil {
		return nil, fmt.Errorf("reject %s: task not found", taskID)
	}

	if err := d.setStatus(task, proposal.StatusRejected, "rejected by "+approver); err != nil {
		return nil, err
	}
	result := "Rejected by " + approver
	if reason != "" {
		result += ": " + reason
	}
	d.setResult(task, result)
	d.logInfo("task_rejected", "task_id", taskID, "approver", approver, "reason", reason)
	d.publish(&commbus.TaskCompleted{TaskID: taskID, Status: string(proposal.StatusRejected), Result: result})

	final, _ := d.Task(taskID)
	return final, nil
}

// ExpireApprovals rejects every parked task older than maxAge and returns
// the affected ids.
func (d *Daemon) ExpireApprovals(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)

	d.mu.RLock()
	var expired []string
	for id, entry := range d.approvals {
		if entry.queuedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	d.mu.RUnlock()

	sort.Strings(expired)
	for _, id := range expired {
		if _, err := d.Reject(id, "daemon", "approval window expired"); err != nil {
			d.logWarn("approval_expiry_failed", "task_id", id, "error", err.Error())
		}
	}
	return expired
}
