package daemon

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// Scan asks the proposal source for one improvement candidate per target
// artifact. Per-target failures are logged and skipped; a scan only fails as
// a whole when no source is wired or the context ends.
func (d *Daemon) Scan(ctx context.Context, targets []string) ([]*proposal.Proposal, error) {
	if d.collab.Source == nil {
		return nil, errors.New("scan: no proposal source wired")
	}

	proposals := make([]*proposal.Proposal, 0, len(targets))
	for _, target := range targets {
		cctx, cancel := context.WithTimeout(ctx, d.scanTimeout)
		p, err := d.collab.Source.Propose(cctx, target)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return proposals, ctx.Err()
			}
			d.logWarn("scan_target_failed", "target", target, "error", err.Error())
			continue
		}
		if p == nil {
			continue
		}
		proposals = append(proposals, p)
	}
	d.logInfo("scan_completed", "targets", len(targets), "proposals", len(proposals))
	return proposals, nil
}

// RunLoop periodically scans the targets and evolves whatever comes back
// until the context ends. Evolutions within one pass run concurrently,
// bounded by MaxConcurrentTasks; passes never overlap.
func (d *Daemon) RunLoop(ctx context.Context, interval time.Duration, targets []string) error {
	if interval <= 0 {
		interval = time.Minute
	}
	d.logInfo("daemon_loop_started", "interval", interval.String(), "targets", strings.Join(targets, ","))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.runPass(ctx, targets)
		select {
		case <-ctx.Done():
			d.logInfo("daemon_loop_stopped", "reason", ctx.Err().Error())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runPass is one scan-and-evolve cycle.
func (d *Daemon) runPass(ctx context.Context, targets []string) {
	if expired := d.ExpireApprovals(d.approvalTTL); len(expired) > 0 {
		d.logInfo("approvals_expired", "task_ids", strings.Join(expired, ","))
	}

	proposals, err := d.Scan(ctx, targets)
	if err != nil {
		d.logWarn("scan_failed", "error", err.Error())
		return
	}

	g := new(errgroup.Group)
	limit := d.cfg.MaxConcurrentTasks
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, p := range proposals {
		task, err := d.Submit(p)
		if err != nil {
			d.logWarn("scan_submit_failed", "goal", p.Goal, "error", err.Error())
			continue
		}
		id := task.ID
		g.Go(func() error {
			d.SafeEvolve(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}
