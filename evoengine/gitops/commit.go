package gitops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sourcegraph/go-diff/diff"

	"github.com/jeeves-cluster-organization/evolvecore/evoengine/patch"
	"github.com/jeeves-cluster-organization/evolvecore/evoengine/proposal"
)

// ErrNothingToCommit reports that an application produced no staged changes.
var ErrNothingToCommit = errors.New("nothing to commit")

// ErrWorktreeDirty reports local modifications where a clean tree is required.
var ErrWorktreeDirty = errors.New("worktree has local modifications")

// ReviewBranchPrefix prefixes every tier 3 review branch.
const ReviewBranchPrefix = "evo-"

// ApplyAndCommit applies the proposal's diff to the working tree and commits
// it. On any failure the tree is restored to its pre-application state, so a
// failed commit needs no caller-side rollback.
func (r *Repo) ApplyAndCommit(ctx context.Context, p *proposal.Proposal, verdict *proposal.ReviewVerdict, t proposal.Tier) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := r.ensureCleanLocked(); err != nil {
		return "", err
	}

	subject := "[EVOLUTION] " + p.Goal
	body := fmt.Sprintf("Proposal: %s\nTier: %s\nRisk: %s\nConfidence: %.2f",
		p.ID, t, verdict.Risk, verdict.Confidence)

	sha, err := r.applyAndCommitLocked(p.Diff, subject+"\n\n"+body)
	if err != nil {
		return "", err
	}

	r.logInfo("evolution_committed", "proposal_id", p.ID, "commit", sha, "tier", t.String())
	return sha, nil
}

// CreateReviewBranch creates an evo-<taskID> branch carrying the proposal's
// change as a single commit, then returns the working tree to the original
// branch. The main line is never touched.
func (r *Repo) CreateReviewBranch(ctx context.Context, taskID string, p *proposal.Proposal) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := r.ensureCleanLocked(); err != nil {
		return "", err
	}

	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached")
	}
	originalRef := head.Name()

	branchName := ReviewBranchPrefix + taskID
	branchRef := plumbing.NewBranchReferenceName(branchName)
	if _, refErr := r.repo.Reference(branchRef, true); refErr == nil {
		return "", fmt.Errorf("review branch %s already exists", branchName)
	}

	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(branchRef, head.Hash())); err != nil {
		return "", fmt.Errorf("create branch %s: %w", branchName, err)
	}
	if err := r.worktree.Checkout(&git.CheckoutOptions{Branch: branchRef}); err != nil {
		_ = r.repo.Storer.RemoveReference(branchRef)
		return "", fmt.Errorf("checkout %s: %w", branchName, err)
	}

	subject := "[EVOLUTION][REVIEW] " + p.Goal
	body := fmt.Sprintf("Proposal: %s\nTask: %s\nAwaiting human review", p.ID, taskID)

	if _, err := r.applyAndCommitLocked(p.Diff, subject+"\n\n"+body); err != nil {
		_ = r.worktree.Checkout(&git.CheckoutOptions{Branch: originalRef, Force: true})
		_ = r.repo.Storer.RemoveReference(branchRef)
		return "", err
	}

	if err := r.worktree.Checkout(&git.CheckoutOptions{Branch: originalRef}); err != nil {
		return "", fmt.Errorf("return to %s: %w", originalRef.Short(), err)
	}

	r.logInfo("review_branch_created", "task_id", taskID, "branch", branchName)
	return branchName, nil
}

// RestoreSnapshot writes every snapshotted artifact back and commits the
// restoration. Returns the rollback commit hash, or an empty string when the
// tree already matched the snapshot.
func (r *Repo) RestoreSnapshot(ctx context.Context, snapshot map[string]string, reason string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		full, err := r.artifactPath(name)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return "", fmt.Errorf("restore %s: %w", name, err)
		}
		if err := os.WriteFile(full, []byte(snapshot[name]), 0o644); err != nil {
			return "", fmt.Errorf("restore %s: %w", name, err)
		}
		if _, err := r.worktree.Add(name); err != nil {
			return "", fmt.Errorf("stage %s: %w", name, err)
		}
	}

	subject := "[EVOLUTION][ROLLBACK] " + reason
	body := fmt.Sprintf("Restored %d artifacts", len(names))
	sha, err := r.commitLocked(subject + "\n\n" + body)
	if errors.Is(err, ErrNothingToCommit) {
		r.logInfo("rollback_noop", "reason", reason)
		return "", nil
	}
	if err != nil {
		return "", err
	}

	r.logInfo("rollback_committed", "commit", sha, "artifacts", len(names), "reason", reason)
	return sha, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// applyAndCommitLocked parses, applies, stages and commits a diff. On any
// failure it hard-resets tracked files and removes files it created.
func (r *Repo) applyAndCommitLocked(diffText, message string) (string, error) {
	fileDiffs, err := patch.Parse(diffText)
	if err != nil {
		return "", err
	}

	created, err := r.applyFilesLocked(fileDiffs)
	if err != nil {
		r.cleanupLocked(created)
		return "", err
	}

	sha, err := r.commitLocked(message)
	if err != nil {
		r.cleanupLocked(created)
		return "", err
	}
	return sha, nil
}

// applyFilesLocked writes patched content and stages it, returning the paths
// of files that did not exist before.
func (r *Repo) applyFilesLocked(fileDiffs []*diff.FileDiff) ([]string, error) {
	var created []string

	for _, fd := range fileDiffs {
		name := patch.Path(fd)
		full, err := r.artifactPath(name)
		if err != nil {
			return created, err
		}

		original := ""
		exists := true
		data, readErr := os.ReadFile(full)
		switch {
		case readErr == nil:
			original = string(data)
		case errors.Is(readErr, fs.ErrNotExist):
			exists = false
		default:
			return created, fmt.Errorf("read %s: %w", name, readErr)
		}

		patched, deleted, err := patch.Apply(original, fd)
		if err != nil {
			return created, fmt.Errorf("apply %s: %w", name, err)
		}

		if deleted {
			if _, err := r.worktree.Remove(name); err != nil && !isMissingEntry(err) {
				return created, fmt.Errorf("remove %s: %w", name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return created, fmt.Errorf("write %s: %w", name, err)
		}
		if err := os.WriteFile(full, []byte(patched), 0o644); err != nil {
			return created, fmt.Errorf("write %s: %w", name, err)
		}
		if !exists {
			created = append(created, name)
		}
		if _, err := r.worktree.Add(name); err != nil {
			return created, fmt.Errorf("stage %s: %w", name, err)
		}
	}

	return created, nil
}

// commitLocked commits staged changes with the repo's author identity.
func (r *Repo) commitLocked(message string) (string, error) {
	status, err := r.worktree.Status()
	if err != nil {
		return "", fmt.Errorf("worktree status: %w", err)
	}
	staged := 0
	for _, fileStatus := range status {
		if fileStatus.Staging != git.Untracked && fileStatus.Staging != git.Unmodified {
			staged++
		}
	}
	if staged == 0 {
		return "", ErrNothingToCommit
	}

	sig := &object.Signature{
		Name:  r.authorName,
		Email: r.authorEmail,
		When:  time.Now().UTC(),
	}
	hash, err := r.worktree.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}

// cleanupLocked restores tracked files to HEAD and deletes created files.
func (r *Repo) cleanupLocked(created []string) {
	if head, err := r.repo.Head(); err == nil {
		if err := r.worktree.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset}); err != nil {
			r.logWarn("cleanup_reset_failed", "error", err.Error())
		}
	}
	for _, name := range created {
		if full, err := r.artifactPath(name); err == nil {
			if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
				r.logWarn("cleanup_remove_failed", "artifact", name, "error", err.Error())
			}
		}
	}
}

// ensureCleanLocked enforces the clean-worktree policy.
func (r *Repo) ensureCleanLocked() error {
	if !r.requireClean {
		return nil
	}
	status, err := r.worktree.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if !status.IsClean() {
		return ErrWorktreeDirty
	}
	return nil
}

func isMissingEntry(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "entry not found") || strings.Contains(msg, "does not exist")
}
