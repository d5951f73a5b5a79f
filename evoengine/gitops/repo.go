// Package gitops applies evolution changes to the organism repository.
//
// It is the only component that mutates the working tree. Changes land as
// commits authored by the daemon; tier 3 changes land on evo-* review
// branches instead of the main line. Failed applications clean up after
// themselves so a commit failure never leaves the tree dirty.
package gitops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	git "github.com/go-git/go-git/v5"
)

// Default commit identity. The organism commits as itself.
const (
	DefaultAuthorName  = "evolvecore"
	DefaultAuthorEmail = "evolution@evolvecore.local"
)

// Logger interface for repository operations.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Repo wraps the organism's git repository. All mutating operations hold an
// internal lock; gitops never interleaves two applications.
type Repo struct {
	mu sync.Mutex

	path     string
	repo     *git.Repository
	worktree *git.Worktree

	authorName   string
	authorEmail  string
	requireClean bool
	logger       Logger
}

// Option configures a Repo.
type Option func(*Repo)

// WithAuthor sets the commit identity.
func WithAuthor(name, email string) Option {
	return func(r *Repo) {
		r.authorName = name
		r.authorEmail = email
	}
}

// WithRequireCleanWorktree controls whether applications refuse to start on
// a dirty tree.
func WithRequireCleanWorktree(require bool) Option {
	return func(r *Repo) { r.requireClean = require }
}

// WithRepoLogger sets the repository logger.
func WithRepoLogger(logger Logger) Option {
	return func(r *Repo) { r.logger = logger }
}

// Open opens an existing repository at path.
func Open(path string, opts ...Option) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", path, err)
	}
	return wrap(path, repo, opts...)
}

// Init creates a repository at path. Used on first run and in tests.
func Init(path string, opts ...Option) (*Repo, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repository %s: %w", path, err)
	}
	return wrap(path, repo, opts...)
}

func wrap(path string, repo *git.Repository, opts ...Option) (*Repo, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("resolve worktree: %w", err)
	}
	r := &Repo{
		path:         path,
		repo:         repo,
		worktree:     worktree,
		authorName:   DefaultAuthorName,
		authorEmail:  DefaultAuthorEmail,
		requireClean: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path returns the repository root.
func (r *Repo) Path() string {
	return r.path
}

// ReadArtifact returns the current content of a repository-relative artifact.
func (r *Repo) ReadArtifact(name string) (string, error) {
	full, err := r.artifactPath(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

// Snapshot captures the current content of the given artifacts. Unreadable
// artifacts are logged and skipped: a snapshot read failure must not stop
// the pipeline, it only narrows what a later rollback can restore.
func (r *Repo) Snapshot(artifacts []string) map[string]string {
	snapshot := make(map[string]string, len(artifacts))
	for _, name := range artifacts {
		content, err := r.ReadArtifact(name)
		if err != nil {
			r.logWarn("snapshot_read_failed", "artifact", name, "error", err.Error())
			continue
		}
		snapshot[name] = content
	}
	return snapshot
}

// WorktreeClean reports whether the working tree has no local modifications.
func (r *Repo) WorktreeClean() (bool, error) {
	status, err := r.worktree.Status()
	if err != nil {
		return false, fmt.Errorf("worktree status: %w", err)
	}
	return status.IsClean(), nil
}

// HeadSHA returns the current HEAD commit hash.
func (r *Repo) HeadSHA() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached")
	}
	return head.Name().Short(), nil
}

// artifactPath resolves a repository-relative artifact name, rejecting
// anything that would escape the repository root.
func (r *Repo) artifactPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty artifact name")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("artifact name %s is absolute", name)
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact name %s escapes repository", name)
	}
	return filepath.Join(r.path, clean), nil
}

func (r *Repo) logDebug(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, keysAndValues...)
	}
}

func (r *Repo) logInfo(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Repo) logWarn(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, keysAndValues...)
	}
}
