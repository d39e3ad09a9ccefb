// Package merge integrates completed stream branches into the base
// branch. Integration is serialized by a global merge lock and lands
// only by fast-forward: the stream branch is rebased onto the base
// first, so base history stays linear.
package merge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralphloop/ralph/internal/gitx"
	"github.com/ralphloop/ralph/internal/lockfile"
	"github.com/ralphloop/ralph/internal/stream"
)

// lockName is the global merge lock under .ralph/locks; one merge at a
// time regardless of which stream is landing.
const lockName = "merge.lock"

// ErrNotCompleted is returned when a stream's derived status is not
// "completed".
var ErrNotCompleted = errors.New("stream is not completed")

// ConflictError is returned when rebasing the stream branch onto the
// base hits conflicts. The rebase is aborted before returning, so the
// repository is left untouched; Commands holds the exact manual steps.
type ConflictError struct {
	Stream   string
	Branch   string
	Base     string
	Conflict string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merging stream %s: rebasing %s onto %s hit conflicts: %s",
		e.Stream, e.Branch, e.Base, e.Conflict)
}

// Commands returns the manual resolution steps, one per line.
func (e *ConflictError) Commands() []string {
	return []string{
		fmt.Sprintf("git checkout %s", e.Branch),
		fmt.Sprintf("git rebase %s", e.Base),
		"# resolve conflicts, then: git rebase --continue",
		fmt.Sprintf("git checkout %s", e.Base),
		fmt.Sprintf("git merge --ff-only %s", e.Branch),
	}
}

// Options configures a merge.
type Options struct {
	// Fetch updates the named remote before merging. Empty skips the
	// fetch (local-only workflows).
	Remote string

	// LockMaxWait bounds the wait for the global merge lock.
	LockMaxWait time.Duration

	// Probe answers process liveness for stale-lock detection.
	Probe lockfile.ProcessProbe
}

// Result describes a landed merge.
type Result struct {
	Stream string
	Branch string
	Base   string

	// Head is the base branch tip after the fast-forward.
	Head string
}

// Coordinator lands completed streams onto the base branch.
type Coordinator struct {
	mgr *stream.Manager
	git *gitx.Git
}

// NewCoordinator creates a coordinator over the stream manager. A nil
// git uses the real CLI.
func NewCoordinator(mgr *stream.Manager, git *gitx.Git) *Coordinator {
	if git == nil {
		git = gitx.New(nil)
	}
	return &Coordinator{mgr: mgr, git: git}
}

// LockPath returns the global merge lock path.
func (c *Coordinator) LockPath() string {
	return filepath.Join(c.mgr.Root(), ".ralph", "locks", lockName)
}

// Merge lands one completed stream: rebase its branch onto the base
// inside the stream's worktree, then fast-forward the base branch in
// the main checkout. Refuses streams whose derived status is anything
// but completed.
func (c *Coordinator) Merge(ctx context.Context, name string, opts Options) (*Result, error) {
	lock, err := lockfile.Acquire(ctx, c.LockPath(), lockfile.Options{
		MaxWait: opts.LockMaxWait,
		Probe:   opts.Probe,
	})
	if err != nil {
		return nil, fmt.Errorf("acquiring merge lock: %w", err)
	}
	defer lock.Release()

	// Derive the status only once the lock is held: a stream that was
	// completed while we waited for it may have been reopened or
	// started since.
	info, err := c.mgr.StreamInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	if info.Status != stream.StatusCompleted {
		return nil, fmt.Errorf("stream %s is %s: %w", name, info.Status, ErrNotCompleted)
	}

	return c.merge(ctx, info, opts)
}

func (c *Coordinator) merge(ctx context.Context, info *stream.Info, opts Options) (*Result, error) {
	root := c.mgr.Root()
	base := c.mgr.Config().Settings.BaseBranch

	if opts.Remote != "" {
		if err := c.git.Fetch(ctx, root, opts.Remote); err != nil {
			return nil, fmt.Errorf("fetching %s: %w", opts.Remote, err)
		}
	}

	// Rebase inside the stream's worktree, where its branch is checked
	// out. On conflict the rebase is aborted so nothing is half-done.
	if err := c.git.Rebase(ctx, info.Worktree, base); err != nil {
		// Name the conflicted files before the abort wipes them.
		conflict := conflictSummary(ctx, c.git, info.Worktree, err)
		_ = c.git.RebaseAbort(ctx, info.Worktree)
		return nil, &ConflictError{
			Stream:   info.Name,
			Branch:   info.Branch,
			Base:     base,
			Conflict: conflict,
		}
	}

	// Land on the base branch in the main checkout. After the rebase
	// the stream branch strictly extends base, so only a fast-forward
	// is ever acceptable here.
	if err := c.git.Checkout(ctx, root, base); err != nil {
		return nil, fmt.Errorf("checking out %s: %w", base, err)
	}
	if err := c.git.MergeFFOnly(ctx, root, info.Branch); err != nil {
		return nil, fmt.Errorf("fast-forwarding %s to %s: %w", base, info.Branch, err)
	}

	head, err := c.git.Head(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("reading merged HEAD: %w", err)
	}

	return &Result{
		Stream: info.Name,
		Branch: info.Branch,
		Base:   base,
		Head:   head,
	}, nil
}

// conflictSummary names the conflicted files when git still reports
// them, falling back to the rebase error text.
func conflictSummary(ctx context.Context, git *gitx.Git, dir string, rebaseErr error) string {
	files, err := git.ConflictedFiles(ctx, dir)
	if err == nil && len(files) > 0 {
		return "conflicts in " + strings.Join(files, ", ")
	}
	return rebaseErr.Error()
}
