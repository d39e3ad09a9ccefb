package gitx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotGitRepo is returned when a directory is not a git repository.
var ErrNotGitRepo = errors.New("not a git repository")

// Git exposes the version-control operations the orchestrator needs.
type Git struct {
	runner Runner
}

// New creates a Git facade over the given runner. A nil runner falls
// back to the real git CLI.
func New(runner Runner) *Git {
	if runner == nil {
		runner = &CLIRunner{}
	}
	return &Git{runner: runner}
}

// IsRepo reports whether dir contains a git repository or worktree.
// .git can be a directory (normal repo) or a file (linked worktree).
func IsRepo(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir() || info.Mode().IsRegular()
}

// Head returns the full commit hash of HEAD in dir.
func (g *Git) Head(ctx context.Context, dir string) (string, error) {
	return g.runner.Run(ctx, dir, "rev-parse", "HEAD")
}

// CurrentBranch returns the short branch name checked out in dir.
func (g *Git) CurrentBranch(ctx context.Context, dir string) (string, error) {
	return g.runner.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists reports whether a local branch exists in the repo at dir.
func (g *Git) BranchExists(ctx context.Context, dir, branch string) bool {
	_, err := g.runner.Run(ctx, dir, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// CreateBranch creates branch pointing at start (a branch name or
// commit) without checking it out.
func (g *Git) CreateBranch(ctx context.Context, dir, branch, start string) error {
	_, err := g.runner.Run(ctx, dir, "branch", branch, start)
	return err
}

// DeleteBranch force-deletes a local branch.
func (g *Git) DeleteBranch(ctx context.Context, dir, branch string) error {
	_, err := g.runner.Run(ctx, dir, "branch", "-D", branch)
	return err
}

// WorktreeAdd checks out branch as a linked worktree at path. When
// create is true the branch is created from the current HEAD.
func (g *Git) WorktreeAdd(ctx context.Context, dir, path, branch string, create bool) error {
	args := []string{"worktree", "add", path}
	if create {
		args = append(args, "-b", branch)
	} else {
		args = append(args, branch)
	}
	_, err := g.runner.Run(ctx, dir, args...)
	return err
}

// WorktreeRemove removes the worktree at path, discarding uncommitted
// changes.
func (g *Git) WorktreeRemove(ctx context.Context, dir, path string) error {
	_, err := g.runner.Run(ctx, dir, "worktree", "remove", path, "--force")
	return err
}

// WorktreeInfo describes one entry of `git worktree list`.
type WorktreeInfo struct {
	Path   string
	Head   string
	Branch string
}

// Worktrees lists the repository's worktrees.
func (g *Git) Worktrees(ctx context.Context, dir string) ([]WorktreeInfo, error) {
	out, err := g.runner.Run(ctx, dir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out)
}

// StatusPorcelain returns `git status --porcelain` output for dir.
// Empty output means a clean working tree.
func (g *Git) StatusPorcelain(ctx context.Context, dir string) (string, error) {
	return g.runner.Run(ctx, dir, "status", "--porcelain")
}

// ConflictedFiles returns paths with unresolved merge conflicts in dir.
func (g *Git) ConflictedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := g.runner.Run(ctx, dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Fetch updates the named remote.
func (g *Git) Fetch(ctx context.Context, dir, remote string) error {
	_, err := g.runner.Run(ctx, dir, "fetch", remote)
	return err
}

// Checkout switches dir to the given branch.
func (g *Git) Checkout(ctx context.Context, dir, branch string) error {
	_, err := g.runner.Run(ctx, dir, "checkout", branch)
	return err
}

// Rebase replays the current branch onto the given upstream.
func (g *Git) Rebase(ctx context.Context, dir, onto string) error {
	_, err := g.runner.Run(ctx, dir, "rebase", onto)
	return err
}

// RebaseAbort abandons an in-progress rebase. Best-effort.
func (g *Git) RebaseAbort(ctx context.Context, dir string) error {
	_, err := g.runner.Run(ctx, dir, "rebase", "--abort")
	return err
}

// MergeFFOnly fast-forwards the current branch to ref, refusing any
// merge that would require a merge commit.
func (g *Git) MergeFFOnly(ctx context.Context, dir, ref string) error {
	_, err := g.runner.Run(ctx, dir, "merge", "--ff-only", ref)
	return err
}

// ResetHard moves the current branch and working tree to commit.
func (g *Git) ResetHard(ctx context.Context, dir, commit string) error {
	_, err := g.runner.Run(ctx, dir, "reset", "--hard", commit)
	return err
}

// IsAncestor reports whether commit is an ancestor of ref.
func (g *Git) IsAncestor(ctx context.Context, dir, commit, ref string) bool {
	_, err := g.runner.Run(ctx, dir, "merge-base", "--is-ancestor", commit, ref)
	return err == nil
}

// parseWorktreeList parses `git worktree list --porcelain` output.
// Format:
//
//	worktree /path/to/worktree
//	HEAD <commit>
//	branch refs/heads/<branch>
//	<blank line>
func parseWorktreeList(output string) ([]WorktreeInfo, error) {
	var worktrees []WorktreeInfo
	var current *WorktreeInfo

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && current != nil:
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		case line == "":
			if current != nil {
				worktrees = append(worktrees, *current)
				current = nil
			}
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parsing worktree list: %w", err)
	}
	return worktrees, nil
}
