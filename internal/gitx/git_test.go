package gitx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ralphloop/ralph/internal/gitx/gitxtest"
)

func TestIsRepo(t *testing.T) {
	dir := t.TempDir()
	if IsRepo(dir) {
		t.Error("IsRepo() = true for plain directory")
	}

	if err := os.Mkdir(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if !IsRepo(dir) {
		t.Error("IsRepo() = false with .git directory")
	}

	// Linked worktrees have a .git file instead of a directory.
	wt := t.TempDir()
	if err := os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: elsewhere\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if !IsRepo(wt) {
		t.Error("IsRepo() = false with .git file")
	}
}

func TestHead(t *testing.T) {
	fake := gitxtest.New()
	fake.Script("rev-parse HEAD", "abc123def456")

	g := New(fake)
	head, err := g.Head(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head != "abc123def456" {
		t.Errorf("Head() = %q, want %q", head, "abc123def456")
	}
	if fake.Calls[0].Dir != "/repo" {
		t.Errorf("Run dir = %q, want /repo", fake.Calls[0].Dir)
	}
}

func TestBranchExists(t *testing.T) {
	fake := gitxtest.New()
	fake.Fail("show-ref --verify --quiet refs/heads/missing", errors.New("exit 1"))

	g := New(fake)
	if !g.BranchExists(context.Background(), "/repo", "main") {
		t.Error("BranchExists(main) = false, want true")
	}
	if g.BranchExists(context.Background(), "/repo", "missing") {
		t.Error("BranchExists(missing) = true, want false")
	}
}

func TestWorktreeAdd(t *testing.T) {
	fake := gitxtest.New()
	g := New(fake)

	if err := g.WorktreeAdd(context.Background(), "/repo", "/repo/.worktrees/auth", "ralph/auth", true); err != nil {
		t.Fatalf("WorktreeAdd() error = %v", err)
	}
	if !fake.CalledWith("worktree add /repo/.worktrees/auth -b ralph/auth") {
		t.Errorf("unexpected calls: %v", fake.Calls)
	}

	if err := g.WorktreeAdd(context.Background(), "/repo", "/repo/.worktrees/auth", "ralph/auth", false); err != nil {
		t.Fatalf("WorktreeAdd() error = %v", err)
	}
	if !fake.CalledWith("worktree add /repo/.worktrees/auth ralph/auth") {
		t.Errorf("unexpected calls: %v", fake.Calls)
	}
}

func TestConflictedFiles(t *testing.T) {
	fake := gitxtest.New()
	fake.Script("diff --name-only --diff-filter=U", "src/auth.go\nsrc/api.go")

	g := New(fake)
	files, err := g.ConflictedFiles(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("ConflictedFiles() error = %v", err)
	}
	if len(files) != 2 || files[0] != "src/auth.go" {
		t.Errorf("ConflictedFiles() = %v", files)
	}
}

func TestConflictedFiles_Clean(t *testing.T) {
	g := New(gitxtest.New())
	files, err := g.ConflictedFiles(context.Background(), "/repo")
	if err != nil {
		t.Fatalf("ConflictedFiles() error = %v", err)
	}
	if files != nil {
		t.Errorf("ConflictedFiles() = %v, want nil", files)
	}
}

func TestIsAncestor(t *testing.T) {
	fake := gitxtest.New()
	fake.Fail("merge-base --is-ancestor feat main", errors.New("exit 1"))

	g := New(fake)
	if g.IsAncestor(context.Background(), "/repo", "feat", "main") {
		t.Error("IsAncestor() = true, want false")
	}
	if !g.IsAncestor(context.Background(), "/repo", "main", "feat") {
		t.Error("IsAncestor() = false, want true")
	}
}

func TestParseWorktreeList(t *testing.T) {
	output := `worktree /repo
HEAD aaa111
branch refs/heads/main

worktree /repo/.worktrees/auth
HEAD bbb222
branch refs/heads/ralph/auth
`

	worktrees, err := parseWorktreeList(output)
	if err != nil {
		t.Fatalf("parseWorktreeList() error = %v", err)
	}
	if len(worktrees) != 2 {
		t.Fatalf("parsed %d worktrees, want 2", len(worktrees))
	}

	wt := worktrees[1]
	if wt.Path != "/repo/.worktrees/auth" {
		t.Errorf("Path = %q", wt.Path)
	}
	if wt.Head != "bbb222" {
		t.Errorf("Head = %q", wt.Head)
	}
	if wt.Branch != "ralph/auth" {
		t.Errorf("Branch = %q", wt.Branch)
	}
}

func TestParseWorktreeList_Empty(t *testing.T) {
	worktrees, err := parseWorktreeList("")
	if err != nil {
		t.Fatalf("parseWorktreeList() error = %v", err)
	}
	if len(worktrees) != 0 {
		t.Errorf("parsed %d worktrees, want 0", len(worktrees))
	}
}
