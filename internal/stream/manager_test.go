package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ralphloop/ralph/internal/gitx"
	"github.com/ralphloop/ralph/internal/gitx/gitxtest"
	"github.com/ralphloop/ralph/internal/lockfile"
	"github.com/ralphloop/ralph/internal/prd"
)

const managerConfig = `settings:
  base_branch: main

streams:
  auth:
    stories: [US-001]
  ui: {}
`

const managerPRD = `### [ ] US-001: Login flow

Build the login flow.

### [x] US-002: Signup page

Already shipped.
`

// alwaysAlive treats every recorded pid as a live process.
var alwaysAlive = lockfile.ProbeFunc(func(int) bool { return true })

func newTestManager(t *testing.T) (*Manager, *gitxtest.FakeRunner) {
	t.Helper()
	root := t.TempDir()

	if err := os.Mkdir(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "prd.md"), []byte(managerPRD), 0644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(root, DefaultConfigName)
	if err := os.WriteFile(cfgPath, []byte(managerConfig), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	fake := gitxtest.New()
	return NewManager(root, cfg, gitx.New(fake), alwaysAlive), fake
}

// markInitialized makes a stream's worktree look like a linked
// worktree (a .git file) without running git.
func markInitialized(t *testing.T, m *Manager, name string) string {
	t.Helper()
	wt := m.WorktreePath(m.cfg.Streams[name])
	if err := os.MkdirAll(wt, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: elsewhere\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return wt
}

func plantStreamLock(t *testing.T, m *Manager, name string, pid int) {
	t.Helper()
	path := m.StreamLockPath(name)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "pid"), []byte(fmt.Sprint(pid)), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestInit_CreatesBranchesAndWorktrees(t *testing.T) {
	m, fake := newTestManager(t)

	// Neither branch exists yet.
	fake.Fail("show-ref --verify --quiet refs/heads/ralph/auth", errors.New("exit 1"))
	fake.Fail("show-ref --verify --quiet refs/heads/ralph/ui", errors.New("exit 1"))

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if !fake.CalledWith("branch ralph/auth main") {
		t.Error("auth branch not created from base")
	}
	wt := m.WorktreePath(m.cfg.Streams["auth"])
	if !fake.CalledWith(fmt.Sprintf("worktree add %s ralph/auth", wt)) {
		t.Errorf("auth worktree not added: %v", fake.Calls)
	}

	for _, dir := range []string{"locks", "checkpoints"} {
		if _, err := os.Stat(filepath.Join(m.Root(), ".ralph", dir)); err != nil {
			t.Errorf(".ralph/%s not created: %v", dir, err)
		}
	}
}

func TestInit_SkipsInitializedStream(t *testing.T) {
	m, fake := newTestManager(t)
	wt := markInitialized(t, m, "auth")

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if fake.CalledWith(fmt.Sprintf("worktree add %s ralph/auth", wt)) {
		t.Error("worktree add ran for an already-initialized stream")
	}
}

func TestInit_ReusesExistingBranch(t *testing.T) {
	m, fake := newTestManager(t)

	// show-ref succeeds by default: both branches exist.
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if fake.CalledWith("branch ralph/auth main") {
		t.Error("branch recreated despite existing")
	}
}

func TestInit_CopiesSharedFiles(t *testing.T) {
	m, _ := newTestManager(t)
	m.cfg.Settings.SharedFiles = []string{"AGENTS.md"}

	if err := os.WriteFile(filepath.Join(m.Root(), "AGENTS.md"), []byte("be careful\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	wt := m.WorktreePath(m.cfg.Streams["auth"])
	data, err := os.ReadFile(filepath.Join(wt, "AGENTS.md"))
	if err != nil {
		t.Fatalf("shared file not copied: %v", err)
	}
	if string(data) != "be careful\n" {
		t.Errorf("copied content = %q", data)
	}
}

func TestInit_NotARepo(t *testing.T) {
	m, _ := newTestManager(t)
	m.root = t.TempDir()

	if err := m.Init(context.Background()); !errors.Is(err, gitx.ErrNotGitRepo) {
		t.Errorf("Init() error = %v, want ErrNotGitRepo", err)
	}
}

func TestStreamInfo_NotInitialized(t *testing.T) {
	m, _ := newTestManager(t)

	info, err := m.StreamInfo(context.Background(), "auth")
	if err != nil {
		t.Fatalf("StreamInfo() error = %v", err)
	}
	if info.Status != StatusNotInitialized {
		t.Errorf("Status = %s, want %s", info.Status, StatusNotInitialized)
	}
	if info.Total != 1 || info.Completed != 0 {
		t.Errorf("counts = %d/%d, want 0/1", info.Completed, info.Total)
	}
}

func TestStreamInfo_Ready(t *testing.T) {
	m, _ := newTestManager(t)
	markInitialized(t, m, "auth")

	info, err := m.StreamInfo(context.Background(), "auth")
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != StatusReady {
		t.Errorf("Status = %s, want %s", info.Status, StatusReady)
	}
}

func TestStreamInfo_Running(t *testing.T) {
	m, _ := newTestManager(t)
	markInitialized(t, m, "auth")
	plantStreamLock(t, m, "auth", 12345)

	info, err := m.StreamInfo(context.Background(), "auth")
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != StatusRunning {
		t.Errorf("Status = %s, want %s", info.Status, StatusRunning)
	}
}

func TestStreamInfo_StaleLockIsNotRunning(t *testing.T) {
	m, _ := newTestManager(t)
	m.probe = lockfile.ProbeFunc(func(int) bool { return false })
	markInitialized(t, m, "auth")
	plantStreamLock(t, m, "auth", 12345)

	info, err := m.StreamInfo(context.Background(), "auth")
	if err != nil {
		t.Fatal(err)
	}
	if info.Status == StatusRunning {
		t.Error("dead holder must not count as running")
	}
}

func TestStreamInfo_CompletedVsMerged(t *testing.T) {
	m, fake := newTestManager(t)
	markInitialized(t, m, "auth")

	// All of auth's assigned stories are done.
	prd := "### [x] US-001: Login flow\n\nDone.\n\n### [ ] US-002: Signup page\n\nOpen.\n"
	if err := os.WriteFile(m.PRDPath(), []byte(prd), 0644); err != nil {
		t.Fatal(err)
	}
	fake.Script("rev-parse HEAD", "abc123")

	// Branch tip not yet reachable from base: completed.
	fake.Fail("merge-base --is-ancestor abc123 main", errors.New("exit 1"))
	info, err := m.StreamInfo(context.Background(), "auth")
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != StatusCompleted {
		t.Errorf("Status = %s, want %s", info.Status, StatusCompleted)
	}

	// After merge the tip is an ancestor of base: merged.
	delete(fake.Errors, "merge-base --is-ancestor abc123 main")
	info, err = m.StreamInfo(context.Background(), "auth")
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != StatusMerged {
		t.Errorf("Status = %s, want %s", info.Status, StatusMerged)
	}
}

func TestStreamInfo_CorruptStoreIsAnError(t *testing.T) {
	m, _ := newTestManager(t)
	markInitialized(t, m, "auth")

	// No story headings at all: the store fails to parse, and status
	// must surface that instead of reporting ready with 0/0 counts.
	if err := os.WriteFile(m.PRDPath(), []byte("just prose, no stories\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := m.StreamInfo(context.Background(), "auth")
	var parseErr *prd.ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("StreamInfo() error = %v, want *prd.ParseError", err)
	}
}

func TestStatuses_SortedByName(t *testing.T) {
	m, _ := newTestManager(t)

	infos, err := m.Statuses(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Name != "auth" || infos[1].Name != "ui" {
		t.Errorf("Statuses() = %v", infos)
	}
}

func TestCleanup_RefusesRunningStream(t *testing.T) {
	m, _ := newTestManager(t)
	markInitialized(t, m, "auth")
	plantStreamLock(t, m, "auth", 12345)

	if err := m.Cleanup(context.Background(), "auth"); !errors.Is(err, ErrStreamRunning) {
		t.Errorf("Cleanup() error = %v, want ErrStreamRunning", err)
	}
}

func TestCleanup_RemovesWorktreeBranchAndLock(t *testing.T) {
	m, fake := newTestManager(t)
	wt := markInitialized(t, m, "auth")

	// Stale lock left by a dead run.
	m.probe = lockfile.ProbeFunc(func(int) bool { return false })
	plantStreamLock(t, m, "auth", 12345)

	if err := m.Cleanup(context.Background(), "auth"); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	if !fake.CalledWith(fmt.Sprintf("worktree remove %s --force", wt)) {
		t.Error("worktree not removed")
	}
	if !fake.CalledWith("branch -D ralph/auth") {
		t.Error("branch not deleted")
	}
	if lockfile.Exists(m.StreamLockPath("auth")) {
		t.Error("stale lock left behind")
	}
}

func TestCleanup_RemovesStaleWorktreeRegistration(t *testing.T) {
	m, fake := newTestManager(t)
	wt := m.WorktreePath(m.cfg.Streams["auth"])

	// The worktree directory was deleted by hand, but git still lists
	// it as a linked worktree.
	fake.Script("worktree list --porcelain", fmt.Sprintf(
		"worktree %s\nHEAD abc123\nbranch refs/heads/main\n\nworktree %s\nHEAD def456\nbranch refs/heads/ralph/auth\n",
		m.Root(), wt))

	if err := m.Cleanup(context.Background(), "auth"); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if !fake.CalledWith(fmt.Sprintf("worktree remove %s --force", wt)) {
		t.Error("stale worktree registration not removed")
	}
}

func TestCleanup_UnknownStream(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Cleanup(context.Background(), "nope"); err == nil {
		t.Error("Cleanup(nope) should fail")
	}
}
