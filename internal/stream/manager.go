package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ralphloop/ralph/internal/checkpoint"
	"github.com/ralphloop/ralph/internal/gitx"
	"github.com/ralphloop/ralph/internal/lockfile"
	"github.com/ralphloop/ralph/internal/prd"
)

// ErrStreamRunning is returned when an operation needs an idle stream
// but a live process holds its lock.
var ErrStreamRunning = errors.New("stream is running")

// Status is the derived lifecycle state of a stream. It is computed
// from the filesystem and git on every query, never persisted, so it
// cannot go stale or disagree with reality.
type Status string

const (
	StatusNotInitialized Status = "not_initialized"
	StatusReady          Status = "ready"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusMerged         Status = "merged"
)

// Info is a stream's derived status plus the counts behind it.
type Info struct {
	Name      string
	Status    Status
	Branch    string
	Worktree  string
	Total     int
	Completed int
}

// Manager creates, inspects and tears down stream worktrees.
type Manager struct {
	root  string
	cfg   *Config
	git   *gitx.Git
	probe lockfile.ProcessProbe
}

// NewManager creates a manager rooted at the repo directory. A nil git
// uses the real CLI; a nil probe uses signal-0 liveness checks.
func NewManager(root string, cfg *Config, git *gitx.Git, probe lockfile.ProcessProbe) *Manager {
	if git == nil {
		git = gitx.New(nil)
	}
	if probe == nil {
		probe = lockfile.SignalProbe{}
	}
	return &Manager{root: root, cfg: cfg, git: git, probe: probe}
}

// Root returns the repo root the manager operates on.
func (m *Manager) Root() string {
	return m.root
}

// Config returns the loaded configuration.
func (m *Manager) Config() *Config {
	return m.cfg
}

// PRDPath returns the absolute path of the shared story checklist.
func (m *Manager) PRDPath() string {
	return filepath.Join(m.root, m.cfg.Settings.PRDFile)
}

func (m *Manager) ralphDir() string {
	return filepath.Join(m.root, ".ralph")
}

func (m *Manager) locksDir() string {
	return filepath.Join(m.ralphDir(), "locks")
}

func (m *Manager) checkpointsDir() string {
	return filepath.Join(m.ralphDir(), "checkpoints")
}

// ActivityLogPath returns the shared run-summary log.
func (m *Manager) ActivityLogPath() string {
	return filepath.Join(m.ralphDir(), "activity.md")
}

// StreamLockPath returns the lock guarding a single running stream.
// Distinct from the store lock: this one is held for the whole run.
func (m *Manager) StreamLockPath(name string) string {
	return filepath.Join(m.locksDir(), name+".lock")
}

// WorktreePath returns the absolute worktree path for a stream config.
func (m *Manager) WorktreePath(sc StreamConfig) string {
	if filepath.IsAbs(sc.Worktree) {
		return sc.Worktree
	}
	return filepath.Join(m.root, sc.Worktree)
}

// Checkpoints returns the checkpoint manager scoped to this project.
func (m *Manager) Checkpoints() *checkpoint.Manager {
	return checkpoint.NewManager(m.checkpointsDir(), m.git)
}

// Init prepares every configured stream: creates its branch from the
// base branch when absent, adds its worktree, copies shared files into
// it, and pre-creates the .ralph working directories. Idempotent:
// already-initialized streams are left alone.
func (m *Manager) Init(ctx context.Context) error {
	if !gitx.IsRepo(m.root) {
		return fmt.Errorf("%s: %w", m.root, gitx.ErrNotGitRepo)
	}

	for _, dir := range []string{m.locksDir(), m.checkpointsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	for _, name := range m.cfg.Names() {
		if err := m.initStream(ctx, name); err != nil {
			return fmt.Errorf("initializing stream %s: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) initStream(ctx context.Context, name string) error {
	sc := m.cfg.Streams[name]
	wt := m.WorktreePath(sc)

	if gitx.IsRepo(wt) {
		return nil
	}

	if !m.git.BranchExists(ctx, m.root, sc.Branch) {
		if err := m.git.CreateBranch(ctx, m.root, sc.Branch, m.cfg.Settings.BaseBranch); err != nil {
			return fmt.Errorf("creating branch %s: %w", sc.Branch, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(wt), 0755); err != nil {
		return fmt.Errorf("creating worktree parent: %w", err)
	}
	if err := m.git.WorktreeAdd(ctx, m.root, wt, sc.Branch, false); err != nil {
		return fmt.Errorf("adding worktree: %w", err)
	}

	for _, shared := range m.cfg.Settings.SharedFiles {
		if err := copyFile(filepath.Join(m.root, shared), filepath.Join(wt, shared)); err != nil {
			return fmt.Errorf("copying %s: %w", shared, err)
		}
	}
	return nil
}

// copyFile copies src to dst, creating parent directories. A missing
// source is skipped: shared files are optional per project.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// StreamInfo computes the derived status of one stream.
func (m *Manager) StreamInfo(ctx context.Context, name string) (*Info, error) {
	sc, err := m.cfg.Stream(name)
	if err != nil {
		return nil, err
	}
	wt := m.WorktreePath(sc)

	info := &Info{
		Name:     name,
		Branch:   sc.Branch,
		Worktree: wt,
	}

	total, completed, err := m.storyCounts(sc)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", name, err)
	}
	info.Total = total
	info.Completed = completed

	if !gitx.IsRepo(wt) {
		info.Status = StatusNotInitialized
		return info, nil
	}

	if lockfile.Held(m.StreamLockPath(name), m.probe) {
		info.Status = StatusRunning
		return info, nil
	}

	if info.Total == 0 || info.Completed < info.Total {
		info.Status = StatusReady
		return info, nil
	}

	// All assigned stories done: merged if the branch tip is already
	// reachable from the base branch.
	head, err := m.git.Head(ctx, wt)
	if err == nil && m.git.IsAncestor(ctx, m.root, head, m.cfg.Settings.BaseBranch) {
		info.Status = StatusMerged
		return info, nil
	}
	info.Status = StatusCompleted
	return info, nil
}

// storyCounts returns the total and completed counts for the stream's
// assigned stories (all stories when the stream has no assignment).
func (m *Manager) storyCounts(sc StreamConfig) (total, completed int, err error) {
	store, err := prd.Load(m.PRDPath())
	if err != nil {
		return 0, 0, err
	}

	if len(sc.Stories) == 0 {
		return store.Total(), store.Completed(), nil
	}

	for _, id := range sc.Stories {
		story := store.FindByID(id)
		if story == nil {
			continue
		}
		total++
		if story.Completed() {
			completed++
		}
	}
	return total, completed, nil
}

// Statuses computes Info for every configured stream, sorted by name.
func (m *Manager) Statuses(ctx context.Context) ([]*Info, error) {
	infos := make([]*Info, 0, len(m.cfg.Streams))
	for _, name := range m.cfg.Names() {
		info, err := m.StreamInfo(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Cleanup removes a stream's worktree and branch. Refuses to touch a
// running stream. The checkpoint and any stale lock are cleared too.
func (m *Manager) Cleanup(ctx context.Context, name string) error {
	sc, err := m.cfg.Stream(name)
	if err != nil {
		return err
	}

	if lockfile.Held(m.StreamLockPath(name), m.probe) {
		return fmt.Errorf("cleanup %s: %w", name, ErrStreamRunning)
	}

	// Remove the worktree when its directory is present, and also when
	// the directory was deleted by hand but git still lists it, so the
	// registration does not leak.
	wt := m.WorktreePath(sc)
	if gitx.IsRepo(wt) || m.worktreeRegistered(ctx, wt) {
		if err := m.git.WorktreeRemove(ctx, m.root, wt); err != nil {
			return fmt.Errorf("removing worktree: %w", err)
		}
	}
	if m.git.BranchExists(ctx, m.root, sc.Branch) {
		if err := m.git.DeleteBranch(ctx, m.root, sc.Branch); err != nil {
			return fmt.Errorf("deleting branch %s: %w", sc.Branch, err)
		}
	}

	if err := m.Checkpoints().Clear(name); err != nil {
		return err
	}
	return lockfile.Release(m.StreamLockPath(name))
}

// worktreeRegistered reports whether git still lists path as a linked
// worktree of the main repo.
func (m *Manager) worktreeRegistered(ctx context.Context, path string) bool {
	wts, err := m.git.Worktrees(ctx, m.root)
	if err != nil {
		return false
	}
	for _, w := range wts {
		if w.Path == path {
			return true
		}
	}
	return false
}

// CleanupAll tears down every stream that is not running.
func (m *Manager) CleanupAll(ctx context.Context) error {
	for _, name := range m.cfg.Names() {
		if err := m.Cleanup(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
