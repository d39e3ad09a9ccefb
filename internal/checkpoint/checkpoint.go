// Package checkpoint records rollback points around each story attempt
// so an interrupted stream can recover instead of corrupting its
// worktree. A checkpoint's presence on restart is the sole signal
// distinguishing "interrupted mid-story" from "idle between stories".
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralphloop/ralph/internal/gitx"
)

// ErrNoCheckpoint is returned when a stream has no saved checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint")

// Checkpoint is a known-good rollback point for one in-flight story.
type Checkpoint struct {
	// HeadCommit is the worktree HEAD at the time the story started.
	HeadCommit string `json:"head_commit"`

	// Branch is the stream branch the worktree had checked out.
	Branch string `json:"branch"`

	// StoryID is the story that was in flight.
	StoryID string `json:"story_id"`

	// Timestamp is when the checkpoint was taken.
	Timestamp time.Time `json:"timestamp"`
}

// Manager stores one checkpoint per stream as JSON files.
type Manager struct {
	dir string
	git *gitx.Git
}

// NewManager creates a checkpoint manager writing to dir.
func NewManager(dir string, git *gitx.Git) *Manager {
	if git == nil {
		git = gitx.New(nil)
	}
	return &Manager{dir: dir, git: git}
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) path(stream string) string {
	return filepath.Join(m.dir, stream+".json")
}

// Save records the worktree's current HEAD, branch and the in-flight
// story immediately before the agent is invoked.
func (m *Manager) Save(ctx context.Context, stream, worktreeDir, storyID string) (*Checkpoint, error) {
	head, err := m.git.Head(ctx, worktreeDir)
	if err != nil {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}
	branch, err := m.git.CurrentBranch(ctx, worktreeDir)
	if err != nil {
		return nil, fmt.Errorf("reading branch: %w", err)
	}

	cp := &Checkpoint{
		HeadCommit: head,
		Branch:     branch,
		StoryID:    storyID,
		Timestamp:  time.Now(),
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling checkpoint: %w", err)
	}
	if err := os.WriteFile(m.path(stream), data, 0644); err != nil {
		return nil, fmt.Errorf("writing checkpoint: %w", err)
	}
	return cp, nil
}

// Load reads the stream's checkpoint. Returns ErrNoCheckpoint when the
// stream has none.
func (m *Manager) Load(stream string) (*Checkpoint, error) {
	data, err := os.ReadFile(m.path(stream))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	return &cp, nil
}

// Exists reports whether the stream has a saved checkpoint.
func (m *Manager) Exists(stream string) bool {
	_, err := os.Stat(m.path(stream))
	return err == nil
}

// Clear removes the stream's checkpoint on clean story completion.
// Idempotent: clearing an absent checkpoint is a no-op.
func (m *Manager) Clear(stream string) error {
	err := os.Remove(m.path(stream))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	return nil
}

// Drift describes how the worktree diverged from a checkpoint.
type Drift struct {
	// RecordedHead and CurrentHead differ when commits happened after
	// the checkpoint was taken.
	RecordedHead string
	CurrentHead  string

	// Uncommitted lists `git status --porcelain` lines for changes
	// left in the working tree.
	Uncommitted []string

	// Conflicts lists files with unresolved merge conflicts.
	Conflicts []string
}

// HeadMoved reports whether HEAD no longer matches the checkpoint.
func (d *Drift) HeadMoved() bool {
	return d.RecordedHead != d.CurrentHead
}

// Drifted reports whether any divergence was found.
func (d *Drift) Drifted() bool {
	return d.HeadMoved() || len(d.Uncommitted) > 0 || len(d.Conflicts) > 0
}

// Details returns a human-readable description of the divergence.
func (d *Drift) Details() string {
	if !d.Drifted() {
		return "git state matches checkpoint"
	}

	var sb strings.Builder
	if d.HeadMoved() {
		fmt.Fprintf(&sb, "HEAD moved: checkpoint %s, now %s\n", short(d.RecordedHead), short(d.CurrentHead))
	}
	if len(d.Uncommitted) > 0 {
		fmt.Fprintf(&sb, "uncommitted changes:\n")
		for _, line := range d.Uncommitted {
			fmt.Fprintf(&sb, "  %s\n", line)
		}
	}
	if len(d.Conflicts) > 0 {
		fmt.Fprintf(&sb, "unresolved conflicts:\n")
		for _, f := range d.Conflicts {
			fmt.Fprintf(&sb, "  %s\n", f)
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func short(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

// ValidateGitState compares the stream's checkpoint against the actual
// worktree: HEAD position, uncommitted changes, unresolved conflicts.
func (m *Manager) ValidateGitState(ctx context.Context, stream, worktreeDir string) (*Drift, error) {
	cp, err := m.Load(stream)
	if err != nil {
		return nil, err
	}

	head, err := m.git.Head(ctx, worktreeDir)
	if err != nil {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}

	status, err := m.git.StatusPorcelain(ctx, worktreeDir)
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}

	conflicts, err := m.git.ConflictedFiles(ctx, worktreeDir)
	if err != nil {
		return nil, fmt.Errorf("listing conflicts: %w", err)
	}

	drift := &Drift{
		RecordedHead: cp.HeadCommit,
		CurrentHead:  head,
		Conflicts:    conflicts,
	}
	if status = strings.TrimSpace(status); status != "" {
		drift.Uncommitted = strings.Split(status, "\n")
	}
	return drift, nil
}

// Rollback hard-resets the worktree to the checkpointed commit.
func (m *Manager) Rollback(ctx context.Context, stream, worktreeDir string) error {
	cp, err := m.Load(stream)
	if err != nil {
		return err
	}
	if err := m.git.ResetHard(ctx, worktreeDir, cp.HeadCommit); err != nil {
		return fmt.Errorf("rolling back to %s: %w", short(cp.HeadCommit), err)
	}
	return nil
}

// Resolution is the decision made when a checkpoint is found on restart.
type Resolution int

const (
	// ResolutionResume continues the interrupted story in place.
	ResolutionResume Resolution = iota

	// ResolutionDiscard rolls back to the checkpointed commit and
	// re-enters selection.
	ResolutionDiscard

	// ResolutionAbort stops without touching the worktree.
	ResolutionAbort
)

func (r Resolution) String() string {
	switch r {
	case ResolutionResume:
		return "resume"
	case ResolutionDiscard:
		return "discard"
	default:
		return "abort"
	}
}

// DecideUnattended picks the resolution for a non-interactive restart:
// resume only when nothing drifted, otherwise abort. Ambiguous state is
// never silently resumed.
func DecideUnattended(d *Drift) Resolution {
	if d == nil || !d.Drifted() {
		return ResolutionResume
	}
	return ResolutionAbort
}
