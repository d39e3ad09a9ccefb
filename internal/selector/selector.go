// Package selector implements atomic claiming of the next pending
// story from a PRD store shared between worker processes.
//
// Claiming and completion-marking are two separate lock acquisitions.
// Callers that share one store must mark a claimed story complete (via
// Complete) before their next selection cycle, otherwise a concurrent
// caller can observe the story as still pending.
package selector

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ralphloop/ralph/internal/lockfile"
	"github.com/ralphloop/ralph/internal/prd"
)

// lockName is the lock directory created next to the PRD file.
const lockName = "prd.lock"

// Options configures lock acquisition around a selection.
type Options struct {
	// LockMaxWait bounds the wait for the store lock.
	LockMaxWait time.Duration

	// LockPollInterval is the poll interval while the lock is held.
	LockPollInterval time.Duration

	// Probe answers process liveness for stale-lock detection.
	Probe lockfile.ProcessProbe

	// OnReclaim observes stale store locks being reclaimed. Optional.
	OnReclaim func(path string, pid int)

	// Locks is the lock provider. Defaults to directory locks.
	Locks lockfile.Provider

	// Only, when non-empty, restricts selection to these story IDs.
	// Stories outside the set are ignored entirely, including in the
	// Total/Remaining counts.
	Only []string
}

func (o Options) provider() lockfile.Provider {
	if o.Locks != nil {
		return o.Locks
	}
	return lockfile.DirLock{}
}

func (o Options) lockOptions() lockfile.Options {
	return lockfile.Options{
		MaxWait:      o.LockMaxWait,
		PollInterval: o.LockPollInterval,
		Probe:        o.Probe,
		OnReclaim:    o.OnReclaim,
	}
}

// Selection is the outcome of picking the next story.
type Selection struct {
	// Story is the claimed story, nil when AllCompleted.
	Story *prd.Story

	// Total and Remaining are the store counts at selection time.
	Total     int
	Remaining int

	// AllCompleted is true when no pending story exists.
	AllCompleted bool
}

// LockPath returns the store lock directory for a PRD file path.
func LockPath(storePath string) string {
	return filepath.Join(filepath.Dir(storePath), lockName)
}

// SelectAndLock claims the next pending story under the store lock.
// The lock is released before returning on every path, including parse
// failures. Selection is deterministic: first pending story in file
// order.
func SelectAndLock(ctx context.Context, storePath string, opts Options) (*Selection, error) {
	lock, err := opts.provider().Acquire(ctx, LockPath(storePath), opts.lockOptions())
	if err != nil {
		return nil, fmt.Errorf("locking store: %w", err)
	}
	defer lock.Release()

	return selectFrom(storePath, opts.Only)
}

// Select picks the next pending story without locking, for dry-run and
// status use. Never use it where two callers could race.
func Select(storePath string, only []string) (*Selection, error) {
	return selectFrom(storePath, only)
}

// Complete marks a story complete and persists the store, under the
// same store lock used for selection.
func Complete(ctx context.Context, storePath, storyID string, opts Options) error {
	lock, err := opts.provider().Acquire(ctx, LockPath(storePath), opts.lockOptions())
	if err != nil {
		return fmt.Errorf("locking store: %w", err)
	}
	defer lock.Release()

	store, err := prd.Load(storePath)
	if err != nil {
		return err
	}
	if err := store.MarkComplete(storyID); err != nil {
		return err
	}
	return store.Save(storePath)
}

func selectFrom(storePath string, only []string) (*Selection, error) {
	store, err := prd.Load(storePath)
	if err != nil {
		return nil, err
	}

	allowed := func(id string) bool { return true }
	if len(only) > 0 {
		set := make(map[string]bool, len(only))
		for _, id := range only {
			set[id] = true
		}
		allowed = func(id string) bool { return set[id] }
	}

	sel := &Selection{}
	for _, story := range store.Stories() {
		if !allowed(story.ID) {
			continue
		}
		sel.Total++
		if story.Completed() {
			continue
		}
		sel.Remaining++
		if sel.Story == nil {
			sel.Story = story
		}
	}
	if sel.Story == nil {
		sel.AllCompleted = true
	}
	return sel, nil
}
