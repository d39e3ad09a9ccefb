// Package lockfile provides directory-based mutual exclusion between
// processes sharing a filesystem.
//
// A lock is a directory whose presence is the lock itself, created with
// os.Mkdir because directory creation is atomic against races without
// any external coordination. The owning process records its pid in an
// owner file inside the directory; a lock whose recorded owner is no
// longer alive is stale and reclaimed by the next acquirer. A lock with
// no owner file yet may belong to a holder that is still between its
// Mkdir and the pid write, so it is only reclaimed after a grace of one
// poll interval.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ownerFile is the name of the pid file inside a lock directory.
const ownerFile = "pid"

// Default acquisition bounds.
const (
	DefaultMaxWait      = 30 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

// HeldError is returned when the lock could not be acquired within the
// wait bound because a live process still holds it.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lock %s still held by pid %d", e.Path, e.PID)
}

// Options configures an acquisition attempt.
type Options struct {
	// MaxWait bounds the total time spent waiting for a held lock.
	MaxWait time.Duration

	// PollInterval is the sleep between acquisition attempts while the
	// lock is held by a live process.
	PollInterval time.Duration

	// Probe answers process liveness. Defaults to SignalProbe.
	Probe ProcessProbe

	// OnReclaim is invoked after a stale lock has been removed, with
	// the lock path and the dead owner's pid (0 when no owner was
	// recorded). Optional.
	OnReclaim func(path string, pid int)
}

func (o Options) withDefaults() Options {
	if o.MaxWait == 0 {
		o.MaxWait = DefaultMaxWait
	}
	if o.PollInterval == 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Probe == nil {
		o.Probe = SignalProbe{}
	}
	return o
}

// Handle is a held lock. Release is idempotent.
type Handle interface {
	// Path returns the lock directory path.
	Path() string

	// Release removes the lock. Releasing an already-released or
	// externally removed lock is a no-op.
	Release() error
}

// Provider creates locks. The default DirLock uses atomic directory
// creation; alternative backends can be substituted without touching
// callers.
type Provider interface {
	Acquire(ctx context.Context, path string, opts Options) (Handle, error)
}

// DirLock is the directory-creation lock provider.
type DirLock struct{}

// Acquire attempts to create the lock directory at path, reclaiming
// stale locks and polling while a live holder remains. A dead owner is
// reclaimed immediately; a lock with no owner file yet is given one
// poll interval to write it, since a live acquirer sits in exactly
// that state between its Mkdir and the pid write. Returns *HeldError
// when the wait bound elapses with the lock held.
func (DirLock) Acquire(ctx context.Context, path string, opts Options) (Handle, error) {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.MaxWait)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock scope: %w", err)
	}

	var ownerlessSince time.Time
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := os.Mkdir(path, 0755)
		if err == nil {
			if werr := writeOwner(path); werr != nil {
				_ = os.RemoveAll(path)
				return nil, werr
			}
			return &dirHandle{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock %s: %w", path, err)
		}

		pid, ok := readOwner(path)
		switch {
		case ok && !opts.Probe.Alive(pid):
			// Dead owner: stale. Reclaim and retry immediately,
			// without burning a poll interval.
			if rerr := reclaim(path, pid, opts); rerr != nil {
				return nil, rerr
			}
			continue
		case !ok:
			// No owner recorded yet. The holder may still be between
			// its Mkdir and the pid write; only a lock that stays
			// owner-less a full poll interval is abandoned.
			if ownerlessSince.IsZero() {
				ownerlessSince = time.Now()
			} else if time.Since(ownerlessSince) >= opts.PollInterval {
				if rerr := reclaim(path, 0, opts); rerr != nil {
					return nil, rerr
				}
				ownerlessSince = time.Time{}
				continue
			}
		default:
			ownerlessSince = time.Time{}
		}

		if time.Now().After(deadline) {
			return nil, &HeldError{Path: path, PID: pid}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.PollInterval):
		}
	}
}

// reclaim removes a stale lock and notifies the observer.
func reclaim(path string, pid int, opts Options) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("reclaiming stale lock %s: %w", path, err)
	}
	if opts.OnReclaim != nil {
		opts.OnReclaim(path, pid)
	}
	return nil
}

// dirHandle is a held directory lock.
type dirHandle struct {
	path     string
	released bool
}

func (h *dirHandle) Path() string {
	return h.path
}

func (h *dirHandle) Release() error {
	if h.released {
		return nil
	}
	h.released = true
	return Release(h.path)
}

// Acquire is a convenience wrapper around the default DirLock provider.
func Acquire(ctx context.Context, path string, opts Options) (Handle, error) {
	return DirLock{}.Acquire(ctx, path, opts)
}

// Release removes the lock directory at path. Best-effort and
// idempotent: a missing lock is not an error.
func Release(path string) error {
	err := os.RemoveAll(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing lock %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a lock directory is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Held reports whether the lock at path is held by a live process.
func Held(path string, probe ProcessProbe) bool {
	if probe == nil {
		probe = SignalProbe{}
	}
	if !Exists(path) {
		return false
	}
	pid, ok := readOwner(path)
	return ok && probe.Alive(pid)
}

// CheckStale reports whether the lock at path exists but its recorded
// owner is no longer alive. Exposed for diagnostics; Acquire reclaims
// stale locks on its own.
func CheckStale(path string, probe ProcessProbe) (bool, error) {
	if probe == nil {
		probe = SignalProbe{}
	}
	if !Exists(path) {
		return false, nil
	}
	pid, ok := readOwner(path)
	if !ok {
		// Unreadable owner file counts as stale.
		return true, nil
	}
	return !probe.Alive(pid), nil
}

// Owner returns the pid recorded in the lock at path.
func Owner(path string) (int, error) {
	pid, ok := readOwner(path)
	if !ok {
		return 0, errors.New("lock owner not recorded")
	}
	return pid, nil
}

func writeOwner(path string) error {
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(filepath.Join(path, ownerFile), []byte(pid), 0644); err != nil {
		return fmt.Errorf("writing lock owner: %w", err)
	}
	return nil
}

func readOwner(path string) (int, bool) {
	data, err := os.ReadFile(filepath.Join(path, ownerFile))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
