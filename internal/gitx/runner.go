// Package gitx wraps the git CLI behind a small injectable runner so
// higher layers (worktrees, checkpoints, merges) can be tested without
// spawning real subprocesses.
package gitx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes a git command in dir and returns its stdout.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// CLIRunner runs the real git binary.
type CLIRunner struct {
	// Command is the path to the git binary. Defaults to "git".
	Command string
}

func (r *CLIRunner) command() string {
	if r.Command != "" {
		return r.Command
	}
	return "git"
}

// Run executes git with the given args, returning trimmed stdout.
// On failure the error carries the command and trimmed stderr.
func (r *CLIRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.command(), args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), msg, err)
	}
	return strings.TrimRight(stdout.String(), "\n"), nil
}
