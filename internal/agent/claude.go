package agent

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ClaudeAgent implements the Agent interface for the Claude Code CLI.
type ClaudeAgent struct {
	// Command is the path to the claude binary. Defaults to "claude".
	Command string
}

// NewClaudeAgent creates a new Claude Code agent with default settings.
func NewClaudeAgent() *ClaudeAgent {
	return &ClaudeAgent{Command: "claude"}
}

// Name returns "claude".
func (a *ClaudeAgent) Name() string {
	return "claude"
}

// Available checks if the claude CLI is installed and accessible.
func (a *ClaudeAgent) Available() bool {
	_, err := exec.LookPath(a.command())
	return err == nil
}

// Run executes claude with the given prompt.
// Uses --dangerously-skip-permissions for autonomous operation.
// Uses --print to get output without interactive mode.
// On timeout, returns the partial output together with ErrTimeout.
func (a *ClaudeAgent) Run(ctx context.Context, prompt string, opts RunOpts) (*Result, error) {
	start := time.Now()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{
		"--dangerously-skip-permissions",
		"--print",
		prompt,
	}

	cmd := exec.CommandContext(ctx, a.command(), args...)
	cmd.Dir = opts.Dir

	var stdout, stderr bytes.Buffer

	// If streaming is requested, read stdout incrementally.
	if opts.Stream != nil {
		stdoutPipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("create stdout pipe: %w", err)
		}
		cmd.Stderr = &stderr

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", a.command(), err)
		}

		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024) // 1MB max line size
		for scanner.Scan() {
			line := scanner.Text() + "\n"
			stdout.WriteString(line)
			select {
			case opts.Stream <- line:
			case <-ctx.Done():
				// Context cancelled, stop streaming
			}
		}

		if err := cmd.Wait(); err != nil {
			return a.runError(ctx, err, &stdout, &stderr, start, opts.Timeout)
		}
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return a.runError(ctx, err, &stdout, &stderr, start, opts.Timeout)
		}
	}

	return &Result{
		Output:   stdout.String(),
		Duration: time.Since(start),
	}, nil
}

// runError classifies a failed run. Timeouts carry partial output so
// the caller can log what the agent got through before the cutoff.
func (a *ClaudeAgent) runError(ctx context.Context, err error, stdout, stderr *bytes.Buffer, start time.Time, timeout time.Duration) (*Result, error) {
	partial := &Result{
		Output:   stdout.String(),
		Duration: time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return partial, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return partial, ctx.Err()
	}

	msg := bytes.TrimSpace(stderr.Bytes())
	if len(msg) == 0 {
		return partial, fmt.Errorf("%s exited with error: %w", a.command(), err)
	}
	return partial, fmt.Errorf("%s exited with error: %w\nstderr: %s", a.command(), err, msg)
}

// command returns the claude binary path.
func (a *ClaudeAgent) command() string {
	if a.Command != "" {
		return a.Command
	}
	return "claude"
}
