// Package agent invokes external coding agents as subprocesses and
// interprets the control signals they emit.
package agent

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when an agent run exceeded its timeout. It is
// a transient failure: callers retry it with backoff.
var ErrTimeout = errors.New("agent run timed out")

// Agent defines the interface for AI coding agents.
type Agent interface {
	// Name returns the agent's display name.
	Name() string

	// Available checks if the agent's CLI is installed and accessible.
	Available() bool

	// Run executes the agent with the given prompt and options.
	// The context can be used for cancellation and timeout.
	Run(ctx context.Context, prompt string, opts RunOpts) (*Result, error)
}

// RunOpts configures an agent run.
type RunOpts struct {
	// Dir is the working directory for the agent process; the stream's
	// worktree. Empty means the current directory.
	Dir string

	// Stream receives chunks of output for real-time display.
	// If nil, output is buffered and returned in Result.Output.
	Stream chan<- string

	// Timeout for the entire run. If zero, no timeout is applied
	// beyond any context deadline.
	Timeout time.Duration
}

// Result contains the output and metrics from an agent run.
type Result struct {
	// Output is the full text output from the agent. On timeout it
	// holds whatever partial output was captured.
	Output string

	// Duration is how long the run took.
	Duration time.Duration
}
