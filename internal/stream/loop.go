package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ralphloop/ralph/internal/agent"
	"github.com/ralphloop/ralph/internal/checkpoint"
	"github.com/ralphloop/ralph/internal/events"
	"github.com/ralphloop/ralph/internal/gitx"
	"github.com/ralphloop/ralph/internal/lockfile"
	"github.com/ralphloop/ralph/internal/prd"
	"github.com/ralphloop/ralph/internal/retry"
	"github.com/ralphloop/ralph/internal/selector"
)

// defaultStreamLockWait bounds how long Start waits for the stream
// lock before concluding another run owns the stream.
const defaultStreamLockWait = 2 * time.Second

// Gate vetoes a story before the agent is invoked. Implementations can
// enforce guardrails (protected paths, risk budgets) without the loop
// knowing their policy.
type Gate interface {
	Allow(ctx context.Context, story *prd.Story) error
}

// AllowAll is the default gate: every story may run.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, *prd.Story) error { return nil }

// EscalationError is terminal: the agent asked for a human to take
// over. The loop stops without retrying.
type EscalationError struct {
	StoryID string
	Reason  string
}

func (e *EscalationError) Error() string {
	return fmt.Sprintf("agent escalated on %s: %s", e.StoryID, e.Reason)
}

// DriftError reports git state that diverged from the checkpoint taken
// before an interrupted story. Never auto-resolved.
type DriftError struct {
	Stream string
	Drift  *checkpoint.Drift
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("stream %s: worktree drifted since checkpoint:\n%s", e.Stream, e.Drift.Details())
}

// StartOpts configures one stream run.
type StartOpts struct {
	// Agent executes each story. Required.
	Agent agent.Agent

	// Events receives run progress. Nil discards it.
	Events *events.Logger

	// Policy bounds per-story retries. Zero value uses defaults.
	Policy retry.Policy

	// Gate is consulted before each story. Nil allows everything.
	Gate Gate

	// Prompts builds agent prompts. Nil uses the default templates.
	Prompts *agent.PromptBuilder

	// PromptVars are extra template substitutions.
	PromptVars agent.Vars

	// AgentTimeout bounds each agent attempt. Zero means no timeout.
	AgentTimeout time.Duration

	// MaxStories stops the run after completing this many stories.
	// Zero means run until the stream's stories are exhausted.
	MaxStories int

	// LockMaxWait bounds the wait for the stream lock.
	LockMaxWait time.Duration

	// StoreLockMaxWait and StoreLockPollInterval tune store lock
	// acquisition around selection and completion.
	StoreLockMaxWait      time.Duration
	StoreLockPollInterval time.Duration

	// Resolve decides what to do with a checkpoint found on start.
	// Nil uses the unattended policy: resume clean, abort on drift.
	Resolve func(*checkpoint.Drift) checkpoint.Resolution
}

func (o StartOpts) withDefaults(name string) StartOpts {
	if o.Events == nil {
		o.Events = events.New(false, name)
		o.Events.SetWriter(io.Discard)
	}
	if o.Gate == nil {
		o.Gate = AllowAll{}
	}
	if o.Prompts == nil {
		o.Prompts = agent.NewPromptBuilder()
	}
	if o.LockMaxWait == 0 {
		o.LockMaxWait = defaultStreamLockWait
	}
	if o.Resolve == nil {
		o.Resolve = checkpoint.DecideUnattended
	}
	return o
}

// RunResult summarizes a finished or stopped stream run.
type RunResult struct {
	// StoriesCompleted is how many stories this run finished.
	StoriesCompleted int

	// AllCompleted is true when the stream's stories are exhausted.
	AllCompleted bool
}

// Start runs the stream's story loop: claim the next pending story,
// checkpoint, run the agent with retries, mark complete, repeat. The
// stream lock is held for the whole run and released on every exit
// path. Terminal outcomes: all assigned stories completed, escalation,
// retry exhaustion, or context cancellation.
func (m *Manager) Start(ctx context.Context, name string, opts StartOpts) (*RunResult, error) {
	sc, err := m.cfg.Stream(name)
	if err != nil {
		return nil, err
	}
	if opts.Agent == nil {
		return nil, errors.New("no agent configured")
	}
	opts = opts.withDefaults(name)

	wt := m.WorktreePath(sc)
	if !gitx.IsRepo(wt) {
		return nil, fmt.Errorf("stream %s is not initialized, run init first", name)
	}

	lock, err := lockfile.Acquire(ctx, m.StreamLockPath(name), lockfile.Options{
		MaxWait:   opts.LockMaxWait,
		Probe:     m.probe,
		OnReclaim: opts.Events.StaleLockReclaimed,
	})
	if err != nil {
		var held *lockfile.HeldError
		if errors.As(err, &held) {
			return nil, fmt.Errorf("stream %s held by pid %d: %w", name, held.PID, ErrStreamRunning)
		}
		return nil, err
	}
	defer lock.Release()

	if err := m.recoverCheckpoint(ctx, name, wt, opts); err != nil {
		return nil, err
	}

	return m.runLoop(ctx, name, sc, wt, opts)
}

// recoverCheckpoint handles a checkpoint left by an interrupted run.
// Clean state resumes silently; drift is resolved by opts.Resolve.
func (m *Manager) recoverCheckpoint(ctx context.Context, name, wt string, opts StartOpts) error {
	cps := m.Checkpoints()
	if !cps.Exists(name) {
		return nil
	}

	drift, err := cps.ValidateGitState(ctx, name, wt)
	if err != nil {
		return err
	}

	switch opts.Resolve(drift) {
	case checkpoint.ResolutionResume:
		return nil
	case checkpoint.ResolutionDiscard:
		if err := cps.Rollback(ctx, name, wt); err != nil {
			return err
		}
		return cps.Clear(name)
	default:
		return &DriftError{Stream: name, Drift: drift}
	}
}

func (m *Manager) runLoop(ctx context.Context, name string, sc StreamConfig, wt string, opts StartOpts) (*RunResult, error) {
	ev := opts.Events
	cps := m.Checkpoints()
	storePath := m.PRDPath()
	selOpts := selector.Options{
		LockMaxWait:      opts.StoreLockMaxWait,
		LockPollInterval: opts.StoreLockPollInterval,
		Probe:            m.probe,
		OnReclaim:        ev.StaleLockReclaimed,
		Only:             sc.Stories,
	}

	initial, err := selector.Select(storePath, sc.Stories)
	if err != nil {
		return nil, err
	}
	ev.StreamStart(initial.Total, initial.Remaining)

	// Store counts as of the last claim. The budget exit reports these
	// instead of the numbers captured before the run, which go stale
	// when other streams complete stories concurrently.
	total, completed := initial.Total, initial.Total-initial.Remaining

	result := &RunResult{}
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if opts.MaxStories > 0 && result.StoriesCompleted >= opts.MaxStories {
			ev.StreamEnd("story budget reached", completed, total)
			return result, nil
		}

		sel, err := selector.SelectAndLock(ctx, storePath, selOpts)
		if err != nil {
			return result, err
		}
		if sel.AllCompleted {
			result.AllCompleted = true
			ev.StreamEnd("all stories completed", sel.Total, sel.Total)
			return result, nil
		}

		story := sel.Story
		ev.StorySelected(story.ID, story.Title, sel.Remaining)

		if err := opts.Gate.Allow(ctx, story); err != nil {
			return result, fmt.Errorf("gate rejected %s: %w", story.ID, err)
		}

		cp, err := cps.Save(ctx, name, wt, story.ID)
		if err != nil {
			return result, err
		}
		ev.CheckpointSaved(story.ID, cp.HeadCommit)

		outcome, err := m.runStory(ctx, story, wt, opts, ev)
		if err != nil {
			var esc *EscalationError
			if errors.As(err, &esc) {
				ev.Signal(agent.SignalEscalate, esc.Reason)
				ev.StreamEnd("escalated", sel.Total-sel.Remaining, sel.Total)
				return result, err
			}
			// Checkpoint stays: the next start decides resume/rollback.
			ev.StreamEnd("failed", sel.Total-sel.Remaining, sel.Total)
			return result, err
		}

		if err := selector.Complete(ctx, storePath, story.ID, selOpts); err != nil {
			return result, err
		}
		m.logRunSummary(ctx, name, story.ID, outcome.Attempts, selOpts, ev)
		if err := cps.Clear(name); err != nil {
			return result, err
		}

		total, completed = sel.Total, sel.Total-sel.Remaining+1
		result.StoriesCompleted++
		ev.StoryCompleted(story.ID, outcome.Attempts)
	}
}

// runStory executes one story with bounded retries. A completion
// signal ends the attempt successfully; escalation aborts retrying;
// anything else (timeout, non-zero exit, blocked, missing signal) is
// retried with failure context folded into the next prompt.
func (m *Manager) runStory(ctx context.Context, story *prd.Story, wt string, opts StartOpts, ev *events.Logger) (*retry.Outcome, error) {
	var lastFailure string

	maxAttempts := opts.Policy.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = retry.DefaultPolicy.MaxAttempts
	}

	exec := &retry.Executor{
		Policy: opts.Policy,
		OnAttempt: func(attempt int, delay time.Duration, err error) {
			ev.Attempt(story.ID, attempt, delay, err)
		},
	}

	return exec.Run(ctx, func(ctx context.Context, attempt int) error {
		prompt := opts.Prompts.Build(story, opts.PromptVars)
		if attempt > 1 {
			prompt = opts.Prompts.BuildRetry(story, opts.PromptVars, lastFailure, attempt, maxAttempts)
		}

		res, err := opts.Agent.Run(ctx, prompt, agent.RunOpts{Dir: wt, Timeout: opts.AgentTimeout})
		if err != nil {
			if res != nil && res.Output != "" {
				lastFailure = fmt.Sprintf("%v\noutput tail:\n%s", err, tail(res.Output, 2000))
			} else {
				lastFailure = err.Error()
			}
			return err
		}

		sig, reason := agent.ParseSignals(res.Output)
		switch sig {
		case agent.SignalComplete:
			return nil
		case agent.SignalEscalate:
			return retry.Permanent(&EscalationError{StoryID: story.ID, Reason: reason})
		case agent.SignalBlocked:
			lastFailure = "blocked: " + reason
			return fmt.Errorf("agent blocked: %s", reason)
		default:
			lastFailure = "no completion signal\noutput tail:\n" + tail(res.Output, 2000)
			return errors.New("agent finished without a completion signal")
		}
	})
}

// logRunSummary appends a run summary line to the shared activity log
// under its own lock. Best-effort: failures are reported but never
// fail the story.
func (m *Manager) logRunSummary(ctx context.Context, name, storyID string, attempts int, selOpts selector.Options, ev *events.Logger) {
	logPath := m.ActivityLogPath()
	lock, err := lockfile.Acquire(ctx, logPath+".lock", lockfile.Options{
		MaxWait:      selOpts.LockMaxWait,
		PollInterval: selOpts.LockPollInterval,
		Probe:        m.probe,
		OnReclaim:    ev.StaleLockReclaimed,
	})
	if err != nil {
		ev.Error(fmt.Errorf("recording run summary: %w", err))
		return
	}
	defer lock.Release()

	line := fmt.Sprintf("%s: %s completed by stream %s (%d attempt(s))",
		time.Now().Format(time.RFC3339), storyID, name, attempts)
	if err := prd.AppendRunSummary(logPath, line); err != nil {
		ev.Error(fmt.Errorf("recording run summary: %w", err))
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
