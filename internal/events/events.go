// Package events formats run progress for terminals and logs, either
// as human-readable [TAG] lines or JSON Lines for machine consumption.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ralphloop/ralph/internal/agent"
)

// Logger emits structured run events for one stream.
type Logger struct {
	jsonl  bool
	writer io.Writer
	stream string
}

// New creates an event logger. If jsonl is true, output is JSON Lines;
// otherwise human-readable lines tagged with the stream name.
func New(jsonl bool, stream string) *Logger {
	return &Logger{
		jsonl:  jsonl,
		writer: os.Stdout,
		stream: stream,
	}
}

// SetWriter sets a custom writer (mainly for testing).
func (l *Logger) SetWriter(w io.Writer) {
	l.writer = w
}

func (l *Logger) prefix() string {
	if l.stream != "" {
		return fmt.Sprintf("[%s] ", l.stream)
	}
	return ""
}

// StreamStart reports the beginning of a stream run.
func (l *Logger) StreamStart(total, remaining int) {
	if l.jsonl {
		l.writeJSON(map[string]any{
			"type":      "stream_start",
			"total":     total,
			"remaining": remaining,
		})
		return
	}
	fmt.Fprintf(l.writer, "%s[START] %d stories, %d remaining\n", l.prefix(), total, remaining)
}

// StorySelected reports an atomic claim.
func (l *Logger) StorySelected(storyID, title string, remaining int) {
	if l.jsonl {
		l.writeJSON(map[string]any{
			"type":      "story_selected",
			"story_id":  storyID,
			"title":     title,
			"remaining": remaining,
		})
		return
	}
	fmt.Fprintf(l.writer, "%s[STORY] %s - %s (%d remaining)\n", l.prefix(), storyID, title, remaining)
}

// CheckpointSaved reports a rollback point being recorded.
func (l *Logger) CheckpointSaved(storyID, commit string) {
	if l.jsonl {
		l.writeJSON(map[string]any{
			"type":     "checkpoint_saved",
			"story_id": storyID,
			"commit":   commit,
		})
		return
	}
	fmt.Fprintf(l.writer, "%s[CHECKPOINT] %s at %.8s\n", l.prefix(), storyID, commit)
}

// Attempt reports a failed agent attempt and the backoff before the
// next one (zero delay on the final attempt).
func (l *Logger) Attempt(storyID string, attempt int, delay time.Duration, err error) {
	if l.jsonl {
		l.writeJSON(map[string]any{
			"type":     "attempt",
			"story_id": storyID,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		return
	}
	if delay > 0 {
		fmt.Fprintf(l.writer, "%s[RETRY] %s attempt %d failed: %v (retrying in %v)\n", l.prefix(), storyID, attempt, err, delay)
		return
	}
	fmt.Fprintf(l.writer, "%s[RETRY] %s attempt %d failed: %v\n", l.prefix(), storyID, attempt, err)
}

// StaleLockReclaimed reports self-healing of a dead holder's lock.
func (l *Logger) StaleLockReclaimed(path string, pid int) {
	if l.jsonl {
		l.writeJSON(map[string]any{
			"type": "stale_lock_reclaimed",
			"path": path,
			"pid":  pid,
		})
		return
	}
	fmt.Fprintf(l.writer, "%s[LOCK] reclaimed stale lock %s (pid %d dead)\n", l.prefix(), path, pid)
}

// StoryCompleted reports a story marked complete in the store.
func (l *Logger) StoryCompleted(storyID string, attempts int) {
	if l.jsonl {
		l.writeJSON(map[string]any{
			"type":     "story_completed",
			"story_id": storyID,
			"attempts": attempts,
		})
		return
	}
	fmt.Fprintf(l.writer, "%s[DONE] %s (%d attempt(s))\n", l.prefix(), storyID, attempts)
}

// Signal reports an agent control signal.
func (l *Logger) Signal(sig agent.Signal, reason string) {
	if l.jsonl {
		data := map[string]any{
			"type":   "signal",
			"signal": sig.String(),
		}
		if reason != "" {
			data["reason"] = reason
		}
		l.writeJSON(data)
		return
	}
	if reason != "" {
		fmt.Fprintf(l.writer, "%s[%s] %s\n", l.prefix(), sig, reason)
		return
	}
	fmt.Fprintf(l.writer, "%s[%s]\n", l.prefix(), sig)
}

// Output forwards streamed agent text.
func (l *Logger) Output(text string) {
	if l.jsonl {
		l.writeJSON(map[string]any{
			"type": "output",
			"text": text,
		})
		return
	}
	fmt.Fprint(l.writer, text)
}

// Error reports a non-fatal error.
func (l *Logger) Error(err error) {
	if l.jsonl {
		l.writeJSON(map[string]any{
			"type":  "error",
			"error": err.Error(),
		})
		return
	}
	fmt.Fprintf(l.writer, "%s[ERROR] %v\n", l.prefix(), err)
}

// StreamEnd reports why the stream loop stopped.
func (l *Logger) StreamEnd(exitReason string, completed, total int) {
	if l.jsonl {
		l.writeJSON(map[string]any{
			"type":        "stream_end",
			"exit_reason": exitReason,
			"completed":   completed,
			"total":       total,
		})
		return
	}
	fmt.Fprintf(l.writer, "%s[END] %s (%d/%d completed)\n", l.prefix(), exitReason, completed, total)
}

// writeJSON writes one event as a single JSON line.
func (l *Logger) writeJSON(data map[string]any) {
	if l.stream != "" {
		data["stream"] = l.stream
	}
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintln(l.writer, string(b))
}
