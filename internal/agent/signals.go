package agent

import (
	"regexp"
)

// Signal represents a control signal emitted by an agent in its output.
type Signal int

const (
	// SignalNone indicates no signal was detected in the output.
	SignalNone Signal = iota

	// SignalComplete indicates the agent finished the current story.
	SignalComplete

	// SignalEscalate indicates the agent wants a human to take over.
	SignalEscalate

	// SignalBlocked indicates the agent cannot proceed (missing
	// credentials, unclear requirements, etc).
	SignalBlocked
)

// String returns the string representation of the signal.
func (s Signal) String() string {
	switch s {
	case SignalComplete:
		return "COMPLETE"
	case SignalEscalate:
		return "ESCALATE"
	case SignalBlocked:
		return "BLOCKED"
	default:
		return "NONE"
	}
}

// Signals are enclosed in <promise>...</promise> tags in agent output.
var (
	completePattern = regexp.MustCompile(`<promise>COMPLETE</promise>`)

	// escalatePattern matches <promise>ESCALATE: reason</promise>,
	// capturing the reason text after the colon.
	escalatePattern = regexp.MustCompile(`<promise>ESCALATE:\s*(.+?)</promise>`)

	blockedPattern = regexp.MustCompile(`<promise>BLOCKED:\s*(.+?)</promise>`)
)

// ParseSignals scans agent output for control signals.
// It returns the detected signal and any associated reason text.
// Signal priority: Complete > Escalate > Blocked (checked in this order).
func ParseSignals(output string) (Signal, string) {
	if completePattern.MatchString(output) {
		return SignalComplete, ""
	}
	if matches := escalatePattern.FindStringSubmatch(output); len(matches) > 1 {
		return SignalEscalate, matches[1]
	}
	if matches := blockedPattern.FindStringSubmatch(output); len(matches) > 1 {
		return SignalBlocked, matches[1]
	}
	return SignalNone, ""
}
