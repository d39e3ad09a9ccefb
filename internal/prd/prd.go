// Package prd parses and mutates PRD checklist files.
//
// A PRD is a plain markdown file where each story is introduced by a
// heading like "### [ ] US-001: Add login form". The bracket marker
// carries completion state ("x" = done, blank or absent = pending) and
// every line up to the next heading belongs to that story's block.
package prd

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Status is the completion state of a story.
type Status string

const (
	// StatusPending marks a story that still needs work.
	StatusPending Status = "pending"

	// StatusCompleted marks a story whose checkbox is ticked.
	StatusCompleted Status = "completed"
)

// headingRe matches story heading lines.
// Groups: 1 = marker char (" ", "x", "X"), 2 = story ID, 3 = title.
var headingRe = regexp.MustCompile(`^###\s+(?:\[([ xX])\]\s+)?(US-\d+):\s*(.+)$`)

// ParseError indicates the PRD content could not be parsed into stories.
// It is fatal for the call; callers must not retry it automatically.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse PRD: %s", e.Reason)
}

// Story is a single unit of work sourced from the checklist.
type Story struct {
	// ID is the stable story identifier (e.g., "US-003").
	ID string

	// Title is the heading text after the ID.
	Title string

	// Status is pending or completed. Transitions only pending->completed.
	Status Status

	// Position is the source order of the story, used as priority.
	Position int

	// lines holds the heading plus body exactly as read. Only the
	// heading marker is ever rewritten.
	lines []string
}

// Completed reports whether the story's checkbox is ticked.
func (s *Story) Completed() bool {
	return s.Status == StatusCompleted
}

// Block returns the raw story text (heading plus body) with trailing
// blank lines trimmed.
func (s *Story) Block() string {
	end := len(s.lines)
	for end > 0 && strings.TrimSpace(s.lines[end-1]) == "" {
		end--
	}
	return strings.Join(s.lines[:end], "\n")
}

// Store is an ordered collection of stories parsed from one PRD file.
type Store struct {
	preamble        []string
	stories         []*Story
	trailingNewline bool
}

// Parse reads PRD content into a Store.
// Returns *ParseError if no story headings are found.
func Parse(content string) (*Store, error) {
	st := &Store{
		trailingNewline: strings.HasSuffix(content, "\n"),
	}

	lines := strings.Split(content, "\n")
	// Split drops nothing, but a trailing newline produces one empty
	// trailing element that Render must not duplicate.
	if st.trailingNewline && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}

	var current *Story
	for _, line := range lines {
		m := headingRe.FindStringSubmatch(line)
		if m != nil {
			current = &Story{
				ID:       m[2],
				Title:    strings.TrimSpace(m[3]),
				Status:   statusFromMarker(m[1]),
				Position: len(st.stories),
				lines:    []string{line},
			}
			st.stories = append(st.stories, current)
			continue
		}
		if current != nil {
			current.lines = append(current.lines, line)
		} else {
			st.preamble = append(st.preamble, line)
		}
	}

	if len(st.stories) == 0 {
		return nil, &ParseError{Reason: "no stories found"}
	}
	return st, nil
}

// Load reads and parses the PRD file at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading PRD %s: %w", path, err)
	}
	return Parse(string(data))
}

// Save writes the store back to path, byte-identical to the source
// apart from any markers toggled via MarkComplete.
func (st *Store) Save(path string) error {
	if err := os.WriteFile(path, []byte(st.Render()), 0644); err != nil {
		return fmt.Errorf("writing PRD %s: %w", path, err)
	}
	return nil
}

// Render reconstructs the full PRD file content.
func (st *Store) Render() string {
	var parts []string
	parts = append(parts, st.preamble...)
	for _, s := range st.stories {
		parts = append(parts, s.lines...)
	}
	out := strings.Join(parts, "\n")
	if st.trailingNewline {
		out += "\n"
	}
	return out
}

// Stories returns all stories in source order.
func (st *Store) Stories() []*Story {
	return st.stories
}

// Total returns the number of stories.
func (st *Store) Total() int {
	return len(st.stories)
}

// Completed returns the number of completed stories.
func (st *Store) Completed() int {
	n := 0
	for _, s := range st.stories {
		if s.Completed() {
			n++
		}
	}
	return n
}

// Remaining returns the number of pending stories.
func (st *Store) Remaining() int {
	return st.Total() - st.Completed()
}

// FindByID returns the story with the given ID, or nil.
func (st *Store) FindByID(id string) *Story {
	for _, s := range st.stories {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// NextPending returns the first pending story in source order, or nil
// when every story is completed.
func (st *Store) NextPending() *Story {
	for _, s := range st.stories {
		if !s.Completed() {
			return s
		}
	}
	return nil
}

// MarkComplete ticks the checkbox on the story's heading line. The rest
// of the block is untouched. Persisting the change is the caller's job.
func (st *Store) MarkComplete(id string) error {
	s := st.FindByID(id)
	if s == nil {
		return fmt.Errorf("story %s not found", id)
	}
	if s.Completed() {
		return nil
	}

	heading, err := tickHeading(s.lines[0])
	if err != nil {
		return fmt.Errorf("story %s: %w", id, err)
	}
	s.lines[0] = heading
	s.Status = StatusCompleted
	return nil
}

// Summary returns a one-line progress summary.
func (st *Store) Summary() string {
	return fmt.Sprintf("%d/%d stories completed, %d remaining", st.Completed(), st.Total(), st.Remaining())
}

// statusFromMarker maps a heading marker char to a Status.
func statusFromMarker(marker string) Status {
	if strings.EqualFold(strings.TrimSpace(marker), "x") {
		return StatusCompleted
	}
	return StatusPending
}

// tickHeading rewrites a heading line so its marker reads [x], inserting
// the marker when the heading has none. All other bytes are preserved.
func tickHeading(line string) (string, error) {
	idx := headingRe.FindStringSubmatchIndex(line)
	if idx == nil {
		return "", fmt.Errorf("not a story heading: %q", line)
	}

	// Group 1 is the marker char. idx[2] < 0 means no marker present.
	if idx[2] >= 0 {
		return line[:idx[2]] + "x" + line[idx[3]:], nil
	}

	// Insert "[x] " immediately before the ID (group 2).
	return line[:idx[4]] + "[x] " + line[idx[4]:], nil
}
