package prd

import (
	"fmt"
	"os"
	"strings"
)

// activityHeader is prepended when the activity log has no Run Summary
// section yet.
var activityHeader = []string{
	"# Activity Log",
	"",
	"## Run Summary",
}

// AppendRunSummary inserts a bullet line directly under the
// "## Run Summary" header of the activity log at path, creating the
// header structure when the file is missing or has no such section.
func AppendRunSummary(path, line string) error {
	var existing []string
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading activity log %s: %w", path, err)
	}
	if err == nil {
		existing = strings.Split(string(data), "\n")
	}

	var out []string
	inserted := false
	for _, l := range existing {
		out = append(out, l)
		if !inserted && strings.TrimSpace(l) == "## Run Summary" {
			out = append(out, "- "+line)
			inserted = true
		}
	}

	if !inserted {
		header := append([]string{}, activityHeader...)
		header = append(header, "- "+line, "", "## Events", "")
		out = append(header, existing...)
	}

	content := strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing activity log %s: %w", path, err)
	}
	return nil
}
