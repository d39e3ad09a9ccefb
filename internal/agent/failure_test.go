package agent

import (
	"strings"
	"testing"
)

func TestAnalyzePreviousApproach(t *testing.T) {
	tests := []struct {
		name    string
		context string
		want    string
	}{
		{
			name:    "empty context",
			context: "",
			want:    "No previous failure context available.",
		},
		{
			name:    "import failure",
			context: "ImportError: failed to load module auth",
			want:    "Import statements may have issues",
		},
		{
			name:    "assertion mismatch",
			context: "expected 200, received 500",
			want:    "Test assertions did not match expected values",
		},
		{
			name:    "nil access",
			context: "TypeError: cannot read property of undefined",
			want:    "undefined or nil",
		},
		{
			name:    "no recognized pattern",
			context: "something exploded",
			want:    "Review the full log",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := analyzePreviousApproach(tt.context)
			if !strings.Contains(got, tt.want) {
				t.Errorf("analyzePreviousApproach() = %q, want it to mention %q", got, tt.want)
			}
		})
	}
}

func TestAnalyzePreviousApproach_DedupesRepeatedPatterns(t *testing.T) {
	context := "import error: a\nimport error: b\nimport error: c"
	got := analyzePreviousApproach(context)
	if strings.Count(got, "Import statements") != 1 {
		t.Errorf("repeated pattern not deduplicated:\n%s", got)
	}
}

func TestSuggestAlternatives(t *testing.T) {
	tests := []struct {
		name    string
		context string
		want    string
	}{
		{
			name:    "empty context",
			context: "",
			want:    "Try a simpler approach first",
		},
		{
			name:    "timeout",
			context: "operation timeout after 30s",
			want:    "infinite loops or blocking operations",
		},
		{
			name:    "missing route",
			context: "GET /login returned 404",
			want:    "route is registered",
		},
		{
			name:    "no recognized pattern",
			context: "something exploded",
			want:    "more incremental approach",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := suggestAlternatives(tt.context)
			if !strings.Contains(got, tt.want) {
				t.Errorf("suggestAlternatives() = %q, want it to mention %q", got, tt.want)
			}
		})
	}
}

func TestSuggestAlternatives_CappedAtFour(t *testing.T) {
	// Trips the import, route, assert and undefined patterns at once.
	context := "import module error: route 404, assert failed, undefined value, timeout"
	got := suggestAlternatives(context)
	if n := len(strings.Split(got, "\n")); n > 4 {
		t.Errorf("suggestAlternatives() returned %d lines, want at most 4:\n%s", n, got)
	}
}
