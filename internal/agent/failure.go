package agent

import "strings"

// analyzePreviousApproach summarizes what the failed attempt ran into,
// keyed off common failure patterns in the captured output. At most
// five findings, deduplicated.
func analyzePreviousApproach(context string) string {
	if context == "" {
		return "No previous failure context available."
	}

	var findings []string
	seen := map[string]bool{}
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			findings = append(findings, f)
		}
	}

	for _, line := range strings.Split(context, "\n") {
		l := strings.ToLower(line)
		if strings.Contains(l, "import") && (strings.Contains(l, "error") || strings.Contains(l, "fail")) {
			add("- Import statements may have issues")
		}
		if strings.Contains(l, "route") && (strings.Contains(l, "not found") || strings.Contains(l, "404")) {
			add("- Route registration may be missing")
		}
		if strings.Contains(l, "expect") && strings.Contains(l, "received") {
			add("- Test assertions did not match expected values")
		}
		if strings.Contains(l, "undefined") || strings.Contains(l, "null") {
			add("- Some variables or properties were undefined or nil")
		}
		if strings.Contains(l, "type") && strings.Contains(l, "error") {
			add("- Type mismatches were detected")
		}
	}

	if len(findings) == 0 {
		findings = append(findings, "- Review the full log for specific failure details")
	}
	if len(findings) > 5 {
		findings = findings[:5]
	}
	return strings.Join(findings, "\n")
}

// suggestAlternatives proposes different angles for the retry based on
// the same failure patterns. At most four suggestions.
func suggestAlternatives(context string) string {
	if context == "" {
		return "- Try a simpler approach first\n- Double-check the requirements"
	}

	l := strings.ToLower(context)
	var suggestions []string
	add := func(ss ...string) { suggestions = append(suggestions, ss...) }

	if strings.Contains(l, "import") && (strings.Contains(l, "error") || strings.Contains(l, "module")) {
		add("- Verify all import paths are correct and modules exist",
			"- Check for circular dependencies")
	}
	if strings.Contains(l, "route") || strings.Contains(l, "404") {
		add("- Ensure the route is registered in the router or app",
			"- Check route path spelling and parameters")
	}
	if strings.Contains(l, "expect") || strings.Contains(l, "assert") {
		add("- Match the expected output format exactly",
			"- Check data types (string vs number)")
	}
	if strings.Contains(l, "undefined") || strings.Contains(l, "null") {
		add("- Add nil checks and default values",
			"- Verify fields exist before accessing them")
	}
	if strings.Contains(l, "timeout") {
		add("- Reduce operation complexity or add pagination",
			"- Check for infinite loops or blocking operations")
	}
	if strings.Contains(l, "permission") || strings.Contains(l, "access") {
		add("- Check file and directory permissions",
			"- Verify authentication is set up")
	}
	if strings.Contains(l, "syntax") {
		add("- Check for missing brackets or quotes",
			"- Validate config file formats")
	}

	if len(suggestions) == 0 {
		add("- Read the failing test or verification command carefully",
			"- Check if dependencies are installed",
			"- Try a more incremental approach")
	}
	if len(suggestions) > 4 {
		suggestions = suggestions[:4]
	}
	return strings.Join(suggestions, "\n")
}
