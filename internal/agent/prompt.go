package agent

import (
	"strconv"
	"strings"

	"github.com/ralphloop/ralph/internal/prd"
)

// Vars are {{NAME}} template substitutions for prompt rendering.
type Vars map[string]string

// PromptBuilder renders agent prompts from {{VAR}} templates. The
// default templates can be overridden per project; rendering stays a
// pure string transformation so enrichment layers can wrap it.
type PromptBuilder struct {
	// Template is the first-attempt prompt template.
	Template string

	// RetryTemplate is used when re-attempting a story after a failed
	// run; it additionally receives failure context variables.
	RetryTemplate string
}

// NewPromptBuilder creates a builder with the default templates.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		Template:      defaultTemplate,
		RetryTemplate: defaultRetryTemplate,
	}
}

// Build renders the prompt for a story. Story fields are exposed as
// STORY_ID, STORY_TITLE and STORY_BLOCK alongside the caller's vars.
func (pb *PromptBuilder) Build(story *prd.Story, vars Vars) string {
	return render(pb.Template, withStoryVars(story, vars))
}

// BuildRetry renders the retry prompt, adding FAILURE_CONTEXT,
// PREVIOUS_APPROACH, SUGGESTIONS, RETRY_ATTEMPT and RETRY_MAX to the
// substitutions. The approach analysis and suggestions are derived
// from the failure context.
func (pb *PromptBuilder) BuildRetry(story *prd.Story, vars Vars, failureContext string, attempt, maxAttempts int) string {
	merged := withStoryVars(story, vars)
	merged["FAILURE_CONTEXT"] = failureContext
	merged["PREVIOUS_APPROACH"] = analyzePreviousApproach(failureContext)
	merged["SUGGESTIONS"] = suggestAlternatives(failureContext)
	merged["RETRY_ATTEMPT"] = strconv.Itoa(attempt)
	merged["RETRY_MAX"] = strconv.Itoa(maxAttempts)
	return render(pb.RetryTemplate, merged)
}

func withStoryVars(story *prd.Story, vars Vars) Vars {
	merged := Vars{
		"STORY_ID":    "",
		"STORY_TITLE": "",
		"STORY_BLOCK": "",
	}
	for k, v := range vars {
		merged[k] = v
	}
	if story != nil {
		merged["STORY_ID"] = story.ID
		merged["STORY_TITLE"] = story.Title
		merged["STORY_BLOCK"] = story.Block()
	}
	return merged
}

// render substitutes every {{NAME}} placeholder with its value.
// Unknown placeholders are left in place.
func render(src string, vars Vars) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(src)
}

const defaultTemplate = `You are working on one story from a PRD checklist.

## Story {{STORY_ID}}: {{STORY_TITLE}}

{{STORY_BLOCK}}

## Instructions

1. Implement the story above in this working copy. Work only on this story.
2. Run the project's tests and make them pass.
3. Commit your changes with the story ID in the commit message.
4. When the story is done, emit <promise>COMPLETE</promise> as the last line of your output.

## Rules

- You are autonomous; do not ask questions.
- If you cannot proceed (missing credentials, unclear requirements), emit <promise>BLOCKED: reason</promise>.
- If a human must take over, emit <promise>ESCALATE: reason</promise>.
`

const defaultRetryTemplate = `You are retrying a story that failed on a previous attempt (attempt {{RETRY_ATTEMPT}} of {{RETRY_MAX}}).

## Story {{STORY_ID}}: {{STORY_TITLE}}

{{STORY_BLOCK}}

## Previous failure

{{FAILURE_CONTEXT}}

## What the last attempt ran into

{{PREVIOUS_APPROACH}}

## Suggestions

{{SUGGESTIONS}}

## Instructions

1. Read the failure context and take a different approach where the last one failed.
2. Implement the story, run the tests, and commit with the story ID in the message.
3. When the story is done, emit <promise>COMPLETE</promise> as the last line of your output.

## Rules

- You are autonomous; do not ask questions.
- If you cannot proceed, emit <promise>BLOCKED: reason</promise>.
- If a human must take over, emit <promise>ESCALATE: reason</promise>.
`
