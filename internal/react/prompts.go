package react

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/taskrunner/internal/knowledge"
	"github.com/vinayprograms/taskrunner/internal/task"
)

func formatParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return "{}"
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return truncate(string(data), 2000)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func bullet(sb *strings.Builder, items []string) {
	for _, item := range items {
		sb.WriteString("  - ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
}

func buildThoughtPrompt(t *task.Task, step *task.Step, previous []*task.ReActCycle, recalled []knowledge.Hit, attempt, attempts int) string {
	var sb strings.Builder

	sb.WriteString("PHASE: THOUGHT\n\n")
	if t != nil && t.Request != "" {
		sb.WriteString("TASK REQUEST:\n")
		sb.WriteString(t.Request)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "STEP %d: %s\n", step.Order, step.Title)
	if step.Description != "" {
		sb.WriteString(step.Description)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "PLANNED ACTION: %s %s\n", step.Action.Type, formatParams(step.Action.Params))
	fmt.Fprintf(&sb, "ATTEMPT: %d of %d\n", attempt, attempts)

	var failed []*task.ReActCycle
	for _, c := range previous {
		if !c.Result.Success {
			failed = append(failed, c)
		}
	}
	if len(failed) > 0 {
		sb.WriteString("\nPREVIOUS FAILED ATTEMPTS (do not repeat these mistakes):\n")
		for _, c := range failed {
			fmt.Fprintf(&sb, "- Attempt %d\n", c.Number)
			fmt.Fprintf(&sb, "  approach: %s\n", c.Thought.Approach)
			fmt.Fprintf(&sb, "  outcome: %s\n", truncate(c.Observation.ActualOutcome, 500))
			if c.Reflection.RootCause != "" {
				fmt.Fprintf(&sb, "  root cause: %s\n", c.Reflection.RootCause)
			}
			if len(c.Observation.Learnings) > 0 {
				sb.WriteString("  learnings:\n")
				for _, l := range c.Observation.Learnings {
					fmt.Fprintf(&sb, "    - %s\n", l)
				}
			}
			if len(c.Reflection.Changes) > 0 {
				sb.WriteString("  suggested changes:\n")
				for _, ch := range c.Reflection.Changes {
					fmt.Fprintf(&sb, "    - %s\n", ch)
				}
			}
		}
	}

	if len(recalled) > 0 {
		sb.WriteString("\nRELEVANT PAST EXPERIENCE:\n")
		for _, h := range recalled {
			fmt.Fprintf(&sb, "- [%s] %s\n", h.Kind, strings.ReplaceAll(truncate(h.Text, 300), "\n", "; "))
		}
	}

	sb.WriteString(`
Think about how to carry out this step. Respond with a JSON object:
{
  "reasoning": "why this approach",
  "approach": "what you will do",
  "alternatives": ["other options considered"],
  "confidence": 0-100,
  "risks": ["what could go wrong"],
  "expected_outcome": "what success looks like"
}`)
	return sb.String()
}

func buildObservationPrompt(step *task.Step, thought task.Thought, result task.StepResult) string {
	var sb strings.Builder

	sb.WriteString("PHASE: OBSERVATION\n\n")
	fmt.Fprintf(&sb, "STEP %d: %s\n", step.Order, step.Title)
	fmt.Fprintf(&sb, "EXPECTED OUTCOME: %s\n\n", thought.ExpectedOutcome)
	sb.WriteString("ACTUAL RESULT:\n")
	fmt.Fprintf(&sb, "  success: %v\n", result.Success)
	fmt.Fprintf(&sb, "  message: %s\n", truncate(result.Message, 2000))
	if len(result.FilesCreated) > 0 {
		fmt.Fprintf(&sb, "  files created: %s\n", strings.Join(result.FilesCreated, ", "))
	}
	if len(result.FilesModified) > 0 {
		fmt.Fprintf(&sb, "  files modified: %s\n", strings.Join(result.FilesModified, ", "))
	}

	sb.WriteString(`
Compare what was expected with what happened. Respond with a JSON object:
{
  "actual_outcome": "what actually happened",
  "differences": ["differences from the expected outcome"],
  "learnings": ["what this teaches us"],
  "unexpected": ["anything surprising"]
}`)
	return sb.String()
}

func buildReflectionPrompt(step *task.Step, thought task.Thought, obs task.Observation, attempt, attempts int) string {
	var sb strings.Builder

	sb.WriteString("PHASE: REFLECTION\n\n")
	fmt.Fprintf(&sb, "STEP %d: %s\n", step.Order, step.Title)
	fmt.Fprintf(&sb, "APPROACH: %s (confidence %d)\n", thought.Approach, thought.Confidence)
	fmt.Fprintf(&sb, "EXPECTED: %s\n", thought.ExpectedOutcome)
	fmt.Fprintf(&sb, "ACTUAL: %s\n", truncate(obs.ActualOutcome, 1000))
	fmt.Fprintf(&sb, "SUCCESS: %v\n", obs.Success)
	if len(obs.Differences) > 0 {
		sb.WriteString("DIFFERENCES:\n")
		bullet(&sb, obs.Differences)
	}
	fmt.Fprintf(&sb, "RETRIES REMAINING: %d\n", attempts-attempt)

	sb.WriteString(`
Decide whether another attempt is worthwhile and what should change. Respond with a JSON object:
{
  "what_worked": ["..."],
  "what_failed": ["..."],
  "root_cause": "why it failed, empty on success",
  "should_retry": true or false,
  "changes": ["what to do differently next time"],
  "knowledge_gained": "one sentence worth remembering"
}`)
	return sb.String()
}

func buildClarifyPrompt(original string, err error) string {
	return fmt.Sprintf(`Your previous reply could not be used: %v.
Answer again with exactly one JSON object containing every requested key and nothing else.

%s`, err, original)
}
