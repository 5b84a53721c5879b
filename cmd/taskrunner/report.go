package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/taskrunner/internal/approval"
	"github.com/vinayprograms/taskrunner/internal/registry"
	"github.com/vinayprograms/taskrunner/internal/results"
	"github.com/vinayprograms/taskrunner/internal/task"
)

const reportWidth = 96

var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - ids, timings

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	phaseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")). // Blue
			Width(12)

	approvalBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("11")).
			Padding(0, 1)
)

func stepStatusStyle(s task.StepStatus) lipgloss.Style {
	switch s {
	case task.StepCompleted, task.StepApproved:
		return successStyle
	case task.StepFailed, task.StepRejected:
		return errorStyle
	case task.StepSkipped, task.StepApprovalRequired:
		return warnStyle
	}
	return dimStyle
}

func stepIcon(s task.StepStatus) string {
	switch s {
	case task.StepCompleted:
		return "✓"
	case task.StepFailed, task.StepRejected:
		return "✗"
	case task.StepSkipped:
		return "↷"
	case task.StepInProgress:
		return "▶"
	}
	return "·"
}

func renderStep(s *task.Step) string {
	status := stepStatusStyle(s.Status).Render(fmt.Sprintf("%s %-17s", stepIcon(s.Status), s.Status))
	line := fmt.Sprintf("%s %2d. %s %s", status, s.Order, s.Title, dimStyle.Render("("+s.Action.Type+")"))
	if s.RetryCount > 0 {
		line += dimStyle.Render(fmt.Sprintf(" retries=%d", s.RetryCount))
	}
	if s.Error != "" && (s.Status == task.StepFailed || s.Status == task.StepRejected) {
		line += "\n" + indent(errorStyle.Render(wordwrap.String(s.Error, reportWidth-8)), 8)
	}
	return line
}

func printTaskSummary(w io.Writer, t *task.Task) {
	style := successStyle
	switch t.Status {
	case task.StatusFailed:
		style = errorStyle
	case task.StatusCancelled:
		style = warnStyle
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s %s\n",
		titleStyle.Render("Task"),
		dimStyle.Render(t.ID),
		style.Render(string(t.Status)))
	fmt.Fprintf(w, "%s %d/%d steps\n", dimStyle.Render("progress"), t.CompletedSteps, len(t.Steps))
	for _, s := range t.Steps {
		fmt.Fprintln(w, renderStep(s))
	}
	if t.Error != "" {
		fmt.Fprintln(w, errorStyle.Render(wordwrap.String(t.Error, reportWidth)))
	}
}

func printCycle(w io.Writer, c *task.ReActCycle) {
	fmt.Fprintf(w, "    %s %s\n", titleStyle.Render(fmt.Sprintf("cycle %d", c.Number)), dimStyle.Render(c.Duration.String()))
	row := func(phase, text string) {
		if text == "" {
			return
		}
		wrapped := wordwrap.String(text, reportWidth-18)
		lines := strings.Split(wrapped, "\n")
		fmt.Fprintf(w, "      %s%s\n", phaseStyle.Render(phase), lines[0])
		for _, l := range lines[1:] {
			fmt.Fprintf(w, "      %s%s\n", phaseStyle.Render(""), l)
		}
	}
	row("thought", fmt.Sprintf("%s (confidence %d)", c.Thought.Approach, c.Thought.Confidence))
	row("action", fmt.Sprintf("%s -> %s", c.Action.Type, outcomeText(c.Result)))
	row("observed", c.Observation.ActualOutcome)
	if c.Reflection.RootCause != "" && !c.Result.Success {
		row("cause", c.Reflection.RootCause)
	}
	row("learned", c.Reflection.KnowledgeGained)
}

func outcomeText(r task.StepResult) string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Success && r.Message != "":
		return "ok: " + r.Message
	case r.Success:
		return "ok"
	case r.Message != "":
		return "failed: " + r.Message
	}
	return "failed"
}

func renderApproval(title string, req task.ApprovalRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", warnStyle.Render("Approval required:"), titleStyle.Render(title))
	fmt.Fprintf(&b, "task %s  step %s\n", req.TaskID, req.StepID)
	fmt.Fprintf(&b, "action  %s\n", req.Action.String())
	reversible := "reversible"
	if !req.Impact.Reversible {
		reversible = errorStyle.Render("irreversible")
	}
	fmt.Fprintf(&b, "risk    %s, %s", req.Impact.RiskLevel, reversible)
	if len(req.Impact.FilesAffected) > 0 {
		fmt.Fprintf(&b, "\nfiles   %s", strings.Join(req.Impact.FilesAffected, ", "))
	}
	if req.Reasoning != "" {
		fmt.Fprintf(&b, "\n%s", wordwrap.String(req.Reasoning, reportWidth-4))
	}
	return approvalBox.Render(b.String())
}

func printPlan(w io.Writer, t *task.Task) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Plan"), dimStyle.Render(t.ID))
	if t.Request != "" {
		fmt.Fprintln(w, wordwrap.String(t.Request, reportWidth))
	}
	for _, s := range t.Steps {
		risk, reversible := approval.Classify(s.Action.Type)
		marker := dimStyle.Render("low")
		if approval.RequiresApproval(s.Action) {
			marker = warnStyle.Render(string(risk) + ", needs approval")
			if !reversible {
				marker = errorStyle.Render(string(risk) + ", irreversible, needs approval")
			}
		}
		fmt.Fprintf(w, "%2d. %-10s %s %s %s\n", s.Order, s.ID, s.Title, dimStyle.Render("("+s.Action.Type+")"), marker)
	}
}

func printHistory(w io.Writer, taskID string, recs []results.Record) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("History"), dimStyle.Render(taskID))
	for _, r := range recs {
		fmt.Fprintf(w, "%s %2d. %-10s attempt %d  %s\n",
			dimStyle.Render(r.Timestamp.Format("15:04:05")),
			r.Order, r.StepID, r.Attempt,
			stepStatusStyle(r.Status).Render(outcomeText(r.Result)))
		if r.RootCause != "" && r.Status == task.StepFailed {
			fmt.Fprintln(w, indent(dimStyle.Render(wordwrap.String(r.RootCause, reportWidth-8)), 8))
		}
	}
}

func printRegistryStatus(w io.Writer, st registry.Status) {
	style := successStyle
	switch st.State {
	case registry.StateFailed:
		style = errorStyle
	case registry.StateCancelled:
		style = warnStyle
	}
	fmt.Fprintf(w, "%s %-9s %d/%d %s\n",
		dimStyle.Render(st.ID),
		style.Render(string(st.State)),
		st.CompletedSteps, st.TotalSteps,
		st.Request)
	if st.Error != "" {
		fmt.Fprintln(w, indent(errorStyle.Render(wordwrap.String(st.Error, reportWidth-4)), 4))
	}
}

func indent(s string, n int) string {
	pad := strings.Repeat(" ", n)
	return pad + strings.ReplaceAll(s, "\n", "\n"+pad)
}
