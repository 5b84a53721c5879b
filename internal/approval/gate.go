// Package approval classifies risky actions and brokers human approval decisions.
package approval

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/vinayprograms/taskrunner/internal/task"
)

// Class groups action types by their effect.
type Class string

const (
	ClassDelete Class = "delete"
	ClassWrite  Class = "write"
	ClassCommit Class = "commit"
	ClassRead   Class = "read"
	ClassOther  Class = "other"
)

var classTokens = map[string]Class{
	"delete":  ClassDelete,
	"remove":  ClassDelete,
	"rm":      ClassDelete,
	"rmdir":   ClassDelete,
	"destroy": ClassDelete,
	"purge":   ClassDelete,
	"drop":    ClassDelete,

	"write":   ClassWrite,
	"create":  ClassWrite,
	"modify":  ClassWrite,
	"edit":    ClassWrite,
	"update":  ClassWrite,
	"append":  ClassWrite,
	"move":    ClassWrite,
	"rename":  ClassWrite,
	"shell":   ClassWrite,
	"execute": ClassWrite,
	"exec":    ClassWrite,

	"commit":  ClassCommit,
	"push":    ClassCommit,
	"merge":   ClassCommit,
	"rebase":  ClassCommit,
	"deploy":  ClassCommit,
	"publish": ClassCommit,

	"read":   ClassRead,
	"list":   ClassRead,
	"get":    ClassRead,
	"search": ClassRead,
	"status": ClassRead,
	"diff":   ClassRead,
	"log":    ClassRead,
}

// Delete outranks write, write outranks commit, commit outranks read.
var classRank = map[Class]int{
	ClassDelete: 4,
	ClassWrite:  3,
	ClassCommit: 2,
	ClassRead:   1,
	ClassOther:  0,
}

// pathKeys are parameter names treated as file references.
var pathKeys = []string{"path", "file", "filename", "target", "source", "destination", "dest", "dir", "directory", "files", "paths"}

// affixMin is the shortest class token matched as a prefix or suffix of a
// word, so "overwrite" is a write but "format" is not an "rm".
const affixMin = 4

// ClassOf returns the class of an action type such as "file.delete",
// "git_commit" or "deleteFile".
func ClassOf(actionType string) Class {
	best := ClassOther
	for _, w := range words(actionType) {
		if c := wordClass(w); classRank[c] > classRank[best] {
			best = c
		}
	}
	return best
}

// words splits an action type on separators and lower-to-upper case
// boundaries and lowercases the pieces.
func words(actionType string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	var prev rune
	for _, r := range actionType {
		switch {
		case r == '.' || r == '_' || r == '-' || r == ':' || r == '/' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
		prev = r
	}
	flush()
	return out
}

func wordClass(w string) Class {
	if c, ok := classTokens[w]; ok {
		return c
	}
	best := ClassOther
	for tok, c := range classTokens {
		if len(tok) < affixMin || len(w) <= len(tok) {
			continue
		}
		if (strings.HasPrefix(w, tok) || strings.HasSuffix(w, tok)) && classRank[c] > classRank[best] {
			best = c
		}
	}
	return best
}

// Classify returns the risk level and reversibility of an action type.
func Classify(actionType string) (task.RiskLevel, bool) {
	switch ClassOf(actionType) {
	case ClassDelete:
		return task.RiskHigh, false
	case ClassWrite, ClassCommit:
		return task.RiskHigh, true
	default:
		return task.RiskLow, true
	}
}

// RequiresApproval reports whether an action must be confirmed before it runs.
func RequiresApproval(action task.Action) bool {
	risk, _ := Classify(action.Type)
	return risk == task.RiskHigh
}

// FilesAffected collects file paths referenced by the action parameters, deduplicated in order.
func FilesAffected(action task.Action) []string {
	var files []string
	seen := make(map[string]bool)
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		files = append(files, v)
	}
	for _, key := range pathKeys {
		switch v := action.Params[key].(type) {
		case string:
			add(v)
		case []string:
			for _, s := range v {
				add(s)
			}
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		}
	}
	return files
}

// NewRequest builds the approval request for a step's action.
func NewRequest(t *task.Task, step *task.Step) task.ApprovalRequest {
	risk, reversible := Classify(step.Action.Type)
	files := FilesAffected(step.Action)
	if files == nil {
		files = []string{}
	}

	taskID := ""
	if t != nil {
		taskID = t.ID
	}

	return task.ApprovalRequest{
		TaskID:    taskID,
		StepID:    step.ID,
		Action:    step.Action,
		Reasoning: reasoningFor(step, ClassOf(step.Action.Type), reversible),
		Impact: task.Impact{
			FilesAffected: files,
			Reversible:    reversible,
			RiskLevel:     risk,
		},
		CreatedAt: time.Now(),
	}
}

func reasoningFor(step *task.Step, class Class, reversible bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Step %d (%s) wants to run %q", step.Order, step.Title, step.Action.Type)
	switch class {
	case ClassDelete:
		sb.WriteString(", which deletes data")
	case ClassWrite:
		sb.WriteString(", which changes files or runs commands")
	case ClassCommit:
		sb.WriteString(", which records or publishes changes")
	}
	if !reversible {
		sb.WriteString(" and cannot be undone")
	}
	sb.WriteString(".")
	if step.Description != "" {
		sb.WriteString(" ")
		sb.WriteString(step.Description)
	}
	return sb.String()
}
