package react

import (
	"fmt"
	"time"

	"github.com/vinayprograms/taskrunner/internal/task"
)

// DefaultConfidence is used when no thought could be obtained.
const DefaultConfidence = 50

// Defaults builds the conservative values used whenever a reasoning phase
// cannot produce a valid reply.
type Defaults struct{}

// Thought follows the planned action as-is.
func (Defaults) Thought(step *task.Step) task.Thought {
	expected := step.Description
	if expected == "" {
		expected = fmt.Sprintf("%s completes successfully", step.Action.Type)
	}
	return task.Thought{
		Reasoning:       "Reasoning unavailable; following the planned action.",
		Approach:        step.Action.Type,
		Alternatives:    []string{},
		Confidence:      DefaultConfidence,
		Risks:           []string{"unknown"},
		ExpectedOutcome: expected,
		Timestamp:       time.Now(),
	}
}

// Observation reports the action result verbatim.
func (Defaults) Observation(result task.StepResult) task.Observation {
	obs := task.Observation{
		ActualOutcome: result.Message,
		Success:       result.Success,
		Differences:   []string{},
		Learnings:     []string{},
		Unexpected:    []string{},
		Timestamp:     time.Now(),
	}
	if obs.ActualOutcome == "" {
		if result.Success {
			obs.ActualOutcome = "action succeeded"
		} else {
			obs.ActualOutcome = "action failed"
		}
	}
	if !result.Success {
		obs.Differences = []string{"expected success, action failed"}
	}
	return obs
}

// Reflection retries a failure while budget remains.
func (Defaults) Reflection(result task.StepResult, budgetLeft bool) task.Reflection {
	ref := task.Reflection{
		WhatWorked:  []string{},
		WhatFailed:  []string{},
		Changes:     []string{},
		ShouldRetry: !result.Success && budgetLeft,
		Timestamp:   time.Now(),
	}
	if result.Success {
		ref.WhatWorked = []string{"action completed"}
		ref.KnowledgeGained = "The planned action worked as specified."
	} else {
		ref.WhatFailed = []string{"action failed"}
		ref.RootCause = result.Message
		if ref.RootCause == "" {
			ref.RootCause = "unknown"
		}
	}
	return ref
}
