package task

import "time"

// StepResult is the outcome of executing a step's action.
type StepResult struct {
	Success       bool        `json:"success"`
	Message       string      `json:"message"`
	Data          interface{} `json:"data,omitempty"`
	FilesCreated  []string    `json:"files_created,omitempty"`
	FilesModified []string    `json:"files_modified,omitempty"`
	Skipped       bool        `json:"skipped,omitempty"`
}

// RiskLevel grades how dangerous an action is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Impact summarises the effect of an action awaiting approval.
type Impact struct {
	FilesAffected []string  `json:"files_affected"`
	Reversible    bool      `json:"reversible"`
	RiskLevel     RiskLevel `json:"risk_level"`
}

// ApprovalRequest asks a human to confirm a step's action.
type ApprovalRequest struct {
	TaskID    string    `json:"task_id"`
	StepID    string    `json:"step_id"`
	Action    Action    `json:"action"`
	Reasoning string    `json:"reasoning"`
	Impact    Impact    `json:"impact"`
	CreatedAt time.Time `json:"created_at"`
}

// Thought is the pre-action reasoning of a cycle.
type Thought struct {
	Reasoning       string    `json:"reasoning"`
	Approach        string    `json:"approach"`
	Alternatives    []string  `json:"alternatives,omitempty"`
	Confidence      int       `json:"confidence"` // 0-100
	Risks           []string  `json:"risks,omitempty"`
	ExpectedOutcome string    `json:"expected_outcome"`
	Timestamp       time.Time `json:"timestamp"`
}

// Observation compares the expected outcome with what happened.
type Observation struct {
	ActualOutcome string    `json:"actual_outcome"`
	Success       bool      `json:"success"`
	Differences   []string  `json:"differences,omitempty"`
	Learnings     []string  `json:"learnings,omitempty"`
	Unexpected    []string  `json:"unexpected,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Reflection decides what to do after an attempt.
type Reflection struct {
	WhatWorked      []string  `json:"what_worked,omitempty"`
	WhatFailed      []string  `json:"what_failed,omitempty"`
	RootCause       string    `json:"root_cause,omitempty"`
	ShouldRetry     bool      `json:"should_retry"`
	Changes         []string  `json:"changes,omitempty"`
	KnowledgeGained string    `json:"knowledge_gained"`
	Timestamp       time.Time `json:"timestamp"`
}

// ReActCycle is one Thought -> Action -> Observation -> Reflection attempt.
type ReActCycle struct {
	ID          string        `json:"id"`
	StepID      string        `json:"step_id"`
	Number      int           `json:"number"` // 1-based
	Thought     Thought       `json:"thought"`
	Action      Action        `json:"action"`
	Result      StepResult    `json:"result"`
	ActionTime  time.Duration `json:"action_time"`
	Observation Observation   `json:"observation"`
	Reflection  Reflection    `json:"reflection"`
	Duration    time.Duration `json:"duration"`
}
