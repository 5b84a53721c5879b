package react

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrReasoningParse marks a reply that did not contain a usable JSON object.
var ErrReasoningParse = errors.New("reasoning reply did not match contract")

// ParseError describes why a reply was rejected.
type ParseError struct {
	Phase   string
	Missing []string
	Cause   error
}

func (e *ParseError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("%s reply missing keys: %s", e.Phase, strings.Join(e.Missing, ", "))
	case e.Cause != nil:
		return fmt.Sprintf("%s reply invalid: %v", e.Phase, e.Cause)
	default:
		return fmt.Sprintf("%s reply contained no JSON object", e.Phase)
	}
}

func (e *ParseError) Unwrap() error {
	return ErrReasoningParse
}

// Required keys per phase.
var (
	thoughtKeys     = []string{"reasoning", "approach", "confidence", "expected_outcome"}
	observationKeys = []string{"actual_outcome", "differences", "learnings"}
	reflectionKeys  = []string{"should_retry", "knowledge_gained"}
)

type thoughtReply struct {
	Reasoning       string   `json:"reasoning"`
	Approach        string   `json:"approach"`
	Alternatives    []string `json:"alternatives"`
	Confidence      float64  `json:"confidence"`
	Risks           []string `json:"risks"`
	ExpectedOutcome string   `json:"expected_outcome"`
}

type observationReply struct {
	ActualOutcome string   `json:"actual_outcome"`
	Differences   []string `json:"differences"`
	Learnings     []string `json:"learnings"`
	Unexpected    []string `json:"unexpected"`
}

type reflectionReply struct {
	WhatWorked      []string `json:"what_worked"`
	WhatFailed      []string `json:"what_failed"`
	RootCause       string   `json:"root_cause"`
	ShouldRetry     bool     `json:"should_retry"`
	Changes         []string `json:"changes"`
	KnowledgeGained string   `json:"knowledge_gained"`
}

// extractJSON returns the first balanced {...} block in content, ignoring
// braces that appear inside JSON strings.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	for start != -1 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(content); i++ {
			c := content[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := content[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate
					}
					i = len(content)
				}
			}
		}
		next := strings.Index(content[start+1:], "{")
		if next == -1 {
			return ""
		}
		start += next + 1
	}
	return ""
}

// decodeStrict decodes the first JSON object in content into out after
// checking that every required key is present.
func decodeStrict(phase, content string, required []string, out interface{}) error {
	raw := extractJSON(content)
	if raw == "" {
		return &ParseError{Phase: phase}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return &ParseError{Phase: phase, Cause: err}
	}
	var missing []string
	for _, k := range required {
		if v, ok := fields[k]; !ok || string(v) == "null" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &ParseError{Phase: phase, Missing: missing}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &ParseError{Phase: phase, Cause: err}
	}
	return nil
}

func clampConfidence(c float64) int {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return int(c + 0.5)
}
