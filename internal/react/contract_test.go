package react

import (
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"prose around", "Sure! Here it is:\n{\"a\":1}\nHope that helps.", `{"a":1}`},
		{"nested", `x {"a":{"b":2}} y`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`},
		{"escaped quote", `{"a":"say \"}\""}`, `{"a":"say \"}\""}`},
		{"skips invalid block", `{not json} then {"ok":true}`, `{"ok":true}`},
		{"fenced", "```json\n{\"a\":[1,2]}\n```", `{"a":[1,2]}`},
		{"none", "no json here", ""},
		{"unbalanced", `{"a":1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.content); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestDecodeStrict(t *testing.T) {
	var th thoughtReply
	err := decodeStrict("thought", `{"reasoning":"r","approach":"a","confidence":10,"expected_outcome":"e"}`, thoughtKeys, &th)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if th.Approach != "a" || th.Confidence != 10 {
		t.Errorf("decoded %+v", th)
	}

	err = decodeStrict("thought", `{"reasoning":"r","approach":null}`, thoughtKeys, &th)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if len(pe.Missing) != 3 {
		t.Errorf("expected 3 missing keys, got %v", pe.Missing)
	}
	if !errors.Is(err, ErrReasoningParse) {
		t.Error("ParseError should match ErrReasoningParse")
	}

	if err := decodeStrict("reflection", "nothing", reflectionKeys, &reflectionReply{}); !errors.Is(err, ErrReasoningParse) {
		t.Errorf("expected parse error for missing JSON, got %v", err)
	}

	err = decodeStrict("reflection", `{"should_retry":"yes","knowledge_gained":"k"}`, reflectionKeys, &reflectionReply{})
	if !errors.As(err, &pe) || pe.Cause == nil {
		t.Errorf("expected type error cause, got %v", err)
	}
}
