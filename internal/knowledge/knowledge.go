// Package knowledge stores what step executions learned: successful approaches and logged mistakes.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes knowledge entries from mistakes.
type Kind string

const (
	KindKnowledge Kind = "knowledge"
	KindMistake   Kind = "mistake"
)

// Entry records something a successful cycle learned.
type Entry struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	StepID     string    `json:"step_id"`
	ActionType string    `json:"action_type"`
	Approach   string    `json:"approach"`
	Summary    string    `json:"summary"`
	Learnings  []string  `json:"learnings,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Mistake records a failed attempt that will be retried.
type Mistake struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	StepID     string    `json:"step_id"`
	ActionType string    `json:"action_type"`
	Attempt    int       `json:"attempt"`
	Approach   string    `json:"approach"`
	Error      string    `json:"error"`
	RootCause  string    `json:"root_cause"`
	Changes    []string  `json:"changes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store accepts knowledge entries.
type Store interface {
	AddKnowledge(ctx context.Context, e Entry) error
}

// MistakeStore accepts mistake records.
type MistakeStore interface {
	LogMistake(ctx context.Context, m Mistake) error
}

// Hit is a recalled record.
type Hit struct {
	Kind       Kind    `json:"kind"`
	ID         string  `json:"id"`
	ActionType string  `json:"action_type"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Recaller finds past records relevant to a query.
type Recaller interface {
	Recall(ctx context.Context, query string, limit int) ([]Hit, error)
}

// prepare fills in id and timestamp.
func prepare(id *string, created *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if created.IsZero() {
		*created = time.Now()
	}
}

// Text renders an entry as searchable text.
func (e Entry) Text() string {
	parts := []string{e.Summary}
	if e.Approach != "" {
		parts = append(parts, "approach: "+e.Approach)
	}
	parts = append(parts, e.Learnings...)
	return strings.Join(parts, "\n")
}

// Text renders a mistake as searchable text.
func (m Mistake) Text() string {
	parts := []string{}
	if m.Approach != "" {
		parts = append(parts, "approach: "+m.Approach)
	}
	if m.Error != "" {
		parts = append(parts, "error: "+m.Error)
	}
	if m.RootCause != "" {
		parts = append(parts, "root cause: "+m.RootCause)
	}
	parts = append(parts, m.Changes...)
	return strings.Join(parts, "\n")
}

// MemoryStore keeps knowledge and mistakes in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Entry
	mistakes []Mistake
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AddKnowledge stores e.
func (s *MemoryStore) AddKnowledge(ctx context.Context, e Entry) error {
	if e.Summary == "" && e.Approach == "" {
		return fmt.Errorf("knowledge entry is empty")
	}
	prepare(&e.ID, &e.CreatedAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// LogMistake stores m.
func (s *MemoryStore) LogMistake(ctx context.Context, m Mistake) error {
	prepare(&m.ID, &m.CreatedAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mistakes = append(s.mistakes, m)
	return nil
}

// Entries returns a copy of stored knowledge.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// Mistakes returns a copy of stored mistakes.
func (s *MemoryStore) Mistakes() []Mistake {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Mistake(nil), s.mistakes...)
}

// Recall scores records by how many query keywords they contain.
func (s *MemoryStore) Recall(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	terms := extractKeywords(query)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	var hits []Hit
	score := func(text string) float64 {
		lower := strings.ToLower(text)
		n := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				n++
			}
		}
		return float64(n) / float64(len(terms))
	}
	for _, e := range s.entries {
		if sc := score(e.ActionType + " " + e.Text()); sc > 0 {
			hits = append(hits, Hit{Kind: KindKnowledge, ID: e.ID, ActionType: e.ActionType, Text: e.Text(), Score: sc})
		}
	}
	for _, m := range s.mistakes {
		if sc := score(m.ActionType + " " + m.Text()); sc > 0 {
			hits = append(hits, Hit{Kind: KindMistake, ID: m.ID, ActionType: m.ActionType, Text: m.Text(), Score: sc})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true, "from": true,
	"was": true, "are": true, "were": true, "been": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "this": true, "that": true, "these": true, "those": true, "its": true,
	"into": true, "then": true, "than": true, "not": true,
}

// extractKeywords lowercases text and keeps distinct words of three or more letters.
func extractKeywords(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	seen := make(map[string]bool)
	var keywords []string
	for _, w := range words {
		if len(w) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
	}
	return keywords
}
