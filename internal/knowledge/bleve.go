package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// document is the indexed form of an entry or mistake.
type document struct {
	Kind       string    `json:"kind"`
	TaskID     string    `json:"task_id"`
	StepID     string    `json:"step_id"`
	ActionType string    `json:"action_type"`
	Text       string    `json:"text"`
	Attempt    int       `json:"attempt"`
	CreatedAt  time.Time `json:"created_at"`
}

// BleveStore persists knowledge and mistakes in a bleve full-text index.
type BleveStore struct {
	mu    sync.RWMutex
	index bleve.Index
}

// NewBleveStore opens or creates the index under dir. An empty dir keeps the index in memory.
func NewBleveStore(dir string) (*BleveStore, error) {
	if dir == "" {
		index, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
		return &BleveStore{index: index}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create knowledge directory: %w", err)
	}
	indexPath := filepath.Join(dir, "knowledge.bleve")

	var index bleve.Index
	var err error
	if _, statErr := os.Stat(indexPath); os.IsNotExist(statErr) {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
	} else {
		index, err = bleve.Open(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bleve index: %w", err)
		}
	}
	return &BleveStore{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	keyword := bleve.NewKeywordFieldMapping()

	doc.AddFieldMappingsAt("kind", keyword)
	doc.AddFieldMappingsAt("task_id", keyword)
	doc.AddFieldMappingsAt("step_id", keyword)
	doc.AddFieldMappingsAt("action_type", keyword)
	doc.AddFieldMappingsAt("text", text)
	doc.AddFieldMappingsAt("attempt", bleve.NewNumericFieldMapping())
	doc.AddFieldMappingsAt("created_at", bleve.NewDateTimeFieldMapping())

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

// AddKnowledge indexes e.
func (s *BleveStore) AddKnowledge(ctx context.Context, e Entry) error {
	if e.Summary == "" && e.Approach == "" {
		return fmt.Errorf("knowledge entry is empty")
	}
	prepare(&e.ID, &e.CreatedAt)
	return s.put(e.ID, document{
		Kind:       string(KindKnowledge),
		TaskID:     e.TaskID,
		StepID:     e.StepID,
		ActionType: e.ActionType,
		Text:       e.Text(),
		CreatedAt:  e.CreatedAt,
	})
}

// LogMistake indexes m.
func (s *BleveStore) LogMistake(ctx context.Context, m Mistake) error {
	prepare(&m.ID, &m.CreatedAt)
	return s.put(m.ID, document{
		Kind:       string(KindMistake),
		TaskID:     m.TaskID,
		StepID:     m.StepID,
		ActionType: m.ActionType,
		Text:       m.Text(),
		Attempt:    m.Attempt,
		CreatedAt:  m.CreatedAt,
	})
}

func (s *BleveStore) put(id string, doc document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Index(id, doc); err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	return nil
}

// Recall runs a BM25 match over the indexed text. Records whose action type
// matches a query term are boosted.
func (s *BleveStore) Recall(ctx context.Context, queryText string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	terms := extractKeywords(queryText)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	queries := []query.Query{bleve.NewMatchQuery(strings.Join(terms, " "))}
	for _, field := range strings.Fields(queryText) {
		tq := bleve.NewTermQuery(field)
		tq.SetField("action_type")
		tq.SetBoost(2)
		queries = append(queries, tq)
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(queries...))
	req.Size = limit
	req.Fields = []string{"kind", "action_type", "text"}

	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		kind, _ := h.Fields["kind"].(string)
		action, _ := h.Fields["action_type"].(string)
		text, _ := h.Fields["text"].(string)
		hits = append(hits, Hit{
			Kind:       Kind(kind),
			ID:         h.ID,
			ActionType: action,
			Text:       text,
			Score:      h.Score,
		})
	}
	return hits, nil
}

// Count returns the number of indexed records.
func (s *BleveStore) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Close closes the index.
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}
