// Package rag implements the retrieval layer: an embedded vector store of
// policy document passages, a word-window chunker, and a clause-type
// labeler. Adjudication queries it for grounding context; ingest feeds it.
package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Passage is one stored or retrieved policy fragment.
type Passage struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	ClauseType string  `json:"clause_type"`
	Similarity float32 `json:"similarity,omitempty"`
}

// Store wraps an in-process chromem collection of policy passages.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	mu         sync.RWMutex
	count      int
}

// NewStore creates a vector store using the supplied embedding function.
func NewStore(embeddingFunc chromem.EmbeddingFunc) (*Store, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection("policy_passages", nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return &Store{db: db, collection: collection}, nil
}

// Add stores passages in the collection. Embeddings are computed
// sequentially (1 worker) so a local embedding server is not overwhelmed.
func (s *Store) Add(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(passages))
	for i, p := range passages {
		docs[i] = chromem.Document{
			ID:      p.ID,
			Content: p.Content,
			Metadata: map[string]string{
				"source":      p.Source,
				"clause_type": p.ClauseType,
			},
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add passages: %w", err)
	}
	s.count += len(passages)
	return nil
}

// Count returns the number of stored passages.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Retrieve returns the k most similar passages to the query.
// An empty store yields an empty result, not an error.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 5
	}
	if k > s.count {
		k = s.count
	}

	// Case-normalized queries match embeddings more reliably.
	results, err := s.collection.Query(ctx, strings.ToLower(query), k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	passages := make([]Passage, len(results))
	for i, r := range results {
		passages[i] = Passage{
			ID:         r.ID,
			Content:    r.Content,
			Source:     r.Metadata["source"],
			ClauseType: r.Metadata["clause_type"],
			Similarity: r.Similarity,
		}
	}
	return passages, nil
}
