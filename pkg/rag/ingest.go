package rag

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/policygenie/verdict/pkg/fraud"
)

// Ingestor runs the document intake flow: reject too-short extractions,
// scan the full text for fraud signals, then chunk, label, and store.
type Ingestor struct {
	store    *Store
	labeler  *ClauseLabeler
	fraud    *fraud.Ensemble
	minChars int
	maxWords int
}

// NewIngestor wires the ingest flow. fraud may be nil to skip scanning.
func NewIngestor(store *Store, labeler *ClauseLabeler, ensemble *fraud.Ensemble, minChars, maxWords int) *Ingestor {
	if minChars <= 0 {
		minChars = 50
	}
	return &Ingestor{
		store:    store,
		labeler:  labeler,
		fraud:    ensemble,
		minChars: minChars,
		maxWords: maxWords,
	}
}

// IngestResult summarizes one document intake.
type IngestResult struct {
	DocumentID   string  `json:"document_id"`
	Source       string  `json:"source"`
	Chunks       int     `json:"chunks"`
	FraudScore   float64 `json:"fraud_score"`
	FraudFlagged bool    `json:"fraud_flagged"`
}

// IngestDocument chunks, labels, and stores one extracted document.
// Documents shorter than the extraction minimum are rejected outright;
// a fraud flag is recorded but does not block ingestion.
func (ing *Ingestor) IngestDocument(ctx context.Context, source, text string) (*IngestResult, error) {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < ing.minChars {
		return nil, fmt.Errorf("document %q too short to index (%d chars, need %d): likely a failed extraction", source, len(trimmed), ing.minChars)
	}

	result := &IngestResult{
		DocumentID: uuid.NewString(),
		Source:     source,
	}

	if ing.fraud != nil {
		assessment := ing.fraud.Assess(ctx, trimmed, nil)
		result.FraudScore = assessment.FraudScore
		result.FraudFlagged = assessment.IsSuspicious
		if assessment.IsSuspicious {
			log.Printf("[WARN] ingest: document %q flagged by fraud scan (score %.3f)", source, assessment.FraudScore)
		}
	}

	chunks := Chunk(trimmed, ing.maxWords)
	passages := make([]Passage, len(chunks))
	for i, c := range chunks {
		passages[i] = Passage{
			ID:         fmt.Sprintf("%s_%d", result.DocumentID, i),
			Content:    c,
			Source:     source,
			ClauseType: ing.labeler.Label(ctx, c),
		}
	}

	if err := ing.store.Add(ctx, passages); err != nil {
		return nil, fmt.Errorf("failed to index %q: %w", source, err)
	}
	result.Chunks = len(passages)
	return result, nil
}
