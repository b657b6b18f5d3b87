package rag

import (
	"context"
	"strings"

	"github.com/policygenie/verdict/pkg/ml"
)

// ClauseGeneral is the label for passages the model cannot place.
const ClauseGeneral = "GENERAL"

// minLabelConfidence gates the clause model: below this the passage is
// filed as GENERAL rather than trusting a weak guess.
const minLabelConfidence = 0.4

// ClauseLabeler tags policy passages with their clause type
// (coverage, exclusion, condition, ...) using a local classifier.
type ClauseLabeler struct {
	classifier *ml.TextClassifier
}

// NewClauseLabeler wraps a clause-type classification model.
// classifier may be nil or not ready; labeling then degrades to GENERAL.
func NewClauseLabeler(classifier *ml.TextClassifier) *ClauseLabeler {
	return &ClauseLabeler{classifier: classifier}
}

// Label returns the clause type for a passage, GENERAL when the model is
// unavailable, errors, or is not confident.
func (l *ClauseLabeler) Label(ctx context.Context, passage string) string {
	if l == nil || !l.classifier.IsReady() {
		return ClauseGeneral
	}

	result, err := l.classifier.ClassifySingle(ctx, passage)
	if err != nil || result.Confidence < minLabelConfidence {
		return ClauseGeneral
	}

	label := strings.ToUpper(strings.TrimSpace(result.Label))
	if label == "" {
		return ClauseGeneral
	}
	return label
}
