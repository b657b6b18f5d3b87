package fraud

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/policygenie/verdict/pkg/ml"
)

// Metadata carries structured claim attributes alongside the narrative.
type Metadata struct {
	ClaimAmount    float64
	PreviousClaims int
}

// DetectionResult is one detector's contribution to the ensemble.
type DetectionResult struct {
	Score      float64  // fraud signal in [0,1]
	Indicators []string // human-readable evidence, may be empty
}

// Detector is a single fraud signal source. Detect returns an error when
// the signal could not be computed; the ensemble excludes failed detectors
// from aggregation instead of propagating the error.
type Detector interface {
	Name() string
	Weight() float64
	Detect(ctx context.Context, text string, meta *Metadata) (DetectionResult, error)
}

// =============================================================================
// Pattern detector: regex and surface heuristics
// =============================================================================

var datePattern = regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`)

// PatternDetector scans for known fraud phrasing plus surface heuristics
// (very short narratives, urgency punctuation, abnormal date density).
// Scoring is additive per indicator, capped at 1.0.
type PatternDetector struct {
	registry *Registry
}

// NewPatternDetector creates a pattern detector over the given registry.
func NewPatternDetector(registry *Registry) *PatternDetector {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &PatternDetector{registry: registry}
}

func (d *PatternDetector) Name() string    { return "pattern_based" }
func (d *PatternDetector) Weight() float64 { return 0.2 }

func (d *PatternDetector) Detect(ctx context.Context, text string, meta *Metadata) (DetectionResult, error) {
	score := 0.0
	var indicators []string

	for _, p := range d.registry.MatchAll(text) {
		score += p.Weight
		indicators = append(indicators, "Pattern match: "+p.Description)
	}

	if len(strings.Fields(text)) < 20 {
		score += 0.1
		indicators = append(indicators, "Unusually brief description")
	}

	if strings.Count(text, "!") > 3 {
		score += 0.05
		indicators = append(indicators, "Excessive urgency markers")
	}

	if len(datePattern.FindAllString(text, -1)) > 5 {
		score += 0.1
		indicators = append(indicators, "Multiple conflicting dates")
	}

	if score > 1.0 {
		score = 1.0
	}
	return DetectionResult{Score: score, Indicators: indicators}, nil
}

// =============================================================================
// Model detector: local text-classification signal
// =============================================================================

// ModelDetector maps a fraud-classification model's output to [0,1]:
// a fraud label contributes its confidence, a clean label 1 - confidence.
type ModelDetector struct {
	classifier *ml.TextClassifier
}

// NewModelDetector wraps a fraud classification model.
func NewModelDetector(classifier *ml.TextClassifier) *ModelDetector {
	return &ModelDetector{classifier: classifier}
}

func (d *ModelDetector) Name() string    { return "ml_based" }
func (d *ModelDetector) Weight() float64 { return 0.4 }

// isFraudLabel covers the label conventions of the supported models.
func isFraudLabel(label string) bool {
	switch label {
	case "FRAUD", "LABEL_1", "POSITIVE":
		return true
	default:
		return false
	}
}

func (d *ModelDetector) Detect(ctx context.Context, text string, meta *Metadata) (DetectionResult, error) {
	// Truncate long narratives to the model's usable window.
	if len(text) > 512 {
		text = text[:512]
	}

	result, err := d.classifier.ClassifySingle(ctx, text)
	if err != nil {
		return DetectionResult{}, err
	}

	if isFraudLabel(result.Label) {
		return DetectionResult{
			Score:      result.Confidence,
			Indicators: []string{fmt.Sprintf("ML detected fraud signals (confidence: %.2f)", result.Confidence)},
		}, nil
	}
	return DetectionResult{Score: 1 - result.Confidence}, nil
}

// =============================================================================
// Sentiment detector: emotional manipulation signal
// =============================================================================

// SentimentDetector flags extreme sentiment. Highly negative narratives
// score 0.3 (possible emotional manipulation), implausibly positive ones
// 0.2; everything else contributes nothing.
type SentimentDetector struct {
	classifier *ml.TextClassifier
}

// NewSentimentDetector wraps a general sentiment model.
func NewSentimentDetector(classifier *ml.TextClassifier) *SentimentDetector {
	return &SentimentDetector{classifier: classifier}
}

func (d *SentimentDetector) Name() string    { return "sentiment_based" }
func (d *SentimentDetector) Weight() float64 { return 0.2 }

func (d *SentimentDetector) Detect(ctx context.Context, text string, meta *Metadata) (DetectionResult, error) {
	if len(text) > 512 {
		text = text[:512]
	}

	result, err := d.classifier.ClassifySingle(ctx, text)
	if err != nil {
		return DetectionResult{}, err
	}

	label := strings.ToUpper(result.Label)
	switch {
	case label == "NEGATIVE" && result.Confidence > 0.95:
		return DetectionResult{
			Score:      0.3,
			Indicators: []string{"Extremely negative sentiment (possible manipulation)"},
		}, nil
	case label == "POSITIVE" && result.Confidence > 0.95:
		return DetectionResult{
			Score:      0.2,
			Indicators: []string{"Unusually positive sentiment"},
		}, nil
	}
	return DetectionResult{}, nil
}

// =============================================================================
// Statistical detector: lexical and amount anomalies
// =============================================================================

// StatisticalDetector applies threshold heuristics on text features and
// claim metadata. Increments are fixed and the sum is capped at 1.0.
type StatisticalDetector struct {
	highClaimAmount float64
}

// NewStatisticalDetector creates a statistical detector. highClaimAmount
// is the claim value above which the high-amount increment applies.
func NewStatisticalDetector(highClaimAmount float64) *StatisticalDetector {
	if highClaimAmount <= 0 {
		highClaimAmount = 50000
	}
	return &StatisticalDetector{highClaimAmount: highClaimAmount}
}

func (d *StatisticalDetector) Name() string    { return "statistical" }
func (d *StatisticalDetector) Weight() float64 { return 0.2 }

func (d *StatisticalDetector) Detect(ctx context.Context, text string, meta *Metadata) (DetectionResult, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return DetectionResult{}, fmt.Errorf("empty narrative")
	}

	total := 0
	for _, w := range words {
		total += len(w)
	}
	meanWordLength := float64(total) / float64(len(words))

	score := 0.0
	var indicators []string

	if meanWordLength > 10 {
		score += 0.1
		indicators = append(indicators, "Unusually complex language")
	}

	if meta != nil && meta.ClaimAmount > d.highClaimAmount {
		score += 0.15
		indicators = append(indicators, "High claim amount")
	}

	if score > 1.0 {
		score = 1.0
	}
	return DetectionResult{Score: score, Indicators: indicators}, nil
}
