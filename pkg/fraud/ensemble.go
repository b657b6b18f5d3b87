package fraud

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"sync"
	"time"

	"github.com/policygenie/verdict/pkg/cache"
	"github.com/policygenie/verdict/pkg/httputil"
)

// cacheNamespace prefixes fraud assessment cache keys.
const cacheNamespace = "fraud"

// Assessment is the fused verdict of all detectors for one narrative.
type Assessment struct {
	FraudScore       float64            `json:"fraud_score"`
	IsSuspicious     bool               `json:"is_suspicious"`
	Confidence       float64            `json:"confidence"`
	Indicators       []string           `json:"indicators"`
	RiskLevel        string             `json:"risk_level"`
	Recommendation   string             `json:"recommendation"`
	DetectionMethods map[string]float64 `json:"detection_methods"`
	Timestamp        time.Time          `json:"timestamp"`
	Error            string             `json:"error,omitempty"`
}

// Ensemble fuses the signal detectors into a single assessment.
// Construct with NewEnsemble; the zero value is not usable.
type Ensemble struct {
	detectors []Detector // canonical order: pattern, model, sentiment, statistical
	cache     *cache.Cache
	threshold float64
	ttl       time.Duration
	sem       *httputil.Semaphore
}

// NewEnsemble creates the fraud ensemble. Detectors are evaluated in the
// given order; their declared weights drive aggregation. threshold is the
// suspicion cutoff, ttl the cache lifetime for assessments.
func NewEnsemble(detectors []Detector, c *cache.Cache, threshold float64, ttl time.Duration) *Ensemble {
	if threshold <= 0 {
		threshold = 0.75
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Ensemble{
		detectors: detectors,
		cache:     c,
		threshold: threshold,
		ttl:       ttl,
		sem:       httputil.NewSemaphore(8),
	}
}

// Threshold returns the configured suspicion cutoff.
func (e *Ensemble) Threshold() float64 { return e.threshold }

// Assess runs all detectors concurrently and fuses their scores.
// It never returns an error: detector failures are excluded from
// aggregation, and total failure yields the degraded manual-review
// assessment. Identical narratives within the TTL window are served
// from cache.
func (e *Ensemble) Assess(ctx context.Context, text string, meta *Metadata) *Assessment {
	key := Fingerprint(text)

	if e.cache != nil {
		if raw, ok := e.cache.Get(ctx, cacheNamespace, key, e.ttl); ok {
			var cached Assessment
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached
			}
		}
	}

	type slot struct {
		result DetectionResult
		err    error
	}
	slots := make([]slot, len(e.detectors))

	// Fan out one goroutine per detector. A failure in one detector must
	// not cancel its siblings, so each writes its own slot and errors are
	// collected rather than short-circuited.
	var wg sync.WaitGroup
	for i, d := range e.detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			res, err := d.Detect(ctx, text, meta)
			slots[i] = slot{result: res, err: err}
		}(i, d)
	}
	wg.Wait()

	var (
		weightedSum float64
		weightSum   float64
		scores      []float64
		indicators  []string
		methods     = make(map[string]float64, len(e.detectors))
	)
	for i, d := range e.detectors {
		if slots[i].err != nil {
			log.Printf("[WARN] fraud: detector %s failed: %v", d.Name(), slots[i].err)
			methods[d.Name()] = 0
			continue
		}
		s := slots[i].result.Score
		weightedSum += s * d.Weight()
		weightSum += d.Weight()
		scores = append(scores, s)
		indicators = append(indicators, slots[i].result.Indicators...)
		methods[d.Name()] = s
	}

	if weightSum == 0 {
		return degraded(methods)
	}

	score := round3(weightedSum / weightSum)
	riskLevel, recommendation := assessRiskLevel(score)

	assessment := &Assessment{
		FraudScore:       score,
		IsSuspicious:     score > e.threshold,
		Confidence:       confidence(scores),
		Indicators:       dedupe(indicators),
		RiskLevel:        riskLevel,
		Recommendation:   recommendation,
		DetectionMethods: methods,
		Timestamp:        time.Now().UTC(),
	}

	e.store(ctx, key, assessment)
	return assessment
}

// AssessBatch assesses multiple narratives with bounded concurrency.
// Results are returned in input order.
func (e *Ensemble) AssessBatch(ctx context.Context, texts []string, metas []*Metadata) []*Assessment {
	results := make([]*Assessment, len(texts))

	var wg sync.WaitGroup
	for i, text := range texts {
		var meta *Metadata
		if i < len(metas) {
			meta = metas[i]
		}
		if err := e.sem.Acquire(ctx); err != nil {
			results[i] = degraded(nil)
			continue
		}
		wg.Add(1)
		go func(i int, text string, meta *Metadata) {
			defer wg.Done()
			defer e.sem.Release()
			results[i] = e.Assess(ctx, text, meta)
		}(i, text, meta)
	}
	wg.Wait()
	return results
}

func (e *Ensemble) store(ctx context.Context, key string, a *Assessment) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	e.cache.Set(ctx, cacheNamespace, key, raw, e.ttl)
}

// degraded is the assessment substituted when every detector failed.
// Adjudication must always be able to proceed to its manual fallback,
// so this is a result, not an error.
func degraded(methods map[string]float64) *Assessment {
	if methods == nil {
		methods = map[string]float64{}
	}
	return &Assessment{
		FraudScore:       0.5,
		IsSuspicious:     false,
		Confidence:       0.0,
		Indicators:       []string{"Error in detection"},
		RiskLevel:        "UNKNOWN",
		Recommendation:   "Manual review required due to system error",
		DetectionMethods: methods,
		Timestamp:        time.Now().UTC(),
		Error:            "all detection methods failed",
	}
}

// confidence derives agreement from inter-detector variance: low variance
// means high confidence. Fewer than two scores cannot agree or disagree,
// so confidence floors at 0.5.
func confidence(scores []float64) float64 {
	if len(scores) < 2 {
		return 0.5
	}
	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	variance := 0.0
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(scores))

	return round3(1 - math.Min(variance*2, 0.5))
}

// assessRiskLevel maps the fused score onto the investigator band ladder.
func assessRiskLevel(score float64) (string, string) {
	switch {
	case score >= 0.85:
		return "CRITICAL", "REJECT - High fraud probability. Escalate to fraud investigation unit."
	case score >= 0.75:
		return "HIGH", "FLAG - Suspicious activity detected. Mandatory manual review required."
	case score >= 0.50:
		return "MEDIUM", "REVIEW - Some fraud indicators present. Recommend additional verification."
	case score >= 0.30:
		return "LOW", "PROCEED - Low risk, but monitor for patterns."
	default:
		return "MINIMAL", "APPROVE - No significant fraud indicators detected."
	}
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
