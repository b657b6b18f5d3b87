// Package fraud implements the multi-signal fraud ensemble: four
// independent detectors (pattern, model, sentiment, statistical) fused by
// weighted voting into a single FraudAssessment. Detector failures are
// isolated and excluded from aggregation; total failure degrades to a
// manual-review assessment rather than an error.
package fraud

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Category groups fraud indicator patterns by the behavior they describe.
type Category string

const (
	CategoryFabrication     Category = "fabrication"      // forged/fake document language
	CategoryUrgency         Category = "urgency"          // pressure for immediate payout
	CategoryRepeatClaims    Category = "repeat_claims"    // references to multiple prior incidents
	CategoryCashPressure    Category = "cash_pressure"    // large amounts tied to cash demands
	CategoryPreexisting     Category = "preexisting"      // prior damage passed off as new
	CategoryMissingEvidence Category = "missing_evidence" // conveniently unavailable proof
)

// Pattern holds a compiled regex with metadata.
type Pattern struct {
	Name        string         // Human-readable name for logging
	Regex       *regexp.Regexp // Compiled regex (never nil after load)
	Category    Category       // Indicator category
	Weight      float64        // Score contribution when matched
	Description string         // What this pattern detects
}

// Registry holds all compiled fraud patterns.
// Patterns are compiled once at construction, not per-request.
type Registry struct {
	mu  sync.RWMutex
	all []*Pattern
}

var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// DefaultRegistry returns the built-in pattern registry (singleton).
// Thread-safe and guaranteed to be initialized.
func DefaultRegistry() *Registry {
	initOnce.Do(func() {
		globalRegistry = newBuiltinRegistry()
	})
	return globalRegistry
}

// defaultPatternWeight matches the per-indicator increment used by the
// pattern detector's additive scoring.
const defaultPatternWeight = 0.15

func newBuiltinRegistry() *Registry {
	r := &Registry{}
	r.register("fabrication-language", `\b(fake|forged|counterfeit|fabricated)\b`, CategoryFabrication,
		"Explicit fabrication or forgery vocabulary")
	r.register("urgent-payout", `\b(urgent|immediately|asap|right now)\b.*\b(claim|payment)\b`, CategoryUrgency,
		"Urgency language tied to claim or payment")
	r.register("repeat-incidents", `\b(multiple|several|many)\b.*\b(claims|accidents|incidents)\b`, CategoryRepeatClaims,
		"References to a pattern of prior incidents")
	r.register("cash-demand", `\$\d{4,}.*\b(cash|payment|reimburse)\b`, CategoryCashPressure,
		"Four-figure-plus amount tied to a cash demand")
	r.register("preexisting-damage", `\b(pre-existing|prior|previous)\b.*\b(condition|injury|damage)\b`, CategoryPreexisting,
		"Prior condition or damage presented in a new claim")
	r.register("missing-evidence", `\b(witness|proof|evidence)\b.*\b(unavailable|lost|missing)\b`, CategoryMissingEvidence,
		"Supporting evidence described as conveniently unavailable")
	return r
}

func (r *Registry) register(name, pattern string, category Category, description string) {
	compiled := regexp.MustCompile(`(?i)` + pattern)
	r.all = append(r.all, &Pattern{
		Name:        name,
		Regex:       compiled,
		Category:    category,
		Weight:      defaultPatternWeight,
		Description: description,
	})
}

// MatchAll returns all patterns that match the text.
func (r *Registry) MatchAll(text string) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Pattern
	for _, p := range r.all {
		if p.Regex.MatchString(text) {
			matches = append(matches, p)
		}
	}
	return matches
}

// TotalPatterns returns the count of registered patterns.
func (r *Registry) TotalPatterns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// seedFile is the on-disk YAML format for pattern seeds.
type seedFile struct {
	Patterns []struct {
		Name        string  `yaml:"name"`
		Regex       string  `yaml:"regex"`
		Category    string  `yaml:"category"`
		Weight      float64 `yaml:"weight"`
		Description string  `yaml:"description"`
	} `yaml:"patterns"`
}

// LoadSeeds builds a registry from YAML seed files in dir, falling back to
// the built-in patterns when the directory is empty or unreadable. Seed
// files let fraud analysts ship new indicators without a rebuild.
func LoadSeeds(dir string) (*Registry, error) {
	if dir == "" {
		return DefaultRegistry(), nil
	}

	entries, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil || len(entries) == 0 {
		return DefaultRegistry(), fmt.Errorf("no pattern seeds in %s", dir)
	}

	r := &Registry{}
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			return DefaultRegistry(), fmt.Errorf("failed to read seed %s: %w", path, err)
		}
		var sf seedFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return DefaultRegistry(), fmt.Errorf("failed to parse seed %s: %w", path, err)
		}
		for _, s := range sf.Patterns {
			compiled, err := regexp.Compile(`(?i)` + s.Regex)
			if err != nil {
				return DefaultRegistry(), fmt.Errorf("invalid regex %q in %s: %w", s.Name, path, err)
			}
			weight := s.Weight
			if weight <= 0 {
				weight = defaultPatternWeight
			}
			r.all = append(r.all, &Pattern{
				Name:        s.Name,
				Regex:       compiled,
				Category:    Category(s.Category),
				Weight:      weight,
				Description: s.Description,
			})
		}
	}
	if len(r.all) == 0 {
		return DefaultRegistry(), fmt.Errorf("pattern seeds in %s contained no patterns", dir)
	}
	return r, nil
}
