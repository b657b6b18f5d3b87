// Package risk implements the multi-factor underwriting aggregator:
// rule-weighted base scoring, financial-sentiment and external-factor
// adjustments, fraud fold-in, the decision threshold ladder, and
// risk-multiplied premium pricing.
package risk

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ApplicantProfile is the normalized applicant view all scoring runs on.
type ApplicantProfile struct {
	Age            int      `json:"age"`
	Gender         string   `json:"gender"`
	Occupation     string   `json:"occupation"`
	Location       string   `json:"location"`
	HealthStatus   string   `json:"health_status"`
	Smoking        bool     `json:"smoking"`
	CreditScore    int      `json:"credit_score"`
	ClaimsHistory  []string `json:"claims_history"`
	CoverageYears  int      `json:"coverage_years"`
	PaymentHistory string   `json:"payment_history"`
}

var (
	agePattern        = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:years?\s*old|yo)\b`)
	smokerPattern     = regexp.MustCompile(`(?i)\b(smoker|smoking)\b`)
	occupationPattern = regexp.MustCompile(`(?i)\b(?:occupation|work|job):\s*(\w+)`)
)

// ParseProfile normalizes raw applicant input. It accepts a structured
// JSON object, a JSON string wrapping one, or free text, from which it
// extracts what the intake patterns can find. It never fails: unusable
// input yields a default profile that downstream scoring treats neutrally.
func ParseProfile(raw json.RawMessage) *ApplicantProfile {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return fromMap(m)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var inner map[string]any
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			return fromMap(inner)
		}
		return FromText(s)
	}

	return fromMap(nil)
}

// FromText extracts profile fields from a free-text description.
func FromText(text string) *ApplicantProfile {
	m := map[string]any{}
	if match := agePattern.FindStringSubmatch(text); match != nil {
		if age, err := strconv.Atoi(match[1]); err == nil {
			m["age"] = age
		}
	}
	if smokerPattern.MatchString(text) {
		m["smoking"] = true
	}
	if match := occupationPattern.FindStringSubmatch(text); match != nil {
		m["occupation"] = match[1]
	}
	return fromMap(m)
}

func fromMap(m map[string]any) *ApplicantProfile {
	p := &ApplicantProfile{
		HealthStatus: "unknown",
		CreditScore:  650,
	}
	if m == nil {
		return p
	}

	p.Age = intField(m, "age", 0)
	p.Gender = strings.ToLower(stringField(m, "gender"))
	p.Occupation = strings.ToLower(stringField(m, "occupation"))
	p.Location = strings.ToLower(stringField(m, "location"))
	if hs := stringField(m, "health_status"); hs != "" {
		p.HealthStatus = hs
	}
	p.Smoking = boolField(m, "smoking")
	p.CreditScore = intField(m, "credit_score", 650)
	p.CoverageYears = intField(m, "coverage_years", 0)
	p.PaymentHistory = stringField(m, "payment_history")

	if raw, ok := m["claims_history"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				p.ClaimsHistory = append(p.ClaimsHistory, s)
			}
		}
	}
	return p
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolField(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
