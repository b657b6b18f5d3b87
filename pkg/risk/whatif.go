package risk

import "context"

// WhatIfResult compares a current profile against a modified one under
// identical assessment settings.
type WhatIfResult struct {
	Current  *Assessment    `json:"current"`
	Scenario *Assessment    `json:"scenario"`
	Delta    map[string]any `json:"delta"`
}

// WhatIf assesses both profiles with fraud screening and explainability
// disabled so the comparison isolates the underwriting factors.
func (a *Assessor) WhatIf(ctx context.Context, current, scenario *ApplicantProfile, policyType string, coverage float64) *WhatIfResult {
	opts := Options{
		PolicyType:     policyType,
		CoverageAmount: coverage,
		FraudCheck:     false,
		Explainability: false,
	}

	currentResult := a.Assess(ctx, current, opts)
	scenarioResult := a.Assess(ctx, scenario, opts)

	return &WhatIfResult{
		Current:  currentResult,
		Scenario: scenarioResult,
		Delta: map[string]any{
			"risk_score_delta": round2(scenarioResult.RiskScore - currentResult.RiskScore),
			"premium_delta": map[string]float64{
				"annual":  round2(scenarioResult.Premium.Annual - currentResult.Premium.Annual),
				"monthly": round2(scenarioResult.Premium.Monthly - currentResult.Premium.Monthly),
			},
			"decision_changed": scenarioResult.Decision != currentResult.Decision,
		},
	}
}
