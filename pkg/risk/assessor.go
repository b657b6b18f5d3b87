package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/policygenie/verdict/pkg/config"
	"github.com/policygenie/verdict/pkg/fraud"
	"github.com/policygenie/verdict/pkg/ml"
	"github.com/policygenie/verdict/pkg/rag"
)

// Generator produces free-text output for the explainability section.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
}

// Retriever fetches underwriting guideline passages for context.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]rag.Passage, error)
}

// Options selects per-request assessment behavior.
type Options struct {
	PolicyType     string
	CoverageAmount float64
	FraudCheck     bool
	Explainability bool
}

// Premium is the risk-adjusted price quote.
type Premium struct {
	Annual         float64 `json:"annual"`
	Monthly        float64 `json:"monthly"`
	BaseRate       float64 `json:"base_rate"`
	RiskMultiplier float64 `json:"risk_multiplier"`
	Currency       string  `json:"currency"`
}

// Compliance reports regulatory checks on the application.
type Compliance struct {
	Compliant          bool     `json:"compliant"`
	Issues             []string `json:"issues"`
	Warnings           []string `json:"warnings"`
	RegulationsChecked []string `json:"regulations_checked"`
}

// Assessment is the full underwriting result.
type Assessment struct {
	RiskScore          float64            `json:"risk_score"`
	Decision           string             `json:"decision"`
	Confidence         float64            `json:"confidence"`
	Reason             string             `json:"reason,omitempty"`
	Premium            Premium            `json:"premium_estimate"`
	PolicyType         string             `json:"policy_type"`
	CoverageAmount     float64            `json:"coverage_amount"`
	RiskBreakdown      map[string]float64 `json:"risk_breakdown"`
	RiskFactors        []string           `json:"risk_factors"`
	Recommendations    []string           `json:"recommendations"`
	DetailedAssessment string             `json:"detailed_assessment,omitempty"`
	Compliance         Compliance         `json:"compliance"`
	ScenarioAnalysis   map[string]any     `json:"scenario_analysis,omitempty"`
	FraudDetails       *fraud.Assessment  `json:"fraud_details,omitempty"`
	Timestamp          time.Time          `json:"timestamp"`
}

// Decision values.
const (
	DecisionApprove      = "APPROVE"
	DecisionReject       = "REJECT"
	DecisionManualReview = "MANUAL_REVIEW"
)

// Assessor computes RiskAssessments. All collaborators are optional
// except cfg: a nil fraud ensemble disables fraud checks, a nil
// financial classifier or retriever or generator degrades the
// corresponding sub-computation to its neutral default.
type Assessor struct {
	cfg       *config.Config
	fraud     *fraud.Ensemble
	financial *ml.TextClassifier
	retriever Retriever
	gen       Generator
	now       func() time.Time
}

// NewAssessor creates the risk aggregator.
func NewAssessor(cfg *config.Config, ensemble *fraud.Ensemble, financial *ml.TextClassifier, retriever Retriever, gen Generator) *Assessor {
	return &Assessor{
		cfg:       cfg,
		fraud:     ensemble,
		financial: financial,
		retriever: retriever,
		gen:       gen,
		now:       time.Now,
	}
}

// highRiskOccupations and riskyLocationKeywords drive the rule-weighted
// base score and the external-factor adjustment.
var (
	highRiskOccupations   = []string{"construction", "mining", "logging"}
	riskyLocationKeywords = []string{"coastal", "flood", "seismic", "hurricane", "tornado"}
)

// Assess runs the full multi-factor assessment. Sub-computations run
// concurrently and degrade independently to neutral defaults; the method
// itself never fails.
func (a *Assessor) Assess(ctx context.Context, profile *ApplicantProfile, opts Options) *Assessment {
	if profile == nil {
		profile = fromMap(nil)
	}
	if opts.PolicyType == "" {
		opts.PolicyType = "life"
	}
	coverage := opts.CoverageAmount
	if coverage <= 0 {
		coverage = 100000
	}

	var (
		wg            sync.WaitGroup
		baseScore     float64
		baseFactors   []string
		financialAdj  float64
		externalAdj   float64
		policyContext string
		fraudResult   *fraud.Assessment
	)

	// Each sub-computation owns one result slot; failures inside a slot
	// degrade to that slot's neutral default instead of aborting the run.
	wg.Add(3)
	go func() {
		defer wg.Done()
		baseScore, baseFactors = a.baseRiskScore(profile)
	}()
	go func() {
		defer wg.Done()
		financialAdj = a.financialAdjustment(ctx, profile)
	}()
	go func() {
		defer wg.Done()
		externalAdj, _ = a.externalAdjustment(profile)
	}()

	if a.retriever != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			policyContext = a.retrievePolicyContext(ctx, opts.PolicyType)
		}()
	}
	if opts.FraudCheck && a.fraud != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serialized, err := json.Marshal(profile)
			if err != nil {
				return
			}
			fraudResult = a.fraud.Assess(ctx, string(serialized), nil)
		}()
	}
	wg.Wait()

	// Fraud dominates every other signal.
	if fraudResult != nil && fraudResult.IsSuspicious {
		return &Assessment{
			RiskScore:       100,
			Decision:        DecisionReject,
			Confidence:      0.90,
			Reason:          "Application flagged for potential fraud",
			FraudDetails:    fraudResult,
			Recommendations: []string{"Escalate to fraud investigation unit"},
			PolicyType:      opts.PolicyType,
			CoverageAmount:  coverage,
			Compliance:      a.checkCompliance(profile, opts.PolicyType),
			Timestamp:       a.now().UTC(),
		}
	}

	fraudScore := 0.0
	if fraudResult != nil {
		fraudScore = fraudResult.FraudScore
	}

	finalScore := aggregateScore(baseScore, financialAdj, externalAdj, fraudScore)
	decision, confidence := a.decide(finalScore)

	result := &Assessment{
		RiskScore:      round2(finalScore),
		Decision:       decision,
		Confidence:     confidence,
		Premium:        calculatePremium(finalScore, coverage, opts.PolicyType),
		PolicyType:     opts.PolicyType,
		CoverageAmount: coverage,
		RiskBreakdown: map[string]float64{
			"base_risk":        baseScore,
			"financial_risk":   financialAdj,
			"external_factors": externalAdj,
			"fraud_risk":       fraudScore,
		},
		RiskFactors:     baseFactors,
		Recommendations: recommendations(finalScore, profile),
		Compliance:      a.checkCompliance(profile, opts.PolicyType),
		Timestamp:       a.now().UTC(),
	}

	if opts.Explainability {
		result.DetailedAssessment = a.detailedAssessment(ctx, profile, finalScore, policyContext)
		result.ScenarioAnalysis = a.scenarioAnalysis(ctx, profile, opts.PolicyType, finalScore)
	}

	return result
}

// baseRiskScore applies the rule-weighted demographic, behavioral, and
// financial factors to the baseline of 50.
func (a *Assessor) baseRiskScore(p *ApplicantProfile) (float64, []string) {
	score := 50.0
	var factors []string

	// Age outside the optimal 25-55 band, penalty grows with distance
	// from the band center, capped at 15.
	if p.Age > 0 && (p.Age < 25 || p.Age > 55) {
		penalty := math.Abs(float64(p.Age)-40) * 0.3
		score += math.Min(penalty, 15)
		factors = append(factors, fmt.Sprintf("Age (%d) outside optimal range", p.Age))
	}

	for _, occ := range highRiskOccupations {
		if p.Occupation == occ {
			score += 10
			factors = append(factors, "High-risk occupation: "+occ)
			break
		}
	}

	if p.Smoking {
		score *= 2.0
		factors = append(factors, "Smoking status (risk multiplier: 2.0x)")
	}

	if n := len(p.ClaimsHistory); n > 0 {
		score += math.Min(float64(n)*5, 20)
		factors = append(factors, fmt.Sprintf("%d previous claims on record", n))
	}

	if p.CreditScore < 600 {
		score += 15
		factors = append(factors, fmt.Sprintf("Low credit score (%d)", p.CreditScore))
	} else if p.CreditScore > 750 {
		score -= 5
		factors = append(factors, fmt.Sprintf("Excellent credit score (%d)", p.CreditScore))
	}

	return clamp(score, 0, 100), factors
}

// financialAdjustment maps financial sentiment onto a score adjustment:
// negative sentiment adds up to 10, positive subtracts up to 5.
func (a *Assessor) financialAdjustment(ctx context.Context, p *ApplicantProfile) float64 {
	if !a.financial.IsReady() {
		return 0
	}

	text := fmt.Sprintf(
		"Credit Score: %d\nClaims History: %d claims\nCoverage Years: %d years\nPayment History: %s",
		p.CreditScore, len(p.ClaimsHistory), p.CoverageYears, orUnknown(p.PaymentHistory),
	)

	result, err := a.financial.ClassifySingle(ctx, text)
	if err != nil {
		log.Printf("[WARN] risk: financial sentiment unavailable: %v", err)
		return 0
	}

	switch strings.ToLower(result.Label) {
	case "negative":
		return result.Confidence * 10
	case "positive":
		return -result.Confidence * 5
	default:
		return 0
	}
}

// externalAdjustment scores location and seasonal exposure.
func (a *Assessor) externalAdjustment(p *ApplicantProfile) (float64, []string) {
	adjustment := 0.0
	var factors []string

	location := strings.ToLower(p.Location)
	for _, keyword := range riskyLocationKeywords {
		if strings.Contains(location, keyword) {
			adjustment += 5
			factors = append(factors, "High-risk location: "+keyword+" zone")
		}
	}

	// Hurricane season exposure for coastal regions.
	month := int(a.now().Month())
	if month >= 6 && month <= 9 {
		if strings.Contains(location, "coastal") || strings.Contains(location, "florida") {
			adjustment += 3
			factors = append(factors, "Hurricane season - coastal area")
		}
	}

	return adjustment, factors
}

func (a *Assessor) retrievePolicyContext(ctx context.Context, policyType string) string {
	passages, err := a.retriever.Retrieve(ctx, "Underwriting guidelines for "+policyType+" insurance", 3)
	if err != nil {
		log.Printf("[WARN] risk: guideline retrieval failed: %v", err)
		return ""
	}
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = p.Content
	}
	return strings.Join(parts, "\n")
}

// aggregateScore folds the adjustments and the fraud signal into the base
// score. Fraud only contributes above 0.5: weak signals stay advisory.
func aggregateScore(base, financial, external, fraudScore float64) float64 {
	score := base + financial + external
	if fraudScore > 0.5 {
		score += fraudScore * 30
	}
	return clamp(score, 0, 100)
}

// decide maps the score onto the underwriting ladder. The order matters:
// the auto bands win first, then the review band, and the two residual
// bands default to APPROVE below review and REJECT above it.
func (a *Assessor) decide(score float64) (string, float64) {
	switch {
	case score <= a.cfg.AutoApproveThreshold:
		return DecisionApprove, 0.95
	case score >= a.cfg.AutoRejectThreshold:
		return DecisionReject, 0.90
	case score >= a.cfg.ReviewMinScore && score <= a.cfg.ReviewMaxScore:
		return DecisionManualReview, 0.70
	case score < a.cfg.ReviewMinScore:
		return DecisionApprove, 0.80
	default:
		return DecisionReject, 0.85
	}
}

// baseRates are annual premiums per $100k of coverage by policy type.
var baseRates = map[string]float64{
	"life":   500,
	"health": 3000,
	"auto":   1200,
	"home":   800,
}

const defaultBaseRate = 1000

func calculatePremium(riskScore, coverage float64, policyType string) Premium {
	baseRate, ok := baseRates[policyType]
	if !ok {
		baseRate = defaultBaseRate
	}

	multiplier := 1 + riskScore/100
	annual := (coverage / 100000) * baseRate * multiplier

	return Premium{
		Annual:         round2(annual),
		Monthly:        round2(annual / 12),
		BaseRate:       baseRate,
		RiskMultiplier: round2(multiplier),
		Currency:       "USD",
	}
}

func recommendations(score float64, p *ApplicantProfile) []string {
	var recs []string

	if p.Smoking {
		recs = append(recs, "Smoking cessation program can reduce premium by up to 30%")
	}
	if p.CreditScore < 700 {
		recs = append(recs, "Improving credit score can qualify for better rates")
	}
	if len(p.ClaimsHistory) > 2 {
		recs = append(recs, "Consider higher deductible to lower premium")
	}
	if score > 70 {
		recs = append(recs, "Additional medical examination may improve risk assessment")
	}
	if len(recs) == 0 {
		recs = append(recs, "Maintain current health and financial status for continued favorable rates")
	}
	return recs
}

func (a *Assessor) checkCompliance(p *ApplicantProfile, policyType string) Compliance {
	issues := []string{}
	warnings := []string{}

	if p.Age < 18 {
		issues = append(issues, "Applicant under minimum age (18)")
	}
	if p.Age > 80 && policyType == "life" {
		warnings = append(warnings, "Age exceeds typical underwriting guidelines for life insurance")
	}
	if p.Gender == "" || p.Age == 0 {
		warnings = append(warnings, "Incomplete demographic data may impact compliance")
	}

	return Compliance{
		Compliant:          len(issues) == 0,
		Issues:             issues,
		Warnings:           warnings,
		RegulationsChecked: []string{"ACA", "HIPAA", "State Insurance Codes"},
	}
}

func (a *Assessor) detailedAssessment(ctx context.Context, p *ApplicantProfile, score float64, policyContext string) string {
	if a.gen == nil {
		return ""
	}

	serialized, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return ""
	}

	prompt := fmt.Sprintf(`You are an expert insurance underwriter. Provide a detailed risk assessment.

APPLICANT DATA:
%s

RISK SCORE: %.1f/100

POLICY CONTEXT:
%s

Provide:
1. Overall risk assessment summary
2. Key risk factors identified
3. Mitigation strategies
4. Pricing rationale
5. Compliance considerations

Be specific, professional, and data-driven. Format as clear sections.
`, serialized, score, policyContext)

	assessment, err := a.gen.Generate(ctx, prompt, 0.7, 2000)
	if err != nil {
		log.Printf("[WARN] risk: detailed assessment unavailable: %v", err)
		return "Detailed assessment unavailable"
	}
	return assessment
}

// scenarioAnalysis recomputes the score under counterfactual profiles.
func (a *Assessor) scenarioAnalysis(ctx context.Context, p *ApplicantProfile, policyType string, currentScore float64) map[string]any {
	scenarios := map[string]any{}

	if p.Smoking {
		modified := *p
		modified.Smoking = false
		counterfactual := a.Assess(ctx, &modified, Options{
			PolicyType:     policyType,
			FraudCheck:     false,
			Explainability: false,
		})
		scenarios["smoking_cessation"] = map[string]any{
			"risk_score_change": round2(counterfactual.RiskScore - currentScore),
			"premium_savings":   "Up to 30% reduction",
		}
	}

	if p.CreditScore < 750 {
		scenarios["credit_improvement"] = map[string]any{
			"target_score":      750,
			"estimated_benefit": "5-10% premium reduction",
		}
	}

	return scenarios
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
