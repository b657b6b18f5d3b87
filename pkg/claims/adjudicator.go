package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/policygenie/verdict/pkg/config"
	"github.com/policygenie/verdict/pkg/fraud"
	"github.com/policygenie/verdict/pkg/rag"
)

// Generator produces the grounded adjudication output.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
}

// Retriever fetches policy passages relevant to a claim narrative.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]rag.Passage, error)
}

// Recorder persists finished adjudications for the audit trail.
type Recorder interface {
	RecordAdjudication(ctx context.Context, claimant, verdict string, fraudScore float64) error
}

const adjudicationTemperature = 0.1

// Adjudicator runs the staged claim pipeline. The fraud ensemble,
// retriever, and recorder are optional; the generator is required.
type Adjudicator struct {
	cfg       *config.Config
	fraud     *fraud.Ensemble
	retriever Retriever
	gen       Generator
	recorder  Recorder
}

// NewAdjudicator wires the claim pipeline.
func NewAdjudicator(cfg *config.Config, ensemble *fraud.Ensemble, retriever Retriever, gen Generator, recorder Recorder) *Adjudicator {
	return &Adjudicator{
		cfg:       cfg,
		fraud:     ensemble,
		retriever: retriever,
		gen:       gen,
		recorder:  recorder,
	}
}

// Process adjudicates a claim. It returns an error only when the claim
// is invalid or generation fails after retries; every other failure
// degrades to a conservative verdict inside the result.
func (a *Adjudicator) Process(ctx context.Context, claim *Claim) (*Adjudication, error) {
	if err := claim.Normalize(); err != nil {
		return nil, err
	}

	log.Printf("claims: processing | claimant=%s policy=%s declared_docs=%d",
		orNotProvided(claim.ClaimantName), orNotProvided(claim.PolicyNumber), len(claim.SubmittedDocuments))

	// Stage A: fraud pre-filter. A suspicious narrative never reaches
	// the model.
	var prefilter *fraud.Assessment
	prefilterScore := 0.0
	if a.fraud != nil {
		prefilter = a.fraud.Assess(ctx, claim.Description, &fraud.Metadata{ClaimAmount: claim.ClaimAmount})
		prefilterScore = prefilter.FraudScore
		if prefilter.IsSuspicious {
			log.Printf("[WARN] claims: fraud pre-filter flagged claim (score=%.3f)", prefilterScore)
			result := investigationResult(prefilter, claim)
			a.record(ctx, claim, result)
			return result, nil
		}
	}

	// Stage B: best-effort policy context.
	policyContext := ""
	if a.retriever != nil {
		passages, err := a.retriever.Retrieve(ctx, claim.Description, a.cfg.RetrieveTopK)
		if err != nil {
			log.Printf("[WARN] claims: context retrieval failed: %v", err)
		} else {
			parts := make([]string, len(passages))
			for i, p := range passages {
				parts[i] = p.Content
			}
			policyContext = strings.Join(parts, "\n\n")
		}
	}

	// Stage C: grounded adjudication. Generation failure after retries
	// is terminal; the caller decides how to surface it.
	if a.gen == nil {
		return nil, fmt.Errorf("claims: no generation backend configured")
	}
	raw, err := a.gen.Generate(ctx, adjudicationPrompt(policyContext, claim), adjudicationTemperature, 2000)
	if err != nil {
		return nil, fmt.Errorf("claims: adjudication generation failed: %w", err)
	}

	// Stage D: parse, falling back to a conservative manual-review
	// verdict when the model output is not valid JSON.
	result, err := parseAdjudication(raw)
	if err != nil {
		log.Printf("[WARN] claims: unparseable adjudication output: %v", err)
		result = parseFallback(prefilterScore, raw)
	}
	normalizeResult(result)

	// Stage E: fraud override. The pre-filter score forbids an approval
	// it contradicts.
	if prefilterScore >= a.cfg.FraudOverrideThreshold && result.Verdict == VerdictApproved {
		log.Printf("[WARN] claims: overriding APPROVED due to fraud pre-filter (score=%.3f)", prefilterScore)
		result.Verdict = VerdictUnderInvestigation
		result.FraudRisk = FraudRiskHigh
		result.FraudScore = prefilterScore
		result.InternalNotes = fmt.Sprintf("Adjudication overridden: pre-filter score %.3f. %s", prefilterScore, result.InternalNotes)
	}

	// Stage F: merge every insufficiency source. Any insufficient
	// document also forbids approval.
	result.MissingDocuments = dedupe(append(append(
		result.MissingDocuments,
		result.DocumentVerification.DeclaredButUnverified...),
		result.DocumentVerification.Missing...))
	if len(result.MissingDocuments) > 0 && result.Verdict == VerdictApproved {
		log.Printf("claims: overriding APPROVED due to %d insufficient documents", len(result.MissingDocuments))
		result.Verdict = VerdictPendingDocuments
	}

	result.SubmittedDocumentsEcho = claim.SubmittedDocuments
	if len(result.RequiredDocumentsChecklist) == 0 {
		result.RequiredDocumentsChecklist = ChecklistFor(claim.Description)
	}

	// Stage G: message enrichment for verdicts that ask the claimant to
	// act.
	switch result.Verdict {
	case VerdictPendingDocuments:
		enrichPending(result)
	case VerdictRejected:
		enrichRejected(result)
	}

	// The reported score never understates the pre-filter.
	result.FraudScore = round3(math.Max(prefilterScore, result.FraudScore))

	log.Printf("claims: adjudication complete | verdict=%s fraud_risk=%s insufficient_docs=%d",
		result.Verdict, result.FraudRisk, len(result.MissingDocuments))
	a.record(ctx, claim, result)
	return result, nil
}

func (a *Adjudicator) record(ctx context.Context, claim *Claim, result *Adjudication) {
	if a.recorder == nil {
		return
	}
	if err := a.recorder.RecordAdjudication(ctx, claim.ClaimantName, result.Verdict, result.FraudScore); err != nil {
		log.Printf("[WARN] claims: audit record failed: %v", err)
	}
}

// parseAdjudication strips markdown fences and decodes the model output.
func parseAdjudication(raw string) (*Adjudication, error) {
	text := strings.TrimSpace(raw)
	for _, fence := range []string{"```json", "```"} {
		text = strings.TrimPrefix(text, fence)
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	var result Adjudication
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, err
	}
	if result.Verdict == "" {
		return nil, fmt.Errorf("missing verdict")
	}
	return &result, nil
}

// parseFallback routes an unparseable adjudication to manual review.
func parseFallback(prefilterScore float64, raw string) *Adjudication {
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return &Adjudication{
		Verdict:           VerdictUnderInvestigation,
		FraudRisk:         FraudRiskMedium,
		FraudScore:        prefilterScore,
		FraudSignalsFound: []string{"System could not fully evaluate the claim narrative"},
		Reason:            "Claim routed for manual review due to a processing anomaly.",
		ClaimantMessage: "Dear Claimant,\n\nYour claim is being reviewed by our team. " +
			"We will contact you within 2-3 business days.\n\n" +
			"Warm regards,\nPolicyGenie Claims Department",
		RequiredDocumentsChecklist: []string{"Incident report", "Photo evidence", "Policy certificate"},
		NextSteps:                  []string{"Await contact from a claims representative within 2-3 business days."},
		InternalNotes:              "Unparseable adjudication output. Raw: " + raw,
	}
}

// investigationResult is returned when the fraud pre-filter flags a
// claim before any model call.
func investigationResult(prefilter *fraud.Assessment, claim *Claim) *Adjudication {
	signals := prefilter.Indicators
	if len(signals) == 0 {
		signals = []string{"Multiple automated fraud signals detected"}
	}
	return &Adjudication{
		Verdict:           VerdictUnderInvestigation,
		FraudRisk:         FraudRiskHigh,
		FraudScore:        round3(prefilter.FraudScore),
		MissingDocuments:  []string{},
		FraudSignalsFound: signals,
		Reason: "Our automated fraud detection system identified one or more high-risk signals " +
			"in this claim submission. In keeping with company policy and regulatory " +
			"obligations, this claim has been escalated to a senior claims investigator " +
			"for manual review.",
		ClaimantMessage: "Dear Claimant,\n\n" +
			"Thank you for submitting your claim. Our system has flagged certain aspects " +
			"of this submission for further review by our specialist claims team. A " +
			"dedicated investigator will contact you within 2-3 business days.\n\n" +
			"You are welcome to re-submit with additional supporting documentation at " +
			"any time. We appreciate your patience and understanding.\n\n" +
			"Warm regards,\nPolicyGenie Claims Department",
		RequiredDocumentsChecklist: append([]string(nil), investigationChecklist...),
		PolicyReferences:           []string{},
		NextSteps: []string{
			"A senior claims investigator will contact you within 2-3 business days.",
			"Gather all supporting documents and keep them ready.",
			"Do not repair or dispose of damaged items until the investigation is complete.",
			"You may re-submit with additional evidence at any time via this portal.",
		},
		InternalNotes: fmt.Sprintf("Pre-filter fraud score: %.3f. Signals: %v. Requires manual investigation before any payment.",
			prefilter.FraudScore, signals),
		SubmittedDocumentsEcho: claim.SubmittedDocuments,
	}
}

// enrichPending guarantees a clear claimant message listing what to
// re-submit.
func enrichPending(result *Adjudication) {
	if len(result.ClaimantMessage) >= 30 {
		return
	}
	missingList := "  - See required documents checklist below"
	if len(result.MissingDocuments) > 0 {
		missingList = "  - " + strings.Join(result.MissingDocuments, "\n  - ")
	}
	result.ClaimantMessage = "Dear Claimant,\n\n" +
		"Thank you for reaching out to us. Your claim appears to be largely valid " +
		"and we genuinely want to help you through this process.\n\n" +
		"However, we are unable to proceed to approval at this stage because the " +
		"following required document(s) have not been submitted:\n\n" +
		missingList + "\n\n" +
		"Please gather these documents and re-submit your claim through this portal. " +
		"Once we receive the complete documentation, your claim will be processed " +
		"as a priority.\n\n" +
		"We are here to support you. Please don't hesitate to contact our " +
		"helpline if you need assistance obtaining any of these documents.\n\n" +
		"Warm regards,\nPolicyGenie Claims Department"
}

// enrichRejected guarantees the rejection explains itself and mentions
// the appeal window.
func enrichRejected(result *Adjudication) {
	if len(result.ClaimantMessage) >= 30 {
		return
	}
	reason := result.Reason
	if reason == "" {
		reason = "The incident does not fall within the covered perils of your policy."
	}
	result.ClaimantMessage = "Dear Claimant,\n\n" +
		"Thank you for submitting your claim. After careful review against your " +
		"policy terms and conditions, we regret to inform you that this claim " +
		"cannot be approved at this time.\n\n" +
		"Reason: " + reason + "\n\n" +
		"If you believe this decision is incorrect or if you have additional " +
		"information that may change the outcome, you have the right to appeal " +
		"within 30 days by contacting our disputes resolution team.\n\n" +
		"We value your trust in PolicyGenie and remain committed to serving you.\n\n" +
		"Warm regards,\nPolicyGenie Claims Department"
}

// normalizeResult replaces nil collections so the JSON payload always
// carries arrays.
func normalizeResult(result *Adjudication) {
	if result.DocumentVerification.DeclaredAndVerified == nil {
		result.DocumentVerification.DeclaredAndVerified = []string{}
	}
	if result.DocumentVerification.DeclaredButUnverified == nil {
		result.DocumentVerification.DeclaredButUnverified = []string{}
	}
	if result.DocumentVerification.Missing == nil {
		result.DocumentVerification.Missing = []string{}
	}
	if result.DocumentGuidance == nil {
		result.DocumentGuidance = []DocumentGuidance{}
	}
	if result.MissingDocuments == nil {
		result.MissingDocuments = []string{}
	}
	if result.FraudSignalsFound == nil {
		result.FraudSignalsFound = []string{}
	}
	if result.PolicyReferences == nil {
		result.PolicyReferences = []string{}
	}
	if result.NextSteps == nil {
		result.NextSteps = []string{}
	}
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
