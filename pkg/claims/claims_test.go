package claims

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/policygenie/verdict/pkg/config"
	"github.com/policygenie/verdict/pkg/fraud"
	"github.com/policygenie/verdict/pkg/rag"
)

type stubGenerator struct {
	calls  atomic.Int32
	output string
	err    error
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	g.calls.Add(1)
	return g.output, g.err
}

type stubRetriever struct {
	passages []rag.Passage
	err      error
}

func (r *stubRetriever) Retrieve(ctx context.Context, query string, k int) ([]rag.Passage, error) {
	return r.passages, r.err
}

type fixedDetector struct {
	score float64
}

func (d *fixedDetector) Name() string    { return "stub" }
func (d *fixedDetector) Weight() float64 { return 1.0 }
func (d *fixedDetector) Detect(ctx context.Context, text string, meta *fraud.Metadata) (fraud.DetectionResult, error) {
	return fraud.DetectionResult{Score: d.score, Indicators: []string{"stub signal"}}, nil
}

type memoryRecorder struct {
	verdicts []string
}

func (m *memoryRecorder) RecordAdjudication(ctx context.Context, claimant, verdict string, fraudScore float64) error {
	m.verdicts = append(m.verdicts, verdict)
	return nil
}

func newAdjudicator(t *testing.T, prefilterScore float64, gen Generator) (*Adjudicator, *memoryRecorder) {
	t.Helper()
	ensemble := fraud.NewEnsemble([]fraud.Detector{&fixedDetector{score: prefilterScore}}, nil, 0.75, time.Hour)
	recorder := &memoryRecorder{}
	return NewAdjudicator(config.NewDefaultConfig(), ensemble, &stubRetriever{}, gen, recorder), recorder
}

const approvedOutput = `{
	"verdict": "APPROVED",
	"coverage_applicable": true,
	"fraud_risk": "LOW",
	"fraud_score": 0.1,
	"document_verification": {
		"declared_and_verified": ["Police Report"],
		"declared_but_unverified": [],
		"missing": []
	},
	"missing_documents": [],
	"reason": "All documents verified against the narrative.",
	"claimant_message": "Your claim has been approved and payment is being processed.",
	"estimated_coverage_amount": 4200.0
}`

func validClaim() *Claim {
	return &Claim{
		ClaimantName:       "Jordan Reyes",
		PolicyNumber:       "PG-100234",
		Description:        "My car was rear-ended at a junction. Officer Daniels filed police report 4471 at the 12th precinct.",
		SubmittedDocuments: []string{"Police Report", "Photos"},
		ClaimAmount:        4200,
	}
}

func TestNormalizePromotesLegacyQuery(t *testing.T) {
	c := &Claim{Query: "storm damaged my roof"}
	if err := c.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if c.Description != "storm damaged my roof" {
		t.Errorf("description = %q", c.Description)
	}

	empty := &Claim{}
	if err := empty.Normalize(); !errors.Is(err, ErrEmptyDescription) {
		t.Errorf("empty claim error = %v, want ErrEmptyDescription", err)
	}
}

func TestFraudPrefilterShortCircuits(t *testing.T) {
	gen := &stubGenerator{output: approvedOutput}
	adj, recorder := newAdjudicator(t, 0.9, gen)

	result, err := adj.Process(context.Background(), validClaim())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Verdict != VerdictUnderInvestigation {
		t.Errorf("verdict = %s, want UNDER_INVESTIGATION", result.Verdict)
	}
	if gen.calls.Load() != 0 {
		t.Errorf("generator must not be called for a flagged claim, got %d calls", gen.calls.Load())
	}
	if result.FraudRisk != FraudRiskHigh || result.FraudScore != 0.9 {
		t.Errorf("fraud fields = %s/%v", result.FraudRisk, result.FraudScore)
	}
	if len(result.RequiredDocumentsChecklist) != 6 {
		t.Errorf("investigation checklist = %v", result.RequiredDocumentsChecklist)
	}
	if len(recorder.verdicts) != 1 || recorder.verdicts[0] != VerdictUnderInvestigation {
		t.Errorf("recorded verdicts = %v", recorder.verdicts)
	}
}

func TestFraudOverrideForbidsApproval(t *testing.T) {
	// 0.70 is below the suspicion threshold (0.75) but at or above the
	// override threshold (0.65): the model runs, but cannot approve.
	gen := &stubGenerator{output: approvedOutput}
	adj, _ := newAdjudicator(t, 0.70, gen)

	result, err := adj.Process(context.Background(), validClaim())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if gen.calls.Load() != 1 {
		t.Fatalf("generator calls = %d, want 1", gen.calls.Load())
	}
	if result.Verdict != VerdictUnderInvestigation {
		t.Errorf("verdict = %s, want UNDER_INVESTIGATION", result.Verdict)
	}
	if result.FraudRisk != FraudRiskHigh {
		t.Errorf("fraud risk = %s, want HIGH", result.FraudRisk)
	}
	if result.FraudScore != 0.7 {
		t.Errorf("fraud score = %v, want 0.7", result.FraudScore)
	}
	if !strings.Contains(result.InternalNotes, "overridden") {
		t.Errorf("internal notes = %q", result.InternalNotes)
	}
}

func TestInsufficientDocumentsForbidApproval(t *testing.T) {
	output := `{
		"verdict": "APPROVED",
		"fraud_risk": "LOW",
		"fraud_score": 0.1,
		"document_verification": {
			"declared_and_verified": [],
			"declared_but_unverified": ["Photos"],
			"missing": ["Repair/Replacement Estimate"]
		},
		"missing_documents": ["Photos"],
		"claimant_message": "ok"
	}`
	adj, _ := newAdjudicator(t, 0.1, &stubGenerator{output: output})

	result, err := adj.Process(context.Background(), validClaim())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Verdict != VerdictPendingDocuments {
		t.Errorf("verdict = %s, want PENDING_DOCUMENTS", result.Verdict)
	}
	want := []string{"Photos", "Repair/Replacement Estimate"}
	if len(result.MissingDocuments) != len(want) {
		t.Fatalf("missing documents = %v, want %v", result.MissingDocuments, want)
	}
	for i := range want {
		if result.MissingDocuments[i] != want[i] {
			t.Errorf("missing documents = %v, want %v", result.MissingDocuments, want)
		}
	}
	// The short model message is replaced by the enrichment template.
	if !strings.Contains(result.ClaimantMessage, "Dear Claimant") ||
		!strings.Contains(result.ClaimantMessage, "Repair/Replacement Estimate") {
		t.Errorf("claimant message not enriched: %q", result.ClaimantMessage)
	}
}

func TestRejectionEnrichmentMentionsAppeal(t *testing.T) {
	output := `{
		"verdict": "REJECTED",
		"fraud_risk": "LOW",
		"fraud_score": 0.05,
		"reason": "Flood damage is excluded under section 4.2.",
		"claimant_message": "no"
	}`
	adj, _ := newAdjudicator(t, 0.1, &stubGenerator{output: output})

	result, err := adj.Process(context.Background(), validClaim())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Verdict != VerdictRejected {
		t.Errorf("verdict = %s, want REJECTED", result.Verdict)
	}
	if !strings.Contains(result.ClaimantMessage, "right to appeal") ||
		!strings.Contains(result.ClaimantMessage, "Flood damage is excluded under section 4.2.") {
		t.Errorf("claimant message not enriched: %q", result.ClaimantMessage)
	}
}

func TestLongClaimantMessageIsKept(t *testing.T) {
	message := "We reviewed your policy thoroughly and need two more documents before approval."
	output := `{
		"verdict": "PENDING_DOCUMENTS",
		"fraud_risk": "LOW",
		"fraud_score": 0.1,
		"missing_documents": ["Photos"],
		"claimant_message": "` + message + `"
	}`
	adj, _ := newAdjudicator(t, 0.1, &stubGenerator{output: output})

	result, err := adj.Process(context.Background(), validClaim())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.ClaimantMessage != message {
		t.Errorf("claimant message = %q, want model message kept", result.ClaimantMessage)
	}
}

func TestParseFallbackRoutesToManualReview(t *testing.T) {
	adj, _ := newAdjudicator(t, 0.2, &stubGenerator{output: "I cannot answer that as JSON."})

	result, err := adj.Process(context.Background(), validClaim())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if result.Verdict != VerdictUnderInvestigation {
		t.Errorf("verdict = %s, want UNDER_INVESTIGATION", result.Verdict)
	}
	if result.FraudRisk != FraudRiskMedium {
		t.Errorf("fraud risk = %s, want MEDIUM", result.FraudRisk)
	}
	if result.Reason != "Claim routed for manual review due to a processing anomaly." {
		t.Errorf("reason = %q", result.Reason)
	}
	if len(result.RequiredDocumentsChecklist) != 3 {
		t.Errorf("fallback checklist = %v", result.RequiredDocumentsChecklist)
	}
}

func TestMarkdownFencedOutputParses(t *testing.T) {
	adj, _ := newAdjudicator(t, 0.1, &stubGenerator{output: "```json\n" + approvedOutput + "\n```"})

	result, err := adj.Process(context.Background(), validClaim())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Verdict != VerdictApproved {
		t.Errorf("verdict = %s, want APPROVED", result.Verdict)
	}
	if !result.CoverageApplicable || result.EstimatedCoverageAmount != 4200.0 {
		t.Errorf("parsed fields = %v/%v", result.CoverageApplicable, result.EstimatedCoverageAmount)
	}
}

func TestGenerationFailureIsTerminal(t *testing.T) {
	adj, _ := newAdjudicator(t, 0.1, &stubGenerator{err: errors.New("backend unreachable")})

	if _, err := adj.Process(context.Background(), validClaim()); err == nil {
		t.Fatal("expected error when generation fails")
	}
}

func TestFinalFraudScoreNeverUnderstatesPrefilter(t *testing.T) {
	adj, _ := newAdjudicator(t, 0.5, &stubGenerator{output: approvedOutput})

	result, err := adj.Process(context.Background(), validClaim())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if math.Abs(result.FraudScore-0.5) > 1e-9 {
		t.Errorf("fraud score = %v, want prefilter 0.5", result.FraudScore)
	}
}

func TestChecklistInference(t *testing.T) {
	tests := []struct {
		name        string
		description string
		want        []string
	}{
		{
			"auto",
			"another vehicle hit me at a junction",
			[]string{"Police Report", "Repair/Replacement Estimate", "Photos", "Driver's Licence Copy"},
		},
		{
			"death",
			"claim following the death of the policyholder",
			[]string{"Certified Death Certificate", "Medical Records", "Coroner's Report"},
		},
		{
			"union of auto and medical",
			"a car crash put me in hospital for surgery",
			[]string{
				"Police Report", "Repair/Replacement Estimate", "Photos", "Driver's Licence Copy",
				"Doctor's Report", "Hospital Discharge Summary", "Itemised Bills",
			},
		},
		{
			"general fallback",
			"something unclassifiable happened",
			[]string{"Incident Report", "Witness Statements (x2)", "Photos", "Receipts/Bills"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChecklistFor(tt.description)
			if len(got) != len(tt.want) {
				t.Fatalf("checklist = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("checklist = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestChecklistUnionDeduplicates(t *testing.T) {
	// Auto and property both require photos and a repair estimate; the
	// union must list each document once.
	got := ChecklistFor("the fire spread to my car in the garage")
	seen := map[string]int{}
	for _, doc := range got {
		seen[doc]++
	}
	for doc, n := range seen {
		if n > 1 {
			t.Errorf("document %q appears %d times in %v", doc, n, got)
		}
	}
}

func TestChecklistOverridesFromYAML(t *testing.T) {
	savedTypes := incidentTypes
	savedGeneral := generalChecklist
	t.Cleanup(func() {
		incidentTypes = savedTypes
		generalChecklist = savedGeneral
	})

	path := filepath.Join(t.TempDir(), "checklists.yaml")
	seed := `incident_types:
  - name: marine
    keywords: ["boat", "vessel", "marina"]
    checklist:
      - "Coastguard Incident Report"
      - "Vessel Registration"
general:
  - "Incident Report"
`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadChecklistOverrides(path); err != nil {
		t.Fatalf("LoadChecklistOverrides: %v", err)
	}

	got := ChecklistFor("my boat sank at the marina")
	if len(got) != 2 || got[0] != "Coastguard Incident Report" {
		t.Errorf("checklist = %v", got)
	}
	if fallback := ChecklistFor("unrelated narrative"); len(fallback) != 1 || fallback[0] != "Incident Report" {
		t.Errorf("general fallback = %v", fallback)
	}
}

func TestChecklistOverridesRejectIncompleteTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("incident_types:\n  - name: marine\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadChecklistOverrides(path); err == nil {
		t.Fatal("expected error for incident type without keywords or checklist")
	}
}

func TestRetrievalFailureIsNonFatal(t *testing.T) {
	ensemble := fraud.NewEnsemble([]fraud.Detector{&fixedDetector{score: 0.1}}, nil, 0.75, time.Hour)
	adj := NewAdjudicator(config.NewDefaultConfig(), ensemble,
		&stubRetriever{err: errors.New("store offline")},
		&stubGenerator{output: approvedOutput}, nil)

	result, err := adj.Process(context.Background(), validClaim())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Verdict != VerdictApproved {
		t.Errorf("verdict = %s, want APPROVED despite retrieval failure", result.Verdict)
	}
}
