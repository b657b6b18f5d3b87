// Package claims implements the staged claims adjudicator: fraud
// pre-filter, policy-context retrieval, grounded LLM decision, and the
// deterministic overrides that keep the final verdict consistent with
// the fraud and documentation evidence.
package claims

import (
	"errors"
	"strings"
)

// Verdict ladder, strictest first.
const (
	VerdictApproved           = "APPROVED"
	VerdictPendingDocuments   = "PENDING_DOCUMENTS"
	VerdictUnderInvestigation = "UNDER_INVESTIGATION"
	VerdictRejected           = "REJECTED"
)

// Fraud risk bands reported on adjudications.
const (
	FraudRiskLow    = "LOW"
	FraudRiskMedium = "MEDIUM"
	FraudRiskHigh   = "HIGH"
)

// ErrEmptyDescription is returned when a claim carries no narrative.
var ErrEmptyDescription = errors.New("claims: claim_description cannot be empty")

// Claim is a submitted claim. Description is the only required field;
// Query is the legacy free-text field and is promoted to Description
// when the latter is absent.
type Claim struct {
	ClaimantName       string   `json:"claimant_name,omitempty"`
	PolicyNumber       string   `json:"policy_number,omitempty"`
	IncidentDate       string   `json:"incident_date,omitempty"`
	IncidentLocation   string   `json:"incident_location,omitempty"`
	ClaimAmount        float64  `json:"claim_amount,omitempty"`
	Description        string   `json:"claim_description,omitempty"`
	SubmittedDocuments []string `json:"submitted_documents,omitempty"`
	ContactEmail       string   `json:"contact_email,omitempty"`
	ContactPhone       string   `json:"contact_phone,omitempty"`
	Query              string   `json:"query,omitempty"`
}

// Normalize promotes the legacy query field and validates the narrative.
func (c *Claim) Normalize() error {
	if c.Description == "" {
		c.Description = c.Query
	}
	if strings.TrimSpace(c.Description) == "" {
		return ErrEmptyDescription
	}
	if c.SubmittedDocuments == nil {
		c.SubmittedDocuments = []string{}
	}
	return nil
}

// DocumentVerification partitions the mandatory documents by evidence
// status. Declared means the claimant ticked the document on the form;
// only narrative support upgrades it to verified.
type DocumentVerification struct {
	DeclaredAndVerified   []string `json:"declared_and_verified"`
	DeclaredButUnverified []string `json:"declared_but_unverified"`
	Missing               []string `json:"missing"`
}

// DocumentGuidance tells the claimant how to obtain an insufficient
// document.
type DocumentGuidance struct {
	Document          string `json:"document"`
	Status            string `json:"status"`
	HowToObtain       string `json:"how_to_obtain"`
	IssuingEntity     string `json:"issuing_entity"`
	TypicalTurnaround string `json:"typical_turnaround"`
	TypicalCost       string `json:"typical_cost,omitempty"`
	Contact           string `json:"contact,omitempty"`
}

// Adjudication is the full decision payload returned to the claimant
// portal.
type Adjudication struct {
	Verdict                    string               `json:"verdict"`
	CoverageApplicable         bool                 `json:"coverage_applicable"`
	FraudRisk                  string               `json:"fraud_risk"`
	FraudScore                 float64              `json:"fraud_score"`
	DocumentVerification       DocumentVerification `json:"document_verification"`
	DocumentGuidance           []DocumentGuidance   `json:"document_guidance"`
	MissingDocuments           []string             `json:"missing_documents"`
	FraudSignalsFound          []string             `json:"fraud_signals_found"`
	Reason                     string               `json:"reason"`
	ClaimantMessage            string               `json:"claimant_message"`
	RequiredDocumentsChecklist []string             `json:"required_documents_checklist"`
	EstimatedCoverageAmount    float64              `json:"estimated_coverage_amount"`
	PolicyReferences           []string             `json:"policy_references"`
	NextSteps                  []string             `json:"next_steps"`
	InternalNotes              string               `json:"internal_notes"`
	SubmittedDocumentsEcho     []string             `json:"submitted_documents_echo"`
}
