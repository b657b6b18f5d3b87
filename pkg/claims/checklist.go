package claims

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// incidentType pairs narrative keywords with the mandatory document
// checklist for that claim category. Matching is keyword containment on
// the lowercased narrative; categories are checked in declaration order
// so multi-type narratives produce a stable union.
type incidentType struct {
	name      string
	keywords  []string
	checklist []string
}

var incidentTypes = []incidentType{
	{
		name:     "auto",
		keywords: []string{"car", "vehicle", "collision", "crash", "rear-end", "auto accident"},
		checklist: []string{
			"Police Report",
			"Repair/Replacement Estimate",
			"Photos",
			"Driver's Licence Copy",
		},
	},
	{
		name:     "death",
		keywords: []string{"death", "deceased", "passed away", "funeral"},
		checklist: []string{
			"Certified Death Certificate",
			"Medical Records",
			"Coroner's Report",
		},
	},
	{
		name:     "medical",
		keywords: []string{"hospital", "surgery", "doctor", "diagnosis", "medical treatment", "illness"},
		checklist: []string{
			"Doctor's Report",
			"Hospital Discharge Summary",
			"Itemised Bills",
		},
	},
	{
		name:     "property",
		keywords: []string{"fire", "theft", "burglary", "flood damage", "storm", "property damage", "burst pipe"},
		checklist: []string{
			"Police/Fire Report",
			"Photos",
			"Repair/Replacement Estimate",
		},
	},
	{
		name:     "disability",
		keywords: []string{"disability", "disabled", "unable to work", "work injury"},
		checklist: []string{
			"Physician's Statement",
			"Employer Letter",
			"Medical Records",
		},
	},
}

var generalChecklist = []string{
	"Incident Report",
	"Witness Statements (x2)",
	"Photos",
	"Receipts/Bills",
}

// investigationChecklist is the fixed document set requested whenever a
// claim is escalated to a human investigator.
var investigationChecklist = []string{
	"Government-issued photo ID",
	"Original policy certificate",
	"Incident report / police report",
	"Two independent witness statements",
	"Photographs of damage / evidence",
	"Itemised cost estimate or receipts",
}

// checklistFile is the YAML override format: a list of incident types,
// each with the keywords that select it and its mandatory documents.
type checklistFile struct {
	IncidentTypes []struct {
		Name      string   `yaml:"name"`
		Keywords  []string `yaml:"keywords"`
		Checklist []string `yaml:"checklist"`
	} `yaml:"incident_types"`
	General []string `yaml:"general,omitempty"`
}

// LoadChecklistOverrides replaces the built-in incident types with the
// definitions in path. Call during startup, before adjudication begins.
// On any failure the built-ins stay in effect.
func LoadChecklistOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("claims: read checklist overrides: %w", err)
	}
	var file checklistFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("claims: parse checklist overrides: %w", err)
	}
	if len(file.IncidentTypes) == 0 {
		return fmt.Errorf("claims: checklist overrides define no incident types")
	}

	types := make([]incidentType, 0, len(file.IncidentTypes))
	for _, it := range file.IncidentTypes {
		if it.Name == "" || len(it.Keywords) == 0 || len(it.Checklist) == 0 {
			return fmt.Errorf("claims: incident type %q must define keywords and a checklist", it.Name)
		}
		types = append(types, incidentType{name: it.Name, keywords: it.Keywords, checklist: it.Checklist})
	}

	incidentTypes = types
	if len(file.General) > 0 {
		generalChecklist = file.General
	}
	return nil
}

// ChecklistFor infers the claim categories present in the narrative and
// returns the deduplicated union of their mandatory documents. An
// unclassifiable narrative gets the general checklist.
func ChecklistFor(description string) []string {
	lowered := strings.ToLower(description)

	var merged []string
	seen := map[string]bool{}
	for _, it := range incidentTypes {
		if !matchesAny(lowered, it.keywords) {
			continue
		}
		for _, doc := range it.checklist {
			if !seen[doc] {
				seen[doc] = true
				merged = append(merged, doc)
			}
		}
	}

	if len(merged) == 0 {
		return append([]string(nil), generalChecklist...)
	}
	return merged
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
