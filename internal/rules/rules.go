// Package rules holds the static clinical documentation tables used by the
// coding and compliance engines: required elements per encounter type, payer
// requirements, medical-necessity vocabulary, CMT region requirements and the
// code keyword maps. A Ruleset is built once and never mutated; services take
// it as a constructor argument so tests can substitute smaller tables.
package rules

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chiro/chiro/internal/soap"
)

type EncounterType string

const (
	EncounterInitialEvaluation EncounterType = "INITIAL_EVALUATION"
	EncounterFollowUp          EncounterType = "FOLLOW_UP"
	EncounterReEvaluation      EncounterType = "RE_EVALUATION"
	EncounterDischarge         EncounterType = "DISCHARGE"
	EncounterMaintenance       EncounterType = "MAINTENANCE"
)

// ParseEncounterType maps free text onto a known encounter type, falling
// back to FOLLOW_UP.
func ParseEncounterType(s string) EncounterType {
	switch EncounterType(s) {
	case EncounterInitialEvaluation, EncounterFollowUp, EncounterReEvaluation,
		EncounterDischarge, EncounterMaintenance:
		return EncounterType(s)
	}
	return EncounterFollowUp
}

type PayerType string

const (
	PayerMedicare       PayerType = "MEDICARE"
	PayerMedicaid       PayerType = "MEDICAID"
	PayerCommercial     PayerType = "COMMERCIAL"
	PayerWorkersComp    PayerType = "WORKERS_COMP"
	PayerPersonalInjury PayerType = "PERSONAL_INJURY"
)

// EncounterRule lists the elements each SOAP section must document for one
// encounter type. Critical elements escalate a missing-element issue to ERROR.
type EncounterRule struct {
	Sections map[soap.Section][]string `yaml:"sections"`
	Critical []string                  `yaml:"critical"`
}

// IsCritical reports whether element is on the critical list.
func (r EncounterRule) IsCritical(element string) bool {
	for _, c := range r.Critical {
		if c == element {
			return true
		}
	}
	return false
}

type PayerRule struct {
	Required []string `yaml:"required"`
	Critical []string `yaml:"critical"`
}

func (r PayerRule) IsCritical(element string) bool {
	for _, c := range r.Critical {
		if c == element {
			return true
		}
	}
	return false
}

// AuditWeights are the per-category contributions to the audit-risk score.
type AuditWeights struct {
	MissingElement   int `yaml:"missing_element"`
	MedicalNecessity int `yaml:"medical_necessity"`
	ClonedNote       int `yaml:"cloned_note"`
	CodeComplexity   int `yaml:"code_complexity"`
	PayerCritical    int `yaml:"payer_critical"`
}

// RegionRange is the documented spinal-region count a CMT code requires.
type RegionRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type ClonedNoteRule struct {
	MinChars   int     `yaml:"min_chars"`
	PriorNotes int     `yaml:"prior_notes"`
	Threshold  float64 `yaml:"threshold"`
}

type Ruleset struct {
	Encounters        map[EncounterType]EncounterRule `yaml:"encounters"`
	ElementVariants   map[string][]string             `yaml:"element_variants"`
	Payers            map[PayerType]PayerRule         `yaml:"payers"`
	NecessityKeywords []string                        `yaml:"necessity_keywords"`
	GoalKeywords      []string                        `yaml:"goal_keywords"`
	NecessityFix      string                          `yaml:"necessity_fix"`
	GoalsFix          string                          `yaml:"goals_fix"`
	AuditWeights      AuditWeights                    `yaml:"audit_weights"`
	ClonedNote        ClonedNoteRule                  `yaml:"cloned_note"`
	MinSectionChars   int                             `yaml:"min_section_chars"`

	CMTRegions         map[string]RegionRange `yaml:"cmt_regions"`
	RegionKeywords     map[string][]string    `yaml:"region_keywords"`
	MaxRegions         int                    `yaml:"max_regions"`
	HighComplexityEM   []string               `yaml:"high_complexity_em"`
	HighEMMinWords     int                    `yaml:"high_em_min_words"`
	EMKeywordGroups    map[string][]string    `yaml:"em_keyword_groups"`
	ComplexityKeywords []string               `yaml:"complexity_keywords"`

	SpecificityAlternatives map[string][]string `yaml:"specificity_alternatives"`
	CodeKeywords            map[string][]string `yaml:"code_keywords"`
	BilateralCodes          []string            `yaml:"bilateral_codes"`
	TherapyCodePrefix       string              `yaml:"therapy_code_prefix"`
	SupportingTextMax       int                 `yaml:"supporting_text_max"`
}

// Encounter returns the rule for t, using FOLLOW_UP for unknown types.
func (r *Ruleset) Encounter(t EncounterType) EncounterRule {
	if rule, ok := r.Encounters[t]; ok {
		return rule
	}
	return r.Encounters[EncounterFollowUp]
}

// Variants returns the textual forms that satisfy element. An element with
// no variant entry is matched literally.
func (r *Ruleset) Variants(element string) []string {
	if v, ok := r.ElementVariants[element]; ok && len(v) > 0 {
		return v
	}
	return []string{element}
}

// IsCMT reports whether code is a spinal manipulation code.
func (r *Ruleset) IsCMT(code string) bool {
	_, ok := r.CMTRegions[code]
	return ok
}

func (r *Ruleset) IsHighComplexityEM(code string) bool {
	return contains(r.HighComplexityEM, code)
}

func (r *Ruleset) IsBilateral(code string) bool {
	return contains(r.BilateralCodes, code)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Validate checks internal consistency of a loaded ruleset.
func (r *Ruleset) Validate() error {
	if _, ok := r.Encounters[EncounterFollowUp]; !ok {
		return fmt.Errorf("encounters: %s rule is required as the default", EncounterFollowUp)
	}
	for t, rule := range r.Encounters {
		for s := range rule.Sections {
			if !s.Valid() {
				return fmt.Errorf("encounters.%s: unknown section %q", t, s)
			}
		}
		for _, c := range rule.Critical {
			if !rule.lists(c) {
				return fmt.Errorf("encounters.%s: critical element %q is not required by any section", t, c)
			}
		}
	}
	for p, rule := range r.Payers {
		for _, c := range rule.Critical {
			if !contains(rule.Required, c) {
				return fmt.Errorf("payers.%s: critical element %q is not in required", p, c)
			}
		}
	}
	for code, rr := range r.CMTRegions {
		if rr.Min < 1 || rr.Max < rr.Min {
			return fmt.Errorf("cmt_regions.%s: invalid range %d-%d", code, rr.Min, rr.Max)
		}
	}
	if r.ClonedNote.Threshold <= 0 || r.ClonedNote.Threshold > 1 {
		return fmt.Errorf("cloned_note.threshold must be in (0,1], got %v", r.ClonedNote.Threshold)
	}
	w := r.AuditWeights
	if w.MissingElement < 0 || w.MedicalNecessity < 0 || w.ClonedNote < 0 || w.CodeComplexity < 0 || w.PayerCritical < 0 {
		return fmt.Errorf("audit_weights must not be negative")
	}
	if r.MaxRegions < 1 {
		return fmt.Errorf("max_regions must be positive")
	}
	return nil
}

func (rule EncounterRule) lists(element string) bool {
	for _, elems := range rule.Sections {
		if contains(elems, element) {
			return true
		}
	}
	return false
}

// LoadFile reads a YAML override file on top of the default tables.
func LoadFile(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	rs, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rs, nil
}

// Load decodes YAML from r over a fresh copy of the defaults. Map entries
// present in the document replace the default entry for that key; unknown
// fields are rejected.
func Load(r io.Reader) (*Ruleset, error) {
	rs := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(rs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}
