package coding

import (
	"time"

	"github.com/google/uuid"
)

type CodeType string

const (
	CodeTypeICD10    CodeType = "ICD10"
	CodeTypeCPT      CodeType = "CPT"
	CodeTypeModifier CodeType = "MODIFIER"
)

func (t CodeType) Valid() bool {
	return t == CodeTypeICD10 || t == CodeTypeCPT || t == CodeTypeModifier
}

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
	StatusModified Status = "MODIFIED"
)

type AuditRisk string

const (
	RiskLow    AuditRisk = "low"
	RiskMedium AuditRisk = "medium"
	RiskHigh   AuditRisk = "high"
)

// Modifier codes attached to CPT suggestions.
const (
	ModifierBilateral = "50"
	ModifierDistinct  = "59"
	ModifierTherapy   = "GP"
	ModifierActive    = "AT"
)

// Suggestion maps to the code_suggestion table. One suggestion run for an
// encounter writes a batch sharing BatchID.
type Suggestion struct {
	ID          uuid.UUID `db:"id" json:"id"`
	BatchID     uuid.UUID `db:"batch_id" json:"batch_id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id"`
	ProviderID  string    `db:"provider_id" json:"provider_id"`
	CodeType    CodeType  `db:"code_type" json:"code_type"`
	Code        string    `db:"code" json:"code"`
	Description string    `db:"description" json:"description"`
	Reasoning   string    `db:"reasoning" json:"reasoning"`

	// Confidence is the blended score; ModelConfidence is what the model
	// reported.
	Confidence      float64 `db:"confidence" json:"confidence"`
	ModelConfidence float64 `db:"model_confidence" json:"model_confidence"`
	Rank            int     `db:"rank" json:"rank"`
	IsChiroCommon   bool    `db:"is_chiro_common" json:"is_chiro_common"`

	IsValid        bool     `db:"is_valid" json:"is_valid"`
	SpecificityOK  bool     `db:"specificity_ok" json:"specificity_ok"`
	Alternatives   []string `db:"alternatives" json:"alternatives"`
	Modifiers      []string `db:"modifiers" json:"modifiers"`
	SupportingText *string  `db:"supporting_text" json:"supporting_text"`

	UpcodingRisk   bool      `db:"upcoding_risk" json:"upcoding_risk"`
	DowncodingRisk bool      `db:"downcoding_risk" json:"downcoding_risk"`
	AuditRisk      AuditRisk `db:"audit_risk" json:"audit_risk"`
	RiskReason     string    `db:"risk_reason" json:"risk_reason,omitempty"`

	Status       Status     `db:"status" json:"status"`
	ModifiedCode *string    `db:"modified_code" json:"modified_code,omitempty"`
	DecidedBy    *string    `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt    *time.Time `db:"decided_at" json:"decided_at,omitempty"`

	AIProvider string    `db:"ai_provider" json:"ai_provider"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// BilledCode is the code that goes on the claim: the replacement for a
// modified suggestion, else the suggested code.
func (s *Suggestion) BilledCode() string {
	if s.Status == StatusModified && s.ModifiedCode != nil {
		return *s.ModifiedCode
	}
	return s.Code
}

// Acceptance is a provider's decision history for one code.
type Acceptance struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Rate is the accepted share of decisions, or false without any.
func (a Acceptance) Rate() (float64, bool) {
	n := a.Accepted + a.Rejected
	if n == 0 {
		return 0, false
	}
	return float64(a.Accepted) / float64(n), true
}

type SuggestRequest struct {
	EncounterID uuid.UUID `json:"-"`
	ProviderID  string    `json:"-"`
	// SOAPText defaults to the encounter's clinical note.
	SOAPText         string `json:"soap_text,omitempty"`
	EncounterType    string `json:"encounter_type,omitempty"`
	IncludeModifiers bool   `json:"include_modifiers"`
}

// ListFilter narrows ListByEncounter. Zero values do not filter.
type ListFilter struct {
	Status   Status
	CodeType CodeType
	Limit    int
	Offset   int
}
