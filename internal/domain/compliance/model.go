package compliance

import (
	"time"

	"github.com/google/uuid"

	"github.com/chiro/chiro/internal/soap"
)

type IssueType string

const (
	IssueMissingSection    IssueType = "MISSING_SECTION"
	IssueMissingElement    IssueType = "MISSING_ELEMENT"
	IssueMedicalNecessity  IssueType = "MEDICAL_NECESSITY"
	IssueMissingGoals      IssueType = "MISSING_GOALS"
	IssuePayerRequirement  IssueType = "PAYER_REQUIREMENT"
	IssueClonedNote        IssueType = "CLONED_NOTE"
	IssueCodeDocumentation IssueType = "CODE_DOCUMENTATION"
	IssueAIFinding         IssueType = "AI_FINDING"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// penalty is the score deduction per issue of each severity.
var penalty = map[Severity]int{
	SeverityCritical: 25,
	SeverityError:    15,
	SeverityWarning:  5,
	SeverityInfo:     1,
}

// denialRisk is the estimated claim denial probability per severity.
var denialRisk = map[Severity]float64{
	SeverityCritical: 0.8,
	SeverityError:    0.5,
	SeverityWarning:  0.2,
	SeverityInfo:     0.05,
}

// Issue maps to the compliance_issue table.
type Issue struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	CheckID         uuid.UUID     `db:"check_id" json:"check_id"`
	EncounterID     uuid.UUID     `db:"encounter_id" json:"encounter_id"`
	Type            IssueType     `db:"issue_type" json:"issue_type"`
	Severity        Severity      `db:"severity" json:"severity"`
	Title           string        `db:"title" json:"title"`
	Description     string        `db:"description" json:"description"`
	Section         *soap.Section `db:"section" json:"section,omitempty"`
	SuggestedFix    *string       `db:"suggested_fix" json:"suggested_fix,omitempty"`
	AutoFixable     bool          `db:"auto_fixable" json:"auto_fixable"`
	SuggestedText   *string       `db:"suggested_text" json:"suggested_text,omitempty"`
	AuditRiskImpact int           `db:"audit_risk_impact" json:"audit_risk_impact"`
	DenialRisk      float64       `db:"denial_risk" json:"denial_risk"`
	Resolved        bool          `db:"resolved" json:"resolved"`
	Dismissed       bool          `db:"dismissed" json:"dismissed"`
	Resolution      *string       `db:"resolution" json:"resolution,omitempty"`
	ResolvedBy      *string       `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// Check maps to the compliance_check table. Issues are loaded separately.
type Check struct {
	ID             uuid.UUID `db:"id" json:"id"`
	EncounterID    uuid.UUID `db:"encounter_id" json:"encounter_id"`
	ProviderID     string    `db:"provider_id" json:"provider_id"`
	EncounterType  string    `db:"encounter_type" json:"encounter_type"`
	PayerType      *string   `db:"payer_type" json:"payer_type,omitempty"`
	Score          int       `db:"score" json:"score"`
	AuditRiskScore int       `db:"audit_risk_score" json:"audit_risk_score"`
	BillingBlocked bool      `db:"billing_blocked" json:"billing_blocked"`
	BlockReason    *string   `db:"block_reason" json:"block_reason,omitempty"`
	CriticalCount  int       `db:"critical_count" json:"critical_count"`
	ErrorCount     int       `db:"error_count" json:"error_count"`
	WarningCount   int       `db:"warning_count" json:"warning_count"`
	InfoCount      int       `db:"info_count" json:"info_count"`
	AIProvider     string    `db:"ai_provider" json:"ai_provider"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`

	Issues []*Issue `db:"-" json:"issues"`
}

type CheckRequest struct {
	EncounterID   uuid.UUID `json:"-"`
	ProviderID    string    `json:"-"`
	EncounterType string    `json:"encounter_type,omitempty"`
	PayerType     string    `json:"payer_type,omitempty"`

	// PatientID selects prior notes for the cloned-note check. It defaults to
	// the clinical note's patient.
	PatientID uuid.UUID `json:"patient_id,omitempty"`

	// Sections defaults to the encounter's clinical note.
	Sections *soap.Sections `json:"sections,omitempty"`

	// AcceptedCodes defaults to the encounter's accepted code suggestions.
	AcceptedCodes []string `json:"accepted_codes,omitempty"`

	// IncludePayerSpecific defaults to true when a payer is given.
	IncludePayerSpecific *bool `json:"include_payer_specific,omitempty"`
	PreBillingGate       bool  `json:"pre_billing_gate"`
}

// Gate is the pre-billing decision over a check's unresolved issues.
type Gate struct {
	EncounterID     uuid.UUID `json:"encounter_id"`
	CheckID         uuid.UUID `json:"check_id"`
	CanProceed      bool      `json:"can_proceed"`
	RequiresReview  bool      `json:"requires_review"`
	CriticalCount   int       `json:"critical_count"`
	ErrorCount      int       `json:"error_count"`
	WarningCount    int       `json:"warning_count"`
	InfoCount       int       `json:"info_count"`
	AuditRiskImpact int       `json:"audit_risk_impact"`
	BlockingIssues  []*Issue  `json:"blocking_issues"`
}
