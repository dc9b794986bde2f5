package draftnote

import (
	"time"

	"github.com/google/uuid"

	"github.com/chiro/chiro/internal/platform/ai"
	"github.com/chiro/chiro/internal/soap"
)

type Status string

const (
	StatusGenerating    Status = "GENERATING"
	StatusPendingReview Status = "PENDING_REVIEW"
	StatusApproved      Status = "APPROVED"
	StatusRejected      Status = "REJECTED"
	StatusEdited        Status = "EDITED"
	StatusApplied       Status = "APPLIED"
)

// SectionEdit keeps the generated text of a section next to the provider's
// latest version of it.
type SectionEdit struct {
	Original string    `json:"original"`
	Edited   string    `json:"edited"`
	EditedAt time.Time `json:"editedAt"`
}

// GenerationInput is everything the model saw, kept for regeneration.
type GenerationInput struct {
	Transcript       string            `json:"transcript"`
	PatientInfo      ai.PatientInfo    `json:"patientInfo"`
	ChiefComplaint   string            `json:"chiefComplaint,omitempty"`
	EncounterType    string            `json:"encounterType,omitempty"`
	PreviousVisit    *ai.PreviousVisit `json:"previousVisit,omitempty"`
	UseStyleMatching bool              `json:"useStyleMatching"`
}

// DraftNote maps to the draft_note table.
type DraftNote struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	EncounterID     uuid.UUID  `db:"encounter_id" json:"encounter_id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	ProviderID      string     `db:"provider_id" json:"provider_id"`
	TranscriptionID *uuid.UUID `db:"transcription_id" json:"transcription_id,omitempty"`
	Status          Status     `db:"status" json:"status"`

	soap.Sections
	SectionConfidence map[soap.Section]float64 `db:"section_confidence" json:"section_confidence"`
	Confidence        float64                  `db:"confidence" json:"confidence"`

	StyleMatchScore      float64     `db:"style_match_score" json:"style_match_score"`
	AppliedStyleElements []string    `db:"applied_style_elements" json:"applied_style_elements"`
	AppliedPreferenceIDs []uuid.UUID `db:"applied_preference_ids" json:"applied_preference_ids"`

	EditCount   int                          `db:"edit_count" json:"edit_count"`
	Edits       map[soap.Section]SectionEdit `db:"edits" json:"edits"`
	EditReasons []string                     `db:"edit_reasons" json:"edit_reasons"`

	ReviewedBy  *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewNotes *string    `db:"review_notes" json:"review_notes,omitempty"`

	AIProvider      string          `db:"ai_provider" json:"ai_provider"`
	ProcessingMs    int             `db:"processing_ms" json:"processing_ms"`
	GenerationInput GenerationInput `db:"generation_input" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

type GenerateRequest struct {
	EncounterID     uuid.UUID         `json:"encounter_id"`
	PatientID       uuid.UUID         `json:"patient_id"`
	ProviderID      string            `json:"provider_id"`
	TranscriptionID *uuid.UUID        `json:"transcription_id,omitempty"`
	Transcript      string            `json:"transcript,omitempty"`
	PatientInfo     ai.PatientInfo    `json:"patient_info"`
	ChiefComplaint  string            `json:"chief_complaint,omitempty"`
	EncounterType   string            `json:"encounter_type,omitempty"`
	PreviousVisit   *ai.PreviousVisit `json:"previous_visit,omitempty"`
	// UseStyleMatching defaults to true.
	UseStyleMatching *bool `json:"use_style_matching,omitempty"`
}

// EditRequest carries the sections the provider changed. Nil sections are
// left alone.
type EditRequest struct {
	soap.Sections
	Reason string `json:"reason,omitempty"`
}

type ReviewRequest struct {
	Reviewer string `json:"-"`
	Notes    string `json:"notes,omitempty"`
}

type RegenerateRequest struct {
	AdditionalContext string         `json:"additional_context,omitempty"`
	FocusAreas        []soap.Section `json:"focus_areas,omitempty"`
}
