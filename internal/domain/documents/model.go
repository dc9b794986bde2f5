package documents

import (
	"time"

	"github.com/google/uuid"

	"github.com/chiro/chiro/internal/soap"
)

const (
	NoteStatusDraft   = "draft"
	NoteStatusSigned  = "signed"
	NoteStatusAmended = "amended"
)

// ClinicalNote maps to the clinical_note table. There is at most one note
// per encounter; approved drafts are materialised into it.
type ClinicalNote struct {
	ID          uuid.UUID `db:"id" json:"id"`
	EncounterID uuid.UUID `db:"encounter_id" json:"encounter_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	ProviderID  string    `db:"provider_id" json:"provider_id"`
	Status      string    `db:"status" json:"status"`
	soap.Sections
	SourceDraftID *uuid.UUID `db:"source_draft_id" json:"source_draft_id,omitempty"`
	SignedBy      *string    `db:"signed_by" json:"signed_by,omitempty"`
	SignedAt      *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	VersionID     int        `db:"version_id" json:"version_id"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Materialization is the content an approved draft writes into the note.
type Materialization struct {
	EncounterID uuid.UUID
	PatientID   uuid.UUID
	ProviderID  string
	DraftID     uuid.UUID
	Sections    soap.Sections
}
