package documents

import (
	"context"

	"github.com/google/uuid"
)

type ClinicalNoteRepository interface {
	Create(ctx context.Context, n *ClinicalNote) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalNote, error)
	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*ClinicalNote, error)
	Update(ctx context.Context, n *ClinicalNote) error
	// ListSignedByProvider returns the provider's signed notes, newest first.
	ListSignedByProvider(ctx context.Context, providerID string, limit int) ([]*ClinicalNote, error)
	// ListPriorByPatient returns the patient's notes from other encounters,
	// newest first.
	ListPriorByPatient(ctx context.Context, patientID, excludeEncounterID uuid.UUID, limit int) ([]*ClinicalNote, error)
}
