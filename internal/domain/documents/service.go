package documents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chiro/chiro/internal/platform/apperror"
	"github.com/chiro/chiro/internal/platform/db"
	"github.com/chiro/chiro/internal/soap"
)

type Service struct {
	notes ClinicalNoteRepository
	now   func() time.Time
}

func NewService(notes ClinicalNoteRepository) *Service {
	return &Service{notes: notes, now: time.Now}
}

func (s *Service) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*ClinicalNote, error) {
	return s.notes.GetByEncounter(ctx, encounterID)
}

// Materialize writes the four draft sections into the encounter's note,
// creating it when absent and overwriting every section otherwise.
func (s *Service) Materialize(ctx context.Context, m Materialization) (*ClinicalNote, error) {
	var out *ClinicalNote
	err := db.InTx(ctx, func(ctx context.Context) error {
		draftID := m.DraftID
		existing, err := s.notes.GetByEncounter(ctx, m.EncounterID)
		if errors.Is(err, apperror.ErrNotFound) {
			n := &ClinicalNote{
				EncounterID:   m.EncounterID,
				PatientID:     m.PatientID,
				ProviderID:    m.ProviderID,
				Status:        NoteStatusDraft,
				Sections:      m.Sections,
				SourceDraftID: &draftID,
			}
			if err := s.notes.Create(ctx, n); err != nil {
				return err
			}
			out = n
			return nil
		}
		if err != nil {
			return err
		}
		existing.Sections = m.Sections
		existing.SourceDraftID = &draftID
		if existing.Status == NoteStatusSigned {
			existing.Status = NoteStatusAmended
		}
		if err := s.notes.Update(ctx, existing); err != nil {
			return err
		}
		out = existing
		return nil
	})
	return out, err
}

// AppendToSection adds text to one section of the encounter's note,
// separated from existing content by a blank line.
func (s *Service) AppendToSection(ctx context.Context, encounterID uuid.UUID, section soap.Section, text string) (*ClinicalNote, error) {
	if !section.Valid() {
		return nil, apperror.BadRequest("unknown section %q", section)
	}
	n, err := s.notes.GetByEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if cur := n.Get(section); cur != "" {
		text = cur + "\n\n" + text
	}
	n.Set(section, text)
	if n.Status == NoteStatusSigned {
		n.Status = NoteStatusAmended
	}
	if err := s.notes.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Sign marks the encounter's note as signed by providerID.
func (s *Service) Sign(ctx context.Context, encounterID uuid.UUID, providerID string) (*ClinicalNote, error) {
	n, err := s.notes.GetByEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	if n.Status != NoteStatusDraft && n.Status != NoteStatusAmended {
		return nil, apperror.BadRequest("clinical note is already %s", n.Status)
	}
	now := s.now().UTC()
	n.Status = NoteStatusSigned
	n.SignedBy = &providerID
	n.SignedAt = &now
	if err := s.notes.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// RecentSigned returns up to limit of the provider's signed notes.
func (s *Service) RecentSigned(ctx context.Context, providerID string, limit int) ([]soap.Sections, error) {
	notes, err := s.notes.ListSignedByProvider(ctx, providerID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]soap.Sections, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Sections)
	}
	return out, nil
}

// PriorNotes returns up to limit of the patient's notes from other
// encounters, newest first.
func (s *Service) PriorNotes(ctx context.Context, patientID, encounterID uuid.UUID, limit int) ([]soap.Sections, error) {
	notes, err := s.notes.ListPriorByPatient(ctx, patientID, encounterID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]soap.Sections, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Sections)
	}
	return out, nil
}
