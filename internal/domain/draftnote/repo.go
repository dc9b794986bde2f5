package draftnote

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *DraftNote) error
	GetByID(ctx context.Context, id uuid.UUID) (*DraftNote, error)
	Update(ctx context.Context, d *DraftNote) error
	// ListByEncounter returns the encounter's drafts, newest first.
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*DraftNote, error)
}
