package coding

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateBatch(ctx context.Context, items []*Suggestion) error
	GetByID(ctx context.Context, id uuid.UUID) (*Suggestion, error)
	Update(ctx context.Context, s *Suggestion) error
	// ListByEncounter returns one page of the encounter's suggestions,
	// newest batch first and by type and rank within a batch, plus the
	// total matching f.
	ListByEncounter(ctx context.Context, encounterID uuid.UUID, f ListFilter) ([]*Suggestion, int, error)
	// AcceptanceStats counts a provider's ACCEPTED and REJECTED decisions
	// per code.
	AcceptanceStats(ctx context.Context, providerID string) (map[string]Acceptance, error)
}
