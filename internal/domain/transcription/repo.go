package transcription

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists sessions and their segments. CreateSession returns a
// Conflict error when the encounter already has an active session.
type Repository interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	GetActiveByEncounter(ctx context.Context, encounterID uuid.UUID) (*Session, error)
	GetLatestCompleted(ctx context.Context, encounterID uuid.UUID) (*Session, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Session, error)
	UpdateSession(ctx context.Context, s *Session) error

	AppendSegment(ctx context.Context, seg *Segment) error
	ListSegments(ctx context.Context, sessionID uuid.UUID) ([]*Segment, error)
}
