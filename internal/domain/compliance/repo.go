package compliance

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateCheck(ctx context.Context, c *Check) error
	CreateIssues(ctx context.Context, issues []*Issue) error
	GetCheck(ctx context.Context, id uuid.UUID) (*Check, error)
	// ListChecks returns one page of the encounter's checks, newest first,
	// plus the total count. A limit of 0 returns every check.
	ListChecks(ctx context.Context, encounterID uuid.UUID, limit, offset int) ([]*Check, int, error)
	LatestCheck(ctx context.Context, encounterID uuid.UUID) (*Check, error)
	// ListIssues returns the issues of the given checks in creation order.
	ListIssues(ctx context.Context, checkIDs []uuid.UUID) ([]*Issue, error)
	GetIssue(ctx context.Context, id uuid.UUID) (*Issue, error)
	UpdateIssue(ctx context.Context, is *Issue) error
}
