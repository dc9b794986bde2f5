package preference

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows ListByProvider. Zero values do not filter.
type ListFilter struct {
	Category      Category
	ActiveOnly    bool
	MinConfidence float64
}

// Repository persists preferences. ListByProvider orders by confidence,
// highest first.
type Repository interface {
	Create(ctx context.Context, p *Preference) error
	GetByID(ctx context.Context, id uuid.UUID) (*Preference, error)
	GetByKey(ctx context.Context, providerID string, category Category, key string) (*Preference, error)
	Update(ctx context.Context, p *Preference) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByProvider(ctx context.Context, providerID string, f ListFilter) ([]*Preference, error)
}
