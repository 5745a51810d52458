package template

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists templates, unique per (organization, code).
type Repository interface {
	// GetByCode returns (nil, nil) when the organization has no template with
	// the code; a missing template silently skips the notification.
	GetByCode(ctx context.Context, orgID uuid.UUID, code string) (*Template, error)
	Get(ctx context.Context, id uuid.UUID) (*Template, error)
	// Create maps a duplicate (organization, code) to fault.ConflictError.
	Create(ctx context.Context, t *Template) error
	Update(ctx context.Context, t *Template) error
	Search(ctx context.Context, orgID uuid.UUID, category string) ([]Template, error)
	Remove(ctx context.Context, id uuid.UUID) error
}
