package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists queues, unique per (organization, agent, type, day).
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Queue, error)
	// FindForDay returns (nil, nil) when no queue exists for the slot yet.
	FindForDay(ctx context.Context, orgID, agentID, typeID uuid.UUID, day time.Time) (*Queue, error)
	// Create maps a duplicate slot to fault.ConflictError.
	Create(ctx context.Context, q *Queue) error
	// NextToken atomically increments last_token and returns the new value.
	NextToken(ctx context.Context, id uuid.UUID) (int, error)
	// Advance atomically moves current_token forward by one, capped at
	// last_token, and returns the new value.
	Advance(ctx context.Context, id uuid.UUID) (int, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
}
