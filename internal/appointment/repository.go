package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// VisitorBucket selects one of the visitor-schedule views.
type VisitorBucket string

const (
	BucketUpcoming  VisitorBucket = "upcoming"  // active, from > now, ascending
	BucketOld       VisitorBucket = "old"       // visited or from < now, descending
	BucketCancelled VisitorBucket = "cancelled" // cancelled/closed/failed, ascending
)

// Repository is the persistence contract for appointments. Implementations
// map storage-level uniqueness violations on the agent/interval backstop
// constraint to fault.ConflictError so a race past validation fails the
// commit instead of corrupting state.
type Repository interface {
	Create(ctx context.Context, appt *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, appt *Appointment) error
	Remove(ctx context.Context, id uuid.UUID) error

	// FindOverlapping returns active appointments for the agent whose
	// half-open interval intersects [from, till), excluding excludeID.
	FindOverlapping(ctx context.Context, orgID, agentID uuid.UUID, from, till time.Time, excludeID uuid.UUID) ([]Appointment, error)

	// FutureForVisitor returns active appointments between the agent and the
	// visitor with from strictly after the given instant, excluding excludeID.
	FutureForVisitor(ctx context.Context, agentID, visitorID uuid.UUID, after time.Time, excludeID uuid.UUID) ([]Appointment, error)

	// ListForAgentBetween returns active appointments for the agent whose
	// interval intersects [from, till).
	ListForAgentBetween(ctx context.Context, agentID uuid.UUID, from, till time.Time) ([]Appointment, error)

	// ListForVisitor returns the visitor's appointments in the given bucket,
	// evaluated against now.
	ListForVisitor(ctx context.Context, visitorID uuid.UUID, bucket VisitorBucket, now time.Time) ([]Appointment, error)
}

// TypeRepository persists appointment types, unique per (organization, code).
type TypeRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*AppointmentType, error)
	// GetByCode returns (nil, nil) when the organization has no such type.
	GetByCode(ctx context.Context, orgID uuid.UUID, code string) (*AppointmentType, error)
	// Create maps a duplicate (organization, code) to fault.ConflictError.
	Create(ctx context.Context, t *AppointmentType) error
	Update(ctx context.Context, t *AppointmentType) error
	Search(ctx context.Context, orgID uuid.UUID, code string) ([]AppointmentType, error)
}
