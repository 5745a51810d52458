package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDraft       Status = "draft"
	StatusScheduled   Status = "scheduled"
	StatusRescheduled Status = "rescheduled"
	StatusVisited     Status = "visited"
	StatusClosed      Status = "closed"
	StatusCancelled   Status = "cancelled"
	StatusFailed      Status = "failed"
	StatusExpired     Status = "expired"
)

// ActiveStatuses are the statuses that count toward the no-double-booking and
// no-duplicate-future-booking invariants.
var ActiveStatuses = []Status{StatusScheduled, StatusRescheduled}

// Terminal reports whether no further scheduling-relevant transition can
// happen from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusVisited, StatusClosed, StatusCancelled, StatusFailed, StatusExpired:
		return true
	}
	return false
}

func (s Status) Active() bool {
	return s == StatusScheduled || s == StatusRescheduled
}

// Participant is a denormalized reference to a directory user.
type Participant struct {
	UserID uuid.UUID
	Name   string
	Email  string
}

// Token is the queue position handed out at booking time.
type Token struct {
	QueueID uuid.UUID
	Number  int
}

type Invoice struct {
	ID        string
	VisitorID uuid.UUID
}

type Appointment struct {
	ID        uuid.UUID
	Purpose   string
	From      time.Time
	Till      time.Time
	StartTime *time.Time // actual start, set on visit
	EndTime   *time.Time // actual end
	Duration  int        // minutes
	Provider  string
	Agent     Participant
	Visitors  []Participant
	Token     Token
	Status    Status
	Invoices  []Invoice
	Data      map[string]any
	Meta      map[string]any

	OrganizationID    uuid.UUID
	AppointmentTypeID uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasVisitor reports whether the user is already on the visitor list.
func (a *Appointment) HasVisitor(userID uuid.UUID) bool {
	for _, v := range a.Visitors {
		if v.UserID == userID {
			return true
		}
	}
	return false
}

// Overlaps tests half-open interval intersection: [a1,b1) and [a2,b2)
// conflict iff a1 < b2 && a2 < b1.
func Overlaps(aFrom, aTill, bFrom, bTill time.Time) bool {
	return aFrom.Before(bTill) && bFrom.Before(aTill)
}

type TypeStatus string

const (
	TypeActive   TypeStatus = "active"
	TypeInactive TypeStatus = "inactive"
)

// AppointmentType describes a bookable category of appointments. Unique by
// (organization, code); created lazily when a booking names a type the
// organization does not have yet.
type AppointmentType struct {
	ID             uuid.UUID
	Code           string
	Name           string
	Purpose        string
	MaxQueueSize   int
	Availability   string
	Status         TypeStatus
	Agents         []uuid.UUID
	OrganizationID uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
