// Package queue manages the per-agent daily token queues. A queue exists per
// (organization, agent, appointment type, day) and hands out monotonically
// increasing token numbers to bookings.
package queue

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusPaused Status = "paused"
	StatusClosed Status = "closed"
)

type Queue struct {
	ID                uuid.UUID
	OrganizationID    uuid.UUID
	AgentID           uuid.UUID
	AppointmentTypeID uuid.UUID
	Day               time.Time // midnight UTC of the queue's day
	LastToken         int       // highest token handed out
	CurrentToken      int       // token currently being served
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
