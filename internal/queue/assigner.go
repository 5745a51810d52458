package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/appointment"
	"github.com/careloop/schedkit/internal/fault"
	"github.com/careloop/schedkit/libs/redisx"
)

// Assigner resolves the queue for an agent's day (creating it on first use)
// and hands out its tokens. A Redis lock serializes first-use creation per
// slot; the unique index on (organization, agent, type, day) is the backstop
// when the lock cannot be taken.
type Assigner struct {
	repo  Repository
	locks *redisx.Mutex
}

func NewAssigner(repo Repository, locks *redisx.Mutex) *Assigner {
	return &Assigner{repo: repo, locks: locks}
}

// Assign implements the appointment token contract: one call, one new token,
// numbers strictly increasing per queue with no gaps or duplicates.
func (a *Assigner) Assign(ctx context.Context, orgID, agentID, typeID uuid.UUID, day time.Time) (appointment.Token, error) {
	q, err := a.resolve(ctx, orgID, agentID, typeID, day)
	if err != nil {
		return appointment.Token{}, err
	}
	if q.Status == StatusClosed {
		return appointment.Token{}, fault.Conflict("queue is closed")
	}

	token, err := a.repo.NextToken(ctx, q.ID)
	if err != nil {
		return appointment.Token{}, err
	}
	return appointment.Token{QueueID: q.ID, Number: token}, nil
}

// CallNext advances the queue's serving position and returns the token now
// being served.
func (a *Assigner) CallNext(ctx context.Context, queueID uuid.UUID) (int, error) {
	return a.repo.Advance(ctx, queueID)
}

func (a *Assigner) resolve(ctx context.Context, orgID, agentID, typeID uuid.UUID, day time.Time) (*Queue, error) {
	var q *Queue
	name := fmt.Sprintf("queue:%s:%s:%s", orgID, agentID, DayOf(day).Format("2006-01-02"))

	work := func(ctx context.Context) error {
		var err error
		q, err = a.resolveOrCreate(ctx, orgID, agentID, typeID, day)
		return err
	}

	if a.locks == nil {
		if err := work(ctx); err != nil {
			return nil, err
		}
		return q, nil
	}
	err := a.locks.WithLock(ctx, name, work)
	if errors.Is(err, redisx.ErrNotAcquired) {
		// Contended slot; proceed unlocked and let the unique index decide.
		err = work(ctx)
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (a *Assigner) resolveOrCreate(ctx context.Context, orgID, agentID, typeID uuid.UUID, day time.Time) (*Queue, error) {
	q, err := a.repo.FindForDay(ctx, orgID, agentID, typeID, day)
	if err != nil {
		return nil, err
	}
	if q != nil {
		return q, nil
	}

	q = &Queue{
		OrganizationID:    orgID,
		AgentID:           agentID,
		AppointmentTypeID: typeID,
		Day:               DayOf(day),
		Status:            StatusOpen,
	}
	if err := a.repo.Create(ctx, q); err != nil {
		if fault.IsConflict(err) {
			return a.repo.FindForDay(ctx, orgID, agentID, typeID, day)
		}
		return nil, err
	}
	return q, nil
}
