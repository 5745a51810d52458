package appointment

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/directory"
	"github.com/careloop/schedkit/internal/fault"
	"github.com/careloop/schedkit/internal/outbox"
	"github.com/careloop/schedkit/internal/taskqueue"
)

const (
	templateScheduled   = "appointment-scheduled"
	templateRescheduled = "appointment-rescheduled"
	templateCancelled   = "appointment-cancelled"
)

// TokenAssigner hands out the next queue token for an agent's day.
type TokenAssigner interface {
	Assign(ctx context.Context, orgID, agentID, typeID uuid.UUID, day time.Time) (Token, error)
}

// Notifier schedules a notification for the named template. Implementations
// must treat an unknown template as "nothing to send", not an error.
type Notifier interface {
	Send(ctx context.Context, actx directory.Context, template string, data map[string]any, to []directory.UserRef) error
}

// EventSink publishes lifecycle events for downstream consumers.
type EventSink interface {
	Emit(ctx context.Context, evt outbox.Event) error
}

// Service is the appointment lifecycle manager. Every mutation validates the
// double-booking and duplicate-future-booking invariants before commit; the
// storage layer's exclusion constraint is the backstop for races past
// validation.
type Service struct {
	repo   Repository
	types  TypeRepository
	users  directory.Users
	tokens TokenAssigner
	tasks  taskqueue.Enqueuer
	notify Notifier
	events EventSink
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, types TypeRepository, users directory.Users, tokens TokenAssigner, tasks taskqueue.Enqueuer, notify Notifier, events EventSink, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		types:  types,
		users:  users,
		tokens: tokens,
		tasks:  tasks,
		notify: notify,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// TypeRef names an appointment type by id or by code; the remaining fields
// seed lazy creation when the organization has no such type yet.
type TypeRef struct {
	ID           uuid.UUID
	Code         string
	Name         string
	Purpose      string
	MaxQueueSize int
	Availability string
	Agents       []uuid.UUID
}

type BookRequest struct {
	Agent           directory.UserRef
	Visitors        []directory.UserRef
	From            time.Time
	Till            time.Time
	AppointmentType TypeRef
	Purpose         string
	Duration        int
	Provider        string
	Status          Status
	Data            map[string]any
}

// Book creates a new appointment. It fails with ConflictError when the agent
// already has an active appointment intersecting [from, till), or when any
// visitor already has a future active appointment with this agent.
func (s *Service) Book(ctx context.Context, actx directory.Context, req BookRequest) (*Appointment, error) {
	if !req.From.Before(req.Till) {
		return nil, fault.Validation("from must be before till")
	}

	agent, err := s.users.Get(ctx, req.Agent, actx)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fault.Validation("agent does not exist")
	}

	orgID := actx.OrganizationID()
	if orgID == uuid.Nil {
		orgID = agent.OrganizationID
	}

	booked, err := s.repo.FindOverlapping(ctx, orgID, agent.ID, req.From, req.Till, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if len(booked) > 0 {
		return nil, fault.Conflict("appointment already booked")
	}

	visitorRefs := req.Visitors
	if len(visitorRefs) == 0 && actx.User != nil {
		visitorRefs = []directory.UserRef{{ID: actx.User.ID}}
	}

	visitors := make([]Participant, 0, len(visitorRefs))
	for _, ref := range visitorRefs {
		visitor, err := s.users.Get(ctx, ref, actx)
		if err != nil {
			return nil, err
		}
		if visitor == nil {
			return nil, fault.NotFound("visitor not found")
		}
		future, err := s.repo.FutureForVisitor(ctx, agent.ID, visitor.ID, s.now(), uuid.Nil)
		if err != nil {
			return nil, err
		}
		if len(future) > 0 {
			return nil, fault.Conflict("duplicate future booking")
		}
		visitors = append(visitors, Participant{UserID: visitor.ID, Name: visitor.Name(), Email: visitor.Email})
	}

	apptType, err := s.resolveType(ctx, orgID, req.AppointmentType)
	if err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = StatusScheduled
	}
	if status.Terminal() {
		return nil, fault.Validation("cannot book an appointment in a terminal status")
	}

	appt := &Appointment{
		ID:                uuid.New(),
		Purpose:           req.Purpose,
		From:              req.From,
		Till:              req.Till,
		Duration:          req.Duration,
		Provider:          req.Provider,
		Agent:             Participant{UserID: agent.ID, Name: agent.Name(), Email: agent.Email},
		Visitors:          visitors,
		Status:            status,
		Data:              req.Data,
		OrganizationID:    orgID,
		AppointmentTypeID: apptType.ID,
	}

	token, err := s.tokens.Assign(ctx, orgID, agent.ID, apptType.ID, req.From)
	if err != nil {
		return nil, err
	}
	appt.Token = token

	if err := s.repo.Create(ctx, appt); err != nil {
		return nil, err
	}

	s.emit(ctx, "appointment.scheduled.v1", appt)
	s.sendNotification(ctx, actx, templateScheduled, appt)

	return appt, nil
}

// Changes carries a partial update; nil fields are left untouched.
type Changes struct {
	Purpose   *string
	From      *time.Time
	Till      *time.Time
	StartTime *time.Time
	EndTime   *time.Time
	Status    *Status
	Duration  *int
	Visitors  []directory.UserRef
	Agent     *directory.UserRef
	Data      map[string]any
}

// Update applies changes to an existing appointment, re-validating the
// duplicate-future-booking invariant for newly added visitors and the
// overlap invariant when the agent changes, excluding the appointment itself
// from both comparison sets.
func (s *Service) Update(ctx context.Context, actx directory.Context, id uuid.UUID, changes Changes) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := appt.From
	till := appt.Till
	if changes.From != nil {
		from = *changes.From
	}
	if changes.Till != nil {
		till = *changes.Till
	}
	if !from.Before(till) {
		return nil, fault.Validation("from must be before till")
	}

	statusChanged := false
	if changes.Status != nil && *changes.Status != appt.Status {
		if appt.Status.Terminal() {
			return nil, fault.Conflict("appointment is in a terminal state")
		}
		appt.Status = *changes.Status
		statusChanged = true
	}
	timeChanged := !from.Equal(appt.From) || !till.Equal(appt.Till)
	appt.From = from
	appt.Till = till

	if changes.Purpose != nil {
		appt.Purpose = *changes.Purpose
	}
	if changes.Duration != nil {
		appt.Duration = *changes.Duration
	}
	if changes.StartTime != nil {
		appt.StartTime = changes.StartTime
	}
	if changes.EndTime != nil {
		appt.EndTime = changes.EndTime
	}
	if changes.Data != nil {
		appt.Data = changes.Data
	}

	if len(changes.Visitors) > 0 {
		visitors := make([]Participant, 0, len(changes.Visitors))
		for _, ref := range changes.Visitors {
			visitor, err := s.users.Get(ctx, ref, actx)
			if err != nil {
				return nil, err
			}
			if visitor == nil {
				return nil, fault.NotFound("visitor not found")
			}
			visitors = append(visitors, Participant{UserID: visitor.ID, Name: visitor.Name(), Email: visitor.Email})
		}

		// Only visitors not already on the appointment are re-validated, and
		// the appointment itself is excluded by identity so a no-op change
		// never reads as a self-conflict.
		for _, v := range visitors {
			if appt.HasVisitor(v.UserID) {
				continue
			}
			future, err := s.repo.FutureForVisitor(ctx, appt.Agent.UserID, v.UserID, s.now(), appt.ID)
			if err != nil {
				return nil, err
			}
			if len(future) > 0 {
				return nil, fault.Conflict("duplicate future booking")
			}
		}
		appt.Visitors = visitors
	}

	if changes.Agent != nil && changes.Agent.Email != "" && changes.Agent.Email != appt.Agent.Email {
		agent, err := s.users.Get(ctx, *changes.Agent, actx)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			return nil, fault.Validation("agent does not exist")
		}
		booked, err := s.repo.FindOverlapping(ctx, appt.OrganizationID, agent.ID, from, till, appt.ID)
		if err != nil {
			return nil, err
		}
		if len(booked) > 0 {
			return nil, fault.Conflict("appointment already booked")
		}
		appt.Agent = Participant{UserID: agent.ID, Name: agent.Name(), Email: agent.Email}
	}

	if err := s.repo.Update(ctx, appt); err != nil {
		return nil, err
	}

	s.emit(ctx, "appointment.updated.v1", appt)
	if statusChanged || timeChanged {
		s.sendNotification(ctx, actx, templateRescheduled, appt)
	}
	return appt, nil
}

// Cancel marks the appointment cancelled. Cancelling an appointment that is
// already in a terminal status is a no-op, not an error.
func (s *Service) Cancel(ctx context.Context, actx directory.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return appt, nil
	}

	appt.Status = StatusCancelled
	if err := s.repo.Update(ctx, appt); err != nil {
		return nil, err
	}

	s.emit(ctx, "appointment.cancelled.v1", appt)
	s.sendNotification(ctx, actx, templateCancelled, appt)
	return appt, nil
}

type BulkItem struct {
	ID      uuid.UUID
	Changes Changes
}

// BulkUpdate applies the items sequentially. It is not atomic: the first
// failing item aborts the batch and earlier updates stay applied.
func (s *Service) BulkUpdate(ctx context.Context, actx directory.Context, items []BulkItem) error {
	if len(items) == 0 {
		return fault.Validation("no appointment found")
	}
	for _, item := range items {
		if _, err := s.Update(ctx, actx, item.ID, item.Changes); err != nil {
			return err
		}
	}
	return nil
}

type cancelAgentDayPayload struct {
	AgentID string    `json:"agentId"`
	From    time.Time `json:"from"`
	Till    time.Time `json:"till"`
}

// QueueAgentDayCancellation enqueues cancellation of every active appointment
// for the agent intersecting [from, till). The work runs on the offline
// queue; it may touch many records.
func (s *Service) QueueAgentDayCancellation(ctx context.Context, actx directory.Context, agentRef directory.UserRef, from, till time.Time) error {
	agent, err := s.users.Get(ctx, agentRef, actx)
	if err != nil {
		return err
	}
	if agent == nil {
		return fault.NotFound("agent not found")
	}

	job, err := taskqueue.NewJob(taskqueue.KindCancelAgentDay, agent.ID.String(), cancelAgentDayPayload{
		AgentID: agent.ID.String(),
		From:    from,
		Till:    till,
	})
	if err != nil {
		return err
	}
	job.OrganizationID = actx.OrganizationID().String()
	job.TenantID = actx.TenantID().String()
	if actx.User != nil {
		job.ActorID = actx.User.ID.String()
	}
	return s.tasks.Enqueue(ctx, job)
}

// ExecuteCancelAgentDay is the worker-side handler for a queued agent-day
// cancellation. Each cancel is idempotent, so at-least-once redelivery of the
// job is safe.
func (s *Service) ExecuteCancelAgentDay(ctx context.Context, job taskqueue.Job) error {
	var payload cancelAgentDayPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fault.Validation("malformed cancel-agent-day payload")
	}
	agentID, err := uuid.Parse(payload.AgentID)
	if err != nil {
		return fault.Validation("malformed agent id")
	}

	appts, err := s.repo.ListForAgentBetween(ctx, agentID, payload.From, payload.Till)
	if err != nil {
		return err
	}
	// Cancellation notifications resolve templates per organization, so the
	// acting context the job was enqueued under is rebuilt here.
	actx := jobContext(job)
	for i := range appts {
		if _, err := s.Cancel(ctx, actx, appts[i].ID); err != nil {
			return err
		}
	}
	s.logger.Info("agent day cancelled",
		"agent_id", agentID,
		"from", payload.From,
		"till", payload.Till,
		"count", len(appts))
	return nil
}

// jobContext rebuilds the acting context a queued job was enqueued under.
func jobContext(job taskqueue.Job) directory.Context {
	var actx directory.Context
	if id, err := uuid.Parse(job.OrganizationID); err == nil && id != uuid.Nil {
		actx.Organization = &directory.Organization{ID: id}
	}
	if id, err := uuid.Parse(job.TenantID); err == nil && id != uuid.Nil {
		actx.Tenant = &directory.Tenant{ID: id}
	}
	if id, err := uuid.Parse(job.ActorID); err == nil && id != uuid.Nil {
		actx.User = &directory.User{ID: id}
	}
	return actx
}

// FutureAppointments returns the visitor's active appointments with the agent
// whose from is strictly in the future.
func (s *Service) FutureAppointments(ctx context.Context, visitorID, agentID uuid.UUID) ([]Appointment, error) {
	return s.repo.FutureForVisitor(ctx, agentID, visitorID, s.now(), uuid.Nil)
}

// Schedule is the visitor's appointment history grouped for display.
type Schedule struct {
	Upcoming  []Appointment
	Old       []Appointment
	Cancelled []Appointment
}

func (s *Service) VisitorAppointments(ctx context.Context, visitorID uuid.UUID) (*Schedule, error) {
	now := s.now()
	upcoming, err := s.repo.ListForVisitor(ctx, visitorID, BucketUpcoming, now)
	if err != nil {
		return nil, err
	}
	old, err := s.repo.ListForVisitor(ctx, visitorID, BucketOld, now)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.repo.ListForVisitor(ctx, visitorID, BucketCancelled, now)
	if err != nil {
		return nil, err
	}
	return &Schedule{Upcoming: upcoming, Old: old, Cancelled: cancelled}, nil
}

// AgentDay returns the agent's active appointments for the day containing at.
func (s *Service) AgentDay(ctx context.Context, agentID uuid.UUID, at time.Time) ([]Appointment, error) {
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	return s.repo.ListForAgentBetween(ctx, agentID, dayStart, dayStart.AddDate(0, 0, 1))
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.Get(ctx, id)
}

// Remove hard-deletes an appointment. Administrative; bypasses invariants.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	return s.repo.Remove(ctx, id)
}

func (s *Service) resolveType(ctx context.Context, orgID uuid.UUID, ref TypeRef) (*AppointmentType, error) {
	if ref.ID != uuid.Nil {
		return s.types.GetByID(ctx, ref.ID)
	}
	code := ref.Code
	if code == "" {
		code = ref.Name
	}
	if code == "" {
		return nil, fault.Validation("appointment type is required")
	}

	existing, err := s.types.GetByCode(ctx, orgID, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	created := &AppointmentType{
		Code:           code,
		Name:           ref.Name,
		Purpose:        ref.Purpose,
		MaxQueueSize:   ref.MaxQueueSize,
		Availability:   ref.Availability,
		Status:         TypeActive,
		Agents:         ref.Agents,
		OrganizationID: orgID,
	}
	if created.Name == "" {
		created.Name = code
	}
	if err := s.types.Create(ctx, created); err != nil {
		// Lost a create race; the winner's row is the one to use.
		if fault.IsConflict(err) {
			return s.types.GetByCode(ctx, orgID, code)
		}
		return nil, err
	}
	return created, nil
}

func (s *Service) emit(ctx context.Context, eventType string, appt *Appointment) {
	payload, err := json.Marshal(map[string]any{
		"appointment_id":  appt.ID.String(),
		"organization_id": appt.OrganizationID.String(),
		"agent_id":        appt.Agent.UserID.String(),
		"status":          appt.Status,
		"from":            appt.From.UTC().Format(time.RFC3339),
		"till":            appt.Till.UTC().Format(time.RFC3339),
		"token_no":        appt.Token.Number,
	})
	if err != nil {
		s.logger.Error("failed to build lifecycle event", "err", err)
		return
	}
	if err := s.events.Emit(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID.String(),
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		s.logger.Error("failed to emit lifecycle event", "err", err, "event_type", eventType)
	}
}

// sendNotification hands the appointment to the composer. Failures are
// logged, never propagated: notification failure must not undo a committed
// scheduling mutation.
func (s *Service) sendNotification(ctx context.Context, actx directory.Context, template string, appt *Appointment) {
	if s.notify == nil {
		return
	}

	visitorsName := make([]string, 0, len(appt.Visitors))
	to := make([]directory.UserRef, 0, len(appt.Visitors)+1)
	for _, v := range appt.Visitors {
		visitorsName = append(visitorsName, v.Name)
		to = append(to, directory.UserRef{ID: v.UserID})
	}
	to = append(to, directory.UserRef{ID: appt.Agent.UserID})

	data := map[string]any{
		"appointmentId": appt.ID.String(),
		"purpose":       appt.Purpose,
		"from":          appt.From.UTC().Format(time.RFC3339),
		"till":          appt.Till.UTC().Format(time.RFC3339),
		"agentName":     appt.Agent.Name,
		"visitorsName":  visitorsName,
		"tokenNo":       appt.Token.Number,
		"status":        string(appt.Status),
	}
	if err := s.notify.Send(ctx, actx, template, data, to); err != nil {
		s.logger.Error("notification compose failed", "err", err, "template", template, "appointment_id", appt.ID)
	}
}
