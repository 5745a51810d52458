package appointment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/directory"
	"github.com/careloop/schedkit/internal/fault"
	"github.com/careloop/schedkit/internal/outbox"
	"github.com/careloop/schedkit/internal/taskqueue"
)

type memRepo struct {
	appts map[uuid.UUID]*Appointment
}

func newMemRepo() *memRepo {
	return &memRepo{appts: map[uuid.UUID]*Appointment{}}
}

func (r *memRepo) Create(_ context.Context, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	for _, other := range r.appts {
		if other.Agent.UserID == appt.Agent.UserID &&
			other.Status.Active() && appt.Status.Active() &&
			Overlaps(appt.From, appt.Till, other.From, other.Till) {
			return fault.Conflict("appointment already booked")
		}
	}
	cp := *appt
	r.appts[appt.ID] = &cp
	return nil
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (*Appointment, error) {
	appt, ok := r.appts[id]
	if !ok {
		return nil, fault.NotFound("appointment not found")
	}
	cp := *appt
	return &cp, nil
}

func (r *memRepo) Update(_ context.Context, appt *Appointment) error {
	if _, ok := r.appts[appt.ID]; !ok {
		return fault.NotFound("appointment not found")
	}
	cp := *appt
	r.appts[appt.ID] = &cp
	return nil
}

func (r *memRepo) Remove(_ context.Context, id uuid.UUID) error {
	delete(r.appts, id)
	return nil
}

func (r *memRepo) FindOverlapping(_ context.Context, orgID, agentID uuid.UUID, from, till time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	var out []Appointment
	for _, appt := range r.appts {
		if appt.ID == excludeID || appt.Agent.UserID != agentID || !appt.Status.Active() {
			continue
		}
		if Overlaps(from, till, appt.From, appt.Till) {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (r *memRepo) FutureForVisitor(_ context.Context, agentID, visitorID uuid.UUID, after time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	var out []Appointment
	for _, appt := range r.appts {
		if appt.ID == excludeID || appt.Agent.UserID != agentID || !appt.Status.Active() {
			continue
		}
		if appt.HasVisitor(visitorID) && appt.From.After(after) {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (r *memRepo) ListForAgentBetween(_ context.Context, agentID uuid.UUID, from, till time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, appt := range r.appts {
		if appt.Agent.UserID != agentID || !appt.Status.Active() {
			continue
		}
		if Overlaps(from, till, appt.From, appt.Till) {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (r *memRepo) ListForVisitor(_ context.Context, visitorID uuid.UUID, bucket VisitorBucket, now time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, appt := range r.appts {
		if !appt.HasVisitor(visitorID) {
			continue
		}
		switch bucket {
		case BucketUpcoming:
			if appt.Status.Active() && appt.From.After(now) {
				out = append(out, *appt)
			}
		case BucketOld:
			if appt.Status == StatusVisited || appt.From.Before(now) {
				out = append(out, *appt)
			}
		case BucketCancelled:
			if appt.Status == StatusCancelled || appt.Status == StatusClosed || appt.Status == StatusFailed {
				out = append(out, *appt)
			}
		}
	}
	return out, nil
}

type memTypes struct {
	types map[string]*AppointmentType
}

func newMemTypes() *memTypes { return &memTypes{types: map[string]*AppointmentType{}} }

func (r *memTypes) key(orgID uuid.UUID, code string) string { return orgID.String() + "/" + code }

func (r *memTypes) GetByID(_ context.Context, id uuid.UUID) (*AppointmentType, error) {
	for _, t := range r.types {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fault.NotFound("appointment type not found")
}

func (r *memTypes) GetByCode(_ context.Context, orgID uuid.UUID, code string) (*AppointmentType, error) {
	t, ok := r.types[r.key(orgID, code)]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (r *memTypes) Create(_ context.Context, t *AppointmentType) error {
	k := r.key(t.OrganizationID, t.Code)
	if _, ok := r.types[k]; ok {
		return fault.Conflict("appointment type already exists")
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	r.types[k] = t
	return nil
}

func (r *memTypes) Update(_ context.Context, t *AppointmentType) error {
	r.types[r.key(t.OrganizationID, t.Code)] = t
	return nil
}

func (r *memTypes) Search(_ context.Context, orgID uuid.UUID, code string) ([]AppointmentType, error) {
	var out []AppointmentType
	for _, t := range r.types {
		if t.OrganizationID == orgID && (code == "" || t.Code == code) {
			out = append(out, *t)
		}
	}
	return out, nil
}

type memUsers struct {
	byID   map[uuid.UUID]*directory.User
	byCode map[string]*directory.User
}

func newMemUsers(users ...*directory.User) *memUsers {
	m := &memUsers{byID: map[uuid.UUID]*directory.User{}, byCode: map[string]*directory.User{}}
	for _, u := range users {
		m.byID[u.ID] = u
		if u.Code != "" {
			m.byCode[u.Code] = u
		}
	}
	return m
}

func (m *memUsers) Get(_ context.Context, ref directory.UserRef, _ directory.Context) (*directory.User, error) {
	if ref.ID != uuid.Nil {
		return m.byID[ref.ID], nil
	}
	if ref.Code != "" {
		return m.byCode[ref.Code], nil
	}
	for _, u := range m.byID {
		if ref.Email != "" && u.Email == ref.Email {
			return u, nil
		}
	}
	return nil, nil
}

type seqTokens struct {
	next map[string]int
}

func (s *seqTokens) Assign(_ context.Context, _, agentID, _ uuid.UUID, day time.Time) (Token, error) {
	if s.next == nil {
		s.next = map[string]int{}
	}
	k := agentID.String() + "/" + day.Format("2006-01-02")
	s.next[k]++
	return Token{QueueID: uuid.New(), Number: s.next[k]}, nil
}

type capturedSend struct {
	actx     directory.Context
	template string
	data     map[string]any
	to       []directory.UserRef
}

type fakeNotify struct {
	sends []capturedSend
}

func (f *fakeNotify) Send(_ context.Context, actx directory.Context, template string, data map[string]any, to []directory.UserRef) error {
	f.sends = append(f.sends, capturedSend{actx: actx, template: template, data: data, to: to})
	return nil
}

type fakeEvents struct {
	events []outbox.Event
}

func (f *fakeEvents) Emit(_ context.Context, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

type fakeTasks struct {
	jobs []taskqueue.Job
}

func (f *fakeTasks) Enqueue(_ context.Context, job taskqueue.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

type fixture struct {
	svc     *Service
	repo    *memRepo
	types   *memTypes
	notify  *fakeNotify
	events  *fakeEvents
	tasks   *fakeTasks
	agent   *directory.User
	visitor *directory.User
	actx    directory.Context
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	orgID := uuid.New()
	agent := &directory.User{
		ID:             uuid.New(),
		Code:           "dr-bose",
		Email:          "bose@clinic.test",
		Profile:        directory.Profile{FirstName: "A", LastName: "Bose"},
		OrganizationID: orgID,
	}
	visitor := &directory.User{
		ID:      uuid.New(),
		Code:    "pat-1",
		Email:   "pat1@mail.test",
		Profile: directory.Profile{FirstName: "Pat"},
	}
	actor := &directory.User{ID: uuid.New(), Code: "front-desk"}

	f := &fixture{
		repo:    newMemRepo(),
		types:   newMemTypes(),
		notify:  &fakeNotify{},
		events:  &fakeEvents{},
		tasks:   &fakeTasks{},
		agent:   agent,
		visitor: visitor,
		actx: directory.Context{
			Organization: &directory.Organization{ID: orgID},
			User:         actor,
		},
		now: time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.repo, f.types, newMemUsers(agent, visitor, actor), &seqTokens{}, f.tasks, f.notify, f.events, logger)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) bookReq(from, till time.Time) BookRequest {
	return BookRequest{
		Agent:           directory.UserRef{ID: f.agent.ID},
		Visitors:        []directory.UserRef{{ID: f.visitor.ID}},
		From:            from,
		Till:            till,
		AppointmentType: TypeRef{Code: "checkup", Name: "Checkup"},
		Purpose:         "checkup",
	}
}

func TestBookAssignsFirstToken(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	appt, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(30*time.Minute)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if appt.Token.Number != 1 {
		t.Fatalf("token = %d, want 1", appt.Token.Number)
	}
	if appt.Status != StatusScheduled {
		t.Fatalf("status = %s, want scheduled", appt.Status)
	}
	if len(f.events.events) != 1 || f.events.events[0].EventType != "appointment.scheduled.v1" {
		t.Fatalf("events = %+v", f.events.events)
	}
	if len(f.notify.sends) != 1 || f.notify.sends[0].template != "appointment-scheduled" {
		t.Fatalf("sends = %+v", f.notify.sends)
	}
	// Recipients are the visitors plus the agent.
	if len(f.notify.sends[0].to) != 2 {
		t.Fatalf("recipients = %+v", f.notify.sends[0].to)
	}
}

func TestBookRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	if _, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour))); err != nil {
		t.Fatalf("first book: %v", err)
	}

	other := &directory.User{ID: uuid.New(), Code: "pat-2"}
	users := f.svc.users.(*memUsers)
	users.byID[other.ID] = other
	users.byCode[other.Code] = other

	req := f.bookReq(from.Add(30*time.Minute), from.Add(90*time.Minute))
	req.Visitors = []directory.UserRef{{ID: other.ID}}
	_, err := f.svc.Book(context.Background(), f.actx, req)
	if !fault.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if err.Error() != "appointment already booked" {
		t.Fatalf("err = %q", err.Error())
	}
}

func TestBookAllowsBackToBack(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	if _, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour))); err != nil {
		t.Fatalf("first book: %v", err)
	}

	other := &directory.User{ID: uuid.New(), Code: "pat-2"}
	users := f.svc.users.(*memUsers)
	users.byID[other.ID] = other

	// [10:00,11:00) then [11:00,12:00) share only the boundary instant.
	req := f.bookReq(from.Add(time.Hour), from.Add(2*time.Hour))
	req.Visitors = []directory.UserRef{{ID: other.ID}}
	appt, err := f.svc.Book(context.Background(), f.actx, req)
	if err != nil {
		t.Fatalf("back-to-back book: %v", err)
	}
	if appt.Token.Number != 2 {
		t.Fatalf("token = %d, want 2", appt.Token.Number)
	}
}

func TestBookRejectsDuplicateFutureBooking(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	if _, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour))); err != nil {
		t.Fatalf("first book: %v", err)
	}

	_, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from.Add(48*time.Hour), from.Add(49*time.Hour)))
	if !fault.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if err.Error() != "duplicate future booking" {
		t.Fatalf("err = %q", err.Error())
	}
}

func TestBookAllowsRebookingAfterCancel(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	appt, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), f.actx, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour))); err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}
}

func TestBookUnknownAgent(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	req := f.bookReq(from, from.Add(time.Hour))
	req.Agent = directory.UserRef{Code: "nobody"}
	_, err := f.svc.Book(context.Background(), f.actx, req)
	if !fault.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
	if err.Error() != "agent does not exist" {
		t.Fatalf("err = %q", err.Error())
	}
}

func TestBookDefaultsVisitorToActor(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	req := f.bookReq(from, from.Add(time.Hour))
	req.Visitors = nil
	appt, err := f.svc.Book(context.Background(), f.actx, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if len(appt.Visitors) != 1 || appt.Visitors[0].UserID != f.actx.User.ID {
		t.Fatalf("visitors = %+v, want acting user", appt.Visitors)
	}
}

func TestBookCreatesTypeLazily(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	appt, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	created, err := f.types.GetByCode(context.Background(), f.actx.OrganizationID(), "checkup")
	if err != nil || created == nil {
		t.Fatalf("type not created: %v %v", created, err)
	}
	if appt.AppointmentTypeID != created.ID {
		t.Fatalf("type id mismatch")
	}

	// Second booking with the same code reuses the row.
	other := &directory.User{ID: uuid.New()}
	f.svc.users.(*memUsers).byID[other.ID] = other
	req := f.bookReq(from.Add(2*time.Hour), from.Add(3*time.Hour))
	req.Visitors = []directory.UserRef{{ID: other.ID}}
	appt2, err := f.svc.Book(context.Background(), f.actx, req)
	if err != nil {
		t.Fatalf("second book: %v", err)
	}
	if appt2.AppointmentTypeID != created.ID {
		t.Fatalf("second booking created a second type")
	}
}

func TestUpdateNoSelfConflict(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	appt, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	// Re-submitting the same visitor list and agent must not collide with the
	// appointment's own row.
	purpose := "follow-up"
	updated, err := f.svc.Update(context.Background(), f.actx, appt.ID, Changes{
		Purpose:  &purpose,
		Visitors: []directory.UserRef{{ID: f.visitor.ID}},
		Agent:    &directory.UserRef{ID: f.agent.ID, Email: f.agent.Email},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Purpose != "follow-up" {
		t.Fatalf("purpose = %q", updated.Purpose)
	}
}

func TestUpdateRejectsNewVisitorWithFutureBooking(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	if _, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour))); err != nil {
		t.Fatalf("book: %v", err)
	}

	other := &directory.User{ID: uuid.New()}
	f.svc.users.(*memUsers).byID[other.ID] = other
	req := f.bookReq(from.Add(2*time.Hour), from.Add(3*time.Hour))
	req.Visitors = []directory.UserRef{{ID: other.ID}}
	second, err := f.svc.Book(context.Background(), f.actx, req)
	if err != nil {
		t.Fatalf("second book: %v", err)
	}

	// Adding a visitor who already holds a future booking with this agent.
	_, err = f.svc.Update(context.Background(), f.actx, second.ID, Changes{
		Visitors: []directory.UserRef{{ID: other.ID}, {ID: f.visitor.ID}},
	})
	if !fault.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestUpdateTerminalStatusGuard(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	appt, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), f.actx, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	status := StatusScheduled
	_, err = f.svc.Update(context.Background(), f.actx, appt.ID, Changes{Status: &status})
	if !fault.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestUpdateTimeChangeNotifiesReschedule(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	appt, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	f.notify.sends = nil

	newFrom := from.Add(2 * time.Hour)
	newTill := newFrom.Add(time.Hour)
	if _, err := f.svc.Update(context.Background(), f.actx, appt.ID, Changes{From: &newFrom, Till: &newTill}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(f.notify.sends) != 1 || f.notify.sends[0].template != "appointment-rescheduled" {
		t.Fatalf("sends = %+v", f.notify.sends)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	appt, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Cancel(context.Background(), f.actx, appt.ID); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	f.notify.sends = nil
	f.events.events = nil

	got, err := f.svc.Cancel(context.Background(), f.actx, appt.ID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if len(f.notify.sends) != 0 || len(f.events.events) != 0 {
		t.Fatalf("second cancel produced side effects")
	}
}

func TestBulkUpdateEmpty(t *testing.T) {
	f := newFixture(t)
	err := f.svc.BulkUpdate(context.Background(), f.actx, nil)
	if !fault.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
	if err.Error() != "no appointment found" {
		t.Fatalf("err = %q", err.Error())
	}
}

func TestBulkUpdateStopsAtFirstError(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	appt, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	purpose := "changed"
	items := []BulkItem{
		{ID: appt.ID, Changes: Changes{Purpose: &purpose}},
		{ID: uuid.New(), Changes: Changes{Purpose: &purpose}},
	}
	err = f.svc.BulkUpdate(context.Background(), f.actx, items)
	if !fault.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
	// First item stays applied.
	got, _ := f.svc.Get(context.Background(), appt.ID)
	if got.Purpose != "changed" {
		t.Fatalf("purpose = %q, want changed", got.Purpose)
	}
}

func TestQueueAgentDayCancellation(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)
	till := from.Add(8 * time.Hour)

	err := f.svc.QueueAgentDayCancellation(context.Background(), f.actx, directory.UserRef{Code: "nobody"}, from, till)
	if !fault.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
	if err.Error() != "agent not found" {
		t.Fatalf("err = %q", err.Error())
	}

	if err := f.svc.QueueAgentDayCancellation(context.Background(), f.actx, directory.UserRef{ID: f.agent.ID}, from, till); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(f.tasks.jobs) != 1 || f.tasks.jobs[0].Kind != taskqueue.KindCancelAgentDay {
		t.Fatalf("jobs = %+v", f.tasks.jobs)
	}
}

func TestExecuteCancelAgentDay(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	first, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour)))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	other := &directory.User{ID: uuid.New()}
	f.svc.users.(*memUsers).byID[other.ID] = other
	req := f.bookReq(from.Add(2*time.Hour), from.Add(3*time.Hour))
	req.Visitors = []directory.UserRef{{ID: other.ID}}
	second, err := f.svc.Book(context.Background(), f.actx, req)
	if err != nil {
		t.Fatalf("second book: %v", err)
	}

	payload, _ := json.Marshal(cancelAgentDayPayload{
		AgentID: f.agent.ID.String(),
		From:    from.Add(-time.Hour),
		Till:    from.Add(10 * time.Hour),
	})
	job := taskqueue.Job{Kind: taskqueue.KindCancelAgentDay, Payload: payload}
	if err := f.svc.ExecuteCancelAgentDay(context.Background(), job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		got, _ := f.svc.Get(context.Background(), id)
		if got.Status != StatusCancelled {
			t.Fatalf("appointment %s status = %s, want cancelled", id, got.Status)
		}
	}

	// Redelivery of the same job is a no-op.
	if err := f.svc.ExecuteCancelAgentDay(context.Background(), job); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
}

func TestExecuteCancelAgentDayCarriesActorContext(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	if _, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour))); err != nil {
		t.Fatalf("book: %v", err)
	}
	if err := f.svc.QueueAgentDayCancellation(context.Background(), f.actx, directory.UserRef{ID: f.agent.ID}, from.Add(-time.Hour), from.Add(10*time.Hour)); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(f.tasks.jobs) != 1 {
		t.Fatalf("jobs = %+v", f.tasks.jobs)
	}

	f.notify.sends = nil
	if err := f.svc.ExecuteCancelAgentDay(context.Background(), f.tasks.jobs[0]); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(f.notify.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(f.notify.sends))
	}
	// Templates resolve per organization; the worker-side cancel must run
	// under the org the job was enqueued for.
	if got := f.notify.sends[0].actx.OrganizationID(); got != f.actx.OrganizationID() {
		t.Fatalf("notify org = %s, want %s", got, f.actx.OrganizationID())
	}
	if f.notify.sends[0].actx.User == nil || f.notify.sends[0].actx.User.ID != f.actx.User.ID {
		t.Fatalf("notify actor = %+v, want %s", f.notify.sends[0].actx.User, f.actx.User.ID)
	}
}

func TestVisitorAppointmentsBuckets(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	upcoming, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from.Add(time.Hour)))
	if err != nil {
		t.Fatalf("book upcoming: %v", err)
	}

	past := &Appointment{
		ID:       uuid.New(),
		From:     f.now.Add(-48 * time.Hour),
		Till:     f.now.Add(-47 * time.Hour),
		Agent:    Participant{UserID: f.agent.ID},
		Visitors: []Participant{{UserID: f.visitor.ID}},
		Status:   StatusVisited,
	}
	f.repo.appts[past.ID] = past

	cancelled := &Appointment{
		ID:       uuid.New(),
		From:     f.now.Add(72 * time.Hour),
		Till:     f.now.Add(73 * time.Hour),
		Agent:    Participant{UserID: uuid.New()},
		Visitors: []Participant{{UserID: f.visitor.ID}},
		Status:   StatusCancelled,
	}
	f.repo.appts[cancelled.ID] = cancelled

	schedule, err := f.svc.VisitorAppointments(context.Background(), f.visitor.ID)
	if err != nil {
		t.Fatalf("visitor appointments: %v", err)
	}
	if len(schedule.Upcoming) != 1 || schedule.Upcoming[0].ID != upcoming.ID {
		t.Fatalf("upcoming = %+v", schedule.Upcoming)
	}
	if len(schedule.Old) != 1 || schedule.Old[0].ID != past.ID {
		t.Fatalf("old = %+v", schedule.Old)
	}
	if len(schedule.Cancelled) != 1 || schedule.Cancelled[0].ID != cancelled.ID {
		t.Fatalf("cancelled = %+v", schedule.Cancelled)
	}
}

func TestBookInvalidWindow(t *testing.T) {
	f := newFixture(t)
	from := f.now.Add(24 * time.Hour)

	_, err := f.svc.Book(context.Background(), f.actx, f.bookReq(from, from))
	if !fault.IsValidation(err) {
		t.Fatalf("err = %v, want validation", err)
	}
}
