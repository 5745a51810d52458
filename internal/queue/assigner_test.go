package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/fault"
)

type memRepo struct {
	mu     sync.Mutex
	queues map[uuid.UUID]*Queue
}

func newMemRepo() *memRepo {
	return &memRepo{queues: map[uuid.UUID]*Queue{}}
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (*Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	if !ok {
		return nil, fault.NotFound("queue not found")
	}
	cp := *q
	return &cp, nil
}

func (r *memRepo) FindForDay(_ context.Context, orgID, agentID, typeID uuid.UUID, day time.Time) (*Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	day = DayOf(day)
	for _, q := range r.queues {
		if q.OrganizationID == orgID && q.AgentID == agentID && q.AppointmentTypeID == typeID && q.Day.Equal(day) {
			cp := *q
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) Create(_ context.Context, q *Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q.Day = DayOf(q.Day)
	for _, other := range r.queues {
		if other.OrganizationID == q.OrganizationID && other.AgentID == q.AgentID &&
			other.AppointmentTypeID == q.AppointmentTypeID && other.Day.Equal(q.Day) {
			return fault.Conflict("queue already exists")
		}
	}
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	cp := *q
	r.queues[q.ID] = &cp
	return nil
}

func (r *memRepo) NextToken(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	if !ok {
		return 0, fault.NotFound("queue not found")
	}
	q.LastToken++
	return q.LastToken, nil
}

func (r *memRepo) Advance(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	if !ok {
		return 0, fault.NotFound("queue not found")
	}
	if q.CurrentToken < q.LastToken {
		q.CurrentToken++
	}
	return q.CurrentToken, nil
}

func (r *memRepo) SetStatus(_ context.Context, id uuid.UUID, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[id]
	if !ok {
		return fault.NotFound("queue not found")
	}
	q.Status = status
	return nil
}

func TestAssignFirstTokenIsOne(t *testing.T) {
	repo := newMemRepo()
	a := NewAssigner(repo, nil)
	day := time.Date(2026, time.March, 2, 14, 30, 0, 0, time.UTC)

	token, err := a.Assign(context.Background(), uuid.New(), uuid.New(), uuid.New(), day)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if token.Number != 1 {
		t.Fatalf("token = %d, want 1", token.Number)
	}
	if token.QueueID == uuid.Nil {
		t.Fatal("token has no queue")
	}
}

func TestAssignTokensAreSequentialPerQueue(t *testing.T) {
	repo := newMemRepo()
	a := NewAssigner(repo, nil)
	orgID, agentID, typeID := uuid.New(), uuid.New(), uuid.New()
	day := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	var queueID uuid.UUID
	for i := 1; i <= 5; i++ {
		token, err := a.Assign(context.Background(), orgID, agentID, typeID, day.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("assign %d: %v", i, err)
		}
		if token.Number != i {
			t.Fatalf("token %d = %d", i, token.Number)
		}
		if queueID == uuid.Nil {
			queueID = token.QueueID
		} else if token.QueueID != queueID {
			t.Fatalf("same day mapped to different queues")
		}
	}

	// Next day starts a fresh queue at 1.
	token, err := a.Assign(context.Background(), orgID, agentID, typeID, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("next day assign: %v", err)
	}
	if token.Number != 1 || token.QueueID == queueID {
		t.Fatalf("next day token = %+v", token)
	}
}

func TestAssignConcurrentNoDuplicates(t *testing.T) {
	repo := newMemRepo()
	a := NewAssigner(repo, nil)
	orgID, agentID, typeID := uuid.New(), uuid.New(), uuid.New()
	day := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	const n = 32
	tokens := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := a.Assign(context.Background(), orgID, agentID, typeID, day)
			if err != nil {
				t.Errorf("assign: %v", err)
				return
			}
			tokens[i] = token.Number
		}(i)
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, n := range tokens {
		if seen[n] {
			t.Fatalf("duplicate token %d", n)
		}
		seen[n] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			t.Fatalf("token %d never handed out", i)
		}
	}
}

func TestAssignClosedQueue(t *testing.T) {
	repo := newMemRepo()
	a := NewAssigner(repo, nil)
	orgID, agentID, typeID := uuid.New(), uuid.New(), uuid.New()
	day := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	token, err := a.Assign(context.Background(), orgID, agentID, typeID, day)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := repo.SetStatus(context.Background(), token.QueueID, StatusClosed); err != nil {
		t.Fatalf("set status: %v", err)
	}

	_, err = a.Assign(context.Background(), orgID, agentID, typeID, day)
	if !fault.IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestCallNextCapsAtLastToken(t *testing.T) {
	repo := newMemRepo()
	a := NewAssigner(repo, nil)
	orgID, agentID, typeID := uuid.New(), uuid.New(), uuid.New()
	day := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

	token, err := a.Assign(context.Background(), orgID, agentID, typeID, day)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	got, err := a.CallNext(context.Background(), token.QueueID)
	if err != nil || got != 1 {
		t.Fatalf("call next = %d, %v", got, err)
	}
	// No token 2 handed out yet, so serving position stays put.
	got, err = a.CallNext(context.Background(), token.QueueID)
	if err != nil || got != 1 {
		t.Fatalf("call next past end = %d, %v", got, err)
	}
}

func TestDayOfNormalizes(t *testing.T) {
	in := time.Date(2026, time.March, 2, 23, 45, 0, 0, time.FixedZone("IST", 5*3600+1800))
	got := DayOf(in)
	want := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("DayOf = %v, want %v", got, want)
	}
}
