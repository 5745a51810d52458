package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/careloop/schedkit/internal/fault"
	"github.com/careloop/schedkit/libs/db"
)

type PgRepository struct {
	pool *db.Pool
}

func NewPgRepository(pool *db.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const queueColumns = `
	id, organization_id, agent_id, appointment_type_id, day, last_token,
	current_token, status, created_at, updated_at`

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Queue, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+queueColumns+` FROM queues WHERE id = $1`, id)
	q, err := scanQueue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("queue not found")
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (r *PgRepository) FindForDay(ctx context.Context, orgID, agentID, typeID uuid.UUID, day time.Time) (*Queue, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+queueColumns+`
		FROM queues
		WHERE organization_id = $1 AND agent_id = $2 AND appointment_type_id = $3 AND day = $4
	`, orgID, agentID, typeID, DayOf(day))
	q, err := scanQueue(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (r *PgRepository) Create(ctx context.Context, q *Queue) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.Status == "" {
		q.Status = StatusOpen
	}
	q.Day = DayOf(q.Day)
	err := r.pool.QueryRow(ctx, `
		INSERT INTO queues
			(id, organization_id, agent_id, appointment_type_id, day, last_token, current_token, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, q.ID, q.OrganizationID, q.AgentID, q.AppointmentTypeID, q.Day, q.LastToken, q.CurrentToken, q.Status,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if isUniqueViolation(err) {
		return fault.Conflict("queue already exists")
	}
	return err
}

func (r *PgRepository) NextToken(ctx context.Context, id uuid.UUID) (int, error) {
	var token int
	err := r.pool.QueryRow(ctx, `
		UPDATE queues
		SET last_token = last_token + 1, updated_at = now()
		WHERE id = $1
		RETURNING last_token
	`, id).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fault.NotFound("queue not found")
	}
	return token, err
}

func (r *PgRepository) Advance(ctx context.Context, id uuid.UUID) (int, error) {
	var token int
	err := r.pool.QueryRow(ctx, `
		UPDATE queues
		SET current_token = LEAST(current_token + 1, last_token), updated_at = now()
		WHERE id = $1
		RETURNING current_token
	`, id).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fault.NotFound("queue not found")
	}
	return token, err
}

func (r *PgRepository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queues SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("queue not found")
	}
	return nil
}

func scanQueue(row pgx.Row) (*Queue, error) {
	var q Queue
	if err := row.Scan(
		&q.ID,
		&q.OrganizationID,
		&q.AgentID,
		&q.AppointmentTypeID,
		&q.Day,
		&q.LastToken,
		&q.CurrentToken,
		&q.Status,
		&q.CreatedAt,
		&q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &q, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
