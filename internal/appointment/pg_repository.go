package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/careloop/schedkit/internal/fault"
	"github.com/careloop/schedkit/libs/db"
)

// PgRepository stores appointments in Postgres. Visitors and invoices live in
// jsonb columns; the agent/interval exclusion constraint
// appointments_agent_active_excl is the durable backstop for the
// no-double-booking invariant.
type PgRepository struct {
	pool *db.Pool
}

func NewPgRepository(pool *db.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

type participantRow struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

type invoiceRow struct {
	ID        string `json:"id"`
	VisitorID string `json:"visitorId,omitempty"`
}

func encodeParticipants(ps []Participant) ([]byte, error) {
	rows := make([]participantRow, 0, len(ps))
	for _, p := range ps {
		rows = append(rows, participantRow{UserID: p.UserID.String(), Name: p.Name, Email: p.Email})
	}
	return json.Marshal(rows)
}

func decodeParticipants(raw []byte) ([]Participant, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []participantRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	ps := make([]Participant, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.UserID)
		if err != nil {
			return nil, err
		}
		ps = append(ps, Participant{UserID: id, Name: r.Name, Email: r.Email})
	}
	return ps, nil
}

func encodeInvoices(is []Invoice) ([]byte, error) {
	rows := make([]invoiceRow, 0, len(is))
	for _, i := range is {
		row := invoiceRow{ID: i.ID}
		if i.VisitorID != uuid.Nil {
			row.VisitorID = i.VisitorID.String()
		}
		rows = append(rows, row)
	}
	return json.Marshal(rows)
}

func decodeInvoices(raw []byte) ([]Invoice, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []invoiceRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	is := make([]Invoice, 0, len(rows))
	for _, r := range rows {
		inv := Invoice{ID: r.ID}
		if r.VisitorID != "" {
			id, err := uuid.Parse(r.VisitorID)
			if err != nil {
				return nil, err
			}
			inv.VisitorID = id
		}
		is = append(is, inv)
	}
	return is, nil
}

const apptColumns = `
	id, purpose, from_at, till_at, start_time, end_time, duration, provider,
	agent_id, agent_name, agent_email, visitors, token_queue_id, token_no,
	status, invoices, data, meta, organization_id, appointment_type_id,
	created_at, updated_at`

func (r *PgRepository) Create(ctx context.Context, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	visitors, err := encodeParticipants(appt.Visitors)
	if err != nil {
		return err
	}
	invoices, err := encodeInvoices(appt.Invoices)
	if err != nil {
		return err
	}
	data, err := json.Marshal(appt.Data)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(appt.Meta)
	if err != nil {
		return err
	}

	var tokenQueue *uuid.UUID
	if appt.Token.QueueID != uuid.Nil {
		tokenQueue = &appt.Token.QueueID
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, purpose, from_at, till_at, start_time, end_time, duration, provider,
			 agent_id, agent_name, agent_email, visitors, token_queue_id, token_no,
			 status, invoices, data, meta, organization_id, appointment_type_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING created_at, updated_at
	`, appt.ID, appt.Purpose, appt.From, appt.Till, appt.StartTime, appt.EndTime, appt.Duration, appt.Provider,
		appt.Agent.UserID, appt.Agent.Name, appt.Agent.Email, visitors, tokenQueue, appt.Token.Number,
		appt.Status, invoices, data, meta, appt.OrganizationID, appt.AppointmentTypeID,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if isExclusionViolation(err) {
		// Lost the race between validation and commit.
		return fault.Conflict("appointment already booked")
	}
	return err
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+apptColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("appointment not found")
	}
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) Update(ctx context.Context, appt *Appointment) error {
	visitors, err := encodeParticipants(appt.Visitors)
	if err != nil {
		return err
	}
	invoices, err := encodeInvoices(appt.Invoices)
	if err != nil {
		return err
	}
	data, err := json.Marshal(appt.Data)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(appt.Meta)
	if err != nil {
		return err
	}

	var tokenQueue *uuid.UUID
	if appt.Token.QueueID != uuid.Nil {
		tokenQueue = &appt.Token.QueueID
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET purpose = $2,
			from_at = $3,
			till_at = $4,
			start_time = $5,
			end_time = $6,
			duration = $7,
			provider = $8,
			agent_id = $9,
			agent_name = $10,
			agent_email = $11,
			visitors = $12,
			token_queue_id = $13,
			token_no = $14,
			status = $15,
			invoices = $16,
			data = $17,
			meta = $18,
			updated_at = now()
		WHERE id = $1
	`, appt.ID, appt.Purpose, appt.From, appt.Till, appt.StartTime, appt.EndTime, appt.Duration, appt.Provider,
		appt.Agent.UserID, appt.Agent.Name, appt.Agent.Email, visitors, tokenQueue, appt.Token.Number,
		appt.Status, invoices, data, meta)
	if isExclusionViolation(err) {
		return fault.Conflict("appointment already booked")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("appointment not found")
	}
	return nil
}

func (r *PgRepository) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	return err
}

func (r *PgRepository) FindOverlapping(ctx context.Context, orgID, agentID uuid.UUID, from, till time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	// True half-open intersection: from_at < till AND till_at > from.
	rows, err := r.pool.Query(ctx, `
		SELECT`+apptColumns+`
		FROM appointments
		WHERE organization_id = $1
			AND agent_id = $2
			AND status IN ('scheduled', 'rescheduled')
			AND from_at < $4
			AND till_at > $3
			AND id <> $5
		ORDER BY from_at ASC
	`, orgID, agentID, from, till, excludeID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FutureForVisitor(ctx context.Context, agentID, visitorID uuid.UUID, after time.Time, excludeID uuid.UUID) ([]Appointment, error) {
	visitor, err := json.Marshal([]participantRow{{UserID: visitorID.String()}})
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+apptColumns+`
		FROM appointments
		WHERE agent_id = $1
			AND visitors @> $2
			AND status IN ('scheduled', 'rescheduled')
			AND from_at > $3
			AND id <> $4
		ORDER BY from_at ASC
	`, agentID, visitor, after, excludeID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListForAgentBetween(ctx context.Context, agentID uuid.UUID, from, till time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+apptColumns+`
		FROM appointments
		WHERE agent_id = $1
			AND status IN ('scheduled', 'rescheduled')
			AND from_at < $3
			AND till_at > $2
		ORDER BY from_at ASC
	`, agentID, from, till)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListForVisitor(ctx context.Context, visitorID uuid.UUID, bucket VisitorBucket, now time.Time) ([]Appointment, error) {
	visitor, err := json.Marshal([]participantRow{{UserID: visitorID.String()}})
	if err != nil {
		return nil, err
	}

	var where, order string
	switch bucket {
	case BucketUpcoming:
		where = `status IN ('scheduled', 'rescheduled') AND from_at > $2`
		order = `from_at ASC`
	case BucketOld:
		where = `(status = 'visited' OR from_at < $2)`
		order = `from_at DESC`
	case BucketCancelled:
		where = `status IN ('cancelled', 'closed', 'failed') AND $2::timestamptz IS NOT NULL`
		order = `from_at ASC`
	default:
		return nil, fault.Validation("unknown visitor bucket")
	}

	rows, err := r.pool.Query(ctx, `
		SELECT`+apptColumns+`
		FROM appointments
		WHERE visitors @> $1 AND `+where+`
		ORDER BY `+order,
		visitor, now)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var appt Appointment
	var visitors, invoices, data, meta []byte
	var tokenQueue *uuid.UUID
	if err := row.Scan(
		&appt.ID,
		&appt.Purpose,
		&appt.From,
		&appt.Till,
		&appt.StartTime,
		&appt.EndTime,
		&appt.Duration,
		&appt.Provider,
		&appt.Agent.UserID,
		&appt.Agent.Name,
		&appt.Agent.Email,
		&visitors,
		&tokenQueue,
		&appt.Token.Number,
		&appt.Status,
		&invoices,
		&data,
		&meta,
		&appt.OrganizationID,
		&appt.AppointmentTypeID,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if tokenQueue != nil {
		appt.Token.QueueID = *tokenQueue
	}
	var err error
	if appt.Visitors, err = decodeParticipants(visitors); err != nil {
		return nil, err
	}
	if appt.Invoices, err = decodeInvoices(invoices); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &appt.Data); err != nil {
			return nil, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &appt.Meta); err != nil {
			return nil, err
		}
	}
	return &appt, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()
	var appts []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
