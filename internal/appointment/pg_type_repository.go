package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/careloop/schedkit/internal/fault"
	"github.com/careloop/schedkit/libs/db"
)

type PgTypeRepository struct {
	pool *db.Pool
}

func NewPgTypeRepository(pool *db.Pool) *PgTypeRepository {
	return &PgTypeRepository{pool: pool}
}

const typeColumns = `
	id, code, name, purpose, max_queue_size, availability, status, agents,
	organization_id, created_at, updated_at`

func (r *PgTypeRepository) GetByID(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+typeColumns+` FROM appointment_types WHERE id = $1`, id)
	t, err := scanType(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("appointment type not found")
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PgTypeRepository) GetByCode(ctx context.Context, orgID uuid.UUID, code string) (*AppointmentType, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+typeColumns+`
		FROM appointment_types
		WHERE organization_id = $1 AND code = $2
	`, orgID, code)
	t, err := scanType(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PgTypeRepository) Create(ctx context.Context, t *AppointmentType) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = TypeActive
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointment_types
			(id, code, name, purpose, max_queue_size, availability, status, agents, organization_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, t.ID, t.Code, t.Name, t.Purpose, t.MaxQueueSize, t.Availability, t.Status, agentIDs(t.Agents), t.OrganizationID,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if isUniqueViolation(err) {
		return fault.Conflict("appointment type already exists")
	}
	return err
}

func (r *PgTypeRepository) Update(ctx context.Context, t *AppointmentType) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointment_types
		SET code = $2,
			name = $3,
			purpose = $4,
			max_queue_size = $5,
			availability = $6,
			status = $7,
			agents = $8,
			updated_at = now()
		WHERE id = $1
	`, t.ID, t.Code, t.Name, t.Purpose, t.MaxQueueSize, t.Availability, t.Status, agentIDs(t.Agents))
	if isUniqueViolation(err) {
		return fault.Conflict("appointment type already exists")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("appointment type not found")
	}
	return nil
}

func (r *PgTypeRepository) Search(ctx context.Context, orgID uuid.UUID, code string) ([]AppointmentType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+typeColumns+`
		FROM appointment_types
		WHERE organization_id = $1 AND ($2 = '' OR code = $2)
		ORDER BY name ASC
	`, orgID, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []AppointmentType
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, *t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return types, nil
}

func agentIDs(agents []uuid.UUID) []string {
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		ids = append(ids, a.String())
	}
	return ids
}

func scanType(row pgx.Row) (*AppointmentType, error) {
	var t AppointmentType
	var agents []string
	if err := row.Scan(
		&t.ID,
		&t.Code,
		&t.Name,
		&t.Purpose,
		&t.MaxQueueSize,
		&t.Availability,
		&t.Status,
		&agents,
		&t.OrganizationID,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	for _, raw := range agents {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		t.Agents = append(t.Agents, id)
	}
	return &t, nil
}
