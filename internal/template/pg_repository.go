package template

import (
	"context"
	"encoding/json"
	"errors"

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

const templateColumns = `
	id, code, subject, body, dp, logo, is_hidden, actions, category,
	data_source, config, organization_id, created_at, updated_at`

func (r *PgRepository) GetByCode(ctx context.Context, orgID uuid.UUID, code string) (*Template, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT`+templateColumns+`
		FROM templates
		WHERE organization_id = $1 AND code = $2
	`, orgID, code)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+templateColumns+` FROM templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("template not found")
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PgRepository) Create(ctx context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	actions, err := json.Marshal(t.Actions)
	if err != nil {
		return err
	}
	config, err := json.Marshal(t.Config)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO templates
			(id, code, subject, body, dp, logo, is_hidden, actions, category,
			 data_source, config, organization_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, t.ID, t.Code, t.Subject, t.Body, t.Dp, t.Logo, t.IsHidden, actions, t.Category,
		t.DataSource, config, t.OrganizationID,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if isUniqueViolation(err) {
		return fault.Conflict("template already exists")
	}
	return err
}

func (r *PgRepository) Update(ctx context.Context, t *Template) error {
	actions, err := json.Marshal(t.Actions)
	if err != nil {
		return err
	}
	config, err := json.Marshal(t.Config)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE templates
		SET code = $2,
			subject = $3,
			body = $4,
			dp = $5,
			logo = $6,
			is_hidden = $7,
			actions = $8,
			category = $9,
			data_source = $10,
			config = $11,
			updated_at = now()
		WHERE id = $1
	`, t.ID, t.Code, t.Subject, t.Body, t.Dp, t.Logo, t.IsHidden, actions, t.Category,
		t.DataSource, config)
	if isUniqueViolation(err) {
		return fault.Conflict("template already exists")
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("template not found")
	}
	return nil
}

func (r *PgRepository) Search(ctx context.Context, orgID uuid.UUID, category string) ([]Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+templateColumns+`
		FROM templates
		WHERE organization_id = $1 AND ($2 = '' OR category = $2)
		ORDER BY code ASC
	`, orgID, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return templates, nil
}

func (r *PgRepository) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	return err
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var actions, config []byte
	if err := row.Scan(
		&t.ID,
		&t.Code,
		&t.Subject,
		&t.Body,
		&t.Dp,
		&t.Logo,
		&t.IsHidden,
		&actions,
		&t.Category,
		&t.DataSource,
		&config,
		&t.OrganizationID,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &t.Actions); err != nil {
			return nil, err
		}
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &t.Config); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
