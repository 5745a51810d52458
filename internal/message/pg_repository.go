package message

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/careloop/schedkit/internal/fault"
	"github.com/careloop/schedkit/libs/db"
)

type PgRepository struct {
	pool *db.Pool
}

func NewPgRepository(pool *db.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const messageColumns = `
	id, subject, body, modes, attachments, meta, recipients, sender, status,
	conversation_id, organization_id, tenant_id, external_id, date,
	created_at, updated_at`

func (r *PgRepository) Create(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	attachments, recipients, sender, meta, err := encodeMessage(m)
	if err != nil {
		return err
	}
	var conversationID *uuid.UUID
	if m.ConversationID != uuid.Nil {
		conversationID = &m.ConversationID
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO messages
			(id, subject, body, modes, attachments, meta, recipients, sender, status,
			 conversation_id, organization_id, tenant_id, external_id, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`, m.ID, m.Subject, m.Body, m.Modes, attachments, meta, recipients, sender, m.Status,
		conversationID, m.OrganizationID, m.TenantID, m.ExternalID, m.Date,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+messageColumns+` FROM messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("message not found")
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *PgRepository) Update(ctx context.Context, m *Message) error {
	attachments, recipients, sender, meta, err := encodeMessage(m)
	if err != nil {
		return err
	}
	var conversationID *uuid.UUID
	if m.ConversationID != uuid.Nil {
		conversationID = &m.ConversationID
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET subject = $2,
			body = $3,
			modes = $4,
			attachments = $5,
			meta = $6,
			recipients = $7,
			sender = $8,
			status = $9,
			conversation_id = $10,
			external_id = $11,
			date = $12,
			updated_at = now()
		WHERE id = $1
	`, m.ID, m.Subject, m.Body, m.Modes, attachments, meta, recipients, sender, m.Status,
		conversationID, m.ExternalID, m.Date)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("message not found")
	}
	return nil
}

func (r *PgRepository) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}

func (r *PgRepository) Search(ctx context.Context, f SearchFilter) ([]Message, int, error) {
	recipient, err := json.Marshal([]map[string]any{{"userId": f.VisibleTo.String()}})
	if err != nil {
		return nil, 0, err
	}

	// Visible when the caller is a recipient, a conversation participant, or
	// the message belongs to their organization.
	where := `
		(recipients @> $1
		 OR EXISTS (
			SELECT 1 FROM conversations c
			WHERE c.id = messages.conversation_id
			  AND c.participants @> $1)
		 OR organization_id = $2)
		AND ($3::uuid IS NULL OR conversation_id = $3)
		AND ($4 = '' OR meta->>'category' = $4)
		AND ($5 = '' OR meta->>'entity' = $5)
		AND ($6 OR COALESCE((meta->>'isHidden')::boolean, false) = false)`

	var conversationID *uuid.UUID
	if f.ConversationID != uuid.Nil {
		conversationID = &f.ConversationID
	}
	args := []any{recipient, f.OrganizationID, conversationID, f.Category, f.Entity, f.Hidden}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT`+messageColumns+`
		FROM messages
		WHERE `+where+`
		ORDER BY date DESC
		LIMIT $7 OFFSET $8
	`, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, *m)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return messages, total, nil
}

func (r *PgRepository) CountUnread(ctx context.Context, userID, orgID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM messages
		WHERE organization_id = $1
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(recipients) AS rcpt
			WHERE rcpt->>'userId' = $2 AND rcpt->>'viewedOn' IS NULL)
	`, orgID, userID.String()).Scan(&count)
	return count, err
}

func encodeMessage(m *Message) (attachments, recipients, sender, meta []byte, err error) {
	if attachments, err = json.Marshal(m.Attachments); err != nil {
		return
	}
	if recipients, err = json.Marshal(m.To); err != nil {
		return
	}
	if m.From != nil {
		if sender, err = json.Marshal(m.From); err != nil {
			return
		}
	}
	meta, err = json.Marshal(m.Meta)
	return
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var attachments, meta, recipients, sender []byte
	var conversationID *uuid.UUID
	if err := row.Scan(
		&m.ID,
		&m.Subject,
		&m.Body,
		&m.Modes,
		&attachments,
		&meta,
		&recipients,
		&sender,
		&m.Status,
		&conversationID,
		&m.OrganizationID,
		&m.TenantID,
		&m.ExternalID,
		&m.Date,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if conversationID != nil {
		m.ConversationID = *conversationID
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Meta); err != nil {
			return nil, err
		}
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &m.To); err != nil {
			return nil, err
		}
	}
	if len(sender) > 0 {
		var from Delivery
		if err := json.Unmarshal(sender, &from); err != nil {
			return nil, err
		}
		m.From = &from
	}
	return &m, nil
}

type PgConversationRepository struct {
	pool *db.Pool
}

func NewPgConversationRepository(pool *db.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

func (r *PgConversationRepository) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	var c Conversation
	var participants []byte
	var lastMessageID *uuid.UUID
	err := r.pool.QueryRow(ctx, `
		SELECT id, participants, last_message_id, organization_id, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`, id).Scan(&c.ID, &participants, &lastMessageID, &c.OrganizationID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("conversation not found")
	}
	if err != nil {
		return nil, err
	}
	if lastMessageID != nil {
		c.LastMessageID = *lastMessageID
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &c.Participants); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (r *PgConversationRepository) Create(ctx context.Context, c *Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, participants, organization_id)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, c.ID, participants, c.OrganizationID).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *PgConversationRepository) SetLastMessage(ctx context.Context, conversationID, messageID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversations SET last_message_id = $2, updated_at = now() WHERE id = $1
	`, conversationID, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("conversation not found")
	}
	return nil
}
