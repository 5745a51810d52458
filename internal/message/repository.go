package message

import (
	"context"

	"github.com/google/uuid"
)

// SearchFilter narrows a message search. VisibleTo carries the caller's
// identity for the visibility rule: recipients and conversation participants
// see their messages anywhere, everyone else sees only their organization's.
type SearchFilter struct {
	VisibleTo      uuid.UUID
	OrganizationID uuid.UUID
	ConversationID uuid.UUID
	Category       string
	Entity         string
	Hidden         bool // include hidden messages
	Limit          int
	Offset         int
}

type Repository interface {
	Create(ctx context.Context, m *Message) error
	Get(ctx context.Context, id uuid.UUID) (*Message, error)
	Update(ctx context.Context, m *Message) error
	Remove(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, f SearchFilter) ([]Message, int, error)
	// CountUnread counts messages where the user's to entry has no viewedOn.
	CountUnread(ctx context.Context, userID, orgID uuid.UUID) (int, error)
}

type ConversationRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	Create(ctx context.Context, c *Conversation) error
	SetLastMessage(ctx context.Context, conversationID, messageID uuid.UUID) error
}
