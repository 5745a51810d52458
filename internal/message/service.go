package message

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/directory"
	"github.com/careloop/schedkit/internal/fault"
)

// Service answers message reads and administrative mutations. Visibility: a
// caller sees a message when they are a recipient or a participant of its
// conversation; otherwise only messages of their own organization.
type Service struct {
	messages      Repository
	conversations ConversationRepository
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(messages Repository, conversations ConversationRepository, logger *slog.Logger) *Service {
	return &Service{
		messages:      messages,
		conversations: conversations,
		logger:        logger,
		now:           time.Now,
	}
}

type SearchQuery struct {
	ConversationID uuid.UUID
	Category       string
	Entity         string
	Hidden         bool
	Limit          int
	Offset         int
}

type SearchResult struct {
	Items []Message
	Total int
}

func (s *Service) Search(ctx context.Context, actx directory.Context, q SearchQuery) (*SearchResult, error) {
	if actx.User == nil {
		return nil, fault.Validation("caller identity is required")
	}
	if q.ConversationID != uuid.Nil {
		conv, err := s.conversations.Get(ctx, q.ConversationID)
		if err != nil {
			return nil, err
		}
		if !conv.HasParticipant(actx.User.ID) {
			return nil, fault.NotFound("conversation not found")
		}
	}

	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items, total, err := s.messages.Search(ctx, SearchFilter{
		VisibleTo:      actx.User.ID,
		OrganizationID: actx.OrganizationID(),
		ConversationID: q.ConversationID,
		Category:       q.Category,
		Entity:         q.Entity,
		Hidden:         q.Hidden,
		Limit:          limit,
		Offset:         q.Offset,
	})
	if err != nil {
		return nil, err
	}
	return &SearchResult{Items: items, Total: total}, nil
}

// Get returns the message and stamps the caller's read receipt. The first
// fetch sets viewedOn; later fetches leave it untouched.
func (s *Service) Get(ctx context.Context, actx directory.Context, id uuid.UUID) (*Message, error) {
	msg, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actx, msg); err != nil {
		return nil, err
	}

	if actx.User != nil {
		for i := range msg.To {
			if msg.To[i].UserID != actx.User.ID || msg.To[i].ViewedOn != nil {
				continue
			}
			at := s.now()
			msg.To[i].ViewedOn = &at
			if err := s.messages.Update(ctx, msg); err != nil {
				return nil, err
			}
			break
		}
	}
	return msg, nil
}

func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, status Status) (*Message, error) {
	msg, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	msg.Status = status
	if err := s.messages.Update(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) Remove(ctx context.Context, actx directory.Context, id uuid.UUID) error {
	msg, err := s.messages.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, actx, msg); err != nil {
		return err
	}
	return s.messages.Remove(ctx, id)
}

type Summary struct {
	Unread int
}

func (s *Service) Summary(ctx context.Context, actx directory.Context) (*Summary, error) {
	if actx.User == nil {
		return nil, fault.Validation("caller identity is required")
	}
	unread, err := s.messages.CountUnread(ctx, actx.User.ID, actx.OrganizationID())
	if err != nil {
		return nil, err
	}
	return &Summary{Unread: unread}, nil
}

func (s *Service) authorize(ctx context.Context, actx directory.Context, msg *Message) error {
	if actx.User != nil && msg.RecipientOf(actx.User.ID) {
		return nil
	}
	if msg.ConversationID != uuid.Nil && actx.User != nil {
		conv, err := s.conversations.Get(ctx, msg.ConversationID)
		if err == nil && conv.HasParticipant(actx.User.ID) {
			return nil
		}
	}
	if msg.OrganizationID != uuid.Nil && msg.OrganizationID == actx.OrganizationID() {
		return nil
	}
	return fault.NotFound("message not found")
}
