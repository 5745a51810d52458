// Package message composes, persists and queries notifications. A compose run
// turns an intent into a Message with fully resolved recipients, metadata and
// attachments, then hands it to the offline queue for delivery.
package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/template"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusQueued    Status = "queued"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

const (
	ModeEmail = "email"
	ModeSMS   = "sms"
	ModePush  = "push"
	ModeBot   = "bot"
)

// Delivery is one resolved recipient (or the sender) with their read receipt.
type Delivery struct {
	UserID   uuid.UUID  `json:"userId"`
	Code     string     `json:"code,omitempty"`
	Name     string     `json:"name,omitempty"`
	Email    string     `json:"email,omitempty"`
	Phone    string     `json:"phone,omitempty"`
	ViewedOn *time.Time `json:"viewedOn,omitempty"`
}

type Attachment struct {
	Filename    string `json:"filename,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Content     []byte `json:"content,omitempty"`
	URL         string `json:"url,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Description string `json:"description,omitempty"`
}

// Meta is the enumerated channel-display metadata carried by every message.
// Dp, IsHidden, Actions, Logo and Category are always present after compose.
type Meta struct {
	Dp             string            `json:"dp"`
	IsHidden       bool              `json:"isHidden"`
	Actions        []template.Action `json:"actions"`
	Logo           string            `json:"logo"`
	Category       string            `json:"category"`
	Context        map[string]any    `json:"context,omitempty"`
	Entity         string            `json:"entity,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	From           string            `json:"from,omitempty"`
}

type Message struct {
	ID          uuid.UUID
	Subject     string
	Body        string
	Modes       []string
	Attachments []Attachment
	Meta        Meta
	To          []Delivery
	From        *Delivery
	Status      Status

	ConversationID uuid.UUID // zero when the message is not threaded
	OrganizationID uuid.UUID
	TenantID       uuid.UUID

	// ExternalID marks content already delivered by an outside system; such
	// messages are persisted but never re-queued.
	ExternalID string
	Date       time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecipientOf reports whether the user appears in the to list.
func (m *Message) RecipientOf(userID uuid.UUID) bool {
	for _, d := range m.To {
		if d.UserID == userID {
			return true
		}
	}
	return false
}

type Participant struct {
	UserID uuid.UUID `json:"userId"`
	Code   string    `json:"code,omitempty"`
	Name   string    `json:"name,omitempty"`
}

// Conversation threads messages between a fixed participant set.
type Conversation struct {
	ID             uuid.UUID
	Participants   []Participant
	LastMessageID  uuid.UUID
	OrganizationID uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	if c == nil {
		return false
	}
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
