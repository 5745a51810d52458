// Package template stores the notification templates a composition run is
// driven by. A template's config decides the channels, the sender chain and
// the recipient resolution for every message built from it.
package template

import (
	"time"

	"github.com/google/uuid"
)

// FieldRef points at a value inside the composition context, e.g.
// "context.organization.owner" or "data.agentCode". An empty ref means the
// default for that slot.
type FieldRef string

// Config controls how messages built from the template behave.
type Config struct {
	Modes    []string `json:"modes,omitempty"`    // email, sms, push, bot
	IsHidden bool     `json:"isHidden,omitempty"` // composed but not listed
	To       FieldRef `json:"to,omitempty"`
	From     FieldRef `json:"from,omitempty"`
	Category string   `json:"category,omitempty"`
}

// Action is a call-to-action rendered into the message body.
type Action struct {
	Code  string `json:"code,omitempty"`
	Label string `json:"label,omitempty"`
	URL   string `json:"url,omitempty"`
}

type Template struct {
	ID         uuid.UUID
	Code       string // unique per organization
	Subject    string
	Body       string
	Dp         string // display picture URL
	Logo       string
	IsHidden   bool
	Actions    []Action
	Category   string
	DataSource string // optional external source fetched into data at compose time
	Config     Config

	OrganizationID uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EnabledModes returns the template's channels, defaulting to push only.
func (t *Template) EnabledModes() []string {
	if t == nil || len(t.Config.Modes) == 0 {
		return []string{"push"}
	}
	return t.Config.Modes
}
