package message

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/datasource"
	"github.com/careloop/schedkit/internal/directory"
	"github.com/careloop/schedkit/internal/document"
	"github.com/careloop/schedkit/internal/taskqueue"
	"github.com/careloop/schedkit/internal/template"
)

// Recipients spells out how the to list is derived, in priority order:
// Everyone expands the conversation's participants, Users is an explicit
// list, Field is a dotted path into the compose data whose comma-split value
// names recipients. When none is set the template's configured to field
// applies, and failing that the list is empty.
type Recipients struct {
	Everyone bool
	Users    []directory.UserRef
	Field    string
}

// Intent is a request to compose one notification.
type Intent struct {
	Template       string
	Subject        string
	Body           string
	To             Recipients
	From           *directory.UserRef
	Data           map[string]any
	Attachments    []any
	Meta           map[string]any
	ConversationID uuid.UUID
	Entity         string
	ExternalID     string
	Date           time.Time
}

// Composer turns intents into persisted messages. All collaborators are
// injected; none is looked up at compose time.
type Composer struct {
	templates     template.Repository
	users         directory.Users
	renderer      document.Renderer
	fetcher       datasource.Fetcher
	messages      Repository
	conversations ConversationRepository
	tasks         taskqueue.Enqueuer
	logger        *slog.Logger
	now           func() time.Time
}

func NewComposer(
	templates template.Repository,
	users directory.Users,
	renderer document.Renderer,
	fetcher datasource.Fetcher,
	messages Repository,
	conversations ConversationRepository,
	tasks taskqueue.Enqueuer,
	logger *slog.Logger,
) *Composer {
	return &Composer{
		templates:     templates,
		users:         users,
		renderer:      renderer,
		fetcher:       fetcher,
		messages:      messages,
		conversations: conversations,
		tasks:         tasks,
		logger:        logger,
		now:           time.Now,
	}
}

// Compose resolves the intent into a Message, persists it and queues it for
// delivery. A named template that does not exist is not an error: nothing is
// persisted and (nil, nil) is returned. An intent naming no template at all
// still composes a raw message from its own subject and body.
func (c *Composer) Compose(ctx context.Context, actx directory.Context, intent Intent) (*Message, error) {
	tmpl := &template.Template{}
	if intent.Template != "" {
		found, err := c.templates.GetByCode(ctx, actx.OrganizationID(), intent.Template)
		if err != nil {
			return nil, err
		}
		if found == nil {
			c.logger.Info("template not found, skipping notification",
				"template", intent.Template,
				"organization_id", actx.OrganizationID())
			return nil, nil
		}
		tmpl = found
	}

	data := intent.Data
	if data == nil {
		data = map[string]any{}
	}
	if tmpl.DataSource != "" {
		rows, err := c.fetcher.Fetch(ctx, tmpl.DataSource, data)
		if err != nil {
			return nil, err
		}
		// The first fetched row replaces the fill data outright.
		if len(rows) > 0 {
			data = rows[0]
		}
	}

	scope := substitutionContext(data, actx)

	var conversation *Conversation
	if intent.ConversationID != uuid.Nil {
		var err error
		conversation, err = c.conversations.Get(ctx, intent.ConversationID)
		if err != nil {
			return nil, err
		}
	}

	to, err := c.resolveRecipients(ctx, actx, intent, tmpl, data, conversation)
	if err != nil {
		return nil, err
	}
	from, err := c.resolveFrom(ctx, actx, intent, tmpl, data)
	if err != nil {
		return nil, err
	}

	subject, body, err := c.renderContent(ctx, intent, tmpl, data, scope)
	if err != nil {
		return nil, err
	}

	attachments, err := normalizeAttachments(ctx, c.renderer, intent.Attachments, data)
	if err != nil {
		return nil, err
	}

	meta, err := c.buildMeta(intent, tmpl, scope, from)
	if err != nil {
		return nil, err
	}

	date := intent.Date
	if date.IsZero() {
		date = c.now()
	}

	msg := &Message{
		ID:             uuid.New(),
		Subject:        subject,
		Body:           body,
		Modes:          tmpl.EnabledModes(),
		Attachments:    attachments,
		Meta:           meta,
		To:             to,
		From:           from,
		Status:         StatusNew,
		ConversationID: intent.ConversationID,
		OrganizationID: actx.OrganizationID(),
		TenantID:       actx.TenantID(),
		ExternalID:     intent.ExternalID,
		Date:           date,
	}

	if err := c.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if conversation != nil {
		if err := c.conversations.SetLastMessage(ctx, conversation.ID, msg.ID); err != nil {
			c.logger.Error("failed to update conversation", "err", err, "conversation_id", conversation.ID)
		}
	}

	// Content already delivered by an outside system is recorded but never
	// re-queued.
	if msg.ExternalID == "" {
		if err := c.queueDelivery(ctx, actx, msg); err != nil {
			return nil, err
		}
		msg.Status = StatusQueued
		if err := c.messages.Update(ctx, msg); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// Send implements the scheduling side's notifier contract.
func (c *Composer) Send(ctx context.Context, actx directory.Context, tmpl string, data map[string]any, to []directory.UserRef) error {
	_, err := c.Compose(ctx, actx, Intent{
		Template: tmpl,
		To:       Recipients{Users: to},
		Data:     data,
	})
	return err
}

func (c *Composer) resolveRecipients(ctx context.Context, actx directory.Context, intent Intent, tmpl *template.Template, data map[string]any, conversation *Conversation) ([]Delivery, error) {
	if intent.To.Everyone && conversation != nil {
		out := make([]Delivery, 0, len(conversation.Participants))
		seen := map[string]bool{}
		for _, p := range conversation.Participants {
			key := p.Code
			if key == "" {
				key = p.UserID.String()
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Delivery{UserID: p.UserID, Code: p.Code, Name: p.Name})
		}

		// Explicit recipients listed alongside everyone still count.
		extra, err := c.resolveRefs(ctx, actx, intent.To.Users)
		if err != nil {
			return nil, err
		}
		for _, d := range extra {
			key := d.Code
			if key == "" {
				key = d.UserID.String()
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, d)
		}
		return out, nil
	}

	if len(intent.To.Users) > 0 {
		return c.resolveRefs(ctx, actx, intent.To.Users)
	}

	field := intent.To.Field
	if field == "" {
		field = string(tmpl.Config.To)
	}
	if field != "" {
		raw := lookupString(map[string]any{"data": data}, "data."+field)
		if raw == "" {
			raw = lookupString(data, field)
		}
		var refs []directory.UserRef
		for _, code := range strings.Split(raw, ",") {
			code = strings.TrimSpace(code)
			if code != "" {
				refs = append(refs, directory.RefByCode(code))
			}
		}
		return c.resolveRefs(ctx, actx, refs)
	}

	// No recipients is fine; the message is still persisted.
	return nil, nil
}

// resolveRefs looks up each reference, dropping unresolvable ones and
// collapsing duplicates by user code.
func (c *Composer) resolveRefs(ctx context.Context, actx directory.Context, refs []directory.UserRef) ([]Delivery, error) {
	out := make([]Delivery, 0, len(refs))
	seen := map[string]bool{}
	for _, ref := range refs {
		user, err := c.users.Get(ctx, ref, actx)
		if err != nil {
			return nil, err
		}
		if user == nil {
			continue
		}
		key := user.Code
		if key == "" {
			key = user.ID.String()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Delivery{
			UserID: user.ID,
			Code:   user.Code,
			Name:   user.Name(),
			Email:  user.Email,
			Phone:  user.Phone,
		})
	}
	return out, nil
}

// resolveFrom walks the sender chain: explicit sender, template-configured
// field, acting user, organization owner, tenant owner.
func (c *Composer) resolveFrom(ctx context.Context, actx directory.Context, intent Intent, tmpl *template.Template, data map[string]any) (*Delivery, error) {
	if intent.From != nil && !intent.From.IsZero() {
		resolved, err := c.resolveRefs(ctx, actx, []directory.UserRef{*intent.From})
		if err != nil {
			return nil, err
		}
		if len(resolved) > 0 {
			return &resolved[0], nil
		}
	}
	if field := string(tmpl.Config.From); field != "" {
		if code := lookupString(data, field); code != "" {
			resolved, err := c.resolveRefs(ctx, actx, []directory.UserRef{directory.RefByCode(code)})
			if err != nil {
				return nil, err
			}
			if len(resolved) > 0 {
				return &resolved[0], nil
			}
		}
	}
	for _, u := range []*directory.User{actx.User, ownerOf(actx.Organization), tenantOwnerOf(actx.Tenant)} {
		if u != nil {
			return &Delivery{UserID: u.ID, Code: u.Code, Name: u.Name(), Email: u.Email, Phone: u.Phone}, nil
		}
	}
	return nil, nil
}

func ownerOf(o *directory.Organization) *directory.User {
	if o == nil {
		return nil
	}
	return o.Owner
}

func tenantOwnerOf(t *directory.Tenant) *directory.User {
	if t == nil {
		return nil
	}
	return t.Owner
}

// renderContent produces the subject and body. A template with category
// "view" skips document rendering and substitutes into the raw subject and
// body instead.
func (c *Composer) renderContent(ctx context.Context, intent Intent, tmpl *template.Template, data map[string]any, scope map[string]any) (string, string, error) {
	subject := intent.Subject
	if subject == "" {
		subject = tmpl.Subject
	}
	body := intent.Body
	if body == "" {
		body = tmpl.Body
	}

	if tmpl.Config.Category == "view" || tmpl.Body == "" {
		return substitute(subject, scope), substitute(body, scope), nil
	}

	doc, err := c.renderer.RenderBody(ctx, data, tmpl.Body)
	if err != nil {
		return "", "", err
	}
	if doc.Name != "" {
		subject = doc.Name
	}
	return substitute(subject, scope), string(doc.Content), nil
}

// buildMeta merges caller metadata over template defaults, runs the
// substitution pass and pins the always-present display fields.
func (c *Composer) buildMeta(intent Intent, tmpl *template.Template, scope map[string]any, from *Delivery) (Meta, error) {
	merged := map[string]any{
		"dp":       tmpl.Dp,
		"isHidden": tmpl.IsHidden || tmpl.Config.IsHidden,
		"logo":     tmpl.Logo,
		"category": tmpl.Category,
	}
	if tmpl.Config.Category != "" {
		merged["category"] = tmpl.Config.Category
	}
	if len(tmpl.Actions) > 0 {
		raw, err := json.Marshal(tmpl.Actions)
		if err != nil {
			return Meta{}, err
		}
		var actions any
		if err := json.Unmarshal(raw, &actions); err != nil {
			return Meta{}, err
		}
		merged["actions"] = actions
	}
	for k, v := range intent.Meta {
		merged[k] = v
	}

	substituted := substituteTree(merged, scope).(map[string]any)

	raw, err := json.Marshal(substituted)
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, err
	}
	if meta.Actions == nil {
		meta.Actions = []template.Action{}
	}
	if ctxObj, ok := scope["context"].(map[string]any); ok {
		meta.Context = ctxObj
	}
	meta.Entity = intent.Entity
	if intent.ConversationID != uuid.Nil {
		meta.ConversationID = intent.ConversationID.String()
	}
	if from != nil {
		meta.From = from.Code
	}
	return meta, nil
}

type deliverPayload struct {
	MessageID string `json:"messageId"`
}

func (c *Composer) queueDelivery(ctx context.Context, actx directory.Context, msg *Message) error {
	job, err := taskqueue.NewJob(taskqueue.KindDeliverMessage, msg.ID.String(), deliverPayload{MessageID: msg.ID.String()})
	if err != nil {
		return err
	}
	job.OrganizationID = msg.OrganizationID.String()
	job.TenantID = msg.TenantID.String()
	if actx.User != nil {
		job.ActorID = actx.User.ID.String()
	}
	return c.tasks.Enqueue(ctx, job)
}
