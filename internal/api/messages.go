package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/fault"
	"github.com/careloop/schedkit/internal/message"
)

type MessageHandler struct {
	composer *message.Composer
	svc      *message.Service
	actors   *ActorResolver
	logger   *slog.Logger
}

func NewMessageHandler(composer *message.Composer, svc *message.Service, actors *ActorResolver, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{composer: composer, svc: svc, actors: actors, logger: logger}
}

func (h *MessageHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/messages/compose", h.Compose)
	mux.HandleFunc("/api/v1/messages/search", h.Search)
	mux.HandleFunc("/api/v1/messages/get", h.Get)
	mux.HandleFunc("/api/v1/messages/summary", h.Summary)
	mux.HandleFunc("/api/v1/messages/change-status", h.ChangeStatus)
	mux.HandleFunc("/api/v1/messages/remove", h.Remove)
}

type composeRequest struct {
	Template string `json:"template"`
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body,omitempty"`
	To       struct {
		Everyone bool                 `json:"everyone,omitempty"`
		Users    []participantPayload `json:"users,omitempty"`
		Field    string               `json:"field,omitempty"`
	} `json:"to"`
	From           *participantPayload `json:"from,omitempty"`
	Data           map[string]any      `json:"data,omitempty"`
	Attachments    []any               `json:"attachments,omitempty"`
	Meta           map[string]any      `json:"meta,omitempty"`
	ConversationID string              `json:"conversationId,omitempty"`
	Entity         string              `json:"entity,omitempty"`
	ExternalID     string              `json:"externalId,omitempty"`
}

func (h *MessageHandler) Compose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req composeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fault.Validation("invalid json body"))
		return
	}

	intent := message.Intent{
		Template:    req.Template,
		Subject:     req.Subject,
		Body:        req.Body,
		Data:        req.Data,
		Attachments: req.Attachments,
		Meta:        req.Meta,
		Entity:      req.Entity,
		ExternalID:  req.ExternalID,
	}
	intent.To.Everyone = req.To.Everyone
	intent.To.Field = req.To.Field
	for _, u := range req.To.Users {
		intent.To.Users = append(intent.To.Users, u.ref())
	}
	if req.From != nil {
		ref := req.From.ref()
		intent.From = &ref
	}
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			writeError(w, h.logger, fault.Validation("conversationId must be a uuid"))
			return
		}
		intent.ConversationID = id
	}

	msg, err := h.composer.Compose(r.Context(), h.actors.Resolve(r), intent)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if msg == nil {
		writeJSON(w, http.StatusOK, map[string]any{"message": nil})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": messageView(msg)})
}

func (h *MessageHandler) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	query := message.SearchQuery{
		Category: q.Get("category"),
		Entity:   q.Get("entity"),
		Hidden:   q.Get("hidden") == "true",
	}
	if raw := q.Get("conversationId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, h.logger, fault.Validation("conversationId must be a uuid"))
			return
		}
		query.ConversationID = id
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			query.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			query.Offset = n
		}
	}

	result, err := h.svc.Search(r.Context(), h.actors.Resolve(r), query)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]map[string]any, 0, len(result.Items))
	for i := range result.Items {
		items = append(items, messageView(&result.Items[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": result.Total})
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, h.logger, fault.Validation("id is required"))
		return
	}
	msg, err := h.svc.Get(r.Context(), h.actors.Resolve(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageView(msg))
}

func (h *MessageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	summary, err := h.svc.Summary(r.Context(), h.actors.Resolve(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *MessageHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fault.Validation("invalid json body"))
		return
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, h.logger, fault.Validation("id is required"))
		return
	}
	if req.Status == "" {
		writeError(w, h.logger, fault.Validation("status is required"))
		return
	}
	msg, err := h.svc.ChangeStatus(r.Context(), id, message.Status(req.Status))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, messageView(msg))
}

func (h *MessageHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fault.Validation("invalid json body"))
		return
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, h.logger, fault.Validation("id is required"))
		return
	}
	if err := h.svc.Remove(r.Context(), h.actors.Resolve(r), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func messageView(m *message.Message) map[string]any {
	view := map[string]any{
		"id":      m.ID.String(),
		"subject": m.Subject,
		"body":    m.Body,
		"modes":   m.Modes,
		"meta":    m.Meta,
		"status":  string(m.Status),
		"date":    m.Date.Format(time.RFC3339),
	}
	to := make([]map[string]any, 0, len(m.To))
	for _, d := range m.To {
		entry := map[string]any{"userId": d.UserID.String(), "code": d.Code}
		if d.ViewedOn != nil {
			entry["viewedOn"] = d.ViewedOn.Format(time.RFC3339)
		}
		to = append(to, entry)
	}
	view["to"] = to
	if m.From != nil {
		view["from"] = map[string]any{"userId": m.From.UserID.String(), "code": m.From.Code}
	}
	if m.ConversationID != uuid.Nil {
		view["conversationId"] = m.ConversationID.String()
	}
	if m.ExternalID != "" {
		view["externalId"] = m.ExternalID
	}
	return view
}
