package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/schedkit/internal/appointment"
	"github.com/careloop/schedkit/internal/directory"
	"github.com/careloop/schedkit/internal/fault"
)

type AppointmentHandler struct {
	svc    *appointment.Service
	actors *ActorResolver
	logger *slog.Logger
}

func NewAppointmentHandler(svc *appointment.Service, actors *ActorResolver, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, actors: actors, logger: logger}
}

func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/appointments/book", h.Book)
	mux.HandleFunc("/api/v1/appointments/get", h.Get)
	mux.HandleFunc("/api/v1/appointments/update", h.Update)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
	mux.HandleFunc("/api/v1/appointments/bulk", h.BulkUpdate)
	mux.HandleFunc("/api/v1/appointments/cancel-agent-day", h.CancelAgentDay)
	mux.HandleFunc("/api/v1/appointments/visitor", h.VisitorAppointments)
	mux.HandleFunc("/api/v1/appointments/future", h.Future)
	mux.HandleFunc("/api/v1/appointments/agent-day", h.AgentDay)
}

type participantPayload struct {
	UserID string `json:"userId,omitempty"`
	Code   string `json:"code,omitempty"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

func (p participantPayload) ref() directory.UserRef {
	ref := directory.UserRef{Code: p.Code, Email: p.Email, Phone: p.Phone}
	if id, err := uuid.Parse(p.UserID); err == nil {
		ref.ID = id
	}
	return ref
}

type bookRequest struct {
	Agent    participantPayload   `json:"agent"`
	Visitors []participantPayload `json:"visitors"`
	From     time.Time            `json:"from"`
	Till     time.Time            `json:"till"`
	Type     struct {
		ID   string `json:"id,omitempty"`
		Code string `json:"code,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"appointmentType"`
	Purpose  string         `json:"purpose"`
	Duration int            `json:"duration"`
	Provider string         `json:"provider"`
	Status   string         `json:"status"`
	Data     map[string]any `json:"data"`
}

func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fault.Validation("invalid json body"))
		return
	}

	visitors := make([]directory.UserRef, 0, len(req.Visitors))
	for _, v := range req.Visitors {
		visitors = append(visitors, v.ref())
	}
	typeRef := appointment.TypeRef{Code: req.Type.Code, Name: req.Type.Name}
	if id, err := uuid.Parse(req.Type.ID); err == nil {
		typeRef.ID = id
	}

	appt, err := h.svc.Book(r.Context(), h.actors.Resolve(r), appointment.BookRequest{
		Agent:           req.Agent.ref(),
		Visitors:        visitors,
		From:            req.From,
		Till:            req.Till,
		AppointmentType: typeRef,
		Purpose:         req.Purpose,
		Duration:        req.Duration,
		Provider:        req.Provider,
		Status:          appointment.Status(req.Status),
		Data:            req.Data,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentView(appt))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, h.logger, fault.Validation("id is required"))
		return
	}
	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentView(appt))
}

type updateRequest struct {
	ID      string         `json:"id"`
	Changes changesPayload `json:"changes"`
}

type changesPayload struct {
	Purpose   *string              `json:"purpose,omitempty"`
	From      *time.Time           `json:"from,omitempty"`
	Till      *time.Time           `json:"till,omitempty"`
	StartTime *time.Time           `json:"startTime,omitempty"`
	EndTime   *time.Time           `json:"endTime,omitempty"`
	Status    *string              `json:"status,omitempty"`
	Duration  *int                 `json:"duration,omitempty"`
	Visitors  []participantPayload `json:"visitors,omitempty"`
	Agent     *participantPayload  `json:"agent,omitempty"`
	Data      map[string]any       `json:"data,omitempty"`
}

func (p changesPayload) changes() appointment.Changes {
	changes := appointment.Changes{
		Purpose:   p.Purpose,
		From:      p.From,
		Till:      p.Till,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
		Duration:  p.Duration,
		Data:      p.Data,
	}
	if p.Status != nil {
		status := appointment.Status(*p.Status)
		changes.Status = &status
	}
	for _, v := range p.Visitors {
		changes.Visitors = append(changes.Visitors, v.ref())
	}
	if p.Agent != nil {
		ref := p.Agent.ref()
		changes.Agent = &ref
	}
	return changes
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fault.Validation("invalid json body"))
		return
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, h.logger, fault.Validation("id is required"))
		return
	}
	appt, err := h.svc.Update(r.Context(), h.actors.Resolve(r), id, req.Changes.changes())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentView(appt))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
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
	appt, err := h.svc.Cancel(r.Context(), h.actors.Resolve(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentView(appt))
}

func (h *AppointmentHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Items []updateRequest `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fault.Validation("invalid json body"))
		return
	}
	items := make([]appointment.BulkItem, 0, len(req.Items))
	for _, item := range req.Items {
		id, err := uuid.Parse(item.ID)
		if err != nil {
			writeError(w, h.logger, fault.Validation("every item needs an id"))
			return
		}
		items = append(items, appointment.BulkItem{ID: id, Changes: item.Changes.changes()})
	}
	if err := h.svc.BulkUpdate(r.Context(), h.actors.Resolve(r), items); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": len(items)})
}

func (h *AppointmentHandler) CancelAgentDay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Agent participantPayload `json:"agent"`
		From  time.Time          `json:"from"`
		Till  time.Time          `json:"till"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, fault.Validation("invalid json body"))
		return
	}
	if err := h.svc.QueueAgentDayCancellation(r.Context(), h.actors.Resolve(r), req.Agent.ref(), req.From, req.Till); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (h *AppointmentHandler) VisitorAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	visitorID, err := uuid.Parse(r.URL.Query().Get("visitorId"))
	if err != nil {
		writeError(w, h.logger, fault.Validation("visitorId is required"))
		return
	}
	schedule, err := h.svc.VisitorAppointments(r.Context(), visitorID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upcoming":  appointmentViews(schedule.Upcoming),
		"old":       appointmentViews(schedule.Old),
		"cancelled": appointmentViews(schedule.Cancelled),
	})
}

func (h *AppointmentHandler) Future(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	visitorID, err := uuid.Parse(r.URL.Query().Get("visitorId"))
	if err != nil {
		writeError(w, h.logger, fault.Validation("visitorId is required"))
		return
	}
	agentID, err := uuid.Parse(r.URL.Query().Get("agentId"))
	if err != nil {
		writeError(w, h.logger, fault.Validation("agentId is required"))
		return
	}
	appts, err := h.svc.FutureAppointments(r.Context(), visitorID, agentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": appointmentViews(appts)})
}

func (h *AppointmentHandler) AgentDay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agentID, err := uuid.Parse(r.URL.Query().Get("agentId"))
	if err != nil {
		writeError(w, h.logger, fault.Validation("agentId is required"))
		return
	}
	at := time.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, h.logger, fault.Validation("at must be RFC 3339"))
			return
		}
		at = parsed
	}
	appts, err := h.svc.AgentDay(r.Context(), agentID, at)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": appointmentViews(appts)})
}

type appointmentResponse struct {
	ID       string               `json:"id"`
	Purpose  string               `json:"purpose,omitempty"`
	From     time.Time            `json:"from"`
	Till     time.Time            `json:"till"`
	Duration int                  `json:"duration,omitempty"`
	Status   string               `json:"status"`
	Agent    participantPayload   `json:"agent"`
	Visitors []participantPayload `json:"visitors"`
	TokenNo  int                  `json:"tokenNo,omitempty"`
	QueueID  string               `json:"queueId,omitempty"`
}

func appointmentView(a *appointment.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:       a.ID.String(),
		Purpose:  a.Purpose,
		From:     a.From,
		Till:     a.Till,
		Duration: a.Duration,
		Status:   string(a.Status),
		Agent:    participantPayload{UserID: a.Agent.UserID.String(), Email: a.Agent.Email},
		TokenNo:  a.Token.Number,
	}
	if a.Token.QueueID != uuid.Nil {
		resp.QueueID = a.Token.QueueID.String()
	}
	for _, v := range a.Visitors {
		resp.Visitors = append(resp.Visitors, participantPayload{UserID: v.UserID.String(), Email: v.Email})
	}
	return resp
}

func appointmentViews(appts []appointment.Appointment) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, appointmentView(&appts[i]))
	}
	return out
}
