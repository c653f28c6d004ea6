package api

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/db"
)

// EventRequest represents the incoming event creation and update body
type EventRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	ExternalURL    *string  `json:"external_url,omitempty"`
	OrganizerName  *string  `json:"organizer_name,omitempty"`
	OrganizerEmail *string  `json:"organizer_email,omitempty"`
	OrganizerPhone *string  `json:"organizer_phone,omitempty"`
	Category       *string  `json:"category,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

func (req *EventRequest) toParams() db.CreateEventParams {
	return db.CreateEventParams{
		Title:          req.Title,
		Description:    req.Description,
		ExternalURL:    req.ExternalURL,
		OrganizerName:  req.OrganizerName,
		OrganizerEmail: req.OrganizerEmail,
		OrganizerPhone: req.OrganizerPhone,
		Category:       req.Category,
		TagNames:       req.Tags,
	}
}

// CreateEvent handles POST /v1/events
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "title is required")
		return
	}

	ev, err := h.events.CreateEvent(r.Context(), req.toParams())
	if err != nil {
		h.writeStoreError(w, err, "Failed to create event")
		return
	}

	h.logger.Info("event created",
		zap.String("id", ev.ID.String()),
		zap.String("title", ev.Title),
	)

	h.writeJSON(w, http.StatusCreated, ev)
}

// GetEvent handles GET /v1/events/{id}
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	ev, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Event not found")
		return
	}

	h.writeJSON(w, http.StatusOK, ev)
}

// ListEvents handles GET /v1/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "Failed to list events")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  events,
		"count": len(events),
	})
}

// UpdateEvent handles PUT /v1/events/{id}
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req EventRequest
	if !h.decode(w, r, &req) {
		return
	}

	ev, err := h.events.UpdateEvent(r.Context(), id, req.toParams())
	if err != nil {
		h.writeStoreError(w, err, "Failed to update event")
		return
	}

	h.writeJSON(w, http.StatusOK, ev)
}

// DeleteEvent handles DELETE /v1/events/{id}
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.events.DeleteEvent(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "Failed to delete event")
		return
	}

	h.logger.Info("event deleted", zap.String("id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

// PublishEvent handles POST /v1/events/{id}/publish
func (h *Handler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Published *bool `json:"published,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	published := true
	if req.Published != nil {
		published = *req.Published
	}

	if err := h.events.SetPublished(r.Context(), id, published); err != nil {
		h.writeStoreError(w, err, "Failed to update publish state")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":        id.String(),
		"published": published,
	})
}

// InstanceRequest represents the incoming instance creation and update body
type InstanceRequest struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Location          string    `json:"location"`
	Room              *string   `json:"room,omitempty"`
	Address           *string   `json:"address,omitempty"`
	City              *string   `json:"city,omitempty"`
	State             *string   `json:"state,omitempty"`
	Country           *string   `json:"country,omitempty"`
	IsVirtual         bool      `json:"is_virtual"`
	VirtualMeetingURL *string   `json:"virtual_meeting_url,omitempty"`
}

func (req *InstanceRequest) toParams() db.InstanceParams {
	return db.InstanceParams{
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		Location:          req.Location,
		Room:              req.Room,
		Address:           req.Address,
		City:              req.City,
		State:             req.State,
		Country:           req.Country,
		IsVirtual:         req.IsVirtual,
		VirtualMeetingURL: req.VirtualMeetingURL,
	}
}

// CreateEventInstance handles POST /v1/events/{id}/instances
func (h *Handler) CreateEventInstance(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req InstanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	inst, err := h.events.CreateEventInstance(r.Context(), eventID, req.toParams())
	if err != nil {
		h.writeStoreError(w, err, "Failed to create event instance")
		return
	}

	h.logger.Info("event instance created",
		zap.String("id", inst.ID.String()),
		zap.String("event_id", eventID.String()),
	)

	h.writeJSON(w, http.StatusCreated, inst)
}

// GetEventInstance handles GET /v1/instances/{id}
func (h *Handler) GetEventInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	inst, err := h.events.GetEventInstance(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Event instance not found")
		return
	}

	h.writeJSON(w, http.StatusOK, inst)
}

// UpdateEventInstance handles PUT /v1/instances/{id}
func (h *Handler) UpdateEventInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req InstanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	inst, err := h.events.UpdateEventInstance(r.Context(), id, req.toParams())
	if err != nil {
		h.writeStoreError(w, err, "Failed to update event instance")
		return
	}

	h.writeJSON(w, http.StatusOK, inst)
}

// CancelEventInstance handles POST /v1/instances/{id}/cancel
func (h *Handler) CancelEventInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.events.CancelEventInstance(r.Context(), id, req.Reason); err != nil {
		h.writeStoreError(w, err, "Failed to cancel event instance")
		return
	}

	h.logger.Info("event instance cancelled",
		zap.String("id", id.String()),
		zap.String("reason", req.Reason),
	)

	h.writeJSON(w, http.StatusOK, map[string]string{
		"id":     id.String(),
		"status": "cancelled",
	})
}
