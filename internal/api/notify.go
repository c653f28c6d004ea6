package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/db"
	"github.com/heraldhq/herald/internal/dispatch"
)

// NotifyRequest tunes a targeted event or instance notification
type NotifyRequest struct {
	Channel         string   `json:"channel"`
	CustomMessage   string   `json:"custom_message,omitempty"`
	RequiredTags    []string `json:"required_tags,omitempty"`
	IncludeInactive bool     `json:"include_inactive,omitempty"`
}

// BroadcastRequest carries a caller-authored broadcast
type BroadcastRequest struct {
	Channel         string   `json:"channel"`
	Subject         string   `json:"subject"`
	Message         string   `json:"message"`
	Tags            []string `json:"tags,omitempty"`
	City            *string  `json:"city,omitempty"`
	State           *string  `json:"state,omitempty"`
	Country         *string  `json:"country,omitempty"`
	RadiusMiles     *float64 `json:"radius_miles,omitempty"`
	IncludeInactive bool     `json:"include_inactive,omitempty"`
}

func (h *Handler) parseChannel(w http.ResponseWriter, raw string) (db.Channel, bool) {
	ch, err := db.ParseChannel(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel",
			"channel must be email, sms, push, or all")
		return "", false
	}
	return ch, true
}

// NotifyEvent handles POST /v1/notify/events/{id}
func (h *Handler) NotifyEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req NotifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	ch, ok := h.parseChannel(w, req.Channel)
	if !ok {
		return
	}

	err := h.notifier.NotifyAboutEvent(r.Context(), id, ch, dispatch.EventOptions{
		CustomMessage:   req.CustomMessage,
		RequiredTags:    req.RequiredTags,
		IncludeInactive: req.IncludeInactive,
	})
	if err != nil {
		h.writeStoreError(w, err, "Failed to notify about event")
		return
	}

	h.logger.Info("event notification dispatched",
		zap.String("event_id", id.String()),
		zap.String("channel", string(ch)),
	)

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"event_id": id.String(),
		"channel":  string(ch),
		"status":   "dispatched",
	})
}

// NotifyEventInstance handles POST /v1/notify/instances/{id}
func (h *Handler) NotifyEventInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req NotifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	ch, ok := h.parseChannel(w, req.Channel)
	if !ok {
		return
	}

	err := h.notifier.NotifyAboutEventInstance(r.Context(), id, ch, dispatch.EventOptions{
		CustomMessage:   req.CustomMessage,
		RequiredTags:    req.RequiredTags,
		IncludeInactive: req.IncludeInactive,
	})
	if err != nil {
		h.writeStoreError(w, err, "Failed to notify about event instance")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"event_instance_id": id.String(),
		"channel":           string(ch),
		"status":            "dispatched",
	})
}

// NotifyByTags handles POST /v1/notify/tags
func (h *Handler) NotifyByTags(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if !h.decode(w, r, &req) {
		return
	}
	ch, ok := h.parseChannel(w, req.Channel)
	if !ok {
		return
	}
	if len(req.Tags) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing tags", "at least one tag is required")
		return
	}

	err := h.notifier.NotifyByTags(r.Context(), req.Tags, req.Subject, req.Message, ch, dispatch.BroadcastOptions{
		IncludeInactive: req.IncludeInactive,
	})
	if err != nil {
		h.writeStoreError(w, err, "Failed to broadcast by tags")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"tags":    req.Tags,
		"channel": string(ch),
		"status":  "dispatched",
	})
}

// NotifyByLocation handles POST /v1/notify/location
func (h *Handler) NotifyByLocation(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if !h.decode(w, r, &req) {
		return
	}
	ch, ok := h.parseChannel(w, req.Channel)
	if !ok {
		return
	}
	if req.City == nil && req.State == nil && req.Country == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing location",
			"at least one of city, state, or country is required")
		return
	}

	err := h.notifier.NotifyByLocation(r.Context(), dispatch.LocationFilter{
		City:        req.City,
		State:       req.State,
		Country:     req.Country,
		RadiusMiles: req.RadiusMiles,
	}, req.Subject, req.Message, ch, dispatch.BroadcastOptions{
		IncludeInactive: req.IncludeInactive,
	})
	if err != nil {
		h.writeStoreError(w, err, "Failed to broadcast by location")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"channel": string(ch),
		"status":  "dispatched",
	})
}

// parseHistoryFilter reads the optional from, to, and channel query
// parameters. Timestamps use RFC 3339.
func (h *Handler) parseHistoryFilter(w http.ResponseWriter, r *http.Request) (db.HistoryFilter, bool) {
	var f db.HistoryFilter

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid from", "from must be RFC 3339")
			return f, false
		}
		f.From = &t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid to", "to must be RFC 3339")
			return f, false
		}
		f.To = &t
	}
	if raw := r.URL.Query().Get("channel"); raw != "" {
		ch, err := db.ParseChannel(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel",
				"channel must be email, sms, push, or all")
			return f, false
		}
		f.Channel = &ch
	}
	return f, true
}

// SubscriberHistory handles GET /v1/subscribers/{id}/notifications
func (h *Handler) SubscriberHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	f, ok := h.parseHistoryFilter(w, r)
	if !ok {
		return
	}

	records, err := h.notifier.SubscriberHistory(r.Context(), id, f)
	if err != nil {
		h.writeStoreError(w, err, "Failed to load notification history")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  records,
		"count": len(records),
	})
}

// EventHistory handles GET /v1/events/{id}/notifications
func (h *Handler) EventHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	f, ok := h.parseHistoryFilter(w, r)
	if !ok {
		return
	}

	records, err := h.notifier.EventHistory(r.Context(), id, f)
	if err != nil {
		h.writeStoreError(w, err, "Failed to load notification history")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  records,
		"count": len(records),
	})
}
