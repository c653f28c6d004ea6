package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/db"
)

// SubscriberRequest represents the incoming subscriber creation body
type SubscriberRequest struct {
	Email            string   `json:"email"`
	FirstName        *string  `json:"first_name,omitempty"`
	LastName         *string  `json:"last_name,omitempty"`
	PhoneNumber      *string  `json:"phone_number,omitempty"`
	PrefersEmail     *bool    `json:"prefers_email,omitempty"`
	PrefersSMS       *bool    `json:"prefers_sms,omitempty"`
	PrefersPush      *bool    `json:"prefers_push,omitempty"`
	PushToken        *string  `json:"push_token,omitempty"`
	PreferredCity    *string  `json:"preferred_city,omitempty"`
	PreferredState   *string  `json:"preferred_state,omitempty"`
	PreferredCountry *string  `json:"preferred_country,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

// CreateSubscriber handles POST /v1/subscribers
func (h *Handler) CreateSubscriber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubscriberRequest
	if !h.decode(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Email) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "email is required")
		return
	}

	params := db.CreateSubscriberParams{
		Email:             req.Email,
		FirstName:         req.FirstName,
		LastName:          req.LastName,
		PhoneNumber:       req.PhoneNumber,
		IsActive:          true,
		PrefersEmail:      true,
		PushToken:         req.PushToken,
		PreferredCity:     req.PreferredCity,
		PreferredState:    req.PreferredState,
		PreferredCountry:  req.PreferredCountry,
		PreferredTagNames: req.Tags,
	}
	if req.PrefersEmail != nil {
		params.PrefersEmail = *req.PrefersEmail
	}
	if req.PrefersSMS != nil {
		params.PrefersSMS = *req.PrefersSMS
	}
	if req.PrefersPush != nil {
		params.PrefersPush = *req.PrefersPush
	}

	sub, err := h.subscribers.CreateSubscriber(ctx, params)
	if err != nil {
		h.writeStoreError(w, err, "Failed to create subscriber")
		return
	}

	h.logger.Info("subscriber created",
		zap.String("id", sub.ID.String()),
		zap.String("email", sub.Email),
	)

	h.writeJSON(w, http.StatusCreated, sub)
}

// ListSubscribers handles GET /v1/subscribers
func (h *Handler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	var q db.SubscriberQuery
	q.ActiveOnly = r.URL.Query().Get("active_only") == "true"
	if v := r.URL.Query().Get("city"); v != "" {
		q.City = &v
	}
	if v := r.URL.Query().Get("state"); v != "" {
		q.State = &v
	}
	if v := r.URL.Query().Get("country"); v != "" {
		q.Country = &v
	}

	subs, err := h.subscribers.QuerySubscribers(r.Context(), q)
	if err != nil {
		h.writeStoreError(w, err, "Failed to list subscribers")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  subs,
		"count": len(subs),
	})
}

// GetSubscriber handles GET /v1/subscribers/{id}
func (h *Handler) GetSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	sub, err := h.subscribers.GetSubscriber(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Subscriber not found")
		return
	}

	h.writeJSON(w, http.StatusOK, sub)
}

// DeleteSubscriber handles DELETE /v1/subscribers/{id}
func (h *Handler) DeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.subscribers.DeleteSubscriber(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "Failed to delete subscriber")
		return
	}

	h.logger.Info("subscriber deleted", zap.String("id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

// PreferencesRequest carries channel opt-in flags
type PreferencesRequest struct {
	PrefersEmail bool `json:"prefers_email"`
	PrefersSMS   bool `json:"prefers_sms"`
	PrefersPush  bool `json:"prefers_push"`
}

// UpdatePreferences handles PUT /v1/subscribers/{id}/preferences
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req PreferencesRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.notifier.SetPreferences(r.Context(), id, req.PrefersEmail, req.PrefersSMS, req.PrefersPush); err != nil {
		h.writeStoreError(w, err, "Failed to update preferences")
		return
	}

	h.logger.Info("subscriber preferences updated",
		zap.String("id", id.String()),
		zap.Bool("email", req.PrefersEmail),
		zap.Bool("sms", req.PrefersSMS),
		zap.Bool("push", req.PrefersPush),
	)

	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":            id.String(),
		"prefers_email": req.PrefersEmail,
		"prefers_sms":   req.PrefersSMS,
		"prefers_push":  req.PrefersPush,
	})
}

// AddSubscriberTag handles POST /v1/subscribers/{id}/tags
func (h *Handler) AddSubscriberTag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing tag name", "name is required")
		return
	}

	if err := h.subscribers.AddPreferredTag(r.Context(), id, req.Name); err != nil {
		h.writeStoreError(w, err, "Failed to add tag preference")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "tag": req.Name})
}

// RemoveSubscriberTag handles DELETE /v1/subscribers/{id}/tags/{name}
func (h *Handler) RemoveSubscriberTag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	name := chi.URLParam(r, "name")
	if err := h.subscribers.RemovePreferredTag(r.Context(), id, name); err != nil {
		h.writeStoreError(w, err, "Failed to remove tag preference")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateTag handles POST /v1/tags
func (h *Handler) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string  `json:"name"`
		Description *string `json:"description,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing tag name", "name is required")
		return
	}

	tag, err := h.tags.CreateTag(r.Context(), req.Name, req.Description)
	if err != nil {
		h.writeStoreError(w, err, "Failed to create tag")
		return
	}

	h.writeJSON(w, http.StatusCreated, tag)
}

// ListTags handles GET /v1/tags
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.tags.ListTags(r.Context())
	if err != nil {
		h.writeStoreError(w, err, "Failed to list tags")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  tags,
		"count": len(tags),
	})
}

// DeleteTag handles DELETE /v1/tags/{id}
func (h *Handler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.tags.DeleteTag(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "Failed to delete tag")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
