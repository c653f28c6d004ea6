package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/db"
	"github.com/heraldhq/herald/internal/dispatch"
)

// SubscriberRepository defines the subscriber operations the API needs
type SubscriberRepository interface {
	CreateSubscriber(ctx context.Context, params db.CreateSubscriberParams) (*db.Subscriber, error)
	GetSubscriber(ctx context.Context, id uuid.UUID) (*db.Subscriber, error)
	QuerySubscribers(ctx context.Context, q db.SubscriberQuery) ([]*db.Subscriber, error)
	GetSubscriberByEmail(ctx context.Context, email string) (*db.Subscriber, error)
	AddPreferredTag(ctx context.Context, id uuid.UUID, tagName string) error
	RemovePreferredTag(ctx context.Context, id uuid.UUID, tagName string) error
	DeleteSubscriber(ctx context.Context, id uuid.UUID) error
}

// TagRepository defines the tag operations the API needs
type TagRepository interface {
	CreateTag(ctx context.Context, name string, description *string) (*db.Tag, error)
	GetTag(ctx context.Context, id uuid.UUID) (*db.Tag, error)
	ListTags(ctx context.Context) ([]*db.Tag, error)
	DeleteTag(ctx context.Context, id uuid.UUID) error
}

// EventRepository defines the event and instance operations the API needs
type EventRepository interface {
	CreateEvent(ctx context.Context, params db.CreateEventParams) (*db.Event, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*db.Event, error)
	ListEvents(ctx context.Context) ([]*db.Event, error)
	UpdateEvent(ctx context.Context, id uuid.UUID, params db.CreateEventParams) (*db.Event, error)
	SetPublished(ctx context.Context, id uuid.UUID, published bool) error
	DeleteEvent(ctx context.Context, id uuid.UUID) error
	CreateEventInstance(ctx context.Context, eventID uuid.UUID, params db.InstanceParams) (*db.EventInstance, error)
	GetEventInstance(ctx context.Context, id uuid.UUID) (*db.EventInstance, error)
	UpdateEventInstance(ctx context.Context, id uuid.UUID, params db.InstanceParams) (*db.EventInstance, error)
	CancelEventInstance(ctx context.Context, id uuid.UUID, reason string) error
}

// Notifier is the dispatch surface exposed over HTTP
type Notifier interface {
	NotifyAboutEvent(ctx context.Context, eventID uuid.UUID, ch db.Channel, opts dispatch.EventOptions) error
	NotifyAboutEventInstance(ctx context.Context, instanceID uuid.UUID, ch db.Channel, opts dispatch.EventOptions) error
	NotifyByTags(ctx context.Context, tagNames []string, subject, message string, ch db.Channel, opts dispatch.BroadcastOptions) error
	NotifyByLocation(ctx context.Context, loc dispatch.LocationFilter, subject, message string, ch db.Channel, opts dispatch.BroadcastOptions) error
	SetPreferences(ctx context.Context, subscriberID uuid.UUID, email, sms, push bool) error
	SubscriberHistory(ctx context.Context, subscriberID uuid.UUID, f db.HistoryFilter) ([]*db.NotificationRecord, error)
	EventHistory(ctx context.Context, eventID uuid.UUID, f db.HistoryFilter) ([]*db.NotificationRecord, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	subscribers SubscriberRepository
	tags        TagRepository
	events      EventRepository
	notifier    Notifier
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, subscribers SubscriberRepository, tags TagRepository, events EventRepository, notifier Notifier) *Handler {
	return &Handler{
		logger:      logger,
		subscribers: subscribers,
		tags:        tags,
		events:      events,
		notifier:    notifier,
	}
}

// Routes mounts all v1 endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Route("/subscribers", func(r chi.Router) {
			r.Post("/", h.CreateSubscriber)
			r.Get("/", h.ListSubscribers)
			r.Get("/{id}", h.GetSubscriber)
			r.Delete("/{id}", h.DeleteSubscriber)
			r.Put("/{id}/preferences", h.UpdatePreferences)
			r.Post("/{id}/tags", h.AddSubscriberTag)
			r.Delete("/{id}/tags/{name}", h.RemoveSubscriberTag)
			r.Get("/{id}/notifications", h.SubscriberHistory)
		})

		r.Route("/tags", func(r chi.Router) {
			r.Post("/", h.CreateTag)
			r.Get("/", h.ListTags)
			r.Delete("/{id}", h.DeleteTag)
		})

		r.Route("/events", func(r chi.Router) {
			r.Post("/", h.CreateEvent)
			r.Get("/", h.ListEvents)
			r.Get("/{id}", h.GetEvent)
			r.Put("/{id}", h.UpdateEvent)
			r.Delete("/{id}", h.DeleteEvent)
			r.Post("/{id}/publish", h.PublishEvent)
			r.Post("/{id}/instances", h.CreateEventInstance)
			r.Get("/{id}/notifications", h.EventHistory)
		})

		r.Route("/instances", func(r chi.Router) {
			r.Get("/{id}", h.GetEventInstance)
			r.Put("/{id}", h.UpdateEventInstance)
			r.Post("/{id}/cancel", h.CancelEventInstance)
		})

		r.Route("/notify", func(r chi.Router) {
			r.Post("/events/{id}", h.NotifyEvent)
			r.Post("/instances/{id}", h.NotifyEventInstance)
			r.Post("/tags", h.NotifyByTags)
			r.Post("/location", h.NotifyByLocation)
		})
	})
}

// parseID extracts and parses the {id} URL parameter. A false return
// means the error response has already been written.
func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}
	return true
}

// writeStoreError maps storage error kinds onto HTTP statuses.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, title string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", title, err.Error())
	case errors.Is(err, db.ErrConflict):
		h.writeError(w, http.StatusConflict, "conflict", title, err.Error())
	case errors.Is(err, db.ErrValidation):
		h.writeError(w, http.StatusBadRequest, "invalid_request", title, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err), zap.String("title", title))
		h.writeError(w, http.StatusInternalServerError, "internal_error", title, "")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
