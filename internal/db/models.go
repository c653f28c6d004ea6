package db

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Channel is the delivery medium for a notification. ChannelAll is a
// broadcast value: every registered handler that claims a concrete
// channel is invoked.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelAll   Channel = "all"
)

// ParseChannel validates a channel string from the wire.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelAll:
		return Channel(s), nil
	}
	return "", fmt.Errorf("%w: channel must be email, sms, push, or all", ErrValidation)
}

// Delivery status values recorded on notification results.
const (
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	// DeliveryUndeliverable marks a terminal failure caused by missing
	// contact information (no phone number, no push token), as opposed
	// to a transport error.
	DeliveryUndeliverable = "undeliverable"
)

// Subscriber is a newsletter recipient with channel and tag preferences.
type Subscriber struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	FirstName   *string   `json:"first_name,omitempty"`
	LastName    *string   `json:"last_name,omitempty"`
	PhoneNumber *string   `json:"phone_number,omitempty"`
	IsActive    bool      `json:"is_active"`

	PrefersEmail bool    `json:"prefers_email"`
	PrefersSMS   bool    `json:"prefers_sms"`
	PrefersPush  bool    `json:"prefers_push"`
	PushToken    *string `json:"push_token,omitempty"`

	PreferredCity        *string  `json:"preferred_city,omitempty"`
	PreferredState       *string  `json:"preferred_state,omitempty"`
	PreferredCountry     *string  `json:"preferred_country,omitempty"`
	PreferredRadiusMiles *float64 `json:"preferred_radius_miles,omitempty"`
	Latitude             *float64 `json:"latitude,omitempty"`
	Longitude            *float64 `json:"longitude,omitempty"`

	LastNotifiedAt  *time.Time `json:"last_notified_at,omitempty"`
	LastEmailSentAt *time.Time `json:"last_email_sent_at,omitempty"`
	LastSMSSentAt   *time.Time `json:"last_sms_sent_at,omitempty"`

	TagPreferences []SubscriberTag `json:"tag_preferences,omitempty"`

	// Version is an optimistic concurrency token bumped on every
	// bookkeeping update. Concurrent dispatch runs that race on the
	// same subscriber retry against the current version.
	Version   int        `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}

// PrefersChannel reports whether the subscriber has opted in to the
// given channel. ChannelAll is satisfied by any enabled preference.
func (s *Subscriber) PrefersChannel(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return s.PrefersEmail
	case ChannelSMS:
		return s.PrefersSMS
	case ChannelPush:
		return s.PrefersPush
	case ChannelAll:
		return s.PrefersEmail || s.PrefersSMS || s.PrefersPush
	}
	return false
}

// SubscriberTag is one tag-preference row on a subscriber.
type SubscriberTag struct {
	TagID           uuid.UUID `json:"tag_id"`
	TagName         string    `json:"tag_name"`
	IsActive        bool      `json:"is_active"`
	PreferenceLevel int       `json:"preference_level"`
	AddedAt         time.Time `json:"added_at"`
}

// Tag labels events and subscriber interests. Names are unique
// case-insensitively.
type Tag struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description *string    `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"-"`
}

// Event is a newsletter event; instances carry the concrete schedule.
type Event struct {
	ID             uuid.UUID  `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	ExternalURL    *string    `json:"external_url,omitempty"`
	OrganizerName  *string    `json:"organizer_name,omitempty"`
	OrganizerEmail *string    `json:"organizer_email,omitempty"`
	OrganizerPhone *string    `json:"organizer_phone,omitempty"`
	Category       *string    `json:"category,omitempty"`
	IsPublished    bool       `json:"is_published"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`

	Tags      []Tag           `json:"tags,omitempty"`
	Instances []EventInstance `json:"instances,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}

// EventInstance is one scheduled occurrence of an event.
type EventInstance struct {
	ID      uuid.UUID `json:"id"`
	EventID uuid.UUID `json:"event_id"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Location  string    `json:"location"`
	Room      *string   `json:"room,omitempty"`
	Address   *string   `json:"address,omitempty"`
	City      *string   `json:"city,omitempty"`
	State     *string   `json:"state,omitempty"`
	Country   *string   `json:"country,omitempty"`

	IsVirtual         bool    `json:"is_virtual"`
	VirtualMeetingURL *string `json:"virtual_meeting_url,omitempty"`

	IsCancelled        bool       `json:"is_cancelled"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`

	// Event is the parent, loaded on reads that need it (dispatch,
	// message composition). Nil on bare instance rows.
	Event *Event `json:"event,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}

// NotificationRecord is one logical notification sent to one
// subscriber, optionally scoped to an event or an event instance.
// Immutable once created except for its append-only Results.
type NotificationRecord struct {
	ID              uuid.UUID  `json:"id"`
	SubscriberID    uuid.UUID  `json:"subscriber_id"`
	EventID         *uuid.UUID `json:"event_id,omitempty"`
	EventInstanceID *uuid.UUID `json:"event_instance_id,omitempty"`

	Channel Channel   `json:"channel"`
	Subject string    `json:"subject"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`

	Results []NotificationResult `json:"results,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NotificationResult is one outcome of one handler invocation against
// a record. Multiple rows may exist per record, one per handler.
type NotificationResult struct {
	ID             uuid.UUID `json:"id"`
	NotificationID uuid.UUID `json:"notification_id"`

	// Seq is a monotonic creation order assigned by the store. Derived
	// record status is keyed on it, not on iteration order.
	Seq int64 `json:"seq"`

	Success        bool       `json:"success"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	DeliveryStatus string     `json:"delivery_status"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`

	ProviderResponse  *string `json:"provider_response,omitempty"`
	ProviderMessageID *string `json:"provider_message_id,omitempty"`

	// Retry bookkeeping is persisted but never populated by the
	// dispatch core; retry scheduling is external.
	RetryCount  *int       `json:"retry_count,omitempty"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	RetryReason *string    `json:"retry_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// LatestResult returns the most recently created result, ordered by
// (created_at, seq), or nil when no attempt has been made yet.
func (n *NotificationRecord) LatestResult() *NotificationResult {
	if len(n.Results) == 0 {
		return nil
	}
	results := make([]NotificationResult, len(n.Results))
	copy(results, n.Results)
	sort.SliceStable(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].Seq > results[j].Seq
	})
	return &results[0]
}

// WasSuccessful reports the derived current status: the success flag
// of the latest result, false when there are no results.
func (n *NotificationRecord) WasSuccessful() bool {
	if latest := n.LatestResult(); latest != nil {
		return latest.Success
	}
	return false
}

// CurrentDeliveryStatus returns the delivery status of the latest result.
func (n *NotificationRecord) CurrentDeliveryStatus() string {
	if latest := n.LatestResult(); latest != nil {
		return latest.DeliveryStatus
	}
	return ""
}

// CurrentError returns the error message of the latest result.
func (n *NotificationRecord) CurrentError() *string {
	if latest := n.LatestResult(); latest != nil {
		return latest.ErrorMessage
	}
	return nil
}

// DeliveredAt returns the delivery timestamp of the latest result.
func (n *NotificationRecord) DeliveredAt() *time.Time {
	if latest := n.LatestResult(); latest != nil {
		return latest.DeliveredAt
	}
	return nil
}

// ReadAt returns the read timestamp of the latest result.
func (n *NotificationRecord) ReadAt() *time.Time {
	if latest := n.LatestResult(); latest != nil {
		return latest.ReadAt
	}
	return nil
}
