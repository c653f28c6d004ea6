// Package dispatch implements the notification targeting and dispatch
// core: eligibility resolution, duplicate suppression, multi-channel
// fan-out, and the append-only result ledger semantics.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/db"
)

// The dispatch core consumes its collaborators through narrow
// interfaces; internal/db provides the Postgres implementations and
// tests substitute fakes.

// SubscriberStore is the subscriber persistence surface the core needs.
type SubscriberStore interface {
	GetSubscriber(ctx context.Context, id uuid.UUID) (*db.Subscriber, error)
	QuerySubscribers(ctx context.Context, q db.SubscriberQuery) ([]*db.Subscriber, error)
	UpdateChannelPreferences(ctx context.Context, id uuid.UUID, email, sms, push bool) error
	RecordSend(ctx context.Context, id uuid.UUID, ch db.Channel, at time.Time) error
}

// EventStore resolves notification targets of the event kind.
type EventStore interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*db.Event, error)
}

// EventInstanceStore resolves targets of the event-instance kind. The
// returned instance carries its parent event with tags loaded.
type EventInstanceStore interface {
	GetEventInstance(ctx context.Context, id uuid.UUID) (*db.EventInstance, error)
}

// TagStore resolves tag names for the eligibility filter.
type TagStore interface {
	GetTagByName(ctx context.Context, name string) (*db.Tag, error)
}

// NotificationStore is the ledger surface: immutable records,
// append-only results, derived-status queries, history reads.
type NotificationStore interface {
	CreateRecord(ctx context.Context, rec *db.NotificationRecord) error
	AppendResult(ctx context.Context, res *db.NotificationResult) error
	HasSucceededForEvent(ctx context.Context, subscriberID, eventID uuid.UUID, ch db.Channel) (bool, error)
	HasSucceededForInstance(ctx context.Context, subscriberID, instanceID uuid.UUID, ch db.Channel) (bool, error)
	SubscriberHistory(ctx context.Context, subscriberID uuid.UUID, f db.HistoryFilter) ([]*db.NotificationRecord, error)
	EventHistory(ctx context.Context, eventID uuid.UUID, f db.HistoryFilter) ([]*db.NotificationRecord, error)
}

// HandlerRegistry fans one record out to every handler claiming its
// channel; one result per invocation, failures never short-circuit.
type HandlerRegistry interface {
	Dispatch(ctx context.Context, rec *db.NotificationRecord, sub *db.Subscriber) []*db.NotificationResult
}

// Clock supplies the current UTC time; injected for testability.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SendLocker serializes per-subscriber bookkeeping updates across
// concurrent dispatch runs. Implementations must return a release
// function even when acquisition is best-effort.
type SendLocker interface {
	Acquire(ctx context.Context, subscriberID uuid.UUID) (release func(), err error)
}

type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, subscriberID uuid.UUID) (func(), error) {
	return func() {}, nil
}

// Target scopes a notification to an event or an event instance.
// Broadcast sends carry an empty target.
type Target struct {
	EventID         *uuid.UUID
	EventInstanceID *uuid.UUID
}

// EventTarget scopes to an event.
func EventTarget(id uuid.UUID) Target {
	return Target{EventID: &id}
}

// InstanceTarget scopes to an event instance.
func InstanceTarget(id uuid.UUID) Target {
	return Target{EventInstanceID: &id}
}
