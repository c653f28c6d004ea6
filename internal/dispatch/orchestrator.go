package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/db"
	"github.com/heraldhq/herald/internal/metrics"
)

// Orchestrator coordinates one dispatch run: resolve candidates, gate
// each one, create the record, fan out to handlers, persist results,
// and update subscriber bookkeeping. A failure while processing one
// candidate never aborts the remaining candidates.
type Orchestrator struct {
	subscribers   SubscriberStore
	events        EventStore
	instances     EventInstanceStore
	notifications NotificationStore

	resolver *Resolver
	gate     *Gate
	registry HandlerRegistry
	locker   SendLocker
	clock    Clock
	logger   *zap.Logger
}

// Deps carries the orchestrator's collaborators. Locker and Clock are
// optional; nil values fall back to a no-op lock and the system clock.
type Deps struct {
	Subscribers   SubscriberStore
	Events        EventStore
	Instances     EventInstanceStore
	Tags          TagStore
	Notifications NotificationStore
	Registry      HandlerRegistry
	Locker        SendLocker
	Clock         Clock
	Logger        *zap.Logger
}

// NewOrchestrator wires the dispatch core.
func NewOrchestrator(d Deps) *Orchestrator {
	if d.Locker == nil {
		d.Locker = noopLocker{}
	}
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	return &Orchestrator{
		subscribers:   d.Subscribers,
		events:        d.Events,
		instances:     d.Instances,
		notifications: d.Notifications,
		resolver:      NewResolver(d.Subscribers, d.Tags, d.Logger),
		gate:          NewGate(d.Notifications),
		registry:      d.Registry,
		locker:        d.Locker,
		clock:         d.Clock,
		logger:        d.Logger,
	}
}

// EventOptions tunes a targeted event or instance notification.
type EventOptions struct {
	// CustomMessage replaces the composed default body when non-empty.
	CustomMessage string
	// RequiredTags narrows candidates to subscribers with an active
	// preference for at least one of the named tags. Unknown names are
	// skipped; if none resolve, no tag constraint applies.
	RequiredTags []string
	// IncludeInactive keeps inactive subscribers in the candidate set.
	// The per-candidate gate still excludes them from delivery.
	IncludeInactive bool
}

// BroadcastOptions tunes a subscriber-set broadcast.
type BroadcastOptions struct {
	// IncludeInactive widens candidate selection to inactive
	// subscribers; they then receive the broadcast like any other
	// candidate.
	IncludeInactive bool
}

// NotifyAboutEvent notifies eligible subscribers about an event.
// Per-candidate duplicate suppression applies: a subscriber whose
// latest result for this event and channel is a success is skipped.
func (o *Orchestrator) NotifyAboutEvent(ctx context.Context, eventID uuid.UUID, ch db.Channel, opts EventOptions) error {
	ev, err := o.events.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}

	message := opts.CustomMessage
	if message == "" {
		message = composeEventMessage(ev)
	}

	return o.runTargeted(ctx, EventTarget(ev.ID), eventSubject(ev), message, ch, Filter{
		TagNames:   opts.RequiredTags,
		ActiveOnly: !opts.IncludeInactive,
	})
}

// NotifyAboutEventInstance notifies eligible subscribers about one
// scheduled occurrence. Suppression is keyed on the instance, so a
// subscriber already notified about the parent event still receives
// the instance reminder.
func (o *Orchestrator) NotifyAboutEventInstance(ctx context.Context, instanceID uuid.UUID, ch db.Channel, opts EventOptions) error {
	inst, err := o.instances.GetEventInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load event instance: %w", err)
	}
	if inst.Event == nil {
		return fmt.Errorf("event instance %s: parent event not loaded", inst.ID)
	}

	message := opts.CustomMessage
	if message == "" {
		message = composeInstanceMessage(inst)
	}

	return o.runTargeted(ctx, InstanceTarget(inst.ID), instanceSubject(inst.Event), message, ch, Filter{
		TagNames:   opts.RequiredTags,
		ActiveOnly: !opts.IncludeInactive,
	})
}

// NotifyByTags broadcasts a caller-supplied message to subscribers
// interested in any of the named tags. Broadcasts carry no target and
// skip the per-candidate gate entirely: every resolved candidate is
// sent to, regardless of channel preference or prior sends.
func (o *Orchestrator) NotifyByTags(ctx context.Context, tagNames []string, subject, message string, ch db.Channel, opts BroadcastOptions) error {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(message) == "" {
		return fmt.Errorf("broadcast subject and message are required: %w", db.ErrValidation)
	}
	return o.runBroadcast(ctx, subject, message, ch, Filter{
		TagNames:   tagNames,
		ActiveOnly: !opts.IncludeInactive,
	})
}

// NotifyByLocation broadcasts a caller-supplied message to subscribers
// whose stated location preference matches the filter. Like tag
// broadcasts, location broadcasts are never duplicate-suppressed.
func (o *Orchestrator) NotifyByLocation(ctx context.Context, loc LocationFilter, subject, message string, ch db.Channel, opts BroadcastOptions) error {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(message) == "" {
		return fmt.Errorf("broadcast subject and message are required: %w", db.ErrValidation)
	}
	return o.runBroadcast(ctx, subject, message, ch, Filter{
		ActiveOnly: !opts.IncludeInactive,
		Location:   &loc,
	})
}

func (o *Orchestrator) runTargeted(ctx context.Context, target Target, subject, message string, ch db.Channel, f Filter) error {
	subs, err := o.resolver.Select(ctx, f)
	if err != nil {
		return fmt.Errorf("resolve candidates: %w", err)
	}

	o.logger.Info("dispatching targeted notification",
		zap.Int("candidates", len(subs)),
		zap.String("channel", string(ch)),
	)

	for _, sub := range subs {
		ok, reason, err := o.gate.ShouldNotify(ctx, sub, target, ch)
		if err != nil {
			// Nothing has been persisted for this recipient yet, so
			// logging is the only record of the failure.
			o.logger.Error("gate check failed, skipping recipient",
				zap.Error(err),
				zap.String("subscriber_id", sub.ID.String()),
			)
			continue
		}
		if !ok {
			metrics.RecordRecipientSkipped(reason)
			o.logger.Debug("recipient skipped",
				zap.String("subscriber_id", sub.ID.String()),
				zap.String("reason", reason),
			)
			continue
		}
		if err := o.send(ctx, sub, target, subject, message, ch); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runBroadcast(ctx context.Context, subject, message string, ch db.Channel, f Filter) error {
	subs, err := o.resolver.Select(ctx, f)
	if err != nil {
		return fmt.Errorf("resolve candidates: %w", err)
	}

	o.logger.Info("dispatching broadcast",
		zap.Int("candidates", len(subs)),
		zap.String("channel", string(ch)),
	)

	// Every resolved candidate receives the broadcast: no dedup gate
	// and no preference check, the caller-authored message goes to the
	// whole selected set.
	for _, sub := range subs {
		if err := o.send(ctx, sub, Target{}, subject, message, ch); err != nil {
			return err
		}
	}
	return nil
}

// send processes one recipient end to end. It returns a non-nil error
// only when the failure itself could not be recorded in the ledger;
// ordinary handler failures are persisted as failed results and the
// run continues.
func (o *Orchestrator) send(ctx context.Context, sub *db.Subscriber, target Target, subject, message string, ch db.Channel) error {
	rec := &db.NotificationRecord{
		ID:              uuid.New(),
		SubscriberID:    sub.ID,
		EventID:         target.EventID,
		EventInstanceID: target.EventInstanceID,
		Channel:         ch,
		Subject:         subject,
		Message:         message,
		SentAt:          o.clock.Now().UTC(),
	}
	if err := o.notifications.CreateRecord(ctx, rec); err != nil {
		o.logger.Error("failed to create notification record, skipping recipient",
			zap.Error(err),
			zap.String("subscriber_id", sub.ID.String()),
		)
		metrics.RecordNotificationDispatched(string(ch), "error")
		return nil
	}

	results := o.registry.Dispatch(ctx, rec, sub)

	anySuccess := false
	for _, res := range results {
		if err := o.notifications.AppendResult(ctx, res); err != nil {
			return o.recordFailure(ctx, rec, fmt.Errorf("persist result: %w", err))
		}
		if res.Success {
			anySuccess = true
		}
	}

	if !anySuccess {
		metrics.RecordNotificationDispatched(string(ch), "failed")
		return nil
	}

	if err := o.bookkeep(ctx, sub, ch); err != nil {
		return o.recordFailure(ctx, rec, fmt.Errorf("update subscriber send bookkeeping: %w", err))
	}
	metrics.RecordNotificationDispatched(string(ch), "delivered")
	return nil
}

// recordFailure appends a failed result describing cause so the ledger
// reflects the problem. Only a failure of that append propagates.
func (o *Orchestrator) recordFailure(ctx context.Context, rec *db.NotificationRecord, cause error) error {
	msg := cause.Error()
	res := &db.NotificationResult{
		NotificationID: rec.ID,
		Success:        false,
		ErrorMessage:   &msg,
		DeliveryStatus: db.DeliveryFailed,
	}
	if err := o.notifications.AppendResult(ctx, res); err != nil {
		return fmt.Errorf("record dispatch failure for %s: %v: %w", rec.ID, cause, err)
	}
	o.logger.Warn("recipient processing failed",
		zap.Error(cause),
		zap.String("record_id", rec.ID.String()),
		zap.String("subscriber_id", rec.SubscriberID.String()),
	)
	metrics.RecordNotificationDispatched(string(rec.Channel), "error")
	return nil
}

// bookkeep stamps the subscriber's last-send timestamps once per
// record with at least one successful result. The per-subscriber lock
// keeps concurrent runs from interleaving the read-modify cycle; when
// the lock backend is unavailable the update proceeds unserialized.
func (o *Orchestrator) bookkeep(ctx context.Context, sub *db.Subscriber, ch db.Channel) error {
	release, err := o.locker.Acquire(ctx, sub.ID)
	if err != nil {
		o.logger.Warn("send lock unavailable, updating without it",
			zap.Error(err),
			zap.String("subscriber_id", sub.ID.String()),
		)
	} else {
		defer release()
	}
	return o.subscribers.RecordSend(ctx, sub.ID, ch, o.clock.Now().UTC())
}

// SetPreferences replaces the subscriber's channel opt-in flags.
func (o *Orchestrator) SetPreferences(ctx context.Context, subscriberID uuid.UUID, email, sms, push bool) error {
	return o.subscribers.UpdateChannelPreferences(ctx, subscriberID, email, sms, push)
}

// HasSucceeded reports whether the subscriber's latest result for the
// target and channel is a success.
func (o *Orchestrator) HasSucceeded(ctx context.Context, subscriberID uuid.UUID, target Target, ch db.Channel) (bool, error) {
	return o.gate.HasSucceeded(ctx, subscriberID, target, ch)
}

// SubscriberHistory lists a subscriber's notification records, newest
// first, with all results attached.
func (o *Orchestrator) SubscriberHistory(ctx context.Context, subscriberID uuid.UUID, f db.HistoryFilter) ([]*db.NotificationRecord, error) {
	return o.notifications.SubscriberHistory(ctx, subscriberID, f)
}

// EventHistory lists an event's notification records, newest first.
func (o *Orchestrator) EventHistory(ctx context.Context, eventID uuid.UUID, f db.HistoryFilter) ([]*db.NotificationRecord, error) {
	return o.notifications.EventHistory(ctx, eventID, f)
}
