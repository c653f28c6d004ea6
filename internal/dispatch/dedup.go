package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/db"
)

// Skip reasons reported when a candidate is filtered out before
// dispatch. Exported for use in tests and metrics labels.
const (
	SkipInactive        = "inactive"
	SkipAlreadyNotified = "already_notified"
	SkipChannelOptOut   = "channel_opt_out"
)

// Gate decides whether a candidate should receive a targeted
// notification. A subscriber is notified only when they are active,
// have not already been successfully notified about the target on the
// channel, and their channel preferences admit the channel.
type Gate struct {
	notifications NotificationStore
}

// NewGate creates a deduplication gate over the ledger.
func NewGate(notifications NotificationStore) *Gate {
	return &Gate{notifications: notifications}
}

// HasSucceeded reports whether the subscriber's most recent result for
// any record matching (target, channel) is a success. Older failures
// are ignored; only the latest outcome counts.
func (g *Gate) HasSucceeded(ctx context.Context, subscriberID uuid.UUID, target Target, ch db.Channel) (bool, error) {
	switch {
	case target.EventInstanceID != nil:
		return g.notifications.HasSucceededForInstance(ctx, subscriberID, *target.EventInstanceID, ch)
	case target.EventID != nil:
		return g.notifications.HasSucceededForEvent(ctx, subscriberID, *target.EventID, ch)
	default:
		return false, nil
	}
}

// ShouldNotify applies the full gate. The returned reason is set only
// when the decision is to skip.
func (g *Gate) ShouldNotify(ctx context.Context, sub *db.Subscriber, target Target, ch db.Channel) (bool, string, error) {
	if !sub.IsActive {
		return false, SkipInactive, nil
	}
	done, err := g.HasSucceeded(ctx, sub.ID, target, ch)
	if err != nil {
		return false, "", fmt.Errorf("check prior delivery: %w", err)
	}
	if done {
		return false, SkipAlreadyNotified, nil
	}
	if !sub.PrefersChannel(ch) {
		return false, SkipChannelOptOut, nil
	}
	return true, "", nil
}
