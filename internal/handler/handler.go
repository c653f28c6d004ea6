// Package handler implements the delivery channel handlers and the
// registry that fans a notification out to every handler claiming its
// channel.
package handler

import (
	"context"
	"errors"
	"time"

	"github.com/heraldhq/herald/internal/db"
)

// ErrMissingContact marks a terminal, non-retryable failure: the
// subscriber has no contact information for the channel (no phone
// number, no push token). Distinct from transport errors.
var ErrMissingContact = errors.New("missing contact information")

// Delivery is the provider-side outcome of a successful send.
type Delivery struct {
	ProviderMessageID string
	ProviderResponse  string
	DeliveredAt       time.Time
}

// ChannelHandler is the capability interface for one delivery channel.
// A handler for channel X claims records with channel X or ChannelAll.
type ChannelHandler interface {
	Name() string
	Supports(ch db.Channel) bool
	Deliver(ctx context.Context, rec *db.NotificationRecord, sub *db.Subscriber) (*Delivery, error)
}
