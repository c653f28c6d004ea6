package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/db"
	"github.com/heraldhq/herald/internal/metrics"
)

// Registry holds the ordered list of channel handlers and fans each
// record out to every handler that claims its channel. Handler
// failures never short-circuit sibling handlers; every invocation
// yields its own result row.
type Registry struct {
	handlers []ChannelHandler
	logger   *zap.Logger
}

// NewRegistry creates a registry over the given handlers. Order is
// preserved: results are produced in registration order.
func NewRegistry(logger *zap.Logger, handlers ...ChannelHandler) *Registry {
	return &Registry{
		handlers: handlers,
		logger:   logger,
	}
}

// Dispatch invokes every handler supporting the record's channel and
// returns one result per invocation. A record whose channel no handler
// claims yields a single failed result naming the channel.
func (r *Registry) Dispatch(ctx context.Context, rec *db.NotificationRecord, sub *db.Subscriber) []*db.NotificationResult {
	var matched []ChannelHandler
	for _, h := range r.handlers {
		if h.Supports(rec.Channel) {
			matched = append(matched, h)
		}
	}

	if len(matched) == 0 {
		r.logger.Warn("no handlers registered for channel",
			zap.String("channel", string(rec.Channel)),
			zap.String("record_id", rec.ID.String()),
		)
		msg := fmt.Sprintf("no handlers registered for channel: %s", rec.Channel)
		return []*db.NotificationResult{{
			NotificationID: rec.ID,
			Success:        false,
			ErrorMessage:   &msg,
			DeliveryStatus: db.DeliveryFailed,
		}}
	}

	results := make([]*db.NotificationResult, 0, len(matched))
	for _, h := range matched {
		start := time.Now()
		delivery, err := h.Deliver(ctx, rec, sub)
		metrics.RecordHandlerSend(h.Name(), err == nil, time.Since(start))
		results = append(results, r.toResult(rec, h, delivery, err))
	}
	return results
}

func (r *Registry) toResult(rec *db.NotificationRecord, h ChannelHandler, delivery *Delivery, err error) *db.NotificationResult {
	res := &db.NotificationResult{
		NotificationID: rec.ID,
	}

	switch {
	case err == nil:
		res.Success = true
		res.DeliveryStatus = db.DeliveryDelivered
		if delivery != nil {
			if !delivery.DeliveredAt.IsZero() {
				at := delivery.DeliveredAt.UTC()
				res.DeliveredAt = &at
			}
			if delivery.ProviderMessageID != "" {
				res.ProviderMessageID = &delivery.ProviderMessageID
			}
			if delivery.ProviderResponse != "" {
				res.ProviderResponse = &delivery.ProviderResponse
			}
		}
		r.logger.Info("notification delivered",
			zap.String("record_id", rec.ID.String()),
			zap.String("handler", h.Name()),
		)

	case errors.Is(err, ErrMissingContact):
		msg := err.Error()
		res.ErrorMessage = &msg
		res.DeliveryStatus = db.DeliveryUndeliverable
		r.logger.Warn("subscriber undeliverable on channel",
			zap.String("record_id", rec.ID.String()),
			zap.String("handler", h.Name()),
			zap.String("subscriber_id", rec.SubscriberID.String()),
		)

	default:
		msg := err.Error()
		res.ErrorMessage = &msg
		res.DeliveryStatus = db.DeliveryFailed
		r.logger.Warn("handler delivery failed",
			zap.Error(err),
			zap.String("record_id", rec.ID.String()),
			zap.String("handler", h.Name()),
		)
	}

	return res
}
