package handler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/db"
)

// LogHandler claims a single channel and logs instead of sending.
// Used in development mode when AWS credentials are absent.
type LogHandler struct {
	channel db.Channel
	logger  *zap.Logger
}

// NewLogHandler creates a log-only handler for one concrete channel.
func NewLogHandler(channel db.Channel, logger *zap.Logger) *LogHandler {
	return &LogHandler{
		channel: channel,
		logger:  logger,
	}
}

func (h *LogHandler) Name() string { return "log-" + string(h.channel) }

func (h *LogHandler) Supports(ch db.Channel) bool {
	return ch == h.channel || ch == db.ChannelAll
}

// Deliver logs the notification and reports success.
func (h *LogHandler) Deliver(ctx context.Context, rec *db.NotificationRecord, sub *db.Subscriber) (*Delivery, error) {
	h.logger.Info("logging notification (development mode)",
		zap.String("record_id", rec.ID.String()),
		zap.String("channel", string(h.channel)),
		zap.String("subscriber_id", sub.ID.String()),
		zap.String("subject", rec.Subject),
	)
	return &Delivery{DeliveredAt: time.Now().UTC()}, nil
}
