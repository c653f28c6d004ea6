package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/db"
)

// SMSHandler delivers SMS notifications via AWS SNS.
type SMSHandler struct {
	client *sns.Client
	logger *zap.Logger
}

// SMSConfig holds SNS settings for SMS delivery.
type SMSConfig struct {
	Region string
}

// NewSMSHandler creates an SNS-backed SMS handler.
func NewSMSHandler(ctx context.Context, cfg SMSConfig, logger *zap.Logger) (*SMSHandler, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SNS: %w", err)
	}
	return &SMSHandler{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (h *SMSHandler) Name() string { return "sms" }

func (h *SMSHandler) Supports(ch db.Channel) bool {
	return ch == db.ChannelSMS || ch == db.ChannelAll
}

// Deliver publishes the record's message to the subscriber's phone
// number. A subscriber without one is undeliverable, not a transport
// failure.
func (h *SMSHandler) Deliver(ctx context.Context, rec *db.NotificationRecord, sub *db.Subscriber) (*Delivery, error) {
	if sub.PhoneNumber == nil || *sub.PhoneNumber == "" {
		return nil, fmt.Errorf("%w: subscriber has no phone number", ErrMissingContact)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(*sub.PhoneNumber),
		Message:     aws.String(rec.Message),
	}

	result, err := h.client.Publish(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sns publish failed: %w", err)
	}

	h.logger.Info("SMS sent via SNS",
		zap.String("record_id", rec.ID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return &Delivery{
		ProviderMessageID: aws.ToString(result.MessageId),
		DeliveredAt:       time.Now().UTC(),
	}, nil
}
