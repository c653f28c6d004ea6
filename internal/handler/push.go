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

// PushHandler delivers push notifications via AWS SNS platform
// endpoints. The subscriber's push token is the endpoint ARN.
type PushHandler struct {
	client *sns.Client
	logger *zap.Logger
}

// PushConfig holds SNS settings for push delivery.
type PushConfig struct {
	Region string
}

// NewPushHandler creates an SNS-backed push handler.
func NewPushHandler(ctx context.Context, cfg PushConfig, logger *zap.Logger) (*PushHandler, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SNS push: %w", err)
	}
	return &PushHandler{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

func (h *PushHandler) Name() string { return "push" }

func (h *PushHandler) Supports(ch db.Channel) bool {
	return ch == db.ChannelPush || ch == db.ChannelAll
}

// Deliver publishes the record to the subscriber's push endpoint. A
// subscriber without a push token is undeliverable.
func (h *PushHandler) Deliver(ctx context.Context, rec *db.NotificationRecord, sub *db.Subscriber) (*Delivery, error) {
	if sub.PushToken == nil || *sub.PushToken == "" {
		return nil, fmt.Errorf("%w: subscriber has no push token", ErrMissingContact)
	}

	input := &sns.PublishInput{
		TargetArn: aws.String(*sub.PushToken),
		Subject:   aws.String(rec.Subject),
		Message:   aws.String(rec.Message),
	}

	result, err := h.client.Publish(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sns push publish failed: %w", err)
	}

	h.logger.Info("push notification sent via SNS",
		zap.String("record_id", rec.ID.String()),
		zap.String("subscriber_id", sub.ID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return &Delivery{
		ProviderMessageID: aws.ToString(result.MessageId),
		DeliveredAt:       time.Now().UTC(),
	}, nil
}
