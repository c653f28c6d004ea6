package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/db"
)

// EmailHandler delivers email notifications via AWS SES.
type EmailHandler struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

// EmailConfig holds SES settings.
type EmailConfig struct {
	Region    string
	FromEmail string
}

// NewEmailHandler creates an SES-backed email handler.
func NewEmailHandler(ctx context.Context, cfg EmailConfig, logger *zap.Logger) (*EmailHandler, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config for SES: %w", err)
	}
	return &EmailHandler{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

func (h *EmailHandler) Name() string { return "email" }

func (h *EmailHandler) Supports(ch db.Channel) bool {
	return ch == db.ChannelEmail || ch == db.ChannelAll
}

// Deliver sends the record's subject and message to the subscriber's
// email address.
func (h *EmailHandler) Deliver(ctx context.Context, rec *db.NotificationRecord, sub *db.Subscriber) (*Delivery, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(h.from),
		Destination: &types.Destination{
			ToAddresses: []string{sub.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(rec.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(rec.Message),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := h.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send failed: %w", err)
	}

	h.logger.Info("email sent via SES",
		zap.String("record_id", rec.ID.String()),
		zap.String("to", sub.Email),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return &Delivery{
		ProviderMessageID: aws.ToString(result.MessageId),
		DeliveredAt:       time.Now().UTC(),
	}, nil
}
