package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// NotificationRepository handles the notification ledger: records are
// immutable once inserted, results are append-only, and the current
// status of a record is always derived from its latest result.
type NotificationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// CreateRecord inserts a new notification record.
func (r *NotificationRepository) CreateRecord(ctx context.Context, rec *NotificationRecord) error {
	query := `
		INSERT INTO notification_records (
			id, subscriber_id, event_id, event_instance_id,
			channel, subject, message, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		rec.ID, rec.SubscriberID, rec.EventID, rec.EventInstanceID,
		rec.Channel, rec.Subject, rec.Message, rec.SentAt.UTC(),
	).Scan(&rec.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create notification record",
			zap.Error(err),
			zap.String("record_id", rec.ID.String()),
		)
		return fmt.Errorf("insert notification record: %w", err)
	}

	r.logger.Info("notification record created",
		zap.String("record_id", rec.ID.String()),
		zap.String("subscriber_id", rec.SubscriberID.String()),
		zap.String("channel", string(rec.Channel)),
	)
	return nil
}

// AppendResult appends one attempt outcome to a record's ledger. The
// store assigns the monotonic sequence number and creation timestamp.
func (r *NotificationRepository) AppendResult(ctx context.Context, res *NotificationResult) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}

	query := `
		INSERT INTO notification_results (
			id, notification_id, success, error_message, delivery_status,
			delivered_at, read_at, provider_response, provider_message_id,
			retry_count, last_retry_at, retry_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		res.ID, res.NotificationID, res.Success, res.ErrorMessage, res.DeliveryStatus,
		res.DeliveredAt, res.ReadAt, res.ProviderResponse, res.ProviderMessageID,
		res.RetryCount, res.LastRetryAt, res.RetryReason,
	).Scan(&res.Seq, &res.CreatedAt)
	if err != nil {
		r.logger.Error("failed to append notification result",
			zap.Error(err),
			zap.String("record_id", res.NotificationID.String()),
		)
		return fmt.Errorf("insert notification result: %w", err)
	}
	return nil
}

// latestResultJoin selects the most recent result per record by
// (created_at, seq); derived status is keyed on it.
const latestResultJoin = `
	JOIN LATERAL (
		SELECT res.success
		FROM notification_results res
		WHERE res.notification_id = n.id
		ORDER BY res.created_at DESC, res.seq DESC
		LIMIT 1
	) latest ON TRUE
`

// HasSucceededForEvent reports whether any record for
// (subscriber, event, channel) has a derived success status of true.
func (r *NotificationRepository) HasSucceededForEvent(ctx context.Context, subscriberID, eventID uuid.UUID, ch Channel) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notification_records n
			` + latestResultJoin + `
			WHERE n.subscriber_id = $1 AND n.event_id = $2 AND n.channel = $3 AND latest.success
		)
	`

	var exists bool
	if err := r.db.Pool().QueryRow(ctx, query, subscriberID, eventID, ch).Scan(&exists); err != nil {
		return false, fmt.Errorf("query event notification success: %w", err)
	}
	return exists, nil
}

// HasSucceededForInstance reports whether any record for
// (subscriber, instance, channel) has a derived success status of true.
func (r *NotificationRepository) HasSucceededForInstance(ctx context.Context, subscriberID, instanceID uuid.UUID, ch Channel) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notification_records n
			` + latestResultJoin + `
			WHERE n.subscriber_id = $1 AND n.event_instance_id = $2 AND n.channel = $3 AND latest.success
		)
	`

	var exists bool
	if err := r.db.Pool().QueryRow(ctx, query, subscriberID, instanceID, ch).Scan(&exists); err != nil {
		return false, fmt.Errorf("query instance notification success: %w", err)
	}
	return exists, nil
}

// HistoryFilter bounds ledger queries. From and To are inclusive
// sent-at bounds; Channel is an optional exact match.
type HistoryFilter struct {
	From    *time.Time
	To      *time.Time
	Channel *Channel
}

// SubscriberHistory returns a subscriber's records ordered by sent-at
// descending, results loaded.
func (r *NotificationRepository) SubscriberHistory(ctx context.Context, subscriberID uuid.UUID, f HistoryFilter) ([]*NotificationRecord, error) {
	return r.history(ctx, "subscriber_id", subscriberID, f)
}

// EventHistory returns an event's records ordered by sent-at
// descending, results loaded.
func (r *NotificationRepository) EventHistory(ctx context.Context, eventID uuid.UUID, f HistoryFilter) ([]*NotificationRecord, error) {
	return r.history(ctx, "event_id", eventID, f)
}

func (r *NotificationRepository) history(ctx context.Context, column string, id uuid.UUID, f HistoryFilter) ([]*NotificationRecord, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, subscriber_id, event_id, event_instance_id,
		       channel, subject, message, sent_at, created_at
		FROM notification_records n
		WHERE n.` + column + ` = $1`)

	args := []interface{}{id}
	if f.From != nil {
		args = append(args, f.From.UTC())
		sb.WriteString(fmt.Sprintf(" AND n.sent_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, f.To.UTC())
		sb.WriteString(fmt.Sprintf(" AND n.sent_at <= $%d", len(args)))
	}
	if f.Channel != nil {
		args = append(args, *f.Channel)
		sb.WriteString(fmt.Sprintf(" AND n.channel = $%d", len(args)))
	}
	sb.WriteString(" ORDER BY n.sent_at DESC")

	rows, err := r.db.Pool().Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query notification history: %w", err)
	}
	defer rows.Close()

	var records []*NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		err := rows.Scan(
			&rec.ID, &rec.SubscriberID, &rec.EventID, &rec.EventInstanceID,
			&rec.Channel, &rec.Subject, &rec.Message, &rec.SentAt, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	if err := r.loadResults(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetRecord retrieves one record with its results.
func (r *NotificationRepository) GetRecord(ctx context.Context, id uuid.UUID) (*NotificationRecord, error) {
	var rec NotificationRecord
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, subscriber_id, event_id, event_instance_id,
		       channel, subject, message, sent_at, created_at
		FROM notification_records WHERE id = $1
	`, id).Scan(
		&rec.ID, &rec.SubscriberID, &rec.EventID, &rec.EventInstanceID,
		&rec.Channel, &rec.Subject, &rec.Message, &rec.SentAt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification record: %w", err)
	}

	if err := r.loadResults(ctx, []*NotificationRecord{&rec}); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *NotificationRepository) loadResults(ctx context.Context, records []*NotificationRecord) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(records))
	byID := make(map[uuid.UUID]*NotificationRecord, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		byID[rec.ID] = rec
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, notification_id, seq, success, error_message, delivery_status,
		       delivered_at, read_at, provider_response, provider_message_id,
		       retry_count, last_retry_at, retry_reason, created_at
		FROM notification_results
		WHERE notification_id = ANY($1)
		ORDER BY created_at ASC, seq ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("query notification results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var res NotificationResult
		err := rows.Scan(
			&res.ID, &res.NotificationID, &res.Seq, &res.Success, &res.ErrorMessage, &res.DeliveryStatus,
			&res.DeliveredAt, &res.ReadAt, &res.ProviderResponse, &res.ProviderMessageID,
			&res.RetryCount, &res.LastRetryAt, &res.RetryReason, &res.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan notification result: %w", err)
		}
		if rec, ok := byID[res.NotificationID]; ok {
			rec.Results = append(rec.Results, res)
		}
	}
	return rows.Err()
}
