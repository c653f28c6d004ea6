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

// SubscriberRepository handles database operations for subscribers and
// their tag preferences. Every read applies the standing
// deleted_at IS NULL predicate; soft-deleted rows are invisible.
type SubscriberRepository struct {
	db     *DB
	tags   *TagRepository
	logger *zap.Logger
}

// NewSubscriberRepository creates a new subscriber repository.
func NewSubscriberRepository(db *DB, tags *TagRepository, logger *zap.Logger) *SubscriberRepository {
	return &SubscriberRepository{
		db:     db,
		tags:   tags,
		logger: logger,
	}
}

const subscriberColumns = `
	id, email, first_name, last_name, phone_number, is_active,
	prefers_email, prefers_sms, prefers_push, push_token,
	preferred_city, preferred_state, preferred_country, preferred_radius_miles,
	latitude, longitude,
	last_notified_at, last_email_sent_at, last_sms_sent_at,
	version, created_at, updated_at
`

func scanSubscriber(row pgx.Row) (*Subscriber, error) {
	var s Subscriber
	err := row.Scan(
		&s.ID, &s.Email, &s.FirstName, &s.LastName, &s.PhoneNumber, &s.IsActive,
		&s.PrefersEmail, &s.PrefersSMS, &s.PrefersPush, &s.PushToken,
		&s.PreferredCity, &s.PreferredState, &s.PreferredCountry, &s.PreferredRadiusMiles,
		&s.Latitude, &s.Longitude,
		&s.LastNotifiedAt, &s.LastEmailSentAt, &s.LastSMSSentAt,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// NormalizeEmail lowercases and trims an email for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateSubscriberParams holds the fields accepted on creation.
type CreateSubscriberParams struct {
	Email             string
	FirstName         *string
	LastName          *string
	PhoneNumber       *string
	IsActive          bool
	PrefersEmail      bool
	PrefersSMS        bool
	PrefersPush       bool
	PushToken         *string
	PreferredCity     *string
	PreferredState    *string
	PreferredCountry  *string
	PreferredTagNames []string
}

// CreateSubscriber inserts a new subscriber. The email is normalized
// (lowercased, trimmed) and must be unique among non-deleted rows;
// duplicates return ErrConflict with nothing persisted. Preferred tag
// names are created if absent and attached as active preference rows.
func (r *SubscriberRepository) CreateSubscriber(ctx context.Context, params CreateSubscriberParams) (*Subscriber, error) {
	email := NormalizeEmail(params.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}

	exists, err := r.subscriberEmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("subscriber with email %q %w", email, ErrConflict)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO subscribers (
			id, email, first_name, last_name, phone_number, is_active,
			prefers_email, prefers_sms, prefers_push, push_token,
			preferred_city, preferred_state, preferred_country
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING version, created_at, updated_at
	`

	sub := &Subscriber{
		ID:               uuid.New(),
		Email:            email,
		FirstName:        trimPtr(params.FirstName),
		LastName:         trimPtr(params.LastName),
		PhoneNumber:      trimPtr(params.PhoneNumber),
		IsActive:         params.IsActive,
		PrefersEmail:     params.PrefersEmail,
		PrefersSMS:       params.PrefersSMS,
		PrefersPush:      params.PrefersPush,
		PushToken:        params.PushToken,
		PreferredCity:    trimPtr(params.PreferredCity),
		PreferredState:   trimPtr(params.PreferredState),
		PreferredCountry: trimPtr(params.PreferredCountry),
	}

	err = tx.QueryRow(ctx, query,
		sub.ID, sub.Email, sub.FirstName, sub.LastName, sub.PhoneNumber, sub.IsActive,
		sub.PrefersEmail, sub.PrefersSMS, sub.PrefersPush, sub.PushToken,
		sub.PreferredCity, sub.PreferredState, sub.PreferredCountry,
	).Scan(&sub.Version, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert subscriber: %w", err)
	}

	for _, name := range params.PreferredTagNames {
		tag, err := r.tags.GetOrCreateTag(ctx, name)
		if err != nil {
			return nil, err
		}
		pref := SubscriberTag{
			TagID:           tag.ID,
			TagName:         tag.Name,
			IsActive:        true,
			PreferenceLevel: 1,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO subscriber_tags (subscriber_id, tag_id, is_active, preference_level)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (subscriber_id, tag_id) DO UPDATE SET is_active = TRUE
			RETURNING added_at
		`, sub.ID, tag.ID, pref.IsActive, pref.PreferenceLevel).Scan(&pref.AddedAt)
		if err != nil {
			return nil, fmt.Errorf("attach tag preference: %w", err)
		}
		sub.TagPreferences = append(sub.TagPreferences, pref)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("subscriber created",
		zap.String("subscriber_id", sub.ID.String()),
		zap.String("email", sub.Email),
	)

	return sub, nil
}

// GetSubscriber retrieves a subscriber by ID with tag preferences loaded.
func (r *SubscriberRepository) GetSubscriber(ctx context.Context, id uuid.UUID) (*Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE id = $1 AND deleted_at IS NULL`

	sub, err := scanSubscriber(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("subscriber %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query subscriber: %w", err)
	}

	if err := r.loadTagPreferences(ctx, []*Subscriber{sub}); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscriberByEmail retrieves a subscriber by normalized email.
func (r *SubscriberRepository) GetSubscriberByEmail(ctx context.Context, email string) (*Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE email = $1 AND deleted_at IS NULL`

	sub, err := scanSubscriber(r.db.Pool().QueryRow(ctx, query, NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("subscriber %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query subscriber by email: %w", err)
	}

	if err := r.loadTagPreferences(ctx, []*Subscriber{sub}); err != nil {
		return nil, err
	}
	return sub, nil
}

// SubscriberQuery filters QuerySubscribers. TagIDs use OR semantics
// against active preference rows.
type SubscriberQuery struct {
	ActiveOnly bool
	TagIDs     []uuid.UUID
	City       *string
	State      *string
	Country    *string
}

// QuerySubscribers returns subscribers matching the filter, ordered by
// email ascending, with tag preferences loaded.
func (r *SubscriberRepository) QuerySubscribers(ctx context.Context, q SubscriberQuery) ([]*Subscriber, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + subscriberColumns + ` FROM subscribers s WHERE s.deleted_at IS NULL`)

	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.ActiveOnly {
		sb.WriteString(" AND s.is_active")
	}
	if len(q.TagIDs) > 0 {
		sb.WriteString(fmt.Sprintf(
			" AND EXISTS (SELECT 1 FROM subscriber_tags st WHERE st.subscriber_id = s.id AND st.is_active AND st.tag_id = ANY(%s))",
			arg(q.TagIDs),
		))
	}
	if q.City != nil {
		sb.WriteString(" AND s.preferred_city = " + arg(*q.City))
	}
	if q.State != nil {
		sb.WriteString(" AND s.preferred_state = " + arg(*q.State))
	}
	if q.Country != nil {
		sb.WriteString(" AND s.preferred_country = " + arg(*q.Country))
	}
	sb.WriteString(" ORDER BY s.email ASC")

	rows, err := r.db.Pool().Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	if err := r.loadTagPreferences(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// UpdateChannelPreferences sets the per-channel opt-in flags.
func (r *SubscriberRepository) UpdateChannelPreferences(ctx context.Context, id uuid.UUID, email, sms, push bool) error {
	query := `
		UPDATE subscribers
		SET prefers_email = $1, prefers_sms = $2, prefers_push = $3,
		    version = version + 1, updated_at = NOW()
		WHERE id = $4 AND deleted_at IS NULL
	`

	result, err := r.db.Pool().Exec(ctx, query, email, sms, push, id)
	if err != nil {
		return fmt.Errorf("update channel preferences: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("subscriber %s: %w", id, ErrNotFound)
	}

	r.logger.Info("channel preferences updated",
		zap.String("subscriber_id", id.String()),
		zap.Bool("email", email),
		zap.Bool("sms", sms),
		zap.Bool("push", push),
	)
	return nil
}

// RecordSend updates the subscriber's send bookkeeping after a
// successful dispatch: last_notified_at always, plus the channel's
// dedicated timestamp for email and SMS (push has none). The single
// UPDATE is atomic and bumps the optimistic version token.
func (r *SubscriberRepository) RecordSend(ctx context.Context, id uuid.UUID, ch Channel, at time.Time) error {
	query := `
		UPDATE subscribers
		SET last_notified_at = $1,
		    last_email_sent_at = CASE WHEN $2 THEN $1 ELSE last_email_sent_at END,
		    last_sms_sent_at   = CASE WHEN $3 THEN $1 ELSE last_sms_sent_at END,
		    version = version + 1, updated_at = NOW()
		WHERE id = $4 AND deleted_at IS NULL
	`

	result, err := r.db.Pool().Exec(ctx, query, at.UTC(), ch == ChannelEmail, ch == ChannelSMS, id)
	if err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("subscriber %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddPreferredTag attaches a tag preference, creating the tag if
// absent. Re-adding an existing preference reactivates it.
func (r *SubscriberRepository) AddPreferredTag(ctx context.Context, id uuid.UUID, tagName string) error {
	if _, err := r.GetSubscriber(ctx, id); err != nil {
		return err
	}
	tag, err := r.tags.GetOrCreateTag(ctx, tagName)
	if err != nil {
		return err
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO subscriber_tags (subscriber_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT (subscriber_id, tag_id) DO UPDATE SET is_active = TRUE
	`, id, tag.ID)
	if err != nil {
		return fmt.Errorf("add preferred tag: %w", err)
	}
	return nil
}

// RemovePreferredTag detaches a tag preference. Unknown tag names are
// a no-op, matching lookup semantics elsewhere.
func (r *SubscriberRepository) RemovePreferredTag(ctx context.Context, id uuid.UUID, tagName string) error {
	if _, err := r.GetSubscriber(ctx, id); err != nil {
		return err
	}
	tag, err := r.tags.GetTagByName(ctx, tagName)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.db.Pool().Exec(ctx,
		`DELETE FROM subscriber_tags WHERE subscriber_id = $1 AND tag_id = $2`, id, tag.ID)
	if err != nil {
		return fmt.Errorf("remove preferred tag: %w", err)
	}
	return nil
}

// DeleteSubscriber soft-deletes a subscriber.
func (r *SubscriberRepository) DeleteSubscriber(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE subscribers SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("subscriber %s: %w", id, ErrNotFound)
	}

	r.logger.Info("subscriber deleted", zap.String("subscriber_id", id.String()))
	return nil
}

func (r *SubscriberRepository) subscriberEmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscribers WHERE email = $1 AND deleted_at IS NULL)`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check subscriber email: %w", err)
	}
	return exists, nil
}

func (r *SubscriberRepository) loadTagPreferences(ctx context.Context, subs []*Subscriber) error {
	if len(subs) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(subs))
	byID := make(map[uuid.UUID]*Subscriber, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
		byID[s.ID] = s
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT st.subscriber_id, st.tag_id, t.name, st.is_active, st.preference_level, st.added_at
		FROM subscriber_tags st
		JOIN tags t ON t.id = st.tag_id
		WHERE st.subscriber_id = ANY($1) AND t.deleted_at IS NULL
		ORDER BY t.name ASC
	`, ids)
	if err != nil {
		return fmt.Errorf("query tag preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var subID uuid.UUID
		var pref SubscriberTag
		if err := rows.Scan(&subID, &pref.TagID, &pref.TagName, &pref.IsActive, &pref.PreferenceLevel, &pref.AddedAt); err != nil {
			return fmt.Errorf("scan tag preference: %w", err)
		}
		if sub, ok := byID[subID]; ok {
			sub.TagPreferences = append(sub.TagPreferences, pref)
		}
	}
	return rows.Err()
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	return &trimmed
}
