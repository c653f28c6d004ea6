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

// EventRepository handles database operations for events and their
// scheduled instances.
type EventRepository struct {
	db     *DB
	tags   *TagRepository
	logger *zap.Logger
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB, tags *TagRepository, logger *zap.Logger) *EventRepository {
	return &EventRepository{
		db:     db,
		tags:   tags,
		logger: logger,
	}
}

// CreateEventParams holds the fields accepted when creating or
// updating an event.
type CreateEventParams struct {
	Title          string
	Description    string
	ExternalURL    *string
	OrganizerName  *string
	OrganizerEmail *string
	OrganizerPhone *string
	Category       *string
	TagNames       []string
}

// CreateEvent inserts a new event. Titles are unique
// case-insensitively; duplicates return ErrConflict. Tag names are
// created if absent and attached.
func (r *EventRepository) CreateEvent(ctx context.Context, params CreateEventParams) (*Event, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: event title is required", ErrValidation)
	}

	if _, err := r.GetEventByTitle(ctx, title); err == nil {
		return nil, fmt.Errorf("event with title %q %w", title, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	ev := &Event{
		ID:             uuid.New(),
		Title:          title,
		Description:    strings.TrimSpace(params.Description),
		ExternalURL:    trimPtr(params.ExternalURL),
		OrganizerName:  trimPtr(params.OrganizerName),
		OrganizerEmail: trimPtr(params.OrganizerEmail),
		OrganizerPhone: trimPtr(params.OrganizerPhone),
		Category:       trimPtr(params.Category),
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO events (
			id, title, description, external_url,
			organizer_name, organizer_email, organizer_phone, category
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`,
		ev.ID, ev.Title, ev.Description, ev.ExternalURL,
		ev.OrganizerName, ev.OrganizerEmail, ev.OrganizerPhone, ev.Category,
	).Scan(&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	for _, name := range params.TagNames {
		tag, err := r.tags.GetOrCreateTag(ctx, name)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO event_tags (event_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, ev.ID, tag.ID); err != nil {
			return nil, fmt.Errorf("attach event tag: %w", err)
		}
		ev.Tags = append(ev.Tags, *tag)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("event created",
		zap.String("event_id", ev.ID.String()),
		zap.String("title", ev.Title),
	)
	return ev, nil
}

const eventColumns = `
	id, title, description, external_url,
	organizer_name, organizer_email, organizer_phone, category,
	is_published, published_at, created_at, updated_at
`

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	err := row.Scan(
		&ev.ID, &ev.Title, &ev.Description, &ev.ExternalURL,
		&ev.OrganizerName, &ev.OrganizerEmail, &ev.OrganizerPhone, &ev.Category,
		&ev.IsPublished, &ev.PublishedAt, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetEvent retrieves an event by ID with tags and instances loaded.
func (r *EventRepository) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	ev, err := scanEvent(r.db.Pool().QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}

	if err := r.loadEventTags(ctx, ev); err != nil {
		return nil, err
	}
	if err := r.loadEventInstances(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// GetEventByTitle resolves an event title case-insensitively.
func (r *EventRepository) GetEventByTitle(ctx context.Context, title string) (*Event, error) {
	ev, err := scanEvent(r.db.Pool().QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE LOWER(title) = LOWER($1) AND deleted_at IS NULL`,
		strings.TrimSpace(title)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %q: %w", title, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query event by title: %w", err)
	}

	if err := r.loadEventTags(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// ListEvents returns all events ordered by title, tags loaded.
func (r *EventRepository) ListEvents(ctx context.Context) ([]*Event, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE deleted_at IS NULL ORDER BY title ASC`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	for _, ev := range events {
		if err := r.loadEventTags(ctx, ev); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// UpdateEvent replaces the mutable fields of an event. A new title
// colliding with a different event returns ErrConflict. A non-nil
// TagNames replaces the tag set.
func (r *EventRepository) UpdateEvent(ctx context.Context, id uuid.UUID, params CreateEventParams) (*Event, error) {
	ev, err := r.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(params.Title)
	if existing, err := r.GetEventByTitle(ctx, title); err == nil && existing.ID != id {
		return nil, fmt.Errorf("event with title %q %w", title, ErrConflict)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ev.Title = title
	ev.Description = strings.TrimSpace(params.Description)
	ev.ExternalURL = trimPtr(params.ExternalURL)
	ev.OrganizerName = trimPtr(params.OrganizerName)
	ev.OrganizerEmail = trimPtr(params.OrganizerEmail)
	ev.OrganizerPhone = trimPtr(params.OrganizerPhone)
	ev.Category = trimPtr(params.Category)

	err = tx.QueryRow(ctx, `
		UPDATE events
		SET title = $1, description = $2, external_url = $3,
		    organizer_name = $4, organizer_email = $5, organizer_phone = $6,
		    category = $7, updated_at = NOW()
		WHERE id = $8 AND deleted_at IS NULL
		RETURNING updated_at
	`,
		ev.Title, ev.Description, ev.ExternalURL,
		ev.OrganizerName, ev.OrganizerEmail, ev.OrganizerPhone,
		ev.Category, id,
	).Scan(&ev.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}

	if params.TagNames != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM event_tags WHERE event_id = $1`, id); err != nil {
			return nil, fmt.Errorf("clear event tags: %w", err)
		}
		ev.Tags = nil
		for _, name := range params.TagNames {
			tag, err := r.tags.GetOrCreateTag(ctx, name)
			if err != nil {
				return nil, err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO event_tags (event_id, tag_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, id, tag.ID); err != nil {
				return nil, fmt.Errorf("attach event tag: %w", err)
			}
			ev.Tags = append(ev.Tags, *tag)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return ev, nil
}

// SetPublished publishes or unpublishes an event.
func (r *EventRepository) SetPublished(ctx context.Context, id uuid.UUID, published bool) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE events
		SET is_published = $1,
		    published_at = CASE WHEN $1 THEN NOW() ELSE NULL END,
		    updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL
	`, published, id)
	if err != nil {
		return fmt.Errorf("set event published: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteEvent soft-deletes an event.
func (r *EventRepository) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE events SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}

	r.logger.Info("event deleted", zap.String("event_id", id.String()))
	return nil
}

// InstanceParams holds the schedule and venue fields for an event
// instance. StartTime must be strictly before EndTime.
type InstanceParams struct {
	StartTime         time.Time
	EndTime           time.Time
	Location          string
	Room              *string
	Address           *string
	City              *string
	State             *string
	Country           *string
	IsVirtual         bool
	VirtualMeetingURL *string
}

func validateInstanceTimes(p InstanceParams) error {
	if !p.StartTime.Before(p.EndTime) {
		return fmt.Errorf("%w: start time must be before end time", ErrValidation)
	}
	return nil
}

// CreateEventInstance inserts a new occurrence under an event.
// Invalid times return ErrValidation with nothing persisted.
func (r *EventRepository) CreateEventInstance(ctx context.Context, eventID uuid.UUID, params InstanceParams) (*EventInstance, error) {
	if _, err := r.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	if err := validateInstanceTimes(params); err != nil {
		return nil, err
	}

	inst := &EventInstance{
		ID:                uuid.New(),
		EventID:           eventID,
		StartTime:         params.StartTime.UTC(),
		EndTime:           params.EndTime.UTC(),
		Location:          strings.TrimSpace(params.Location),
		Room:              trimPtr(params.Room),
		Address:           trimPtr(params.Address),
		City:              trimPtr(params.City),
		State:             trimPtr(params.State),
		Country:           trimPtr(params.Country),
		IsVirtual:         params.IsVirtual,
		VirtualMeetingURL: trimPtr(params.VirtualMeetingURL),
	}

	err := r.db.Pool().QueryRow(ctx, `
		INSERT INTO event_instances (
			id, event_id, start_time, end_time, location, room,
			address, city, state, country, is_virtual, virtual_meeting_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`,
		inst.ID, inst.EventID, inst.StartTime, inst.EndTime, inst.Location, inst.Room,
		inst.Address, inst.City, inst.State, inst.Country, inst.IsVirtual, inst.VirtualMeetingURL,
	).Scan(&inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert event instance: %w", err)
	}

	r.logger.Info("event instance created",
		zap.String("instance_id", inst.ID.String()),
		zap.String("event_id", eventID.String()),
	)
	return inst, nil
}

const instanceColumns = `
	id, event_id, start_time, end_time, location, room,
	address, city, state, country, is_virtual, virtual_meeting_url,
	is_cancelled, cancellation_reason, cancelled_at, created_at, updated_at
`

func scanInstance(row pgx.Row) (*EventInstance, error) {
	var inst EventInstance
	err := row.Scan(
		&inst.ID, &inst.EventID, &inst.StartTime, &inst.EndTime, &inst.Location, &inst.Room,
		&inst.Address, &inst.City, &inst.State, &inst.Country, &inst.IsVirtual, &inst.VirtualMeetingURL,
		&inst.IsCancelled, &inst.CancellationReason, &inst.CancelledAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// GetEventInstance retrieves an instance with its parent event and the
// event's tags loaded.
func (r *EventRepository) GetEventInstance(ctx context.Context, id uuid.UUID) (*EventInstance, error) {
	inst, err := scanInstance(r.db.Pool().QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM event_instances WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query event instance: %w", err)
	}

	ev, err := scanEvent(r.db.Pool().QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 AND deleted_at IS NULL`, inst.EventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", inst.EventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query parent event: %w", err)
	}
	if err := r.loadEventTags(ctx, ev); err != nil {
		return nil, err
	}
	inst.Event = ev
	return inst, nil
}

// UpdateEventInstance replaces the schedule and venue fields. Invalid
// times return ErrValidation and leave the stored instance unchanged.
func (r *EventRepository) UpdateEventInstance(ctx context.Context, id uuid.UUID, params InstanceParams) (*EventInstance, error) {
	if err := validateInstanceTimes(params); err != nil {
		return nil, err
	}

	inst, err := r.GetEventInstance(ctx, id)
	if err != nil {
		return nil, err
	}

	inst.StartTime = params.StartTime.UTC()
	inst.EndTime = params.EndTime.UTC()
	inst.Location = strings.TrimSpace(params.Location)
	inst.Room = trimPtr(params.Room)
	inst.Address = trimPtr(params.Address)
	inst.City = trimPtr(params.City)
	inst.State = trimPtr(params.State)
	inst.Country = trimPtr(params.Country)
	inst.IsVirtual = params.IsVirtual
	inst.VirtualMeetingURL = trimPtr(params.VirtualMeetingURL)

	err = r.db.Pool().QueryRow(ctx, `
		UPDATE event_instances
		SET start_time = $1, end_time = $2, location = $3, room = $4,
		    address = $5, city = $6, state = $7, country = $8,
		    is_virtual = $9, virtual_meeting_url = $10, updated_at = NOW()
		WHERE id = $11 AND deleted_at IS NULL
		RETURNING updated_at
	`,
		inst.StartTime, inst.EndTime, inst.Location, inst.Room,
		inst.Address, inst.City, inst.State, inst.Country,
		inst.IsVirtual, inst.VirtualMeetingURL, id,
	).Scan(&inst.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update event instance: %w", err)
	}
	return inst, nil
}

// CancelEventInstance marks an instance cancelled with a reason.
func (r *EventRepository) CancelEventInstance(ctx context.Context, id uuid.UUID, reason string) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE event_instances
		SET is_cancelled = TRUE, cancellation_reason = $1, cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL
	`, strings.TrimSpace(reason), id)
	if err != nil {
		return fmt.Errorf("cancel event instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("event instance %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *EventRepository) loadEventTags(ctx context.Context, ev *Event) error {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT t.id, t.name, t.description, t.created_at, t.updated_at
		FROM event_tags et
		JOIN tags t ON t.id = et.tag_id
		WHERE et.event_id = $1 AND t.deleted_at IS NULL
		ORDER BY t.name ASC
	`, ev.ID)
	if err != nil {
		return fmt.Errorf("query event tags: %w", err)
	}
	defer rows.Close()

	ev.Tags = nil
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Description, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			return fmt.Errorf("scan event tag: %w", err)
		}
		ev.Tags = append(ev.Tags, tag)
	}
	return rows.Err()
}

func (r *EventRepository) loadEventInstances(ctx context.Context, ev *Event) error {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+instanceColumns+` FROM event_instances WHERE event_id = $1 AND deleted_at IS NULL ORDER BY start_time ASC`,
		ev.ID)
	if err != nil {
		return fmt.Errorf("query event instances: %w", err)
	}
	defer rows.Close()

	ev.Instances = nil
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return fmt.Errorf("scan event instance: %w", err)
		}
		ev.Instances = append(ev.Instances, *inst)
	}
	return rows.Err()
}
