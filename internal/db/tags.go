package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TagRepository handles database operations for tags.
type TagRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTagRepository creates a new tag repository.
func NewTagRepository(db *DB, logger *zap.Logger) *TagRepository {
	return &TagRepository{
		db:     db,
		logger: logger,
	}
}

// CreateTag inserts a new tag. Names are unique case-insensitively;
// duplicates return ErrConflict.
func (r *TagRepository) CreateTag(ctx context.Context, name string, description *string) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: tag name is required", ErrValidation)
	}

	if _, err := r.GetTagByName(ctx, name); err == nil {
		return nil, fmt.Errorf("tag %q %w", name, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	tag := &Tag{
		ID:          uuid.New(),
		Name:        name,
		Description: trimPtr(description),
	}

	err := r.db.Pool().QueryRow(ctx, `
		INSERT INTO tags (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, tag.ID, tag.Name, tag.Description).Scan(&tag.CreatedAt, &tag.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert tag: %w", err)
	}

	r.logger.Info("tag created",
		zap.String("tag_id", tag.ID.String()),
		zap.String("name", tag.Name),
	)
	return tag, nil
}

// GetTag retrieves a tag by ID.
func (r *TagRepository) GetTag(ctx context.Context, id uuid.UUID) (*Tag, error) {
	var tag Tag
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM tags WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&tag.ID, &tag.Name, &tag.Description, &tag.CreatedAt, &tag.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tag %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query tag: %w", err)
	}
	return &tag, nil
}

// GetTagByName resolves a tag name case-insensitively.
func (r *TagRepository) GetTagByName(ctx context.Context, name string) (*Tag, error) {
	var tag Tag
	err := r.db.Pool().QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM tags WHERE LOWER(name) = LOWER($1) AND deleted_at IS NULL
	`, strings.TrimSpace(name)).Scan(&tag.ID, &tag.Name, &tag.Description, &tag.CreatedAt, &tag.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tag %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query tag by name: %w", err)
	}
	return &tag, nil
}

// GetOrCreateTag resolves a tag by name, creating it when absent.
func (r *TagRepository) GetOrCreateTag(ctx context.Context, name string) (*Tag, error) {
	tag, err := r.GetTagByName(ctx, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return r.CreateTag(ctx, name, nil)
}

// ListTags returns all tags ordered by name.
func (r *TagRepository) ListTags(ctx context.Context) ([]*Tag, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM tags WHERE deleted_at IS NULL
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []*Tag
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Description, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, &tag)
	}
	return tags, rows.Err()
}

// DeleteTag soft-deletes a tag.
func (r *TagRepository) DeleteTag(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE tags SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("tag %s: %w", id, ErrNotFound)
	}

	r.logger.Info("tag deleted", zap.String("tag_id", id.String()))
	return nil
}
