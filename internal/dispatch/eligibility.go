package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/db"
)

// LocationFilter narrows candidates by stated geographic preference.
// Matching is an exact, case-sensitive string comparison per field;
// RadiusMiles is accepted but not applied because subscriber
// coordinates are opt-in and mostly absent.
type LocationFilter struct {
	City        *string
	State       *string
	Country     *string
	RadiusMiles *float64
}

// Filter describes one candidate selection.
type Filter struct {
	TagNames   []string
	ActiveOnly bool
	Location   *LocationFilter
}

// Resolver turns a Filter into an ordered candidate list. Tag names
// that resolve to no known tag are skipped rather than failing the
// whole selection; an empty resolved set means no tag constraint.
type Resolver struct {
	subscribers SubscriberStore
	tags        TagStore
	logger      *zap.Logger
}

// NewResolver creates an eligibility resolver.
func NewResolver(subscribers SubscriberStore, tags TagStore, logger *zap.Logger) *Resolver {
	return &Resolver{subscribers: subscribers, tags: tags, logger: logger}
}

// Select returns the subscribers matching f, ordered by email so that
// repeated runs over the same population process candidates in a
// stable order.
func (r *Resolver) Select(ctx context.Context, f Filter) ([]*db.Subscriber, error) {
	tagIDs, err := r.resolveTags(ctx, f.TagNames)
	if err != nil {
		return nil, err
	}

	q := db.SubscriberQuery{
		ActiveOnly: f.ActiveOnly,
		TagIDs:     tagIDs,
	}
	if f.Location != nil {
		q.City = f.Location.City
		q.State = f.Location.State
		q.Country = f.Location.Country
		if f.Location.RadiusMiles != nil {
			r.logger.Warn("radius filtering requested but not applied, matching on exact location only",
				zap.Float64("radius_miles", *f.Location.RadiusMiles))
		}
	}

	subs, err := r.subscribers.QuerySubscribers(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].Email < subs[j].Email })
	return subs, nil
}

func (r *Resolver) resolveTags(ctx context.Context, names []string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, name := range names {
		tag, err := r.tags.GetTagByName(ctx, name)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				r.logger.Debug("skipping unknown tag in candidate filter", zap.String("tag", name))
				continue
			}
			return nil, fmt.Errorf("resolve tag %q: %w", name, err)
		}
		ids = append(ids, tag.ID)
	}
	return ids, nil
}
