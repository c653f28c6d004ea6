package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heraldhq/herald/internal/db"
)

// fakeStore is an in-memory implementation of every store interface
// the orchestrator consumes.
type fakeStore struct {
	mu sync.Mutex

	subscribers map[uuid.UUID]*db.Subscriber
	events      map[uuid.UUID]*db.Event
	instances   map[uuid.UUID]*db.EventInstance
	tags        map[string]*db.Tag

	records []*db.NotificationRecord
	results []*db.NotificationResult
	nextSeq int64

	recordSends []recordSend

	failCreateRecord bool
	failAppendResult bool
	// failNextAppends fails that many upcoming appends, then appends
	// succeed again.
	failNextAppends int
	failRecordSend  bool
}

type recordSend struct {
	subscriberID uuid.UUID
	channel      db.Channel
	at           time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subscribers: make(map[uuid.UUID]*db.Subscriber),
		events:      make(map[uuid.UUID]*db.Event),
		instances:   make(map[uuid.UUID]*db.EventInstance),
		tags:        make(map[string]*db.Tag),
	}
}

func (s *fakeStore) addSubscriber(sub *db.Subscriber) *db.Subscriber {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	s.subscribers[sub.ID] = sub
	return sub
}

func (s *fakeStore) addEvent(ev *db.Event) *db.Event {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	s.events[ev.ID] = ev
	return ev
}

func (s *fakeStore) addInstance(inst *db.EventInstance) *db.EventInstance {
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	s.instances[inst.ID] = inst
	return inst
}

func (s *fakeStore) addTag(name string) *db.Tag {
	tag := &db.Tag{ID: uuid.New(), Name: name}
	s.tags[strings.ToLower(name)] = tag
	return tag
}

func (s *fakeStore) GetSubscriber(ctx context.Context, id uuid.UUID) (*db.Subscriber, error) {
	sub, ok := s.subscribers[id]
	if !ok {
		return nil, fmt.Errorf("subscriber %s %w", id, db.ErrNotFound)
	}
	return sub, nil
}

func (s *fakeStore) QuerySubscribers(ctx context.Context, q db.SubscriberQuery) ([]*db.Subscriber, error) {
	var out []*db.Subscriber
	for _, sub := range s.subscribers {
		if q.ActiveOnly && !sub.IsActive {
			continue
		}
		if len(q.TagIDs) > 0 && !hasAnyTag(sub, q.TagIDs) {
			continue
		}
		if q.City != nil && !ptrEq(sub.PreferredCity, q.City) {
			continue
		}
		if q.State != nil && !ptrEq(sub.PreferredState, q.State) {
			continue
		}
		if q.Country != nil && !ptrEq(sub.PreferredCountry, q.Country) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func hasAnyTag(sub *db.Subscriber, tagIDs []uuid.UUID) bool {
	for _, pref := range sub.TagPreferences {
		if !pref.IsActive {
			continue
		}
		for _, id := range tagIDs {
			if pref.TagID == id {
				return true
			}
		}
	}
	return false
}

func ptrEq(a, b *string) bool {
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

func (s *fakeStore) UpdateChannelPreferences(ctx context.Context, id uuid.UUID, email, sms, push bool) error {
	sub, ok := s.subscribers[id]
	if !ok {
		return fmt.Errorf("subscriber %s %w", id, db.ErrNotFound)
	}
	sub.PrefersEmail = email
	sub.PrefersSMS = sms
	sub.PrefersPush = push
	return nil
}

func (s *fakeStore) RecordSend(ctx context.Context, id uuid.UUID, ch db.Channel, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecordSend {
		return fmt.Errorf("record send: connection reset")
	}
	sub, ok := s.subscribers[id]
	if !ok {
		return fmt.Errorf("subscriber %s %w", id, db.ErrNotFound)
	}
	sub.LastNotifiedAt = &at
	switch ch {
	case db.ChannelEmail:
		sub.LastEmailSentAt = &at
	case db.ChannelSMS:
		sub.LastSMSSentAt = &at
	}
	s.recordSends = append(s.recordSends, recordSend{subscriberID: id, channel: ch, at: at})
	return nil
}

func (s *fakeStore) GetEvent(ctx context.Context, id uuid.UUID) (*db.Event, error) {
	ev, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s %w", id, db.ErrNotFound)
	}
	return ev, nil
}

func (s *fakeStore) GetEventInstance(ctx context.Context, id uuid.UUID) (*db.EventInstance, error) {
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("event instance %s %w", id, db.ErrNotFound)
	}
	return inst, nil
}

func (s *fakeStore) GetTagByName(ctx context.Context, name string) (*db.Tag, error) {
	tag, ok := s.tags[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("tag %q %w", name, db.ErrNotFound)
	}
	return tag, nil
}

func (s *fakeStore) CreateRecord(ctx context.Context, rec *db.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateRecord {
		return fmt.Errorf("insert notification record: connection reset")
	}
	rec.CreatedAt = time.Now().UTC()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeStore) AppendResult(ctx context.Context, res *db.NotificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppendResult {
		return fmt.Errorf("insert notification result: connection reset")
	}
	if s.failNextAppends > 0 {
		s.failNextAppends--
		return fmt.Errorf("insert notification result: connection reset")
	}
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	s.nextSeq++
	res.Seq = s.nextSeq
	res.CreatedAt = time.Now().UTC()
	s.results = append(s.results, res)
	return nil
}

func (s *fakeStore) resultsFor(recordID uuid.UUID) []*db.NotificationResult {
	var out []*db.NotificationResult
	for _, res := range s.results {
		if res.NotificationID == recordID {
			out = append(out, res)
		}
	}
	return out
}

func (s *fakeStore) recordsFor(subscriberID uuid.UUID) []*db.NotificationRecord {
	var out []*db.NotificationRecord
	for _, rec := range s.records {
		if rec.SubscriberID == subscriberID {
			out = append(out, rec)
		}
	}
	return out
}

func (s *fakeStore) latestResult(recordID uuid.UUID) *db.NotificationResult {
	results := s.resultsFor(recordID)
	if len(results) == 0 {
		return nil
	}
	latest := results[0]
	for _, res := range results[1:] {
		if res.CreatedAt.After(latest.CreatedAt) ||
			(res.CreatedAt.Equal(latest.CreatedAt) && res.Seq > latest.Seq) {
			latest = res
		}
	}
	return latest
}

func (s *fakeStore) hasSucceeded(subscriberID uuid.UUID, match func(*db.NotificationRecord) bool, ch db.Channel) bool {
	for _, rec := range s.records {
		if rec.SubscriberID != subscriberID || rec.Channel != ch || !match(rec) {
			continue
		}
		if latest := s.latestResult(rec.ID); latest != nil && latest.Success {
			return true
		}
	}
	return false
}

func (s *fakeStore) HasSucceededForEvent(ctx context.Context, subscriberID, eventID uuid.UUID, ch db.Channel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasSucceeded(subscriberID, func(rec *db.NotificationRecord) bool {
		return rec.EventID != nil && *rec.EventID == eventID
	}, ch), nil
}

func (s *fakeStore) HasSucceededForInstance(ctx context.Context, subscriberID, instanceID uuid.UUID, ch db.Channel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasSucceeded(subscriberID, func(rec *db.NotificationRecord) bool {
		return rec.EventInstanceID != nil && *rec.EventInstanceID == instanceID
	}, ch), nil
}

func (s *fakeStore) SubscriberHistory(ctx context.Context, subscriberID uuid.UUID, f db.HistoryFilter) ([]*db.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.NotificationRecord
	for _, rec := range s.records {
		if rec.SubscriberID != subscriberID || !matchesHistory(rec, f) {
			continue
		}
		rec.Results = nil
		for _, res := range s.resultsFor(rec.ID) {
			rec.Results = append(rec.Results, *res)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) EventHistory(ctx context.Context, eventID uuid.UUID, f db.HistoryFilter) ([]*db.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.NotificationRecord
	for _, rec := range s.records {
		if rec.EventID == nil || *rec.EventID != eventID || !matchesHistory(rec, f) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func matchesHistory(rec *db.NotificationRecord, f db.HistoryFilter) bool {
	if f.From != nil && rec.SentAt.Before(*f.From) {
		return false
	}
	if f.To != nil && rec.SentAt.After(*f.To) {
		return false
	}
	if f.Channel != nil && rec.Channel != *f.Channel {
		return false
	}
	return true
}

// fakeRegistry simulates the handler fan-out. outcomes maps a handler
// name to the error it returns; a nil error is a success.
type fakeRegistry struct {
	handlers map[db.Channel][]string
	outcomes map[string]error
	calls    int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		handlers: map[db.Channel][]string{
			db.ChannelEmail: {"email"},
			db.ChannelSMS:   {"sms"},
			db.ChannelPush:  {"push"},
		},
		outcomes: make(map[string]error),
	}
}

func (r *fakeRegistry) Dispatch(ctx context.Context, rec *db.NotificationRecord, sub *db.Subscriber) []*db.NotificationResult {
	r.calls++

	var names []string
	if rec.Channel == db.ChannelAll {
		names = append(names, r.handlers[db.ChannelEmail]...)
		names = append(names, r.handlers[db.ChannelSMS]...)
		names = append(names, r.handlers[db.ChannelPush]...)
	} else {
		names = r.handlers[rec.Channel]
	}

	var results []*db.NotificationResult
	for _, name := range names {
		res := &db.NotificationResult{NotificationID: rec.ID}
		if err := r.outcomes[name]; err != nil {
			msg := err.Error()
			res.ErrorMessage = &msg
			res.DeliveryStatus = db.DeliveryFailed
		} else {
			res.Success = true
			res.DeliveryStatus = db.DeliveryDelivered
		}
		results = append(results, res)
	}
	return results
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type countingLocker struct {
	acquires int
	releases int
}

func (l *countingLocker) Acquire(ctx context.Context, subscriberID uuid.UUID) (func(), error) {
	l.acquires++
	return func() { l.releases++ }, nil
}
