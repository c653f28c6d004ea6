package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/db"
	"github.com/heraldhq/herald/internal/dispatch"
)

type fakeSubscriberRepo struct {
	subscribers map[uuid.UUID]*db.Subscriber
	createErr   error
}

func (f *fakeSubscriberRepo) CreateSubscriber(_ context.Context, params db.CreateSubscriberParams) (*db.Subscriber, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	sub := &db.Subscriber{
		ID:           uuid.New(),
		Email:        params.Email,
		IsActive:     params.IsActive,
		PrefersEmail: params.PrefersEmail,
		PrefersSMS:   params.PrefersSMS,
		PrefersPush:  params.PrefersPush,
	}
	f.subscribers[sub.ID] = sub
	return sub, nil
}

func (f *fakeSubscriberRepo) GetSubscriber(_ context.Context, id uuid.UUID) (*db.Subscriber, error) {
	sub, ok := f.subscribers[id]
	if !ok {
		return nil, fmt.Errorf("get subscriber: %w", db.ErrNotFound)
	}
	return sub, nil
}

func (f *fakeSubscriberRepo) QuerySubscribers(_ context.Context, q db.SubscriberQuery) ([]*db.Subscriber, error) {
	var out []*db.Subscriber
	for _, sub := range f.subscribers {
		if q.ActiveOnly && !sub.IsActive {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

func (f *fakeSubscriberRepo) GetSubscriberByEmail(_ context.Context, email string) (*db.Subscriber, error) {
	for _, sub := range f.subscribers {
		if strings.EqualFold(sub.Email, email) {
			return sub, nil
		}
	}
	return nil, fmt.Errorf("get subscriber by email: %w", db.ErrNotFound)
}

func (f *fakeSubscriberRepo) AddPreferredTag(_ context.Context, id uuid.UUID, tagName string) error {
	if _, ok := f.subscribers[id]; !ok {
		return fmt.Errorf("add preferred tag: %w", db.ErrNotFound)
	}
	return nil
}

func (f *fakeSubscriberRepo) RemovePreferredTag(_ context.Context, id uuid.UUID, tagName string) error {
	if _, ok := f.subscribers[id]; !ok {
		return fmt.Errorf("remove preferred tag: %w", db.ErrNotFound)
	}
	return nil
}

func (f *fakeSubscriberRepo) DeleteSubscriber(_ context.Context, id uuid.UUID) error {
	if _, ok := f.subscribers[id]; !ok {
		return fmt.Errorf("delete subscriber: %w", db.ErrNotFound)
	}
	delete(f.subscribers, id)
	return nil
}

type fakeTagRepo struct {
	tags      map[uuid.UUID]*db.Tag
	createErr error
}

func (f *fakeTagRepo) CreateTag(_ context.Context, name string, description *string) (*db.Tag, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	tag := &db.Tag{ID: uuid.New(), Name: name, Description: description}
	f.tags[tag.ID] = tag
	return tag, nil
}

func (f *fakeTagRepo) GetTag(_ context.Context, id uuid.UUID) (*db.Tag, error) {
	tag, ok := f.tags[id]
	if !ok {
		return nil, fmt.Errorf("get tag: %w", db.ErrNotFound)
	}
	return tag, nil
}

func (f *fakeTagRepo) ListTags(_ context.Context) ([]*db.Tag, error) {
	out := make([]*db.Tag, 0, len(f.tags))
	for _, tag := range f.tags {
		out = append(out, tag)
	}
	return out, nil
}

func (f *fakeTagRepo) DeleteTag(_ context.Context, id uuid.UUID) error {
	if _, ok := f.tags[id]; !ok {
		return fmt.Errorf("delete tag: %w", db.ErrNotFound)
	}
	delete(f.tags, id)
	return nil
}

type fakeEventRepo struct {
	events    map[uuid.UUID]*db.Event
	instances map[uuid.UUID]*db.EventInstance
}

func (f *fakeEventRepo) CreateEvent(_ context.Context, params db.CreateEventParams) (*db.Event, error) {
	ev := &db.Event{ID: uuid.New(), Title: params.Title, Description: params.Description}
	f.events[ev.ID] = ev
	return ev, nil
}

func (f *fakeEventRepo) GetEvent(_ context.Context, id uuid.UUID) (*db.Event, error) {
	ev, ok := f.events[id]
	if !ok {
		return nil, fmt.Errorf("get event: %w", db.ErrNotFound)
	}
	return ev, nil
}

func (f *fakeEventRepo) ListEvents(_ context.Context) ([]*db.Event, error) {
	out := make([]*db.Event, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeEventRepo) UpdateEvent(_ context.Context, id uuid.UUID, params db.CreateEventParams) (*db.Event, error) {
	ev, ok := f.events[id]
	if !ok {
		return nil, fmt.Errorf("update event: %w", db.ErrNotFound)
	}
	ev.Title = params.Title
	ev.Description = params.Description
	return ev, nil
}

func (f *fakeEventRepo) SetPublished(_ context.Context, id uuid.UUID, published bool) error {
	ev, ok := f.events[id]
	if !ok {
		return fmt.Errorf("set published: %w", db.ErrNotFound)
	}
	ev.IsPublished = published
	return nil
}

func (f *fakeEventRepo) DeleteEvent(_ context.Context, id uuid.UUID) error {
	if _, ok := f.events[id]; !ok {
		return fmt.Errorf("delete event: %w", db.ErrNotFound)
	}
	delete(f.events, id)
	return nil
}

func (f *fakeEventRepo) CreateEventInstance(_ context.Context, eventID uuid.UUID, params db.InstanceParams) (*db.EventInstance, error) {
	if _, ok := f.events[eventID]; !ok {
		return nil, fmt.Errorf("create event instance: %w", db.ErrNotFound)
	}
	if !params.StartTime.Before(params.EndTime) {
		return nil, fmt.Errorf("%w: start_time must be before end_time", db.ErrValidation)
	}
	inst := &db.EventInstance{
		ID:        uuid.New(),
		EventID:   eventID,
		StartTime: params.StartTime,
		EndTime:   params.EndTime,
		Location:  params.Location,
	}
	f.instances[inst.ID] = inst
	return inst, nil
}

func (f *fakeEventRepo) GetEventInstance(_ context.Context, id uuid.UUID) (*db.EventInstance, error) {
	inst, ok := f.instances[id]
	if !ok {
		return nil, fmt.Errorf("get event instance: %w", db.ErrNotFound)
	}
	return inst, nil
}

func (f *fakeEventRepo) UpdateEventInstance(_ context.Context, id uuid.UUID, params db.InstanceParams) (*db.EventInstance, error) {
	inst, ok := f.instances[id]
	if !ok {
		return nil, fmt.Errorf("update event instance: %w", db.ErrNotFound)
	}
	inst.Location = params.Location
	return inst, nil
}

func (f *fakeEventRepo) CancelEventInstance(_ context.Context, id uuid.UUID, reason string) error {
	inst, ok := f.instances[id]
	if !ok {
		return fmt.Errorf("cancel event instance: %w", db.ErrNotFound)
	}
	inst.IsCancelled = true
	return nil
}

type notifyCall struct {
	kind    string
	id      uuid.UUID
	channel db.Channel
	tags    []string
}

type fakeNotifier struct {
	calls      []notifyCall
	notifyErr  error
	history    []*db.NotificationRecord
	lastFilter db.HistoryFilter
}

func (f *fakeNotifier) NotifyAboutEvent(_ context.Context, eventID uuid.UUID, ch db.Channel, opts dispatch.EventOptions) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.calls = append(f.calls, notifyCall{kind: "event", id: eventID, channel: ch, tags: opts.RequiredTags})
	return nil
}

func (f *fakeNotifier) NotifyAboutEventInstance(_ context.Context, instanceID uuid.UUID, ch db.Channel, opts dispatch.EventOptions) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.calls = append(f.calls, notifyCall{kind: "instance", id: instanceID, channel: ch})
	return nil
}

func (f *fakeNotifier) NotifyByTags(_ context.Context, tagNames []string, subject, message string, ch db.Channel, opts dispatch.BroadcastOptions) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.calls = append(f.calls, notifyCall{kind: "tags", channel: ch, tags: tagNames})
	return nil
}

func (f *fakeNotifier) NotifyByLocation(_ context.Context, loc dispatch.LocationFilter, subject, message string, ch db.Channel, opts dispatch.BroadcastOptions) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.calls = append(f.calls, notifyCall{kind: "location", channel: ch})
	return nil
}

func (f *fakeNotifier) SetPreferences(_ context.Context, subscriberID uuid.UUID, email, sms, push bool) error {
	f.calls = append(f.calls, notifyCall{kind: "preferences", id: subscriberID})
	return nil
}

func (f *fakeNotifier) SubscriberHistory(_ context.Context, subscriberID uuid.UUID, filter db.HistoryFilter) ([]*db.NotificationRecord, error) {
	f.lastFilter = filter
	return f.history, nil
}

func (f *fakeNotifier) EventHistory(_ context.Context, eventID uuid.UUID, filter db.HistoryFilter) ([]*db.NotificationRecord, error) {
	f.lastFilter = filter
	return f.history, nil
}

type testEnv struct {
	router      *chi.Mux
	subscribers *fakeSubscriberRepo
	tags        *fakeTagRepo
	events      *fakeEventRepo
	notifier    *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		subscribers: &fakeSubscriberRepo{subscribers: make(map[uuid.UUID]*db.Subscriber)},
		tags:        &fakeTagRepo{tags: make(map[uuid.UUID]*db.Tag)},
		events:      &fakeEventRepo{events: make(map[uuid.UUID]*db.Event), instances: make(map[uuid.UUID]*db.EventInstance)},
		notifier:    &fakeNotifier{},
	}

	h := NewHandler(zap.NewNop(), env.subscribers, env.tags, env.events, env.notifier)
	env.router = chi.NewRouter()
	h.Routes(env.router)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("error content type = %q", ct)
	}
	var e ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

func TestCreateSubscriber(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/subscribers", map[string]any{
		"email":       "alice@example.com",
		"prefers_sms": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var sub db.Subscriber
	if err := json.NewDecoder(rec.Body).Decode(&sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sub.Email != "alice@example.com" {
		t.Errorf("email = %q", sub.Email)
	}
	if !sub.PrefersEmail || !sub.PrefersSMS {
		t.Error("expected email default and sms opt-in")
	}
	if !sub.IsActive {
		t.Error("new subscribers should be active")
	}
}

func TestCreateSubscriberMissingEmail(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/subscribers", map[string]any{"first_name": "Alice"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Type != "invalid_request" {
		t.Errorf("error type = %q", e.Type)
	}
}

func TestCreateSubscriberConflict(t *testing.T) {
	env := newTestEnv(t)
	env.subscribers.createErr = fmt.Errorf("create subscriber: %w", db.ErrConflict)

	rec := env.do(t, http.MethodPost, "/v1/subscribers", map[string]any{"email": "dup@example.com"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Type != "conflict" {
		t.Errorf("error type = %q", e.Type)
	}
}

func TestListSubscribers(t *testing.T) {
	env := newTestEnv(t)
	env.subscribers.CreateSubscriber(context.Background(), db.CreateSubscriberParams{Email: "a@example.com", IsActive: true})
	env.subscribers.CreateSubscriber(context.Background(), db.CreateSubscriberParams{Email: "b@example.com"})

	rec := env.do(t, http.MethodGet, "/v1/subscribers/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 2 {
		t.Errorf("count = %d, want 2", list.Count)
	}

	rec = env.do(t, http.MethodGet, "/v1/subscribers/?active_only=true", nil)
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("active count = %d, want 1", list.Count)
	}
}

func TestGetSubscriberNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/subscribers/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	e := decodeError(t, rec)
	if e.Type != "not_found" || e.Status != http.StatusNotFound {
		t.Errorf("unexpected error: %+v", e)
	}
}

func TestInvalidUUID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/subscribers/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Type != "invalid_request" {
		t.Errorf("error type = %q", e.Type)
	}
}

func TestDeleteSubscriber(t *testing.T) {
	env := newTestEnv(t)
	sub, _ := env.subscribers.CreateSubscriber(context.Background(), db.CreateSubscriberParams{Email: "gone@example.com"})

	rec := env.do(t, http.MethodDelete, "/v1/subscribers/"+sub.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/v1/subscribers/"+sub.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("deleted subscriber still readable, status = %d", rec.Code)
	}
}

func TestUpdatePreferences(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()

	rec := env.do(t, http.MethodPut, "/v1/subscribers/"+id.String()+"/preferences", map[string]any{
		"prefers_email": false,
		"prefers_push":  true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(env.notifier.calls) != 1 || env.notifier.calls[0].kind != "preferences" {
		t.Fatalf("unexpected notifier calls: %+v", env.notifier.calls)
	}
	if env.notifier.calls[0].id != id {
		t.Error("preferences routed to wrong subscriber")
	}
}

func TestTagLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/tags", map[string]any{"name": "music"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var tag db.Tag
	if err := json.NewDecoder(rec.Body).Decode(&tag); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = env.do(t, http.MethodGet, "/v1/tags/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}

	rec = env.do(t, http.MethodDelete, "/v1/tags/"+tag.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
}

func TestCreateTagMissingName(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/tags", map[string]any{"description": "orphan"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestEventAndInstanceLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/events", map[string]any{
		"title":       "Spring Fair",
		"description": "Annual fair",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create event status = %d", rec.Code)
	}
	var ev db.Event
	if err := json.NewDecoder(rec.Body).Decode(&ev); err != nil {
		t.Fatalf("decode: %v", err)
	}

	start := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	rec = env.do(t, http.MethodPost, "/v1/events/"+ev.ID.String()+"/instances", map[string]any{
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(6 * time.Hour).Format(time.RFC3339),
		"location":   "Town Hall",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create instance status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var inst db.EventInstance
	if err := json.NewDecoder(rec.Body).Decode(&inst); err != nil {
		t.Fatalf("decode instance: %v", err)
	}
	if inst.EventID != ev.ID {
		t.Error("instance not linked to event")
	}

	rec = env.do(t, http.MethodPost, "/v1/instances/"+inst.ID.String()+"/cancel", map[string]any{
		"reason": "venue flooded",
	})
	if rec.Code != http.StatusOK && rec.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	if !env.events.instances[inst.ID].IsCancelled {
		t.Error("instance not cancelled")
	}
}

func TestCreateInstanceRejectsInvertedTimes(t *testing.T) {
	env := newTestEnv(t)
	ev, _ := env.events.CreateEvent(context.Background(), db.CreateEventParams{Title: "Fair"})

	start := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	rec := env.do(t, http.MethodPost, "/v1/events/"+ev.ID.String()+"/instances", map[string]any{
		"start_time": start.Format(time.RFC3339),
		"end_time":   start.Add(-time.Hour).Format(time.RFC3339),
		"location":   "Town Hall",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPublishEvent(t *testing.T) {
	env := newTestEnv(t)
	ev, _ := env.events.CreateEvent(context.Background(), db.CreateEventParams{Title: "Fair"})

	rec := env.do(t, http.MethodPost, "/v1/events/"+ev.ID.String()+"/publish", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !env.events.events[ev.ID].IsPublished {
		t.Error("event not published")
	}
}

func TestNotifyEvent(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()

	rec := env.do(t, http.MethodPost, "/v1/notify/events/"+id.String(), map[string]any{
		"channel":       "email",
		"required_tags": []string{"music"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if len(env.notifier.calls) != 1 {
		t.Fatalf("notifier calls = %d", len(env.notifier.calls))
	}
	call := env.notifier.calls[0]
	if call.kind != "event" || call.id != id || call.channel != db.ChannelEmail {
		t.Errorf("unexpected call: %+v", call)
	}
	if len(call.tags) != 1 || call.tags[0] != "music" {
		t.Errorf("required tags not forwarded: %v", call.tags)
	}
}

func TestNotifyEventInvalidChannel(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/notify/events/"+uuid.NewString(), map[string]any{
		"channel": "carrier-pigeon",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(env.notifier.calls) != 0 {
		t.Error("notifier should not be reached on invalid channel")
	}
}

func TestNotifyEventNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.notifyErr = fmt.Errorf("get event: %w", db.ErrNotFound)

	rec := env.do(t, http.MethodPost, "/v1/notify/events/"+uuid.NewString(), map[string]any{
		"channel": "email",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestNotifyByTags(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/notify/tags", map[string]any{
		"channel": "all",
		"subject": "Closure notice",
		"message": "The library closes early on Friday.",
		"tags":    []string{"library", "community"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	call := env.notifier.calls[0]
	if call.kind != "tags" || call.channel != db.ChannelAll || len(call.tags) != 2 {
		t.Errorf("unexpected call: %+v", call)
	}
}

func TestNotifyByTagsRequiresTags(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/notify/tags", map[string]any{
		"channel": "email",
		"subject": "s",
		"message": "m",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestNotifyByLocationRequiresLocation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/notify/location", map[string]any{
		"channel": "email",
		"subject": "s",
		"message": "m",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/v1/notify/location", map[string]any{
		"channel": "email",
		"subject": "s",
		"message": "m",
		"city":    "Springfield",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestSubscriberHistoryFilter(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.history = []*db.NotificationRecord{
		{ID: uuid.New(), Channel: db.ChannelEmail},
	}

	id := uuid.NewString()
	rec := env.do(t, http.MethodGet,
		"/v1/subscribers/"+id+"/notifications?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z&channel=email", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	f := env.notifier.lastFilter
	if f.From == nil || !f.From.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from not parsed: %v", f.From)
	}
	if f.To == nil || !f.To.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to not parsed: %v", f.To)
	}
	if f.Channel == nil || *f.Channel != db.ChannelEmail {
		t.Errorf("channel not parsed: %v", f.Channel)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("count = %d", body.Count)
	}
}

func TestSubscriberHistoryBadTimestamp(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/subscribers/"+uuid.NewString()+"/notifications?from=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/subscribers", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Type != "invalid_request" {
		t.Errorf("error type = %q", e.Type)
	}
}
