package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flagState struct {
	Key       string `json:"key"`
	Enabled   bool   `json:"is_enabled"`
	UpdatedAt string `json:"updated_at"`
}

func TestEventBuilder(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	before := &flagState{Key: "beta", Enabled: false, UpdatedAt: "a"}
	after := &flagState{Key: "beta", Enabled: true, UpdatedAt: "b"}

	created := NewEventBuilder(now).ForFlag("beta").WithStates(nil, after).Build()
	assert.Equal(t, EventFlagCreated, created.Type)
	assert.Nil(t, created.Data.Before)
	assert.JSONEq(t, `{"key":"beta","is_enabled":true,"updated_at":"b"}`, string(created.Data.After))

	updated := NewEventBuilder(now).ForFlag("beta").WithStates(before, after).WithRequestID("req-1").Build()
	assert.Equal(t, EventFlagUpdated, updated.Type)
	assert.Equal(t, []string{"is_enabled"}, updated.Data.Changes)
	assert.Equal(t, "req-1", updated.RequestID)
	assert.Equal(t, Resource{Type: "flag", Key: "beta"}, updated.Resource)
	assert.Equal(t, now, updated.Timestamp)

	var missing *flagState
	deleted := NewEventBuilder(now).ForFlag("beta").WithStates(before, missing).Build()
	assert.Equal(t, EventFlagDeleted, deleted.Type)
	assert.Nil(t, deleted.Data.After)
}

func TestEndpointMatches(t *testing.T) {
	event := Event{Type: EventFlagUpdated}
	assert.True(t, Endpoint{URL: "x"}.matches(event))
	assert.True(t, Endpoint{URL: "x", Events: []string{EventFlagCreated, EventFlagUpdated}}.matches(event))
	assert.False(t, Endpoint{URL: "x", Events: []string{EventFlagDeleted}}.matches(event))
}

func TestDispatcher_DeliversSignedEvents(t *testing.T) {
	const secret = "test-secret-123"
	received := make(chan Event, 10)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" ||
			!Verify(body, r.Header.Get(HeaderSignature), secret) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if _, err := uuid.Parse(r.Header.Get(HeaderDelivery)); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var event Event
		if err := json.Unmarshal(body, &event); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get(HeaderEvent) != event.Type {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- event
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(Options{
		Endpoints: []Endpoint{{URL: srv.URL}},
		Secret:    secret,
		MaxTries:  1,
	}, zerolog.Nop())
	d.Start()

	event := NewEventBuilder(time.Now()).ForFlag("beta").WithStates(nil, map[string]any{"key": "beta"}).Build()
	d.Dispatch(event)
	require.NoError(t, d.Close())

	select {
	case got := <-received:
		assert.Equal(t, EventFlagCreated, got.Type)
		assert.Equal(t, "beta", got.Resource.Key)
	default:
		t.Fatal("expected the event to be delivered before Close returned")
	}
}

func TestDispatcher_RetriesFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher(Options{
		Endpoints:       []Endpoint{{URL: srv.URL}},
		MaxTries:        4,
		InitialInterval: time.Millisecond,
	}, zerolog.Nop())
	d.Start()
	d.Dispatch(Event{Type: EventFlagDeleted, Resource: Resource{Type: "flag", Key: "beta"}})
	require.NoError(t, d.Close())

	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatcher_GivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(Options{
		Endpoints:       []Endpoint{{URL: srv.URL}},
		MaxTries:        2,
		InitialInterval: time.Millisecond,
	}, zerolog.Nop())
	d.Start()
	d.Dispatch(Event{Type: EventFlagUpdated})
	require.NoError(t, d.Close())

	assert.Equal(t, int32(2), calls.Load())
}

func TestDispatcher_FiltersByEventType(t *testing.T) {
	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, r.Header.Get(HeaderEvent))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(Options{
		Endpoints: []Endpoint{{URL: srv.URL, Events: []string{EventFlagDeleted}}},
		MaxTries:  1,
	}, zerolog.Nop())
	d.Start()
	d.Dispatch(Event{Type: EventFlagCreated})
	d.Dispatch(Event{Type: EventFlagDeleted})
	require.NoError(t, d.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{EventFlagDeleted}, got)
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	d := NewDispatcher(Options{
		Endpoints: []Endpoint{{URL: "http://127.0.0.1:1"}},
		QueueSize: 1,
	}, zerolog.Nop())

	// Not started, so the queue never drains.
	d.Dispatch(Event{Type: EventFlagCreated})
	assert.NotPanics(t, func() { d.Dispatch(Event{Type: EventFlagUpdated}) })
	assert.Len(t, d.queue, 1)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.NotPanics(t, func() { d.Dispatch(Event{Type: EventFlagDeleted}) })
}
