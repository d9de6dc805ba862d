package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/flagledger/internal/analytics"
	"github.com/TimurManjosov/flagledger/internal/cache"
	"github.com/TimurManjosov/flagledger/internal/clock"
	"github.com/TimurManjosov/flagledger/internal/decision"
	"github.com/TimurManjosov/flagledger/internal/engine"
	"github.com/TimurManjosov/flagledger/internal/rollout"
	"github.com/TimurManjosov/flagledger/internal/store"
	"github.com/TimurManjosov/flagledger/internal/validation"
	"github.com/TimurManjosov/flagledger/internal/webhook"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type eventSink struct {
	mu     sync.Mutex
	events []webhook.Event
}

func (e *eventSink) Dispatch(event webhook.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *eventSink) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *store.MemoryStore
	log    *decision.MemoryLog
	cache  *cache.Memory
	clock  *clock.Fixed
	events *eventSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFixed(testNow)
	f := &fixture{
		store:  store.NewMemoryStoreWithClock(clk),
		log:    decision.NewMemoryLog(),
		cache:  cache.NewMemory(clk),
		clock:  clk,
		events: &eventSink{},
	}
	f.svc = New(Deps{
		Store:    f.store,
		Log:      f.log,
		Recorder: decision.NewSyncRecorder(f.log, clk),
		Cache:    f.cache,
		Webhooks: f.events,
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, Options{CacheTTL: time.Minute})
	return f
}

func (f *fixture) create(t *testing.T, in FlagInput) *store.Flag {
	t.Helper()
	if in.Name == "" {
		in.Name = in.Key
	}
	flag, err := f.svc.CreateFlag(context.Background(), in)
	require.NoError(t, err)
	return flag
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestEvaluate_UnknownFlag(t *testing.T) {
	f := newFixture(t)

	got := f.svc.Evaluate(context.Background(), "ghost", engine.Context{"user_id": "u1"})

	assert.Equal(t, engine.Result{Enabled: false, Reason: engine.ReasonFlagNotFound}, got)
	assert.Equal(t, "Feature flag not found", got.Reason.Message())
	assert.Equal(t, 0, f.log.Len(), "unknown keys are not recorded")
}

func TestEvaluate_RecordsDecision(t *testing.T) {
	f := newFixture(t)
	f.create(t, FlagInput{Key: "checkout", Enabled: true, RolloutType: "boolean"})

	got := f.svc.Evaluate(context.Background(), "checkout", engine.Context{"user_id": "u1", "plan": "pro"})
	assert.Equal(t, engine.Result{Enabled: true, Reason: engine.ReasonFullyEnabled}, got)

	history, err := f.svc.History(context.Background(), analytics.Identity{UserID: "u1"}, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "checkout", history[0].FlagKey)
	assert.Equal(t, engine.ReasonFullyEnabled, history[0].Reason)
	assert.Equal(t, testNow, history[0].EvaluatedAt)
	assert.Equal(t, "pro", history[0].Context["plan"])

	stats, err := f.svc.FlagStats(context.Background(), "checkout", 24)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, 100.0, stats.EnabledPercentage)
}

func TestEvaluate_EveryCallIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.create(t, FlagInput{Key: "checkout", Enabled: true, RolloutType: "boolean"})

	for i := 0; i < 3; i++ {
		f.svc.Evaluate(context.Background(), "checkout", engine.Context{"user_id": "u1"})
	}
	assert.Equal(t, 3, f.log.Len(), "cache hits are recorded like misses")
}

func TestCheck_DoesNotRecord(t *testing.T) {
	f := newFixture(t)
	f.create(t, FlagInput{Key: "checkout", Enabled: true, RolloutType: "boolean"})

	got := f.svc.Check(context.Background(), "checkout", nil)
	assert.True(t, got.Enabled)
	assert.Equal(t, 0, f.log.Len())
}

func TestEvaluate_PercentageMatchesEngine(t *testing.T) {
	f := newFixture(t)
	f.create(t, FlagInput{Key: "beta", Enabled: true, RolloutType: "percentage", RolloutValue: json.RawMessage(`{"percentage":50}`)})

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("user-%d", i)
		got := f.svc.Evaluate(context.Background(), "beta", engine.Context{"user_id": id})
		assert.Equal(t, rollout.Bucket("beta", id, "") < 50, got.Enabled, id)
	}
}

func TestEvaluate_CacheInvalidatedByMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, FlagInput{Key: "checkout", Enabled: true, RolloutType: "boolean"})

	require.True(t, f.svc.Evaluate(ctx, "checkout", engine.Context{"user_id": "u1"}).Enabled)

	// A write that bypasses the service leaves the cached result in place.
	_, err := f.store.UpdateFlag(ctx, "checkout", func(p *store.UpsertParams) error {
		p.Enabled = false
		return nil
	})
	require.NoError(t, err)
	assert.True(t, f.svc.Evaluate(ctx, "checkout", engine.Context{"user_id": "u1"}).Enabled)

	// Going through the service invalidates it.
	_, err = f.svc.UpdateFlag(ctx, "checkout", FlagPatch{Enabled: boolPtr(false)})
	require.NoError(t, err)
	got := f.svc.Evaluate(ctx, "checkout", engine.Context{"user_id": "u1"})
	assert.Equal(t, engine.Result{Enabled: false, Reason: engine.ReasonFlagDisabled}, got)
}

func TestEvaluate_CreateInvalidatesNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, engine.ReasonFlagNotFound, f.svc.Evaluate(ctx, "late", nil).Reason)
	f.create(t, FlagInput{Key: "late", Enabled: true, RolloutType: "boolean"})
	assert.Equal(t, engine.ReasonFullyEnabled, f.svc.Evaluate(ctx, "late", nil).Reason)
}

func TestEvaluate_CacheRespectsWindowBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	endsAt := testNow.Add(10 * time.Second)
	f.create(t, FlagInput{Key: "promo", Enabled: true, RolloutType: "scheduled", EndsAt: &endsAt})

	assert.Equal(t, engine.ReasonWithinSchedule, f.svc.Evaluate(ctx, "promo", nil).Reason)

	f.clock.Advance(10 * time.Second)
	assert.Equal(t, engine.ReasonWithinSchedule, f.svc.Evaluate(ctx, "promo", nil).Reason, "ends_at is inclusive")

	f.clock.Advance(time.Second)
	assert.Equal(t, engine.ReasonExpired, f.svc.Evaluate(ctx, "promo", nil).Reason)
}

type unavailableStore struct {
	store.Store
}

func (unavailableStore) GetFlagByKey(context.Context, string) (*store.Flag, error) {
	return nil, fmt.Errorf("get flag: %w", store.ErrUnavailable)
}

func TestEvaluate_StoreUnavailable(t *testing.T) {
	log := decision.NewMemoryLog()
	svc := New(Deps{Store: unavailableStore{store.NewMemoryStore()}, Log: log, Logger: zerolog.Nop()}, Options{})

	got := svc.Evaluate(context.Background(), "checkout", engine.Context{"user_id": "u1"})
	assert.Equal(t, engine.Result{Enabled: false, Reason: engine.ReasonEvaluationError}, got)
	assert.Equal(t, 0, log.Len())
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, decision.Decision) error {
	return errors.New("disk full")
}
func (failingRecorder) Close(context.Context) error { return nil }

func TestEvaluate_RecorderFailureDoesNotFailEvaluation(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := st.UpsertFlag(context.Background(), store.UpsertParams{Key: "checkout", Name: "Checkout", Enabled: true, Rollout: rollout.Boolean{}})
	require.NoError(t, err)
	svc := New(Deps{Store: st, Log: decision.NewMemoryLog(), Recorder: failingRecorder{}, Logger: zerolog.Nop()}, Options{})

	got := svc.Evaluate(context.Background(), "checkout", nil)
	assert.Equal(t, engine.Result{Enabled: true, Reason: engine.ReasonFullyEnabled}, got)
}

func TestCreateFlag_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateFlag(context.Background(), FlagInput{
		Key:          "bad key",
		Name:         "Bad",
		RolloutType:  "percentage",
		RolloutValue: json.RawMessage(`{"user_ids":["u1"]}`),
	})

	var fields validation.FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "key")
	assert.Contains(t, fields, "rollout_value")
	assert.Empty(t, f.events.types())
}

func TestCreateFlag_ReplaceEmitsUpdate(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, FlagInput{Key: "checkout", RolloutType: "boolean"})

	f.clock.Advance(time.Minute)
	second := f.create(t, FlagInput{Key: "checkout", Name: "Checkout v2", Enabled: true, RolloutType: "boolean"})

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, []string{webhook.EventFlagCreated, webhook.EventFlagUpdated}, f.events.types())
	assert.Equal(t, []string{"is_enabled", "name"}, f.events.events[1].Data.Changes)
}

func TestUpdateFlag_Patch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	endsAt := testNow.Add(time.Hour)
	f.create(t, FlagInput{Key: "beta", Name: "Beta", Description: "keep me", Enabled: true, RolloutType: "percentage",
		RolloutValue: json.RawMessage(`{"percentage":10}`), EndsAt: &endsAt})

	updated, err := f.svc.UpdateFlag(ctx, "beta", FlagPatch{RolloutValue: json.RawMessage(`{"percentage":75}`)})
	require.NoError(t, err)
	assert.Equal(t, rollout.Percentage{Percent: 75}, updated.Rollout)
	assert.Equal(t, "keep me", updated.Description)
	assert.True(t, updated.Enabled)
	require.NotNil(t, updated.EndsAt)

	updated, err = f.svc.UpdateFlag(ctx, "beta", FlagPatch{
		RolloutType:  strPtr("user_list"),
		RolloutValue: json.RawMessage(`{"user_ids":["u1"]}`),
		EndsAt:       SetTo(nil),
	})
	require.NoError(t, err)
	assert.Equal(t, rollout.TypeUserList, updated.RolloutType())
	assert.Nil(t, updated.EndsAt)

	assert.Equal(t, []string{webhook.EventFlagCreated, webhook.EventFlagUpdated, webhook.EventFlagUpdated}, f.events.types())
}

func TestUpdateFlag_InvalidPatchLeavesFlagUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, FlagInput{Key: "beta", Enabled: true, RolloutType: "boolean"})

	_, err := f.svc.UpdateFlag(ctx, "beta", FlagPatch{RolloutType: strPtr("percentage")})
	var fields validation.FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "rollout_value")

	startsAt := testNow.Add(time.Hour)
	endsAt := testNow
	_, err = f.svc.UpdateFlag(ctx, "beta", FlagPatch{StartsAt: SetTo(&startsAt), EndsAt: SetTo(&endsAt)})
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "ends_at")

	flag, err := f.svc.GetFlag(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, rollout.TypeBoolean, flag.RolloutType())
	assert.Nil(t, flag.StartsAt)
	assert.Equal(t, []string{webhook.EventFlagCreated}, f.events.types())
}

func TestUpdateFlag_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpdateFlag(context.Background(), "ghost", FlagPatch{Enabled: boolPtr(true)})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, FlagInput{Key: "checkout", Enabled: true, RolloutType: "boolean"})
	f.svc.Evaluate(ctx, "checkout", engine.Context{"user_id": "u1"})

	deleted, err := f.svc.DeleteFlag(ctx, "checkout")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = f.svc.DeleteFlag(ctx, "checkout")
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.Equal(t, engine.ReasonFlagNotFound, f.svc.Evaluate(ctx, "checkout", engine.Context{"user_id": "u1"}).Reason)
	assert.Equal(t, []string{webhook.EventFlagCreated, webhook.EventFlagDeleted}, f.events.types())

	history, err := f.svc.History(ctx, analytics.Identity{UserID: "u1"}, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "history survives deletion")
}

func TestActiveFlags_Cached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, FlagInput{Key: "a", Enabled: true, RolloutType: "boolean"})
	f.create(t, FlagInput{Key: "b", Enabled: false, RolloutType: "boolean"})

	flags, err := f.svc.ActiveFlags(ctx)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "a", flags[0].Key)

	// Served from the cache until a mutation invalidates the listing.
	_, err = f.store.UpsertFlag(ctx, store.UpsertParams{Key: "c", Name: "c", Enabled: true, Rollout: rollout.Boolean{}})
	require.NoError(t, err)
	flags, err = f.svc.ActiveFlags(ctx)
	require.NoError(t, err)
	assert.Len(t, flags, 1)

	_, err = f.svc.UpdateFlag(ctx, "b", FlagPatch{Enabled: boolPtr(true)})
	require.NoError(t, err)
	flags, err = f.svc.ActiveFlags(ctx)
	require.NoError(t, err)
	keys := make([]string, len(flags))
	for i, fl := range flags {
		keys[i] = fl.Key
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestNullableTime(t *testing.T) {
	var patch FlagPatch
	require.NoError(t, json.Unmarshal([]byte(`{"starts_at":"2024-06-01T00:00:00Z","ends_at":null}`), &patch))
	assert.True(t, patch.StartsAt.Set)
	require.NotNil(t, patch.StartsAt.Value)
	assert.True(t, patch.EndsAt.Set)
	assert.Nil(t, patch.EndsAt.Value)

	var empty FlagPatch
	require.NoError(t, json.Unmarshal([]byte(`{}`), &empty))
	assert.False(t, empty.StartsAt.Set)
}
