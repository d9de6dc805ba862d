package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/TimurManjosov/flagledger/internal/rollout"
	"github.com/TimurManjosov/flagledger/internal/store"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluate_Order(t *testing.T) {
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	tests := []struct {
		name string
		flag *store.Flag
		want Result
	}{
		{
			name: "missing flag",
			flag: nil,
			want: Result{Enabled: false, Reason: ReasonFlagNotFound},
		},
		{
			name: "master switch overrides boolean rollout",
			flag: &store.Flag{Key: "f", Enabled: false, Rollout: rollout.Boolean{}},
			want: Result{Enabled: false, Reason: ReasonFlagDisabled},
		},
		{
			name: "disabled wins over window",
			flag: &store.Flag{Key: "f", Enabled: false, Rollout: rollout.Boolean{}, StartsAt: &future},
			want: Result{Enabled: false, Reason: ReasonFlagDisabled},
		},
		{
			name: "not yet started",
			flag: &store.Flag{Key: "f", Enabled: true, Rollout: rollout.Boolean{}, StartsAt: &future},
			want: Result{Enabled: false, Reason: ReasonNotYetStarted},
		},
		{
			name: "expired",
			flag: &store.Flag{Key: "f", Enabled: true, Rollout: rollout.Scheduled{}, EndsAt: &past},
			want: Result{Enabled: false, Reason: ReasonExpired},
		},
		{
			name: "boolean",
			flag: &store.Flag{Key: "f", Enabled: true, Rollout: rollout.Boolean{}},
			want: Result{Enabled: true, Reason: ReasonFullyEnabled},
		},
		{
			name: "nil rollout treated as boolean",
			flag: &store.Flag{Key: "f", Enabled: true},
			want: Result{Enabled: true, Reason: ReasonFullyEnabled},
		},
		{
			name: "scheduled inside window",
			flag: &store.Flag{Key: "f", Enabled: true, Rollout: rollout.Scheduled{}, StartsAt: &past, EndsAt: &future},
			want: Result{Enabled: true, Reason: ReasonWithinSchedule},
		},
		{
			name: "percentage 100 includes",
			flag: &store.Flag{Key: "f", Enabled: true, Rollout: rollout.Percentage{Percent: 100}},
			want: Result{Enabled: true, Reason: ReasonPercentageIncluded},
		},
		{
			name: "percentage 0 excludes",
			flag: &store.Flag{Key: "f", Enabled: true, Rollout: rollout.Percentage{Percent: 0}},
			want: Result{Enabled: false, Reason: ReasonPercentageExcluded},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.flag, Context{"user_id": "alice"}, testNow, "")
			if got != tt.want {
				t.Errorf("Evaluate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_WindowBoundsInclusive(t *testing.T) {
	boundary := testNow

	startFlag := &store.Flag{Key: "s", Enabled: true, Rollout: rollout.Scheduled{}, StartsAt: timePtr(boundary)}
	if got := Evaluate(startFlag, nil, boundary, ""); !got.Enabled {
		t.Errorf("expected active at starts_at, got %+v", got)
	}
	if got := Evaluate(startFlag, nil, boundary.Add(-time.Second), ""); got.Reason != ReasonNotYetStarted {
		t.Errorf("expected NOT_YET_STARTED one second before, got %+v", got)
	}

	endFlag := &store.Flag{Key: "e", Enabled: true, Rollout: rollout.Scheduled{}, EndsAt: timePtr(boundary)}
	if got := Evaluate(endFlag, nil, boundary, ""); !got.Enabled {
		t.Errorf("expected active at ends_at, got %+v", got)
	}
	if got := Evaluate(endFlag, nil, boundary.Add(time.Second), ""); got != (Result{Reason: ReasonExpired}) {
		t.Errorf("expected EXPIRED one second after, got %+v", got)
	}

	point := &store.Flag{Key: "p", Enabled: true, Rollout: rollout.Boolean{}, StartsAt: timePtr(boundary), EndsAt: timePtr(boundary)}
	if got := Evaluate(point, nil, boundary, ""); !got.Enabled {
		t.Errorf("expected single-instant window to be active, got %+v", got)
	}
}

func TestEvaluate_PercentageDeterministic(t *testing.T) {
	flag := &store.Flag{Key: "beta", Enabled: true, Rollout: rollout.Percentage{Percent: 50}}
	ctx := Context{"user_id": "alice"}

	first := Evaluate(flag, ctx, testNow, "")
	for i := 0; i < 100; i++ {
		if got := Evaluate(flag, ctx, testNow, ""); got != first {
			t.Fatalf("call %d returned %+v, first call returned %+v", i, got, first)
		}
	}

	expected := rollout.Bucket("beta", "alice", "") < 50
	if first.Enabled != expected {
		t.Errorf("Evaluate() enabled = %v, bucket says %v", first.Enabled, expected)
	}
}

func TestEvaluate_PercentageIdentifierFallback(t *testing.T) {
	flag := &store.Flag{Key: "beta", Enabled: true, Rollout: rollout.Percentage{Percent: 50}}

	bySession := Evaluate(flag, Context{"session_id": "sess-1"}, testNow, "")
	if want := rollout.Bucket("beta", "sess-1", "") < 50; bySession.Enabled != want {
		t.Errorf("session fallback enabled = %v, want %v", bySession.Enabled, want)
	}

	// user_id takes precedence over session_id
	both := Evaluate(flag, Context{"user_id": "alice", "session_id": "sess-1"}, testNow, "")
	if want := rollout.Bucket("beta", "alice", "") < 50; both.Enabled != want {
		t.Errorf("user precedence enabled = %v, want %v", both.Enabled, want)
	}
}

func TestEvaluate_AnonymousContext(t *testing.T) {
	contexts := []Context{nil, {}, {"country": "DE"}, {"user_id": ""}, {"user_id": map[string]any{"x": 1}}}

	partial := &store.Flag{Key: "beta", Enabled: true, Rollout: rollout.Percentage{Percent: 99}}
	full := &store.Flag{Key: "beta", Enabled: true, Rollout: rollout.Percentage{Percent: 100}}
	list := &store.Flag{Key: "vip", Enabled: true, Rollout: rollout.NewUserList("u1")}

	for _, ctx := range contexts {
		if got := Evaluate(partial, ctx, testNow, ""); got != (Result{Reason: ReasonPercentageExcluded}) {
			t.Errorf("partial rollout with %v = %+v, want excluded", ctx, got)
		}
		if got := Evaluate(full, ctx, testNow, ""); got != (Result{Reason: ReasonPercentageExcluded}) {
			t.Errorf("full rollout with %v = %+v, want excluded", ctx, got)
		}
		if got := Evaluate(list, ctx, testNow, ""); got != (Result{Reason: ReasonUserNotListed}) {
			t.Errorf("user list with %v = %+v, want not listed", ctx, got)
		}
	}
}

func TestEvaluate_UserListScenario(t *testing.T) {
	flag := &store.Flag{
		Key:     "vip",
		Enabled: true,
		Rollout: rollout.MustParse(rollout.TypeUserList, `{"user_ids":["u1","u2"]}`),
	}

	if got := Evaluate(flag, Context{"user_id": "u1"}, testNow, ""); got != (Result{Enabled: true, Reason: ReasonUserListed}) {
		t.Errorf("u1 = %+v, want USER_LISTED", got)
	}
	if got := Evaluate(flag, Context{"user_id": "u3"}, testNow, ""); got != (Result{Enabled: false, Reason: ReasonUserNotListed}) {
		t.Errorf("u3 = %+v, want USER_NOT_LISTED", got)
	}
}

func TestEvaluate_UserListNumericIdentifiers(t *testing.T) {
	flag := &store.Flag{Key: "vip", Enabled: true, Rollout: rollout.MustParse(rollout.TypeUserList, `{"user_ids":[42]}`)}

	var ctx Context
	if err := json.Unmarshal([]byte(`{"user_id": 42}`), &ctx); err != nil {
		t.Fatalf("unmarshal context: %v", err)
	}
	if got := Evaluate(flag, ctx, testNow, ""); !got.Enabled {
		t.Errorf("numeric user_id should match numeric list entry, got %+v", got)
	}
	if got := Evaluate(flag, Context{"user_id": "42"}, testNow, ""); !got.Enabled {
		t.Errorf("string user_id should match numeric list entry, got %+v", got)
	}
}

func TestReason_Message(t *testing.T) {
	if got := ReasonFlagNotFound.Message(); got != "Feature flag not found" {
		t.Errorf("FLAG_NOT_FOUND message = %q", got)
	}
	for _, r := range Reasons {
		if r.Message() == string(r) {
			t.Errorf("reason %s has no human message", r)
		}
	}
	if got := Reason("SOMETHING_ELSE").Message(); got != "SOMETHING_ELSE" {
		t.Errorf("unknown reason message = %q", got)
	}
}

func TestContext_Identifiers(t *testing.T) {
	ctx := Context{"user_id": "  alice ", "session_id": 17.0}
	if got := ctx.UserID(); got != "alice" {
		t.Errorf("UserID() = %q", got)
	}
	if got := ctx.SessionID(); got != "17" {
		t.Errorf("SessionID() = %q", got)
	}
	if got := (Context{"session_id": 1.5}).Identifier(); got != "" {
		t.Errorf("fractional identifier should be ignored, got %q", got)
	}
}
