package decision

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mydb "github.com/TimurManjosov/flagledger/internal/db"
	"github.com/TimurManjosov/flagledger/internal/engine"
	"github.com/TimurManjosov/flagledger/internal/store"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func logs(t *testing.T) map[string]Log {
	t.Helper()
	sqlDB, err := mydb.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return map[string]Log{
		"memory": NewMemoryLog(),
		"sqlite": NewSQLiteLog(sqlDB),
	}
}

func TestLog_CountByReason(t *testing.T) {
	for name, l := range logs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			batch := []Decision{
				{ID: "1", FlagKey: "beta", Enabled: true, Reason: engine.ReasonPercentageIncluded, EvaluatedAt: base},
				{ID: "2", FlagKey: "beta", Enabled: true, Reason: engine.ReasonPercentageIncluded, EvaluatedAt: base.Add(time.Minute)},
				{ID: "3", FlagKey: "beta", Enabled: false, Reason: engine.ReasonPercentageExcluded, EvaluatedAt: base},
				{ID: "4", FlagKey: "beta", Enabled: false, Reason: engine.ReasonPercentageExcluded, EvaluatedAt: base.Add(-2 * time.Hour)},
				{ID: "5", FlagKey: "other", Enabled: true, Reason: engine.ReasonFullyEnabled, EvaluatedAt: base},
			}
			require.NoError(t, l.AppendBatch(ctx, batch))

			counts, err := l.CountByReason(ctx, "beta", base.Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, []ReasonCount{
				{Reason: engine.ReasonPercentageExcluded, Enabled: false, Count: 1},
				{Reason: engine.ReasonPercentageIncluded, Enabled: true, Count: 2},
			}, counts)

			// since is inclusive
			counts, err = l.CountByReason(ctx, "other", base)
			require.NoError(t, err)
			require.Len(t, counts, 1)
			assert.EqualValues(t, 1, counts[0].Count)

			counts, err = l.CountByReason(ctx, "ghost", base.Add(-time.Hour))
			require.NoError(t, err)
			assert.Empty(t, counts)
		})
	}
}

func TestLog_HistoryNewestFirstAndLimited(t *testing.T) {
	for name, l := range logs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				require.NoError(t, l.Append(ctx, Decision{
					ID:          "u-" + string(rune('a'+i)),
					FlagKey:     "beta",
					Enabled:     i%2 == 0,
					Reason:      engine.ReasonFullyEnabled,
					Context:     map[string]any{"user_id": "alice", "plan": "pro"},
					UserID:      strPtr("alice"),
					EvaluatedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}
			require.NoError(t, l.Append(ctx, Decision{
				ID: "s-1", FlagKey: "beta", Reason: engine.ReasonFlagDisabled,
				SessionID: strPtr("sess"), EvaluatedAt: base,
			}))

			history, err := l.History(ctx, HistoryQuery{UserID: "alice", Limit: 3})
			require.NoError(t, err)
			require.Len(t, history, 3)
			for i := 1; i < len(history); i++ {
				assert.False(t, history[i].EvaluatedAt.After(history[i-1].EvaluatedAt), "history must be newest first")
			}
			assert.True(t, history[0].EvaluatedAt.Equal(base.Add(4*time.Minute)))
			assert.Equal(t, "pro", history[0].Context["plan"])

			bySession, err := l.History(ctx, HistoryQuery{SessionID: "sess", Limit: 50})
			require.NoError(t, err)
			require.Len(t, bySession, 1)
			assert.Equal(t, "s-1", bySession[0].ID)
			assert.Nil(t, bySession[0].UserID)

			none, err := l.History(ctx, HistoryQuery{Limit: 50})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestNew_ExtractsIdentifiers(t *testing.T) {
	d := New("beta", engine.Result{Enabled: true, Reason: engine.ReasonUserListed},
		engine.Context{"user_id": "u1", "session_id": "s1", "plan": "pro"})

	assert.Equal(t, "beta", d.FlagKey)
	assert.True(t, d.Enabled)
	assert.Equal(t, engine.ReasonUserListed, d.Reason)
	require.NotNil(t, d.UserID)
	assert.Equal(t, "u1", *d.UserID)
	require.NotNil(t, d.SessionID)
	assert.Equal(t, "s1", *d.SessionID)
	assert.Equal(t, "pro", d.Context["plan"])

	anon := New("beta", engine.Result{Reason: engine.ReasonFlagDisabled}, nil)
	assert.Nil(t, anon.UserID)
	assert.Nil(t, anon.SessionID)
	assert.NotNil(t, anon.Context)
}

func TestNew_CopiesContext(t *testing.T) {
	ctx := engine.Context{"user_id": "u1", "plan": "pro"}
	d := New("beta", engine.Result{Enabled: true, Reason: engine.ReasonUserListed}, ctx)

	ctx["plan"] = "free"
	ctx["user_id"] = "u2"
	ctx["extra"] = true

	assert.Equal(t, map[string]any{"user_id": "u1", "plan": "pro"}, d.Context)
	require.NotNil(t, d.UserID)
	assert.Equal(t, "u1", *d.UserID)
}

func TestLogFor(t *testing.T) {
	assert.IsType(t, &MemoryLog{}, LogFor(store.NewMemoryStore()))

	sqlDB, err := mydb.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer sqlDB.Close()
	assert.IsType(t, &SQLiteLog{}, LogFor(store.NewSQLiteStore(sqlDB)))
}
