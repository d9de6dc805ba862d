package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TimurManjosov/flagledger/internal/engine"
	"github.com/TimurManjosov/flagledger/internal/service"
	"github.com/TimurManjosov/flagledger/internal/testutil"
)

func newClient(t *testing.T) (*Client, *testutil.TestServer) {
	t.Helper()
	ts := testutil.NewTestServer(t, "admin-key")
	srv := ts.Start(t)
	return NewClient(srv.URL+"/", "admin-key"), ts
}

func TestNewClient_TrimsSlash(t *testing.T) {
	c := NewClient("http://localhost:8080/", "")
	assert.Equal(t, "http://localhost:8080", c.BaseURL)
}

func TestClient_FlagLifecycle(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	created, err := c.CreateFlag(ctx, service.FlagInput{
		Key:          "beta",
		Name:         "Beta",
		Enabled:      true,
		RolloutType:  "user_list",
		RolloutValue: json.RawMessage(`{"user_ids":["u1"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "beta", created.Key)
	assert.True(t, created.Enabled)

	got, err := c.GetFlag(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, "Beta", got.Name)

	updated, err := c.UpdateFlag(ctx, "beta", map[string]any{"is_enabled": false})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, "Beta", updated.Name)

	all, err := c.ListFlags(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	active, err := c.ListFlags(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, c.DeleteFlag(ctx, "beta"))

	_, err = c.GetFlag(ctx, "beta")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
}

func TestClient_EvaluateAndAnalytics(t *testing.T) {
	c, ts := newClient(t)
	ctx := context.Background()

	require.NoError(t, testutil.SeedFlags(ctx, ts.Service, []service.FlagInput{{
		Key:          "vip",
		Name:         "VIP",
		Enabled:      true,
		RolloutType:  "user_list",
		RolloutValue: json.RawMessage(`{"user_ids":["u1","u2"]}`),
	}}))

	res, err := c.Evaluate(ctx, "vip", map[string]any{"user_id": "u1"})
	require.NoError(t, err)
	assert.True(t, res.Enabled)
	assert.Equal(t, string(engine.ReasonUserListed), res.Code)

	res, err = c.Evaluate(ctx, "vip", map[string]any{"user_id": "u3"})
	require.NoError(t, err)
	assert.False(t, res.Enabled)
	assert.Equal(t, string(engine.ReasonUserNotListed), res.Code)

	enabled, err := c.Check(ctx, "vip", map[string]any{"user_id": "u2"})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, 2, ts.Log.Len(), "check must not record")

	stats, err := c.FlagStats(ctx, "vip", 0)
	require.NoError(t, err)
	assert.Equal(t, 24, stats.PeriodHours)
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 1, stats.EnabledCount)
	assert.InDelta(t, 50.0, stats.EnabledPercentage, 0.001)

	history, err := c.History(ctx, "u1", "", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "vip", history[0].FlagKey)
	assert.True(t, history[0].Enabled)
}

func TestClient_EvaluateUnknownFlag(t *testing.T) {
	c, _ := newClient(t)

	res, err := c.Evaluate(context.Background(), "missing", nil)
	require.NoError(t, err)
	assert.False(t, res.Enabled)
	assert.Equal(t, "Feature flag not found", res.Reason)
	assert.Equal(t, string(engine.ReasonFlagNotFound), res.Code)
}

func TestClient_ValidationError(t *testing.T) {
	c, _ := newClient(t)

	_, err := c.CreateFlag(context.Background(), service.FlagInput{
		Key:          "bad",
		Name:         "Bad",
		RolloutType:  "percentage",
		RolloutValue: json.RawMessage(`{"percentage":150}`),
	})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	assert.Contains(t, apiErr.Fields, "rollout_value")
	assert.NotEmpty(t, apiErr.RequestID)
	assert.Contains(t, apiErr.Error(), "rollout_value")
}

func TestClient_Unauthorized(t *testing.T) {
	c, _ := newClient(t)
	c.APIKey = ""

	_, err := c.CreateFlag(context.Background(), service.FlagInput{Key: "x", Name: "X", RolloutType: "boolean"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").GetFlag(context.Background(), "x")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Message)
}
