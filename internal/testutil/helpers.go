// Package testutil builds a fully wired in-memory flagledger server for tests.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagledger/internal/api"
	"github.com/TimurManjosov/flagledger/internal/auth"
	"github.com/TimurManjosov/flagledger/internal/cache"
	"github.com/TimurManjosov/flagledger/internal/clock"
	"github.com/TimurManjosov/flagledger/internal/decision"
	"github.com/TimurManjosov/flagledger/internal/service"
	"github.com/TimurManjosov/flagledger/internal/store"
)

// Epoch is the time the server's fixed clock starts at.
var Epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// TestServer is a router over memory-backed store, decision log and cache.
type TestServer struct {
	Handler  http.Handler
	Service  *service.Service
	Store    *store.MemoryStore
	Log      *decision.MemoryLog
	Cache    *cache.Memory
	Clock    *clock.Fixed
	AdminKey string
}

// NewTestServer wires an api.Server whose admin endpoints accept adminKey.
func NewTestServer(t *testing.T, adminKey string) *TestServer {
	t.Helper()
	clk := clock.NewFixed(Epoch)
	ts := &TestServer{
		Store:    store.NewMemoryStoreWithClock(clk),
		Log:      decision.NewMemoryLog(),
		Cache:    cache.NewMemory(clk),
		Clock:    clk,
		AdminKey: adminKey,
	}
	ts.Service = service.New(service.Deps{
		Store:    ts.Store,
		Log:      ts.Log,
		Recorder: decision.NewSyncRecorder(ts.Log, clk),
		Cache:    ts.Cache,
		Clock:    clk,
		Logger:   zerolog.Nop(),
	}, service.Options{CacheTTL: time.Minute})

	authn := auth.NewAuthenticator(adminKey, "", zerolog.Nop())
	ts.Handler = api.NewServer(ts.Service, authn, zerolog.Nop(), api.Options{}).Router()
	return ts
}

// Start serves the router on a loopback listener closed at test cleanup.
func (ts *TestServer) Start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(ts.Handler)
	t.Cleanup(srv.Close)
	return srv
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// SeedFlags creates flags through the service so caches and validation behave as in
// production.
func SeedFlags(ctx context.Context, svc *service.Service, flags []service.FlagInput) error {
	for _, f := range flags {
		if _, err := svc.CreateFlag(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
