// Package api exposes the flag service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagledger/internal/auth"
	"github.com/TimurManjosov/flagledger/internal/logging"
	"github.com/TimurManjosov/flagledger/internal/service"
	"github.com/TimurManjosov/flagledger/internal/telemetry"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Options tunes the router.
type Options struct {
	// RateLimitPerIP is the number of requests per minute allowed per client IP. 0 disables.
	RateLimitPerIP int
	// RequestTimeout bounds each request. Defaults to 5s.
	RequestTimeout time.Duration
	// ReadyChecks are run by /readyz, keyed by dependency name.
	ReadyChecks map[string]ReadyCheck
}

type Server struct {
	svc    *service.Service
	auth   *auth.Authenticator
	logger zerolog.Logger
	opts   Options
}

func NewServer(svc *service.Service, authn *auth.Authenticator, logger zerolog.Logger, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	return &Server{svc: svc, auth: authn, logger: logger, opts: opts}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(logging.Middleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)

	r.Group(func(r chi.Router) {
		if s.opts.RateLimitPerIP > 0 {
			r.Use(httprate.Limit(
				s.opts.RateLimitPerIP,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByRealIP),
				httprate.WithLimitHandler(RateLimitedError),
			))
		}

		r.Route("/flags", func(r chi.Router) {
			r.Get("/", s.handleListFlags)
			r.Get("/active", s.handleActiveFlags)
			r.Get("/history", s.handleHistory)

			r.Get("/{key}", s.handleGetFlag)
			r.Post("/{key}/evaluate", s.handleEvaluate)
			r.Get("/{key}/check", s.handleCheck)
			r.Post("/{key}/check", s.handleCheck)
			r.Get("/{key}/analytics", s.handleAnalytics)

			r.Group(func(r chi.Router) {
				r.Use(s.auth.RequireAdmin(authError))
				r.Post("/", s.handleCreateFlag)
				r.Put("/{key}", s.handleUpdateFlag)
				r.Delete("/{key}", s.handleDeleteFlag)
			})
		})
	})

	return r
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.opts.ReadyChecks))
	for name := range s.opts.ReadyChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := readyResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	code := http.StatusOK
	for _, name := range names {
		if err := s.opts.ReadyChecks[name](r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

type dataResponse struct {
	Data any `json:"data"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, v any) {
	writeJSON(w, code, dataResponse{Data: v})
}

// decodeJSON reads a JSON body of at most maxBodyBytes into dst. An empty body leaves
// dst untouched when allowEmpty is set. It writes the error response itself and
// reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF) && allowEmpty:
		return true
	case errors.As(err, &tooLarge):
		RequestTooLargeError(w, r, "Request body too large")
	case errors.Is(err, io.EOF):
		BadRequestError(w, r, ErrCodeInvalidJSON, "Request body is required")
	default:
		BadRequestError(w, r, ErrCodeInvalidJSON, "Invalid JSON in request body")
	}
	return false
}
