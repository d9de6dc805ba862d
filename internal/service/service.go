// Package service wires the flag store, evaluation engine, decision recorder, cache and
// webhook dispatcher into the flows the HTTP layer exposes.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagledger/internal/analytics"
	"github.com/TimurManjosov/flagledger/internal/cache"
	"github.com/TimurManjosov/flagledger/internal/clock"
	"github.com/TimurManjosov/flagledger/internal/decision"
	"github.com/TimurManjosov/flagledger/internal/store"
	"github.com/TimurManjosov/flagledger/internal/webhook"
)

// EventDispatcher receives flag mutation events. *webhook.Dispatcher implements it.
type EventDispatcher interface {
	Dispatch(event webhook.Event)
}

// Deps are the collaborators of a Service. Cache, Webhooks and Clock are optional.
type Deps struct {
	Store    store.Store
	Log      decision.Log
	Recorder decision.Recorder
	Cache    cache.Cache
	Webhooks EventDispatcher
	Clock    clock.Clock
	Logger   zerolog.Logger
}

// Options tunes evaluation.
type Options struct {
	// RolloutSalt is appended to percentage bucketing seeds.
	RolloutSalt string
	// CacheTTL bounds how long evaluation results and the active-flag listing are cached.
	CacheTTL time.Duration
}

type Service struct {
	store       store.Store
	recorder    decision.Recorder
	cache       cache.Cache
	invalidator *cache.Invalidator
	analytics   *analytics.Aggregator
	webhooks    EventDispatcher
	clock       clock.Clock
	logger      zerolog.Logger
	opts        Options
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(webhook.Event) {}

func New(deps Deps, opts Options) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Recorder == nil {
		deps.Recorder = decision.NewSyncRecorder(deps.Log, deps.Clock)
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewNoop()
	}
	if deps.Webhooks == nil {
		deps.Webhooks = noopDispatcher{}
	}
	logger := deps.Logger.With().Str("component", "flag_service").Logger()

	return &Service{
		store:       deps.Store,
		recorder:    deps.Recorder,
		cache:       deps.Cache,
		invalidator: cache.NewInvalidator(deps.Cache, deps.Logger),
		analytics:   analytics.NewAggregator(deps.Log, deps.Clock),
		webhooks:    deps.Webhooks,
		clock:       deps.Clock,
		logger:      logger,
		opts:        opts,
	}
}

// FlagStats returns decision statistics for key over the trailing window.
// Flags that no longer exist still report their recorded history.
func (s *Service) FlagStats(ctx context.Context, key string, windowHours int) (analytics.FlagStats, error) {
	return s.analytics.FlagStats(ctx, key, windowHours)
}

// History returns the newest decisions recorded for an identity.
func (s *Service) History(ctx context.Context, id analytics.Identity, limit int) ([]decision.Decision, error) {
	return s.analytics.IdentityHistory(ctx, id, limit)
}
