package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/TimurManjosov/flagledger/internal/cache"
	"github.com/TimurManjosov/flagledger/internal/decision"
	"github.com/TimurManjosov/flagledger/internal/engine"
	"github.com/TimurManjosov/flagledger/internal/store"
	"github.com/TimurManjosov/flagledger/internal/telemetry"
)

// Evaluate decides key for evalCtx and records the decision. It never fails: store
// errors degrade to {false, EVALUATION_ERROR}. Unknown keys and degraded results are
// not recorded.
func (s *Service) Evaluate(ctx context.Context, key string, evalCtx engine.Context) engine.Result {
	ctx, span := telemetry.Tracer().Start(ctx, "service.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("flag.key", key))

	result := s.decide(ctx, key, evalCtx)
	span.SetAttributes(attribute.String("flag.reason", string(result.Reason)), attribute.Bool("flag.enabled", result.Enabled))

	if result.Reason == engine.ReasonFlagNotFound || result.Reason == engine.ReasonEvaluationError {
		return result
	}
	s.record(ctx, key, result, evalCtx)
	return result
}

// Check decides key for evalCtx without recording anything.
func (s *Service) Check(ctx context.Context, key string, evalCtx engine.Context) engine.Result {
	ctx, span := telemetry.Tracer().Start(ctx, "service.Check")
	defer span.End()
	span.SetAttributes(attribute.String("flag.key", key))

	return s.decide(ctx, key, evalCtx)
}

func (s *Service) decide(ctx context.Context, key string, evalCtx engine.Context) engine.Result {
	identifier := evalCtx.Identifier()
	scope := cache.FlagScope(key)

	cacheKey := ""
	if gen, err := s.cache.Generation(ctx, scope); err != nil {
		s.cacheError(err, "evaluation", "generation", key)
	} else {
		cacheKey = cache.EvaluationKey(key, gen, identifier)
		if result, ok := s.cachedResult(ctx, cacheKey, key); ok {
			telemetry.Evaluations.WithLabelValues(string(result.Reason)).Inc()
			return result
		}
	}

	flag, err := s.store.GetFlagByKey(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error().Err(err).Str("flag_key", key).Msg("flag lookup failed during evaluation")
		result := engine.Result{Enabled: false, Reason: engine.ReasonEvaluationError}
		telemetry.Evaluations.WithLabelValues(string(result.Reason)).Inc()
		return result
	}

	now := s.clock.Now()
	result := engine.Evaluate(flag, evalCtx, now, s.opts.RolloutSalt)
	telemetry.Evaluations.WithLabelValues(string(result.Reason)).Inc()

	if cacheKey != "" {
		s.storeResult(ctx, scope, cacheKey, key, result, s.resultTTL(flag, now))
	}
	return result
}

// resultTTL clips the cache TTL so a cached result never outlives the next
// starts_at/ends_at boundary of the flag.
func (s *Service) resultTTL(flag *store.Flag, now time.Time) time.Duration {
	ttl := s.opts.CacheTTL
	if flag == nil {
		return ttl
	}
	if next, ok := flag.NextTransition(now); ok {
		if until := next.Sub(now); until < ttl {
			ttl = until
		}
	}
	return ttl
}

func (s *Service) cachedResult(ctx context.Context, cacheKey, flagKey string) (engine.Result, bool) {
	raw, ok, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		s.cacheError(err, "evaluation", "get", flagKey)
		return engine.Result{}, false
	}
	if !ok {
		telemetry.CacheLookups.WithLabelValues("evaluation", "miss").Inc()
		return engine.Result{}, false
	}
	var result engine.Result
	if err := json.Unmarshal(raw, &result); err != nil || result.Reason == "" {
		telemetry.CacheLookups.WithLabelValues("evaluation", "error").Inc()
		return engine.Result{}, false
	}
	telemetry.CacheLookups.WithLabelValues("evaluation", "hit").Inc()
	return result, true
}

func (s *Service) storeResult(ctx context.Context, scope, cacheKey, flagKey string, result engine.Result, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, scope, cacheKey, raw, ttl); err != nil {
		s.cacheError(err, "evaluation", "set", flagKey)
	}
}

func (s *Service) cacheError(err error, entry, op, flagKey string) {
	telemetry.CacheLookups.WithLabelValues(entry, "error").Inc()
	s.logger.Warn().Err(err).Str("op", op).Str("flag_key", flagKey).Msg("cache unavailable")
}

func (s *Service) record(ctx context.Context, key string, result engine.Result, evalCtx engine.Context) {
	ctx, span := telemetry.Tracer().Start(ctx, "decision.Record")
	defer span.End()

	if err := s.recorder.Record(ctx, decision.New(key, result, evalCtx)); err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Str("flag_key", key).Str("reason", string(result.Reason)).Msg("failed to record decision")
	}
}

// ActiveFlags lists flags whose master switch is on, served through the cache.
func (s *Service) ActiveFlags(ctx context.Context) ([]store.Flag, error) {
	gen, err := s.cache.Generation(ctx, cache.ActiveFlagsScope)
	if err != nil {
		s.cacheError(err, "active_flags", "generation", "")
		return s.store.ListEnabledFlags(ctx)
	}

	cacheKey := cache.ActiveFlagsKey(gen)
	raw, ok, err := s.cache.Get(ctx, cacheKey)
	switch {
	case err != nil:
		s.cacheError(err, "active_flags", "get", "")
	case ok:
		var flags []store.Flag
		if err := json.Unmarshal(raw, &flags); err == nil {
			telemetry.CacheLookups.WithLabelValues("active_flags", "hit").Inc()
			return flags, nil
		}
		telemetry.CacheLookups.WithLabelValues("active_flags", "error").Inc()
	default:
		telemetry.CacheLookups.WithLabelValues("active_flags", "miss").Inc()
	}

	flags, err := s.store.ListEnabledFlags(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(flags); err == nil {
		if err := s.cache.Set(ctx, cache.ActiveFlagsScope, cacheKey, raw, s.opts.CacheTTL); err != nil {
			s.cacheError(err, "active_flags", "set", "")
		}
	}
	return flags, nil
}
