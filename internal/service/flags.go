package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TimurManjosov/flagledger/internal/rollout"
	"github.com/TimurManjosov/flagledger/internal/store"
	"github.com/TimurManjosov/flagledger/internal/telemetry"
	"github.com/TimurManjosov/flagledger/internal/validation"
	"github.com/TimurManjosov/flagledger/internal/webhook"
)

func (s *Service) ListFlags(ctx context.Context) ([]store.Flag, error) {
	return s.store.ListFlags(ctx)
}

func (s *Service) GetFlag(ctx context.Context, key string) (*store.Flag, error) {
	return s.store.GetFlagByKey(ctx, key)
}

// GetFlags returns the flags for keys in request order, omitting unknown keys.
func (s *Service) GetFlags(ctx context.Context, keys []string) ([]store.Flag, error) {
	return s.store.GetFlagsByKeys(ctx, keys)
}

// CreateFlag validates in and creates or replaces the flag it describes.
// Invalid input is reported as validation.FieldErrors.
func (s *Service) CreateFlag(ctx context.Context, in FlagInput) (*store.Flag, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "service.CreateFlag")
	defer span.End()
	span.SetAttributes(attribute.String("flag.key", in.Key))

	params, err := paramsFromInput(in)
	if err != nil {
		return nil, err
	}

	before, err := s.store.GetFlagByKey(ctx, params.Key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, failSpan(span, err)
	}

	flag, err := s.store.UpsertFlag(ctx, params)
	if err != nil {
		return nil, failSpan(span, err)
	}
	s.afterMutation(ctx, flag.Key, before, flag)
	return flag, nil
}

// UpdateFlag applies patch to the stored flag atomically and re-validates the result.
func (s *Service) UpdateFlag(ctx context.Context, key string, patch FlagPatch) (*store.Flag, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "service.UpdateFlag")
	defer span.End()
	span.SetAttributes(attribute.String("flag.key", key))

	// before only feeds the webhook payload; the update itself is atomic in the store.
	before, err := s.store.GetFlagByKey(ctx, key)
	if err != nil {
		return nil, failSpan(span, err)
	}

	flag, err := s.store.UpdateFlag(ctx, key, func(p *store.UpsertParams) error {
		return applyPatch(p, patch)
	})
	if err != nil {
		return nil, failSpan(span, err)
	}
	s.afterMutation(ctx, key, before, flag)
	return flag, nil
}

// DeleteFlag hard-deletes key and reports whether it existed. Recorded decisions for
// the flag are kept.
func (s *Service) DeleteFlag(ctx context.Context, key string) (bool, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "service.DeleteFlag")
	defer span.End()
	span.SetAttributes(attribute.String("flag.key", key))

	before, err := s.store.GetFlagByKey(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, failSpan(span, err)
	}

	deleted, err := s.store.DeleteFlag(ctx, key)
	if err != nil {
		return false, failSpan(span, err)
	}
	if deleted {
		s.afterMutation(ctx, key, before, nil)
	}
	return deleted, nil
}

// afterMutation invalidates cached data for key before the caller sees the response,
// then queues the webhook event. Neither step can fail the mutation.
func (s *Service) afterMutation(ctx context.Context, key string, before, after *store.Flag) {
	s.invalidator.OnFlagMutated(ctx, key)

	event := webhook.NewEventBuilder(s.clock.Now()).
		ForFlag(key).
		WithStates(before, after).
		WithRequestID(middleware.GetReqID(ctx)).
		Build()
	if event.Type == "" {
		return
	}
	s.webhooks.Dispatch(event)
	s.logger.Info().Str("flag_key", key).Str("event", event.Type).Strs("changes", event.Data.Changes).Msg("flag mutated")
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func paramsFromInput(in FlagInput) (store.UpsertParams, error) {
	in.Key = strings.TrimSpace(in.Key)
	strategy, result := validation.ValidateFlag(validation.FlagParams{
		Key:          in.Key,
		Name:         in.Name,
		Description:  in.Description,
		RolloutType:  in.RolloutType,
		RolloutValue: in.RolloutValue,
		StartsAt:     in.StartsAt,
		EndsAt:       in.EndsAt,
	})
	if err := result.Err(); err != nil {
		return store.UpsertParams{}, err
	}
	return store.UpsertParams{
		Key:         in.Key,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Enabled:     in.Enabled,
		Rollout:     strategy,
		StartsAt:    in.StartsAt,
		EndsAt:      in.EndsAt,
	}, nil
}

func applyPatch(p *store.UpsertParams, patch FlagPatch) error {
	merged := validation.FlagParams{
		Key:         p.Key,
		Name:        p.Name,
		Description: p.Description,
		StartsAt:    p.StartsAt,
		EndsAt:      p.EndsAt,
	}
	if p.Rollout != nil {
		merged.RolloutType = string(p.Rollout.Type())
		raw, err := rollout.MarshalPayload(p.Rollout)
		if err != nil {
			return fmt.Errorf("encode stored rollout: %w", err)
		}
		merged.RolloutValue = raw
	}

	if patch.Name != nil {
		merged.Name = *patch.Name
	}
	if patch.Description != nil {
		merged.Description = *patch.Description
	}
	if patch.RolloutType != nil {
		merged.RolloutType = *patch.RolloutType
		merged.RolloutValue = patch.RolloutValue
	} else if patch.RolloutValue != nil {
		merged.RolloutValue = patch.RolloutValue
	}
	if patch.StartsAt.Set {
		merged.StartsAt = patch.StartsAt.Value
	}
	if patch.EndsAt.Set {
		merged.EndsAt = patch.EndsAt.Value
	}

	strategy, result := validation.ValidateFlag(merged)
	if err := result.Err(); err != nil {
		return err
	}

	p.Name = strings.TrimSpace(merged.Name)
	p.Description = merged.Description
	if patch.Enabled != nil {
		p.Enabled = *patch.Enabled
	}
	p.Rollout = strategy
	p.StartsAt = merged.StartsAt
	p.EndsAt = merged.EndsAt
	return nil
}
