// Package engine decides whether a flag is on for a request context.
// Evaluation is pure: no I/O, no logging, and the current time is passed in.
package engine

import (
	"time"

	"github.com/TimurManjosov/flagledger/internal/rollout"
	"github.com/TimurManjosov/flagledger/internal/store"
)

// Evaluate computes the deterministic decision for flag under ctx at now.
//
// Checks run in order: missing flag, master switch, start of window, end of window,
// then the rollout strategy. Window bounds are inclusive. salt is mixed into percentage
// bucketing and may be empty.
func Evaluate(flag *store.Flag, ctx Context, now time.Time, salt string) Result {
	if flag == nil {
		return Result{Reason: ReasonFlagNotFound}
	}
	if !flag.Enabled {
		return Result{Reason: ReasonFlagDisabled}
	}
	if flag.StartsAt != nil && now.Before(*flag.StartsAt) {
		return Result{Reason: ReasonNotYetStarted}
	}
	if flag.EndsAt != nil && now.After(*flag.EndsAt) {
		return Result{Reason: ReasonExpired}
	}

	switch strategy := flag.Rollout.(type) {
	case nil, rollout.Boolean:
		return Result{Enabled: true, Reason: ReasonFullyEnabled}
	case rollout.Scheduled:
		return Result{Enabled: true, Reason: ReasonWithinSchedule}
	case rollout.Percentage:
		if strategy.Includes(flag.Key, ctx.Identifier(), salt) {
			return Result{Enabled: true, Reason: ReasonPercentageIncluded}
		}
		return Result{Reason: ReasonPercentageExcluded}
	case rollout.UserList:
		if strategy.Contains(ctx.Identifier()) {
			return Result{Enabled: true, Reason: ReasonUserListed}
		}
		return Result{Reason: ReasonUserNotListed}
	default:
		// Strategy is sealed; unreachable.
		return Result{Reason: ReasonFlagDisabled}
	}
}
