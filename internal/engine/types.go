package engine

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Reason is the machine-readable cause of an evaluation result.
type Reason string

const (
	ReasonFlagNotFound       Reason = "FLAG_NOT_FOUND"
	ReasonFlagDisabled       Reason = "FLAG_DISABLED"
	ReasonNotYetStarted      Reason = "NOT_YET_STARTED"
	ReasonExpired            Reason = "EXPIRED"
	ReasonFullyEnabled       Reason = "FULLY_ENABLED"
	ReasonWithinSchedule     Reason = "WITHIN_SCHEDULE"
	ReasonPercentageIncluded Reason = "PERCENTAGE_INCLUDED"
	ReasonPercentageExcluded Reason = "PERCENTAGE_EXCLUDED"
	ReasonUserListed         Reason = "USER_LISTED"
	ReasonUserNotListed      Reason = "USER_NOT_LISTED"
	// ReasonEvaluationError is never produced by Evaluate; callers use it when the flag
	// could not be loaded.
	ReasonEvaluationError Reason = "EVALUATION_ERROR"
)

var reasonMessages = map[Reason]string{
	ReasonFlagNotFound:       "Feature flag not found",
	ReasonFlagDisabled:       "Feature flag is disabled",
	ReasonNotYetStarted:      "Feature flag has not started yet",
	ReasonExpired:            "Feature flag has expired",
	ReasonFullyEnabled:       "Feature flag is fully enabled",
	ReasonWithinSchedule:     "Feature flag is within its scheduled window",
	ReasonPercentageIncluded: "User is included in the percentage rollout",
	ReasonPercentageExcluded: "User is not included in the percentage rollout",
	ReasonUserListed:         "User is in the allowed user list",
	ReasonUserNotListed:      "User is not in the allowed user list",
	ReasonEvaluationError:    "Feature flag could not be evaluated",
}

// Message returns the human-readable description of r.
func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return string(r)
}

// Reasons lists every reason code in a stable order.
var Reasons = []Reason{
	ReasonFlagNotFound, ReasonFlagDisabled, ReasonNotYetStarted, ReasonExpired,
	ReasonFullyEnabled, ReasonWithinSchedule, ReasonPercentageIncluded, ReasonPercentageExcluded,
	ReasonUserListed, ReasonUserNotListed, ReasonEvaluationError,
}

// Result is the output of Evaluate.
type Result struct {
	Enabled bool   `json:"enabled"`
	Reason  Reason `json:"reason"`
}

// Context is the caller-supplied evaluation context. Only user_id and session_id carry
// meaning; every other key is opaque and only recorded.
type Context map[string]any

const (
	KeyUserID    = "user_id"
	KeySessionID = "session_id"
)

// UserID returns the normalized user_id, or "" when absent.
func (c Context) UserID() string { return c.identity(KeyUserID) }

// SessionID returns the normalized session_id, or "" when absent.
func (c Context) SessionID() string { return c.identity(KeySessionID) }

// Identifier returns user_id, falling back to session_id.
func (c Context) Identifier() string {
	if id := c.UserID(); id != "" {
		return id
	}
	return c.SessionID()
}

func (c Context) identity(key string) string {
	if c == nil {
		return ""
	}
	return normalizeIdentifier(c[key])
}

// normalizeIdentifier turns strings and integral numbers into a stable identifier string.
// Anything else (objects, booleans, fractional numbers) has no identity.
func normalizeIdentifier(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) && math.Abs(val) < 1<<53 {
			return strconv.FormatInt(int64(val), 10)
		}
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	}
	return ""
}
