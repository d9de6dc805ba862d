package webhook

import (
	"encoding/json"
	"time"
)

// Event types emitted after flag mutations.
const (
	EventFlagCreated = "flag.created"
	EventFlagUpdated = "flag.updated"
	EventFlagDeleted = "flag.deleted"
)

// Delivery headers.
const (
	HeaderSignature = "X-Flagledger-Signature"
	HeaderEvent     = "X-Flagledger-Event"
	HeaderDelivery  = "X-Flagledger-Delivery"
)

// Event is the JSON body POSTed to every matching endpoint.
type Event struct {
	Type      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Resource  Resource  `json:"resource"`
	Data      EventData `json:"data"`
	RequestID string    `json:"request_id,omitempty"`
}

// Resource identifies what changed.
type Resource struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// EventData carries the flag state around the mutation. Before is empty for creations,
// After for deletions.
type EventData struct {
	Before  json.RawMessage `json:"before,omitempty"`
	After   json.RawMessage `json:"after,omitempty"`
	Changes []string        `json:"changes,omitempty"`
}

// Endpoint is a delivery target. An empty Events list subscribes to every event.
type Endpoint struct {
	URL    string
	Events []string
}

func (e Endpoint) matches(event Event) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, t := range e.Events {
		if t == event.Type {
			return true
		}
	}
	return false
}
