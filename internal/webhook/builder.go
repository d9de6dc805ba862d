package webhook

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// EventBuilder assembles a flag mutation event.
//
//	event := webhook.NewEventBuilder(now).
//		ForFlag(key).
//		WithStates(before, after).
//		WithRequestID(reqID).
//		Build()
type EventBuilder struct {
	event Event
}

func NewEventBuilder(now time.Time) *EventBuilder {
	return &EventBuilder{event: Event{Timestamp: now.UTC()}}
}

func (b *EventBuilder) ForFlag(key string) *EventBuilder {
	b.event.Resource = Resource{Type: "flag", Key: key}
	return b
}

// WithStates records the JSON-encodable states around the mutation and derives the
// event type from which side is missing. Nil pointers count as missing.
func (b *EventBuilder) WithStates(before, after any) *EventBuilder {
	b.event.Data.Before = encodeState(before)
	b.event.Data.After = encodeState(after)

	switch {
	case b.event.Data.Before == nil && b.event.Data.After != nil:
		b.event.Type = EventFlagCreated
	case b.event.Data.Before != nil && b.event.Data.After == nil:
		b.event.Type = EventFlagDeleted
	case b.event.Data.Before != nil && b.event.Data.After != nil:
		b.event.Type = EventFlagUpdated
		b.event.Data.Changes = ChangedFields(b.event.Data.Before, b.event.Data.After)
	}
	return b
}

func (b *EventBuilder) WithRequestID(id string) *EventBuilder {
	b.event.RequestID = id
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}

func encodeState(state any) json.RawMessage {
	if state == nil {
		return nil
	}
	raw, err := json.Marshal(state)
	if err != nil || string(raw) == "null" {
		return nil
	}
	return raw
}

// ChangedFields returns the sorted top-level fields that differ between two JSON objects.
// Timestamps maintained by the store are ignored.
func ChangedFields(before, after json.RawMessage) []string {
	var b, a map[string]json.RawMessage
	_ = json.Unmarshal(before, &b)
	_ = json.Unmarshal(after, &a)

	var changed []string
	for field, av := range a {
		if field == "created_at" || field == "updated_at" {
			continue
		}
		if bv, ok := b[field]; !ok || !bytes.Equal(bv, av) {
			changed = append(changed, field)
		}
	}
	for field := range b {
		if _, ok := a[field]; !ok {
			changed = append(changed, field)
		}
	}
	sort.Strings(changed)
	return changed
}
