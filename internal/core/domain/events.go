package domain

import "time"

// EventKind enumerates the events on(event, handler) can subscribe to
// (§6). Using one typed channel keyed by kind - instead of mutating an
// event emitter from every component - means a consumer registered at
// construction never misses an emission to a concurrent Publish (design
// note: "Event emitter mutated from every component").
type EventKind string

const (
	EventBreakerOpen        EventKind = "breaker-open"
	EventBreakerClosed      EventKind = "breaker-closed"
	EventHighLatency        EventKind = "high-latency"
	EventQueueFull          EventKind = "queue-full"
	EventComponentIsolated  EventKind = "component-isolated"
	EventComponentRecovered EventKind = "component-recovered"
)

// Event is the payload delivered to every on() subscriber regardless of
// kind; Data carries kind-specific details as a map for forward
// compatibility (new event kinds don't need new payload types).
type Event struct {
	Kind      EventKind
	At        time.Time
	Endpoint  string
	Component string
	Data      map[string]any
}
