// Package pubsub fans typed events out to subscribers without blocking the
// publisher.
package pubsub

import "time"

// EventType names what happened.
type EventType string

// Event is one published event.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}
