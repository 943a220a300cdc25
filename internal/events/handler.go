// internal/events/handler.go
package events

import (
	"context"
)

// Handler processes events of a specific type.
type Handler interface {
	// Handle processes an event. Should not block.
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as event handlers.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher is the write side of the bus, used by the engine.
type Publisher interface {
	Publish(event Event) error
}

// Subscription represents a subscription to events.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	id       string
	eventBus *Bus
	typ      EventType
}

func (s *subscription) Unsubscribe() {
	s.eventBus.unsubscribe(s.id, s.typ)
}

// Channel forwards events to a buffered channel, dropping them when it is full.
// The UI reads from it inside its update loop.
func Channel(size int) (Handler, <-chan Event) {
	ch := make(chan Event, size)
	return HandlerFunc(func(_ context.Context, e Event) error {
		select {
		case ch <- e:
		default:
		}
		return nil
	}), ch
}
