// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrBusClosed is returned by Publish after Shutdown.
	ErrBusClosed = errors.New("event bus is shutting down")
	// ErrBusFull is returned when the buffer is full and the event is dropped.
	ErrBusFull = errors.New("event channel full")
)

// Bus is an in-memory event bus. Events are delivered in publish order by a
// single dispatcher goroutine.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[EventType]map[string]Handler
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	eventChan chan Event
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		handlers:  make(map[EventType]map[string]Handler),
		logger:    logger.Named("event_bus"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		eventChan: make(chan Event, bufferSize),
	}

	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for a specific event type, or All.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]Handler)
	}
	b.handlers[eventType][id] = handler

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &subscription{
		id:       id,
		eventBus: b,
		typ:      eventType,
	}
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// Publish queues an event without blocking. A full buffer drops the event.
func (b *Bus) Publish(event Event) error {
	select {
	case <-b.ctx.Done():
		return ErrBusClosed
	default:
	}

	select {
	case b.eventChan <- event:
		return nil
	default:
		b.logger.Warn("Event channel full, dropping event",
			zap.String("event_type", string(event.Type())))
		return ErrBusFull
	}
}

// PublishSync delivers an event to matching handlers on the caller's goroutine.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	handlers := b.snapshot(event.Type())
	if len(handlers) == 0 {
		return nil
	}

	var errs []error
	for id, handler := range handlers {
		if err := handler.Handle(ctx, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("handlers failed: %w", errors.Join(errs...))
	}
	return nil
}

func (b *Bus) snapshot(t EventType) map[string]Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]Handler, len(b.handlers[t])+len(b.handlers[All]))
	for id, h := range b.handlers[t] {
		out[id] = h
	}
	for id, h := range b.handlers[All] {
		out[id] = h
	}
	return out
}

func (b *Bus) processEvents() {
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			// drain what was queued before shutdown
			for {
				select {
				case event := <-b.eventChan:
					_ = b.PublishSync(context.Background(), event)
				default:
					return
				}
			}
		case event := <-b.eventChan:
			_ = b.PublishSync(b.ctx, event)
		}
	}
}

func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[eventType]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.handlers, eventType)
		}
	}

	b.logger.Debug("Handler unsubscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))
}

// Shutdown stops accepting events and waits for the queue to drain.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down event bus", zap.Int("pending", b.Pending()))
	b.cancel()

	select {
	case <-b.done:
		b.logger.Info("Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// Pending returns the number of queued, undelivered events.
func (b *Bus) Pending() int {
	return len(b.eventChan)
}
