// internal/events/types.go
package events

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// EventType represents the type of event.
type EventType string

const (
	// Session events
	StateChanged  EventType = "session.state_changed"
	ScanCompleted EventType = "scan.completed"

	// Quote events
	QuoteResolved EventType = "quote.resolved"
	QuotesDone    EventType = "quote.done"

	// Transaction events
	TransactionConfirmed EventType = "transaction.confirmed"
	TransactionFailed    EventType = "transaction.failed"

	// Operation events
	OperationStarted   EventType = "operation.started"
	OperationCompleted EventType = "operation.completed"
	OperationFailed    EventType = "operation.failed"

	// All subscribes a handler to every event type.
	All EventType = "*"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
	SessionID string
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBase stamps an event of the given type for a session.
func NewBase(t EventType, sessionID string) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now(), SessionID: sessionID}
}

// StateChangedEvent is emitted on every session state transition.
type StateChangedEvent struct {
	BaseEvent
	From string
	To   string
}

// ScanCompletedEvent carries scan counts.
type ScanCompletedEvent struct {
	BaseEvent
	Owner         solana.PublicKey
	Empty         int
	Dust          int
	SkippedTarget int
	Reclaimable   uint64
}

// QuoteResolvedEvent is emitted as each dust estimate resolves.
type QuoteResolvedEvent struct {
	BaseEvent
	Account      solana.PublicKey
	Mint         solana.PublicKey
	TargetAmount uint64
	FiatValue    float64
	Worth        bool
	Err          error
}

// QuotesDoneEvent is emitted when a quote pass finishes.
type QuotesDoneEvent struct {
	BaseEvent
	Total int
	Worth int
}

// TransactionEvent reports one confirmed or failed transaction.
type TransactionEvent struct {
	BaseEvent
	Operation string
	Index     int
	Signature solana.Signature
	Latency   time.Duration
	Err       error
}

// OperationStartedEvent is emitted when a reclaim or convert begins.
type OperationStartedEvent struct {
	BaseEvent
	Operation string
	Items     int
}

// OperationCompletedEvent is emitted when an operation ends, fully or partially.
type OperationCompletedEvent struct {
	BaseEvent
	Operation string
	Result    interface{} // *consolidator.Report
}

// OperationFailedEvent is emitted when an operation fails or is cancelled.
type OperationFailedEvent struct {
	BaseEvent
	Operation string
	Cancelled bool
	Error     error
}
