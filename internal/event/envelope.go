package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeSubscribeRequested
	EventTypeFlightRegistered
	EventTypeFlightStatusReported
	EventTypeFundsDeposited
	EventTypeOracleRotated
	EventTypePayoutSettled
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Flight context (nullable for global events)
	FlightID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// FlightID returns the flight context (nil for global events)
	FlightID() *string

	// Caller returns the principal invoking the operation
	Caller() uuid.UUID

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeSubscribeRequested:
		return "SubscribeRequested"
	case EventTypeFlightRegistered:
		return "FlightRegistered"
	case EventTypeFlightStatusReported:
		return "FlightStatusReported"
	case EventTypeFundsDeposited:
		return "FundsDeposited"
	case EventTypeOracleRotated:
		return "OracleRotated"
	case EventTypePayoutSettled:
		return "PayoutSettled"
	default:
		return "Unknown"
	}
}
