package event

import (
	"time"

	"github.com/google/uuid"
)

// SubscribeRequested is a subscriber paying the premium for 30 days of
// coverage. Idempotency key: request_id (UUID from the caller).
type SubscribeRequested struct {
	RequestID  uuid.UUID // Idempotency key
	Subscriber uuid.UUID
	Payment    int64     // Micro-units; must equal the configured premium exactly
	Sequence   int64     // Source sequence from transport
	Timestamp  time.Time // Versioned input timestamp (NOT wall-clock)
}

func (s *SubscribeRequested) IdempotencyKey() string {
	return s.RequestID.String()
}

func (s *SubscribeRequested) EventType() EventType {
	return EventTypeSubscribeRequested
}

func (s *SubscribeRequested) FlightID() *string {
	return nil // Global event
}

func (s *SubscribeRequested) Caller() uuid.UUID {
	return s.Subscriber
}

func (s *SubscribeRequested) SourceSequence() int64 {
	return s.Sequence
}
