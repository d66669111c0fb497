package event

import (
	"time"

	"github.com/google/uuid"
)

// PayoutSettled clears a subscriber's payable credit once the operator has
// moved the funds out of custody. Admin-only.
// Idempotency key: settlement_id (UUID from the caller).
type PayoutSettled struct {
	SettlementID uuid.UUID // Idempotency key
	Admin        uuid.UUID
	Subscriber   uuid.UUID
	Amount       int64     // Micro-units; must be positive and <= payable
	Sequence     int64     // Source sequence from transport
	Timestamp    time.Time // Versioned input timestamp (NOT wall-clock)
}

func (s *PayoutSettled) IdempotencyKey() string {
	return s.SettlementID.String()
}

func (s *PayoutSettled) EventType() EventType {
	return EventTypePayoutSettled
}

func (s *PayoutSettled) FlightID() *string {
	return nil // Global event
}

func (s *PayoutSettled) Caller() uuid.UUID {
	return s.Admin
}

func (s *PayoutSettled) SourceSequence() int64 {
	return s.Sequence
}
