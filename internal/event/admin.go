package event

import (
	"time"

	"github.com/google/uuid"
)

// OracleRotated is the administrator designating a new oracle principal.
// Idempotency key: request_id (UUID from the caller).
type OracleRotated struct {
	RequestID uuid.UUID // Idempotency key
	Admin     uuid.UUID
	NewOracle uuid.UUID
	Sequence  int64     // Source sequence from transport
	Timestamp time.Time // Versioned input timestamp (NOT wall-clock)
}

func (o *OracleRotated) IdempotencyKey() string {
	return o.RequestID.String()
}

func (o *OracleRotated) EventType() EventType {
	return EventTypeOracleRotated
}

func (o *OracleRotated) FlightID() *string {
	return nil // Global event
}

func (o *OracleRotated) Caller() uuid.UUID {
	return o.Admin
}

func (o *OracleRotated) SourceSequence() int64 {
	return o.Sequence
}
