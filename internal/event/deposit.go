package event

import (
	"time"

	"github.com/google/uuid"
)

// FundsDeposited is a pool funding operation.
// Idempotency key: deposit_id (UUID from the caller).
type FundsDeposited struct {
	DepositID uuid.UUID // Idempotency key
	Depositor uuid.UUID
	Amount    int64     // Micro-units; must be positive
	Sequence  int64     // Source sequence from transport
	Timestamp time.Time // Versioned input timestamp (NOT wall-clock)
}

func (d *FundsDeposited) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *FundsDeposited) EventType() EventType {
	return EventTypeFundsDeposited
}

func (d *FundsDeposited) FlightID() *string {
	return nil // Global event
}

func (d *FundsDeposited) Caller() uuid.UUID {
	return d.Depositor
}

func (d *FundsDeposited) SourceSequence() int64 {
	return d.Sequence
}
