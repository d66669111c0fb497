package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FlightRegistered is a subscriber attaching a flight to their active
// subscription. Idempotency key: request_id (UUID from the caller).
type FlightRegistered struct {
	RequestID  uuid.UUID // Idempotency key
	Subscriber uuid.UUID
	Flight     string    // Carrier-assigned flight identifier
	Departure  time.Time // Scheduled departure (versioned input)
	Sequence   int64     // Source sequence from transport
	Timestamp  time.Time // Versioned input timestamp (NOT wall-clock)
}

func (f *FlightRegistered) IdempotencyKey() string {
	return f.RequestID.String()
}

func (f *FlightRegistered) EventType() EventType {
	return EventTypeFlightRegistered
}

func (f *FlightRegistered) FlightID() *string {
	s := f.Flight
	return &s
}

func (f *FlightRegistered) Caller() uuid.UUID {
	return f.Subscriber
}

func (f *FlightRegistered) SourceSequence() int64 {
	return f.Sequence
}

// FlightStatusReported is an oracle attestation of a flight's delay state.
// Re-reports for the same flight are expected; each carries a fresh report
// sequence, monotonic per flight.
type FlightStatusReported struct {
	Oracle         uuid.UUID
	Flight         string
	Delayed        bool
	ReportSequence int64     // Monotonic per flight
	Timestamp      time.Time // Versioned input timestamp (NOT wall-clock)
}

func (f *FlightStatusReported) IdempotencyKey() string {
	return fmt.Sprintf("%s:status:%d", f.Flight, f.ReportSequence)
}

func (f *FlightStatusReported) EventType() EventType {
	return EventTypeFlightStatusReported
}

func (f *FlightStatusReported) FlightID() *string {
	s := f.Flight
	return &s
}

func (f *FlightStatusReported) Caller() uuid.UUID {
	return f.Oracle
}

func (f *FlightStatusReported) SourceSequence() int64 {
	return f.ReportSequence
}
