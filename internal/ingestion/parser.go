package ingestion

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"FlightCover/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending to the insurance core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "SubscribeRequested":
		return parseSubscribeRequested(raw.Data)
	case "FlightRegistered":
		return parseFlightRegistered(raw.Data)
	case "FlightStatusReported":
		return parseFlightStatusReported(raw.Data)
	case "FundsDeposited":
		return parseFundsDeposited(raw.Data)
	case "OracleRotated":
		return parseOracleRotated(raw.Data)
	case "PayoutSettled":
		return parsePayoutSettled(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// MarshalEventWire serializes a typed event back into its wire JSON. The
// event log stores this form, so startup replay round-trips through
// ParseRawEvent exactly like a live NATS delivery.
func MarshalEventWire(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.SubscribeRequested:
		return json.Marshal(subscribeJSON{
			RequestID:    e.RequestID.String(),
			SubscriberID: e.Subscriber.String(),
			Payment:      e.Payment,
			Sequence:     e.Sequence,
			TimestampUs:  e.Timestamp.UnixMicro(),
		})
	case *event.FlightRegistered:
		return json.Marshal(flightRegisterJSON{
			RequestID:    e.RequestID.String(),
			SubscriberID: e.Subscriber.String(),
			FlightID:     e.Flight,
			DepartureUs:  e.Departure.UnixMicro(),
			Sequence:     e.Sequence,
			TimestampUs:  e.Timestamp.UnixMicro(),
		})
	case *event.FlightStatusReported:
		return json.Marshal(flightStatusJSON{
			OracleID:       e.Oracle.String(),
			FlightID:       e.Flight,
			Delayed:        e.Delayed,
			ReportSequence: e.ReportSequence,
			TimestampUs:    e.Timestamp.UnixMicro(),
		})
	case *event.FundsDeposited:
		return json.Marshal(depositJSON{
			DepositID:   e.DepositID.String(),
			DepositorID: e.Depositor.String(),
			Amount:      e.Amount,
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.OracleRotated:
		return json.Marshal(oracleRotateJSON{
			RequestID:   e.RequestID.String(),
			AdminID:     e.Admin.String(),
			NewOracleID: e.NewOracle.String(),
			Sequence:    e.Sequence,
			TimestampUs: e.Timestamp.UnixMicro(),
		})
	case *event.PayoutSettled:
		return json.Marshal(settlementJSON{
			SettlementID: e.SettlementID.String(),
			AdminID:      e.Admin.String(),
			SubscriberID: e.Subscriber.String(),
			Amount:       e.Amount,
			Sequence:     e.Sequence,
			TimestampUs:  e.Timestamp.UnixMicro(),
		})
	}
	return nil, fmt.Errorf("unknown event type: %T", evt)
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type subscribeJSON struct {
	RequestID    string `json:"request_id"`
	SubscriberID string `json:"subscriber_id"`
	Payment      int64  `json:"payment"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseSubscribeRequested(data []byte) (*event.SubscribeRequested, error) {
	var j subscribeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SubscribeRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	subscriber, err := uuid.Parse(j.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("parse subscriber_id: %w", err)
	}
	return &event.SubscribeRequested{
		RequestID:  requestID,
		Subscriber: subscriber,
		Payment:    j.Payment,
		Sequence:   j.Sequence,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

type flightRegisterJSON struct {
	RequestID    string `json:"request_id"`
	SubscriberID string `json:"subscriber_id"`
	FlightID     string `json:"flight_id"`
	DepartureUs  int64  `json:"departure_us"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseFlightRegistered(data []byte) (*event.FlightRegistered, error) {
	var j flightRegisterJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FlightRegistered: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	subscriber, err := uuid.Parse(j.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("parse subscriber_id: %w", err)
	}
	if j.FlightID == "" {
		return nil, fmt.Errorf("parse FlightRegistered: empty flight_id")
	}
	return &event.FlightRegistered{
		RequestID:  requestID,
		Subscriber: subscriber,
		Flight:     j.FlightID,
		Departure:  time.UnixMicro(j.DepartureUs),
		Sequence:   j.Sequence,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

type flightStatusJSON struct {
	OracleID       string `json:"oracle_id"`
	FlightID       string `json:"flight_id"`
	Delayed        bool   `json:"delayed"`
	ReportSequence int64  `json:"report_sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func parseFlightStatusReported(data []byte) (*event.FlightStatusReported, error) {
	var j flightStatusJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FlightStatusReported: %w", err)
	}
	oracle, err := uuid.Parse(j.OracleID)
	if err != nil {
		return nil, fmt.Errorf("parse oracle_id: %w", err)
	}
	if j.FlightID == "" {
		return nil, fmt.Errorf("parse FlightStatusReported: empty flight_id")
	}
	return &event.FlightStatusReported{
		Oracle:         oracle,
		Flight:         j.FlightID,
		Delayed:        j.Delayed,
		ReportSequence: j.ReportSequence,
		Timestamp:      time.UnixMicro(j.TimestampUs),
	}, nil
}

type depositJSON struct {
	DepositID   string `json:"deposit_id"`
	DepositorID string `json:"depositor_id"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseFundsDeposited(data []byte) (*event.FundsDeposited, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundsDeposited: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	depositor, err := uuid.Parse(j.DepositorID)
	if err != nil {
		return nil, fmt.Errorf("parse depositor_id: %w", err)
	}
	return &event.FundsDeposited{
		DepositID: depositID,
		Depositor: depositor,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type oracleRotateJSON struct {
	RequestID   string `json:"request_id"`
	AdminID     string `json:"admin_id"`
	NewOracleID string `json:"new_oracle_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseOracleRotated(data []byte) (*event.OracleRotated, error) {
	var j oracleRotateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OracleRotated: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	admin, err := uuid.Parse(j.AdminID)
	if err != nil {
		return nil, fmt.Errorf("parse admin_id: %w", err)
	}
	newOracle, err := uuid.Parse(j.NewOracleID)
	if err != nil {
		return nil, fmt.Errorf("parse new_oracle_id: %w", err)
	}
	return &event.OracleRotated{
		RequestID: requestID,
		Admin:     admin,
		NewOracle: newOracle,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type settlementJSON struct {
	SettlementID string `json:"settlement_id"`
	AdminID      string `json:"admin_id"`
	SubscriberID string `json:"subscriber_id"`
	Amount       int64  `json:"amount"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parsePayoutSettled(data []byte) (*event.PayoutSettled, error) {
	var j settlementJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PayoutSettled: %w", err)
	}
	settlementID, err := uuid.Parse(j.SettlementID)
	if err != nil {
		return nil, fmt.Errorf("parse settlement_id: %w", err)
	}
	admin, err := uuid.Parse(j.AdminID)
	if err != nil {
		return nil, fmt.Errorf("parse admin_id: %w", err)
	}
	subscriber, err := uuid.Parse(j.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("parse subscriber_id: %w", err)
	}
	return &event.PayoutSettled{
		SettlementID: settlementID,
		Admin:        admin,
		Subscriber:   subscriber,
		Amount:       j.Amount,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}
