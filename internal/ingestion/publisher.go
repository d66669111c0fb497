package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes issued payouts to NATS for downstream
// settlement consumers. Notices are published after persistence is confirmed.
// Subjects follow the pattern: cover.payouts.issued.{flight_id}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PayoutNotice
}

// PayoutNotice is an issued payout ready for outbound publishing.
type PayoutNotice struct {
	PolicyID   uuid.UUID `json:"policy_id"`
	Subscriber uuid.UUID `json:"subscriber_id"`
	FlightID   string    `json:"flight_id"`
	Amount     int64     `json:"amount"`
	Sequence   int64     `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PayoutNotice) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case notice, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, notice); err != nil {
				log.Printf("WARN: payout publish failed policy=%s: %v", notice.PolicyID, err)
				// Non-fatal: downstream consumers can query the event log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, notice PayoutNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal payout notice: %w", err)
	}

	subject := fmt.Sprintf("cover.payouts.issued.%s", notice.FlightID)

	// Policy id as message id: JetStream dedups redelivered notices
	_, err = op.js.Publish(ctx, subject, data, jetstream.WithMsgID(notice.PolicyID.String()))
	return err
}

// EnsureOutboundStream creates the outbound payouts stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "COVER_PAYOUTS",
		Subjects:  []string{"cover.payouts.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream COVER_PAYOUTS")
	return nil
}
