package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	json "github.com/goccy/go-json"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	FlightID       *string
	Payload        []byte // JSON-encoded source event
	JournalEntries []JournalEntry
	Payouts        []PayoutEntry
	Timestamp      int64
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
}

// PayoutEntry is an issued payout for projection consumption.
type PayoutEntry struct {
	PolicyID     string
	SubscriberID string
	FlightID     string
	Amount       int64
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop; if projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	history   *PayoutHistoryProjection
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   NewPayoutHistoryProjection(),
	}
}

// History exposes the in-memory payout history for the query service.
func (pw *ProjectionWorker) History() *PayoutHistoryProjection {
	return pw.history
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Update balance projections from journal entries
	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, output.Sequence, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	// Update domain projections from the event payload
	if err := pw.updateDomainProjection(ctx, tx, output); err != nil {
		return fmt.Errorf("domain projection: %w", err)
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, p := range output.Payouts {
		pw.history.AddEntry(PayoutHistoryEntry{
			PolicyID:     p.PolicyID,
			SubscriberID: p.SubscriberID,
			FlightID:     p.FlightID,
			Amount:       p.Amount,
			Sequence:     output.Sequence,
			Timestamp:    output.Timestamp,
		})
	}

	return nil
}

// updateBalanceProjection applies a journal to projections.balances.
// Debits increase, credits decrease — same convention as the in-memory
// balance tracker, so the projection agrees with the core byte for byte.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, seq int64, j JournalEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

// Event payload shapes, matching the ingestion wire formats.
type subscribePayload struct {
	SubscriberID string `json:"subscriber_id"`
	TimestampUs  int64  `json:"timestamp_us"`
}

type registerPayload struct {
	RequestID    string `json:"request_id"`
	SubscriberID string `json:"subscriber_id"`
	FlightID     string `json:"flight_id"`
	DepartureUs  int64  `json:"departure_us"`
}

type statusPayload struct {
	FlightID       string `json:"flight_id"`
	Delayed        bool   `json:"delayed"`
	ReportSequence int64  `json:"report_sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func (pw *ProjectionWorker) updateDomainProjection(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	switch output.EventType {
	case "SubscribeRequested":
		var p subscribePayload
		if err := json.Unmarshal(output.Payload, &p); err != nil {
			return fmt.Errorf("decode subscribe payload: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.subscriptions (subscriber_id, active, start_time, last_sequence)
			VALUES ($1, TRUE, $2, $3)
			ON CONFLICT (subscriber_id)
			DO UPDATE SET active = TRUE, start_time = $2, last_sequence = $3
		`, p.SubscriberID, time.UnixMicro(p.TimestampUs), output.Sequence)
		return err

	case "FlightRegistered":
		var p registerPayload
		if err := json.Unmarshal(output.Payload, &p); err != nil {
			return fmt.Errorf("decode register payload: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.policies (policy_id, subscriber_id, flight_id, departure, paid_out, last_sequence)
			VALUES ($1, $2, $3, $4, FALSE, $5)
			ON CONFLICT (policy_id) DO NOTHING
		`, p.RequestID, p.SubscriberID, p.FlightID, time.UnixMicro(p.DepartureUs), output.Sequence)
		return err

	case "FlightStatusReported":
		var p statusPayload
		if err := json.Unmarshal(output.Payload, &p); err != nil {
			return fmt.Errorf("decode status payload: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.flight_status (flight_id, delayed, report_seq, reported_at, last_sequence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (flight_id)
			DO UPDATE SET delayed = $2, report_seq = $3, reported_at = $4, last_sequence = $5
		`, p.FlightID, p.Delayed, p.ReportSequence, time.UnixMicro(p.TimestampUs), output.Sequence); err != nil {
			return err
		}
		for _, payout := range output.Payouts {
			if _, err := tx.ExecContext(ctx, `
				UPDATE projections.policies SET paid_out = TRUE, last_sequence = $2
				WHERE policy_id = $1
			`, payout.PolicyID, output.Sequence); err != nil {
				return err
			}
		}
		return nil
	}

	return nil
}

// RebuildProjections rebuilds the balance projection from the event log.
// Domain projections (subscriptions, policies, flight status) rebuild on the
// next full replay; balances rebuild directly from journal rows.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.subscriptions`,
		`TRUNCATE projections.policies`,
		`TRUNCATE projections.flight_status`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Rebuild from journal entries: debits add, credits subtract
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
