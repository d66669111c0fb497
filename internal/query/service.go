package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"FlightCover/internal/ledger"
)

// QueryService provides read-only access to projection tables and the
// event log. Live coverage checks go through the core bus instead; this
// service answers historical and derived reads. All responses include
// as_of_sequence for freshness semantics.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetSubscription returns a subscriber's projected subscription record,
// or nil if the subscriber has never subscribed.
func (qs *QueryService) GetSubscription(ctx context.Context, subscriber uuid.UUID) (*SubscriptionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var resp SubscriptionResponse
	resp.SubscriberID = subscriber
	resp.AsOfSequence = asOfSeq

	err = qs.db.QueryRowContext(ctx, `
		SELECT active, start_time FROM projections.subscriptions
		WHERE subscriber_id = $1
	`, subscriber).Scan(&resp.Active, &resp.StartTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	payablePath := ledger.NewUserAccountKey(subscriber, ledger.SubTypePayable, ledger.AssetUSDC).AccountPath()
	resp.PayableBalance, err = qs.getProjectedBalance(ctx, payablePath)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// GetPolicies returns a subscriber's policies, newest first, with
// cursor-based pagination on last_sequence.
func (qs *QueryService) GetPolicies(
	ctx context.Context,
	subscriber uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]PolicyResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT policy_id, flight_id, departure, paid_out, last_sequence
		FROM projections.policies
		WHERE subscriber_id = $1
	`
	args := []interface{}{subscriber}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND last_sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY last_sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []PolicyResponse
	for rows.Next() {
		var p PolicyResponse
		p.SubscriberID = subscriber
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(&p.PolicyID, &p.FlightID, &p.Departure, &p.PaidOut, &p.LastSequence); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}

	return policies, rows.Err()
}

// GetFlightStatus returns the last projected status for a flight, or nil.
func (qs *QueryService) GetFlightStatus(ctx context.Context, flightID string) (*FlightStatusResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var resp FlightStatusResponse
	resp.FlightID = flightID
	resp.AsOfSequence = asOfSeq

	err = qs.db.QueryRowContext(ctx, `
		SELECT delayed, report_seq, reported_at FROM projections.flight_status
		WHERE flight_id = $1
	`, flightID).Scan(&resp.Delayed, &resp.ReportSeq, &resp.ReportedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// GetPayouts returns issued payouts for a subscriber from the durable
// payout log, newest first.
func (qs *QueryService) GetPayouts(
	ctx context.Context,
	subscriber uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]PayoutResponse, error) {
	query := `
		SELECT policy_id, flight_id, amount, sequence, timestamp
		FROM event_log.payouts
		WHERE subscriber_id = $1
	`
	args := []interface{}{subscriber}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []PayoutResponse
	for rows.Next() {
		var p PayoutResponse
		p.SubscriberID = subscriber
		if err := rows.Scan(&p.PolicyID, &p.FlightID, &p.Amount, &p.Sequence, &p.Timestamp); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}

	return payouts, rows.Err()
}

// GetPoolBalance returns the projected payout pool balance.
func (qs *QueryService) GetPoolBalance(ctx context.Context) (*PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	poolPath := ledger.PoolAccountKey(ledger.AssetUSDC).AccountPath()
	balance, err := qs.getProjectedBalance(ctx, poolPath)
	if err != nil {
		return nil, err
	}

	return &PoolResponse{
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetJournalHistory returns journal entries touching a subscriber's
// accounts with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	subscriber uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", subscriber)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain and global balance invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}

	// Check global balance (should sum to zero across all accounts per asset)
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}

	// One payout per policy is enforced by the payouts primary key, but a
	// projection drift can still leave a policy marked unpaid.
	err = qs.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM event_log.payouts p
		LEFT JOIN projections.policies pol ON pol.policy_id = p.policy_id
		WHERE pol.policy_id IS NOT NULL AND pol.paid_out = FALSE
	`).Scan(&report.PayoutDrift)
	if err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0 &&
		report.PayoutDrift == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
