package query

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionResponse represents a projected subscription for API queries.
// Active reflects the last durable flip, not wall-clock expiry; callers
// wanting a live answer use the coverage check on the core instead.
type SubscriptionResponse struct {
	SubscriberID   uuid.UUID `json:"subscriber_id"`
	Active         bool      `json:"active"`
	StartTime      time.Time `json:"start_time"`
	PayableBalance int64     `json:"payable_balance"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// PolicyResponse represents a registered policy for API queries.
type PolicyResponse struct {
	PolicyID     string    `json:"policy_id"`
	SubscriberID uuid.UUID `json:"subscriber_id"`
	FlightID     string    `json:"flight_id"`
	Departure    time.Time `json:"departure"`
	PaidOut      bool      `json:"paid_out"`
	LastSequence int64     `json:"last_sequence"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// FlightStatusResponse represents the last reported flight status.
type FlightStatusResponse struct {
	FlightID     string    `json:"flight_id"`
	Delayed      bool      `json:"delayed"`
	ReportSeq    int64     `json:"report_seq"`
	ReportedAt   time.Time `json:"reported_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// PayoutResponse represents an issued payout for API queries.
type PayoutResponse struct {
	PolicyID     string    `json:"policy_id"`
	SubscriberID uuid.UUID `json:"subscriber_id"`
	FlightID     string    `json:"flight_id"`
	Amount       int64     `json:"amount"`
	Sequence     int64     `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
}

// PoolResponse represents the projected payout pool balance.
type PoolResponse struct {
	Balance      int64 `json:"balance"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	PayoutDrift      int64             `json:"payout_drift"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
