package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"FlightCover/internal/event"
)

// JournalGenerator creates balanced journal batches from events
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// SetSequence realigns the generator after snapshot restore
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// GeneratePoolDeposit creates journals for a pool funding deposit.
// Moves funds: external:funding → system:pool
func (jg *JournalGenerator) GeneratePoolDeposit(
	evt *event.FundsDeposited,
	assetID AssetID,
) (*Batch, error) {
	if evt.Amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %d", evt.Amount)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  evt.DepositID.String(),
		Sequence:  jg.sequence,
		Timestamp: evt.Timestamp.UnixMicro(),
		Journals:  make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      evt.DepositID.String(),
		Sequence:      jg.sequence,
		DebitAccount:  PoolAccountKey(assetID),
		CreditAccount: NewExternalAccountKey(SubTypeExternalFunding, assetID),
		AssetID:       assetID,
		Amount:        evt.Amount,
		JournalType:   JournalTypePoolDeposit,
		Timestamp:     evt.Timestamp.UnixMicro(),
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}

// GeneratePremiumCollected creates journals for a subscription premium.
// Moves funds: external:premiums → system:pool
func (jg *JournalGenerator) GeneratePremiumCollected(
	evt *event.SubscribeRequested,
	assetID AssetID,
) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  evt.RequestID.String(),
		Sequence:  jg.sequence,
		Timestamp: evt.Timestamp.UnixMicro(),
		Journals:  make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      evt.RequestID.String(),
		Sequence:      jg.sequence,
		DebitAccount:  PoolAccountKey(assetID),
		CreditAccount: NewExternalAccountKey(SubTypeExternalPremiums, assetID),
		AssetID:       assetID,
		Amount:        evt.Payment,
		JournalType:   JournalTypePremiumCollected,
		Timestamp:     evt.Timestamp.UnixMicro(),
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}

// GenerateClaimPayouts creates one batch crediting every due claim from the
// pool. Pre-check: the pool must cover the full total — a shortfall rejects
// the whole batch so the caller can abort before any state mutates.
// Moves funds per claim: system:pool → user:payable
func (jg *JournalGenerator) GenerateClaimPayouts(
	eventRef string,
	claims []ClaimCredit,
	amountPerClaim int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	total := amountPerClaim * int64(len(claims))
	if err := jg.balanceTracker.ValidatePoolCovers(assetID, total); err != nil {
		return nil, fmt.Errorf("payout pre-check failed: %w", err)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(claims)),
	}

	for _, c := range claims {
		journal := Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewUserAccountKey(c.Subscriber, SubTypePayable, assetID),
			CreditAccount: PoolAccountKey(assetID),
			AssetID:       assetID,
			Amount:        amountPerClaim,
			JournalType:   JournalTypeClaimPayout,
			Timestamp:     timestamp,
		}
		batch.Journals = append(batch.Journals, journal)
	}

	jg.sequence++
	return batch, nil
}

// ClaimCredit identifies one policy owed a payout
type ClaimCredit struct {
	Subscriber uuid.UUID
	PolicyID   uuid.UUID
}

// GeneratePayoutSettled clears a subscriber's payable balance once funds
// leave the system. Moves funds: external:payouts → user:payable
func (jg *JournalGenerator) GeneratePayoutSettled(
	subscriber uuid.UUID,
	settlementID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	payable := jg.balanceTracker.GetUserPayable(subscriber, assetID)
	if payable < amount {
		return nil, fmt.Errorf("settlement exceeds payable: have=%d, need=%d", payable, amount)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  settlementID.String(),
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      settlementID.String(),
		Sequence:      jg.sequence,
		DebitAccount:  NewExternalAccountKey(SubTypeExternalPayouts, assetID),
		CreditAccount: NewUserAccountKey(subscriber, SubTypePayable, assetID),
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   JournalTypePayoutSettled,
		Timestamp:     timestamp,
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}
