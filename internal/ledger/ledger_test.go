package ledger_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"FlightCover/internal/event"
	"FlightCover/internal/ledger"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewUserAccountKey(userID, ledger.SubTypePayable, ledger.AssetUSDC)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:payable:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_PoolPath(t *testing.T) {
	key := ledger.PoolAccountKey(ledger.AssetUSDC)

	path := key.AccountPath()
	if path != "system:pool:USDC" {
		t.Errorf("got %q, want %q", path, "system:pool:USDC")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalPremiums, ledger.AssetUSDC)

	path := key.AccountPath()
	if path != "external:premiums:USDC" {
		t.Errorf("got %q, want %q", path, "external:premiums:USDC")
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC should be a known asset")
	}
	if id != ledger.AssetUSDC {
		t.Errorf("USDC asset ID: got %d, want %d", id, ledger.AssetUSDC)
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	if bt.GetPoolBalance(ledger.AssetUSDC) != 0 {
		t.Error("initial pool balance should be 0")
	}
	if bt.GetUserPayable(uuid.New(), ledger.AssetUSDC) != 0 {
		t.Error("initial payable balance should be 0")
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	// Simulate a pool deposit: debit system:pool, credit external:funding
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.PoolAccountKey(ledger.AssetUSDC),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetUSDC),
		AssetID:       ledger.AssetUSDC,
		Amount:        1_000_000,
	}

	bt.ApplyJournal(j)

	if got := bt.GetPoolBalance(ledger.AssetUSDC); got != 1_000_000 {
		t.Errorf("pool: got %d, want 1_000_000", got)
	}
}

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.PoolAccountKey(ledger.AssetUSDC),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetUSDC),
				AssetID:       ledger.AssetUSDC,
				Amount:        500_000,
			},
		},
	}

	err := bt.ApplyBatch(batch)
	if err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if bt.GetPoolBalance(ledger.AssetUSDC) != 500_000 {
		t.Errorf("expected 500_000 after batch apply")
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()

	// Fund the pool
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.PoolAccountKey(ledger.AssetUSDC),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetUSDC),
		AssetID:       ledger.AssetUSDC,
		Amount:        1_000_000,
	})

	// Pay a claim from the pool
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypePayable, ledger.AssetUSDC),
		CreditAccount: ledger.PoolAccountKey(ledger.AssetUSDC),
		AssetID:       ledger.AssetUSDC,
		Amount:        300_000,
	})

	// Global balance should still be zero
	totals := bt.ComputeGlobalBalance()
	for aid, total := range totals {
		if total != 0 {
			t.Errorf("asset %d has non-zero global balance: %d", aid, total)
		}
	}

	if bt.GetUserPayable(userID, ledger.AssetUSDC) != 300_000 {
		t.Error("payable should reflect claim credit")
	}
	if bt.GetPoolBalance(ledger.AssetUSDC) != 700_000 {
		t.Error("pool should shrink by claim amount")
	}
}

func TestBalanceTracker_ValidatePoolCovers(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	// Empty pool — should fail
	err := bt.ValidatePoolCovers(ledger.AssetUSDC, 100)
	if err == nil {
		t.Error("expected error for empty pool")
	}

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.PoolAccountKey(ledger.AssetUSDC),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetUSDC),
		AssetID:       ledger.AssetUSDC,
		Amount:        1_000,
	})

	// Exact amount should pass
	if err := bt.ValidatePoolCovers(ledger.AssetUSDC, 1_000); err != nil {
		t.Errorf("pool should cover exact balance: %v", err)
	}

	// Asking for more should fail
	if err := bt.ValidatePoolCovers(ledger.AssetUSDC, 1_001); err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.PoolAccountKey(ledger.AssetUSDC),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetUSDC),
		AssetID:       ledger.AssetUSDC,
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}

	if bt.GetPoolBalance(ledger.AssetUSDC) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.PoolAccountKey(ledger.AssetUSDC),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetUSDC),
				AssetID:       ledger.AssetUSDC,
				Amount:        0,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_NegativeAmount_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.PoolAccountKey(ledger.AssetUSDC),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetUSDC),
				AssetID:       ledger.AssetUSDC,
				Amount:        -100,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("negative amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()
	sameAccount := ledger.NewUserAccountKey(uuid.New(), ledger.SubTypePayable, ledger.AssetUSDC)

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  sameAccount,
				CreditAccount: sameAccount,
				AssetID:       ledger.AssetUSDC,
				Amount:        100,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(), // Different batch ID
				DebitAccount:  ledger.PoolAccountKey(ledger.AssetUSDC),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetUSDC),
				AssetID:       ledger.AssetUSDC,
				Amount:        100,
			},
		},
	}

	err := batch.Validate()
	if err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

func TestBatchValidate_ValidBatch_Passes(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.PoolAccountKey(ledger.AssetUSDC),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetUSDC),
				AssetID:       ledger.AssetUSDC,
				Amount:        1_000_000,
			},
		},
	}

	err := batch.Validate()
	if err != nil {
		t.Errorf("valid batch should pass: %v", err)
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestJournalGenerator_PoolDeposit(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	evt := &event.FundsDeposited{
		DepositID: uuid.New(),
		Depositor: uuid.New(),
		Amount:    2_000_000,
		Timestamp: time.Now(),
	}

	batch, err := jg.GeneratePoolDeposit(evt, ledger.AssetUSDC)
	if err != nil {
		t.Fatalf("GeneratePoolDeposit failed: %v", err)
	}

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if bt.GetPoolBalance(ledger.AssetUSDC) != 2_000_000 {
		t.Errorf("pool: got %d, want 2_000_000", bt.GetPoolBalance(ledger.AssetUSDC))
	}
}

func TestJournalGenerator_PoolDeposit_NonPositive_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	evt := &event.FundsDeposited{
		DepositID: uuid.New(),
		Depositor: uuid.New(),
		Amount:    0,
		Timestamp: time.Now(),
	}

	_, err := jg.GeneratePoolDeposit(evt, ledger.AssetUSDC)
	if err == nil {
		t.Error("zero deposit should fail")
	}
}

func TestJournalGenerator_ClaimPayouts_InsufficientPool_Fails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	claims := []ledger.ClaimCredit{
		{Subscriber: uuid.New(), PolicyID: uuid.New()},
	}

	_, err := jg.GenerateClaimPayouts("ref-1", claims, 100_000, ledger.AssetUSDC, 0)
	if err == nil {
		t.Error("payout against empty pool should fail pre-check")
	}

	// Nothing should have moved
	if bt.GetPoolBalance(ledger.AssetUSDC) != 0 {
		t.Error("failed payout must not mutate balances")
	}
}

func TestJournalGenerator_ClaimPayouts_MultipleClaims(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	fund := &event.FundsDeposited{
		DepositID: uuid.New(),
		Depositor: uuid.New(),
		Amount:    500_000,
		Timestamp: time.Now(),
	}
	batch, err := jg.GeneratePoolDeposit(fund, ledger.AssetUSDC)
	if err != nil {
		t.Fatal(err)
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatal(err)
	}

	alice := uuid.New()
	bob := uuid.New()
	claims := []ledger.ClaimCredit{
		{Subscriber: alice, PolicyID: uuid.New()},
		{Subscriber: bob, PolicyID: uuid.New()},
	}

	payouts, err := jg.GenerateClaimPayouts("ref-2", claims, 200_000, ledger.AssetUSDC, 0)
	if err != nil {
		t.Fatalf("GenerateClaimPayouts failed: %v", err)
	}
	if len(payouts.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(payouts.Journals))
	}
	if err := bt.ApplyBatch(payouts); err != nil {
		t.Fatal(err)
	}

	if bt.GetUserPayable(alice, ledger.AssetUSDC) != 200_000 {
		t.Error("alice payable should be 200_000")
	}
	if bt.GetUserPayable(bob, ledger.AssetUSDC) != 200_000 {
		t.Error("bob payable should be 200_000")
	}
	if bt.GetPoolBalance(ledger.AssetUSDC) != 100_000 {
		t.Errorf("pool: got %d, want 100_000", bt.GetPoolBalance(ledger.AssetUSDC))
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Empty ledger — should pass
	err := v.ValidateGlobalBalance()
	if err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	// Add balanced journal
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.PoolAccountKey(ledger.AssetUSDC),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, ledger.AssetUSDC),
		AssetID:       ledger.AssetUSDC,
		Amount:        1_000_000,
	})

	// Still zero-sum
	err = v.ValidateGlobalBalance()
	if err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}

	if err := v.ValidatePoolNonNegative(ledger.AssetUSDC); err != nil {
		t.Errorf("pool should be non-negative: %v", err)
	}
}
