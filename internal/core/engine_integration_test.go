package core_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"FlightCover/internal/core"
	"FlightCover/internal/event"
	"FlightCover/internal/ledger"
	"FlightCover/internal/state"
)

// --- Test helpers ---

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	testPremium = 50_000_000  // 50 USDC
	testPayout  = 120_000_000 // 120 USDC
)

// newTestCore creates an InsuranceCore with buffered channels and no DB checker.
func newTestCore(t *testing.T) (*core.InsuranceCore, uuid.UUID, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	admin := uuid.New()
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c, err := core.NewInsuranceCore(core.DefaultConfig(), admin, 0, persistChan, projChan, nil, nil)
	if err != nil {
		t.Fatalf("NewInsuranceCore failed: %v", err)
	}
	return c, admin, persistChan, projChan
}

// newTestCoreWithAdmin is newTestCore with a fixed admin and an optional DB
// idempotency checker, for tests that build two cores over the same history.
func newTestCoreWithAdmin(t *testing.T, admin uuid.UUID, checker core.DBIdempotencyChecker) (*core.InsuranceCore, uuid.UUID, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c, err := core.NewInsuranceCore(core.DefaultConfig(), admin, 0, persistChan, projChan, checker, nil)
	if err != nil {
		t.Fatalf("NewInsuranceCore failed: %v", err)
	}
	return c, admin, persistChan, projChan
}

func mustDeposit(depositor uuid.UUID, amount int64, at time.Time) *event.FundsDeposited {
	return &event.FundsDeposited{
		DepositID: uuid.New(),
		Depositor: depositor,
		Amount:    amount,
		Timestamp: at,
	}
}

func mustSubscribe(subscriber uuid.UUID, payment int64, at time.Time) *event.SubscribeRequested {
	return &event.SubscribeRequested{
		RequestID:  uuid.New(),
		Subscriber: subscriber,
		Payment:    payment,
		Timestamp:  at,
	}
}

func mustRegister(subscriber uuid.UUID, flight string, departure, at time.Time) *event.FlightRegistered {
	return &event.FlightRegistered{
		RequestID:  uuid.New(),
		Subscriber: subscriber,
		Flight:     flight,
		Departure:  departure,
		Timestamp:  at,
	}
}

func mustReport(oracle uuid.UUID, flight string, delayed bool, reportSeq int64, at time.Time) *event.FlightStatusReported {
	return &event.FlightStatusReported{
		Oracle:         oracle,
		Flight:         flight,
		Delayed:        delayed,
		ReportSequence: reportSeq,
		Timestamp:      at,
	}
}

// fundAndSubscribe seeds the pool and activates coverage for the subscriber.
func fundAndSubscribe(t *testing.T, c *core.InsuranceCore, admin, subscriber uuid.UUID, poolSeed int64, at time.Time) {
	t.Helper()
	if poolSeed > 0 {
		if err := c.ProcessEvent(mustDeposit(admin, poolSeed, at)); err != nil {
			t.Fatalf("deposit failed: %v", err)
		}
	}
	if err := c.ProcessEvent(mustSubscribe(subscriber, testPremium, at)); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// ============================================================================
// Test: Funding Flow
// ============================================================================

func TestDeposit_IncreasesPool(t *testing.T) {
	c, admin, persistCh, _ := newTestCore(t)

	err := c.ProcessEvent(mustDeposit(admin, 1_000_000_000, epoch))
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}

	if got := c.PoolBalance(); got != 1_000_000_000 {
		t.Errorf("expected pool balance 1_000_000_000, got %d", got)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}

	j := outputs[0].Batch.Journals[0]
	if j.JournalType != ledger.JournalTypePoolDeposit {
		t.Errorf("expected JournalTypePoolDeposit, got %d", j.JournalType)
	}
	if j.Amount != 1_000_000_000 {
		t.Errorf("expected amount 1_000_000_000, got %d", j.Amount)
	}
}

func TestDeposit_NonAdmin_Rejected(t *testing.T) {
	c, _, persistCh, _ := newTestCore(t)

	err := c.ProcessEvent(mustDeposit(uuid.New(), 1_000_000, epoch))
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if c.PoolBalance() != 0 {
		t.Errorf("rejected deposit must not touch the pool, got %d", c.PoolBalance())
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("expected 0 outputs for rejected deposit, got %d", len(outputs))
	}
}

func TestDeposit_OpenFunding_AllowsAnyone(t *testing.T) {
	admin := uuid.New()
	cfg := core.DefaultConfig()
	cfg.OpenFunding = true
	persistCh := make(chan core.CoreOutput, 16)
	projCh := make(chan core.CoreOutput, 16)
	c, err := core.NewInsuranceCore(cfg, admin, 0, persistCh, projCh, nil, nil)
	if err != nil {
		t.Fatalf("NewInsuranceCore failed: %v", err)
	}

	if err := c.ProcessEvent(mustDeposit(uuid.New(), 500_000, epoch)); err != nil {
		t.Fatalf("open funding deposit failed: %v", err)
	}
	if c.PoolBalance() != 500_000 {
		t.Errorf("expected pool 500_000, got %d", c.PoolBalance())
	}
}

func TestDeposit_NonPositiveAmount_Rejected(t *testing.T) {
	c, admin, _, _ := newTestCore(t)

	for _, amount := range []int64{0, -100} {
		err := c.ProcessEvent(mustDeposit(admin, amount, epoch))
		if !errors.Is(err, state.ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

// ============================================================================
// Test: Subscription Flow
// ============================================================================

func TestSubscribe_ExactPremium_Activates(t *testing.T) {
	c, _, persistCh, _ := newTestCore(t)
	alice := uuid.New()

	err := c.ProcessEvent(mustSubscribe(alice, testPremium, epoch))
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if !c.IsSubscribed(alice, epoch) {
		t.Error("alice should be subscribed")
	}
	if got := c.PoolBalance(); got != testPremium {
		t.Errorf("premium should land in the pool, got %d", got)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	j := outputs[0].Batch.Journals[0]
	if j.JournalType != ledger.JournalTypePremiumCollected {
		t.Errorf("expected JournalTypePremiumCollected, got %d", j.JournalType)
	}
}

func TestSubscribe_WrongPremium_NoStateChange(t *testing.T) {
	c, _, persistCh, _ := newTestCore(t)
	alice := uuid.New()

	for _, payment := range []int64{0, testPremium - 1, testPremium + 1, 2 * testPremium} {
		err := c.ProcessEvent(mustSubscribe(alice, payment, epoch))
		if !errors.Is(err, state.ErrWrongPremium) {
			t.Errorf("payment %d: expected ErrWrongPremium, got %v", payment, err)
		}
	}

	if c.IsSubscribed(alice, epoch) {
		t.Error("alice must not be subscribed after failed payments")
	}
	if c.PoolBalance() != 0 {
		t.Errorf("pool must be unchanged, got %d", c.PoolBalance())
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("expected 0 outputs, got %d", len(outputs))
	}
}

func TestSubscribe_WhileActive_Rejected(t *testing.T) {
	c, _, _, _ := newTestCore(t)
	alice := uuid.New()

	if err := c.ProcessEvent(mustSubscribe(alice, testPremium, epoch)); err != nil {
		t.Fatalf("first subscribe failed: %v", err)
	}

	err := c.ProcessEvent(mustSubscribe(alice, testPremium, epoch.Add(24*time.Hour)))
	if !errors.Is(err, state.ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
	if got := c.PoolBalance(); got != testPremium {
		t.Errorf("second premium must not be collected, pool=%d", got)
	}
}

func TestSubscribe_AfterExpiry_Reactivates(t *testing.T) {
	c, _, _, _ := newTestCore(t)
	alice := uuid.New()
	duration := core.DefaultConfig().SubscriptionDuration

	if err := c.ProcessEvent(mustSubscribe(alice, testPremium, epoch)); err != nil {
		t.Fatalf("first subscribe failed: %v", err)
	}

	later := epoch.Add(duration + time.Hour)
	if c.IsSubscribed(alice, later) {
		t.Error("subscription should read as lapsed")
	}

	if err := c.ProcessEvent(mustSubscribe(alice, testPremium, later)); err != nil {
		t.Fatalf("re-subscribe after expiry failed: %v", err)
	}
	if !c.IsSubscribed(alice, later) {
		t.Error("alice should be covered again")
	}
}

// ============================================================================
// Test: Flight Registration
// ============================================================================

func TestRegisterFlight_ActiveSubscription(t *testing.T) {
	c, admin, persistCh, _ := newTestCore(t)
	alice := uuid.New()
	fundAndSubscribe(t, c, admin, alice, 0, epoch)
	drainOutputs(persistCh)

	departure := epoch.Add(72 * time.Hour)
	evt := mustRegister(alice, "VN214", departure, epoch.Add(time.Hour))
	if err := c.ProcessEvent(evt); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if got := c.PolicyCount(alice); got != 1 {
		t.Fatalf("expected 1 policy, got %d", got)
	}
	policies := c.Policies(alice)
	if policies[0].PolicyID != evt.RequestID {
		t.Error("policy id should be the request id for deterministic replay")
	}
	if policies[0].FlightID != "VN214" {
		t.Errorf("expected flight VN214, got %s", policies[0].FlightID)
	}

	// Registration moves no money: empty batch, envelope only
	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if len(outputs[0].Batch.Journals) != 0 {
		t.Errorf("expected empty batch, got %d journals", len(outputs[0].Batch.Journals))
	}
}

func TestRegisterFlight_NeverSubscribed_Rejected(t *testing.T) {
	c, _, _, _ := newTestCore(t)

	err := c.ProcessEvent(mustRegister(uuid.New(), "VN214", epoch.Add(72*time.Hour), epoch))
	if !errors.Is(err, state.ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription, got %v", err)
	}
}

func TestRegisterFlight_ExpiredSubscription_DistinctError(t *testing.T) {
	c, admin, _, _ := newTestCore(t)
	alice := uuid.New()
	fundAndSubscribe(t, c, admin, alice, 0, epoch)
	duration := core.DefaultConfig().SubscriptionDuration

	later := epoch.Add(duration + time.Minute)
	err := c.ProcessEvent(mustRegister(alice, "VN214", later.Add(72*time.Hour), later))
	if !errors.Is(err, state.ErrSubscriptionExpired) {
		t.Fatalf("expected ErrSubscriptionExpired, got %v", err)
	}

	// The expiry flip is durable: a second attempt reads as never-active
	err = c.ProcessEvent(mustRegister(alice, "VN214", later.Add(72*time.Hour), later.Add(time.Minute)))
	if !errors.Is(err, state.ErrNoActiveSubscription) {
		t.Fatalf("expected ErrNoActiveSubscription after lazy expiry, got %v", err)
	}
}

func TestRegisterFlight_Oracle_Rejected(t *testing.T) {
	c, admin, _, _ := newTestCore(t)

	// Admin is the default oracle, so the admin cannot insure flights
	err := c.ProcessEvent(mustRegister(admin, "VN214", epoch.Add(72*time.Hour), epoch))
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for oracle self-dealing, got %v", err)
	}
}

func TestRegisterFlight_Duplicate_Rejected(t *testing.T) {
	c, admin, _, _ := newTestCore(t)
	alice := uuid.New()
	fundAndSubscribe(t, c, admin, alice, 0, epoch)

	departure := epoch.Add(72 * time.Hour)
	if err := c.ProcessEvent(mustRegister(alice, "VN214", departure, epoch)); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	err := c.ProcessEvent(mustRegister(alice, "VN214", departure, epoch.Add(time.Hour)))
	if !errors.Is(err, state.ErrDuplicateFlight) {
		t.Fatalf("expected ErrDuplicateFlight, got %v", err)
	}
	if got := c.PolicyCount(alice); got != 1 {
		t.Errorf("expected 1 policy, got %d", got)
	}
}

func TestRegisterFlight_DuplicateSurvivesResubscription(t *testing.T) {
	c, admin, _, _ := newTestCore(t)
	alice := uuid.New()
	duration := core.DefaultConfig().SubscriptionDuration
	fundAndSubscribe(t, c, admin, alice, 0, epoch)

	if err := c.ProcessEvent(mustRegister(alice, "VN214", epoch.Add(72*time.Hour), epoch)); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Let coverage lapse, buy a fresh term
	later := epoch.Add(duration + time.Hour)
	if err := c.ProcessEvent(mustSubscribe(alice, testPremium, later)); err != nil {
		t.Fatalf("re-subscribe failed: %v", err)
	}

	// Policy history survives the lapse, so the flight is still taken
	err := c.ProcessEvent(mustRegister(alice, "VN214", later.Add(72*time.Hour), later))
	if !errors.Is(err, state.ErrDuplicateFlight) {
		t.Fatalf("expected ErrDuplicateFlight across terms, got %v", err)
	}
}

// ============================================================================
// Test: Status Reports & Payouts
// ============================================================================

func TestStatusReport_NonOracle_Rejected(t *testing.T) {
	c, _, _, _ := newTestCore(t)

	err := c.ProcessEvent(mustReport(uuid.New(), "VN214", true, 1, epoch))
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if c.FlightStatus("VN214") != nil {
		t.Error("rejected report must not record a status")
	}
}

func TestStatusReport_NotDelayed_RecordsOnly(t *testing.T) {
	c, admin, persistCh, _ := newTestCore(t)
	alice := uuid.New()
	fundAndSubscribe(t, c, admin, alice, 1_000_000_000, epoch)

	departure := epoch.Add(24 * time.Hour)
	if err := c.ProcessEvent(mustRegister(alice, "VN214", departure, epoch)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	drainOutputs(persistCh)

	// On-time report well past the threshold: status recorded, no payout
	at := departure.Add(3 * time.Hour)
	if err := c.ProcessEvent(mustReport(admin, "VN214", false, 1, at)); err != nil {
		t.Fatalf("report failed: %v", err)
	}

	st := c.FlightStatus("VN214")
	if st == nil || st.Delayed {
		t.Fatalf("expected on-time status recorded, got %+v", st)
	}
	if got := c.PayableBalance(alice); got != 0 {
		t.Errorf("on-time flight must not pay out, payable=%d", got)
	}
	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 || len(outputs[0].Batch.Journals) != 0 {
		t.Errorf("expected 1 envelope with empty batch")
	}
}

func TestStatusReport_DelayedBeforeThreshold_NoPayout(t *testing.T) {
	c, admin, persistCh, _ := newTestCore(t)
	alice := uuid.New()
	fundAndSubscribe(t, c, admin, alice, 1_000_000_000, epoch)

	departure := epoch.Add(24 * time.Hour)
	if err := c.ProcessEvent(mustRegister(alice, "VN214", departure, epoch)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	drainOutputs(persistCh)

	// One second shy of the 2h threshold
	at := departure.Add(2*time.Hour - time.Second)
	if err := c.ProcessEvent(mustReport(admin, "VN214", true, 1, at)); err != nil {
		t.Fatalf("report failed: %v", err)
	}

	if got := c.PayableBalance(alice); got != 0 {
		t.Errorf("payout before threshold, payable=%d", got)
	}
	st := c.FlightStatus("VN214")
	if st == nil || !st.Delayed {
		t.Error("delayed status should still be recorded")
	}
	drainOutputs(persistCh)

	// Exactly at the threshold boundary the claim becomes due
	if err := c.ProcessEvent(mustReport(admin, "VN214", true, 2, departure.Add(2*time.Hour))); err != nil {
		t.Fatalf("second report failed: %v", err)
	}
	if got := c.PayableBalance(alice); got != testPayout {
		t.Errorf("expected payout %d at threshold, got %d", testPayout, got)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if len(outputs[0].Payouts) != 1 {
		t.Fatalf("expected 1 payout record, got %d", len(outputs[0].Payouts))
	}
	if outputs[0].Payouts[0].Subscriber != alice {
		t.Error("payout record should name alice")
	}
}

func TestStatusReport_PayoutExactlyOnce(t *testing.T) {
	c, admin, persistCh, _ := newTestCore(t)
	alice := uuid.New()
	fundAndSubscribe(t, c, admin, alice, 1_000_000_000, epoch)

	departure := epoch.Add(24 * time.Hour)
	if err := c.ProcessEvent(mustRegister(alice, "VN214", departure, epoch)); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	at := departure.Add(3 * time.Hour)
	if err := c.ProcessEvent(mustReport(admin, "VN214", true, 1, at)); err != nil {
		t.Fatalf("first report failed: %v", err)
	}
	if got := c.PayableBalance(alice); got != testPayout {
		t.Fatalf("expected payout %d, got %d", testPayout, got)
	}
	drainOutputs(persistCh)

	// Repeat the delay report with a fresh report sequence — paid policies stay paid
	if err := c.ProcessEvent(mustReport(admin, "VN214", true, 2, at.Add(time.Hour))); err != nil {
		t.Fatalf("second report failed: %v", err)
	}
	if got := c.PayableBalance(alice); got != testPayout {
		t.Errorf("double payout: payable=%d", got)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 || len(outputs[0].Payouts) != 0 {
		t.Error("second report should emit no payout records")
	}
}

func TestStatusReport_MultipleClaimants_AllPaid(t *testing.T) {
	c, admin, persistCh, _ := newTestCore(t)
	alice, bob := uuid.New(), uuid.New()
	departure := epoch.Add(24 * time.Hour)

	if err := c.ProcessEvent(mustDeposit(admin, 1_000_000_000, epoch)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	for _, who := range []uuid.UUID{alice, bob} {
		if err := c.ProcessEvent(mustSubscribe(who, testPremium, epoch)); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		if err := c.ProcessEvent(mustRegister(who, "VN214", departure, epoch)); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	poolBefore := c.PoolBalance()
	drainOutputs(persistCh)

	if err := c.ProcessEvent(mustReport(admin, "VN214", true, 1, departure.Add(3*time.Hour))); err != nil {
		t.Fatalf("report failed: %v", err)
	}

	if got := c.PayableBalance(alice); got != testPayout {
		t.Errorf("alice payable=%d", got)
	}
	if got := c.PayableBalance(bob); got != testPayout {
		t.Errorf("bob payable=%d", got)
	}
	if got := c.PoolBalance(); got != poolBefore-2*testPayout {
		t.Errorf("pool should drop by both payouts, got %d", got)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs[0].Payouts) != 2 {
		t.Fatalf("expected 2 payout records, got %d", len(outputs[0].Payouts))
	}
	if len(outputs[0].Batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(outputs[0].Batch.Journals))
	}
}

func TestStatusReport_InsufficientPool_FullRollback(t *testing.T) {
	c, admin, persistCh, _ := newTestCore(t)
	alice := uuid.New()
	// Pool holds only the premium — short of one payout
	fundAndSubscribe(t, c, admin, alice, 0, epoch)

	departure := epoch.Add(24 * time.Hour)
	if err := c.ProcessEvent(mustRegister(alice, "VN214", departure, epoch)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	poolBefore := c.PoolBalance()
	drainOutputs(persistCh)

	err := c.ProcessEvent(mustReport(admin, "VN214", true, 1, departure.Add(3*time.Hour)))
	if !errors.Is(err, state.ErrInsufficientPool) {
		t.Fatalf("expected ErrInsufficientPool, got %v", err)
	}

	// Nothing moved: no status, no paid flag, no balances, no output
	if c.FlightStatus("VN214") != nil {
		t.Error("aborted scan must not record the status")
	}
	if got := c.PayableBalance(alice); got != 0 {
		t.Errorf("aborted scan credited alice: %d", got)
	}
	if got := c.PoolBalance(); got != poolBefore {
		t.Errorf("pool changed across aborted scan: %d != %d", got, poolBefore)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("expected no outputs, got %d", len(outputs))
	}

	// Top up and re-report: the claim pays this time
	if err := c.ProcessEvent(mustDeposit(admin, 1_000_000_000, departure.Add(4*time.Hour))); err != nil {
		t.Fatalf("top-up failed: %v", err)
	}
	if err := c.ProcessEvent(mustReport(admin, "VN214", true, 2, departure.Add(5*time.Hour))); err != nil {
		t.Fatalf("re-report failed: %v", err)
	}
	if got := c.PayableBalance(alice); got != testPayout {
		t.Errorf("expected payout after top-up, got %d", got)
	}
}

func TestStatusReport_LapsedSubscriber_NeverPaid(t *testing.T) {
	c, admin, _, _ := newTestCore(t)
	alice := uuid.New()
	duration := core.DefaultConfig().SubscriptionDuration
	fundAndSubscribe(t, c, admin, alice, 1_000_000_000, epoch)

	departure := epoch.Add(duration - time.Hour) // departs inside the term
	if err := c.ProcessEvent(mustRegister(alice, "VN214", departure, epoch)); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Delay reported after coverage lapsed: no payout, expiry flips durably
	at := epoch.Add(duration + 6*time.Hour)
	if err := c.ProcessEvent(mustReport(admin, "VN214", true, 1, at)); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if got := c.PayableBalance(alice); got != 0 {
		t.Errorf("lapsed subscriber was paid: %d", got)
	}

	// Re-subscribing does not resurrect the claim
	if err := c.ProcessEvent(mustSubscribe(alice, testPremium, at.Add(time.Hour))); err != nil {
		t.Fatalf("re-subscribe failed: %v", err)
	}
	if err := c.ProcessEvent(mustReport(admin, "VN214", true, 2, at.Add(2*time.Hour))); err != nil {
		t.Fatalf("second report failed: %v", err)
	}
	if got := c.PayableBalance(alice); got != 0 {
		t.Errorf("retroactive payout after re-subscription: %d", got)
	}
}

// ============================================================================
// Test: Oracle Rotation
// ============================================================================

func TestOracleRotation_AdminOnly(t *testing.T) {
	c, admin, _, _ := newTestCore(t)
	newOracle := uuid.New()

	err := c.ProcessEvent(&event.OracleRotated{
		RequestID: uuid.New(),
		Admin:     uuid.New(), // not the admin
		NewOracle: newOracle,
		Timestamp: epoch,
	})
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if err := c.ProcessEvent(&event.OracleRotated{
		RequestID: uuid.New(),
		Admin:     admin,
		NewOracle: newOracle,
		Timestamp: epoch,
	}); err != nil {
		t.Fatalf("rotation by admin failed: %v", err)
	}
	if c.Oracle() != newOracle {
		t.Error("oracle should be rotated")
	}

	// Old oracle (the admin) loses report authority
	err = c.ProcessEvent(mustReport(admin, "VN214", false, 1, epoch))
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for replaced oracle, got %v", err)
	}
	if err := c.ProcessEvent(mustReport(newOracle, "VN214", false, 1, epoch)); err != nil {
		t.Fatalf("report by new oracle failed: %v", err)
	}
}

// ============================================================================
// Test: Payout Settlement
// ============================================================================

func mustSettle(admin, subscriber uuid.UUID, amount int64, at time.Time) *event.PayoutSettled {
	return &event.PayoutSettled{
		SettlementID: uuid.New(),
		Admin:        admin,
		Subscriber:   subscriber,
		Amount:       amount,
		Timestamp:    at,
	}
}

// issuePayout walks alice through deposit, subscribe, register, and a delayed
// report so she holds exactly one payout of testPayout.
func issuePayout(t *testing.T, c *core.InsuranceCore, admin, alice uuid.UUID) time.Time {
	t.Helper()
	fundAndSubscribe(t, c, admin, alice, 1_000_000_000, epoch)
	departure := epoch.Add(24 * time.Hour)
	if err := c.ProcessEvent(mustRegister(alice, "VN214", departure, epoch)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	at := departure.Add(3 * time.Hour)
	if err := c.ProcessEvent(mustReport(admin, "VN214", true, 1, at)); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	return at
}

func TestSettlePayout_ClearsPayable(t *testing.T) {
	c, admin, persistCh, _ := newTestCore(t)
	alice := uuid.New()
	at := issuePayout(t, c, admin, alice)
	poolAfterPayout := c.PoolBalance()
	drainOutputs(persistCh)

	if err := c.ProcessEvent(mustSettle(admin, alice, testPayout, at.Add(time.Hour))); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	if got := c.PayableBalance(alice); got != 0 {
		t.Errorf("expected payable cleared, got %d", got)
	}
	if got := c.PoolBalance(); got != poolAfterPayout {
		t.Errorf("settlement must not touch the pool, got %d", got)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 || len(outputs[0].Batch.Journals) != 1 {
		t.Fatalf("expected 1 output with 1 journal")
	}
	j := outputs[0].Batch.Journals[0]
	if j.JournalType != ledger.JournalTypePayoutSettled {
		t.Errorf("expected JournalTypePayoutSettled, got %d", j.JournalType)
	}
	if j.Amount != testPayout {
		t.Errorf("expected amount %d, got %d", testPayout, j.Amount)
	}
}

func TestSettlePayout_Partial_LeavesRemainder(t *testing.T) {
	c, admin, _, _ := newTestCore(t)
	alice := uuid.New()
	at := issuePayout(t, c, admin, alice)

	half := int64(testPayout / 2)
	if err := c.ProcessEvent(mustSettle(admin, alice, half, at.Add(time.Hour))); err != nil {
		t.Fatalf("partial settle failed: %v", err)
	}
	if got := c.PayableBalance(alice); got != testPayout-half {
		t.Errorf("expected remainder %d, got %d", testPayout-half, got)
	}

	if err := c.ProcessEvent(mustSettle(admin, alice, testPayout-half, at.Add(2*time.Hour))); err != nil {
		t.Fatalf("second settle failed: %v", err)
	}
	if got := c.PayableBalance(alice); got != 0 {
		t.Errorf("expected payable cleared after both legs, got %d", got)
	}
}

func TestSettlePayout_ExceedsPayable_Rejected(t *testing.T) {
	c, admin, persistCh, _ := newTestCore(t)
	alice := uuid.New()
	at := issuePayout(t, c, admin, alice)
	drainOutputs(persistCh)

	err := c.ProcessEvent(mustSettle(admin, alice, testPayout+1, at.Add(time.Hour)))
	if !errors.Is(err, state.ErrInsufficientPayable) {
		t.Fatalf("expected ErrInsufficientPayable, got %v", err)
	}
	if got := c.PayableBalance(alice); got != testPayout {
		t.Errorf("rejected settlement changed payable: %d", got)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("expected no outputs, got %d", len(outputs))
	}
}

func TestSettlePayout_NonAdmin_Rejected(t *testing.T) {
	c, admin, _, _ := newTestCore(t)
	alice := uuid.New()
	at := issuePayout(t, c, admin, alice)

	err := c.ProcessEvent(mustSettle(alice, alice, testPayout, at.Add(time.Hour)))
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := c.PayableBalance(alice); got != testPayout {
		t.Errorf("unauthorized settlement changed payable: %d", got)
	}
}

func TestSettlePayout_NonPositiveAmount_Rejected(t *testing.T) {
	c, admin, _, _ := newTestCore(t)
	alice := uuid.New()
	at := issuePayout(t, c, admin, alice)

	for _, amount := range []int64{0, -1} {
		err := c.ProcessEvent(mustSettle(admin, alice, amount, at.Add(time.Hour)))
		if !errors.Is(err, state.ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotency_DuplicateEvent_Ignored(t *testing.T) {
	c, _, persistCh, _ := newTestCore(t)
	alice := uuid.New()

	sub := mustSubscribe(alice, testPremium, epoch)
	if err := c.ProcessEvent(sub); err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	drainOutputs(persistCh)

	// Redelivery of the same request: silently ignored, no double charge
	if err := c.ProcessEvent(sub); err != nil {
		t.Fatalf("duplicate should not error: %v", err)
	}
	if got := c.PoolBalance(); got != testPremium {
		t.Errorf("duplicate collected a second premium: pool=%d", got)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("expected 0 outputs for duplicate, got %d", len(outputs))
	}
}

// ============================================================================
// Test: Sequence Validation
// ============================================================================

func TestSequence_ReportRegression_Rejected(t *testing.T) {
	c, admin, _, _ := newTestCore(t)

	if err := c.ProcessEvent(mustReport(admin, "VN214", false, 5, epoch)); err != nil {
		t.Fatalf("report seq 5 failed: %v", err)
	}

	// A fresh report with an older sequence is a replay attack or a
	// misbehaving feed; reject it.
	err := c.ProcessEvent(mustReport(admin, "VN214", true, 3, epoch.Add(time.Hour)))
	if err == nil {
		t.Fatal("expected out-of-order error, got nil")
	}

	// Gaps are tolerated; a later sequence is fine
	if err := c.ProcessEvent(mustReport(admin, "VN214", false, 9, epoch.Add(2*time.Hour))); err != nil {
		t.Fatalf("report seq 9 failed: %v", err)
	}

	// Different flight, independent partition
	if err := c.ProcessEvent(mustReport(admin, "QF11", false, 1, epoch.Add(3*time.Hour))); err != nil {
		t.Fatalf("other flight seq 1 failed: %v", err)
	}
}

func TestSequence_CommandEvents_AlwaysAccepted(t *testing.T) {
	c, _, _, _ := newTestCore(t)

	// API-sourced commands carry source sequence 0 and must never trip
	// the ordering check, however many arrive.
	for i := 0; i < 5; i++ {
		if err := c.ProcessEvent(mustSubscribe(uuid.New(), testPremium, epoch)); err != nil {
			t.Fatalf("subscribe %d failed: %v", i, err)
		}
	}
}

// ============================================================================
// Test: State Hash Chain
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	admin := uuid.New()
	alice := uuid.New()
	depID, subID, regID := uuid.New(), uuid.New(), uuid.New()
	departure := epoch.Add(24 * time.Hour)

	run := func() [][32]byte {
		persistCh := make(chan core.CoreOutput, 64)
		projCh := make(chan core.CoreOutput, 64)
		c, err := core.NewInsuranceCore(core.DefaultConfig(), admin, 0, persistCh, projCh, nil, nil)
		if err != nil {
			t.Fatalf("NewInsuranceCore failed: %v", err)
		}

		events := []event.Event{
			&event.FundsDeposited{DepositID: depID, Depositor: admin, Amount: 1_000_000_000, Timestamp: epoch},
			&event.SubscribeRequested{RequestID: subID, Subscriber: alice, Payment: testPremium, Timestamp: epoch},
			&event.FlightRegistered{RequestID: regID, Subscriber: alice, Flight: "VN214", Departure: departure, Timestamp: epoch},
			&event.FlightStatusReported{Oracle: admin, Flight: "VN214", Delayed: true, ReportSequence: 1, Timestamp: departure.Add(3 * time.Hour)},
		}
		for _, evt := range events {
			if err := c.ProcessEvent(evt); err != nil {
				t.Fatalf("ProcessEvent failed: %v", err)
			}
		}

		var hashes [][32]byte
		for _, o := range drainOutputs(persistCh) {
			hashes = append(hashes, o.Envelope.StateHash)
		}
		return hashes
	}

	hashes1 := run()
	hashes2 := run()

	if len(hashes1) != len(hashes2) || len(hashes1) != 4 {
		t.Fatalf("expected 4 hashes from both runs, got %d and %d", len(hashes1), len(hashes2))
	}
	for i := range hashes1 {
		if hashes1[i] != hashes2[i] {
			t.Errorf("hash %d differs: %x vs %x", i, hashes1[i], hashes2[i])
		}
	}
}

func TestEnvelope_HasCorrectFields(t *testing.T) {
	c, admin, persistCh, _ := newTestCore(t)

	report := mustReport(admin, "VN214", false, 7, epoch)
	if err := c.ProcessEvent(report); err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	env := outputs[0].Envelope

	if env.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", env.Sequence)
	}
	if env.IdempotencyKey != report.IdempotencyKey() {
		t.Errorf("idempotency key mismatch: %s vs %s", env.IdempotencyKey, report.IdempotencyKey())
	}
	if env.EventType != event.EventTypeFlightStatusReported {
		t.Errorf("event type mismatch: %v", env.EventType)
	}
	if env.FlightID == nil || *env.FlightID != "VN214" {
		t.Errorf("expected flight_id VN214, got %v", env.FlightID)
	}
	if env.SourceSequence != 7 {
		t.Errorf("expected source sequence 7, got %d", env.SourceSequence)
	}
}

// ============================================================================
// Test: Snapshot / Restore
// ============================================================================

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	c, admin, persistCh, _ := newTestCore(t)
	alice := uuid.New()
	departure := epoch.Add(24 * time.Hour)

	fundAndSubscribe(t, c, admin, alice, 1_000_000_000, epoch)
	if err := c.ProcessEvent(mustRegister(alice, "VN214", departure, epoch)); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := c.ProcessEvent(mustReport(admin, "VN214", true, 4, departure.Add(3*time.Hour))); err != nil {
		t.Fatalf("report failed: %v", err)
	}
	drainOutputs(persistCh)

	snap := c.CreateSnapshotState()

	restored, err := core.NewInsuranceCore(core.DefaultConfig(), admin, 0,
		make(chan core.CoreOutput, 64), make(chan core.CoreOutput, 64), nil, nil)
	if err != nil {
		t.Fatalf("NewInsuranceCore failed: %v", err)
	}
	restored.RestoreFromSnapshot(snap)

	if restored.GetSequence() != c.GetSequence() {
		t.Errorf("sequence mismatch: %d vs %d", restored.GetSequence(), c.GetSequence())
	}
	if restored.GetStateHash() != c.GetStateHash() {
		t.Error("state hash mismatch after restore")
	}
	if restored.PoolBalance() != c.PoolBalance() {
		t.Errorf("pool mismatch: %d vs %d", restored.PoolBalance(), c.PoolBalance())
	}
	if restored.PayableBalance(alice) != testPayout {
		t.Errorf("alice payable mismatch: %d", restored.PayableBalance(alice))
	}
	if !restored.IsSubscribed(alice, epoch.Add(time.Hour)) {
		t.Error("subscription lost in restore")
	}
	if restored.PolicyCount(alice) != 1 {
		t.Errorf("policy count mismatch: %d", restored.PolicyCount(alice))
	}
	st := restored.FlightStatus("VN214")
	if st == nil || !st.Delayed || st.ReportSeq != 4 {
		t.Errorf("flight status lost in restore: %+v", st)
	}

	// Paid flag survives: a repeat delay report pays nothing
	if err := restored.ProcessEvent(mustReport(admin, "VN214", true, 5, departure.Add(5*time.Hour))); err != nil {
		t.Fatalf("post-restore report failed: %v", err)
	}
	if got := restored.PayableBalance(alice); got != testPayout {
		t.Errorf("post-restore double payout: %d", got)
	}
}

// ============================================================================
// Test: Projection Channel (non-blocking drop)
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	admin := uuid.New()
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1) // Tiny buffer — will fill up
	c, err := core.NewInsuranceCore(core.DefaultConfig(), admin, 0, persistCh, projCh, nil, nil)
	if err != nil {
		t.Fatalf("NewInsuranceCore failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := c.ProcessEvent(mustSubscribe(uuid.New(), testPremium, epoch)); err != nil {
			t.Fatalf("ProcessEvent %d failed: %v", i, err)
		}
	}

	// All 5 must land in persistence regardless of projection backpressure
	if got := len(drainOutputs(persistCh)); got != 5 {
		t.Errorf("expected 5 persist outputs, got %d", got)
	}
}

// ============================================================================
// Test: Startup Replay
// ============================================================================

// loggedKeyChecker answers "already stored" for every key — the answer an
// event-log-backed checker gives for any event read back out of that log.
type loggedKeyChecker struct{}

func (loggedKeyChecker) IsDuplicate(string, string) (bool, error) { return true, nil }

func TestReplay_AppliesLoggedEvents(t *testing.T) {
	admin := uuid.New()
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1024)
	c, err := core.NewInsuranceCore(core.DefaultConfig(), admin, 0, persistCh, projCh, loggedKeyChecker{}, nil)
	if err != nil {
		t.Fatalf("NewInsuranceCore failed: %v", err)
	}

	deposit := mustDeposit(admin, 500_000_000, epoch)
	c.WarmLRU([]string{deposit.EventType().String() + ":" + deposit.IdempotencyKey()})

	if err := c.ReplayEvent(deposit); err != nil {
		t.Fatalf("ReplayEvent failed: %v", err)
	}
	if got := c.PoolBalance(); got != 500_000_000 {
		t.Errorf("expected pool rebuilt to 500_000_000, got %d", got)
	}
	if got := c.GetSequence(); got != 1 {
		t.Errorf("expected sequence 1 after replay, got %d", got)
	}
}

func TestReplay_RestartConvergesWithLiveRun(t *testing.T) {
	adminA := uuid.New()
	alice := uuid.New()

	// Live run: the full lifecycle through a delayed-flight payout.
	liveCore, _, livePersist, _ := newTestCoreWithAdmin(t, adminA, nil)
	departure := epoch.Add(24 * time.Hour)
	events := []event.Event{
		mustDeposit(adminA, 1_000_000_000, epoch),
		mustSubscribe(alice, testPremium, epoch),
		mustRegister(alice, "VN214", departure, epoch),
		mustReport(adminA, "VN214", true, 1, departure.Add(3*time.Hour)),
	}
	var keys []string
	for _, evt := range events {
		if err := liveCore.ProcessEvent(evt); err != nil {
			t.Fatalf("live ProcessEvent failed: %v", err)
		}
		keys = append(keys, evt.EventType().String()+":"+evt.IdempotencyKey())
	}
	drainOutputs(livePersist)

	// Restarted node: same events come back from the log, and both
	// idempotency tiers hold all of their keys.
	restarted, _, restartPersist, _ := newTestCoreWithAdmin(t, adminA, loggedKeyChecker{})
	restarted.WarmLRU(keys)
	for _, evt := range events {
		if err := restarted.ReplayEvent(evt); err != nil {
			t.Fatalf("ReplayEvent failed: %v", err)
		}
	}
	drainOutputs(restartPersist)

	if got, want := restarted.GetSequence(), liveCore.GetSequence(); got != want {
		t.Errorf("sequence diverged: replay %d, live %d", got, want)
	}
	if got, want := restarted.GetStateHash(), liveCore.GetStateHash(); got != want {
		t.Errorf("state hash diverged after replay")
	}
	if got := restarted.PoolBalance(); got != liveCore.PoolBalance() {
		t.Errorf("pool diverged: %d vs %d", got, liveCore.PoolBalance())
	}
	if got := restarted.PayableBalance(alice); got != testPayout {
		t.Errorf("expected payable %d rebuilt, got %d", testPayout, got)
	}

	// Live redelivery after replay is still a duplicate: no-op verdict,
	// no new output, sequence unchanged.
	seqBefore := restarted.GetSequence()
	if err := restarted.ProcessEvent(events[0]); err != nil {
		t.Fatalf("redelivered event errored: %v", err)
	}
	if got := restarted.GetSequence(); got != seqBefore {
		t.Errorf("duplicate redelivery consumed a sequence: %d -> %d", seqBefore, got)
	}
	if got := restarted.PoolBalance(); got != liveCore.PoolBalance() {
		t.Errorf("duplicate redelivery changed the pool: %d", got)
	}

	// A genuinely new event continues the sequence from the log head.
	if err := restarted.ProcessEvent(mustDeposit(adminA, 10_000_000, departure.Add(4*time.Hour))); err != nil {
		t.Fatalf("fresh event after replay failed: %v", err)
	}
	if got := restarted.GetSequence(); got != seqBefore+1 {
		t.Errorf("expected sequence %d after fresh event, got %d", seqBefore+1, got)
	}
}
