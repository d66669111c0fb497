package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"FlightCover/internal/event"
	"FlightCover/internal/ledger"
	"FlightCover/internal/observability"
	"FlightCover/internal/state"
)

// Config carries the deployment-fixed insurance parameters. Amounts are
// micro-units of the settlement asset.
type Config struct {
	Premium              int64
	Payout               int64
	DelayThreshold       time.Duration
	SubscriptionDuration time.Duration

	// OpenFunding allows any caller to deposit into the pool.
	// Default (false) restricts deposits to the administrator.
	OpenFunding bool
}

// DefaultConfig returns the reference deployment parameters:
// 50 USDC premium, 120 USDC payout, 2h delay threshold, 30-day coverage.
func DefaultConfig() Config {
	return Config{
		Premium:              50_000_000,
		Payout:               120_000_000,
		DelayThreshold:       2 * time.Hour,
		SubscriptionDuration: 30 * 24 * time.Hour,
	}
}

// PayoutRecord is one issued claim payout, emitted for downstream publishers
// and projections.
type PayoutRecord struct {
	PolicyID   uuid.UUID `json:"policy_id"`
	Subscriber uuid.UUID `json:"subscriber_id"`
	FlightID   string    `json:"flight_id"`
	Amount     int64     `json:"amount"`
	Sequence   int64     `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}

// CoreOutput is the per-event emission to persistence and projections
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Event      event.Event // Source event, re-marshaled to wire form for the log
	Batch      *ledger.Batch
	StateDelta []byte
	Payouts    []PayoutRecord
}

// InsuranceCore is the single-threaded event processor. It owns every piece
// of ledger and policy state; all mutation flows through ProcessEvent, one
// event at a time, so no operation ever observes a half-applied scan.
type InsuranceCore struct {
	cfg      Config
	sequence int64

	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator

	book   *state.SubscriptionBook
	board  *state.FlightBoard
	access *state.AccessController

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewInsuranceCore(
	cfg Config,
	admin uuid.UUID,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*InsuranceCore, error) {
	access, err := state.NewAccessController(admin)
	if err != nil {
		return nil, err
	}

	balanceTracker := ledger.NewBalanceTracker()

	return &InsuranceCore{
		cfg:               cfg,
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(startSequence, balanceTracker),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		book:              state.NewSubscriptionBook(),
		board:             state.NewFlightBoard(),
		access:            access,
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// ProcessEvent is the main processing pipeline
func (c *InsuranceCore) ProcessEvent(evt event.Event) error {
	return c.process(evt, false)
}

// ReplayEvent applies an event read back from the durable log during startup
// recovery. Every logged event is, by definition, already in the stores the
// duplicate check consults — the LRU is warmed from the same log and the DB
// checker queries the table the event came from — so the two-tier check would
// classify all of them as duplicates and rebuild nothing. Replay trusts the
// log and skips straight to sequence validation and dispatch.
func (c *InsuranceCore) ReplayEvent(evt event.Event) error {
	return c.process(evt, true)
}

func (c *InsuranceCore) process(evt event.Event, replay bool) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier). Skipped on replay; only events
	// that were applied ever reached the log.
	isDuplicate := false
	if !replay {
		isDuplicate = c.idempotency.IsDuplicate(eventType, idempotencyKey)
	}

	// Step 2: Source sequence validation per partition
	partition := c.getPartition(evt)
	if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "out_of_order").Inc()
			c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch. Every handler stages all mutations behind its
	// precondition checks: an error return here means zero state change.
	batch, payouts, err := c.dispatchEvent(evt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "precondition").Inc()
		}
		return err
	}

	// Step 4: Validate and apply journals. Empty batches (registration,
	// oracle rotation, no-payout reports) skip straight to the envelope.
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			return fmt.Errorf("apply batch failed: %w", err)
		}
	}

	// Step 5: State digest + hash chain
	stateDigest := c.computeStateDigest(batch, evt)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		FlightID:       evt.FlightID(),
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Event:      evt,
		Batch:      batch,
		StateDelta: stateDigest,
		Payouts:    payouts,
	}
	c.sequence++

	// Step 6: Post-checks
	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Emit. Persistence uses a BLOCKING send (backpressure — no
	// event is ever lost); projections use a NON-BLOCKING send with drop,
	// they can rebuild from the event log if they fall behind.
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.PoolBalance.Set(float64(c.balanceTracker.GetPoolBalance(ledger.AssetUSDC)))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
	}

	return nil
}

// getPartition determines the partition key for sequence validation.
// Oracle reports order per flight; everything else shares one stream.
func (c *InsuranceCore) getPartition(evt event.Event) string {
	if _, ok := evt.(*event.FlightStatusReported); ok {
		return fmt.Sprintf("flight:%s", *evt.FlightID())
	}
	return "global"
}

// getEventTimestamp extracts the versioned timestamp from the event.
// The core MUST NOT call time.Now(); all timestamps are versioned inputs.
func (c *InsuranceCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.SubscribeRequested:
		return e.Timestamp
	case *event.FlightRegistered:
		return e.Timestamp
	case *event.FlightStatusReported:
		return e.Timestamp
	case *event.FundsDeposited:
		return e.Timestamp
	case *event.OracleRotated:
		return e.Timestamp
	case *event.PayoutSettled:
		return e.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T — core cannot use wall-clock time", evt))
	}
}

func (c *InsuranceCore) dispatchEvent(evt event.Event) (*ledger.Batch, []PayoutRecord, error) {
	switch e := evt.(type) {
	case *event.SubscribeRequested:
		batch, err := c.handleSubscribe(e)
		return batch, nil, err
	case *event.FlightRegistered:
		batch, err := c.handleRegisterFlight(e)
		return batch, nil, err
	case *event.FlightStatusReported:
		return c.handleStatusReport(e)
	case *event.FundsDeposited:
		batch, err := c.handleDeposit(e)
		return batch, nil, err
	case *event.OracleRotated:
		batch, err := c.handleSetOracle(e)
		return batch, nil, err
	case *event.PayoutSettled:
		batch, err := c.handleSettlePayout(e)
		return batch, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// handleSubscribe validates the exact premium and activates coverage.
// The payment lands in the pool: subscribers collectively fund their own
// future payouts.
func (c *InsuranceCore) handleSubscribe(evt *event.SubscribeRequested) (*ledger.Batch, error) {
	if evt.Payment != c.cfg.Premium {
		return nil, fmt.Errorf("payment %d != premium %d: %w",
			evt.Payment, c.cfg.Premium, state.ErrWrongPremium)
	}

	if err := c.book.Subscribe(evt.Subscriber, evt.Timestamp, c.cfg.SubscriptionDuration); err != nil {
		return nil, err
	}

	batch, err := c.journalGen.GeneratePremiumCollected(evt, ledger.AssetUSDC)
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.SubscriptionsActivated.Inc()
		c.metrics.PremiumsCollectedTotal.Add(float64(evt.Payment))
	}
	return batch, nil
}

// handleRegisterFlight appends a policy to the caller's active subscription.
// The oracle may not insure flights it reports on. No money moves; the batch
// is empty and only the envelope lands in the log.
func (c *InsuranceCore) handleRegisterFlight(evt *event.FlightRegistered) (*ledger.Batch, error) {
	if evt.Subscriber == c.access.Oracle() {
		return nil, fmt.Errorf("oracle may not register flights: %w", state.ErrUnauthorized)
	}

	if err := c.book.EnsureActive(evt.Subscriber, evt.Timestamp, c.cfg.SubscriptionDuration); err != nil {
		return nil, err
	}

	// RequestID doubles as the policy id so replay reconstructs identical state
	if _, err := c.book.RegisterFlight(evt.RequestID, evt.Subscriber, evt.Flight, evt.Departure, evt.Timestamp); err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.PoliciesRegistered.Inc()
	}
	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
}

// handleStatusReport is the payout-triggering scan, staged in two phases.
// Phase 1 plans: resolve the flight's indexed policies, stage lazy expiries
// and due claims, and verify the pool covers the full total. Phase 2 commits:
// record the status, flip expiries and paid flags, and append the journals.
// A funding shortfall aborts between the phases with zero visible change, so
// the operator can top up and re-report.
func (c *InsuranceCore) handleStatusReport(evt *event.FlightStatusReported) (*ledger.Batch, []PayoutRecord, error) {
	if err := c.access.RequireOracle(evt.Oracle); err != nil {
		return nil, nil, err
	}

	now := evt.Timestamp
	batch := c.emptyBatch(evt.IdempotencyKey(), now)
	var payouts []PayoutRecord
	var plan state.PayoutPlan

	if evt.Delayed {
		plan = c.book.PlanPayouts(evt.Flight, now, c.cfg.SubscriptionDuration, c.cfg.DelayThreshold)

		if len(plan.Due) > 0 {
			total := c.cfg.Payout * int64(len(plan.Due))
			if c.balanceTracker.GetPoolBalance(ledger.AssetUSDC) < total {
				if c.metrics != nil {
					c.metrics.PoolShortfalls.Inc()
				}
				return nil, nil, fmt.Errorf("flight %s needs %d for %d claims: %w",
					evt.Flight, total, len(plan.Due), state.ErrInsufficientPool)
			}

			claims := make([]ledger.ClaimCredit, 0, len(plan.Due))
			for _, policy := range plan.Due {
				claims = append(claims, ledger.ClaimCredit{
					Subscriber: policy.Subscriber,
					PolicyID:   policy.PolicyID,
				})
			}

			var err error
			batch, err = c.journalGen.GenerateClaimPayouts(
				evt.IdempotencyKey(), claims, c.cfg.Payout, ledger.AssetUSDC, now.UnixMicro())
			if err != nil {
				return nil, nil, fmt.Errorf("payout generation for flight %s: %w", evt.Flight, err)
			}

			payouts = make([]PayoutRecord, 0, len(plan.Due))
			for _, policy := range plan.Due {
				payouts = append(payouts, PayoutRecord{
					PolicyID:   policy.PolicyID,
					Subscriber: policy.Subscriber,
					FlightID:   policy.FlightID,
					Amount:     c.cfg.Payout,
					Sequence:   c.sequence,
					Timestamp:  now,
				})
			}
		}
	}

	// Commit phase: every check has passed
	c.board.Record(evt.Flight, evt.Delayed, evt.ReportSequence, now)
	c.book.CommitPayouts(plan)

	if c.metrics != nil {
		c.metrics.StatusReports.WithLabelValues(fmt.Sprintf("%t", evt.Delayed)).Inc()
		c.metrics.SubscriptionsExpired.Add(float64(len(plan.Expire)))
		if len(payouts) > 0 {
			c.metrics.PayoutsIssued.Add(float64(len(payouts)))
			c.metrics.PayoutAmountTotal.Add(float64(c.cfg.Payout * int64(len(payouts))))
		}
	}
	return batch, payouts, nil
}

// handleDeposit moves external funds into the pool. Admin-only unless the
// deployment opted into open funding.
func (c *InsuranceCore) handleDeposit(evt *event.FundsDeposited) (*ledger.Batch, error) {
	if !c.cfg.OpenFunding {
		if err := c.access.RequireAdmin(evt.Depositor); err != nil {
			return nil, err
		}
	}
	if evt.Amount <= 0 {
		return nil, fmt.Errorf("deposit of %d: %w", evt.Amount, state.ErrInvalidAmount)
	}

	return c.journalGen.GeneratePoolDeposit(evt, ledger.AssetUSDC)
}

// handleSettlePayout clears payable credit once the operator has wired the
// funds out of custody. Admin-only; the settlement may not exceed the
// subscriber's payable balance, and partial settlements leave the remainder.
func (c *InsuranceCore) handleSettlePayout(evt *event.PayoutSettled) (*ledger.Batch, error) {
	if err := c.access.RequireAdmin(evt.Admin); err != nil {
		return nil, err
	}
	if evt.Amount <= 0 {
		return nil, fmt.Errorf("settlement of %d: %w", evt.Amount, state.ErrInvalidAmount)
	}
	if payable := c.balanceTracker.GetUserPayable(evt.Subscriber, ledger.AssetUSDC); payable < evt.Amount {
		return nil, fmt.Errorf("settlement %d exceeds payable %d: %w",
			evt.Amount, payable, state.ErrInsufficientPayable)
	}

	batch, err := c.journalGen.GeneratePayoutSettled(
		evt.Subscriber, evt.SettlementID, evt.Amount, ledger.AssetUSDC, evt.Timestamp.UnixMicro())
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.PayoutsSettled.Inc()
		c.metrics.SettledAmountTotal.Add(float64(evt.Amount))
	}
	return batch, nil
}

// handleSetOracle rotates the oracle principal. State-only; empty batch.
func (c *InsuranceCore) handleSetOracle(evt *event.OracleRotated) (*ledger.Batch, error) {
	if err := c.access.SetOracle(evt.Admin, evt.NewOracle); err != nil {
		return nil, err
	}
	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
}

func (c *InsuranceCore) emptyBatch(eventRef string, ts time.Time) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  c.sequence,
		Timestamp: ts.UnixMicro(),
		Journals:  []ledger.Journal{},
	}
}

// computeStateDigest creates canonical bytes for the state hash: affected
// account balances (sorted by path) plus the event's domain effect.
func (c *InsuranceCore) computeStateDigest(batch *ledger.Batch, evt event.Event) []byte {
	// Collect all affected accounts
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, balance)
	}

	// Domain effect: what this event changed beyond balances
	switch e := evt.(type) {
	case *event.SubscribeRequested:
		digest = append(digest, e.Subscriber[:]...)
		digest = appendInt64LE(digest, e.Timestamp.UnixMicro())
	case *event.FlightRegistered:
		digest = append(digest, e.RequestID[:]...)
		digest = append(digest, []byte(e.Flight)...)
		digest = appendInt64LE(digest, e.Departure.UnixMicro())
	case *event.FlightStatusReported:
		digest = append(digest, []byte(e.Flight)...)
		if e.Delayed {
			digest = append(digest, 1)
		} else {
			digest = append(digest, 0)
		}
		digest = appendInt64LE(digest, e.ReportSequence)
	case *event.OracleRotated:
		digest = append(digest, e.NewOracle[:]...)
	case *event.PayoutSettled:
		digest = append(digest, e.Subscriber[:]...)
		digest = appendInt64LE(digest, e.Amount)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates ledger invariants after batch application
func (c *InsuranceCore) postCheckInvariants() error {
	if err := c.validator.ValidatePoolNonNegative(ledger.AssetUSDC); err != nil {
		return fmt.Errorf("post-check pool: %w", err)
	}

	// Periodic global zero-sum check
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check zero-sum at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

// --- Read Queries ---
// Pure reads over in-memory state. Callers reach these through the command
// bus so reads serialize with mutations.

// IsSubscribed reports live coverage at the supplied time. No side effects.
func (c *InsuranceCore) IsSubscribed(who uuid.UUID, now time.Time) bool {
	return c.book.IsSubscribed(who, now, c.cfg.SubscriptionDuration)
}

// PolicyCount returns the subscriber's lifetime policy count
func (c *InsuranceCore) PolicyCount(who uuid.UUID) int {
	return c.book.PolicyCount(who)
}

// Policies returns the subscriber's policy sequence in registration order
func (c *InsuranceCore) Policies(who uuid.UUID) []*state.Policy {
	return c.book.Policies(who)
}

// PoolBalance returns the current payout pool balance
func (c *InsuranceCore) PoolBalance() int64 {
	return c.balanceTracker.GetPoolBalance(ledger.AssetUSDC)
}

// PayableBalance returns a subscriber's accumulated payout credit
func (c *InsuranceCore) PayableBalance(who uuid.UUID) int64 {
	return c.balanceTracker.GetUserPayable(who, ledger.AssetUSDC)
}

// FlightStatus returns the last reported status for a flight, or nil
func (c *InsuranceCore) FlightStatus(flightID string) *state.FlightStatus {
	return c.board.Status(flightID)
}

// Oracle returns the current oracle principal
func (c *InsuranceCore) Oracle() uuid.UUID {
	return c.access.Oracle()
}

// Admin returns the administrator principal
func (c *InsuranceCore) Admin() uuid.UUID {
	return c.access.Admin()
}

// Config returns the deployment parameters
func (c *InsuranceCore) Config() Config {
	return c.cfg
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Subscriptions   []*state.Subscription
	FlightStatuses  []*state.FlightStatus
	Oracle          uuid.UUID
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state. On warm restart
// the latest snapshot is loaded first, then the event log replays on top.
func (c *InsuranceCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	c.book.Restore(snap.Subscriptions)
	c.board.Restore(snap.FlightStatuses)

	if snap.Oracle != uuid.Nil {
		c.access.RestoreOracle(snap.Oracle)
	}

	for partition, seq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, seq)
	}

	c.journalGen.SetSequence(c.sequence)
}

// WarmLRU loads recent idempotency keys into the LRU cache so recently
// processed events skip the cold-path DB lookup after restart.
func (c *InsuranceCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *InsuranceCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *InsuranceCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *InsuranceCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Subscriptions:   c.book.Export(),
		FlightStatuses:  c.board.Export(),
		Oracle:          c.access.Oracle(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
