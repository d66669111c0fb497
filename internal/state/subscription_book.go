package state

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubscriptionBook owns every subscription and policy. It also maintains a
// secondary index from flight id to the policies covering that flight, kept
// current on registration, so a delay report resolves its audience with a
// single lookup instead of a full subscriber walk.
type SubscriptionBook struct {
	subscriptions map[uuid.UUID]*Subscription
	order         []uuid.UUID // Subscribers in first-recorded order
	flightIndex   map[string][]*Policy
}

func NewSubscriptionBook() *SubscriptionBook {
	return &SubscriptionBook{
		subscriptions: make(map[uuid.UUID]*Subscription),
		flightIndex:   make(map[string][]*Policy),
	}
}

// GetSubscription returns the subscriber's record or nil
func (sb *SubscriptionBook) GetSubscription(subscriber uuid.UUID) *Subscription {
	return sb.subscriptions[subscriber]
}

// Subscribe activates coverage for a subscriber. The payment has already been
// validated against the premium by the caller. Expiry of a stale record is
// observed and durably cleared before the re-subscription check.
func (sb *SubscriptionBook) Subscribe(subscriber uuid.UUID, now time.Time, duration time.Duration) error {
	if subscriber == uuid.Nil {
		return fmt.Errorf("subscriber: %w", ErrInvalidAddress)
	}

	sub := sb.subscriptions[subscriber]
	if sub == nil {
		sub = &Subscription{Subscriber: subscriber}
		sb.subscriptions[subscriber] = sub
		sb.order = append(sb.order, subscriber)
	}

	if sub.ExpiredAt(now, duration) {
		sub.Active = false
	}
	if sub.Active {
		return fmt.Errorf("subscriber %s: %w", subscriber, ErrAlreadySubscribed)
	}

	sub.Active = true
	sub.StartTime = now
	return nil
}

// EnsureActive verifies the subscriber holds live coverage, durably clearing
// an expired flag on the way. Distinguishes never-subscribed/inactive from
// just-expired so callers can surface the difference.
func (sb *SubscriptionBook) EnsureActive(subscriber uuid.UUID, now time.Time, duration time.Duration) error {
	sub := sb.subscriptions[subscriber]
	if sub == nil || !sub.Active {
		return fmt.Errorf("subscriber %s: %w", subscriber, ErrNoActiveSubscription)
	}
	if sub.ExpiredAt(now, duration) {
		sub.Active = false
		return fmt.Errorf("subscriber %s: %w", subscriber, ErrSubscriptionExpired)
	}
	return nil
}

// RegisterFlight appends a new unpaid policy to the subscriber's sequence and
// indexes it by flight id. The duplicate check covers the subscriber's whole
// policy history; policies are never deleted, so a flight id is claimed once
// per subscriber for good.
func (sb *SubscriptionBook) RegisterFlight(
	policyID uuid.UUID,
	subscriber uuid.UUID,
	flightID string,
	departure time.Time,
	registeredAt time.Time,
) (*Policy, error) {
	sub := sb.subscriptions[subscriber]
	if sub == nil {
		return nil, fmt.Errorf("subscriber %s: %w", subscriber, ErrNoActiveSubscription)
	}

	if sub.FindPolicy(flightID) != nil {
		return nil, fmt.Errorf("flight %s for subscriber %s: %w", flightID, subscriber, ErrDuplicateFlight)
	}

	policy := &Policy{
		PolicyID:     policyID,
		Subscriber:   subscriber,
		FlightID:     flightID,
		Departure:    departure,
		RegisteredAt: registeredAt,
	}
	sub.Policies = append(sub.Policies, policy)
	sb.flightIndex[flightID] = append(sb.flightIndex[flightID], policy)

	return policy, nil
}

// PayoutPlan is the staged outcome of a delay scan: which subscriptions to
// durably expire and which policies are due a payout. Computed without
// mutating so the caller can abort on a funding shortfall with zero visible
// state change.
type PayoutPlan struct {
	Expire []uuid.UUID
	Due    []*Policy
}

// PlanPayouts resolves the flight's indexed policies in registration order.
// A policy is due when it is still unpaid, the delay window has elapsed, and
// its owner's subscription is live at scan time. A lapsed owner never
// retroactively qualifies, even after re-subscribing.
func (sb *SubscriptionBook) PlanPayouts(
	flightID string,
	now time.Time,
	duration time.Duration,
	threshold time.Duration,
) PayoutPlan {
	var plan PayoutPlan
	expiring := make(map[uuid.UUID]bool)

	for _, policy := range sb.flightIndex[flightID] {
		sub := sb.subscriptions[policy.Subscriber]

		if sub.ExpiredAt(now, duration) && !expiring[sub.Subscriber] {
			expiring[sub.Subscriber] = true
			plan.Expire = append(plan.Expire, sub.Subscriber)
		}

		if policy.PaidOut {
			continue
		}
		if !policy.DueAt(now, threshold) {
			continue
		}
		if !sub.ActiveAt(now, duration) {
			continue
		}
		plan.Due = append(plan.Due, policy)
	}

	return plan
}

// CommitPayouts applies a staged plan: expiries flip durably, due policies
// flip paid_out exactly once. Only called after the funding pre-check passed.
func (sb *SubscriptionBook) CommitPayouts(plan PayoutPlan) {
	for _, subscriber := range plan.Expire {
		if sub := sb.subscriptions[subscriber]; sub != nil {
			sub.Active = false
		}
	}
	for _, policy := range plan.Due {
		policy.PaidOut = true
	}
}

// IsSubscribed is a pure read: stored state plus the supplied time, no
// side effects, no durable expiry flip.
func (sb *SubscriptionBook) IsSubscribed(subscriber uuid.UUID, now time.Time, duration time.Duration) bool {
	sub := sb.subscriptions[subscriber]
	if sub == nil {
		return false
	}
	return sub.ActiveAt(now, duration)
}

// PolicyCount returns the subscriber's lifetime policy count
func (sb *SubscriptionBook) PolicyCount(subscriber uuid.UUID) int {
	sub := sb.subscriptions[subscriber]
	if sub == nil {
		return 0
	}
	return len(sub.Policies)
}

// Policies returns the subscriber's policy sequence verbatim, in
// registration order
func (sb *SubscriptionBook) Policies(subscriber uuid.UUID) []*Policy {
	sub := sb.subscriptions[subscriber]
	if sub == nil {
		return nil
	}
	return sub.Policies
}

// SubscribersInOrder returns subscriber ids in first-recorded order
func (sb *SubscriptionBook) SubscribersInOrder() []uuid.UUID {
	return sb.order
}

// Export returns the subscriptions in first-recorded order for snapshotting
func (sb *SubscriptionBook) Export() []*Subscription {
	out := make([]*Subscription, 0, len(sb.order))
	for _, id := range sb.order {
		out = append(out, sb.subscriptions[id])
	}
	return out
}

// Restore rebuilds the book (including the flight index) from exported
// subscriptions, preserving order
func (sb *SubscriptionBook) Restore(subs []*Subscription) {
	sb.subscriptions = make(map[uuid.UUID]*Subscription, len(subs))
	sb.order = make([]uuid.UUID, 0, len(subs))
	sb.flightIndex = make(map[string][]*Policy)

	for _, sub := range subs {
		sb.subscriptions[sub.Subscriber] = sub
		sb.order = append(sb.order, sub.Subscriber)
		for _, p := range sub.Policies {
			sb.flightIndex[p.FlightID] = append(sb.flightIndex[p.FlightID], p)
		}
	}
}
