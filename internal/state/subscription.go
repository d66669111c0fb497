package state

import (
	"time"

	"github.com/google/uuid"
)

// Policy is one insured flight, owned exclusively by its subscriber's
// Subscription. PaidOut transitions false→true exactly once and never reverts.
type Policy struct {
	PolicyID     uuid.UUID
	Subscriber   uuid.UUID
	FlightID     string
	Departure    time.Time // Scheduled departure
	PaidOut      bool
	RegisteredAt time.Time
}

// DueAt reports whether the delay window has elapsed for this policy
func (p *Policy) DueAt(now time.Time, threshold time.Duration) bool {
	return !now.Before(p.Departure.Add(threshold))
}

// Subscription is a subscriber's coverage record. Created on first successful
// subscribe, never deleted, only deactivated. Policies accumulate across
// re-subscriptions; a new period does not reset previously registered flights.
type Subscription struct {
	Subscriber uuid.UUID
	Active     bool
	StartTime  time.Time // Timestamp of last successful subscribe
	Policies   []*Policy // Registration order
}

// ActiveAt reports liveness without mutating. Expiry is observed here;
// durably clearing the flag is the caller's job (lazy, on first touch).
func (s *Subscription) ActiveAt(now time.Time, duration time.Duration) bool {
	return s.Active && now.Before(s.StartTime.Add(duration))
}

// ExpiredAt reports a subscription that was active but has run out its window
func (s *Subscription) ExpiredAt(now time.Time, duration time.Duration) bool {
	return s.Active && !now.Before(s.StartTime.Add(duration))
}

// FindPolicy returns the first policy for a flight id, or nil.
// Linear scan; the per-subscriber policy count is bounded by normal usage.
func (s *Subscription) FindPolicy(flightID string) *Policy {
	for _, p := range s.Policies {
		if p.FlightID == flightID {
			return p
		}
	}
	return nil
}
