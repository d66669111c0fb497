package projection

import "sync"

// PayoutHistoryEntry is one issued payout in the queryable history.
type PayoutHistoryEntry struct {
	PolicyID     string `json:"policy_id"`
	SubscriberID string `json:"subscriber_id"`
	FlightID     string `json:"flight_id"`
	Amount       int64  `json:"amount"`
	Sequence     int64  `json:"sequence"`
	Timestamp    int64  `json:"timestamp_us"`
}

// PayoutHistoryProjection maintains queryable payout history. Written by
// the projection worker, read by the query service.
type PayoutHistoryProjection struct {
	mu      sync.RWMutex
	entries []PayoutHistoryEntry
}

func NewPayoutHistoryProjection() *PayoutHistoryProjection {
	return &PayoutHistoryProjection{
		entries: make([]PayoutHistoryEntry, 0),
	}
}

// AddEntry records an issued payout
func (p *PayoutHistoryProjection) AddEntry(entry PayoutHistoryEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
}

// QueryBySubscriber returns payout history for a subscriber, newest first
func (p *PayoutHistoryProjection) QueryBySubscriber(subscriberID string, limit int) []PayoutHistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]PayoutHistoryEntry, 0)

	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].SubscriberID == subscriberID {
			result = append(result, p.entries[i])
		}
	}

	return result
}

// QueryByFlight returns payout history for a flight, newest first
func (p *PayoutHistoryProjection) QueryByFlight(flightID string, limit int) []PayoutHistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]PayoutHistoryEntry, 0)

	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].FlightID == flightID {
			result = append(result, p.entries[i])
		}
	}

	return result
}
