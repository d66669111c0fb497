package state

import "time"

// FlightStatus is the last oracle-reported delay state for one flight
type FlightStatus struct {
	FlightID   string
	Delayed    bool
	ReportedAt time.Time
	ReportSeq  int64
}

// FlightBoard tracks the last-known delay status per flight id. Repeated
// identical reports overwrite idempotently; the payout scan is driven by the
// report itself, not by a status transition.
type FlightBoard struct {
	statuses map[string]*FlightStatus
	order    []string // Flights in first-reported order
}

func NewFlightBoard() *FlightBoard {
	return &FlightBoard{
		statuses: make(map[string]*FlightStatus),
	}
}

// Record stores the reported status as the flight's last-known state
func (fb *FlightBoard) Record(flightID string, delayed bool, reportSeq int64, reportedAt time.Time) {
	status := fb.statuses[flightID]
	if status == nil {
		status = &FlightStatus{FlightID: flightID}
		fb.statuses[flightID] = status
		fb.order = append(fb.order, flightID)
	}
	status.Delayed = delayed
	status.ReportedAt = reportedAt
	status.ReportSeq = reportSeq
}

// Status returns the last-known status for a flight, or nil if never reported
func (fb *FlightBoard) Status(flightID string) *FlightStatus {
	return fb.statuses[flightID]
}

// Export returns statuses in first-reported order for snapshotting
func (fb *FlightBoard) Export() []*FlightStatus {
	out := make([]*FlightStatus, 0, len(fb.order))
	for _, id := range fb.order {
		out = append(out, fb.statuses[id])
	}
	return out
}

// Restore rebuilds the board from exported statuses, preserving order
func (fb *FlightBoard) Restore(statuses []*FlightStatus) {
	fb.statuses = make(map[string]*FlightStatus, len(statuses))
	fb.order = make([]string, 0, len(statuses))
	for _, s := range statuses {
		fb.statuses[s.FlightID] = s
		fb.order = append(fb.order, s.FlightID)
	}
}
