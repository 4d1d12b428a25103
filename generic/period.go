package generic

import "time"

// =============================================================================
// PERIOD - Open-ended window of activity
// =============================================================================

// Period is a window that starts when something is opened and ends when a
// successor replaces it. A nil ClosedAt means the period is still current.
//
// Examples:
//   - A driver's allocation cycle: opened by an allocation, closed by the next
type Period struct {
	OpenedAt time.Time
	ClosedAt *time.Time
}

func OpenPeriod(at time.Time) Period {
	return Period{OpenedAt: at}
}

// IsOpen returns true while no successor has closed the period.
func (p Period) IsOpen() bool { return p.ClosedAt == nil }

// Close ends the period at the given time. Closing twice keeps the first time.
func (p *Period) Close(at time.Time) {
	if p.ClosedAt != nil {
		return
	}
	closed := at
	p.ClosedAt = &closed
}
