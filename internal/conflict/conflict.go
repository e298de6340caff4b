package conflict

import (
	"time"

	"github.com/hackgods/availability-engine/internal/timerange"
)

// OverlapCheckable is anything that occupies an interval on a calendar and can
// say whether a candidate booking collides with it.
type OverlapCheckable interface {
	Interval() timerange.TimeRange
	Contains(candidate timerange.TimeRange) bool
}

type padded struct {
	inner  OverlapCheckable
	buffer time.Duration
}

// WithPrepBuffer pads an existing booking on both sides. A candidate that ends
// less than buffer before it starts, or starts less than buffer after it ends,
// is contained.
func WithPrepBuffer(c OverlapCheckable, buffer time.Duration) OverlapCheckable {
	if buffer <= 0 {
		return c
	}
	return padded{inner: c, buffer: buffer}
}

func (p padded) Interval() timerange.TimeRange {
	return p.inner.Interval().Expand(p.buffer)
}

func (p padded) Contains(candidate timerange.TimeRange) bool {
	return p.Interval().Overlaps(candidate)
}

// HasAppointmentConflict reports whether candidate cannot be booked.
// Unavailable windows are checked first and, on a match, existing bookings are
// never consulted.
func HasAppointmentConflict(candidate timerange.TimeRange, existing []OverlapCheckable, unavailable []timerange.TimeRange) bool {
	for _, u := range unavailable {
		if u.Contains(candidate.Start) {
			return true
		}
	}
	for _, e := range existing {
		if e.Contains(candidate) {
			return true
		}
	}
	return false
}

// FirstConflict is HasAppointmentConflict for callers that need the offending
// interval.
func FirstConflict(candidate timerange.TimeRange, existing []OverlapCheckable, unavailable []timerange.TimeRange) (timerange.TimeRange, bool) {
	for _, u := range unavailable {
		if u.Contains(candidate.Start) {
			return u, true
		}
	}
	for _, e := range existing {
		if e.Contains(candidate) {
			return e.Interval(), true
		}
	}
	return timerange.TimeRange{}, false
}
