package timerange

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvertedRange = errors.New("time range end is before start")

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// New builds a range and rejects end < start. A zero-length range is allowed
// and is treated as empty.
func New(start, end time.Time) (TimeRange, error) {
	if end.Before(start) {
		return TimeRange{}, fmt.Errorf("%w: start=%s end=%s", ErrInvertedRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return TimeRange{Start: start, End: end}, nil
}

// MustNew is New for literals known to be valid.
func MustNew(start, end time.Time) TimeRange {
	r, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

func (r TimeRange) IsEmpty() bool {
	return !r.Start.Before(r.End)
}

func (r TimeRange) Duration() time.Duration {
	if r.IsEmpty() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Overlaps reports whether the two ranges share any instant. Empty ranges
// overlap nothing.
func (r TimeRange) Overlaps(other TimeRange) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Contains reports whether start <= t < end.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Covers reports whether other lies entirely inside r.
func (r TimeRange) Covers(other TimeRange) bool {
	return !other.Start.Before(r.Start) && !other.End.After(r.End)
}

// Expand pads both sides by d.
func (r TimeRange) Expand(d time.Duration) TimeRange {
	return TimeRange{Start: r.Start.Add(-d), End: r.End.Add(d)}
}

func (r TimeRange) Equal(other TimeRange) bool {
	return r.Start.Equal(other.Start) && r.End.Equal(other.End)
}

func (r TimeRange) UTC() TimeRange {
	return TimeRange{Start: r.Start.UTC(), End: r.End.UTC()}
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
