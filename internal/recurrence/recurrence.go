// Package recurrence expands a recurring availability template into concrete
// occurrences. Wall-clock time of day is preserved in the configured timezone,
// so the UTC offset of each occurrence is resolved for its own date.
package recurrence

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/hackgods/availability-engine/internal/timerange"
)

type Frequency string

const (
	Daily  Frequency = "DAILY"
	Weekly Frequency = "WEEKLY"
)

var ErrInvalidRule = errors.New("invalid recurrence rule")

// Rule is the template of a recurring block. StartsAt and EndsAt are UTC
// instants of the first occurrence; Weekdays uses 0=Monday .. 6=Sunday.
type Rule struct {
	StartsAt  time.Time
	EndsAt    time.Time
	Frequency Frequency
	Weekdays  []int
	Timezone  string
}

// WeekdayIndex converts a time.Weekday to the 0=Monday index used by Rule.
func WeekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func (r Rule) Validate() error {
	if !r.EndsAt.After(r.StartsAt) {
		return fmt.Errorf("%w: ends_at must be after starts_at", ErrInvalidRule)
	}
	switch r.Frequency {
	case Daily:
		if len(r.Weekdays) > 0 {
			return fmt.Errorf("%w: week days are only allowed for %s", ErrInvalidRule, Weekly)
		}
	case Weekly:
		if len(r.Weekdays) == 0 {
			return fmt.Errorf("%w: %s requires at least one week day", ErrInvalidRule, Weekly)
		}
		for _, d := range r.Weekdays {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: week day index %d out of range", ErrInvalidRule, d)
			}
		}
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Frequency)
	}
	if _, err := loadLocation(r.Timezone); err != nil {
		return err
	}
	return nil
}

// Expand validates the rule and returns the occurrences whose start is at or
// after startRange and whose local date is on or before the local date of
// untilRange. The anchor occurrence (StartsAt itself) is always produced when
// in range, even when its weekday is not in Weekdays.
//
// The returned sequence is a pure function of its inputs and can be ranged
// over any number of times.
func Expand(rule Rule, startRange, untilRange time.Time) (iter.Seq[timerange.TimeRange], error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	loc, _ := loadLocation(rule.Timezone)

	anchorLocal := rule.StartsAt.In(loc)
	duration := rule.EndsAt.Sub(rule.StartsAt)
	hour, minute, sec := anchorLocal.Clock()

	days := make(map[int]bool, len(rule.Weekdays))
	for _, d := range rule.Weekdays {
		days[d] = true
	}

	firstDay := dateOf(startRange.In(loc))
	lastDay := dateOf(untilRange.In(loc))
	anchorDay := dateOf(anchorLocal)

	return func(yield func(timerange.TimeRange) bool) {
		for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
			start := wallClock(day, hour, minute, sec, anchorLocal.Nanosecond(), loc)
			if day.Equal(anchorDay) {
				start = rule.StartsAt
			}
			if start.Before(startRange) || start.Before(rule.StartsAt) {
				continue
			}
			if rule.Frequency == Weekly && !days[WeekdayIndex(day.Weekday())] && !start.Equal(rule.StartsAt) {
				continue
			}
			occ := timerange.TimeRange{Start: start.UTC(), End: start.Add(duration).UTC()}
			if !yield(occ) {
				return
			}
		}
	}, nil
}

// Occurrences collects Expand into a slice.
func Occurrences(rule Rule, startRange, untilRange time.Time) ([]timerange.TimeRange, error) {
	seq, err := Expand(rule, startRange, untilRange)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// dateOf returns the calendar date of t as midnight UTC. Days are walked in
// UTC so a transition at local midnight cannot repeat or skip a date.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// wallClock returns the instant at which the clock in loc reads
// hour:minute:sec on day. A time repeated by a backward transition resolves to
// its first occurrence. A time skipped by a forward transition is read with
// the offset in effect before the gap, so 02:30 on a spring-forward night in
// New York becomes 03:30 daylight time.
func wallClock(day time.Time, hour, minute, sec, nsec int, loc *time.Location) time.Time {
	naive := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, sec, nsec, time.UTC)
	_, before := naive.Add(-36 * time.Hour).In(loc).Zone()
	_, after := naive.Add(36 * time.Hour).In(loc).Zone()

	early := naive.Add(-time.Duration(before) * time.Second)
	late := naive.Add(-time.Duration(after) * time.Second)
	switch {
	case readsAs(early, naive, loc) && readsAs(late, naive, loc):
		if late.Before(early) {
			return late
		}
		return early
	case readsAs(early, naive, loc):
		return early
	case readsAs(late, naive, loc):
		return late
	default:
		return early
	}
}

func readsAs(t, naive time.Time, loc *time.Location) bool {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC).Equal(naive)
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidRule, name)
	}
	return loc, nil
}
