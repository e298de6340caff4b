package schedule

import (
	"time"

	"github.com/hackgods/availability-engine/internal/recurrence"
	"github.com/hackgods/availability-engine/internal/timerange"
)

type EventState string

const (
	EventAvailable   EventState = "AVAILABLE"
	EventBooked      EventState = "BOOKED"
	EventUnavailable EventState = "UNAVAILABLE"
)

type MaterializationState string

const (
	MaterializationDefined   MaterializationState = "DEFINED"
	MaterializationPartial   MaterializationState = "PARTIALLY_MATERIALIZED"
	MaterializationCompleted MaterializationState = "FULLY_MATERIALIZED"
)

// ScheduleEvent is a contiguous block of a practitioner's time. All instants
// are stored in UTC.
type ScheduleEvent struct {
	ID                       int64
	ScheduleID               int64
	StartsAt                 time.Time
	EndsAt                   time.Time
	State                    EventState
	ScheduleRecurringBlockID *int64
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (e ScheduleEvent) Interval() timerange.TimeRange {
	return timerange.TimeRange{Start: e.StartsAt, End: e.EndsAt}
}

func (e ScheduleEvent) Contains(candidate timerange.TimeRange) bool {
	return e.Interval().Overlaps(candidate)
}

func (e ScheduleEvent) GeneratedBy(blockID int64) bool {
	return e.ScheduleRecurringBlockID != nil && *e.ScheduleRecurringBlockID == blockID
}

// ScheduleRecurringBlock is the template that generates schedule events.
// LatestDateEventsCreated is the materialization watermark.
type ScheduleRecurringBlock struct {
	ID                      int64
	ScheduleID              int64
	StartsAt                time.Time
	EndsAt                  time.Time
	Frequency               recurrence.Frequency
	WeekDaysIndex           []int
	Until                   time.Time
	Timezone                string
	LatestDateEventsCreated *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (b ScheduleRecurringBlock) Rule() recurrence.Rule {
	return recurrence.Rule{
		StartsAt:  b.StartsAt,
		EndsAt:    b.EndsAt,
		Frequency: b.Frequency,
		Weekdays:  b.WeekDaysIndex,
		Timezone:  b.Timezone,
	}
}

func (b ScheduleRecurringBlock) State() MaterializationState {
	switch {
	case b.LatestDateEventsCreated == nil:
		return MaterializationDefined
	case b.LatestDateEventsCreated.Before(b.Until):
		return MaterializationPartial
	default:
		return MaterializationCompleted
	}
}

// resumeFrom is where the next expansion starts.
func (b ScheduleRecurringBlock) resumeFrom() time.Time {
	if b.LatestDateEventsCreated != nil {
		return *b.LatestDateEventsCreated
	}
	return b.StartsAt
}

// ProviderScheduleRecurringBlock is a recurring block together with the
// events it has generated so far.
type ProviderScheduleRecurringBlock struct {
	ScheduleRecurringBlock
	ScheduleEvents []ScheduleEvent
}

// Appointment is a booking held against a practitioner's schedule.
type Appointment struct {
	ID             int64
	PractitionerID int64
	MemberID       int64
	ProductID      int64
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	CancelledAt    *time.Time
}

func (a Appointment) Interval() timerange.TimeRange {
	return timerange.TimeRange{Start: a.ScheduledStart, End: a.ScheduledEnd}
}

// Contains reports whether the candidate collides with this booking.
// Cancelled appointments never collide.
func (a Appointment) Contains(candidate timerange.TimeRange) bool {
	if a.CancelledAt != nil {
		return false
	}
	return a.Interval().Overlaps(candidate)
}

type EventLog struct {
	ID                       int64
	EventType                string
	ScheduleRecurringBlockID *int64
	Payload                  []byte
	CreatedAt                time.Time
}
