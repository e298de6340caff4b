package availability

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/availability-engine/internal/conflict"
	"github.com/hackgods/availability-engine/internal/schedule"
	"github.com/hackgods/availability-engine/internal/timerange"
)

var (
	ErrInvalidLimit   = errors.New("limit must be a positive number")
	ErrInvalidWindow  = errors.New("availability window end must be after start")
	ErrInvalidProduct = errors.New("product duration must be positive")
)

type query struct {
	memberID int64
	limit    int
	err      error
}

// Option narrows an availability query.
type Option func(*query)

// WithMember computes credits and double-booking against the member's own
// appointments.
func WithMember(memberID int64) Option {
	return func(q *query) { q.memberID = memberID }
}

// WithLimit caps the number of returned slots. Zero or negative is rejected.
func WithLimit(n int) Option {
	return func(q *query) {
		if n <= 0 {
			q.err = fmt.Errorf("%w: got %d", ErrInvalidLimit, n)
			return
		}
		q.limit = n
	}
}

func buildQuery(opts []Option) (query, error) {
	var q query
	for _, opt := range opts {
		opt(&q)
	}
	return q, q.err
}

// Calculator computes bookable slots for one practitioner and product.
type Calculator struct {
	product Product
	profile PractitionerProfile
	reader  Reader
	logger  zerolog.Logger
	now     func() time.Time
}

type CalculatorOption func(*Calculator)

func WithNow(now func() time.Time) CalculatorOption {
	return func(c *Calculator) { c.now = now }
}

func NewCalculator(product Product, profile PractitionerProfile, reader Reader, logger zerolog.Logger, opts ...CalculatorOption) *Calculator {
	c := &Calculator{
		product: product,
		profile: profile,
		reader:  reader,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Calculator) AssignableAdvocate() *AssignableAdvocate {
	return c.profile.AssignableAdvocate
}

// GetFirstScheduledStartTime is the earliest instant a member may book:
// now plus the larger of the booking and prep buffers, or candidateStart when
// that is later.
func (c *Calculator) GetFirstScheduledStartTime(candidateStart, now time.Time) time.Time {
	floor := now.Add(max(c.profile.BookingBuffer(), c.profile.PrepBuffer()))
	if candidateStart.After(floor) {
		return candidateStart
	}
	return floor
}

// GetAvailability loads the practitioner's schedule around [start, end) and
// returns the bookable slots in ascending order.
func (c *Calculator) GetAvailability(ctx context.Context, start, end time.Time, opts ...Option) ([]PotentialAppointment, error) {
	q, err := buildQuery(opts)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}
	if c.product.Minutes <= 0 {
		return nil, ErrInvalidProduct
	}

	first := c.GetFirstScheduledStartTime(start.UTC(), c.now().UTC())
	end = end.UTC()
	if !first.Before(end) {
		return []PotentialAppointment{}, nil
	}

	// Load everything within one prep buffer of the window so bookings just
	// outside it still push slots away.
	load := timerange.TimeRange{Start: first, End: end}.Expand(c.profile.PrepBuffer())

	events, err := c.reader.ListScheduleEvents(ctx, c.profile.ScheduleID, load.Start, load.End)
	if err != nil {
		return nil, fmt.Errorf("load schedule events: %w", err)
	}
	appts, err := c.reader.ListPractitionerAppointments(ctx, []int64{c.profile.UserID}, load.Start, load.End)
	if err != nil {
		return nil, fmt.Errorf("load practitioner appointments: %w", err)
	}

	var (
		credits  []Credit
		hadIntro bool
	)
	if q.memberID != 0 {
		memberAppts, err := c.reader.ListMemberAppointments(ctx, q.memberID, load.Start, load.End)
		if err != nil {
			return nil, fmt.Errorf("load member appointments: %w", err)
		}
		appts = append(appts, memberAppts...)

		credits, err = c.reader.ListMemberCredits(ctx, q.memberID, first)
		if err != nil {
			return nil, fmt.Errorf("load member credits: %w", err)
		}
		if c.product.IsIntroAppointment {
			hadIntro, err = c.reader.MemberHasHadIntroAppointment(ctx, q.memberID)
			if err != nil {
				return nil, fmt.Errorf("check intro appointment: %w", err)
			}
		}
	}

	slots := c.CalculateAvailability(first, end, events, Checkables(appts), credits, hadIntro)
	if q.limit > 0 && len(slots) > q.limit {
		slots = slots[:q.limit]
	}

	c.logger.Debug().
		Int64("practitioner_id", c.profile.UserID).
		Int64("product_id", c.product.ID).
		Time("start", first).
		Time("end", end).
		Int("slots", len(slots)).
		Msg("availability calculated")

	return slots, nil
}

// CalculateAvailability walks every AVAILABLE event overlapping
// [start, end) in steps of the product duration and keeps the slots that do
// not conflict. UNAVAILABLE events in availabilities are treated as
// unavailable dates, and every existing booking is padded by the prep buffer.
func (c *Calculator) CalculateAvailability(start, end time.Time, availabilities []schedule.ScheduleEvent, existing []conflict.OverlapCheckable, credits []Credit, memberHasHadIntroAppt bool) []PotentialAppointment {
	out := []PotentialAppointment{}
	duration := c.product.Duration()
	if duration <= 0 || !end.After(start) {
		return out
	}
	if c.product.IsIntroAppointment && memberHasHadIntroAppt {
		return out
	}

	var unavailable []timerange.TimeRange
	for _, ev := range availabilities {
		if ev.State == schedule.EventUnavailable {
			unavailable = append(unavailable, ev.Interval())
		}
	}

	padded := make([]conflict.OverlapCheckable, 0, len(existing))
	for _, e := range existing {
		padded = append(padded, conflict.WithPrepBuffer(e, c.profile.PrepBuffer()))
	}

	window := timerange.TimeRange{Start: start, End: end}
	seen := make(map[int64]bool)

	for _, ev := range availabilities {
		if ev.State != schedule.EventAvailable || !ev.Interval().Overlaps(window) {
			continue
		}

		slotStart := ev.StartsAt
		if slotStart.Before(start) {
			slotStart = start
		}
		limit := ev.EndsAt
		if end.Before(limit) {
			limit = end
		}

		for ; !slotStart.Add(duration).After(limit); slotStart = slotStart.Add(duration) {
			candidate := timerange.TimeRange{Start: slotStart, End: slotStart.Add(duration)}
			if seen[candidate.Start.UnixNano()] {
				continue
			}
			if c.HasAppointmentConflict(candidate, padded, unavailable) {
				continue
			}
			seen[candidate.Start.UnixNano()] = true
			out = append(out, PotentialAppointment{
				ScheduledStart:        candidate.Start,
				ScheduledEnd:          candidate.End,
				TotalAvailableCredits: totalCredits(credits, candidate.Start),
			})
		}
	}

	slices.SortFunc(out, func(a, b PotentialAppointment) int {
		return a.ScheduledStart.Compare(b.ScheduledStart)
	})
	return out
}

// HasAppointmentConflict checks unavailable dates first and only then the
// existing bookings.
func (c *Calculator) HasAppointmentConflict(candidate timerange.TimeRange, existing []conflict.OverlapCheckable, unavailable []timerange.TimeRange) bool {
	return conflict.HasAppointmentConflict(candidate, existing, unavailable)
}

func totalCredits(credits []Credit, at time.Time) int64 {
	var total int64
	for _, cr := range credits {
		if cr.ActiveAt(at) {
			total += cr.Amount
		}
	}
	return total
}

// Checkables adapts appointments to the conflict detector.
func Checkables(appts []schedule.Appointment) []conflict.OverlapCheckable {
	out := make([]conflict.OverlapCheckable, 0, len(appts))
	for _, a := range appts {
		out = append(out, a)
	}
	return out
}
