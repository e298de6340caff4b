package availability

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/availability-engine/internal/schedule"
	"github.com/hackgods/availability-engine/internal/timerange"
)

const massConcurrency = 8

// MassCalculator answers availability for one member across many
// practitioners with batched appointment lookups.
type MassCalculator struct {
	reader Reader
	logger zerolog.Logger
	now    func() time.Time
}

// NewMassCalculator uses time.Now when now is nil.
func NewMassCalculator(reader Reader, logger zerolog.Logger, now func() time.Time) *MassCalculator {
	if now == nil {
		now = time.Now
	}
	return &MassCalculator{reader: reader, logger: logger, now: now}
}

// GetMassExistingAppointments returns each practitioner's appointments that
// overlap [start, end) padded by that practitioner's own prep buffer, and the
// member's appointments overlapping [start, end) padded by the widest prep
// buffer among the practitioners. memberID 0 skips the member lookup.
func (m *MassCalculator) GetMassExistingAppointments(ctx context.Context, start, end time.Time, practitionerIDs []int64, memberID int64) (map[int64][]schedule.Appointment, []schedule.Appointment, error) {
	byPractitioner := make(map[int64][]schedule.Appointment, len(practitionerIDs))
	if !end.After(start) {
		return nil, nil, ErrInvalidWindow
	}

	var (
		profiles map[int64]PractitionerProfile
		widest   time.Duration
		err      error
	)
	if len(practitionerIDs) > 0 {
		profiles, err = m.reader.GetPractitionerProfiles(ctx, practitionerIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("load practitioner profiles: %w", err)
		}
		for _, id := range practitionerIDs {
			byPractitioner[id] = []schedule.Appointment{}
			widest = max(widest, profiles[id].PrepBuffer())
		}
	}
	load := timerange.TimeRange{Start: start, End: end}.Expand(widest)

	var memberAppts []schedule.Appointment
	if memberID != 0 {
		memberAppts, err = m.reader.ListMemberAppointments(ctx, memberID, load.Start, load.End)
		if err != nil {
			return nil, nil, fmt.Errorf("load member appointments: %w", err)
		}
	}
	if len(practitionerIDs) == 0 {
		return byPractitioner, memberAppts, nil
	}

	appts, err := m.reader.ListPractitionerAppointments(ctx, practitionerIDs, load.Start, load.End)
	if err != nil {
		return nil, nil, fmt.Errorf("load practitioner appointments: %w", err)
	}

	for _, a := range appts {
		bucket, ok := byPractitioner[a.PractitionerID]
		if !ok || a.CancelledAt != nil {
			continue
		}
		window := timerange.TimeRange{Start: start, End: end}.Expand(profiles[a.PractitionerID].PrepBuffer())
		if !a.Interval().Overlaps(window) {
			continue
		}
		byPractitioner[a.PractitionerID] = append(bucket, a)
	}

	return byPractitioner, memberAppts, nil
}

// within keeps the appointments overlapping window.
func within(appts []schedule.Appointment, window timerange.TimeRange) []schedule.Appointment {
	out := make([]schedule.Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	return out
}

// GetMassAvailability computes availability for every pair, keyed by
// practitioner and product. Appointments are loaded once for all
// practitioners. Each pair sees the same appointments Calculator.GetAvailability
// would load for it.
func (m *MassCalculator) GetMassAvailability(ctx context.Context, start, end time.Time, pairs []PractitionerProduct, opts ...Option) (map[PairKey][]PotentialAppointment, error) {
	q, err := buildQuery(opts)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}
	start, end = start.UTC(), end.UTC()
	now := m.now().UTC()

	ids := make([]int64, 0, len(pairs))
	for _, p := range pairs {
		if !slices.Contains(ids, p.Profile.UserID) {
			ids = append(ids, p.Profile.UserID)
		}
	}

	byPractitioner, memberAppts, err := m.GetMassExistingAppointments(ctx, start, end, ids, q.memberID)
	if err != nil {
		return nil, err
	}

	var (
		credits      []Credit
		hadIntro     bool
		checkedIntro bool
	)
	if q.memberID != 0 {
		credits, err = m.reader.ListMemberCredits(ctx, q.memberID, now)
		if err != nil {
			return nil, fmt.Errorf("load member credits: %w", err)
		}
		for _, p := range pairs {
			if p.Product.IsIntroAppointment && !checkedIntro {
				hadIntro, err = m.reader.MemberHasHadIntroAppointment(ctx, q.memberID)
				if err != nil {
					return nil, fmt.Errorf("check intro appointment: %w", err)
				}
				checkedIntro = true
			}
		}
	}

	var (
		mu     sync.Mutex
		result = make(map[PairKey][]PotentialAppointment, len(pairs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(massConcurrency)

	for _, pair := range pairs {
		g.Go(func() error {
			calc := NewCalculator(pair.Product, pair.Profile, m.reader, m.logger, WithNow(m.now))
			first := calc.GetFirstScheduledStartTime(start, now)
			if !first.Before(end) || pair.Product.Minutes <= 0 {
				mu.Lock()
				result[pair.Key()] = []PotentialAppointment{}
				mu.Unlock()
				return nil
			}

			load := timerange.TimeRange{Start: first, End: end}.Expand(pair.Profile.PrepBuffer())
			events, err := m.reader.ListScheduleEvents(gctx, pair.Profile.ScheduleID, load.Start, load.End)
			if err != nil {
				return fmt.Errorf("load schedule events for practitioner %d: %w", pair.Profile.UserID, err)
			}

			existing := append(Checkables(byPractitioner[pair.Profile.UserID]), Checkables(within(memberAppts, load))...)
			slots := calc.CalculateAvailability(first, end, events, existing, credits, hadIntro)
			if q.limit > 0 && len(slots) > q.limit {
				slots = slots[:q.limit]
			}

			mu.Lock()
			result[pair.Key()] = slots
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.logger.Debug().
		Int("practitioners", len(pairs)).
		Time("start", start).
		Time("end", end).
		Msg("mass availability calculated")

	return result, nil
}
