package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/availability-engine/internal/schedule"
)

func newMass(reader Reader, now time.Time) *MassCalculator {
	return NewMassCalculator(reader, zerolog.Nop(), func() time.Time { return now })
}

func TestGetMassExistingAppointments_PerPractitionerBuffer(t *testing.T) {
	reader := newFakeReader()
	reader.profiles[1] = PractitionerProfile{UserID: 1, ScheduleID: 101, DefaultPrepBufferMinutes: 15}
	reader.profiles[2] = PractitionerProfile{UserID: 2, ScheduleID: 102}
	reader.appts = []schedule.Appointment{
		{ID: 1, PractitionerID: 1, MemberID: 5, ScheduledStart: at(9, 30), ScheduledEnd: at(9, 45)},
		{ID: 2, PractitionerID: 1, MemberID: 5, ScheduledStart: at(9, 40), ScheduledEnd: at(9, 50)},
		{ID: 3, PractitionerID: 1, MemberID: 5, ScheduledStart: at(11, 10), ScheduledEnd: at(11, 20)},
		{ID: 4, PractitionerID: 1, MemberID: 5, ScheduledStart: at(11, 15), ScheduledEnd: at(11, 30)},
		{ID: 5, PractitionerID: 2, MemberID: 5, ScheduledStart: at(9, 40), ScheduledEnd: at(9, 50)},
		{ID: 6, PractitionerID: 2, MemberID: 5, ScheduledStart: at(10, 30), ScheduledEnd: at(11, 0)},
		{ID: 7, PractitionerID: 3, MemberID: memberID, ScheduledStart: at(10, 0), ScheduledEnd: at(10, 30)},
		{ID: 8, PractitionerID: 3, MemberID: memberID, ScheduledStart: at(9, 30), ScheduledEnd: at(9, 59)},
	}

	byPractitioner, memberAppts, err := newMass(reader, at(0, 0)).
		GetMassExistingAppointments(context.Background(), at(10, 0), at(11, 0), []int64{1, 2}, memberID)
	if err != nil {
		t.Fatalf("mass existing appointments: %v", err)
	}

	ids := func(appts []schedule.Appointment) []int64 {
		out := []int64{}
		for _, a := range appts {
			out = append(out, a.ID)
		}
		return out
	}

	// Appointment 1 ends exactly one buffer before the window and is excluded.
	if got := ids(byPractitioner[1]); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("practitioner 1: expected [2 3], got %v", got)
	}
	if got := ids(byPractitioner[2]); len(got) != 1 || got[0] != 6 {
		t.Fatalf("practitioner 2: expected [6], got %v", got)
	}
	// The member lookup is padded by the widest buffer (15m), so appointment 8
	// ending at 09:59 is included.
	if got := ids(memberAppts); len(got) != 2 || got[0] != 7 || got[1] != 8 {
		t.Fatalf("member: expected [7 8], got %v", got)
	}
	if reader.calls["practitioner_appointments"] != 1 {
		t.Fatalf("expected one batched appointment query, got %d", reader.calls["practitioner_appointments"])
	}
}

func TestGetMassExistingAppointments_EmptyPractitioners(t *testing.T) {
	reader := newFakeReader()

	byPractitioner, memberAppts, err := newMass(reader, at(0, 0)).
		GetMassExistingAppointments(context.Background(), at(10, 0), at(11, 0), nil, 0)
	if err != nil {
		t.Fatalf("mass existing appointments: %v", err)
	}
	if len(byPractitioner) != 0 || len(memberAppts) != 0 {
		t.Fatalf("expected nothing, got %v and %v", byPractitioner, memberAppts)
	}
	if len(reader.calls) != 0 {
		t.Fatalf("expected no reads, got %v", reader.calls)
	}
}

func massPairs() []PractitionerProduct {
	return []PractitionerProduct{
		{
			Product: Product{ID: 10, PractitionerID: 1, Minutes: 30},
			Profile: PractitionerProfile{UserID: 1, ScheduleID: 101},
		},
		{
			Product: Product{ID: 20, PractitionerID: 2, Minutes: 60, IsIntroAppointment: true},
			Profile: PractitionerProfile{UserID: 2, ScheduleID: 102},
		},
	}
}

var (
	pair1 = PairKey{PractitionerID: 1, ProductID: 10}
	pair2 = PairKey{PractitionerID: 2, ProductID: 20}
)

func TestGetMassAvailability(t *testing.T) {
	reader := newFakeReader()
	for _, p := range massPairs() {
		reader.profiles[p.Profile.UserID] = p.Profile
	}
	reader.events[101] = []schedule.ScheduleEvent{available(101, at(9, 0), at(11, 0))}
	reader.events[102] = []schedule.ScheduleEvent{available(102, at(10, 0), at(12, 0))}
	reader.appts = []schedule.Appointment{
		{PractitionerID: 1, MemberID: 5, ScheduledStart: at(10, 0), ScheduledEnd: at(10, 30)},
		{PractitionerID: 3, MemberID: memberID, ScheduledStart: at(11, 0), ScheduledEnd: at(11, 30)},
	}
	reader.credits[memberID] = []Credit{{ID: 1, MemberID: memberID, Amount: 300}}
	mass := newMass(reader, at(0, 0))
	ctx := context.Background()

	result, err := mass.GetMassAvailability(ctx, at(9, 0), at(12, 0), massPairs(), WithMember(memberID))
	if err != nil {
		t.Fatalf("mass availability: %v", err)
	}

	assertStarts(t, result[pair1], at(9, 0), at(9, 30), at(10, 30))
	assertStarts(t, result[pair2], at(10, 0))
	if result[pair2][0].TotalAvailableCredits != 300 {
		t.Fatalf("expected 300 credits, got %d", result[pair2][0].TotalAvailableCredits)
	}
	if reader.calls["intro"] != 1 {
		t.Fatalf("expected a single intro lookup, got %d", reader.calls["intro"])
	}

	result, err = mass.GetMassAvailability(ctx, at(9, 0), at(12, 0), massPairs(), WithLimit(1))
	if err != nil {
		t.Fatalf("mass availability: %v", err)
	}
	assertStarts(t, result[pair1], at(9, 0))
	assertStarts(t, result[pair2], at(10, 0))
}

func TestGetMassAvailability_IntroAlreadyHad(t *testing.T) {
	reader := newFakeReader()
	reader.hadIntro = true
	reader.events[101] = []schedule.ScheduleEvent{available(101, at(9, 0), at(10, 0))}
	reader.events[102] = []schedule.ScheduleEvent{available(102, at(9, 0), at(10, 0))}

	result, err := newMass(reader, at(0, 0)).
		GetMassAvailability(context.Background(), at(9, 0), at(10, 0), massPairs(), WithMember(memberID))
	if err != nil {
		t.Fatalf("mass availability: %v", err)
	}
	if len(result[pair1]) != 2 || len(result[pair2]) != 0 {
		t.Fatalf("expected only the non-intro practitioner to be bookable, got %d and %d", len(result[pair1]), len(result[pair2]))
	}
}

func TestGetMassAvailability_Errors(t *testing.T) {
	reader := newFakeReader()
	mass := newMass(reader, at(0, 0))
	ctx := context.Background()

	if _, err := mass.GetMassAvailability(ctx, at(9, 0), at(12, 0), massPairs(), WithLimit(0)); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}
	if len(reader.calls) != 0 {
		t.Fatalf("expected no reads before validation, got %v", reader.calls)
	}

	errDown := errors.New("database down")
	reader.eventErr = errDown
	if _, err := mass.GetMassAvailability(ctx, at(9, 0), at(12, 0), massPairs()); !errors.Is(err, errDown) {
		t.Fatalf("expected wrapped reader error, got %v", err)
	}
}

func TestGetMassAvailability_AgreesWithSingleCalculator(t *testing.T) {
	// The member's appointment with another practitioner ends 5 minutes
	// before the window, inside the 15 minute prep buffer of the 09:00 slot.
	reader := newFakeReader()
	reader.events[scheduleID] = []schedule.ScheduleEvent{available(scheduleID, at(9, 0), at(10, 0))}
	reader.appts = []schedule.Appointment{appointment(3, memberID, at(8, 40), at(8, 55))}

	calc := newCalc(reader, 30, 0, 15, at(0, 0))
	reader.profiles[practitionerID] = calc.profile
	pair := PractitionerProduct{Product: calc.product, Profile: calc.profile}
	ctx := context.Background()

	single, err := calc.GetAvailability(ctx, at(9, 0), at(10, 0), WithMember(memberID))
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	mass, err := newMass(reader, at(0, 0)).
		GetMassAvailability(ctx, at(9, 0), at(10, 0), []PractitionerProduct{pair}, WithMember(memberID))
	if err != nil {
		t.Fatalf("mass availability: %v", err)
	}

	assertStarts(t, single, at(9, 30))
	assertStarts(t, mass[pair.Key()], starts(single)...)
}

func TestGetMassAvailability_SamePractitionerTwoProducts(t *testing.T) {
	profile := PractitionerProfile{UserID: 1, ScheduleID: 101}
	pairs := []PractitionerProduct{
		{Product: Product{ID: 10, PractitionerID: 1, Minutes: 30}, Profile: profile},
		{Product: Product{ID: 11, PractitionerID: 1, Minutes: 60}, Profile: profile},
	}
	reader := newFakeReader()
	reader.profiles[1] = profile
	reader.events[101] = []schedule.ScheduleEvent{available(101, at(9, 0), at(10, 0))}

	result, err := newMass(reader, at(0, 0)).GetMassAvailability(context.Background(), at(9, 0), at(10, 0), pairs)
	if err != nil {
		t.Fatalf("mass availability: %v", err)
	}

	assertStarts(t, result[PairKey{PractitionerID: 1, ProductID: 10}], at(9, 0), at(9, 30))
	assertStarts(t, result[PairKey{PractitionerID: 1, ProductID: 11}], at(9, 0))
	if reader.calls["practitioner_appointments"] != 1 {
		t.Fatalf("expected one batched appointment query, got %d", reader.calls["practitioner_appointments"])
	}
}
