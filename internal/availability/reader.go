package availability

import (
	"context"
	"errors"
	"time"

	"github.com/hackgods/availability-engine/internal/schedule"
)

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrPractitionerNotFound = errors.New("practitioner profile not found")
)

// Reader is the read side the calculators depend on. It is the only I/O they
// perform.
type Reader interface {
	// AVAILABLE and UNAVAILABLE events overlapping [start, end).
	ListScheduleEvents(ctx context.Context, scheduleID int64, start, end time.Time) ([]schedule.ScheduleEvent, error)
	// Non-cancelled appointments of any of the practitioners overlapping [start, end).
	ListPractitionerAppointments(ctx context.Context, practitionerIDs []int64, start, end time.Time) ([]schedule.Appointment, error)
	ListMemberAppointments(ctx context.Context, memberID int64, start, end time.Time) ([]schedule.Appointment, error)
	// Unused credits not expired at the given instant.
	ListMemberCredits(ctx context.Context, memberID int64, at time.Time) ([]Credit, error)
	MemberHasHadIntroAppointment(ctx context.Context, memberID int64) (bool, error)
	GetPractitionerProfiles(ctx context.Context, userIDs []int64) (map[int64]PractitionerProfile, error)
}
