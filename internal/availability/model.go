package availability

import (
	"time"

	"github.com/hackgods/availability-engine/internal/timerange"
)

type Product struct {
	ID                 int64
	PractitionerID     int64
	Minutes            int
	Price              int64
	IsIntroAppointment bool
}

func (p Product) Duration() time.Duration {
	return time.Duration(p.Minutes) * time.Minute
}

// AssignableAdvocate carries the capacity settings callers check before
// proactively booking an intro appointment with this practitioner.
type AssignableAdvocate struct {
	PractitionerID      int64
	MaxCapacity         int
	DailyIntakeCapacity int
}

// PractitionerProfile is the immutable buffer configuration of a practitioner.
type PractitionerProfile struct {
	UserID                   int64
	ScheduleID               int64
	BookingBufferMinutes     int
	DefaultPrepBufferMinutes int
	AssignableAdvocate       *AssignableAdvocate
}

func (p PractitionerProfile) BookingBuffer() time.Duration {
	return time.Duration(p.BookingBufferMinutes) * time.Minute
}

func (p PractitionerProfile) PrepBuffer() time.Duration {
	return time.Duration(p.DefaultPrepBufferMinutes) * time.Minute
}

type Credit struct {
	ID        int64
	MemberID  int64
	Amount    int64
	ExpiresAt *time.Time
}

// ActiveAt reports whether the credit can still be spent at t.
func (c Credit) ActiveAt(t time.Time) bool {
	return c.ExpiresAt == nil || c.ExpiresAt.After(t)
}

// PotentialAppointment is a bookable slot. It is never persisted.
type PotentialAppointment struct {
	ScheduledStart        time.Time
	ScheduledEnd          time.Time
	TotalAvailableCredits int64
}

func (p PotentialAppointment) Interval() timerange.TimeRange {
	return timerange.TimeRange{Start: p.ScheduledStart, End: p.ScheduledEnd}
}

// PractitionerProduct pairs a practitioner with the product being booked.
type PractitionerProduct struct {
	Product Product
	Profile PractitionerProfile
}

// PairKey identifies one practitioner/product entry of a mass query.
type PairKey struct {
	PractitionerID int64
	ProductID      int64
}

func (p PractitionerProduct) Key() PairKey {
	return PairKey{PractitionerID: p.Profile.UserID, ProductID: p.Product.ID}
}
