package api

import (
	"time"

	"github.com/hackgods/availability-engine/internal/availability"
	"github.com/hackgods/availability-engine/internal/schedule"
)

type SlotResponse struct {
	ScheduledStart        time.Time `json:"scheduled_start"`
	ScheduledEnd          time.Time `json:"scheduled_end"`
	TotalAvailableCredits int64     `json:"total_available_credits"`
}

type AssignableAdvocateResponse struct {
	MaxCapacity         int `json:"max_capacity"`
	DailyIntakeCapacity int `json:"daily_intake_capacity"`
}

type AvailabilityResponse struct {
	PractitionerID     int64                       `json:"practitioner_id"`
	ProductID          int64                       `json:"product_id"`
	Slots              []SlotResponse              `json:"slots"`
	AssignableAdvocate *AssignableAdvocateResponse `json:"assignable_advocate,omitempty"`
}

type PractitionerProductRequest struct {
	PractitionerID int64 `json:"practitioner_id"`
	ProductID      int64 `json:"product_id"`
}

type MassAvailabilityRequest struct {
	Start         time.Time                    `json:"start"`
	End           time.Time                    `json:"end"`
	MemberID      int64                        `json:"member_id,omitempty"`
	Limit         *int                         `json:"limit,omitempty"`
	Practitioners []PractitionerProductRequest `json:"practitioners"`
}

type MassAvailabilityResponse struct {
	Results []AvailabilityResponse `json:"results"`
}

type CreateRecurringBlockRequest struct {
	ScheduleID     int64     `json:"schedule_id"`
	UserID         int64     `json:"user_id"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	Frequency      string    `json:"frequency"`
	WeekDaysIndex  []int     `json:"week_days_index,omitempty"`
	Until          time.Time `json:"until"`
	MemberTimezone string    `json:"member_timezone,omitempty"`
}

type ScheduleEventResponse struct {
	ID       int64     `json:"id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	State    string    `json:"state"`
}

type RecurringBlockResponse struct {
	ID                      int64                   `json:"id"`
	ScheduleID              int64                   `json:"schedule_id"`
	StartsAt                time.Time               `json:"starts_at"`
	EndsAt                  time.Time               `json:"ends_at"`
	Frequency               string                  `json:"frequency"`
	WeekDaysIndex           []int                   `json:"week_days_index,omitempty"`
	Until                   time.Time               `json:"until"`
	Timezone                string                  `json:"timezone,omitempty"`
	LatestDateEventsCreated *time.Time              `json:"latest_date_events_created,omitempty"`
	State                   string                  `json:"state"`
	Events                  []ScheduleEventResponse `json:"events"`
}

type DeleteRecurringBlockResponse struct {
	ID int64 `json:"id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAvailabilityResponse(practitionerID, productID int64, slots []availability.PotentialAppointment, aa *availability.AssignableAdvocate) AvailabilityResponse {
	resp := AvailabilityResponse{
		PractitionerID: practitionerID,
		ProductID:      productID,
		Slots:          make([]SlotResponse, 0, len(slots)),
	}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, SlotResponse{
			ScheduledStart:        s.ScheduledStart,
			ScheduledEnd:          s.ScheduledEnd,
			TotalAvailableCredits: s.TotalAvailableCredits,
		})
	}
	if aa != nil {
		resp.AssignableAdvocate = &AssignableAdvocateResponse{
			MaxCapacity:         aa.MaxCapacity,
			DailyIntakeCapacity: aa.DailyIntakeCapacity,
		}
	}
	return resp
}

func toRecurringBlockResponse(b schedule.ProviderScheduleRecurringBlock) RecurringBlockResponse {
	resp := RecurringBlockResponse{
		ID:                      b.ID,
		ScheduleID:              b.ScheduleID,
		StartsAt:                b.StartsAt,
		EndsAt:                  b.EndsAt,
		Frequency:               string(b.Frequency),
		WeekDaysIndex:           b.WeekDaysIndex,
		Until:                   b.Until,
		Timezone:                b.Timezone,
		LatestDateEventsCreated: b.LatestDateEventsCreated,
		State:                   string(b.State()),
		Events:                  make([]ScheduleEventResponse, 0, len(b.ScheduleEvents)),
	}
	for _, e := range b.ScheduleEvents {
		resp.Events = append(resp.Events, ScheduleEventResponse{
			ID:       e.ID,
			StartsAt: e.StartsAt,
			EndsAt:   e.EndsAt,
			State:    string(e.State),
		})
	}
	return resp
}
