package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/availability-engine/internal/availability"
	"github.com/hackgods/availability-engine/internal/schedule"
)

type fakeCatalog struct {
	profiles map[int64]availability.PractitionerProfile
	products map[int64]availability.Product
	events   map[int64][]schedule.ScheduleEvent
	reads    int
}

func (f *fakeCatalog) ListScheduleEvents(_ context.Context, scheduleID int64, start, end time.Time) ([]schedule.ScheduleEvent, error) {
	f.reads++
	var out []schedule.ScheduleEvent
	for _, e := range f.events[scheduleID] {
		if e.StartsAt.Before(end) && e.EndsAt.After(start) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeCatalog) ListPractitionerAppointments(context.Context, []int64, time.Time, time.Time) ([]schedule.Appointment, error) {
	f.reads++
	return nil, nil
}

func (f *fakeCatalog) ListMemberAppointments(context.Context, int64, time.Time, time.Time) ([]schedule.Appointment, error) {
	f.reads++
	return nil, nil
}

func (f *fakeCatalog) ListMemberCredits(context.Context, int64, time.Time) ([]availability.Credit, error) {
	f.reads++
	return []availability.Credit{{ID: 1, Amount: 250}}, nil
}

func (f *fakeCatalog) MemberHasHadIntroAppointment(context.Context, int64) (bool, error) {
	f.reads++
	return false, nil
}

func (f *fakeCatalog) GetPractitionerProfiles(_ context.Context, ids []int64) (map[int64]availability.PractitionerProfile, error) {
	out := map[int64]availability.PractitionerProfile{}
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeCatalog) GetPractitionerProfile(_ context.Context, id int64) (availability.PractitionerProfile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return availability.PractitionerProfile{}, availability.ErrPractitionerNotFound
	}
	return p, nil
}

func (f *fakeCatalog) GetProduct(_ context.Context, id int64) (availability.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return availability.Product{}, availability.ErrProductNotFound
	}
	return p, nil
}

type fakeBlocks struct {
	createErr error
	detectErr error
	getErr    error
	block     schedule.ProviderScheduleRecurringBlock
	list      []schedule.ProviderScheduleRecurringBlock

	created []schedule.CreateScheduleRecurringBlockParams
	deleted []int64
}

func (f *fakeBlocks) CreateScheduleRecurringBlock(_ context.Context, p schedule.CreateScheduleRecurringBlockParams) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.created = append(f.created, p)
	return f.block.ID, nil
}

func (f *fakeBlocks) GetScheduleRecurringBlockByUserAndDateRange(context.Context, int64, time.Time, time.Time) ([]schedule.ProviderScheduleRecurringBlock, error) {
	return f.list, nil
}

func (f *fakeBlocks) GetScheduleRecurringBlockByID(_ context.Context, id int64) (*schedule.ProviderScheduleRecurringBlock, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if id != f.block.ID {
		return nil, schedule.ErrRecurringBlockNotFound
	}
	b := f.block
	return &b, nil
}

func (f *fakeBlocks) DetectBookedAppointmentsInBlock(context.Context, int64, int64) error {
	return f.detectErr
}

func (f *fakeBlocks) DeleteScheduleRecurringBlock(_ context.Context, blockID, _ int64) (int64, error) {
	if blockID != f.block.ID {
		return 0, schedule.ErrRecurringBlockNotFound
	}
	f.deleted = append(f.deleted, blockID)
	return blockID, nil
}

var testNow = time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)

func newTestCatalog() *fakeCatalog {
	return &fakeCatalog{
		profiles: map[int64]availability.PractitionerProfile{
			11: {UserID: 11, ScheduleID: 110, BookingBufferMinutes: 30},
			12: {UserID: 12, ScheduleID: 120, AssignableAdvocate: &availability.AssignableAdvocate{PractitionerID: 12, MaxCapacity: 4, DailyIntakeCapacity: 2}},
		},
		products: map[int64]availability.Product{
			1: {ID: 1, PractitionerID: 11, Minutes: 30},
			2: {ID: 2, PractitionerID: 12, Minutes: 60},
		},
		events: map[int64][]schedule.ScheduleEvent{
			110: {{ScheduleID: 110, StartsAt: testNow.Add(time.Hour), EndsAt: testNow.Add(2 * time.Hour), State: schedule.EventAvailable}},
			120: {{ScheduleID: 120, StartsAt: testNow.Add(time.Hour), EndsAt: testNow.Add(3 * time.Hour), State: schedule.EventAvailable}},
		},
	}
}

func newTestRouter(catalog *fakeCatalog, blocks *fakeBlocks) (http.Handler, *fakeCatalog, *fakeBlocks) {
	if catalog == nil {
		catalog = newTestCatalog()
	}
	if blocks == nil {
		blocks = &fakeBlocks{}
	}
	return NewRouter(RouterConfig{
		Blocks:  blocks,
		Catalog: catalog,
		Logger:  zerolog.Nop(),
		Now:     func() time.Time { return testNow },
	}), catalog, blocks
}
