package schedule

import (
	"context"
	"slices"
	"sync"
	"time"
)

// memStore is an in-memory Store. InTx restores the previous state when fn
// fails, mirroring a rolled back transaction.
type memStore struct {
	mu           sync.Mutex
	schedules    map[int64]int64 // schedule id -> owning user id
	blocks       map[int64]ScheduleRecurringBlock
	events       []ScheduleEvent
	appointments []Appointment
	logs         []EventLog
	nextID       int64

	blockCreates int
	failEvents   bool
}

func newMemStore() *memStore {
	return &memStore{
		schedules: map[int64]int64{},
		blocks:    map[int64]ScheduleRecurringBlock{},
		nextID:    100,
	}
}

func (m *memStore) Repos() Repositories {
	return Repositories{
		Blocks:       memBlocks{m},
		Events:       memEvents{m},
		Appointments: memAppointments{m},
		EventLog:     memLog{m},
	}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	m.mu.Lock()
	blocks := make(map[int64]ScheduleRecurringBlock, len(m.blocks))
	for k, v := range m.blocks {
		blocks[k] = v
	}
	events := slices.Clone(m.events)
	creates := m.blockCreates
	m.mu.Unlock()

	if err := fn(ctx, m.Repos()); err != nil {
		m.mu.Lock()
		m.blocks, m.events, m.blockCreates = blocks, events, creates
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) eventsOf(blockID int64) []ScheduleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScheduleEvent
	for _, e := range m.events {
		if e.GeneratedBy(blockID) {
			out = append(out, e)
		}
	}
	return out
}

type memBlocks struct{ m *memStore }

func (r memBlocks) owned(b ScheduleRecurringBlock, userID int64) bool {
	return r.m.schedules[b.ScheduleID] == userID
}

func (r memBlocks) GetScheduleRecurringBlocks(_ context.Context, userID int64, startsAt, until time.Time) ([]ScheduleRecurringBlock, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []ScheduleRecurringBlock
	for _, b := range r.m.blocks {
		if r.owned(b, userID) && !b.StartsAt.After(until) && !b.Until.Before(startsAt) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b ScheduleRecurringBlock) int { return a.StartsAt.Compare(b.StartsAt) })
	return out, nil
}

func (r memBlocks) GetScheduleRecurringBlock(_ context.Context, userID int64, startsAt, endsAt, until time.Time) (*ScheduleRecurringBlock, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, b := range r.m.blocks {
		if r.owned(b, userID) && b.StartsAt.Equal(startsAt) && b.EndsAt.Equal(endsAt) && b.Until.Equal(until) {
			return &b, nil
		}
	}
	return nil, ErrRecurringBlockNotFound
}

func (r memBlocks) GetScheduleRecurringBlockByID(_ context.Context, id int64) (*ScheduleRecurringBlock, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.blocks[id]
	if !ok {
		return nil, ErrRecurringBlockNotFound
	}
	return &b, nil
}

func (r memBlocks) Create(_ context.Context, b ScheduleRecurringBlock) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b.ID = r.m.id()
	r.m.blocks[b.ID] = b
	r.m.blockCreates++
	return b.ID, nil
}

func (r memBlocks) UpdateLatestDateEventsCreated(_ context.Context, id int64, latest time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.blocks[id]
	if !ok {
		return ErrRecurringBlockNotFound
	}
	b.LatestDateEventsCreated = &latest
	r.m.blocks[id] = b
	return nil
}

func (r memBlocks) Delete(_ context.Context, id, userID int64) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.blocks[id]
	if !ok || !r.owned(b, userID) {
		return 0, ErrRecurringBlockNotFound
	}
	delete(r.m.blocks, id)
	r.m.events = slices.DeleteFunc(r.m.events, func(e ScheduleEvent) bool {
		return e.GeneratedBy(id) && e.State == EventAvailable
	})
	return id, nil
}

func (r memBlocks) CountExistingAppointmentsInScheduleRecurringBlock(_ context.Context, id, userID int64) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if b, ok := r.m.blocks[id]; !ok || !r.owned(b, userID) {
		return 0, nil
	}
	count := 0
	for _, a := range r.m.appointments {
		for _, e := range r.m.events {
			if e.GeneratedBy(id) && r.m.schedules[e.ScheduleID] == a.PractitionerID && a.Contains(e.Interval()) {
				count++
				break
			}
		}
	}
	return count, nil
}

func (r memBlocks) GetScheduleOwnerID(_ context.Context, scheduleID int64) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	owner, ok := r.m.schedules[scheduleID]
	if !ok {
		return 0, ErrScheduleNotFound
	}
	return owner, nil
}

func (r memBlocks) ListBlocksNeedingBackfill(_ context.Context, horizon time.Time, limit int) ([]ScheduleRecurringBlock, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []ScheduleRecurringBlock
	for _, b := range r.m.blocks {
		target := b.Until
		if horizon.Before(target) {
			target = horizon
		}
		if b.resumeFrom().Before(target) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b ScheduleRecurringBlock) int { return int(a.ID - b.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memEvents struct{ m *memStore }

func (r memEvents) Create(_ context.Context, ev ScheduleEvent) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failEvents {
		return 0, errEventWrite
	}
	ev.ID = r.m.id()
	r.m.events = append(r.m.events, ev)
	return ev.ID, nil
}

func (r memEvents) ListByScheduleAndRange(_ context.Context, scheduleID int64, start, end time.Time, states ...EventState) ([]ScheduleEvent, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []ScheduleEvent
	for _, e := range r.m.events {
		if e.ScheduleID != scheduleID || !e.StartsAt.Before(end) || !e.EndsAt.After(start) {
			continue
		}
		if len(states) > 0 && !slices.Contains(states, e.State) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r memEvents) ListByRecurringBlockIDs(_ context.Context, ids []int64) (map[int64][]ScheduleEvent, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := map[int64][]ScheduleEvent{}
	for _, e := range r.m.events {
		if e.ScheduleRecurringBlockID != nil && slices.Contains(ids, *e.ScheduleRecurringBlockID) {
			out[*e.ScheduleRecurringBlockID] = append(out[*e.ScheduleRecurringBlockID], e)
		}
	}
	return out, nil
}

type memAppointments struct{ m *memStore }

func (r memAppointments) ListBookedForSchedule(_ context.Context, scheduleID int64, start, end time.Time) ([]Appointment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []Appointment
	owner := r.m.schedules[scheduleID]
	for _, a := range r.m.appointments {
		if a.PractitionerID == owner && a.CancelledAt == nil && a.ScheduledStart.Before(end) && a.ScheduledEnd.After(start) {
			out = append(out, a)
		}
	}
	return out, nil
}

type memLog struct{ m *memStore }

func (r memLog) InsertEvent(_ context.Context, ev EventLog) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.logs = append(r.m.logs, ev)
	return nil
}
