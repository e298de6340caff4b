package schedule

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRecurringBlockNotFound = errors.New("schedule recurring block not found")
	ErrScheduleNotFound       = errors.New("schedule not found")
)

type ScheduleRecurringBlockRepository interface {
	// Blocks on the user's schedule whose [starts_at, until] overlaps the range.
	GetScheduleRecurringBlocks(ctx context.Context, userID int64, startsAt, until time.Time) ([]ScheduleRecurringBlock, error)
	// Exact match; ErrRecurringBlockNotFound when absent.
	GetScheduleRecurringBlock(ctx context.Context, userID int64, startsAt, endsAt, until time.Time) (*ScheduleRecurringBlock, error)
	GetScheduleRecurringBlockByID(ctx context.Context, id int64) (*ScheduleRecurringBlock, error)

	Create(ctx context.Context, block ScheduleRecurringBlock) (int64, error)
	UpdateLatestDateEventsCreated(ctx context.Context, id int64, latest time.Time) error
	// Delete is scoped to blocks on a schedule owned by userID.
	Delete(ctx context.Context, id, userID int64) (int64, error)

	// Scoped like Delete: a block on someone else's schedule counts zero.
	CountExistingAppointmentsInScheduleRecurringBlock(ctx context.Context, id, userID int64) (int, error)

	// Owner of the schedule; ErrScheduleNotFound when absent.
	GetScheduleOwnerID(ctx context.Context, scheduleID int64) (int64, error)

	// Backfill worker
	ListBlocksNeedingBackfill(ctx context.Context, horizon time.Time, limit int) ([]ScheduleRecurringBlock, error)
}

type ScheduleEventRepository interface {
	Create(ctx context.Context, ev ScheduleEvent) (int64, error)
	ListByScheduleAndRange(ctx context.Context, scheduleID int64, start, end time.Time, states ...EventState) ([]ScheduleEvent, error)
	ListByRecurringBlockIDs(ctx context.Context, ids []int64) (map[int64][]ScheduleEvent, error)
}

type AppointmentRepository interface {
	// Non-cancelled appointments of the schedule's owner overlapping [start, end).
	ListBookedForSchedule(ctx context.Context, scheduleID int64, start, end time.Time) ([]Appointment, error)
}

type EventLogRepository interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	Blocks       ScheduleRecurringBlockRepository
	Events       ScheduleEventRepository
	Appointments AppointmentRepository
	EventLog     EventLogRepository
}

// Store hands out repositories and runs units of work. Everything fn does
// through the given repositories commits or rolls back together.
type Store interface {
	Repos() Repositories
	InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
