package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/availability-engine/internal/db"
	"github.com/hackgods/availability-engine/internal/recurrence"
)

// PgStore is the Postgres-backed Store.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Repos() Repositories {
	return newPgRepositories(s.pool)
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, newPgRepositories(tx))
	})
}

func newPgRepositories(q db.Querier) Repositories {
	return Repositories{
		Blocks:       &PgBlockRepository{q: q},
		Events:       &PgEventRepository{q: q},
		Appointments: &PgAppointmentRepository{q: q},
		EventLog:     &PgEventLogRepository{q: q},
	}
}

// Helpers

const blockColumns = `b.id, b.schedule_id, b.starts_at, b.ends_at, b.frequency, b.week_days_index,
	b.until, b.timezone, b.latest_date_events_created, b.created_at, b.updated_at`

const eventColumns = `id, schedule_id, starts_at, ends_at, state, schedule_recurring_block_id, created_at, updated_at`

func scanBlock(row pgx.Row) (*ScheduleRecurringBlock, error) {
	var b ScheduleRecurringBlock
	var frequency string
	var weekDays []int32
	var latest *time.Time

	err := row.Scan(
		&b.ID,
		&b.ScheduleID,
		&b.StartsAt,
		&b.EndsAt,
		&frequency,
		&weekDays,
		&b.Until,
		&b.Timezone,
		&latest,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecurringBlockNotFound
		}
		return nil, err
	}

	b.Frequency = recurrence.Frequency(frequency)
	for _, d := range weekDays {
		b.WeekDaysIndex = append(b.WeekDaysIndex, int(d))
	}
	b.StartsAt = b.StartsAt.UTC()
	b.EndsAt = b.EndsAt.UTC()
	b.Until = b.Until.UTC()
	if latest != nil {
		l := latest.UTC()
		b.LatestDateEventsCreated = &l
	}
	return &b, nil
}

func ScanEvent(row pgx.Row) (*ScheduleEvent, error) {
	var e ScheduleEvent
	var state string

	err := row.Scan(
		&e.ID,
		&e.ScheduleID,
		&e.StartsAt,
		&e.EndsAt,
		&state,
		&e.ScheduleRecurringBlockID,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.State = EventState(state)
	e.StartsAt = e.StartsAt.UTC()
	e.EndsAt = e.EndsAt.UTC()
	return &e, nil
}

func ScanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PractitionerID,
		&a.MemberID,
		&a.ProductID,
		&a.ScheduledStart,
		&a.ScheduledEnd,
		&a.CancelledAt,
	)
	if err != nil {
		return nil, err
	}

	a.ScheduledStart = a.ScheduledStart.UTC()
	a.ScheduledEnd = a.ScheduledEnd.UTC()
	return &a, nil
}

func collectBlocks(rows pgx.Rows) ([]ScheduleRecurringBlock, error) {
	defer rows.Close()

	var result []ScheduleRecurringBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Recurring blocks

type PgBlockRepository struct {
	q db.Querier
}

func (r *PgBlockRepository) GetScheduleRecurringBlocks(ctx context.Context, userID int64, startsAt, until time.Time) ([]ScheduleRecurringBlock, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+blockColumns+`
		FROM schedule_recurring_blocks b
		JOIN schedules s ON s.id = b.schedule_id
		WHERE s.user_id = $1
		  AND b.starts_at <= $3
		  AND b.until >= $2
		ORDER BY b.starts_at
	`, userID, startsAt, until)
	if err != nil {
		return nil, fmt.Errorf("query recurring blocks: %w", err)
	}
	return collectBlocks(rows)
}

func (r *PgBlockRepository) GetScheduleRecurringBlock(ctx context.Context, userID int64, startsAt, endsAt, until time.Time) (*ScheduleRecurringBlock, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM schedule_recurring_blocks b
		JOIN schedules s ON s.id = b.schedule_id
		WHERE s.user_id = $1
		  AND b.starts_at = $2
		  AND b.ends_at = $3
		  AND b.until = $4
		ORDER BY b.id
		LIMIT 1
	`, userID, startsAt, endsAt, until)
	return scanBlock(row)
}

func (r *PgBlockRepository) GetScheduleRecurringBlockByID(ctx context.Context, id int64) (*ScheduleRecurringBlock, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+blockColumns+`
		FROM schedule_recurring_blocks b
		WHERE b.id = $1
	`, id)
	return scanBlock(row)
}

func (r *PgBlockRepository) Create(ctx context.Context, b ScheduleRecurringBlock) (int64, error) {
	weekDays := make([]int32, 0, len(b.WeekDaysIndex))
	for _, d := range b.WeekDaysIndex {
		weekDays = append(weekDays, int32(d))
	}

	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO schedule_recurring_blocks
			(schedule_id, starts_at, ends_at, frequency, week_days_index, until, timezone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING id
	`, b.ScheduleID, b.StartsAt, b.EndsAt, string(b.Frequency), weekDays, b.Until, b.Timezone).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert recurring block: %w", err)
	}
	return id, nil
}

func (r *PgBlockRepository) UpdateLatestDateEventsCreated(ctx context.Context, id int64, latest time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE schedule_recurring_blocks
		SET latest_date_events_created = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, latest)
	if err != nil {
		return fmt.Errorf("update latest_date_events_created: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecurringBlockNotFound
	}
	return nil
}

func (r *PgBlockRepository) Delete(ctx context.Context, id, userID int64) (int64, error) {
	// Generated events that were never booked go with the block; the rest are
	// detached by the foreign key.
	if _, err := r.q.Exec(ctx, `
		DELETE FROM schedule_events e
		USING schedule_recurring_blocks b, schedules s
		WHERE e.schedule_recurring_block_id = $1
		  AND b.id = e.schedule_recurring_block_id
		  AND b.schedule_id = s.id
		  AND s.user_id = $2
		  AND e.state = 'AVAILABLE'
	`, id, userID); err != nil {
		return 0, fmt.Errorf("delete generated events: %w", err)
	}

	var deleted int64
	err := r.q.QueryRow(ctx, `
		DELETE FROM schedule_recurring_blocks b
		USING schedules s
		WHERE b.id = $1
		  AND b.schedule_id = s.id
		  AND s.user_id = $2
		RETURNING b.id
	`, id, userID).Scan(&deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrRecurringBlockNotFound
		}
		return 0, fmt.Errorf("delete recurring block: %w", err)
	}

	return deleted, nil
}

func (r *PgBlockRepository) CountExistingAppointmentsInScheduleRecurringBlock(ctx context.Context, id, userID int64) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `
		SELECT count(DISTINCT a.id)
		FROM schedule_events e
		JOIN schedules s ON s.id = e.schedule_id
		JOIN appointments a ON a.practitioner_id = s.user_id
		WHERE e.schedule_recurring_block_id = $1
		  AND s.user_id = $2
		  AND a.cancelled_at IS NULL
		  AND a.scheduled_start < e.ends_at
		  AND a.scheduled_end > e.starts_at
	`, id, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count appointments in recurring block: %w", err)
	}
	return count, nil
}

func (r *PgBlockRepository) GetScheduleOwnerID(ctx context.Context, scheduleID int64) (int64, error) {
	var userID int64
	err := r.q.QueryRow(ctx, `SELECT user_id FROM schedules WHERE id = $1`, scheduleID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrScheduleNotFound
		}
		return 0, fmt.Errorf("get schedule owner: %w", err)
	}
	return userID, nil
}

func (r *PgBlockRepository) ListBlocksNeedingBackfill(ctx context.Context, horizon time.Time, limit int) ([]ScheduleRecurringBlock, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+blockColumns+`
		FROM schedule_recurring_blocks b
		WHERE COALESCE(b.latest_date_events_created, b.starts_at) < LEAST(b.until, $1)
		ORDER BY COALESCE(b.latest_date_events_created, b.starts_at), b.id
		LIMIT $2
	`, horizon, limit)
	if err != nil {
		return nil, fmt.Errorf("query blocks needing backfill: %w", err)
	}
	return collectBlocks(rows)
}

// Schedule events

type PgEventRepository struct {
	q db.Querier
}

func (r *PgEventRepository) Create(ctx context.Context, ev ScheduleEvent) (int64, error) {
	state := ev.State
	if state == "" {
		state = EventAvailable
	}

	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO schedule_events
			(schedule_id, starts_at, ends_at, state, schedule_recurring_block_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id
	`, ev.ScheduleID, ev.StartsAt, ev.EndsAt, string(state), ev.ScheduleRecurringBlockID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert schedule event: %w", err)
	}
	return id, nil
}

func (r *PgEventRepository) ListByScheduleAndRange(ctx context.Context, scheduleID int64, start, end time.Time, states ...EventState) ([]ScheduleEvent, error) {
	stateFilter := make([]string, 0, len(states))
	for _, s := range states {
		stateFilter = append(stateFilter, string(s))
	}

	rows, err := r.q.Query(ctx, `
		SELECT `+eventColumns+`
		FROM schedule_events
		WHERE schedule_id = $1
		  AND starts_at < $3
		  AND ends_at > $2
		  AND (cardinality($4::text[]) = 0 OR state = ANY($4))
		ORDER BY starts_at, id
	`, scheduleID, start, end, stateFilter)
	if err != nil {
		return nil, fmt.Errorf("query schedule events: %w", err)
	}
	defer rows.Close()

	var result []ScheduleEvent
	for rows.Next() {
		e, err := ScanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgEventRepository) ListByRecurringBlockIDs(ctx context.Context, ids []int64) (map[int64][]ScheduleEvent, error) {
	result := make(map[int64][]ScheduleEvent, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.q.Query(ctx, `
		SELECT `+eventColumns+`
		FROM schedule_events
		WHERE schedule_recurring_block_id = ANY($1)
		ORDER BY starts_at, id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query events by recurring block: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := ScanEvent(rows)
		if err != nil {
			return nil, err
		}
		blockID := *e.ScheduleRecurringBlockID
		result[blockID] = append(result[blockID], *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Appointments

type PgAppointmentRepository struct {
	q db.Querier
}

func (r *PgAppointmentRepository) ListBookedForSchedule(ctx context.Context, scheduleID int64, start, end time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT a.id, a.practitioner_id, a.member_id, a.product_id, a.scheduled_start, a.scheduled_end, a.cancelled_at
		FROM appointments a
		JOIN schedules s ON s.user_id = a.practitioner_id
		WHERE s.id = $1
		  AND a.cancelled_at IS NULL
		  AND a.scheduled_start < $3
		  AND a.scheduled_end > $2
		ORDER BY a.scheduled_start
	`, scheduleID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query booked appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := ScanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Event log

type PgEventLogRepository struct {
	q db.Querier
}

func (r *PgEventLogRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, schedule_recurring_block_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.ScheduleRecurringBlockID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
