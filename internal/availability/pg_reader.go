package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/availability-engine/internal/schedule"
)

type PgReader struct {
	pool *pgxpool.Pool
}

func NewPgReader(pool *pgxpool.Pool) *PgReader {
	return &PgReader{pool: pool}
}

const appointmentColumns = `a.id, a.practitioner_id, a.member_id, a.product_id, a.scheduled_start, a.scheduled_end, a.cancelled_at`

func collectAppointments(rows pgx.Rows) ([]schedule.Appointment, error) {
	defer rows.Close()

	var result []schedule.Appointment
	for rows.Next() {
		a, err := schedule.ScanAppointment(rows)
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

func (r *PgReader) ListScheduleEvents(ctx context.Context, scheduleID int64, start, end time.Time) ([]schedule.ScheduleEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, schedule_id, starts_at, ends_at, state, schedule_recurring_block_id, created_at, updated_at
		FROM schedule_events
		WHERE schedule_id = $1
		  AND state IN ('AVAILABLE', 'UNAVAILABLE')
		  AND starts_at < $3
		  AND ends_at > $2
		ORDER BY starts_at, id
	`, scheduleID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query schedule events: %w", err)
	}
	defer rows.Close()

	var result []schedule.ScheduleEvent
	for rows.Next() {
		e, err := schedule.ScanEvent(rows)
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

func (r *PgReader) ListPractitionerAppointments(ctx context.Context, practitionerIDs []int64, start, end time.Time) ([]schedule.Appointment, error) {
	if len(practitionerIDs) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.practitioner_id = ANY($1)
		  AND a.cancelled_at IS NULL
		  AND a.scheduled_start < $3
		  AND a.scheduled_end > $2
		ORDER BY a.scheduled_start
	`, practitionerIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("query practitioner appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgReader) ListMemberAppointments(ctx context.Context, memberID int64, start, end time.Time) ([]schedule.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.member_id = $1
		  AND a.cancelled_at IS NULL
		  AND a.scheduled_start < $3
		  AND a.scheduled_end > $2
		ORDER BY a.scheduled_start
	`, memberID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query member appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgReader) ListMemberCredits(ctx context.Context, memberID int64, at time.Time) ([]Credit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, member_id, amount, expires_at
		FROM credits
		WHERE member_id = $1
		  AND used_at IS NULL
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY id
	`, memberID, at)
	if err != nil {
		return nil, fmt.Errorf("query member credits: %w", err)
	}
	defer rows.Close()

	var result []Credit
	for rows.Next() {
		var c Credit
		if err := rows.Scan(&c.ID, &c.MemberID, &c.Amount, &c.ExpiresAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgReader) MemberHasHadIntroAppointment(ctx context.Context, memberID int64) (bool, error) {
	var had bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments a
			JOIN products p ON p.id = a.product_id
			WHERE a.member_id = $1
			  AND p.is_intro
			  AND a.cancelled_at IS NULL
		)
	`, memberID).Scan(&had)
	if err != nil {
		return false, fmt.Errorf("query intro appointment: %w", err)
	}
	return had, nil
}

func (r *PgReader) GetPractitionerProfiles(ctx context.Context, userIDs []int64) (map[int64]PractitionerProfile, error) {
	result := make(map[int64]PractitionerProfile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT pp.user_id, COALESCE(s.id, 0), pp.booking_buffer, pp.default_prep_buffer,
		       aa.max_capacity, aa.daily_intake_capacity
		FROM practitioner_profiles pp
		LEFT JOIN schedules s ON s.user_id = pp.user_id
		LEFT JOIN assignable_advocates aa ON aa.practitioner_id = pp.user_id
		WHERE pp.user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("query practitioner profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p             PractitionerProfile
			maxCapacity   *int
			dailyCapacity *int
		)
		if err := rows.Scan(&p.UserID, &p.ScheduleID, &p.BookingBufferMinutes, &p.DefaultPrepBufferMinutes, &maxCapacity, &dailyCapacity); err != nil {
			return nil, err
		}
		if maxCapacity != nil {
			p.AssignableAdvocate = &AssignableAdvocate{PractitionerID: p.UserID, MaxCapacity: *maxCapacity}
			if dailyCapacity != nil {
				p.AssignableAdvocate.DailyIntakeCapacity = *dailyCapacity
			}
		}
		result[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgReader) GetPractitionerProfile(ctx context.Context, userID int64) (PractitionerProfile, error) {
	profiles, err := r.GetPractitionerProfiles(ctx, []int64{userID})
	if err != nil {
		return PractitionerProfile{}, err
	}
	p, ok := profiles[userID]
	if !ok {
		return PractitionerProfile{}, ErrPractitionerNotFound
	}
	return p, nil
}

func (r *PgReader) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `
		SELECT id, practitioner_id, minutes, price, is_intro
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.PractitionerID, &p.Minutes, &p.Price, &p.IsIntroAppointment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}
