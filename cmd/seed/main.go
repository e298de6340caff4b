package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/availability-engine/internal/config"
	"github.com/hackgods/availability-engine/internal/db"
	"github.com/hackgods/availability-engine/internal/logging"
	"github.com/hackgods/availability-engine/internal/recurrence"
	redisclient "github.com/hackgods/availability-engine/internal/redis"
	"github.com/hackgods/availability-engine/internal/schedule"
)

const (
	practitionerCount = 50
	memberCount       = 2000
	memberBatchSize   = 500
)

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Los_Angeles",
	"Europe/London",
	"UTC",
}

type practitioner struct {
	userID     int64
	scheduleID int64
	timezone   string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("seed", "info", true)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("seed", cfg.LogLevel, cfg.Pretty())
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	f := gofakeit.New(0)

	practitioners, err := seedPractitioners(ctx, pool, f, practitionerCount)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed practitioners")
	}
	logger.Info().Int("count", len(practitioners)).Msg("practitioners seeded")

	if err := seedMembers(ctx, pool, f, memberCount, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed members")
	}

	// Recurring blocks go through the service so their events are
	// materialized exactly as the API would.
	svc := schedule.NewService(schedule.NewPgStore(pool), redisclient.NoopLocker{}, logger,
		schedule.WithMaterializationHorizon(cfg.BackfillHorizon))
	if err := seedRecurringBlocks(ctx, svc, f, practitioners, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed recurring blocks")
	}

	logger.Info().Msg("seed complete")
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, f *gofakeit.Faker, count int) ([]practitioner, error) {
	out := make([]practitioner, 0, count)

	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			p := practitioner{timezone: f.RandomString(timezones)}

			err := tx.QueryRow(ctx, `
				INSERT INTO users (name, email, timezone)
				VALUES ($1, $2, $3)
				RETURNING id
			`, f.Name(), fmt.Sprintf("practitioner-%d-%s", i, f.Email()), p.timezone).Scan(&p.userID)
			if err != nil {
				return fmt.Errorf("insert practitioner user: %w", err)
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO practitioner_profiles (user_id, booking_buffer, default_prep_buffer)
				VALUES ($1, $2, $3)
			`, p.userID, f.RandomInt([]int{0, 15, 30, 60, 120}), f.RandomInt([]int{0, 5, 10, 15}))
			if err != nil {
				return fmt.Errorf("insert practitioner profile: %w", err)
			}

			if f.Number(1, 5) == 1 {
				_, err = tx.Exec(ctx, `
					INSERT INTO assignable_advocates (practitioner_id, max_capacity, daily_intake_capacity)
					VALUES ($1, $2, $3)
				`, p.userID, f.Number(20, 80), f.Number(1, 6))
				if err != nil {
					return fmt.Errorf("insert assignable advocate: %w", err)
				}
			}

			err = tx.QueryRow(ctx, `
				INSERT INTO schedules (user_id) VALUES ($1) RETURNING id
			`, p.userID).Scan(&p.scheduleID)
			if err != nil {
				return fmt.Errorf("insert schedule: %w", err)
			}

			if err := seedProducts(ctx, tx, f, p.userID); err != nil {
				return err
			}
			if err := seedUnavailable(ctx, tx, f, p.scheduleID); err != nil {
				return err
			}

			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func seedProducts(ctx context.Context, tx pgx.Tx, f *gofakeit.Faker, practitionerID int64) error {
	products := []struct {
		name    string
		minutes int
		intro   bool
	}{
		{"Intro consultation", 15, true},
		{"Follow-up", f.RandomInt([]int{20, 30, 45, 60}), false},
	}

	for _, p := range products {
		_, err := tx.Exec(ctx, `
			INSERT INTO products (practitioner_id, name, minutes, price, is_intro)
			VALUES ($1, $2, $3, $4, $5)
		`, practitionerID, p.name, p.minutes, int64(f.Number(0, 200))*100, p.intro)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
	}
	return nil
}

// seedUnavailable adds a vacation day somewhere in the next few weeks.
func seedUnavailable(ctx context.Context, tx pgx.Tx, f *gofakeit.Faker, scheduleID int64) error {
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, f.Number(3, 30))
	_, err := tx.Exec(ctx, `
		INSERT INTO schedule_events (schedule_id, starts_at, ends_at, state)
		VALUES ($1, $2, $3, 'UNAVAILABLE')
	`, scheduleID, day, day.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("insert unavailable event: %w", err)
	}
	return nil
}

func seedMembers(ctx context.Context, pool *pgxpool.Pool, f *gofakeit.Faker, count int, logger zerolog.Logger) error {
	for offset := 0; offset < count; offset += memberBatchSize {
		end := min(offset+memberBatchSize, count)

		err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				var memberID int64
				err := tx.QueryRow(ctx, `
					INSERT INTO users (name, email, timezone)
					VALUES ($1, $2, $3)
					RETURNING id
				`, f.Name(), fmt.Sprintf("member-%d-%s", i, f.Email()), f.RandomString(timezones)).Scan(&memberID)
				if err != nil {
					return fmt.Errorf("insert member: %w", err)
				}

				for c := f.Number(0, 3); c > 0; c-- {
					var expiresAt *time.Time
					if f.Bool() {
						t := time.Now().UTC().AddDate(0, 0, f.Number(-10, 90))
						expiresAt = &t
					}
					_, err := tx.Exec(ctx, `
						INSERT INTO credits (member_id, amount, expires_at)
						VALUES ($1, $2, $3)
					`, memberID, int64(f.Number(1, 50))*100, expiresAt)
					if err != nil {
						return fmt.Errorf("insert credit: %w", err)
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger.Info().Int("seeded", end).Int("total", count).Msg("members seeded")
	}
	return nil
}

// seedRecurringBlocks gives every practitioner weekday office hours in their
// own timezone starting next Monday.
func seedRecurringBlocks(ctx context.Context, svc *schedule.Service, f *gofakeit.Faker, practitioners []practitioner, logger zerolog.Logger) error {
	for _, p := range practitioners {
		loc, err := time.LoadLocation(p.timezone)
		if err != nil {
			return fmt.Errorf("load timezone %s: %w", p.timezone, err)
		}

		now := time.Now().In(loc)
		daysUntilMonday := (8 - int(now.Weekday())) % 7
		if daysUntilMonday == 0 {
			daysUntilMonday = 7
		}
		monday := now.AddDate(0, 0, daysUntilMonday)
		openHour := f.Number(7, 10)
		startsAt := time.Date(monday.Year(), monday.Month(), monday.Day(), openHour, 0, 0, 0, loc)
		endsAt := startsAt.Add(time.Duration(f.Number(4, 8)) * time.Hour)

		weekDays := []int{0, 1, 2, 3, 4}
		if f.Bool() {
			weekDays = []int{0, 2, 4}
		}

		id, err := svc.CreateScheduleRecurringBlock(ctx, schedule.CreateScheduleRecurringBlockParams{
			StartsAt:       startsAt,
			EndsAt:         endsAt,
			Frequency:      recurrence.Weekly,
			Until:          endsAt.AddDate(0, 0, 7*f.Number(8, 26)),
			ScheduleID:     p.scheduleID,
			WeekDaysIndex:  weekDays,
			MemberTimezone: p.timezone,
			UserID:         p.userID,
		})
		if err != nil {
			return fmt.Errorf("create recurring block for practitioner %d: %w", p.userID, err)
		}
		logger.Debug().Int64("schedule_recurring_block_id", id).Int64("practitioner_id", p.userID).Msg("recurring block seeded")
	}
	return nil
}
