package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/hackgods/availability-engine/internal/availability"
	"github.com/hackgods/availability-engine/internal/config"
	"github.com/hackgods/availability-engine/internal/db"
	"github.com/hackgods/availability-engine/internal/logging"
	"github.com/hackgods/availability-engine/internal/recurrence"
	redisclient "github.com/hackgods/availability-engine/internal/redis"
	"github.com/hackgods/availability-engine/internal/schedule"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "availabilityctl",
		Short:         "Operator tooling for the availability engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(occurrencesCmd())
	rootCmd.AddCommand(availabilityCmd())
	rootCmd.AddCommand(backfillCmd())
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func parseTimeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return time.Time{}, fmt.Errorf("--%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

func occurrencesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "occurrences",
		Short: "Preview the occurrences a recurring block would generate (no database)",
		RunE: func(cmd *cobra.Command, args []string) error {
			startsAt, err := parseTimeFlag(cmd, "starts-at")
			if err != nil {
				return err
			}
			endsAt, err := parseTimeFlag(cmd, "ends-at")
			if err != nil {
				return err
			}
			until, err := parseTimeFlag(cmd, "until")
			if err != nil {
				return err
			}
			from := startsAt
			if cmd.Flags().Changed("from") {
				if from, err = parseTimeFlag(cmd, "from"); err != nil {
					return err
				}
			}

			frequency, _ := cmd.Flags().GetString("frequency")
			weekDays, _ := cmd.Flags().GetIntSlice("weekdays")
			timezone, _ := cmd.Flags().GetString("timezone")

			rule := recurrence.Rule{
				StartsAt:  startsAt.UTC(),
				EndsAt:    endsAt.UTC(),
				Frequency: recurrence.Frequency(frequency),
				Weekdays:  weekDays,
				Timezone:  timezone,
			}
			_, err = printOccurrences(cmd.OutOrStdout(), rule, from.UTC(), until.UTC())
			return err
		},
	}
	cmd.Flags().String("starts-at", "", "First occurrence start (RFC3339)")
	cmd.Flags().String("ends-at", "", "First occurrence end (RFC3339)")
	cmd.Flags().String("until", "", "Last day to expand through (RFC3339)")
	cmd.Flags().String("from", "", "Resume expansion from this instant (RFC3339)")
	cmd.Flags().String("frequency", string(recurrence.Daily), "DAILY or WEEKLY")
	cmd.Flags().IntSlice("weekdays", nil, "Week days for WEEKLY, 0=Monday")
	cmd.Flags().String("timezone", "UTC", "IANA timezone the block repeats in")
	return cmd
}

// printOccurrences writes one line per occurrence in UTC and in the rule's
// timezone and returns how many were written.
func printOccurrences(w io.Writer, rule recurrence.Rule, from, until time.Time) (int, error) {
	seq, err := recurrence.Expand(rule, from, until)
	if err != nil {
		return 0, err
	}
	loc := time.UTC
	if rule.Timezone != "" {
		if loc, err = time.LoadLocation(rule.Timezone); err != nil {
			return 0, err
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTART (UTC)\tEND (UTC)\tLOCAL")
	n := 0
	for occ := range seq {
		n++
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s %s-%s\n", n,
			occ.Start.Format(time.RFC3339), occ.End.Format(time.RFC3339),
			occ.Start.In(loc).Format("Mon 2006-01-02"), occ.Start.In(loc).Format("15:04"), occ.End.In(loc).Format("15:04"))
	}
	return n, tw.Flush()
}

func availabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Compute bookable slots for one practitioner and product",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseTimeFlag(cmd, "start")
			if err != nil {
				return err
			}
			end, err := parseTimeFlag(cmd, "end")
			if err != nil {
				return err
			}
			practitionerID, _ := cmd.Flags().GetInt64("practitioner")
			productID, _ := cmd.Flags().GetInt64("product")
			memberID, _ := cmd.Flags().GetInt64("member")

			var opts []availability.Option
			if memberID != 0 {
				opts = append(opts, availability.WithMember(memberID))
			}
			if cmd.Flags().Changed("limit") {
				limit, _ := cmd.Flags().GetInt("limit")
				opts = append(opts, availability.WithLimit(limit))
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New("availabilityctl", cfg.LogLevel, true)

			ctx := cmd.Context()
			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			reader := availability.NewPgReader(pool)
			profile, err := reader.GetPractitionerProfile(ctx, practitionerID)
			if err != nil {
				return err
			}
			product, err := reader.GetProduct(ctx, productID)
			if err != nil {
				return err
			}

			slots, err := availability.NewCalculator(product, profile, reader, logger).GetAvailability(ctx, start, end, opts...)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "START (UTC)\tEND (UTC)\tCREDITS")
			for _, s := range slots {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", s.ScheduledStart.Format(time.RFC3339), s.ScheduledEnd.Format(time.RFC3339), s.TotalAvailableCredits)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d slot(s)\n", len(slots))
			return nil
		},
	}
	cmd.Flags().Int64("practitioner", 0, "Practitioner user id")
	cmd.Flags().Int64("product", 0, "Product id")
	cmd.Flags().Int64("member", 0, "Member id for credits and double-booking checks")
	cmd.Flags().Int("limit", 0, "Maximum number of slots")
	cmd.Flags().String("start", "", "Window start (RFC3339)")
	cmd.Flags().String("end", "", "Window end (RFC3339)")
	return cmd
}

func backfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Run one recurring block backfill pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New("availabilityctl", cfg.LogLevel, true)

			horizon := cfg.BackfillHorizon
			if cmd.Flags().Changed("horizon") {
				horizon, _ = cmd.Flags().GetDuration("horizon")
			}
			batchSize := cfg.BackfillBatchSize
			if cmd.Flags().Changed("batch-size") {
				batchSize, _ = cmd.Flags().GetInt("batch-size")
			}
			noLock, _ := cmd.Flags().GetBool("no-lock")

			ctx := cmd.Context()
			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			var locker redisclient.Locker = redisclient.NoopLocker{}
			if !noLock {
				rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
					Addr:     cfg.RedisAddr,
					Username: cfg.RedisUsername,
					Password: cfg.RedisPassword,
					PoolSize: 2,
				})
				if err != nil {
					return err
				}
				defer rdb.Close()
				locker = redisclient.NewRedisScheduleLocker(rdb, cfg.LockTTL)
			}

			svc := schedule.NewService(schedule.NewPgStore(pool), locker, logger)
			res, err := svc.BackfillScheduleRecurringBlocks(ctx, time.Now().UTC().Add(horizon), batchSize)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "blocks=%d events_created=%d failed=%d\n", res.Blocks, res.EventsCreated, res.Failed)
			return nil
		},
	}
	cmd.Flags().Duration("horizon", 0, "Materialize up to now+horizon (defaults to BACKFILL_HORIZON)")
	cmd.Flags().Int("batch-size", 0, "Blocks per pass (defaults to BACKFILL_BATCH_SIZE)")
	cmd.Flags().Bool("no-lock", false, "Skip the Redis schedule lock (single operator only)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL files in a migrations directory in name order",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			files, err := migrationFiles(dir)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()

			for _, f := range files {
				sql, err := os.ReadFile(f)
				if err != nil {
					return err
				}
				err = db.WithTx(ctx, pool, func(tx pgx.Tx) error {
					_, err := tx.Exec(ctx, string(sql))
					return err
				})
				if err != nil {
					return fmt.Errorf("apply %s: %w", filepath.Base(f), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", filepath.Base(f))
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	return cmd
}

func migrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .sql files in %s", dir)
	}
	slices.Sort(files)
	return files, nil
}
