package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/availability-engine/internal/config"
	"github.com/hackgods/availability-engine/internal/db"
	"github.com/hackgods/availability-engine/internal/logging"
)

type SimConfig struct {
	APIBaseURL        string
	Duration          time.Duration
	Workers           int
	AvailabilityRatio float64
	MassRatio         float64
	CreateRatio       float64
	PractitionerLimit int
	MemberLimit       int
	MassBatch         int
	Window            time.Duration
}

type target struct {
	PractitionerID int64
	ProductID      int64
	ScheduleID     int64
}

// DataPool holds the ids the workers draw from.
type DataPool struct {
	Targets []target
	Members []int64
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  zerolog.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("simulate", "info", true)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("simulate", baseCfg.LogLevel, true)

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("availability", cfg.AvailabilityRatio).
		Float64("mass", cfg.MassRatio).
		Float64("create", cfg.CreateRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("targets", len(dataPool.Targets)).Int("members", len(dataPool.Members)).Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	printReport(os.Stdout, cfg, &sim.metrics)
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:        getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:          getDuration("SIM_DURATION", 30*time.Second),
		Workers:           getInt("SIM_WORKERS", 10),
		AvailabilityRatio: getFloat("SIM_AVAILABILITY_RATIO", 0.6),
		MassRatio:         getFloat("SIM_MASS_RATIO", 0.3),
		CreateRatio:       getFloat("SIM_CREATE_RATIO", 0.1),
		PractitionerLimit: getInt("SIM_PRACTITIONER_LIMIT", 200),
		MemberLimit:       getInt("SIM_MEMBER_LIMIT", 2000),
		MassBatch:         getInt("SIM_MASS_BATCH", 10),
		Window:            getDuration("SIM_WINDOW", 7*24*time.Hour),
	}

	total := cfg.AvailabilityRatio + cfg.MassRatio + cfg.CreateRatio
	if total > 0 {
		cfg.AvailabilityRatio /= total
		cfg.MassRatio /= total
		cfg.CreateRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.MassBatch <= 0 {
		return fmt.Errorf("SIM_MASS_BATCH must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT p.practitioner_id, p.id, s.id
		FROM products p
		JOIN schedules s ON s.user_id = p.practitioner_id
		WHERE NOT p.is_intro
		ORDER BY p.id
		LIMIT $1
	`, cfg.PractitionerLimit)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.PractitionerID, &t.ProductID, &t.ScheduleID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Targets = append(dataPool.Targets, t)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT DISTINCT member_id FROM credits LIMIT $1
	`, cfg.MemberLimit)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Members = append(dataPool.Members, id)
	}

	if len(dataPool.Targets) == 0 {
		return nil, fmt.Errorf("no practitioners loaded, run cmd/seed first")
	}
	if len(dataPool.Members) == 0 {
		return nil, fmt.Errorf("no members loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.AvailabilityRatio:
				s.doAvailability(ctx, rng)
			case r < s.config.AvailabilityRatio+s.config.MassRatio:
				s.doMassAvailability(ctx, rng)
			default:
				s.doCreateBlock(ctx, rng)
			}
		}
	}
}

func (s *Simulator) window(rng *rand.Rand) (time.Time, time.Time) {
	start := time.Now().UTC().Add(time.Duration(rng.IntN(72)) * time.Hour).Truncate(time.Hour)
	return start, start.Add(s.config.Window)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.IntN(len(s.pool.Targets))]
	member := s.pool.Members[rng.IntN(len(s.pool.Members))]
	start, end := s.window(rng)

	url := fmt.Sprintf("%s/practitioners/%d/products/%d/availability?member_id=%d&limit=50&start=%s&end=%s",
		s.config.APIBaseURL, t.PractitionerID, t.ProductID, member,
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)

	s.do(req, &s.metrics.Availability, http.StatusOK)
}

func (s *Simulator) doMassAvailability(ctx context.Context, rng *rand.Rand) {
	start, end := s.window(rng)

	seen := map[int64]bool{}
	var practitioners []map[string]int64
	for i := 0; i < s.config.MassBatch; i++ {
		t := s.pool.Targets[rng.IntN(len(s.pool.Targets))]
		if seen[t.PractitionerID] {
			continue
		}
		seen[t.PractitionerID] = true
		practitioners = append(practitioners, map[string]int64{
			"practitioner_id": t.PractitionerID,
			"product_id":      t.ProductID,
		})
	}

	body, _ := json.Marshal(map[string]any{
		"start":         start,
		"end":           end,
		"member_id":     s.pool.Members[rng.IntN(len(s.pool.Members))],
		"limit":         20,
		"practitioners": practitioners,
	})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/availability/mass", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	s.do(req, &s.metrics.MassAvailability, http.StatusOK)
}

// doCreateBlock proposes a short daily block on a random schedule. Many land
// on existing hours and come back 409, which exercises the conflict path and
// the per-schedule lock.
func (s *Simulator) doCreateBlock(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.IntN(len(s.pool.Targets))]
	day := time.Now().UTC().AddDate(0, 0, 1+rng.IntN(60)).Truncate(24 * time.Hour)
	startsAt := day.Add(time.Duration(6+rng.IntN(14)) * time.Hour)

	body, _ := json.Marshal(map[string]any{
		"schedule_id": t.ScheduleID,
		"user_id":     t.PractitionerID,
		"starts_at":   startsAt,
		"ends_at":     startsAt.Add(time.Hour),
		"frequency":   "DAILY",
		"until":       startsAt.AddDate(0, 0, 1+rng.IntN(5)).Add(time.Hour),
	})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/recurring-blocks/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	s.do(req, &s.metrics.CreateBlock, http.StatusCreated)
}

func (s *Simulator) do(req *http.Request, om *OperationMetrics, want int) {
	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	if err != nil {
		if req.Context().Err() == nil {
			om.Record(latency, false, false)
		}
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	om.Record(latency, resp.StatusCode == want, resp.StatusCode == http.StatusConflict)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
