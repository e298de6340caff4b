package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/availability-engine/internal/availability"
	"github.com/hackgods/availability-engine/internal/schedule"
)

// BlockService is the recurring block surface the handlers call.
type BlockService interface {
	CreateScheduleRecurringBlock(ctx context.Context, p schedule.CreateScheduleRecurringBlockParams) (int64, error)
	GetScheduleRecurringBlockByUserAndDateRange(ctx context.Context, userID int64, startsAt, until time.Time) ([]schedule.ProviderScheduleRecurringBlock, error)
	GetScheduleRecurringBlockByID(ctx context.Context, id int64) (*schedule.ProviderScheduleRecurringBlock, error)
	DetectBookedAppointmentsInBlock(ctx context.Context, blockID, userID int64) error
	DeleteScheduleRecurringBlock(ctx context.Context, blockID, userID int64) (int64, error)
}

// Catalog is the availability reader plus the lookups needed to build a
// calculator from path parameters.
type Catalog interface {
	availability.Reader
	GetPractitionerProfile(ctx context.Context, userID int64) (availability.PractitionerProfile, error)
	GetProduct(ctx context.Context, id int64) (availability.Product, error)
}

type RouterConfig struct {
	Blocks  BlockService
	Catalog Catalog
	Health  *HealthHandler
	Logger  zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	h := &handler{
		blocks:  cfg.Blocks,
		catalog: cfg.Catalog,
		mass:    availability.NewMassCalculator(cfg.Catalog, cfg.Logger, cfg.Now),
		logger:  cfg.Logger,
		now:     cfg.Now,
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Get("/practitioners/{practitionerID}/products/{productID}/availability", h.getAvailability)
	r.Post("/availability/mass", h.getMassAvailability)

	r.Route("/recurring-blocks", func(r chi.Router) {
		r.Post("/", h.createRecurringBlock)
		r.Get("/{id}", h.getRecurringBlock)
		r.Delete("/{id}", h.deleteRecurringBlock)
	})
	r.Get("/users/{userID}/recurring-blocks", h.listRecurringBlocks)

	return r
}

type handler struct {
	blocks  BlockService
	catalog Catalog
	mass    *availability.MassCalculator
	logger  zerolog.Logger
	now     func() time.Time
}
