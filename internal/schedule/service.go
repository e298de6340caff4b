package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/availability-engine/internal/conflict"
	"github.com/hackgods/availability-engine/internal/recurrence"
	redisclient "github.com/hackgods/availability-engine/internal/redis"
	"github.com/hackgods/availability-engine/internal/timerange"
)

const (
	EventRecurringBlockCreated       = "RECURRING_BLOCK_CREATED"
	EventRecurringBlockEventsCreated = "RECURRING_BLOCK_EVENTS_CREATED"
	EventRecurringBlockDeleted       = "RECURRING_BLOCK_DELETED"
)

var (
	ErrInvalidRecurringBlock          = errors.New("invalid schedule recurring block")
	ErrScheduleRecurringBlockConflict = errors.New("schedule recurring block conflicts with existing schedule")
	ErrBookedAppointmentsInBlock      = errors.New("schedule recurring block has booked appointments")
	ErrMaterializationInProgress      = errors.New("schedule is being updated, please retry")
)

// ScheduleRecurringBlockConflictError names the occurrence that collided and
// the booking or event it collided with.
type ScheduleRecurringBlockConflictError struct {
	ScheduleID int64
	UserID     int64
	Occurrence timerange.TimeRange
	Range      timerange.TimeRange
}

func (e *ScheduleRecurringBlockConflictError) Error() string {
	return fmt.Sprintf("schedule %d (user %d): occurrence %s conflicts with %s",
		e.ScheduleID, e.UserID, e.Occurrence, e.Range)
}

func (e *ScheduleRecurringBlockConflictError) Unwrap() error {
	return ErrScheduleRecurringBlockConflict
}

type BookedAppointmentsError struct {
	BlockID int64
	UserID  int64
	Count   int
}

func (e *BookedAppointmentsError) Error() string {
	return fmt.Sprintf("schedule recurring block %d (user %d) has %d booked appointment(s)", e.BlockID, e.UserID, e.Count)
}

func (e *BookedAppointmentsError) Unwrap() error {
	return ErrBookedAppointmentsInBlock
}

type CreateScheduleRecurringBlockParams struct {
	StartsAt       time.Time
	EndsAt         time.Time
	Frequency      recurrence.Frequency
	Until          time.Time
	ScheduleID     int64
	WeekDaysIndex  []int
	MemberTimezone string
	UserID         int64
}

func (p CreateScheduleRecurringBlockParams) rule() recurrence.Rule {
	return recurrence.Rule{
		StartsAt:  p.StartsAt.UTC(),
		EndsAt:    p.EndsAt.UTC(),
		Frequency: p.Frequency,
		Weekdays:  p.WeekDaysIndex,
		Timezone:  p.MemberTimezone,
	}
}

func (p CreateScheduleRecurringBlockParams) validate() error {
	if p.ScheduleID <= 0 {
		return fmt.Errorf("%w: schedule_id is required", ErrInvalidRecurringBlock)
	}
	if p.UserID <= 0 {
		return fmt.Errorf("%w: user_id is required", ErrInvalidRecurringBlock)
	}
	if p.Until.Before(p.StartsAt) {
		return fmt.Errorf("%w: until must not be before starts_at", ErrInvalidRecurringBlock)
	}
	if err := p.rule().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecurringBlock, err)
	}
	return nil
}

type BackfillResult struct {
	Blocks        int
	EventsCreated int
	Failed        int
}

type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithMaterializationHorizon caps how far ahead of now a create call
// materializes events. The backfill worker extends the rest later.
func WithMaterializationHorizon(d time.Duration) ServiceOption {
	return func(s *Service) { s.horizon = d }
}

// Service is the recurring availability orchestration layer.
type Service struct {
	store   Store
	locker  redisclient.Locker
	logger  zerolog.Logger
	now     func() time.Time
	horizon time.Duration
}

func NewService(store Store, locker redisclient.Locker, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		locker: locker,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetScheduleRecurringBlockByUserAndDateRange returns the user's blocks
// overlapping [startsAt, until] with their generated events. No match is an
// empty slice, not an error.
func (s *Service) GetScheduleRecurringBlockByUserAndDateRange(ctx context.Context, userID int64, startsAt, until time.Time) ([]ProviderScheduleRecurringBlock, error) {
	repos := s.store.Repos()

	blocks, err := repos.Blocks.GetScheduleRecurringBlocks(ctx, userID, startsAt, until)
	if err != nil {
		return nil, fmt.Errorf("get schedule recurring blocks: %w", err)
	}
	if len(blocks) == 0 {
		return []ProviderScheduleRecurringBlock{}, nil
	}

	return s.withEvents(ctx, repos, blocks)
}

// GetExactScheduleRecurringBlockByUserAndDateRange returns nil when no block
// matches exactly.
func (s *Service) GetExactScheduleRecurringBlockByUserAndDateRange(ctx context.Context, userID int64, startsAt, endsAt, until time.Time) (*ProviderScheduleRecurringBlock, error) {
	repos := s.store.Repos()

	block, err := repos.Blocks.GetScheduleRecurringBlock(ctx, userID, startsAt, endsAt, until)
	if err != nil {
		if errors.Is(err, ErrRecurringBlockNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule recurring block: %w", err)
	}

	out, err := s.withEvents(ctx, repos, []ScheduleRecurringBlock{*block})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (s *Service) GetScheduleRecurringBlockByID(ctx context.Context, id int64) (*ProviderScheduleRecurringBlock, error) {
	repos := s.store.Repos()

	block, err := repos.Blocks.GetScheduleRecurringBlockByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecurringBlockNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get schedule recurring block %d: %w", id, err)
	}

	out, err := s.withEvents(ctx, repos, []ScheduleRecurringBlock{*block})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (s *Service) withEvents(ctx context.Context, repos Repositories, blocks []ScheduleRecurringBlock) ([]ProviderScheduleRecurringBlock, error) {
	ids := make([]int64, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.ID)
	}

	events, err := repos.Events.ListByRecurringBlockIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list recurring block events: %w", err)
	}

	out := make([]ProviderScheduleRecurringBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, ProviderScheduleRecurringBlock{
			ScheduleRecurringBlock: b,
			ScheduleEvents:         events[b.ID],
		})
	}
	return out, nil
}

// CreateScheduleRecurringBlock materializes a recurring block and returns its
// id. Calling it again with the same parameters resumes from the block's
// watermark instead of creating a second block, and returns early once the
// block is fully materialized. A conflicting occurrence aborts the whole
// call and nothing is written.
func (s *Service) CreateScheduleRecurringBlock(ctx context.Context, p CreateScheduleRecurringBlockParams) (int64, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	p.StartsAt, p.EndsAt, p.Until = p.StartsAt.UTC(), p.EndsAt.UTC(), p.Until.UTC()

	var (
		blockID int64
		created bool
		events  int
	)

	err := s.locker.WithScheduleLock(ctx, p.ScheduleID, func(lockCtx context.Context) error {
		return s.store.InTx(lockCtx, func(txCtx context.Context, repos Repositories) error {
			owner, err := repos.Blocks.GetScheduleOwnerID(txCtx, p.ScheduleID)
			if err != nil {
				if errors.Is(err, ErrScheduleNotFound) {
					return fmt.Errorf("%w: schedule %d", ErrScheduleNotFound, p.ScheduleID)
				}
				return fmt.Errorf("check schedule owner: %w", err)
			}
			if owner != p.UserID {
				return fmt.Errorf("%w: schedule %d does not belong to user %d", ErrScheduleNotFound, p.ScheduleID, p.UserID)
			}

			existing, err := repos.Blocks.GetScheduleRecurringBlock(txCtx, p.UserID, p.StartsAt, p.EndsAt, p.Until)
			if err != nil && !errors.Is(err, ErrRecurringBlockNotFound) {
				return fmt.Errorf("check existing recurring block: %w", err)
			}

			block := ScheduleRecurringBlock{
				ScheduleID:    p.ScheduleID,
				StartsAt:      p.StartsAt,
				EndsAt:        p.EndsAt,
				Frequency:     p.Frequency,
				WeekDaysIndex: p.WeekDaysIndex,
				Until:         p.Until,
				Timezone:      p.MemberTimezone,
			}
			if existing != nil {
				block = *existing
				blockID = existing.ID
				if block.State() == MaterializationCompleted {
					return nil
				}
			}

			n, id, err := s.materialize(txCtx, repos, block, p.UserID, s.untilRange(block.Until))
			if err != nil {
				return err
			}
			blockID, events, created = id, n, existing == nil
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return 0, ErrMaterializationInProgress
		}
		return 0, err
	}

	if created {
		s.logEvent(ctx, blockID, EventRecurringBlockCreated, map[string]any{
			"schedule_id": p.ScheduleID,
			"user_id":     p.UserID,
			"frequency":   p.Frequency,
			"until":       p.Until,
		})
	}
	if events > 0 {
		s.logEvent(ctx, blockID, EventRecurringBlockEventsCreated, map[string]any{"count": events})
	}

	s.logger.Info().
		Int64("schedule_recurring_block_id", blockID).
		Int64("schedule_id", p.ScheduleID).
		Bool("created", created).
		Int("events_created", events).
		Msg("recurring block materialized")

	return blockID, nil
}

func (s *Service) untilRange(until time.Time) time.Time {
	if s.horizon <= 0 {
		return until
	}
	if limit := s.now().UTC().Add(s.horizon); limit.Before(until) {
		return limit
	}
	return until
}

// materialize expands block from its watermark through untilRange, rejects
// the whole range on any conflict, then writes the block (when new), one
// event per occurrence and the advanced watermark. It must run inside a unit
// of work.
func (s *Service) materialize(ctx context.Context, repos Repositories, block ScheduleRecurringBlock, userID int64, untilRange time.Time) (int, int64, error) {
	occurrences, err := recurrence.Occurrences(block.Rule(), block.resumeFrom(), untilRange)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrInvalidRecurringBlock, err)
	}

	if len(occurrences) > 0 {
		if err := s.checkConflicts(ctx, repos, block, userID, occurrences); err != nil {
			return 0, 0, err
		}
	}

	if block.ID == 0 {
		id, err := repos.Blocks.Create(ctx, block)
		if err != nil {
			return 0, 0, fmt.Errorf("create recurring block: %w", err)
		}
		block.ID = id
	}

	blockID := block.ID
	for _, occ := range occurrences {
		_, err := repos.Events.Create(ctx, ScheduleEvent{
			ScheduleID:               block.ScheduleID,
			StartsAt:                 occ.Start,
			EndsAt:                   occ.End,
			State:                    EventAvailable,
			ScheduleRecurringBlockID: &blockID,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("create schedule event for %s: %w", occ, err)
		}
	}

	watermark := untilRange
	if n := len(occurrences); n > 0 && occurrences[n-1].End.After(watermark) {
		watermark = occurrences[n-1].End
	}
	if block.LatestDateEventsCreated == nil || watermark.After(*block.LatestDateEventsCreated) {
		if err := repos.Blocks.UpdateLatestDateEventsCreated(ctx, block.ID, watermark); err != nil {
			return 0, 0, fmt.Errorf("advance watermark: %w", err)
		}
	}

	return len(occurrences), block.ID, nil
}

func (s *Service) checkConflicts(ctx context.Context, repos Repositories, block ScheduleRecurringBlock, userID int64, occurrences []timerange.TimeRange) error {
	window := timerange.TimeRange{Start: occurrences[0].Start, End: occurrences[len(occurrences)-1].End}

	booked, err := repos.Appointments.ListBookedForSchedule(ctx, block.ScheduleID, window.Start, window.End)
	if err != nil {
		return fmt.Errorf("load booked appointments: %w", err)
	}
	events, err := repos.Events.ListByScheduleAndRange(ctx, block.ScheduleID, window.Start, window.End, EventAvailable, EventBooked)
	if err != nil {
		return fmt.Errorf("load schedule events: %w", err)
	}

	existing := make([]conflict.OverlapCheckable, 0, len(booked)+len(events))
	for _, a := range booked {
		existing = append(existing, a)
	}
	for _, e := range events {
		if block.ID != 0 && e.GeneratedBy(block.ID) {
			continue
		}
		existing = append(existing, e)
	}

	for _, occ := range occurrences {
		if r, ok := conflict.FirstConflict(occ, existing, nil); ok {
			return &ScheduleRecurringBlockConflictError{
				ScheduleID: block.ScheduleID,
				UserID:     userID,
				Occurrence: occ,
				Range:      r,
			}
		}
	}
	return nil
}

// DetectBookedAppointmentsInBlock returns a *BookedAppointmentsError when any
// non-cancelled appointment falls inside the block's generated events.
func (s *Service) DetectBookedAppointmentsInBlock(ctx context.Context, blockID, userID int64) error {
	count, err := s.store.Repos().Blocks.CountExistingAppointmentsInScheduleRecurringBlock(ctx, blockID, userID)
	if err != nil {
		return fmt.Errorf("detect booked appointments: %w", err)
	}
	if count > 0 {
		return &BookedAppointmentsError{BlockID: blockID, UserID: userID, Count: count}
	}
	return nil
}

func (s *Service) DeleteScheduleRecurringBlock(ctx context.Context, blockID, userID int64) (int64, error) {
	var deleted int64
	err := s.store.InTx(ctx, func(txCtx context.Context, repos Repositories) error {
		id, err := repos.Blocks.Delete(txCtx, blockID, userID)
		if err != nil {
			return err
		}
		deleted = id
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRecurringBlockNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("delete recurring block %d: %w", blockID, err)
	}

	s.logEvent(ctx, deleted, EventRecurringBlockDeleted, map[string]any{"user_id": userID})
	return deleted, nil
}

// BackfillScheduleRecurringBlocks extends up to batchSize blocks whose
// watermark is behind min(until, horizon). Blocks that conflict or whose
// schedule is locked are logged and skipped.
func (s *Service) BackfillScheduleRecurringBlocks(ctx context.Context, horizon time.Time, batchSize int) (BackfillResult, error) {
	var res BackfillResult

	blocks, err := s.store.Repos().Blocks.ListBlocksNeedingBackfill(ctx, horizon, batchSize)
	if err != nil {
		return res, fmt.Errorf("list blocks needing backfill: %w", err)
	}

	for _, candidate := range blocks {
		res.Blocks++

		var created int
		err := s.locker.WithScheduleLock(ctx, candidate.ScheduleID, func(lockCtx context.Context) error {
			return s.store.InTx(lockCtx, func(txCtx context.Context, repos Repositories) error {
				// Re-read under the lock; another caller may have advanced it.
				block, err := repos.Blocks.GetScheduleRecurringBlockByID(txCtx, candidate.ID)
				if err != nil {
					return err
				}
				untilRange := block.Until
				if horizon.Before(untilRange) {
					untilRange = horizon
				}
				if !block.resumeFrom().Before(untilRange) {
					return nil
				}
				n, _, err := s.materialize(txCtx, repos, *block, 0, untilRange)
				created = n
				return err
			})
		})
		if err != nil {
			if errors.Is(err, ErrRecurringBlockNotFound) {
				continue
			}
			res.Failed++
			s.logger.Warn().Err(err).
				Int64("schedule_recurring_block_id", candidate.ID).
				Int64("schedule_id", candidate.ScheduleID).
				Msg("recurring block backfill failed")
			continue
		}

		res.EventsCreated += created
		if created > 0 {
			s.logEvent(ctx, candidate.ID, EventRecurringBlockEventsCreated, map[string]any{
				"count":  created,
				"reason": "backfill",
			})
		}
	}

	return res, nil
}

func (s *Service) logEvent(ctx context.Context, blockID int64, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	id := blockID
	ev := EventLog{
		EventType:                eventType,
		ScheduleRecurringBlockID: &id,
		Payload:                  data,
		CreatedAt:                s.now(),
	}

	if err := s.store.Repos().EventLog.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("event_type", eventType).
			Int64("schedule_recurring_block_id", blockID).
			Msg("failed to insert event log")
	}
}
