package snapshots

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/events"
	"github.com/aristath/folio/internal/locks"
	"github.com/rs/zerolog"
)

// ErrRecomputeInProgress is returned when a build for the same user is already
// running. The declined request is recorded and the running build repeats it
// before releasing the user, so the caller should skip.
var ErrRecomputeInProgress = errors.New("snapshot recompute already in progress")

// FirstTradeSource reports the date of a user's earliest transaction
type FirstTradeSource interface {
	FirstTradeDate(ctx context.Context, userID int64) (time.Time, bool, error)
}

// SeriesCache stores rendered series
type SeriesCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// EventEmitter publishes SnapshotsUpdated
type EventEmitter interface {
	Emit(module string, data events.EventData)
}

// BuildResult describes a completed build
type BuildResult struct {
	UserID int64     `json:"user_id"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Days   int       `json:"days"`
}

// Service runs builds under the per-user lock and serves the series
type Service struct {
	builder *Builder
	repo    *Repository
	firsts  FirstTradeSource
	cache   SeriesCache
	emitter EventEmitter
	locks   *locks.KeyedMutex
	clock   domain.Clock
	log     zerolog.Logger

	// mu guards deferred and orders declines against lock release
	mu       sync.Mutex
	deferred map[int64]*deferredBuild
}

// deferredBuild accumulates the requests declined while a user was locked
type deferredBuild struct {
	recompute bool
	from      time.Time // zero: from the first transaction
	reconcile bool
}

func (d *deferredBuild) merge(other deferredBuild) {
	if other.recompute {
		switch {
		case !d.recompute:
			d.recompute = true
			d.from = other.from
		case d.from.IsZero():
		case other.from.IsZero() || other.from.Before(d.from):
			d.from = other.from
		}
	}
	d.reconcile = d.reconcile || other.reconcile
}

// NewService creates a snapshot service. cache and emitter may be nil.
func NewService(
	builder *Builder,
	repo *Repository,
	firsts FirstTradeSource,
	cache SeriesCache,
	emitter EventEmitter,
	clock domain.Clock,
	log zerolog.Logger,
) *Service {
	return &Service{
		builder:  builder,
		repo:     repo,
		firsts:   firsts,
		cache:    cache,
		emitter:  emitter,
		locks:    locks.NewKeyedMutex(),
		clock:    clock,
		log:      log.With().Str("service", "snapshots").Logger(),
		deferred: make(map[int64]*deferredBuild),
	}
}

// Today returns the service's current calendar date
func (s *Service) Today() time.Time {
	return s.clock.Today()
}

// RecomputeFrom rebuilds the user's snapshots from from through today. A zero
// from rebuilds from the first transaction. Returns ErrRecomputeInProgress when
// the user is already being rebuilt; the running build repeats the request.
func (s *Service) RecomputeFrom(ctx context.Context, userID int64, from time.Time) (*BuildResult, error) {
	unlock, ok := s.acquire(userID, deferredBuild{recompute: true, from: from})
	if !ok {
		return nil, ErrRecomputeInProgress
	}
	defer s.releaseOnPanic(unlock)

	result, err := s.recompute(ctx, userID, from)
	return s.finish(ctx, userID, unlock, result, err)
}

// Reconcile fills gaps in the user's series. When any date between the first
// transaction and today has no snapshot, the series is rebuilt from the earliest
// missing date. Otherwise only today is rebuilt, picking up today's prices.
func (s *Service) Reconcile(ctx context.Context, userID int64) (*BuildResult, error) {
	unlock, ok := s.acquire(userID, deferredBuild{reconcile: true})
	if !ok {
		return nil, ErrRecomputeInProgress
	}
	defer s.releaseOnPanic(unlock)

	result, err := s.reconcile(ctx, userID)
	return s.finish(ctx, userID, unlock, result, err)
}

// acquire takes the user's lock, or records req for the current holder
func (s *Service) acquire(userID int64, req deferredBuild) (unlock func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, ok = s.locks.TryLock(userID)
	if !ok {
		d, exists := s.deferred[userID]
		if !exists {
			d = &deferredBuild{}
			s.deferred[userID] = d
		}
		d.merge(req)
	}
	return unlock, ok
}

// finish runs the requests declined during the caller's build, then releases
// the user. The lock is dropped under s.mu so no decline slips in between the
// last check and the release.
func (s *Service) finish(ctx context.Context, userID int64, unlock func(), result *BuildResult, err error) (*BuildResult, error) {
	for {
		s.mu.Lock()
		next, ok := s.deferred[userID]
		if !ok {
			unlock()
			s.mu.Unlock()
			return result, err
		}
		delete(s.deferred, userID)
		s.mu.Unlock()

		if runErr := s.runDeferred(ctx, userID, *next); runErr != nil {
			// Keep it recorded; the caller's retry runs it again
			s.mu.Lock()
			if d, exists := s.deferred[userID]; exists {
				d.merge(*next)
			} else {
				s.deferred[userID] = next
			}
			unlock()
			s.mu.Unlock()

			if err == nil {
				err = fmt.Errorf("deferred snapshot build failed: %w", runErr)
			}
			return result, err
		}
	}
}

// releaseOnPanic frees the user when a build panics before finish ran
func (s *Service) releaseOnPanic(unlock func()) {
	if r := recover(); r != nil {
		s.mu.Lock()
		unlock()
		s.mu.Unlock()
		panic(r)
	}
}

func (s *Service) runDeferred(ctx context.Context, userID int64, d deferredBuild) error {
	s.log.Debug().
		Int64("user_id", userID).
		Bool("recompute", d.recompute).
		Str("from", domain.FormatDate(d.from)).
		Bool("reconcile", d.reconcile).
		Msg("Running deferred snapshot build")

	if d.recompute {
		if _, err := s.recompute(ctx, userID, d.from); err != nil {
			return err
		}
	}
	if d.reconcile {
		if _, err := s.reconcile(ctx, userID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recompute(ctx context.Context, userID int64, from time.Time) (*BuildResult, error) {
	first, ok, err := s.firsts.FirstTradeDate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load first trade date: %w", err)
	}
	if !ok {
		// Every transaction was deleted
		s.prune(ctx, userID, time.Time{})
		return nil, nil
	}

	if from.IsZero() || from.Before(first) {
		from = first
	}
	s.prune(ctx, userID, first)

	return s.build(ctx, userID, from, s.clock.Today())
}

func (s *Service) reconcile(ctx context.Context, userID int64) (*BuildResult, error) {
	first, ok, err := s.firsts.FirstTradeDate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load first trade date: %w", err)
	}
	today := s.clock.Today()
	if !ok || first.After(today) {
		return nil, nil
	}

	existing, err := s.repo.ExistingDates(ctx, userID, first, today)
	if err != nil {
		return nil, err
	}

	from := today
	for day := first; day.Before(today); day = day.AddDate(0, 0, 1) {
		if _, ok := existing[domain.FormatDate(day)]; !ok {
			from = day
			break
		}
	}

	if missing := domain.DaysBetween(first, today) + 1 - len(existing); missing > 0 {
		s.log.Info().
			Int64("user_id", userID).
			Int("missing_days", missing).
			Str("from", domain.FormatDate(from)).
			Msg("Snapshot gaps found, rebuilding")
	}

	return s.build(ctx, userID, from, today)
}

// build runs the builder, invalidates cached series and announces the update.
// Callers hold the user's lock.
func (s *Service) build(ctx context.Context, userID int64, from, to time.Time) (*BuildResult, error) {
	start := time.Now()

	days, err := s.builder.Build(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshots for user %d: %w", userID, err)
	}
	if days == 0 {
		return nil, nil
	}

	s.invalidate(ctx, userID)

	result := &BuildResult{UserID: userID, From: from, To: to, Days: days}
	if s.emitter != nil {
		s.emitter.Emit("snapshots", &events.SnapshotsUpdatedData{
			UserID: userID,
			From:   domain.FormatDate(from),
			To:     domain.FormatDate(to),
			Days:   days,
		})
	}

	s.log.Info().
		Int64("user_id", userID).
		Str("from", domain.FormatDate(from)).
		Str("to", domain.FormatDate(to)).
		Int("days", days).
		Dur("duration", time.Since(start)).
		Msg("Snapshots recomputed")

	return result, nil
}

func (s *Service) prune(ctx context.Context, userID int64, before time.Time) {
	n, err := s.repo.DeleteBefore(ctx, userID, before)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("Failed to prune snapshots")
		return
	}
	if n > 0 {
		s.log.Info().Int64("user_id", userID).Int64("rows", n).Msg("Pruned snapshots before first transaction")
		s.invalidate(ctx, userID)
	}
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.DeleteByPrefix(ctx, seriesPrefix(userID)); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to invalidate series cache")
	}
}
