package work

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aristath/folio/internal/modules/snapshots"
	"github.com/rs/zerolog"
)

// Work type IDs
const (
	TypeSnapshotRecompute = "snapshots:recompute"
	TypeSnapshotReconcile = "snapshots:reconcile"
)

// SnapshotServiceInterface defines the snapshot operations run in the background
type SnapshotServiceInterface interface {
	RecomputeFrom(ctx context.Context, userID int64, from time.Time) (*snapshots.BuildResult, error)
	Reconcile(ctx context.Context, userID int64) (*snapshots.BuildResult, error)
}

// SnapshotDeps contains all dependencies for snapshot work types
type SnapshotDeps struct {
	Service SnapshotServiceInterface
	Log     zerolog.Logger
}

// RegisterSnapshotWorkTypes registers the snapshot work types with the registry.
// The subject of both is the user id.
func RegisterSnapshotWorkTypes(registry *Registry, deps *SnapshotDeps) {
	log := deps.Log.With().Str("component", "snapshot_work").Logger()

	// snapshots:recompute - rebuild from the item's from-date through today
	registry.Register(&WorkType{
		ID:       TypeSnapshotRecompute,
		Priority: PriorityHigh,
		Execute: func(ctx context.Context, item *WorkItem) error {
			userID, err := ParseUserSubject(item.Subject)
			if err != nil {
				return err
			}

			_, err = deps.Service.RecomputeFrom(ctx, userID, item.From)
			return skipInProgress(log, item, err)
		},
	})

	// snapshots:reconcile - fill gaps and refresh today
	registry.Register(&WorkType{
		ID:       TypeSnapshotReconcile,
		Priority: PriorityLow,
		Execute: func(ctx context.Context, item *WorkItem) error {
			userID, err := ParseUserSubject(item.Subject)
			if err != nil {
				return err
			}

			_, err = deps.Service.Reconcile(ctx, userID)
			return skipInProgress(log, item, err)
		},
	})
}

// UserSubject formats a user id as a work subject
func UserSubject(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// ParseUserSubject parses a subject produced by UserSubject
func ParseUserSubject(subject string) (int64, error) {
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user subject %q: %w", subject, err)
	}
	return id, nil
}

// skipInProgress turns a collision with another build for the same user into a
// skip. The build holding the user repeats the declined request before it
// releases the lock, so nothing is retried here.
func skipInProgress(log zerolog.Logger, item *WorkItem, err error) error {
	if errors.Is(err, snapshots.ErrRecomputeInProgress) {
		log.Debug().Str("work", item.Key()).Msg("Recompute already in progress, skipping")
		return nil
	}
	return err
}
