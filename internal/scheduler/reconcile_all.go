package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/work"
	"github.com/rs/zerolog"
)

// UserLister lists every user with at least one transaction
type UserLister interface {
	UserIDs(ctx context.Context) ([]int64, error)
}

// ReconcileAllJob enqueues a snapshot reconcile for every user. It runs after
// the daily market data fetch so today's closes land in the series.
type ReconcileAllJob struct {
	log       zerolog.Logger
	users     UserLister
	processor work.EnqueuerInterface
}

// NewReconcileAllJob creates a new ReconcileAllJob
func NewReconcileAllJob(users UserLister, processor work.EnqueuerInterface) *ReconcileAllJob {
	return &ReconcileAllJob{
		log:       zerolog.Nop(),
		users:     users,
		processor: processor,
	}
}

// SetLogger sets the logger for the job
func (j *ReconcileAllJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *ReconcileAllJob) Name() string {
	return "reconcile:all"
}

// Run enqueues the reconciles. The work itself happens on the work processor.
func (j *ReconcileAllJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users, err := j.users.UserIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	for _, userID := range users {
		work.EnqueueReconcile(j.log, j.processor, userID)
	}

	j.log.Info().Int("users", len(users)).Msg("Reconcile scheduled for all users")
	return nil
}
