package di

import (
	"fmt"

	"github.com/aristath/folio/internal/scheduler"
	"github.com/rs/zerolog"
)

// Maintenance schedules
const (
	walCheckSchedule   = "0 */15 * * * *"
	integritySchedule  = "0 0 4 * * *"
	cachePurgeSchedule = "0 0 * * * *"
)

// JobInstances holds the registered jobs so they can be run on demand
type JobInstances struct {
	ReconcileAll *scheduler.ReconcileAllJob
	Backup       *scheduler.BackupJob // nil when backups are disabled
	WALCheck     *scheduler.CheckWALCheckpointsJob
	Integrity    *scheduler.CheckDatabasesJob
	CachePurge   *scheduler.PurgeCacheJob
}

// RegisterJobs creates the scheduler and registers the cron jobs. The
// scheduler is not started.
func RegisterJobs(container *Container, log zerolog.Logger) (*JobInstances, error) {
	sched := scheduler.New(log)
	jobs := &JobInstances{}
	cfg := container.Config

	jobs.ReconcileAll = scheduler.NewReconcileAllJob(container.TransactionRepo, container.WorkProcessor)
	jobs.ReconcileAll.SetLogger(log)
	if err := sched.AddJob(cfg.ReconcileSchedule, jobs.ReconcileAll); err != nil {
		return nil, fmt.Errorf("failed to register reconcile job: %w", err)
	}

	if container.BackupService.Enabled() {
		jobs.Backup = scheduler.NewBackupJob(container.BackupService)
		jobs.Backup.SetLogger(log)
		if err := sched.AddJob(cfg.Backup.Schedule, jobs.Backup); err != nil {
			return nil, fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	jobs.WALCheck = scheduler.NewCheckWALCheckpointsJob(container.Databases()...)
	jobs.WALCheck.SetLogger(log)
	if err := sched.AddJob(walCheckSchedule, jobs.WALCheck); err != nil {
		return nil, fmt.Errorf("failed to register wal check job: %w", err)
	}

	jobs.Integrity = scheduler.NewCheckDatabasesJob(container.Databases()...)
	jobs.Integrity.SetLogger(log)
	if err := sched.AddJob(integritySchedule, jobs.Integrity); err != nil {
		return nil, fmt.Errorf("failed to register database check job: %w", err)
	}

	jobs.CachePurge = scheduler.NewPurgeCacheJob(container.SeriesCache)
	jobs.CachePurge.SetLogger(log)
	if err := sched.AddJob(cachePurgeSchedule, jobs.CachePurge); err != nil {
		return nil, fmt.Errorf("failed to register cache purge job: %w", err)
	}

	container.Scheduler = sched
	return jobs, nil
}
