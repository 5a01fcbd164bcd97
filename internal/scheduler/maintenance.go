package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CachePurger removes expired cache entries
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// BackupRunner creates and uploads a database backup
type BackupRunner interface {
	CreateAndUpload(ctx context.Context) error
}

// PurgeCacheJob drops expired series cache entries
type PurgeCacheJob struct {
	log   zerolog.Logger
	cache CachePurger
}

// NewPurgeCacheJob creates a new PurgeCacheJob
func NewPurgeCacheJob(cache CachePurger) *PurgeCacheJob {
	return &PurgeCacheJob{log: zerolog.Nop(), cache: cache}
}

// SetLogger sets the logger for the job
func (j *PurgeCacheJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *PurgeCacheJob) Name() string {
	return "cache:purge"
}

// Run executes the purge
func (j *PurgeCacheJob) Run() error {
	n, err := j.cache.PurgeExpired(context.Background())
	if err != nil {
		return err
	}
	j.log.Debug().Int64("entries", n).Msg("Cache purge completed")
	return nil
}

// BackupJob uploads a snapshot of the database to object storage
type BackupJob struct {
	log     zerolog.Logger
	backup  BackupRunner
	timeout time.Duration
}

// NewBackupJob creates a new BackupJob
func NewBackupJob(backup BackupRunner) *BackupJob {
	return &BackupJob{log: zerolog.Nop(), backup: backup, timeout: 15 * time.Minute}
}

// SetLogger sets the logger for the job
func (j *BackupJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup:snapshots"
}

// Run executes the backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	if err := j.backup.CreateAndUpload(ctx); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	j.log.Info().Dur("duration", time.Since(start)).Msg("Backup completed")
	return nil
}
