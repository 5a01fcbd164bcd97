package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/folio/internal/database"
	"github.com/rs/zerolog"
)

// CheckDatabasesJob verifies the integrity of the SQLite databases
type CheckDatabasesJob struct {
	log       zerolog.Logger
	databases []*database.DB
}

// NewCheckDatabasesJob creates a new CheckDatabasesJob. Nil databases are skipped.
func NewCheckDatabasesJob(databases ...*database.DB) *CheckDatabasesJob {
	return &CheckDatabasesJob{
		log:       zerolog.Nop(),
		databases: databases,
	}
}

// SetLogger sets the logger for the job
func (j *CheckDatabasesJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *CheckDatabasesJob) Name() string {
	return "check_databases"
}

// Run executes the integrity check. The first corrupted database fails the job.
func (j *CheckDatabasesJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, db := range j.databases {
		if db == nil {
			continue
		}

		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().
				Err(err).
				Str("database", db.Name()).
				Msg("Database integrity check failed")
			return fmt.Errorf("database %s failed its integrity check: %w", db.Name(), err)
		}

		j.log.Debug().Str("database", db.Name()).Msg("Database integrity OK")
	}

	j.log.Info().Msg("Database integrity check passed")
	return nil
}
