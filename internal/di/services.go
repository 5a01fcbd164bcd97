package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aristath/folio/internal/cache"
	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/events"
	"github.com/aristath/folio/internal/modules/market"
	"github.com/aristath/folio/internal/modules/snapshots"
	"github.com/aristath/folio/internal/modules/transactions"
	"github.com/aristath/folio/internal/modules/valuation"
	"github.com/aristath/folio/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the data access layer
func InitializeRepositories(container *Container, log zerolog.Logger) {
	conn := container.FolioDB.Conn()

	container.SecurityRepo = market.NewSecurityRepository(conn, log)
	container.PriceRepo = market.NewPriceRepository(conn, log)
	container.DividendRepo = market.NewDividendRepository(conn, log)
	container.TransactionRepo = transactions.NewRepository(conn, log)
	container.SnapshotRepo = snapshots.NewRepository(conn, log)
}

// InitializeServices creates the services on top of the repositories. The
// clock defaults to the wall clock.
func InitializeServices(container *Container, clock domain.Clock, log zerolog.Logger) error {
	if clock == nil {
		clock = domain.Clock(time.Now)
	}
	container.Clock = clock

	container.EventBus = events.NewBus(log)
	container.SeriesCache = cache.New(container.CacheDB.Conn(), log)

	container.IngestService = market.NewIngestService(
		container.SecurityRepo,
		container.PriceRepo,
		container.DividendRepo,
		container.EventBus,
		log,
	)
	container.TransactionService = transactions.NewService(
		container.TransactionRepo,
		container.SecurityRepo,
		container.EventBus,
		log,
	)
	container.ValuationService = valuation.NewService(
		container.TransactionRepo,
		container.SecurityRepo,
		container.PriceRepo,
		container.DividendRepo,
		log,
	)

	container.SnapshotBuilder = snapshots.NewBuilder(
		container.TransactionRepo,
		container.PriceRepo,
		container.SnapshotRepo,
		log,
	)
	container.SnapshotService = snapshots.NewService(
		container.SnapshotBuilder,
		container.SnapshotRepo,
		container.TransactionRepo,
		container.SeriesCache,
		container.EventBus,
		clock,
		log,
	)

	backup, err := newBackupService(container, log)
	if err != nil {
		return err
	}
	container.BackupService = backup

	return nil
}

// newBackupService returns a disabled service when no bucket is configured
func newBackupService(container *Container, log zerolog.Logger) (*reliability.BackupService, error) {
	var uploader reliability.Uploader

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := reliability.NewS3Client(ctx, container.Config.Backup, log)
	switch {
	case errors.Is(err, reliability.ErrBackupDisabled):
		log.Info().Msg("Backup bucket not configured, backups disabled")
	case err != nil:
		return nil, fmt.Errorf("failed to create backup client: %w", err)
	default:
		uploader = client
	}

	// The series cache is rebuilt on demand and is left out of backups
	return reliability.NewBackupService(uploader, os.TempDir(), log, container.FolioDB), nil
}
