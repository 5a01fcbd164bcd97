// Package di wires the application's dependencies.
package di

import (
	"github.com/aristath/folio/internal/cache"
	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/database"
	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/events"
	"github.com/aristath/folio/internal/modules/market"
	"github.com/aristath/folio/internal/modules/snapshots"
	"github.com/aristath/folio/internal/modules/transactions"
	"github.com/aristath/folio/internal/modules/valuation"
	"github.com/aristath/folio/internal/reliability"
	"github.com/aristath/folio/internal/scheduler"
	"github.com/aristath/folio/internal/work"
)

// Container holds every long-lived dependency. It is built by Wire and handed
// to the HTTP server.
type Container struct {
	Config *config.Config
	Clock  domain.Clock

	// Databases
	FolioDB *database.DB // securities, prices, dividends, transactions, snapshots
	CacheDB *database.DB // series cache, safe to delete

	// Repositories
	SecurityRepo    *market.SecurityRepository
	PriceRepo       *market.PriceRepository
	DividendRepo    *market.DividendRepository
	TransactionRepo *transactions.Repository
	SnapshotRepo    *snapshots.Repository

	// Services
	EventBus           *events.Bus
	SeriesCache        *cache.Cache
	IngestService      *market.IngestService
	TransactionService *transactions.Service
	ValuationService   *valuation.Service
	SnapshotBuilder    *snapshots.Builder
	SnapshotService    *snapshots.Service
	BackupService      *reliability.BackupService

	// Background work
	WorkRegistry   *work.Registry
	WorkCompletion *work.CompletionTracker
	WorkProcessor  *work.Processor
	Scheduler      *scheduler.Scheduler
}

// Databases returns the open databases, for maintenance jobs and status
func (c *Container) Databases() []*database.DB {
	return []*database.DB{c.FolioDB, c.CacheDB}
}
