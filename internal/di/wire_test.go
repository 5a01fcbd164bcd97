package di

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/modules/market"
	"github.com/aristath/folio/internal/modules/transactions"
	testutil "github.com/aristath/folio/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		DataDir:           t.TempDir(),
		Port:              8001,
		WorkWorkers:       2,
		WorkQueueSize:     16,
		ReconcileSchedule: config.DefaultReconcileSchedule,
		Backup:            config.BackupConfig{Schedule: config.DefaultBackupSchedule},
	}
}

func TestWire(t *testing.T) {
	container, jobs, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.FolioDB)
	assert.NotNil(t, container.CacheDB)
	assert.NotNil(t, container.TransactionService)
	assert.NotNil(t, container.ValuationService)
	assert.NotNil(t, container.SnapshotService)
	assert.NotNil(t, container.WorkProcessor)
	assert.Equal(t, 2, container.WorkRegistry.Count())

	assert.NotNil(t, jobs.ReconcileAll)
	assert.Nil(t, jobs.Backup)
	assert.False(t, container.BackupService.Enabled())
	assert.Equal(t, 4, container.Scheduler.JobCount())
}

func TestWire_InvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReconcileSchedule = "whenever"

	_, _, err := Wire(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "failed to register jobs")
}

// A new transaction flows through the event bus into a background recompute
func TestWire_TransactionTriggersRecompute(t *testing.T) {
	container, _, err := WireWithClock(testConfig(t), testutil.FixedClock("2024-01-10"), zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()
	container.Start()

	ctx := context.Background()
	_, err = container.IngestService.IngestPrices(ctx, []market.PriceInput{
		{Symbol: "AAPL", Date: "2024-01-02", Close: decimal.NewFromInt(100)},
		{Symbol: "AAPL", Date: "2024-01-08", Close: decimal.NewFromInt(110)},
	})
	require.NoError(t, err)

	_, err = container.TransactionService.Create(ctx, 1, transactions.CreateRequest{
		Symbol:       "AAPL",
		Side:         "BUY",
		Quantity:     decimal.NewFromInt(10),
		PricePerUnit: decimal.NewFromInt(100),
		TradeDate:    "2024-01-02",
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		snaps, err := container.SnapshotRepo.Range(ctx, 1, time.Time{}, container.SnapshotService.Today())
		return err == nil && len(snaps) == 9
	}, 5*time.Second, 20*time.Millisecond)

	snaps, err := container.SnapshotRepo.Range(ctx, 1, time.Time{}, container.SnapshotService.Today())
	require.NoError(t, err)
	require.Len(t, snaps, 9)
	assert.Equal(t, "1000", snaps[0].TotalValue.String())
	assert.Equal(t, "1100", snaps[8].TotalValue.String())
	assert.Equal(t, "10", snaps[8].TotalPnLPct.String())
}
