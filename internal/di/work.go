package di

import (
	"github.com/aristath/folio/internal/work"
	"github.com/rs/zerolog"
)

// InitializeWork registers the work types, builds the processor and subscribes
// the event triggers. The processor is not started.
func InitializeWork(container *Container, log zerolog.Logger) {
	container.WorkRegistry = work.NewRegistry()
	container.WorkCompletion = work.NewCompletionTracker()

	work.RegisterSnapshotWorkTypes(container.WorkRegistry, &work.SnapshotDeps{
		Service: container.SnapshotService,
		Log:     log,
	})

	cfg := work.DefaultConfig()
	cfg.Workers = container.Config.WorkWorkers
	cfg.QueueSize = container.Config.WorkQueueSize

	container.WorkProcessor = work.NewProcessor(container.WorkRegistry, container.WorkCompletion, cfg, log)

	work.RegisterTriggers(&work.TriggerDeps{
		EventBus:  container.EventBus,
		Processor: container.WorkProcessor,
		Traders:   container.TransactionRepo,
		Log:       log,
	})

	log.Info().
		Int("work_types", container.WorkRegistry.Count()).
		Int("workers", cfg.Workers).
		Msg("Work processor initialized")
}
