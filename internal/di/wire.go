package di

import (
	"fmt"

	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/domain"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a configured container.
// Order: databases, repositories, services, work processor and triggers,
// scheduled jobs. Nothing is started; call Start.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, *JobInstances, error) {
	return WireWithClock(cfg, nil, log)
}

// WireWithClock is Wire with a fixed clock, used by tests
func WireWithClock(cfg *config.Config, clock domain.Clock, log zerolog.Logger) (*Container, *JobInstances, error) {
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	InitializeRepositories(container, log)

	if err := InitializeServices(container, clock, log); err != nil {
		container.closeDatabases()
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	InitializeWork(container, log)

	jobs, err := RegisterJobs(container, log)
	if err != nil {
		container.closeDatabases()
		return nil, nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")
	return container, jobs, nil
}

// Start starts the work processor and the scheduler
func (c *Container) Start() {
	c.WorkProcessor.Start()
	c.Scheduler.Start()
}

// Close stops background work and closes the databases
func (c *Container) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.WorkProcessor != nil {
		c.WorkProcessor.Stop()
	}
	c.closeDatabases()
}

func (c *Container) closeDatabases() {
	for _, db := range c.Databases() {
		if db != nil {
			db.Close()
		}
	}
}
