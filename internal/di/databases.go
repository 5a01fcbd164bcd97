package di

import (
	"fmt"

	"github.com/aristath/folio/internal/config"
	"github.com/aristath/folio/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{Config: cfg}

	// folio.db holds the ledger, so it gets the fsync-heavy profile
	folioDB, err := openDatabase(cfg, database.NameFolio, database.ProfileLedger)
	if err != nil {
		return nil, err
	}
	container.FolioDB = folioDB

	cacheDB, err := openDatabase(cfg, database.NameCache, database.ProfileCache)
	if err != nil {
		folioDB.Close()
		return nil, err
	}
	container.CacheDB = cacheDB

	log.Info().
		Str("folio", folioDB.Path()).
		Str("cache", cacheDB.Path()).
		Msg("Databases initialized")

	return container, nil
}

func openDatabase(cfg *config.Config, name string, profile database.DatabaseProfile) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(name),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s database: %w", name, err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}
	return db, nil
}
