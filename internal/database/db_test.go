package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()

	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "nested", name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate())
	return db
}

func countSecurities(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM securities").Scan(&n))
	return n
}

func TestNew_MigratesEachSchema(t *testing.T) {
	folio := openTestDB(t, NameFolio, ProfileLedger)
	assert.Equal(t, NameFolio, folio.Name())
	assert.Equal(t, ProfileLedger, folio.Profile())
	assert.True(t, filepath.IsAbs(folio.Path()))
	assert.Equal(t, 0, countSecurities(t, folio))

	cache := openTestDB(t, NameCache, ProfileCache)
	var n int
	require.NoError(t, cache.Conn().QueryRow("SELECT COUNT(*) FROM cache").Scan(&n))

	// schema files are idempotent
	assert.NoError(t, folio.Migrate())
}

func TestNew_DefaultsProfile(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "x.db"), Name: NameFolio})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, ProfileStandard, db.Profile())
}

func TestSchemaPath(t *testing.T) {
	path, err := SchemaPath(NameFolio)
	require.NoError(t, err)
	assert.Equal(t, "folio_schema.sql", filepath.Base(path))

	_, err = SchemaPath("ledger")
	assert.ErrorContains(t, err, `no schema registered for database "ledger"`)
}

func TestWithTransaction(t *testing.T) {
	db := openTestDB(t, NameFolio, ProfileStandard)
	insert := func(tx *sql.Tx, symbol string) error {
		_, err := tx.Exec("INSERT INTO securities (symbol) VALUES (?)", symbol)
		return err
	}

	t.Run("commits", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error { return insert(tx, "AAPL") })
		require.NoError(t, err)
		assert.Equal(t, 1, countSecurities(t, db))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		errStop := errors.New("stop")
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			require.NoError(t, insert(tx, "MSFT"))
			return errStop
		})
		assert.ErrorIs(t, err, errStop)
		assert.ErrorContains(t, err, "transaction failed")
		assert.Equal(t, 1, countSecurities(t, db))
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
			require.NoError(t, insert(tx, "NVDA"))
			panic("boom")
		})
		assert.ErrorContains(t, err, "panic in transaction: boom")
		assert.Equal(t, 1, countSecurities(t, db))
	})

	t.Run("nil connection", func(t *testing.T) {
		assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
	})
}

func TestDB_Maintenance(t *testing.T) {
	db := openTestDB(t, NameFolio, ProfileLedger)
	ctx := context.Background()

	_, err := db.Conn().Exec("INSERT INTO securities (symbol) VALUES ('AAPL')")
	require.NoError(t, err)

	assert.NoError(t, db.HealthCheck(ctx))
	assert.NoError(t, db.WALCheckpoint(""))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Positive(t, stats.PageCount)
	assert.Positive(t, stats.PageSize)
	assert.Positive(t, stats.SizeBytes)

	dest := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, db.VacuumInto(ctx, dest))
	_, err = os.Stat(dest)
	require.NoError(t, err)

	// dest must not exist
	assert.Error(t, db.VacuumInto(ctx, dest))

	copied, err := New(Config{Path: dest, Name: NameFolio})
	require.NoError(t, err)
	defer copied.Close()
	assert.Equal(t, 1, countSecurities(t, copied))
}
