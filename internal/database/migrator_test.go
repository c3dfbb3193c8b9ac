package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMigrator_Validation(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("fails with nil database", func(t *testing.T) {
		migrator, err := NewMigrator(nil, "/some/path", logger)
		assert.Error(t, err)
		assert.Nil(t, migrator)
		assert.Contains(t, err.Error(), "database is required")
	})

	t.Run("fails with nil pool", func(t *testing.T) {
		migrator, err := NewMigrator(&DB{}, "/some/path", logger)
		assert.Error(t, err)
		assert.Nil(t, migrator)
		assert.Contains(t, err.Error(), "database pool not initialized")
	})

	t.Run("fails with empty migrations path", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		migrator, err := NewMigrator(db, "", logger)
		assert.Error(t, err)
		assert.Nil(t, migrator)
		assert.Contains(t, err.Error(), "migrations path is required")
	})

	t.Run("fails with missing migrations directory", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		migrator, err := NewMigrator(db, "/nonexistent/path", logger)
		assert.Error(t, err)
		assert.Nil(t, migrator)
		assert.Contains(t, err.Error(), "migrations path validation failed")
	})
}

// TestMigrator_UpAndVersion applies the real migration files against a running
// PostgreSQL instance and is skipped when none is reachable.
func TestMigrator_UpAndVersion(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupTestDB(t)
	defer db.Close()

	migrator, err := NewMigrator(db, migrationsPath(t), zerolog.Nop())
	require.NoError(t, err)
	defer migrator.Close()

	require.NoError(t, migrator.Up())

	// Up is idempotent.
	require.NoError(t, migrator.Up())

	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.GreaterOrEqual(t, version, uint(1))

	// Stepping past the newest migration is not an error.
	assert.NoError(t, migrator.Steps(1))
}

func TestMigrator_Close(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupTestDB(t)
	defer db.Close()

	migrator, err := NewMigrator(db, migrationsPath(t), zerolog.Nop())
	require.NoError(t, err)

	assert.NoError(t, migrator.Close())
}

// migrationsPath locates the repository's migrations directory relative to
// this package.
func migrationsPath(t *testing.T) string {
	t.Helper()

	cwd, err := os.Getwd()
	require.NoError(t, err)

	path := filepath.Join(cwd, "..", "..", "migrations")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skipf("Skipping test: migrations directory not found at %s", path)
	}

	return path
}
