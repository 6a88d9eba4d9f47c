package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	db, err := New(filepath.Join(t.TempDir(), "nested", "test.db"), zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx))

	version, err := db.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	for _, table := range []string{"lists", "list_items", "imdb_ratings", "title_links"} {
		var name string
		err := db.Conn().QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}

	// A second run is a no-op.
	require.NoError(t, db.Migrate(ctx))
	assert.NoError(t, db.Ping(ctx))
}

func TestForeignKeysEnabled(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	var enabled int
	require.NoError(t, db.Conn().QueryRow("PRAGMA foreign_keys").Scan(&enabled))
	assert.Equal(t, 1, enabled)
}
