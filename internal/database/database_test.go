package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	u, err := MigrationURL("postgres://u:p@db:5432/app?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://u:p@db:5432/app?sslmode=disable", u)

	u, err = MigrationURL("postgresql://db/app")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://db/app", u)

	_, err = MigrationURL("mysql://u:secret@db/app")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}
