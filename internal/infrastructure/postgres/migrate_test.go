package postgres

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	files := fstest.MapFS{
		"010_later.sql":  {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("docs")},
		"notes.sql":      {Data: []byte("SELECT 0;")},
	}

	migrations, err := LoadMigrations(files)
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, 10, migrations[2].Version)
	assert.Equal(t, "SELECT 2;", migrations[1].SQL)
}

func TestLoadMigrationsRejectsDuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 1;")},
	}
	_, err := LoadMigrations(files)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 1")
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := LoadMigrations(Migrations())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(migrations), 2)
	assert.Equal(t, "001_workflow.sql", migrations[0].Name)
	assert.True(t, strings.Contains(migrations[1].SQL, "CREATE TABLE IF NOT EXISTS outbox"))
}
