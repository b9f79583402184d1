package migration

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	src, err := openSource()
	require.NoError(t, err)
	defer src.Close()

	version, err := src.First()
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	seen := []uint{version}
	for {
		next, err := src.Next(version)
		if err != nil {
			break
		}
		seen = append(seen, next)
		version = next
	}
	assert.Equal(t, []uint{1, 2, 3, 4}, seen)

	for _, v := range seen {
		up, _, err := src.ReadUp(v)
		require.NoError(t, err, "up %d", v)
		_ = up.Close()
		down, _, err := src.ReadDown(v)
		require.NoError(t, err, "down %d", v)
		_ = down.Close()
	}
}

func TestApplyAutoMigratesSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migration_apply?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Apply(db))
	require.NoError(t, Apply(db))

	for _, table := range []string{"accounts", "balance_records", "allocation_records", "usage_entries"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
	assert.Error(t, Apply(nil))
}
