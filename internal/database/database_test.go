package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shortlink/internal/config"
	"shortlink/internal/domain"
)

func TestNewConnection_SQLiteAndMigrate(t *testing.T) {
	cfg := &config.Database{
		Driver:     DriverSQLite,
		SQLitePath: "file:migrate_test?mode=memory&cache=shared",
	}

	db, err := NewConnection(cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = Close(db, zap.NewNop()) }()

	require.NoError(t, AutoMigrate(db, zap.NewNop()))
	// идемпотентно
	require.NoError(t, AutoMigrate(db, zap.NewNop()))

	for _, table := range []string{"accounts", "links", "link_tags", "clicks"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex(&domain.Link{}, "Code"))
	assert.True(t, db.Migrator().HasIndex(&domain.Link{}, "OwnerID"))
}

func TestNewConnection_UnknownDriver(t *testing.T) {
	_, err := NewConnection(&config.Database{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}
