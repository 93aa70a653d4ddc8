package testutil

import (
	"testing"

	"github.com/kasuganosora/satchel/cache"
	"github.com/kasuganosora/satchel/catalog"
	"github.com/kasuganosora/satchel/config"
	dbadapter "github.com/kasuganosora/satchel/db"
	"github.com/kasuganosora/satchel/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates an in-memory SQLite DB and runs AutoMigrate.
// Each call gets its own database, so it is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLite,
		SQLitePath: dbadapter.MemoryDSN,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates a LocalCache (no Redis required).
func SetupTestCache(t *testing.T) cache.Cache {
	t.Helper()
	c, err := cache.NewCache(cache.CacheConfig{}) // empty RedisAddr → LocalCache
	require.NoError(t, err, "SetupTestCache: NewCache")
	return c
}

// Resource and bag ids of TestCatalog.
const (
	Ore     = 1 // stack 10
	Wood    = 2 // stack 20
	Gem     = 3 // stack 1
	Credits = 4 // hidden, cap 1000

	Pouch = 1 // 2 slots
	Sack  = 2 // 4 slots
)

// TestCatalog returns a small catalog shared by the service-level tests.
func TestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		[]*catalog.Resource{
			nil,
			{ID: Ore, Name: "Ore", StackLimit: 10, Baggable: true},
			{ID: Wood, Name: "Wood", StackLimit: 20, Baggable: true},
			{ID: Gem, Name: "Gem", StackLimit: 1, Baggable: true},
			{ID: Credits, Name: "Credits", HiddenLimit: 1000},
		},
		[]*catalog.BagTemplate{
			nil,
			{ID: Pouch, Name: "Pouch", Capacity: 2},
			{ID: Sack, Name: "Sack", Capacity: 4},
		},
	)
	require.NoError(t, err, "TestCatalog")
	return c
}
