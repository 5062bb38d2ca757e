package sync

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arwahdevops/replisearch/internal/db"
)

// newSQLiteConn opens a private in-memory database.
func newSQLiteConn(t *testing.T) *db.Connector {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db.Wrap(gdb, "sqlite")
}

func seedItems(t *testing.T, conn *db.Connector, n int) {
	t.Helper()
	require.NoError(t, conn.DB.Exec(`CREATE TABLE "Items" (
		"id" INTEGER PRIMARY KEY,
		"Name" VARCHAR(50) NOT NULL,
		"Price" NUMERIC,
		"Active" BOOLEAN
	)`).Error)
	for i := 1; i <= n; i++ {
		require.NoError(t, conn.DB.Exec(`INSERT INTO "Items" ("id", "Name", "Price", "Active") VALUES (?, ?, ?, ?)`,
			i, fmt.Sprintf("item-%d", i), float64(i)*1.5, i%2 == 0).Error)
	}
}

func countRows(t *testing.T, conn *db.Connector, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.DB.Table(table).Count(&n).Error)
	return n
}
