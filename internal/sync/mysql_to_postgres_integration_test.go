//go:build integration

package sync

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/replisearch/internal/config"
	"github.com/arwahdevops/replisearch/internal/metrics"
	"github.com/arwahdevops/replisearch/internal/testdb"
)

func TestMySQLToPostgres_SyncAll(t *testing.T) {
	if os.Getenv("SKIP_INTEGRATION_TESTS") != "" || testing.Short() {
		t.Skip("Skipping integration test.")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	log := zaptest.NewLogger(t)

	source := testdb.StartMySQL(ctx, t)
	target := testdb.StartPostgres(ctx, t, testdb.PostgresImage)

	for _, stmt := range []string{
		"CREATE TABLE Customers (Id INT NOT NULL, Name VARCHAR(100) NOT NULL, Balance DECIMAL(12,2), Active TINYINT(1), CreatedAt DATETIME, PRIMARY KEY (Id))",
		"INSERT INTO Customers VALUES (1,'Ana',10.50,1,'2024-01-02 03:04:05'),(2,'Budi',NULL,0,NULL),(3,'Citra',99999.99,1,'2024-05-06 07:08:09')",
		"CREATE TABLE OrderLines (OrderId INT NOT NULL, LineNo INT NOT NULL, Sku VARCHAR(20), PRIMARY KEY (OrderId, LineNo))",
		"INSERT INTO OrderLines VALUES (1,1,'A'),(1,2,'B'),(2,1,'C'),(2,2,'D'),(3,1,'E')",
	} {
		require.NoError(t, source.Conn.DB.Exec(stmt).Error, stmt)
	}

	status := NewGormStatusStore(target.Conn.DB, log)
	require.NoError(t, status.EnsureSchema(ctx))
	syncer := NewTableSynchronizer(source.Conn, target.Conn, NewCatalogIntrospector(source.Conn, log), status,
		TableSyncOptions{BatchSize: 2, ConflictPolicy: config.ConflictUpdate, LowercaseIdentifiers: true},
		metrics.NewMetricsStore(), log)
	orchestrator := NewOrchestrator(syncer, nil, log)

	tables := []string{"Customers", "OrderLines", "Missing"}
	report := orchestrator.SyncAll(ctx, tables)
	require.Len(t, report.Tables, 3)
	assert.True(t, report.Tables[0].Success, report.Tables[0].Error)
	assert.Equal(t, int64(3), report.Tables[0].RowsSynced)
	assert.True(t, report.Tables[1].Success, report.Tables[1].Error)
	assert.Equal(t, int64(5), report.Tables[1].RowsSynced)
	assert.False(t, report.Tables[2].Success)
	assert.Equal(t, 1, report.Failed())

	var customers []struct {
		ID      int64    `gorm:"column:id"`
		Name    string   `gorm:"column:name"`
		Balance *float64 `gorm:"column:balance"`
	}
	require.NoError(t, target.Conn.DB.Raw(`SELECT id, name, balance FROM customers ORDER BY id`).Scan(&customers).Error)
	require.Len(t, customers, 3)
	assert.Equal(t, "Budi", customers[1].Name)
	assert.Nil(t, customers[1].Balance)
	require.NotNil(t, customers[2].Balance)
	assert.InDelta(t, 99999.99, *customers[2].Balance, 0.001)

	// Second run against changed source rows overwrites them and adds nothing.
	require.NoError(t, source.Conn.DB.Exec("UPDATE Customers SET Name = 'Ana Maria' WHERE Id = 1").Error)
	second := orchestrator.SyncAll(ctx, tables[:2])
	assert.Equal(t, 0, second.Failed())

	var count int64
	require.NoError(t, target.Conn.DB.Raw(`SELECT COUNT(*) FROM orderlines`).Scan(&count).Error)
	assert.Equal(t, int64(5), count)
	var name string
	require.NoError(t, target.Conn.DB.Raw(`SELECT name FROM customers WHERE id = 1`).Scan(&name).Error)
	assert.Equal(t, "Ana Maria", name)

	statusReport, err := BuildStatusReport(ctx, status)
	require.NoError(t, err)
	assert.Len(t, statusReport.Tables, 3)
	assert.NotNil(t, statusReport.LastSyncTime)
}
