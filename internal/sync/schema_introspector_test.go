package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/replisearch/internal/db"
)

func TestCatalogIntrospector_SQLite(t *testing.T) {
	conn := newSQLiteConn(t)
	require.NoError(t, conn.DB.Exec(`CREATE TABLE "OrderLines" (
		"OrderId" INTEGER NOT NULL,
		"LineNo" INTEGER NOT NULL,
		"Sku" VARCHAR(40) NOT NULL,
		"Note" TEXT,
		PRIMARY KEY ("OrderId", "LineNo")
	)`).Error)

	cols, err := NewCatalogIntrospector(conn, zaptest.NewLogger(t)).GetSchema(context.Background(), "OrderLines")
	require.NoError(t, err)
	require.Len(t, cols, 4)

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
		assert.Equal(t, i+1, c.Ordinal)
	}
	assert.Equal(t, []string{"OrderId", "LineNo", "Sku", "Note"}, names)
	assert.Equal(t, "VARCHAR(40)", cols[2].SourceType)
	assert.False(t, cols[2].Nullable)
	assert.True(t, cols[3].Nullable)
	assert.Equal(t, []string{"OrderId", "LineNo"}, primaryKeyColumns(cols))
}

func TestCatalogIntrospector_MissingTable(t *testing.T) {
	conn := newSQLiteConn(t)
	_, err := NewCatalogIntrospector(conn, zaptest.NewLogger(t)).GetSchema(context.Background(), "nope")

	var notFound *SchemaNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "nope", notFound.Table)
}

func TestCatalogIntrospector_QueryFailureIsConnectionError(t *testing.T) {
	conn := newSQLiteConn(t)
	sqlDB, err := conn.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = NewCatalogIntrospector(conn, zaptest.NewLogger(t)).GetSchema(context.Background(), "anything")
	var connErr *ConnectionError
	assert.True(t, errors.As(err, &connErr))
}

func TestCatalogIntrospector_UnsupportedDialect(t *testing.T) {
	conn := newSQLiteConn(t)
	_, err := NewCatalogIntrospector(db.Wrap(conn.DB, "oracle"), zaptest.NewLogger(t)).GetSchema(context.Background(), "t")
	assert.ErrorContains(t, err, "unsupported source dialect")
}
