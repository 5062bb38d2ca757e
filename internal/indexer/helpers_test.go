package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arwahdevops/replisearch/internal/metrics"
	"github.com/arwahdevops/replisearch/internal/vectorstore"
)

type mockProvider struct {
	mock.Mock
	dims int
}

func (m *mockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	v, _ := args.Get(0).([]float32)
	return v, args.Error(1)
}

func (m *mockProvider) Dimensions() int { return m.dims }

func newMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}

type indexHarness struct {
	provider *mockProvider
	store    *vectorstore.SQLiteStore
	metrics  *metrics.Store
	indexer  *Indexer
	db       *gorm.DB
}

func newIndexHarness(t *testing.T, chunkSize int) *indexHarness {
	t.Helper()
	gdb := newMemoryDB(t)
	store := vectorstore.NewSQLiteStore(gdb, 3, zaptest.NewLogger(t))
	require.NoError(t, store.EnsureSchema(context.Background()))

	h := &indexHarness{
		provider: &mockProvider{dims: 3},
		store:    store,
		metrics:  metrics.NewMetricsStore(),
		db:       gdb,
	}
	h.indexer = New(h.provider, store, chunkSize, h.metrics, zaptest.NewLogger(t))
	return h
}

func (h *indexHarness) count(t *testing.T) int64 {
	t.Helper()
	n, err := h.store.Count(context.Background())
	require.NoError(t, err)
	return n
}
