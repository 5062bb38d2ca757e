package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arwahdevops/replisearch/internal/vector"
)

func newTestStore(t *testing.T, dims int) *SQLiteStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := NewSQLiteStore(db, dims, zaptest.NewLogger(t))
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestSQLiteStore_UpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 3)

	docs := []Document{
		{DocumentID: "a", Content: "alpha", Source: "test", Embedding: []float32{1, 0, 0}},
		{DocumentID: "b", Content: "beta", Source: "test", Embedding: []float32{0, 1, 0}},
		{DocumentID: "c", Content: "gamma", Source: "test", Embedding: []float32{0.9, 0.1, 0}, Metadata: map[string]any{"lang": "en"}},
	}
	for _, d := range docs {
		id, err := s.Upsert(ctx, d)
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	results, err := s.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].DocumentID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)

	results, err = s.Search(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{results[0].DocumentID, results[1].DocumentID, results[2].DocumentID})
	assert.Equal(t, "en", results[1].Metadata["lang"])
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestSQLiteStore_TopKLargerThanStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)
	_, err := s.Upsert(ctx, Document{DocumentID: "only", Content: "x", Embedding: []float32{1, 1}})
	require.NoError(t, err)

	results, err := s.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSQLiteStore_EmptyStore(t *testing.T) {
	s := newTestStore(t, 2)
	results, err := s.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteStore_InvalidTopK(t *testing.T) {
	s := newTestStore(t, 2)
	_, err := s.Search(context.Background(), []float32{1, 0}, 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestSQLiteStore_ReupsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)

	id1, err := s.Upsert(ctx, Document{DocumentID: "doc", Content: "old", Embedding: []float32{1, 0}})
	require.NoError(t, err)
	id2, err := s.Upsert(ctx, Document{DocumentID: "doc", Content: "new", Embedding: []float32{0, 1}})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	results, err := s.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)
}

func TestSQLiteStore_DimensionMismatchLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 3)
	_, err := s.Upsert(ctx, Document{DocumentID: "ok", Content: "x", Embedding: []float32{1, 2, 3}})
	require.NoError(t, err)

	_, err = s.Upsert(ctx, Document{DocumentID: "bad", Content: "y", Embedding: []float32{1, 2}})
	var dimErr *vector.DimensionMismatchError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = s.Search(ctx, []float32{1}, 1)
	assert.True(t, errors.As(err, &dimErr))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSQLiteStore_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)
	for _, id := range []string{"first", "second", "third"} {
		_, err := s.Upsert(ctx, Document{DocumentID: id, Content: id, Embedding: []float32{1, 1}})
		require.NoError(t, err)
	}

	results, err := s.Search(ctx, []float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].DocumentID)
	assert.Equal(t, "second", results[1].DocumentID)
	assert.Equal(t, "third", results[2].DocumentID)
}

func TestSQLiteStore_DeleteBySource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)
	for i := 0; i < 3; i++ {
		_, err := s.Upsert(ctx, Document{
			DocumentID:     fmt.Sprintf("manual_chunk_%d", i),
			Content:        "c",
			SourceTable:    "documents",
			SourceRecordID: "manual",
			Embedding:      []float32{1, 0},
		})
		require.NoError(t, err)
	}
	_, err := s.Upsert(ctx, Document{DocumentID: "other", Content: "c", SourceTable: "documents", SourceRecordID: "other", Embedding: []float32{0, 1}})
	require.NoError(t, err)

	deleted, err := s.DeleteBySource(ctx, "documents", "manual")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteBySource(ctx, "documents", "manual")
	require.NoError(t, err)
	assert.False(t, deleted)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSQLiteStore_RejectsEmptyDocumentID(t *testing.T) {
	s := newTestStore(t, 1)
	_, err := s.Upsert(context.Background(), Document{Embedding: []float32{1}})
	assert.Error(t, err)
}
