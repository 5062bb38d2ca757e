package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arwahdevops/replisearch/internal/vector"
)

type pgDocumentRow struct {
	ID             int64           `gorm:"column:id;primaryKey;autoIncrement"`
	DocumentID     string          `gorm:"column:document_id"`
	Content        string          `gorm:"column:content"`
	Source         string          `gorm:"column:source"`
	SourceTable    string          `gorm:"column:source_table"`
	SourceRecordID string          `gorm:"column:source_record_id"`
	Metadata       datatypes.JSON  `gorm:"column:metadata"`
	Embedding      pgvector.Vector `gorm:"column:embedding"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

type pgSearchRow struct {
	ID         int64          `gorm:"column:id"`
	DocumentID string         `gorm:"column:document_id"`
	Content    string         `gorm:"column:content"`
	Source     string         `gorm:"column:source"`
	Metadata   datatypes.JSON `gorm:"column:metadata"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	Similarity float64        `gorm:"column:similarity"`
}

// PgVectorStore keeps embeddings in a postgres vector(D) column with an ivfflat cosine index.
type PgVectorStore struct {
	db     *gorm.DB
	table  string
	dims   int
	lists  int
	logger *zap.Logger
}

func NewPgVectorStore(db *gorm.DB, dims int, logger *zap.Logger) *PgVectorStore {
	return &PgVectorStore{db: db, table: DefaultTable, dims: dims, lists: 100, logger: logger.Named("vectorstore")}
}

func (s *PgVectorStore) Dimensions() int { return s.dims }

// EnsureSchema creates the extension, table and indexes if they do not exist.
func (s *PgVectorStore) EnsureSchema(ctx context.Context) error {
	t := pq.QuoteIdentifier(s.table)
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			document_id VARCHAR(255) UNIQUE NOT NULL,
			content TEXT NOT NULL,
			source VARCHAR(500),
			source_table VARCHAR(255),
			source_record_id VARCHAR(255),
			metadata JSONB,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, t, s.dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
			pq.QuoteIdentifier("idx_"+s.table+"_embedding"), t, s.lists),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (document_id)`, pq.QuoteIdentifier("idx_"+s.table+"_document_id"), t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source)`, pq.QuoteIdentifier("idx_"+s.table+"_source"), t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source_table, source_record_id)`, pq.QuoteIdentifier("idx_"+s.table+"_source_ref"), t),
	}
	for _, stmt := range stmts {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure pgvector schema: %w", err)
		}
	}
	s.logger.Info("Vector store schema ready", zap.String("table", s.table), zap.Int("dimensions", s.dims))
	return nil
}

func (s *PgVectorStore) Upsert(ctx context.Context, doc Document) (int64, error) {
	if err := validateDocument(doc); err != nil {
		return 0, err
	}
	if err := vector.CheckDimension(s.dims, doc.Embedding); err != nil {
		return 0, err
	}
	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	row := pgDocumentRow{
		DocumentID:     doc.DocumentID,
		Content:        doc.Content,
		Source:         doc.Source,
		SourceTable:    doc.SourceTable,
		SourceRecordID: doc.SourceRecordID,
		Metadata:       meta,
		Embedding:      pgvector.NewVector(doc.Embedding),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.db.WithContext(ctx).Table(s.table).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"content", "source", "source_table", "source_record_id", "metadata", "embedding", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, fmt.Errorf("upsert document %s: %w", doc.DocumentID, err)
	}
	return row.ID, nil
}

func (s *PgVectorStore) Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error) {
	if topK < 1 {
		return nil, ErrInvalidTopK
	}
	if err := vector.CheckDimension(s.dims, query); err != nil {
		return nil, err
	}

	q := pgvector.NewVector(query)
	var rows []pgSearchRow
	sql := fmt.Sprintf(`SELECT id, document_id, content, source, metadata, created_at,
			1 - (embedding <=> ?) AS similarity
		FROM %s
		ORDER BY embedding <=> ?, id ASC
		LIMIT ?`, pq.QuoteIdentifier(s.table))
	if err := s.db.WithContext(ctx).Raw(sql, q, q, topK).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]SearchResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, SearchResult{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Source:     r.Source,
			Metadata:   decodeMetadata(r.Metadata),
			Similarity: float32(r.Similarity),
			CreatedAt:  r.CreatedAt,
		})
	}
	return results, nil
}

func (s *PgVectorStore) DeleteBySource(ctx context.Context, sourceTable, sourceRecordID string) (bool, error) {
	res := s.db.WithContext(ctx).Table(s.table).
		Where("source_table = ? AND source_record_id = ?", sourceTable, sourceRecordID).
		Delete(&pgDocumentRow{})
	if res.Error != nil {
		return false, fmt.Errorf("delete by source %s/%s: %w", sourceTable, sourceRecordID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *PgVectorStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Table(s.table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}
