package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arwahdevops/replisearch/internal/vector"
)

type blobDocumentRow struct {
	ID             int64          `gorm:"column:id;primaryKey;autoIncrement"`
	DocumentID     string         `gorm:"column:document_id;size:255;not null;uniqueIndex:uq_document_embeddings_document_id"`
	Content        string         `gorm:"column:content;not null"`
	Source         string         `gorm:"column:source;size:500;index:idx_document_embeddings_source"`
	SourceTable    string         `gorm:"column:source_table;size:255;index:idx_document_embeddings_source_ref"`
	SourceRecordID string         `gorm:"column:source_record_id;size:255;index:idx_document_embeddings_source_ref"`
	Metadata       datatypes.JSON `gorm:"column:metadata"`
	Embedding      []byte         `gorm:"column:embedding;not null"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (blobDocumentRow) TableName() string { return DefaultTable }

// SQLiteStore keeps embeddings as float32 blobs and ranks them with a full cosine scan.
// It works on any GORM dialect but is meant for embedded sqlite deployments and tests.
type SQLiteStore struct {
	db     *gorm.DB
	dims   int
	logger *zap.Logger
}

func NewSQLiteStore(db *gorm.DB, dims int, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, dims: dims, logger: logger.Named("vectorstore")}
}

func (s *SQLiteStore) Dimensions() int { return s.dims }

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&blobDocumentRow{}); err != nil {
		return fmt.Errorf("ensure vector table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, doc Document) (int64, error) {
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
	row := blobDocumentRow{
		DocumentID:     doc.DocumentID,
		Content:        doc.Content,
		Source:         doc.Source,
		SourceTable:    doc.SourceTable,
		SourceRecordID: doc.SourceRecordID,
		Metadata:       meta,
		Embedding:      vector.Encode(doc.Embedding),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var id int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "document_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"content", "source", "source_table", "source_record_id", "metadata", "embedding", "updated_at",
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		// LastInsertId is not reliable after an ON CONFLICT update.
		return tx.Model(&blobDocumentRow{}).Select("id").Where("document_id = ?", doc.DocumentID).Scan(&id).Error
	})
	if err != nil {
		return 0, fmt.Errorf("upsert document %s: %w", doc.DocumentID, err)
	}
	return id, nil
}

type scoredRow struct {
	id    int64
	score float32
}

func (s *SQLiteStore) Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error) {
	if topK < 1 {
		return nil, ErrInvalidTopK
	}
	if err := vector.CheckDimension(s.dims, query); err != nil {
		return nil, err
	}
	qm := vector.Magnitude(query)

	var candidates []struct {
		ID        int64
		Embedding []byte
	}
	if err := s.db.WithContext(ctx).Model(&blobDocumentRow{}).Select("id", "embedding").Order("id ASC").Scan(&candidates).Error; err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	scored := make([]scoredRow, 0, len(candidates))
	for _, c := range candidates {
		emb, err := vector.Decode(c.Embedding)
		if err != nil || len(emb) != s.dims {
			s.logger.Warn("Skipping stored embedding with unexpected shape", zap.Int64("id", c.ID), zap.Int("bytes", len(c.Embedding)))
			continue
		}
		scored = append(scored, scoredRow{id: c.ID, score: vector.CosineSimilarityWithMagnitude(query, emb, qm, vector.Magnitude(emb))})
	}
	// candidates are id-ordered, so a stable sort keeps insertion order on ties
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	if len(scored) == 0 {
		return []SearchResult{}, nil
	}

	ids := make([]int64, len(scored))
	for i, sr := range scored {
		ids[i] = sr.id
	}
	var rows []blobDocumentRow
	if err := s.db.WithContext(ctx).Omit("embedding").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load search results: %w", err)
	}
	byID := make(map[int64]blobDocumentRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	results := make([]SearchResult, 0, len(scored))
	for _, sr := range scored {
		r, ok := byID[sr.id]
		if !ok {
			continue // deleted between the scan and the fetch
		}
		results = append(results, SearchResult{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Source:     r.Source,
			Metadata:   decodeMetadata(r.Metadata),
			Similarity: sr.score,
			CreatedAt:  r.CreatedAt,
		})
	}
	return results, nil
}

func (s *SQLiteStore) DeleteBySource(ctx context.Context, sourceTable, sourceRecordID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("source_table = ? AND source_record_id = ?", sourceTable, sourceRecordID).
		Delete(&blobDocumentRow{})
	if res.Error != nil {
		return false, fmt.Errorf("delete by source %s/%s: %w", sourceTable, sourceRecordID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&blobDocumentRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}
