// Package vectorstore persists embedded documents and answers nearest-neighbor queries.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// DefaultTable is the table both backends write to.
const DefaultTable = "document_embeddings"

// ErrInvalidTopK is returned by Search when topK < 1.
var ErrInvalidTopK = errors.New("topK must be at least 1")

// Document is one embedded unit of text. DocumentID is caller-assigned and unique.
type Document struct {
	DocumentID     string
	Content        string
	Source         string
	SourceTable    string
	SourceRecordID string
	Metadata       map[string]any
	Embedding      []float32
}

// SearchResult is a stored document ranked by similarity to a query vector.
type SearchResult struct {
	ID         int64          `json:"id"`
	DocumentID string         `json:"documentId"`
	Content    string         `json:"content"`
	Source     string         `json:"source"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Similarity float32        `json:"similarity"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Store is implemented by every vector backend.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// Upsert inserts or fully replaces the record with the same DocumentID and returns its row id.
	Upsert(ctx context.Context, doc Document) (int64, error)
	// Search returns at most topK documents, most similar first, ties in insertion order.
	Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error)
	// DeleteBySource removes every record tagged with the given source table and record id.
	DeleteBySource(ctx context.Context, sourceTable, sourceRecordID string) (bool, error)
	Count(ctx context.Context) (int64, error)
	Dimensions() int
}

func encodeMetadata(m map[string]any) (datatypes.JSON, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodeMetadata(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func validateDocument(doc Document) error {
	if doc.DocumentID == "" {
		return fmt.Errorf("document id is required")
	}
	return nil
}
