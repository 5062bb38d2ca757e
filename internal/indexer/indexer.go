// Package indexer chunks text, embeds each chunk and stores it in the vector store.
package indexer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/embedding"
	"github.com/arwahdevops/replisearch/internal/metrics"
	"github.com/arwahdevops/replisearch/internal/vector"
	"github.com/arwahdevops/replisearch/internal/vectorstore"
)

// DocumentsSourceTable tags chunks of free-form documents so they can be swept by document id.
const DocumentsSourceTable = "documents"

// IndexResult reports what happened to every chunk of one document.
type IndexResult struct {
	DocumentID string   `json:"documentId"`
	Chunks     int      `json:"chunks"`
	Indexed    int      `json:"indexed"`
	Failed     int      `json:"failed"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors,omitempty"`

	// Err aggregates the per-chunk errors.
	Err error `json:"-"`
}

func (r *IndexResult) addFailure(err error) {
	r.Failed++
	r.Err = multierr.Append(r.Err, err)
}

func (r *IndexResult) finish() {
	r.Success = r.Chunks == 0 || r.Indexed > 0
	for _, err := range multierr.Errors(r.Err) {
		r.Errors = append(r.Errors, err.Error())
	}
}

// Indexer turns documents and database records into stored embeddings.
type Indexer struct {
	provider  embedding.Provider
	store     vectorstore.Store
	chunkSize int
	metrics   *metrics.Store
	logger    *zap.Logger
}

func New(provider embedding.Provider, store vectorstore.Store, chunkSize int, metricsStore *metrics.Store, logger *zap.Logger) *Indexer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if metricsStore == nil {
		metricsStore = metrics.NewMetricsStore()
	}
	return &Indexer{
		provider:  provider,
		store:     store,
		chunkSize: chunkSize,
		metrics:   metricsStore,
		logger:    logger.Named("indexer"),
	}
}

// ChunkID is the document id of the i-th chunk of a document.
func ChunkID(documentID string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, i)
}

// IndexDocument removes every chunk previously stored for documentID, then
// chunks, embeds and stores content. A chunk whose embedding or write fails is
// skipped and reported; the remaining chunks are still indexed. The returned
// error is reserved for failures that affect the whole document.
func (ix *Indexer) IndexDocument(ctx context.Context, documentID, content, source string, metadata map[string]any) (IndexResult, error) {
	result := IndexResult{DocumentID: documentID}
	if strings.TrimSpace(documentID) == "" {
		return result, fmt.Errorf("document id is required")
	}
	log := ix.logger.With(zap.String("document_id", documentID), zap.String("source", source))

	if _, err := ix.store.DeleteBySource(ctx, DocumentsSourceTable, documentID); err != nil {
		return result, fmt.Errorf("remove previous chunks of %s: %w", documentID, err)
	}

	chunks := SplitIntoChunks(content, ix.chunkSize)
	result.Chunks = len(chunks)
	if len(chunks) == 0 {
		log.Info("Document has no text to index")
		result.finish()
		return result, nil
	}

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(chunks); j++ {
				result.addFailure(fmt.Errorf("chunk %d: %w", j, err))
				ix.metrics.ChunksTotal.WithLabelValues("failed").Inc()
			}
			break
		}

		meta := make(map[string]any, len(metadata)+2)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["chunk_index"] = i
		meta["total_chunks"] = len(chunks)

		doc := vectorstore.Document{
			DocumentID:     ChunkID(documentID, i),
			Content:        chunk,
			Source:         source,
			SourceTable:    DocumentsSourceTable,
			SourceRecordID: documentID,
			Metadata:       meta,
		}
		if err := ix.embedAndStore(ctx, &doc); err != nil {
			log.Warn("Skipping chunk", zap.Int("chunk_index", i), zap.Error(err))
			result.addFailure(fmt.Errorf("chunk %d: %w", i, err))
			ix.metrics.ChunksTotal.WithLabelValues("failed").Inc()
			continue
		}
		result.Indexed++
		ix.metrics.ChunksTotal.WithLabelValues("indexed").Inc()
	}

	result.finish()
	log.Info("Document indexed",
		zap.Int("chunks", result.Chunks),
		zap.Int("indexed", result.Indexed),
		zap.Int("failed", result.Failed))
	return result, nil
}

// IndexRecord stores one database row as a single document with id
// "{table}_{recordID}", replacing whatever was stored for that row before.
func (ix *Indexer) IndexRecord(ctx context.Context, table, recordID string, row map[string]any) error {
	if table == "" || recordID == "" {
		return fmt.Errorf("table and record id are required")
	}
	if _, err := ix.store.DeleteBySource(ctx, table, recordID); err != nil {
		return fmt.Errorf("remove previous embedding of %s:%s: %w", table, recordID, err)
	}

	doc := vectorstore.Document{
		DocumentID:     fmt.Sprintf("%s_%s", table, recordID),
		Content:        RecordContent(row),
		Source:         "database:" + table,
		SourceTable:    table,
		SourceRecordID: recordID,
		Metadata:       row,
	}
	if err := ix.embedAndStore(ctx, &doc); err != nil {
		ix.metrics.ChunksTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("index record %s:%s: %w", table, recordID, err)
	}
	ix.metrics.ChunksTotal.WithLabelValues("indexed").Inc()
	return nil
}

// RecordContent renders a row as "key: value" lines sorted by key.
func RecordContent(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('\n')
		}
		v := row[k]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if v == nil {
			v = ""
		}
		fmt.Fprintf(&sb, "%s: %v", k, v)
	}
	return sb.String()
}

func (ix *Indexer) embedAndStore(ctx context.Context, doc *vectorstore.Document) error {
	emb, err := ix.provider.Embed(ctx, doc.Content)
	if err != nil {
		return err
	}
	if err := vector.CheckDimension(ix.store.Dimensions(), emb); err != nil {
		return err
	}
	doc.Embedding = emb
	_, err = ix.store.Upsert(ctx, *doc)
	return err
}
