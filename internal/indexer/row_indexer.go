package indexer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/db"
	tablesync "github.com/arwahdevops/replisearch/internal/sync"
	"github.com/arwahdevops/replisearch/internal/utils"
)

const defaultRowIndexBatchSize = 200

// RowIndexerOptions selects the tables whose synced rows are embedded.
type RowIndexerOptions struct {
	Tables    []string
	BatchSize int
	// TargetName maps a source table name to its name on the target; identity when nil.
	TargetName func(string) string
}

// RowIndexer embeds every row of selected target tables after they are synced.
// It is registered as a table observer on the sync orchestrator.
type RowIndexer struct {
	conn         *db.Connector
	introspector tablesync.SchemaIntrospector
	indexer      *Indexer
	tables       map[string]bool
	batchSize    int
	targetName   func(string) string
	logger       *zap.Logger
}

func NewRowIndexer(targetConn *db.Connector, ix *Indexer, opts RowIndexerOptions, logger *zap.Logger) *RowIndexer {
	tables := make(map[string]bool, len(opts.Tables))
	for _, t := range opts.Tables {
		tables[t] = true
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultRowIndexBatchSize
	}
	if opts.TargetName == nil {
		opts.TargetName = func(s string) string { return s }
	}
	log := logger.Named("row-indexer")
	return &RowIndexer{
		conn:         targetConn,
		introspector: tablesync.NewCatalogIntrospector(targetConn, log),
		indexer:      ix,
		tables:       tables,
		batchSize:    opts.BatchSize,
		targetName:   opts.TargetName,
		logger:       log,
	}
}

// TableSynced indexes the table when it is one of the configured tables.
func (r *RowIndexer) TableSynced(ctx context.Context, outcome tablesync.TableSyncOutcome) {
	if !r.tables[outcome.Table] {
		return
	}
	log := r.logger.With(zap.String("table", outcome.Table))
	indexed, err := r.IndexTable(ctx, outcome.Table)
	if err != nil {
		log.Error("Row indexing finished with errors", zap.Int("indexed", indexed), zap.Error(err))
		return
	}
	log.Info("Row indexing finished", zap.Int("indexed", indexed))
}

// IndexTable streams the target copy of table in primary-key order and indexes
// each row under "{table}_{pk}". Composite keys are joined with '-'. Rows that
// fail to index are skipped; the error reports how many.
func (r *RowIndexer) IndexTable(ctx context.Context, table string) (int, error) {
	target := r.targetName(table)
	cols, err := r.introspector.GetSchema(ctx, target)
	if err != nil {
		return 0, err
	}
	var pks []string
	for _, c := range cols {
		if c.IsPrimary {
			pks = append(pks, c.Name)
		}
	}
	if len(pks) == 0 {
		return 0, fmt.Errorf("table '%s' has no primary key to identify rows", target)
	}
	orderBy := strings.Join(utils.QuoteIdentifiers(pks, r.conn.Dialect), ", ")

	var (
		indexed, failed int
		firstErr        error
	)
	for offset := 0; ; offset += r.batchSize {
		if err := ctx.Err(); err != nil {
			return indexed, fmt.Errorf("row indexing of '%s' interrupted: %w", target, err)
		}
		var page []map[string]interface{}
		if err := r.conn.DB.WithContext(ctx).Table(target).Order(orderBy).
			Limit(r.batchSize).Offset(offset).Find(&page).Error; err != nil {
			return indexed, fmt.Errorf("read rows of '%s': %w", target, err)
		}

		for _, row := range page {
			if err := r.indexer.IndexRecord(ctx, table, recordID(row, pks), row); err != nil {
				failed++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			indexed++
		}
		if len(page) < r.batchSize {
			break
		}
	}

	if failed > 0 {
		return indexed, fmt.Errorf("%d rows of '%s' failed to index: %w", failed, target, firstErr)
	}
	return indexed, nil
}

func recordID(row map[string]interface{}, pks []string) string {
	parts := make([]string, len(pks))
	for i, pk := range pks {
		v := row[pk]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "-")
}
