package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arwahdevops/replisearch/internal/config"
	"github.com/arwahdevops/replisearch/internal/db"
	"github.com/arwahdevops/replisearch/internal/metrics"
	"github.com/arwahdevops/replisearch/internal/utils"
)

const statusRecordTimeout = 15 * time.Second

// TableSyncOptions are the per-run knobs of the synchronizer.
type TableSyncOptions struct {
	BatchSize            int
	ConflictPolicy       config.ConflictPolicy
	BatchMaxRetries      int
	RetryInterval        time.Duration
	TableTimeout         time.Duration
	LowercaseIdentifiers bool
}

func TableSyncOptionsFrom(cfg *config.Config) TableSyncOptions {
	return TableSyncOptions{
		BatchSize:            cfg.BatchSize,
		ConflictPolicy:       cfg.ConflictPolicy,
		BatchMaxRetries:      cfg.BatchMaxRetries,
		RetryInterval:        cfg.RetryInterval,
		TableTimeout:         cfg.TableTimeout,
		LowercaseIdentifiers: cfg.TargetLowercaseIdents,
	}
}

// TableSynchronizer copies one table: introspect, create-if-absent, then
// paged upserts into the target.
type TableSynchronizer struct {
	srcConn      *db.Connector
	dstConn      *db.Connector
	introspector SchemaIntrospector
	mapper       *TypeMapper
	status       StatusStore
	opts         TableSyncOptions
	metrics      *metrics.Store
	logger       *zap.Logger
	now          func() time.Time
}

var _ TableSyncer = (*TableSynchronizer)(nil)

func NewTableSynchronizer(srcConn, dstConn *db.Connector, introspector SchemaIntrospector, status StatusStore,
	opts TableSyncOptions, metricsStore *metrics.Store, logger *zap.Logger) *TableSynchronizer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = config.ConflictDoNothing
	}
	if metricsStore == nil {
		metricsStore = metrics.NewMetricsStore()
	}
	return &TableSynchronizer{
		srcConn:      srcConn,
		dstConn:      dstConn,
		introspector: introspector,
		mapper:       NewTypeMapper(srcConn.Dialect, dstConn.Dialect),
		status:       status,
		opts:         opts,
		metrics:      metricsStore,
		logger:       logger.Named("table-sync"),
		now:          time.Now,
	}
}

// TargetTableName is the name the table gets on the target side.
func (t *TableSynchronizer) TargetTableName(table string) string {
	return targetIdentifier(table, t.opts.LowercaseIdentifiers)
}

// SyncTable runs one table to completion or first fatal error. The outcome is
// always recorded in the status store, also when ctx has been cancelled.
func (t *TableSynchronizer) SyncTable(ctx context.Context, table string) (outcome TableSyncOutcome) {
	startTime := time.Now()
	log := t.logger.With(zap.String("table", table))
	outcome = TableSyncOutcome{Table: table, Status: StatusFailed}

	if t.opts.TableTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.TableTimeout)
		defer cancel()
	}

	defer func() {
		outcome.Duration = time.Since(startTime)
		metricStatus := "completed"
		if outcome.Err != nil {
			outcome.Status = StatusFailed
			metricStatus = "failed"
			t.metrics.SyncErrorsTotal.WithLabelValues(errorKind(outcome.Err), table).Inc()
			log.Error("Table sync failed",
				zap.Error(outcome.Err),
				zap.Int64("rows_synced", outcome.RowsSynced),
				zap.Int("batches", outcome.Batches),
				zap.Duration("duration", outcome.Duration))
		} else {
			outcome.Status = StatusCompleted
			log.Info("Table sync completed",
				zap.Int64("rows_synced", outcome.RowsSynced),
				zap.Int("batches", outcome.Batches),
				zap.Duration("duration", outcome.Duration))
		}
		t.metrics.TableSyncDuration.WithLabelValues(table).Observe(outcome.Duration.Seconds())
		t.metrics.TableSyncTotal.WithLabelValues(table, metricStatus).Inc()
		t.recordStatus(ctx, outcome, log)
	}()

	log.Info("Starting table sync",
		zap.Int("batch_size", t.opts.BatchSize),
		zap.String("conflict_policy", string(t.opts.ConflictPolicy)))
	outcome.RowsSynced, outcome.Batches, outcome.Err = t.run(ctx, table, log)
	return outcome
}

func (t *TableSynchronizer) recordStatus(ctx context.Context, outcome TableSyncOutcome, log *zap.Logger) {
	if t.status == nil {
		return
	}
	// Detached so a cancelled run still leaves a Failed row behind.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusRecordTimeout)
	defer cancel()

	state := TableSyncState{
		Table:        outcome.Table,
		LastSyncTime: t.now().UTC(),
		RowCount:     outcome.RowsSynced,
		Status:       outcome.Status,
	}
	if outcome.Err != nil {
		state.ErrorMessage = outcome.Err.Error()
	}
	if err := t.status.Record(recordCtx, state); err != nil {
		t.metrics.SyncErrorsTotal.WithLabelValues("status_record", outcome.Table).Inc()
		log.Error("Failed to record table sync status", zap.Error(err))
	}
}

func (t *TableSynchronizer) run(ctx context.Context, table string, log *zap.Logger) (int64, int, error) {
	cols, err := t.introspector.GetSchema(ctx, table)
	if err != nil {
		return 0, 0, err
	}

	plan, err := buildTablePlan(t.mapper, t.dstConn.Dialect, table, cols, t.opts.LowercaseIdentifiers, log)
	if err != nil {
		return 0, 0, err
	}
	log.Debug("Ensuring target table exists", zap.String("target_table", plan.TargetTable), zap.String("ddl", plan.DDL))
	if err := t.dstConn.DB.WithContext(ctx).Exec(plan.DDL).Error; err != nil {
		return 0, 0, &DDLError{Table: plan.TargetTable, DDL: plan.DDL, Err: err}
	}

	var totalRows int64
	if err := t.srcConn.DB.WithContext(ctx).Table(table).Count(&totalRows).Error; err != nil {
		if ctx.Err() != nil {
			return 0, 0, ctx.Err()
		}
		return 0, 0, &ConnectionError{Op: fmt.Sprintf("count rows of '%s'", table), Err: err}
	}
	log.Info("Source row count", zap.Int64("total_src_rows", totalRows), zap.String("target_table", plan.TargetTable))
	if totalRows == 0 {
		log.Info("Source table is empty, nothing to transfer.")
		return 0, 0, nil
	}

	return t.transfer(ctx, plan, totalRows, log)
}

// transfer pages through the source and writes each page as one transaction.
// Paging is keyset on the primary key, or OFFSET on the first column when the
// table has none.
func (t *TableSynchronizer) transfer(ctx context.Context, plan *tablePlan, totalRows int64, log *zap.Logger) (int64, int, error) {
	srcDialect := t.srcConn.Dialect
	keyset := len(plan.SourcePKs) > 0

	orderCols := plan.SourcePKs
	if !keyset {
		orderCols = []string{plan.Columns[0].Source.Name}
		log.Warn("Source table has no primary key; paging with OFFSET ordered by the first column. Rows changing during the sync may be skipped or repeated.",
			zap.String("order_column", orderCols[0]))
	}
	quotedOrderCols := utils.QuoteIdentifiers(orderCols, srcDialect)
	orderBy := buildPaginationOrderBy(quotedOrderCols)

	normalizer := newRowNormalizer(srcDialect, plan.Columns)
	conflict := t.conflictClause(plan, log)

	var (
		rowsSynced int64
		rowsRead   int64
		batches    int
		offset     int
		lastKey    []interface{}
	)
	batchSize := t.opts.BatchSize
	progressLogThreshold := 100

	for {
		if err := ctx.Err(); err != nil {
			log.Warn("Context cancelled or timed out between batches.", zap.Error(err))
			return rowsSynced, batches, err
		}

		query := t.srcConn.DB.WithContext(ctx).Table(plan.SourceTable)
		if keyset {
			if lastKey != nil {
				where, args, err := buildWhereClause(quotedOrderCols, lastKey, srcDialect)
				if err != nil {
					return rowsSynced, batches, fmt.Errorf("failed to build pagination WHERE clause for table '%s': %w", plan.SourceTable, err)
				}
				query = query.Where(where, args...)
			}
		} else if offset > 0 {
			query = query.Offset(offset)
		}
		query = query.Order(orderBy).Limit(batchSize)

		var page []map[string]interface{}
		fetchStart := time.Now()
		if err := query.Find(&page).Error; err != nil {
			if ctx.Err() != nil {
				return rowsSynced, batches, ctx.Err()
			}
			return rowsSynced, batches, &ConnectionError{Op: fmt.Sprintf("fetch batch %d of '%s'", batches+1, plan.SourceTable), Err: err}
		}
		log.Debug("Fetched batch from source", zap.Int("rows_in_batch", len(page)), zap.Duration("fetch_duration", time.Since(fetchStart)))
		if len(page) == 0 {
			break
		}
		rowsRead += int64(len(page))

		if err := t.writeBatch(ctx, plan.TargetTable, batches+1, normalizer.normalizeBatch(page), conflict, log); err != nil {
			return rowsSynced, batches, err
		}
		batches++
		rowsSynced += int64(len(page))
		t.metrics.RowsSyncedTotal.WithLabelValues(plan.SourceTable).Add(float64(len(page)))

		if len(page) < batchSize || rowsRead >= totalRows {
			break
		}

		if keyset {
			last := page[len(page)-1]
			lastKey = make([]interface{}, len(orderCols))
			for i, col := range orderCols {
				val, ok := last[col]
				if !ok {
					return rowsSynced, batches, fmt.Errorf("source PK column '%s' missing in fetched data for table '%s'", col, plan.SourceTable)
				}
				lastKey[i] = val
			}
		} else {
			offset += len(page)
		}

		if batches%progressLogThreshold == 0 {
			log.Info("Data sync in progress...",
				zap.Int("batch_num", batches),
				zap.Int64("rows_synced_so_far", rowsSynced),
				zap.Float64("progress_pct", float64(rowsSynced)/float64(totalRows)*100))
		}
	}

	if rowsSynced != totalRows {
		log.Warn("Transferred row count differs from the pre-count; source changed during sync.",
			zap.Int64("pre_count", totalRows), zap.Int64("transferred", rowsSynced))
	}
	return rowsSynced, batches, nil
}

func (t *TableSynchronizer) conflictClause(plan *tablePlan, log *zap.Logger) clause.OnConflict {
	if len(plan.TargetPKs) == 0 {
		log.Warn("Target table has no primary key; re-running the sync can duplicate rows.")
		return clause.OnConflict{DoNothing: true}
	}

	conflictCols := make([]clause.Column, len(plan.TargetPKs))
	isPK := make(map[string]bool, len(plan.TargetPKs))
	for i, pk := range plan.TargetPKs {
		conflictCols[i] = clause.Column{Name: pk}
		isPK[pk] = true
	}

	if t.opts.ConflictPolicy == config.ConflictUpdate {
		var updateCols []string
		for _, c := range plan.Columns {
			if !isPK[c.Name] {
				updateCols = append(updateCols, c.Name)
			}
		}
		if len(updateCols) > 0 {
			return clause.OnConflict{Columns: conflictCols, DoUpdates: clause.AssignmentColumns(updateCols)}
		}
	}
	return clause.OnConflict{Columns: conflictCols, DoNothing: true}
}

// writeBatch upserts one page inside a transaction, retrying up to BatchMaxRetries times.
func (t *TableSynchronizer) writeBatch(ctx context.Context, table string, batchNo int, batch []map[string]interface{}, conflict clause.OnConflict, log *zap.Logger) error {
	if len(batch) == 0 {
		return nil
	}
	log = log.With(zap.Int("batch", batchNo), zap.Int("batch_size", len(batch)))

	var lastErr error
	startTime := time.Now()
	metricStatus := "failure"
	defer func() {
		t.metrics.BatchProcessingDuration.WithLabelValues(table, metricStatus).Observe(time.Since(startTime).Seconds())
		if strings.HasPrefix(metricStatus, "success") {
			t.metrics.BatchesProcessedTotal.WithLabelValues(table).Inc()
		} else if metricStatus != "failure_context_cancelled" {
			t.metrics.BatchErrorsTotal.WithLabelValues(table).Inc()
		}
	}()

	for attempt := 0; attempt <= t.opts.BatchMaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn("Retrying batch upsert.", zap.Int("attempt", attempt+1), zap.NamedError("previous_error", lastErr))
			timer := time.NewTimer(t.opts.RetryInterval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				metricStatus = "failure_context_cancelled"
				return &UpsertConflictError{Table: table, Batch: batchNo, Err: errors.Join(ctx.Err(), lastErr)}
			}
		}

		txErr := t.dstConn.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Table(table).Clauses(conflict).CreateInBatches(batch, len(batch)).Error
		})
		if txErr == nil {
			metricStatus = "success"
			if attempt > 0 {
				metricStatus = "success_retry"
			}
			return nil
		}
		lastErr = txErr

		if ctx.Err() != nil {
			metricStatus = "failure_context_cancelled"
			return &UpsertConflictError{Table: table, Batch: batchNo, Err: errors.Join(ctx.Err(), lastErr)}
		}
		log.Warn("Batch upsert attempt failed.", zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}

	log.Error("Batch upsert failed after all retries.", zap.NamedError("final_error", lastErr))
	return &UpsertConflictError{Table: table, Batch: batchNo, Err: lastErr}
}

// buildPaginationOrderBy renders ORDER BY for the (already quoted) key columns.
func buildPaginationOrderBy(quotedCols []string) string {
	parts := make([]string, len(quotedCols))
	for i, c := range quotedCols {
		parts[i] = c + " ASC"
	}
	return strings.Join(parts, ", ")
}

// buildWhereClause builds the seek predicate for keyset pagination.
// quotedPKs and lastValues must follow the ORDER BY column order.
func buildWhereClause(quotedPKs []string, lastValues []interface{}, dialect string) (string, []interface{}, error) {
	numPKs := len(quotedPKs)
	if numPKs == 0 {
		return "1=1", []interface{}{}, nil
	}
	if numPKs != len(lastValues) {
		return "", nil, fmt.Errorf("mismatch between number of PK columns (%d) and PK values (%d)", numPKs, len(lastValues))
	}
	if numPKs == 1 {
		return fmt.Sprintf("%s > ?", quotedPKs[0]), lastValues, nil
	}

	// SQLite and SQL Server have no row-value comparison:
	// (pk1 > v1) OR (pk1 = v1 AND pk2 > v2) OR ...
	if dialect == "sqlite" || dialect == "sqlserver" {
		var conditions []string
		var args []interface{}
		for i := 0; i < numPKs; i++ {
			var level []string
			for j := 0; j < i; j++ {
				level = append(level, fmt.Sprintf("%s = ?", quotedPKs[j]))
				args = append(args, lastValues[j])
			}
			level = append(level, fmt.Sprintf("%s > ?", quotedPKs[i]))
			args = append(args, lastValues[i])
			conditions = append(conditions, "("+strings.Join(level, " AND ")+")")
		}
		return strings.Join(conditions, " OR "), args, nil
	}

	placeholders := make([]string, numPKs)
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("(%s) > (%s)", strings.Join(quotedPKs, ", "), strings.Join(placeholders, ", ")), lastValues, nil
}
