package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/metrics"
)

// Orchestrator runs a list of tables one after another. A failing table is
// recorded in the report and never stops the remaining tables.
type Orchestrator struct {
	syncer    TableSyncer
	metrics   *metrics.Store
	logger    *zap.Logger
	observers []TableObserver
	now       func() time.Time
}

func NewOrchestrator(syncer TableSyncer, metricsStore *metrics.Store, logger *zap.Logger) *Orchestrator {
	if metricsStore == nil {
		metricsStore = metrics.NewMetricsStore()
	}
	return &Orchestrator{
		syncer:  syncer,
		metrics: metricsStore,
		logger:  logger.Named("orchestrator"),
		now:     time.Now,
	}
}

// AddObserver registers a callback for successfully synced tables.
// Call it before the first run; it is not synchronized.
func (o *Orchestrator) AddObserver(obs TableObserver) {
	o.observers = append(o.observers, obs)
}

// SyncAll is Run with a manual trigger.
func (o *Orchestrator) SyncAll(ctx context.Context, tables []string) SyncRunReport {
	return o.Run(ctx, tables, TriggerManual)
}

// Run syncs tables in the given order and reports on every one of them.
// Tables not started because ctx ended are reported failed with ctx's error.
func (o *Orchestrator) Run(ctx context.Context, tables []string, trigger Trigger) SyncRunReport {
	report := SyncRunReport{
		RunID:     uuid.New(),
		StartedAt: o.now().UTC(),
		Trigger:   trigger,
		Tables:    make([]TableResult, 0, len(tables)),
	}
	log := o.logger.With(zap.String("run_id", report.RunID.String()), zap.String("trigger", string(trigger)))
	log.Info("Starting synchronization run", zap.Int("table_count", len(tables)), zap.Strings("tables", tables))

	startTime := time.Now()
	o.metrics.SyncRunning.Set(1)
	defer o.metrics.SyncRunning.Set(0)

	for i, table := range tables {
		if err := ctx.Err(); err != nil {
			log.Warn("Run cancelled; remaining tables not started.", zap.Error(err), zap.Strings("skipped_tables", tables[i:]))
			for _, skipped := range tables[i:] {
				o.metrics.SyncErrorsTotal.WithLabelValues("cancelled", skipped).Inc()
				report.Tables = append(report.Tables, TableResult{
					TableName: skipped,
					Error:     fmt.Sprintf("not started: %v", err),
				})
			}
			break
		}

		outcome := o.SyncTable(ctx, table)
		report.Tables = append(report.Tables, outcome.Result())
	}

	report.FinishedAt = o.now().UTC()
	o.metrics.SyncDuration.Observe(time.Since(startTime).Seconds())
	log.Info("Synchronization run finished",
		zap.Duration("total_duration", time.Since(startTime)),
		zap.Int("tables", len(report.Tables)),
		zap.Int("failed", report.Failed()),
		zap.Int64("rows_synced", report.TotalRows()))
	return report
}

// SyncTable runs a single table and notifies observers on success.
func (o *Orchestrator) SyncTable(ctx context.Context, table string) TableSyncOutcome {
	outcome := o.syncer.SyncTable(ctx, table)
	if outcome.Succeeded() {
		for _, obs := range o.observers {
			obs.TableSynced(ctx, outcome)
		}
	}
	return outcome
}
