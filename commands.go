package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/db"
	"github.com/arwahdevops/replisearch/internal/indexer"
	"github.com/arwahdevops/replisearch/internal/logger"
	"github.com/arwahdevops/replisearch/internal/server"
	tablesync "github.com/arwahdevops/replisearch/internal/sync"
)

const poolStatsInterval = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the ops server and the periodic sync and PDF loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, true)
			if err != nil {
				logger.Log.Error("Startup failed", zap.Error(err))
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	log := logger.Log
	conns := a.connections()

	checks := make([]server.ReadinessCheck, 0, len(conns))
	for _, alias := range []string{"source", "destination", "vector"} {
		if c, ok := conns[alias]; ok {
			checks = append(checks, server.ReadinessCheck{Name: alias, Pinger: c})
		}
	}

	var wg sync.WaitGroup
	goRun := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	opsHandler := server.NewOpsHandler(server.OpsOptions{Port: a.cfg.MetricsPort, EnablePprof: a.cfg.EnablePprof}, a.metrics, checks, log)
	goRun(func() { server.Run(ctx, "ops-server", a.cfg.MetricsPort, opsHandler, 10*time.Second, log) })

	// Sync and PDF endpoints block until the run ends.
	goRun(func() { server.Run(ctx, "api-server", a.cfg.APIPort, server.NewAPIRouter(a.engine, log), 0, log) })

	goRun(func() { db.ReportPoolStats(ctx, a.metrics, poolStatsInterval, conns) })
	goRun(func() { a.scheduler.Run(ctx) })
	if a.cfg.PDFSyncEnabled && a.cfg.PDFFolder != "" {
		goRun(func() { a.engine.RunPDFSync(ctx, a.cfg.SyncWarmupDelay, a.cfg.PDFSyncInterval, tablesync.RealClock()) })
	} else if a.cfg.PDFSyncEnabled {
		log.Warn("PDF_SYNC_ENABLED is set but PDF_FOLDER is empty; periodic PDF ingestion disabled.")
	}

	a.metrics.Up.Set(1)
	log.Info("Service started", zap.Int("api_port", a.cfg.APIPort), zap.Int("metrics_port", a.cfg.MetricsPort))

	<-ctx.Done()
	a.metrics.Up.Set(0)
	log.Info("Shutdown signal received, waiting for background tasks...")
	wg.Wait()
	log.Info("Shutdown complete.")
	return nil
}

func newSyncCmd() *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization pass over the configured tables and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, true)
			if err != nil {
				logger.Log.Error("Startup failed", zap.Error(err))
				return err
			}
			defer a.Close()

			var report tablesync.SyncRunReport
			if table != "" {
				outcome, err := a.engine.TriggerSyncTable(ctx, table)
				if err != nil {
					return err
				}
				report = tablesync.SyncRunReport{Trigger: tablesync.TriggerManual, Tables: []tablesync.TableResult{outcome.Result()}}
			} else if report, err = a.engine.TriggerSyncAll(ctx); err != nil {
				return err
			}
			return processReport(ctx, report)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "Synchronize only this table")
	return cmd
}

// processReport logs a run summary and maps it to an exit code:
// 0 all tables synced, 1 any table failed, 2 the run was interrupted.
func processReport(ctx context.Context, report tablesync.SyncRunReport) error {
	log := logger.Log
	failed := report.Failed()
	for _, t := range report.Tables {
		if t.Success {
			log.Info("Table synchronized", zap.String("table", t.TableName), zap.Int64("rows_synced", t.RowsSynced))
		} else {
			log.Error("Table synchronization failed", zap.String("table", t.TableName), zap.Int64("rows_synced", t.RowsSynced), zap.String("error", t.Error))
		}
	}
	log.Info("Synchronization summary",
		zap.Int("tables_total", len(report.Tables)),
		zap.Int("tables_failed", failed),
		zap.Int64("rows_total", report.TotalRows()))

	switch {
	case ctx.Err() != nil:
		return &exitError{code: 2, msg: fmt.Sprintf("synchronization interrupted: %v", ctx.Err())}
	case failed > 0:
		return &exitError{code: 1, msg: fmt.Sprintf("%d of %d tables failed", failed, len(report.Tables))}
	}
	return nil
}

func newIndexPDFCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index-pdf [folder]",
		Short: "Index every PDF under a folder (defaults to PDF_FOLDER)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := cfg.PDFFolder
			if len(args) == 1 {
				folder = args[0]
			}
			if folder == "" {
				return errors.New("no folder given and PDF_FOLDER is not set")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				logger.Log.Error("Startup failed", zap.Error(err))
				return err
			}
			defer a.Close()

			results, err := a.pdf.IngestFolder(ctx, folder)
			if err != nil {
				return err
			}
			return summarizePDFResults(results)
		},
	}
}

func summarizePDFResults(results []indexer.FileResult) error {
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
			logger.Log.Error("PDF ingestion failed", zap.String("path", r.Path), zap.String("error", r.Error))
		}
	}
	logger.Log.Info("PDF ingestion summary", zap.Int("files_total", len(results)), zap.Int("files_failed", failed))
	if failed > 0 {
		return &exitError{code: 1, msg: fmt.Sprintf("%d of %d files failed", failed, len(results))}
	}
	return nil
}

func newSearchCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Print the stored documents most similar to a query as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				logger.Log.Error("Startup failed", zap.Error(err))
				return err
			}
			defer a.Close()

			results, err := a.engine.Search(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 5, "Number of results to return")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the per-table sync status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				logger.Log.Error("Startup failed", zap.Error(err))
				return err
			}
			defer a.Close()

			report, err := a.engine.SyncStatus(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
