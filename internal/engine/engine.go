// Package engine is the facade the CLI and HTTP API call into. It holds no
// logic of its own beyond gating and argument checks.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/embedding"
	"github.com/arwahdevops/replisearch/internal/indexer"
	"github.com/arwahdevops/replisearch/internal/metrics"
	tablesync "github.com/arwahdevops/replisearch/internal/sync"
	"github.com/arwahdevops/replisearch/internal/vectorstore"
)

var (
	ErrEmptyQuery             = errors.New("query must not be empty")
	ErrPDFIngestionDisabled   = errors.New("pdf ingestion is not configured")
	ErrPDFIngestionInProgress = errors.New("pdf ingestion is already in progress")
)

// SyncTrigger starts sync runs under the process-wide gate.
type SyncTrigger interface {
	TriggerAll(ctx context.Context) (tablesync.SyncRunReport, error)
	TriggerTable(ctx context.Context, table string) (tablesync.TableSyncOutcome, error)
}

type DocumentIndexer interface {
	IndexDocument(ctx context.Context, documentID, content, source string, metadata map[string]any) (indexer.IndexResult, error)
}

type FolderIngestor interface {
	IngestFolder(ctx context.Context, dir string) ([]indexer.FileResult, error)
}

// Deps wires the engine. PDF and PDFFolder are optional.
type Deps struct {
	Sync      SyncTrigger
	Status    tablesync.StatusStore
	Indexer   DocumentIndexer
	Provider  embedding.Provider
	Store     vectorstore.Store
	PDF       FolderIngestor
	PDFFolder string
	Metrics   *metrics.Store
	Logger    *zap.Logger
}

type Engine struct {
	sync      SyncTrigger
	status    tablesync.StatusStore
	indexer   DocumentIndexer
	provider  embedding.Provider
	store     vectorstore.Store
	pdf       FolderIngestor
	pdfFolder string
	pdfGate   tablesync.Gate
	metrics   *metrics.Store
	logger    *zap.Logger
}

func New(d Deps) *Engine {
	if d.Metrics == nil {
		d.Metrics = metrics.NewMetricsStore()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Engine{
		sync:      d.Sync,
		status:    d.Status,
		indexer:   d.Indexer,
		provider:  d.Provider,
		store:     d.Store,
		pdf:       d.PDF,
		pdfFolder: d.PDFFolder,
		metrics:   d.Metrics,
		logger:    d.Logger.Named("engine"),
	}
}

// TriggerSyncAll runs every configured table, or fails with tablesync.ErrSyncInProgress.
func (e *Engine) TriggerSyncAll(ctx context.Context) (tablesync.SyncRunReport, error) {
	return e.sync.TriggerAll(ctx)
}

// TriggerSyncTable runs one table, or fails with tablesync.ErrSyncInProgress.
func (e *Engine) TriggerSyncTable(ctx context.Context, table string) (tablesync.TableSyncOutcome, error) {
	return e.sync.TriggerTable(ctx, table)
}

func (e *Engine) SyncStatus(ctx context.Context) (tablesync.StatusReport, error) {
	return tablesync.BuildStatusReport(ctx, e.status)
}

func (e *Engine) IndexDocument(ctx context.Context, documentID, content, source string, metadata map[string]any) (indexer.IndexResult, error) {
	return e.indexer.IndexDocument(ctx, documentID, content, source, metadata)
}

// Search embeds query and returns the topK most similar stored documents.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]vectorstore.SearchResult, error) {
	if topK < 1 {
		return nil, vectorstore.ErrInvalidTopK
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()
	defer func() { e.metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	vec, err := e.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := e.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Search served", zap.Int("top_k", topK), zap.Int("results", len(results)), zap.Duration("duration", time.Since(start)))
	return results, nil
}

// ModelAvailable reports whether the embedding model is being served.
func (e *Engine) ModelAvailable(ctx context.Context) (bool, error) {
	if hc, ok := e.provider.(embedding.HealthChecker); ok {
		return hc.ModelAvailable(ctx)
	}
	return true, nil
}

// IngestPDFFolder ingests the configured PDF folder once. It fails with
// ErrPDFIngestionInProgress while another pass holds the PDF gate.
func (e *Engine) IngestPDFFolder(ctx context.Context) ([]indexer.FileResult, error) {
	if e.pdf == nil || e.pdfFolder == "" {
		return nil, ErrPDFIngestionDisabled
	}
	if !e.pdfGate.TryAcquire() {
		e.metrics.SkippedTriggersTotal.WithLabelValues("pdf_manual").Inc()
		return nil, ErrPDFIngestionInProgress
	}
	defer e.pdfGate.Release()
	return e.pdf.IngestFolder(ctx, e.pdfFolder)
}

// RunPDFSync re-ingests the PDF folder every interval until ctx is done. It
// shares its gate with IngestPDFFolder but not with table sync.
func (e *Engine) RunPDFSync(ctx context.Context, warmup, interval time.Duration, clock tablesync.Clock) {
	if e.pdf == nil || e.pdfFolder == "" {
		e.logger.Info("PDF folder sync disabled.")
		return
	}
	log := e.logger.With(zap.String("folder", e.pdfFolder))
	tablesync.PeriodicLoop{
		Name:     "pdf-sync",
		Warmup:   warmup,
		Interval: interval,
		Clock:    clock,
		Gate:     &e.pdfGate,
		Task: func(ctx context.Context) {
			if _, err := e.pdf.IngestFolder(ctx, e.pdfFolder); err != nil {
				log.Error("Scheduled PDF ingestion failed", zap.Error(err))
			}
		},
		OnSkip: func() { e.metrics.SkippedTriggersTotal.WithLabelValues("pdf_scheduled").Inc() },
		Logger: log,
	}.Run(ctx)
}
