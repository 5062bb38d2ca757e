package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arwahdevops/replisearch/internal/metrics"
)

// TextExtractor pulls plain text out of a document file.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (text string, pages int, err error)
}

// PDFTextExtractor reads PDFs with github.com/ledongthuc/pdf. Pages that
// cannot be decoded are skipped.
type PDFTextExtractor struct{}

func (PDFTextExtractor) ExtractText(ctx context.Context, path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	pageCount := r.NumPage()
	var content strings.Builder
	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return "", pageCount, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if content.Len() > 0 {
			content.WriteString("\n\n")
		}
		content.WriteString(strings.TrimSpace(text))
	}
	return content.String(), pageCount, nil
}

// PDFDocument is one row of the pdf_documents registry.
type PDFDocument struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	DocumentID  string    `gorm:"column:document_id;size:255;not null;uniqueIndex" json:"documentId"`
	FilePath    string    `gorm:"column:file_path;size:500" json:"filePath"`
	FileName    string    `gorm:"column:file_name;size:255" json:"fileName"`
	PageCount   int       `gorm:"column:page_count" json:"pageCount"`
	ProcessedAt time.Time `gorm:"column:processed_at" json:"processedAt"`
}

func (PDFDocument) TableName() string { return "pdf_documents" }

// FileResult is the outcome of ingesting one file.
type FileResult struct {
	Path       string `json:"path"`
	DocumentID string `json:"documentId"`
	Pages      int    `json:"pages"`
	Chunks     int    `json:"chunks"`
	Indexed    int    `json:"indexed"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// PDFIngestor indexes every PDF under a folder on a bounded worker pool.
type PDFIngestor struct {
	indexer   *Indexer
	extractor TextExtractor
	registry  *gorm.DB
	workers   int
	metrics   *metrics.Store
	logger    *zap.Logger
	now       func() time.Time
}

func NewPDFIngestor(ix *Indexer, extractor TextExtractor, registry *gorm.DB, workers int, metricsStore *metrics.Store, logger *zap.Logger) *PDFIngestor {
	if extractor == nil {
		extractor = PDFTextExtractor{}
	}
	if workers <= 0 {
		workers = 1
	}
	if metricsStore == nil {
		metricsStore = metrics.NewMetricsStore()
	}
	return &PDFIngestor{
		indexer:   ix,
		extractor: extractor,
		registry:  registry,
		workers:   workers,
		metrics:   metricsStore,
		logger:    logger.Named("pdf-ingestor"),
		now:       time.Now,
	}
}

// EnsureSchema creates the pdf_documents registry table.
func (p *PDFIngestor) EnsureSchema(ctx context.Context) error {
	if err := p.registry.WithContext(ctx).AutoMigrate(&PDFDocument{}); err != nil {
		return fmt.Errorf("ensure pdf registry: %w", err)
	}
	return nil
}

// Documents lists the registry, most recently processed first.
func (p *PDFIngestor) Documents(ctx context.Context) ([]PDFDocument, error) {
	var docs []PDFDocument
	if err := p.registry.WithContext(ctx).Order("processed_at DESC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list pdf documents: %w", err)
	}
	return docs, nil
}

// PDFDocumentID derives a stable document id from the file's path relative to root.
func PDFDocumentID(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
	return "pdf_" + strings.NewReplacer("/", "_", " ", "_").Replace(rel)
}

// IngestFolder walks dir recursively and ingests every *.pdf file. Results
// are returned in walk order. Only a failure to list the folder is an error.
func (p *PDFIngestor) IngestFolder(ctx context.Context, dir string) ([]FileResult, error) {
	log := p.logger.With(zap.String("folder", dir))

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan pdf folder %s: %w", dir, err)
	}
	log.Info("Starting PDF folder ingestion", zap.Int("files", len(files)), zap.Int("workers", p.workers))

	results := make([]FileResult, len(files))
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.workers)

	for i, path := range files {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = FileResult{Path: path, DocumentID: PDFDocumentID(dir, path), Error: fmt.Sprintf("not started: %v", ctx.Err())}
				p.metrics.PDFFilesTotal.WithLabelValues("failed").Inc()
				return
			}
			results[i] = p.IngestFile(ctx, path, PDFDocumentID(dir, path))
		}(i, path)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	log.Info("PDF folder ingestion finished", zap.Int("files", len(files)), zap.Int("failed", failed))
	return results, nil
}

// IngestFile extracts, indexes and registers one PDF.
func (p *PDFIngestor) IngestFile(ctx context.Context, path, documentID string) FileResult {
	res := FileResult{Path: path, DocumentID: documentID}
	log := p.logger.With(zap.String("file", path), zap.String("document_id", documentID))
	fail := func(status string, err error) FileResult {
		log.Warn("PDF ingestion failed", zap.String("status", status), zap.Error(err))
		p.metrics.PDFFilesTotal.WithLabelValues(status).Inc()
		res.Error = err.Error()
		return res
	}

	text, pages, err := p.extractor.ExtractText(ctx, path)
	res.Pages = pages
	if err != nil {
		return fail("failed", err)
	}
	if strings.TrimSpace(text) == "" {
		return fail("empty", errors.New("no text extracted"))
	}

	indexed, err := p.indexer.IndexDocument(ctx, documentID, text, "pdf:"+path,
		map[string]any{"source_file": filepath.Base(path)})
	res.Chunks, res.Indexed = indexed.Chunks, indexed.Indexed
	if err != nil {
		return fail("failed", err)
	}
	if !indexed.Success {
		return fail("failed", indexed.Err)
	}

	if err := p.register(ctx, path, documentID, pages); err != nil {
		return fail("failed", err)
	}

	res.Success = true
	p.metrics.PDFFilesTotal.WithLabelValues("processed").Inc()
	log.Info("PDF ingested", zap.Int("pages", pages), zap.Int("chunks", res.Chunks), zap.Int("indexed", res.Indexed))
	return res
}

func (p *PDFIngestor) register(ctx context.Context, path, documentID string, pages int) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	doc := PDFDocument{
		DocumentID:  documentID,
		FilePath:    abs,
		FileName:    filepath.Base(path),
		PageCount:   pages,
		ProcessedAt: p.now().UTC(),
	}
	err = p.registry.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_path", "file_name", "page_count", "processed_at"}),
	}).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("register pdf %s: %w", documentID, err)
	}
	return nil
}
