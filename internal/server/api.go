package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/embedding"
	"github.com/arwahdevops/replisearch/internal/engine"
	"github.com/arwahdevops/replisearch/internal/indexer"
	tablesync "github.com/arwahdevops/replisearch/internal/sync"
	"github.com/arwahdevops/replisearch/internal/vectorstore"
)

const defaultTopK = 5

// Engine is the set of operations the API exposes. *engine.Engine implements it.
type Engine interface {
	TriggerSyncAll(ctx context.Context) (tablesync.SyncRunReport, error)
	TriggerSyncTable(ctx context.Context, table string) (tablesync.TableSyncOutcome, error)
	SyncStatus(ctx context.Context) (tablesync.StatusReport, error)
	IndexDocument(ctx context.Context, documentID, content, source string, metadata map[string]any) (indexer.IndexResult, error)
	Search(ctx context.Context, query string, topK int) ([]vectorstore.SearchResult, error)
	IngestPDFFolder(ctx context.Context) ([]indexer.FileResult, error)
	ModelAvailable(ctx context.Context) (bool, error)
}

type api struct {
	engine Engine
	logger *zap.Logger
}

// NewAPIRouter builds the chi router for the public API.
func NewAPIRouter(e Engine, logger *zap.Logger) http.Handler {
	a := &api{engine: e, logger: logger.Named("http-api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync/all", a.syncAll)
		r.Post("/sync/table/{name}", a.syncTable)
		r.Get("/sync/status", a.syncStatus)
		r.Post("/documents", a.indexDocument)
		r.Post("/search", a.search)
		r.Post("/pdf/sync", a.pdfSync)
		r.Get("/embedding/health", a.embeddingHealth)
	})
	return r
}

func (a *api) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type tableSyncResponse struct {
	tablesync.TableResult
	Batches    int   `json:"batches"`
	DurationMs int64 `json:"durationMs"`
}

type indexDocumentRequest struct {
	DocumentID string         `json:"documentId"`
	Content    string         `json:"content"`
	Source     string         `json:"source"`
	Metadata   map[string]any `json:"metadata"`
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"topK"`
}

type searchResponse struct {
	Query   string                     `json:"query"`
	Results []vectorstore.SearchResult `json:"results"`
}

type healthResponse struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

func (a *api) syncAll(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.TriggerSyncAll(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) syncTable(w http.ResponseWriter, r *http.Request) {
	outcome, err := a.engine.TriggerSyncTable(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tableSyncResponse{
		TableResult: outcome.Result(),
		Batches:     outcome.Batches,
		DurationMs:  outcome.Duration.Milliseconds(),
	})
}

func (a *api) syncStatus(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.SyncStatus(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) indexDocument(w http.ResponseWriter, r *http.Request) {
	var req indexDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.DocumentID) == "" || strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("documentId and content are required"))
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	res, err := a.engine.IndexDocument(r.Context(), req.DocumentID, req.Content, req.Source, req.Metadata)
	if err != nil {
		a.writeError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

func (a *api) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body: "+err.Error()))
		return
	}
	topK := defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	results, err := a.engine.Search(r.Context(), req.Query, topK)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if results == nil {
		results = []vectorstore.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: req.Query, Results: results})
}

func (a *api) pdfSync(w http.ResponseWriter, r *http.Request) {
	results, err := a.engine.IngestPDFFolder(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (a *api) embeddingHealth(w http.ResponseWriter, r *http.Request) {
	ok, err := a.engine.ModelAvailable(r.Context())
	resp := healthResponse{Available: ok && err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	status := http.StatusOK
	if !resp.Available {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// writeError maps engine errors onto HTTP status codes.
func (a *api) writeError(w http.ResponseWriter, err error) {
	var providerErr *embedding.ProviderError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tablesync.ErrSyncInProgress), errors.Is(err, engine.ErrPDFIngestionInProgress):
		status = http.StatusConflict
	case errors.Is(err, vectorstore.ErrInvalidTopK), errors.Is(err, engine.ErrEmptyQuery):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrPDFIngestionDisabled):
		status = http.StatusServiceUnavailable
	case errors.As(err, &providerErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
