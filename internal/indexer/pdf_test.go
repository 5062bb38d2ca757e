package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeExtractor map[string]struct {
	text  string
	pages int
	err   error
}

func (f fakeExtractor) ExtractText(_ context.Context, path string) (string, int, error) {
	e, ok := f[filepath.Base(path)]
	if !ok {
		return "", 0, errors.New("unexpected file")
	}
	return e.text, e.pages, e.err
}

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		p := filepath.Join(root, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4"), 0o644))
	}
}

func newIngestor(t *testing.T, h *indexHarness, ex TextExtractor) *PDFIngestor {
	t.Helper()
	p := NewPDFIngestor(h.indexer, ex, h.db, 2, h.metrics, zaptest.NewLogger(t))
	p.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, p.EnsureSchema(context.Background()))
	return p
}

func TestPDFIngestor_IngestFolder(t *testing.T) {
	ctx := context.Background()
	h := newIndexHarness(t, 100)
	h.provider.On("Embed", mock.Anything, mock.Anything).Return([]float32{1, 0, 0}, nil)

	root := t.TempDir()
	writeFiles(t, root, "a.pdf", "bad.pdf", "notes.txt", "empty.pdf", "sub/b.PDF")
	p := newIngestor(t, h, fakeExtractor{
		"a.pdf":     {text: "Alpha report. Second line.", pages: 2},
		"bad.pdf":   {err: errors.New("malformed xref")},
		"empty.pdf": {text: "  \n", pages: 1},
		"b.PDF":     {text: "Beta.", pages: 1},
	})

	results, err := p.IngestFolder(ctx, root)
	require.NoError(t, err)
	require.Len(t, results, 4)

	byName := make(map[string]FileResult, len(results))
	for _, r := range results {
		byName[filepath.Base(r.Path)] = r
	}
	assert.True(t, byName["a.pdf"].Success)
	assert.Equal(t, "pdf_a", byName["a.pdf"].DocumentID)
	assert.Equal(t, 2, byName["a.pdf"].Pages)
	assert.True(t, byName["b.PDF"].Success)
	assert.Equal(t, "pdf_sub_b", byName["b.PDF"].DocumentID)
	assert.False(t, byName["bad.pdf"].Success)
	assert.Contains(t, byName["bad.pdf"].Error, "malformed xref")
	assert.False(t, byName["empty.pdf"].Success)
	assert.Equal(t, "no text extracted", byName["empty.pdf"].Error)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.PDFFilesTotal.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PDFFilesTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PDFFilesTotal.WithLabelValues("empty")))

	docs, err := p.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	ids := []string{docs[0].DocumentID, docs[1].DocumentID}
	assert.ElementsMatch(t, []string{"pdf_a", "pdf_sub_b"}, ids)

	// Chunks carry the file name and the "pdf:" source.
	res, err := h.store.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, res)
	for _, r := range res {
		assert.Contains(t, r.Source, "pdf:")
		assert.Contains(t, []any{"a.pdf", "b.PDF"}, r.Metadata["source_file"])
	}

	// A second pass replaces chunks and registry rows instead of duplicating them.
	before := h.count(t)
	_, err = p.IngestFolder(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, before, h.count(t))
	docs, err = p.Documents(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestPDFIngestor_MissingFolder(t *testing.T) {
	h := newIndexHarness(t, 100)
	p := newIngestor(t, h, fakeExtractor{})
	_, err := p.IngestFolder(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorContains(t, err, "scan pdf folder")
}

func TestPDFIngestor_CancelledContext(t *testing.T) {
	h := newIndexHarness(t, 100)
	root := t.TempDir()
	writeFiles(t, root, "a.pdf", "b.pdf", "c.pdf")
	p := newIngestor(t, h, fakeExtractor{
		"a.pdf": {text: "A.", pages: 1},
		"b.pdf": {text: "B.", pages: 1},
		"c.pdf": {text: "C.", pages: 1},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := p.IngestFolder(ctx, root)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.False(t, r.Success, r.Path)
	}
	h.provider.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestPDFDocumentID(t *testing.T) {
	assert.Equal(t, "pdf_manuals_pump_v2", PDFDocumentID("/data", "/data/manuals/pump v2.pdf"))
	assert.Equal(t, "pdf_x", PDFDocumentID("/data", "/data/x.PDF"))
}

func TestPDFTextExtractor_MissingFile(t *testing.T) {
	_, _, err := PDFTextExtractor{}.ExtractText(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
