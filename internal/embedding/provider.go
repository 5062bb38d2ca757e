// Package embedding turns text into fixed-size float32 vectors via an external model server.
package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/metrics"
)

// Provider produces embeddings of a fixed dimension.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// HealthChecker is implemented by providers that can tell whether their model is served.
type HealthChecker interface {
	ModelAvailable(ctx context.Context) (bool, error)
}

// ProviderError is returned when the embedding service fails or answers with something unusable.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Options configures the HTTP providers.
type Options struct {
	Endpoint   string
	Model      string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// New builds the provider named by kind ("ollama" or "openai").
func New(kind string, opts Options) (Provider, error) {
	switch strings.ToLower(kind) {
	case "ollama":
		return NewOllamaClient(opts), nil
	case "openai":
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", kind)
	}
}

// Instrumented wraps a Provider with latency metrics and debug logging.
type Instrumented struct {
	Provider
	name    string
	metrics *metrics.Store
	logger  *zap.Logger
}

func NewInstrumented(p Provider, name string, m *metrics.Store, logger *zap.Logger) *Instrumented {
	return &Instrumented{Provider: p, name: name, metrics: m, logger: logger.Named("embedding")}
}

func (i *Instrumented) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	v, err := i.Provider.Embed(ctx, text)
	status := "success"
	if err != nil {
		status = "failure"
		i.logger.Debug("Embedding request failed", zap.String("provider", i.name), zap.Int("text_len", len(text)), zap.Error(err))
	}
	if i.metrics != nil {
		i.metrics.EmbeddingDuration.WithLabelValues(i.name, status).Observe(time.Since(start).Seconds())
	}
	return v, err
}

// ModelAvailable delegates to the wrapped provider when it supports health checks.
func (i *Instrumented) ModelAvailable(ctx context.Context) (bool, error) {
	if hc, ok := i.Provider.(HealthChecker); ok {
		return hc.ModelAvailable(ctx)
	}
	return true, nil
}
