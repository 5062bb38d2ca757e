package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/arwahdevops/replisearch/internal/vector"
)

// OllamaClient talks to an Ollama server's /api/embed and /api/tags endpoints.
type OllamaClient struct {
	BaseURL      string
	Model        string
	ExpectedSize int
	client       *http.Client
}

func NewOllamaClient(opts Options) *OllamaClient {
	return &OllamaClient{
		BaseURL:      strings.TrimRight(opts.Endpoint, "/"),
		Model:        opts.Model,
		ExpectedSize: opts.Dimensions,
		client:       opts.httpClient(),
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (c *OllamaClient) Dimensions() int { return c.ExpectedSize }

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: c.Model, Input: text})
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Op: "embed", Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Op: "embed", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "ollama", Op: "embed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{Provider: "ollama", Op: "embed", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(raw)))}
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ProviderError{Provider: "ollama", Op: "embed", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, &ProviderError{Provider: "ollama", Op: "embed", Err: fmt.Errorf("no embeddings returned from Ollama")}
	}

	vec := toFloat32(out.Embeddings[0])
	if c.ExpectedSize > 0 {
		if err := vector.CheckDimension(c.ExpectedSize, vec); err != nil {
			return nil, err
		}
	}
	return vec, nil
}

// ModelAvailable reports whether the configured model shows up in /api/tags.
func (c *OllamaClient) ModelAvailable(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return false, &ProviderError{Provider: "ollama", Op: "tags", Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, &ProviderError{Provider: "ollama", Op: "tags", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false, &ProviderError{Provider: "ollama", Op: "tags", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, &ProviderError{Provider: "ollama", Op: "tags", Err: fmt.Errorf("decode response: %w", err)}
	}
	for _, m := range tags.Models {
		if strings.Contains(m.Name, c.Model) {
			return true, nil
		}
	}
	return false, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
