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

// OpenAIClient calls an OpenAI-compatible /v1/embeddings endpoint (llama.cpp, vLLM, OpenAI).
type OpenAIClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	ExpectedSize int
	client       *http.Client
}

func NewOpenAIClient(opts Options) *OpenAIClient {
	return &OpenAIClient{
		BaseURL:      strings.TrimRight(opts.Endpoint, "/"),
		APIKey:       opts.APIKey,
		Model:        opts.Model,
		ExpectedSize: opts.Dimensions,
		client:       opts.httpClient(),
	}
}

type openAIEmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *OpenAIClient) Dimensions() int { return c.ExpectedSize }

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openAIEmbeddingsRequest{Model: c.Model, Input: []string{text}})
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Op: "embed", Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Op: "embed", Err: err}
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Op: "embed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{Provider: "openai", Op: "embed", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(raw)))}
	}

	var out openAIEmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ProviderError{Provider: "openai", Op: "embed", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Data) != 1 || len(out.Data[0].Embedding) == 0 {
		return nil, &ProviderError{Provider: "openai", Op: "embed", Err: fmt.Errorf("expected 1 embedding, got %d", len(out.Data))}
	}

	vec := toFloat32(out.Data[0].Embedding)
	if c.ExpectedSize > 0 {
		if err := vector.CheckDimension(c.ExpectedSize, vec); err != nil {
			return nil, err
		}
	}
	return vec, nil
}
