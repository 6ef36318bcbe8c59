package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// OllamaEndpointConfig holds the configuration for a single Ollama endpoint.
type OllamaEndpointConfig struct {
	BaseURL string // e.g. http://localhost:11434 or https://api.ollama.com
	Model   string // e.g. bge-m3, gemma3
	Token   string // Bearer token for Ollama Cloud (empty = no auth)
}

// OllamaProvider implements port.Embedder and port.Generator using the Ollama
// REST API. Embed and generate can target separate endpoints (different URLs,
// models, and tokens).
type OllamaProvider struct {
	embed      OllamaEndpointConfig
	generate   OllamaEndpointConfig
	dimension  int
	httpClient *http.Client
}

// NewOllamaProvider creates an Ollama-backed provider and resolves the
// embedding dimension once by embedding a probe string. The dimension is
// fixed for the provider's lifetime; the vector index validates every write
// against it.
func NewOllamaProvider(ctx context.Context, embed, generate OllamaEndpointConfig) (*OllamaProvider, error) {
	p := &OllamaProvider{
		embed:      embed,
		generate:   generate,
		httpClient: &http.Client{},
	}

	probe, err := p.Embed(ctx, "dimension probe")
	if err != nil {
		return nil, fmt.Errorf("resolve embedding dimension: %w", err)
	}
	if len(probe) == 0 {
		return nil, fmt.Errorf("resolve embedding dimension: model %q returned an empty vector", embed.Model)
	}
	p.dimension = len(probe)
	return p, nil
}

// Dimension returns the embedding model's output dimensionality.
func (o *OllamaProvider) Dimension() int {
	return o.dimension
}

// Embed generates a vector embedding for the given text.
func (o *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]interface{}{
		"model": o.embed.Model,
		"input": text,
	}

	body, err := o.post(ctx, o.embed, "/api/embed", payload)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama embed: empty response")
	}

	return resp.Embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (o *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]interface{}{
		"model": o.embed.Model,
		"input": texts,
	}

	body, err := o.post(ctx, o.embed, "/api/embed", payload)
	if err != nil {
		return nil, fmt.Errorf("ollama embed batch: %w", err)
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ollama embed batch decode: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed batch: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	return resp.Embeddings, nil
}

// GenerateStream sends a prompt and streams the response fragment by
// fragment. modelID overrides the configured generate model when non-empty.
// The fragments channel closes when the stream ends; errs then carries nil
// for a normal end or the error that aborted the stream. Cancelling ctx
// stops generation.
func (o *OllamaProvider) GenerateStream(ctx context.Context, prompt, modelID string) (<-chan string, <-chan error, error) {
	model := modelID
	if model == "" {
		model = o.generate.Model
	}

	payload := map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": true,
	}

	payloadBytes, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.generate.BaseURL+"/api/chat", bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("ollama stream: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.generate.Token != "" {
		req.Header.Set("Authorization", "Bearer "+o.generate.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("ollama stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, fmt.Errorf("ollama stream: API error (%d): %s", resp.StatusCode, string(body))
	}

	fragments := make(chan string, 64)
	errs := make(chan error, 1)
	go func() {
		defer close(fragments)
		defer resp.Body.Close()

		decoder := json.NewDecoder(resp.Body)
		for decoder.More() {
			var chunk struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
				Done bool `json:"done"`
			}
			if err := decoder.Decode(&chunk); err != nil {
				errs <- fmt.Errorf("ollama stream: decode: %w", err)
				return
			}
			if chunk.Message.Content != "" {
				select {
				case fragments <- chunk.Message.Content:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			if chunk.Done {
				errs <- nil
				return
			}
		}
		// Body ended without a done marker: the server closed mid-stream.
		errs <- fmt.Errorf("ollama stream: connection closed before completion")
	}()

	return fragments, errs, nil
}

// post is a helper for POST requests to an Ollama endpoint (with optional bearer token).
func (o *OllamaProvider) post(ctx context.Context, cfg OllamaEndpointConfig, path string, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
