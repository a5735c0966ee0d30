// Package embeddings provides embedding backends that are not served through the OpenAI SDK.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaURL   = "http://127.0.0.1:11434"
	defaultOllamaModel = "nomic-embed-text"
)

// OllamaClient calls a local Ollama server's /api/embed endpoint.
type OllamaClient struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

type ollamaEmbedRequest struct {
	Model string         `json:"model"`
	Input []string       `json:"input"`
	Opts  *ollamaOptions `json:"options,omitempty"`
}

type ollamaOptions struct {
	Truncate bool `json:"truncate,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// NewOllamaClient returns a client for baseURL and model with a bounded HTTP timeout.
func NewOllamaClient(baseURL, model string, timeout time.Duration) *OllamaClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaClient{BaseURL: baseURL, Model: model, Client: &http.Client{Timeout: timeout}}
}

// Embed returns the embedding of a single text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, errors.New("ollama embed: empty embedding")
	}
	return vecs[0], nil
}

// EmbedBatch embeds every input in one request. Output order matches inputs.
func (c *OllamaClient) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if c == nil {
		return nil, errors.New("ollama client is nil")
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = defaultOllamaURL
	}
	model := strings.TrimSpace(c.Model)
	if model == "" {
		model = defaultOllamaModel
	}
	httpClient := c.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	reqBody, err := json.Marshal(ollamaEmbedRequest{
		Model: model,
		Input: inputs,
		Opts:  &ollamaOptions{Truncate: true},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama embed: decode response: %w", err)
	}
	if len(out.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama embed: got %d embeddings for %d inputs", len(out.Embeddings), len(inputs))
	}

	vecs := make([][]float32, 0, len(out.Embeddings))
	for _, v := range out.Embeddings {
		f := make([]float32, len(v))
		for i := range v {
			f[i] = float32(v[i])
		}
		vecs = append(vecs, f)
	}
	return vecs, nil
}

// StatusError reports a non-2xx answer from the embedding server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama embed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("ollama embed: status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the HTTP status for error mapping.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }
