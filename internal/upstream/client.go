// Package upstream talks to the hosted OpenAI and Azure OpenAI services: chat completion
// streams, embeddings, speech synthesis and transcription.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/router-for-me/VoiceProxyAPI/internal/assistant"
	"github.com/router-for-me/VoiceProxyAPI/internal/config"
	"github.com/router-for-me/VoiceProxyAPI/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

// Service names used in errors, logs and metrics.
const (
	ServiceChat          = "chat"
	ServiceEmbeddings    = "embeddings"
	ServiceSpeech        = "speech"
	ServiceTranscription = "transcription"
)

// Client wraps one go-openai client bound to a provider.
type Client struct {
	api      *openai.Client
	provider string
	mappings map[string]string
}

// DeploymentName maps a model name to its Azure deployment. An explicit mapping wins;
// otherwise dots are removed, so gpt-3.5-turbo becomes gpt-35-turbo.
func DeploymentName(model string, mappings map[string]string) string {
	if dep, ok := mappings[model]; ok && strings.TrimSpace(dep) != "" {
		return dep
	}
	return strings.ReplaceAll(model, ".", "")
}

// New builds a client for provider ("openai" or "azure") from cfg.
func New(provider string, cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("upstream: nil config")
	}
	httpClient := &http.Client{}
	if cfg.RequestTimeoutSeconds > 0 {
		httpClient.Timeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	}

	var clientCfg openai.ClientConfig
	switch provider {
	case config.ProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
			return nil, errors.New("upstream: openai api key is not configured")
		}
		clientCfg = openai.DefaultConfig(cfg.OpenAI.APIKey)
		if cfg.OpenAI.BaseURL != "" {
			clientCfg.BaseURL = strings.TrimRight(cfg.OpenAI.BaseURL, "/")
		}
		clientCfg.OrgID = cfg.OpenAI.OrgID
	case config.ProviderAzure:
		if strings.TrimSpace(cfg.Azure.APIKey) == "" || strings.TrimSpace(cfg.Azure.Endpoint) == "" {
			return nil, errors.New("upstream: azure api key and endpoint are required")
		}
		clientCfg = openai.DefaultAzureConfig(cfg.Azure.APIKey, strings.TrimRight(cfg.Azure.Endpoint, "/"))
		if cfg.Azure.APIVersion != "" {
			clientCfg.APIVersion = cfg.Azure.APIVersion
		}
		mappings := cfg.ModelMappings
		clientCfg.AzureModelMapperFunc = func(model string) string {
			return DeploymentName(model, mappings)
		}
	default:
		return nil, fmt.Errorf("upstream: unsupported provider %q", provider)
	}
	clientCfg.HTTPClient = httpClient

	return &Client{
		api:      openai.NewClientWithConfig(clientCfg),
		provider: provider,
		mappings: cfg.ModelMappings,
	}, nil
}

// Provider returns the provider the client is bound to.
func (c *Client) Provider() string { return c.provider }

func (c *Client) observe(service string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordUpstream(service, outcome, time.Since(start).Seconds())
	entry := log.WithFields(log.Fields{
		"service":  service,
		"provider": c.provider,
		"elapsed":  time.Since(start).Truncate(time.Millisecond),
	})
	if err != nil {
		entry.WithError(err).Warn("upstream call failed")
		return
	}
	entry.Debug("upstream call finished")
}

// ChatStream is an open chat completion stream.
type ChatStream struct {
	stream *openai.ChatCompletionStream
	client *Client
	start  time.Time
	closed bool
}

// Recv returns the next chunk, or io.EOF when the upstream stream ends.
func (s *ChatStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	resp, err := s.stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		return resp, wrapError(ServiceChat, err)
	}
	return resp, err
}

// Close releases the HTTP response. It is safe to call more than once.
func (s *ChatStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stream.Close()
	s.client.observe(ServiceChat, s.start, nil)
	return nil
}

// StreamChat opens a streaming chat completion.
func (c *Client) StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (*ChatStream, error) {
	start := time.Now()
	req.Stream = true
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		err = wrapError(ServiceChat, err)
		c.observe(ServiceChat, start, err)
		return nil, err
	}
	return &ChatStream{stream: stream, client: c, start: start}, nil
}

// ChatCompleter adapts c to the assistant's streaming interface.
func (c *Client) ChatCompleter() assistant.ChatCompleter {
	return assistant.ChatCompleterFunc(func(ctx context.Context, req openai.ChatCompletionRequest) (assistant.ChunkStream, error) {
		stream, err := c.StreamChat(ctx, req)
		if err != nil {
			return nil, err
		}
		return stream, nil
	})
}

// Embed returns the embedding of text under model.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	start := time.Now()
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		err = wrapError(ServiceEmbeddings, err)
		c.observe(ServiceEmbeddings, start, err)
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		err = &Error{Service: ServiceEmbeddings, StatusCode: http.StatusBadGateway, Err: errors.New("empty embedding in response")}
		c.observe(ServiceEmbeddings, start, err)
		return nil, err
	}
	c.observe(ServiceEmbeddings, start, nil)
	return resp.Data[0].Embedding, nil
}

// Embedder binds Embed to a model, satisfying memory.Embedder.
func (c *Client) Embedder(model string) *Embedder {
	return &Embedder{client: c, model: model}
}

// Embedder embeds text with a fixed model.
type Embedder struct {
	client *Client
	model  string
}

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.client.Embed(ctx, e.model, text)
}
