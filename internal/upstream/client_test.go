package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/router-for-me/VoiceProxyAPI/internal/config"
	apperrors "github.com/router-for-me/VoiceProxyAPI/internal/errors"
	"github.com/router-for-me/VoiceProxyAPI/internal/stt"
	"github.com/router-for-me/VoiceProxyAPI/internal/tts"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type recorded struct {
	mu    sync.Mutex
	paths []string
	query []string
	auth  []string
	body  [][]byte
}

func (r *recorded) add(req *http.Request, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, req.URL.Path)
	r.query = append(r.query, req.URL.RawQuery)
	auth := req.Header.Get("api-key")
	if auth == "" {
		auth = req.Header.Get("Authorization")
	}
	r.auth = append(r.auth, auth)
	r.body = append(r.body, body)
}

func fakeOpenAI(t *testing.T, rec *recorded) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body []byte
		if !strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/") {
			body, _ = io.ReadAll(req.Body)
		}
		rec.add(req, body)

		switch {
		case strings.HasSuffix(req.URL.Path, "/chat/completions"):
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, `data: {"id":"c1","object":"chat.completion.chunk","model":"gpt-35-turbo","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`+"\n\n")
			_, _ = io.WriteString(w, `data: {"id":"c1","object":"chat.completion.chunk","model":"gpt-35-turbo","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
		case strings.HasSuffix(req.URL.Path, "/embeddings"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"object":"list","model":"text-embedding-ada-002","data":[{"object":"embedding","index":0,"embedding":[0.5,-1,2]}]}`)
		case strings.HasSuffix(req.URL.Path, "/audio/speech"):
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("ID3-fake-audio"))
		case strings.HasSuffix(req.URL.Path, "/audio/transcriptions"):
			if err := req.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"text":"prompt was: `+strings.ReplaceAll(req.FormValue("prompt"), "\n", " ")+`"}`)
		default:
			http.NotFound(w, req)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func azureClient(t *testing.T, srv *httptest.Server, mappings map[string]string) *Client {
	t.Helper()
	cfg := &config.Config{
		Azure:         config.AzureConfig{APIKey: "azure-key", Endpoint: srv.URL + "/", APIVersion: "2023-05-15"},
		ModelMappings: mappings,
	}
	c, err := New(config.ProviderAzure, cfg)
	require.NoError(t, err)
	return c
}

func openAIClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg := &config.Config{OpenAI: config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}}
	c, err := New(config.ProviderOpenAI, cfg)
	require.NoError(t, err)
	return c
}

func TestDeploymentName(t *testing.T) {
	assert.Equal(t, "gpt-35-turbo", DeploymentName("gpt-3.5-turbo", nil))
	assert.Equal(t, "gpt-4", DeploymentName("gpt-4", nil))
	assert.Equal(t, "chat-prod", DeploymentName("gpt-3.5-turbo", map[string]string{"gpt-3.5-turbo": "chat-prod"}))
	assert.Equal(t, "gpt-4o", DeploymentName("gpt-4o", map[string]string{"gpt-3.5-turbo": ""}))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(config.ProviderOpenAI, nil)
	assert.Error(t, err)

	_, err = New(config.ProviderOpenAI, &config.Config{})
	assert.Error(t, err)

	_, err = New(config.ProviderAzure, &config.Config{Azure: config.AzureConfig{APIKey: "k"}})
	assert.Error(t, err)

	_, err = New(config.ProviderOllama, &config.Config{})
	assert.Error(t, err)
}

func TestStreamChat_AzureDeploymentPath(t *testing.T) {
	rec := &recorded{}
	srv := fakeOpenAI(t, rec)
	c := azureClient(t, srv, nil)
	assert.Equal(t, config.ProviderAzure, c.Provider())

	stream, err := c.StreamChat(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-3.5-turbo",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Hi", first.Choices[0].Delta.Content)

	second, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, openai.FinishReasonStop, second.Choices[0].FinishReason)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)

	require.Len(t, rec.paths, 1)
	assert.Equal(t, "/openai/deployments/gpt-35-turbo/chat/completions", rec.paths[0])
	assert.Contains(t, rec.query[0], "api-version=2023-05-15")
	assert.Equal(t, "azure-key", rec.auth[0])
	assert.True(t, gjson.GetBytes(rec.body[0], "stream").Bool())
	assert.Equal(t, "gpt-3.5-turbo", gjson.GetBytes(rec.body[0], "model").String())
}

func TestStreamChat_ExplicitMapping(t *testing.T) {
	rec := &recorded{}
	srv := fakeOpenAI(t, rec)
	c := azureClient(t, srv, map[string]string{"gpt-4": "gpt4-prod"})

	stream, err := c.StreamChat(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-4",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	assert.Equal(t, "/openai/deployments/gpt4-prod/chat/completions", rec.paths[0])
}

func TestStreamChat_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Access denied due to invalid subscription key.","type":"invalid_request_error","code":"401"}}`)
	}))
	defer srv.Close()
	c := azureClient(t, srv, nil)

	_, err := c.StreamChat(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-4",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)

	var upErr *Error
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, ServiceChat, upErr.Service)
	assert.Equal(t, http.StatusUnauthorized, upErr.HTTPStatus())
	assert.Equal(t, "Access denied due to invalid subscription key.", upErr.Message())

	appErr := apperrors.Upstream(upErr.Service, err)
	assert.Equal(t, http.StatusUnauthorized, appErr.HTTPStatusCode)
}

func TestError_StatusFallback(t *testing.T) {
	err := &Error{Service: ServiceSpeech, Err: errors.New("connection refused")}
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
	assert.Equal(t, "speech service error", err.Message())
	assert.Equal(t, "speech service error: connection refused", err.Error())

	err = &Error{Service: ServiceSpeech, StatusCode: 200, Err: errors.New("x")}
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
}

func TestStreamChat_TimeoutIsGatewayTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	c := azureClient(t, srv, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.StreamChat(ctx, openai.ChatCompletionRequest{
		Model:    "gpt-4",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var upErr *Error
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusGatewayTimeout, upErr.HTTPStatus())
	assert.Equal(t, "chat service timed out", upErr.Message())
	assert.NotContains(t, upErr.Message(), srv.URL)
}

func TestIsTimeout(t *testing.T) {
	assert.False(t, IsTimeout(nil))
	assert.False(t, IsTimeout(errors.New("boom")))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(&url.Error{Op: "Post", URL: "http://x", Err: timeoutErr{}}))
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestWrapError_PassesCancellation(t *testing.T) {
	assert.ErrorIs(t, wrapError(ServiceChat, context.Canceled), context.Canceled)
	var upErr *Error
	assert.False(t, errors.As(wrapError(ServiceChat, context.Canceled), &upErr))
	assert.Nil(t, wrapError(ServiceChat, nil))

	inner := &Error{Service: ServiceChat, StatusCode: 429, Err: errors.New("slow down")}
	assert.Same(t, inner, wrapError(ServiceEmbeddings, inner))
}

func TestEmbed(t *testing.T) {
	rec := &recorded{}
	srv := fakeOpenAI(t, rec)
	c := openAIClient(t, srv)

	vec, err := c.Embedder("text-embedding-ada-002").Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2}, vec)

	assert.Equal(t, "/v1/embeddings", rec.paths[0])
	assert.Equal(t, "Bearer sk-test", rec.auth[0])
	assert.Equal(t, "text-embedding-ada-002", gjson.GetBytes(rec.body[0], "model").String())
	assert.Equal(t, "hello", gjson.GetBytes(rec.body[0], "input.0").String())
}

func TestEmbed_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[]}`)
	}))
	defer srv.Close()
	c := openAIClient(t, srv)

	_, err := c.Embed(context.Background(), "text-embedding-ada-002", "hello")
	var upErr *Error
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, ServiceEmbeddings, upErr.Service)
	assert.Equal(t, http.StatusBadGateway, upErr.HTTPStatus())
}

func TestSynthesize(t *testing.T) {
	rec := &recorded{}
	srv := fakeOpenAI(t, rec)
	c := openAIClient(t, srv)

	var out bytes.Buffer
	err := c.Synthesize(context.Background(), tts.SpeechRequest{
		Text:   "Привет",
		Model:  "tts-1-hd",
		Voice:  "nova",
		Speed:  1.25,
		Format: "mp3",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ID3-fake-audio", out.String())

	body := rec.body[0]
	assert.Equal(t, "/v1/audio/speech", rec.paths[0])
	assert.Equal(t, "Привет", gjson.GetBytes(body, "input").String())
	assert.Equal(t, "nova", gjson.GetBytes(body, "voice").String())
	assert.Equal(t, "mp3", gjson.GetBytes(body, "response_format").String())
	assert.InDelta(t, 1.25, gjson.GetBytes(body, "speed").Float(), 1e-9)
}

func TestTranscribe(t *testing.T) {
	rec := &recorded{}
	srv := fakeOpenAI(t, rec)
	c := openAIClient(t, srv)

	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o600))

	text, err := c.Transcribe(context.Background(), stt.TranscriptionRequest{
		FilePath:    path,
		Model:       "whisper-1",
		Temperature: 0.2,
		Prompt:      "Transcribe.\n\nExample: hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "prompt was: Transcribe.  Example: hi", text)
	assert.Equal(t, "/v1/audio/transcriptions", rec.paths[0])
}

func TestTranscribe_MissingFile(t *testing.T) {
	rec := &recorded{}
	srv := fakeOpenAI(t, rec)
	c := openAIClient(t, srv)

	_, err := c.Transcribe(context.Background(), stt.TranscriptionRequest{
		FilePath: filepath.Join(t.TempDir(), "missing.wav"),
		Model:    "whisper-1",
	})
	require.Error(t, err)
	assert.Empty(t, rec.paths)
}
