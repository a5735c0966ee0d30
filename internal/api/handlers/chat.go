package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/VoiceProxyAPI/internal/assistant"
	"github.com/router-for-me/VoiceProxyAPI/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const errOnlyStreaming = "Only streaming responses are implemented at the moment"

// parseChatRequest validates the body of a chat completion request. It returns the
// message shown to the client when the body is rejected.
func parseChatRequest(raw []byte) (assistant.ChatRequest, string) {
	var req assistant.ChatRequest
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return req, "Invalid request: body must be a JSON object"
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return req, "Invalid request: body must be a JSON object"
	}

	model := root.Get("model")
	if !model.Exists() || strings.TrimSpace(model.String()) == "" {
		return req, "Missing required field: model"
	}
	messages := root.Get("messages")
	if !messages.Exists() || !messages.IsArray() || len(messages.Array()) == 0 {
		return req, "Missing required field: messages"
	}
	if !root.Get("stream").Bool() {
		return req, errOnlyStreaming
	}

	req.Model = strings.TrimSpace(model.String())
	if err := json.Unmarshal([]byte(messages.Raw), &req.Messages); err != nil {
		return req, "Invalid request: messages must be a list of {role, content} objects with text content"
	}
	if t := root.Get("temperature"); t.Exists() && t.Type == gjson.Number {
		temp := float32(t.Float())
		if temp < 0 || temp > 2 {
			return req, "Invalid request: temperature must be between 0 and 2"
		}
		req.Temperature = &temp
	}
	if mt := root.Get("max_tokens"); mt.Exists() {
		req.MaxTokens = int(mt.Int())
	}
	return req, ""
}

// encodeChunk renders a chunk as JSON, reporting model as the chunk's model.
func encodeChunk(chunk openai.ChatCompletionStreamResponse, model string) ([]byte, error) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return nil, err
	}
	if model == "" {
		return data, nil
	}
	return sjson.SetBytes(data, "model", model)
}

// ChatCompletions streams an assistant reply as server-sent events.
func (h *Handler) ChatCompletions(c *gin.Context) {
	if h.deps.Assistant == nil {
		unavailable(c, "chat")
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	req, msg := parseChatRequest(raw)
	if msg != "" {
		badRequest(c, msg)
		return
	}
	c.Set("model", req.Model)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "Streaming not supported"})
		return
	}

	stream, err := h.deps.Assistant.Chat(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	h.forwardStream(c, flusher, stream, req.Model)
}

type streamItem struct {
	chunk openai.ChatCompletionStreamResponse
	err   error
}

// pump reads stream on its own goroutine so the handler can interleave heartbeats.
// It holds at most one chunk that the handler has not taken yet.
func pump(stream *assistant.Stream, stop <-chan struct{}) <-chan streamItem {
	out := make(chan streamItem)
	go func() {
		defer close(out)
		defer func() { _ = stream.Close() }()
		for {
			chunk, err := stream.Recv()
			select {
			case out <- streamItem{chunk: chunk, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

func (h *Handler) forwardStream(c *gin.Context, flusher http.Flusher, stream *assistant.Stream, model string) {
	stop := make(chan struct{})
	defer close(stop)
	items := pump(stream, stop)

	var heartbeat <-chan time.Time
	if d := time.Duration(h.keepAlive.Load()); d > 0 {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}

	chunks := 0
	for {
		select {
		case <-c.Request.Context().Done():
			log.WithField("chunks", chunks).Debug("chat: client went away")
			return
		case <-heartbeat:
			start()
			WriteSSEKeepAlive(c.Writer)
			flusher.Flush()
		case item, open := <-items:
			if !open {
				return
			}
			if errors.Is(item.err, io.EOF) {
				start()
				WriteSSEDone(c.Writer)
				flusher.Flush()
				log.WithField("chunks", chunks).Debug("chat: stream finished")
				return
			}
			if item.err != nil {
				if !started {
					writeError(c, item.err)
					return
				}
				status, msg := errorStatus(item.err)
				log.WithError(item.err).WithField("status", status).Error("chat: stream failed")
				payload, _ := json.Marshal(ErrorResponse{Error: msg})
				WriteSSEError(c.Writer, payload)
				flusher.Flush()
				return
			}
			data, err := encodeChunk(item.chunk, model)
			if err != nil {
				log.WithError(err).Warn("chat: dropping chunk that failed to encode")
				continue
			}
			start()
			WriteSSEData(c.Writer, data)
			flusher.Flush()
			chunks++
			metrics.IncChatChunks()
		}
	}
}
